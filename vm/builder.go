package vm

import "fmt"

// ---------------------------------------------------------------------------
// Builder: helper for constructing bytecode
// ---------------------------------------------------------------------------

// Builder constructs a ByteCode sequence instruction by instruction,
// resolving forward jump references through labels.
type Builder struct {
	bc       ByteCode
	callpath []string
	err      error
}

// NewBuilder creates a new bytecode builder.
func NewBuilder() *Builder {
	return &Builder{}
}

// Len returns the number of instructions emitted so far.
func (b *Builder) Len() int {
	return len(b.bc.Instructions)
}

// SetCallpath sets the provenance recorded on subsequently emitted
// instructions. Pass nil to stop recording.
func (b *Builder) SetCallpath(reasons ...string) {
	b.callpath = reasons
}

// AddPath adds a property path to the side-table and returns its id.
func (b *Builder) AddPath(p PropertyPath) int {
	b.bc.Paths = append(b.bc.Paths, p)
	return len(b.bc.Paths) - 1
}

// Entry declares a named entry point at the current instruction index.
func (b *Builder) Entry(name string) {
	for _, e := range b.bc.Entries {
		if e.Name == name {
			b.fail(fmt.Errorf("vm: duplicate entry %q", name))
			return
		}
	}
	b.bc.Entries = append(b.bc.Entries, Entry{Name: name, Index: b.Len()})
}

func (b *Builder) emit(in Instruction) {
	b.bc.Instructions = append(b.bc.Instructions, in)
	cp := b.callpath
	if cp != nil {
		cp = append([]string(nil), cp...)
	}
	b.bc.Callpaths = append(b.bc.Callpaths, cp)
}

func (b *Builder) fail(err error) {
	if b.err == nil {
		b.err = err
	}
}

// Execute emits a native-function call over the given operands.
func (b *Builder) Execute(functionIndex int, operands ...Operand) {
	b.emit(Instruction{Op: OpExecute, FunctionIndex: functionIndex, Operands: operands})
}

// Zero emits a write of the operand type's zero value.
func (b *Builder) Zero(op Operand) {
	b.emit(Instruction{Op: OpZero, Operands: []Operand{op}})
}

// BoolTrue emits a write of true.
func (b *Builder) BoolTrue(op Operand) {
	b.emit(Instruction{Op: OpBoolTrue, Operands: []Operand{op}})
}

// BoolFalse emits a write of false.
func (b *Builder) BoolFalse(op Operand) {
	b.emit(Instruction{Op: OpBoolFalse, Operands: []Operand{op}})
}

// Increment emits an integer increment.
func (b *Builder) Increment(op Operand) {
	b.emit(Instruction{Op: OpIncrement, Operands: []Operand{op}})
}

// Decrement emits an integer decrement.
func (b *Builder) Decrement(op Operand) {
	b.emit(Instruction{Op: OpDecrement, Operands: []Operand{op}})
}

// Equals emits a deep-equality comparison writing into result.
func (b *Builder) Equals(a, bOp, result Operand) {
	b.emit(Instruction{Op: OpEquals, Operands: []Operand{a, bOp, result}})
}

// NotEquals emits a deep-inequality comparison writing into result.
func (b *Builder) NotEquals(a, bOp, result Operand) {
	b.emit(Instruction{Op: OpNotEquals, Operands: []Operand{a, bOp, result}})
}

// JumpForward emits an unconditional forward jump by delta instructions.
func (b *Builder) JumpForward(delta int) {
	b.emit(Instruction{Op: OpJumpForward, Target: delta})
}

// JumpBackward emits an unconditional backward jump by delta instructions.
func (b *Builder) JumpBackward(delta int) {
	b.emit(Instruction{Op: OpJumpBackward, Target: delta})
}

// JumpForwardIf emits a forward jump taken when the condition operand equals
// the given polarity.
func (b *Builder) JumpForwardIf(cond Operand, delta int, polarity bool) {
	b.emit(Instruction{Op: OpJumpForwardIf, Operands: []Operand{cond}, Target: delta, Condition: polarity})
}

// JumpBackwardIf emits a backward jump taken when the condition operand
// equals the given polarity.
func (b *Builder) JumpBackwardIf(cond Operand, delta int, polarity bool) {
	b.emit(Instruction{Op: OpJumpBackwardIf, Operands: []Operand{cond}, Target: delta, Condition: polarity})
}

// Exit emits the terminal instruction.
func (b *Builder) Exit() {
	b.emit(Instruction{Op: OpExit})
}

// BeginBlock emits a slice push scoping nested iteration. The count and
// index operands supply the slice's total and current position.
func (b *Builder) BeginBlock(count, index Operand) {
	b.emit(Instruction{Op: OpBeginBlock, Operands: []Operand{count, index}})
}

// EndBlock emits the matching slice pop.
func (b *Builder) EndBlock() {
	b.emit(Instruction{Op: OpEndBlock})
}

// ArrayReset emits an array clear.
func (b *Builder) ArrayReset(array Operand) {
	b.emit(Instruction{Op: OpArrayReset, Operands: []Operand{array}})
}

// ArrayGetNum emits a read of the array's element count into num.
func (b *Builder) ArrayGetNum(array, num Operand) {
	b.emit(Instruction{Op: OpArrayGetNum, Operands: []Operand{array, num}})
}

// ArraySetNum emits an array resize to the value of num.
func (b *Builder) ArraySetNum(array, num Operand) {
	b.emit(Instruction{Op: OpArraySetNum, Operands: []Operand{array, num}})
}

// ArrayGetAtIndex emits a read of array[index] into element.
func (b *Builder) ArrayGetAtIndex(array, index, element Operand) {
	b.emit(Instruction{Op: OpArrayGetAtIndex, Operands: []Operand{array, index, element}})
}

// ArraySetAtIndex emits a write of element into array[index].
func (b *Builder) ArraySetAtIndex(array, index, element Operand) {
	b.emit(Instruction{Op: OpArraySetAtIndex, Operands: []Operand{array, index, element}})
}

// ArrayAdd emits an append of element, writing the new element's index.
func (b *Builder) ArrayAdd(array, element, index Operand) {
	b.emit(Instruction{Op: OpArrayAdd, Operands: []Operand{array, element, index}})
}

// ArrayInsert emits an insert of element at index.
func (b *Builder) ArrayInsert(array, index, element Operand) {
	b.emit(Instruction{Op: OpArrayInsert, Operands: []Operand{array, index, element}})
}

// ArrayRemove emits a removal of the element at index.
func (b *Builder) ArrayRemove(array, index Operand) {
	b.emit(Instruction{Op: OpArrayRemove, Operands: []Operand{array, index}})
}

// ArrayFind emits a search for element, writing its index and a found flag.
func (b *Builder) ArrayFind(array, element, index, found Operand) {
	b.emit(Instruction{Op: OpArrayFind, Operands: []Operand{array, element, index, found}})
}

// ArrayAppend emits an append of the source array onto the target array.
func (b *Builder) ArrayAppend(target, source Operand) {
	b.emit(Instruction{Op: OpArrayAppend, Operands: []Operand{target, source}})
}

// ArrayClone emits a deep copy of source into target.
func (b *Builder) ArrayClone(source, target Operand) {
	b.emit(Instruction{Op: OpArrayClone, Operands: []Operand{source, target}})
}

// ArrayIterator emits the per-slice iterator: it reads the innermost slice
// index, yielding the current element, index, count, a 0..1 ratio, and a
// continue flag.
func (b *Builder) ArrayIterator(array, element, index, count, ratio, cont Operand) {
	b.emit(Instruction{Op: OpArrayIterator, Operands: []Operand{array, element, index, count, ratio, cont}})
}

// ArrayReverse emits an in-place reversal.
func (b *Builder) ArrayReverse(array Operand) {
	b.emit(Instruction{Op: OpArrayReverse, Operands: []Operand{array}})
}

// ArrayUnion emits the de-duplicated union of a and bOp into result.
func (b *Builder) ArrayUnion(a, bOp, result Operand) {
	b.emit(Instruction{Op: OpArrayUnion, Operands: []Operand{a, bOp, result}})
}

// ArrayDifference emits the set difference a minus bOp into result.
func (b *Builder) ArrayDifference(a, bOp, result Operand) {
	b.emit(Instruction{Op: OpArrayDifference, Operands: []Operand{a, bOp, result}})
}

// ArrayIntersection emits the set intersection of a and bOp into result.
func (b *Builder) ArrayIntersection(a, bOp, result Operand) {
	b.emit(Instruction{Op: OpArrayIntersection, Operands: []Operand{a, bOp, result}})
}

// ChangeType emits a reinterpretation of the operand's stored
// representation as the target type.
func (b *Builder) ChangeType(op Operand, target *Type) {
	b.emit(Instruction{Op: OpChangeType, Operands: []Operand{op}, TargetType: target})
}

// ---------------------------------------------------------------------------
// Label management for jumps
// ---------------------------------------------------------------------------

// Label represents a forward reference in bytecode.
type Label struct {
	resolved bool
	index    int   // target instruction index once resolved
	refs     []int // instruction indices that reference this label
}

// NewLabel creates an unresolved label.
func (b *Builder) NewLabel() *Label {
	return &Label{refs: make([]int, 0, 2)}
}

// Mark resolves a label to the current instruction index and patches all
// forward references.
func (b *Builder) Mark(label *Label) {
	if label.resolved {
		panic("label already resolved")
	}
	label.resolved = true
	label.index = b.Len()
	for _, ref := range label.refs {
		b.bc.Instructions[ref].Target = label.index
	}
	label.refs = nil
}

// JumpTo emits an unconditional absolute jump to a label.
func (b *Builder) JumpTo(label *Label) {
	b.emit(Instruction{Op: OpJumpAbsolute, Target: label.index})
	if !label.resolved {
		label.refs = append(label.refs, b.Len()-1)
	}
}

// JumpToIf emits a conditional absolute jump to a label, taken when the
// condition operand equals the given polarity.
func (b *Builder) JumpToIf(label *Label, cond Operand, polarity bool) {
	b.emit(Instruction{Op: OpJumpAbsoluteIf, Operands: []Operand{cond}, Target: label.index, Condition: polarity})
	if !label.resolved {
		label.refs = append(label.refs, b.Len()-1)
	}
}

// Finish validates and returns the constructed bytecode. The builder must
// not be reused afterwards.
func (b *Builder) Finish() (*ByteCode, error) {
	if b.err != nil {
		return nil, b.err
	}
	bc := b.bc
	if err := bc.Validate(); err != nil {
		return nil, err
	}
	return &bc, nil
}
