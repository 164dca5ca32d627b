package vm

import (
	"fmt"
	"strings"
)

// ---------------------------------------------------------------------------
// Instruction: a tagged variant with a variable-length operand payload
// ---------------------------------------------------------------------------

// Instruction is one tagged instruction. Each tag reads exactly the operands
// it needs; OpExecute carries a variable-length operand list whose arity is a
// runtime property, not a compile-time-enumerated opcode.
type Instruction struct {
	Op       Opcode
	Operands []Operand

	// FunctionIndex selects the native function for OpExecute.
	FunctionIndex int

	// Target is the absolute instruction index for OpJumpAbsolute(If) and
	// the instruction-count delta for the forward/backward variants.
	Target int

	// Condition is the expected polarity of the condition operand for the
	// conditional jump variants.
	Condition bool

	// TargetType is the reinterpretation type for OpChangeType.
	TargetType *Type
}

// String implements the Stringer interface.
func (in Instruction) String() string {
	parts := make([]string, 0, len(in.Operands)+2)
	parts = append(parts, in.Op.Name())
	if in.Op == OpExecute {
		parts = append(parts, fmt.Sprintf("fn=%d", in.FunctionIndex))
	}
	for _, o := range in.Operands {
		parts = append(parts, o.String())
	}
	if in.Op.Info().Jump {
		parts = append(parts, fmt.Sprintf("target=%d", in.Target))
	}
	return strings.Join(parts, " ")
}

// ---------------------------------------------------------------------------
// ByteCode: an immutable compiled program description
// ---------------------------------------------------------------------------

// Entry is a named jump target marking where execution may begin.
type Entry struct {
	Name  string
	Index int
}

// ByteCode is an ordered sequence of instructions plus named entry points,
// a property-path side-table, and per-instruction provenance for
// diagnostics. It is immutable once compiled.
type ByteCode struct {
	Instructions []Instruction
	Entries      []Entry
	Paths        []PropertyPath

	// Callpaths maps each instruction index to the ordered list of
	// originating reasons (graph node paths, opaque to the engine). May be
	// shorter than Instructions; missing tails mean no provenance.
	Callpaths [][]string
}

// NumInstructions returns the instruction count.
func (bc *ByteCode) NumInstructions() int {
	return len(bc.Instructions)
}

// TerminalIndex returns the designated index one past the last instruction.
// Reaching it means exit.
func (bc *ByteCode) TerminalIndex() int {
	return len(bc.Instructions)
}

// EntryIndex returns the starting instruction index for a named entry.
func (bc *ByteCode) EntryIndex(name string) (int, bool) {
	for _, e := range bc.Entries {
		if e.Name == name {
			return e.Index, true
		}
	}
	return 0, false
}

// ContainsEntry reports whether a named entry exists.
func (bc *ByteCode) ContainsEntry(name string) bool {
	_, ok := bc.EntryIndex(name)
	return ok
}

// EntryNames returns the names of all entries in declaration order.
func (bc *ByteCode) EntryNames() []string {
	names := make([]string, len(bc.Entries))
	for i, e := range bc.Entries {
		names[i] = e.Name
	}
	return names
}

// Callpath returns the provenance recorded for an instruction, or nil.
func (bc *ByteCode) Callpath(index int) []string {
	if index < 0 || index >= len(bc.Callpaths) {
		return nil
	}
	return bc.Callpaths[index]
}

// Path returns a path table entry by id.
func (bc *ByteCode) Path(id int) (*PropertyPath, error) {
	if id < 0 || id >= len(bc.Paths) {
		return nil, fmt.Errorf("vm: path id %d out of range (table size %d)", id, len(bc.Paths))
	}
	return &bc.Paths[id], nil
}

// Validate checks the structural invariants that do not depend on a memory
// layout: every opcode is known with the right operand arity, every static
// jump target and entry index lands on a valid instruction or the terminal
// index, and every path id is in range.
func (bc *ByteCode) Validate() error {
	terminal := bc.TerminalIndex()
	for i, in := range bc.Instructions {
		info := in.Op.Info()
		if !in.Op.Known() {
			return fmt.Errorf("vm: instruction %d: unknown opcode 0x%02X", i, uint8(in.Op))
		}
		if info.Operands != VariableArity && len(in.Operands) != info.Operands {
			return fmt.Errorf("vm: instruction %d: %s expects %d operands, has %d",
				i, in.Op, info.Operands, len(in.Operands))
		}
		if info.Jump {
			target, err := resolveJumpTarget(&in, i)
			if err != nil {
				return fmt.Errorf("vm: instruction %d: %w", i, err)
			}
			if target < 0 || target > terminal {
				return fmt.Errorf("vm: instruction %d: jump target %d out of range [0,%d]",
					i, target, terminal)
			}
		}
		for _, o := range in.Operands {
			if !o.Region.Valid() {
				return fmt.Errorf("vm: instruction %d: invalid region %d", i, uint8(o.Region))
			}
			if o.HasPath() && (o.PathID < 0 || o.PathID >= len(bc.Paths)) {
				return fmt.Errorf("vm: instruction %d: path id %d out of range", i, o.PathID)
			}
		}
	}
	for _, e := range bc.Entries {
		if e.Index < 0 || e.Index > terminal {
			return fmt.Errorf("vm: entry %q: index %d out of range [0,%d]", e.Name, e.Index, terminal)
		}
	}
	return nil
}

// ValidateOperands checks every operand index against concrete literal and
// work layouts, and every present path against the stored type at that
// index. Debug and External operands are validated later, when watches and
// host bindings exist.
func (bc *ByteCode) ValidateOperands(literal, work *Memory) error {
	for i, in := range bc.Instructions {
		for _, o := range in.Operands {
			var mem *Memory
			switch o.Region {
			case RegionLiteral:
				mem = literal
			case RegionWork:
				mem = work
			default:
				continue
			}
			if o.Index < 0 || o.Index >= mem.NumSlots() {
				return fmt.Errorf("vm: instruction %d: %s index out of range (%d slots)",
					i, o, mem.NumSlots())
			}
			if o.HasPath() {
				path, err := bc.Path(o.PathID)
				if err != nil {
					return fmt.Errorf("vm: instruction %d: %w", i, err)
				}
				if _, err := path.TypeFor(mem.SlotType(o.Index)); err != nil {
					return fmt.Errorf("vm: instruction %d: %w", i, err)
				}
			}
		}
	}
	return nil
}

func resolveJumpTarget(in *Instruction, index int) (int, error) {
	switch in.Op {
	case OpJumpAbsolute, OpJumpAbsoluteIf:
		return in.Target, nil
	case OpJumpForward, OpJumpForwardIf:
		if in.Target < 1 {
			return 0, fmt.Errorf("forward jump delta %d must be positive", in.Target)
		}
		return index + in.Target, nil
	case OpJumpBackward, OpJumpBackwardIf:
		if in.Target < 1 {
			return 0, fmt.Errorf("backward jump delta %d must be positive", in.Target)
		}
		return index - in.Target, nil
	default:
		return 0, fmt.Errorf("opcode %s is not a jump", in.Op)
	}
}
