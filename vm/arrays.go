package vm

import (
	"fmt"
)

// ---------------------------------------------------------------------------
// Array instructions
// ---------------------------------------------------------------------------

func isArrayOp(op Opcode) bool {
	return op >= OpArrayReset && op <= OpArrayIntersection
}

// getArray resolves an operand that must hold an array.
func (e *engine) getArray(idx, operand int) (*MemoryHandle, *Value, error) {
	h := e.handleAt(idx, operand)
	v, err := h.Get()
	if err != nil {
		return nil, nil, err
	}
	if v.Type.Kind != TypeArray {
		return nil, nil, fmt.Errorf("vm: instruction %d: operand %d is %s, want an array", idx, operand, v.Type)
	}
	return h, v, nil
}

// getMutableArray resolves an array operand that the instruction will mutate
// in place. Frozen regions are rejected the same way engine.write rejects
// scalar writes into them.
func (e *engine) getMutableArray(idx, operand int) (*MemoryHandle, *Value, error) {
	h, v, err := e.getArray(idx, operand)
	if err != nil {
		return nil, nil, err
	}
	if h.store.frozen {
		return nil, nil, fmt.Errorf("vm: instruction %d: write to frozen %s memory", idx, h.store.kind)
	}
	return h, v, nil
}

// arrayMutated advances the owning region's generation after a mutation
// that changed the array's element count.
func (e *engine) arrayMutated(h *MemoryHandle) {
	h.store.bump()
	h.generation = h.store.generation
}

// withinBudget checks a prospective element count against the configured
// maximum. Requests above the budget leave the array unchanged and are
// reported as recoverable.
func (e *engine) withinBudget(idx, count int) bool {
	max := e.vm.config.MaxArrayElements
	if count > max {
		e.reportOnce(idx, "array-budget", "array growth to %d exceeds the maximum of %d", count, max)
		return false
	}
	return true
}

// execArray dispatches one array instruction. Out-of-range indices clamp or
// no-op and are reported, never fatal.
func (e *engine) execArray(ctx *ExecContext, idx int, in *Instruction) error {
	switch in.Op {
	case OpArrayReset:
		h, arr, err := e.getMutableArray(idx, 0)
		if err != nil {
			return err
		}
		if len(arr.Elems) > 0 {
			arr.Elems = arr.Elems[:0]
			e.arrayMutated(h)
		}
		e.recordDebug(ctx, h, arr)
		return nil

	case OpArrayGetNum:
		_, arr, err := e.getArray(idx, 0)
		if err != nil {
			return err
		}
		return e.write(ctx, e.handleAt(idx, 1), NewInt(int64(len(arr.Elems))))

	case OpArraySetNum:
		h, arr, err := e.getMutableArray(idx, 0)
		if err != nil {
			return err
		}
		n, err := e.readInt(idx, 1)
		if err != nil {
			return err
		}
		count := int(n)
		if count < 0 {
			count = 0
		}
		if !e.withinBudget(idx, count) {
			return nil
		}
		if count == len(arr.Elems) {
			return nil
		}
		if count < len(arr.Elems) {
			arr.Elems = arr.Elems[:count]
		} else {
			for len(arr.Elems) < count {
				arr.Elems = append(arr.Elems, ZeroValue(arr.Type.Elem))
			}
		}
		e.arrayMutated(h)
		e.recordDebug(ctx, h, arr)
		return nil

	case OpArrayGetAtIndex:
		_, arr, err := e.getArray(idx, 0)
		if err != nil {
			return err
		}
		n, err := e.readInt(idx, 1)
		if err != nil {
			return err
		}
		if n < 0 || int(n) >= len(arr.Elems) {
			e.reportOnce(idx, "array-get-range", "index %d out of range (len %d)", n, len(arr.Elems))
			return nil
		}
		return e.write(ctx, e.handleAt(idx, 2), arr.Elems[n].Copy())

	case OpArraySetAtIndex:
		h, arr, err := e.getMutableArray(idx, 0)
		if err != nil {
			return err
		}
		n, err := e.readInt(idx, 1)
		if err != nil {
			return err
		}
		if n < 0 || int(n) >= len(arr.Elems) {
			e.reportOnce(idx, "array-set-range", "index %d out of range (len %d)", n, len(arr.Elems))
			return nil
		}
		elem, err := e.handleAt(idx, 2).GetSliced(ctx)
		if err != nil {
			return err
		}
		if !elem.Type.Same(arr.Type.Elem) {
			return fmt.Errorf("vm: instruction %d: element type %s does not match array of %s", idx, elem.Type, arr.Type.Elem)
		}
		arr.Elems[n] = elem.Copy()
		e.recordDebug(ctx, h, &arr.Elems[n])
		return nil

	case OpArrayAdd:
		h, arr, err := e.getMutableArray(idx, 0)
		if err != nil {
			return err
		}
		if !e.withinBudget(idx, len(arr.Elems)+1) {
			return nil
		}
		elem, err := e.handleAt(idx, 1).GetSliced(ctx)
		if err != nil {
			return err
		}
		if !elem.Type.Same(arr.Type.Elem) {
			return fmt.Errorf("vm: instruction %d: element type %s does not match array of %s", idx, elem.Type, arr.Type.Elem)
		}
		arr.Elems = append(arr.Elems, elem.Copy())
		e.arrayMutated(h)
		e.recordDebug(ctx, h, arr)
		return e.write(ctx, e.handleAt(idx, 2), NewInt(int64(len(arr.Elems)-1)))

	case OpArrayInsert:
		h, arr, err := e.getMutableArray(idx, 0)
		if err != nil {
			return err
		}
		if !e.withinBudget(idx, len(arr.Elems)+1) {
			return nil
		}
		n, err := e.readInt(idx, 1)
		if err != nil {
			return err
		}
		// Insertion position clamps into [0, len].
		pos := int(n)
		if pos < 0 {
			pos = 0
		}
		if pos > len(arr.Elems) {
			pos = len(arr.Elems)
		}
		elem, err := e.handleAt(idx, 2).GetSliced(ctx)
		if err != nil {
			return err
		}
		if !elem.Type.Same(arr.Type.Elem) {
			return fmt.Errorf("vm: instruction %d: element type %s does not match array of %s", idx, elem.Type, arr.Type.Elem)
		}
		arr.Elems = append(arr.Elems, Value{})
		copy(arr.Elems[pos+1:], arr.Elems[pos:])
		arr.Elems[pos] = elem.Copy()
		e.arrayMutated(h)
		e.recordDebug(ctx, h, arr)
		return nil

	case OpArrayRemove:
		h, arr, err := e.getMutableArray(idx, 0)
		if err != nil {
			return err
		}
		n, err := e.readInt(idx, 1)
		if err != nil {
			return err
		}
		if n < 0 || int(n) >= len(arr.Elems) {
			e.reportOnce(idx, "array-remove-range", "index %d out of range (len %d)", n, len(arr.Elems))
			return nil
		}
		arr.Elems = append(arr.Elems[:n], arr.Elems[n+1:]...)
		e.arrayMutated(h)
		e.recordDebug(ctx, h, arr)
		return nil

	case OpArrayFind:
		_, arr, err := e.getArray(idx, 0)
		if err != nil {
			return err
		}
		elem, err := e.handleAt(idx, 1).GetSliced(ctx)
		if err != nil {
			return err
		}
		foundIndex := int64(-1)
		for i := range arr.Elems {
			if arr.Elems[i].Equal(elem) {
				foundIndex = int64(i)
				break
			}
		}
		if err := e.write(ctx, e.handleAt(idx, 2), NewInt(foundIndex)); err != nil {
			return err
		}
		return e.write(ctx, e.handleAt(idx, 3), NewBool(foundIndex >= 0))

	case OpArrayAppend:
		h, target, err := e.getMutableArray(idx, 0)
		if err != nil {
			return err
		}
		_, source, err := e.getArray(idx, 1)
		if err != nil {
			return err
		}
		if !target.Type.Elem.Same(source.Type.Elem) {
			return fmt.Errorf("vm: instruction %d: appending array of %s onto array of %s", idx, source.Type.Elem, target.Type.Elem)
		}
		if len(source.Elems) == 0 {
			return nil
		}
		if !e.withinBudget(idx, len(target.Elems)+len(source.Elems)) {
			return nil
		}
		for i := range source.Elems {
			target.Elems = append(target.Elems, source.Elems[i].Copy())
		}
		e.arrayMutated(h)
		e.recordDebug(ctx, h, target)
		return nil

	case OpArrayClone:
		_, source, err := e.getArray(idx, 0)
		if err != nil {
			return err
		}
		th, target, err := e.getMutableArray(idx, 1)
		if err != nil {
			return err
		}
		if !target.Type.Elem.Same(source.Type.Elem) {
			return fmt.Errorf("vm: instruction %d: cloning array of %s into array of %s", idx, source.Type.Elem, target.Type.Elem)
		}
		if !e.withinBudget(idx, len(source.Elems)) {
			return nil
		}
		clone := source.Copy()
		lenChanged := len(target.Elems) != len(clone.Elems)
		target.Elems = clone.Elems
		if lenChanged {
			e.arrayMutated(th)
		}
		e.recordDebug(ctx, th, target)
		return nil

	case OpArrayIterator:
		return e.execIterator(ctx, idx)

	case OpArrayReverse:
		h, arr, err := e.getMutableArray(idx, 0)
		if err != nil {
			return err
		}
		for i, j := 0, len(arr.Elems)-1; i < j; i, j = i+1, j-1 {
			arr.Elems[i], arr.Elems[j] = arr.Elems[j], arr.Elems[i]
		}
		e.recordDebug(ctx, h, arr)
		return nil

	case OpArrayUnion, OpArrayDifference, OpArrayIntersection:
		return e.execSetAlgebra(ctx, idx, in.Op)

	default:
		return fmt.Errorf("vm: instruction %d: invalid instruction tag 0x%02X", idx, uint8(in.Op))
	}
}

// execIterator advances one element per slice: it reads the innermost
// slice's index and yields the current element, index, count, a 0..1
// ratio, and a continue flag that turns false exactly when the index has
// reached the array's length.
func (e *engine) execIterator(ctx *ExecContext, idx int) error {
	_, arr, err := e.getArray(idx, 0)
	if err != nil {
		return err
	}
	n := len(arr.Elems)
	i := ctx.SliceIndex()
	cont := i < n

	if err := e.write(ctx, e.handleAt(idx, 2), NewInt(int64(i))); err != nil {
		return err
	}
	if err := e.write(ctx, e.handleAt(idx, 3), NewInt(int64(n))); err != nil {
		return err
	}
	ratio := 0.0
	if cont && n > 1 {
		ratio = float64(i) / float64(n-1)
	} else if !cont {
		ratio = 1.0
	}
	if err := e.write(ctx, e.handleAt(idx, 4), NewFloat(ratio)); err != nil {
		return err
	}
	if cont {
		if err := e.write(ctx, e.handleAt(idx, 1), arr.Elems[i].Copy()); err != nil {
			return err
		}
	}
	return e.write(ctx, e.handleAt(idx, 5), NewBool(cont))
}

// execSetAlgebra computes union, difference, or intersection of two arrays
// into a result array, de-duplicating elements by structural hash and deep
// equality.
func (e *engine) execSetAlgebra(ctx *ExecContext, idx int, op Opcode) error {
	_, a, err := e.getArray(idx, 0)
	if err != nil {
		return err
	}
	_, b, err := e.getArray(idx, 1)
	if err != nil {
		return err
	}
	rh, result, err := e.getMutableArray(idx, 2)
	if err != nil {
		return err
	}
	if !a.Type.Elem.Same(b.Type.Elem) || !a.Type.Elem.Same(result.Type.Elem) {
		return fmt.Errorf("vm: instruction %d: set algebra over mismatched element types", idx)
	}

	var out []Value
	switch op {
	case OpArrayUnion:
		seen := newValueSet(len(a.Elems) + len(b.Elems))
		for i := range a.Elems {
			if seen.add(&a.Elems[i]) {
				out = append(out, a.Elems[i].Copy())
			}
		}
		for i := range b.Elems {
			if seen.add(&b.Elems[i]) {
				out = append(out, b.Elems[i].Copy())
			}
		}
	case OpArrayDifference:
		other := newValueSet(len(b.Elems))
		for i := range b.Elems {
			other.add(&b.Elems[i])
		}
		seen := newValueSet(len(a.Elems))
		for i := range a.Elems {
			if !other.contains(&a.Elems[i]) && seen.add(&a.Elems[i]) {
				out = append(out, a.Elems[i].Copy())
			}
		}
	case OpArrayIntersection:
		other := newValueSet(len(b.Elems))
		for i := range b.Elems {
			other.add(&b.Elems[i])
		}
		seen := newValueSet(len(a.Elems))
		for i := range a.Elems {
			if other.contains(&a.Elems[i]) && seen.add(&a.Elems[i]) {
				out = append(out, a.Elems[i].Copy())
			}
		}
	}

	if !e.withinBudget(idx, len(out)) {
		return nil
	}
	lenChanged := len(result.Elems) != len(out)
	result.Elems = out
	if lenChanged {
		e.arrayMutated(rh)
	}
	e.recordDebug(ctx, rh, result)
	return nil
}

// valueSet is a hash-bucketed set of values with deep-equality collision
// checks.
type valueSet struct {
	buckets map[uint64][]*Value
}

func newValueSet(capacity int) *valueSet {
	return &valueSet{buckets: make(map[uint64][]*Value, capacity)}
}

func (s *valueSet) contains(v *Value) bool {
	for _, c := range s.buckets[v.Hash()] {
		if c.Equal(v) {
			return true
		}
	}
	return false
}

// add inserts the value and reports whether it was new.
func (s *valueSet) add(v *Value) bool {
	h := v.Hash()
	for _, c := range s.buckets[h] {
		if c.Equal(v) {
			return false
		}
	}
	s.buckets[h] = append(s.buckets[h], v)
	return true
}
