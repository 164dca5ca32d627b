package vm

// ---------------------------------------------------------------------------
// ExecContext: per-run mutable execution state
// ---------------------------------------------------------------------------

// Slice is one position within a nested iteration scope.
type Slice struct {
	Index int
	Count int
}

// ExecContext carries the mutable state of one Execute call: the current
// instruction index, the stack of nested iteration slices, and the opaque
// host arguments passed through to native functions. It is reset at the
// start of each Execute call.
type ExecContext struct {
	vm *VM

	InstructionIndex int
	Entry            string
	HostArgs         []any

	slices []Slice
}

// VM returns the instance driving this run.
func (c *ExecContext) VM() *VM {
	return c.vm
}

// reset prepares the context for a fresh run.
func (c *ExecContext) reset(entry string, hostArgs []any) {
	c.InstructionIndex = 0
	c.Entry = entry
	c.HostArgs = hostArgs
	c.slices = c.slices[:0]
}

// BeginSlice pushes a nested iteration scope.
func (c *ExecContext) BeginSlice(count, index int) {
	c.slices = append(c.slices, Slice{Index: index, Count: count})
}

// EndSlice pops the innermost iteration scope.
func (c *ExecContext) EndSlice() {
	if len(c.slices) == 0 {
		panic("vm: EndSlice without matching BeginSlice")
	}
	c.slices = c.slices[:len(c.slices)-1]
}

// InSlice reports whether any iteration scope is active.
func (c *ExecContext) InSlice() bool {
	return len(c.slices) > 0
}

// SliceIndex returns the innermost slice's current index, or 0 outside any
// iteration scope. The innermost slice determines which element of a
// dynamically sized operand is visible to a handler.
func (c *ExecContext) SliceIndex() int {
	if len(c.slices) == 0 {
		return 0
	}
	return c.slices[len(c.slices)-1].Index
}

// SliceCount returns the innermost slice's total count, or 1 outside any
// iteration scope.
func (c *ExecContext) SliceCount() int {
	if len(c.slices) == 0 {
		return 1
	}
	return c.slices[len(c.slices)-1].Count
}

// SliceDepth returns the number of active iteration scopes.
func (c *ExecContext) SliceDepth() int {
	return len(c.slices)
}

// advanceSlice increments the innermost slice's index. Used by the engine
// while re-invoking a native function once per slice.
func (c *ExecContext) advanceSlice() {
	c.slices[len(c.slices)-1].Index++
}
