package vm

import (
	"fmt"
	"sync"
)

// ---------------------------------------------------------------------------
// Debugger: optional halt/step/watch support, attached only in editor use
// ---------------------------------------------------------------------------

// StepMode indicates the stepping mode armed after a halt.
type StepMode int

const (
	StepNone StepMode = iota
	StepOver
	StepInto
	StepOut
)

// String implements the Stringer interface.
func (m StepMode) String() string {
	switch m {
	case StepNone:
		return "resume"
	case StepOver:
		return "stepOver"
	case StepInto:
		return "stepInto"
	case StepOut:
		return "stepOut"
	default:
		return fmt.Sprintf("StepMode(%d)", int(m))
	}
}

// Halt describes one halt of the engine at an instruction boundary.
type Halt struct {
	InstructionIndex int
	Subject          string // innermost provenance reason, if recorded
	Entry            string
	Reason           string // "breakpoint" or "step"
}

// HaltHandler decides how execution continues after a halt. An editor may
// block inside the handler to keep the engine suspended; the default
// handler resumes.
type HaltHandler func(Halt) StepMode

type watchKey struct {
	region RegionKind
	index  int
}

// Debugger intercepts instruction dispatch to halt, step, and mirror
// watched operand values into the debug region. The engine consults it only
// when attached; a VM without one pays no cost beyond a nil check.
type Debugger struct {
	mu sync.Mutex

	breakpoints map[int]bool
	handler     HaltHandler
	armedAction StepMode

	stepMode StepMode
	baseline []string // callpath recorded at the last halt

	watches map[watchKey]int // operand location -> debug slot
}

// NewDebugger creates a detached debugger.
func NewDebugger() *Debugger {
	return &Debugger{
		breakpoints: make(map[int]bool),
		watches:     make(map[watchKey]int),
	}
}

// ---------------------------------------------------------------------------
// Breakpoint management
// ---------------------------------------------------------------------------

// AddBreakpoint sets a breakpoint at an instruction index.
func (d *Debugger) AddBreakpoint(instructionIndex int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.breakpoints[instructionIndex] = true
}

// RemoveBreakpoint removes a breakpoint.
func (d *Debugger) RemoveBreakpoint(instructionIndex int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.breakpoints, instructionIndex)
}

// HasBreakpoint reports whether an enabled breakpoint exists at the index.
func (d *Debugger) HasBreakpoint(instructionIndex int) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.breakpoints[instructionIndex]
}

// EnableBreakpoint re-enables a disabled breakpoint.
func (d *Debugger) EnableBreakpoint(instructionIndex int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, exists := d.breakpoints[instructionIndex]; !exists {
		return fmt.Errorf("vm: no breakpoint at instruction %d", instructionIndex)
	}
	d.breakpoints[instructionIndex] = true
	return nil
}

// DisableBreakpoint keeps a breakpoint but stops it from halting.
func (d *Debugger) DisableBreakpoint(instructionIndex int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, exists := d.breakpoints[instructionIndex]; !exists {
		return fmt.Errorf("vm: no breakpoint at instruction %d", instructionIndex)
	}
	d.breakpoints[instructionIndex] = false
	return nil
}

// ClearBreakpoints removes all breakpoints.
func (d *Debugger) ClearBreakpoints() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.breakpoints = make(map[int]bool)
}

// SetHaltHandler installs the handler consulted when execution halts.
func (d *Debugger) SetHaltHandler(h HaltHandler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handler = h
}

// SetBreakpointAction arms the action applied at the next halt when no halt
// handler is installed.
func (d *Debugger) SetBreakpointAction(mode StepMode) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.armedAction = mode
}

// ---------------------------------------------------------------------------
// Watches
// ---------------------------------------------------------------------------

// watch records that the slot behind an operand location mirrors its writes
// into the given debug slot. Registration goes through VM.AddWatch, which
// allocates the debug storage.
func (d *Debugger) watch(region RegionKind, index, debugSlot int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.watches[watchKey{region: region, index: index}] = debugSlot
}

// recordWrite appends the written value to the watched operand's debug
// array: one element per write, hence one per slice inside a block scope.
func (d *Debugger) recordWrite(vm *VM, h *MemoryHandle, v *Value) {
	d.mu.Lock()
	slot, watched := d.watches[watchKey{region: h.Region(), index: h.Index}]
	d.mu.Unlock()
	if !watched {
		return
	}
	dbg, err := vm.debug.valuePtr(slot)
	if err != nil || dbg.Type.Kind != TypeArray {
		return
	}
	if !dbg.Type.Elem.Same(v.Type) {
		return
	}
	dbg.Elems = append(dbg.Elems, v.Copy())
	vm.debug.bump()
}

// ---------------------------------------------------------------------------
// Halting and stepping
// ---------------------------------------------------------------------------

// beforeInstruction is the engine's per-instruction hook. It halts on
// breakpoints and on armed step conditions, decided by comparing the
// current instruction's callpath to the one recorded at the last halt.
func (d *Debugger) beforeInstruction(vm *VM, ctx *ExecContext, index int) {
	callpath := vm.bytecode.Callpath(index)

	d.mu.Lock()
	reason := ""
	if d.breakpoints[index] {
		reason = "breakpoint"
	} else {
		switch d.stepMode {
		case StepInto:
			reason = "step"
		case StepOver:
			if !isCallpathDescendant(callpath, d.baseline) {
				reason = "step"
			}
		case StepOut:
			if isCallpathAncestor(callpath, d.baseline) {
				reason = "step"
			}
		}
	}
	if reason == "" {
		d.mu.Unlock()
		return
	}

	d.stepMode = StepNone
	d.baseline = append([]string(nil), callpath...)
	handler := d.handler
	armed := d.armedAction
	d.armedAction = StepNone
	d.mu.Unlock()

	subject := ""
	if len(callpath) > 0 {
		subject = callpath[len(callpath)-1]
	}
	halt := Halt{
		InstructionIndex: index,
		Subject:          subject,
		Entry:            ctx.Entry,
		Reason:           reason,
	}
	vm.notifyHalted(halt)

	next := armed
	if handler != nil {
		next = handler(halt)
	}

	d.mu.Lock()
	d.stepMode = next
	d.mu.Unlock()
}

// isCallpathDescendant reports whether c is strictly below base in the
// provenance tree.
func isCallpathDescendant(c, base []string) bool {
	if len(c) <= len(base) {
		return false
	}
	for i := range base {
		if c[i] != base[i] {
			return false
		}
	}
	return true
}

// isCallpathAncestor reports whether c is strictly above base in the
// provenance tree.
func isCallpathAncestor(c, base []string) bool {
	if len(c) >= len(base) {
		return false
	}
	for i := range c {
		if c[i] != base[i] {
			return false
		}
	}
	return true
}
