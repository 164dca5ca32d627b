package vm

import (
	"fmt"
)

// ---------------------------------------------------------------------------
// engine: the interpreter loop
// ---------------------------------------------------------------------------

type reportKey struct {
	instruction int
	code        string
}

// engine interprets bytecode against the owning VM's handle cache and an
// execution context. It is single-threaded by contract; the VM enforces the
// owner discipline before entering run.
type engine struct {
	vm       *VM
	reported map[reportKey]struct{}
}

// reportOnce logs a recoverable run-time condition once per occurrence
// site. Execution continues; the offending instruction is a no-op.
func (e *engine) reportOnce(instruction int, code, format string, args ...any) {
	key := reportKey{instruction: instruction, code: code}
	if e.reported == nil {
		e.reported = make(map[reportKey]struct{})
	}
	if _, seen := e.reported[key]; seen {
		return
	}
	e.reported[key] = struct{}{}
	e.vm.log.Warningf("instruction %d: "+format, append([]any{instruction}, args...)...)
}

// write stores a value through a handle, mirroring it into the debug region
// when the target operand is watched.
func (e *engine) write(ctx *ExecContext, h *MemoryHandle, v Value) error {
	if h.store.frozen {
		return fmt.Errorf("vm: write to frozen %s memory", h.store.kind)
	}
	dst, err := h.Get()
	if err != nil {
		return err
	}
	if !dst.Type.Same(v.Type) {
		return fmt.Errorf("vm: type mismatch writing %s into %s handle", v.Type, dst.Type)
	}
	lenChanged := dst.Type.Kind == TypeArray && len(dst.Elems) != len(v.Elems)
	*dst = v
	if lenChanged {
		h.store.bump()
		h.generation = h.store.generation
	}
	e.recordDebug(ctx, h, dst)
	return nil
}

// recordDebug appends a written value to the watched operand's debug array.
func (e *engine) recordDebug(ctx *ExecContext, h *MemoryHandle, v *Value) {
	if d := e.vm.debugger; d != nil {
		d.recordWrite(e.vm, h, v)
	}
}

func (e *engine) handleAt(idx, operand int) *MemoryHandle {
	return e.vm.cache.Handle(idx, operand)
}

func (e *engine) readInt(idx, operand int) (int64, error) {
	v, err := e.handleAt(idx, operand).Get()
	if err != nil {
		return 0, err
	}
	if v.Type.Kind != TypeInt {
		return 0, fmt.Errorf("vm: instruction %d: operand %d is %s, want Int", idx, operand, v.Type)
	}
	return v.Int, nil
}

func (e *engine) readBool(idx, operand int) (bool, error) {
	v, err := e.handleAt(idx, operand).Get()
	if err != nil {
		return false, err
	}
	if v.Type.Kind != TypeBool {
		return false, fmt.Errorf("vm: instruction %d: operand %d is %s, want Bool", idx, operand, v.Type)
	}
	return v.Bool, nil
}

// ---------------------------------------------------------------------------
// Interpreter loop
// ---------------------------------------------------------------------------

// run advances the instruction index from start until an Exit instruction,
// the terminal index, or a fatal condition. Fatal conditions abort the call
// with an error; recoverable array-bounds conditions are reported and
// execution continues.
func (e *engine) run(ctx *ExecContext, start int) error {
	bc := e.vm.bytecode
	terminal := bc.TerminalIndex()
	ctx.InstructionIndex = start

	for ctx.InstructionIndex < terminal {
		idx := ctx.InstructionIndex
		if d := e.vm.debugger; d != nil {
			d.beforeInstruction(e.vm, ctx, idx)
		}

		in := &bc.Instructions[idx]
		jumped := false

		switch in.Op {
		case OpExecute:
			if err := e.execNative(ctx, idx, in); err != nil {
				return err
			}

		case OpZero:
			h := e.handleAt(idx, 0)
			if err := e.write(ctx, h, ZeroValue(h.Type)); err != nil {
				return err
			}

		case OpBoolTrue:
			if err := e.write(ctx, e.handleAt(idx, 0), NewBool(true)); err != nil {
				return err
			}

		case OpBoolFalse:
			if err := e.write(ctx, e.handleAt(idx, 0), NewBool(false)); err != nil {
				return err
			}

		case OpIncrement:
			n, err := e.readInt(idx, 0)
			if err != nil {
				return err
			}
			if err := e.write(ctx, e.handleAt(idx, 0), NewInt(n+1)); err != nil {
				return err
			}

		case OpDecrement:
			n, err := e.readInt(idx, 0)
			if err != nil {
				return err
			}
			if err := e.write(ctx, e.handleAt(idx, 0), NewInt(n-1)); err != nil {
				return err
			}

		case OpEquals, OpNotEquals:
			a, err := e.handleAt(idx, 0).Get()
			if err != nil {
				return err
			}
			b, err := e.handleAt(idx, 1).Get()
			if err != nil {
				return err
			}
			if !a.Type.Same(b.Type) {
				return fmt.Errorf("vm: instruction %d: comparing %s with %s", idx, a.Type, b.Type)
			}
			eq := a.Equal(b)
			if in.Op == OpNotEquals {
				eq = !eq
			}
			if err := e.write(ctx, e.handleAt(idx, 2), NewBool(eq)); err != nil {
				return err
			}

		case OpJumpAbsolute, OpJumpForward, OpJumpBackward:
			target, err := e.jumpTarget(in, idx, terminal)
			if err != nil {
				return err
			}
			ctx.InstructionIndex = target
			jumped = true

		case OpJumpAbsoluteIf, OpJumpForwardIf, OpJumpBackwardIf:
			cond, err := e.readBool(idx, 0)
			if err != nil {
				return err
			}
			if cond == in.Condition {
				target, err := e.jumpTarget(in, idx, terminal)
				if err != nil {
					return err
				}
				ctx.InstructionIndex = target
				jumped = true
			}

		case OpExit:
			e.vm.notifyExit(ctx.Entry)
			return nil

		case OpBeginBlock:
			count, err := e.readInt(idx, 0)
			if err != nil {
				return err
			}
			index, err := e.readInt(idx, 1)
			if err != nil {
				return err
			}
			ctx.BeginSlice(int(count), int(index))

		case OpEndBlock:
			if ctx.SliceDepth() == 0 {
				return fmt.Errorf("vm: instruction %d: END_BLOCK without matching BEGIN_BLOCK", idx)
			}
			ctx.EndSlice()

		case OpChangeType:
			if err := e.changeType(ctx, idx, in); err != nil {
				return err
			}

		default:
			if isArrayOp(in.Op) {
				if err := e.execArray(ctx, idx, in); err != nil {
					return err
				}
			} else {
				return fmt.Errorf("vm: instruction %d: invalid instruction tag 0x%02X", idx, uint8(in.Op))
			}
		}

		if !jumped {
			ctx.InstructionIndex++
		}
	}

	// Reaching the terminal index means exit.
	e.vm.notifyExit(ctx.Entry)
	return nil
}

// jumpTarget resolves and validates a jump at run time. An out-of-range
// target discovered here is fatal for the call.
func (e *engine) jumpTarget(in *Instruction, idx, terminal int) (int, error) {
	target, err := resolveJumpTarget(in, idx)
	if err != nil {
		return 0, fmt.Errorf("vm: instruction %d: %w", idx, err)
	}
	if target < 0 || target > terminal {
		return 0, fmt.Errorf("vm: instruction %d: jump target %d out of range [0,%d]", idx, target, terminal)
	}
	return target, nil
}

// ---------------------------------------------------------------------------
// Native dispatch with slicing
// ---------------------------------------------------------------------------

// execNative invokes a native function, re-invoking it once per slice when
// the function iterates dynamically sized operands.
func (e *engine) execNative(ctx *ExecContext, idx int, in *Instruction) error {
	fn, err := e.vm.functions.Function(in.FunctionIndex)
	if err != nil {
		return fmt.Errorf("vm: instruction %d: %w", idx, err)
	}
	handles := e.vm.cache.Handles(idx)

	if len(fn.SliceArgs) == 0 {
		if err := fn.Execute(ctx, handles); err != nil {
			return fmt.Errorf("vm: instruction %d: %s: %w", idx, fn.Name, err)
		}
		return nil
	}

	sliceCount := 0
	for _, ai := range fn.SliceArgs {
		if ai < 0 || ai >= len(handles) {
			return fmt.Errorf("vm: instruction %d: %s slices operand %d of %d", idx, fn.Name, ai, len(handles))
		}
		v, err := handles[ai].Get()
		if err != nil {
			return err
		}
		n := 1
		if v.Type.Kind == TypeArray {
			n = len(v.Elems)
		}
		if n > sliceCount {
			sliceCount = n
		}
	}

	ctx.BeginSlice(sliceCount, 0)
	defer ctx.EndSlice()
	for s := 0; s < sliceCount; s++ {
		if err := fn.Execute(ctx, handles); err != nil {
			return fmt.Errorf("vm: instruction %d: %s (slice %d): %w", idx, fn.Name, s, err)
		}
		if s+1 < sliceCount {
			ctx.advanceSlice()
		}
	}
	return nil
}

// ---------------------------------------------------------------------------
// ChangeType
// ---------------------------------------------------------------------------

// changeType reinterprets a slot's stored representation. It exists for
// forward/backward format compatibility, not as a general coercion
// facility; only scalar reinterpretations are supported.
func (e *engine) changeType(ctx *ExecContext, idx int, in *Instruction) error {
	op := in.Operands[0]
	if op.HasPath() {
		e.reportOnce(idx, "changetype-path", "CHANGE_TYPE through a property path is a no-op")
		return nil
	}
	h := e.handleAt(idx, 0)
	if h.store.frozen {
		return fmt.Errorf("vm: instruction %d: CHANGE_TYPE on frozen %s memory", idx, h.store.kind)
	}
	// External slots resolve through host-owned storage and debug slots back
	// watch traces; neither owns a representation this instruction may
	// rewrite.
	if h.store.kind == RegionExternal || h.store.kind == RegionDebug {
		e.reportOnce(idx, "changetype-region", "CHANGE_TYPE on %s memory is a no-op", h.store.kind)
		return nil
	}
	v, err := h.Get()
	if err != nil {
		return err
	}
	out, ok := reinterpret(v, in.TargetType)
	if !ok {
		e.reportOnce(idx, "changetype-unsupported", "cannot reinterpret %s as %s", v.Type, in.TargetType)
		return nil
	}
	h.store.slots[h.Index].typ = in.TargetType
	h.store.slots[h.Index].value = out
	h.store.bump()
	h.Type = in.TargetType
	h.ptr = nil
	e.recordDebug(ctx, h, &h.store.slots[h.Index].value)
	return nil
}

func reinterpret(v *Value, target *Type) (Value, bool) {
	if v.Type.Same(target) {
		return v.Copy(), true
	}
	switch {
	case v.Type.Kind == TypeInt && target.Kind == TypeFloat:
		return NewFloat(float64(v.Int)), true
	case v.Type.Kind == TypeFloat && target.Kind == TypeInt:
		return NewInt(int64(v.Float)), true
	case v.Type.Kind == TypeInt && target.Kind == TypeBool:
		return NewBool(v.Int != 0), true
	case v.Type.Kind == TypeBool && target.Kind == TypeInt:
		n := int64(0)
		if v.Bool {
			n = 1
		}
		return NewInt(n), true
	default:
		return Value{}, false
	}
}
