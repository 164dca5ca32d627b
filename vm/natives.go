package vm

import "fmt"

// ---------------------------------------------------------------------------
// Standard natives
// ---------------------------------------------------------------------------

// A small standard set of native functions used by the CLI and tests.
// Hosts register their own rigging/simulation natives the same way.

func init() {
	MustRegister(&NativeFunction{
		Name: "Math.FloatAdd",
		Execute: func(ctx *ExecContext, handles []MemoryHandle) error {
			a, err := handles[0].GetSliced(ctx)
			if err != nil {
				return err
			}
			b, err := handles[1].GetSliced(ctx)
			if err != nil {
				return err
			}
			return ctx.Write(&handles[2], NewFloat(a.Float+b.Float))
		},
	})

	MustRegister(&NativeFunction{
		Name: "Math.FloatLerp",
		Execute: func(ctx *ExecContext, handles []MemoryHandle) error {
			a, err := handles[0].GetSliced(ctx)
			if err != nil {
				return err
			}
			b, err := handles[1].GetSliced(ctx)
			if err != nil {
				return err
			}
			t, err := handles[2].GetSliced(ctx)
			if err != nil {
				return err
			}
			return ctx.Write(&handles[3], NewFloat(a.Float+(b.Float-a.Float)*t.Float))
		},
	})

	// Accumulates the visible element of a float array into the result,
	// once per slice. The engine drives the iteration.
	MustRegister(&NativeFunction{
		Name:      "Math.FloatAccumulate",
		SliceArgs: []int{0},
		Execute: func(ctx *ExecContext, handles []MemoryHandle) error {
			elem, err := handles[0].GetSliced(ctx)
			if err != nil {
				return err
			}
			sum, err := handles[1].Get()
			if err != nil {
				return err
			}
			return ctx.Write(&handles[1], NewFloat(sum.Float+elem.Float))
		},
	})

	MustRegister(&NativeFunction{
		Name: "Core.Trace",
		Execute: func(ctx *ExecContext, handles []MemoryHandle) error {
			for i := range handles {
				v, err := handles[i].GetSliced(ctx)
				if err != nil {
					return err
				}
				ctx.vm.log.Infof("trace %s = %s", handles[i].String(), v.String())
			}
			return nil
		},
	})
}

// Write routes a native function's operand write through the engine so
// watched operands are mirrored into the debug region.
func (c *ExecContext) Write(h *MemoryHandle, v Value) error {
	if c.vm == nil {
		return fmt.Errorf("vm: write outside a run")
	}
	return c.vm.engine.write(c, h, v)
}
