package vm

import "fmt"

// ---------------------------------------------------------------------------
// Program: one compiled, runnable unit
// ---------------------------------------------------------------------------

// Program bundles everything a compiled graph produces: the bytecode, the
// native-function name table, the frozen literal memory, and the work-region
// layout template (types and default values; the per-instance register file
// is cloned from it). Programs are immutable after publish and may back many
// VM instances at once.
type Program struct {
	ByteCode  *ByteCode
	Functions *FunctionTable
	Literal   *Memory
	Work      *Memory
}

// Validate checks the program's internal consistency: bytecode structure,
// operand indices against the literal and work layouts, and function
// indices against the function table.
func (p *Program) Validate() error {
	if p.ByteCode == nil || p.Functions == nil || p.Literal == nil || p.Work == nil {
		return fmt.Errorf("vm: incomplete program")
	}
	if p.Literal.Kind() != RegionLiteral {
		return fmt.Errorf("vm: program literal memory has kind %s", p.Literal.Kind())
	}
	if p.Work.Kind() != RegionWork {
		return fmt.Errorf("vm: program work memory has kind %s", p.Work.Kind())
	}
	if err := p.ByteCode.Validate(); err != nil {
		return err
	}
	if err := p.ByteCode.ValidateOperands(p.Literal, p.Work); err != nil {
		return err
	}
	for i, in := range p.ByteCode.Instructions {
		if in.Op == OpExecute {
			if in.FunctionIndex < 0 || in.FunctionIndex >= p.Functions.Len() {
				return fmt.Errorf("vm: instruction %d: function index %d out of range (%d entries)",
					i, in.FunctionIndex, p.Functions.Len())
			}
		}
	}
	return nil
}
