package vm

import (
	"fmt"
	"strings"
)

// Disassemble returns a human-readable bytecode listing.
func (bc *ByteCode) Disassemble() string {
	return bc.DisassembleWithName("")
}

// DisassembleWithName returns a human-readable bytecode listing with a name
// header.
func (bc *ByteCode) DisassembleWithName(name string) string {
	var sb strings.Builder

	// Header
	if name != "" {
		sb.WriteString(fmt.Sprintf("; === %s ===\n", name))
	}
	sb.WriteString(fmt.Sprintf("; Marionette Bytecode (%d instructions)\n", len(bc.Instructions)))

	// Entries
	if len(bc.Entries) > 0 {
		sb.WriteString(fmt.Sprintf("; Entries (%d):\n", len(bc.Entries)))
		for _, e := range bc.Entries {
			sb.WriteString(fmt.Sprintf(";   %s -> %04d\n", e.Name, e.Index))
		}
	}

	// Property paths
	if len(bc.Paths) > 0 {
		sb.WriteString("; Paths:\n")
		for i, p := range bc.Paths {
			sb.WriteString(fmt.Sprintf(";   [%3d] %s\n", i, p.String()))
		}
	}

	sb.WriteString("\n; Code:\n")

	entryAt := make(map[int][]string, len(bc.Entries))
	for _, e := range bc.Entries {
		entryAt[e.Index] = append(entryAt[e.Index], e.Name)
	}

	for i := range bc.Instructions {
		for _, name := range entryAt[i] {
			sb.WriteString(fmt.Sprintf("%s:\n", name))
		}
		sb.WriteString(fmt.Sprintf("%04d  %s\n", i, bc.DisassembleInstruction(i)))
	}

	return sb.String()
}

// DisassembleInstruction returns a human-readable representation of the
// instruction at index.
func (bc *ByteCode) DisassembleInstruction(index int) string {
	if index < 0 || index >= len(bc.Instructions) {
		return "<end of code>"
	}
	in := &bc.Instructions[index]

	switch in.Op {
	case OpExecute:
		return fmt.Sprintf("EXECUTE fn=%d %s", in.FunctionIndex, bc.formatOperands(in))

	case OpJumpAbsolute, OpJumpForward, OpJumpBackward:
		target, err := resolveJumpTarget(in, index)
		if err != nil {
			return fmt.Sprintf("%s %d ; <invalid target>", in.Op.Name(), in.Target)
		}
		return fmt.Sprintf("%s %d (-> %04d)", in.Op.Name(), in.Target, target)

	case OpJumpAbsoluteIf, OpJumpForwardIf, OpJumpBackwardIf:
		target, err := resolveJumpTarget(in, index)
		suffix := fmt.Sprintf("(-> %04d)", target)
		if err != nil {
			suffix = "; <invalid target>"
		}
		return fmt.Sprintf("%s %d if %s==%t %s",
			in.Op.Name(), in.Target, bc.formatOperand(in.Operands[0]), in.Condition, suffix)

	case OpChangeType:
		return fmt.Sprintf("CHANGE_TYPE %s to %s", bc.formatOperands(in), in.TargetType)

	default:
		ops := bc.formatOperands(in)
		if ops == "" {
			return in.Op.Name()
		}
		return fmt.Sprintf("%s %s", in.Op.Name(), ops)
	}
}

// DisassembleToLines returns the disassembly as a slice of lines.
func (bc *ByteCode) DisassembleToLines() []string {
	lines := make([]string, 0, len(bc.Instructions))
	for i := range bc.Instructions {
		lines = append(lines, fmt.Sprintf("%04d  %s", i, bc.DisassembleInstruction(i)))
	}
	return lines
}

func (bc *ByteCode) formatOperands(in *Instruction) string {
	if len(in.Operands) == 0 {
		return ""
	}
	parts := make([]string, 0, len(in.Operands))
	for _, o := range in.Operands {
		parts = append(parts, bc.formatOperand(o))
	}
	return strings.Join(parts, " ")
}

func (bc *ByteCode) formatOperand(o Operand) string {
	if !o.HasPath() {
		return o.String()
	}
	path, err := bc.Path(o.PathID)
	if err != nil {
		return fmt.Sprintf("%s<bad path %d>", o.String(), o.PathID)
	}
	return fmt.Sprintf("%s[%d]%s", o.Region, o.Index, path.String())
}
