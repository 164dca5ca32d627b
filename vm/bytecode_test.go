package vm

import (
	"strings"
	"testing"
)

// ---------------------------------------------------------------------------
// Validation tests
// ---------------------------------------------------------------------------

func TestValidateRejectsUnknownOpcode(t *testing.T) {
	bc := &ByteCode{Instructions: []Instruction{{Op: Opcode(0x99)}}}
	if err := bc.Validate(); err == nil {
		t.Error("expected error for unknown opcode")
	}
}

func TestValidateRejectsWrongArity(t *testing.T) {
	bc := &ByteCode{Instructions: []Instruction{
		{Op: OpIncrement}, // wants 1 operand
	}}
	if err := bc.Validate(); err == nil {
		t.Error("expected error for missing operand")
	}
}

func TestValidateJumpTargets(t *testing.T) {
	w := NewOperand(RegionWork, 0)

	tests := []struct {
		name string
		in   Instruction
		ok   bool
	}{
		{"absolute in range", Instruction{Op: OpJumpAbsolute, Target: 1}, true},
		{"absolute to terminal", Instruction{Op: OpJumpAbsolute, Target: 2}, true},
		{"absolute past terminal", Instruction{Op: OpJumpAbsolute, Target: 3}, false},
		{"absolute negative", Instruction{Op: OpJumpAbsolute, Target: -1}, false},
		{"forward zero delta", Instruction{Op: OpJumpForward, Target: 0}, false},
		{"forward valid", Instruction{Op: OpJumpForward, Target: 1}, true},
		{"backward past start", Instruction{Op: OpJumpBackward, Target: 5}, false},
		{"conditional valid", Instruction{Op: OpJumpForwardIf, Operands: []Operand{w}, Target: 1}, true},
	}

	for _, tt := range tests {
		bc := &ByteCode{Instructions: []Instruction{tt.in, {Op: OpExit}}}
		err := bc.Validate()
		if tt.ok && err != nil {
			t.Errorf("%s: unexpected error: %v", tt.name, err)
		}
		if !tt.ok && err == nil {
			t.Errorf("%s: expected error", tt.name)
		}
	}
}

func TestValidateRejectsBadEntry(t *testing.T) {
	bc := &ByteCode{
		Instructions: []Instruction{{Op: OpExit}},
		Entries:      []Entry{{Name: "Update", Index: 9}},
	}
	if err := bc.Validate(); err == nil {
		t.Error("expected error for out-of-range entry")
	}
}

func TestValidateRejectsBadPathID(t *testing.T) {
	bc := &ByteCode{Instructions: []Instruction{
		{Op: OpIncrement, Operands: []Operand{NewOperandWithPath(RegionWork, 0, 3)}},
	}}
	if err := bc.Validate(); err == nil {
		t.Error("expected error for path id with empty path table")
	}
}

func TestValidateOperandsAgainstLayouts(t *testing.T) {
	lit := NewMemory(RegionLiteral)
	lit.AddSlot("limit", NewInt(5))
	work := NewMemory(RegionWork)
	work.AddSlot("counter", NewInt(0))

	bc := &ByteCode{Instructions: []Instruction{
		{Op: OpIncrement, Operands: []Operand{NewOperand(RegionWork, 0)}},
	}}
	if err := bc.ValidateOperands(lit, work); err != nil {
		t.Errorf("unexpected error: %v", err)
	}

	bad := &ByteCode{Instructions: []Instruction{
		{Op: OpIncrement, Operands: []Operand{NewOperand(RegionWork, 4)}},
	}}
	if err := bad.ValidateOperands(lit, work); err == nil {
		t.Error("expected error for out-of-range work index")
	}
}

func TestEntryLookup(t *testing.T) {
	bc := &ByteCode{
		Instructions: []Instruction{{Op: OpExit}, {Op: OpExit}},
		Entries:      []Entry{{Name: "Setup", Index: 0}, {Name: "Update", Index: 1}},
	}
	if idx, ok := bc.EntryIndex("Update"); !ok || idx != 1 {
		t.Errorf("EntryIndex(Update) = %d, %v", idx, ok)
	}
	if bc.ContainsEntry("Teardown") {
		t.Error("ContainsEntry(Teardown) = true")
	}
	names := bc.EntryNames()
	if len(names) != 2 || names[0] != "Setup" || names[1] != "Update" {
		t.Errorf("EntryNames = %v", names)
	}
}

// ---------------------------------------------------------------------------
// Builder tests
// ---------------------------------------------------------------------------

func TestBuilderLoopWithLabels(t *testing.T) {
	b := NewBuilder()
	counter := NewOperand(RegionWork, 0)
	done := NewOperand(RegionWork, 1)
	limit := NewOperand(RegionLiteral, 0)

	b.Entry("Update")
	top := b.NewLabel()
	b.Mark(top)
	b.Increment(counter)
	b.Equals(counter, limit, done)
	b.JumpToIf(top, done, false)
	b.Exit()

	bc, err := b.Finish()
	if err != nil {
		t.Fatal(err)
	}
	if bc.NumInstructions() != 4 {
		t.Fatalf("built %d instructions, want 4", bc.NumInstructions())
	}
	if bc.Instructions[2].Target != 0 {
		t.Errorf("backward label target = %d, want 0", bc.Instructions[2].Target)
	}
}

func TestBuilderForwardLabelPatching(t *testing.T) {
	b := NewBuilder()
	cond := NewOperand(RegionWork, 0)

	exit := b.NewLabel()
	b.JumpToIf(exit, cond, true)
	b.Increment(NewOperand(RegionWork, 1))
	b.Mark(exit)
	b.Exit()

	bc, err := b.Finish()
	if err != nil {
		t.Fatal(err)
	}
	if bc.Instructions[0].Target != 2 {
		t.Errorf("forward label target = %d, want 2", bc.Instructions[0].Target)
	}
}

func TestBuilderCallpathRecording(t *testing.T) {
	b := NewBuilder()
	b.SetCallpath("rig", "arm", "ik")
	b.Increment(NewOperand(RegionWork, 0))
	b.SetCallpath()
	b.Exit()

	bc, err := b.Finish()
	if err != nil {
		t.Fatal(err)
	}
	cp := bc.Callpath(0)
	if len(cp) != 3 || cp[2] != "ik" {
		t.Errorf("Callpath(0) = %v", cp)
	}
	if bc.Callpath(1) != nil {
		t.Errorf("Callpath(1) = %v, want nil", bc.Callpath(1))
	}
	if bc.Callpath(99) != nil {
		t.Error("out-of-range callpath should be nil")
	}
}

func TestBuilderDuplicateEntry(t *testing.T) {
	b := NewBuilder()
	b.Entry("Update")
	b.Exit()
	b.Entry("Update")
	if _, err := b.Finish(); err == nil {
		t.Error("expected error for duplicate entry")
	}
}

// ---------------------------------------------------------------------------
// Disassembly tests
// ---------------------------------------------------------------------------

func TestDisassembleListing(t *testing.T) {
	b := NewBuilder()
	b.Entry("Update")
	b.Increment(NewOperand(RegionWork, 0))
	b.JumpBackwardIf(NewOperand(RegionWork, 1), 1, false)
	b.Exit()
	bc, err := b.Finish()
	if err != nil {
		t.Fatal(err)
	}

	listing := bc.Disassemble()
	for _, want := range []string{"Update:", "INCREMENT", "JUMP_BACKWARD_IF", "EXIT", "(-> 0000)"} {
		if !strings.Contains(listing, want) {
			t.Errorf("listing missing %q:\n%s", want, listing)
		}
	}

	lines := bc.DisassembleToLines()
	if len(lines) != 3 {
		t.Errorf("DisassembleToLines returned %d lines, want 3", len(lines))
	}
}

func TestOpcodeMetadata(t *testing.T) {
	if OpExecute.Info().Operands != VariableArity {
		t.Error("EXECUTE must have variable arity")
	}
	if !OpJumpAbsolute.Info().Jump {
		t.Error("JUMP_ABSOLUTE must be marked as a jump")
	}
	if OpInvalid.Known() {
		t.Error("OpInvalid must not be a known opcode")
	}
	if name := Opcode(0xEE).Name(); !strings.HasPrefix(name, "UNKNOWN_") {
		t.Errorf("unknown opcode name = %q", name)
	}
}
