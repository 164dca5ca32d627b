package vm

import "fmt"

// ---------------------------------------------------------------------------
// Opcode definitions
// ---------------------------------------------------------------------------

// Opcode identifies a single instruction tag.
type Opcode uint8

// Native calls
const (
	OpExecute Opcode = 0x00 // invoke a native function over resolved handles
)

// Literal sets
const (
	OpZero      Opcode = 0x10 // write the zero of the operand's type
	OpBoolFalse Opcode = 0x11 // write false
	OpBoolTrue  Opcode = 0x12 // write true
)

// Arithmetic-lite
const (
	OpIncrement Opcode = 0x18 // integer operand += 1
	OpDecrement Opcode = 0x19 // integer operand -= 1
)

// Comparison
const (
	OpEquals    Opcode = 0x20 // deep equality, writes boolean result
	OpNotEquals Opcode = 0x21 // deep inequality, writes boolean result
)

// Control flow
const (
	OpJumpAbsolute   Opcode = 0x30 // jump to absolute instruction index
	OpJumpForward    Opcode = 0x31 // jump forward by instruction count
	OpJumpBackward   Opcode = 0x32 // jump backward by instruction count
	OpJumpAbsoluteIf Opcode = 0x33 // conditional absolute jump
	OpJumpForwardIf  Opcode = 0x34 // conditional forward jump
	OpJumpBackwardIf Opcode = 0x35 // conditional backward jump
	OpExit           Opcode = 0x36 // terminate the run
)

// Block scoping
const (
	OpBeginBlock Opcode = 0x40 // push a slice (count, index) for nested iteration
	OpEndBlock   Opcode = 0x41 // pop the innermost slice
)

// Array operations
const (
	OpArrayReset        Opcode = 0x50 // clear the array
	OpArrayGetNum       Opcode = 0x51 // read element count
	OpArraySetNum       Opcode = 0x52 // resize
	OpArrayGetAtIndex   Opcode = 0x53 // read element at index
	OpArraySetAtIndex   Opcode = 0x54 // write element at index
	OpArrayAdd          Opcode = 0x55 // append one element, write its index
	OpArrayInsert       Opcode = 0x56 // insert element at index
	OpArrayRemove       Opcode = 0x57 // remove element at index
	OpArrayFind         Opcode = 0x58 // locate element, write index and found flag
	OpArrayAppend       Opcode = 0x59 // append one array onto another
	OpArrayClone        Opcode = 0x5A // deep-copy one array into another
	OpArrayIterator     Opcode = 0x5B // advance one element per slice
	OpArrayReverse      Opcode = 0x5C // reverse in place
	OpArrayUnion        Opcode = 0x5D // set union of two arrays
	OpArrayDifference   Opcode = 0x5E // set difference of two arrays
	OpArrayIntersection Opcode = 0x5F // set intersection of two arrays
)

// Type reinterpretation
const (
	OpChangeType Opcode = 0x70 // reinterpret the operand's stored representation
)

// OpInvalid marks an unrecognized instruction tag in a loaded program.
const OpInvalid Opcode = 0xFF

// ---------------------------------------------------------------------------
// Opcode metadata
// ---------------------------------------------------------------------------

// VariableArity marks an opcode whose operand count is a property of the
// instruction, not of the opcode.
const VariableArity = -1

// OpcodeInfo holds metadata about an opcode.
type OpcodeInfo struct {
	Name     string // human-readable name
	Operands int    // number of operands, or VariableArity
	Jump     bool   // mutates the instruction index
}

// opcodeTable maps opcodes to their metadata.
var opcodeTable = map[Opcode]OpcodeInfo{
	OpExecute: {"EXECUTE", VariableArity, false},

	OpZero:      {"ZERO", 1, false},
	OpBoolFalse: {"BOOL_FALSE", 1, false},
	OpBoolTrue:  {"BOOL_TRUE", 1, false},

	OpIncrement: {"INCREMENT", 1, false},
	OpDecrement: {"DECREMENT", 1, false},

	OpEquals:    {"EQUALS", 3, false},
	OpNotEquals: {"NOT_EQUALS", 3, false},

	OpJumpAbsolute:   {"JUMP_ABSOLUTE", 0, true},
	OpJumpForward:    {"JUMP_FORWARD", 0, true},
	OpJumpBackward:   {"JUMP_BACKWARD", 0, true},
	OpJumpAbsoluteIf: {"JUMP_ABSOLUTE_IF", 1, true},
	OpJumpForwardIf:  {"JUMP_FORWARD_IF", 1, true},
	OpJumpBackwardIf: {"JUMP_BACKWARD_IF", 1, true},
	OpExit:           {"EXIT", 0, false},

	OpBeginBlock: {"BEGIN_BLOCK", 2, false},
	OpEndBlock:   {"END_BLOCK", 0, false},

	OpArrayReset:        {"ARRAY_RESET", 1, false},
	OpArrayGetNum:       {"ARRAY_GET_NUM", 2, false},
	OpArraySetNum:       {"ARRAY_SET_NUM", 2, false},
	OpArrayGetAtIndex:   {"ARRAY_GET_AT_INDEX", 3, false},
	OpArraySetAtIndex:   {"ARRAY_SET_AT_INDEX", 3, false},
	OpArrayAdd:          {"ARRAY_ADD", 3, false},
	OpArrayInsert:       {"ARRAY_INSERT", 3, false},
	OpArrayRemove:       {"ARRAY_REMOVE", 2, false},
	OpArrayFind:         {"ARRAY_FIND", 4, false},
	OpArrayAppend:       {"ARRAY_APPEND", 2, false},
	OpArrayClone:        {"ARRAY_CLONE", 2, false},
	OpArrayIterator:     {"ARRAY_ITERATOR", 6, false},
	OpArrayReverse:      {"ARRAY_REVERSE", 1, false},
	OpArrayUnion:        {"ARRAY_UNION", 3, false},
	OpArrayDifference:   {"ARRAY_DIFFERENCE", 3, false},
	OpArrayIntersection: {"ARRAY_INTERSECTION", 3, false},

	OpChangeType: {"CHANGE_TYPE", 1, false},
}

// Info returns the metadata for an opcode.
func (op Opcode) Info() OpcodeInfo {
	if info, ok := opcodeTable[op]; ok {
		return info
	}
	return OpcodeInfo{Name: fmt.Sprintf("UNKNOWN_%02X", uint8(op)), Operands: 0}
}

// Name returns the human-readable name for an opcode.
func (op Opcode) Name() string {
	return op.Info().Name
}

// Known reports whether the opcode is part of the instruction set.
func (op Opcode) Known() bool {
	_, ok := opcodeTable[op]
	return ok
}

// String implements the Stringer interface.
func (op Opcode) String() string {
	return op.Name()
}
