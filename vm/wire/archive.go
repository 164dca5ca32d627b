// Package wire serializes compiled programs to a portable archive format.
// Archives are deterministic (canonical CBOR) so identical programs produce
// identical bytes, which keeps content-addressed storage stable.
package wire

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/chazu/marionette/vm"
)

// ArchiveVersion is the current archive format version. Decoders reject
// archives with a different version outright.
const ArchiveVersion = 1

var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("wire: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em
}

// ---------------------------------------------------------------------------
// Archive layout
// ---------------------------------------------------------------------------

type archive struct {
	Version      int               `cbor:"1,keyasint"`
	Functions    []string          `cbor:"2,keyasint"`
	Instructions []wireInstruction `cbor:"3,keyasint"`
	Entries      []wireEntry       `cbor:"4,keyasint"`
	Paths        [][]wireSegment   `cbor:"5,keyasint"`
	Callpaths    [][]string        `cbor:"6,keyasint,omitempty"`
	Literal      []wireSlot        `cbor:"7,keyasint"`
	Work         []wireSlot        `cbor:"8,keyasint"`
}

type wireInstruction struct {
	Op        uint8         `cbor:"1,keyasint"`
	Operands  []wireOperand `cbor:"2,keyasint,omitempty"`
	Function  int           `cbor:"3,keyasint,omitempty"`
	Target    int           `cbor:"4,keyasint,omitempty"`
	Condition bool          `cbor:"5,keyasint,omitempty"`
	To        *wireType     `cbor:"6,keyasint,omitempty"`
}

type wireOperand struct {
	Region uint8 `cbor:"1,keyasint"`
	Index  int   `cbor:"2,keyasint"`
	PathID int   `cbor:"3,keyasint"`
}

type wireEntry struct {
	Name  string `cbor:"1,keyasint"`
	Index int    `cbor:"2,keyasint"`
}

type wireSegment struct {
	Field   string `cbor:"1,keyasint,omitempty"`
	Element int    `cbor:"2,keyasint,omitempty"`
}

type wireType struct {
	Kind   uint8      `cbor:"1,keyasint"`
	Elem   *wireType  `cbor:"2,keyasint,omitempty"`
	Fields []wireField `cbor:"3,keyasint,omitempty"`
}

type wireField struct {
	Name string   `cbor:"1,keyasint"`
	Type wireType `cbor:"2,keyasint"`
}

// wireSlot describes one memory slot. Literal slots carry their value; work
// slots persist layout only, their values are runtime state.
type wireSlot struct {
	Name  string     `cbor:"1,keyasint"`
	Type  wireType   `cbor:"2,keyasint"`
	Value *wireValue `cbor:"3,keyasint,omitempty"`
}

// wireValue is the data half of a slot value; its shape follows the slot's
// declared type during decode.
type wireValue struct {
	Bool   bool        `cbor:"1,keyasint,omitempty"`
	Int    int64       `cbor:"2,keyasint,omitempty"`
	Float  float64     `cbor:"3,keyasint,omitempty"`
	Name   string      `cbor:"4,keyasint,omitempty"`
	Elems  []wireValue `cbor:"5,keyasint,omitempty"`
	Fields []wireValue `cbor:"6,keyasint,omitempty"`
}

// ---------------------------------------------------------------------------
// Encode
// ---------------------------------------------------------------------------

// Encode serializes a program to archive bytes. The program is validated
// first so an archive never carries a program its own decoder would reject.
func Encode(p *vm.Program) ([]byte, error) {
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("wire: refusing to encode invalid program: %w", err)
	}

	bc := p.ByteCode
	a := archive{
		Version:      ArchiveVersion,
		Functions:    p.Functions.Names(),
		Instructions: make([]wireInstruction, len(bc.Instructions)),
		Entries:      make([]wireEntry, len(bc.Entries)),
		Paths:        make([][]wireSegment, len(bc.Paths)),
		Callpaths:    bc.Callpaths,
		Literal:      encodeSlots(p.Literal, true),
		Work:         encodeSlots(p.Work, false),
	}
	for i, in := range bc.Instructions {
		a.Instructions[i] = encodeInstruction(&in)
	}
	for i, e := range bc.Entries {
		a.Entries[i] = wireEntry{Name: e.Name, Index: e.Index}
	}
	for i, path := range bc.Paths {
		segs := make([]wireSegment, len(path.Segments))
		for j, s := range path.Segments {
			segs[j] = wireSegment{Field: s.Field, Element: s.Element}
		}
		a.Paths[i] = segs
	}

	return cborEncMode.Marshal(&a)
}

func encodeInstruction(in *vm.Instruction) wireInstruction {
	out := wireInstruction{
		Op:        uint8(in.Op),
		Function:  in.FunctionIndex,
		Target:    in.Target,
		Condition: in.Condition,
	}
	if len(in.Operands) > 0 {
		out.Operands = make([]wireOperand, len(in.Operands))
		for i, o := range in.Operands {
			out.Operands[i] = wireOperand{Region: uint8(o.Region), Index: o.Index, PathID: o.PathID}
		}
	}
	if in.TargetType != nil {
		wt := encodeType(in.TargetType)
		out.To = &wt
	}
	return out
}

func encodeType(t *vm.Type) wireType {
	out := wireType{Kind: uint8(t.Kind)}
	if t.Elem != nil {
		elem := encodeType(t.Elem)
		out.Elem = &elem
	}
	for _, f := range t.Fields {
		out.Fields = append(out.Fields, wireField{Name: f.Name, Type: encodeType(f.Type)})
	}
	return out
}

func encodeValue(v *vm.Value) wireValue {
	out := wireValue{Bool: v.Bool, Int: v.Int, Float: v.Float, Name: v.Name}
	for i := range v.Elems {
		out.Elems = append(out.Elems, encodeValue(&v.Elems[i]))
	}
	for i := range v.Fields {
		out.Fields = append(out.Fields, encodeValue(&v.Fields[i]))
	}
	return out
}

func encodeSlots(m *vm.Memory, withValues bool) []wireSlot {
	slots := make([]wireSlot, m.NumSlots())
	for i := range slots {
		slots[i] = wireSlot{
			Name: m.SlotName(i),
			Type: encodeType(m.SlotType(i)),
		}
		if !withValues {
			continue
		}
		v, err := m.GetValue(i, nil)
		if err != nil {
			continue
		}
		wv := encodeValue(v)
		slots[i].Value = &wv
	}
	return slots
}

// ---------------------------------------------------------------------------
// Decode
// ---------------------------------------------------------------------------

// Decode deserializes archive bytes into a program. Any structural problem
// anywhere in the archive rejects the whole archive; a decoded program is
// always runnable.
func Decode(data []byte) (*vm.Program, error) {
	var a archive
	if err := cbor.Unmarshal(data, &a); err != nil {
		return nil, fmt.Errorf("wire: unmarshal archive: %w", err)
	}
	if a.Version != ArchiveVersion {
		return nil, fmt.Errorf("wire: unsupported archive version %d (want %d)", a.Version, ArchiveVersion)
	}

	bc := &vm.ByteCode{
		Instructions: make([]vm.Instruction, len(a.Instructions)),
		Entries:      make([]vm.Entry, len(a.Entries)),
		Paths:        make([]vm.PropertyPath, len(a.Paths)),
		Callpaths:    a.Callpaths,
	}
	for i, wi := range a.Instructions {
		in, err := decodeInstruction(&wi)
		if err != nil {
			return nil, fmt.Errorf("wire: instruction %d: %w", i, err)
		}
		bc.Instructions[i] = in
	}
	for i, we := range a.Entries {
		bc.Entries[i] = vm.Entry{Name: we.Name, Index: we.Index}
	}
	for i, segs := range a.Paths {
		path := make([]vm.PathSegment, len(segs))
		for j, s := range segs {
			path[j] = vm.PathSegment{Field: s.Field, Element: s.Element}
		}
		bc.Paths[i] = vm.NewPropertyPath(path...)
	}

	literal, err := decodeSlots(vm.RegionLiteral, a.Literal)
	if err != nil {
		return nil, fmt.Errorf("wire: literal memory: %w", err)
	}
	work, err := decodeSlots(vm.RegionWork, a.Work)
	if err != nil {
		return nil, fmt.Errorf("wire: work memory: %w", err)
	}

	p := &vm.Program{
		ByteCode:  bc,
		Functions: vm.NewFunctionTable(a.Functions...),
		Literal:   literal,
		Work:      work,
	}
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("wire: rejecting archive: %w", err)
	}
	return p, nil
}

func decodeInstruction(wi *wireInstruction) (vm.Instruction, error) {
	in := vm.Instruction{
		Op:            vm.Opcode(wi.Op),
		FunctionIndex: wi.Function,
		Target:        wi.Target,
		Condition:     wi.Condition,
	}
	if len(wi.Operands) > 0 {
		in.Operands = make([]vm.Operand, len(wi.Operands))
		for i, o := range wi.Operands {
			in.Operands[i] = vm.Operand{Region: vm.RegionKind(o.Region), Index: o.Index, PathID: o.PathID}
		}
	}
	if wi.To != nil {
		t, err := decodeType(wi.To)
		if err != nil {
			return vm.Instruction{}, err
		}
		in.TargetType = t
	}
	return in, nil
}

func decodeType(wt *wireType) (*vm.Type, error) {
	switch vm.TypeKind(wt.Kind) {
	case vm.TypeBool:
		return vm.BoolType, nil
	case vm.TypeInt:
		return vm.IntType, nil
	case vm.TypeFloat:
		return vm.FloatType, nil
	case vm.TypeName:
		return vm.NameType, nil
	case vm.TypeArray:
		if wt.Elem == nil {
			return nil, fmt.Errorf("array type missing element type")
		}
		elem, err := decodeType(wt.Elem)
		if err != nil {
			return nil, err
		}
		return vm.ArrayOf(elem), nil
	case vm.TypeStruct:
		fields := make([]vm.Field, len(wt.Fields))
		for i, f := range wt.Fields {
			ft, err := decodeType(&f.Type)
			if err != nil {
				return nil, fmt.Errorf("field %q: %w", f.Name, err)
			}
			fields[i] = vm.Field{Name: f.Name, Type: ft}
		}
		return vm.StructOf(fields...), nil
	default:
		return nil, fmt.Errorf("unknown type kind %d", wt.Kind)
	}
}

func decodeValue(t *vm.Type, wv *wireValue) (vm.Value, error) {
	switch t.Kind {
	case vm.TypeBool:
		return vm.NewBool(wv.Bool), nil
	case vm.TypeInt:
		return vm.NewInt(wv.Int), nil
	case vm.TypeFloat:
		return vm.NewFloat(wv.Float), nil
	case vm.TypeName:
		return vm.NewName(wv.Name), nil
	case vm.TypeArray:
		elems := make([]vm.Value, len(wv.Elems))
		for i := range wv.Elems {
			e, err := decodeValue(t.Elem, &wv.Elems[i])
			if err != nil {
				return vm.Value{}, fmt.Errorf("element %d: %w", i, err)
			}
			elems[i] = e
		}
		return vm.NewArray(t.Elem, elems...), nil
	case vm.TypeStruct:
		if len(wv.Fields) != len(t.Fields) {
			return vm.Value{}, fmt.Errorf("struct has %d field values, type declares %d",
				len(wv.Fields), len(t.Fields))
		}
		fields := make([]vm.Value, len(t.Fields))
		for i := range t.Fields {
			f, err := decodeValue(t.Fields[i].Type, &wv.Fields[i])
			if err != nil {
				return vm.Value{}, fmt.Errorf("field %q: %w", t.Fields[i].Name, err)
			}
			fields[i] = f
		}
		return vm.NewStruct(t, fields...), nil
	default:
		return vm.Value{}, fmt.Errorf("unknown type kind %d", t.Kind)
	}
}

func decodeSlots(kind vm.RegionKind, slots []wireSlot) (*vm.Memory, error) {
	m := vm.NewMemory(kind)
	for i, s := range slots {
		t, err := decodeType(&s.Type)
		if err != nil {
			return nil, fmt.Errorf("slot %d (%s): %w", i, s.Name, err)
		}
		v := vm.ZeroValue(t)
		if s.Value != nil {
			v, err = decodeValue(t, s.Value)
			if err != nil {
				return nil, fmt.Errorf("slot %d (%s): %w", i, s.Name, err)
			}
		}
		m.AddSlot(s.Name, v)
	}
	return m, nil
}
