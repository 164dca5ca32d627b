package vm

import (
	"fmt"
	"hash/fnv"
	"math"
	"strings"
)

// ---------------------------------------------------------------------------
// Type: structural type descriptors for memory slots
// ---------------------------------------------------------------------------

// TypeKind identifies the shape of a Type.
type TypeKind uint8

const (
	TypeBool TypeKind = iota
	TypeInt
	TypeFloat
	TypeName
	TypeStruct
	TypeArray
)

// Type describes the type of a value stored in a memory slot. Types are
// compared structurally, never by pointer identity.
type Type struct {
	Kind   TypeKind
	Elem   *Type   // element type for TypeArray
	Fields []Field // named fields for TypeStruct
}

// Field is a single named member of a struct type.
type Field struct {
	Name string
	Type *Type
}

// Shared scalar type descriptors.
var (
	BoolType  = &Type{Kind: TypeBool}
	IntType   = &Type{Kind: TypeInt}
	FloatType = &Type{Kind: TypeFloat}
	NameType  = &Type{Kind: TypeName}
)

// ArrayOf returns the type of a dynamically sized array with the given
// element type.
func ArrayOf(elem *Type) *Type {
	return &Type{Kind: TypeArray, Elem: elem}
}

// StructOf returns a struct type with the given fields.
func StructOf(fields ...Field) *Type {
	return &Type{Kind: TypeStruct, Fields: fields}
}

// Same reports whether two types are structurally identical.
func (t *Type) Same(other *Type) bool {
	if t == other {
		return true
	}
	if t == nil || other == nil {
		return false
	}
	if t.Kind != other.Kind {
		return false
	}
	switch t.Kind {
	case TypeArray:
		return t.Elem.Same(other.Elem)
	case TypeStruct:
		if len(t.Fields) != len(other.Fields) {
			return false
		}
		for i := range t.Fields {
			if t.Fields[i].Name != other.Fields[i].Name {
				return false
			}
			if !t.Fields[i].Type.Same(other.Fields[i].Type) {
				return false
			}
		}
		return true
	default:
		return true
	}
}

// FieldIndex returns the index of the named struct field, or -1.
func (t *Type) FieldIndex(name string) int {
	for i := range t.Fields {
		if t.Fields[i].Name == name {
			return i
		}
	}
	return -1
}

// String implements the Stringer interface.
func (t *Type) String() string {
	if t == nil {
		return "<nil>"
	}
	switch t.Kind {
	case TypeBool:
		return "Bool"
	case TypeInt:
		return "Int"
	case TypeFloat:
		return "Float"
	case TypeName:
		return "Name"
	case TypeArray:
		return "Array<" + t.Elem.String() + ">"
	case TypeStruct:
		names := make([]string, len(t.Fields))
		for i, f := range t.Fields {
			names[i] = f.Name + ":" + f.Type.String()
		}
		return "Struct{" + strings.Join(names, ",") + "}"
	default:
		return fmt.Sprintf("Unknown(%d)", t.Kind)
	}
}

// ---------------------------------------------------------------------------
// Value: a typed datum held in a memory slot
// ---------------------------------------------------------------------------

// Value is a single typed datum. Scalars live in the payload field selected
// by Type.Kind; arrays use Elems, structs use Fields (parallel to
// Type.Fields).
type Value struct {
	Type *Type

	Bool   bool
	Int    int64
	Float  float64
	Name   string
	Elems  []Value
	Fields []Value
}

// NewBool returns a boolean value.
func NewBool(b bool) Value {
	return Value{Type: BoolType, Bool: b}
}

// NewInt returns an integer value.
func NewInt(i int64) Value {
	return Value{Type: IntType, Int: i}
}

// NewFloat returns a float value.
func NewFloat(f float64) Value {
	return Value{Type: FloatType, Float: f}
}

// NewName returns a name value.
func NewName(n string) Value {
	return Value{Type: NameType, Name: n}
}

// NewArray returns an array value with the given element type and elements.
func NewArray(elem *Type, elems ...Value) Value {
	return Value{Type: ArrayOf(elem), Elems: elems}
}

// NewStruct returns a struct value of the given type. The field values must
// be supplied in declaration order.
func NewStruct(t *Type, fields ...Value) Value {
	return Value{Type: t, Fields: fields}
}

// ZeroValue returns the zero value of a type: false, 0, "", an empty array,
// or a struct of zero-valued fields.
func ZeroValue(t *Type) Value {
	switch t.Kind {
	case TypeStruct:
		fields := make([]Value, len(t.Fields))
		for i, f := range t.Fields {
			fields[i] = ZeroValue(f.Type)
		}
		return Value{Type: t, Fields: fields}
	case TypeArray:
		return Value{Type: t, Elems: []Value{}}
	default:
		return Value{Type: t}
	}
}

// Copy returns a deep copy of the value.
func (v *Value) Copy() Value {
	out := *v
	if v.Elems != nil {
		out.Elems = make([]Value, len(v.Elems))
		for i := range v.Elems {
			out.Elems[i] = v.Elems[i].Copy()
		}
	}
	if v.Fields != nil {
		out.Fields = make([]Value, len(v.Fields))
		for i := range v.Fields {
			out.Fields[i] = v.Fields[i].Copy()
		}
	}
	return out
}

// Equal reports deep structural equality. Values of different types are
// never equal.
func (v *Value) Equal(other *Value) bool {
	if !v.Type.Same(other.Type) {
		return false
	}
	switch v.Type.Kind {
	case TypeBool:
		return v.Bool == other.Bool
	case TypeInt:
		return v.Int == other.Int
	case TypeFloat:
		return v.Float == other.Float
	case TypeName:
		return v.Name == other.Name
	case TypeArray:
		if len(v.Elems) != len(other.Elems) {
			return false
		}
		for i := range v.Elems {
			if !v.Elems[i].Equal(&other.Elems[i]) {
				return false
			}
		}
		return true
	case TypeStruct:
		for i := range v.Fields {
			if !v.Fields[i].Equal(&other.Fields[i]) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

// Hash returns a structural hash of the value. The set-algebra instructions
// use it to de-duplicate array elements.
func (v *Value) Hash() uint64 {
	h := fnv.New64a()
	v.hashInto(h)
	return h.Sum64()
}

func (v *Value) hashInto(h interface{ Write(p []byte) (int, error) }) {
	var buf [9]byte
	buf[0] = byte(v.Type.Kind)
	switch v.Type.Kind {
	case TypeBool:
		if v.Bool {
			buf[1] = 1
		}
		h.Write(buf[:2])
	case TypeInt:
		putUint64(buf[1:], uint64(v.Int))
		h.Write(buf[:9])
	case TypeFloat:
		putUint64(buf[1:], math.Float64bits(v.Float))
		h.Write(buf[:9])
	case TypeName:
		h.Write(buf[:1])
		h.Write([]byte(v.Name))
	case TypeArray:
		h.Write(buf[:1])
		for i := range v.Elems {
			v.Elems[i].hashInto(h)
		}
	case TypeStruct:
		h.Write(buf[:1])
		for i := range v.Fields {
			v.Fields[i].hashInto(h)
		}
	}
}

func putUint64(b []byte, v uint64) {
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (8 * i))
	}
}

// String implements the Stringer interface.
func (v Value) String() string {
	switch v.Type.Kind {
	case TypeBool:
		return fmt.Sprintf("%t", v.Bool)
	case TypeInt:
		return fmt.Sprintf("%d", v.Int)
	case TypeFloat:
		return fmt.Sprintf("%g", v.Float)
	case TypeName:
		return v.Name
	case TypeArray:
		parts := make([]string, len(v.Elems))
		for i := range v.Elems {
			parts[i] = v.Elems[i].String()
		}
		return "[" + strings.Join(parts, ",") + "]"
	case TypeStruct:
		parts := make([]string, len(v.Fields))
		for i := range v.Fields {
			parts[i] = v.Type.Fields[i].Name + "=" + v.Fields[i].String()
		}
		return "{" + strings.Join(parts, " ") + "}"
	default:
		return "<invalid>"
	}
}
