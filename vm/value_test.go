package vm

import (
	"testing"
)

// ---------------------------------------------------------------------------
// Type tests
// ---------------------------------------------------------------------------

func TestTypeSame(t *testing.T) {
	vec3 := StructOf(
		Field{Name: "x", Type: FloatType},
		Field{Name: "y", Type: FloatType},
		Field{Name: "z", Type: FloatType},
	)

	tests := []struct {
		name string
		a, b *Type
		want bool
	}{
		{"scalar identical", IntType, IntType, true},
		{"scalar distinct instances", &Type{Kind: TypeInt}, IntType, true},
		{"scalar mismatch", IntType, FloatType, false},
		{"array same elem", ArrayOf(FloatType), ArrayOf(FloatType), true},
		{"array elem mismatch", ArrayOf(FloatType), ArrayOf(IntType), false},
		{"nested array", ArrayOf(ArrayOf(IntType)), ArrayOf(ArrayOf(IntType)), true},
		{"struct identical shape", vec3, StructOf(
			Field{Name: "x", Type: FloatType},
			Field{Name: "y", Type: FloatType},
			Field{Name: "z", Type: FloatType},
		), true},
		{"struct field name mismatch", vec3, StructOf(
			Field{Name: "x", Type: FloatType},
			Field{Name: "y", Type: FloatType},
			Field{Name: "w", Type: FloatType},
		), false},
		{"struct field count mismatch", vec3, StructOf(
			Field{Name: "x", Type: FloatType},
		), false},
	}

	for _, tt := range tests {
		if got := tt.a.Same(tt.b); got != tt.want {
			t.Errorf("%s: Same() = %v, want %v", tt.name, got, tt.want)
		}
		if got := tt.b.Same(tt.a); got != tt.want {
			t.Errorf("%s (reversed): Same() = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestZeroValue(t *testing.T) {
	vec := StructOf(
		Field{Name: "x", Type: FloatType},
		Field{Name: "tags", Type: ArrayOf(NameType)},
	)

	z := ZeroValue(vec)
	if len(z.Fields) != 2 {
		t.Fatalf("zero struct has %d fields, want 2", len(z.Fields))
	}
	if z.Fields[0].Float != 0 {
		t.Errorf("zero float = %v, want 0", z.Fields[0].Float)
	}
	if z.Fields[1].Elems == nil || len(z.Fields[1].Elems) != 0 {
		t.Errorf("zero array should be empty, got %v", z.Fields[1].Elems)
	}

	zi := ZeroValue(IntType)
	if zi.Int != 0 || zi.Type.Kind != TypeInt {
		t.Errorf("ZeroValue(Int) = %v", zi)
	}
}

// ---------------------------------------------------------------------------
// Value tests
// ---------------------------------------------------------------------------

func TestValueCopyIsDeep(t *testing.T) {
	arr := NewArray(IntType, NewInt(1), NewInt(2), NewInt(3))
	cp := arr.Copy()
	cp.Elems[0] = NewInt(99)
	if arr.Elems[0].Int != 1 {
		t.Errorf("copy aliases source: arr[0] = %d", arr.Elems[0].Int)
	}

	vec := StructOf(Field{Name: "pts", Type: ArrayOf(FloatType)})
	v := NewStruct(vec, NewArray(FloatType, NewFloat(1.5)))
	vc := v.Copy()
	vc.Fields[0].Elems[0] = NewFloat(-1)
	if v.Fields[0].Elems[0].Float != 1.5 {
		t.Errorf("struct copy aliases nested array")
	}
}

func TestValueEqual(t *testing.T) {
	vec := StructOf(
		Field{Name: "x", Type: FloatType},
		Field{Name: "y", Type: FloatType},
	)

	tests := []struct {
		name string
		a, b Value
		want bool
	}{
		{"int equal", NewInt(7), NewInt(7), true},
		{"int unequal", NewInt(7), NewInt(8), false},
		{"cross type never equal", NewInt(1), NewFloat(1), false},
		{"bool", NewBool(true), NewBool(true), true},
		{"name", NewName("spine_01"), NewName("spine_01"), true},
		{"name unequal", NewName("spine_01"), NewName("spine_02"), false},
		{"array equal", NewArray(IntType, NewInt(1), NewInt(2)), NewArray(IntType, NewInt(1), NewInt(2)), true},
		{"array length", NewArray(IntType, NewInt(1)), NewArray(IntType, NewInt(1), NewInt(2)), false},
		{"struct equal",
			NewStruct(vec, NewFloat(1), NewFloat(2)),
			NewStruct(vec, NewFloat(1), NewFloat(2)), true},
		{"struct unequal",
			NewStruct(vec, NewFloat(1), NewFloat(2)),
			NewStruct(vec, NewFloat(1), NewFloat(3)), false},
	}

	for _, tt := range tests {
		if got := tt.a.Equal(&tt.b); got != tt.want {
			t.Errorf("%s: Equal = %v, want %v", tt.name, got, tt.want)
		}
		if got := tt.b.Equal(&tt.a); got != tt.want {
			t.Errorf("%s (reversed): Equal = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestValueHashConsistency(t *testing.T) {
	a := NewArray(IntType, NewInt(1), NewInt(2))
	b := NewArray(IntType, NewInt(1), NewInt(2))
	if a.Hash() != b.Hash() {
		t.Error("equal values must hash equal")
	}
	c := NewArray(IntType, NewInt(2), NewInt(1))
	if a.Hash() == c.Hash() {
		t.Error("order-sensitive values should hash differently")
	}
}

func TestValueString(t *testing.T) {
	vec := StructOf(Field{Name: "x", Type: IntType})
	tests := []struct {
		v    Value
		want string
	}{
		{NewInt(-4), "-4"},
		{NewBool(true), "true"},
		{NewName("root"), "root"},
		{NewArray(IntType, NewInt(1), NewInt(2)), "[1,2]"},
		{NewStruct(vec, NewInt(9)), "{x=9}"},
	}
	for _, tt := range tests {
		if got := tt.v.String(); got != tt.want {
			t.Errorf("String() = %q, want %q", got, tt.want)
		}
	}
}
