package vm

import (
	"testing"
)

// ---------------------------------------------------------------------------
// Handle cache tests
// ---------------------------------------------------------------------------

func testRegions(lit, work *Memory) [numRegions]*Memory {
	var r [numRegions]*Memory
	r[RegionLiteral] = lit
	r[RegionWork] = work
	r[RegionDebug] = NewMemory(RegionDebug)
	return r
}

func TestHandleCacheBuild(t *testing.T) {
	lit := NewMemory(RegionLiteral)
	lit.AddSlot("limit", NewInt(5))
	work := NewMemory(RegionWork)
	work.AddSlot("counter", NewInt(0))
	work.AddSlot("done", NewBool(false))

	bc := &ByteCode{Instructions: []Instruction{
		{Op: OpIncrement, Operands: []Operand{NewOperand(RegionWork, 0)}},
		{Op: OpEquals, Operands: []Operand{
			NewOperand(RegionWork, 0), NewOperand(RegionLiteral, 0), NewOperand(RegionWork, 1),
		}},
	}}

	var c HandleCache
	regions := testRegions(lit, work)
	if err := c.Cache(bc, regions); err != nil {
		t.Fatal(err)
	}
	if !c.Built() {
		t.Fatal("cache not built")
	}
	if got := len(c.Handles(0)); got != 1 {
		t.Errorf("instruction 0 has %d handles, want 1", got)
	}
	if got := len(c.Handles(1)); got != 3 {
		t.Errorf("instruction 1 has %d handles, want 3", got)
	}

	h := c.Handle(1, 1)
	if h.Region() != RegionLiteral || h.Index != 0 {
		t.Errorf("handle points at %s[%d]", h.Region(), h.Index)
	}
	v, err := h.Get()
	if err != nil {
		t.Fatal(err)
	}
	if v.Int != 5 {
		t.Errorf("literal read %d, want 5", v.Int)
	}

	// Rebuilding over the same topology is a no-op.
	if !c.UpToDate(bc, regions) {
		t.Error("cache should be up to date")
	}
	c.Invalidate()
	if c.Built() {
		t.Error("Invalidate left cache built")
	}
}

func TestHandleCacheRejectsBadOperand(t *testing.T) {
	work := NewMemory(RegionWork)
	work.AddSlot("x", NewInt(0))
	bc := &ByteCode{Instructions: []Instruction{
		{Op: OpIncrement, Operands: []Operand{NewOperand(RegionWork, 7)}},
	}}
	var c HandleCache
	if err := c.Cache(bc, testRegions(NewMemory(RegionLiteral), work)); err == nil {
		t.Error("expected error for out-of-range operand")
	}
}

func TestHandleReResolvesAfterGenerationChange(t *testing.T) {
	work := NewMemory(RegionWork)
	work.AddSlot("arr", NewArray(IntType, NewInt(1), NewInt(2)))

	pe := NewPropertyPath(ElementSegment(0))
	h := MemoryHandle{store: work, Index: 0, Path: &pe, Type: IntType}

	v, err := h.Get()
	if err != nil {
		t.Fatal(err)
	}
	if v.Int != 1 {
		t.Fatalf("initial read = %d", v.Int)
	}

	// Grow the array past its capacity so the backing store moves, then
	// bump the generation the way every resizing mutation does.
	if err := work.Resize(0, nil, 64); err != nil {
		t.Fatal(err)
	}
	root, _ := work.GetValue(0, nil)
	root.Elems[0] = NewInt(42)

	v2, err := h.Get()
	if err != nil {
		t.Fatal(err)
	}
	if v2.Int != 42 {
		t.Errorf("stale handle read %d, want 42", v2.Int)
	}
}

func TestHandlePathTyping(t *testing.T) {
	vec := StructOf(
		Field{Name: "x", Type: FloatType},
		Field{Name: "pts", Type: ArrayOf(FloatType)},
	)
	work := NewMemory(RegionWork)
	work.AddSlot("v", ZeroValue(vec))

	bc := &ByteCode{
		Instructions: []Instruction{
			{Op: OpZero, Operands: []Operand{NewOperandWithPath(RegionWork, 0, 0)}},
		},
		Paths: []PropertyPath{NewPropertyPath(FieldSegment("pts"))},
	}
	var c HandleCache
	if err := c.Cache(bc, testRegions(NewMemory(RegionLiteral), work)); err != nil {
		t.Fatal(err)
	}
	h := c.Handle(0, 0)
	if !h.Type.Same(ArrayOf(FloatType)) {
		t.Errorf("path handle type = %s, want Array<Float>", h.Type)
	}
}

// ---------------------------------------------------------------------------
// Sliced access tests
// ---------------------------------------------------------------------------

func TestGetSliced(t *testing.T) {
	work := NewMemory(RegionWork)
	work.AddSlot("arr", NewArray(IntType, NewInt(10), NewInt(20), NewInt(30)))
	work.AddSlot("scalar", NewInt(7))

	arrH := MemoryHandle{store: work, Index: 0, Type: work.SlotType(0)}
	scalarH := MemoryHandle{store: work, Index: 1, Type: IntType}

	var ctx ExecContext

	// Outside a slice the whole array is visible.
	v, err := arrH.GetSliced(&ctx)
	if err != nil {
		t.Fatal(err)
	}
	if v.Type.Kind != TypeArray {
		t.Errorf("unsliced access returned %s", v.Type)
	}

	ctx.BeginSlice(3, 1)
	v, err = arrH.GetSliced(&ctx)
	if err != nil {
		t.Fatal(err)
	}
	if v.Int != 20 {
		t.Errorf("slice 1 element = %d, want 20", v.Int)
	}

	// A scalar ignores slicing.
	s, err := scalarH.GetSliced(&ctx)
	if err != nil {
		t.Fatal(err)
	}
	if s.Int != 7 {
		t.Errorf("scalar under slice = %d", s.Int)
	}

	// Indices past the end clamp to the last element.
	ctx.EndSlice()
	ctx.BeginSlice(9, 8)
	v, err = arrH.GetSliced(&ctx)
	if err != nil {
		t.Fatal(err)
	}
	if v.Int != 30 {
		t.Errorf("clamped element = %d, want 30", v.Int)
	}
}

func TestGetSlicedEmptyArray(t *testing.T) {
	work := NewMemory(RegionWork)
	work.AddSlot("arr", NewArray(IntType))
	h := MemoryHandle{store: work, Index: 0, Type: work.SlotType(0)}

	var ctx ExecContext
	ctx.BeginSlice(1, 0)
	if _, err := h.GetSliced(&ctx); err == nil {
		t.Error("expected error for sliced access into empty array")
	}
}
