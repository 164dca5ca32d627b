package vm

import (
	"fmt"
)

// ---------------------------------------------------------------------------
// PropertyTable: the typed-property capability backing each region
// ---------------------------------------------------------------------------

// PropertyTable is the capability interface the engine depends on for typed,
// indexed storage. Hosts with their own reflection systems implement it;
// Memory is the default in-memory implementation.
type PropertyTable interface {
	// GetValue reads the value at index, optionally through a nested path.
	GetValue(index int, path *PropertyPath) (*Value, error)
	// SetValue writes a value at index, optionally through a nested path.
	SetValue(index int, path *PropertyPath, v Value) error
	// Resize changes the element count of an array at index.
	Resize(index int, path *PropertyPath, count int) error
	// SameType reports whether two slots store structurally identical types.
	SameType(a, b int) bool
}

// ExternalDescriptor binds a named host-owned value to an External slot at
// Initialize time. The VM never copies or owns the pointed-to value.
type ExternalDescriptor struct {
	Name  string
	Value *Value
}

// ---------------------------------------------------------------------------
// Memory: one typed, indexable region
// ---------------------------------------------------------------------------

type slot struct {
	name     string
	typ      *Type
	value    Value
	external *Value // set only in External regions
}

// Memory is a typed, indexable store of values for one region kind.
// Literal memory is frozen after construction and shared read-only across
// instances; Work and Debug memory are instance-owned; External memory holds
// unowned references into host storage.
type Memory struct {
	kind       RegionKind
	slots      []slot
	generation uint32
	frozen     bool
}

// NewMemory creates an empty region of the given kind.
func NewMemory(kind RegionKind) *Memory {
	return &Memory{kind: kind}
}

// NewExternalMemory creates an External region from host descriptors.
func NewExternalMemory(descs []ExternalDescriptor) (*Memory, error) {
	m := NewMemory(RegionExternal)
	for _, d := range descs {
		if d.Value == nil {
			return nil, fmt.Errorf("vm: external %q has no value", d.Name)
		}
		m.slots = append(m.slots, slot{name: d.Name, typ: d.Value.Type, external: d.Value})
	}
	return m, nil
}

// Kind returns the region kind.
func (m *Memory) Kind() RegionKind {
	return m.kind
}

// NumSlots returns the slot count.
func (m *Memory) NumSlots() int {
	return len(m.slots)
}

// AddSlot appends a slot holding the given value and returns its index.
func (m *Memory) AddSlot(name string, v Value) int {
	if m.frozen {
		panic("vm: AddSlot on frozen memory")
	}
	m.slots = append(m.slots, slot{name: name, typ: v.Type, value: v})
	m.generation++
	return len(m.slots) - 1
}

// SlotType returns the declared type of a slot.
func (m *Memory) SlotType(index int) *Type {
	return m.slots[index].typ
}

// SlotName returns the name of a slot.
func (m *Memory) SlotName(index int) string {
	return m.slots[index].name
}

// SlotIndex returns the index of the named slot, or -1.
func (m *Memory) SlotIndex(name string) int {
	for i := range m.slots {
		if m.slots[i].name == name {
			return i
		}
	}
	return -1
}

// Generation returns the current layout generation. It advances on any
// change that can move stored values, invalidating cached pointers.
func (m *Memory) Generation() uint32 {
	return m.generation
}

// bump advances the generation counter. Called after any mutation that may
// reallocate array backing stores.
func (m *Memory) bump() {
	m.generation++
}

// Freeze marks the region immutable. Used for Literal memory after publish.
func (m *Memory) Freeze() {
	m.frozen = true
}

// Frozen reports whether the region rejects writes.
func (m *Memory) Frozen() bool {
	return m.frozen
}

// valuePtr returns a pointer to the slot's root value.
func (m *Memory) valuePtr(index int) (*Value, error) {
	if index < 0 || index >= len(m.slots) {
		return nil, fmt.Errorf("vm: %s index %d out of range (%d slots)", m.kind, index, len(m.slots))
	}
	s := &m.slots[index]
	if s.external != nil {
		return s.external, nil
	}
	return &s.value, nil
}

// resolve returns a pointer to the addressed (possibly nested) value.
func (m *Memory) resolve(index int, path *PropertyPath) (*Value, error) {
	v, err := m.valuePtr(index)
	if err != nil {
		return nil, err
	}
	if path == nil {
		return v, nil
	}
	return path.Resolve(v)
}

// GetValue implements PropertyTable.
func (m *Memory) GetValue(index int, path *PropertyPath) (*Value, error) {
	return m.resolve(index, path)
}

// SetValue implements PropertyTable. Writes to frozen memory are rejected.
func (m *Memory) SetValue(index int, path *PropertyPath, v Value) error {
	if m.frozen {
		return fmt.Errorf("vm: write to frozen %s memory", m.kind)
	}
	dst, err := m.resolve(index, path)
	if err != nil {
		return err
	}
	if !dst.Type.Same(v.Type) {
		return fmt.Errorf("vm: type mismatch writing %s into %s slot %d", v.Type, dst.Type, index)
	}
	oldLen := len(dst.Elems)
	*dst = v
	if dst.Type.Kind == TypeArray && len(dst.Elems) != oldLen {
		m.bump()
	}
	return nil
}

// Resize implements PropertyTable. Shrinking truncates; growing appends
// zero values of the element type.
func (m *Memory) Resize(index int, path *PropertyPath, count int) error {
	if m.frozen {
		return fmt.Errorf("vm: resize of frozen %s memory", m.kind)
	}
	if count < 0 {
		return fmt.Errorf("vm: resize to negative count %d", count)
	}
	dst, err := m.resolve(index, path)
	if err != nil {
		return err
	}
	if dst.Type.Kind != TypeArray {
		return fmt.Errorf("vm: resize of non-array slot %d (%s)", index, dst.Type)
	}
	if count == len(dst.Elems) {
		return nil
	}
	if count < len(dst.Elems) {
		dst.Elems = dst.Elems[:count]
	} else {
		for len(dst.Elems) < count {
			dst.Elems = append(dst.Elems, ZeroValue(dst.Type.Elem))
		}
	}
	m.bump()
	return nil
}

// SameType implements PropertyTable.
func (m *Memory) SameType(a, b int) bool {
	if a < 0 || a >= len(m.slots) || b < 0 || b >= len(m.slots) {
		return false
	}
	return m.slots[a].typ.Same(m.slots[b].typ)
}

// Clone returns a deep copy of the region. External references are carried
// over as references, never copied.
func (m *Memory) Clone() *Memory {
	out := &Memory{kind: m.kind, slots: make([]slot, len(m.slots))}
	for i := range m.slots {
		s := m.slots[i]
		if s.external == nil {
			s.value = s.value.Copy()
		}
		out.slots[i] = s
	}
	return out
}

// CopyValuesFrom overwrites this region's values with deep copies of the
// source's. Layouts must match; used by the deferred-clone resolution.
func (m *Memory) CopyValuesFrom(src *Memory) error {
	if len(m.slots) != len(src.slots) {
		return fmt.Errorf("vm: layout mismatch copying %s memory (%d vs %d slots)",
			m.kind, len(m.slots), len(src.slots))
	}
	for i := range m.slots {
		if m.slots[i].external != nil {
			continue
		}
		m.slots[i].value = src.slots[i].value.Copy()
	}
	m.bump()
	return nil
}

// ClearArrays empties every array slot in place. The debug region is
// cleared this way at the start of each Execute call.
func (m *Memory) ClearArrays() {
	changed := false
	for i := range m.slots {
		s := &m.slots[i]
		if s.external == nil && s.typ.Kind == TypeArray && len(s.value.Elems) > 0 {
			s.value.Elems = s.value.Elems[:0]
			changed = true
		}
	}
	if changed {
		m.bump()
	}
}
