package vm

import (
	"fmt"
	"strconv"
	"strings"
)

// ---------------------------------------------------------------------------
// Memory regions and operands
// ---------------------------------------------------------------------------

// RegionKind identifies one of the four disjoint memory regions.
type RegionKind uint8

const (
	// RegionLiteral holds compile-time constants. It is immutable after
	// publish and may be shared read-only across every instance compiled
	// from the same program.
	RegionLiteral RegionKind = iota
	// RegionWork is the mutable register file, exclusively owned by one
	// VM instance.
	RegionWork
	// RegionDebug holds per-watch value traces, written by the engine and
	// read by tooling after a run.
	RegionDebug
	// RegionExternal references host-owned storage bound at Initialize
	// time. The VM never owns external data.
	RegionExternal

	numRegions
)

// String implements the Stringer interface.
func (k RegionKind) String() string {
	switch k {
	case RegionLiteral:
		return "Literal"
	case RegionWork:
		return "Work"
	case RegionDebug:
		return "Debug"
	case RegionExternal:
		return "External"
	default:
		return fmt.Sprintf("Region(%d)", uint8(k))
	}
}

// Valid reports whether the kind names a real region.
func (k RegionKind) Valid() bool {
	return k < numRegions
}

// NoPath marks an operand without a nested property path.
const NoPath = -1

// Operand is an immutable reference to a memory location: a region, a slot
// index, and optionally a nested property path into the slot's value.
// Operands are embedded in instructions and never own data.
type Operand struct {
	Region RegionKind
	Index  int
	PathID int // index into the bytecode's path table, or NoPath
}

// NewOperand returns an operand addressing a whole slot.
func NewOperand(region RegionKind, index int) Operand {
	return Operand{Region: region, Index: index, PathID: NoPath}
}

// NewOperandWithPath returns an operand addressing a sub-location of a slot
// through the given path table entry.
func NewOperandWithPath(region RegionKind, index, pathID int) Operand {
	return Operand{Region: region, Index: index, PathID: pathID}
}

// HasPath reports whether the operand addresses through a property path.
func (o Operand) HasPath() bool {
	return o.PathID != NoPath
}

// String implements the Stringer interface.
func (o Operand) String() string {
	if o.HasPath() {
		return fmt.Sprintf("%s[%d]#%d", o.Region, o.Index, o.PathID)
	}
	return fmt.Sprintf("%s[%d]", o.Region, o.Index)
}

// ---------------------------------------------------------------------------
// Property paths: nested access into slot values
// ---------------------------------------------------------------------------

// PathSegment is one step of a property path: either an array element
// (Field empty) or a named struct field.
type PathSegment struct {
	Field   string
	Element int
}

// PropertyPath describes nested access into a slot's value, so the same
// storage slot can be addressed at different granularities by different
// instructions. Paths live in a side-table on the bytecode; operands refer
// to them by id.
type PropertyPath struct {
	Segments []PathSegment
}

// ElementSegment returns a path segment selecting an array element.
func ElementSegment(index int) PathSegment {
	return PathSegment{Element: index}
}

// FieldSegment returns a path segment selecting a struct field.
func FieldSegment(name string) PathSegment {
	return PathSegment{Field: name}
}

// NewPropertyPath builds a path from segments.
func NewPropertyPath(segments ...PathSegment) PropertyPath {
	return PropertyPath{Segments: segments}
}

// TypeFor walks the path against a root type and returns the type of the
// addressed sub-location.
func (p *PropertyPath) TypeFor(root *Type) (*Type, error) {
	t := root
	for _, seg := range p.Segments {
		if seg.Field != "" {
			if t.Kind != TypeStruct {
				return nil, fmt.Errorf("vm: path field %q into non-struct type %s", seg.Field, t)
			}
			idx := t.FieldIndex(seg.Field)
			if idx < 0 {
				return nil, fmt.Errorf("vm: path field %q not found in %s", seg.Field, t)
			}
			t = t.Fields[idx].Type
		} else {
			if t.Kind != TypeArray {
				return nil, fmt.Errorf("vm: path element %d into non-array type %s", seg.Element, t)
			}
			t = t.Elem
		}
	}
	return t, nil
}

// Resolve walks the path against a root value and returns a pointer to the
// addressed sub-value.
func (p *PropertyPath) Resolve(root *Value) (*Value, error) {
	v := root
	for _, seg := range p.Segments {
		if seg.Field != "" {
			if v.Type.Kind != TypeStruct {
				return nil, fmt.Errorf("vm: path field %q into non-struct value", seg.Field)
			}
			idx := v.Type.FieldIndex(seg.Field)
			if idx < 0 {
				return nil, fmt.Errorf("vm: path field %q not found", seg.Field)
			}
			v = &v.Fields[idx]
		} else {
			if v.Type.Kind != TypeArray {
				return nil, fmt.Errorf("vm: path element %d into non-array value", seg.Element)
			}
			if seg.Element < 0 || seg.Element >= len(v.Elems) {
				return nil, fmt.Errorf("vm: path element %d out of range (len %d)", seg.Element, len(v.Elems))
			}
			v = &v.Elems[seg.Element]
		}
	}
	return v, nil
}

// String implements the Stringer interface.
func (p PropertyPath) String() string {
	var sb strings.Builder
	for _, seg := range p.Segments {
		if seg.Field != "" {
			sb.WriteByte('.')
			sb.WriteString(seg.Field)
		} else {
			sb.WriteByte('[')
			sb.WriteString(strconv.Itoa(seg.Element))
			sb.WriteByte(']')
		}
	}
	return sb.String()
}
