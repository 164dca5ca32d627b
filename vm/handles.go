package vm

import (
	"fmt"
	"runtime"
	"strconv"
	"strings"
)

// ---------------------------------------------------------------------------
// MemoryHandle: a resolved, generation-checked operand location
// ---------------------------------------------------------------------------

// MemoryHandle is a cached resolution of an Operand against a concrete set
// of memory regions. It never trusts a raw pointer across layout changes:
// the pointer is revalidated against the owning region's generation counter
// at the point of use.
type MemoryHandle struct {
	store *Memory
	Index int
	Path  *PropertyPath
	Type  *Type

	ptr        *Value
	generation uint32
}

// Region returns the kind of the region this handle points into.
func (h *MemoryHandle) Region() RegionKind {
	return h.store.kind
}

// Memory returns the region this handle points into.
func (h *MemoryHandle) Memory() *Memory {
	return h.store
}

// Get returns a pointer to the addressed value, re-resolving if the owning
// region's layout changed since the pointer was cached.
func (h *MemoryHandle) Get() (*Value, error) {
	if h.ptr == nil || h.generation != h.store.generation {
		v, err := h.store.resolve(h.Index, h.Path)
		if err != nil {
			return nil, err
		}
		h.ptr = v
		h.generation = h.store.generation
	}
	return h.ptr, nil
}

// GetSliced returns the value visible to a handler under the current
// iteration scope: for dynamically sized arrays the innermost active slice
// selects the element, clamped to the last one; everything else resolves as
// Get.
func (h *MemoryHandle) GetSliced(ctx *ExecContext) (*Value, error) {
	v, err := h.Get()
	if err != nil {
		return nil, err
	}
	if v.Type.Kind != TypeArray || !ctx.InSlice() {
		return v, nil
	}
	if len(v.Elems) == 0 {
		return nil, fmt.Errorf("vm: sliced access into empty array (%s slot %d)", h.store.kind, h.Index)
	}
	idx := ctx.SliceIndex()
	if idx >= len(v.Elems) {
		idx = len(v.Elems) - 1
	}
	return &v.Elems[idx], nil
}

// String implements the Stringer interface.
func (h MemoryHandle) String() string {
	if h.Path != nil {
		return fmt.Sprintf("%s[%d]%s:%s", h.store.kind, h.Index, h.Path, h.Type)
	}
	return fmt.Sprintf("%s[%d]:%s", h.store.kind, h.Index, h.Type)
}

// ---------------------------------------------------------------------------
// HandleCache: per-instance operand resolution, built once per topology
// ---------------------------------------------------------------------------

// HandleCache resolves every instruction's operands exactly once per
// (bytecode, region-set) pairing. Handles are stored in one flat array; a
// parallel first-handle table gives O(1) slicing per instruction, and the
// cached per-instruction counts give each Execute call its operand window
// without re-walking the instruction.
type HandleCache struct {
	handles []MemoryHandle
	first   []int
	counts  []int

	instructionCount int
	regions          [numRegions]*Memory
	built            bool
}

// UpToDate reports whether the cache matches the given topology: same
// instruction count and identical region identities.
func (c *HandleCache) UpToDate(bc *ByteCode, regions [numRegions]*Memory) bool {
	if !c.built || c.instructionCount != bc.NumInstructions() {
		return false
	}
	return c.regions == regions
}

// Invalidate discards the cache.
func (c *HandleCache) Invalidate() {
	c.handles = nil
	c.first = nil
	c.counts = nil
	c.built = false
}

// Cache builds the handle table. It is a no-op when the topology is
// unchanged since the last build; otherwise it rebuilds from scratch.
func (c *HandleCache) Cache(bc *ByteCode, regions [numRegions]*Memory) error {
	if c.UpToDate(bc, regions) {
		return nil
	}
	c.Invalidate()

	n := bc.NumInstructions()
	c.first = make([]int, n)
	c.counts = make([]int, n)
	for i, in := range bc.Instructions {
		c.first[i] = len(c.handles)
		c.counts[i] = len(in.Operands)
		for _, o := range in.Operands {
			h, err := resolveOperand(bc, regions, o)
			if err != nil {
				return fmt.Errorf("vm: instruction %d: %w", i, err)
			}
			c.handles = append(c.handles, h)
		}
	}
	c.instructionCount = n
	c.regions = regions
	c.built = true
	return nil
}

// Handles returns the resolved handles for one instruction. The returned
// slice aliases the flat handle array.
func (c *HandleCache) Handles(instruction int) []MemoryHandle {
	first := c.first[instruction]
	return c.handles[first : first+c.counts[instruction]]
}

// Handle returns a single resolved handle.
func (c *HandleCache) Handle(instruction, operand int) *MemoryHandle {
	return &c.handles[c.first[instruction]+operand]
}

// Built reports whether the cache holds a valid build.
func (c *HandleCache) Built() bool {
	return c.built
}

func resolveOperand(bc *ByteCode, regions [numRegions]*Memory, o Operand) (MemoryHandle, error) {
	if !o.Region.Valid() {
		return MemoryHandle{}, fmt.Errorf("invalid region %d", uint8(o.Region))
	}
	mem := regions[o.Region]
	if mem == nil {
		return MemoryHandle{}, fmt.Errorf("%s region not bound", o.Region)
	}
	if o.Index < 0 || o.Index >= mem.NumSlots() {
		return MemoryHandle{}, fmt.Errorf("%s out of range (%d slots)", o, mem.NumSlots())
	}
	h := MemoryHandle{store: mem, Index: o.Index}
	typ := mem.SlotType(o.Index)
	if o.HasPath() {
		path, err := bc.Path(o.PathID)
		if err != nil {
			return MemoryHandle{}, err
		}
		typ, err = path.TypeFor(typ)
		if err != nil {
			return MemoryHandle{}, err
		}
		h.Path = path
	}
	h.Type = typ
	return h, nil
}

// ---------------------------------------------------------------------------
// Goroutine identity for the single-owner discipline
// ---------------------------------------------------------------------------

// goroutineID returns the current goroutine's ID by parsing the stack.
// This is a workaround since Go doesn't expose goroutine IDs directly.
func goroutineID() int64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	// Stack starts with "goroutine <id> [...]"
	s := string(buf[:n])
	s = strings.TrimPrefix(s, "goroutine ")
	idx := strings.Index(s, " ")
	if idx > 0 {
		s = s[:idx]
	}
	id, _ := strconv.ParseInt(s, 10, 64)
	return id
}
