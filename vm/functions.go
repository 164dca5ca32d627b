package vm

import (
	"fmt"
	"sort"
	"sync"
)

// ---------------------------------------------------------------------------
// NativeFunction: the opaque callable table entry behind OpExecute
// ---------------------------------------------------------------------------

// NativeFunction is a host-provided callable invoked by OpExecute
// instructions. The engine passes the instruction's resolved handles in
// declaration order plus the current execution context.
//
// SliceArgs lists the operand positions holding dynamically sized arrays
// the function iterates per element: the engine computes the maximum
// element count across them and re-invokes Execute once per slice. An empty
// SliceArgs means a single invocation.
type NativeFunction struct {
	Name      string
	Execute   func(ctx *ExecContext, handles []MemoryHandle) error
	SliceArgs []int
}

// ---------------------------------------------------------------------------
// Registry: stable names to callables, resolved once per table
// ---------------------------------------------------------------------------

var (
	registryMu sync.RWMutex
	registry   = map[string]*NativeFunction{}
)

// Register adds a native function to the global registry. Registering a
// name twice is an error.
func Register(fn *NativeFunction) error {
	if fn.Name == "" || fn.Execute == nil {
		return fmt.Errorf("vm: native function needs a name and an Execute body")
	}
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, exists := registry[fn.Name]; exists {
		return fmt.Errorf("vm: native function %q already registered", fn.Name)
	}
	registry[fn.Name] = fn
	return nil
}

// MustRegister is Register, panicking on error. Used by package init blocks.
func MustRegister(fn *NativeFunction) {
	if err := Register(fn); err != nil {
		panic(err)
	}
}

// LookupFunction returns the registered native function, or nil.
func LookupFunction(name string) *NativeFunction {
	registryMu.RLock()
	defer registryMu.RUnlock()
	return registry[name]
}

// RegisteredFunctionNames returns all registered names, sorted.
func RegisteredFunctionNames() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ---------------------------------------------------------------------------
// FunctionTable: per-program function name table
// ---------------------------------------------------------------------------

// FunctionTable is the ordered list of native-function names a compiled
// program calls into. Instructions reference functions by table index; the
// names resolve to callables once, at Initialize.
type FunctionTable struct {
	names    []string
	resolved []*NativeFunction
}

// NewFunctionTable creates a table over the given names.
func NewFunctionTable(names ...string) *FunctionTable {
	return &FunctionTable{names: append([]string(nil), names...)}
}

// Names returns the function names in table order.
func (t *FunctionTable) Names() []string {
	return append([]string(nil), t.names...)
}

// Len returns the number of table entries.
func (t *FunctionTable) Len() int {
	return len(t.names)
}

// Index returns the table index of a name, or -1.
func (t *FunctionTable) Index(name string) int {
	for i, n := range t.names {
		if n == name {
			return i
		}
	}
	return -1
}

// Resolve looks every name up in the registry. It is idempotent; a missing
// name fails the whole table.
func (t *FunctionTable) Resolve() error {
	if t.resolved != nil {
		return nil
	}
	resolved := make([]*NativeFunction, len(t.names))
	for i, name := range t.names {
		fn := LookupFunction(name)
		if fn == nil {
			return fmt.Errorf("vm: native function %q not registered", name)
		}
		resolved[i] = fn
	}
	t.resolved = resolved
	return nil
}

// Resolved reports whether the table has been resolved.
func (t *FunctionTable) Resolved() bool {
	return t.resolved != nil
}

// Function returns the resolved callable at an index.
func (t *FunctionTable) Function(index int) (*NativeFunction, error) {
	if t.resolved == nil {
		return nil, fmt.Errorf("vm: function table not resolved")
	}
	if index < 0 || index >= len(t.resolved) {
		return nil, fmt.Errorf("vm: function index %d out of range (%d entries)", index, len(t.resolved))
	}
	return t.resolved[index], nil
}
