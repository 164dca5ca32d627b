package vm

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/tliron/commonlog"
)

// ---------------------------------------------------------------------------
// VM: the Marionette virtual machine
// ---------------------------------------------------------------------------

// Config holds per-instance runtime configuration.
type Config struct {
	// MaxArrayElements is the element-count budget array instructions may
	// not grow past. Requests above it leave the array unchanged and are
	// reported as recoverable.
	MaxArrayElements int
}

// DefaultMaxArrayElements is the default array element budget.
const DefaultMaxArrayElements = 2048

// DefaultConfig returns the default runtime configuration.
func DefaultConfig() Config {
	return Config{MaxArrayElements: DefaultMaxArrayElements}
}

// programState tracks whether the instance owns its program state directly
// or still has a pending deferred copy from a clone source.
type programState uint8

const (
	stateDirect programState = iota
	statePendingClone
)

// VM owns one compiled program's runtime state: a bytecode reference (owned
// or shared), a function table, the four memory regions, and the
// instance-owned handle cache. A single instance is a synchronous,
// single-threaded interpreter; concurrent Initialize/Execute calls from
// multiple goroutines are a programming error, not something serialized
// internally. Independent instances may run concurrently, sharing only the
// immutable literal memory, bytecode, and function table.
type VM struct {
	// ID identifies the instance in diagnostics and clone tracking.
	ID string

	program   *Program
	bytecode  *ByteCode
	functions *FunctionTable
	literal   *Memory
	work      *Memory
	debug     *Memory
	external  *Memory

	cache  HandleCache
	config Config
	log    commonlog.Logger
	engine engine

	debugger *Debugger

	exitHandlers []func(entry string)
	haltHandlers []func(Halt)

	state         programState
	cloneSource   *VM
	pendingClones []*VM
	hostArgs      []any

	runMu       sync.Mutex
	ownerID     int64
	initialized bool
}

// NewVM creates a VM instance over a validated program. The literal memory
// is frozen and shared; the instance's work region is cloned from the
// program's template.
func NewVM(p *Program, cfg Config) (*VM, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if cfg.MaxArrayElements <= 0 {
		cfg.MaxArrayElements = DefaultMaxArrayElements
	}
	p.Literal.Freeze()
	vm := &VM{
		ID:        uuid.New().String(),
		program:   p,
		bytecode:  p.ByteCode,
		functions: p.Functions,
		literal:   p.Literal,
		work:      p.Work.Clone(),
		debug:     NewMemory(RegionDebug),
		config:    cfg,
		log:       commonlog.GetLogger("marionette.vm"),
	}
	vm.engine = engine{vm: vm}
	return vm, nil
}

// NewClone creates an instance that defer-copies its runtime state from
// source: nothing is duplicated until the clone's next Initialize or
// Execute call.
func NewClone(source *VM) *VM {
	clone := &VM{
		ID:          uuid.New().String(),
		config:      source.config,
		log:         source.log,
		state:       statePendingClone,
		cloneSource: source,
	}
	clone.engine = engine{vm: clone}
	source.registerClone(clone)
	return clone
}

// Config returns the instance configuration.
func (vm *VM) Config() Config {
	return vm.config
}

// ---------------------------------------------------------------------------
// Single-owner discipline
// ---------------------------------------------------------------------------

// beginRun asserts the single-threaded-owner contract. Re-entering a VM
// from a second goroutine while a build or run is in flight is a
// programming error.
func (vm *VM) beginRun() {
	gid := goroutineID()
	if !vm.runMu.TryLock() {
		panic(fmt.Sprintf("vm: instance %s re-entered from goroutine %d while in use by goroutine %d",
			vm.ID, gid, vm.ownerID))
	}
	vm.ownerID = gid
}

func (vm *VM) endRun() {
	vm.ownerID = 0
	vm.runMu.Unlock()
}

// ---------------------------------------------------------------------------
// Notifications
// ---------------------------------------------------------------------------

// OnExecutionReachedExit registers a handler invoked exactly once per run
// that reaches an Exit instruction or the terminal index.
func (vm *VM) OnExecutionReachedExit(fn func(entry string)) {
	vm.exitHandlers = append(vm.exitHandlers, fn)
}

// OnExecutionHalted registers a handler invoked when an attached debugger
// halts execution.
func (vm *VM) OnExecutionHalted(fn func(Halt)) {
	vm.haltHandlers = append(vm.haltHandlers, fn)
}

func (vm *VM) notifyExit(entry string) {
	for _, fn := range vm.exitHandlers {
		fn(entry)
	}
}

func (vm *VM) notifyHalted(h Halt) {
	for _, fn := range vm.haltHandlers {
		fn(h)
	}
}

// ---------------------------------------------------------------------------
// Debugger attachment and watches
// ---------------------------------------------------------------------------

// AttachDebugger attaches a debugger. Detached VMs pay no per-instruction
// debug cost.
func (vm *VM) AttachDebugger(d *Debugger) {
	vm.debugger = d
}

// DetachDebugger removes the attached debugger.
func (vm *VM) DetachDebugger() {
	vm.debugger = nil
}

// Debugger returns the attached debugger, or nil.
func (vm *VM) Debugger() *Debugger {
	return vm.debugger
}

// AddWatch gives the slot behind an operand a growable debug array; every
// subsequent write to it is mirrored there, one element per write.
func (vm *VM) AddWatch(op Operand) error {
	if vm.debugger == nil {
		return fmt.Errorf("vm: no debugger attached")
	}
	if vm.state == statePendingClone {
		if err := vm.resolvePendingClone(); err != nil {
			return err
		}
	}
	vm.flushPendingClones()
	mem, err := vm.regionFor(op.Region)
	if err != nil {
		return err
	}
	if op.Index < 0 || op.Index >= mem.NumSlots() {
		return fmt.Errorf("vm: watch %s out of range (%d slots)", op, mem.NumSlots())
	}
	typ := mem.SlotType(op.Index)
	name := fmt.Sprintf("watch:%s[%d]", op.Region, op.Index)
	if existing := vm.debug.SlotIndex(name); existing >= 0 {
		return nil
	}
	slot := vm.debug.AddSlot(name, ZeroValue(ArrayOf(typ)))
	vm.debugger.watch(op.Region, op.Index, slot)
	return nil
}

// DebugTrace returns the values recorded for a watched operand during the
// last Execute call.
func (vm *VM) DebugTrace(op Operand) ([]Value, error) {
	name := fmt.Sprintf("watch:%s[%d]", op.Region, op.Index)
	slot := vm.debug.SlotIndex(name)
	if slot < 0 {
		return nil, fmt.Errorf("vm: %s is not watched", op)
	}
	v, err := vm.debug.valuePtr(slot)
	if err != nil {
		return nil, err
	}
	return v.Elems, nil
}

// ---------------------------------------------------------------------------
// Lifecycle: Initialize, Execute, Reset, clone resolution
// ---------------------------------------------------------------------------

func (vm *VM) regions() [numRegions]*Memory {
	return [numRegions]*Memory{
		RegionLiteral:  vm.literal,
		RegionWork:     vm.work,
		RegionDebug:    vm.debug,
		RegionExternal: vm.external,
	}
}

func (vm *VM) regionFor(kind RegionKind) (*Memory, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("vm: invalid region %d", uint8(kind))
	}
	mem := vm.regions()[kind]
	if mem == nil {
		return nil, fmt.Errorf("vm: %s region not bound", kind)
	}
	return mem, nil
}

// Initialize resolves the function table, binds host-owned external values,
// validates every operand against the bound layouts, and builds the handle
// cache. The host arguments become the defaults for Execute calls that pass
// nil. A structural failure resets the instance to an empty, inert state
// rather than leaving it partially usable.
func (vm *VM) Initialize(externals []ExternalDescriptor, hostArgs []any) error {
	vm.beginRun()
	defer vm.endRun()
	vm.hostArgs = hostArgs
	return vm.initializeLocked(externals)
}

func (vm *VM) initializeLocked(externals []ExternalDescriptor) error {
	if err := vm.resolvePendingClone(); err != nil {
		return err
	}
	if vm.bytecode == nil {
		return fmt.Errorf("vm: instance %s has no program", vm.ID)
	}
	if err := vm.functions.Resolve(); err != nil {
		vm.resetLocked(false)
		return err
	}
	if externals != nil || vm.external == nil {
		ext, err := NewExternalMemory(externals)
		if err != nil {
			vm.resetLocked(false)
			return err
		}
		vm.external = ext
	}
	if err := vm.validateBoundOperands(); err != nil {
		vm.resetLocked(false)
		return err
	}
	if err := vm.cache.Cache(vm.bytecode, vm.regions()); err != nil {
		vm.resetLocked(false)
		return err
	}
	vm.initialized = true
	return nil
}

// validateBoundOperands checks Debug and External operands, which only
// resolve once watches and host bindings exist.
func (vm *VM) validateBoundOperands() error {
	for i, in := range vm.bytecode.Instructions {
		for _, o := range in.Operands {
			var mem *Memory
			switch o.Region {
			case RegionDebug:
				mem = vm.debug
			case RegionExternal:
				mem = vm.external
			default:
				continue
			}
			if o.Index < 0 || o.Index >= mem.NumSlots() {
				return fmt.Errorf("vm: instruction %d: %s out of range (%d slots)", i, o, mem.NumSlots())
			}
			if o.HasPath() {
				path, err := vm.bytecode.Path(o.PathID)
				if err != nil {
					return fmt.Errorf("vm: instruction %d: %w", i, err)
				}
				if _, err := path.TypeFor(mem.SlotType(o.Index)); err != nil {
					return fmt.Errorf("vm: instruction %d: %w", i, err)
				}
			}
		}
	}
	return nil
}

// Execute runs the program from the named entry ("" starts at instruction
// 0) until Exit or a fatal condition. Passing externals re-binds the
// external region first; passing nil reuses the bindings from Initialize,
// and nil host arguments fall back to the ones given to Initialize.
func (vm *VM) Execute(externals []ExternalDescriptor, hostArgs []any, entry string) error {
	vm.beginRun()
	defer vm.endRun()

	if err := vm.resolvePendingClone(); err != nil {
		return err
	}
	vm.flushPendingClones()
	if !vm.initialized || externals != nil {
		if err := vm.initializeLocked(externals); err != nil {
			return err
		}
	}

	start := 0
	if entry != "" {
		index, ok := vm.bytecode.EntryIndex(entry)
		if !ok {
			return fmt.Errorf("vm: entry %q not found", entry)
		}
		start = index
	}

	// Debug traces cover one run.
	vm.debug.ClearArrays()

	if hostArgs == nil {
		hostArgs = vm.hostArgs
	}
	var ctx ExecContext
	ctx.vm = vm
	ctx.reset(entry, hostArgs)
	if err := vm.engine.run(&ctx, start); err != nil {
		vm.log.Errorf("instance %s: execution failed: %s", vm.ID, err.Error())
		return err
	}
	return nil
}

// Reset discards runtime state. With keepByteCode the instance returns to
// its just-constructed state, work memory re-cloned from the program
// template; without it the instance becomes empty and inert.
func (vm *VM) Reset(keepByteCode bool) {
	vm.beginRun()
	defer vm.endRun()
	vm.resetLocked(keepByteCode)
}

func (vm *VM) resetLocked(keepByteCode bool) {
	vm.flushPendingClones()
	if vm.state == statePendingClone && vm.cloneSource != nil {
		src := vm.cloneSource
		src.runMu.Lock()
		src.removePendingLocked(vm)
		src.runMu.Unlock()
	}
	vm.cache.Invalidate()
	vm.initialized = false
	vm.external = nil
	vm.hostArgs = nil
	vm.debug = NewMemory(RegionDebug)
	vm.state = stateDirect
	vm.cloneSource = nil
	if keepByteCode && vm.program != nil {
		vm.work = vm.program.Work.Clone()
		return
	}
	vm.program = nil
	vm.bytecode = nil
	vm.functions = nil
	vm.literal = nil
	vm.work = nil
}

// CloneFrom defer-copies runtime state from source into this instance. With
// deferred (the default posture) nothing is duplicated now; the next
// Initialize or Execute performs the actual copy, so many clone requests
// collapse into the minimum necessary copies. With deferred false the copy
// happens immediately.
func (vm *VM) CloneFrom(source *VM, deferred bool) error {
	vm.beginRun()
	defer vm.endRun()
	if source == vm {
		return fmt.Errorf("vm: instance %s cannot clone from itself", vm.ID)
	}
	vm.flushPendingClones()
	vm.state = statePendingClone
	vm.cloneSource = source
	source.registerClone(vm)
	if deferred {
		return nil
	}
	return vm.resolvePendingClone()
}

// registerClone records a pending clone so the source can push a snapshot to
// it before mutating its own state.
func (vm *VM) registerClone(clone *VM) {
	vm.runMu.Lock()
	vm.pendingClones = append(vm.pendingClones, clone)
	vm.runMu.Unlock()
}

// removePendingLocked drops a clone from the pending list. Caller holds
// vm.runMu.
func (vm *VM) removePendingLocked(clone *VM) {
	kept := vm.pendingClones[:0]
	for _, c := range vm.pendingClones {
		if c != clone {
			kept = append(kept, c)
		}
	}
	vm.pendingClones = kept
}

// flushPendingClones pushes the current state into every clone still waiting
// on this instance. Called with vm.runMu held before any mutation of the
// work or debug regions, so a deferred clone never observes source changes
// made after the clone request. A source with no program leaves its clones
// pending; they fail with a clear error at their own first use.
func (vm *VM) flushPendingClones() {
	if len(vm.pendingClones) == 0 || vm.bytecode == nil {
		return
	}
	for _, clone := range vm.pendingClones {
		if !clone.runMu.TryLock() {
			panic(fmt.Sprintf("vm: clone %s in use while source %s flushes pending copies",
				clone.ID, vm.ID))
		}
		clone.copyStateLocked(vm)
		clone.runMu.Unlock()
	}
	vm.pendingClones = nil
}

// copyStateLocked copies runtime state from src into vm. Both run locks are
// held by the caller.
func (vm *VM) copyStateLocked(src *VM) {
	vm.program = src.program
	vm.bytecode = src.bytecode
	vm.functions = src.functions
	vm.literal = src.literal
	vm.work = src.work.Clone()
	vm.debug = src.debug.Clone()
	vm.external = src.external
	vm.hostArgs = src.hostArgs
	vm.config = src.config
	vm.state = stateDirect
	vm.cloneSource = nil
	vm.initialized = false
	vm.cache.Invalidate()
	vm.log.Debugf("instance %s copied state from %s", vm.ID, src.ID)
}

// resolvePendingClone performs the deferred copy: mutable Work and Debug
// regions are deep-copied from the source, the literal memory, bytecode,
// and function table are referenced, never duplicated. Taking the source's
// run lock guarantees the copy never observes a source mid-execution.
func (vm *VM) resolvePendingClone() error {
	if vm.state != statePendingClone {
		return nil
	}
	src := vm.cloneSource
	vm.state = stateDirect
	vm.cloneSource = nil
	if src == nil {
		return fmt.Errorf("vm: instance %s has a pending clone with no source", vm.ID)
	}

	src.runMu.Lock()
	defer src.runMu.Unlock()
	src.removePendingLocked(vm)
	if src.state == statePendingClone {
		if err := src.resolvePendingClone(); err != nil {
			return fmt.Errorf("vm: resolving clone chain: %w", err)
		}
	}
	if src.bytecode == nil {
		return fmt.Errorf("vm: clone source %s has no program", src.ID)
	}

	vm.copyStateLocked(src)
	return nil
}

// ---------------------------------------------------------------------------
// Introspection
// ---------------------------------------------------------------------------

// ContainsEntry reports whether the program declares the named entry.
func (vm *VM) ContainsEntry(name string) bool {
	if vm.bytecode == nil {
		return false
	}
	return vm.bytecode.ContainsEntry(name)
}

// EntryNames returns the program's entry names in declaration order.
func (vm *VM) EntryNames() []string {
	if vm.bytecode == nil {
		return nil
	}
	return vm.bytecode.EntryNames()
}

// ByteCode returns the program's bytecode, or nil for an inert instance.
func (vm *VM) ByteCode() *ByteCode {
	return vm.bytecode
}

// WorkValue returns the current value of a work-region slot.
func (vm *VM) WorkValue(index int) (*Value, error) {
	if vm.work == nil {
		return nil, fmt.Errorf("vm: instance %s has no work memory", vm.ID)
	}
	return vm.work.valuePtr(index)
}

// WorkMemory returns the instance's work region.
func (vm *VM) WorkMemory() *Memory {
	return vm.work
}
