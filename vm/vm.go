// Package vm implements the rendering virtual machine.
//
// A render runs in two modes. The append VM interprets a bytecode program
// once, writing nodes through a dom.Builder and recording an updating
// program as it goes: one updating opcode for every output that depends
// on mutable state. Revalidation replays that updating program with an
// UpdatingVM, which skips spans whose tags did not move and re-renders
// only the blocks whose branch decisions changed.
package vm

import (
	"fmt"

	"github.com/cloudcmds/rendervm/dom"
	"github.com/cloudcmds/rendervm/errz"
	"github.com/cloudcmds/rendervm/lowlevel"
	"github.com/cloudcmds/rendervm/reference"
	"github.com/gofrs/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/rs/zerolog"
)

// State is the execution state of a VM.
type State uint8

const (
	// Running means the program has more instructions to run.
	Running State = iota
	// Faulted means an instruction failed. The VM is released.
	Faulted
	// Completed means the program finished. The VM is released.
	Completed
)

func (s State) String() string {
	switch s {
	case Running:
		return "running"
	case Faulted:
		return "faulted"
	case Completed:
		return "completed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// cacheMark remembers the tail of an updating list when a cache group
// began. A nil tail means the list was empty.
type cacheMark struct {
	tail UpdatingOpcode
}

// blockContext is one entry of the VM's block stack: the updating list
// opcodes are appended to, the block that owns it and the cache groups
// open in it. The root context has no owner. The scope depths are those
// at entry; a block must leave both scope stacks as it found them.
type blockContext struct {
	list         *OpcodeList
	owner        blockOwner
	marks        []cacheMark
	scopeDepth   int
	dynamicDepth int
}

// VM is the append VM of one render, or of one block re-render during
// revalidation. A VM is not safe for concurrent use.
type VM struct {
	runtime *Runtime
	env     Environment
	inner   *lowlevel.VM
	stack   *EvaluationStack
	builder dom.Builder

	scopes        []*Scope
	dynamicScopes []DynamicScope
	blocks        []*blockContext

	opts      []Option
	id        uuid.UUID
	logger    zerolog.Logger
	observer  Observer
	obsConfig ObserverConfig
	steps     int
	batchSize int
	maxDepth  int

	state  State
	fault  error
	result *RenderResult
}

// New returns a VM that renders runtime's program into builder with the
// given scope and dynamic scope. Nothing runs until Execute, ExecuteAll or
// Next is called.
func New(runtime *Runtime, builder dom.Builder, scope *Scope, dynamicScope DynamicScope, opts ...Option) (*VM, error) {
	if runtime == nil || runtime.Program == nil {
		return nil, fmt.Errorf("vm: runtime has no program")
	}
	id, err := uuid.NewV4()
	if err != nil {
		return nil, err
	}
	vm := &VM{
		runtime:   runtime,
		env:       runtime.Env,
		builder:   builder,
		opts:      opts,
		id:        id,
		logger:    zerolog.Nop(),
		batchSize: DefaultBatchSize,
		maxDepth:  lowlevel.DefaultMaxDepth,
	}
	for _, opt := range opts {
		opt(vm)
	}
	if vm.env == nil {
		vm.env = DefaultEnvironment{}
	}
	if vm.batchSize <= 0 {
		vm.batchSize = DefaultBatchSize
	}
	if vm.observer != nil {
		vm.obsConfig = NormalizeConfig(vm.observer.Config())
	}
	if dynamicScope == nil {
		dynamicScope = emptyDynamicScope{}
	}
	vm.logger = vm.logger.With().Str("render_id", id.String()).Logger()
	inner, err := lowlevel.New(runtime.Program, appendHost{vm}, vm.maxDepth)
	if err != nil {
		return nil, err
	}
	vm.inner = inner
	vm.stack = &EvaluationStack{inner: inner}
	vm.scopes = []*Scope{scope}
	vm.dynamicScopes = []DynamicScope{dynamicScope}
	return vm, nil
}

// Initial returns a VM ready to render the block named by handle with
// self bound in a root scope sized for the block.
func Initial(runtime *Runtime, self reference.PathReference, dynamicScope DynamicScope, builder dom.Builder, handle int, opts ...Option) (*VM, error) {
	heap := runtime.Program.Heap()
	size, err := heap.ScopeSizeOf(handle)
	if err != nil {
		return nil, err
	}
	vm, err := New(runtime, builder, RootScope(self, size), dynamicScope, opts...)
	if err != nil {
		return nil, err
	}
	if err := vm.start(handle); err != nil {
		return nil, err
	}
	vm.pushContext(NewOpcodeList(), nil)
	return vm, nil
}

// Empty returns a VM with an empty root scope and no bindings.
func Empty(runtime *Runtime, builder dom.Builder, opts ...Option) (*VM, error) {
	vm, err := New(runtime, builder, RootScope(reference.Undefined, 0), nil, opts...)
	if err != nil {
		return nil, err
	}
	vm.pushContext(NewOpcodeList(), nil)
	return vm, nil
}

// Resume returns a VM that continues from a captured state. The caller
// sets up the block stack in the initializer passed to Execute.
func Resume(state CapturedState, runtime *Runtime, builder dom.Builder, opts ...Option) (*VM, error) {
	return New(runtime, builder, state.scope, state.dynamicScope, opts...)
}

// ID returns the VM's render ID.
func (vm *VM) ID() uuid.UUID { return vm.id }

// Env implements PublicVM.
func (vm *VM) Env() Environment { return vm.env }

// Runtime returns the runtime the VM executes.
func (vm *VM) Runtime() *Runtime { return vm.runtime }

// Builder returns the builder the VM writes through.
func (vm *VM) Builder() dom.Builder { return vm.builder }

// Stack returns the evaluation stack.
func (vm *VM) Stack() *EvaluationStack { return vm.stack }

// Inner returns the machine layer.
func (vm *VM) Inner() *lowlevel.VM { return vm.inner }

// State returns the execution state.
func (vm *VM) State() State { return vm.state }

func (vm *VM) start(handle int) error {
	addr, err := vm.runtime.Program.Heap().GetAddr(handle)
	if err != nil {
		return err
	}
	vm.inner.SetPC(addr)
	return nil
}

// Execute runs the block named by start to completion. The initializer,
// if any, runs after the program counter is set and before the first
// instruction.
func (vm *VM) Execute(start int, initialize func(vm *VM) error) (*RenderResult, error) {
	if vm.state != Running {
		return vm.advance(-1)
	}
	if err := vm.start(start); err != nil {
		return nil, vm.fail(errz.NewFaultf(errz.InterpreterFault, -1, "invalid start handle %d", start).WithCause(err))
	}
	vm.logger.Debug().Int("start", start).Int("pc", vm.inner.PC()).Msg("execute")
	if initialize != nil {
		if err := initialize(vm); err != nil {
			return nil, vm.fail(err)
		}
	}
	return vm.ExecuteAll()
}

// ExecuteAll runs from the current program counter to completion.
func (vm *VM) ExecuteAll() (*RenderResult, error) {
	return vm.advance(-1)
}

// Next runs one batch of instructions. The result is done once the
// program completed; a fault is returned as an error and every later call
// returns the same fault.
func (vm *VM) Next() (IteratorResult, error) {
	result, err := vm.advance(vm.batchSize)
	if err != nil {
		return IteratorResult{}, err
	}
	if vm.state == Completed {
		return IteratorResult{Done: true, Value: result}, nil
	}
	return IteratorResult{}, nil
}

// Abort stops a running VM. Buffered builder instructions are flushed,
// the VM is released and every later call returns a fault caused by
// cause. Aborting a finished VM returns its fault, if any.
func (vm *VM) Abort(cause error) error {
	if vm.state != Running {
		return vm.fault
	}
	if err := vm.flush(); err != nil {
		cause = multierror.Append(cause, err)
	}
	return vm.fail(errz.NewFaultf(errz.InterpreterFault, vm.inner.PC(), "render aborted").WithCause(cause))
}

// advance is the only transition out of Running. It runs at most budget
// instructions, or all of them when budget is negative, and always
// flushes buffered builder instructions before returning.
func (vm *VM) advance(budget int) (*RenderResult, error) {
	switch vm.state {
	case Completed:
		return vm.result, nil
	case Faulted:
		return nil, vm.fault
	}
	status := vm.inner.EvaluateSome(budget)
	flushErr := vm.flush()
	switch status {
	case lowlevel.Faulted:
		return nil, vm.fail(vm.inner.LastFault())
	case lowlevel.Completed:
		if flushErr != nil {
			return nil, vm.fail(flushErr)
		}
		result, err := vm.lastResult()
		if err != nil {
			return nil, vm.fail(err)
		}
		vm.state = Completed
		vm.result = result
		vm.inner.Free()
		vm.logger.Debug().Int("updating_opcodes", result.Opcodes().Len()).Msg("render complete")
		return result, nil
	default:
		if flushErr != nil {
			return nil, vm.fail(flushErr)
		}
		vm.logger.Trace().Int("pc", vm.inner.PC()).Msg("batch done")
		return nil, nil
	}
}

// flush applies the builder instructions still buffered in the machine.
func (vm *VM) flush() error {
	if vm.inner.Released() || vm.inner.Pending() == 0 {
		return nil
	}
	if err := vm.executeInstructions(vm.inner.FinalizeInstructions()); err != nil {
		return errz.NewFaultf(errz.InterpreterFault, vm.inner.PC(), "flush failed").WithCause(err)
	}
	return nil
}

// fail moves the VM to Faulted and releases it. Callers flush first.
func (vm *VM) fail(err error) error {
	if _, ok := errz.AsFault(err); !ok {
		err = errz.NewFaultf(errz.InterpreterFault, -1, "%s", err.Error()).WithCause(err)
	}
	vm.state = Faulted
	vm.fault = err
	vm.inner.Free()
	f, _ := errz.AsFault(err)
	vm.logger.Error().Str("kind", f.Kind.String()).Int("pc", f.PC).Str("opcode", f.Opcode).Msg(f.Message)
	return err
}

func (vm *VM) lastResult() (*RenderResult, error) {
	if len(vm.blocks) != 1 || vm.blocks[0].owner != nil {
		return nil, structuralFault("render finished with %d open updating lists", len(vm.blocks))
	}
	if len(vm.blocks[0].marks) != 0 {
		return nil, structuralFault("render finished with %d uncommitted cache groups", len(vm.blocks[0].marks))
	}
	root := vm.blocks[0]
	vm.blocks = nil
	bounds, err := vm.builder.PopBlock()
	if err != nil {
		return nil, structuralFault("cannot close root block: %v", err)
	}
	return newRenderResult(vm, root.list, bounds), nil
}

func structuralFault(format string, args ...any) *errz.Fault {
	return errz.NewFaultf(errz.StructuralFault, -1, format, args...)
}

// Scopes

// Scope returns the current lexical scope.
func (vm *VM) Scope() *Scope { return vm.scopes[len(vm.scopes)-1] }

// DynamicScope implements PublicVM.
func (vm *VM) DynamicScope() DynamicScope { return vm.dynamicScopes[len(vm.dynamicScopes)-1] }

// GetSelf implements PublicVM.
func (vm *VM) GetSelf() reference.PathReference { return vm.Scope().GetSelf() }

// PushScope makes s the current scope.
func (vm *VM) PushScope(s *Scope) { vm.scopes = append(vm.scopes, s) }

// PushChildScope pushes a copy of the current scope.
func (vm *VM) PushChildScope() { vm.PushScope(vm.Scope().Child()) }

// PushRootScope pushes a scope with size unbound slots. With bindCaller,
// unbound slots fall through to the current scope.
func (vm *VM) PushRootScope(size int, bindCaller bool) *Scope {
	s := SizedScope(size)
	if bindCaller {
		s.BindCallerScope(vm.Scope())
	}
	vm.PushScope(s)
	return s
}

// PopScope discards the current scope. The scope the VM started with
// cannot be popped.
func (vm *VM) PopScope() error {
	if len(vm.scopes) <= 1 {
		return structuralFault("pop of empty scope stack")
	}
	vm.scopes = vm.scopes[:len(vm.scopes)-1]
	return nil
}

// PushDynamicScope pushes a child of the current dynamic scope.
func (vm *VM) PushDynamicScope() DynamicScope {
	child := vm.DynamicScope().Child()
	vm.dynamicScopes = append(vm.dynamicScopes, child)
	return child
}

// PopDynamicScope discards the current dynamic scope.
func (vm *VM) PopDynamicScope() error {
	if len(vm.dynamicScopes) <= 1 {
		return structuralFault("pop of empty dynamic scope stack")
	}
	vm.dynamicScopes = vm.dynamicScopes[:len(vm.dynamicScopes)-1]
	return nil
}

// Registers

// FetchValue returns the value held by a register.
func (vm *VM) FetchValue(r lowlevel.Register) (any, error) {
	b, err := vm.inner.Register(r)
	if err != nil {
		return nil, err
	}
	return vm.inner.Context().Decode(b)
}

// LoadValue stores v in a register.
func (vm *VM) LoadValue(r lowlevel.Register, v any) error {
	b, err := vm.inner.Context().Encode(v)
	if err != nil {
		return err
	}
	return vm.inner.SetRegister(r, b)
}

// Updating program

func (vm *VM) pushContext(list *OpcodeList, owner blockOwner) {
	vm.blocks = append(vm.blocks, &blockContext{
		list:         list,
		owner:        owner,
		scopeDepth:   len(vm.scopes),
		dynamicDepth: len(vm.dynamicScopes),
	})
}

func (vm *VM) popContext() (*blockContext, error) {
	if len(vm.blocks) == 0 {
		return nil, structuralFault("pop of empty updating list stack")
	}
	ctx := vm.blocks[len(vm.blocks)-1]
	vm.blocks = vm.blocks[:len(vm.blocks)-1]
	return ctx, nil
}

func (vm *VM) context() (*blockContext, error) {
	if len(vm.blocks) == 0 {
		return nil, structuralFault("no open updating list")
	}
	return vm.blocks[len(vm.blocks)-1], nil
}

// Updating returns the updating list opcodes are currently appended to.
func (vm *VM) Updating() *OpcodeList {
	if len(vm.blocks) == 0 {
		return nil
	}
	return vm.blocks[len(vm.blocks)-1].list
}

// UpdateWith appends op to the current updating list.
func (vm *VM) UpdateWith(op UpdatingOpcode) error {
	ctx, err := vm.context()
	if err != nil {
		return err
	}
	ctx.list.Append(op)
	return nil
}

// NewDestroyable implements PublicVM. d runs when the innermost open
// block is torn down.
func (vm *VM) NewDestroyable(d dom.Destroyable) error {
	return vm.builder.DidAddDestroyable(d)
}

// Capture snapshots the current scopes and the top n stack values.
func (vm *VM) Capture(n int) (CapturedState, error) {
	values, err := vm.stack.Capture(n)
	if err != nil {
		return CapturedState{}, err
	}
	return CapturedState{
		scope:        vm.Scope(),
		dynamicScope: vm.DynamicScope(),
		stack:        values,
	}, nil
}

// Blocks

// Enter opens a try block that replays from the current instruction with
// the top args stack values.
func (vm *VM) Enter(args int) error {
	state, err := vm.Capture(args)
	if err != nil {
		return err
	}
	start := vm.runtime.Program.Heap().GetHandle(vm.inner.PC())
	tracker := vm.builder.PushUpdatableBlock()
	t := newTryBlock(start, state, vm, tracker)
	if err := vm.didEnter(t); err != nil {
		return err
	}
	return vm.notifyBlock(BlockEvent{Kind: BlockEnter, Start: start, Depth: len(vm.blocks)})
}

// Iterate pushes an item's value and memo and returns the try block that
// will hold it. The block is not linked into any list yet.
func (vm *VM) Iterate(memo, value reference.PathReference) (*TryBlock, error) {
	if err := vm.stack.Push(value); err != nil {
		return nil, err
	}
	if err := vm.stack.Push(memo); err != nil {
		return nil, err
	}
	state, err := vm.Capture(2)
	if err != nil {
		return nil, err
	}
	start := vm.runtime.Program.Heap().GetHandle(vm.inner.PC())
	tracker := vm.builder.PushUpdatableBlock()
	return newTryBlock(start, state, vm, tracker), nil
}

// EnterItem registers t under key in the current list block and opens it.
func (vm *VM) EnterItem(key string, t *TryBlock) error {
	ctx, err := vm.context()
	if err != nil {
		return err
	}
	list, ok := ctx.owner.(*ListBlock)
	if !ok {
		return structuralFault("item %q entered outside of a list", key)
	}
	list.items[key] = t
	if err := vm.didEnter(t); err != nil {
		return err
	}
	return vm.notifyBlock(BlockEvent{Kind: ItemEnter, Start: t.start, Key: key, Depth: len(vm.blocks)})
}

// EnterList opens a list block over the iterator on top of the stack.
// Items replay from the instruction relativeStart away from the current
// one.
func (vm *VM) EnterList(relativeStart int) error {
	top, err := vm.stack.Peek(0)
	if err != nil {
		return err
	}
	iterator, ok := top.(*reference.ReferenceIterator)
	if !ok {
		return fmt.Errorf("expected an iterator on the stack, got %T", top)
	}
	state, err := vm.Capture(0)
	if err != nil {
		return err
	}
	addr := vm.inner.PC() - vm.inner.CurrentOpSize() + relativeStart
	start := vm.runtime.Program.Heap().GetHandle(addr)
	l := newListBlock(start, state, vm, iterator.Artifacts())
	l.tracker = vm.builder.PushBlockList(l)
	if err := vm.didEnter(l); err != nil {
		return err
	}
	return vm.notifyBlock(BlockEvent{Kind: ListEnter, Start: start, Depth: len(vm.blocks)})
}

func (vm *VM) didEnter(owner blockOwner) error {
	if err := vm.UpdateWith(owner); err != nil {
		return err
	}
	vm.pushContext(owner.Children(), owner)
	return nil
}

// Exit closes the innermost block.
func (vm *VM) Exit() error {
	if _, err := vm.exit(); err != nil {
		return err
	}
	return vm.notifyBlock(BlockEvent{Kind: BlockExit, Depth: len(vm.blocks)})
}

// ExitList closes the innermost list block.
func (vm *VM) ExitList() error {
	ctx, err := vm.context()
	if err != nil {
		return err
	}
	if _, ok := ctx.owner.(*ListBlock); !ok {
		return structuralFault("exit of a list outside of a list")
	}
	if _, err := vm.exit(); err != nil {
		return err
	}
	return vm.notifyBlock(BlockEvent{Kind: ListExit, Depth: len(vm.blocks)})
}

func (vm *VM) exit() (blockOwner, error) {
	ctx, err := vm.context()
	if err != nil {
		return nil, err
	}
	if ctx.owner == nil {
		return nil, structuralFault("exit of the root updating list")
	}
	if len(ctx.marks) != 0 {
		return nil, structuralFault("exit with %d uncommitted cache groups", len(ctx.marks))
	}
	if n := len(vm.scopes); n != ctx.scopeDepth {
		return nil, structuralFault("exit with scope depth %d, entered at %d", n, ctx.scopeDepth)
	}
	if n := len(vm.dynamicScopes); n != ctx.dynamicDepth {
		return nil, structuralFault("exit with dynamic scope depth %d, entered at %d", n, ctx.dynamicDepth)
	}
	if _, err := vm.builder.PopBlock(); err != nil {
		return nil, structuralFault("%v", err)
	}
	if _, err := vm.popContext(); err != nil {
		return nil, err
	}
	ctx.owner.DidInitializeChildren()
	return ctx.owner, nil
}

// Cache groups

// BeginCacheGroup marks the tail of the current updating list.
func (vm *VM) BeginCacheGroup() error {
	ctx, err := vm.context()
	if err != nil {
		return err
	}
	ctx.marks = append(ctx.marks, cacheMark{tail: ctx.list.Tail()})
	return nil
}

// CommitCacheGroup guards every opcode appended since the matching
// BeginCacheGroup. The span is skipped on revalidation while its combined
// tag is unchanged.
func (vm *VM) CommitCacheGroup() error {
	ctx, err := vm.context()
	if err != nil {
		return err
	}
	if len(ctx.marks) == 0 {
		return structuralFault("commit without an open cache group")
	}
	mark := ctx.marks[len(ctx.marks)-1]
	ctx.marks = ctx.marks[:len(ctx.marks)-1]

	list := ctx.list
	var head UpdatingOpcode
	if mark.tail == nil {
		head = list.Head()
	} else {
		head = list.Next(mark.tail)
	}
	tag := reference.ConstantTag
	if head != nil {
		tag = spanTag(head, list.Tail())
	}
	end := &Label{name: "END"}
	guard := newJumpIfNotModified(tag, end)
	list.InsertBefore(guard, head)
	list.Append(&DidModify{target: guard})
	list.Append(end)
	return nil
}

func (vm *VM) notifyBlock(event BlockEvent) error {
	if vm.observer == nil || !vm.obsConfig.ObserveBlocks {
		return nil
	}
	if !vm.observer.OnBlock(event) {
		return errz.NewFaultf(errz.InterpreterFault, -1, errObserverHalt)
	}
	return nil
}

var _ PublicVM = (*VM)(nil)
