package vm

import (
	"fmt"

	"github.com/cloudcmds/rendervm/dom"
	"github.com/cloudcmds/rendervm/reference"
	"github.com/hashicorp/go-multierror"
)

// UpdatingOpcode is one recorded step of the updating program. The set
// of implementations is closed to this package.
type UpdatingOpcode interface {
	reference.Tagged

	// Evaluate re-applies the step if its inputs changed.
	Evaluate(vm *UpdatingVM) error

	links() *opcodeLinks
}

// blockOwner is an updating opcode that owns a child list filled by the
// append VM between an enter and the matching exit.
type blockOwner interface {
	UpdatingOpcode
	Children() *OpcodeList
	DidInitializeChildren()
}

type exceptionHandler interface {
	HandleException() error
}

// UpdateText rewrites a text node when its reference changes.
type UpdateText struct {
	opcodeLinks
	cache *reference.Cache
	node  *dom.Node
}

// Tag implements UpdatingOpcode.
func (o *UpdateText) Tag() reference.Tag { return o.cache.Tag() }

// Evaluate implements UpdatingOpcode.
func (o *UpdateText) Evaluate(*UpdatingVM) error {
	if v, changed := o.cache.Revalidate(); changed {
		o.node.Data = dom.Stringify(v)
	}
	return nil
}

// UpdateAttribute sets an attribute again when its reference changes.
type UpdateAttribute struct {
	opcodeLinks
	cache *reference.Cache
	attr  *dom.Attribute
}

// Tag implements UpdatingOpcode.
func (o *UpdateAttribute) Tag() reference.Tag { return o.cache.Tag() }

// Evaluate implements UpdatingOpcode.
func (o *UpdateAttribute) Evaluate(*UpdatingVM) error {
	if v, changed := o.cache.Revalidate(); changed {
		o.attr.Set(v)
	}
	return nil
}

// Assert guards a branch decision. When the value the decision was made
// on changes, the enclosing block is rendered again.
type Assert struct {
	opcodeLinks
	cache *reference.Cache
}

// Tag implements UpdatingOpcode.
func (o *Assert) Tag() reference.Tag { return o.cache.Tag() }

// Evaluate implements UpdatingOpcode.
func (o *Assert) Evaluate(vm *UpdatingVM) error {
	if _, changed := o.cache.Revalidate(); changed {
		return vm.Throw()
	}
	return nil
}

// Label marks a jump target in the updating program.
type Label struct {
	opcodeLinks
	name string
}

// Tag implements UpdatingOpcode.
func (o *Label) Tag() reference.Tag { return reference.ConstantTag }

// Evaluate implements UpdatingOpcode.
func (o *Label) Evaluate(*UpdatingVM) error { return nil }

// Name returns the label's name.
func (o *Label) Name() string { return o.name }

// JumpIfNotModified skips a cache group when none of the tags it covers
// moved since the group last ran.
type JumpIfNotModified struct {
	opcodeLinks
	tag          reference.Tag
	target       *Label
	lastRevision reference.Revision
}

func newJumpIfNotModified(tag reference.Tag, target *Label) *JumpIfNotModified {
	return &JumpIfNotModified{tag: tag, target: target, lastRevision: tag.Value()}
}

// Tag implements UpdatingOpcode.
func (o *JumpIfNotModified) Tag() reference.Tag { return o.tag }

// Evaluate implements UpdatingOpcode.
func (o *JumpIfNotModified) Evaluate(vm *UpdatingVM) error {
	if !vm.alwaysRevalidate && o.tag.Validate(o.lastRevision) {
		vm.Goto(o.target)
	}
	return nil
}

// DidModify records that the guarded span ran at the current revision.
func (o *JumpIfNotModified) DidModify() {
	o.lastRevision = o.tag.Value()
}

// LastRevision returns the revision the span last ran at.
func (o *JumpIfNotModified) LastRevision() reference.Revision { return o.lastRevision }

// DidModify closes a cache group.
type DidModify struct {
	opcodeLinks
	target *JumpIfNotModified
}

// Tag implements UpdatingOpcode.
func (o *DidModify) Tag() reference.Tag { return reference.ConstantTag }

// Evaluate implements UpdatingOpcode.
func (o *DidModify) Evaluate(*UpdatingVM) error {
	o.target.DidModify()
	return nil
}

// CapturedState is what a block needs to run its instructions again:
// the scopes it was entered with and the stack values it consumes.
type CapturedState struct {
	scope        *Scope
	dynamicScope DynamicScope
	stack        []any
}

// blockOpcode is the part shared by try and list blocks.
type blockOpcode struct {
	opcodeLinks
	start    int
	state    CapturedState
	runtime  *Runtime
	opts     []Option
	children *OpcodeList
}

// Children returns the block's updating opcodes.
func (b *blockOpcode) Children() *OpcodeList { return b.children }

// Start returns the handle the block's instructions start at.
func (b *blockOpcode) Start() int { return b.start }

// TryBlock is a region that renders again from its start when one of the
// branch decisions inside it changes.
type TryBlock struct {
	blockOpcode
	tracker *dom.UpdatableBlockTracker
	tag     *reference.UpdatableTag
}

func newTryBlock(start int, state CapturedState, vm *VM, tracker *dom.UpdatableBlockTracker) *TryBlock {
	return &TryBlock{
		blockOpcode: blockOpcode{
			start:    start,
			state:    state,
			runtime:  vm.runtime,
			opts:     vm.opts,
			children: NewOpcodeList(),
		},
		tracker: tracker,
		tag:     reference.NewUpdatableTag(reference.ConstantTag),
	}
}

// Tag implements UpdatingOpcode.
func (t *TryBlock) Tag() reference.Tag { return t.tag }

// Bounds returns the block's nodes.
func (t *TryBlock) Bounds() dom.Bounds { return t.tracker }

// Evaluate implements UpdatingOpcode.
func (t *TryBlock) Evaluate(vm *UpdatingVM) error {
	vm.Try(t.children, t)
	return nil
}

// DidInitializeChildren points the block's tag at its children.
func (t *TryBlock) DidInitializeChildren() {
	t.tag.Update(t.children.Tag())
}

// HandleException renders the block again in place: its destroyables
// run, its nodes are replaced and its children are recorded anew.
func (t *TryBlock) HandleException() error {
	t.children.Clear()
	builder, destroyErr := dom.Resume(t.tracker)
	vm, err := Resume(t.state, t.runtime, builder, t.opts...)
	if err != nil {
		return joinErrors(destroyErr, err)
	}
	vm.logger.Debug().Int("start", t.start).Msg("re-rendering block")
	_, err = vm.Execute(t.start, func(vm *VM) error {
		if err := vm.stack.Restore(t.state.stack); err != nil {
			return err
		}
		vm.pushContext(NewOpcodeList(), nil)
		vm.pushContext(t.children, t)
		return nil
	})
	if err != nil {
		return joinErrors(destroyErr, err)
	}
	return destroyErr
}

// joinErrors aggregates err with an earlier teardown error, returning err
// unchanged when there is none.
func joinErrors(destroyErr, err error) error {
	if destroyErr == nil {
		return err
	}
	return multierror.Append(destroyErr, err)
}

// Destroy runs the block's destroyables.
func (t *TryBlock) Destroy() error {
	return t.tracker.Destroy()
}

// ListBlock is a keyed list. Each item is a TryBlock; on revalidation
// the items are synchronized with the list's current content before
// they are revalidated themselves.
type ListBlock struct {
	blockOpcode
	tracker      *dom.BlockListTracker
	artifacts    *reference.IterationArtifacts
	items        map[string]*TryBlock
	lastIterated reference.Revision
	updatable    *reference.UpdatableTag
	tag          reference.Tag
	lastSync     reference.EditStats
}

func newListBlock(start int, state CapturedState, vm *VM, artifacts *reference.IterationArtifacts) *ListBlock {
	updatable := reference.NewUpdatableTag(reference.ConstantTag)
	return &ListBlock{
		blockOpcode: blockOpcode{
			start:    start,
			state:    state,
			runtime:  vm.runtime,
			opts:     vm.opts,
			children: NewOpcodeList(),
		},
		artifacts:    artifacts,
		items:        map[string]*TryBlock{},
		lastIterated: reference.Initial,
		updatable:    updatable,
		tag:          reference.Combine(artifacts.Tag(), updatable),
	}
}

// Tag implements UpdatingOpcode.
func (l *ListBlock) Tag() reference.Tag { return l.tag }

// Bounds returns the nodes of every item.
func (l *ListBlock) Bounds() dom.Bounds { return l.tracker }

// Keys returns the item keys in render order.
func (l *ListBlock) Keys() []string {
	keys := make([]string, 0, l.children.Len())
	index := make(map[*TryBlock]string, len(l.items))
	for key, item := range l.items {
		index[item] = key
	}
	for op := range l.children.All() {
		keys = append(keys, index[op.(*TryBlock)])
	}
	return keys
}

// Item returns the block of the item with the given key.
func (l *ListBlock) Item(key string) (*TryBlock, bool) {
	t, ok := l.items[key]
	return t, ok
}

// LastSync returns the edit counts of the most recent synchronization.
func (l *ListBlock) LastSync() reference.EditStats { return l.lastSync }

// Evaluate implements UpdatingOpcode.
func (l *ListBlock) Evaluate(vm *UpdatingVM) error {
	if !l.artifacts.Tag().Validate(l.lastIterated) {
		if err := l.synchronize(vm); err != nil {
			return err
		}
	}
	vm.Try(l.children, nil)
	return nil
}

func (l *ListBlock) synchronize(vm *UpdatingVM) error {
	parent := l.tracker.Parent()
	marker := dom.NewComment("")
	var next *dom.Node
	if last := l.tracker.Last(); last != nil {
		next = last.NextSibling
	}
	dom.InsertBefore(parent, marker, next)
	defer dom.Remove(marker)

	stats, err := reference.Synchronize(l.artifacts, &listRevalidation{list: l, marker: marker})
	l.lastSync = stats
	vm.logger.Debug().
		Int("retained", stats.Retained).
		Int("inserted", stats.Inserted).
		Int("moved", stats.Moved).
		Int("deleted", stats.Deleted).
		Msg("synchronized list")
	return err
}

// DidInitializeChildren records the iteration the children reflect.
func (l *ListBlock) DidInitializeChildren() {
	l.didInitializeChildren(true)
}

func (l *ListBlock) didInitializeChildren(listDidChange bool) {
	l.lastIterated = l.artifacts.Tag().Value()
	if listDidChange {
		l.updatable.Update(l.children.Tag())
	}
}

// FirstBounds implements dom.BoundsList.
func (l *ListBlock) FirstBounds() dom.Bounds {
	if head, ok := l.children.Head().(*TryBlock); ok {
		return head.tracker
	}
	return nil
}

// LastBounds implements dom.BoundsList.
func (l *ListBlock) LastBounds() dom.Bounds {
	if tail, ok := l.children.Tail().(*TryBlock); ok {
		return tail.tracker
	}
	return nil
}

// DestroyAll implements dom.BoundsList.
func (l *ListBlock) DestroyAll() error {
	var result error
	for op := range l.children.All() {
		if err := op.(*TryBlock).Destroy(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result
}

// listRevalidation applies a synchronization edit script to a list
// block. New items render before the marker, which sits after the last
// item, or before the first node of the item they precede.
type listRevalidation struct {
	list      *ListBlock
	marker    *dom.Node
	didInsert bool
	didDelete bool
}

func (d *listRevalidation) position(before string) (*TryBlock, *dom.Node, error) {
	if before == "" {
		return nil, d.marker, nil
	}
	ref, ok := d.list.items[before]
	if !ok {
		return nil, nil, fmt.Errorf("list item %q not found", before)
	}
	return ref, ref.tracker.First(), nil
}

func (d *listRevalidation) Retain(string, reference.PathReference, reference.PathReference) error {
	return nil
}

func (d *listRevalidation) Insert(key string, item, memo reference.PathReference, before string) error {
	l := d.list
	ref, next, err := d.position(before)
	if err != nil {
		return err
	}
	builder := dom.NewBuilder(l.tracker.Parent(), next)
	vm, err := Resume(l.state, l.runtime, builder, l.opts...)
	if err != nil {
		return err
	}
	var inserted *TryBlock
	_, err = vm.Execute(l.start, func(vm *VM) error {
		t, err := vm.Iterate(memo, item)
		if err != nil {
			return err
		}
		inserted = t
		l.items[key] = t
		vm.pushContext(NewOpcodeList(), nil)
		vm.pushContext(t.children, t)
		return nil
	})
	if err != nil {
		return err
	}
	if ref != nil {
		l.children.InsertBefore(inserted, ref)
	} else {
		l.children.Append(inserted)
	}
	d.didInsert = true
	return nil
}

func (d *listRevalidation) Move(key string, _, _ reference.PathReference, before string) error {
	l := d.list
	entry, ok := l.items[key]
	if !ok {
		return fmt.Errorf("list item %q not found", key)
	}
	ref, next, err := d.position(before)
	if err != nil {
		return err
	}
	dom.Move(entry.tracker, next)
	if ref != nil {
		l.children.InsertBefore(entry, ref)
	} else {
		l.children.Append(entry)
	}
	return nil
}

func (d *listRevalidation) Delete(key string) error {
	l := d.list
	entry, ok := l.items[key]
	if !ok {
		return fmt.Errorf("list item %q not found", key)
	}
	err := entry.Destroy()
	dom.Clear(entry.tracker)
	l.children.Remove(entry)
	delete(l.items, key)
	d.didDelete = true
	return err
}

func (d *listRevalidation) Done() error {
	d.list.didInitializeChildren(d.didInsert || d.didDelete)
	return nil
}
