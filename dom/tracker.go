package dom

import (
	"github.com/hashicorp/go-multierror"
)

// Destroyable is torn down when the block that owns it goes away.
type Destroyable interface {
	Destroy() error
}

// DestroyFunc adapts a function to the Destroyable interface.
type DestroyFunc func() error

// Destroy implements Destroyable.
func (f DestroyFunc) Destroy() error { return f() }

// Tracker records the bounds and destroyables of an open block while the
// builder writes into it.
type Tracker interface {
	Bounds
	Destroyable

	DidAppendNode(node *Node)
	DidAppendBounds(bounds Bounds)
	DidOpenElement(element *Node)
	DidCloseElement()
	NewDestroyable(d Destroyable)
	Finalize(b *ElementBuilder)
}

// SimpleBlockTracker tracks a block whose content is written once.
type SimpleBlockTracker struct {
	parent       *Node
	first        Bounds
	last         Bounds
	destroyables []Destroyable
	nesting      int
}

// NewSimpleBlockTracker returns a tracker for a block under parent.
func NewSimpleBlockTracker(parent *Node) *SimpleBlockTracker {
	return &SimpleBlockTracker{parent: parent}
}

// Parent implements Bounds.
func (t *SimpleBlockTracker) Parent() *Node { return t.parent }

// First implements Bounds. The result is live: it follows nested blocks
// that re-render.
func (t *SimpleBlockTracker) First() *Node {
	if t.first == nil {
		return nil
	}
	return t.first.First()
}

// Last implements Bounds.
func (t *SimpleBlockTracker) Last() *Node {
	if t.last == nil {
		return nil
	}
	return t.last.Last()
}

// DidAppendNode implements Tracker.
func (t *SimpleBlockTracker) DidAppendNode(node *Node) {
	t.DidAppendBounds(Single(t.parent, node))
}

// DidAppendBounds implements Tracker.
func (t *SimpleBlockTracker) DidAppendBounds(bounds Bounds) {
	if t.nesting != 0 {
		return
	}
	if t.first == nil {
		t.first = bounds
	}
	t.last = bounds
}

// DidOpenElement implements Tracker.
func (t *SimpleBlockTracker) DidOpenElement(element *Node) {
	t.DidAppendNode(element)
	t.nesting++
}

// DidCloseElement implements Tracker.
func (t *SimpleBlockTracker) DidCloseElement() {
	t.nesting--
}

// NewDestroyable implements Tracker.
func (t *SimpleBlockTracker) NewDestroyable(d Destroyable) {
	t.destroyables = append(t.destroyables, d)
}

// Finalize implements Tracker. A block that produced no nodes gets an
// empty comment so it still has a position in the tree.
func (t *SimpleBlockTracker) Finalize(b *ElementBuilder) {
	if t.first == nil {
		b.AppendComment("")
	}
}

// Destroy implements Destroyable. Every destroyable runs once, even when
// some of them fail.
func (t *SimpleBlockTracker) Destroy() error {
	destroyables := t.destroyables
	t.destroyables = nil
	var result error
	for _, d := range destroyables {
		if err := d.Destroy(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result
}

// UpdatableBlockTracker tracks a block that can be cleared and written
// again in place.
type UpdatableBlockTracker struct {
	SimpleBlockTracker
}

// NewUpdatableBlockTracker returns an updatable tracker under parent.
func NewUpdatableBlockTracker(parent *Node) *UpdatableBlockTracker {
	return &UpdatableBlockTracker{SimpleBlockTracker{parent: parent}}
}

// Reset destroys the block's destroyables, removes its nodes and returns
// the node that followed them, where new content should be inserted.
func (t *UpdatableBlockTracker) Reset() (*Node, error) {
	err := t.Destroy()
	next := Clear(t)
	t.first = nil
	t.last = nil
	t.nesting = 0
	return next, err
}

// BoundsList is the ordered list of item blocks a list tracker spans.
type BoundsList interface {
	FirstBounds() Bounds
	LastBounds() Bounds
	DestroyAll() error
}

// BlockListTracker tracks a keyed list block. Its bounds are those of its
// first and last item.
type BlockListTracker struct {
	parent *Node
	list   BoundsList
}

// NewBlockListTracker returns a tracker over list under parent.
func NewBlockListTracker(parent *Node, list BoundsList) *BlockListTracker {
	return &BlockListTracker{parent: parent, list: list}
}

// Parent implements Bounds.
func (t *BlockListTracker) Parent() *Node { return t.parent }

// First implements Bounds.
func (t *BlockListTracker) First() *Node {
	if b := t.list.FirstBounds(); b != nil {
		return b.First()
	}
	return nil
}

// Last implements Bounds.
func (t *BlockListTracker) Last() *Node {
	if b := t.list.LastBounds(); b != nil {
		return b.Last()
	}
	return nil
}

// DidAppendNode implements Tracker. Items track their own nodes.
func (t *BlockListTracker) DidAppendNode(*Node) {}

// DidAppendBounds implements Tracker.
func (t *BlockListTracker) DidAppendBounds(Bounds) {}

// DidOpenElement implements Tracker.
func (t *BlockListTracker) DidOpenElement(*Node) {}

// DidCloseElement implements Tracker.
func (t *BlockListTracker) DidCloseElement() {}

// NewDestroyable implements Tracker. Items own their destroyables.
func (t *BlockListTracker) NewDestroyable(Destroyable) {}

// Finalize implements Tracker.
func (t *BlockListTracker) Finalize(*ElementBuilder) {}

// Destroy implements Destroyable by destroying every item.
func (t *BlockListTracker) Destroy() error {
	return t.list.DestroyAll()
}
