package dom

import (
	"errors"
	"fmt"
	"strconv"
)

var (
	// ErrNoConstructingElement is returned for attribute and flush calls
	// made outside of an open element.
	ErrNoConstructingElement = errors.New("dom: no element under construction")

	// ErrEmptyElementStack is returned when closing more elements than
	// were opened.
	ErrEmptyElementStack = errors.New("dom: element stack is empty")

	// ErrEmptyBlockStack is returned when popping more blocks than were
	// pushed.
	ErrEmptyBlockStack = errors.New("dom: block stack is empty")
)

// Builder is the narrow interface the interpreter writes output through.
type Builder interface {
	OpenElement(tag string) *Node
	SetStaticAttribute(name, value string) error
	SetDynamicAttribute(name string, value any) (*Attribute, error)
	FlushElement() error
	CloseElement() error
	AppendText(text string) *Node
	AppendComment(text string) *Node

	PushSimpleBlock() *SimpleBlockTracker
	PushUpdatableBlock() *UpdatableBlockTracker
	PushBlockList(list BoundsList) *BlockListTracker
	PopBlock() (Tracker, error)
	DidAddDestroyable(d Destroyable) error
}

type cursor struct {
	element     *Node
	nextSibling *Node
}

// ElementBuilder writes nodes at a cursor and keeps the stack of open
// elements and blocks.
type ElementBuilder struct {
	cursors      []cursor
	blocks       []Tracker
	constructing *Node
}

// NewBuilder returns a builder that inserts into parent before
// nextSibling, or at the end when nextSibling is nil. A root block is
// pushed; popping it yields the bounds of everything written.
func NewBuilder(parent, nextSibling *Node) *ElementBuilder {
	b := &ElementBuilder{
		cursors: []cursor{{element: parent, nextSibling: nextSibling}},
	}
	b.PushSimpleBlock()
	return b
}

// Resume returns a builder that writes the content of tracker again in
// place. The tracker's destroyables run and its nodes are removed first.
func Resume(tracker *UpdatableBlockTracker) (*ElementBuilder, error) {
	next, err := tracker.Reset()
	b := NewBuilder(tracker.Parent(), next)
	b.pushBlockTracker(tracker, true)
	return b, err
}

// Element returns the element new nodes are appended to.
func (b *ElementBuilder) Element() *Node {
	return b.cursors[len(b.cursors)-1].element
}

func (b *ElementBuilder) nextSibling() *Node {
	return b.cursors[len(b.cursors)-1].nextSibling
}

// Block returns the innermost open block.
func (b *ElementBuilder) Block() Tracker {
	if len(b.blocks) == 0 {
		return nil
	}
	return b.blocks[len(b.blocks)-1]
}

// Depth returns the number of open blocks.
func (b *ElementBuilder) Depth() int {
	return len(b.blocks)
}

// OpenElement starts constructing an element. It is inserted by
// FlushElement once its attributes are set.
func (b *ElementBuilder) OpenElement(tag string) *Node {
	b.constructing = NewElement(tag)
	return b.constructing
}

// SetStaticAttribute sets an attribute on the element under construction.
func (b *ElementBuilder) SetStaticAttribute(name, value string) error {
	if b.constructing == nil {
		return ErrNoConstructingElement
	}
	SetAttribute(b.constructing, name, value)
	return nil
}

// SetDynamicAttribute sets an attribute that can be updated later through
// the returned handle.
func (b *ElementBuilder) SetDynamicAttribute(name string, value any) (*Attribute, error) {
	if b.constructing == nil {
		return nil, ErrNoConstructingElement
	}
	attr := &Attribute{element: b.constructing, name: name}
	attr.Set(value)
	return attr, nil
}

// FlushElement inserts the element under construction and makes it the
// current parent.
func (b *ElementBuilder) FlushElement() error {
	el := b.constructing
	if el == nil {
		return ErrNoConstructingElement
	}
	b.constructing = nil
	InsertBefore(b.Element(), el, b.nextSibling())
	if block := b.Block(); block != nil {
		block.DidOpenElement(el)
	}
	b.cursors = append(b.cursors, cursor{element: el})
	return nil
}

// CloseElement closes the current element.
func (b *ElementBuilder) CloseElement() error {
	if len(b.cursors) <= 1 {
		return ErrEmptyElementStack
	}
	if block := b.Block(); block != nil {
		block.DidCloseElement()
	}
	b.cursors = b.cursors[:len(b.cursors)-1]
	return nil
}

func (b *ElementBuilder) appendNode(n *Node) *Node {
	InsertBefore(b.Element(), n, b.nextSibling())
	if block := b.Block(); block != nil {
		block.DidAppendNode(n)
	}
	return n
}

// AppendText appends a text node.
func (b *ElementBuilder) AppendText(text string) *Node {
	return b.appendNode(NewText(text))
}

// AppendComment appends a comment node.
func (b *ElementBuilder) AppendComment(text string) *Node {
	return b.appendNode(NewComment(text))
}

// PushSimpleBlock opens a block that is written once.
func (b *ElementBuilder) PushSimpleBlock() *SimpleBlockTracker {
	t := NewSimpleBlockTracker(b.Element())
	b.pushBlockTracker(t, false)
	return t
}

// PushUpdatableBlock opens a block that can be re-rendered in place.
func (b *ElementBuilder) PushUpdatableBlock() *UpdatableBlockTracker {
	t := NewUpdatableBlockTracker(b.Element())
	b.pushBlockTracker(t, false)
	return t
}

// PushBlockList opens a keyed list block spanning the items of list.
func (b *ElementBuilder) PushBlockList(list BoundsList) *BlockListTracker {
	t := NewBlockListTracker(b.Element(), list)
	b.pushBlockTracker(t, false)
	return t
}

// pushBlockTracker makes t the current block and records it as content
// of the enclosing block. Unless remote, the enclosing block also owns
// t's destroyables.
func (b *ElementBuilder) pushBlockTracker(t Tracker, remote bool) {
	if current := b.Block(); current != nil {
		if !remote {
			current.NewDestroyable(t)
		}
		current.DidAppendBounds(t)
	}
	b.blocks = append(b.blocks, t)
}

// PopBlock finalizes and closes the current block.
func (b *ElementBuilder) PopBlock() (Tracker, error) {
	t := b.Block()
	if t == nil {
		return nil, ErrEmptyBlockStack
	}
	t.Finalize(b)
	b.blocks = b.blocks[:len(b.blocks)-1]
	return t, nil
}

// DidAddDestroyable registers d with the current block.
func (b *ElementBuilder) DidAddDestroyable(d Destroyable) error {
	t := b.Block()
	if t == nil {
		return ErrEmptyBlockStack
	}
	t.NewDestroyable(d)
	return nil
}

// Attribute is a handle to an attribute whose value changes over time.
type Attribute struct {
	element *Node
	name    string
}

// Element returns the element the attribute belongs to.
func (a *Attribute) Element() *Node { return a.element }

// Name returns the attribute name.
func (a *Attribute) Name() string { return a.name }

// Set updates the attribute. nil and false remove it and true sets it to
// the empty string.
func (a *Attribute) Set(value any) {
	switch v := value.(type) {
	case nil:
		RemoveAttribute(a.element, a.name)
	case bool:
		if v {
			SetAttribute(a.element, a.name, "")
		} else {
			RemoveAttribute(a.element, a.name)
		}
	default:
		SetAttribute(a.element, a.name, Stringify(value))
	}
}

// Stringify converts a value to the text the builder writes for it.
func Stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case fmt.Stringer:
		return t.String()
	default:
		return fmt.Sprint(v)
	}
}

var _ Builder = (*ElementBuilder)(nil)
