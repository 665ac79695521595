package dom

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBuilderWritesElements(t *testing.T) {
	root := NewFragment()
	b := NewBuilder(root, nil)

	b.OpenElement("div")
	require.Nil(t, b.SetStaticAttribute("class", "box"))
	attr, err := b.SetDynamicAttribute("title", "hi")
	require.Nil(t, err)
	require.Nil(t, b.FlushElement())
	b.AppendText("hello")
	require.Nil(t, b.CloseElement())
	b.AppendText("!")

	block, err := b.PopBlock()
	require.Nil(t, err)
	require.Equal(t, `<div class="box" title="hi">hello</div>!`, Serialize(root))
	require.Equal(t, "div", block.First().Data)
	require.Equal(t, "!", block.Last().Data)

	attr.Set(false)
	require.Equal(t, `<div class="box">hello</div>!`, Serialize(root))
	attr.Set(2.5)
	v, ok := GetAttribute(attr.Element(), "title")
	require.True(t, ok)
	require.Equal(t, "2.5", v)
}

func TestBuilderErrors(t *testing.T) {
	b := NewBuilder(NewFragment(), nil)
	require.ErrorIs(t, b.SetStaticAttribute("a", "b"), ErrNoConstructingElement)
	require.ErrorIs(t, b.FlushElement(), ErrNoConstructingElement)
	require.ErrorIs(t, b.CloseElement(), ErrEmptyElementStack)

	_, err := b.PopBlock()
	require.Nil(t, err)
	_, err = b.PopBlock()
	require.ErrorIs(t, err, ErrEmptyBlockStack)
	require.ErrorIs(t, b.DidAddDestroyable(DestroyFunc(func() error { return nil })), ErrEmptyBlockStack)
}

func TestEmptyBlockGetsPlaceholder(t *testing.T) {
	root := NewFragment()
	b := NewBuilder(root, nil)
	b.PushUpdatableBlock()
	block, err := b.PopBlock()
	require.Nil(t, err)
	require.NotNil(t, block.First())
	require.Equal(t, "<!---->", Serialize(root))
}

func TestNestedBoundsAreLive(t *testing.T) {
	root := NewFragment()
	b := NewBuilder(root, nil)
	inner := b.PushUpdatableBlock()
	b.AppendText("a")
	_, err := b.PopBlock()
	require.Nil(t, err)
	b.AppendText("z")
	outer, err := b.PopBlock()
	require.Nil(t, err)
	require.Equal(t, "a", outer.First().Data)

	resumed, err := Resume(inner)
	require.Nil(t, err)
	resumed.AppendText("b")
	resumed.AppendText("c")
	_, err = resumed.PopBlock()
	require.Nil(t, err)

	require.Equal(t, "bcz", Serialize(root))
	require.Equal(t, "b", outer.First().Data)
	require.Equal(t, "c", inner.Last().Data)
}

func TestResetRunsDestroyablesOnce(t *testing.T) {
	root := NewFragment()
	b := NewBuilder(root, nil)
	tracker := b.PushUpdatableBlock()
	count := 0
	require.Nil(t, b.DidAddDestroyable(DestroyFunc(func() error {
		count++
		return nil
	})))
	b.AppendText("x")
	_, err := b.PopBlock()
	require.Nil(t, err)

	next, err := tracker.Reset()
	require.Nil(t, err)
	require.Nil(t, next)
	require.Equal(t, 1, count)
	require.Equal(t, "", Serialize(root))

	require.Nil(t, tracker.Destroy())
	require.Equal(t, 1, count)
}

func TestDestroyAggregatesErrors(t *testing.T) {
	tracker := NewSimpleBlockTracker(NewFragment())
	errA, errB := errors.New("a"), errors.New("b")
	ran := 0
	tracker.NewDestroyable(DestroyFunc(func() error { ran++; return errA }))
	tracker.NewDestroyable(DestroyFunc(func() error { ran++; return nil }))
	tracker.NewDestroyable(DestroyFunc(func() error { ran++; return errB }))

	err := tracker.Destroy()
	require.Equal(t, 3, ran)
	require.ErrorIs(t, err, errA)
	require.ErrorIs(t, err, errB)
}

func TestClearAndMove(t *testing.T) {
	root := NewFragment()
	a, b, c, d := NewText("a"), NewText("b"), NewText("c"), NewText("d")
	for _, n := range []*Node{a, b, c, d} {
		InsertBefore(root, n, nil)
	}

	span := &SimpleBlockTracker{parent: root}
	span.DidAppendNode(b)
	span.DidAppendNode(c)

	next := Move(span, a)
	require.Equal(t, d, next)
	require.Equal(t, "bcad", Serialize(root))

	next = Clear(span)
	require.Equal(t, a, next)
	require.Equal(t, "ad", Serialize(root))
}

type boundsSlice struct {
	items     []Bounds
	destroyed int
}

func (s *boundsSlice) FirstBounds() Bounds {
	if len(s.items) == 0 {
		return nil
	}
	return s.items[0]
}

func (s *boundsSlice) LastBounds() Bounds {
	if len(s.items) == 0 {
		return nil
	}
	return s.items[len(s.items)-1]
}

func (s *boundsSlice) DestroyAll() error {
	s.destroyed++
	return nil
}

func TestBlockListTracker(t *testing.T) {
	root := NewFragment()
	list := &boundsSlice{}
	b := NewBuilder(root, nil)
	tracker := b.PushBlockList(list)
	require.Nil(t, tracker.First())

	item := b.PushUpdatableBlock()
	b.AppendText("one")
	_, err := b.PopBlock()
	require.Nil(t, err)
	list.items = append(list.items, item)

	_, err = b.PopBlock()
	require.Nil(t, err)
	require.Equal(t, "one", tracker.First().Data)
	require.Equal(t, "one", tracker.Last().Data)

	outer, err := b.PopBlock()
	require.Nil(t, err)
	require.Nil(t, outer.Destroy())
	require.Equal(t, 1, list.destroyed)
}

func TestToMapAndTextContent(t *testing.T) {
	root := NewFragment()
	b := NewBuilder(root, nil)
	b.OpenElement("p")
	require.Nil(t, b.FlushElement())
	b.AppendText("x")
	require.Nil(t, b.CloseElement())
	b.AppendComment("c")

	m := ToMap(root)
	require.Equal(t, "fragment", m["type"])
	children := m["children"].([]any)
	require.Len(t, children, 2)
	require.Equal(t, "p", children[0].(map[string]any)["tag"])
	require.Equal(t, "x", TextContent(root))
}
