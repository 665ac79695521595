package dom

// Bounds is a contiguous run of sibling nodes under one parent. First and
// Last are nil for empty bounds.
type Bounds interface {
	Parent() *Node
	First() *Node
	Last() *Node
}

type nodeBounds struct {
	parent *Node
	node   *Node
}

// Single returns the bounds of one node.
func Single(parent, node *Node) Bounds {
	return nodeBounds{parent: parent, node: node}
}

func (b nodeBounds) Parent() *Node { return b.parent }
func (b nodeBounds) First() *Node  { return b.node }
func (b nodeBounds) Last() *Node   { return b.node }

// Clear removes the nodes of the bounds from their parent and returns the
// node that followed them.
func Clear(b Bounds) *Node {
	first, last := b.First(), b.Last()
	if first == nil {
		return nil
	}
	parent := b.Parent()
	node := first
	for node != nil {
		next := node.NextSibling
		parent.RemoveChild(node)
		if node == last {
			return next
		}
		node = next
	}
	return nil
}

// Move moves the nodes of the bounds before reference, or to the end of
// their parent when reference is nil, and returns the node that followed
// them before the move.
func Move(b Bounds, reference *Node) *Node {
	first, last := b.First(), b.Last()
	if first == nil {
		return nil
	}
	parent := b.Parent()
	node := first
	for node != nil {
		next := node.NextSibling
		InsertBefore(parent, node, reference)
		if node == last {
			return next
		}
		node = next
	}
	return nil
}
