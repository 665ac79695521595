// Package dom provides the in-memory output tree written by the rendervm
// interpreter and the element builder it writes through.
package dom

import (
	"bytes"
	"strings"

	"golang.org/x/net/html"
)

// Node is a node of the output tree.
type Node = html.Node

// NewFragment returns a container node whose children form a document
// fragment. Render results are usually attached to one.
func NewFragment() *Node {
	return &Node{Type: html.DocumentNode}
}

// NewElement returns a detached element.
func NewElement(tag string) *Node {
	return &Node{Type: html.ElementNode, Data: tag}
}

// NewText returns a detached text node.
func NewText(text string) *Node {
	return &Node{Type: html.TextNode, Data: text}
}

// NewComment returns a detached comment node.
func NewComment(text string) *Node {
	return &Node{Type: html.CommentNode, Data: text}
}

// InsertBefore inserts child into parent before reference, or at the end
// when reference is nil. A child that is already attached is moved.
func InsertBefore(parent, child, reference *Node) {
	if child.Parent != nil {
		child.Parent.RemoveChild(child)
	}
	parent.InsertBefore(child, reference)
}

// Remove detaches n from its parent, if it has one.
func Remove(n *Node) {
	if n.Parent != nil {
		n.Parent.RemoveChild(n)
	}
}

// GetAttribute returns the value of the named attribute.
func GetAttribute(n *Node, name string) (string, bool) {
	for _, a := range n.Attr {
		if a.Key == name {
			return a.Val, true
		}
	}
	return "", false
}

// SetAttribute sets or replaces the named attribute.
func SetAttribute(n *Node, name, value string) {
	for i, a := range n.Attr {
		if a.Key == name {
			n.Attr[i].Val = value
			return
		}
	}
	n.Attr = append(n.Attr, html.Attribute{Key: name, Val: value})
}

// RemoveAttribute removes the named attribute.
func RemoveAttribute(n *Node, name string) {
	for i, a := range n.Attr {
		if a.Key == name {
			n.Attr = append(n.Attr[:i], n.Attr[i+1:]...)
			return
		}
	}
}

// Children returns the children of n in order.
func Children(n *Node) []*Node {
	var children []*Node
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		children = append(children, c)
	}
	return children
}

// Serialize renders n as HTML. Fragments render their children only.
func Serialize(n *Node) string {
	var buf bytes.Buffer
	if n.Type == html.DocumentNode {
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			_ = html.Render(&buf, c)
		}
		return buf.String()
	}
	_ = html.Render(&buf, n)
	return buf.String()
}

// TextContent returns the concatenated text of n and its descendants.
func TextContent(n *Node) string {
	var sb strings.Builder
	var walk func(*Node)
	walk = func(n *Node) {
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return sb.String()
}

// ToMap converts n into nested maps suitable for JSON output.
func ToMap(n *Node) map[string]any {
	m := map[string]any{}
	switch n.Type {
	case html.ElementNode:
		m["type"] = "element"
		m["tag"] = n.Data
		if len(n.Attr) > 0 {
			attrs := map[string]string{}
			for _, a := range n.Attr {
				attrs[a.Key] = a.Val
			}
			m["attributes"] = attrs
		}
	case html.TextNode:
		m["type"] = "text"
		m["text"] = n.Data
	case html.CommentNode:
		m["type"] = "comment"
		m["text"] = n.Data
	default:
		m["type"] = "fragment"
	}
	if n.FirstChild != nil {
		var children []any
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			children = append(children, ToMap(c))
		}
		m["children"] = children
	}
	return m
}
