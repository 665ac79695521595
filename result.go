package rendervm

import (
	"github.com/cloudcmds/rendervm/dom"
	"github.com/cloudcmds/rendervm/reference"
	"github.com/cloudcmds/rendervm/vm"
	"github.com/gofrs/uuid"
)

// Result is a live render. Unlike the one-shot Render call that produced
// it, a Result keeps the updating program and its input, so later calls
// to Update and Rerender patch the same document in place.
type Result struct {
	root   *dom.Node
	self   *reference.RootReference
	render *vm.RenderResult
}

func newResult(root *dom.Node, self *reference.RootReference, render *vm.RenderResult) *Result {
	return &Result{root: root, self: self, render: render}
}

// ID returns the render ID that also tags the render's log entries.
func (r *Result) ID() uuid.UUID {
	return r.render.ID()
}

// HTML returns the current output as HTML.
func (r *Result) HTML() string {
	return dom.Serialize(r.root)
}

// Text returns the text content of the current output.
func (r *Result) Text() string {
	return dom.TextContent(r.root)
}

// Tree returns the current output as nested maps, ready for JSON encoding.
func (r *Result) Tree() []map[string]any {
	var tree []map[string]any
	for _, n := range dom.Children(r.root) {
		tree = append(tree, dom.ToMap(n))
	}
	return tree
}

// Root returns the fragment the output is rendered into.
func (r *Result) Root() *dom.Node {
	return r.root
}

// Self returns the input reference. Updating it and calling Rerender is
// equivalent to calling Update.
func (r *Result) Self() *reference.RootReference {
	return r.self
}

// Underlying returns the vm.RenderResult.
// This is primarily for advanced use cases and testing.
func (r *Result) Underlying() *vm.RenderResult {
	return r.render
}

// Update replaces the input and brings the output up to date.
func (r *Result) Update(self any) error {
	r.self.Update(self)
	return r.Rerender()
}

// Rerender brings the output up to date with every reference it was
// rendered from.
func (r *Result) Rerender() error {
	return r.render.Rerender(vm.RerenderOptions{})
}

// Revalidate is Rerender without cache group skipping: every guarded span
// is evaluated even when its inputs did not change.
func (r *Result) Revalidate() error {
	return r.render.Rerender(vm.RerenderOptions{AlwaysRevalidate: true})
}

// Destroy runs the destroyables registered by helpers during the render
// and the re-renders since. Calling it again does nothing.
func (r *Result) Destroy() error {
	return r.render.Destroy()
}
