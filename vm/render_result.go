package vm

import (
	"github.com/cloudcmds/rendervm/dom"
	"github.com/gofrs/uuid"
	"github.com/rs/zerolog"
)

// RerenderOptions control one revalidation pass.
type RerenderOptions struct {
	// AlwaysRevalidate evaluates cache group spans even when their tags
	// did not move.
	AlwaysRevalidate bool
}

// RenderResult is the output of a completed render: the bounds of what
// was written and the updating program that keeps it current.
type RenderResult struct {
	id        uuid.UUID
	env       Environment
	logger    zerolog.Logger
	observer  Observer
	updating  *OpcodeList
	bounds    dom.Tracker
	destroyed bool
}

func newRenderResult(vm *VM, updating *OpcodeList, bounds dom.Tracker) *RenderResult {
	return &RenderResult{
		id:       vm.id,
		env:      vm.env,
		logger:   vm.logger,
		observer: vm.observer,
		updating: updating,
		bounds:   bounds,
	}
}

// ID returns the ID of the render that produced the result.
func (r *RenderResult) ID() uuid.UUID { return r.id }

// Opcodes returns the top level updating program.
func (r *RenderResult) Opcodes() *OpcodeList { return r.updating }

// Bounds returns the nodes the render wrote.
func (r *RenderResult) Bounds() dom.Bounds { return r.bounds }

// Rerender brings the output up to date with the current state of every
// reference it was rendered from.
func (r *RenderResult) Rerender(opts RerenderOptions) error {
	vm := NewUpdatingVM(r.env, r.logger, r.observer, opts.AlwaysRevalidate)
	return vm.Execute(r.updating)
}

// Destroy runs every destroyable registered during the render and the
// re-renders since. Later calls do nothing.
func (r *RenderResult) Destroy() error {
	if r.destroyed {
		return nil
	}
	r.destroyed = true
	return r.bounds.Destroy()
}
