package vm

import (
	"github.com/cloudcmds/rendervm/bytecode"
	"github.com/cloudcmds/rendervm/dom"
	"github.com/cloudcmds/rendervm/reference"
)

// Environment supplies the host policies the VM defers to.
type Environment interface {
	// IterableFor returns the iterable for a list reference, keyed by the
	// given key path.
	IterableFor(list reference.Reference, key string) *reference.Iterable

	// ToConditionalReference returns a reference to the truthiness of ref.
	ToConditionalReference(ref reference.Reference) reference.Reference
}

// DefaultEnvironment uses the reference package's key functions and
// truthiness rules.
type DefaultEnvironment struct{}

// IterableFor implements Environment.
func (DefaultEnvironment) IterableFor(list reference.Reference, key string) *reference.Iterable {
	return reference.NewIterable(list, key)
}

// ToConditionalReference implements Environment.
func (DefaultEnvironment) ToConditionalReference(ref reference.Reference) reference.Reference {
	return reference.Conditional(ref)
}

// Runtime is what every VM of one render shares: the program and the
// environment.
type Runtime struct {
	Program *bytecode.Program
	Env     Environment
}

// PublicVM is the view of the VM given to helpers.
type PublicVM interface {
	Env() Environment
	DynamicScope() DynamicScope
	GetSelf() reference.PathReference
	NewDestroyable(d dom.Destroyable) error
}

// Helper computes a reference from its argument reference. Helpers are
// resolved by name through the program's constants.
type Helper func(vm PublicVM, args reference.PathReference) (reference.PathReference, error)

// presenceReference reports whether an iterable currently has items.
type presenceReference struct {
	iterable *reference.Iterable
}

func (r presenceReference) Tag() reference.Tag { return r.iterable.Tag() }
func (r presenceReference) Value() any         { return len(r.iterable.Items()) > 0 }

// IteratorResult is the outcome of one Next call.
type IteratorResult struct {
	Done  bool
	Value *RenderResult
}
