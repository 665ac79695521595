package vm

import (
	"errors"
	"fmt"

	"github.com/cloudcmds/rendervm/reference"
)

// ErrSymbolOutOfRange is returned for symbols outside of a scope's slots.
var ErrSymbolOutOfRange = errors.New("symbol out of range")

// Scope holds the symbol bindings of one block. Slot 0 is self.
//
// A slot that was never bound falls through to the caller scope, if one
// is bound. The lookup happens when the symbol is read, so a caller
// binding made after the child was created is visible to the child.
type Scope struct {
	slots       []reference.PathReference
	callerScope *Scope
}

// RootScope returns a scope with self bound and size symbol slots.
func RootScope(self reference.PathReference, size int) *Scope {
	s := SizedScope(size)
	s.slots[0] = self
	return s
}

// SizedScope returns a scope with size unbound symbol slots and an unbound
// self.
func SizedScope(size int) *Scope {
	if size < 0 {
		size = 0
	}
	return &Scope{slots: make([]reference.PathReference, size+1)}
}

// Size returns the number of slots, self included.
func (s *Scope) Size() int { return len(s.slots) }

// GetSelf returns the self reference.
func (s *Scope) GetSelf() reference.PathReference {
	ref, _ := s.GetSymbol(0)
	return ref
}

// GetSymbol returns the reference bound to symbol, looking through the
// caller scope for unbound slots. Symbols bound nowhere are Undefined.
func (s *Scope) GetSymbol(symbol int) (reference.PathReference, error) {
	if symbol < 0 || symbol >= len(s.slots) {
		return nil, fmt.Errorf("%w: %d (scope has %d slots)", ErrSymbolOutOfRange, symbol, len(s.slots))
	}
	if ref := s.slots[symbol]; ref != nil {
		return ref, nil
	}
	if s.callerScope != nil {
		if ref, err := s.callerScope.GetSymbol(symbol); err == nil {
			return ref, nil
		}
	}
	return reference.Undefined, nil
}

// BindSelf binds slot 0.
func (s *Scope) BindSelf(self reference.PathReference) {
	s.slots[0] = self
}

// BindSymbol binds ref to symbol.
func (s *Scope) BindSymbol(symbol int, ref reference.PathReference) error {
	if symbol < 0 || symbol >= len(s.slots) {
		return fmt.Errorf("%w: %d (scope has %d slots)", ErrSymbolOutOfRange, symbol, len(s.slots))
	}
	s.slots[symbol] = ref
	return nil
}

// BindCallerScope sets the scope unbound slots fall through to.
func (s *Scope) BindCallerScope(caller *Scope) {
	s.callerScope = caller
}

// CallerScope returns the bound caller scope, or nil.
func (s *Scope) CallerScope() *Scope { return s.callerScope }

// Child returns a copy of the scope. Bindings made in the child are not
// visible to the parent.
func (s *Scope) Child() *Scope {
	slots := make([]reference.PathReference, len(s.slots))
	copy(slots, s.slots)
	return &Scope{slots: slots, callerScope: s.callerScope}
}

// DynamicScope holds named values visible to every block rendered below
// the point where they were bound.
type DynamicScope interface {
	Get(name string) reference.PathReference
	Set(name string, ref reference.PathReference)
	Child() DynamicScope
}

// MapDynamicScope is a DynamicScope backed by a chain of maps.
type MapDynamicScope struct {
	parent   *MapDynamicScope
	bindings map[string]reference.PathReference
}

// NewDynamicScope returns a dynamic scope holding a copy of bindings.
func NewDynamicScope(bindings map[string]reference.PathReference) *MapDynamicScope {
	s := &MapDynamicScope{bindings: make(map[string]reference.PathReference, len(bindings))}
	for name, ref := range bindings {
		s.bindings[name] = ref
	}
	return s
}

// Get returns the nearest binding of name, or Undefined.
func (s *MapDynamicScope) Get(name string) reference.PathReference {
	for scope := s; scope != nil; scope = scope.parent {
		if ref, ok := scope.bindings[name]; ok {
			return ref
		}
	}
	return reference.Undefined
}

// Set binds name in this scope only.
func (s *MapDynamicScope) Set(name string, ref reference.PathReference) {
	s.bindings[name] = ref
}

// Child returns a scope that sees this scope's bindings and can shadow
// them.
func (s *MapDynamicScope) Child() DynamicScope {
	return &MapDynamicScope{parent: s, bindings: map[string]reference.PathReference{}}
}

type emptyDynamicScope struct{}

func (emptyDynamicScope) Get(string) reference.PathReference { return reference.Undefined }
func (emptyDynamicScope) Set(string, reference.PathReference) {}
func (emptyDynamicScope) Child() DynamicScope { return NewDynamicScope(nil) }
