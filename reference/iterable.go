package reference

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
)

// Key paths with special meaning.
const (
	KeyIndex    = "@index"
	KeyIdentity = "@identity"
)

// KeyFunc derives the key of a list item.
type KeyFunc func(item any, index int) string

// KeyFor returns the key function for a key path. "@index" keys items by
// position, "@identity" (or an empty path) by the item itself and any
// other path by the dotted property path of the item.
func KeyFor(path string) KeyFunc {
	switch path {
	case KeyIndex:
		return func(_ any, index int) string { return strconv.Itoa(index) }
	case KeyIdentity, "":
		return func(item any, _ int) string { return identityKey(item) }
	default:
		parts := strings.Split(path, ".")
		return func(item any, _ int) string {
			v := item
			for _, part := range parts {
				v, _ = Lookup(v, part)
			}
			return identityKey(v)
		}
	}
}

func identityKey(v any) string {
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Pointer {
		return fmt.Sprintf("%p", v)
	}
	return fmt.Sprint(v)
}

// Item is one entry of an iteration.
type Item struct {
	Key   string
	Value any
	Memo  any
}

// Iterable enumerates the items of a referenced collection.
type Iterable struct {
	ref    Reference
	keyFor KeyFunc
}

// NewIterable returns an iterable over the slice held by ref, keyed by
// keyPath.
func NewIterable(ref Reference, keyPath string) *Iterable {
	return &Iterable{ref: ref, keyFor: KeyFor(keyPath)}
}

// Tag implements Tagged.
func (it *Iterable) Tag() Tag { return it.ref.Tag() }

// Items returns the current items. Values that are not slices or arrays
// produce no items. Repeated keys get a "#n" suffix so every key is
// unique.
func (it *Iterable) Items() []Item {
	rv := reflect.ValueOf(it.ref.Value())
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil
	}
	items := make([]Item, 0, rv.Len())
	seen := make(map[string]int, rv.Len())
	for i := 0; i < rv.Len(); i++ {
		value := rv.Index(i).Interface()
		key := it.keyFor(value, i)
		if n, dup := seen[key]; dup {
			seen[key] = n + 1
			key = key + "#" + strconv.Itoa(n)
		} else {
			seen[key] = 1
		}
		items = append(items, Item{Key: key, Value: value, Memo: i})
	}
	return items
}

// ListItem is the retained state of one iteration entry.
type ListItem struct {
	Key   string
	Value *UpdatableReference
	Memo  *UpdatableReference
}

func newListItem(item Item) *ListItem {
	return &ListItem{
		Key:   item.Key,
		Value: Updatable(item.Value),
		Memo:  Updatable(item.Memo),
	}
}

// IterationArtifacts remembers the key order and item references of the
// last pass over an iterable.
type IterationArtifacts struct {
	iterable *Iterable
	items    []*ListItem
}

// NewIterationArtifacts takes the first pass over the iterable.
func NewIterationArtifacts(iterable *Iterable) *IterationArtifacts {
	a := &IterationArtifacts{iterable: iterable}
	for _, item := range iterable.Items() {
		a.items = append(a.items, newListItem(item))
	}
	return a
}

// Tag implements Tagged.
func (a *IterationArtifacts) Tag() Tag { return a.iterable.Tag() }

// IsEmpty reports whether the last pass produced no items.
func (a *IterationArtifacts) IsEmpty() bool { return len(a.items) == 0 }

// Keys returns the keys of the last pass in order.
func (a *IterationArtifacts) Keys() []string {
	keys := make([]string, len(a.items))
	for i, item := range a.items {
		keys[i] = item.Key
	}
	return keys
}

// Iterator returns an iterator over the items of the last pass.
func (a *IterationArtifacts) Iterator() *ReferenceIterator {
	return &ReferenceIterator{artifacts: a}
}

// ReferenceIterator walks the items of an initial pass.
type ReferenceIterator struct {
	artifacts *IterationArtifacts
	pos       int
}

// Artifacts returns the artifacts the iterator walks.
func (it *ReferenceIterator) Artifacts() *IterationArtifacts { return it.artifacts }

// Next returns the next item, or false when the iteration is over.
func (it *ReferenceIterator) Next() (*ListItem, bool) {
	if it.pos >= len(it.artifacts.items) {
		return nil, false
	}
	item := it.artifacts.items[it.pos]
	it.pos++
	return item, true
}
