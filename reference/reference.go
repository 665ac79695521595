package reference

import (
	"reflect"
	"strconv"
)

// Reference is a tagged, lazily read value.
type Reference interface {
	Tagged
	Value() any
}

// PathReference is a Reference that can be navigated by property name.
type PathReference interface {
	Reference
	Get(key string) PathReference
}

// Getter can be implemented by values that want to control property
// lookup.
type Getter interface {
	GetProperty(key string) (any, bool)
}

// ConstReference holds a value that never changes.
type ConstReference struct {
	value any
}

// Const returns a constant reference to v.
func Const(v any) *ConstReference {
	return &ConstReference{value: v}
}

// Undefined is the reference used for unbound symbols.
var Undefined PathReference = Const(nil)

// Value implements Reference.
func (r *ConstReference) Value() any { return r.value }

// Tag implements Reference.
func (r *ConstReference) Tag() Tag { return ConstantTag }

// Get implements PathReference.
func (r *ConstReference) Get(key string) PathReference {
	v, _ := Lookup(r.value, key)
	return Const(v)
}

// RootReference holds mutable input state. Every Update moves its tag.
type RootReference struct {
	value any
	tag   *DirtyableTag
}

// Root returns a mutable reference holding v.
func Root(v any) *RootReference {
	return &RootReference{value: v, tag: NewDirtyableTag()}
}

// Value implements Reference.
func (r *RootReference) Value() any { return r.value }

// Tag implements Reference.
func (r *RootReference) Tag() Tag { return r.tag }

// Get implements PathReference.
func (r *RootReference) Get(key string) PathReference {
	return Property(r, key)
}

// Update replaces the value and dirties the tag.
func (r *RootReference) Update(v any) {
	r.value = v
	r.tag.Dirty()
}

// PropertyReference reads a named property of its parent's value.
type PropertyReference struct {
	parent Reference
	key    string
}

// Property returns a reference to parent's property key.
func Property(parent Reference, key string) PathReference {
	if c, ok := parent.(*ConstReference); ok {
		return c.Get(key)
	}
	return &PropertyReference{parent: parent, key: key}
}

// Value implements Reference.
func (r *PropertyReference) Value() any {
	v, _ := Lookup(r.parent.Value(), r.key)
	return v
}

// Tag implements Reference.
func (r *PropertyReference) Tag() Tag { return r.parent.Tag() }

// Get implements PathReference.
func (r *PropertyReference) Get(key string) PathReference {
	return Property(r, key)
}

// MapReference derives a value from another reference.
type MapReference struct {
	inner Reference
	fn    func(any) any
}

// Map returns a reference to fn applied to inner's value.
func Map(inner Reference, fn func(any) any) *MapReference {
	return &MapReference{inner: inner, fn: fn}
}

// Value implements Reference.
func (r *MapReference) Value() any { return r.fn(r.inner.Value()) }

// Tag implements Reference.
func (r *MapReference) Tag() Tag { return r.inner.Tag() }

// Get implements PathReference.
func (r *MapReference) Get(key string) PathReference {
	return Property(r, key)
}

// Conditional returns a reference to the truthiness of inner's value.
func Conditional(inner Reference) Reference {
	if c, ok := inner.(*ConstReference); ok {
		return Const(Truthy(c.value))
	}
	return Map(inner, func(v any) any { return Truthy(v) })
}

// UpdatableReference holds a value that is replaced in place, for example
// the item of a list entry that survived a re-render.
type UpdatableReference struct {
	value any
	tag   *DirtyableTag
}

// Updatable returns an updatable reference holding v.
func Updatable(v any) *UpdatableReference {
	return &UpdatableReference{value: v, tag: NewDirtyableTag()}
}

// Value implements Reference.
func (r *UpdatableReference) Value() any { return r.value }

// Tag implements Reference.
func (r *UpdatableReference) Tag() Tag { return r.tag }

// Get implements PathReference.
func (r *UpdatableReference) Get(key string) PathReference {
	return Property(r, key)
}

// Update replaces the value. The tag only moves when the value differs.
func (r *UpdatableReference) Update(v any) {
	if Equal(r.value, v) {
		return
	}
	r.value = v
	r.tag.Dirty()
}

// Lookup returns the property key of v. Maps with string keys, structs
// with exported fields, Getter implementations and the "length" of
// slices are supported.
func Lookup(v any, key string) (any, bool) {
	switch obj := v.(type) {
	case nil:
		return nil, false
	case map[string]any:
		res, ok := obj[key]
		return res, ok
	case Getter:
		return obj.GetProperty(key)
	}
	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Pointer || rv.Kind() == reflect.Interface {
		if rv.IsNil() {
			return nil, false
		}
		rv = rv.Elem()
	}
	switch rv.Kind() {
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return nil, false
		}
		res := rv.MapIndex(reflect.ValueOf(key).Convert(rv.Type().Key()))
		if !res.IsValid() {
			return nil, false
		}
		return res.Interface(), true
	case reflect.Struct:
		field := rv.FieldByName(key)
		if !field.IsValid() || !field.CanInterface() {
			return nil, false
		}
		return field.Interface(), true
	case reflect.Slice, reflect.Array, reflect.String:
		if key == "length" {
			return rv.Len(), true
		}
		if i, err := strconv.Atoi(key); err == nil && i >= 0 && i < rv.Len() && rv.Kind() != reflect.String {
			return rv.Index(i).Interface(), true
		}
	}
	return nil, false
}

// Truthy reports the truthiness of v: nil, false, zero numbers, empty
// strings and empty collections are false.
func Truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != ""
	case int:
		return t != 0
	case int64:
		return t != 0
	case float64:
		return t != 0
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Map, reflect.Array:
		return rv.Len() > 0
	case reflect.Pointer, reflect.Interface:
		return !rv.IsNil()
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int() != 0
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return rv.Uint() != 0
	case reflect.Float32:
		return rv.Float() != 0
	}
	return true
}

// Equal reports whether two values are the same for change detection.
func Equal(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	ta, tb := reflect.TypeOf(a), reflect.TypeOf(b)
	if ta != tb {
		return false
	}
	switch ta.Kind() {
	case reflect.Map, reflect.Slice, reflect.Struct, reflect.Array, reflect.Func:
		return reflect.DeepEqual(a, b)
	}
	return a == b
}
