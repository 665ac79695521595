package reference

import (
	"math"
	"sync/atomic"
)

// Revision is a point on the global timeline of tracked state changes.
type Revision uint64

const (
	// Constant is the revision of values that never change.
	Constant Revision = 0

	// Initial is the revision the timeline starts at.
	Initial Revision = 1

	volatile Revision = math.MaxUint64
)

var current atomic.Uint64

func init() {
	current.Store(uint64(Initial))
}

// Current returns the most recent revision.
func Current() Revision {
	return Revision(current.Load())
}

// Bump advances the timeline and returns the new revision.
func Bump() Revision {
	return Revision(current.Add(1))
}

// Tag reports the revision of the state a value was computed from.
type Tag interface {
	// Value returns the revision of the newest state the tag covers.
	Value() Revision

	// Validate reports whether nothing the tag covers changed since the
	// given snapshot, which is normally an earlier result of Value.
	Validate(snapshot Revision) bool
}

// Tagged is implemented by anything that carries a Tag.
type Tagged interface {
	Tag() Tag
}

type constantTag struct{}

func (constantTag) Value() Revision                 { return Constant }
func (constantTag) Validate(snapshot Revision) bool { return snapshot == Constant }

type volatileTag struct{}

func (volatileTag) Value() Revision        { return volatile }
func (volatileTag) Validate(Revision) bool { return false }

var (
	// ConstantTag never changes.
	ConstantTag Tag = constantTag{}

	// VolatileTag never validates.
	VolatileTag Tag = volatileTag{}
)

// IsConst reports whether the tag can never change.
func IsConst(t Tag) bool {
	_, ok := t.(constantTag)
	return ok
}

// DirtyableTag is a tag that moves forward when it is explicitly dirtied.
type DirtyableTag struct {
	revision Revision
}

// NewDirtyableTag returns a tag at the current revision.
func NewDirtyableTag() *DirtyableTag {
	return &DirtyableTag{revision: Current()}
}

// Value implements Tag.
func (t *DirtyableTag) Value() Revision { return t.revision }

// Validate implements Tag.
func (t *DirtyableTag) Validate(snapshot Revision) bool { return t.revision == snapshot }

// Dirty moves the tag to a fresh revision.
func (t *DirtyableTag) Dirty() {
	t.revision = Bump()
}

// UpdatableTag forwards to an inner tag that can be swapped. Swapping
// counts as a change of its own.
type UpdatableTag struct {
	inner       Tag
	lastUpdated Revision
}

// NewUpdatableTag returns an updatable tag wrapping inner.
func NewUpdatableTag(inner Tag) *UpdatableTag {
	return &UpdatableTag{inner: inner, lastUpdated: Initial}
}

// Value implements Tag.
func (t *UpdatableTag) Value() Revision {
	if v := t.inner.Value(); v > t.lastUpdated {
		return v
	}
	return t.lastUpdated
}

// Validate implements Tag.
func (t *UpdatableTag) Validate(snapshot Revision) bool {
	if _, ok := t.inner.(volatileTag); ok {
		return false
	}
	return t.Value() == snapshot
}

// Update swaps the inner tag.
func (t *UpdatableTag) Update(inner Tag) {
	if inner == t.inner {
		return
	}
	t.inner = inner
	t.lastUpdated = Current()
}

type combinedTag struct {
	tags []Tag
}

func (t *combinedTag) Value() Revision {
	var max Revision
	for _, tag := range t.tags {
		if v := tag.Value(); v > max {
			max = v
		}
	}
	return max
}

func (t *combinedTag) Validate(snapshot Revision) bool {
	for _, tag := range t.tags {
		if _, ok := tag.(volatileTag); ok {
			return false
		}
	}
	return t.Value() == snapshot
}

// Combine returns a tag covering all the given tags. Constant tags are
// dropped; combining nothing yields ConstantTag.
func Combine(tags ...Tag) Tag {
	var live []Tag
	for _, tag := range tags {
		if tag == nil || IsConst(tag) {
			continue
		}
		if _, ok := tag.(volatileTag); ok {
			return VolatileTag
		}
		live = append(live, tag)
	}
	switch len(live) {
	case 0:
		return ConstantTag
	case 1:
		return live[0]
	default:
		return &combinedTag{tags: live}
	}
}

// CombineTagged combines the tags of the given values.
func CombineTagged[T Tagged](values []T) Tag {
	tags := make([]Tag, 0, len(values))
	for _, v := range values {
		tags = append(tags, v.Tag())
	}
	return Combine(tags...)
}
