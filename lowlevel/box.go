package lowlevel

import (
	"fmt"
	"math"
)

// Box is a tagged machine word. Small integers, booleans, null and
// undefined are stored inline; every other value is an index into a
// Context.
type Box uint64

const (
	tagSize = 3
	tagMask = (1 << tagSize) - 1

	maxInlineValue = math.MaxInt32
)

const (
	tagNumber     Box = 0b000
	tagBoolOrVoid Box = 0b011
	tagNegative   Box = 0b100
	tagAny        Box = 0b101

	immFalse     Box = (0 << tagSize) | tagBoolOrVoid
	immTrue      Box = (1 << tagSize) | tagBoolOrVoid
	immNull      Box = (2 << tagSize) | tagBoolOrVoid
	immUndefined Box = (3 << tagSize) | tagBoolOrVoid
)

// Null and Undef are the boxed null and undefined values.
const (
	Null  Box = immNull
	Undef Box = immUndefined
)

type undefinedType struct{}

func (undefinedType) String() string { return "undefined" }

// Undefined is the Go value an undefined box decodes to.
var Undefined any = undefinedType{}

// BoxInt returns the inline encoding of i.
func BoxInt(i int32) Box {
	if i < 0 {
		return Box(uint64(-int64(i)))<<tagSize | tagNegative
	}
	return Box(uint64(i))<<tagSize | tagNumber
}

// BoxBool returns the inline encoding of b.
func BoxBool(b bool) Box {
	if b {
		return immTrue
	}
	return immFalse
}

// Int returns the integer held inline by the box.
func (b Box) Int() (int, bool) {
	switch b & tagMask {
	case tagNumber:
		return int(b >> tagSize), true
	case tagNegative:
		return -int(b >> tagSize), true
	}
	return 0, false
}

// IsInline reports whether the box holds its value directly.
func (b Box) IsInline() bool {
	return b&tagMask != tagAny
}

// String implements fmt.Stringer.
func (b Box) String() string {
	if i, ok := b.Int(); ok {
		return fmt.Sprintf("int(%d)", i)
	}
	switch b {
	case immTrue:
		return "true"
	case immFalse:
		return "false"
	case immNull:
		return "null"
	case immUndefined:
		return "undefined"
	}
	if b&tagMask == tagAny {
		return fmt.Sprintf("any(%d)", b>>tagSize)
	}
	return fmt.Sprintf("invalid(0x%x)", uint64(b))
}

// Context holds the Go values referenced by boxes of one VM run.
type Context struct {
	values []any
	freed  bool
}

// NewContext returns an empty context.
func NewContext() *Context {
	return &Context{}
}

// Encode boxes v, storing it in the context when it cannot be inlined.
func (cx *Context) Encode(v any) (Box, error) {
	switch t := v.(type) {
	case nil:
		return immNull, nil
	case undefinedType:
		return immUndefined, nil
	case bool:
		return BoxBool(t), nil
	case int:
		if t >= -maxInlineValue && t <= maxInlineValue {
			return BoxInt(int32(t)), nil
		}
	case int32:
		if t != math.MinInt32 {
			return BoxInt(t), nil
		}
	}
	if cx.freed {
		return 0, ErrFreed
	}
	cx.values = append(cx.values, v)
	return Box(uint64(len(cx.values)-1))<<tagSize | tagAny, nil
}

// Decode returns the value a box stands for. Inline integers decode as
// int.
func (cx *Context) Decode(b Box) (any, error) {
	if i, ok := b.Int(); ok {
		return i, nil
	}
	switch b {
	case immTrue:
		return true, nil
	case immFalse:
		return false, nil
	case immNull:
		return nil, nil
	case immUndefined:
		return Undefined, nil
	}
	if b&tagMask != tagAny {
		return nil, fmt.Errorf("%w: invalid box 0x%x", ErrOutOfBounds, uint64(b))
	}
	if cx.freed {
		return nil, ErrFreed
	}
	idx := int(b >> tagSize)
	if idx >= len(cx.values) {
		return nil, fmt.Errorf("%w: context index %d", ErrOutOfBounds, idx)
	}
	return cx.values[idx], nil
}

// Len returns the number of values stored in the context.
func (cx *Context) Len() int {
	return len(cx.values)
}

// Free drops every stored value. Boxes referring to them become invalid.
func (cx *Context) Free() {
	cx.values = nil
	cx.freed = true
}
