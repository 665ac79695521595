package asm

import (
	"maps"
	"slices"

	"github.com/cloudcmds/rendervm/lowlevel"
)

// Replayable emits a block that the updating VM can re-run from its
// start. args pushes exactly n values; they are captured when the block
// is entered and restored whenever it re-renders.
func (b *Builder) Replayable(n int, args, body func()) {
	end := b.gen("endinitial")
	b.PushFrame()
	b.ReturnTo(end)
	if args != nil {
		args()
	}
	b.Enter(n)
	body()
	b.Exit()
	b.Return()
	b.Label(end)
	b.PopFrame()
}

// If emits a conditional block. The condition is re-evaluated on every
// re-render; when its truthiness changes the whole block renders again.
func (b *Builder) If(cond, then, otherwise func()) {
	b.Replayable(1, func() {
		cond()
		b.ToBoolean()
	}, func() {
		elseLabel := b.gen("else")
		finally := b.gen("finally")
		b.JumpUnless(elseLabel)
		then()
		b.Jump(finally)
		b.Label(elseLabel)
		if otherwise != nil {
			otherwise()
		}
		b.Label(finally)
	})
}

// Each emits a keyed list. list pushes the collection; key is the path
// used to identify items. The body sees the item in the value symbol and
// its index in the memo symbol; a memo symbol of 0 drops the index.
// inverse renders when the list is empty and may be nil.
func (b *Builder) Each(list func(), key string, value, memo int, body, inverse func()) {
	b.Replayable(2, func() {
		b.PrimitiveString(key)
		list()
	}, func() {
		elseLabel := b.gen("else")
		finally := b.gen("finally")
		iter := b.gen("iter")
		loop := b.gen("body")
		breaks := b.gen("break")

		b.PutIterator()
		b.JumpUnless(elseLabel)
		b.PushFrame()
		b.ReturnTo(iter)
		b.Dup(lowlevel.FP, 1)
		b.EnterList(loop)
		b.Label(iter)
		b.Iterate(breaks)
		b.Label(loop)
		b.ChildScope()
		if memo == 0 {
			b.Pop(1)
			b.BindSymbols(value)
		} else {
			b.BindSymbols(value, memo)
		}
		body()
		b.PopScope()
		b.Exit()
		b.Return()
		b.Label(breaks)
		b.ExitList()
		b.PopFrame()
		b.Jump(finally)
		b.Label(elseLabel)
		if inverse != nil {
			inverse()
		}
		b.Label(finally)
		b.Pop(1)
	})
}

// CacheGroup emits a span the updating VM skips while none of the
// references read inside it have changed.
func (b *Builder) CacheGroup(body func()) {
	b.BeginCacheGroup()
	body()
	b.CommitCacheGroup()
}

// Element emits an element with static attributes. body may be nil.
func (b *Builder) Element(tag string, attrs map[string]string, body func()) {
	b.OpenElement(tag)
	for _, name := range slices.Sorted(maps.Keys(attrs)) {
		b.StaticAttr(name, attrs[name])
	}
	b.FlushElement()
	if body != nil {
		body()
	}
	b.CloseElement()
}
