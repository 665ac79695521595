package vm

import (
	"iter"

	"github.com/cloudcmds/rendervm/reference"
)

// opcodeLinks is embedded in every updating opcode. It holds the
// opcode's position in the list that currently owns it.
type opcodeLinks struct {
	list *OpcodeList
	prev UpdatingOpcode
	next UpdatingOpcode
}

func (l *opcodeLinks) links() *opcodeLinks { return l }

// OpcodeList is an intrusive doubly linked list of updating opcodes. An
// opcode belongs to at most one list; adding it to a list detaches it
// from the one it was in. Nodes other than the one being moved keep
// their positions, so a remembered node stays valid across inserts.
type OpcodeList struct {
	head UpdatingOpcode
	tail UpdatingOpcode
	size int
}

// NewOpcodeList returns an empty list.
func NewOpcodeList() *OpcodeList {
	return &OpcodeList{}
}

// Head returns the first opcode, or nil.
func (l *OpcodeList) Head() UpdatingOpcode { return l.head }

// Tail returns the last opcode, or nil.
func (l *OpcodeList) Tail() UpdatingOpcode { return l.tail }

// Len returns the number of opcodes in the list.
func (l *OpcodeList) Len() int { return l.size }

// IsEmpty reports whether the list has no opcodes.
func (l *OpcodeList) IsEmpty() bool { return l.size == 0 }

// Next returns the opcode following op, or nil.
func (l *OpcodeList) Next(op UpdatingOpcode) UpdatingOpcode {
	if op == nil || op.links().list != l {
		return nil
	}
	return op.links().next
}

// Prev returns the opcode preceding op, or nil.
func (l *OpcodeList) Prev(op UpdatingOpcode) UpdatingOpcode {
	if op == nil || op.links().list != l {
		return nil
	}
	return op.links().prev
}

// Contains reports whether op is in the list.
func (l *OpcodeList) Contains(op UpdatingOpcode) bool {
	return op != nil && op.links().list == l
}

// Append adds op at the end of the list.
func (l *OpcodeList) Append(op UpdatingOpcode) {
	l.InsertBefore(op, nil)
}

// InsertBefore adds op before ref, or at the end when ref is nil.
func (l *OpcodeList) InsertBefore(op, ref UpdatingOpcode) {
	if ref != nil && ref.links().list != l {
		ref = nil
	}
	if op == ref {
		return
	}
	detach(op)
	ln := op.links()
	ln.list = l
	if ref == nil {
		ln.prev = l.tail
		ln.next = nil
		if l.tail != nil {
			l.tail.links().next = op
		} else {
			l.head = op
		}
		l.tail = op
	} else {
		rl := ref.links()
		ln.prev = rl.prev
		ln.next = ref
		if rl.prev != nil {
			rl.prev.links().next = op
		} else {
			l.head = op
		}
		rl.prev = op
	}
	l.size++
}

// Remove unlinks op if it belongs to the list.
func (l *OpcodeList) Remove(op UpdatingOpcode) {
	if op != nil && op.links().list == l {
		detach(op)
	}
}

// Clear unlinks every opcode.
func (l *OpcodeList) Clear() {
	for op := l.head; op != nil; {
		ln := op.links()
		next := ln.next
		*ln = opcodeLinks{}
		op = next
	}
	l.head = nil
	l.tail = nil
	l.size = 0
}

// All iterates the list from head to tail. Removing the current opcode
// during iteration is allowed.
func (l *OpcodeList) All() iter.Seq[UpdatingOpcode] {
	return func(yield func(UpdatingOpcode) bool) {
		for op := l.head; op != nil; {
			next := op.links().next
			if !yield(op) {
				return
			}
			op = next
		}
	}
}

// Slice returns the opcodes in order.
func (l *OpcodeList) Slice() []UpdatingOpcode {
	ops := make([]UpdatingOpcode, 0, l.size)
	for op := range l.All() {
		ops = append(ops, op)
	}
	return ops
}

// Tag combines the tags of every opcode in the list.
func (l *OpcodeList) Tag() reference.Tag {
	return spanTag(l.head, l.tail)
}

// spanTag combines the tags of the opcodes from head through tail.
func spanTag(head, tail UpdatingOpcode) reference.Tag {
	var tags []reference.Tag
	for op := head; op != nil; op = op.links().next {
		tags = append(tags, op.Tag())
		if op == tail {
			break
		}
	}
	return reference.Combine(tags...)
}

func detach(op UpdatingOpcode) {
	ln := op.links()
	l := ln.list
	if l == nil {
		return
	}
	if ln.prev != nil {
		ln.prev.links().next = ln.next
	} else {
		l.head = ln.next
	}
	if ln.next != nil {
		ln.next.links().prev = ln.prev
	} else {
		l.tail = ln.prev
	}
	l.size--
	*ln = opcodeLinks{}
}
