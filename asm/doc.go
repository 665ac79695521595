// Package asm builds rendervm programs, either from Go code through a
// [Builder] or from assembler source through [Parse].
//
// Builder methods mirror the opcodes one to one. Jumps name labels which
// may be defined after their use; Build patches every jump with the
// offset of its label relative to the start of the jump instruction.
//
// The structured helpers [Builder.Replayable], [Builder.If],
// [Builder.Each] and [Builder.CacheGroup] emit the instruction patterns
// the VM expects for blocks that re-render.
package asm
