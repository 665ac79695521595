// Package bytecode provides the program representation consumed by the
// rendervm interpreter.
//
// A [Program] pairs a [Heap] with a [Constants] pool:
//
//   - The heap holds the instruction words and a handle table. A handle is
//     a stable integer naming an address in the instruction stream, plus
//     the number of scope slots the block starting there needs.
//   - The constants pool interns strings, string arrays, number arrays,
//     numbers, serializable values (stored as canonical CBOR) and the
//     names of externally resolved values such as helpers.
//
// # Immutability
//
// Instructions and constants never change after a program is built, and
// index-based accessors are used for every collection. The handle table
// is the one exception: [Heap.GetHandle] registers a pointer handle for an
// address the first time it is asked for one. That table is guarded by a
// mutex so a program can be shared by several VMs.
//
// # Usage
//
// Programs are normally produced by the asm package:
//
//	b := asm.New()
//	main := b.Block("main", 0)
//	b.Text("hello")
//	b.Return()
//	program, err := b.Build(nil)
//
//	addr, _ := program.Heap().GetAddr(main)
//	op, _ := program.Opcode(addr)
package bytecode
