package bytecode

import (
	"fmt"
	"sync"

	"github.com/cloudcmds/rendervm/op"
)

// HandleInfo describes one entry of the handle table.
type HandleInfo struct {
	Address   int
	ScopeSize int
}

// Heap is the addressable instruction stream of a program plus its handle
// table.
type Heap struct {
	instructions []int32

	mu      sync.Mutex
	handles []HandleInfo
	byAddr  map[int]int
}

// NewHeap creates a heap from the given instruction words and initial
// handle table. Input slices are copied.
func NewHeap(instructions []int32, handles []HandleInfo) *Heap {
	h := &Heap{
		instructions: copyWords(instructions),
		handles:      make([]HandleInfo, len(handles)),
		byAddr:       make(map[int]int, len(handles)),
	}
	copy(h.handles, handles)
	for i, info := range h.handles {
		if _, exists := h.byAddr[info.Address]; !exists {
			h.byAddr[info.Address] = i
		}
	}
	return h
}

// Size returns the number of instruction words in the heap.
func (h *Heap) Size() int {
	return len(h.instructions)
}

// WordAt returns the instruction word at the given address.
func (h *Heap) WordAt(addr int) int32 {
	return h.instructions[addr]
}

// GetAddr returns the address the handle points to.
func (h *Heap) GetAddr(handle int) (int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if handle < 0 || handle >= len(h.handles) {
		return -1, fmt.Errorf("bytecode: invalid handle %d", handle)
	}
	return h.handles[handle].Address, nil
}

// GetHandle returns a handle for the given address, registering a new
// pointer handle if none exists yet. Asking twice for the same address
// returns the same handle.
func (h *Heap) GetHandle(addr int) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	if handle, ok := h.byAddr[addr]; ok {
		return handle
	}
	h.handles = append(h.handles, HandleInfo{Address: addr})
	handle := len(h.handles) - 1
	h.byAddr[addr] = handle
	return handle
}

// ScopeSizeOf returns the number of symbol slots declared for the block
// the handle names.
func (h *Heap) ScopeSizeOf(handle int) (int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if handle < 0 || handle >= len(h.handles) {
		return 0, fmt.Errorf("bytecode: invalid handle %d", handle)
	}
	return h.handles[handle].ScopeSize, nil
}

// HandleCount returns the current size of the handle table.
func (h *Heap) HandleCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.handles)
}

// Opcode decodes the instruction starting at the given offset.
func (h *Heap) Opcode(offset int) (Opcode, error) {
	if offset < 0 || offset >= len(h.instructions) {
		return Opcode{}, fmt.Errorf("bytecode: offset %d out of range [0, %d)",
			offset, len(h.instructions))
	}
	code := op.Code(h.instructions[offset])
	info := op.GetInfo(code)
	if info.Name == "" {
		return Opcode{}, fmt.Errorf("bytecode: unknown opcode %d at offset %d", code, offset)
	}
	size := 1 + info.OperandCount
	if offset+size > len(h.instructions) {
		return Opcode{}, fmt.Errorf("bytecode: truncated %s at offset %d", info.Name, offset)
	}
	decoded := Opcode{Offset: offset, Type: code, Size: size}
	for i := 0; i < info.OperandCount; i++ {
		decoded.Operands[i] = h.instructions[offset+1+i]
	}
	return decoded, nil
}

// Opcode is a decoded instruction.
type Opcode struct {
	Offset   int
	Type     op.Code
	Size     int
	Operands [op.MaxOperands]int32
}

// Op1 returns the first operand.
func (o Opcode) Op1() int32 {
	return o.Operands[0]
}

// Op2 returns the second operand.
func (o Opcode) Op2() int32 {
	return o.Operands[1]
}

// Name returns the opcode's name.
func (o Opcode) Name() string {
	return op.GetInfo(o.Type).Name
}

func copyWords(src []int32) []int32 {
	if src == nil {
		return nil
	}
	dst := make([]int32, len(src))
	copy(dst, src)
	return dst
}
