// Package lowlevel implements the machine layer of the rendervm
// interpreter: the register file, call frames, the raw stack, value
// boxing and the buffer of deferred builder instructions.
package lowlevel

import (
	"errors"
	"fmt"

	"github.com/cloudcmds/rendervm/bytecode"
	"github.com/cloudcmds/rendervm/errz"
	"github.com/cloudcmds/rendervm/op"
)

// Status is the outcome of evaluating a batch of instructions.
type Status int

const (
	// Continuing means the program has more instructions to run.
	Continuing Status = iota
	// Completed means the program returned from its entry frame.
	Completed
	// Faulted means an instruction failed. See LastFault.
	Faulted
)

func (s Status) String() string {
	switch s {
	case Continuing:
		return "continuing"
	case Completed:
		return "completed"
	case Faulted:
		return "faulted"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Register names a slot of the register file.
type Register int

const (
	PC Register = iota
	RA
	FP
	SP
	S0
	S1
	T0
	T1
	V0
	registerCount
)

var registerNames = [...]string{"$pc", "$ra", "$fp", "$sp", "$s0", "$s1", "$t0", "$t1", "$v0"}

func (r Register) String() string {
	if r < 0 || r >= registerCount {
		return fmt.Sprintf("$r%d", int(r))
	}
	return registerNames[r]
}

// Instruction is a deferred builder instruction.
type Instruction struct {
	Type op.Code
	Op1  int32
	Op2  int32
}

// Host executes the instructions the machine layer does not handle
// itself.
type Host interface {
	// Evaluate runs an append opcode. The program counter already points
	// past the instruction.
	Evaluate(opcode bytecode.Opcode) error

	// Flush applies deferred builder instructions in order.
	Flush(instructions []Instruction) error
}

// VM is the machine layer of one render.
type VM struct {
	program *bytecode.Program
	host    Host
	stack   *Stack
	cx      *Context

	pc, ra, fp, sp int
	general        [registerCount - S0]Box
	currentOpSize  int

	buffer    []Instruction
	lastFault *errz.Fault
	freed     bool
	releases  int
}

// New returns a machine for program whose stack holds at most maxDepth
// words. The program counter starts at 0 and $ra at -1, so a Return from
// the entry frame completes the program.
func New(program *bytecode.Program, host Host, maxDepth int) (*VM, error) {
	stack, err := NewStack(maxDepth)
	if err != nil {
		return nil, err
	}
	vm := &VM{
		program: program,
		host:    host,
		stack:   stack,
		cx:      NewContext(),
		ra:      -1,
		fp:      -1,
		sp:      -1,
	}
	for i := range vm.general {
		vm.general[i] = Undef
	}
	return vm, nil
}

// Stack returns the raw stack.
func (vm *VM) Stack() *Stack { return vm.stack }

// Context returns the boxing context.
func (vm *VM) Context() *Context { return vm.cx }

// PC returns the program counter.
func (vm *VM) PC() int { return vm.pc }

// SetPC sets the program counter.
func (vm *VM) SetPC(pc int) { vm.pc = pc }

// RA returns the return address.
func (vm *VM) RA() int { return vm.ra }

// SetRA sets the return address.
func (vm *VM) SetRA(ra int) { vm.ra = ra }

// FP returns the frame pointer.
func (vm *VM) FP() int { return vm.fp }

// SetFP sets the frame pointer.
func (vm *VM) SetFP(fp int) { vm.fp = fp }

// SP returns the stack pointer, the index of the top word.
func (vm *VM) SP() int { return vm.sp }

// SetSP sets the stack pointer.
func (vm *VM) SetSP(sp int) { vm.sp = sp }

// CurrentOpSize returns the size of the instruction being executed.
func (vm *VM) CurrentOpSize() int { return vm.currentOpSize }

// Register returns the content of any register. Machine registers are
// returned as inline integers.
func (vm *VM) Register(r Register) (Box, error) {
	switch r {
	case PC:
		return BoxInt(int32(vm.pc)), nil
	case RA:
		return BoxInt(int32(vm.ra)), nil
	case FP:
		return BoxInt(int32(vm.fp)), nil
	case SP:
		return BoxInt(int32(vm.sp)), nil
	}
	if r < S0 || r >= registerCount {
		return 0, fmt.Errorf("%w: register %d", ErrOutOfBounds, int(r))
	}
	return vm.general[r-S0], nil
}

// SetRegister sets a register. Machine registers accept inline integers
// only.
func (vm *VM) SetRegister(r Register, b Box) error {
	if r >= S0 && r < registerCount {
		vm.general[r-S0] = b
		return nil
	}
	if r < 0 || r >= registerCount {
		return fmt.Errorf("%w: register %d", ErrOutOfBounds, int(r))
	}
	i, ok := b.Int()
	if !ok {
		return fmt.Errorf("%w: %s holds integers only", ErrOutOfBounds, r)
	}
	switch r {
	case PC:
		vm.pc = i
	case RA:
		vm.ra = i
	case FP:
		vm.fp = i
	case SP:
		vm.sp = i
	}
	return nil
}

// PushFrame saves $ra and $fp on the stack and starts a new frame.
func (vm *VM) PushFrame() error {
	if err := vm.stack.Write(vm.sp+1, BoxInt(int32(vm.ra))); err != nil {
		return err
	}
	if err := vm.stack.Write(vm.sp+2, BoxInt(int32(vm.fp))); err != nil {
		return err
	}
	vm.sp += 2
	vm.fp = vm.sp - 1
	return nil
}

// PopFrame discards the current frame and restores $ra and $fp.
func (vm *VM) PopFrame() error {
	if vm.fp < 0 {
		return fmt.Errorf("%w: no frame to pop", ErrStackUnderflow)
	}
	ra, err := vm.readInt(vm.fp)
	if err != nil {
		return err
	}
	fp, err := vm.readInt(vm.fp + 1)
	if err != nil {
		return err
	}
	vm.sp = vm.fp - 1
	vm.ra = ra
	vm.fp = fp
	return nil
}

func (vm *VM) readInt(pos int) (int, error) {
	b, err := vm.stack.Read(pos)
	if err != nil {
		return 0, err
	}
	i, ok := b.Int()
	if !ok {
		return 0, fmt.Errorf("%w: frame slot %d holds %s", ErrOutOfBounds, pos, b)
	}
	return i, nil
}

// Goto jumps relative to the start of the current instruction.
func (vm *VM) Goto(offset int) {
	vm.pc = vm.pc - vm.currentOpSize + offset
}

// Call saves $pc into $ra and jumps to the block named by handle.
func (vm *VM) Call(handle int) error {
	addr, err := vm.program.Heap().GetAddr(handle)
	if err != nil {
		return err
	}
	vm.ra = vm.pc
	vm.pc = addr
	return nil
}

// Return jumps to $ra.
func (vm *VM) Return() {
	vm.pc = vm.ra
}

func (vm *VM) done() bool {
	return vm.pc < 0 || vm.pc >= vm.program.Heap().Size()
}

// EvaluateSome runs at most budget instructions. A negative budget runs
// until the program completes or faults.
func (vm *VM) EvaluateSome(budget int) Status {
	if vm.lastFault != nil {
		return Faulted
	}
	if vm.freed {
		vm.lastFault = errz.NewFaultf(errz.InterpreterFault, vm.pc, "evaluate after release").WithCause(ErrFreed)
		return Faulted
	}
	for n := 0; budget < 0 || n < budget; n++ {
		if vm.done() {
			return Completed
		}
		if err := vm.step(); err != nil {
			vm.lastFault = err
			return Faulted
		}
	}
	if vm.done() {
		return Completed
	}
	return Continuing
}

// EvaluateAll runs until the program completes or faults.
func (vm *VM) EvaluateAll() Status {
	return vm.EvaluateSome(-1)
}

func (vm *VM) step() *errz.Fault {
	start := vm.pc
	opcode, err := vm.program.Opcode(start)
	if err != nil {
		return errz.NewFaultf(errz.InterpreterFault, start, "cannot decode instruction").WithCause(err)
	}
	info := op.GetInfo(opcode.Type)
	vm.currentOpSize = opcode.Size
	vm.pc += opcode.Size

	switch info.Class {
	case op.Machine:
		if err := vm.machine(opcode); err != nil {
			return vm.fault(start, info.Name, err)
		}
	case op.Buffered:
		vm.buffer = append(vm.buffer, Instruction{
			Type: opcode.Type,
			Op1:  opcode.Op1(),
			Op2:  opcode.Op2(),
		})
	case op.Append:
		if len(vm.buffer) > 0 {
			if err := vm.host.Flush(vm.FinalizeInstructions()); err != nil {
				return vm.fault(start, info.Name, err)
			}
		}
		if err := vm.host.Evaluate(opcode); err != nil {
			return vm.fault(start, info.Name, err)
		}
	}
	return nil
}

func (vm *VM) machine(opcode bytecode.Opcode) error {
	switch opcode.Type {
	case op.Nop:
		return nil
	case op.PushFrame:
		return vm.PushFrame()
	case op.PopFrame:
		return vm.PopFrame()
	case op.Jump:
		vm.Goto(int(opcode.Op1()))
		return nil
	case op.ReturnTo:
		vm.ra = opcode.Offset + int(opcode.Op1())
		return nil
	case op.Return:
		vm.Return()
		return nil
	case op.Call:
		return vm.Call(int(opcode.Op1()))
	default:
		return fmt.Errorf("unhandled machine opcode %s", opcode.Name())
	}
}

// fault converts err into a Fault for the instruction at pc. Faults
// returned by the host keep their kind; stack errors become stack faults
// and anything else an interpreter fault.
func (vm *VM) fault(pc int, name string, err error) *errz.Fault {
	if f, ok := errz.AsFault(err); ok {
		if f.PC < 0 {
			f.PC = pc
		}
		if f.Opcode == "" {
			f.Opcode = name
		}
		return f
	}
	kind := errz.InterpreterFault
	if errors.Is(err, ErrStackOverflow) || errors.Is(err, ErrStackUnderflow) || errors.Is(err, ErrOutOfBounds) {
		kind = errz.StackFault
	}
	return errz.NewFaultf(kind, pc, "%s", err.Error()).WithCause(err).WithOpcode(name)
}

// LastFault returns the fault that stopped evaluation, if any.
func (vm *VM) LastFault() error {
	if vm.lastFault == nil {
		return nil
	}
	return vm.lastFault
}

// FinalizeInstructions returns the buffered builder instructions and
// empties the buffer.
func (vm *VM) FinalizeInstructions() []Instruction {
	buf := vm.buffer
	vm.buffer = nil
	return buf
}

// Pending returns the number of buffered builder instructions.
func (vm *VM) Pending() int {
	return len(vm.buffer)
}

// Free releases the stack, the boxing context and the instruction buffer.
// Only the first call has an effect.
func (vm *VM) Free() {
	if vm.freed {
		return
	}
	vm.freed = true
	vm.releases++
	vm.stack.Reset()
	vm.cx.Free()
	vm.buffer = nil
}

// Released reports whether Free has run.
func (vm *VM) Released() bool { return vm.freed }

// Releases returns how many times resources were actually released.
func (vm *VM) Releases() int { return vm.releases }
