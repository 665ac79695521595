package bytecode

// Program is an addressable instruction heap plus its constants.
type Program struct {
	heap      *Heap
	constants *Constants
}

// ProgramParams contains parameters for creating a new Program.
type ProgramParams struct {
	Instructions []int32
	Handles      []HandleInfo
	Pool         *Pool
	Resolver     Resolver
}

// NewProgram creates a new Program from the given parameters. Input slices
// are copied and the pool is snapshotted.
func NewProgram(params ProgramParams) *Program {
	pool := params.Pool
	if pool == nil {
		pool = NewPool()
	}
	return &Program{
		heap:      NewHeap(params.Instructions, params.Handles),
		constants: pool.Constants(params.Resolver),
	}
}

// Heap returns the program's heap.
func (p *Program) Heap() *Heap {
	return p.heap
}

// Constants returns the program's constants table.
func (p *Program) Constants() *Constants {
	return p.constants
}

// Opcode decodes the instruction at the given offset.
func (p *Program) Opcode(offset int) (Opcode, error) {
	return p.heap.Opcode(offset)
}
