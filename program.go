package rendervm

import (
	"bytes"
	"fmt"

	"github.com/cloudcmds/rendervm/asm"
	"github.com/cloudcmds/rendervm/bytecode"
	"github.com/cloudcmds/rendervm/dis"
)

// Program is an assembled render program. It is immutable after creation
// apart from the handle table, which is safe for concurrent use, so
// multiple goroutines can render the same Program simultaneously.
type Program struct {
	code   *bytecode.Program
	blocks map[string]int

	// Metadata
	source   string
	filename string
}

func newProgram(b *asm.Builder, code *bytecode.Program, source, filename string) *Program {
	p := &Program{
		code:     code,
		blocks:   map[string]int{},
		source:   source,
		filename: filename,
	}
	for _, name := range b.Blocks() {
		h, _ := b.Handle(name)
		p.blocks[name] = h
	}
	return p
}

// Source returns the assembler source the program was built from.
func (p *Program) Source() string {
	return p.source
}

// Filename returns the filename associated with this program, if any.
func (p *Program) Filename() string {
	return p.filename
}

// Block returns the handle of a named block.
func (p *Program) Block(name string) (int, bool) {
	h, ok := p.blocks[name]
	return h, ok
}

// Bytecode returns the underlying program for use with the vm package.
func (p *Program) Bytecode() *bytecode.Program {
	return p.code
}

// Stats describes the size of a program.
type Stats struct {
	InstructionWords int
	InstructionCount int
	BlockCount       int
	StringCount      int
	NumberCount      int
	HelperCount      int
	SourceBytes      int
}

// Stats returns statistics about the program.
func (p *Program) Stats() (Stats, error) {
	instructions, err := dis.Disassemble(p.code)
	if err != nil {
		return Stats{}, err
	}
	counts := p.code.Constants().Counts()
	return Stats{
		InstructionWords: p.code.Heap().Size(),
		InstructionCount: len(instructions),
		BlockCount:       len(p.blocks),
		StringCount:      counts[0],
		NumberCount:      counts[3],
		HelperCount:      counts[5],
		SourceBytes:      len(p.source),
	}, nil
}

// Disassemble returns a printed listing of the program.
func (p *Program) Disassemble() (string, error) {
	instructions, err := dis.Disassemble(p.code)
	if err != nil {
		return "", fmt.Errorf("disassemble %s: %w", p.filename, err)
	}
	var buf bytes.Buffer
	dis.Print(instructions, &buf)
	return buf.String(), nil
}
