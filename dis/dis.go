// Package dis supports analysis of rendervm programs by disassembling
// them. It decodes the heap with the opcodes defined in the `op` package
// and annotates each instruction with the constants it references.
package dis

import (
	"fmt"
	"io"
	"strings"

	"github.com/cloudcmds/rendervm/bytecode"
	"github.com/cloudcmds/rendervm/internal/table"
	"github.com/cloudcmds/rendervm/lowlevel"
	"github.com/cloudcmds/rendervm/op"
	"github.com/fatih/color"
)

// Instruction represents a single instruction and its operands.
type Instruction struct {
	Offset     int
	Name       string
	Opcode     op.Code
	Class      op.Class
	Operands   []int32
	Annotation string
	Constant   any

	// Handles lists the handles that point at this instruction.
	Handles []int
}

// Disassemble returns a parsed representation of the program's heap.
func Disassemble(program *bytecode.Program) ([]Instruction, error) {
	heap := program.Heap()
	consts := program.Constants()
	starts := map[int][]int{}
	for h := 0; h < heap.HandleCount(); h++ {
		addr, err := heap.GetAddr(h)
		if err != nil {
			return nil, err
		}
		starts[addr] = append(starts[addr], h)
	}

	var instructions []Instruction
	for offset := 0; offset < heap.Size(); {
		o, err := heap.Opcode(offset)
		if err != nil {
			return nil, err
		}
		info := op.GetInfo(o.Type)
		instr := Instruction{
			Offset:   offset,
			Name:     info.Name,
			Opcode:   o.Type,
			Class:    info.Class,
			Operands: append([]int32(nil), o.Operands[:info.OperandCount]...),
			Handles:  starts[offset],
		}
		if err := annotate(&instr, o, consts); err != nil {
			return nil, fmt.Errorf("dis: %s at %d: %w", info.Name, offset, err)
		}
		instructions = append(instructions, instr)
		offset += o.Size
	}
	return instructions, nil
}

func annotate(instr *Instruction, o bytecode.Opcode, consts *bytecode.Constants) error {
	if op.IsJump(o.Type) {
		instr.Annotation = fmt.Sprintf("-> %d", o.Offset+int(o.Op1()))
		return nil
	}
	var err error
	switch o.Type {
	case op.Text, op.Comment, op.OpenElement, op.GetProperty, op.DynamicAttr:
		instr.Constant, err = consts.GetString(int(o.Op1()))
	case op.StaticAttr:
		var name, value string
		if name, err = consts.GetString(int(o.Op1())); err != nil {
			return err
		}
		if value, err = consts.GetString(int(o.Op2())); err != nil {
			return err
		}
		instr.Annotation = fmt.Sprintf("%s=%q", name, value)
	case op.Primitive:
		return annotatePrimitive(instr, o, consts)
	case op.Helper:
		instr.Annotation, err = consts.HandleName(int(o.Op1()))
	case op.Call:
		instr.Annotation = fmt.Sprintf("block %d", o.Op1())
	case op.BindSymbols:
		var symbols []int
		symbols, err = consts.GetArray(int(o.Op1()))
		instr.Annotation = fmt.Sprint(symbols)
	case op.BindDynamicScope:
		var names []string
		names, err = consts.GetStringArray(int(o.Op1()))
		instr.Annotation = strings.Join(names, ", ")
	case op.Dup:
		instr.Annotation = fmt.Sprintf("%s%+d", lowlevel.Register(o.Op1()), o.Op2())
	case op.Load, op.Fetch:
		instr.Annotation = lowlevel.Register(o.Op1()).String()
	case op.RootScope:
		if o.Op2() != 0 {
			instr.Annotation = "bind caller"
		}
	}
	return err
}

func annotatePrimitive(instr *Instruction, o bytecode.Opcode, consts *bytecode.Constants) error {
	kind := op.PrimitiveKind(o.Op1())
	var err error
	switch kind {
	case op.PrimitiveString:
		instr.Constant, err = consts.GetString(int(o.Op2()))
	case op.PrimitiveNumber:
		instr.Constant, err = consts.GetNumber(int(o.Op2()))
	case op.PrimitiveSerializable:
		instr.Constant, err = consts.GetSerializable(int(o.Op2()))
	case op.PrimitiveTrue, op.PrimitiveFalse, op.PrimitiveNull:
		instr.Annotation = kind.String()
	default:
		return fmt.Errorf("unknown primitive kind %d", kind)
	}
	return err
}

var (
	bold    = color.New(color.Bold).SprintFunc()
	faint   = color.New(color.Faint).SprintFunc()
	yellow  = color.New(color.FgYellow).SprintFunc()
	green   = color.New(color.FgGreen).SprintFunc()
	magenta = color.New(color.FgMagenta).SprintFunc()
	cyan    = color.New(color.FgHiCyan).SprintFunc()
)

// Print a string representation of the given instructions to the given
// writer. Colors follow color.NoColor.
func Print(instructions []Instruction, writer io.Writer) {
	var lines [][]string
	for _, instr := range instructions {
		var values []string
		values = append(values, formatHandles(instr.Handles))
		values = append(values, fmt.Sprintf("%d", instr.Offset))
		name := instr.Name
		if instr.Class == op.Append {
			name = bold(name)
		}
		values = append(values, name)
		values = append(values, formatOperands(instr.Operands))
		switch c := instr.Constant.(type) {
		case nil:
			values = append(values, cyan(instr.Annotation))
		case float64:
			values = append(values, yellow(fmt.Sprintf("%g", c)))
		case string:
			if len(c) > 80 {
				c = c[:77] + "..."
			}
			values = append(values, green(fmt.Sprintf("%q", c)))
		default:
			values = append(values, magenta(fmt.Sprintf("%v", c)))
		}
		lines = append(lines, values)
	}

	table.NewTable(writer).
		WithHeader([]string{"BLOCK", "OFFSET", "OPCODE", "OPERANDS", "INFO"}).
		WithColumnAlignment([]table.Alignment{
			table.AlignLeft,
			table.AlignRight,
			table.AlignLeft,
			table.AlignRight,
			table.AlignLeft,
		}).
		WithHeaderAlignment([]table.Alignment{
			table.AlignCenter,
			table.AlignCenter,
			table.AlignCenter,
			table.AlignCenter,
			table.AlignCenter,
		}).
		WithRows(lines).
		Render()
}

func formatHandles(handles []int) string {
	if len(handles) == 0 {
		return ""
	}
	parts := make([]string, len(handles))
	for i, h := range handles {
		parts[i] = fmt.Sprintf("#%d", h)
	}
	return faint(strings.Join(parts, " "))
}

func formatOperands(ops []int32) string {
	var sb strings.Builder
	for i, op := range ops {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(fmt.Sprintf("%d", op))
	}
	return sb.String()
}
