package asm

import (
	"fmt"

	"github.com/cloudcmds/rendervm/bytecode"
	"github.com/cloudcmds/rendervm/lowlevel"
	"github.com/cloudcmds/rendervm/op"
	"github.com/hashicorp/go-multierror"
)

type fixup struct {
	start   int // address of the instruction
	operand int // address of the operand word
	label   string
}

// Builder assembles a program. Jump operands name labels that may be
// defined later; they are patched by Build.
type Builder struct {
	words   []int32
	pool    *bytecode.Pool
	handles []bytecode.HandleInfo
	blocks  map[string]int
	labels  map[string]int
	fixups  []fixup
	calls   []fixup
	gensym  int
	err     error
}

// New returns an empty builder.
func New() *Builder {
	return &Builder{
		pool:   bytecode.NewPool(),
		blocks: map[string]int{},
		labels: map[string]int{},
	}
}

// Pool returns the constants pool the builder interns into.
func (b *Builder) Pool() *bytecode.Pool { return b.pool }

// Addr returns the address the next instruction will be written at.
func (b *Builder) Addr() int { return len(b.words) }

func (b *Builder) fail(format string, args ...any) {
	b.err = multierror.Append(b.err, fmt.Errorf(format, args...))
}

// Block starts a named block at the current address and returns its
// handle. scopeSize is the number of symbol slots the block needs, not
// counting self.
func (b *Builder) Block(name string, scopeSize int) int {
	if _, exists := b.blocks[name]; exists {
		b.fail("asm: duplicate block %q", name)
	}
	b.handles = append(b.handles, bytecode.HandleInfo{Address: b.Addr(), ScopeSize: scopeSize})
	handle := len(b.handles) - 1
	b.blocks[name] = handle
	return handle
}

// Handle returns the handle of a named block.
func (b *Builder) Handle(name string) (int, bool) {
	h, ok := b.blocks[name]
	return h, ok
}

// Blocks returns the names of the defined blocks in handle order.
func (b *Builder) Blocks() []string {
	names := make([]string, len(b.handles))
	for name, h := range b.blocks {
		names[h] = name
	}
	return names
}

// Label defines a label at the current address.
func (b *Builder) Label(name string) {
	if _, exists := b.labels[name]; exists {
		b.fail("asm: duplicate label %q", name)
	}
	b.labels[name] = b.Addr()
}

// Emit writes an instruction with literal operands.
func (b *Builder) Emit(code op.Code, operands ...int32) {
	info := op.GetInfo(code)
	if info.Name == "" {
		b.fail("asm: unknown opcode %d", code)
		return
	}
	if len(operands) != info.OperandCount {
		b.fail("asm: %s takes %d operands, got %d", info.Name, info.OperandCount, len(operands))
		return
	}
	b.words = append(b.words, int32(code))
	b.words = append(b.words, operands...)
}

// EmitJump writes a jump-like instruction whose first operand is the
// offset of label from the start of the instruction.
func (b *Builder) EmitJump(code op.Code, label string) {
	if !op.IsJump(code) {
		b.fail("asm: %s is not a jump", op.GetInfo(code).Name)
		return
	}
	start := b.Addr()
	b.Emit(code, 0)
	b.fixups = append(b.fixups, fixup{start: start, operand: start + 1, label: label})
}

// gen returns a fresh label name that cannot clash with user labels.
func (b *Builder) gen(prefix string) string {
	b.gensym++
	return fmt.Sprintf("@%s%d", prefix, b.gensym)
}

// Build patches labels and returns the program. The resolver resolves
// helper names; it may be nil when no helpers are used.
func (b *Builder) Build(resolver bytecode.Resolver) (*bytecode.Program, error) {
	err := b.err
	words := make([]int32, len(b.words))
	copy(words, b.words)
	for _, f := range b.fixups {
		addr, ok := b.labels[f.label]
		if !ok {
			err = multierror.Append(err, fmt.Errorf("asm: undefined label %q", f.label))
			continue
		}
		words[f.operand] = int32(addr - f.start)
	}
	for _, f := range b.calls {
		handle, ok := b.blocks[f.label]
		if !ok {
			err = multierror.Append(err, fmt.Errorf("asm: undefined block %q", f.label))
			continue
		}
		words[f.operand] = int32(handle)
	}
	if err != nil {
		return nil, err
	}
	return bytecode.NewProgram(bytecode.ProgramParams{
		Instructions: words,
		Handles:      b.handles,
		Pool:         b.pool,
		Resolver:     resolver,
	}), nil
}

// Machine instructions

func (b *Builder) Nop()                  { b.Emit(op.Nop) }
func (b *Builder) PushFrame()            { b.Emit(op.PushFrame) }
func (b *Builder) PopFrame()             { b.Emit(op.PopFrame) }
func (b *Builder) Jump(label string)     { b.EmitJump(op.Jump, label) }
func (b *Builder) ReturnTo(label string) { b.EmitJump(op.ReturnTo, label) }
func (b *Builder) Return()               { b.Emit(op.Return) }

// Call calls the named block, which may be defined later.
func (b *Builder) Call(block string) {
	start := b.Addr()
	b.Emit(op.Call, 0)
	b.calls = append(b.calls, fixup{start: start, operand: start + 1, label: block})
}

// Builder instructions

func (b *Builder) Text(text string) { b.Emit(op.Text, int32(b.pool.String(text))) }
func (b *Builder) Comment(text string) {
	b.Emit(op.Comment, int32(b.pool.String(text)))
}
func (b *Builder) OpenElement(tag string) { b.Emit(op.OpenElement, int32(b.pool.String(tag))) }
func (b *Builder) FlushElement()          { b.Emit(op.FlushElement) }
func (b *Builder) CloseElement()          { b.Emit(op.CloseElement) }
func (b *Builder) StaticAttr(name, value string) {
	b.Emit(op.StaticAttr, int32(b.pool.String(name)), int32(b.pool.String(value)))
}

// Values

func (b *Builder) PrimitiveString(s string) {
	b.Emit(op.Primitive, int32(op.PrimitiveString), int32(b.pool.String(s)))
}

func (b *Builder) PrimitiveNumber(n float64) {
	b.Emit(op.Primitive, int32(op.PrimitiveNumber), int32(b.pool.Number(n)))
}

func (b *Builder) PrimitiveBool(v bool) {
	if v {
		b.Emit(op.Primitive, int32(op.PrimitiveTrue), 0)
	} else {
		b.Emit(op.Primitive, int32(op.PrimitiveFalse), 0)
	}
}

func (b *Builder) PrimitiveNull() { b.Emit(op.Primitive, int32(op.PrimitiveNull), 0) }

// PrimitiveSerializable pushes a constant structured value.
func (b *Builder) PrimitiveSerializable(v any) {
	h, err := b.pool.Serializable(v)
	if err != nil {
		b.err = multierror.Append(b.err, err)
		return
	}
	b.Emit(op.Primitive, int32(op.PrimitiveSerializable), int32(h))
}

func (b *Builder) Dup(register lowlevel.Register, offset int) {
	b.Emit(op.Dup, int32(register), int32(offset))
}
func (b *Builder) Pop(n int)                        { b.Emit(op.Pop, int32(n)) }
func (b *Builder) Load(register lowlevel.Register)  { b.Emit(op.Load, int32(register)) }
func (b *Builder) Fetch(register lowlevel.Register) { b.Emit(op.Fetch, int32(register)) }

// Variables and scopes

func (b *Builder) GetSelf()               { b.Emit(op.GetSelf) }
func (b *Builder) GetVariable(symbol int) { b.Emit(op.GetVariable, int32(symbol)) }
func (b *Builder) SetVariable(symbol int) { b.Emit(op.SetVariable, int32(symbol)) }

// BindSymbols pops one value per symbol, binding the top of the stack to
// the last symbol.
func (b *Builder) BindSymbols(symbols ...int) {
	b.Emit(op.BindSymbols, int32(b.pool.Array(symbols)))
}

func (b *Builder) GetProperty(key string) { b.Emit(op.GetProperty, int32(b.pool.String(key))) }

// GetPath pushes a symbol followed by a chain of property lookups.
func (b *Builder) GetPath(symbol int, keys ...string) {
	if symbol == 0 {
		b.GetSelf()
	} else {
		b.GetVariable(symbol)
	}
	for _, key := range keys {
		b.GetProperty(key)
	}
}

func (b *Builder) RootScope(size int, bindCaller bool) {
	var bind int32
	if bindCaller {
		bind = 1
	}
	b.Emit(op.RootScope, int32(size), bind)
}
func (b *Builder) ChildScope()       { b.Emit(op.ChildScope) }
func (b *Builder) PopScope()         { b.Emit(op.PopScope) }
func (b *Builder) PushDynamicScope() { b.Emit(op.PushDynamicScope) }
func (b *Builder) PopDynamicScope()  { b.Emit(op.PopDynamicScope) }

// BindDynamicScope pops one value per name into the current dynamic
// scope, binding the top of the stack to the last name.
func (b *Builder) BindDynamicScope(names ...string) {
	b.Emit(op.BindDynamicScope, int32(b.pool.StringArray(names)))
}
func (b *Builder) GetDynamicVar() { b.Emit(op.GetDynamicVar) }

// Conditions, content and helpers

func (b *Builder) ToBoolean()              { b.Emit(op.ToBoolean) }
func (b *Builder) JumpIf(label string)     { b.EmitJump(op.JumpIf, label) }
func (b *Builder) JumpUnless(label string) { b.EmitJump(op.JumpUnless, label) }
func (b *Builder) AppendText()             { b.Emit(op.AppendText) }
func (b *Builder) DynamicAttr(name string) { b.Emit(op.DynamicAttr, int32(b.pool.String(name))) }
func (b *Builder) Helper(name string)      { b.Emit(op.Helper, int32(b.pool.Handle(name))) }

// Blocks

func (b *Builder) Enter(args int)        { b.Emit(op.Enter, int32(args)) }
func (b *Builder) Exit()                 { b.Emit(op.Exit) }
func (b *Builder) PutIterator()          { b.Emit(op.PutIterator) }
func (b *Builder) EnterList(body string) { b.EmitJump(op.EnterList, body) }
func (b *Builder) ExitList()             { b.Emit(op.ExitList) }
func (b *Builder) Iterate(breaks string) { b.EmitJump(op.Iterate, breaks) }
func (b *Builder) BeginCacheGroup()      { b.Emit(op.BeginCacheGroup) }
func (b *Builder) CommitCacheGroup()     { b.Emit(op.CommitCacheGroup) }
