package asm

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/scanner"

	"github.com/cloudcmds/rendervm/lowlevel"
	"github.com/cloudcmds/rendervm/op"
)

var registerIndex = map[string]lowlevel.Register{
	"pc": lowlevel.PC,
	"ra": lowlevel.RA,
	"fp": lowlevel.FP,
	"sp": lowlevel.SP,
	"s0": lowlevel.S0,
	"s1": lowlevel.S1,
	"t0": lowlevel.T0,
	"t1": lowlevel.T1,
	"v0": lowlevel.V0,
}

type parser struct {
	b   *Builder
	s   scanner.Scanner
	tok rune
	err error
}

func scanError(s *scanner.Scanner, msg string) error {
	pos := s.Position
	if !pos.IsValid() {
		pos = s.Pos()
	}
	return fmt.Errorf("%s: %s", pos, msg)
}

// Parse assembles source text into a builder. The syntax is one
// instruction per mnemonic, operands following it:
//
//	.block main 1          // start block "main" with one symbol slot
//	    open_element "p"
//	    flush_element
//	    get_self
//	    get_property "name"
//	    append_text
//	    close_element
//	    jump_unless done
//	done:
//	    return
//
// Jumps take label names, call takes a block name, dup takes a register
// such as $fp and an offset, bind_symbols takes [1 2] and
// bind_dynamic_scope takes ["a" "b"]. primitive accepts a string, a
// number, true, false, null or json "<document>".
func Parse(name string, r io.Reader) (*Builder, error) {
	p := &parser{b: New()}
	p.s.Init(r)
	p.s.Filename = name
	p.s.Mode = scanner.ScanIdents | scanner.ScanInts | scanner.ScanFloats |
		scanner.ScanStrings | scanner.ScanRawStrings | scanner.ScanComments | scanner.SkipComments
	p.s.Error = func(s *scanner.Scanner, msg string) {
		if p.err == nil {
			p.err = scanError(s, msg)
		}
	}
	p.next()
	for p.err == nil && p.tok != scanner.EOF {
		p.statement()
	}
	if p.err != nil {
		return nil, p.err
	}
	return p.b, nil
}

func (p *parser) next() {
	p.tok = p.s.Scan()
}

func (p *parser) errorf(format string, args ...any) {
	if p.err == nil {
		p.err = scanError(&p.s, fmt.Sprintf(format, args...))
	}
}

func (p *parser) statement() {
	switch p.tok {
	case '.':
		p.next()
		p.directive()
	case scanner.Ident:
		word := p.s.TokenText()
		if p.s.Peek() == ':' {
			p.next() // ':'
			p.next()
			p.b.Label(word)
			return
		}
		p.next()
		p.instruction(word)
	default:
		p.errorf("unexpected %s", p.s.TokenText())
	}
}

func (p *parser) directive() {
	word := p.ident()
	switch word {
	case "block":
		name := p.ident()
		size := p.int()
		if p.err == nil {
			p.b.Block(name, size)
		}
	default:
		p.errorf("unknown directive .%s", word)
	}
}

func (p *parser) instruction(word string) {
	code, ok := op.Lookup(strings.ToUpper(word))
	if !ok {
		p.errorf("unknown instruction %s", word)
		return
	}
	b := p.b
	if op.IsJump(code) {
		b.EmitJump(code, p.ident())
		return
	}
	switch code {
	case op.Call:
		b.Call(p.ident())
	case op.Text:
		b.Text(p.string())
	case op.Comment:
		b.Comment(p.string())
	case op.OpenElement:
		b.OpenElement(p.string())
	case op.StaticAttr:
		name := p.string()
		b.StaticAttr(name, p.string())
	case op.GetProperty:
		b.GetProperty(p.string())
	case op.DynamicAttr:
		b.DynamicAttr(p.string())
	case op.Helper:
		if p.tok == scanner.String {
			b.Helper(p.string())
		} else {
			b.Helper(p.ident())
		}
	case op.Primitive:
		p.primitive()
	case op.Dup:
		reg := p.register()
		b.Dup(reg, p.int())
	case op.Load:
		b.Load(p.register())
	case op.Fetch:
		b.Fetch(p.register())
	case op.Pop:
		b.Pop(p.int())
	case op.GetVariable:
		b.GetVariable(p.int())
	case op.SetVariable:
		b.SetVariable(p.int())
	case op.Enter:
		b.Enter(p.int())
	case op.RootScope:
		size := p.int()
		b.RootScope(size, p.bool())
	case op.BindSymbols:
		var symbols []int
		p.list(func() { symbols = append(symbols, p.int()) })
		b.BindSymbols(symbols...)
	case op.BindDynamicScope:
		var names []string
		p.list(func() { names = append(names, p.string()) })
		b.BindDynamicScope(names...)
	default:
		if n := op.GetInfo(code).OperandCount; n != 0 {
			p.errorf("%s: operands not supported in source", word)
			return
		}
		b.Emit(code)
	}
}

func (p *parser) primitive() {
	switch p.tok {
	case scanner.String, scanner.RawString:
		p.b.PrimitiveString(p.string())
	case scanner.Int, scanner.Float, '-':
		p.b.PrimitiveNumber(p.number())
	case scanner.Ident:
		switch word := p.ident(); word {
		case "true":
			p.b.PrimitiveBool(true)
		case "false":
			p.b.PrimitiveBool(false)
		case "null":
			p.b.PrimitiveNull()
		case "json":
			var v any
			if err := json.Unmarshal([]byte(p.string()), &v); err != nil {
				p.errorf("primitive json: %v", err)
				return
			}
			p.b.PrimitiveSerializable(v)
		default:
			p.errorf("primitive: unexpected %s", word)
		}
	default:
		p.errorf("primitive: unexpected %s", p.s.TokenText())
	}
}

func (p *parser) ident() string {
	if p.tok != scanner.Ident {
		p.errorf("expected identifier, got %q", p.s.TokenText())
		return ""
	}
	s := p.s.TokenText()
	p.next()
	return s
}

func (p *parser) string() string {
	if p.tok != scanner.String && p.tok != scanner.RawString {
		p.errorf("expected string, got %q", p.s.TokenText())
		return ""
	}
	s, err := strconv.Unquote(p.s.TokenText())
	if err != nil {
		p.errorf("bad string %s: %v", p.s.TokenText(), err)
	}
	p.next()
	return s
}

func (p *parser) number() float64 {
	sign := 1.0
	if p.tok == '-' {
		sign = -1
		p.next()
	}
	if p.tok != scanner.Int && p.tok != scanner.Float {
		p.errorf("expected number, got %q", p.s.TokenText())
		return 0
	}
	n, err := strconv.ParseFloat(p.s.TokenText(), 64)
	if err != nil {
		p.errorf("bad number %s", p.s.TokenText())
	}
	p.next()
	return sign * n
}

func (p *parser) int() int {
	sign := 1
	if p.tok == '-' {
		sign = -1
		p.next()
	}
	if p.tok != scanner.Int {
		p.errorf("expected integer, got %q", p.s.TokenText())
		return 0
	}
	n, err := strconv.ParseInt(p.s.TokenText(), 0, 32)
	if err != nil {
		p.errorf("bad integer %s", p.s.TokenText())
	}
	p.next()
	return sign * int(n)
}

func (p *parser) bool() bool {
	switch word := p.ident(); word {
	case "true":
		return true
	case "false":
		return false
	default:
		p.errorf("expected true or false, got %q", word)
		return false
	}
}

func (p *parser) register() lowlevel.Register {
	if p.tok != '$' {
		p.errorf("expected register, got %q", p.s.TokenText())
		return 0
	}
	p.next()
	name := p.ident()
	reg, ok := registerIndex[name]
	if !ok && p.err == nil {
		p.errorf("unknown register $%s", name)
	}
	return reg
}

func (p *parser) list(item func()) {
	if p.tok != '[' {
		p.errorf("expected [, got %q", p.s.TokenText())
		return
	}
	p.next()
	for p.err == nil && p.tok != ']' {
		if p.tok == scanner.EOF {
			p.errorf("unterminated list")
			return
		}
		item()
	}
	p.next()
}
