// Package rendervm renders assembled programs into an in-memory document
// and keeps the output current as the input changes.
//
//	program, _ := rendervm.Compile(source)
//	result, _ := rendervm.Render(ctx, program, map[string]any{"name": "Ada"})
//	fmt.Println(result.HTML())
//	_ = result.Update(map[string]any{"name": "Grace"})
//
// Update only touches the nodes whose inputs changed. The vm package
// exposes the machinery underneath for callers that need finer control.
package rendervm

import (
	"context"
	"strings"

	"github.com/cloudcmds/rendervm/asm"
	"github.com/cloudcmds/rendervm/bytecode"
	"github.com/cloudcmds/rendervm/dom"
	"github.com/cloudcmds/rendervm/reference"
	"github.com/cloudcmds/rendervm/vm"
)

// Compile assembles source into a program. Helpers given with
// WithHelpers are resolved by name when the program calls them.
func Compile(source string, opts ...Option) (*Program, error) {
	cfg := newConfig(opts...)
	filename := cfg.filename
	if filename == "" {
		filename = "<input>"
	}
	b, err := asm.Parse(filename, strings.NewReader(source))
	if err != nil {
		return nil, err
	}
	code, err := b.Build(bytecode.MapResolver(cfg.helpers))
	if err != nil {
		return nil, err
	}
	return newProgram(b, code, source, cfg.filename), nil
}

// Render renders the program's entry block with self as its input. The
// context is checked between instruction batches. A cancelled render is
// aborted and the returned fault wraps the context's error.
func Render(ctx context.Context, program *Program, self any, opts ...Option) (*Result, error) {
	cfg := newConfig(opts...)
	handle, ok := program.Block(cfg.entry)
	if !ok {
		return nil, &UnknownBlockError{Name: cfg.entry}
	}
	root := dom.NewFragment()
	selfRef := reference.Root(self)
	runtime := &vm.Runtime{Program: program.code, Env: cfg.env}
	machine, err := vm.Initial(runtime, selfRef, cfg.DynamicScope(), dom.NewBuilder(root, nil), handle, cfg.VMOpts()...)
	if err != nil {
		return nil, err
	}
	for {
		if err := ctx.Err(); err != nil {
			return nil, machine.Abort(err)
		}
		next, err := machine.Next()
		if err != nil {
			return nil, err
		}
		if next.Done {
			return newResult(root, selfRef, next.Value), nil
		}
	}
}

// Eval is a convenience function that compiles source and renders it.
func Eval(ctx context.Context, source string, self any, opts ...Option) (*Result, error) {
	program, err := Compile(source, opts...)
	if err != nil {
		return nil, err
	}
	return Render(ctx, program, self, opts...)
}

// UnknownBlockError is returned when the entry block does not exist.
type UnknownBlockError struct {
	Name string
}

func (e *UnknownBlockError) Error() string {
	return "rendervm: unknown block " + e.Name
}
