package main

import (
	"strings"

	"github.com/cloudcmds/rendervm/dom"
	"github.com/cloudcmds/rendervm/reference"
	"github.com/cloudcmds/rendervm/vm"
)

// mapHelper returns a helper whose result follows its argument.
func mapHelper(fn func(any) any) vm.Helper {
	return func(_ vm.PublicVM, args reference.PathReference) (reference.PathReference, error) {
		return reference.Map(args, fn), nil
	}
}

// builtinHelpers are available to every program the CLI runs.
func builtinHelpers() map[string]vm.Helper {
	return map[string]vm.Helper{
		"upper": mapHelper(func(v any) any {
			return strings.ToUpper(dom.Stringify(v))
		}),
		"lower": mapHelper(func(v any) any {
			return strings.ToLower(dom.Stringify(v))
		}),
		"length": mapHelper(func(v any) any {
			n, _ := reference.Lookup(v, "length")
			return n
		}),
	}
}
