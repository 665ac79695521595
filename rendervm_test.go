package rendervm

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/cloudcmds/rendervm/dom"
	"github.com/cloudcmds/rendervm/errz"
	"github.com/cloudcmds/rendervm/reference"
	"github.com/cloudcmds/rendervm/vm"
	"github.com/stretchr/testify/require"
)

const greetingSource = `
.block main 0
    open_element "p"
    static_attr "class" "greeting"
    flush_element
    text "Hello, "
    get_self
    get_property "name"
    append_text
    close_element
    return
`

const ifSource = `
.block main 0
    push_frame
    return_to endif
    get_self
    get_property "admin"
    to_boolean
    enter 1
    jump_unless else
    text "admin"
    jump finally
else:
    text "guest"
finally:
    exit
    return
endif:
    pop_frame
    return
`

const listSource = `
// renders self.items as a keyed list
.block main 1
    open_element "ul"
    flush_element
    push_frame
    return_to endinitial
    primitive "id"
    get_self
    get_property "items"
    enter 2
    put_iterator
    jump_unless else
    push_frame
    return_to iter
    dup $fp 1
    enter_list body
iter:
    iterate break
body:
    child_scope
    pop 1
    bind_symbols [1]
    open_element "li"
    flush_element
    get_variable 1
    get_property "name"
    append_text
    close_element
    pop_scope
    exit
    return
break:
    exit_list
    pop_frame
    jump finally
else:
    text "empty"
finally:
    pop 1
    exit
    return
endinitial:
    pop_frame
    close_element
    return
`

func TestEval(t *testing.T) {
	ctx := context.Background()
	result, err := Eval(ctx, greetingSource, map[string]any{"name": "Ada"})
	require.Nil(t, err)
	require.Equal(t, `<p class="greeting">Hello, Ada</p>`, result.HTML())
	require.Equal(t, "Hello, Ada", result.Text())

	require.Nil(t, result.Update(map[string]any{"name": "Grace"}))
	require.Equal(t, `<p class="greeting">Hello, Grace</p>`, result.HTML())
}

func TestRenderIf(t *testing.T) {
	program, err := Compile(ifSource)
	require.Nil(t, err)

	result, err := Render(context.Background(), program, map[string]any{"admin": true})
	require.Nil(t, err)
	require.Equal(t, "admin", result.HTML())

	require.Nil(t, result.Update(map[string]any{"admin": false}))
	require.Equal(t, "guest", result.HTML())

	require.Nil(t, result.Update(map[string]any{"admin": 1}))
	require.Equal(t, "admin", result.HTML())
}

func TestRenderList(t *testing.T) {
	program, err := Compile(listSource, WithFilename("list.asm"))
	require.Nil(t, err)
	require.Equal(t, "list.asm", program.Filename())

	items := func(names ...string) map[string]any {
		var list []any
		for _, name := range names {
			list = append(list, map[string]any{"id": name, "name": strings.ToUpper(name)})
		}
		return map[string]any{"items": list}
	}

	result, err := Render(context.Background(), program, items("a", "b", "c"))
	require.Nil(t, err)
	require.Equal(t, "<ul><li>A</li><li>B</li><li>C</li></ul>", result.HTML())

	require.Nil(t, result.Update(items("c", "a", "d")))
	require.Equal(t, "<ul><li>C</li><li>A</li><li>D</li></ul>", result.HTML())

	require.Nil(t, result.Update(items()))
	require.Equal(t, "<ul>empty</ul>", result.HTML())

	require.Nil(t, result.Update(items("b")))
	require.Equal(t, "<ul><li>B</li></ul>", result.HTML())
}

func TestHelpersAndDestroy(t *testing.T) {
	destroyed := 0
	upper := func(v vm.PublicVM, args reference.PathReference) (reference.PathReference, error) {
		err := v.NewDestroyable(dom.DestroyFunc(func() error {
			destroyed++
			return nil
		}))
		return reference.Map(args, func(x any) any {
			return strings.ToUpper(dom.Stringify(x))
		}), err
	}
	src := `
.block main 0
    get_self
    get_property "name"
    helper upper
    append_text
    return
`
	result, err := Eval(context.Background(), src, map[string]any{"name": "ada"},
		WithHelper("upper", upper))
	require.Nil(t, err)
	require.Equal(t, "ADA", result.HTML())

	require.Nil(t, result.Update(map[string]any{"name": "grace"}))
	require.Equal(t, "GRACE", result.HTML())

	require.Nil(t, result.Destroy())
	require.Nil(t, result.Destroy())
	require.Equal(t, 1, destroyed)
}

func TestDynamicVars(t *testing.T) {
	src := `
.block main 0
    primitive "color"
    get_dynamic_var
    append_text
    return
`
	result, err := Eval(context.Background(), src, nil,
		WithDynamicVars(map[string]any{"color": "blue"}))
	require.Nil(t, err)
	require.Equal(t, "blue", result.HTML())
}

func TestEntryBlock(t *testing.T) {
	src := `
.block main 0
    text "main"
    return
.block other 0
    text "other"
    return
`
	program, err := Compile(src)
	require.Nil(t, err)

	result, err := Render(context.Background(), program, nil, WithEntry("other"))
	require.Nil(t, err)
	require.Equal(t, "other", result.HTML())

	_, err = Render(context.Background(), program, nil, WithEntry("missing"))
	var unknown *UnknownBlockError
	require.True(t, errors.As(err, &unknown))
	require.Equal(t, "missing", unknown.Name)
}

func TestCancelledRender(t *testing.T) {
	program, err := Compile(greetingSource)
	require.Nil(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = Render(ctx, program, map[string]any{"name": "Ada"}, WithBatchSize(1))
	require.NotNil(t, err)
	require.True(t, errors.Is(err, context.Canceled))
	require.True(t, errz.IsKind(err, errz.InterpreterFault))
}

func TestCompileErrors(t *testing.T) {
	_, err := Compile(".block main 0\n    bogus\n", WithFilename("bad.asm"))
	require.NotNil(t, err)
	require.Contains(t, err.Error(), "bad.asm")
	require.Contains(t, err.Error(), "unknown instruction bogus")

	_, err = Compile(".block main 0\n    jump nowhere\n")
	require.NotNil(t, err)
	require.Contains(t, err.Error(), `undefined label "nowhere"`)
}

func TestRenderFault(t *testing.T) {
	src := `
.block main 0
    pop_scope
    return
`
	_, err := Eval(context.Background(), src, nil)
	require.NotNil(t, err)
	require.True(t, errz.IsKind(err, errz.StructuralFault))
}
