package vm

import (
	"errors"
	"fmt"
	"testing"

	"github.com/cloudcmds/rendervm/asm"
	"github.com/cloudcmds/rendervm/bytecode"
	"github.com/cloudcmds/rendervm/dom"
	"github.com/cloudcmds/rendervm/errz"
	"github.com/cloudcmds/rendervm/lowlevel"
	"github.com/cloudcmds/rendervm/reference"
	"github.com/google/go-cmp/cmp"
	"github.com/hashicorp/go-multierror"
	"github.com/stretchr/testify/require"
)

// tracker is a helper that counts how often each value was rendered and
// torn down.
type tracker struct {
	created   map[string]int
	destroyed map[string]int
}

func newTracker() *tracker {
	return &tracker{created: map[string]int{}, destroyed: map[string]int{}}
}

func (tr *tracker) helper() Helper {
	return func(vm PublicVM, args reference.PathReference) (reference.PathReference, error) {
		name := dom.Stringify(args.Value())
		tr.created[name]++
		err := vm.NewDestroyable(dom.DestroyFunc(func() error {
			tr.destroyed[name]++
			return nil
		}))
		return args, err
	}
}

type program struct {
	runtime *Runtime
	handle  int
}

func assemble(t *testing.T, scopeSize int, resolver bytecode.Resolver, body func(b *asm.Builder)) program {
	t.Helper()
	b := asm.New()
	handle := b.Block("main", scopeSize)
	body(b)
	b.Return()
	p, err := b.Build(resolver)
	require.Nil(t, err)
	return program{runtime: &Runtime{Program: p, Env: DefaultEnvironment{}}, handle: handle}
}

func (p program) start(t *testing.T, self any, opts ...Option) (*VM, *dom.Node, *reference.RootReference) {
	t.Helper()
	root := dom.NewFragment()
	selfRef := reference.Root(self)
	vm, err := Initial(p.runtime, selfRef, nil, dom.NewBuilder(root, nil), p.handle, opts...)
	require.Nil(t, err)
	return vm, root, selfRef
}

func (p program) render(t *testing.T, self any, opts ...Option) (*RenderResult, *dom.Node, *reference.RootReference) {
	t.Helper()
	vm, root, selfRef := p.start(t, self, opts...)
	result, err := vm.ExecuteAll()
	require.Nil(t, err)
	require.NotNil(t, result)
	return result, root, selfRef
}

// countingObserver counts updating opcode evaluations by kind.
type countingObserver struct {
	NoOpObserver
	updates map[string]int
	blocks  []BlockEvent
	steps   []string
}

func newCountingObserver() *countingObserver {
	return &countingObserver{updates: map[string]int{}}
}

func (o *countingObserver) OnUpdate(e UpdateEvent) bool {
	o.updates[e.Opcode]++
	return true
}

func (o *countingObserver) OnBlock(e BlockEvent) bool {
	o.blocks = append(o.blocks, e)
	return true
}

func (o *countingObserver) OnStep(e StepEvent) bool {
	o.steps = append(o.steps, e.OpcodeName)
	return true
}

func TestStaticContent(t *testing.T) {
	p := assemble(t, 0, nil, func(b *asm.Builder) {
		b.Element("p", map[string]string{"class": "greeting"}, func() {
			b.Text("hello ")
			b.PrimitiveString("world")
			b.AppendText()
		})
	})
	result, root, _ := p.render(t, nil)
	require.Equal(t, `<p class="greeting">hello world</p>`, dom.Serialize(root))
	require.True(t, result.Opcodes().IsEmpty())
	require.Equal(t, "p", result.Bounds().First().Data)
}

func TestDynamicTextAndAttribute(t *testing.T) {
	p := assemble(t, 0, nil, func(b *asm.Builder) {
		b.OpenElement("a")
		b.GetPath(0, "href")
		b.DynamicAttr("href")
		b.FlushElement()
		b.GetPath(0, "label")
		b.AppendText()
		b.CloseElement()
	})
	result, root, self := p.render(t, map[string]any{"href": "/a", "label": "A"})
	require.Equal(t, `<a href="/a">A</a>`, dom.Serialize(root))
	require.Equal(t, 2, result.Opcodes().Len())

	self.Update(map[string]any{"href": "/b", "label": "B"})
	require.Nil(t, result.Rerender(RerenderOptions{}))
	require.Equal(t, `<a href="/b">B</a>`, dom.Serialize(root))

	self.Update(map[string]any{"href": nil, "label": 42})
	require.Nil(t, result.Rerender(RerenderOptions{}))
	require.Equal(t, `<a>42</a>`, dom.Serialize(root))
}

func TestIfElse(t *testing.T) {
	p := assemble(t, 0, nil, func(b *asm.Builder) {
		b.If(func() { b.GetPath(0, "flag") },
			func() { b.Text("A") },
			func() { b.Text("B") })
		b.Text("!")
	})
	result, root, self := p.render(t, map[string]any{"flag": true})
	require.Equal(t, "A!", dom.Serialize(root))

	try, ok := result.Opcodes().Head().(*TryBlock)
	require.True(t, ok)
	require.Equal(t, 1, try.Children().Len())

	self.Update(map[string]any{"flag": false})
	require.Nil(t, result.Rerender(RerenderOptions{}))
	require.Equal(t, "B!", dom.Serialize(root))
	require.Equal(t, 1, try.Children().Len())

	self.Update(map[string]any{"flag": "yes"})
	require.Nil(t, result.Rerender(RerenderOptions{}))
	require.Equal(t, "A!", dom.Serialize(root))
}

func TestGuardOutsideBlockFaults(t *testing.T) {
	p := assemble(t, 0, nil, func(b *asm.Builder) {
		b.GetPath(0, "flag")
		b.JumpUnless("else")
		b.Text("A")
		b.Label("else")
		b.GetPath(0, "name")
		b.AppendText()
	})
	result, root, self := p.render(t, map[string]any{"flag": true, "name": "x"})
	require.Equal(t, "Ax", dom.Serialize(root))

	self.Update(map[string]any{"flag": false, "name": "y"})
	err := result.Rerender(RerenderOptions{})
	require.NotNil(t, err)
	require.True(t, errz.IsKind(err, errz.StructuralFault), err.Error())
	require.Contains(t, err.Error(), "guard changed outside of a block")
}

func TestBlockRerenderFaultIsNotAggregated(t *testing.T) {
	boom := errors.New("boom")
	resolver := bytecode.MapResolver{
		"fail": Helper(func(PublicVM, reference.PathReference) (reference.PathReference, error) {
			return nil, boom
		}),
	}
	p := assemble(t, 0, resolver, func(b *asm.Builder) {
		b.If(func() { b.GetPath(0, "flag") },
			func() { b.Text("A") },
			func() {
				b.PrimitiveNull()
				b.Helper("fail")
			})
	})
	result, _, self := p.render(t, map[string]any{"flag": true})

	self.Update(map[string]any{"flag": false})
	err := result.Rerender(RerenderOptions{})
	require.NotNil(t, err)
	_, aggregated := err.(*multierror.Error)
	require.False(t, aggregated, err.Error())
	require.True(t, errors.Is(err, boom))
	require.True(t, errz.IsKind(err, errz.InterpreterFault))
	require.NotContains(t, err.Error(), "error occurred")
}

func TestEmptyBranchKeepsPosition(t *testing.T) {
	p := assemble(t, 0, nil, func(b *asm.Builder) {
		b.Text("[")
		b.If(func() { b.GetPath(0, "flag") }, func() { b.Text("x") }, nil)
		b.Text("]")
	})
	result, root, self := p.render(t, map[string]any{"flag": false})
	require.Equal(t, "[<!---->]", dom.Serialize(root))

	self.Update(map[string]any{"flag": true})
	require.Nil(t, result.Rerender(RerenderOptions{}))
	require.Equal(t, "[x]", dom.Serialize(root))

	self.Update(map[string]any{"flag": false})
	require.Nil(t, result.Rerender(RerenderOptions{}))
	require.Equal(t, "[<!---->]", dom.Serialize(root))
}

func TestStackDisciplineRestoresRegisters(t *testing.T) {
	p := assemble(t, 1, nil, func(b *asm.Builder) {
		b.If(func() { b.GetPath(0, "outer") }, func() {
			b.If(func() { b.GetPath(0, "inner") }, func() { b.Text("both") }, nil)
		}, nil)
		b.Each(func() { b.GetPath(0, "items") }, "@index", 1, 0, func() {
			b.GetVariable(1)
			b.AppendText()
		}, nil)
	})
	vm, root, _ := p.start(t, map[string]any{"outer": true, "inner": true, "items": []any{"x", "y"}})
	inner := vm.Inner()
	before := []int{inner.RA(), inner.FP(), inner.SP()}

	_, err := vm.ExecuteAll()
	require.Nil(t, err)
	require.Equal(t, "bothxy", dom.Serialize(root))
	require.Equal(t, before, []int{inner.RA(), inner.FP(), inner.SP()})
}

func TestCacheGroupSkipsUnchangedSpan(t *testing.T) {
	tr := newTracker()
	p := assemble(t, 0, bytecode.MapResolver{"track": tr.helper()}, func(b *asm.Builder) {
		b.CacheGroup(func() {
			b.If(func() { b.GetPath(0, "flag") }, func() {
				b.PrimitiveString("A")
				b.Helper("track")
				b.AppendText()
			}, func() {
				b.PrimitiveString("B")
				b.Helper("track")
				b.AppendText()
			})
		})
	})
	obs := newCountingObserver()
	result, root, self := p.render(t, map[string]any{"flag": true}, WithObserver(obs))
	require.Equal(t, "A", dom.Serialize(root))
	require.Equal(t, map[string]int{"A": 1}, tr.created)

	ops := result.Opcodes().Slice()
	require.Len(t, ops, 4)
	guard, ok := ops[0].(*JumpIfNotModified)
	require.True(t, ok)
	require.IsType(t, &TryBlock{}, ops[1])
	require.IsType(t, &DidModify{}, ops[2])
	require.IsType(t, &Label{}, ops[3])

	// Nothing changed: the span is skipped.
	require.Nil(t, result.Rerender(RerenderOptions{}))
	require.Equal(t, 0, obs.updates["try"])
	require.Equal(t, 0, obs.updates["assert"])
	require.Equal(t, 1, obs.updates["jump_if_not_modified"])
	require.Empty(t, tr.destroyed)

	// Same again: still skipped, nothing torn down.
	require.Nil(t, result.Rerender(RerenderOptions{}))
	require.Equal(t, 0, obs.updates["try"])
	require.Equal(t, map[string]int{"A": 1}, tr.created)
	require.Empty(t, tr.destroyed)

	// The flag flips: A is torn down and B renders.
	self.Update(map[string]any{"flag": false})
	require.Nil(t, result.Rerender(RerenderOptions{}))
	require.Equal(t, "B", dom.Serialize(root))
	require.Equal(t, 1, obs.updates["try"])
	require.Equal(t, 1, obs.updates["did_modify"])
	require.Equal(t, map[string]int{"A": 1, "B": 1}, tr.created)
	require.Equal(t, map[string]int{"A": 1}, tr.destroyed)
	require.Equal(t, guard.Tag().Value(), guard.LastRevision())

	require.Nil(t, result.Destroy())
	require.Equal(t, map[string]int{"A": 1, "B": 1}, tr.destroyed)
	require.Nil(t, result.Destroy())
	require.Equal(t, map[string]int{"A": 1, "B": 1}, tr.destroyed)
}

func TestCacheGroupRerunsChangedSpan(t *testing.T) {
	p := assemble(t, 0, nil, func(b *asm.Builder) {
		b.CacheGroup(func() {
			b.GetPath(0, "name")
			b.AppendText()
		})
		b.Text("/")
		b.GetPath(0, "other")
		b.AppendText()
	})
	obs := newCountingObserver()
	result, root, self := p.render(t, map[string]any{"name": "a", "other": "x"}, WithObserver(obs))
	require.Equal(t, "a/x", dom.Serialize(root))
	guard := result.Opcodes().Head().(*JumpIfNotModified)
	first := guard.LastRevision()

	self.Update(map[string]any{"name": "b", "other": "x"})
	require.Nil(t, result.Rerender(RerenderOptions{}))
	require.Equal(t, "b/x", dom.Serialize(root))
	require.Equal(t, 2, obs.updates["update_text"])
	require.Greater(t, guard.LastRevision(), first)
	require.Equal(t, self.Tag().Value(), guard.LastRevision())
}

func TestAlwaysRevalidateIgnoresGuards(t *testing.T) {
	p := assemble(t, 0, nil, func(b *asm.Builder) {
		b.CacheGroup(func() {
			b.GetPath(0, "name")
			b.AppendText()
		})
	})
	obs := newCountingObserver()
	result, _, _ := p.render(t, map[string]any{"name": "a"}, WithObserver(obs))

	require.Nil(t, result.Rerender(RerenderOptions{}))
	require.Equal(t, 0, obs.updates["update_text"])

	require.Nil(t, result.Rerender(RerenderOptions{AlwaysRevalidate: true}))
	require.Equal(t, 1, obs.updates["update_text"])
	require.Equal(t, 1, obs.updates["did_modify"])
}

func TestEmptyCacheGroup(t *testing.T) {
	p := assemble(t, 0, nil, func(b *asm.Builder) {
		b.CacheGroup(func() { b.Text("static") })
	})
	result, root, _ := p.render(t, nil)
	require.Equal(t, "static", dom.Serialize(root))
	ops := result.Opcodes().Slice()
	require.Len(t, ops, 3)
	guard := ops[0].(*JumpIfNotModified)
	require.True(t, reference.IsConst(guard.Tag()))
	require.Nil(t, result.Rerender(RerenderOptions{}))
}

func eachProgram(t *testing.T, tr *tracker) program {
	return assemble(t, 2, bytecode.MapResolver{"track": tr.helper()}, func(b *asm.Builder) {
		b.Element("ul", nil, func() {
			b.Each(func() { b.GetPath(0, "items") }, "@identity", 1, 2, func() {
				b.Element("li", nil, func() {
					b.GetVariable(1)
					b.Helper("track")
					b.AppendText()
				})
			}, func() {
				b.Text("empty")
			})
		})
	})
}

func listBlock(t *testing.T, result *RenderResult) *ListBlock {
	t.Helper()
	try, ok := result.Opcodes().Head().(*TryBlock)
	require.True(t, ok)
	for op := range try.Children().All() {
		if l, ok := op.(*ListBlock); ok {
			return l
		}
	}
	t.Fatal("no list block")
	return nil
}

func TestKeyedListReconciliation(t *testing.T) {
	tr := newTracker()
	p := eachProgram(t, tr)
	obs := newCountingObserver()
	result, root, self := p.render(t, map[string]any{"items": []any{"a", "b", "c"}}, WithObserver(obs))
	require.Equal(t, "<ul><li>a</li><li>b</li><li>c</li></ul>", dom.Serialize(root))

	list := listBlock(t, result)
	require.Equal(t, []string{"a", "b", "c"}, list.Keys())
	a, _ := list.Item("a")
	c, _ := list.Item("c")

	self.Update(map[string]any{"items": []any{"c", "a", "d"}})
	require.Nil(t, result.Rerender(RerenderOptions{}))
	require.Equal(t, "<ul><li>c</li><li>a</li><li>d</li></ul>", dom.Serialize(root))

	if diff := cmp.Diff([]string{"c", "a", "d"}, list.Keys()); diff != "" {
		t.Fatalf("keys mismatch (-want +got):\n%s", diff)
	}
	sameA, _ := list.Item("a")
	sameC, _ := list.Item("c")
	require.Same(t, a, sameA)
	require.Same(t, c, sameC)
	_, ok := list.Item("b")
	require.False(t, ok)

	require.Equal(t, map[string]int{"a": 1, "b": 1, "c": 1, "d": 1}, tr.created)
	require.Equal(t, map[string]int{"b": 1}, tr.destroyed)

	stats := list.LastSync()
	require.Equal(t, 1, stats.Inserted)
	require.Equal(t, 1, stats.Deleted)
	require.Equal(t, 1, stats.Moved)
	require.Equal(t, 1, obs.updates["assert"])

	require.Nil(t, result.Destroy())
	require.Equal(t, map[string]int{"a": 1, "b": 1, "c": 1, "d": 1}, tr.destroyed)
}

func TestListRetainedItemsUpdateInPlace(t *testing.T) {
	type row struct {
		ID    int
		Label string
	}
	p := assemble(t, 1, nil, func(b *asm.Builder) {
		b.Each(func() { b.GetPath(0, "rows") }, "ID", 1, 0, func() {
			b.GetPath(1, "Label")
			b.AppendText()
			b.Text(";")
		}, nil)
	})
	result, root, self := p.render(t, map[string]any{"rows": []row{{1, "one"}, {2, "two"}}})
	require.Equal(t, "one;two;", dom.Serialize(root))
	list := listBlock(t, result)
	first, _ := list.Item("1")

	self.Update(map[string]any{"rows": []row{{2, "TWO"}, {1, "one"}}})
	require.Nil(t, result.Rerender(RerenderOptions{}))
	require.Equal(t, "TWO;one;", dom.Serialize(root))
	same, _ := list.Item("1")
	require.Same(t, first, same)
	require.Equal(t, []string{"2", "1"}, list.Keys())
}

func TestListEmptyAndInverse(t *testing.T) {
	tr := newTracker()
	p := eachProgram(t, tr)
	result, root, self := p.render(t, map[string]any{"items": []any{}})
	require.Equal(t, "<ul>empty</ul>", dom.Serialize(root))

	self.Update(map[string]any{"items": []any{"x"}})
	require.Nil(t, result.Rerender(RerenderOptions{}))
	require.Equal(t, "<ul><li>x</li></ul>", dom.Serialize(root))

	self.Update(map[string]any{"items": nil})
	require.Nil(t, result.Rerender(RerenderOptions{}))
	require.Equal(t, "<ul>empty</ul>", dom.Serialize(root))
	require.Equal(t, map[string]int{"x": 1}, tr.destroyed)
}

func TestListDeleteToSingleItem(t *testing.T) {
	tr := newTracker()
	p := eachProgram(t, tr)
	result, root, self := p.render(t, map[string]any{"items": []any{"a", "b", "c"}})

	self.Update(map[string]any{"items": []any{"b"}})
	require.Nil(t, result.Rerender(RerenderOptions{}))
	require.Equal(t, "<ul><li>b</li></ul>", dom.Serialize(root))
	require.Equal(t, map[string]int{"a": 1, "c": 1}, tr.destroyed)

	self.Update(map[string]any{"items": []any{"z", "b", "y"}})
	require.Nil(t, result.Rerender(RerenderOptions{}))
	require.Equal(t, "<ul><li>z</li><li>b</li><li>y</li></ul>", dom.Serialize(root))
}

func TestCallerScopeLookupIsLateBound(t *testing.T) {
	caller := SizedScope(2)
	child := SizedScope(2)
	child.BindCallerScope(caller)

	v, err := child.GetSymbol(1)
	require.Nil(t, err)
	require.Same(t, reference.Undefined, v)

	late := reference.Const("late")
	require.Nil(t, caller.BindSymbol(1, late))
	v, err = child.GetSymbol(1)
	require.Nil(t, err)
	require.Same(t, late, v)

	own := reference.Const("own")
	require.Nil(t, child.BindSymbol(1, own))
	v, err = child.GetSymbol(1)
	require.Nil(t, err)
	require.Same(t, own, v)

	_, err = child.GetSymbol(3)
	require.True(t, errors.Is(err, ErrSymbolOutOfRange))
}

func TestRootScopeBindsCaller(t *testing.T) {
	p := assemble(t, 1, nil, func(b *asm.Builder) {
		b.PrimitiveString("outer")
		b.SetVariable(1)
		b.RootScope(1, true)
		b.GetVariable(1)
		b.AppendText()
		b.PopScope()
		b.RootScope(1, false)
		b.GetVariable(1)
		b.AppendText()
		b.PopScope()
	})
	_, root, _ := p.render(t, nil)
	require.Equal(t, "outer", dom.Serialize(root))
}

func TestChildScopeDoesNotLeak(t *testing.T) {
	parent := RootScope(reference.Const("self"), 1)
	require.Nil(t, parent.BindSymbol(1, reference.Const("p")))
	child := parent.Child()
	require.Nil(t, child.BindSymbol(1, reference.Const("c")))

	v, _ := parent.GetSymbol(1)
	require.Equal(t, "p", v.Value())
	require.Equal(t, "self", child.GetSelf().Value())
}

func TestDynamicScope(t *testing.T) {
	p := assemble(t, 0, nil, func(b *asm.Builder) {
		b.PushDynamicScope()
		b.PrimitiveString("blue")
		b.PrimitiveString("large")
		b.BindDynamicScope("color", "size")
		b.PrimitiveString("color")
		b.GetDynamicVar()
		b.AppendText()
		b.PrimitiveString("size")
		b.GetDynamicVar()
		b.AppendText()
		b.PopDynamicScope()
		b.PrimitiveString("color")
		b.GetDynamicVar()
		b.AppendText()
	})
	_, root, _ := p.render(t, nil)
	require.Equal(t, "bluelarge", dom.Serialize(root))

	outer := NewDynamicScope(map[string]reference.PathReference{"color": reference.Const("red")})
	root = dom.NewFragment()
	vm, err := Initial(p.runtime, reference.Undefined, outer, dom.NewBuilder(root, nil), p.handle)
	require.Nil(t, err)
	_, err = vm.ExecuteAll()
	require.Nil(t, err)
	require.Equal(t, "bluelargered", dom.Serialize(root))
}

func TestRegistersRoundTrip(t *testing.T) {
	p := assemble(t, 0, nil, func(b *asm.Builder) {
		b.PrimitiveString("kept")
		b.Load(lowlevel.S0)
		b.Fetch(lowlevel.S0)
		b.AppendText()
	})
	vm, root, _ := p.start(t, nil)
	require.Nil(t, vm.LoadValue(lowlevel.T0, 7))
	v, err := vm.FetchValue(lowlevel.T0)
	require.Nil(t, err)
	require.Equal(t, 7, v)

	_, err = vm.ExecuteAll()
	require.Nil(t, err)
	require.Equal(t, "kept", dom.Serialize(root))
}

func TestNextRunsInBatches(t *testing.T) {
	p := assemble(t, 0, nil, func(b *asm.Builder) {
		for i := 0; i < 5; i++ {
			b.PrimitiveString(fmt.Sprint(i))
			b.AppendText()
		}
	})
	vm, root, _ := p.start(t, nil, WithBatchSize(2))

	calls := 0
	var result IteratorResult
	for !result.Done {
		var err error
		result, err = vm.Next()
		require.Nil(t, err)
		calls++
		require.LessOrEqual(t, calls, 10)
		if !result.Done {
			require.Equal(t, Running, vm.State())
		}
	}
	require.Greater(t, calls, 2)
	require.Equal(t, Completed, vm.State())
	require.Equal(t, "01234", dom.Serialize(root))

	again, err := vm.Next()
	require.Nil(t, err)
	require.True(t, again.Done)
	require.Same(t, result.Value, again.Value)
}

func TestNextFlushesBufferedOutput(t *testing.T) {
	p := assemble(t, 0, nil, func(b *asm.Builder) {
		b.Text("a")
		b.Text("b")
		b.Text("c")
		b.PrimitiveNull()
		b.Pop(1)
	})
	vm, root, _ := p.start(t, nil, WithBatchSize(2))
	result, err := vm.Next()
	require.Nil(t, err)
	require.False(t, result.Done)
	require.Equal(t, "ab", dom.Serialize(root))
	require.Equal(t, 0, vm.Inner().Pending())
}

func TestFaultFlushesAndReleasesOnce(t *testing.T) {
	p := assemble(t, 0, nil, func(b *asm.Builder) {
		b.Text("a")
		b.Text("b")
		b.Pop(3)
		b.Text("never")
	})
	vm, root, _ := p.start(t, nil)
	_, err := vm.ExecuteAll()
	require.NotNil(t, err)
	require.True(t, errz.IsKind(err, errz.StackFault))
	require.True(t, errors.Is(err, lowlevel.ErrStackUnderflow))
	require.Equal(t, "ab", dom.Serialize(root))
	require.Equal(t, Faulted, vm.State())
	require.Equal(t, 1, vm.Inner().Releases())

	_, again := vm.ExecuteAll()
	require.Same(t, err, again)
	_, again = vm.Next()
	require.Same(t, err, again)
	require.Equal(t, 1, vm.Inner().Releases())
}

func TestMachineFaultFlushesPendingOutput(t *testing.T) {
	p := assemble(t, 0, nil, func(b *asm.Builder) {
		b.Text("pending")
		b.PopFrame()
	})
	vm, root, _ := p.start(t, nil)
	_, err := vm.ExecuteAll()
	require.True(t, errz.IsKind(err, errz.StackFault))
	require.Equal(t, "pending", dom.Serialize(root))
	require.Equal(t, 1, vm.Inner().Releases())
}

func TestCompletionReleasesOnce(t *testing.T) {
	p := assemble(t, 0, nil, func(b *asm.Builder) { b.Text("x") })
	vm, _, _ := p.start(t, nil)
	first, err := vm.ExecuteAll()
	require.Nil(t, err)
	second, err := vm.ExecuteAll()
	require.Nil(t, err)
	require.Same(t, first, second)
	require.True(t, vm.Inner().Released())
	require.Equal(t, 1, vm.Inner().Releases())
}

func TestStructuralFaults(t *testing.T) {
	tests := []struct {
		name string
		body func(b *asm.Builder)
		want string
	}{
		{"pop scope", func(b *asm.Builder) { b.PopScope() }, "pop of empty scope stack"},
		{"pop dynamic scope", func(b *asm.Builder) { b.PopDynamicScope() }, "pop of empty dynamic scope stack"},
		{"exit root", func(b *asm.Builder) { b.Exit() }, "exit of the root updating list"},
		{"exit list", func(b *asm.Builder) {
			b.PrimitiveNull()
			b.Enter(1)
			b.ExitList()
		}, "exit of a list outside of a list"},
		{"commit", func(b *asm.Builder) { b.CommitCacheGroup() }, "commit without an open cache group"},
		{"open group", func(b *asm.Builder) { b.BeginCacheGroup() }, "uncommitted cache groups"},
		{"open block", func(b *asm.Builder) {
			b.PrimitiveNull()
			b.Enter(1)
		}, "open updating lists"},
		{"scope left open", func(b *asm.Builder) {
			b.PrimitiveNull()
			b.Enter(1)
			b.ChildScope()
			b.Exit()
		}, "exit with scope depth 2, entered at 1"},
		{"scope popped past entry", func(b *asm.Builder) {
			b.ChildScope()
			b.PrimitiveNull()
			b.Enter(1)
			b.PopScope()
			b.Exit()
		}, "exit with scope depth 1, entered at 2"},
		{"dynamic scope left open", func(b *asm.Builder) {
			b.PrimitiveNull()
			b.Enter(1)
			b.PushDynamicScope()
			b.Exit()
		}, "exit with dynamic scope depth"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := assemble(t, 0, nil, tt.body)
			vm, _, _ := p.start(t, nil)
			_, err := vm.ExecuteAll()
			require.NotNil(t, err)
			require.True(t, errz.IsKind(err, errz.StructuralFault), err.Error())
			require.Contains(t, err.Error(), tt.want)
			require.Equal(t, 1, vm.Inner().Releases())
		})
	}
}

func TestHelperErrors(t *testing.T) {
	boom := errors.New("boom")
	resolver := bytecode.MapResolver{
		"fail": Helper(func(PublicVM, reference.PathReference) (reference.PathReference, error) {
			return nil, boom
		}),
		"notahelper": 42,
	}
	p := assemble(t, 0, resolver, func(b *asm.Builder) {
		b.PrimitiveNull()
		b.Helper("fail")
	})
	vm, _, _ := p.start(t, nil)
	_, err := vm.ExecuteAll()
	require.True(t, errz.IsKind(err, errz.InterpreterFault))
	require.True(t, errors.Is(err, boom))
	f, ok := errz.AsFault(err)
	require.True(t, ok)
	require.Equal(t, "HELPER", f.Opcode)

	p = assemble(t, 0, resolver, func(b *asm.Builder) {
		b.PrimitiveNull()
		b.Helper("notahelper")
	})
	vm, _, _ = p.start(t, nil)
	_, err = vm.ExecuteAll()
	require.Contains(t, err.Error(), `"notahelper" is not a helper`)
}

func TestPlainFuncHelper(t *testing.T) {
	upper := func(vm PublicVM, args reference.PathReference) (reference.PathReference, error) {
		return reference.Map(args, func(v any) any { return fmt.Sprintf("<%v>", v) }), nil
	}
	p := assemble(t, 0, bytecode.MapResolver{"wrap": upper}, func(b *asm.Builder) {
		b.GetPath(0, "name")
		b.Helper("wrap")
		b.AppendText()
	})
	result, root, self := p.render(t, map[string]any{"name": "x"})
	require.Equal(t, "&lt;x&gt;", dom.Serialize(root))
	self.Update(map[string]any{"name": "y"})
	require.Nil(t, result.Rerender(RerenderOptions{}))
	require.Equal(t, "&lt;y&gt;", dom.Serialize(root))
}

func TestObserverHalts(t *testing.T) {
	p := assemble(t, 0, nil, func(b *asm.Builder) {
		b.PrimitiveString("a")
		b.AppendText()
	})
	vm, _, _ := p.start(t, nil, WithObserver(haltingObserver{}))
	_, err := vm.ExecuteAll()
	require.True(t, errz.IsKind(err, errz.InterpreterFault))
	require.Contains(t, err.Error(), errObserverHalt)
}

type haltingObserver struct{ NoOpObserver }

func (haltingObserver) OnStep(StepEvent) bool { return false }

func TestObserverEvents(t *testing.T) {
	p := assemble(t, 1, nil, func(b *asm.Builder) {
		b.If(func() { b.GetPath(0, "flag") }, func() { b.Text("y") }, nil)
		b.Each(func() { b.GetPath(0, "items") }, "@index", 1, 0, func() {}, nil)
	})
	obs := newCountingObserver()
	_, _, _ = p.render(t, map[string]any{"flag": true, "items": []any{"p"}}, WithObserver(obs))

	var kinds []string
	for _, e := range obs.blocks {
		kinds = append(kinds, e.Kind.String())
	}
	require.Equal(t, []string{
		"enter", "exit",
		"enter", "enter_list", "enter_item", "exit", "exit_list", "exit",
	}, kinds)
	require.Equal(t, "0", obs.blocks[4].Key)
	require.Contains(t, obs.steps, "ENTER")
	require.NotContains(t, obs.steps, "PUSH_FRAME")
}

func TestSampledSteps(t *testing.T) {
	p := assemble(t, 0, nil, func(b *asm.Builder) {
		for i := 0; i < 6; i++ {
			b.PrimitiveNull()
			b.Pop(1)
		}
	})
	obs := &sampledObserver{}
	_, _, _ = p.render(t, nil, WithObserver(obs))
	require.Equal(t, 4, obs.steps)
}

type sampledObserver struct {
	NoOpObserver
	steps int
}

func (o *sampledObserver) Config() ObserverConfig {
	cfg := NewObserverConfig(StepSampled)
	cfg.SampleInterval = 3
	return cfg
}

func (o *sampledObserver) OnStep(StepEvent) bool {
	o.steps++
	return true
}

func TestEmptyVM(t *testing.T) {
	p := assemble(t, 0, nil, func(b *asm.Builder) { b.Text("e") })
	root := dom.NewFragment()
	vm, err := Empty(p.runtime, dom.NewBuilder(root, nil))
	require.Nil(t, err)
	result, err := vm.Execute(p.handle, nil)
	require.Nil(t, err)
	require.Equal(t, "e", dom.Serialize(root))
	require.NotEqual(t, "", result.ID().String())
	require.Equal(t, vm.ID(), result.ID())
}

func TestExecuteInitializerError(t *testing.T) {
	p := assemble(t, 0, nil, func(b *asm.Builder) { b.Text("e") })
	vm, err := Empty(p.runtime, dom.NewBuilder(dom.NewFragment(), nil))
	require.Nil(t, err)
	_, err = vm.Execute(p.handle, func(*VM) error { return errors.New("init failed") })
	require.True(t, errz.IsKind(err, errz.InterpreterFault))
	require.Equal(t, Faulted, vm.State())
}

func TestStackOverflow(t *testing.T) {
	p := assemble(t, 0, nil, func(b *asm.Builder) {
		for i := 0; i < 10; i++ {
			b.PrimitiveNull()
		}
	})
	vm, _, _ := p.start(t, nil, WithMaxStackDepth(4))
	_, err := vm.ExecuteAll()
	require.True(t, errz.IsKind(err, errz.StackFault))
	require.True(t, errors.Is(err, lowlevel.ErrStackOverflow))
}
