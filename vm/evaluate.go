package vm

import (
	"fmt"

	"github.com/cloudcmds/rendervm/bytecode"
	"github.com/cloudcmds/rendervm/dom"
	"github.com/cloudcmds/rendervm/errz"
	"github.com/cloudcmds/rendervm/lowlevel"
	"github.com/cloudcmds/rendervm/op"
	"github.com/cloudcmds/rendervm/reference"
)

// appendHost connects the machine layer to the VM without exposing the
// host methods on VM itself.
type appendHost struct {
	vm *VM
}

func (h appendHost) Evaluate(opcode bytecode.Opcode) error {
	if err := h.vm.observeStep(opcode); err != nil {
		return err
	}
	return h.vm.evaluate(opcode)
}

func (h appendHost) Flush(instructions []lowlevel.Instruction) error {
	return h.vm.executeInstructions(instructions)
}

func (vm *VM) observeStep(opcode bytecode.Opcode) error {
	if vm.observer == nil {
		return nil
	}
	switch vm.obsConfig.StepMode {
	case StepNone:
		return nil
	case StepSampled:
		vm.steps++
		if vm.steps%vm.obsConfig.SampleInterval != 0 {
			return nil
		}
	}
	event := StepEvent{
		PC:         opcode.Offset,
		Opcode:     opcode.Type,
		OpcodeName: opcode.Name(),
		StackDepth: vm.stack.Len(),
		ScopeDepth: len(vm.scopes),
		BlockDepth: len(vm.blocks),
	}
	if !vm.observer.OnStep(event) {
		return errz.NewFaultf(errz.InterpreterFault, -1, errObserverHalt)
	}
	return nil
}

// executeInstructions applies buffered builder instructions.
func (vm *VM) executeInstructions(instructions []lowlevel.Instruction) error {
	constants := vm.runtime.Program.Constants()
	for _, ins := range instructions {
		switch ins.Type {
		case op.Text:
			s, err := constants.GetString(int(ins.Op1))
			if err != nil {
				return err
			}
			vm.builder.AppendText(s)
		case op.Comment:
			s, err := constants.GetString(int(ins.Op1))
			if err != nil {
				return err
			}
			vm.builder.AppendComment(s)
		case op.OpenElement:
			tag, err := constants.GetString(int(ins.Op1))
			if err != nil {
				return err
			}
			vm.builder.OpenElement(tag)
		case op.FlushElement:
			if err := vm.builder.FlushElement(); err != nil {
				return err
			}
		case op.CloseElement:
			if err := vm.builder.CloseElement(); err != nil {
				return err
			}
		case op.StaticAttr:
			name, err := constants.GetString(int(ins.Op1))
			if err != nil {
				return err
			}
			value, err := constants.GetString(int(ins.Op2))
			if err != nil {
				return err
			}
			if err := vm.builder.SetStaticAttribute(name, value); err != nil {
				return err
			}
		default:
			return fmt.Errorf("%s is not a builder instruction", op.GetInfo(ins.Type).Name)
		}
	}
	return nil
}

// evaluate runs one append opcode. The program counter already points
// past it.
func (vm *VM) evaluate(opcode bytecode.Opcode) error {
	constants := vm.runtime.Program.Constants()
	op1, op2 := int(opcode.Op1()), int(opcode.Op2())

	switch opcode.Type {

	case op.Primitive:
		v, err := vm.primitive(op.PrimitiveKind(op1), op2)
		if err != nil {
			return err
		}
		return vm.stack.Push(reference.Const(v))

	case op.Dup:
		v, err := vm.FetchValue(lowlevel.Register(op1))
		if err != nil {
			return err
		}
		base, ok := v.(int)
		if !ok {
			return fmt.Errorf("%w: %s does not hold a stack position", lowlevel.ErrOutOfBounds, lowlevel.Register(op1))
		}
		return vm.stack.Dup(base - op2)

	case op.Pop:
		return vm.stack.PopN(op1)

	case op.Load:
		v, err := vm.stack.Pop()
		if err != nil {
			return err
		}
		return vm.LoadValue(lowlevel.Register(op1), v)

	case op.Fetch:
		v, err := vm.FetchValue(lowlevel.Register(op1))
		if err != nil {
			return err
		}
		return vm.stack.Push(v)

	case op.GetSelf:
		return vm.stack.Push(vm.GetSelf())

	case op.GetVariable:
		ref, err := vm.Scope().GetSymbol(op1)
		if err != nil {
			return err
		}
		return vm.stack.Push(ref)

	case op.SetVariable:
		ref, err := vm.popReference()
		if err != nil {
			return err
		}
		return vm.Scope().BindSymbol(op1, asPath(ref))

	case op.BindSymbols:
		symbols, err := constants.GetArray(op1)
		if err != nil {
			return err
		}
		for i := len(symbols) - 1; i >= 0; i-- {
			ref, err := vm.popReference()
			if err != nil {
				return err
			}
			if err := vm.Scope().BindSymbol(symbols[i], asPath(ref)); err != nil {
				return err
			}
		}
		return nil

	case op.GetProperty:
		key, err := constants.GetString(op1)
		if err != nil {
			return err
		}
		ref, err := vm.popReference()
		if err != nil {
			return err
		}
		return vm.stack.Push(asPath(ref).Get(key))

	case op.RootScope:
		vm.PushRootScope(op1, op2 != 0)
		return nil

	case op.ChildScope:
		vm.PushChildScope()
		return nil

	case op.PopScope:
		return vm.PopScope()

	case op.PushDynamicScope:
		vm.PushDynamicScope()
		return nil

	case op.PopDynamicScope:
		return vm.PopDynamicScope()

	case op.BindDynamicScope:
		names, err := constants.GetStringArray(op1)
		if err != nil {
			return err
		}
		scope := vm.DynamicScope()
		for i := len(names) - 1; i >= 0; i-- {
			ref, err := vm.popReference()
			if err != nil {
				return err
			}
			scope.Set(names[i], asPath(ref))
		}
		return nil

	case op.GetDynamicVar:
		name, err := vm.popReference()
		if err != nil {
			return err
		}
		return vm.stack.Push(vm.DynamicScope().Get(dom.Stringify(name.Value())))

	case op.ToBoolean:
		ref, err := vm.popReference()
		if err != nil {
			return err
		}
		return vm.stack.Push(vm.env.ToConditionalReference(ref))

	case op.JumpIf:
		return vm.conditionalJump(op1, true)

	case op.JumpUnless:
		return vm.conditionalJump(op1, false)

	case op.AppendText:
		ref, err := vm.popReference()
		if err != nil {
			return err
		}
		if reference.IsConst(ref.Tag()) {
			vm.builder.AppendText(dom.Stringify(ref.Value()))
			return nil
		}
		cache := reference.NewCache(ref)
		node := vm.builder.AppendText(dom.Stringify(cache.Peek()))
		return vm.UpdateWith(&UpdateText{cache: cache, node: node})

	case op.DynamicAttr:
		name, err := constants.GetString(op1)
		if err != nil {
			return err
		}
		ref, err := vm.popReference()
		if err != nil {
			return err
		}
		cache := reference.NewCache(ref)
		attr, err := vm.builder.SetDynamicAttribute(name, cache.Peek())
		if err != nil {
			return err
		}
		if reference.IsConst(ref.Tag()) {
			return nil
		}
		return vm.UpdateWith(&UpdateAttribute{cache: cache, attr: attr})

	case op.Helper:
		return vm.callHelper(op1)

	case op.Enter:
		return vm.Enter(op1)

	case op.Exit:
		return vm.Exit()

	case op.PutIterator:
		return vm.putIterator()

	case op.EnterList:
		return vm.EnterList(op1)

	case op.ExitList:
		return vm.ExitList()

	case op.Iterate:
		top, err := vm.stack.Peek(0)
		if err != nil {
			return err
		}
		iterator, ok := top.(*reference.ReferenceIterator)
		if !ok {
			return fmt.Errorf("expected an iterator on the stack, got %T", top)
		}
		item, ok := iterator.Next()
		if !ok {
			vm.inner.Goto(op1)
			return nil
		}
		t, err := vm.Iterate(item.Memo, item.Value)
		if err != nil {
			return err
		}
		return vm.EnterItem(item.Key, t)

	case op.BeginCacheGroup:
		return vm.BeginCacheGroup()

	case op.CommitCacheGroup:
		return vm.CommitCacheGroup()

	default:
		return fmt.Errorf("%s is not an append opcode", opcode.Name())
	}
}

func (vm *VM) primitive(kind op.PrimitiveKind, operand int) (any, error) {
	constants := vm.runtime.Program.Constants()
	switch kind {
	case op.PrimitiveString:
		return constants.GetString(operand)
	case op.PrimitiveNumber:
		return constants.GetNumber(operand)
	case op.PrimitiveSerializable:
		return constants.GetSerializable(operand)
	case op.PrimitiveTrue:
		return true, nil
	case op.PrimitiveFalse:
		return false, nil
	case op.PrimitiveNull:
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown primitive kind %d", int32(kind))
	}
}

func (vm *VM) popReference() (reference.Reference, error) {
	v, err := vm.stack.Pop()
	if err != nil {
		return nil, err
	}
	ref, ok := v.(reference.Reference)
	if !ok {
		return nil, fmt.Errorf("expected a reference on the stack, got %T", v)
	}
	return ref, nil
}

// conditionalJump jumps when the truthiness of the popped reference
// equals want. Decisions on mutable references are guarded by an Assert
// so the enclosing block re-renders when they change.
func (vm *VM) conditionalJump(offset int, want bool) error {
	ref, err := vm.popReference()
	if err != nil {
		return err
	}
	if reference.IsConst(ref.Tag()) {
		if reference.Truthy(ref.Value()) == want {
			vm.inner.Goto(offset)
		}
		return nil
	}
	cache := reference.NewCache(ref)
	if reference.Truthy(cache.Peek()) == want {
		vm.inner.Goto(offset)
	}
	return vm.UpdateWith(&Assert{cache: cache})
}

// putIterator pops a list and its key path and pushes an iterator over
// the list followed by a reference to whether the list has items.
func (vm *VM) putIterator() error {
	list, err := vm.popReference()
	if err != nil {
		return err
	}
	keyRef, err := vm.popReference()
	if err != nil {
		return err
	}
	iterable := vm.env.IterableFor(list, dom.Stringify(keyRef.Value()))
	artifacts := reference.NewIterationArtifacts(iterable)
	if err := vm.stack.Push(artifacts.Iterator()); err != nil {
		return err
	}
	return vm.stack.Push(presenceReference{iterable: iterable})
}

func (vm *VM) callHelper(handle int) error {
	constants := vm.runtime.Program.Constants()
	resolved, err := constants.ResolveHandle(handle)
	if err != nil {
		return err
	}
	var helper Helper
	switch fn := resolved.(type) {
	case Helper:
		helper = fn
	case func(PublicVM, reference.PathReference) (reference.PathReference, error):
		helper = fn
	default:
		name, _ := constants.HandleName(handle)
		return fmt.Errorf("%q is not a helper (%T)", name, resolved)
	}
	args, err := vm.popReference()
	if err != nil {
		return err
	}
	result, err := helper(vm, asPath(args))
	if err != nil {
		name, _ := constants.HandleName(handle)
		return errz.NewFaultf(errz.InterpreterFault, -1, "helper %q failed", name).WithCause(err)
	}
	if result == nil {
		result = reference.Undefined
	}
	return vm.stack.Push(result)
}

// asPath returns ref as a PathReference, wrapping references that do not
// support property lookups.
func asPath(ref reference.Reference) reference.PathReference {
	if p, ok := ref.(reference.PathReference); ok {
		return p
	}
	return reference.Map(ref, func(v any) any { return v })
}
