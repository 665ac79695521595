package vm

import (
	"fmt"

	"github.com/cloudcmds/rendervm/errz"
	"github.com/rs/zerolog"
)

// updatingFrame walks one updating list. The handler, if any, is asked
// to recover when an opcode in the list throws.
type updatingFrame struct {
	ops     *OpcodeList
	current UpdatingOpcode
	handler exceptionHandler
}

// UpdatingVM replays an updating program.
type UpdatingVM struct {
	env              Environment
	logger           zerolog.Logger
	observer         Observer
	observeUpdates   bool
	alwaysRevalidate bool
	frames           []*updatingFrame
	evaluated        int
}

// NewUpdatingVM returns an updating VM. With alwaysRevalidate, cache
// group guards never skip their spans.
func NewUpdatingVM(env Environment, logger zerolog.Logger, observer Observer, alwaysRevalidate bool) *UpdatingVM {
	vm := &UpdatingVM{
		env:              env,
		logger:           logger,
		observer:         observer,
		alwaysRevalidate: alwaysRevalidate,
	}
	if observer != nil {
		vm.observeUpdates = NormalizeConfig(observer.Config()).ObserveUpdates
	}
	return vm
}

// Env returns the environment.
func (vm *UpdatingVM) Env() Environment { return vm.env }

// Evaluated returns how many updating opcodes the last Execute evaluated.
func (vm *UpdatingVM) Evaluated() int { return vm.evaluated }

// Execute evaluates ops until every frame is done.
func (vm *UpdatingVM) Execute(ops *OpcodeList) error {
	vm.evaluated = 0
	vm.frames = nil
	vm.Try(ops, nil)
	for len(vm.frames) > 0 {
		op := vm.nextStatement()
		if op == nil {
			vm.frames = vm.frames[:len(vm.frames)-1]
			continue
		}
		vm.evaluated++
		if err := vm.observe(op); err != nil {
			return err
		}
		if err := op.Evaluate(vm); err != nil {
			return err
		}
	}
	vm.logger.Debug().Int("evaluated", vm.evaluated).Msg("revalidated")
	return nil
}

func (vm *UpdatingVM) frame() *updatingFrame {
	return vm.frames[len(vm.frames)-1]
}

func (vm *UpdatingVM) nextStatement() UpdatingOpcode {
	f := vm.frame()
	op := f.current
	if op != nil {
		f.current = f.ops.Next(op)
	}
	return op
}

// Goto continues the current frame at op.
func (vm *UpdatingVM) Goto(op UpdatingOpcode) {
	vm.frame().current = op
}

// Try evaluates ops in a new frame. When an opcode throws, the handler
// recovers and the rest of the frame is skipped.
func (vm *UpdatingVM) Try(ops *OpcodeList, handler exceptionHandler) {
	vm.frames = append(vm.frames, &updatingFrame{
		ops:     ops,
		current: ops.Head(),
		handler: handler,
	})
}

// Throw hands control to the current frame's handler and abandons the
// frame. A frame without a handler cannot recover, so the throw is a
// fault.
func (vm *UpdatingVM) Throw() error {
	if len(vm.frames) == 0 {
		return errz.NewFaultf(errz.StructuralFault, -1, "throw outside of an updating frame")
	}
	f := vm.frame()
	vm.frames = vm.frames[:len(vm.frames)-1]
	if f.handler == nil {
		return errz.NewFaultf(errz.StructuralFault, -1, "guard changed outside of a block")
	}
	return f.handler.HandleException()
}

func (vm *UpdatingVM) observe(op UpdatingOpcode) error {
	if !vm.observeUpdates {
		return nil
	}
	if !vm.observer.OnUpdate(UpdateEvent{Opcode: opcodeName(op), FrameDepth: len(vm.frames)}) {
		return errz.NewFaultf(errz.InterpreterFault, -1, errObserverHalt)
	}
	return nil
}

func opcodeName(op UpdatingOpcode) string {
	switch op.(type) {
	case *UpdateText:
		return "update_text"
	case *UpdateAttribute:
		return "update_attribute"
	case *Assert:
		return "assert"
	case *Label:
		return "label"
	case *JumpIfNotModified:
		return "jump_if_not_modified"
	case *DidModify:
		return "did_modify"
	case *TryBlock:
		return "try"
	case *ListBlock:
		return "list"
	default:
		return fmt.Sprintf("%T", op)
	}
}
