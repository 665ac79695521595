// Package errz defines the faults raised by the rendervm interpreter.
package errz

import (
	"bytes"
	"errors"
	"fmt"
)

// FaultKind represents the category of a fault.
type FaultKind int

const (
	// StackFault indicates a stack underflow or overflow, or an out of
	// bounds stack or register access.
	StackFault FaultKind = iota
	// StructuralFault indicates a pop of an empty scope, dynamic scope,
	// updating list or list block stack.
	StructuralFault
	// InterpreterFault indicates a failed instruction step.
	InterpreterFault
)

// String returns the string representation of the fault kind.
func (k FaultKind) String() string {
	switch k {
	case StackFault:
		return "stack fault"
	case StructuralFault:
		return "structural fault"
	case InterpreterFault:
		return "interpreter fault"
	default:
		return "fault"
	}
}

// Fault is the error returned for every failed render. Faults are never
// recovered from inside the VM.
type Fault struct {
	Message string
	Kind    FaultKind
	// PC is the program counter of the failing instruction, or -1 when
	// the fault happened outside of an instruction.
	PC int
	// Opcode is the name of the failing instruction, if known.
	Opcode string
	Cause  error
}

// Error implements the error interface.
func (f *Fault) Error() string {
	if f.PC < 0 {
		return fmt.Sprintf("%s: %s", f.Kind, f.Message)
	}
	if f.Opcode == "" {
		return fmt.Sprintf("%s: %s (pc %d)", f.Kind, f.Message, f.PC)
	}
	return fmt.Sprintf("%s: %s (pc %d, %s)", f.Kind, f.Message, f.PC, f.Opcode)
}

// Unwrap returns the underlying cause of the fault.
func (f *Fault) Unwrap() error {
	return f.Cause
}

// FriendlyErrorMessage returns a multi-line description of the fault and
// its chain of causes.
func (f *Fault) FriendlyErrorMessage() string {
	var msg bytes.Buffer
	msg.WriteString(f.Error())
	msg.WriteString("\n")
	depth := 1
	for cause := f.Cause; cause != nil; cause = errors.Unwrap(cause) {
		msg.WriteString(fmt.Sprintf("%*scaused by: %s\n", depth*2, "", cause))
		depth++
	}
	return msg.String()
}

// NewFaultf creates a new Fault with a formatted message.
func NewFaultf(kind FaultKind, pc int, format string, args ...any) *Fault {
	return &Fault{
		Message: fmt.Sprintf(format, args...),
		Kind:    kind,
		PC:      pc,
	}
}

// WithCause wraps the fault with a cause.
func (f *Fault) WithCause(cause error) *Fault {
	f.Cause = cause
	return f
}

// WithOpcode records the name of the failing instruction.
func (f *Fault) WithOpcode(name string) *Fault {
	f.Opcode = name
	return f
}

// AsFault returns the Fault in err's chain, if any.
func AsFault(err error) (*Fault, bool) {
	var f *Fault
	if errors.As(err, &f) {
		return f, true
	}
	return nil, false
}

// IsKind reports whether err's chain contains a Fault of the given kind.
func IsKind(err error, kind FaultKind) bool {
	f, ok := AsFault(err)
	return ok && f.Kind == kind
}
