package errz

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFaultKindString(t *testing.T) {
	require.Equal(t, "stack fault", StackFault.String())
	require.Equal(t, "structural fault", StructuralFault.String())
	require.Equal(t, "interpreter fault", InterpreterFault.String())
	require.Equal(t, "fault", FaultKind(42).String())
}

func TestFaultError(t *testing.T) {
	f := NewFaultf(StackFault, -1, "underflow by %d", 2)
	require.Equal(t, "stack fault: underflow by 2", f.Error())

	f = NewFaultf(InterpreterFault, 12, "boom")
	require.Equal(t, "interpreter fault: boom (pc 12)", f.Error())

	f.WithOpcode("HELPER")
	require.Equal(t, "interpreter fault: boom (pc 12, HELPER)", f.Error())
}

func TestFaultUnwrap(t *testing.T) {
	sentinel := errors.New("sentinel")
	f := NewFaultf(StructuralFault, 3, "empty scope stack").WithCause(sentinel)
	wrapped := fmt.Errorf("render: %w", f)

	require.True(t, errors.Is(wrapped, sentinel))
	got, ok := AsFault(wrapped)
	require.True(t, ok)
	require.Equal(t, f, got)
	require.True(t, IsKind(wrapped, StructuralFault))
	require.False(t, IsKind(wrapped, StackFault))
	require.False(t, IsKind(sentinel, StackFault))
}

func TestFriendlyErrorMessage(t *testing.T) {
	inner := errors.New("no more room")
	f := NewFaultf(StackFault, 4, "push failed").WithCause(fmt.Errorf("write: %w", inner))
	require.Equal(t,
		"stack fault: push failed (pc 4)\n  caused by: write: no more room\n    caused by: no more room\n",
		f.FriendlyErrorMessage())
}
