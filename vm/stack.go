package vm

import (
	"fmt"

	"github.com/cloudcmds/rendervm/lowlevel"
)

// EvaluationStack is the operand stack of the append VM. It shares the
// machine stack with the call frames: values live above $fp and $sp
// points at the top value.
type EvaluationStack struct {
	inner *lowlevel.VM
}

// Push pushes v.
func (s *EvaluationStack) Push(v any) error {
	b, err := s.inner.Context().Encode(v)
	if err != nil {
		return err
	}
	sp := s.inner.SP() + 1
	if err := s.inner.Stack().Write(sp, b); err != nil {
		return err
	}
	s.inner.SetSP(sp)
	return nil
}

// Pop removes and returns the top value.
func (s *EvaluationStack) Pop() (any, error) {
	v, err := s.Peek(0)
	if err != nil {
		return nil, err
	}
	s.inner.SetSP(s.inner.SP() - 1)
	return v, nil
}

// PopN discards the top n values.
func (s *EvaluationStack) PopN(n int) error {
	if n < 0 || s.inner.SP()+1 < n {
		return fmt.Errorf("%w: pop %d with %d values", lowlevel.ErrStackUnderflow, n, s.inner.SP()+1)
	}
	s.inner.SetSP(s.inner.SP() - n)
	return nil
}

// Peek returns the value offset slots below the top.
func (s *EvaluationStack) Peek(offset int) (any, error) {
	pos := s.inner.SP() - offset
	if pos < 0 {
		return nil, fmt.Errorf("%w: peek %d with %d values", lowlevel.ErrStackUnderflow, offset, s.inner.SP()+1)
	}
	b, err := s.inner.Stack().Read(pos)
	if err != nil {
		return nil, err
	}
	return s.inner.Context().Decode(b)
}

// Dup pushes a copy of the value at the absolute position pos.
func (s *EvaluationStack) Dup(pos int) error {
	if pos < 0 || pos > s.inner.SP() {
		return fmt.Errorf("%w: dup from %d with $sp %d", lowlevel.ErrOutOfBounds, pos, s.inner.SP())
	}
	sp := s.inner.SP() + 1
	if err := s.inner.Stack().Copy(pos, sp); err != nil {
		return err
	}
	s.inner.SetSP(sp)
	return nil
}

// Capture returns the top n values, bottom first.
func (s *EvaluationStack) Capture(n int) ([]any, error) {
	if n < 0 || s.inner.SP()+1 < n {
		return nil, fmt.Errorf("%w: capture %d with %d values", lowlevel.ErrStackUnderflow, n, s.inner.SP()+1)
	}
	values := make([]any, n)
	for i := 0; i < n; i++ {
		v, err := s.Peek(n - 1 - i)
		if err != nil {
			return nil, err
		}
		values[i] = v
	}
	return values, nil
}

// Restore pushes captured values back, bottom first.
func (s *EvaluationStack) Restore(values []any) error {
	for _, v := range values {
		if err := s.Push(v); err != nil {
			return err
		}
	}
	return nil
}

// Len returns the number of words on the machine stack, frames included.
func (s *EvaluationStack) Len() int {
	return s.inner.SP() + 1
}
