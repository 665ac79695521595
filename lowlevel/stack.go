package lowlevel

import (
	"errors"
	"fmt"
)

var (
	// ErrStackOverflow is returned for writes beyond the maximum depth.
	ErrStackOverflow = errors.New("stack overflow")

	// ErrStackUnderflow is returned for pops from an empty stack.
	ErrStackUnderflow = errors.New("stack underflow")

	// ErrOutOfBounds is returned for reads outside of the written part of
	// the stack and for invalid register numbers.
	ErrOutOfBounds = errors.New("out of bounds")

	// ErrAllocation is returned when a stack cannot be created.
	ErrAllocation = errors.New("allocation failed")

	// ErrFreed is returned for any use of released resources.
	ErrFreed = errors.New("resources already released")
)

// DefaultMaxDepth is the maximum stack depth used when none is given.
const DefaultMaxDepth = 1 << 16

// Stack is a bounds-checked linear buffer of boxes.
type Stack struct {
	words    []Box
	maxDepth int
}

// NewStack returns an empty stack holding at most maxDepth words.
func NewStack(maxDepth int) (*Stack, error) {
	if maxDepth <= 0 {
		return nil, fmt.Errorf("%w: invalid stack depth %d", ErrAllocation, maxDepth)
	}
	initial := 64
	if maxDepth < initial {
		initial = maxDepth
	}
	return &Stack{words: make([]Box, 0, initial), maxDepth: maxDepth}, nil
}

// Write stores v at pos, growing the stack when pos is past its end.
func (s *Stack) Write(pos int, v Box) error {
	if pos < 0 {
		return fmt.Errorf("%w: write at %d", ErrOutOfBounds, pos)
	}
	if pos >= s.maxDepth {
		return fmt.Errorf("%w: write at %d exceeds depth %d", ErrStackOverflow, pos, s.maxDepth)
	}
	for len(s.words) <= pos {
		s.words = append(s.words, Undef)
	}
	s.words[pos] = v
	return nil
}

// Read returns the word at pos.
func (s *Stack) Read(pos int) (Box, error) {
	if pos < 0 || pos >= len(s.words) {
		return 0, fmt.Errorf("%w: read at %d (len %d)", ErrOutOfBounds, pos, len(s.words))
	}
	return s.words[pos], nil
}

// Copy copies the word at from to to.
func (s *Stack) Copy(from, to int) error {
	v, err := s.Read(from)
	if err != nil {
		return err
	}
	return s.Write(to, v)
}

// Truncate drops every word at or above n.
func (s *Stack) Truncate(n int) {
	if n < 0 {
		n = 0
	}
	if n < len(s.words) {
		s.words = s.words[:n]
	}
}

// Reset empties the stack.
func (s *Stack) Reset() {
	s.words = s.words[:0]
}

// Len returns the number of words written.
func (s *Stack) Len() int {
	return len(s.words)
}

// MaxDepth returns the maximum number of words.
func (s *Stack) MaxDepth() int {
	return s.maxDepth
}
