package bytecode

import (
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"

	"github.com/fxamacker/cbor/v2"
)

var (
	cborEncMode cbor.EncMode
	cborDecMode cbor.DecMode
)

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("bytecode: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em
	dm, err := cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic(fmt.Sprintf("bytecode: failed to create CBOR dec mode: %v", err))
	}
	cborDecMode = dm
}

// Resolver turns the name stored behind a constants handle into the value
// it refers to, for example a helper function.
type Resolver interface {
	Resolve(name string) (any, bool)
}

// MapResolver is a Resolver backed by a map.
type MapResolver map[string]any

// Resolve implements Resolver.
func (m MapResolver) Resolve(name string) (any, bool) {
	v, ok := m[name]
	return v, ok
}

// Pool interns constants while a program is being built. Each kind of
// constant has its own handle space and the same value always receives the
// same handle.
type Pool struct {
	strings      []string
	stringIndex  map[string]int
	stringArrays [][]string
	stringArrIdx map[string]int
	arrays       [][]int
	arrayIndex   map[string]int
	numbers      []float64
	numberIndex  map[uint64]int
	serialized   [][]byte
	serialIndex  map[string]int
	handles      []string
	handleIndex  map[string]int
}

// NewPool returns an empty constants pool.
func NewPool() *Pool {
	return &Pool{
		stringIndex:  map[string]int{},
		stringArrIdx: map[string]int{},
		arrayIndex:   map[string]int{},
		numberIndex:  map[uint64]int{},
		serialIndex:  map[string]int{},
		handleIndex:  map[string]int{},
	}
}

// String interns a string.
func (p *Pool) String(s string) int {
	if h, ok := p.stringIndex[s]; ok {
		return h
	}
	p.strings = append(p.strings, s)
	h := len(p.strings) - 1
	p.stringIndex[s] = h
	return h
}

// StringArray interns an array of strings.
func (p *Pool) StringArray(values []string) int {
	key := stringArrayKey(values)
	if h, ok := p.stringArrIdx[key]; ok {
		return h
	}
	p.stringArrays = append(p.stringArrays, copyStrings(values))
	h := len(p.stringArrays) - 1
	p.stringArrIdx[key] = h
	return h
}

// Array interns an array of numbers.
func (p *Pool) Array(values []int) int {
	key := fmt.Sprint(values)
	if h, ok := p.arrayIndex[key]; ok {
		return h
	}
	p.arrays = append(p.arrays, copyInts(values))
	h := len(p.arrays) - 1
	p.arrayIndex[key] = h
	return h
}

// Number interns a number.
func (p *Pool) Number(n float64) int {
	key := math.Float64bits(n)
	if h, ok := p.numberIndex[key]; ok {
		return h
	}
	p.numbers = append(p.numbers, n)
	h := len(p.numbers) - 1
	p.numberIndex[key] = h
	return h
}

// Serializable interns a value by its canonical CBOR encoding. Two values
// with the same encoding share a handle.
func (p *Pool) Serializable(v any) (int, error) {
	data, err := cborEncMode.Marshal(v)
	if err != nil {
		return -1, fmt.Errorf("bytecode: cannot serialize constant: %w", err)
	}
	key := string(data)
	if h, ok := p.serialIndex[key]; ok {
		return h, nil
	}
	p.serialized = append(p.serialized, data)
	h := len(p.serialized) - 1
	p.serialIndex[key] = h
	return h, nil
}

// Handle interns the name of an externally resolved value.
func (p *Pool) Handle(name string) int {
	if h, ok := p.handleIndex[name]; ok {
		return h
	}
	p.handles = append(p.handles, name)
	h := len(p.handles) - 1
	p.handleIndex[name] = h
	return h
}

// Constants returns an immutable snapshot of the pool that resolves
// handles with the given resolver. The resolver may be nil when the
// program uses no external values.
func (p *Pool) Constants(resolver Resolver) *Constants {
	c := &Constants{
		strings:      copyStrings(p.strings),
		stringArrays: make([][]string, len(p.stringArrays)),
		arrays:       make([][]int, len(p.arrays)),
		numbers:      make([]float64, len(p.numbers)),
		serialized:   make([][]byte, len(p.serialized)),
		handles:      copyStrings(p.handles),
		resolver:     resolver,
	}
	for i, v := range p.stringArrays {
		c.stringArrays[i] = copyStrings(v)
	}
	for i, v := range p.arrays {
		c.arrays[i] = copyInts(v)
	}
	copy(c.numbers, p.numbers)
	for i, v := range p.serialized {
		c.serialized[i] = append([]byte(nil), v...)
	}
	return c
}

// Constants is the read-only constants table of a program.
type Constants struct {
	strings      []string
	stringArrays [][]string
	arrays       [][]int
	numbers      []float64
	serialized   [][]byte
	handles      []string
	resolver     Resolver
}

// GetString returns the interned string for the handle.
func (c *Constants) GetString(handle int) (string, error) {
	if handle < 0 || handle >= len(c.strings) {
		return "", constantError("string", handle)
	}
	return c.strings[handle], nil
}

// GetStringArray returns a copy of the interned string array.
func (c *Constants) GetStringArray(handle int) ([]string, error) {
	if handle < 0 || handle >= len(c.stringArrays) {
		return nil, constantError("string array", handle)
	}
	return copyStrings(c.stringArrays[handle]), nil
}

// GetArray returns a copy of the interned number array.
func (c *Constants) GetArray(handle int) ([]int, error) {
	if handle < 0 || handle >= len(c.arrays) {
		return nil, constantError("array", handle)
	}
	return copyInts(c.arrays[handle]), nil
}

// GetNumber returns the interned number.
func (c *Constants) GetNumber(handle int) (float64, error) {
	if handle < 0 || handle >= len(c.numbers) {
		return 0, constantError("number", handle)
	}
	return c.numbers[handle], nil
}

// GetSerializable decodes the serialized constant into a generic value.
// Maps decode as map[string]any.
func (c *Constants) GetSerializable(handle int) (any, error) {
	var v any
	if err := c.DecodeSerializable(handle, &v); err != nil {
		return nil, err
	}
	return v, nil
}

// DecodeSerializable decodes the serialized constant into out, which must
// be a pointer.
func (c *Constants) DecodeSerializable(handle int, out any) error {
	if handle < 0 || handle >= len(c.serialized) {
		return constantError("serializable", handle)
	}
	if err := cborDecMode.Unmarshal(c.serialized[handle], out); err != nil {
		return fmt.Errorf("bytecode: decode serializable %d: %w", handle, err)
	}
	return nil
}

// HandleName returns the name stored behind a resolvable handle.
func (c *Constants) HandleName(handle int) (string, error) {
	if handle < 0 || handle >= len(c.handles) {
		return "", constantError("handle", handle)
	}
	return c.handles[handle], nil
}

// ResolveHandle resolves the external value named by the handle.
func (c *Constants) ResolveHandle(handle int) (any, error) {
	name, err := c.HandleName(handle)
	if err != nil {
		return nil, err
	}
	if c.resolver == nil {
		return nil, fmt.Errorf("bytecode: no resolver for %q", name)
	}
	v, ok := c.resolver.Resolve(name)
	if !ok {
		return nil, fmt.Errorf("bytecode: cannot resolve %q", name)
	}
	return v, nil
}

// Counts reports the size of each constant kind, in the order strings,
// string arrays, arrays, numbers, serializables, handles.
func (c *Constants) Counts() [6]int {
	return [6]int{
		len(c.strings),
		len(c.stringArrays),
		len(c.arrays),
		len(c.numbers),
		len(c.serialized),
		len(c.handles),
	}
}

func constantError(kind string, handle int) error {
	return fmt.Errorf("bytecode: invalid %s constant %d", kind, handle)
}

func stringArrayKey(values []string) string {
	var sb strings.Builder
	for _, v := range values {
		sb.WriteString(strconv.Itoa(len(v)))
		sb.WriteByte(':')
		sb.WriteString(v)
	}
	return sb.String()
}

func copyStrings(src []string) []string {
	if src == nil {
		return nil
	}
	dst := make([]string, len(src))
	copy(dst, src)
	return dst
}

func copyInts(src []int) []int {
	if src == nil {
		return nil
	}
	dst := make([]int, len(src))
	copy(dst, src)
	return dst
}
