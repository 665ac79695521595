// Package op defines the opcodes executed by the rendervm interpreter.
package op

// Code is an integer opcode that indicates an operation to execute.
type Code uint16

const (
	Invalid Code = 0

	// Machine
	Nop       Code = 1
	PushFrame Code = 2
	PopFrame  Code = 3
	Jump      Code = 4
	ReturnTo  Code = 5
	Return    Code = 6
	Call      Code = 7

	// Buffered builder instructions
	Text         Code = 10
	Comment      Code = 11
	OpenElement  Code = 12
	FlushElement Code = 13
	CloseElement Code = 14
	StaticAttr   Code = 15

	// Stack and registers
	Primitive Code = 20
	Dup       Code = 21
	Pop       Code = 22
	Load      Code = 23
	Fetch     Code = 24

	// Variables
	GetSelf     Code = 30
	GetVariable Code = 31
	SetVariable Code = 32
	BindSymbols Code = 33
	GetProperty Code = 34

	// Scopes
	RootScope        Code = 40
	ChildScope       Code = 41
	PopScope         Code = 42
	PushDynamicScope Code = 43
	PopDynamicScope  Code = 44
	BindDynamicScope Code = 45
	GetDynamicVar    Code = 46

	// Conditions
	ToBoolean  Code = 50
	JumpIf     Code = 51
	JumpUnless Code = 52

	// Dynamic content
	AppendText  Code = 60
	DynamicAttr Code = 61
	Helper      Code = 62

	// Blocks
	Enter       Code = 70
	Exit        Code = 71
	PutIterator Code = 72
	EnterList   Code = 73
	ExitList    Code = 74
	Iterate     Code = 75

	// Cache groups
	BeginCacheGroup  Code = 80
	CommitCacheGroup Code = 81
)

// MaxOperands is the largest number of operands any opcode takes.
const MaxOperands = 2

// Class describes which layer of the interpreter executes an opcode.
type Class uint8

const (
	// Machine opcodes only touch the register file and are executed by the
	// low-level interpreter itself.
	Machine Class = iota

	// Buffered opcodes are builder side effects that only reference
	// constants. The low-level interpreter records them in its instruction
	// buffer and they are applied to the builder when the buffer is flushed.
	Buffered

	// Append opcodes are dispatched to the VM core.
	Append
)

func (c Class) String() string {
	switch c {
	case Machine:
		return "machine"
	case Buffered:
		return "buffered"
	case Append:
		return "append"
	default:
		return ""
	}
}

// PrimitiveKind is the operand of the Primitive opcode that says which
// constant pool the second operand indexes.
type PrimitiveKind int32

const (
	PrimitiveString       PrimitiveKind = 0
	PrimitiveNumber       PrimitiveKind = 1
	PrimitiveSerializable PrimitiveKind = 2
	PrimitiveTrue         PrimitiveKind = 3
	PrimitiveFalse        PrimitiveKind = 4
	PrimitiveNull         PrimitiveKind = 5
)

// String returns the name of the primitive kind, for example "string".
func (k PrimitiveKind) String() string {
	switch k {
	case PrimitiveString:
		return "string"
	case PrimitiveNumber:
		return "number"
	case PrimitiveSerializable:
		return "serializable"
	case PrimitiveTrue:
		return "true"
	case PrimitiveFalse:
		return "false"
	case PrimitiveNull:
		return "null"
	default:
		return ""
	}
}

// Info contains information about an opcode.
type Info struct {
	Code         Code
	Name         string
	OperandCount int
	Class        Class
}

var infos = make([]Info, 256)

func init() {
	type opInfo struct {
		op    Code
		name  string
		count int
		class Class
	}
	ops := []opInfo{
		{Nop, "NOP", 0, Machine},
		{PushFrame, "PUSH_FRAME", 0, Machine},
		{PopFrame, "POP_FRAME", 0, Machine},
		{Jump, "JUMP", 1, Machine},
		{ReturnTo, "RETURN_TO", 1, Machine},
		{Return, "RETURN", 0, Machine},
		{Call, "CALL", 1, Machine},
		{Text, "TEXT", 1, Buffered},
		{Comment, "COMMENT", 1, Buffered},
		{OpenElement, "OPEN_ELEMENT", 1, Buffered},
		{FlushElement, "FLUSH_ELEMENT", 0, Buffered},
		{CloseElement, "CLOSE_ELEMENT", 0, Buffered},
		{StaticAttr, "STATIC_ATTR", 2, Buffered},
		{Primitive, "PRIMITIVE", 2, Append},
		{Dup, "DUP", 2, Append},
		{Pop, "POP", 1, Append},
		{Load, "LOAD", 1, Append},
		{Fetch, "FETCH", 1, Append},
		{GetSelf, "GET_SELF", 0, Append},
		{GetVariable, "GET_VARIABLE", 1, Append},
		{SetVariable, "SET_VARIABLE", 1, Append},
		{BindSymbols, "BIND_SYMBOLS", 1, Append},
		{GetProperty, "GET_PROPERTY", 1, Append},
		{RootScope, "ROOT_SCOPE", 2, Append},
		{ChildScope, "CHILD_SCOPE", 0, Append},
		{PopScope, "POP_SCOPE", 0, Append},
		{PushDynamicScope, "PUSH_DYNAMIC_SCOPE", 0, Append},
		{PopDynamicScope, "POP_DYNAMIC_SCOPE", 0, Append},
		{BindDynamicScope, "BIND_DYNAMIC_SCOPE", 1, Append},
		{GetDynamicVar, "GET_DYNAMIC_VAR", 0, Append},
		{ToBoolean, "TO_BOOLEAN", 0, Append},
		{JumpIf, "JUMP_IF", 1, Append},
		{JumpUnless, "JUMP_UNLESS", 1, Append},
		{AppendText, "APPEND_TEXT", 0, Append},
		{DynamicAttr, "DYNAMIC_ATTR", 1, Append},
		{Helper, "HELPER", 1, Append},
		{Enter, "ENTER", 1, Append},
		{Exit, "EXIT", 0, Append},
		{PutIterator, "PUT_ITERATOR", 0, Append},
		{EnterList, "ENTER_LIST", 1, Append},
		{ExitList, "EXIT_LIST", 0, Append},
		{Iterate, "ITERATE", 1, Append},
		{BeginCacheGroup, "BEGIN_CACHE_GROUP", 0, Append},
		{CommitCacheGroup, "COMMIT_CACHE_GROUP", 0, Append},
	}
	for _, o := range ops {
		infos[o.op] = Info{
			Name:         o.name,
			Code:         o.op,
			OperandCount: o.count,
			Class:        o.class,
		}
	}
}

// GetInfo returns information about the given opcode. Unknown opcodes
// return an Info with an empty Name.
func GetInfo(op Code) Info {
	if int(op) >= len(infos) {
		return Info{}
	}
	return infos[op]
}

// Lookup returns the opcode with the given name, as printed by the
// disassembler. The match is case sensitive.
func Lookup(name string) (Code, bool) {
	for _, info := range infos {
		if info.Name != "" && info.Name == name {
			return info.Code, true
		}
	}
	return Invalid, false
}

// IsJump reports whether the first operand of the opcode is a relative
// instruction offset.
func IsJump(code Code) bool {
	switch code {
	case Jump, ReturnTo, JumpIf, JumpUnless, EnterList, Iterate:
		return true
	}
	return false
}
