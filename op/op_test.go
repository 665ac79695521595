package op

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGetInfo(t *testing.T) {
	info := GetInfo(StaticAttr)
	require.Equal(t, "STATIC_ATTR", info.Name)
	require.Equal(t, 2, info.OperandCount)
	require.Equal(t, StaticAttr, info.Code)
	require.Equal(t, Buffered, info.Class)
}

func TestGetInfoAllOpcodes(t *testing.T) {
	tests := []struct {
		code     Code
		name     string
		operands int
		class    Class
	}{
		{Nop, "NOP", 0, Machine},
		{PushFrame, "PUSH_FRAME", 0, Machine},
		{PopFrame, "POP_FRAME", 0, Machine},
		{Jump, "JUMP", 1, Machine},
		{ReturnTo, "RETURN_TO", 1, Machine},
		{Return, "RETURN", 0, Machine},
		{Call, "CALL", 1, Machine},
		{Text, "TEXT", 1, Buffered},
		{OpenElement, "OPEN_ELEMENT", 1, Buffered},
		{CloseElement, "CLOSE_ELEMENT", 0, Buffered},
		{Primitive, "PRIMITIVE", 2, Append},
		{Dup, "DUP", 2, Append},
		{RootScope, "ROOT_SCOPE", 2, Append},
		{JumpUnless, "JUMP_UNLESS", 1, Append},
		{Enter, "ENTER", 1, Append},
		{EnterList, "ENTER_LIST", 1, Append},
		{Iterate, "ITERATE", 1, Append},
		{CommitCacheGroup, "COMMIT_CACHE_GROUP", 0, Append},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			info := GetInfo(tt.code)
			require.Equal(t, tt.name, info.Name)
			require.Equal(t, tt.operands, info.OperandCount)
			require.Equal(t, tt.class, info.Class)
			require.LessOrEqual(t, info.OperandCount, MaxOperands)
		})
	}
}

func TestGetInfoUnknown(t *testing.T) {
	require.Equal(t, "", GetInfo(Code(255)).Name)
	require.Equal(t, "", GetInfo(Code(1000)).Name)
}

func TestLookup(t *testing.T) {
	code, ok := Lookup("BEGIN_CACHE_GROUP")
	require.True(t, ok)
	require.Equal(t, BeginCacheGroup, code)

	_, ok = Lookup("begin_cache_group")
	require.False(t, ok)
}

func TestIsJump(t *testing.T) {
	require.True(t, IsJump(Jump))
	require.True(t, IsJump(EnterList))
	require.True(t, IsJump(Iterate))
	require.False(t, IsJump(Enter))
	require.False(t, IsJump(Call))
}

func TestPrimitiveKindString(t *testing.T) {
	require.Equal(t, "serializable", PrimitiveSerializable.String())
	require.Equal(t, "", PrimitiveKind(99).String())
}
