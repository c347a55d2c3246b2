package asmx86

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/twitchyliquid64/golang-asm/obj/x86"
)

func TestRetOnlyAssemblerProducesCode(t *testing.T) {
	a, err := New()
	require.NoError(t, err)
	a.Ret()
	code, err := a.Assemble()
	require.NoError(t, err)
	require.NotEmpty(t, code, "expected a RET to assemble to at least one byte")
}

func TestForwardJumpResolves(t *testing.T) {
	a, err := New()
	require.NoError(t, err)
	l := a.NewLabel()
	a.Jump(l)
	a.MovConstToReg(1, x86.REG_AX) // skipped over by the jump
	a.BindHere(l)
	a.Ret()

	_, err = a.Assemble()
	require.NoError(t, err)
}

func TestBackwardJumpResolves(t *testing.T) {
	a, err := New()
	require.NoError(t, err)
	l := a.NewLabel()
	a.BindHere(l)
	a.MovConstToReg(1, x86.REG_AX)
	a.JumpIf(x86.AJEQ, l)
	a.Ret()

	_, err = a.Assemble()
	require.NoError(t, err)
}

func TestUnresolvedLabelFailsVerification(t *testing.T) {
	a, err := New()
	require.NoError(t, err)
	l := a.NewLabel()
	a.Jump(l) // never bound
	a.Ret()

	_, err = a.Assemble()
	require.Error(t, err)
}

func TestSlotOffsetIsDistinctPerRegister(t *testing.T) {
	seen := make(map[int64]byte)
	for r := byte(0); r < 32; r++ {
		off := slotOffset(r)
		prev, collided := seen[off]
		require.False(t, collided, "slotOffset(%d) collides with slotOffset(%d): both %d", r, prev, off)
		seen[off] = r
	}
}

func TestCallAssemblesToNonEmptyCode(t *testing.T) {
	a, err := New()
	require.NoError(t, err)
	a.Call(0x1000)
	a.Ret()
	code, err := a.Assemble()
	require.NoError(t, err)
	require.NotEmpty(t, code)
}
