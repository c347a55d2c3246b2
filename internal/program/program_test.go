package program

import (
	"testing"

	"github.com/stretchr/testify/require"

	"rvm16/isa"
)

func TestNewDropsCallsToNonexistentFunctions(t *testing.T) {
	bodies := [][]isa.Instruction{
		{isa.NewCall(1), isa.NewCall(99)},
		{isa.NewImmediate(isa.Addi, 1, 0, 0)},
	}
	p := New(bodies, nil)
	require.Equal(t, []uint16{1}, p.Functions()[0].CallTargets())
}

func TestNoCallCycleValidatesClean(t *testing.T) {
	bodies := [][]isa.Instruction{
		{isa.NewCall(1)},
		{isa.NewImmediate(isa.Addi, 1, 0, 0)},
	}
	p := New(bodies, nil)
	require.False(t, p.HasCallCycle())
	require.NoError(t, p.ValidateForCompile())
}

func TestDirectCallCycleDetected(t *testing.T) {
	bodies := [][]isa.Instruction{
		{isa.NewCall(1)},
		{isa.NewCall(0)},
	}
	p := New(bodies, nil)
	require.True(t, p.HasCallCycle())
	require.ErrorIs(t, p.ValidateForCompile(), ErrCallCycle)
}

func TestSelfCallCycleDetected(t *testing.T) {
	bodies := [][]isa.Instruction{
		{isa.NewCall(0)},
	}
	p := New(bodies, nil)
	require.True(t, p.HasCallCycle())
}

func TestIndirectCallCycleDetected(t *testing.T) {
	bodies := [][]isa.Instruction{
		{isa.NewCall(1)},
		{isa.NewCall(2)},
		{isa.NewCall(0)},
	}
	p := New(bodies, nil)
	require.True(t, p.HasCallCycle())
}

func TestSharedCalleeIsNotACycle(t *testing.T) {
	// Two functions both calling a common leaf function is a DAG, not a
	// cycle: a naive "function visited twice" check would wrongly flag
	// this.
	bodies := [][]isa.Instruction{
		{isa.NewCall(2)},
		{isa.NewCall(2)},
		{isa.NewImmediate(isa.Addi, 1, 0, 0)},
	}
	p := New(bodies, nil)
	require.False(t, p.HasCallCycle())
}

func TestRepeatsShorterThanBodiesDefaultsToZero(t *testing.T) {
	bodies := [][]isa.Instruction{{}, {}}
	p := New(bodies, []byte{5})
	require.Equal(t, byte(5), p.Functions()[0].RawRepeat())
	require.Equal(t, byte(0), p.Functions()[1].RawRepeat())
}

func TestLen(t *testing.T) {
	p := New([][]isa.Instruction{{}, {}, {}}, nil)
	require.Equal(t, 3, p.Len())
}
