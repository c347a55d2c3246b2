//go:build linux || darwin

package jit

import (
	"testing"

	"github.com/stretchr/testify/require"

	"rvm16/internal/program"
	"rvm16/isa"
)

func TestMapAndRunAddImmediate(t *testing.T) {
	instrs := []isa.Instruction{
		isa.NewImmediate(isa.Addi, 33, 1, 2),
		isa.NewStore(isa.Sb, 10, 2, 3),
	}
	fn := program.NewFunction(instrs, 0)
	compiled, err := CompileFunction(fn, noResolver)
	require.NoError(t, err)

	nc, err := Map(compiled.Code)
	require.NoError(t, err)
	defer nc.Release()

	memory := make([]byte, 64)
	regs := make([]byte, 64)
	Run(nc.Entry(), memory, regs)

	require.Equal(t, byte(33), memory[10])
}

func TestMapProducesDistinctEntriesForDistinctCode(t *testing.T) {
	fn1 := program.NewFunction([]isa.Instruction{isa.NewImmediate(isa.Addi, 1, 0, 1)}, 0)
	fn2 := program.NewFunction([]isa.Instruction{isa.NewImmediate(isa.Addi, 2, 0, 1)}, 0)

	c1, err := CompileFunction(fn1, noResolver)
	require.NoError(t, err)
	c2, err := CompileFunction(fn2, noResolver)
	require.NoError(t, err)

	nc1, err := Map(c1.Code)
	require.NoError(t, err)
	defer nc1.Release()
	nc2, err := Map(c2.Code)
	require.NoError(t, err)
	defer nc2.Release()

	require.NotEqual(t, nc1.Entry(), nc2.Entry())
}

func TestReleaseThenMapAgain(t *testing.T) {
	fn := program.NewFunction([]isa.Instruction{isa.NewImmediate(isa.Addi, 1, 0, 1)}, 0)
	compiled, err := CompileFunction(fn, noResolver)
	require.NoError(t, err)

	nc, err := Map(compiled.Code)
	require.NoError(t, err)
	require.NoError(t, nc.Release())

	// Mapping the same code again after releasing the first mapping must
	// still succeed: Release must not leave any process-global state behind.
	nc2, err := Map(compiled.Code)
	require.NoError(t, err)
	defer nc2.Release()
}
