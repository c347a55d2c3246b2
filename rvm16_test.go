//go:build (linux || darwin) && amd64

package rvm16

import (
	"errors"
	"runtime"
	"testing"

	"github.com/stretchr/testify/require"

	"rvm16/codec"
	"rvm16/isa"
)

// interpretAndCompileAgree is the central fuzz invariant of this package:
// for any decoded program and any memory buffer, the interpreter and the
// JIT must leave memory byte-identical.
func interpretAndCompileAgree(t *testing.T, instrs []isa.Instruction, repeat byte, memory []byte) {
	t.Helper()
	if runtime.GOARCH != "amd64" {
		t.Skip("JIT back-end is amd64-only")
	}

	interpreted := make([]byte, len(memory))
	copy(interpreted, memory)
	p := NewProgramFromInstructions([][]isa.Instruction{instrs}, []byte{repeat})
	p.Interpret(interpreted)

	compiled := make([]byte, len(memory))
	copy(compiled, memory)
	cp, err := p.Compile()
	require.NoError(t, err)
	defer cp.Close()
	cp.Run(compiled)

	require.Equal(t, interpreted, compiled, "interpreter and JIT must leave memory byte-identical")
}

func TestDifferentialScenarioA(t *testing.T) {
	instrs := []isa.Instruction{
		isa.NewImmediate(isa.Addi, 33, 1, 2),
		isa.NewStore(isa.Sb, 10, 2, 3),
	}
	interpretAndCompileAgree(t, instrs, 0, make([]byte, 64))
}

func TestDifferentialScenarioB(t *testing.T) {
	instrs := []isa.Instruction{
		isa.NewLoad(isa.Lb, 0, 1, 2),
		isa.NewStore(isa.Sh, 10, 2, 3),
	}
	mem := make([]byte, 64)
	mem[0] = 0xFC
	interpretAndCompileAgree(t, instrs, 0, mem)
}

func TestDifferentialScenarioC(t *testing.T) {
	instrs := []isa.Instruction{
		isa.NewLoad(isa.Lh, 0, 1, 2),
		isa.NewStore(isa.Sh, 10, 2, 3),
	}
	mem := make([]byte, 64)
	mem[0], mem[1] = 2, 1
	interpretAndCompileAgree(t, instrs, 0, mem)
}

func TestDifferentialScenarioDBranchTaken(t *testing.T) {
	instrs := []isa.Instruction{
		isa.NewLoad(isa.Lb, 0, 1, 2),
		isa.NewLoad(isa.Lb, 1, 1, 3),
		isa.NewBranch(isa.Beq, 1, 2, 3),
		isa.NewLoad(isa.Lb, 2, 1, 4),
		isa.NewStore(isa.Sb, 10, 4, 5),
		isa.NewTarget(1),
	}
	mem := append([]byte{10, 10, 30}, make([]byte, 61)...)
	interpretAndCompileAgree(t, instrs, 0, mem)
}

func TestDifferentialScenarioDFallThrough(t *testing.T) {
	instrs := []isa.Instruction{
		isa.NewLoad(isa.Lb, 0, 1, 2),
		isa.NewLoad(isa.Lb, 1, 1, 3),
		isa.NewBranch(isa.Beq, 1, 2, 3),
		isa.NewLoad(isa.Lb, 2, 1, 4),
		isa.NewStore(isa.Sb, 10, 4, 5),
		isa.NewTarget(1),
	}
	mem := append([]byte{10, 20, 30}, make([]byte, 61)...)
	interpretAndCompileAgree(t, instrs, 0, mem)
}

func TestDifferentialScenarioEOutOfBounds(t *testing.T) {
	instrs := []isa.Instruction{
		isa.NewLoad(isa.Lb, 0, 1, 2),
		isa.NewStore(isa.Sb, 65, 2, 3),
	}
	interpretAndCompileAgree(t, instrs, 0, make([]byte, 64))
}

func TestDifferentialScenarioFShiftSaturation(t *testing.T) {
	instrs := []isa.Instruction{
		isa.NewImmediate(isa.Addi, 0b101, 1, 2),
		isa.NewImmediate(isa.Addi, 100, 1, 3),
		isa.NewRegisterOp(isa.Sll, 2, 3, 4),
		isa.NewStore(isa.Sb, 10, 4, 5),
	}
	interpretAndCompileAgree(t, instrs, 0, make([]byte, 64))
}

func TestDifferentialRepeat(t *testing.T) {
	instrs := []isa.Instruction{
		isa.NewImmediate(isa.Addi, 1, 1, 1),
		isa.NewStore(isa.Sb, 0, 1, 0),
	}
	interpretAndCompileAgree(t, instrs, 5, make([]byte, 4))
}

func TestDifferentialArbitraryByteStreamFuzzSeeds(t *testing.T) {
	seeds := [][]byte{
		nil,
		{0x00},
		{0xFF, 0xFF, 0xFF, 0xFF, 0xFF},
		{byte(isa.Addi), 5, 0, 1, 2, byte(isa.Sb), 10, 0, 1, 3},
		{byte(isa.Lh), 0, 0, 1, 2, byte(isa.Sh), 10, 0, 2, 3},
		{0x01, 0x02, 0x03, 0x01, 0x02, 0x03, 0x01, 0x02, 0x03},
	}
	for _, seed := range seeds {
		instrs := codec.Deserialize(seed)
		mem := make([]byte, 64)
		interpretAndCompileAgree(t, instrs, 0, mem)
	}
}

func TestRuntimeRunInterpreter(t *testing.T) {
	p := NewProgramFromInstructions([][]isa.Instruction{{
		isa.NewImmediate(isa.Addi, 33, 1, 2),
		isa.NewStore(isa.Sb, 10, 2, 3),
	}}, nil)
	mem := make([]byte, 64)
	r := NewRuntime(NewRuntimeConfigInterpreter())
	require.NoError(t, r.Run(p, mem))
	require.Equal(t, byte(33), mem[10])
}

func TestRuntimeRunJIT(t *testing.T) {
	if runtime.GOARCH != "amd64" {
		t.Skip("JIT back-end is amd64-only")
	}
	p := NewProgramFromInstructions([][]isa.Instruction{{
		isa.NewImmediate(isa.Addi, 33, 1, 2),
		isa.NewStore(isa.Sb, 10, 2, 3),
	}}, nil)
	mem := make([]byte, 64)
	r := NewRuntime(NewRuntimeConfigJIT())
	require.NoError(t, r.Run(p, mem))
	require.Equal(t, byte(33), mem[10])
}

func TestCompileRejectsCyclicCallGraph(t *testing.T) {
	bodies := [][]isa.Instruction{
		{isa.NewCall(1)},
		{isa.NewCall(0)},
	}
	p := NewProgramFromInstructions(bodies, nil)
	_, err := p.Compile()
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrCallCycle))
}
