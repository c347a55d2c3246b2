package jit

import (
	"testing"

	"github.com/stretchr/testify/require"

	"rvm16/internal/program"
	"rvm16/isa"
)

func noResolver(uint16) (uintptr, bool) { return 0, false }

func compileBody(t *testing.T, instrs []isa.Instruction) *Compiled {
	t.Helper()
	fn := program.NewFunction(instrs, 0)
	out, err := CompileFunction(fn, noResolver)
	require.NoError(t, err)
	return out
}

func TestCompileEveryArithmeticOpcode(t *testing.T) {
	ops := []isa.Opcode{
		isa.Addi, isa.Slti, isa.Sltiu, isa.Andi, isa.Ori, isa.Xori,
		isa.Slli, isa.Srli, isa.Srai,
		isa.Add, isa.Sub, isa.Slt, isa.Sltu, isa.And, isa.Or, isa.Xor,
		isa.Sll, isa.Srl, isa.Sra,
	}
	for _, op := range ops {
		var instrs []isa.Instruction
		switch op {
		case isa.Addi, isa.Slti, isa.Sltiu, isa.Andi, isa.Ori, isa.Xori, isa.Slli, isa.Srli, isa.Srai:
			instrs = []isa.Instruction{isa.NewImmediate(op, 3, 1, 2)}
		default:
			instrs = []isa.Instruction{isa.NewRegisterOp(op, 1, 2, 3)}
		}
		out := compileBody(t, instrs)
		require.NotEmpty(t, out.Code, "opcode %v produced no code", op)
	}
}

func TestCompileLoadsAndStores(t *testing.T) {
	instrs := []isa.Instruction{
		isa.NewLoad(isa.Lb, 0, 1, 2),
		isa.NewLoad(isa.Lbu, 0, 1, 2),
		isa.NewLoad(isa.Lh, 0, 1, 2),
		isa.NewStore(isa.Sb, 0, 2, 1),
		isa.NewStore(isa.Sh, 0, 2, 1),
	}
	out := compileBody(t, instrs)
	require.NotEmpty(t, out.Code)
}

func TestCompileBranchToForwardLabel(t *testing.T) {
	instrs := []isa.Instruction{
		isa.NewBranch(isa.Beq, 1, 1, 2),
		isa.NewImmediate(isa.Addi, 1, 0, 0),
		isa.NewTarget(1),
	}
	out := compileBody(t, instrs)
	require.NotEmpty(t, out.Code)
}

func TestCompileDanglingCallIsNoOp(t *testing.T) {
	instrs := []isa.Instruction{isa.NewCall(999)}
	fn := program.NewFunction(instrs, 0)
	_, err := CompileFunction(fn, noResolver)
	require.NoError(t, err)
}

func TestCompileResolvedCallEmitsCode(t *testing.T) {
	resolver := func(target uint16) (uintptr, bool) {
		if target == 1 {
			return 0x2000, true
		}
		return 0, false
	}
	instrs := []isa.Instruction{isa.NewCall(1)}
	fn := program.NewFunction(instrs, 0)
	out, err := CompileFunction(fn, resolver)
	require.NoError(t, err)
	require.NotEmpty(t, out.Code)
}

func TestCompileRepeatUnrollsLabelsPerIteration(t *testing.T) {
	instrs := []isa.Instruction{
		isa.NewBranch(isa.Beq, 1, 1, 2),
		isa.NewImmediate(isa.Addi, 1, 0, 0),
		isa.NewTarget(1),
	}
	fn := program.NewFunction(instrs, 3)
	out, err := CompileFunction(fn, noResolver)
	require.NoError(t, err)
	require.NotEmpty(t, out.Code)
}

func TestCompileEmptyFunctionStillReturns(t *testing.T) {
	fn := program.NewFunction(nil, 0)
	out, err := CompileFunction(fn, noResolver)
	require.NoError(t, err)
	require.NotNil(t, out)
}
