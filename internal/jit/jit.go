// Package jit lowers a single program.Function into native amd64 code
// using the asmx86 wrapper around golang-asm, and links whole-program
// compilation through the Function Cache so identical function bodies
// share one compiled artifact. It is the second of two back-ends that
// must agree with package interp byte-for-byte on every input.
//
// Every emitted function follows the same three-argument System V AMD64
// calling convention: DI holds the memory base pointer, SI its length,
// DX a pointer to the 32-slot i16 register array shared by the whole
// call tree. Call instructions forward all three unchanged, since a
// caller and everything it calls share one register file and one
// memory buffer.
package jit

import (
	"fmt"

	"github.com/twitchyliquid64/golang-asm/obj"
	"github.com/twitchyliquid64/golang-asm/obj/x86"

	"rvm16/internal/jit/asmx86"
	"rvm16/internal/program"
	"rvm16/isa"
)

// ErrVerification is returned when a compiled function fails the
// back-end's own verification pass: an unresolved jump target, or an
// assembler that produced no code at all for a non-empty function body.
// It should never trigger on a function that has already been through
// program.NewFunction's branch cleanup, but the JIT checks anyway
// rather than handing a caller a broken NativeCallable.
var ErrVerification = fmt.Errorf("rvm16: jit: compiled function failed verification")

// CallResolver maps a function index (a Call target) to the native
// entry address of its already-compiled code. The program runner
// supplies this, built dependency-first so every callee a function
// might Call has already been compiled by the time that function is
// lowered.
type CallResolver func(functionIndex uint16) (uintptr, bool)

// Compiled is one function's assembled native code, as plain bytes. Map
// copies Code into an executable mapping; the Program Runner keeps that
// NativeCode, not Code, alive for as long as anything may call into it.
type Compiled struct {
	Code []byte
}

// Scratch register assignment used throughout the lowering.
//
//	AX, BX    general-purpose value scratch (also AX as the Call stage
//	          register, since no VM value is live across a Call).
//	CX        shift-count staging only (x86 shift-by-register reads CL).
//	DX        general-purpose value scratch.
//	R8        address/limit scratch for bounds checks.
//	R11       second limit scratch (half-word window upper bound).
//	R12       asmx86.RegsBase: pointer to the shared register array.
//	R13       memory base pointer, callee-saved across Call.
//	R14       memory length, callee-saved across Call.
const (
	regA       = x86.REG_AX
	regB       = x86.REG_BX
	regTmp     = x86.REG_DX
	regAddr    = x86.REG_R8
	regLimit   = x86.REG_R11
	regMemBase = x86.REG_R13
	regMemLen  = x86.REG_R14
)

// CompileFunction lowers fn to native amd64 code. resolve is consulted
// for every Call instruction's target; a target with no resolved entry
// (should not happen once program.New's call cleanup has run, but the
// JIT does not trust that alone) is skipped as a no-op, mirroring the
// interpreter's own "dangling call is a no-op" rule.
func CompileFunction(fn program.Function, resolve CallResolver) (*Compiled, error) {
	a, err := asmx86.New()
	if err != nil {
		return nil, fmt.Errorf("rvm16: jit: %w", err)
	}

	a.MovRegToReg(x86.REG_DI, regMemBase)
	a.MovRegToReg(x86.REG_SI, regMemLen)
	a.MovRegToReg(x86.REG_DX, asmx86.RegsBase)

	instrs := fn.Instructions()
	fnTargets := fn.Targets()
	labels := make(map[byte]*asmx86.Label, len(fnTargets))
	for label := range fnTargets {
		labels[label] = a.NewLabel()
	}

	repeat := fn.Repeat()
	// Functions that repeat more than once are unrolled: golang-asm has
	// no loop construct of its own to reuse, and repeat counts in
	// practice are small (a single byte), so unrolling keeps each
	// iteration's lowering identical to the interpreter's per-iteration
	// semantics without needing a counter register or a shared set of
	// labels across iterations.
	for iter := 0; iter < repeat; iter++ {
		iterLabels := labels
		if iter > 0 {
			iterLabels = make(map[byte]*asmx86.Label, len(fnTargets))
			for label := range fnTargets {
				iterLabels[label] = a.NewLabel()
			}
		}
		for i, in := range instrs {
			if in.Op == isa.Target {
				if idx, ok := fnTargets[in.Tgt.Identifier]; ok && idx == i {
					a.BindHere(iterLabels[in.Tgt.Identifier])
				}
			}
			if err := lowerOne(a, in, iterLabels, resolve); err != nil {
				return nil, err
			}
		}
	}
	a.Ret()

	code, err := a.Assemble()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrVerification, err)
	}
	if len(instrs) > 0 && len(code) == 0 {
		return nil, ErrVerification
	}
	return &Compiled{Code: code}, nil
}

func lowerOne(a *asmx86.Assembler, in isa.Instruction, labels map[byte]*asmx86.Label, resolve CallResolver) error {
	switch in.Op {
	case isa.Addi:
		lowerImmediate(a, x86.AADDW, in.Imm)
	case isa.Andi:
		lowerImmediate(a, x86.AANDW, in.Imm)
	case isa.Ori:
		lowerImmediate(a, x86.AORW, in.Imm)
	case isa.Xori:
		lowerImmediate(a, x86.AXORW, in.Imm)
	case isa.Slti:
		lowerImmediateCompare(a, x86.ASETLT, in.Imm)
	case isa.Sltiu:
		lowerImmediateCompare(a, x86.ASETCS, in.Imm)
	case isa.Slli:
		lowerImmediateShift(a, x86.ASHLQ, in.Imm, false)
	case isa.Srli:
		lowerImmediateShift(a, x86.ASHRQ, in.Imm, false)
	case isa.Srai:
		lowerImmediateShift(a, x86.ASARQ, in.Imm, true)

	case isa.Add:
		lowerBinOp(a, x86.AADDW, in.Reg)
	case isa.Sub:
		lowerBinOp(a, x86.ASUBW, in.Reg)
	case isa.And:
		lowerBinOp(a, x86.AANDW, in.Reg)
	case isa.Or:
		lowerBinOp(a, x86.AORW, in.Reg)
	case isa.Xor:
		lowerBinOp(a, x86.AXORW, in.Reg)
	case isa.Slt:
		lowerRegCompare(a, x86.ASETLT, in.Reg)
	case isa.Sltu:
		lowerRegCompare(a, x86.ASETCS, in.Reg)
	case isa.Sll:
		lowerRegShift(a, x86.ASHLQ, in.Reg, false)
	case isa.Srl:
		lowerRegShift(a, x86.ASHRQ, in.Reg, false)
	case isa.Sra:
		lowerRegShift(a, x86.ASARQ, in.Reg, true)

	case isa.Lb:
		lowerLoad(a, in.Ld, false, true)
	case isa.Lbu:
		lowerLoad(a, in.Ld, false, false)
	case isa.Lh:
		lowerLoad(a, in.Ld, true, false)
	case isa.Sb:
		lowerStore(a, in.St, false)
	case isa.Sh:
		lowerStore(a, in.St, true)

	case isa.Beq:
		lowerBranch(a, x86.AJEQ, in.Br, labels)
	case isa.Bne:
		lowerBranch(a, x86.AJNE, in.Br, labels)
	case isa.Target:
		// binding is handled by the caller, which tracks instruction
		// indices across unrolled repeats; nothing to emit here.
	case isa.Call:
		lowerCall(a, in.Call, resolve)
	default:
		return fmt.Errorf("rvm16: jit: unhandled opcode %v", in.Op)
	}
	return nil
}

func lowerImmediate(a *asmx86.Assembler, op obj.As, imm isa.Immediate) {
	a.MovSlotToReg(imm.Rs, regA)
	a.MovConstToReg(imm.Value, regB)
	a.BinOp(op, regB, regA)
	a.MovRegToSlot(regA, imm.Rd)
}

func lowerImmediateCompare(a *asmx86.Assembler, setcc obj.As, imm isa.Immediate) {
	a.MovSlotToReg(imm.Rs, regA)
	a.MovConstToReg(imm.Value, regB)
	a.CmpRegReg(regA, regB)
	a.SetCC(setcc, regA)
	a.MovRegToSlot(regA, imm.Rd)
}

// lowerImmediateShift handles the "amount >= 16 is a no-op" rule at
// lowering time, since the shift amount here is a compile-time
// constant: no runtime guard is needed, unlike the register-shift case
// below. signed selects a sign-extending load of rs, required for Srai
// so the arithmetic shift sees the VM's actual signed value rather than
// a zero-extended one.
func lowerImmediateShift(a *asmx86.Assembler, op obj.As, imm isa.Immediate, signed bool) {
	if signed {
		a.MovSlotToRegSigned(imm.Rs, regA)
	} else {
		a.MovSlotToReg(imm.Rs, regA)
	}
	if amt := uint16(imm.Value); amt < 16 {
		a.BinOpConst(op, int64(amt), regA)
	}
	a.MovRegToSlot(regA, imm.Rd)
}

func lowerBinOp(a *asmx86.Assembler, op obj.As, reg isa.RegisterOp) {
	a.MovSlotToReg(reg.Rs1, regA)
	a.MovSlotToReg(reg.Rs2, regB)
	a.BinOp(op, regB, regA)
	a.MovRegToSlot(regA, reg.Rd)
}

func lowerRegCompare(a *asmx86.Assembler, setcc obj.As, reg isa.RegisterOp) {
	a.MovSlotToReg(reg.Rs1, regA)
	a.MovSlotToReg(reg.Rs2, regB)
	a.CmpRegReg(regA, regB)
	a.SetCC(setcc, regA)
	a.MovRegToSlot(regA, reg.Rd)
}

// lowerRegShift guards the shift amount at runtime, since here it comes
// from a register: compare it against 16 and skip the shift entirely
// when it is 16 or more, matching the VM's saturating rule rather than
// x86's own "mask the count to 5 bits" behavior. signed selects a
// sign-extending load of the value being shifted, for Sra.
func lowerRegShift(a *asmx86.Assembler, op obj.As, reg isa.RegisterOp, signed bool) {
	if signed {
		a.MovSlotToRegSigned(reg.Rs1, regA)
	} else {
		a.MovSlotToReg(reg.Rs1, regA)
	}
	a.MovSlotToReg(reg.Rs2, regTmp)
	a.BinOpConst(x86.ACMPQ, 16, regTmp)
	skip := a.NewLabel()
	a.JumpIf(x86.AJCC, skip) // unsigned >=: amount >= 16, skip the shift
	a.MovRegToReg(regTmp, x86.REG_CX)
	a.ShiftByCL(op, regA)
	a.BindHere(skip)
	a.MovRegToSlot(regA, reg.Rd)
}

// lowerLoad computes the effective address the same way interp.go's
// byteAddress/halfAddress do (wrapping add, then ×2 and an overflow
// check for half-words), bounds-checks it against the caller-supplied
// memory length, and loads zero on any failure: the JIT's equivalent of
// interp's "a, ok := ...; if !ok { r[rd] = 0 }".
func lowerLoad(a *asmx86.Assembler, ld isa.Load, half bool, signExtend bool) {
	a.MovSlotToReg(ld.Rs, regAddr)
	a.BinOpConst(x86.AADDQ, int64(ld.Offset), regAddr)
	a.BinOpConst(x86.AANDQ, 0xFFFF, regAddr) // wrap to u16, per "+ᵥ"

	invalid := a.NewLabel()
	done := a.NewLabel()

	if half {
		a.BinOpConst(x86.ASHLQ, 1, regAddr) // ×2: byte offset into memory
		a.BinOpConst(x86.ACMPQ, 0x10000, regAddr)
		a.JumpIf(x86.AJCC, invalid) // product overflowed u16

		a.BinOpConst(x86.ACMPQ, 2, regMemLen)
		a.JumpIf(x86.AJCS, invalid) // memLen < 2: no 2-byte window exists

		a.MovRegToReg(regMemLen, regLimit)
		a.BinOpConst(x86.ASUBQ, 1, regLimit)
		a.CmpRegReg64(regAddr, regLimit)
		a.JumpIf(x86.AJCC, invalid) // addr >= memLen-1
	} else {
		a.CmpRegReg64(regAddr, regMemLen)
		a.JumpIf(x86.AJCC, invalid) // addr >= memLen
	}

	switch {
	case half:
		a.LoadHalf(regMemBase, regAddr, regB)
	case signExtend:
		a.LoadByteSignExt(regMemBase, regAddr, regB)
	default:
		a.LoadByteZeroExt(regMemBase, regAddr, regB)
	}
	a.Jump(done)

	a.BindHere(invalid)
	a.MovConstToReg(0, regB)

	a.BindHere(done)
	a.MovRegToSlot(regB, ld.Rd)
}

// lowerStore mirrors lowerLoad's address computation and bounds check,
// but simply skips the write (rather than substituting a value) when the
// address is invalid, matching interp.go's Sb/Sh no-op-on-failure rule.
func lowerStore(a *asmx86.Assembler, st isa.Store, half bool) {
	a.MovSlotToReg(st.Rd, regAddr) // base address register
	a.MovSlotToReg(st.Rs, regB)    // value to store
	a.BinOpConst(x86.AADDQ, int64(st.Offset), regAddr)
	a.BinOpConst(x86.AANDQ, 0xFFFF, regAddr)

	invalid := a.NewLabel()

	if half {
		a.BinOpConst(x86.ASHLQ, 1, regAddr)
		a.BinOpConst(x86.ACMPQ, 0x10000, regAddr)
		a.JumpIf(x86.AJCC, invalid)

		a.BinOpConst(x86.ACMPQ, 2, regMemLen)
		a.JumpIf(x86.AJCS, invalid)

		a.MovRegToReg(regMemLen, regLimit)
		a.BinOpConst(x86.ASUBQ, 1, regLimit)
		a.CmpRegReg64(regAddr, regLimit)
		a.JumpIf(x86.AJCC, invalid)

		a.StoreHalf(regB, regMemBase, regAddr)
	} else {
		a.CmpRegReg64(regAddr, regMemLen)
		a.JumpIf(x86.AJCC, invalid)

		a.StoreByte(regB, regMemBase, regAddr)
	}

	a.BindHere(invalid)
}

func lowerBranch(a *asmx86.Assembler, cond obj.As, br isa.Branch, labels map[byte]*asmx86.Label) {
	l, ok := labels[br.Target]
	if !ok {
		// Branch cleanup guarantees every Beq/Bne's label exists; this
		// is defensive only and never reached on a program.Function.
		return
	}
	a.MovSlotToReg(br.Rs1, regA)
	a.MovSlotToReg(br.Rs2, regB)
	a.CmpRegReg(regB, regA)
	a.JumpIf(cond, l)
}

func lowerCall(a *asmx86.Assembler, call isa.CallTarget, resolve CallResolver) {
	entry, ok := resolve(call.Target)
	if !ok {
		return // dangling target: no-op, matching the interpreter
	}
	a.MovRegToReg(regMemBase, x86.REG_DI)
	a.MovRegToReg(regMemLen, x86.REG_SI)
	a.MovRegToReg(asmx86.RegsBase, x86.REG_DX)
	a.Call(entry)
}
