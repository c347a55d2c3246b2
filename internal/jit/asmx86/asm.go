// Package asmx86 is a thin, domain-specific wrapper around
// github.com/twitchyliquid64/golang-asm, the object-file assembler
// extracted from the Go toolchain and reused here as a general-purpose
// compiler back-end. Rather than exposing golang-asm's full generality,
// this package only knows the handful of amd64 shapes the JIT's
// lowering in package jit needs: register/stack moves, wrapping
// arithmetic, compare-and-branch, and call/return.
package asmx86

import (
	"fmt"

	goasm "github.com/twitchyliquid64/golang-asm"
	"github.com/twitchyliquid64/golang-asm/obj"
	"github.com/twitchyliquid64/golang-asm/obj/x86"
)

// Label is a forward-declared jump target: created before the
// instruction it names has been emitted, then bound with BindHere just
// before that instruction is emitted. This mirrors golang-asm's own deferred-target
// style (obj.Prog.To.SetTarget).
type Label struct {
	target    *obj.Prog // set once bound
	resolvers []*obj.Prog
}

// Assembler builds one function's native code using golang-asm's
// builder. A fresh Assembler is created per function; nothing here is
// package-level mutable state.
type Assembler struct {
	b       *goasm.Builder
	binds   []*Label // labels whose target is "the next instruction added"
	labels  []*Label // every label created, for end-of-function verification
}

// New creates an Assembler targeting amd64, with an initial buffer size
// hint (golang-asm grows its buffer as needed; this just avoids
// reallocation for the common case).
func New() (*Assembler, error) {
	b, err := goasm.NewBuilder("amd64", 256)
	if err != nil {
		return nil, fmt.Errorf("asmx86: failed to create builder: %w", err)
	}
	return &Assembler{b: b}, nil
}

func (a *Assembler) newProg() *obj.Prog {
	p := a.b.NewProg()
	return p
}

func (a *Assembler) add(p *obj.Prog) {
	a.b.AddInstruction(p)
	for _, l := range a.binds {
		l.target = p
		for _, ref := range l.resolvers {
			ref.To.SetTarget(p)
		}
		l.resolvers = nil
	}
	a.binds = nil
}

// NewLabel returns a Label whose target is not yet known; bind it to an
// instruction with BindHere right before emitting that instruction.
func (a *Assembler) NewLabel() *Label {
	l := &Label{}
	a.labels = append(a.labels, l)
	return l
}

// BindHere marks that the next instruction emitted is l's target.
func (a *Assembler) BindHere(l *Label) {
	a.binds = append(a.binds, l)
}

// RegsBase is the register that holds the pointer to the shared 32-slot
// i16 register array for the whole call tree. The register array is not
// part of any one function's stack frame: a caller and every function it
// calls share one register file, so the array has to live behind a
// pointer that survives calls rather than at a fixed per-function frame
// offset. R12 is callee-saved under the System V AMD64 convention the
// emitted functions follow, so a CALL never disturbs it.
const RegsBase = x86.REG_R12

const slotSize = 2

func slotOffset(reg byte) int64 { return int64(reg) * slotSize }

// MovConstToSlot stores a 16-bit constant into register slot rd.
func (a *Assembler) MovConstToSlot(value int16, rd byte) {
	p := a.newProg()
	p.As = x86.AMOVW
	p.From.Type = obj.TYPE_CONST
	p.From.Offset = int64(uint16(value))
	p.To.Type = obj.TYPE_MEM
	p.To.Reg = RegsBase
	p.To.Offset = slotOffset(rd)
	a.add(p)
}

// MovSlotToReg loads register slot rs into the given scratch register,
// zero-extended to 64 bits.
func (a *Assembler) MovSlotToReg(rs byte, scratch int16) {
	p := a.newProg()
	p.As = x86.AMOVWQZX
	p.From.Type = obj.TYPE_MEM
	p.From.Reg = RegsBase
	p.From.Offset = slotOffset(rs)
	p.To.Type = obj.TYPE_REG
	p.To.Reg = scratch
	a.add(p)
}

// MovRegToSlot stores the low 16 bits of a scratch register into
// register slot rd.
func (a *Assembler) MovRegToSlot(scratch int16, rd byte) {
	p := a.newProg()
	p.As = x86.AMOVW
	p.From.Type = obj.TYPE_REG
	p.From.Reg = scratch
	p.To.Type = obj.TYPE_MEM
	p.To.Reg = RegsBase
	p.To.Offset = slotOffset(rd)
	a.add(p)
}

// MovSlotToRegSigned loads register slot rs into scratch, sign-extended.
// Used only for the arithmetic right shift (Sra/Srai), which needs the
// VM's signed 16-bit value replicated into the scratch register's high
// bits before shifting; every other op reads slots via MovSlotToReg.
func (a *Assembler) MovSlotToRegSigned(rs byte, scratch int16) {
	p := a.newProg()
	p.As = x86.AMOVWQSX
	p.From.Type = obj.TYPE_MEM
	p.From.Reg = RegsBase
	p.From.Offset = slotOffset(rs)
	p.To.Type = obj.TYPE_REG
	p.To.Reg = scratch
	a.add(p)
}

// MovConstToReg loads a 16-bit value, zero-extended, into a full scratch
// register.
func (a *Assembler) MovConstToReg(value int16, dst int16) {
	p := a.newProg()
	p.As = x86.AMOVQ
	p.From.Type = obj.TYPE_CONST
	p.From.Offset = int64(uint16(value))
	p.To.Type = obj.TYPE_REG
	p.To.Reg = dst
	a.add(p)
}

// BinOp emits `op dst, src` over two scratch registers, leaving the
// result in dst. Used both for the VM's 16-bit arithmetic (op operates
// on the low 16 bits only) and, with a 64-bit op, address arithmetic.
func (a *Assembler) BinOp(op obj.As, src, dst int16) {
	p := a.newProg()
	p.As = op
	p.From.Type = obj.TYPE_REG
	p.From.Reg = src
	p.To.Type = obj.TYPE_REG
	p.To.Reg = dst
	a.add(p)
}

// BinOpConst emits `op dst, value`.
func (a *Assembler) BinOpConst(op obj.As, value int64, dst int16) {
	p := a.newProg()
	p.As = op
	p.From.Type = obj.TYPE_CONST
	p.From.Offset = value
	p.To.Type = obj.TYPE_REG
	p.To.Reg = dst
	a.add(p)
}

// CmpRegReg emits a 16-bit `cmp a, b`.
func (a *Assembler) CmpRegReg(a1, b int16) {
	p := a.newProg()
	p.As = x86.ACMPW
	p.From.Type = obj.TYPE_REG
	p.From.Reg = a1
	p.To.Type = obj.TYPE_REG
	p.To.Reg = b
	a.add(p)
}

// CmpRegReg64 emits a full-width `cmp a, b`, for address bounds checks.
func (a *Assembler) CmpRegReg64(a1, b int16) {
	p := a.newProg()
	p.As = x86.ACMPQ
	p.From.Type = obj.TYPE_REG
	p.From.Reg = a1
	p.To.Type = obj.TYPE_REG
	p.To.Reg = b
	a.add(p)
}

// SetCC stores the result of the last comparison (per cond) as 0/1 into
// dst (the byte SETcc writes is then zero-extended into the full register).
func (a *Assembler) SetCC(cond obj.As, dst int16) {
	p := a.newProg()
	p.As = cond // one of x86.ASETEQ, ASETLT, ASETCS (unsigned <), etc.
	p.To.Type = obj.TYPE_REG
	p.To.Reg = dst
	a.add(p)

	zx := a.newProg()
	zx.As = x86.AMOVBQZX
	zx.From.Type = obj.TYPE_REG
	zx.From.Reg = dst
	zx.To.Type = obj.TYPE_REG
	zx.To.Reg = dst
	a.add(zx)
}

// JumpIf emits a conditional jump (cond is e.g. x86.AJEQ, x86.AJNE,
// x86.AJLT, x86.AJCS) to l, which must later be Bound.
func (a *Assembler) JumpIf(cond obj.As, l *Label) {
	p := a.newProg()
	p.As = cond
	p.To.Type = obj.TYPE_BRANCH
	a.deferTarget(p, l)
}

// Jump emits an unconditional jump to l.
func (a *Assembler) Jump(l *Label) {
	p := a.newProg()
	p.As = obj.AJMP
	p.To.Type = obj.TYPE_BRANCH
	a.deferTarget(p, l)
}

// deferTarget links p's branch target to l once l is bound. If l is
// already bound (backward jump), the target is set immediately;
// otherwise it is resolved the moment l is bound via BindHere+add.
func (a *Assembler) deferTarget(p *obj.Prog, l *Label) {
	if l.target != nil {
		p.To.SetTarget(l.target)
	} else {
		l.resolvers = append(l.resolvers, p)
	}
	a.add(p)
}

// Call emits an indirect call to a previously-assembled function's entry
// address: the target is a 64-bit immediate, which x86 cannot call
// directly, so it is staged through AX (dead at every Call site in this
// lowering) and called indirectly. Resolved once that function has been
// laid out: the Function Cache's dependency-first compile order
// guarantees callees are always compiled before callers.
func (a *Assembler) Call(target uintptr) {
	mov := a.newProg()
	mov.As = x86.AMOVQ
	mov.From.Type = obj.TYPE_CONST
	mov.From.Offset = int64(target)
	mov.To.Type = obj.TYPE_REG
	mov.To.Reg = x86.REG_AX
	a.add(mov)

	call := a.newProg()
	call.As = obj.ACALL
	call.To.Type = obj.TYPE_REG
	call.To.Reg = x86.REG_AX
	a.add(call)
}

// MovRegToReg emits `mov dst, src` between two full-width registers; used
// to move the incoming argument registers into the callee-saved
// registers jit.go reserves for the memory base pointer, its length, and
// the shared register-array pointer for the rest of the function.
func (a *Assembler) MovRegToReg(src, dst int16) {
	p := a.newProg()
	p.As = x86.AMOVQ
	p.From.Type = obj.TYPE_REG
	p.From.Reg = src
	p.To.Type = obj.TYPE_REG
	p.To.Reg = dst
	a.add(p)
}

// ShiftByCL emits `op valueReg, CX`: x86 shift-by-register instructions
// always take their count from CL, so jit.go's guarded-shift lowering
// moves the VM's shift-amount register into CX before calling this.
func (a *Assembler) ShiftByCL(op obj.As, valueReg int16) {
	p := a.newProg()
	p.As = op
	p.From.Type = obj.TYPE_REG
	p.From.Reg = x86.REG_CX
	p.To.Type = obj.TYPE_REG
	p.To.Reg = valueReg
	a.add(p)
}

// LoadByteSignExt / LoadByteZeroExt / StoreByte / LoadHalf / StoreHalf
// address memory at
// base+index (both already-loaded scratch registers) for the bounds-
// checked load/store lowering in package jit.
func (a *Assembler) LoadByteSignExt(base, index, dst int16) {
	p := a.newProg()
	p.As = x86.AMOVBQSX
	p.From.Type = obj.TYPE_MEM
	p.From.Reg = base
	p.From.Index = index
	p.From.Scale = 1
	p.To.Type = obj.TYPE_REG
	p.To.Reg = dst
	a.add(p)
}

func (a *Assembler) LoadByteZeroExt(base, index, dst int16) {
	p := a.newProg()
	p.As = x86.AMOVBQZX
	p.From.Type = obj.TYPE_MEM
	p.From.Reg = base
	p.From.Index = index
	p.From.Scale = 1
	p.To.Type = obj.TYPE_REG
	p.To.Reg = dst
	a.add(p)
}

func (a *Assembler) StoreByte(src, base, index int16) {
	p := a.newProg()
	p.As = x86.AMOVB
	p.From.Type = obj.TYPE_REG
	p.From.Reg = src
	p.To.Type = obj.TYPE_MEM
	p.To.Reg = base
	p.To.Index = index
	p.To.Scale = 1
	a.add(p)
}

func (a *Assembler) LoadHalf(base, index, dst int16) {
	p := a.newProg()
	p.As = x86.AMOVWQSX
	p.From.Type = obj.TYPE_MEM
	p.From.Reg = base
	p.From.Index = index
	p.From.Scale = 1
	p.To.Type = obj.TYPE_REG
	p.To.Reg = dst
	a.add(p)
}

func (a *Assembler) StoreHalf(src, base, index int16) {
	p := a.newProg()
	p.As = x86.AMOVW
	p.From.Type = obj.TYPE_REG
	p.From.Reg = src
	p.To.Type = obj.TYPE_MEM
	p.To.Reg = base
	p.To.Index = index
	p.To.Scale = 1
	a.add(p)
}

// Ret emits the function epilogue.
func (a *Assembler) Ret() {
	p := a.newProg()
	p.As = obj.ARET
	a.add(p)
}

// Assemble finalizes the instruction stream into machine code bytes.
// Before handing the bytes back, it walks every emitted branch and
// confirms its target was resolved, as a hard precondition of treating
// the result as runnable. A branch with no resolved target is the one
// case the generator itself would produce incorrectly, and is surfaced
// as a fatal error rather than assembled into broken code.
func (a *Assembler) Assemble() ([]byte, error) {
	if err := a.verify(); err != nil {
		return nil, err
	}
	return a.b.Assemble(), nil
}

func (a *Assembler) verify() error {
	for _, l := range a.labels {
		if l.target == nil && len(l.resolvers) > 0 {
			return fmt.Errorf("asmx86: unresolved jump target at end of function")
		}
	}
	return nil
}
