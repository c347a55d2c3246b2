package isa

// NumRegisters is the size of the register file. Every register index
// used at runtime is reduced into this range at decode time.
const NumRegisters = 32

// ClampRegister reduces a byte-encoded register index modulo NumRegisters,
// so it is always a legal index. Decode is the only place this needs to
// run: once an Instruction exists, its register fields are guaranteed
// in-range.
func ClampRegister(b byte) byte {
	return b % NumRegisters
}

const (
	immediateSize    = 4
	registerOpSize   = 3
	loadSize         = 4
	storeSize        = 4
	branchSize       = 3
	branchTargetSize = 1
	callTargetSize   = 2
)

// Immediate carries a signed 16-bit constant and a source/destination
// register pair. Encoded as value (2 bytes LE), rs, rd.
type Immediate struct {
	Value int16
	Rs    byte
	Rd    byte
}

// RegisterOp carries two source registers and a destination register.
// Encoded as rs1, rs2, rd.
type RegisterOp struct {
	Rs1 byte
	Rs2 byte
	Rd  byte
}

// Load carries a byte offset and a base/destination register pair.
// Encoded as offset (2 bytes LE), rs, rd.
type Load struct {
	Offset uint16
	Rs     byte
	Rd     byte
}

// Store carries a byte offset, the register holding the value, and the
// register holding the base address. Encoded as offset (2 bytes LE), rs,
// rd; rd holds the base address, rs holds the value to store.
type Store struct {
	Offset uint16
	Rs     byte
	Rd     byte
}

// Branch carries a label identifier and the two registers compared for
// equality (Beq) or inequality (Bne). Encoded as target, rs1, rs2.
type Branch struct {
	Target byte
	Rs1    byte
	Rs2    byte
}

// BranchTarget labels a position within a function. Encoded as identifier.
type BranchTarget struct {
	Identifier byte
}

// CallTarget names a function in the owning Program's function list by
// index. Encoded as target (2 bytes LE). Distinct from BranchTarget: a
// BranchTarget identifies a label local to one function, a CallTarget
// identifies an entire function in the Program.
type CallTarget struct {
	Target uint16
}

// Instruction is a tagged union over all opcodes. Op selects which of the
// payload fields is meaningful; the rest are zero. Flattened rather than
// nested by opcode class (e.g. one Opcode byte instead of a class tag
// plus an opcode-within-class tag): the ISA has few enough payload shapes
// that this reads more directly.
//
// Instructions are immutable after construction.
type Instruction struct {
	Op Opcode

	Imm  Immediate
	Reg  RegisterOp
	Ld   Load
	St   Store
	Br   Branch
	Tgt  BranchTarget
	Call CallTarget
}

// NewImmediate builds an arithmetic-immediate instruction (Addi, Slti,
// Sltiu, Andi, Ori, Xori, Slli, Srli or Srai), clamping its registers.
func NewImmediate(op Opcode, value int16, rs, rd byte) Instruction {
	return Instruction{Op: op, Imm: Immediate{Value: value, Rs: ClampRegister(rs), Rd: ClampRegister(rd)}}
}

// NewRegisterOp builds an arithmetic-register instruction (Add, Sub, Slt,
// Sltu, And, Or, Xor, Sll, Srl or Sra), clamping its registers.
func NewRegisterOp(op Opcode, rs1, rs2, rd byte) Instruction {
	return Instruction{Op: op, Reg: RegisterOp{Rs1: ClampRegister(rs1), Rs2: ClampRegister(rs2), Rd: ClampRegister(rd)}}
}

// NewLoad builds a load instruction (Lh, Lbu or Lb), clamping its
// registers.
func NewLoad(op Opcode, offset uint16, rs, rd byte) Instruction {
	return Instruction{Op: op, Ld: Load{Offset: offset, Rs: ClampRegister(rs), Rd: ClampRegister(rd)}}
}

// NewStore builds a store instruction (Sh or Sb), clamping its registers.
func NewStore(op Opcode, offset uint16, rs, rd byte) Instruction {
	return Instruction{Op: op, St: Store{Offset: offset, Rs: ClampRegister(rs), Rd: ClampRegister(rd)}}
}

// NewBranch builds a Beq or Bne instruction, clamping its registers.
func NewBranch(op Opcode, target, rs1, rs2 byte) Instruction {
	return Instruction{Op: op, Br: Branch{Target: target, Rs1: ClampRegister(rs1), Rs2: ClampRegister(rs2)}}
}

// NewTarget builds a Target label instruction.
func NewTarget(identifier byte) Instruction {
	return Instruction{Op: Target, Tgt: BranchTarget{Identifier: identifier}}
}

// NewCall builds a Call instruction referring to a function index in the
// owning Program.
func NewCall(target uint16) Instruction {
	return Instruction{Op: Call, Call: CallTarget{Target: target}}
}
