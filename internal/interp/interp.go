// Package interp is the direct interpreter: it executes a Function
// against a register file and a caller-owned memory buffer without
// compiling anything. It is one of the two back-ends whose output is
// compared against the JIT's on every input.
//
// Grounded in original_source/src/lang.rs's Processor and
// original_source/src/function.rs's Function::interpret.
package interp

import (
	"rvm16/internal/program"
	"rvm16/isa"
)

// processor holds the register file, program counter and call stack for
// one Interpret invocation. It never panics on executable input: every
// case that could otherwise be a fault (shift overflow, out-of-bounds
// memory access, a dangling Call target) is defined as a no-op or a
// saturating value instead.
type processor struct {
	registers [isa.NumRegisters]int16
	pc        int
	jumped    bool
	callStack []frame
}

type frame struct {
	function int
	pc       int
}

// maxCallDepth bounds the interpreter's call stack. Call cycles are
// rejected at compile time (program.ErrCallCycle) but Interpret still
// needs a hard ceiling for programs whose cycle it tolerates, so
// executions remain total.
const maxCallDepth = 4096

// Interpret runs a Program's entry function (index 0) against memory,
// mutating memory in place. Functions reached via Call share the same
// register file and memory as their caller.
func Interpret(p program.Program, memory []byte) {
	if p.Len() == 0 {
		return
	}
	proc := &processor{}
	runFunction(proc, p, 0, memory)
}

// runFunction executes function index fnIdx repeat times, each time from
// a fresh pc = 0, sharing proc's register file and call stack across
// repeats and across Call boundaries.
func runFunction(proc *processor, p program.Program, fnIdx int, memory []byte) {
	if fnIdx < 0 || fnIdx >= p.Len() {
		return
	}
	fn := p.Functions()[fnIdx]
	instrs := fn.Instructions()
	targets := fn.Targets()

	for iter := 0; iter < fn.Repeat(); iter++ {
		proc.pc = 0
		for proc.pc < len(instrs) {
			execute(proc, p, instrs[proc.pc], targets, memory)
			if proc.jumped {
				proc.jumped = false
			} else {
				proc.pc++
			}
		}
	}
}

func execute(proc *processor, p program.Program, in isa.Instruction, targets map[byte]int, memory []byte) {
	r := &proc.registers
	switch in.Op {
	case isa.Addi:
		r[in.Imm.Rd] = r[in.Imm.Rs] + in.Imm.Value
	case isa.Slti:
		r[in.Imm.Rd] = boolToI16(r[in.Imm.Rs] < in.Imm.Value)
	case isa.Sltiu:
		r[in.Imm.Rd] = boolToI16(uint16(r[in.Imm.Rs]) < uint16(in.Imm.Value))
	case isa.Andi:
		r[in.Imm.Rd] = r[in.Imm.Rs] & in.Imm.Value
	case isa.Ori:
		r[in.Imm.Rd] = r[in.Imm.Rs] | in.Imm.Value
	case isa.Xori:
		r[in.Imm.Rd] = r[in.Imm.Rs] ^ in.Imm.Value
	case isa.Slli:
		if s := uint16(in.Imm.Value); s < 16 {
			r[in.Imm.Rd] = int16(uint16(r[in.Imm.Rs]) << s)
		} else {
			r[in.Imm.Rd] = r[in.Imm.Rs]
		}
	case isa.Srli:
		if s := uint16(in.Imm.Value); s < 16 {
			r[in.Imm.Rd] = int16(uint16(r[in.Imm.Rs]) >> s)
		} else {
			r[in.Imm.Rd] = r[in.Imm.Rs]
		}
	case isa.Srai:
		if s := uint16(in.Imm.Value); s < 16 {
			r[in.Imm.Rd] = r[in.Imm.Rs] >> s
		} else {
			r[in.Imm.Rd] = r[in.Imm.Rs]
		}
	case isa.Add:
		r[in.Reg.Rd] = r[in.Reg.Rs1] + r[in.Reg.Rs2]
	case isa.Sub:
		r[in.Reg.Rd] = r[in.Reg.Rs1] - r[in.Reg.Rs2]
	case isa.Slt:
		r[in.Reg.Rd] = boolToI16(r[in.Reg.Rs1] < r[in.Reg.Rs2])
	case isa.Sltu:
		r[in.Reg.Rd] = boolToI16(uint16(r[in.Reg.Rs1]) < uint16(r[in.Reg.Rs2]))
	case isa.And:
		r[in.Reg.Rd] = r[in.Reg.Rs1] & r[in.Reg.Rs2]
	case isa.Or:
		r[in.Reg.Rd] = r[in.Reg.Rs1] | r[in.Reg.Rs2]
	case isa.Xor:
		r[in.Reg.Rd] = r[in.Reg.Rs1] ^ r[in.Reg.Rs2]
	case isa.Sll:
		if s := uint16(r[in.Reg.Rs2]); s < 16 {
			r[in.Reg.Rd] = int16(uint16(r[in.Reg.Rs1]) << s)
		} else {
			r[in.Reg.Rd] = r[in.Reg.Rs1]
		}
	case isa.Srl:
		if s := uint16(r[in.Reg.Rs2]); s < 16 {
			r[in.Reg.Rd] = int16(uint16(r[in.Reg.Rs1]) >> s)
		} else {
			r[in.Reg.Rd] = r[in.Reg.Rs1]
		}
	case isa.Sra:
		if s := uint16(r[in.Reg.Rs2]); s < 16 {
			r[in.Reg.Rd] = r[in.Reg.Rs1] >> s
		} else {
			r[in.Reg.Rd] = r[in.Reg.Rs1]
		}
	case isa.Lb:
		if a, ok := byteAddress(r[in.Ld.Rs], in.Ld.Offset, len(memory)); ok {
			r[in.Ld.Rd] = int16(int8(memory[a]))
		} else {
			r[in.Ld.Rd] = 0
		}
	case isa.Lbu:
		if a, ok := byteAddress(r[in.Ld.Rs], in.Ld.Offset, len(memory)); ok {
			r[in.Ld.Rd] = int16(memory[a])
		} else {
			r[in.Ld.Rd] = 0
		}
	case isa.Sb:
		if a, ok := byteAddress(r[in.St.Rd], in.St.Offset, len(memory)); ok {
			memory[a] = byte(r[in.St.Rs])
		}
	case isa.Lh:
		if a, ok := halfAddress(r[in.Ld.Rs], in.Ld.Offset, len(memory)); ok {
			r[in.Ld.Rd] = int16(uint16(memory[a]) | uint16(memory[a+1])<<8)
		} else {
			r[in.Ld.Rd] = 0
		}
	case isa.Sh:
		if a, ok := halfAddress(r[in.St.Rd], in.St.Offset, len(memory)); ok {
			v := uint16(r[in.St.Rs])
			memory[a] = byte(v)
			memory[a+1] = byte(v >> 8)
		}
	case isa.Beq:
		if r[in.Br.Rs1] == r[in.Br.Rs2] {
			branch(proc, in.Br.Target, targets)
		}
	case isa.Bne:
		if r[in.Br.Rs1] != r[in.Br.Rs2] {
			branch(proc, in.Br.Target, targets)
		}
	case isa.Target:
		// no-op at execution time
	case isa.Call:
		doCall(proc, p, in.Call.Target, memory)
	}
}

// branch sets pc to the target label's instruction index, if that label
// is defined at a strictly later index than the current pc. Otherwise it
// falls through. After cleanup every Beq/Bne satisfies this by
// construction, but the interpreter defends anyway since it must never
// panic on arbitrary input.
func branch(proc *processor, label byte, targets map[byte]int) {
	idx, ok := targets[label]
	if !ok || idx <= proc.pc {
		return
	}
	proc.pc = idx
	proc.jumped = true
}

// doCall executes callee as a nested function sharing the register file
// and memory: push the return pc, run the callee (with its own fresh
// pc/jumped state and its own repeat count), then resume.
func doCall(proc *processor, p program.Program, target uint16, memory []byte) {
	callee := int(target)
	if callee < 0 || callee >= p.Len() {
		return // dangling call target: no-op, same as any other OOB case
	}
	if len(proc.callStack) >= maxCallDepth {
		return
	}
	proc.callStack = append(proc.callStack, frame{function: callee, pc: proc.pc})

	savedPC, savedJumped := proc.pc, proc.jumped
	runFunction(proc, p, callee, memory)
	proc.pc, proc.jumped = savedPC, savedJumped

	proc.callStack = proc.callStack[:len(proc.callStack)-1]
}

func boolToI16(b bool) int16 {
	if b {
		return 1
	}
	return 0
}

// byteAddress computes the Lb/Lbu/Sb address a = (base as u16 + offset)
// as usize, reporting whether a < len(memory).
func byteAddress(base int16, offset uint16, memLen int) (int, bool) {
	a := int(uint16(base) + offset)
	return a, a < memLen
}

// halfAddress computes the Lh/Sh address a = (base as u16 + offset) * 2,
// reporting whether the multiply overflowed u16 or a is outside the
// 2-byte window [0, memLen-1).
func halfAddress(base int16, offset uint16, memLen int) (int, bool) {
	sum := uint16(base) + offset // wrapping add, per "+ᵥ"
	product := uint32(sum) * 2   // the multiply itself must not overflow u16
	if product > 0xFFFF {
		return 0, false
	}
	a := int(product)
	if memLen < 2 || a >= memLen-1 {
		return 0, false
	}
	return a, true
}
