// Package codec is the binary wire format for rvm16 instruction streams:
// one opcode byte followed by that opcode's fixed-size payload, multi-byte
// fields little-endian. Deserialize is deliberately robust to arbitrary
// byte input: it never fails, because it is the entry point for
// fuzzer-generated programs, and every byte string must decode to some
// legal instruction sequence.
package codec

import (
	"encoding/binary"

	"rvm16/isa"
)

// Serialize emits each instruction as [opcode byte][payload bytes...] in
// order, little-endian for multi-byte fields.
func Serialize(instrs []isa.Instruction) []byte {
	out := make([]byte, 0, len(instrs)*4)
	for _, in := range instrs {
		out = append(out, byte(in.Op))
		switch in.Op {
		case isa.Addi, isa.Slti, isa.Sltiu, isa.Andi, isa.Ori, isa.Xori, isa.Slli, isa.Srli, isa.Srai:
			out = appendUint16(out, uint16(in.Imm.Value))
			out = append(out, in.Imm.Rs, in.Imm.Rd)
		case isa.Add, isa.Sub, isa.Slt, isa.Sltu, isa.And, isa.Or, isa.Xor, isa.Sll, isa.Srl, isa.Sra:
			out = append(out, in.Reg.Rs1, in.Reg.Rs2, in.Reg.Rd)
		case isa.Lh, isa.Lbu, isa.Lb:
			out = appendUint16(out, in.Ld.Offset)
			out = append(out, in.Ld.Rs, in.Ld.Rd)
		case isa.Sh, isa.Sb:
			out = appendUint16(out, in.St.Offset)
			out = append(out, in.St.Rs, in.St.Rd)
		case isa.Beq, isa.Bne:
			out = append(out, in.Br.Target, in.Br.Rs1, in.Br.Rs2)
		case isa.Target:
			out = append(out, in.Tgt.Identifier)
		case isa.Call:
			out = appendUint16(out, in.Call.Target)
		}
	}
	return out
}

func appendUint16(b []byte, v uint16) []byte {
	var tmp [2]byte
	binary.LittleEndian.PutUint16(tmp[:], v)
	return append(b, tmp[0], tmp[1])
}

// Deserialize decodes a byte slice into an instruction sequence. It never
// fails: an unknown opcode byte is skipped (advance by one, retry), and a
// truncated payload (fewer bytes remain than the current opcode declares)
// simply ends the stream. Register fields are clamped modulo
// isa.NumRegisters, so every decoded instruction is immediately legal to
// execute.
func Deserialize(b []byte) []isa.Instruction {
	var out []isa.Instruction
	i := 0
	for i < len(b) {
		op := isa.Opcode(b[i])
		if !op.Valid() {
			i++
			continue
		}
		size := op.Size()
		payload := b[i+1:]
		if len(payload) < size {
			break
		}
		out = append(out, decodeOne(op, payload))
		i += 1 + size
	}
	return out
}

func decodeOne(op isa.Opcode, payload []byte) isa.Instruction {
	switch op {
	case isa.Addi, isa.Slti, isa.Sltiu, isa.Andi, isa.Ori, isa.Xori, isa.Slli, isa.Srli, isa.Srai:
		value := int16(binary.LittleEndian.Uint16(payload))
		return isa.NewImmediate(op, value, payload[2], payload[3])
	case isa.Add, isa.Sub, isa.Slt, isa.Sltu, isa.And, isa.Or, isa.Xor, isa.Sll, isa.Srl, isa.Sra:
		return isa.NewRegisterOp(op, payload[0], payload[1], payload[2])
	case isa.Lh, isa.Lbu, isa.Lb:
		offset := binary.LittleEndian.Uint16(payload)
		return isa.NewLoad(op, offset, payload[2], payload[3])
	case isa.Sh, isa.Sb:
		offset := binary.LittleEndian.Uint16(payload)
		return isa.NewStore(op, offset, payload[2], payload[3])
	case isa.Beq, isa.Bne:
		return isa.NewBranch(op, payload[0], payload[1], payload[2])
	case isa.Target:
		return isa.NewTarget(payload[0])
	case isa.Call:
		target := binary.LittleEndian.Uint16(payload)
		return isa.NewCall(target)
	default:
		panic("codec: unhandled opcode in decodeOne")
	}
}
