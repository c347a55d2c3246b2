// Package rvm16 is the public entry point for the register virtual
// machine: decode a program's per-function bytecode, interpret it
// directly, or compile it to native code and run that instead. The two
// execution paths are built to agree on every observable memory
// mutation; Program and CompiledProgram exist so a caller, or a
// differential test, can run both against the same input and compare.
package rvm16

import (
	"rvm16/codec"
	"rvm16/internal/program"
	"rvm16/isa"
)

// NewProgram decodes each function's wire-format bytecode with package
// codec and builds a Program from the result. Decoding never fails, so
// neither does this.
func NewProgram(bodies [][]byte, repeats []byte) Program {
	decoded := make([][]isa.Instruction, len(bodies))
	for i, b := range bodies {
		decoded[i] = codec.Deserialize(b)
	}
	return NewProgramFromInstructions(decoded, repeats)
}

// NewProgramFromInstructions builds a Program directly from already-
// decoded instruction lists, skipping the codec. Most callers want
// NewProgram; this exists for callers that already have an
// isa.Instruction representation (tests, or a future text assembler).
func NewProgramFromInstructions(bodies [][]isa.Instruction, repeats []byte) Program {
	return Program{inner: program.New(bodies, repeats)}
}
