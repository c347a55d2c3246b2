package rvm16

import (
	"rvm16/internal/jit"
	"rvm16/internal/program"
)

// ErrCallCycle is returned (wrapped, via errors.Is) by Program.Compile
// when the program's Call graph is cyclic. Interpret remains usable on
// such a Program regardless, bounded by the interpreter's call-stack
// depth; only Compile refuses.
var ErrCallCycle = program.ErrCallCycle

// ErrVerification is returned (wrapped, via errors.Is) by Program.Compile
// when the JIT back-end rejects an emitted function body: an unresolved
// jump target, the one case the generator itself would have produced
// incorrectly.
var ErrVerification = jit.ErrVerification
