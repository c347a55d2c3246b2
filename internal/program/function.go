// Package program holds the Function and Program models: an immutable,
// already-cleaned-up instruction list plus a repeat count, and an indexed
// collection of such functions with function 0 as the entry point.
//
// Two normalizing passes run once at construction, grounded in
// original_source/src/function.rs's cleanup_branches and cleanup_calls:
// branch cleanup (per function, at Function.New) retargets any Beq/Bne
// whose label doesn't resolve forward to a synthesized end-of-function
// label, so the JIT only ever sees a forward-only control-flow graph;
// call cleanup (per program, at New, since it needs every function's
// existence to validate targets) drops any Call whose target function
// doesn't exist.
package program

import "rvm16/isa"

// Function is an ordered, immutable instruction list plus a repeat count.
// Repeat 0 means "run once", matching the interpreter's and the JIT's
// shared treatment of an unset repeat.
type Function struct {
	instructions []isa.Instruction
	repeat       byte
	targets      map[byte]int // label identifier -> instruction index, later Target wins
}

// NewFunction builds a Function from a raw instruction slice, running
// branch cleanup. Call cleanup is not run here: it needs the owning
// Program's function count, so it runs once from program.New.
func NewFunction(instructions []isa.Instruction, repeat byte) Function {
	cleaned := cleanupBranches(instructions)
	return Function{
		instructions: cleaned,
		repeat:       repeat,
		targets:      computeTargets(cleaned),
	}
}

// Instructions returns the function's (already cleaned up) instruction
// list. Callers must not mutate the returned slice.
func (f Function) Instructions() []isa.Instruction { return f.instructions }

// Repeat returns the effective repeat count: a stored 0 means 1.
func (f Function) Repeat() int {
	if f.repeat == 0 {
		return 1
	}
	return int(f.repeat)
}

// RawRepeat returns the repeat count as stored (0 meaning "unset"), which
// is what the Function Cache's structural key compares on.
func (f Function) RawRepeat() byte { return f.repeat }

// Targets returns the label identifier -> instruction index map computed
// after cleanup.
func (f Function) Targets() map[byte]int { return f.targets }

// CallTargets returns the set of function indices this function's Call
// instructions refer to, deduplicated. Used both to drive dependency-
// first compilation (§4.7) and to detect call cycles (program.New).
func (f Function) CallTargets() []uint16 {
	seen := make(map[uint16]struct{})
	var out []uint16
	for _, in := range f.instructions {
		if in.Op != isa.Call {
			continue
		}
		t := in.Call.Target
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}

// dropInvalidCalls removes Call instructions whose target index is not a
// valid function index, given the owning Program has numFunctions
// functions. Grounded in original_source/src/function.rs's cleanup_calls.
func (f Function) dropInvalidCalls(numFunctions int) Function {
	var changed bool
	out := make([]isa.Instruction, 0, len(f.instructions))
	for _, in := range f.instructions {
		if in.Op == isa.Call && int(in.Call.Target) >= numFunctions {
			changed = true
			continue
		}
		out = append(out, in)
	}
	if !changed {
		return f
	}
	return Function{
		instructions: out,
		repeat:       f.repeat,
		targets:      computeTargets(out),
	}
}

func computeTargets(instructions []isa.Instruction) map[byte]int {
	targets := make(map[byte]int)
	for i, in := range instructions {
		if in.Op == isa.Target {
			// "When two targets share an identifier, the later one wins."
			targets[in.Tgt.Identifier] = i
		}
	}
	return targets
}

// cleanupBranches rewrites every Beq/Bne whose target label does not
// exist, or exists at or before the branch's own index, to jump to a
// synthesized end-of-function label instead. If any branch was rewritten,
// exactly one Target instruction with that label is appended. This
// guarantees every branch in the cleaned-up function either falls through
// or jumps strictly forward to a label that definitely exists.
func cleanupBranches(instructions []isa.Instruction) []isa.Instruction {
	targets := computeTargets(instructions)

	needsSynthesized := false
	for i, in := range instructions {
		if in.Op != isa.Beq && in.Op != isa.Bne {
			continue
		}
		idx, ok := targets[in.Br.Target]
		if !ok || idx <= i {
			needsSynthesized = true
			break
		}
	}
	if !needsSynthesized {
		out := make([]isa.Instruction, len(instructions))
		copy(out, instructions)
		return out
	}

	synthesized, ok := smallestUnusedLabel(targets)
	if !ok {
		// All 256 identifiers are taken: spec says to drop the branch
		// rather than synthesize an unreachable 257th label.
		out := make([]isa.Instruction, 0, len(instructions))
		for i, in := range instructions {
			if in.Op == isa.Beq || in.Op == isa.Bne {
				if idx, ok := targets[in.Br.Target]; !ok || idx <= i {
					continue
				}
			}
			out = append(out, in)
		}
		return out
	}

	out := make([]isa.Instruction, 0, len(instructions)+1)
	for i, in := range instructions {
		if in.Op == isa.Beq || in.Op == isa.Bne {
			idx, ok := targets[in.Br.Target]
			if !ok || idx <= i {
				in = isa.NewBranch(in.Op, synthesized, in.Br.Rs1, in.Br.Rs2)
			}
		}
		out = append(out, in)
	}
	out = append(out, isa.NewTarget(synthesized))
	return out
}

// smallestUnusedLabel returns the smallest u8 identifier not already used
// as a Target in the function, or false if all 256 are taken.
func smallestUnusedLabel(targets map[byte]int) (byte, bool) {
	for id := 0; id < 256; id++ {
		if _, used := targets[byte(id)]; !used {
			return byte(id), true
		}
	}
	return 0, false
}
