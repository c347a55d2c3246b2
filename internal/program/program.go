package program

import (
	"errors"
	"fmt"

	"rvm16/isa"
)

// ErrCallCycle is returned (wrapped) by ValidateForCompile when New found
// the Call graph among the given functions to be cyclic. Per spec's open question on Call, the runtime
// makes no guess about intended semantics for a recursive call graph; it
// refuses to compile one rather than silently looping or overflowing a
// native call stack. Interpretation is unaffected (bounded by call-stack
// depth), only compilation refuses.
var ErrCallCycle = errors.New("rvm16: function call graph has a cycle")

// Program is an ordered collection of Functions; function 0 is the entry
// point.
type Program struct {
	functions []Function
	cyclic    bool
	cycle     []int
}

// New builds a Program from a list of raw instruction lists and their
// repeat counts, running per-function branch cleanup (via NewFunction)
// and then program-wide call cleanup: any Call whose target index is out
// of range for this function list is dropped, since there is no
// sensible retarget for a reference to a function that doesn't exist
// (unlike a dangling branch label, which retargets to a synthesized
// end-of-function marker).
func New(bodies [][]isa.Instruction, repeats []byte) Program {
	functions := make([]Function, len(bodies))
	for i, body := range bodies {
		var repeat byte
		if i < len(repeats) {
			repeat = repeats[i]
		}
		functions[i] = NewFunction(body, repeat)
	}
	functions = cleanupCalls(functions)

	p := Program{functions: functions}
	if cyc, ok := findCycle(functions); ok {
		p.cyclic = true
		p.cycle = cyc
	}
	return p
}

// Functions returns the Program's functions, indexed the same way Call
// instructions refer to them.
func (p Program) Functions() []Function { return p.functions }

// Len returns the number of functions in the Program.
func (p Program) Len() int { return len(p.functions) }

// HasCallCycle reports whether this Program's Call graph is cyclic.
func (p Program) HasCallCycle() bool { return p.cyclic }

// ValidateForCompile returns ErrCallCycle (wrapped with the offending
// function indices) if the Program cannot be handed to the JIT; it is
// always nil-safe to Interpret regardless.
func (p Program) ValidateForCompile() error {
	if !p.cyclic {
		return nil
	}
	return fmt.Errorf("%w: %v", ErrCallCycle, p.cycle)
}

// cleanupCalls drops any Call instruction whose target index is not a
// valid function index for this Program.
func cleanupCalls(functions []Function) []Function {
	out := make([]Function, len(functions))
	for i, f := range functions {
		out[i] = f.dropInvalidCalls(len(functions))
	}
	return out
}

// findCycle runs a DFS over the Call graph and returns the first cycle
// found, as a sequence of function indices.
func findCycle(functions []Function) ([]int, bool) {
	const (
		unvisited = 0
		visiting  = 1
		done      = 2
	)
	state := make([]int, len(functions))
	var stack []int

	var visit func(i int) ([]int, bool)
	visit = func(i int) ([]int, bool) {
		state[i] = visiting
		stack = append(stack, i)
		for _, dep := range functions[i].CallTargets() {
			d := int(dep)
			if d < 0 || d >= len(functions) {
				continue
			}
			switch state[d] {
			case visiting:
				// Found the cycle: the suffix of stack from d's
				// first occurrence onward.
				for idx, s := range stack {
					if s == d {
						return append(append([]int{}, stack[idx:]...), d), true
					}
				}
				return []int{d}, true
			case unvisited:
				if cyc, ok := visit(d); ok {
					return cyc, true
				}
			}
		}
		stack = stack[:len(stack)-1]
		state[i] = done
		return nil, false
	}

	for i := range functions {
		if state[i] == unvisited {
			if cyc, ok := visit(i); ok {
				return cyc, true
			}
		}
	}
	return nil, false
}
