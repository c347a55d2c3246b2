package rvm16

import (
	"fmt"

	"rvm16/internal/cache"
	"rvm16/internal/interp"
	"rvm16/internal/jit"
	"rvm16/internal/program"
)

// Program is a decoded, cleaned-up rvm16 program: function 0 is the
// entry point, every Beq/Bne target and every Call target already
// resolves within the program (program.New's two cleanup passes run at
// construction).
type Program struct {
	inner program.Program
}

// Interpret runs the program against memory using the direct
// interpreter, mutating memory in place. Always safe to call, even on a
// program whose Call graph is cyclic (package interp bounds recursion
// depth rather than refusing to run).
func (p Program) Interpret(memory []byte) {
	interp.Interpret(p.inner, memory)
}

// HasCallCycle reports whether this program's Call graph is cyclic,
// which would make Compile fail.
func (p Program) HasCallCycle() bool { return p.inner.HasCallCycle() }

// Compile lowers every function reachable from the entry point to native
// code via the JIT back-end, dependency-first, sharing compiled
// artifacts across structurally identical functions through the
// Function Cache. It fails with program.ErrCallCycle if the Call graph
// is cyclic: compilation, unlike interpretation, cannot make progress on
// a program with no well-founded compile order.
func (p Program) Compile() (*CompiledProgram, error) {
	if err := p.inner.ValidateForCompile(); err != nil {
		return nil, err
	}
	if p.inner.Len() == 0 {
		return &CompiledProgram{}, nil
	}

	functions := p.inner.Functions()
	fc := cache.New()

	compiled := make(map[int]*jit.NativeCode, len(functions))
	entryIDs := make(map[int]int, len(functions))
	var mapped []*jit.NativeCode // distinct artifacts, for Close

	resolver := func(target uint16) (uintptr, bool) {
		nc, ok := compiled[int(target)]
		if !ok {
			return 0, false
		}
		return nc.Entry(), true
	}

	var compileIndex func(idx int) (*jit.NativeCode, error)
	compileIndex = func(idx int) (*jit.NativeCode, error) {
		if nc, ok := compiled[idx]; ok {
			return nc, nil
		}
		fn := functions[idx]
		deps := fn.CallTargets()
		depIDs := make([]int, 0, len(deps))
		for _, d := range deps {
			if _, err := compileIndex(int(d)); err != nil {
				return nil, err
			}
			depIDs = append(depIDs, entryIDs[int(d)])
		}

		if entry, ok := fc.Lookup(fn.RawRepeat(), fn.Instructions(), depIDs); ok {
			nc := entry.Handle.(*jit.NativeCode)
			compiled[idx] = nc
			entryIDs[idx] = entry.ID
			return nc, nil
		}

		out, err := jit.CompileFunction(fn, resolver)
		if err != nil {
			return nil, fmt.Errorf("rvm16: compiling function %d: %w", idx, err)
		}
		nc, err := jit.Map(out.Code)
		if err != nil {
			return nil, fmt.Errorf("rvm16: mapping function %d: %w", idx, err)
		}
		entry := fc.Insert(fn.RawRepeat(), fn.Instructions(), depIDs, nc)
		compiled[idx] = nc
		entryIDs[idx] = entry.ID
		mapped = append(mapped, nc)
		return nc, nil
	}

	entry, err := compileIndex(0)
	if err != nil {
		for _, nc := range mapped {
			_ = nc.Release()
		}
		return nil, err
	}

	return &CompiledProgram{entry: entry, mapped: mapped}, nil
}

// CompiledProgram is a whole program's compiled entry point, ready to
// run against a caller-owned memory buffer. Its native code remains
// mapped executable until Close.
type CompiledProgram struct {
	entry  *jit.NativeCode
	mapped []*jit.NativeCode
}

// Run executes the compiled program's entry function against memory,
// mutating memory in place. For the same program and input, it leaves
// memory byte-identical to Program.Interpret.
func (cp *CompiledProgram) Run(memory []byte) {
	if cp.entry == nil {
		return
	}
	regs := make([]byte, 64) // 32 × i16, zeroed: the VM's initial register state
	jit.Run(cp.entry.Entry(), memory, regs)
}

// Close unmaps every distinct compiled artifact. The CompiledProgram
// must not be used afterward.
func (cp *CompiledProgram) Close() error {
	var first error
	for _, nc := range cp.mapped {
		if err := nc.Release(); err != nil && first == nil {
			first = err
		}
	}
	cp.mapped = nil
	cp.entry = nil
	return first
}
