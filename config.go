package rvm16

import (
	"fmt"
	"log/slog"
)

// engineKind selects which back-end Runtime.Run uses.
type engineKind int

const (
	engineInterpreter engineKind = iota
	engineJIT
)

// RuntimeConfig selects a Runtime's execution back-end. Construct one
// with NewRuntimeConfigInterpreter or NewRuntimeConfigJIT; the zero value
// is not valid, since a Runtime should never be built without picking an
// engine.
type RuntimeConfig struct {
	engine engineKind
	logger *slog.Logger
}

// NewRuntimeConfigInterpreter selects the direct interpreter: no
// compilation step, higher per-instruction cost, no platform dependency
// on executable memory mappings.
func NewRuntimeConfigInterpreter() RuntimeConfig {
	return RuntimeConfig{engine: engineInterpreter, logger: slog.Default()}
}

// NewRuntimeConfigJIT selects the native code generator: pays a
// compilation cost up front (amortized across repeated Run calls on the
// same CompiledProgram, or across a differential test's many inputs
// against one compile), then runs at native speed.
func NewRuntimeConfigJIT() RuntimeConfig {
	return RuntimeConfig{engine: engineJIT, logger: slog.Default()}
}

// WithLogger overrides the RuntimeConfig's logger. Runtime logs at debug
// level around compilation and run boundaries; nothing in the hot path
// of Interpret or a compiled Run is logged, since both are expected to
// execute millions of times per fuzz run.
func (c RuntimeConfig) WithLogger(logger *slog.Logger) RuntimeConfig {
	c.logger = logger
	return c
}

// Runtime runs Programs using the back-end its RuntimeConfig selected.
type Runtime struct {
	cfg RuntimeConfig
}

// NewRuntime builds a Runtime from cfg.
func NewRuntime(cfg RuntimeConfig) *Runtime {
	if cfg.logger == nil {
		cfg.logger = slog.Default()
	}
	return &Runtime{cfg: cfg}
}

// Run executes p against memory using the configured back-end. For the
// JIT engine this compiles p on every call; callers running the same
// Program repeatedly should call Program.Compile once and reuse the
// resulting CompiledProgram instead.
func (r *Runtime) Run(p Program, memory []byte) error {
	switch r.cfg.engine {
	case engineInterpreter:
		r.cfg.logger.Debug("interpreting program", "functions", p.inner.Len())
		p.Interpret(memory)
		return nil
	case engineJIT:
		r.cfg.logger.Debug("compiling program", "functions", p.inner.Len())
		cp, err := p.Compile()
		if err != nil {
			return fmt.Errorf("rvm16: %w", err)
		}
		defer cp.Close()
		cp.Run(memory)
		return nil
	default:
		return fmt.Errorf("rvm16: unknown engine kind %d", r.cfg.engine)
	}
}
