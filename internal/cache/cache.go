// Package cache implements the Function Cache: structural value-numbering
// for compiled functions, keyed on (repeat, instruction list, dependency
// identity vector) so that two functions with identical bodies and
// identically-identified callees share one compiled artifact.
//
// Grounded in original_source/src/cache.rs's FunctionValueCache.
package cache

import (
	"rvm16/codec"
	"rvm16/isa"
)

// Handle is whatever the JIT considers the "native function handle" for
// a compiled function: an opaque value from cache's point of view.
type Handle any

// Entry is the cache's value: the artifact's sequential id and its
// compiled handle.
type Entry struct {
	ID     int
	Handle Handle
}

// Cache memoizes compiled functions across one compile session (one
// program-runner invocation). It must not be shared across sessions tied
// to different back-end contexts: construct a fresh Cache per compile.
type Cache struct {
	entries map[key]Entry
	nextID  int
}

// New returns an empty Cache with its id counter starting at 0.
func New() *Cache {
	return &Cache{entries: make(map[key]Entry)}
}

type key struct {
	repeat byte
	body   string // instructions encoded as a comparable string
	deps   string // dependency ids encoded as a comparable string
}

// Lookup returns the cached Entry for (repeat, instructions, deps), if
// any is already present.
func (c *Cache) Lookup(repeat byte, instructions []isa.Instruction, deps []int) (Entry, bool) {
	e, ok := c.entries[makeKey(repeat, instructions, deps)]
	return e, ok
}

// Insert records a newly compiled artifact under (repeat, instructions,
// deps), assigning it the next sequential id. The caller must have
// already confirmed (via Lookup) that no entry exists: Insert does not
// check, so that the id-assignment-on-miss invariant is visible at the
// call site rather than hidden behind an internal branch.
func (c *Cache) Insert(repeat byte, instructions []isa.Instruction, deps []int, handle Handle) Entry {
	e := Entry{ID: c.nextID, Handle: handle}
	c.nextID++
	c.entries[makeKey(repeat, instructions, deps)] = e
	return e
}

// Len reports how many distinct artifacts have been compiled so far.
func (c *Cache) Len() int { return len(c.entries) }

func makeKey(repeat byte, instructions []isa.Instruction, deps []int) key {
	return key{
		repeat: repeat,
		body:   encodeInstructions(instructions),
		deps:   encodeDeps(deps),
	}
}

// encodeInstructions produces a value good enough to compare instruction
// lists structurally: it reuses the wire codec, which already captures
// every field of every opcode in a fixed, order-preserving way.
func encodeInstructions(instructions []isa.Instruction) string {
	return string(codec.Serialize(instructions))
}

func encodeDeps(deps []int) string {
	b := make([]byte, 0, len(deps)*8)
	for _, d := range deps {
		b = append(b,
			byte(d), byte(d>>8), byte(d>>16), byte(d>>24),
			byte(d>>32), byte(d>>40), byte(d>>48), byte(d>>56),
		)
	}
	return string(b)
}
