package jit

import (
	"runtime"
	"unsafe"
)

// Run calls into entry with memory as the sandbox buffer and regs as the
// 32-slot i16 register array shared by the whole call tree. regs must be
// at least 64 bytes (32 slots × 2 bytes) and is left holding whatever
// values the native code last wrote to it, mirroring how the
// interpreter leaves its register file populated after Interpret
// returns.
func Run(entry uintptr, memory []byte, regs []byte) {
	var memPtr, regsPtr uintptr
	if len(memory) > 0 {
		memPtr = uintptr(unsafe.Pointer(&memory[0]))
	}
	if len(regs) > 0 {
		regsPtr = uintptr(unsafe.Pointer(&regs[0]))
	}
	nativecall(entry, memPtr, uintptr(len(memory)), regsPtr)
	runtime.KeepAlive(memory)
	runtime.KeepAlive(regs)
}

// nativecall jumps into the machine code at codeAddr, passing it the
// three-argument System V calling convention every CompileFunction
// output expects: a memory base pointer, the memory length, and a
// pointer to the shared register array. Implemented in
// trampoline_amd64.s, a small hand-written assembly entry point rather
// than an unsafe function-pointer cast.
//
//go:noescape
func nativecall(codeAddr, memBase, memLen, regs uintptr)
