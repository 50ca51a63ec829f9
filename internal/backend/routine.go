// Package backend defines the shared contract every back-end (bytecode,
// amd64, arm64) implements: the Routine artifact, the Compiler construction
// surface, and the addressing/config types threaded through compilation
// (spec §4.6, §6).
package backend

import "github.com/retrojit/dbtjit/internal/guest"

// Routine is the back-end-produced executable artifact.
type Routine interface {
	// Prepare makes the routine executable. On native back-ends this is an
	// mprotect/VirtualProtect call; on the bytecode back-end it is a no-op
	// that always succeeds. If commit is false the call may return
	// (false, nil) meaning "not yet mapped — keep interpreting"; if commit
	// is true the call must either succeed or return an error.
	Prepare(commit bool) (bool, error)

	// Execute runs the routine and returns its u64 exit code (a taken-exit
	// code, or a cycle count for some guests). memoryBase and registerBase
	// are host addresses of the guest's linear memory and register block.
	Execute(g guest.Guest, memoryBase, registerBase uintptr) uint64

	// Disassemble renders the routine for debug/trace output.
	Disassemble() string
}

// RegisterAddress describes how to reach one guest register relative to
// registerBase, as supplied by a front-end's register-address callback
// (spec §6's "RegMemAny | u32"). Offset is the byte offset of the register
// within the register block; back-ends needing index*stride addressing
// (rare: most guests lay registers out as a flat struct) set Stride and
// IndexReg accordingly.
type RegisterAddress struct {
	Offset int32
	Stride int32 // 0 for plain [base + Offset]
}

// RegisterAddressFunc maps an IR/RTL guest-register index to its address.
type RegisterAddressFunc func(index uint32) RegisterAddress

// MemoryLoadEmitter is installed to select fastmem loads; its absence
// forces the back-end to emit a slow-path host call instead.
type MemoryLoadEmitter func(bytes int) bool

// CompilerConfig threads the small set of compile-time choices through a
// back-end, in the teacher's code-as-config style (no config file parsing
// at this layer, see SPEC_FULL.md §4.8).
type CompilerConfig struct {
	// UseFastmem selects direct-mapped [memoryBase+addr] loads/stores.
	UseFastmem bool
	// StackBoundsCheckDisabled skips the native back-ends' stack depth
	// guard, mirroring the teacher's own debug knob.
	StackBoundsCheckDisabled bool
}
