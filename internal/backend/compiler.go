package backend

import "github.com/retrojit/dbtjit/internal/ir"

// Compiler is the construction surface every back-end exposes (spec §6).
// Each back-end's concrete compiler additionally satisfies whichever
// back-end-specific knobs it needs (e.g. arm64's SetUseFastmem).
type Compiler interface {
	// Compile lowers eu through optimization, RTL, and register allocation
	// and emits a Routine. eu is consumed by move: callers that need to
	// keep a copy (e.g. to retry without fastmem) must call eu.Copy first.
	Compile(eu *ir.ExecutionUnit) (Routine, error)

	// SetRegisterAddressCallback installs the mapping from IR register
	// index to a back-end addressing primitive.
	SetRegisterAddressCallback(fn RegisterAddressFunc)

	// SetMemoryLoadEmitter installs (or, passed nil, removes) the fastmem
	// load emitter; its presence selects fastmem, its absence forces
	// slow-path host calls for Load/Store.
	SetMemoryLoadEmitter(fn MemoryLoadEmitter)
}
