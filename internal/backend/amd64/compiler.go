// Package amd64 is the native amd64 back-end: it lowers an ir.ExecutionUnit
// through the shared optimizer/RTL/register-allocation pipeline (see
// internal/backend/bytecode for the interpreted sibling) and emits real
// x86-64 machine code, executed via internal/backend/nativecall and mapped
// RW->RX through internal/codemem.
//
// Scope: HostCall/HostVoidCall and Bsc are not supported here (see emit.go,
// unsupported) and fall the routine back to bytecode; likewise any
// Float32/Float64-typed value (see emitter.checkInt) and Load/Store without
// fastmem enabled, since the only memory-access path without a direct
// [memoryBase+addr] mapping is a host callback.
package amd64

import (
	"strings"

	"github.com/retrojit/dbtjit/internal/backend"
	"github.com/retrojit/dbtjit/internal/ir"
	"github.com/retrojit/dbtjit/internal/opt"
	"github.com/retrojit/dbtjit/internal/regalloc"
	"github.com/retrojit/dbtjit/internal/rtl"
)

var _ backend.Compiler = (*Compiler)(nil)
var _ backend.Routine = (*Routine)(nil)

// Compiler is the amd64 back-end's Compiler implementation.
type Compiler struct {
	cfg     backend.CompilerConfig
	regAddr backend.RegisterAddressFunc
	fastmem bool
}

// New constructs an amd64 Compiler. cfg.UseFastmem additionally gates
// Load/Store support, since this back-end has no host-call slow path.
func New(cfg backend.CompilerConfig) *Compiler {
	return &Compiler{cfg: cfg, fastmem: cfg.UseFastmem}
}

func (c *Compiler) SetRegisterAddressCallback(fn backend.RegisterAddressFunc) { c.regAddr = fn }

func (c *Compiler) SetMemoryLoadEmitter(fn backend.MemoryLoadEmitter) {
	c.fastmem = fn != nil && c.cfg.UseFastmem
}

// Compile implements backend.Compiler.
func (c *Compiler) Compile(eu *ir.ExecutionUnit) (backend.Routine, error) {
	eu = opt.ConstantPropagation(eu)
	eu = opt.DeadCodeElimination(eu)
	prog := rtl.Lower(eu)
	regalloc.Allocate(prog, registerInfo)

	code, err := emit(prog, c.regAddr, c.fastmem)
	if err != nil {
		// Unsupported-pattern compile failure: spec's documented fallback
		// is that this block marks native unavailable and bytecode (or
		// the interpreter) remains usable, so the caller is expected to
		// retry against backend/bytecode rather than treat this as fatal.
		return nil, err
	}

	listing := strings.Split(strings.TrimRight(prog.Disassemble(), "\n"), "\n")
	return &Routine{code: code, listing: listing}, nil
}
