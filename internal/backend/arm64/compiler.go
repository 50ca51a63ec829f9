// Package arm64 is the native arm64 back-end: the same
// optimizer/RTL/register-allocation pipeline as internal/backend/amd64,
// emitting AArch64 machine code instead, executed via
// internal/backend/nativecall and mapped RW->RX through internal/codemem.
//
// Scope matches the amd64 sibling exactly: HostCall/HostVoidCall and Bsc
// are unsupported (see emit.go, unsupported) and fall the routine back to
// bytecode; likewise any Float32/Float64-typed value (see
// emitter.checkInt) and Load/Store without fastmem. This back-end adds one
// further restriction the amd64 encoding doesn't have: guest-register
// addressing must fit AArch64's scaled LDR/STR immediate form (8-byte
// aligned, 0..32760 bytes — see emitter.scaledOffset); a register layout
// that doesn't fit fails compilation the same way an unsupported op does.
package arm64

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

// Compiler is the arm64 back-end's Compiler implementation.
type Compiler struct {
	cfg     backend.CompilerConfig
	regAddr backend.RegisterAddressFunc
	fastmem bool
}

// New constructs an arm64 Compiler. cfg.UseFastmem additionally gates
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
		// Same documented fallback as amd64's Compile: the caller retries
		// against backend/bytecode rather than treating this as fatal.
		return nil, err
	}

	listing := strings.Split(strings.TrimRight(prog.Disassemble(), "\n"), "\n")
	return &Routine{code: code, listing: listing}, nil
}
