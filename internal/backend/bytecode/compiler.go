package bytecode

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

// registerInfo is the bytecode back-end's allocator pool: 13 of the 16
// logical registers are allocator-visible (0..12); 13/14/15 are reserved
// move/spill scratch (spec §4.6.1). The pool is Unified because the
// back-end has no separate float register file — every RTL value, int or
// float, lives in the same 16-slot array of uint64.
var registerInfo = regalloc.RegisterInfo{
	IntRegs: allocatableRegs(),
	Unified: true,
}

func allocatableRegs() []int32 {
	regs := make([]int32, NumAllocatable)
	for i := range regs {
		regs[i] = int32(i)
	}
	return regs
}

// Compiler implements backend.Compiler for the bytecode back-end. It has no
// use for a register-address callback or a fastmem load emitter (guest
// state always round-trips through guest.Guest), so both setters are
// accepted for interface conformance and otherwise ignored.
type Compiler struct {
	cfg backend.CompilerConfig
}

// New constructs a bytecode Compiler.
func New(cfg backend.CompilerConfig) *Compiler {
	return &Compiler{cfg: cfg}
}

// SetRegisterAddressCallback satisfies backend.Compiler. Unused: see Compiler.
func (c *Compiler) SetRegisterAddressCallback(fn backend.RegisterAddressFunc) {}

// SetMemoryLoadEmitter satisfies backend.Compiler. Unused: see Compiler.
func (c *Compiler) SetMemoryLoadEmitter(fn backend.MemoryLoadEmitter) {}

// Compile runs the optimizer, lowers to RTL, allocates registers over the
// back-end's unified 13-slot pool, and encodes the result.
func (c *Compiler) Compile(eu *ir.ExecutionUnit) (backend.Routine, error) {
	eu = opt.ConstantPropagation(eu)
	eu = opt.DeadCodeElimination(eu)

	prog := rtl.Lower(eu)
	regalloc.Allocate(prog, registerInfo)

	code := encode(prog)
	listing := strings.Split(strings.TrimRight(prog.Disassemble(), "\n"), "\n")

	return &Routine{code: code, spillSize: prog.SpillSize, srcListing: listing}, nil
}
