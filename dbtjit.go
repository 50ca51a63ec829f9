// Package dbtjit is the top-level facade wiring internal/ir, internal/opt,
// internal/rtl, internal/regalloc, internal/backend/* and internal/jit into
// the compiler-construction surface spec §6 describes, the way the
// teacher's top-level `wazero` package wires `internal/engine/wazevo`
// behind its own public Runtime/CompiledModule types rather than exposing
// the internal tree directly.
package dbtjit

import (
	"fmt"
	"runtime"

	"github.com/retrojit/dbtjit/internal/backend"
	"github.com/retrojit/dbtjit/internal/backend/amd64"
	"github.com/retrojit/dbtjit/internal/backend/arm64"
	"github.com/retrojit/dbtjit/internal/backend/bytecode"
	"github.com/retrojit/dbtjit/internal/guest"
	"github.com/retrojit/dbtjit/internal/ir"
	"github.com/retrojit/dbtjit/internal/jit"
	"github.com/retrojit/dbtjit/internal/opt"
)

// Re-exported so callers never need to import internal/ir directly for the
// types they build an ExecutionUnit out of.
type (
	ExecutionUnit = ir.ExecutionUnit
	Instruction   = ir.Instruction
	Operand       = ir.Operand
	Type          = ir.Type
	Opcode        = ir.Opcode
	Reg           = ir.Reg
)

// NewExecutionUnit starts a fresh unit with registerOffset guest registers
// reserved ahead of the unit's own temporaries (spec §3).
func NewExecutionUnit(registerOffset uint32) *ExecutionUnit {
	return ir.NewExecutionUnit(registerOffset)
}

// Optimize runs the fixed ConstantPropagation → DeadCodeElimination
// pipeline spec §4 describes, in the teacher's style of small, named,
// always-run passes rather than a configurable pass manager (no pass
// ordering/registration machinery appears anywhere in the pack for this
// problem shape).
func Optimize(eu *ExecutionUnit) *ExecutionUnit {
	eu = opt.ConstantPropagation(eu)
	eu = opt.DeadCodeElimination(eu)
	return eu
}

// CompilerConfig is re-exported from internal/backend so callers configure
// a back-end without an internal/ import.
type CompilerConfig = backend.CompilerConfig

// Routine is the compiled artifact every back-end produces.
type Routine = backend.Routine

// Guest is the interface every front-end implements.
type Guest = guest.Guest

// Compiler is the construction surface common to all three back-ends.
type Compiler = backend.Compiler

// NewBytecodeCompiler constructs the portable, always-available back-end
// (spec §4.6.1): no machine code, no host architecture dependency, the
// universal fallback every BasicBlock can fall back to regardless of host.
func NewBytecodeCompiler(cfg CompilerConfig) Compiler { return bytecode.New(cfg) }

// NewNativeCompiler constructs the back-end matching runtime.GOARCH,
// returning (nil, false) on any architecture other than amd64/arm64 (spec
// §4.6.2/§4.6.3 are both host-architecture-specific; there is no generic
// native back-end to fall back to on e.g. riscv64).
func NewNativeCompiler(cfg CompilerConfig) (Compiler, bool) {
	switch runtime.GOARCH {
	case "amd64":
		return amd64.New(cfg), true
	case "arm64":
		return arm64.New(cfg), true
	default:
		return nil, false
	}
}

// Cache, BasicBlock, and their supporting types are re-exported from
// internal/jit so a front-end's only import beyond this package is
// internal/guest for its own Guest implementation.
type (
	Cache         = jit.Cache
	Compilers     = jit.Compilers
	BasicBlock    = jit.BasicBlock
	CacheKey      = jit.Key
	GuardFlags    = jit.GuardFlags
	ExecutionMode = jit.ExecutionMode
	StopReason    = jit.StopReason
	Reservation   = jit.Reservation
)

const (
	StopMaxInstructions     = jit.StopMaxInstructions
	StopTrailingUnit        = jit.StopTrailingUnit
	StopInvalidOpcode       = jit.StopInvalidOpcode
	StopUnconditionalBranch = jit.StopUnconditionalBranch
	StopBarrier             = jit.StopBarrier
)

const (
	ModeInterpreter = jit.ModeInterpreter
	ModeBytecode    = jit.ModeBytecode
	ModeNative      = jit.ModeNative
)

// NewCache constructs a JIT cache compiling queued units through compilers,
// with workerCount background compile goroutines (spec §3, §5).
func NewCache(compilers Compilers, workerCount int) *Cache {
	return jit.NewCache(compilers, workerCount)
}

// Interpret runs eu directly against g without compiling it, the same
// fallback BasicBlock.Execute uses before a block's first compile
// completes (spec §4.7 step 2).
func Interpret(eu *ExecutionUnit, g Guest) uint64 { return jit.Interpret(eu, g) }

// RegisterFaultHandler installs the process-wide fastmem fault recovery
// handler (SIGSEGV/SIGBUS on POSIX, a vectored exception handler on
// Windows — spec §4.7's "Fastmem fault handling"). A front-end using
// fastmem-enabled native compilation must call this once at startup,
// before the first native Routine with fastmem executes; it is a no-op on
// every call after the first.
func RegisterFaultHandler() error { return jit.RegisterFaultHandler() }

// NewDefaultCompilers builds a Compilers bundle with a bytecode compiler
// always present and a native compiler for the host architecture when one
// exists, the configuration shape a typical embedder wants without hand-
// assembling the three back-ends itself.
func NewDefaultCompilers(cfg CompilerConfig) (Compilers, error) {
	bc := NewBytecodeCompiler(cfg)
	native, ok := NewNativeCompiler(cfg)
	if cfg.UseFastmem && ok {
		if err := RegisterFaultHandler(); err != nil {
			return Compilers{}, fmt.Errorf("dbtjit: registering fastmem fault handler: %w", err)
		}
	}
	if !ok {
		return Compilers{Bytecode: bc}, nil
	}
	return Compilers{Bytecode: bc, Native: native}, nil
}
