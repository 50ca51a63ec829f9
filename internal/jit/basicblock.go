package jit

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/retrojit/dbtjit/internal/backend"
	"github.com/retrojit/dbtjit/internal/dbtapi"
	"github.com/retrojit/dbtjit/internal/guest"
	"github.com/retrojit/dbtjit/internal/ir"
)

// Default thresholds for the execution state machine (spec §4.7). These are
// plain package vars, not a config file, matching the teacher's code-as-
// config style (SPEC_FULL.md §4.8) — a front-end that wants different
// tuning sets them once at startup.
var (
	// InterpretThreshold is how many times a block is interpreted before
	// compilation is queued.
	InterpretThreshold uint64 = 32
	// GuardDurabilityThreshold is how many consecutive calls must observe
	// the same non-compiled-for guard flags before a block is marked dirty
	// and a recompile for those flags is queued (spec step 4, "the new
	// flags appear durable").
	GuardDurabilityThreshold uint64 = 8
	// NativePrepareAttempts bounds how many non-committing Prepare(false)
	// calls a block makes before forcing Prepare(true) (spec step 5).
	NativePrepareAttempts = 4
)

// StopReason records why BasicBlock construction (by a front-end's decoder,
// external to this package) ended where it did, per spec §4.7's
// enumerated stop conditions.
type StopReason uint8

const (
	StopMaxInstructions StopReason = iota
	StopTrailingUnit
	StopInvalidOpcode
	StopUnconditionalBranch
	StopBarrier
)

// Counters are the per-block, execution-thread-only statistics spec §3
// lists on BasicBlock. They are written only from the thread calling
// Execute and read unsynchronized elsewhere (spec §5: "monotonic,
// best-effort"), so plain fields rather than atomics.
type Counters struct {
	CountExecuted    uint64
	CountInterpreted uint64
	CountCompiled    uint64
	GuardFailed      uint64
	LastFlags        GuardFlags
	LastFlagsCount   uint64
	CountNotRemapped uint64
}

// BasicBlock wraps one translated guest unit inside the JIT cache: the
// owned ExecutionUnit, its compiled Routines (bytecode always attempted,
// native optional per back-end availability), guard-flag bookkeeping, and
// the counters the execution state machine maintains (spec §3, §4.7).
//
// A BasicBlock is reference-counted by its owning Cache (see cache.go);
// Execute itself never touches the cache's map, only this struct's own
// fields, which are safe to mutate from the execution thread while a
// background compile worker installs a freshly compiled Routine (the
// routine pointers are swapped with atomic.Pointer, per spec §5: "the
// block's native Routine pointer is only installed atomically when
// preparation completes").
type BasicBlock struct {
	StartAddress   uint64
	InstrCount     int
	StopReason     StopReason
	GuardFlags     GuardFlags
	CompiledFlags  GuardFlags
	TargetFlags    GuardFlags // guard flags captured when compilation was queued

	// Reservation is the guest's fastmem host mapping, consulted by a
	// fastmem fault handler (see fastmem.go) while this block's native
	// Routine is executing. Zero-value until a front-end calls
	// SetReservation; a block whose Reservation is never set simply never
	// brackets native execution with enterFastmem/exitFastmem below, so an
	// unset Reservation is equivalent to fastmem being unused for it.
	Reservation Reservation

	eu *ir.ExecutionUnit

	bytecode atomic.Pointer[backend.Routine]
	native   atomic.Pointer[backend.Routine]

	flags                 uint32 // blockFlag bitmask, atomic
	compileQueued          uint32 // atomic bool: compilation already queued
	nativePrepareAttempts  int

	Counters Counters

	mu sync.Mutex // serializes compile-completion installs and dirty/flag writes
}

// NewBasicBlock constructs an unfilled block for a freshly decoded unit
// (spec §3: "created unfilled when a miss occurs").
func NewBasicBlock(startAddress uint64, eu *ir.ExecutionUnit, reason StopReason, guardFlags GuardFlags) *BasicBlock {
	return &BasicBlock{
		StartAddress: startAddress,
		InstrCount:   eu.Len(),
		StopReason:   reason,
		GuardFlags:   guardFlags,
		eu:           eu,
	}
}

// ExecutionUnit returns the block's owned IR, for disassembly/trace tools
// and for the compile worker.
func (b *BasicBlock) ExecutionUnit() *ir.ExecutionUnit { return b.eu }

// SetReservation records the guest's fastmem host mapping so a fault
// during this block's native execution can be resolved back to a guest
// address (spec §4.7). Front-ends call this once, at guest setup time,
// before any block reaches native dispatch.
func (b *BasicBlock) SetReservation(r Reservation) { b.Reservation = r }

func (b *BasicBlock) hasFlag(f blockFlag) bool {
	return blockFlag(atomic.LoadUint32(&b.flags))&f != 0
}

func (b *BasicBlock) setFlag(f blockFlag) {
	for {
		old := atomic.LoadUint32(&b.flags)
		if blockFlag(old)&f != 0 {
			return
		}
		if atomic.CompareAndSwapUint32(&b.flags, old, old|uint32(f)) {
			return
		}
	}
}

func (b *BasicBlock) clearFlag(f blockFlag) {
	for {
		old := atomic.LoadUint32(&b.flags)
		if blockFlag(old)&f == 0 {
			return
		}
		if atomic.CompareAndSwapUint32(&b.flags, old, old&^uint32(f)) {
			return
		}
	}
}

// Dirty reports whether the block has been marked for recompilation
// (garbage cache sweep, or a guard flag that proved durable).
func (b *BasicBlock) Dirty() bool { return b.hasFlag(flagDirty) }

// MarkDirty flags the block for recompilation; the next Execute call queues
// it and falls back to interpretation in the meantime (spec §4.7 step 3).
func (b *BasicBlock) MarkDirty() { b.setFlag(flagDirty) }

// FastmemDisabled reports whether a prior fastmem fault downgraded this
// block to slow-path memory access on its next recompile (spec §4.7,
// "Fastmem fault handling").
func (b *BasicBlock) FastmemDisabled() bool { return b.hasFlag(flagDisableFastmem) }

// DisableFastmem sets the flag a fastmem fault handler installs (see
// fastmem.go); it also marks the block dirty so the next Execute queues a
// slow-path recompile.
func (b *BasicBlock) DisableFastmem() {
	b.setFlag(flagDisableFastmem)
	b.MarkDirty()
}

// installBytecode/installNative atomically publish a freshly compiled
// Routine. Called by the compile worker (cache.go), never by Execute
// itself.
func (b *BasicBlock) installBytecode(r backend.Routine) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.bytecode.Store(&r)
	b.Counters.CountCompiled++
}

func (b *BasicBlock) installNative(r backend.Routine, compiledFlags GuardFlags) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.native.Store(&r)
	b.CompiledFlags = compiledFlags
	b.clearFlag(flagDirty)
	b.nativePrepareAttempts = 0
	b.Counters.CountCompiled++
}

func (b *BasicBlock) bytecodeRoutine() backend.Routine {
	if p := b.bytecode.Load(); p != nil {
		return *p
	}
	return nil
}

func (b *BasicBlock) nativeRoutine() backend.Routine {
	if p := b.native.Load(); p != nil {
		return *p
	}
	return nil
}

// executeNative brackets a native Routine's execution with the
// thread-local bookkeeping a fastmem fault handler needs to recover a
// trapped access (see fastmem.go); a no-op bracket (zero-value
// Reservation) is harmless, it just means no fault during this call will
// find a matching execState to recover against.
func (b *BasicBlock) executeNative(native backend.Routine, g guest.Guest, memoryBase, registerBase uintptr) uint64 {
	tid := currentThreadID()
	enterFastmem(tid, g, b.Reservation, b)
	defer exitFastmem(tid)
	return native.Execute(g, memoryBase, registerBase)
}

// guardMiss reports whether cpuFlags disagrees with the flags this block
// was compiled for, restricted to the bits the block actually depends on
// (spec invariant 10 / §4.7 step 4: "(compiled_flags & guard_flags) !=
// (cpu_flags & guard_flags)").
func (b *BasicBlock) guardMiss(cpuFlags GuardFlags) bool {
	return b.CompiledFlags&b.GuardFlags != cpuFlags&b.GuardFlags
}

// Execute runs the execution state machine described in spec §4.7. g,
// memoryBase and registerBase are forwarded to whichever Routine (or the
// direct-IR interpreter) ends up dispatched; cpuFlags is the guest's
// current guard-relevant state, recomputed by the caller before each call;
// cycleLimit is a soft budget recorded in Counters but, since a block is a
// single straight-line unit with no internal loop, never aborts execution
// mid-block (spec §5: "a block that reaches an Exit before consuming the
// limit returns early" — for this IR that's simply every call).
//
// queue is the compile-request sink the owning Cache supplies (see
// cache.go's QueueCompileUnit); Execute only ever enqueues, never compiles
// inline, so it never blocks waiting for a back-end.
func (b *BasicBlock) Execute(g guest.Guest, memoryBase, registerBase uintptr, cpuFlags GuardFlags, cycleLimit uint64, queue func(*BasicBlock, GuardFlags)) (uint64, ExecutionMode) {
	b.Counters.CountExecuted++

	if cpuFlags == b.Counters.LastFlags {
		b.Counters.LastFlagsCount++
	} else {
		b.Counters.LastFlags = cpuFlags
		b.Counters.LastFlagsCount = 1
	}

	native := b.nativeRoutine()
	bytecodeR := b.bytecodeRoutine()

	if native == nil && bytecodeR == nil {
		// Step 2: nothing compiled yet.
		b.Counters.CountInterpreted++
		if b.Counters.CountInterpreted >= InterpretThreshold && atomic.CompareAndSwapUint32(&b.compileQueued, 0, 1) {
			b.TargetFlags = cpuFlags
			queue(b, cpuFlags)
		}
		return interpretEU(b.eu, g), ModeInterpreter
	}

	if b.Dirty() {
		// Step 3: queued for recompile already (MarkDirty/garbage_collect),
		// interpret until the replacement lands.
		if atomic.CompareAndSwapUint32(&b.compileQueued, 0, 1) {
			queue(b, cpuFlags)
		}
		b.Counters.CountInterpreted++
		return interpretEU(b.eu, g), ModeInterpreter
	}

	if native != nil && b.guardMiss(cpuFlags) {
		// Step 4: guard miss.
		b.Counters.GuardFailed++
		if dbtapi.PrintGuardMisses {
			fmt.Printf("jit: guard miss at %#x: compiled=%#x current=%#x mask=%#x\n",
				b.StartAddress, b.CompiledFlags, cpuFlags, b.GuardFlags)
		}
		if b.Counters.LastFlagsCount > GuardDurabilityThreshold {
			b.MarkDirty()
			if atomic.CompareAndSwapUint32(&b.compileQueued, 0, 1) {
				b.TargetFlags = cpuFlags
				queue(b, cpuFlags)
			}
		}
		b.Counters.CountInterpreted++
		return interpretEU(b.eu, g), ModeInterpreter
	}

	if native != nil {
		// Step 5: stage the native routine into an executable mapping.
		ready, err := native.Prepare(false)
		if err != nil {
			// Back-end compilation artifact turned out unusable at prepare
			// time; treat like "never compiled natively" for this call.
			b.Counters.CountInterpreted++
			return interpretEU(b.eu, g), ModeInterpreter
		}
		if !ready {
			b.nativePrepareAttempts++
			if b.nativePrepareAttempts >= NativePrepareAttempts {
				if _, err := native.Prepare(true); err != nil {
					b.Counters.CountInterpreted++
					return interpretEU(b.eu, g), ModeInterpreter
				}
			} else if bytecodeR != nil {
				return bytecodeR.Execute(g, memoryBase, registerBase), ModeBytecode
			} else {
				b.Counters.CountInterpreted++
				return interpretEU(b.eu, g), ModeInterpreter
			}
		}
		return b.executeNative(native, g, memoryBase, registerBase), ModeNative
	}

	// Step 6, bytecode leg: native unavailable (never compiled, declined by
	// the back-end's unsupported-pattern scan, or awaiting recompile) but
	// bytecode is ready.
	return bytecodeR.Execute(g, memoryBase, registerBase), ModeBytecode
}
