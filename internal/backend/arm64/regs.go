package arm64

import "github.com/retrojit/dbtjit/internal/regalloc"

// X-register indices in AArch64's own numbering.
const (
	x0 = iota
	x1
	x2
	x3
	x4
	x5
	x6
	x7
	x8
	x9
	x10
	x11
	x12
	x13
	x14
	x15
	x16
	x17
	x18
	x19
	x20
	x21
	x22
	x23
	x24
	x25
	x26
	x27
	x28
	x29 // FP
	x30 // LR
)

// sp is AArch64's stack pointer, encoded as register index 31 in
// load/store and ADD/SUB-immediate forms (never as a general ModRM-style
// operand — AArch64 has no such thing, every encoding spells it out).
const sp = 31

// Pinned registers. nativecall.CallRaw (call_arm64.s) hands memoryBase in
// X0 and registerBase in X1 on entry, per its own doc comment, so this
// back-end pins those directly rather than copying them elsewhere first:
// neither is touched again until the routine returns.
const (
	pinMemBase = x0
	pinRegBase = x1
)

// Spill-materialization scratch trio, mirroring amd64's R8/R9/R10: up to
// three RTL sources can be spilled into the same instruction.
const (
	scratchSrc0 = x9
	scratchSrc1 = x10
	scratchSrc2 = x11
)

// scratchA is where Exit/ExitIf stage the routine's exit code immediately
// before branching to the epilogue — call_arm64.s reads CallRaw's result
// out of X0, the same register pinned above as pinMemBase. That aliasing
// is safe only because Exit/ExitIf emit this move as their last action:
// memoryBase is never read again on the path from there to RET, so
// clobbering X0 here never observes a stale value. Do not reuse scratchA
// anywhere a read of pinMemBase could still follow.
const scratchA = x0

// scratchShift holds nothing pinned on arm64 — unlike x86's CL-only
// variable-shift form, AArch64's LSLV/LSRV/ASRV/RORV take the shift
// count from any general register, so shift codegen needs no dedicated
// scratch beyond the usual three above.

// allocatableGPR is every GPR the allocator may assign: every AAPCS
// caller-saved temp (X9-X15 minus the scratch trio) and callee-saved
// register (X19-X28) except the two ABI pins (X0, X1) and the link/frame
// pointers (X29, X30) this back-end's own prologue/epilogue use. X18 is
// the platform register on several AAPCS-derived ABIs (reserved for
// thread-local storage on Darwin) and is excluded for portability, the
// same caution the teacher's own arm64 reference gives it.
var allocatableGPR = []int32{
	x2, x3, x4, x5, x6, x7, x8,
	x12, x13, x14, x15,
	x19, x20, x21, x22, x23, x24, x25, x26, x27, x28,
}

// allocatableVec is every V register (AArch64's float/SIMD file) the
// allocator may assign to a float-typed RTL value, excluding V31 (scratch).
var allocatableVec = []int32{0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15,
	16, 17, 18, 19, 20, 21, 22, 23, 24, 25, 26, 27, 28, 29, 30}

// registerInfo is the arm64 back-end's allocator pool: split, since GPRs
// and V registers are separate files on this architecture too.
var registerInfo = regalloc.RegisterInfo{
	IntRegs:   allocatableGPR,
	FloatRegs: allocatableVec,
}
