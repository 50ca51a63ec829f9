package amd64

import "github.com/retrojit/dbtjit/internal/regalloc"

// GPR indices, in x86-64's own numbering (the numbering the REX.B/R/X
// extension bits and ModRM/SIB reg fields use directly).
const (
	rax = iota
	rcx
	rdx
	rbx
	rsp
	rbp
	rsi
	rdi
	r8
	r9
	r10
	r11
	r12
	r13
	r14
	r15
)

// Pinned registers, per spec §4.6.2.
//
// Spec §4.6.2 also pins RBP as the spill-region base; this back-end
// instead has the routine's own prologue/epilogue open and close a native
// stack frame (SUB/ADD RSP, see compiler.go's emit call) and addresses
// spills as [RSP+slot*8] directly, the conventional approach for a
// self-contained leaf routine. That frees RBP for the allocator instead
// of holding it pinned for a pointer nothing needs to pass in.
const (
	pinGuest     = rdi // carried for spec fidelity; unused (HostCall is natively unsupported, see compiler.go)
	pinRegBase   = rbx
	pinMemBase   = r12
	pinSpillBase = rsp
	scratchShift = rcx // CL: x86-64 variable shift count must live here
	scratchA     = rax // DIV/IDIV dividend low half + quotient
	scratchD     = rdx // DIV/IDIV dividend high half + remainder
)

// Spill-materialization scratch trio, mirroring the bytecode back-end's
// Scratch0/1/2 (see backend/bytecode/isa.go): up to three RTL sources can
// be spilled simultaneously, so three GPRs are withheld from the allocator
// purely to hold them for the one instruction being emitted.
const (
	scratchSrc0 = r8
	scratchSrc1 = r9
	scratchSrc2 = r10
)

// xmm scratch for SSE/float scratch use, per spec ("XMM8 -> scratch for SSE ops").
const xmmScratch = 8

// allocatableGPR is every GPR the allocator may assign: everything except
// RSP (spill-frame base), the ABI pins (RDI/RBX/R12), the fixed-operand
// scratches (RAX/RDX/RCX), and the spill-materialization trio (R8/R9/R10).
// RBP is free for the allocator since it holds no pin of its own here.
var allocatableGPR = []int32{rsi, rbp, r11, r13, r14, r15}

// allocatableXMM is every XMM register the allocator may assign to a
// float-typed RTL value, excluding XMM8 (scratch).
var allocatableXMM = []int32{0, 1, 2, 3, 4, 5, 6, 7, 9, 10, 11, 12, 13, 14, 15}

// registerInfo is the amd64 back-end's allocator pool: split (not unified)
// since GPRs and XMMs are genuinely separate files on this architecture.
var registerInfo = regalloc.RegisterInfo{
	IntRegs:   allocatableGPR,
	FloatRegs: allocatableXMM,
}
