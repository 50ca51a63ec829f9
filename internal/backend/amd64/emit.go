package amd64

import (
	"fmt"

	"github.com/retrojit/dbtjit/internal/backend"
	"github.com/retrojit/dbtjit/internal/ir"
	"github.com/retrojit/dbtjit/internal/rtl"
)

// unsupported reports an RTL op this back-end declines to emit natively.
// HostCall/HostVoidCall (spec §9's "arbitrary host function pointer" case)
// and Bsc (the branchless bit-trick spec §9 flags as its own source of
// bugs) both route through the compiler's pre-flight scan in compiler.go;
// this is the single place that scan and codegen must agree on, so it is
// consulted from both.
func unsupported(op rtl.Op) bool {
	switch op {
	case rtl.OpHostVoidCall0, rtl.OpHostCall0, rtl.OpHostCall1, rtl.OpHostCall2, rtl.OpBsc:
		return true
	}
	return false
}

// emitter lowers an already-allocated rtl.Program to amd64 machine code.
// Float-typed values are out of scope for this iteration (see DESIGN.md,
// amd64 float scoping): a program touching a Float32/Float64 register
// fails to compile here and falls back to the bytecode back-end, the same
// path HostCall/Bsc take.
type emitter struct {
	a        asm
	prog     *rtl.Program
	regAddr  backend.RegisterAddressFunc
	fastmem  bool
	err      error
}

func emit(prog *rtl.Program, regAddr backend.RegisterAddressFunc, fastmem bool) ([]byte, error) {
	e := &emitter{prog: prog, regAddr: regAddr, fastmem: fastmem}
	spillBytes := int32(prog.SpillSize * 8)
	if spillBytes > 0 {
		e.a.subRSPImm(spillBytes)
	}
	for _, blk := range prog.Blocks {
		for _, in := range blk.Instrs {
			if e.err != nil {
				return nil, e.err
			}
			e.emit(in)
		}
	}
	if e.err != nil {
		return nil, e.err
	}
	// Every Exit/ExitIf jump lands here: closing the spill frame before
	// RET is the routine's only epilogue responsibility, since nothing in
	// this back-end ever pushes onto or otherwise shifts RSP mid-routine.
	epilogue := len(e.a.buf)
	e.a.patchAll(epilogue)
	if spillBytes > 0 {
		e.a.addRSPImm(spillBytes)
	}
	e.a.ret()
	return e.a.buf, nil
}

func (e *emitter) fail(format string, args ...any) {
	if e.err == nil {
		e.err = fmt.Errorf("amd64: "+format, args...)
	}
}

// loc resolves r to a real register index, loading it from its spill slot
// into scratch (scratchSrc0/1/2, indexed by srcSlot) first if necessary.
// srcSlot is -1 for a result register, which is never itself spilled into
// scratch — see store.
func (e *emitter) loc(r rtl.Reg, srcSlot int) int {
	hw := e.prog.Assignment[r]
	switch hw.Kind {
	case rtl.HwRegister:
		return int(hw.Index)
	case rtl.HwSpillSlot:
		scratch := [3]int{scratchSrc0, scratchSrc1, scratchSrc2}[srcSlot]
		e.a.loadMem(scratch, pinSpillBase, int32(hw.Index)*8)
		return scratch
	default:
		e.fail("register %s has no allocation", r)
		return scratchSrc0
	}
}

// dest resolves result to a real register, returning the register to
// compute into and a store-back closure to run once the value is there
// (a no-op unless result was spilled).
func (e *emitter) dest(result rtl.Reg) (reg int, store func()) {
	hw := e.prog.Assignment[result]
	switch hw.Kind {
	case rtl.HwRegister:
		return int(hw.Index), func() {}
	case rtl.HwSpillSlot:
		return scratchSrc0, func() { e.a.storeMem(scratchSrc0, pinSpillBase, int32(hw.Index)*8) }
	default:
		e.fail("result %s has no allocation", result)
		return scratchSrc0, func() {}
	}
}

func (e *emitter) checkInt(typ ir.Type) {
	if typ.IsFloatType() {
		e.fail("float type %s not supported by the native back-end", typ)
	}
}

func (e *emitter) emit(in rtl.Instruction) {
	if unsupported(in.Op) {
		e.fail("op %s is not supported by the native back-end", in.Op)
		return
	}
	e.checkInt(in.Typ)
	if e.err != nil {
		return
	}

	switch in.Op {
	case rtl.OpConstant:
		dst, store := e.dest(in.Result)
		e.a.movImm64(dst, in.Imm)
		store()

	case rtl.OpAdd, rtl.OpSub, rtl.OpAnd, rtl.OpOr, rtl.OpXor, rtl.OpXorBool:
		e.binary(in, func(dst, src int) {
			switch in.Op {
			case rtl.OpAdd:
				e.a.add(dst, src)
			case rtl.OpSub:
				e.a.sub(dst, src)
			case rtl.OpAnd:
				e.a.and(dst, src)
			case rtl.OpOr:
				e.a.or(dst, src)
			case rtl.OpXor, rtl.OpXorBool:
				e.a.xor(dst, src)
			}
		})

	case rtl.OpMul, rtl.OpMulU:
		// IMUL r, r/m is the same encoding for signed/unsigned truncating
		// multiply (only the high half, which this op discards, differs).
		e.binary(in, func(dst, src int) { e.a.imul(dst, src) })

	case rtl.OpDiv, rtl.OpDivU, rtl.OpMod:
		e.divmod(in)

	case rtl.OpNot:
		e.unary(in, func(dst int) { e.a.not(dst) })

	case rtl.OpRotl, rtl.OpRotr, rtl.OpLsl, rtl.OpLsr, rtl.OpAsr:
		e.shift(in)

	case rtl.OpSignExtend, rtl.OpBitCast:
		e.moveLike(in)

	case rtl.OpCompareEq, rtl.OpCompareLt, rtl.OpCompareLte, rtl.OpCompareUlt, rtl.OpCompareUlte:
		e.compare(in)

	case rtl.OpTest:
		lhs := e.loc(in.Srcs[0], 0)
		e.a.test(lhs, lhs)
		dst, store := e.dest(in.Result)
		e.a.setccAndExtend(0x5, dst) // SETNE
		store()

	case rtl.OpMove:
		e.moveLike(in)

	case rtl.OpSelect:
		e.selectOp(in)

	case rtl.OpExitIf:
		cond := e.loc(in.Srcs[0], 0)
		e.a.test(cond, cond)
		code := e.loc(in.Srcs[1], 1)
		e.a.movRegReg(scratchA, code)
		e.a.jccRel32(0x5) // JNE: take the exit only if the decision is true

	case rtl.OpExit:
		code := e.loc(in.Srcs[0], 0)
		e.a.movRegReg(scratchA, code)
		e.a.jmpRel32()

	case rtl.OpReadGuest:
		e.readGuest(in)
	case rtl.OpWriteGuest:
		e.writeGuest(in)
	case rtl.OpLoad:
		e.load(in)
	case rtl.OpStore:
		e.store(in)

	default:
		e.fail("op %s has no amd64 emitter", in.Op)
	}
}

// binary emits a two-operand op computing into in.Result, moving Srcs[0]
// into the destination location first when it doesn't already live there.
func (e *emitter) binary(in rtl.Instruction, op func(dst, src int)) {
	dst, store := e.dest(in.Result)
	lhs := e.loc(in.Srcs[0], 0)
	e.a.movRegReg(dst, lhs)
	rhs := e.loc(in.Srcs[1], 1)
	op(dst, rhs)
	store()
}

func (e *emitter) unary(in rtl.Instruction, op func(dst int)) {
	dst, store := e.dest(in.Result)
	src := e.loc(in.Srcs[0], 0)
	e.a.movRegReg(dst, src)
	op(dst)
	store()
}

// divmod handles Div/DivU/Mod, all of which the ISA fixes to the
// RDX:RAX/RAX,RDX dividend/quotient/remainder triple.
func (e *emitter) divmod(in rtl.Instruction) {
	lhs := e.loc(in.Srcs[0], 0)
	rhs := e.loc(in.Srcs[1], 1)
	if rhs == scratchA || rhs == scratchD {
		// rhs was materialized into a scratch that divmod itself clobbers;
		// the allocator never assigns RAX/RDX to the allocator pool, so
		// this can only happen if rhs was spilled into scratchSrc0/1/2,
		// none of which alias RAX/RDX — unreachable, kept as a guard.
		e.fail("divisor aliases a fixed div operand")
		return
	}
	e.a.movRegReg(scratchA, lhs)
	switch in.Op {
	case rtl.OpDivU:
		e.a.xor(scratchD, scratchD)
		e.a.div(rhs)
	default: // OpDiv, OpMod: both are signed (spec's Modulus has no unsigned form)
		e.a.cqo()
		e.a.idiv(rhs)
	}
	dst, store := e.dest(in.Result)
	if in.Op == rtl.OpMod {
		e.a.movRegReg(dst, scratchD)
	} else {
		e.a.movRegReg(dst, scratchA)
	}
	store()
}

func (e *emitter) shift(in rtl.Instruction) {
	dst, store := e.dest(in.Result)
	lhs := e.loc(in.Srcs[0], 0)
	e.a.movRegReg(dst, lhs)
	count := e.loc(in.Srcs[1], 1)
	e.a.movRegReg(scratchShift, count)
	switch in.Op {
	case rtl.OpRotl:
		e.a.rol(dst)
	case rtl.OpRotr:
		e.a.ror(dst)
	case rtl.OpLsl:
		e.a.shl(dst)
	case rtl.OpLsr:
		e.a.shr(dst)
	case rtl.OpAsr:
		e.a.sar(dst)
	}
	store()
}

// moveLike handles Move/SignExtend/BitCast: all three are, at the integer
// level this back-end supports, a plain 64-bit register copy (the RTL
// register file is uniformly 64-bit; narrower guest widths are truncated
// at the ReadGuest/WriteGuest/Load/Store boundary, not in-register).
func (e *emitter) moveLike(in rtl.Instruction) {
	dst, store := e.dest(in.Result)
	src := e.loc(in.Srcs[0], 0)
	e.a.movRegReg(dst, src)
	store()
}

// compare maps an RTL compare op to its SETcc condition code nibble.
func (e *emitter) compare(in rtl.Instruction) {
	lhs := e.loc(in.Srcs[0], 0)
	rhs := e.loc(in.Srcs[1], 1)
	e.a.cmp(lhs, rhs)
	var cc byte
	switch in.Op {
	case rtl.OpCompareEq:
		cc = 0x4 // E/Z
	case rtl.OpCompareLt:
		cc = 0xC // L
	case rtl.OpCompareLte:
		cc = 0xE // LE
	case rtl.OpCompareUlt:
		cc = 0x2 // B
	case rtl.OpCompareUlte:
		cc = 0x6 // BE
	}
	dst, store := e.dest(in.Result)
	e.a.setccAndExtend(cc, dst)
	store()
}

// selectOp implements branchless select via CMOVNE: result starts as
// Srcs[2] (the false value) and is overwritten with Srcs[1] (the true
// value) when the Bool condition Srcs[0] is nonzero.
//
// Order matters here: dest() reuses scratchSrc0 for a spilled result, the
// same scratch loc(_, 0) uses for a spilled Srcs[0]. cond is loaded and
// consumed by TEST (into flags) before dest is ever computed, so that
// reuse is safe; trueVal/falseVal live in scratchSrc1/2 and never alias
// dst at all.
func (e *emitter) selectOp(in rtl.Instruction) {
	cond := e.loc(in.Srcs[0], 0)
	e.a.test(cond, cond)
	trueVal := e.loc(in.Srcs[1], 1)
	falseVal := e.loc(in.Srcs[2], 2)
	dst, store := e.dest(in.Result)
	e.a.movRegReg(dst, falseVal)
	e.a.cmovne(dst, trueVal)
	store()
}

// guestAccessWidth renders typ's declared width as the byte count
// guest.Guest's RegisterRead/RegisterWrite/Load/Store expect, matching
// internal/jit's direct ExecutionUnit interpreter (in.Type().Bits()/8) and
// the bytecode back-end's encoder.guestAccessWidth.
func guestAccessWidth(typ ir.Type) int { return typ.Bits() / 8 }

func (e *emitter) readGuest(in rtl.Instruction) {
	if e.regAddr == nil {
		e.fail("ReadGuest requires a register-address callback")
		return
	}
	addr := e.regAddr(uint32(in.Imm))
	dst, store := e.dest(in.Result)
	e.a.loadMemWidth(dst, pinRegBase, addr.Offset, guestAccessWidth(in.Typ))
	store()
}

func (e *emitter) writeGuest(in rtl.Instruction) {
	if e.regAddr == nil {
		e.fail("WriteGuest requires a register-address callback")
		return
	}
	addr := e.regAddr(uint32(in.Imm))
	src := e.loc(in.Srcs[0], 0)
	e.a.storeMemWidth(src, pinRegBase, addr.Offset, guestAccessWidth(in.Typ))
}

// load/store require fastmem: without a direct [memoryBase+addr] mapping
// the only way to reach guest memory is a host callback, and host calls
// are out of scope for this back-end (see unsupported).
func (e *emitter) load(in rtl.Instruction) {
	if !e.fastmem {
		e.fail("Load requires fastmem (no native host-call path)")
		return
	}
	addr := e.loc(in.Srcs[0], 0)
	dst, store := e.dest(in.Result)
	e.a.loadIndexedWidth(dst, pinMemBase, addr, guestAccessWidth(in.Typ))
	store()
}

func (e *emitter) store(in rtl.Instruction) {
	if !e.fastmem {
		e.fail("Store requires fastmem (no native host-call path)")
		return
	}
	addr := e.loc(in.Srcs[0], 0)
	val := e.loc(in.Srcs[1], 1)
	e.a.storeIndexedWidth(val, pinMemBase, addr, guestAccessWidth(in.Typ))
}
