package arm64

import (
	"fmt"

	"github.com/retrojit/dbtjit/internal/backend"
	"github.com/retrojit/dbtjit/internal/ir"
	"github.com/retrojit/dbtjit/internal/rtl"
)

// unsupported mirrors the amd64 back-end's scope exactly (see its emit.go
// doc comment): HostCall/HostVoidCall need a call boundary this module
// declines to build in that direction, and Bsc is the op spec §9 itself
// flags as the original's own trouble spot.
func unsupported(op rtl.Op) bool {
	switch op {
	case rtl.OpHostVoidCall0, rtl.OpHostCall0, rtl.OpHostCall1, rtl.OpHostCall2, rtl.OpBsc:
		return true
	}
	return false
}

// emitter lowers an allocated rtl.Program to arm64 machine code. Float
// values are out of scope here for the same reason as amd64 (see that
// package's DESIGN.md entry): a separate, largely independent encoder
// surface not worth taking on in this iteration.
type emitter struct {
	a       asm
	prog    *rtl.Program
	regAddr backend.RegisterAddressFunc
	fastmem bool
	err     error
}

func emit(prog *rtl.Program, regAddr backend.RegisterAddressFunc, fastmem bool) ([]byte, error) {
	e := &emitter{prog: prog, regAddr: regAddr, fastmem: fastmem}
	spillBytes := alignSpill(prog.SpillSize * 8)
	if spillBytes > 0 {
		e.a.subSPImm(uint32(spillBytes))
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
	epilogue := len(e.a.buf)
	e.a.patchAll(epilogue)
	if spillBytes > 0 {
		e.a.addSPImm(uint32(spillBytes))
	}
	e.a.ret()
	return e.a.buf, nil
}

// alignSpill rounds n up to a 16-byte multiple: AArch64 requires SP stay
// 16-byte aligned whenever it's used as a load/store base, which the
// spill frame's own [SP+slot*8] addressing does continuously.
func alignSpill(n int) int {
	return (n + 15) &^ 15
}

func (e *emitter) fail(format string, args ...any) {
	if e.err == nil {
		e.err = fmt.Errorf("arm64: "+format, args...)
	}
}

func (e *emitter) loc(r rtl.Reg, srcSlot int) int {
	hw := e.prog.Assignment[r]
	switch hw.Kind {
	case rtl.HwRegister:
		return int(hw.Index)
	case rtl.HwSpillSlot:
		scratch := [3]int{scratchSrc0, scratchSrc1, scratchSrc2}[srcSlot]
		e.a.ldrScaled(scratch, sp, uint32(hw.Index))
		return scratch
	default:
		e.fail("register %s has no allocation", r)
		return scratchSrc0
	}
}

func (e *emitter) dest(result rtl.Reg) (reg int, store func()) {
	hw := e.prog.Assignment[result]
	switch hw.Kind {
	case rtl.HwRegister:
		return int(hw.Index), func() {}
	case rtl.HwSpillSlot:
		return scratchSrc0, func() { e.a.strScaled(scratchSrc0, sp, uint32(hw.Index)) }
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

// scaledOffset converts a byte offset into [Xn, #(imm12*8)]'s imm12,
// failing compilation rather than silently truncating or misaddressing
// when a front-end's register layout doesn't fit the scaled-immediate
// form's constraints (8-byte aligned, 0..32760 bytes).
func (e *emitter) scaledOffset(byteOffset int32) uint32 {
	if byteOffset < 0 || byteOffset%8 != 0 || byteOffset > 32760 {
		e.fail("register offset %d is not representable by a scaled LDR/STR immediate (must be 8-aligned, 0..32760)", byteOffset)
		return 0
	}
	return uint32(byteOffset / 8)
}

// widthScaledOffset is scaledOffset generalized to a guest access's
// declared byte width: the scaled LDR/STR immediate form's imm12 always
// counts whole elements of the access size, not whole 8-byte words.
func (e *emitter) widthScaledOffset(byteOffset int32, width int) uint32 {
	w := int32(width)
	if byteOffset < 0 || byteOffset%w != 0 || byteOffset > 4095*w {
		e.fail("register offset %d is not representable by a scaled LDR/STR immediate at width %d (must be %d-aligned, 0..%d)", byteOffset, width, width, 4095*w)
		return 0
	}
	return uint32(byteOffset / w)
}

// guestAccessWidth renders typ's declared width as the byte count
// guest.Guest's RegisterRead/RegisterWrite/Load/Store expect, matching
// the amd64 back-end's and bytecode encoder's guestAccessWidth.
func guestAccessWidth(typ ir.Type) int { return typ.Bits() / 8 }

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
		e.binary(in, func(dst, lhs, rhs int) {
			switch in.Op {
			case rtl.OpAdd:
				e.a.add(dst, lhs, rhs)
			case rtl.OpSub:
				e.a.sub(dst, lhs, rhs)
			case rtl.OpAnd:
				e.a.and(dst, lhs, rhs)
			case rtl.OpOr:
				e.a.orr(dst, lhs, rhs)
			case rtl.OpXor, rtl.OpXorBool:
				e.a.eor(dst, lhs, rhs)
			}
		})

	case rtl.OpMul, rtl.OpMulU:
		// MADD's truncating low-64-bit product is identical for signed
		// and unsigned inputs, same reasoning as amd64's IMUL.
		e.binary(in, func(dst, lhs, rhs int) { e.a.mul(dst, lhs, rhs) })

	case rtl.OpDiv, rtl.OpDivU:
		e.binary(in, func(dst, lhs, rhs int) {
			if in.Op == rtl.OpDivU {
				e.a.udiv(dst, lhs, rhs)
			} else {
				e.a.sdiv(dst, lhs, rhs)
			}
		})

	case rtl.OpMod:
		e.mod(in)

	case rtl.OpNot:
		e.unary(in, func(dst, src int) { e.a.not(dst, src) })

	case rtl.OpRotl, rtl.OpRotr, rtl.OpLsl, rtl.OpLsr, rtl.OpAsr:
		e.shift(in)

	case rtl.OpSignExtend, rtl.OpBitCast, rtl.OpMove:
		e.unary(in, func(dst, src int) { e.a.mov(dst, src) })

	case rtl.OpCompareEq, rtl.OpCompareLt, rtl.OpCompareLte, rtl.OpCompareUlt, rtl.OpCompareUlte:
		e.compare(in)

	case rtl.OpTest:
		lhs := e.loc(in.Srcs[0], 0)
		e.a.tst(lhs, lhs)
		dst, store := e.dest(in.Result)
		e.a.cset(dst, condNE)
		store()

	case rtl.OpSelect:
		e.selectOp(in)

	case rtl.OpExitIf:
		// cond/code must both be loaded before scratchA is touched: code
		// may itself be materialized through scratchSrc0/1/2, never
		// scratchA, so this ordering is safe. The exit-code move into
		// scratchA (== pinMemBase) only happens on the taken path — CBZ
		// skips over it entirely when cond is zero, so memoryBase survives
		// intact for any later Load/Store on the fall-through path.
		cond := e.loc(in.Srcs[0], 0)
		code := e.loc(in.Srcs[1], 1)
		skip := e.a.cbz(cond)
		e.a.mov(scratchA, code)
		e.a.b() // deferred to the shared epilogue, same as OpExit below
		e.a.resolve(skip, true, len(e.a.buf))

	case rtl.OpExit:
		code := e.loc(in.Srcs[0], 0)
		e.a.mov(scratchA, code)
		e.a.b()

	case rtl.OpReadGuest:
		e.readGuest(in)
	case rtl.OpWriteGuest:
		e.writeGuest(in)
	case rtl.OpLoad:
		e.load(in)
	case rtl.OpStore:
		e.store(in)

	default:
		e.fail("op %s has no arm64 emitter", in.Op)
	}
}

// binary loads Srcs[0]/Srcs[1] and runs op(dst, lhs, rhs) — unlike amd64,
// AArch64's three-register forms never need a separate "move lhs into
// dst first" step, so dst/lhs/rhs can be distinct throughout.
func (e *emitter) binary(in rtl.Instruction, op func(dst, lhs, rhs int)) {
	lhs := e.loc(in.Srcs[0], 0)
	rhs := e.loc(in.Srcs[1], 1)
	dst, store := e.dest(in.Result)
	op(dst, lhs, rhs)
	store()
}

func (e *emitter) unary(in rtl.Instruction, op func(dst, src int)) {
	src := e.loc(in.Srcs[0], 0)
	dst, store := e.dest(in.Result)
	op(dst, src)
	store()
}

// mod computes a signed remainder as a - (a/b)*b via SDIV+MSUB: AArch64
// has no dedicated remainder instruction. Spec's Modulus has no unsigned
// counterpart (see amd64's divmod comment), so this is always signed.
func (e *emitter) mod(in rtl.Instruction) {
	lhs := e.loc(in.Srcs[0], 0)
	rhs := e.loc(in.Srcs[1], 1)
	dst, store := e.dest(in.Result)
	// The quotient temp must not be scratchA (x0/pinMemBase): unlike
	// Exit/ExitIf's clobber, this value is computed mid-routine and a
	// later Load/Store still needs memoryBase intact. scratchSrc2 is
	// never one of this instruction's own operands (lhs/rhs occupy at
	// most scratchSrc0/scratchSrc1), so it's free here.
	e.a.sdiv(scratchSrc2, lhs, rhs)
	e.a.msub(dst, scratchSrc2, rhs, lhs)
	store()
}

func (e *emitter) shift(in rtl.Instruction) {
	lhs := e.loc(in.Srcs[0], 0)
	count := e.loc(in.Srcs[1], 1)
	dst, store := e.dest(in.Result)
	switch in.Op {
	case rtl.OpRotl:
		// No ROLV: rotate left by k == rotate right by (64-k); RORV takes
		// its shift amount mod 64, so a shift of exactly 64 (k==0) still
		// resolves to "no rotation" correctly. scratchSrc2 (not scratchA)
		// holds the negated count: pinMemBase must survive this
		// instruction for any later Load/Store.
		e.a.neg(scratchSrc2, count)
		e.a.rorv(dst, lhs, scratchSrc2)
	case rtl.OpRotr:
		e.a.rorv(dst, lhs, count)
	case rtl.OpLsl:
		e.a.lslv(dst, lhs, count)
	case rtl.OpLsr:
		e.a.lsrv(dst, lhs, count)
	case rtl.OpAsr:
		e.a.asrv(dst, lhs, count)
	}
	store()
}

func (e *emitter) compare(in rtl.Instruction) {
	lhs := e.loc(in.Srcs[0], 0)
	rhs := e.loc(in.Srcs[1], 1)
	e.a.cmp(lhs, rhs)
	var cond byte
	switch in.Op {
	case rtl.OpCompareEq:
		cond = condEQ
	case rtl.OpCompareLt:
		cond = condLT
	case rtl.OpCompareLte:
		cond = condLE
	case rtl.OpCompareUlt:
		cond = condLO
	case rtl.OpCompareUlte:
		cond = condLS
	}
	dst, store := e.dest(in.Result)
	e.a.cset(dst, cond)
	store()
}

// selectOp implements branchless select via CSEL: result is trueVal when
// cond is nonzero, falseVal otherwise.
func (e *emitter) selectOp(in rtl.Instruction) {
	cond := e.loc(in.Srcs[0], 0)
	e.a.tst(cond, cond)
	trueVal := e.loc(in.Srcs[1], 1)
	falseVal := e.loc(in.Srcs[2], 2)
	dst, store := e.dest(in.Result)
	e.a.csel(dst, trueVal, falseVal, condNE)
	store()
}

func (e *emitter) readGuest(in rtl.Instruction) {
	if e.regAddr == nil {
		e.fail("ReadGuest requires a register-address callback")
		return
	}
	addr := e.regAddr(uint32(in.Imm))
	width := guestAccessWidth(in.Typ)
	imm12 := e.widthScaledOffset(addr.Offset, width)
	dst, store := e.dest(in.Result)
	e.a.ldrScaledWidth(dst, pinRegBase, imm12, width)
	store()
}

func (e *emitter) writeGuest(in rtl.Instruction) {
	if e.regAddr == nil {
		e.fail("WriteGuest requires a register-address callback")
		return
	}
	addr := e.regAddr(uint32(in.Imm))
	width := guestAccessWidth(in.Typ)
	imm12 := e.widthScaledOffset(addr.Offset, width)
	src := e.loc(in.Srcs[0], 0)
	e.a.strScaledWidth(src, pinRegBase, imm12, width)
}

func (e *emitter) load(in rtl.Instruction) {
	if !e.fastmem {
		e.fail("Load requires fastmem (no native host-call path)")
		return
	}
	addr := e.loc(in.Srcs[0], 0)
	dst, store := e.dest(in.Result)
	e.a.ldrRegWidth(dst, pinMemBase, addr, guestAccessWidth(in.Typ))
	store()
}

func (e *emitter) store(in rtl.Instruction) {
	if !e.fastmem {
		e.fail("Store requires fastmem (no native host-call path)")
		return
	}
	addr := e.loc(in.Srcs[0], 0)
	val := e.loc(in.Srcs[1], 1)
	e.a.strRegWidth(val, pinMemBase, addr, guestAccessWidth(in.Typ))
}
