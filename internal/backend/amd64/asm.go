package amd64

import "encoding/binary"

// asm accumulates the byte stream for one routine and tracks forward
// branch sites that need patching once the epilogue's offset is known
// (spec §4.6.2's label-fixup machinery, scoped here to this back-end-
// internal use: every jump this encoder emits targets the routine's own
// epilogue, never a guest branch target — see DESIGN.md, labels).
type asm struct {
	buf     []byte
	patches []int // byte offsets of a pending rel32 operand
}

func (a *asm) b(v byte)    { a.buf = append(a.buf, v) }
func (a *asm) bs(v ...byte) { a.buf = append(a.buf, v...) }

func (a *asm) imm32(v uint32) {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], v)
	a.buf = append(a.buf, tmp[:]...)
}

func (a *asm) imm64(v uint64) {
	var tmp [8]byte
	binary.LittleEndian.PutUint64(tmp[:], v)
	a.buf = append(a.buf, tmp[:]...)
}

// rex builds a REX prefix. w selects 64-bit operand size; r/x/b extend the
// ModRM.reg / SIB.index / ModRM.rm (or SIB.base) fields respectively for
// registers 8..15.
func rex(w bool, r, x, b int) byte {
	v := byte(0x40)
	if w {
		v |= 0x08
	}
	if r >= 8 {
		v |= 0x04
	}
	if x >= 8 {
		v |= 0x02
	}
	if b >= 8 {
		v |= 0x01
	}
	return v
}

func modrm(mod, reg, rm int) byte {
	return byte(mod<<6) | byte((reg&7)<<3) | byte(rm&7)
}

// regReg emits a REX.W + opcode + ModRM(mod=11, reg, rm) register-direct
// instruction, e.g. ADD dst, src encoded as (0x01, dst, src) since 0x01 is
// "op r/m, r" with rm=dst, reg=src.
func (a *asm) regReg(opcode byte, regField, rmField int) {
	a.b(rex(true, regField, 0, rmField))
	a.b(opcode)
	a.b(modrm(3, regField, rmField))
}

// regRegExt emits a two-byte 0x0F-prefixed instruction in the same shape.
func (a *asm) regRegExt(opcode byte, regField, rmField int) {
	a.b(rex(true, regField, 0, rmField))
	a.b(0x0F)
	a.b(opcode)
	a.b(modrm(3, regField, rmField))
}

// movRegReg: MOV dst, src.
func (a *asm) movRegReg(dst, src int) {
	if dst == src {
		return
	}
	a.regReg(0x89, src, dst)
}

// movImm64: MOV dst, imm64 (REX.W + B8+rd + imm64).
func (a *asm) movImm64(dst int, v uint64) {
	a.b(rex(true, 0, 0, dst))
	a.b(0xB8 + byte(dst&7))
	a.imm64(v)
}

func (a *asm) add(dst, src int)  { a.regReg(0x01, src, dst) }
func (a *asm) sub(dst, src int)  { a.regReg(0x29, src, dst) }
func (a *asm) and(dst, src int)  { a.regReg(0x21, src, dst) }
func (a *asm) or(dst, src int)   { a.regReg(0x09, src, dst) }
func (a *asm) xor(dst, src int)  { a.regReg(0x31, src, dst) }
func (a *asm) imul(dst, src int) { a.regRegExt(0xAF, dst, src) }
func (a *asm) cmp(a1, a2 int)    { a.regReg(0x39, a2, a1) }
func (a *asm) test(a1, a2 int)   { a.regReg(0x85, a2, a1) }

// not/neg: single-operand group-3 (0xF7 /2 NOT, /3 NEG).
func (a *asm) group3(ext, rm int) {
	a.b(rex(true, 0, 0, rm))
	a.b(0xF7)
	a.b(modrm(3, ext, rm))
}
func (a *asm) not(rm int) { a.group3(2, rm) }
func (a *asm) neg(rm int) { a.group3(3, rm) }

// shiftCL: group-2 shift/rotate by CL (0xD3 /ext). ext selects the op: ROL=0,
// ROR=1, SHL=4, SHR=5, SAR=7.
func (a *asm) shiftCL(ext, rm int) {
	a.b(rex(true, 0, 0, rm))
	a.b(0xD3)
	a.b(modrm(3, ext, rm))
}
func (a *asm) rol(rm int) { a.shiftCL(0, rm) }
func (a *asm) ror(rm int) { a.shiftCL(1, rm) }
func (a *asm) shl(rm int) { a.shiftCL(4, rm) }
func (a *asm) shr(rm int) { a.shiftCL(5, rm) }
func (a *asm) sar(rm int) { a.shiftCL(7, rm) }

// cqo sign-extends RAX into RDX:RAX, the mandatory prelude to a 64-bit IDIV.
func (a *asm) cqo() { a.bs(0x48, 0x99) }

// idiv/div: group-3 /7 (IDIV) and /6 (DIV) on a single register operand;
// dividend is always RDX:RAX, quotient lands in RAX, remainder in RDX.
func (a *asm) idiv(rm int) { a.group3(7, rm) }
func (a *asm) div(rm int)  { a.group3(6, rm) }

// setccAndExtend: SETcc al-equivalent on the low byte of rm, then MOVZX to
// widen it to a full 64-bit 0/1 result. cc is the condition code nibble
// (e.g. 0x4 = E/Z, 0xC = L, 0xE = LE, 0x2 = B, 0x6 = BE, 0x5 = NE).
func (a *asm) setccAndExtend(cc byte, rm int) {
	// SETcc r/m8: a REX prefix is mandatory here even for rm<8, since
	// without one 4..7 address AH/CH/DH/BH instead of SPL/BPL/SIL/DIL.
	a.b(rex(false, 0, 0, rm))
	a.b(0x0F)
	a.b(0x90 + cc)
	a.b(modrm(3, 0, rm))
	// MOVZX r64, r/m8: REX.W + 0F B6 /r.
	a.b(rex(true, rm, 0, rm))
	a.b(0x0F)
	a.b(0xB6)
	a.b(modrm(3, rm, rm))
}

// cmovne: conditional move if ZF==0 (REX.W + 0F 45 /r).
func (a *asm) cmovne(dst, src int) {
	a.b(rex(true, dst, 0, src))
	a.b(0x0F)
	a.b(0x45)
	a.b(modrm(3, dst, src))
}

// jccRel32/jmpRel32 emit a near conditional/unconditional jump with a
// placeholder rel32, recording the patch site.
func (a *asm) jccRel32(cc byte) {
	a.b(0x0F)
	a.b(0x80 + cc)
	a.patches = append(a.patches, len(a.buf))
	a.imm32(0)
}
func (a *asm) jmpRel32() {
	a.b(0xE9)
	a.patches = append(a.patches, len(a.buf))
	a.imm32(0)
}

// ret emits a bare RET and is always the final byte of a routine: every
// pending forward branch patches to this offset.
func (a *asm) ret() { a.b(0xC3) }

// group1Imm32 emits a group-1 ALU op against an imm32 (REX.W + 0x81 /ext).
func (a *asm) group1Imm32(ext, rm int, imm int32) {
	a.b(rex(true, 0, 0, rm))
	a.b(0x81)
	a.b(modrm(3, ext, rm))
	a.imm32(uint32(imm))
}

// subRSPImm/addRSPImm adjust RSP to open/close the routine's spill frame
// (group-1 /5 SUB, /0 ADD).
func (a *asm) subRSPImm(n int32) { a.group1Imm32(5, rsp, n) }
func (a *asm) addRSPImm(n int32) { a.group1Imm32(0, rsp, n) }

// patchAll backpatches every recorded jump's rel32 to point at target
// (the epilogue's byte offset, i.e. len(a.buf) when called just before
// ret()).
func (a *asm) patchAll(target int) {
	for _, at := range a.patches {
		rel := int32(target - (at + 4))
		binary.LittleEndian.PutUint32(a.buf[at:at+4], uint32(rel))
	}
	a.patches = a.patches[:0]
}

// memOp encodes a [base + disp32] or, when base is a SIB-requiring
// register (RSP/R12), [base + disp32] via a SIB byte with no index. Both
// pinned memory/spill bases (R12, RBP) need this: RBP/R13 because ModRM's
// mod=00,rm=101 means RIP-relative rather than "no displacement", and
// RSP/R12 because rm=100 always demands a SIB byte. Always emitting
// mod=10 (disp32) sidesteps both quirks uniformly.
func (a *asm) memOp(opcode byte, reg, base int, disp int32) {
	a.b(rex(true, reg, 0, base))
	a.b(opcode)
	if base&7 == 4 { // RSP/R12: SIB required
		a.b(modrm(2, reg, 4))
		a.b(modrm(0, 4, base&7)) // SIB: scale=1, index=none(100), base
	} else {
		a.b(modrm(2, reg, base))
	}
	a.imm32(uint32(disp))
}

// memOpSIBIndexed encodes [base + index*1] with no displacement, used for
// fastmem loads/stores ([memoryBase + guestAddress]). Only valid for a base
// whose low 3 bits aren't 101 (RBP/R13): SIB.base=101 with mod=00 means "no
// base, disp32" rather than "+RBP", and this helper doesn't special-case
// it. Its only caller passes pinMemBase (R12), so the restriction never
// bites in practice.
func (a *asm) memOpSIBIndexed(opcode byte, reg, base, index int) {
	a.b(rex(true, reg, index, base))
	a.b(opcode)
	a.b(modrm(0, reg, 4)) // rm=100 => SIB follows, mod=00 => no displacement
	a.b(byte(0<<6) | byte((index&7)<<3) | byte(base&7))
}

// loadMem/storeMem: MOV reg, [base+disp] / MOV [base+disp], reg, always at
// 64-bit width. Used for spill-slot traffic, which is always a full
// 8-byte uint64 regardless of the RTL value's declared type.
func (a *asm) loadMem(reg, base int, disp int32)  { a.memOp(0x8B, reg, base, disp) }
func (a *asm) storeMem(reg, base int, disp int32) { a.memOp(0x89, reg, base, disp) }

// loadIndexed/storeIndexed: MOV reg, [base+index] / MOV [base+index], reg,
// always at 64-bit width.
func (a *asm) loadIndexed(reg, base, index int)  { a.memOpSIBIndexed(0x8B, reg, base, index) }
func (a *asm) storeIndexed(reg, base, index int) { a.memOpSIBIndexed(0x89, reg, base, index) }

// movOpcodes returns the opcode pair (load, store) and whether a 0x66
// operand-size-override prefix is needed for a MOV of the given byte
// width (1, 2, 4, or 8). Width 1 uses the dedicated 8-bit MOV opcodes
// (0x8A/0x88); 2/4/8 share 0x8B/0x89, distinguished by the 0x66 prefix
// (16-bit) and the REX.W bit (64-bit).
func movOpcodes(width int) (load, store byte, prefix66 bool) {
	if width == 1 {
		return 0x8A, 0x88, false
	}
	return 0x8B, 0x89, width == 2
}

// memOpWidth is memOp generalized to the guest access's declared byte
// width, matching the Load8/16/32/64 forms the fastmem fault decoder
// expects (see internal/jit/fastmem.go's decodeAMD64Load).
func (a *asm) memOpWidth(opcode byte, reg, base int, disp int32, prefix66 bool, w bool) {
	if prefix66 {
		a.b(0x66)
	}
	a.b(rex(w, reg, 0, base))
	a.b(opcode)
	if base&7 == 4 {
		a.b(modrm(2, reg, 4))
		a.b(modrm(0, 4, base&7))
	} else {
		a.b(modrm(2, reg, base))
	}
	a.imm32(uint32(disp))
}

func (a *asm) memOpSIBIndexedWidth(opcode byte, reg, base, index int, prefix66 bool, w bool) {
	if prefix66 {
		a.b(0x66)
	}
	a.b(rex(w, reg, index, base))
	a.b(opcode)
	a.b(modrm(0, reg, 4))
	a.b(byte(0<<6) | byte((index&7)<<3) | byte(base&7))
}

// loadMemWidth/storeMemWidth and loadIndexedWidth/storeIndexedWidth are the
// ReadGuest/WriteGuest/Load/Store forms: width selects the MOV encoding
// (byte/word/dword/qword) from the originating instruction's declared
// ir.Type, rather than always emitting the 64-bit form.
func (a *asm) loadMemWidth(reg, base int, disp int32, width int) {
	load, _, prefix66 := movOpcodes(width)
	a.memOpWidth(load, reg, base, disp, prefix66, width == 8)
}
func (a *asm) storeMemWidth(reg, base int, disp int32, width int) {
	_, store, prefix66 := movOpcodes(width)
	a.memOpWidth(store, reg, base, disp, prefix66, width == 8)
}
func (a *asm) loadIndexedWidth(reg, base, index, width int) {
	load, _, prefix66 := movOpcodes(width)
	a.memOpSIBIndexedWidth(load, reg, base, index, prefix66, width == 8)
}
func (a *asm) storeIndexedWidth(reg, base, index, width int) {
	_, store, prefix66 := movOpcodes(width)
	a.memOpSIBIndexedWidth(store, reg, base, index, prefix66, width == 8)
}
