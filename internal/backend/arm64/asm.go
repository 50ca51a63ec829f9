package arm64

import "encoding/binary"

// asm accumulates a routine's instruction stream, one little-endian
// 32-bit word per AArch64 instruction — fixed-width encoding means every
// branch target and patch site is a whole-word boundary, unlike amd64's
// variable-length stream.
type asm struct {
	buf     []byte
	patches []armPatch
}

// armPatch records a not-yet-resolved PC-relative branch: AArch64 branch
// immediates are relative to the branch instruction's OWN address (not
// the next instruction, as on amd64), scaled by 4.
type armPatch struct {
	pos   int // byte offset of the branch instruction
	imm19 bool
}

func (a *asm) word(v uint32) {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], v)
	a.buf = append(a.buf, tmp[:]...)
}

func (a *asm) patchAll(target int) {
	for _, p := range a.patches {
		a.resolve(p.pos, p.imm19, target)
	}
	a.patches = a.patches[:0]
}

// resolve fills in an already-emitted branch placeholder's relative
// immediate against a known target, without going through the deferred
// patches list — used when the target is the very next instruction
// rather than the shared routine epilogue.
func (a *asm) resolve(pos int, imm19 bool, target int) {
	rel := int32(target-pos) / 4
	existing := binary.LittleEndian.Uint32(a.buf[pos : pos+4])
	var word uint32
	if imm19 {
		word = existing&^(0x7FFFF<<5) | (uint32(rel)&0x7FFFF)<<5
	} else {
		word = existing&^0x3FFFFFF | (uint32(rel) & 0x3FFFFFF)
	}
	binary.LittleEndian.PutUint32(a.buf[pos:pos+4], word)
}

// Three-register data-processing ops (ADD/SUB/AND/ORR/EOR/ORN and the
// MADD/MSUB/SDIV/UDIV/shift-by-register family), all sharing the
// Rm<<16 | Rn<<5 | Rd layout with a fixed per-op base word.
func (a *asm) rrr(base uint32, rd, rn, rm int) {
	a.word(base | uint32(rm)<<16 | uint32(rn)<<5 | uint32(rd))
}

func (a *asm) add(rd, rn, rm int)  { a.rrr(0x8B000000, rd, rn, rm) }
func (a *asm) sub(rd, rn, rm int)  { a.rrr(0xCB000000, rd, rn, rm) }
func (a *asm) and(rd, rn, rm int)  { a.rrr(0x8A000000, rd, rn, rm) }
func (a *asm) orr(rd, rn, rm int)  { a.rrr(0xAA000000, rd, rn, rm) }
func (a *asm) eor(rd, rn, rm int)  { a.rrr(0xCA000000, rd, rn, rm) }
func (a *asm) orn(rd, rn, rm int)  { a.rrr(0xAA200000, rd, rn, rm) }
func (a *asm) sdiv(rd, rn, rm int) { a.rrr(0x9AC00C00, rd, rn, rm) }
func (a *asm) udiv(rd, rn, rm int) { a.rrr(0x9AC00800, rd, rn, rm) }
func (a *asm) lslv(rd, rn, rm int) { a.rrr(0x9AC02000, rd, rn, rm) }
func (a *asm) lsrv(rd, rn, rm int) { a.rrr(0x9AC02400, rd, rn, rm) }
func (a *asm) asrv(rd, rn, rm int) { a.rrr(0x9AC02800, rd, rn, rm) }
func (a *asm) rorv(rd, rn, rm int) { a.rrr(0x9AC02C00, rd, rn, rm) }

// mov is MOV (register), alias ORR Xd, XZR, Xm.
func (a *asm) mov(rd, rm int) {
	if rd == rm {
		return
	}
	a.orr(rd, 31, rm)
}

// not is the bitwise-NOT alias ORN Xd, XZR, Xm.
func (a *asm) not(rd, rm int) { a.orn(rd, 31, rm) }

// neg is the two's-complement negate alias SUB Xd, XZR, Xm.
func (a *asm) neg(rd, rm int) { a.sub(rd, 31, rm) }

// mul is MADD Xd, Xn, Xm, XZR.
func (a *asm) mul(rd, rn, rm int) {
	a.word(0x9B000000 | uint32(rm)<<16 | 31<<10 | uint32(rn)<<5 | uint32(rd))
}

// msub: Xd = Ra - Xn*Xm — used to compute a signed remainder as
// a - (a/b)*b once SDIV has produced the quotient.
func (a *asm) msub(rd, rn, rm, ra int) {
	a.word(0x9B008000 | uint32(rm)<<16 | uint32(ra)<<10 | uint32(rn)<<5 | uint32(rd))
}

// cmp is CMP Xn, Xm, alias SUBS XZR, Xn, Xm.
func (a *asm) cmp(rn, rm int) {
	a.word(0xEB00001F | uint32(rm)<<16 | uint32(rn)<<5)
}

// tst is TST Xn, Xm, alias ANDS XZR, Xn, Xm.
func (a *asm) tst(rn, rm int) {
	a.word(0xEA00001F | uint32(rm)<<16 | uint32(rn)<<5)
}

// Condition code nibbles, AArch64 encoding (distinct from x86's).
const (
	condEQ = 0x0
	condNE = 0x1
	condLO = 0x3 // unsigned <  (CC/LO)
	condLS = 0x9 // unsigned <= (LS)
	condLT = 0xB // signed   <
	condLE = 0xD // signed   <=
)

// cset sets rd to 1 if cond holds, 0 otherwise: alias CSINC Xd, XZR, XZR,
// invert(cond). Inverting an AArch64 condition is a toggle of its low bit.
func (a *asm) cset(rd int, cond byte) {
	inv := cond ^ 1
	a.word(0x9A9F07E0 | uint32(inv)<<12 | uint32(rd))
}

// csel: Xd = cond ? Xn : Xm.
func (a *asm) csel(rd, rn, rm int, cond byte) {
	a.word(0x9A800000 | uint32(rm)<<16 | uint32(cond)<<12 | uint32(rn)<<5 | uint32(rd))
}

// movz/movk load one 16-bit chunk of a 64-bit immediate at bit position
// hw*16; movImm64 issues one movz followed by three movk to cover all 64
// bits unconditionally (no attempt to skip all-zero chunks — simplicity
// over a few saved instructions in an already rarely-hot compile path).
func (a *asm) movz(rd int, imm16 uint16, hw uint) {
	a.word(0xD2800000 | uint32(hw)<<21 | uint32(imm16)<<5 | uint32(rd))
}
func (a *asm) movk(rd int, imm16 uint16, hw uint) {
	a.word(0xF2800000 | uint32(hw)<<21 | uint32(imm16)<<5 | uint32(rd))
}
func (a *asm) movImm64(rd int, v uint64) {
	a.movz(rd, uint16(v), 0)
	a.movk(rd, uint16(v>>16), 1)
	a.movk(rd, uint16(v>>32), 2)
	a.movk(rd, uint16(v>>48), 3)
}

// ldrScaled/strScaled: LDR/STR Xt, [Xn, #(imm12*8)] — the unsigned-offset
// 64-bit immediate form, valid only for 8-byte-aligned, 0..32760 offsets
// (see emit.go's scaledOffset, which validates this before calling in).
func (a *asm) ldrScaled(rt, rn int, imm12 uint32) {
	a.word(0xF9400000 | imm12<<10 | uint32(rn)<<5 | uint32(rt))
}
func (a *asm) strScaled(rt, rn int, imm12 uint32) {
	a.word(0xF9000000 | imm12<<10 | uint32(rn)<<5 | uint32(rt))
}

// ldrReg/strReg: LDR/STR Xt, [Xn, Xm] — unscaled register-offset
// addressing, used for fastmem ([memoryBase + guestAddress]).
func (a *asm) ldrReg(rt, rn, rm int) {
	a.word(0xF8606800 | uint32(rm)<<16 | uint32(rn)<<5 | uint32(rt))
}
func (a *asm) strReg(rt, rn, rm int) {
	a.word(0xF8206800 | uint32(rm)<<16 | uint32(rn)<<5 | uint32(rt))
}

// sizeField maps a guest-access byte width (1/2/4/8) to the LDR/STR size
// field (bits 31:30): 00=byte, 01=halfword, 10=word, 11=doubleword.
func sizeField(width int) uint32 {
	switch width {
	case 1:
		return 0
	case 2:
		return 1
	case 4:
		return 2
	default:
		return 3
	}
}

// ldrRegWidth/strRegWidth generalize ldrReg/strReg to LDRB/LDRH/LDR
// (32-bit)/LDR (64-bit) Wt/Xt, [Xn, Xm] selected by width, matching the
// forms internal/jit/fastmem.go's decodeARM64Load already decodes for
// every size. A narrower Wt/Xt load implicitly zero-extends to the full
// 64-bit register, per AArch64's LDR semantics.
func (a *asm) ldrRegWidth(rt, rn, rm, width int) {
	a.word(0x38606800 | sizeField(width)<<30 | uint32(rm)<<16 | uint32(rn)<<5 | uint32(rt))
}
func (a *asm) strRegWidth(rt, rn, rm, width int) {
	a.word(0x38206800 | sizeField(width)<<30 | uint32(rm)<<16 | uint32(rn)<<5 | uint32(rt))
}

// ldrScaledWidth/strScaledWidth generalize ldrScaled/strScaled to
// LDRB/LDRH/LDR (32-bit)/LDR (64-bit) Wt/Xt, [Xn, #(imm12*width)],
// selected by width — see emit.go's widthScaledOffset for the imm12
// derivation, which scales by width rather than always by 8.
func (a *asm) ldrScaledWidth(rt, rn int, imm12 uint32, width int) {
	a.word(0x39400000 | sizeField(width)<<30 | imm12<<10 | uint32(rn)<<5 | uint32(rt))
}
func (a *asm) strScaledWidth(rt, rn int, imm12 uint32, width int) {
	a.word(0x39000000 | sizeField(width)<<30 | imm12<<10 | uint32(rn)<<5 | uint32(rt))
}

// subSPImm/addSPImm open and close the routine's native spill frame
// (ADD/SUB (immediate), Rd=Rn=31=SP — SP is a valid operand of this
// particular immediate form, unlike almost everywhere else in the ISA).
func (a *asm) subSPImm(imm12 uint32) { a.word(0xD10003FF | imm12<<10) }
func (a *asm) addSPImm(imm12 uint32) { a.word(0x910003FF | imm12<<10) }

// b emits an unconditional forward branch with a placeholder imm26,
// recording the patch site.
func (a *asm) b() {
	a.patches = append(a.patches, armPatch{pos: len(a.buf), imm19: false})
	a.word(0x14000000)
}

// cbnz emits "branch if rt != 0" with a placeholder imm19, deferred to the
// routine epilogue (used by OpExit's unconditional-once-reached form and
// nothing else needs CBNZ to a non-epilogue target today).
func (a *asm) cbnz(rt int) {
	a.patches = append(a.patches, armPatch{pos: len(a.buf), imm19: true})
	a.word(0xB5000000 | uint32(rt))
}

// cbz emits "branch if rt == 0" with a placeholder imm19 and returns the
// instruction's byte offset for an immediate (non-deferred) resolve call,
// since its target is typically "the very next instruction or two" rather
// than the shared epilogue.
func (a *asm) cbz(rt int) int {
	pos := len(a.buf)
	a.word(0xB4000000 | uint32(rt))
	return pos
}

// ret is RET X30 (the default, implicit-X30 encoding), always the final
// instruction of a routine.
func (a *asm) ret() { a.word(0xD65F03C0) }
