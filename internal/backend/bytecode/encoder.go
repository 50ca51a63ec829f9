package bytecode

import (
	"encoding/binary"

	"github.com/retrojit/dbtjit/internal/ir"
	"github.com/retrojit/dbtjit/internal/rtl"
)

func putImm(buf []byte, width int, v uint64) []byte {
	var tmp [8]byte
	binary.LittleEndian.PutUint64(tmp[:], v)
	return append(buf, tmp[:width]...)
}

// guestAccessWidth renders typ's declared width as the byte count
// guest.Guest's RegisterRead/RegisterWrite/Load/Store expect, matching
// internal/jit's direct ExecutionUnit interpreter (in.Type().Bits()/8).
func guestAccessWidth(typ ir.Type) byte {
	return byte(typ.Bits() / 8)
}

// encoder lowers an allocated rtl.Program into a bytecode stream, inserting
// LoadSpill/StoreSpill around instructions whose operands the allocator
// placed in a spill slot rather than a register (spec §4.5 step 4).
type encoder struct {
	prog *rtl.Program
	buf  []byte
}

// encode renders prog's single block as a bytecode stream.
func encode(prog *rtl.Program) []byte {
	e := &encoder{prog: prog}
	if len(prog.Blocks) > 0 {
		for _, in := range prog.Blocks[0].Instrs {
			e.emit(in)
		}
	}
	return e.buf
}

// resolve loads register r into a hardware register usable by the emitted
// instruction, inserting a LoadSpill into the given scratch slot first if r
// is spilled.
func (e *encoder) resolve(r rtl.Reg, scratch byte) byte {
	if !r.Valid() {
		return 0
	}
	hw := e.prog.Assignment[r]
	if hw.Kind == rtl.HwRegister {
		return byte(hw.Index)
	}
	e.buf = append(e.buf, byte(opLoadSpill), scratch)
	e.buf = putImm(e.buf, 4, uint64(uint32(hw.Index)))
	return scratch
}

func (e *encoder) emit(in rtl.Instruction) {
	bop, ok := rtlToOp[in.Op]
	if !ok {
		panic("bytecode: encode: unsupported rtl op " + in.Op.String())
	}

	var resultHw rtl.Hw
	resultSpilled := false
	if in.Result.Valid() {
		resultHw = e.prog.Assignment[in.Result]
		resultSpilled = resultHw.Kind == rtl.HwSpillSlot
	}

	e.buf = append(e.buf, byte(bop))
	if bop.hasResult() {
		if resultSpilled {
			e.buf = append(e.buf, Scratch2)
		} else {
			e.buf = append(e.buf, byte(resultHw.Index))
		}
	}
	for i := 0; i < int(in.NSrcs); i++ {
		e.buf = append(e.buf, e.resolve(in.Srcs[i], byte(Scratch0+i)))
	}
	if bop.hasWidthByte() {
		e.buf = append(e.buf, guestAccessWidth(in.Typ))
	}
	if bop.hasImmediate() {
		e.buf = putImm(e.buf, bop.immWidth(), in.Imm)
	}

	if resultSpilled {
		e.buf = append(e.buf, byte(opStoreSpill), Scratch2)
		e.buf = putImm(e.buf, 4, uint64(uint32(resultHw.Index)))
	}
}
