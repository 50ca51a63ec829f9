package ir

import (
	"fmt"
	"strings"
)

// maxSources bounds the number of source operands an Instruction can carry,
// matching the spec's "0..N, N<=7".
const maxSources = 7

// Instruction is a single IR instruction: an opcode, an optional single
// result register, and up to maxSources source operands.
//
// The spec describes Instructions as variable-length packed records living
// back-to-back in a byte buffer. Per DESIGN.md ("arena-plus-index"), this
// implementation instead uses a fixed-layout struct stored in a Go slice
// (the Instructions arena) indexed by InstrID: the externally observable
// contract — forward iteration, O(1) next, cheap whole-EU copy — is
// preserved without manual byte packing.
type Instruction struct {
	opcode   Opcode
	typ      Type
	result   Reg
	srcs     [maxSources]Operand
	srcCount uint8

	// hostTarget is set for OpCall: the host function pointer, as a
	// HostAddress constant, plus its arity/void-ness encoded by srcCount
	// (sources[0] is always the call target).
}

// InstrID indexes an Instruction inside an Instructions arena.
type InstrID uint32

// NewRawInstruction builds an Instruction directly from already-validated
// parts, bypassing the Assembler's checks. It is used by passes that
// rewrite or re-emit instructions they know to be well-typed: the
// optimizer (constant propagation, dead-code elimination) and RTL lowering.
func NewRawInstruction(op Opcode, typ Type, result Reg, srcs ...Operand) Instruction {
	if len(srcs) > maxSources {
		panic("ir: NewRawInstruction: too many sources")
	}
	in := Instruction{opcode: op, typ: typ, result: result, srcCount: uint8(len(srcs))}
	copy(in.srcs[:], srcs)
	return in
}

// Opcode returns the instruction's opcode.
func (in *Instruction) Opcode() Opcode { return in.opcode }

// Type returns the instruction's result (or otherwise defining) type.
func (in *Instruction) Type() Type { return in.typ }

// Result returns the instruction's result register, or InvalidReg if it
// produces none.
func (in *Instruction) Result() Reg { return in.result }

// HasResult reports whether this instruction defines a register.
func (in *Instruction) HasResult() bool { return in.result.Valid() }

// Sources returns the instruction's source operands.
func (in *Instruction) Sources() []Operand { return in.srcs[:in.srcCount] }

// Source returns the i'th source operand.
func (in *Instruction) Source(i int) Operand { return in.srcs[i] }

// SourceCount returns the number of source operands.
func (in *Instruction) SourceCount() int { return int(in.srcCount) }

// SetSource overwrites the i'th source operand in place; used by the
// optimizer passes to substitute folded constants without re-emitting.
func (in *Instruction) SetSource(i int, op Operand) { in.srcs[i] = op }

// String renders a single disassembled line.
func (in *Instruction) String() string {
	var b strings.Builder
	if in.HasResult() {
		fmt.Fprintf(&b, "%s:%s = ", in.result, in.typ)
	}
	fmt.Fprintf(&b, "%s", in.opcode)
	for _, s := range in.Sources() {
		fmt.Fprintf(&b, " %s", s)
	}
	return b.String()
}

// Instructions is the arena owning all Instruction records for one
// ExecutionUnit. Instructions are appended in program order and never
// relocated; InstrID is stable for the arena's lifetime.
type Instructions struct {
	buf []Instruction
}

// Len returns the number of instructions currently stored.
func (is *Instructions) Len() int { return len(is.buf) }

// At returns a pointer to the instruction at id, allowing in-place mutation
// (e.g. operand substitution during constant propagation).
func (is *Instructions) At(id InstrID) *Instruction { return &is.buf[id] }

// append appends a fully-built Instruction and returns its id.
func (is *Instructions) append(in Instruction) InstrID {
	id := InstrID(len(is.buf))
	is.buf = append(is.buf, in)
	return id
}

// Append appends an already-built Instruction (typically constructed via
// NewRawInstruction by a pass outside this package, such as the optimizer or
// RTL lowering) and returns its id. Unlike the Assembler's emit path, this
// performs no validation and allocates no fresh register: the caller owns
// correctness.
func (is *Instructions) Append(in Instruction) InstrID { return is.append(in) }

// Reset empties the arena for reuse, retaining its backing storage.
func (is *Instructions) Reset() { is.buf = is.buf[:0] }

// Iterate calls fn for every instruction in program order. fn may return
// false to stop iteration early.
func (is *Instructions) Iterate(fn func(id InstrID, in *Instruction) bool) {
	for i := range is.buf {
		if !fn(InstrID(i), &is.buf[i]) {
			return
		}
	}
}

// copy returns a deep copy of the arena (Instruction is a value type with no
// pointers it owns, so a slice copy is a full deep copy).
func (is *Instructions) copy() Instructions {
	buf := make([]Instruction, len(is.buf))
	copy(buf, is.buf)
	return Instructions{buf: buf}
}

// ExecutionUnit is a linear sequence of typed IR instructions produced by
// the Assembler for one translated guest basic block. It owns its
// Instructions arena and the monotonic counter handing out fresh SSA
// register indices.
type ExecutionUnit struct {
	instrs         Instructions
	registerCount  uint32
	registerOffset uint32
}

// NewExecutionUnit creates an empty ExecutionUnit. registerOffset reserves
// the [0, registerOffset) register index range for extra-architectural
// registers the front-end manages itself (e.g. SH4's banked GPRs); the
// Assembler's first allocated register will be registerOffset.
func NewExecutionUnit(registerOffset uint32) *ExecutionUnit {
	return &ExecutionUnit{registerCount: registerOffset, registerOffset: registerOffset}
}

// RegisterOffset returns the reserved low register index range size.
func (eu *ExecutionUnit) RegisterOffset() uint32 { return eu.registerOffset }

// RegisterCount returns the number of registers allocated so far (including
// the reserved offset range).
func (eu *ExecutionUnit) RegisterCount() uint32 { return eu.registerCount }

// allocReg hands out a fresh SSA register index.
func (eu *ExecutionUnit) allocReg() Reg {
	r := Reg(eu.registerCount)
	eu.registerCount++
	return r
}

// Instructions returns the owned instruction arena.
func (eu *ExecutionUnit) Instructions() *Instructions { return &eu.instrs }

// Len returns the number of instructions in the unit.
func (eu *ExecutionUnit) Len() int { return eu.instrs.Len() }

// NewExecutionUnitLike creates an empty ExecutionUnit that preserves eu's
// register numbering space (count and offset), for passes that rebuild a
// unit instruction-by-instruction without renumbering registers.
func NewExecutionUnitLike(eu *ExecutionUnit) *ExecutionUnit {
	return &ExecutionUnit{registerCount: eu.registerCount, registerOffset: eu.registerOffset}
}

// Emit appends an already-built raw Instruction (see NewRawInstruction) to
// this unit's arena.
func (eu *ExecutionUnit) Emit(in Instruction) InstrID { return eu.instrs.Append(in) }

// Copy returns a deep copy of eu, as required when a consumer needs to keep
// an original EU around (e.g. for a fastmem-disabled recompile) while a
// pass mutates another.
func (eu *ExecutionUnit) Copy() *ExecutionUnit {
	return &ExecutionUnit{
		instrs:         eu.instrs.copy(),
		registerCount:  eu.registerCount,
		registerOffset: eu.registerOffset,
	}
}

// Disassemble renders the whole unit as a human-readable listing.
func (eu *ExecutionUnit) Disassemble() string {
	var b strings.Builder
	eu.instrs.Iterate(func(id InstrID, in *Instruction) bool {
		fmt.Fprintf(&b, "%4d: %s\n", id, in)
		return true
	})
	return b.String()
}
