package ir

import (
	"fmt"
	"math"
)

// Reg is an SSA register reference inside a single ExecutionUnit. It is a
// distinct type from any guest register index so the two are never mixed by
// accident (see DESIGN.md, "registers identified by SSA index").
type Reg uint32

// InvalidReg is the sentinel for an absent register reference.
const InvalidReg Reg = math.MaxUint32

// Valid reports whether r refers to an actual SSA register.
func (r Reg) Valid() bool { return r != InvalidReg }

// String implements fmt.Stringer.
func (r Reg) String() string {
	if !r.Valid() {
		return "<invalid>"
	}
	return fmt.Sprintf("r%d", uint32(r))
}

type operandKind uint8

const (
	operandKindInvalid operandKind = iota
	operandKindReg
	operandKindConst
)

// Operand is either an SSA register reference or an inline constant, always
// carrying a Type. It corresponds to the spec's 128-bit Operand; Go's value
// semantics make the explicit bit-width unnecessary, but the two-kind shape
// and equality rules are preserved exactly.
type Operand struct {
	kind operandKind
	typ  Type
	reg  Reg
	bits uint64 // raw constant bit pattern, meaningful only when kind == operandKindConst
}

// Invalid reports whether this is a default-constructed (invalid) Operand.
func (o Operand) Invalid() bool { return o.kind == operandKindInvalid }

// IsReg reports whether o is a register reference.
func (o Operand) IsReg() bool { return o.kind == operandKindReg }

// IsConst reports whether o is an inline constant.
func (o Operand) IsConst() bool { return o.kind == operandKindConst }

// Type returns the operand's type.
func (o Operand) Type() Type { return o.typ }

// Reg returns the register reference. Only valid when IsReg() is true.
func (o Operand) Reg() Reg { return o.reg }

// Bits returns the raw constant bit pattern. Only valid when IsConst() is true.
func (o Operand) Bits() uint64 { return o.bits }

// RegOperand builds a register-reference Operand.
func RegOperand(typ Type, r Reg) Operand {
	return Operand{kind: operandKindReg, typ: typ, reg: r}
}

// ConstOperand builds an inline-constant Operand from a raw bit pattern already
// sized to typ (e.g. sign/zero-extended as the caller intends).
func ConstOperand(typ Type, bits uint64) Operand {
	return Operand{kind: operandKindConst, typ: typ, bits: bits}
}

// ConstI8/16/32/64 build integer constants zero-extended into the 64-bit slot;
// the opcode performing arithmetic on them decides signed interpretation.
func ConstI8(v uint8) Operand   { return ConstOperand(Integer8, uint64(v)) }
func ConstI16(v uint16) Operand { return ConstOperand(Integer16, uint64(v)) }
func ConstI32(v uint32) Operand { return ConstOperand(Integer32, uint64(v)) }
func ConstI64(v uint64) Operand { return ConstOperand(Integer64, v) }

// ConstF32 builds a Float32 constant.
func ConstF32(v float32) Operand { return ConstOperand(Float32, uint64(math.Float32bits(v))) }

// ConstF64 builds a Float64 constant.
func ConstF64(v float64) Operand { return ConstOperand(Float64, math.Float64bits(v)) }

// ConstBool builds a Bool constant.
func ConstBool(v bool) Operand {
	var b uint64
	if v {
		b = 1
	}
	return ConstOperand(Bool, b)
}

// ConstLabel builds a BranchLabel constant identifying a branch target.
func ConstLabel(id uint32) Operand { return ConstOperand(BranchLabel, uint64(id)) }

// ConstHostAddress builds a HostAddress constant from a raw host pointer value.
func ConstHostAddress(addr uint64) Operand { return ConstOperand(HostAddress, addr) }

// AsU8/16/32/64 reinterpret a constant Operand's bits at the named width.
func (o Operand) AsU8() uint8   { return uint8(o.bits) }
func (o Operand) AsU16() uint16 { return uint16(o.bits) }
func (o Operand) AsU32() uint32 { return uint32(o.bits) }
func (o Operand) AsU64() uint64 { return o.bits }

// AsI8/16/32/64 reinterpret a constant Operand's bits as signed integers of the
// named width, sign-extending from the operand's own declared width.
func (o Operand) AsI8() int8   { return int8(o.bits) }
func (o Operand) AsI16() int16 { return int16(o.bits) }
func (o Operand) AsI32() int32 { return int32(o.bits) }
func (o Operand) AsI64() int64 { return int64(o.bits) }

// AsF32 reinterprets a constant Operand's bits as a float32.
func (o Operand) AsF32() float32 { return math.Float32frombits(uint32(o.bits)) }

// AsF64 reinterprets a constant Operand's bits as a float64.
func (o Operand) AsF64() float64 { return math.Float64frombits(o.bits) }

// AsBool reinterprets a constant Operand's bits as a bool.
func (o Operand) AsBool() bool { return o.bits != 0 }

// Equal implements the spec's kind-dependent equality: registers compare by
// (type, index), constants compare by (type, bit pattern).
func (o Operand) Equal(other Operand) bool {
	if o.kind != other.kind || o.typ != other.typ {
		return false
	}
	switch o.kind {
	case operandKindReg:
		return o.reg == other.reg
	case operandKindConst:
		return o.bits == other.bits
	default:
		return true // both invalid
	}
}

// String implements fmt.Stringer for debugging/disassembly.
func (o Operand) String() string {
	switch o.kind {
	case operandKindReg:
		return fmt.Sprintf("%s:%s", o.reg, o.typ)
	case operandKindConst:
		return fmt.Sprintf("#%s:%s", o.constString(), o.typ)
	default:
		return "<invalid-operand>"
	}
}

func (o Operand) constString() string {
	switch o.typ {
	case Float32:
		return fmt.Sprintf("%g", o.AsF32())
	case Float64:
		return fmt.Sprintf("%g", o.AsF64())
	case Bool:
		return fmt.Sprintf("%t", o.AsBool())
	default:
		return fmt.Sprintf("%#x", o.bits)
	}
}
