package ir

import (
	"math"
	"math/bits"
)

// Calculator mirrors the Assembler's arithmetic/conversion/comparison API
// but operates purely on constant-valued Operands, returning a
// constant-valued Operand without emitting anything into an ExecutionUnit.
// It is used by ConstantPropagation, which only ever invokes it once it has
// established that every source of an instruction is already constant.
//
// Signed divide-by-zero and signed MIN/-1 overflow are undefined behavior at
// the IR level (spec §4.2); the optimizer must not call Fold for those
// inputs, and Calculator does not attempt to special-case them.
type Calculator struct{}

// Fold evaluates a single IR opcode against already-constant source operands
// and returns the constant result. The caller (ConstantPropagation) is
// responsible for only calling this when every source is a constant and the
// instruction is not a control/memory/guest-state/call opcode.
func (Calculator) Fold(op Opcode, typ Type, srcs []Operand) Operand {
	switch op {
	case OpAdd:
		return foldArith(typ, srcs[0], srcs[1], addInt, addFloat)
	case OpSubtract:
		return foldArith(typ, srcs[0], srcs[1], subInt, subFloat)
	case OpMultiply:
		return foldArith(typ, srcs[0], srcs[1], mulSignedInt, mulFloat)
	case OpMultiplyU:
		return foldArith(typ, srcs[0], srcs[1], mulUnsignedInt, mulFloat)
	case OpDivide:
		return foldDivide(typ, srcs[0], srcs[1])
	case OpDivideU:
		return foldIntOnly(typ, srcs[0], srcs[1], divUnsignedInt)
	case OpModulus:
		return foldModulus(typ, srcs[0], srcs[1])
	case OpSquareRoot:
		return foldUnaryFloat(typ, srcs[0], sqrtFloat)
	case OpAnd:
		return foldIntOnly(typ, srcs[0], srcs[1], func(x, y uint64) uint64 { return x & y })
	case OpOr:
		return foldIntOnly(typ, srcs[0], srcs[1], func(x, y uint64) uint64 { return x | y })
	case OpExclusiveOr:
		return foldIntOnly(typ, srcs[0], srcs[1], func(x, y uint64) uint64 { return x ^ y })
	case OpNot:
		return ConstOperand(typ, mask(typ, ^srcs[0].AsU64()))
	case OpRotateLeft:
		return ConstOperand(typ, rotl(typ, srcs[0].AsU64(), srcs[1].AsU64()))
	case OpRotateRight:
		return ConstOperand(typ, rotr(typ, srcs[0].AsU64(), srcs[1].AsU64()))
	case OpLogicalShiftLeft:
		return ConstOperand(typ, mask(typ, srcs[0].AsU64()<<shiftAmount(typ, srcs[1].AsU64())))
	case OpLogicalShiftRight:
		return ConstOperand(typ, logicalShiftRight(typ, srcs[0].AsU64(), srcs[1].AsU64()))
	case OpArithmeticShiftRight:
		return ConstOperand(typ, arithmeticShiftRight(typ, srcs[0].AsU64(), srcs[1].AsU64()))
	case OpBitSetClear:
		return foldBitSetClear(typ, srcs[0], srcs[1], srcs[2])
	case OpExtend16:
		return ConstOperand(Integer16, uint64(int16(signExtendFrom(typ, srcs[0].AsU64()))))
	case OpExtend32:
		return ConstOperand(Integer32, uint64(int32(signExtendFrom(typ, srcs[0].AsU64()))))
	case OpExtend64:
		return ConstOperand(Integer64, uint64(signExtendFrom(typ, srcs[0].AsU64())))
	case OpBitCast:
		return ConstOperand(typ, srcs[0].AsU64())
	case OpCastFloatInt:
		return foldCastFloatInt(typ, srcs[0])
	case OpCastIntFloat:
		return foldCastIntFloat(typ, srcs[0])
	case OpResizeFloat:
		return foldResizeFloat(typ, srcs[0])
	case OpTest:
		return ConstBool(srcs[0].AsU64() != 0)
	case OpCompareEq:
		return foldCompare(srcs[0], srcs[1], func(a, b int64) bool { return a == b }, func(a, b uint64) bool { return a == b }, func(a, b float64) bool { return a == b })
	case OpCompareLt:
		return foldCompare(srcs[0], srcs[1], func(a, b int64) bool { return a < b }, func(a, b uint64) bool { return a < b }, func(a, b float64) bool { return a < b })
	case OpCompareLte:
		return foldCompare(srcs[0], srcs[1], func(a, b int64) bool { return a <= b }, func(a, b uint64) bool { return a <= b }, func(a, b float64) bool { return a <= b })
	case OpCompareUlt:
		return ConstBool(srcs[0].AsU64() < srcs[1].AsU64())
	case OpCompareUlte:
		return ConstBool(srcs[0].AsU64() <= srcs[1].AsU64())
	default:
		panic("ir: calculator: opcode " + op.String() + " is not foldable")
	}
}

func mask(typ Type, v uint64) uint64 {
	switch typ {
	case Integer8:
		return v & 0xff
	case Integer16:
		return v & 0xffff
	case Integer32:
		return v & 0xffffffff
	default:
		return v
	}
}

func shiftAmount(typ Type, amount uint64) uint64 {
	return amount & uint64(typ.Bits()-1)
}

func signExtendFrom(typ Type, v uint64) int64 {
	switch typ {
	case Integer8:
		return int64(int8(v))
	case Integer16:
		return int64(int16(v))
	case Integer32:
		return int64(int32(v))
	default:
		return int64(v)
	}
}

func rotl(typ Type, v, amount uint64) uint64 {
	w := uint(typ.Bits())
	a := uint(amount) % w
	v = mask(typ, v)
	switch w {
	case 8:
		return uint64(bits.RotateLeft8(uint8(v), int(a)))
	case 16:
		return uint64(bits.RotateLeft16(uint16(v), int(a)))
	case 32:
		return uint64(bits.RotateLeft32(uint32(v), int(a)))
	default:
		return bits.RotateLeft64(v, int(a))
	}
}

func rotr(typ Type, v, amount uint64) uint64 {
	return rotl(typ, v, uint64(typ.Bits())-amount%uint64(typ.Bits()))
}

func logicalShiftRight(typ Type, v, amount uint64) uint64 {
	v = mask(typ, v)
	return v >> shiftAmount(typ, amount)
}

func arithmeticShiftRight(typ Type, v, amount uint64) uint64 {
	s := signExtendFrom(typ, v)
	shifted := s >> shiftAmount(typ, amount)
	return mask(typ, uint64(shifted))
}

func foldBitSetClear(typ Type, value, control, position Operand) Operand {
	bit := uint64(1) << shiftAmount(typ, position.AsU64())
	v := value.AsU64()
	if control.AsBool() {
		v |= bit
	} else {
		v &^= bit
	}
	return ConstOperand(typ, mask(typ, v))
}

func addInt(x, y uint64) uint64 { return x + y }
func subInt(x, y uint64) uint64 { return x - y }
func mulSignedInt(x, y uint64) uint64 {
	return uint64(int64(x) * int64(y))
}
func mulUnsignedInt(x, y uint64) uint64 { return x * y }
func divUnsignedInt(x, y uint64) uint64 { return x / y }

// foldDivide and foldModulus sign-extend from the operand's declared width
// before dividing; x.AsU64()/y.AsU64() are zero-extended bit patterns, and
// dividing those directly as int64 gives the wrong answer for any negative
// Integer8/16/32 operand.
func foldDivide(typ Type, x, y Operand) Operand {
	if typ.IsFloatType() {
		return foldFloatBin(typ, x, y, divFloat)
	}
	q := signExtendFrom(typ, x.AsU64()) / signExtendFrom(typ, y.AsU64())
	return ConstOperand(typ, mask(typ, uint64(q)))
}

func foldModulus(typ Type, x, y Operand) Operand {
	r := signExtendFrom(typ, x.AsU64()) % signExtendFrom(typ, y.AsU64())
	return ConstOperand(typ, mask(typ, uint64(r)))
}

func addFloat(a, b float64) float64 { return a + b }
func subFloat(a, b float64) float64 { return a - b }
func mulFloat(a, b float64) float64 { return a * b }
func divFloat(a, b float64) float64 { return a / b }
func sqrtFloat(a float64) float64   { return math.Sqrt(a) }

func foldArith(typ Type, x, y Operand, intOp func(a, b uint64) uint64, floatOp func(a, b float64) float64) Operand {
	if typ.IsFloatType() {
		return foldFloatBin(typ, x, y, floatOp)
	}
	return ConstOperand(typ, mask(typ, intOp(x.AsU64(), y.AsU64())))
}

func foldIntOnly(typ Type, x, y Operand, intOp func(a, b uint64) uint64) Operand {
	return ConstOperand(typ, mask(typ, intOp(x.AsU64(), y.AsU64())))
}

func foldFloatBin(typ Type, x, y Operand, op func(a, b float64) float64) Operand {
	if typ == Float32 {
		return ConstF32(float32(op(float64(x.AsF32()), float64(y.AsF32()))))
	}
	return ConstF64(op(x.AsF64(), y.AsF64()))
}

func foldUnaryFloat(typ Type, x Operand, op func(a float64) float64) Operand {
	if typ == Float32 {
		return ConstF32(float32(op(float64(x.AsF32()))))
	}
	return ConstF64(op(x.AsF64()))
}

func foldCastFloatInt(outType Type, x Operand) Operand {
	var f float64
	if x.Type() == Float32 {
		f = float64(x.AsF32())
	} else {
		f = x.AsF64()
	}
	return ConstOperand(outType, mask(outType, uint64(int64(f))))
}

func foldCastIntFloat(outType Type, x Operand) Operand {
	v := signExtendFrom(x.Type(), x.AsU64())
	if outType == Float32 {
		return ConstF32(float32(v))
	}
	return ConstF64(float64(v))
}

func foldResizeFloat(outType Type, x Operand) Operand {
	if outType == Float32 {
		return ConstF32(float32(x.AsF64()))
	}
	return ConstF64(float64(x.AsF32()))
}

func foldCompare(x, y Operand, signedOp func(a, b int64) bool, unsignedOp func(a, b uint64) bool, floatOp func(a, b float64) bool) Operand {
	switch {
	case x.Type().IsFloatType():
		var a, b float64
		if x.Type() == Float32 {
			a, b = float64(x.AsF32()), float64(y.AsF32())
		} else {
			a, b = x.AsF64(), y.AsF64()
		}
		if math.IsNaN(a) || math.IsNaN(b) {
			return ConstBool(false)
		}
		return ConstBool(floatOp(a, b))
	default:
		return ConstBool(signedOp(signExtendFrom(x.Type(), x.AsU64()), signExtendFrom(y.Type(), y.AsU64())))
	}
}
