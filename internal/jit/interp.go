package jit

import (
	"fmt"
	"math"

	"github.com/retrojit/dbtjit/internal/backend/bytecode"
	"github.com/retrojit/dbtjit/internal/guest"
	"github.com/retrojit/dbtjit/internal/ir"
)

// interpretEU directly walks eu's instructions, the "interpreter" leg of
// spec §4.7's execution state machine (distinct from the bytecode back-end,
// which is itself an "interpreted" Routine but operates on an already
// compiled-and-allocated byte stream). This is the slow path used before a
// block's first compile completes and whenever a guard miss forces a
// same-call fallback (spec §4.7 step 4).
//
// It shares the bytecode back-end's host-call token registry (Invoke0/1/2)
// rather than keeping a second one: a front-end that registers a host
// function once gets both a bytecode-compiled and a directly-interpreted
// block able to call it, since OpCall's target is the same uint64 token in
// either representation (see backend/bytecode's Register0/1/2).
// Interpret runs eu directly against g, the same evaluator BasicBlock.Execute
// falls back to, exported for callers (the debug CLI) that want to run an
// ExecutionUnit without going through the cache/BasicBlock machinery.
func Interpret(eu *ir.ExecutionUnit, g guest.Guest) uint64 { return interpretEU(eu, g) }

func interpretEU(eu *ir.ExecutionUnit, g guest.Guest) uint64 {
	regs := make([]uint64, eu.RegisterCount())
	var result uint64
	eu.Instructions().Iterate(func(_ ir.InstrID, in *ir.Instruction) bool {
		v, exit, code := evalInstr(in, regs, g)
		if in.HasResult() {
			regs[in.Result()] = v
		}
		if exit {
			result = code
			return false
		}
		return true
	})
	return result
}

func operandValue(o ir.Operand, regs []uint64) uint64 {
	if o.IsConst() {
		return o.Bits()
	}
	return regs[o.Reg()]
}

func evalInstr(in *ir.Instruction, regs []uint64, g guest.Guest) (value uint64, exit bool, exitCode uint64) {
	srcs := in.Sources()
	arg := func(i int) uint64 { return operandValue(srcs[i], regs) }

	switch in.Opcode() {
	case ir.OpAdd:
		return arg(0) + arg(1), false, 0
	case ir.OpSubtract:
		return arg(0) - arg(1), false, 0
	case ir.OpMultiply, ir.OpMultiplyU:
		return arg(0) * arg(1), false, 0
	case ir.OpDivide:
		return uint64(int64(arg(0)) / int64(arg(1))), false, 0
	case ir.OpDivideU:
		return arg(0) / arg(1), false, 0
	case ir.OpModulus:
		return uint64(int64(arg(0)) % int64(arg(1))), false, 0
	case ir.OpSquareRoot:
		return math.Float64bits(math.Sqrt(math.Float64frombits(arg(0)))), false, 0
	case ir.OpAnd:
		return arg(0) & arg(1), false, 0
	case ir.OpOr:
		return arg(0) | arg(1), false, 0
	case ir.OpExclusiveOr:
		return arg(0) ^ arg(1), false, 0
	case ir.OpNot:
		return ^arg(0), false, 0
	case ir.OpRotateLeft:
		w := uint(in.Type().Bits())
		return rotl(arg(0), uint(arg(1)), w), false, 0
	case ir.OpRotateRight:
		w := uint(in.Type().Bits())
		return rotr(arg(0), uint(arg(1)), w), false, 0
	case ir.OpLogicalShiftLeft:
		return arg(0) << (arg(1) % uint64(in.Type().Bits())), false, 0
	case ir.OpLogicalShiftRight:
		return arg(0) >> (arg(1) % uint64(in.Type().Bits())), false, 0
	case ir.OpArithmeticShiftRight:
		return uint64(int64(arg(0)) >> (arg(1) % uint64(in.Type().Bits()))), false, 0
	case ir.OpBitSetClear:
		v, c, pos := arg(0), arg(1), arg(2)
		if c != 0 {
			return v | (1 << pos), false, 0
		}
		return v &^ (1 << pos), false, 0
	case ir.OpExtend16, ir.OpExtend32, ir.OpExtend64, ir.OpBitCast, ir.OpResizeFloat:
		return arg(0), false, 0
	case ir.OpCastFloatInt:
		return uint64(int64(math.Float64frombits(arg(0)))), false, 0
	case ir.OpCastIntFloat:
		return math.Float64bits(float64(int64(arg(0)))), false, 0
	case ir.OpTest:
		return boolBit(arg(0) != 0), false, 0
	case ir.OpCompareEq:
		return boolBit(arg(0) == arg(1)), false, 0
	case ir.OpCompareLt:
		return boolBit(int64(arg(0)) < int64(arg(1))), false, 0
	case ir.OpCompareLte:
		return boolBit(int64(arg(0)) <= int64(arg(1))), false, 0
	case ir.OpCompareUlt:
		return boolBit(arg(0) < arg(1)), false, 0
	case ir.OpCompareUlte:
		return boolBit(arg(0) <= arg(1)), false, 0
	case ir.OpSelect:
		if arg(0) != 0 {
			return arg(1), false, 0
		}
		return arg(2), false, 0
	case ir.OpBranch:
		return 0, false, 0 // label-only; every block is effectively single-exit (see internal/rtl)
	case ir.OpIfBranch:
		return 0, false, 0
	case ir.OpExit:
		if arg(0) != 0 {
			return 0, true, arg(1)
		}
		return 0, false, 0
	case ir.OpCall:
		return evalCall(srcs, g), false, 0
	case ir.OpReadGuest:
		idx := uint32(srcs[0].Bits())
		return g.RegisterRead(idx, in.Type().Bits()/8), false, 0
	case ir.OpWriteGuest:
		idx := uint32(srcs[0].Bits())
		g.RegisterWrite(idx, in.Type().Bits()/8, arg(1))
		return 0, false, 0
	case ir.OpLoad:
		return g.Load(uint32(arg(0)), in.Type().Bits()/8), false, 0
	case ir.OpStore:
		g.Store(uint32(arg(0)), in.Type().Bits()/8, arg(1))
		return 0, false, 0
	case ir.OpNone:
		return 0, false, 0
	default:
		panic(fmt.Sprintf("jit: interpretEU: unhandled opcode %s", in.Opcode()))
	}
}

// evalCall dispatches OpCall by source count: srcs[0] is always the target
// token, srcs[1..] are up to two Value arguments (spec §4.1's call
// variants).
func evalCall(srcs []ir.Operand, g guest.Guest) uint64 {
	target := srcs[0].Bits()
	switch len(srcs) {
	case 1:
		return bytecode.Invoke0(target, g)
	case 2:
		return bytecode.Invoke1(target, g, srcs[1].Bits())
	case 3:
		return bytecode.Invoke2(target, g, srcs[1].Bits(), srcs[2].Bits())
	default:
		panic("jit: interpretEU: OpCall with unexpected source count")
	}
}

func rotl(v uint64, n, w uint) uint64 {
	n %= w
	mask := uint64(1)<<w - 1
	v &= mask
	return ((v << n) | (v >> (w - n))) & mask
}

func rotr(v uint64, n, w uint) uint64 {
	n %= w
	mask := uint64(1)<<w - 1
	v &= mask
	return ((v >> n) | (v << (w - n))) & mask
}

func boolBit(b bool) uint64 {
	if b {
		return 1
	}
	return 0
}
