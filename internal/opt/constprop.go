// Package opt implements the two optimizer passes that run on an
// ir.ExecutionUnit between assembly and RTL lowering: ConstantPropagation
// and DeadCodeElimination.
package opt

import "github.com/retrojit/dbtjit/internal/ir"

var calc ir.Calculator

// foldable is the set of opcodes Calculator.Fold understands; everything
// else (control, memory, guest-state, call) is left untouched by constant
// propagation's folding step, though its sources are still substituted.
func foldable(op ir.Opcode) bool {
	switch op {
	case ir.OpAdd, ir.OpSubtract, ir.OpMultiply, ir.OpMultiplyU, ir.OpDivide, ir.OpDivideU,
		ir.OpModulus, ir.OpSquareRoot, ir.OpAnd, ir.OpOr, ir.OpExclusiveOr, ir.OpNot,
		ir.OpRotateLeft, ir.OpRotateRight, ir.OpLogicalShiftLeft, ir.OpLogicalShiftRight,
		ir.OpArithmeticShiftRight, ir.OpBitSetClear, ir.OpExtend16, ir.OpExtend32, ir.OpExtend64,
		ir.OpBitCast, ir.OpCastFloatInt, ir.OpCastIntFloat, ir.OpResizeFloat, ir.OpTest,
		ir.OpCompareEq, ir.OpCompareLt, ir.OpCompareLte, ir.OpCompareUlt, ir.OpCompareUlte:
		return true
	default:
		return false
	}
}

// ConstantPropagation performs the two-pass rewrite described in spec §4.3:
// pass 1 computes, for each defined register, either its folded constant
// value or a forwarding operand from an algebraic identity; pass 2 emits a
// new unit substituting sources and skipping instructions whose result was
// resolved in pass 1.
func ConstantPropagation(eu *ir.ExecutionUnit) *ir.ExecutionUnit {
	n := eu.RegisterCount()
	outputs := make([]ir.Operand, n) // zero value is the invalid Operand

	instrs := eu.Instructions()
	substituted := make([]ir.Operand, 0, 3)

	instrs.Iterate(func(_ ir.InstrID, in *ir.Instruction) bool {
		substituted = substituted[:0]
		allConst := true
		for _, s := range in.Sources() {
			s = substitute(outputs, s)
			substituted = append(substituted, s)
			if !s.IsConst() {
				allConst = false
			}
		}

		if !in.HasResult() {
			return true
		}

		if simplified, ok := simplify(in.Opcode(), in.Type(), substituted); ok {
			outputs[in.Result()] = simplified
			return true
		}

		if allConst && foldable(in.Opcode()) {
			outputs[in.Result()] = calc.Fold(in.Opcode(), in.Type(), substituted)
		}
		return true
	})

	out := ir.NewExecutionUnitLike(eu)
	instrs.Iterate(func(_ ir.InstrID, in *ir.Instruction) bool {
		if in.HasResult() && !outputs[in.Result()].Invalid() {
			return true // folded/forwarded away
		}
		srcs := make([]ir.Operand, in.SourceCount())
		for i, s := range in.Sources() {
			srcs[i] = substitute(outputs, s)
		}
		out.Emit(ir.NewRawInstruction(in.Opcode(), in.Type(), in.Result(), srcs...))
		return true
	})
	return out
}

func substitute(outputs []ir.Operand, op ir.Operand) ir.Operand {
	if op.IsReg() {
		if r := op.Reg(); int(r) < len(outputs) {
			if rep := outputs[r]; !rep.Invalid() {
				return rep
			}
		}
	}
	return op
}

// simplify implements the algebraic simplifications that apply even when
// not every source is constant. The returned Operand may itself be a
// register (a forwarded copy) rather than a constant.
func simplify(op ir.Opcode, typ ir.Type, srcs []ir.Operand) (ir.Operand, bool) {
	switch op {
	case ir.OpAnd:
		if isIntZero(srcs[1]) || isIntZero(srcs[0]) {
			return ir.ConstOperand(typ, 0), true
		}
	case ir.OpOr:
		if isIntZero(srcs[1]) {
			return srcs[0], true
		}
		if isIntZero(srcs[0]) {
			return srcs[1], true
		}
	case ir.OpExclusiveOr:
		if isIntZero(srcs[1]) {
			return srcs[0], true
		}
		if isIntZero(srcs[0]) {
			return srcs[1], true
		}
		if srcs[0].Equal(srcs[1]) {
			return ir.ConstOperand(typ, 0), true
		}
	case ir.OpAdd:
		if typ.IsIntegerType() {
			if isIntZero(srcs[1]) {
				return srcs[0], true
			}
			if isIntZero(srcs[0]) {
				return srcs[1], true
			}
		}
	case ir.OpSubtract:
		if typ.IsIntegerType() && isIntZero(srcs[1]) {
			return srcs[0], true
		}
	case ir.OpMultiply, ir.OpMultiplyU:
		if typ.IsIntegerType() && (isIntZero(srcs[0]) || isIntZero(srcs[1])) {
			return ir.ConstOperand(typ, 0), true
		}
	case ir.OpDivide, ir.OpDivideU:
		if isIntOne(srcs[1]) {
			return srcs[0], true
		}
	}
	return ir.Operand{}, false
}

func isIntZero(o ir.Operand) bool {
	return o.IsConst() && o.Type().IsIntegerType() && o.AsU64() == 0
}

func isIntOne(o ir.Operand) bool {
	return o.IsConst() && o.Type().IsIntegerType() && o.AsU64() == 1
}
