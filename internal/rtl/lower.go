package rtl

import "github.com/retrojit/dbtjit/internal/ir"

// lowerState carries the IR->RTL mapping and constant-materialization cache
// while Lower walks one ExecutionUnit.
type lowerState struct {
	prog     *Program
	blk      *Block
	regMap   []Reg // ir.Reg -> rtl.Reg, InvalidReg until defined
	constMap map[constKey]Reg
}

type constKey struct {
	typ  ir.Type
	bits uint64
}

// Lower scans eu in order and produces an equivalent single-block RTL
// Program: one RTL register per IR result, inline constants materialized
// via OpConstant, and each typed IR opcode split into its size/signedness-
// specific RTL form (spec §4.4).
func Lower(eu *ir.ExecutionUnit) *Program {
	prog := &Program{Blocks: []Block{{}}}
	st := &lowerState{
		prog:     prog,
		blk:      &prog.Blocks[0],
		regMap:   make([]Reg, eu.RegisterCount()),
		constMap: make(map[constKey]Reg),
	}
	for i := range st.regMap {
		st.regMap[i] = InvalidReg
	}

	eu.Instructions().Iterate(func(_ ir.InstrID, in *ir.Instruction) bool {
		st.lowerOne(in)
		return true
	})
	return prog
}

func (st *lowerState) emit(in Instruction) Reg {
	st.blk.Instrs = append(st.blk.Instrs, in)
	return in.Result
}

// operand resolves an ir.Operand to an RTL register, materializing a
// Constant instruction for inline constants (cached per (type, bits) so a
// repeated literal isn't re-materialized).
func (st *lowerState) operand(o ir.Operand) Reg {
	if o.IsReg() {
		r := st.regMap[o.Reg()]
		if !r.Valid() {
			panic("rtl: lower: use before def for " + o.String())
		}
		return r
	}
	key := constKey{o.Type(), o.Bits()}
	if r, ok := st.constMap[key]; ok {
		return r
	}
	r := st.prog.newReg(o.Type())
	st.emit(Instruction{Op: OpConstant, Typ: o.Type(), Result: r, Imm: o.Bits(), HasImm: true})
	st.constMap[key] = r
	return r
}

func (st *lowerState) def(irReg ir.Reg, typ ir.Type) Reg {
	r := st.prog.newReg(typ)
	st.regMap[irReg] = r
	return r
}

func (st *lowerState) lowerOne(in *ir.Instruction) {
	srcs := in.Sources()
	switch in.Opcode() {
	case ir.OpAdd:
		st.binary(OpAdd, in)
	case ir.OpSubtract:
		st.binary(OpSub, in)
	case ir.OpMultiply:
		st.binary(OpMul, in)
	case ir.OpMultiplyU:
		st.binary(OpMulU, in)
	case ir.OpDivide:
		st.binary(OpDiv, in)
	case ir.OpDivideU:
		st.binary(OpDivU, in)
	case ir.OpModulus:
		st.binary(OpMod, in)
	case ir.OpSquareRoot:
		st.unary(OpSqrt, in)
	case ir.OpAnd:
		st.binary(OpAnd, in)
	case ir.OpOr:
		st.binary(OpOr, in)
	case ir.OpExclusiveOr:
		if in.Type() == ir.Bool {
			st.binary(OpXorBool, in)
		} else {
			st.binary(OpXor, in)
		}
	case ir.OpNot:
		st.unary(OpNot, in)
	case ir.OpRotateLeft:
		st.binary(OpRotl, in)
	case ir.OpRotateRight:
		st.binary(OpRotr, in)
	case ir.OpLogicalShiftLeft:
		st.binary(OpLsl, in)
	case ir.OpLogicalShiftRight:
		st.binary(OpLsr, in)
	case ir.OpArithmeticShiftRight:
		st.binary(OpAsr, in)
	case ir.OpBitSetClear:
		r := st.def(in.Result(), in.Type())
		st.emit(Instruction{Op: OpBsc, Typ: in.Type(), Result: r, NSrcs: 3,
			Srcs: [3]Reg{st.operand(srcs[0]), st.operand(srcs[1]), st.operand(srcs[2])}})
	case ir.OpExtend16, ir.OpExtend32, ir.OpExtend64:
		st.unary(OpSignExtend, in)
	case ir.OpBitCast:
		st.unary(OpBitCast, in)
	case ir.OpCastFloatInt:
		st.unary(OpCastFloatInt, in)
	case ir.OpCastIntFloat:
		st.unary(OpCastIntFloat, in)
	case ir.OpResizeFloat:
		st.unary(OpResizeFloat, in)
	case ir.OpTest:
		st.unary(OpTest, in)
	case ir.OpCompareEq:
		st.compare(OpCompareEq, in)
	case ir.OpCompareLt:
		st.compare(OpCompareLt, in)
	case ir.OpCompareLte:
		st.compare(OpCompareLte, in)
	case ir.OpCompareUlt:
		st.compare(OpCompareUlt, in)
	case ir.OpCompareUlte:
		st.compare(OpCompareUlte, in)
	case ir.OpSelect:
		r := st.def(in.Result(), in.Type())
		st.emit(Instruction{Op: OpSelect, Typ: in.Type(), Result: r, NSrcs: 3,
			Srcs: [3]Reg{st.operand(srcs[0]), st.operand(srcs[1]), st.operand(srcs[2])}})
	case ir.OpBranch:
		// Unconditional jump to a label lowers to an unconditional Exit
		// carrying the label id as the exit code (see DESIGN.md, labels).
		code := st.operand(srcs[0])
		st.emit(Instruction{Op: OpExit, Typ: ir.Integer64, Result: InvalidReg, NSrcs: 1, Srcs: [3]Reg{code}})
	case ir.OpIfBranch:
		decision := st.operand(srcs[0])
		code := st.operand(srcs[1])
		st.emit(Instruction{Op: OpExitIf, Typ: ir.Integer64, Result: InvalidReg, NSrcs: 2, Srcs: [3]Reg{decision, code}})
	case ir.OpExit:
		decision, value := srcs[0], srcs[1]
		if decision.IsConst() {
			if decision.AsBool() {
				st.emit(Instruction{Op: OpExit, Typ: ir.Integer64, Result: InvalidReg, NSrcs: 1, Srcs: [3]Reg{st.operand(value)}})
			}
			return
		}
		st.emit(Instruction{Op: OpExitIf, Typ: ir.Integer64, Result: InvalidReg, NSrcs: 2,
			Srcs: [3]Reg{st.operand(decision), st.operand(value)}})
	case ir.OpCall:
		st.lowerCall(in)
	case ir.OpReadGuest:
		r := st.def(in.Result(), in.Type())
		st.emit(Instruction{Op: OpReadGuest, Typ: in.Type(), Result: r, Imm: srcs[0].AsU64(), HasImm: true})
	case ir.OpWriteGuest:
		st.emit(Instruction{Op: OpWriteGuest, Typ: in.Type(), Result: InvalidReg, NSrcs: 1,
			Srcs: [3]Reg{st.operand(srcs[1])}, Imm: srcs[0].AsU64(), HasImm: true})
	case ir.OpLoad:
		r := st.def(in.Result(), in.Type())
		st.emit(Instruction{Op: OpLoad, Typ: in.Type(), Result: r, NSrcs: 1, Srcs: [3]Reg{st.operand(srcs[0])}})
	case ir.OpStore:
		st.emit(Instruction{Op: OpStore, Typ: in.Type(), Result: InvalidReg, NSrcs: 2,
			Srcs: [3]Reg{st.operand(srcs[0]), st.operand(srcs[1])}})
	default:
		panic("rtl: lower: unhandled ir opcode " + in.Opcode().String())
	}
}

func (st *lowerState) binary(op Op, in *ir.Instruction) {
	srcs := in.Sources()
	r := st.def(in.Result(), in.Type())
	st.emit(Instruction{Op: op, Typ: in.Type(), Result: r, NSrcs: 2,
		Srcs: [3]Reg{st.operand(srcs[0]), st.operand(srcs[1])}})
}

func (st *lowerState) unary(op Op, in *ir.Instruction) {
	srcs := in.Sources()
	r := st.def(in.Result(), in.Type())
	st.emit(Instruction{Op: op, Typ: in.Type(), Result: r, NSrcs: 1, Srcs: [3]Reg{st.operand(srcs[0])}})
}

// compare records the *source* type (for width/signedness) in Typ, while the
// result register itself is declared Bool in regTypes.
func (st *lowerState) compare(op Op, in *ir.Instruction) {
	srcs := in.Sources()
	r := st.def(in.Result(), ir.Bool)
	st.emit(Instruction{Op: op, Typ: srcs[0].Type(), Result: r, NSrcs: 2,
		Srcs: [3]Reg{st.operand(srcs[0]), st.operand(srcs[1])}})
}

func (st *lowerState) lowerCall(in *ir.Instruction) {
	srcs := in.Sources()
	target := srcs[0].AsU64()
	switch len(srcs) {
	case 1:
		if in.HasResult() {
			r := st.def(in.Result(), ir.Integer64)
			st.emit(Instruction{Op: OpHostCall0, Typ: ir.Integer64, Result: r, Imm: target, HasImm: true})
		} else {
			st.emit(Instruction{Op: OpHostVoidCall0, Typ: ir.Integer64, Result: InvalidReg, Imm: target, HasImm: true})
		}
	case 2:
		r := st.def(in.Result(), ir.Integer64)
		st.emit(Instruction{Op: OpHostCall1, Typ: ir.Integer64, Result: r, NSrcs: 1,
			Srcs: [3]Reg{st.operand(srcs[1])}, Imm: target, HasImm: true})
	case 3:
		r := st.def(in.Result(), ir.Integer64)
		st.emit(Instruction{Op: OpHostCall2, Typ: ir.Integer64, Result: r, NSrcs: 2,
			Srcs: [3]Reg{st.operand(srcs[1]), st.operand(srcs[2])}, Imm: target, HasImm: true})
	default:
		panic("rtl: lower: call with unsupported arity")
	}
}
