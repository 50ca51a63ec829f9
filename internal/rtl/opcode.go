// Package rtl implements the lowered, linear three-address form that sits
// between the IR and the back-end emitters: single-result, up-to-three-
// source instructions with an explicit immediate slot, produced by Lower
// and consumed by the linear-scan allocator and the three back-ends.
package rtl

import "github.com/retrojit/dbtjit/internal/ir"

// Op is an RTL operation kind. Size and signedness, where the operation
// cares about either, are carried by the paired Type (see Instruction.Typ)
// rather than by a combinatorial explosion of opcode constants; String()
// renders the spec's illustrative "AddInteger"/"CompareLtU64"-style combined
// names for disassembly.
type Op uint32

const (
	OpNone Op = iota

	OpConstant // result = Imm, sized/typed by Typ

	OpAdd
	OpSub
	OpMul
	OpMulU
	OpDiv
	OpDivU
	OpMod
	OpSqrt

	OpAnd
	OpOr
	OpXor
	OpXorBool // dedicated Bool xor (spec open question: not left "todo")
	OpNot
	OpRotl
	OpRotr
	OpLsl
	OpLsr
	OpAsr
	OpBsc // value, control, position -> result

	OpSignExtend // Typ is the destination width; Srcs[0] is the narrower source
	OpBitCast
	OpCastFloatInt
	OpCastIntFloat
	OpResizeFloat

	OpCompareEq
	OpCompareLt
	OpCompareLte
	OpCompareUlt
	OpCompareUlte
	OpTest

	OpMove
	OpSelect

	// Exit terminates the block: if Srcs[0] (as Bool) is true (OpExitIf) or
	// unconditionally (OpExit), the routine returns Imm/Srcs[1] to the host.
	// Guest branch targets (ir.Branch/IfBranch) lower to these, carrying the
	// target label id as Imm (see DESIGN.md, labels).
	OpExitIf
	OpExit

	OpHostVoidCall0
	OpHostCall0
	OpHostCall1
	OpHostCall2

	OpReadGuest
	OpWriteGuest
	OpLoad
	OpStore
)

var opNames = map[Op]string{
	OpNone: "none", OpConstant: "Constant",
	OpAdd: "Add", OpSub: "Sub", OpMul: "Mul", OpMulU: "MulU", OpDiv: "Div", OpDivU: "DivU",
	OpMod: "Mod", OpSqrt: "Sqrt",
	OpAnd: "And", OpOr: "Or", OpXor: "Xor", OpXorBool: "XorBool", OpNot: "Not",
	OpRotl: "Rotl", OpRotr: "Rotr", OpLsl: "Lsl", OpLsr: "Lsr", OpAsr: "Asr", OpBsc: "Bsc",
	OpSignExtend: "SignExtend", OpBitCast: "BitCast", OpCastFloatInt: "CastFloatInt",
	OpCastIntFloat: "CastIntFloat", OpResizeFloat: "ResizeFloat",
	OpCompareEq: "CompareEq", OpCompareLt: "CompareLt", OpCompareLte: "CompareLte",
	OpCompareUlt: "CompareUlt", OpCompareUlte: "CompareUlte", OpTest: "Test",
	OpMove: "Move", OpSelect: "Select",
	OpExitIf: "ExitIf", OpExit: "Exit",
	OpHostVoidCall0: "HostVoidCall0", OpHostCall0: "HostCall0", OpHostCall1: "HostCall1", OpHostCall2: "HostCall2",
	OpReadGuest: "ReadGuest", OpWriteGuest: "WriteGuest", OpLoad: "Load", OpStore: "Store",
}

// String renders the opcode combined with its type suffix, e.g. "AddI32",
// "CompareLtI64", "MulUI16" — the spec's illustrative naming scheme.
func (o Op) String() string {
	if n, ok := opNames[o]; ok {
		return n
	}
	return "UnknownOp"
}

// typeSuffix renders the Type-derived part of a combined RTL mnemonic.
func typeSuffix(t ir.Type) string {
	switch t {
	case ir.Integer8:
		return "I8"
	case ir.Integer16:
		return "I16"
	case ir.Integer32:
		return "I32"
	case ir.Integer64:
		return "I64"
	case ir.Float32:
		return "F32"
	case ir.Float64:
		return "F64"
	case ir.Bool:
		return "Bool"
	default:
		return ""
	}
}

// IsSideEffecting mirrors ir.Opcode.HasSideEffect at the RTL level: these
// are never eliminated and their relative order is preserved.
func (o Op) IsSideEffecting() bool {
	switch o {
	case OpHostVoidCall0, OpHostCall0, OpHostCall1, OpHostCall2, OpWriteGuest, OpStore, OpExit, OpExitIf:
		return true
	default:
		return false
	}
}

