package ir

// Opcode is the IR instruction opcode. It intentionally stays guest-agnostic:
// front-ends only ever reach these through the Assembler.
type Opcode uint32

const (
	OpNone Opcode = iota

	// Arithmetic.
	OpAdd
	OpSubtract
	OpMultiply   // signed
	OpMultiplyU  // unsigned
	OpDivide     // signed
	OpDivideU    // unsigned
	OpModulus
	OpSquareRoot

	// Bitwise.
	OpAnd
	OpOr
	OpExclusiveOr
	OpNot
	OpRotateLeft
	OpRotateRight
	OpLogicalShiftLeft
	OpLogicalShiftRight
	OpArithmeticShiftRight
	OpBitSetClear

	// Conversions.
	OpExtend16
	OpExtend32
	OpExtend64
	OpBitCast
	OpCastFloatInt
	OpCastIntFloat
	OpResizeFloat

	// Compares. gt/gte/ugt/ugte never appear in the IR: the Assembler lowers
	// them into these with swapped operands.
	OpTest
	OpCompareEq
	OpCompareLt
	OpCompareLte
	OpCompareUlt
	OpCompareUlte

	// Control.
	OpBranch
	OpIfBranch
	OpSelect
	OpExit
	OpCall

	// Guest state.
	OpReadGuest
	OpWriteGuest
	OpLoad
	OpStore
)

var opcodeNames = map[Opcode]string{
	OpNone:                 "none",
	OpAdd:                  "add",
	OpSubtract:             "sub",
	OpMultiply:             "mul",
	OpMultiplyU:            "mul_u",
	OpDivide:               "div",
	OpDivideU:              "div_u",
	OpModulus:              "mod",
	OpSquareRoot:           "sqrt",
	OpAnd:                  "and",
	OpOr:                   "or",
	OpExclusiveOr:          "xor",
	OpNot:                  "not",
	OpRotateLeft:           "rotl",
	OpRotateRight:          "rotr",
	OpLogicalShiftLeft:     "lsl",
	OpLogicalShiftRight:    "lsr",
	OpArithmeticShiftRight: "asr",
	OpBitSetClear:          "bsc",
	OpExtend16:             "extend16",
	OpExtend32:             "extend32",
	OpExtend64:             "extend64",
	OpBitCast:              "bitcast",
	OpCastFloatInt:         "cast_fi",
	OpCastIntFloat:         "cast_if",
	OpResizeFloat:          "resizef",
	OpTest:                 "test",
	OpCompareEq:            "cmp_eq",
	OpCompareLt:            "cmp_lt",
	OpCompareLte:           "cmp_lte",
	OpCompareUlt:           "cmp_ult",
	OpCompareUlte:          "cmp_ulte",
	OpBranch:               "br",
	OpIfBranch:             "ifbr",
	OpSelect:               "select",
	OpExit:                 "exit",
	OpCall:                 "call",
	OpReadGuest:            "readgr",
	OpWriteGuest:           "writegr",
	OpLoad:                 "load",
	OpStore:                "store",
}

// String implements fmt.Stringer.
func (o Opcode) String() string {
	if n, ok := opcodeNames[o]; ok {
		return n
	}
	return "unknown-opcode"
}

// HasSideEffect reports whether this opcode belongs to the side-effect set
// (Call, WriteGuest, Store, Exit) that DeadCodeElimination must never drop
// and whose relative order the optimizer must preserve.
func (o Opcode) HasSideEffect() bool {
	switch o {
	case OpCall, OpWriteGuest, OpStore, OpExit:
		return true
	default:
		return false
	}
}

// IsCompare reports whether the opcode is one of the Bool-producing compares.
func (o Opcode) IsCompare() bool {
	switch o {
	case OpTest, OpCompareEq, OpCompareLt, OpCompareLte, OpCompareUlt, OpCompareUlte:
		return true
	default:
		return false
	}
}
