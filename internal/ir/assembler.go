package ir

import "fmt"

// HostCallArity distinguishes the three call signatures the spec allows:
// (Guest*) -> void, (Guest*) -> Value, (Guest*, Value...) -> Value with up
// to two Value arguments. Back-ends lower each arity to a distinct RTL
// opcode (HostVoidCall0/HostCall0/HostCall1/HostCall2).
type HostCallArity uint8

const (
	CallVoid0 HostCallArity = iota // (Guest*) -> void
	CallArity0                     // (Guest*) -> Value
	CallArity1                     // (Guest*, Value) -> Value
	CallArity2                     // (Guest*, Value, Value) -> Value
)

// Assembler is the builder surface every guest front-end uses to construct
// an ExecutionUnit. It holds exactly one in-progress unit and is stateless
// with respect to any particular guest CPU: front-ends call its methods in
// program order and receive back SSA Operands referencing the results.
//
// Assembler violations (type mismatches, invalid operand kinds) are
// programmer errors: every validating method here panics rather than
// returning an error, matching the spec's "must assert; no runtime error
// surface" contract.
type Assembler struct {
	eu *ExecutionUnit
}

// NewAssembler creates an Assembler building into a fresh ExecutionUnit.
// registerOffset reserves low register indices for the front-end's own use.
func NewAssembler(registerOffset uint32) *Assembler {
	return &Assembler{eu: NewExecutionUnit(registerOffset)}
}

// Unit returns the ExecutionUnit built so far. Callers typically call this
// once decoding of a block completes.
func (a *Assembler) Unit() *ExecutionUnit { return a.eu }

func (a *Assembler) emit(in Instruction) Operand {
	id := a.eu.instrs.append(in)
	out := a.eu.instrs.At(id)
	if out.HasResult() {
		return RegOperand(out.typ, out.result)
	}
	return Operand{}
}

func (a *Assembler) newResult(typ Type) Reg {
	return a.eu.allocReg()
}

func requireSameType(op string, a, b Operand) {
	if a.Type() != b.Type() {
		panic(fmt.Sprintf("ir: %s: type mismatch %s vs %s", op, a.Type(), b.Type()))
	}
}

func requireNumeric(op string, operands ...Operand) {
	for _, o := range operands {
		if !o.Type().IsNumericType() {
			panic(fmt.Sprintf("ir: %s: operand type %s is not numeric", op, o.Type()))
		}
	}
}

func requireInteger(op string, operands ...Operand) {
	for _, o := range operands {
		if !o.Type().IsIntegerType() {
			panic(fmt.Sprintf("ir: %s: operand type %s is not an integer type", op, o.Type()))
		}
	}
}

func requireFloat(op string, operands ...Operand) {
	for _, o := range operands {
		if !o.Type().IsFloatType() {
			panic(fmt.Sprintf("ir: %s: operand type %s is not a float type", op, o.Type()))
		}
	}
}

// binArith handles the opcodes whose result type equals the (shared) operand
// type: Add, Subtract, Multiply, Multiply_u, Divide, Divide_u, Modulus, And,
// Or, ExclusiveOr, RotateLeft/Right, shifts, SquareRoot-style unary too via a
// zero second operand caller.
func (a *Assembler) binArith(op Opcode, x, y Operand) Operand {
	requireSameType(op.String(), x, y)
	requireNumeric(op.String(), x, y)
	r := a.newResult(x.Type())
	in := Instruction{opcode: op, typ: x.Type(), result: r, srcCount: 2}
	in.srcs[0], in.srcs[1] = x, y
	return a.emit(in)
}

func (a *Assembler) binInt(op Opcode, x, y Operand) Operand {
	requireSameType(op.String(), x, y)
	requireInteger(op.String(), x, y)
	r := a.newResult(x.Type())
	in := Instruction{opcode: op, typ: x.Type(), result: r, srcCount: 2}
	in.srcs[0], in.srcs[1] = x, y
	return a.emit(in)
}

// Add computes x + y. x and y must share a numeric type.
func (a *Assembler) Add(x, y Operand) Operand { return a.binArith(OpAdd, x, y) }

// Subtract computes x - y.
func (a *Assembler) Subtract(x, y Operand) Operand { return a.binArith(OpSubtract, x, y) }

// Multiply computes signed x * y.
func (a *Assembler) Multiply(x, y Operand) Operand { return a.binArith(OpMultiply, x, y) }

// MultiplyU computes unsigned x * y.
func (a *Assembler) MultiplyU(x, y Operand) Operand { return a.binArith(OpMultiplyU, x, y) }

// Divide computes signed x / y.
func (a *Assembler) Divide(x, y Operand) Operand { return a.binArith(OpDivide, x, y) }

// DivideU computes unsigned x / y.
func (a *Assembler) DivideU(x, y Operand) Operand { return a.binArith(OpDivideU, x, y) }

// Modulus computes signed x % y.
func (a *Assembler) Modulus(x, y Operand) Operand { return a.binInt(OpModulus, x, y) }

// SquareRoot computes sqrt(x). x must be a float type.
func (a *Assembler) SquareRoot(x Operand) Operand {
	requireFloat("sqrt", x)
	r := a.newResult(x.Type())
	in := Instruction{opcode: OpSquareRoot, typ: x.Type(), result: r, srcCount: 1}
	in.srcs[0] = x
	return a.emit(in)
}

// And computes x & y.
func (a *Assembler) And(x, y Operand) Operand { return a.binInt(OpAnd, x, y) }

// Or computes x | y.
func (a *Assembler) Or(x, y Operand) Operand { return a.binInt(OpOr, x, y) }

// ExclusiveOr computes x ^ y. Unlike And/Or, ExclusiveOr also accepts Bool
// operands (flag-toggle idioms guests use when flipping a single condition
// bit); the RTL lowering for this case uses a dedicated XorBool opcode
// rather than the integer Xor form (see internal/rtl/lower.go).
func (a *Assembler) ExclusiveOr(x, y Operand) Operand {
	requireSameType(OpExclusiveOr.String(), x, y)
	if x.Type() != Bool {
		requireInteger(OpExclusiveOr.String(), x, y)
	}
	r := a.newResult(x.Type())
	in := Instruction{opcode: OpExclusiveOr, typ: x.Type(), result: r, srcCount: 2}
	in.srcs[0], in.srcs[1] = x, y
	return a.emit(in)
}

// Not computes ^x.
func (a *Assembler) Not(x Operand) Operand {
	requireInteger("not", x)
	r := a.newResult(x.Type())
	in := Instruction{opcode: OpNot, typ: x.Type(), result: r, srcCount: 1}
	in.srcs[0] = x
	return a.emit(in)
}

// RotateLeft rotates x left by amount bits (masked modulo the type width).
func (a *Assembler) RotateLeft(x, amount Operand) Operand {
	return a.shiftLike(OpRotateLeft, x, amount)
}

// RotateRight rotates x right by amount bits.
func (a *Assembler) RotateRight(x, amount Operand) Operand {
	return a.shiftLike(OpRotateRight, x, amount)
}

// LogicalShiftLeft shifts x left, zero-filling.
func (a *Assembler) LogicalShiftLeft(x, amount Operand) Operand {
	return a.shiftLike(OpLogicalShiftLeft, x, amount)
}

// LogicalShiftRight shifts x right, zero-filling.
func (a *Assembler) LogicalShiftRight(x, amount Operand) Operand {
	return a.shiftLike(OpLogicalShiftRight, x, amount)
}

// ArithmeticShiftRight shifts x right, sign-extending.
func (a *Assembler) ArithmeticShiftRight(x, amount Operand) Operand {
	return a.shiftLike(OpArithmeticShiftRight, x, amount)
}

func (a *Assembler) shiftLike(op Opcode, x, amount Operand) Operand {
	requireInteger(op.String(), x, amount)
	r := a.newResult(x.Type())
	in := Instruction{opcode: op, typ: x.Type(), result: r, srcCount: 2}
	in.srcs[0], in.srcs[1] = x, amount
	return a.emit(in)
}

// BitSetClear sets or clears a single bit of value at position, depending on
// control: "bit set or clear at position based on control".
func (a *Assembler) BitSetClear(value, control, position Operand) Operand {
	requireInteger("bsc", value, position)
	if control.Type() != Bool {
		panic("ir: bsc: control operand must be Bool")
	}
	r := a.newResult(value.Type())
	in := Instruction{opcode: OpBitSetClear, typ: value.Type(), result: r, srcCount: 3}
	in.srcs[0], in.srcs[1], in.srcs[2] = value, control, position
	return a.emit(in)
}

// Extend16 sign/zero width-extends x (an Integer8 source) to Integer16.
// signed selects sign- vs zero-extension; the distinction is carried by the
// caller choosing a differently-signed RTL lowering, so at IR level we
// record it via two opcodes is unnecessary: callers needing zero-extension
// should mask instead. Extend* always sign-extends, matching hardware
// sign-extension semantics used by guests (spec §4.2).
func (a *Assembler) Extend16(x Operand) Operand { return a.extend(OpExtend16, Integer16, x) }

// Extend32 sign-extends x to Integer32.
func (a *Assembler) Extend32(x Operand) Operand { return a.extend(OpExtend32, Integer32, x) }

// Extend64 sign-extends x to Integer64.
func (a *Assembler) Extend64(x Operand) Operand { return a.extend(OpExtend64, Integer64, x) }

func (a *Assembler) extend(op Opcode, out Type, x Operand) Operand {
	requireInteger(op.String(), x)
	r := a.newResult(out)
	in := Instruction{opcode: op, typ: out, result: r, srcCount: 1}
	in.srcs[0] = x
	return a.emit(in)
}

// BitCast reinterprets source's bits as outType without conversion. Widths
// must match. A no-op identity short-circuit applies when source is already
// outType.
func (a *Assembler) BitCast(outType Type, source Operand) Operand {
	if source.Type() == outType {
		return source
	}
	if source.Type().Bits() != outType.Bits() {
		panic(fmt.Sprintf("ir: bitcast: width mismatch %s -> %s", source.Type(), outType))
	}
	r := a.newResult(outType)
	in := Instruction{opcode: OpBitCast, typ: outType, result: r, srcCount: 1}
	in.srcs[0] = source
	return a.emit(in)
}

// CastFloatInt converts a float source to an integer of outType (truncating
// toward zero).
func (a *Assembler) CastFloatInt(outType Type, source Operand) Operand {
	requireFloat("cast_fi", source)
	if !outType.IsIntegerType() {
		panic("ir: cast_fi: outType must be an integer type")
	}
	r := a.newResult(outType)
	in := Instruction{opcode: OpCastFloatInt, typ: outType, result: r, srcCount: 1}
	in.srcs[0] = source
	return a.emit(in)
}

// CastIntFloat converts an integer source to a float of outType.
func (a *Assembler) CastIntFloat(outType Type, source Operand) Operand {
	requireInteger("cast_if", source)
	if !outType.IsFloatType() {
		panic("ir: cast_if: outType must be a float type")
	}
	r := a.newResult(outType)
	in := Instruction{opcode: OpCastIntFloat, typ: outType, result: r, srcCount: 1}
	in.srcs[0] = source
	return a.emit(in)
}

// ResizeFloat widens or narrows source between Float32 and Float64.
func (a *Assembler) ResizeFloat(outType Type, source Operand) Operand {
	requireFloat("resizef", source)
	if !outType.IsFloatType() {
		panic("ir: resizef: outType must be a float type")
	}
	r := a.newResult(outType)
	in := Instruction{opcode: OpResizeFloat, typ: outType, result: r, srcCount: 1}
	in.srcs[0] = source
	return a.emit(in)
}

func (a *Assembler) cmp(op Opcode, x, y Operand) Operand {
	requireSameType(op.String(), x, y)
	requireNumeric(op.String(), x, y)
	r := a.newResult(Bool)
	in := Instruction{opcode: op, typ: Bool, result: r, srcCount: 2}
	in.srcs[0], in.srcs[1] = x, y
	return a.emit(in)
}

// Test produces a Bool from a bitwise test of x (non-zero => true).
func (a *Assembler) Test(x Operand) Operand {
	requireInteger("test", x)
	r := a.newResult(Bool)
	in := Instruction{opcode: OpTest, typ: Bool, result: r, srcCount: 1}
	in.srcs[0] = x
	return a.emit(in)
}

// CompareEq computes x == y.
func (a *Assembler) CompareEq(x, y Operand) Operand { return a.cmp(OpCompareEq, x, y) }

// CompareLt computes signed x < y.
func (a *Assembler) CompareLt(x, y Operand) Operand { return a.cmp(OpCompareLt, x, y) }

// CompareLte computes signed x <= y.
func (a *Assembler) CompareLte(x, y Operand) Operand { return a.cmp(OpCompareLte, x, y) }

// CompareUlt computes unsigned x < y.
func (a *Assembler) CompareUlt(x, y Operand) Operand { return a.cmp(OpCompareUlt, x, y) }

// CompareUlte computes unsigned x <= y.
func (a *Assembler) CompareUlte(x, y Operand) Operand { return a.cmp(OpCompareUlte, x, y) }

// CompareGt lowers to CompareLt with swapped operands: the IR contains no
// "gt" opcode.
func (a *Assembler) CompareGt(x, y Operand) Operand { return a.cmp(OpCompareLt, y, x) }

// CompareGte lowers to CompareLte with swapped operands.
func (a *Assembler) CompareGte(x, y Operand) Operand { return a.cmp(OpCompareLte, y, x) }

// CompareUgt lowers to CompareUlt with swapped operands.
func (a *Assembler) CompareUgt(x, y Operand) Operand { return a.cmp(OpCompareUlt, y, x) }

// CompareUgte lowers to CompareUlte with swapped operands.
func (a *Assembler) CompareUgte(x, y Operand) Operand { return a.cmp(OpCompareUlte, y, x) }

// NewLabel allocates a fresh BranchLabel identifier. Labels are simple
// monotonic integers; it is the front-end's responsibility to bind one to a
// position via Bind before emitting a Branch/IfBranch referencing it.
type labelCounter struct{ next uint32 }

var globalLabels labelCounter

// NewLabel returns a fresh BranchLabel operand, unique within the process.
// Front-ends typically keep their own per-unit counter instead; this helper
// exists for simple callers and tests.
func NewLabel() Operand {
	id := globalLabels.next
	globalLabels.next++
	return ConstLabel(id)
}

// Branch emits an unconditional jump to target.
func (a *Assembler) Branch(target Operand) {
	if target.Type() != BranchLabel {
		panic("ir: br: target must be a BranchLabel")
	}
	in := Instruction{opcode: OpBranch, result: InvalidReg, srcCount: 1}
	in.srcs[0] = target
	a.emit(in)
}

// IfBranch emits a conditional jump to target when decision is true,
// fall-through otherwise.
func (a *Assembler) IfBranch(decision, target Operand) {
	if decision.Type() != Bool {
		panic("ir: ifbr: decision must be Bool")
	}
	if target.Type() != BranchLabel {
		panic("ir: ifbr: target must be a BranchLabel")
	}
	in := Instruction{opcode: OpIfBranch, result: InvalidReg, srcCount: 2}
	in.srcs[0], in.srcs[1] = decision, target
	a.emit(in)
}

// Select picks onTrue when decision is true, onFalse otherwise. Both
// operands must share a type, which becomes the result type.
func (a *Assembler) Select(decision, onTrue, onFalse Operand) Operand {
	if decision.Type() != Bool {
		panic("ir: select: decision must be Bool")
	}
	requireSameType("select", onTrue, onFalse)
	r := a.newResult(onTrue.Type())
	in := Instruction{opcode: OpSelect, typ: onTrue.Type(), result: r, srcCount: 3}
	in.srcs[0], in.srcs[1], in.srcs[2] = decision, onTrue, onFalse
	return a.emit(in)
}

// Exit emits the routine's terminator: when decision is true the routine
// returns result (a u64) to the host.
func (a *Assembler) Exit(decision, result Operand) {
	if decision.Type() != Bool {
		panic("ir: exit: decision must be Bool")
	}
	if result.Type() != Integer64 {
		panic("ir: exit: result must be Integer64")
	}
	in := Instruction{opcode: OpExit, result: InvalidReg, srcCount: 2}
	in.srcs[0], in.srcs[1] = decision, result
	a.emit(in)
}

// CallVoid emits a call to a host function of signature (Guest*) -> void.
func (a *Assembler) CallVoid(target uint64) {
	in := Instruction{opcode: OpCall, typ: typeInvalid, result: InvalidReg, srcCount: 1}
	in.srcs[0] = ConstHostAddress(target)
	a.emit(in)
}

// Call emits a call to a host function of signature (Guest*) -> Value,
// returning the Integer64 result.
func (a *Assembler) Call(target uint64) Operand {
	r := a.newResult(Integer64)
	in := Instruction{opcode: OpCall, typ: Integer64, result: r, srcCount: 1}
	in.srcs[0] = ConstHostAddress(target)
	return a.emit(in)
}

// Call1 emits a call to (Guest*, Value) -> Value.
func (a *Assembler) Call1(target uint64, arg0 Operand) Operand {
	r := a.newResult(Integer64)
	in := Instruction{opcode: OpCall, typ: Integer64, result: r, srcCount: 2}
	in.srcs[0], in.srcs[1] = ConstHostAddress(target), arg0
	return a.emit(in)
}

// Call2 emits a call to (Guest*, Value, Value) -> Value.
func (a *Assembler) Call2(target uint64, arg0, arg1 Operand) Operand {
	r := a.newResult(Integer64)
	in := Instruction{opcode: OpCall, typ: Integer64, result: r, srcCount: 3}
	in.srcs[0], in.srcs[1], in.srcs[2] = ConstHostAddress(target), arg0, arg1
	return a.emit(in)
}

// ReadGuest reads a typed guest register. index must be a constant
// Integer16.
func (a *Assembler) ReadGuest(typ Type, index Operand) Operand {
	requireGuestIndex("readgr", index)
	r := a.newResult(typ)
	in := Instruction{opcode: OpReadGuest, typ: typ, result: r, srcCount: 1}
	in.srcs[0] = index
	return a.emit(in)
}

// WriteGuest writes value to a guest register. index must be a constant
// Integer16; value must be numeric.
func (a *Assembler) WriteGuest(index, value Operand) {
	requireGuestIndex("writegr", index)
	requireNumeric("writegr", value)
	in := Instruction{opcode: OpWriteGuest, typ: value.Type(), result: InvalidReg, srcCount: 2}
	in.srcs[0], in.srcs[1] = index, value
	a.emit(in)
}

func requireGuestIndex(op string, index Operand) {
	if index.Type() != Integer16 || !index.IsConst() {
		panic(fmt.Sprintf("ir: %s: index must be a constant Integer16", op))
	}
}

// Load reads bytes sized by typ from guest memory at address, an Integer32
// operand (current guest assumption).
func (a *Assembler) Load(typ Type, address Operand) Operand {
	requireLoadStoreAddress("load", address)
	r := a.newResult(typ)
	in := Instruction{opcode: OpLoad, typ: typ, result: r, srcCount: 1}
	in.srcs[0] = address
	return a.emit(in)
}

// Store writes value to guest memory at address. value's type provides the
// store width.
func (a *Assembler) Store(address, value Operand) {
	requireLoadStoreAddress("store", address)
	requireNumeric("store", value)
	in := Instruction{opcode: OpStore, typ: value.Type(), result: InvalidReg, srcCount: 2}
	in.srcs[0], in.srcs[1] = address, value
	a.emit(in)
}

func requireLoadStoreAddress(op string, address Operand) {
	if address.Type() != Integer32 {
		panic(fmt.Sprintf("ir: %s: address must be Integer32", op))
	}
}

// GprMaybeSwap represents a GPR bank-swap barrier (e.g. SH4's RFD bank
// switch). When decision is a constant, the swap is unconditional and the
// front-end should treat the block as ended here (the caller is responsible
// for stopping decode, per the BasicBlock construction rules); the swap
// itself is modeled as an unconditional void call to swapFn. When decision
// is not constant, the caller must first flush/invalidate any registers
// that could be affected, then this emits a conditional call.
func (a *Assembler) GprMaybeSwap(decision Operand, swapFn uint64) {
	a.maybeSwap(decision, swapFn)
}

// FpuMaybeSwap is FPU-bank's analogue of GprMaybeSwap.
func (a *Assembler) FpuMaybeSwap(decision Operand, swapFn uint64) {
	a.maybeSwap(decision, swapFn)
}

func (a *Assembler) maybeSwap(decision Operand, swapFn uint64) {
	if decision.Type() != Bool {
		panic("ir: bank-swap: decision must be Bool")
	}
	if decision.IsConst() {
		if decision.AsBool() {
			a.CallVoid(swapFn)
		}
		return
	}
	// Non-constant decision: thread it through as the argument of a
	// value-returning call whose result is discarded, letting the host
	// trampoline perform the swap only when the flag is set. Call remains
	// in DeadCodeElimination's side-effect set regardless of result use, so
	// this is never dropped as dead code.
	a.Call1(swapFn, decision)
}
