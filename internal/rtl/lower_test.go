package rtl_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/retrojit/dbtjit/internal/ir"
	"github.com/retrojit/dbtjit/internal/rtl"
)

func lastOp(prog *rtl.Program) rtl.Op {
	blk := prog.Blocks[0]
	return blk.Instrs[len(blk.Instrs)-1].Op
}

func opsOf(prog *rtl.Program) []rtl.Op {
	blk := prog.Blocks[0]
	out := make([]rtl.Op, len(blk.Instrs))
	for i, in := range blk.Instrs {
		out[i] = in.Op
	}
	return out
}

func contains(ops []rtl.Op, want rtl.Op) bool {
	for _, o := range ops {
		if o == want {
			return true
		}
	}
	return false
}

// DivideU must lower to OpDivU, never OpMulU (spec §9 Open Questions: the
// bytecode back-end's apparent copy/paste bug does not belong in RTL
// lowering itself).
func TestLower_DivideUUsesDivideOpcodeNotMultiply(t *testing.T) {
	a := ir.NewAssembler(0)
	r0 := a.ReadGuest(ir.Integer32, ir.ConstI16(0))
	r1 := a.ReadGuest(ir.Integer32, ir.ConstI16(1))
	q := a.DivideU(r0, r1)
	a.WriteGuest(ir.ConstI16(2), q)
	a.Exit(ir.ConstBool(true), ir.ConstI64(0))

	prog := rtl.Lower(a.Unit())
	ops := opsOf(prog)
	require.True(t, contains(ops, rtl.OpDivU))
	require.False(t, contains(ops, rtl.OpMulU))
}

// ExclusiveOr of Bool-typed operands lowers through a dedicated XorBool
// opcode rather than falling through to the integer Xor form (spec §9 Open
// Questions).
func TestLower_BoolXorUsesXorBoolOpcode(t *testing.T) {
	a := ir.NewAssembler(0)
	r0 := a.ReadGuest(ir.Integer32, ir.ConstI16(0))
	r1 := a.ReadGuest(ir.Integer32, ir.ConstI16(1))
	b0 := a.Test(r0)
	b1 := a.Test(r1)
	x := a.ExclusiveOr(b0, b1)
	a.WriteGuest(ir.ConstI16(2), x)
	a.Exit(ir.ConstBool(true), ir.ConstI64(0))

	prog := rtl.Lower(a.Unit())
	ops := opsOf(prog)
	require.True(t, contains(ops, rtl.OpXorBool))
	require.False(t, contains(ops, rtl.OpXor))
}

func TestLower_ConstantsAreDeduplicated(t *testing.T) {
	a := ir.NewAssembler(0)
	r := a.ReadGuest(ir.Integer32, ir.ConstI16(0))
	s := a.Add(r, ir.ConstI32(7))
	p := a.Add(s, ir.ConstI32(7))
	a.WriteGuest(ir.ConstI16(1), p)
	a.Exit(ir.ConstBool(true), ir.ConstI64(0))

	prog := rtl.Lower(a.Unit())
	count := 0
	for _, in := range prog.Blocks[0].Instrs {
		if in.Op == rtl.OpConstant && in.HasImm && in.Imm == 7 {
			count++
		}
	}
	require.Equal(t, 1, count, "the literal 7 should be materialized once and reused")
}

func TestLower_ExitOnConstantTrueDecisionDropsCondition(t *testing.T) {
	a := ir.NewAssembler(0)
	a.Exit(ir.ConstBool(true), ir.ConstI64(42))
	prog := rtl.Lower(a.Unit())
	require.Equal(t, rtl.OpExit, lastOp(prog))
}

func TestLower_ExitOnConstantFalseDecisionEmitsNothing(t *testing.T) {
	a := ir.NewAssembler(0)
	a.Exit(ir.ConstBool(false), ir.ConstI64(42))
	prog := rtl.Lower(a.Unit())
	require.Empty(t, prog.Blocks[0].Instrs)
}

func TestLower_RuntimeDecisionEmitsExitIf(t *testing.T) {
	a := ir.NewAssembler(0)
	r := a.ReadGuest(ir.Bool, ir.ConstI16(0))
	a.Exit(r, ir.ConstI64(1))
	prog := rtl.Lower(a.Unit())
	require.Equal(t, rtl.OpExitIf, lastOp(prog))
}
