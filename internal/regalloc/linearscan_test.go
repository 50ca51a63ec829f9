package regalloc_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/retrojit/dbtjit/internal/ir"
	"github.com/retrojit/dbtjit/internal/regalloc"
	"github.com/retrojit/dbtjit/internal/rtl"
)

// buildChain lowers an ExecutionUnit that reads n guest registers and adds
// them all together, forcing every intermediate sum to stay live alongside
// the next read -- enough overlap to exercise spilling with a tiny pool.
func buildChain(n int) *rtl.Program {
	a := ir.NewAssembler(0)
	vals := make([]ir.Operand, n)
	for i := 0; i < n; i++ {
		vals[i] = a.ReadGuest(ir.Integer32, ir.ConstI16(uint16(i)))
	}
	acc := vals[0]
	for i := 1; i < n; i++ {
		acc = a.Add(acc, vals[i])
	}
	a.WriteGuest(ir.ConstI16(uint16(n)), acc)
	a.Exit(ir.ConstBool(true), ir.ConstI64(0))
	return rtl.Lower(a.Unit())
}

func TestAllocate_NoOverlapWithAmpleRegisters(t *testing.T) {
	prog := buildChain(4)
	info := regalloc.RegisterInfo{IntRegs: []int32{0, 1, 2, 3, 4, 5, 6, 7}}
	regalloc.Allocate(prog, info)
	require.Equal(t, 0, prog.SpillSize)
}

// TestAllocate_SoundnessUnderPressure is spec §8 invariant 6: overlapping
// live intervals assigned real (non-spill) registers never share one.
func TestAllocate_SoundnessUnderPressure(t *testing.T) {
	prog := buildChain(8)
	info := regalloc.RegisterInfo{IntRegs: []int32{0, 1}}
	regalloc.Allocate(prog, info)

	blk := &prog.Blocks[0]
	n := prog.RegisterCount()
	starts := make([]int, n)
	ends := make([]int, n)
	for i := range starts {
		starts[i], ends[i] = -1, -1
	}
	for pos, in := range blk.Instrs {
		if in.Result.Valid() {
			starts[in.Result] = pos
			ends[in.Result] = pos
		}
		for i := 0; i < int(in.NSrcs); i++ {
			r := in.Srcs[i]
			if starts[r] >= 0 && pos > ends[r] {
				ends[r] = pos
			}
		}
	}

	overlaps := func(a, b rtl.Reg) bool {
		return starts[a] <= ends[b] && starts[b] <= ends[a]
	}

	for a := 0; a < n; a++ {
		if starts[a] < 0 || prog.Assignment[a].Kind != rtl.HwRegister {
			continue
		}
		for b := a + 1; b < n; b++ {
			if starts[b] < 0 || prog.Assignment[b].Kind != rtl.HwRegister {
				continue
			}
			if overlaps(rtl.Reg(a), rtl.Reg(b)) {
				require.NotEqual(t, prog.Assignment[a].Index, prog.Assignment[b].Index,
					"overlapping registers %d and %d must not share a hardware register", a, b)
			}
		}
	}
	require.Greater(t, prog.SpillSize, 0, "an 8-deep chain through a 2-register pool must spill")
}

func TestAllocate_PinnedRegisterReservedFromPool(t *testing.T) {
	prog := buildChain(2)
	prog.Pin(rtl.Reg(0), 0)
	info := regalloc.RegisterInfo{IntRegs: []int32{0, 1}}
	regalloc.Allocate(prog, info)

	require.Equal(t, rtl.Hw{Kind: rtl.HwRegister, Index: 0}, prog.Assignment[0])
	for r := 1; r < prog.RegisterCount(); r++ {
		if prog.Assignment[r].Kind == rtl.HwRegister {
			require.NotEqual(t, int32(0), prog.Assignment[r].Index,
				"pinned register 0 must not be reused for register %d", r)
		}
	}
}

func TestAllocate_UnifiedPoolSharesIntAndFloat(t *testing.T) {
	a := ir.NewAssembler(0)
	x := a.ReadGuest(ir.Integer32, ir.ConstI16(0))
	f := a.CastIntFloat(ir.Float32, x)
	a.WriteGuest(ir.ConstI16(1), a.CastFloatInt(ir.Integer32, f))
	a.Exit(ir.ConstBool(true), ir.ConstI64(0))
	prog := rtl.Lower(a.Unit())

	info := regalloc.RegisterInfo{IntRegs: []int32{0, 1, 2}, Unified: true}
	regalloc.Allocate(prog, info)
	require.Equal(t, 0, prog.SpillSize)
}
