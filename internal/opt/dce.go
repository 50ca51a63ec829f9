package opt

import "github.com/retrojit/dbtjit/internal/ir"

// DeadCodeElimination implements spec §4.3's mark/sweep pass. SSA
// topological order makes a single reverse scan sufficient to mark used
// registers; a single forward scan then emits the surviving instructions.
// Side-effecting instructions (Call, WriteGuest, Store, Exit) are always
// kept, in their original relative order.
func DeadCodeElimination(eu *ir.ExecutionUnit) *ir.ExecutionUnit {
	n := int(eu.RegisterCount())
	used := make([]bool, n)

	instrs := eu.Instructions()
	count := instrs.Len()

	// Reverse scan: mark sources of side-effecting instructions and of
	// instructions whose result is already used.
	for i := count - 1; i >= 0; i-- {
		in := instrs.At(ir.InstrID(i))
		keep := in.Opcode().HasSideEffect()
		if !keep && in.HasResult() {
			keep = used[in.Result()]
		}
		if keep {
			markSources(used, in)
		}
	}

	out := ir.NewExecutionUnitLike(eu)
	instrs.Iterate(func(_ ir.InstrID, in *ir.Instruction) bool {
		keep := in.Opcode().HasSideEffect()
		if !keep && in.HasResult() {
			keep = used[in.Result()]
		}
		if !keep {
			return true
		}
		out.Emit(ir.NewRawInstruction(in.Opcode(), in.Type(), in.Result(), in.Sources()...))
		return true
	})
	return out
}

func markSources(used []bool, in *ir.Instruction) {
	for _, s := range in.Sources() {
		if s.IsReg() {
			if r := int(s.Reg()); r < len(used) {
				used[r] = true
			}
		}
	}
}
