// Package regalloc implements the linear-scan register allocator that maps
// an rtl.Program's SSA registers onto a back-end's hardware registers or
// spill slots (spec §4.5).
package regalloc

import (
	"sort"

	"github.com/retrojit/dbtjit/internal/rtl"
)

// RegisterInfo is the back-end-specific, per-register-type pool the
// allocator draws from. The order of each slice is preference order: the
// first entry is tried first.
type RegisterInfo struct {
	IntRegs   []int32
	FloatRegs []int32
	// Unified is set by back-ends with a single union register file (the
	// bytecode back-end: any RTL value, int or float, lives in one of its
	// 13 general slots) so int- and float-typed values are drawn from and
	// returned to the same pool instead of class-separated ones.
	Unified bool
}

type interval struct {
	reg        rtl.Reg
	start, end int // instruction positions within the single block
	class      rtl.RegClass
	pinned     bool
	pinnedReal int32
}

// Allocate runs the linear-scan algorithm over prog's single block in
// place, filling prog.Assignment and prog.SpillSize. It never reorders or
// removes instructions; it only records where each SSA register lives.
func Allocate(prog *rtl.Program, info RegisterInfo) {
	if len(prog.Blocks) == 0 {
		return
	}
	blk := &prog.Blocks[0]
	n := prog.RegisterCount()
	intervals := computeIntervals(prog, blk, n)

	// Pinned registers are reserved for the whole routine and never enter
	// the free pool; remove their real register from the relevant pool(s)
	// up front.
	reservedInt := map[int32]bool{}
	reservedFloat := map[int32]bool{}
	for r, real := range prog.Pins {
		prog.Assignment[r] = rtl.Hw{Kind: rtl.HwRegister, Index: real}
		if info.Unified || prog.ClassOf(r) == rtl.RegClassInt {
			reservedInt[real] = true
		}
		if info.Unified || prog.ClassOf(r) == rtl.RegClassFloat {
			reservedFloat[real] = true
		}
	}

	free := newFreePool(info, reservedInt, reservedFloat)

	// active, sorted by interval end, holding the currently live non-pinned
	// non-spilled intervals and the real register each occupies.
	type activeEntry struct {
		iv   interval
		real int32
	}
	var active []activeEntry
	spillSlots := 0

	sameBucket := func(a, b rtl.RegClass) bool { return info.Unified || a == b }

	expire := func(pos int) {
		kept := active[:0]
		for _, e := range active {
			if e.iv.end < pos {
				free.put(e.iv.class, e.real)
			} else {
				kept = append(kept, e)
			}
		}
		active = kept
	}

	// Sort non-pinned intervals by start (definition order, which is
	// already instruction order since RTL is SSA single-block).
	var order []interval
	for _, iv := range intervals {
		if !iv.pinned {
			order = append(order, iv)
		}
	}
	sort.Slice(order, func(i, j int) bool { return order[i].start < order[j].start })

	for _, iv := range order {
		expire(iv.start)

		if real, ok := free.get(iv.class); ok {
			prog.Assignment[iv.reg] = rtl.Hw{Kind: rtl.HwRegister, Index: real}
			active = append(active, activeEntry{iv, real})
			sort.Slice(active, func(i, j int) bool { return active[i].iv.end < active[j].iv.end })
			continue
		}

		// No free register: spill whichever of (this interval, the active
		// interval with the farthest end in the same bucket) ends latest.
		farthestIdx := -1
		var farthestEnd = -1
		for i, e := range active {
			if !sameBucket(e.iv.class, iv.class) {
				continue
			}
			if e.iv.end > farthestEnd {
				farthestEnd = e.iv.end
				farthestIdx = i
			}
		}
		if farthestIdx >= 0 && farthestEnd > iv.end {
			victim := active[farthestIdx]
			prog.Assignment[victim.iv.reg] = rtl.Hw{Kind: rtl.HwSpillSlot, Index: int32(spillSlots)}
			spillSlots++
			prog.Assignment[iv.reg] = rtl.Hw{Kind: rtl.HwRegister, Index: victim.real}
			active[farthestIdx] = activeEntry{iv, victim.real}
			sort.Slice(active, func(i, j int) bool { return active[i].iv.end < active[j].iv.end })
		} else {
			prog.Assignment[iv.reg] = rtl.Hw{Kind: rtl.HwSpillSlot, Index: int32(spillSlots)}
			spillSlots++
		}
	}

	prog.SpillSize = spillSlots
}

func filterOut(regs []int32, reserved map[int32]bool) []int32 {
	out := make([]int32, 0, len(regs))
	// Push in reverse so pop-from-end still respects preference order.
	for i := len(regs) - 1; i >= 0; i-- {
		if !reserved[regs[i]] {
			out = append(out, regs[i])
		}
	}
	return out
}

// freePool is the available-real-register stack(s). In Unified mode there
// is exactly one backing slice and both classes draw from and return to it,
// so a bytecode-style union register file is never double-booked between
// an int and a float value.
type freePool struct {
	unified    bool
	intSlice   []int32
	floatSlice []int32
}

func newFreePool(info RegisterInfo, reservedInt, reservedFloat map[int32]bool) *freePool {
	if info.Unified {
		s := filterOut(info.IntRegs, reservedInt)
		return &freePool{unified: true, intSlice: s}
	}
	return &freePool{
		intSlice:   filterOut(info.IntRegs, reservedInt),
		floatSlice: filterOut(info.FloatRegs, reservedFloat),
	}
}

func (f *freePool) get(class rtl.RegClass) (int32, bool) {
	s := f.slice(class)
	if len(*s) == 0 {
		return 0, false
	}
	last := len(*s) - 1
	r := (*s)[last]
	*s = (*s)[:last]
	return r, true
}

func (f *freePool) put(class rtl.RegClass, r int32) {
	s := f.slice(class)
	*s = append(*s, r)
}

func (f *freePool) slice(class rtl.RegClass) *[]int32 {
	if f.unified || class == rtl.RegClassInt {
		return &f.intSlice
	}
	return &f.floatSlice
}

// computeIntervals performs spec §4.5 step 1: a single forward scan where a
// definition starts an interval and every source use extends it.
func computeIntervals(prog *rtl.Program, blk *rtl.Block, n int) []interval {
	starts := make([]int, n)
	ends := make([]int, n)
	seen := make([]bool, n)
	for i := range starts {
		starts[i], ends[i] = -1, -1
	}

	for pos, in := range blk.Instrs {
		if in.Result.Valid() {
			starts[in.Result] = pos
			ends[in.Result] = pos
			seen[in.Result] = true
		}
		for i := 0; i < int(in.NSrcs); i++ {
			r := in.Srcs[i]
			if int(r) < n && starts[r] >= 0 && pos > ends[r] {
				ends[r] = pos
			}
		}
	}

	out := make([]interval, 0, n)
	for r := 0; r < n; r++ {
		if !seen[r] {
			continue
		}
		iv := interval{reg: rtl.Reg(r), start: starts[r], end: ends[r], class: prog.ClassOf(rtl.Reg(r))}
		if real, pinned := prog.Pins[rtl.Reg(r)]; pinned {
			iv.pinned, iv.pinnedReal = true, real
		}
		out = append(out, iv)
	}
	return out
}
