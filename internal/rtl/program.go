package rtl

import (
	"fmt"
	"strings"

	"github.com/retrojit/dbtjit/internal/ir"
)

// Reg identifies an RTL SSA register. Definition order equals SSA index,
// which the linear-scan allocator relies on directly as the liveness
// ordering (spec §4.5 step 1).
type Reg uint32

// InvalidReg is the sentinel for an absent register.
const InvalidReg Reg = ^Reg(0)

// Valid reports whether r refers to an actual RTL register.
func (r Reg) Valid() bool { return r != InvalidReg }

// String implements fmt.Stringer.
func (r Reg) String() string {
	if !r.Valid() {
		return "-"
	}
	return fmt.Sprintf("v%d", uint32(r))
}

// RegClass distinguishes the two allocatable register files.
type RegClass uint8

const (
	RegClassInt RegClass = iota
	RegClassFloat
)

// ClassOf returns the register class a value of typ belongs to.
func ClassOf(typ ir.Type) RegClass {
	if typ.IsFloatType() {
		return RegClassFloat
	}
	return RegClassInt
}

// HwKind distinguishes a real hardware register from a spill slot.
type HwKind uint8

const (
	HwUnassigned HwKind = iota
	HwRegister
	HwSpillSlot
)

// Hw is a concrete post-allocation location: either a real register index
// (back-end-specific numbering) or a spill slot index (8 bytes each,
// regardless of value size, per spec §4.5 step 4).
type Hw struct {
	Kind  HwKind
	Index int32
}

// String implements fmt.Stringer.
func (h Hw) String() string {
	switch h.Kind {
	case HwRegister:
		return fmt.Sprintf("R%d", h.Index)
	case HwSpillSlot:
		return fmt.Sprintf("spill[%d]", h.Index)
	default:
		return "?"
	}
}

// Instruction is one RTL instruction: at most one result, up to three
// register sources, and an optional 64-bit immediate. Typ carries the
// operation's size/signedness context (see Op.String/typeSuffix).
type Instruction struct {
	Op     Op
	Typ    ir.Type
	Result Reg
	Srcs   [3]Reg
	NSrcs  uint8
	Imm    uint64
	HasImm bool
}

// String renders a disassembly line.
func (in Instruction) String() string {
	var b strings.Builder
	if in.Result.Valid() {
		fmt.Fprintf(&b, "%s = ", in.Result)
	}
	fmt.Fprintf(&b, "%s%s", in.Op, typeSuffix(in.Typ))
	for i := 0; i < int(in.NSrcs); i++ {
		fmt.Fprintf(&b, " %s", in.Srcs[i])
	}
	if in.HasImm {
		fmt.Fprintf(&b, " #%#x", in.Imm)
	}
	return b.String()
}

// Block is a single-entry, single-block container: the spec notes the
// block-level container is "currently one block per EU".
type Block struct {
	Instrs []Instruction
}

// Program is the lowered form produced by Lower from one ir.ExecutionUnit,
// and mutated in place by the linear-scan allocator.
type Program struct {
	Blocks []Block

	// regTypes[r] is the declared Type of RTL register r, used by the
	// allocator to pick the register class (int vs float) pool.
	regTypes []ir.Type

	// Assignment[r] is the post-allocation Hw location of register r. Empty
	// (HwUnassigned) until the allocator runs.
	Assignment []Hw

	// SpillSize is the number of 8-byte spill slots the allocator used.
	SpillSize int

	// Pins hard-constrains a register to a specific real register index
	// (calling-convention pinning, spec §4.5 step 5), set by a back-end's
	// ABI prologue construction before allocation runs. Index is in the
	// back-end's own numbering for the register's class.
	Pins map[Reg]int32
}

// Pin hard-assigns r to the real register index real; used by a back-end to
// pre-bind ABI registers (guest pointer, memory base, register base) before
// invoking the allocator.
func (p *Program) Pin(r Reg, real int32) {
	if p.Pins == nil {
		p.Pins = make(map[Reg]int32)
	}
	p.Pins[r] = real
}

// RegisterCount returns the number of RTL SSA registers.
func (p *Program) RegisterCount() int { return len(p.regTypes) }

// TypeOf returns the declared type of register r.
func (p *Program) TypeOf(r Reg) ir.Type { return p.regTypes[r] }

// ClassOf returns the register class of register r.
func (p *Program) ClassOf(r Reg) RegClass { return ClassOf(p.regTypes[r]) }

// newReg allocates a fresh RTL register of the given type.
func (p *Program) newReg(typ ir.Type) Reg {
	r := Reg(len(p.regTypes))
	p.regTypes = append(p.regTypes, typ)
	p.Assignment = append(p.Assignment, Hw{})
	return r
}

// Disassemble renders the whole program, one block per line group.
func (p *Program) Disassemble() string {
	var b strings.Builder
	for bi, blk := range p.Blocks {
		fmt.Fprintf(&b, "block%d:\n", bi)
		for i, in := range blk.Instrs {
			fmt.Fprintf(&b, "  %4d: %s\n", i, in)
		}
	}
	return b.String()
}
