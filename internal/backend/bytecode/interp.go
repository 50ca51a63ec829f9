package bytecode

import (
	"encoding/binary"
	"fmt"
	"math"
	"strings"

	"github.com/retrojit/dbtjit/internal/guest"
)

// Routine is the bytecode back-end's Routine: an encoded byte stream plus
// the disassembly listing captured at compile time. It never touches
// memoryBase/registerBase directly (RegisterRead/Write and Load/Store all
// go through guest.Guest), so unlike the native back-ends it has no use
// for a resolved register-address table. Prepare is always a no-op
// success (spec §4.6: "no-op on bytecode").
type Routine struct {
	code       []byte
	spillSize  int
	srcListing []string
}

// Prepare satisfies backend.Routine; the bytecode back-end has nothing to
// mprotect.
func (r *Routine) Prepare(commit bool) (bool, error) { return true, nil }

// Disassemble renders the instructions captured during encoding.
func (r *Routine) Disassemble() string {
	var b strings.Builder
	for i, line := range r.srcListing {
		fmt.Fprintf(&b, "%4d: %s\n", i, line)
	}
	return b.String()
}

// Execute runs the bytecode stream to completion and returns the exit code
// carried by whichever Exit/ExitIf instruction terminates the block.
func (r *Routine) Execute(g guest.Guest, memoryBase, registerBase uintptr) uint64 {
	var regs [NumRegisters]uint64
	spill := make([]uint64, r.spillSize)
	code := r.code
	pc := 0

	readImm := func(width int) uint64 {
		var tmp [8]byte
		copy(tmp[:width], code[pc:pc+width])
		pc += width
		return binary.LittleEndian.Uint64(tmp[:])
	}

	for {
		o := op(code[pc])
		pc++

		switch o {
		case opLoadSpill:
			dst := code[pc]
			pc++
			idx := readImm(4)
			regs[dst] = spill[idx]
			continue
		case opStoreSpill:
			src := code[pc]
			pc++
			idx := readImm(4)
			spill[idx] = regs[src]
			continue
		}

		var result byte
		if o.hasResult() {
			result = code[pc]
			pc++
		}
		var srcs [3]byte
		n := o.srcCount()
		for i := 0; i < n; i++ {
			srcs[i] = code[pc]
			pc++
		}
		width := 8
		if o.hasWidthByte() {
			width = int(code[pc])
			pc++
		}
		var imm uint64
		if o.hasImmediate() {
			imm = readImm(o.immWidth())
		}

		switch o {
		case opConstant:
			regs[result] = imm
		case opAdd:
			regs[result] = regs[srcs[0]] + regs[srcs[1]]
		case opSub:
			regs[result] = regs[srcs[0]] - regs[srcs[1]]
		case opMul:
			regs[result] = regs[srcs[0]] * regs[srcs[1]]
		case opMulU:
			regs[result] = regs[srcs[0]] * regs[srcs[1]]
		case opDiv:
			regs[result] = uint64(int64(regs[srcs[0]]) / int64(regs[srcs[1]]))
		case opDivU:
			regs[result] = regs[srcs[0]] / regs[srcs[1]]
		case opMod:
			regs[result] = uint64(int64(regs[srcs[0]]) % int64(regs[srcs[1]]))
		case opSqrt:
			regs[result] = math.Float64bits(math.Sqrt(math.Float64frombits(regs[srcs[0]])))
		case opAnd:
			regs[result] = regs[srcs[0]] & regs[srcs[1]]
		case opOr:
			regs[result] = regs[srcs[0]] | regs[srcs[1]]
		case opXor, opXorBool:
			regs[result] = regs[srcs[0]] ^ regs[srcs[1]]
		case opNot:
			regs[result] = ^regs[srcs[0]]
		case opRotl:
			regs[result] = regs[srcs[0]]<<regs[srcs[1]] | regs[srcs[0]]>>(64-regs[srcs[1]])
		case opRotr:
			regs[result] = regs[srcs[0]]>>regs[srcs[1]] | regs[srcs[0]]<<(64-regs[srcs[1]])
		case opLsl:
			regs[result] = regs[srcs[0]] << regs[srcs[1]]
		case opLsr:
			regs[result] = regs[srcs[0]] >> regs[srcs[1]]
		case opAsr:
			regs[result] = uint64(int64(regs[srcs[0]]) >> regs[srcs[1]])
		case opBsc:
			v, c, pos := regs[srcs[0]], regs[srcs[1]], regs[srcs[2]]
			if c != 0 {
				regs[result] = v | (1 << pos)
			} else {
				regs[result] = v &^ (1 << pos)
			}
		case opSignExtend:
			regs[result] = regs[srcs[0]]
		case opBitCast:
			regs[result] = regs[srcs[0]]
		case opCastFloatInt:
			regs[result] = uint64(int64(math.Float64frombits(regs[srcs[0]])))
		case opCastIntFloat:
			regs[result] = math.Float64bits(float64(int64(regs[srcs[0]])))
		case opResizeFloat:
			regs[result] = regs[srcs[0]]
		case opCompareEq:
			regs[result] = boolBit(regs[srcs[0]] == regs[srcs[1]])
		case opCompareLt:
			regs[result] = boolBit(int64(regs[srcs[0]]) < int64(regs[srcs[1]]))
		case opCompareLte:
			regs[result] = boolBit(int64(regs[srcs[0]]) <= int64(regs[srcs[1]]))
		case opCompareUlt:
			regs[result] = boolBit(regs[srcs[0]] < regs[srcs[1]])
		case opCompareUlte:
			regs[result] = boolBit(regs[srcs[0]] <= regs[srcs[1]])
		case opTest:
			regs[result] = boolBit(regs[srcs[0]] != 0)
		case opMove:
			regs[result] = regs[srcs[0]]
		case opSelect:
			if regs[srcs[0]] != 0 {
				regs[result] = regs[srcs[1]]
			} else {
				regs[result] = regs[srcs[2]]
			}
		case opExitIf:
			if regs[srcs[0]] != 0 {
				return regs[srcs[1]]
			}
		case opExit:
			return regs[srcs[0]]
		case opHostVoidCall0:
			callHost0(imm, g)
		case opHostCall0:
			regs[result] = callHost0(imm, g)
		case opHostCall1:
			regs[result] = callHost1(imm, g, regs[srcs[0]])
		case opHostCall2:
			regs[result] = callHost2(imm, g, regs[srcs[0]], regs[srcs[1]])
		case opReadGuest:
			regs[result] = g.RegisterRead(uint32(imm), width)
		case opWriteGuest:
			g.RegisterWrite(uint32(imm), width, regs[srcs[0]])
		case opLoad:
			regs[result] = g.Load(uint32(regs[srcs[0]]), width)
		case opStore:
			g.Store(uint32(regs[srcs[0]]), width, regs[srcs[1]])
		default:
			panic(fmt.Sprintf("bytecode: execute: unknown opcode %d", o))
		}
	}
}

func boolBit(b bool) uint64 {
	if b {
		return 1
	}
	return 0
}

// Invoke0/1/2 call the host function registered under token target,
// exported for internal/jit's direct ExecutionUnit interpreter, which
// shares this back-end's token registry rather than keeping its own (see
// internal/jit's interp.go doc comment).
func Invoke0(target uint64, g guest.Guest) uint64           { return callHost0(target, g) }
func Invoke1(target uint64, g guest.Guest, a0 uint64) uint64 { return callHost1(target, g, a0) }
func Invoke2(target uint64, g guest.Guest, a0, a1 uint64) uint64 {
	return callHost2(target, g, a0, a1)
}

func callHost0(target uint64, g guest.Guest) uint64 {
	fn := toHostFunc0(target)
	return fn(g)
}

func callHost1(target uint64, g guest.Guest, a0 uint64) uint64 {
	fn := toHostFunc1(target)
	return fn(g, a0)
}

func callHost2(target uint64, g guest.Guest, a0, a1 uint64) uint64 {
	fn := toHostFunc2(target)
	return fn(g, a0, a1)
}

// HostFunc0/1/2 are the trampoline shapes a front-end registers host
// functions under; see Register0/1/2.
type HostFunc0 func(g guest.Guest) uint64
type HostFunc1 func(g guest.Guest, a0 uint64) uint64
type HostFunc2 func(g guest.Guest, a0, a1 uint64) uint64

var (
	registry0 = map[uint64]HostFunc0{}
	registry1 = map[uint64]HostFunc1{}
	registry2 = map[uint64]HostFunc2{}
	nextToken uint64 = 1
)

// Register0/1/2 hand back an opaque token the front-end passes as the
// Assembler's CallVoid/Call/Call1/Call2 target; the bytecode back-end can't
// jump through a real host pointer the way native back-ends do; see
// backend/amd64 and backend/arm64 for the native calling convention.
func Register0(fn HostFunc0) uint64 {
	t := nextToken
	nextToken++
	registry0[t] = fn
	return t
}
func Register1(fn HostFunc1) uint64 {
	t := nextToken
	nextToken++
	registry1[t] = fn
	return t
}
func Register2(fn HostFunc2) uint64 {
	t := nextToken
	nextToken++
	registry2[t] = fn
	return t
}

func toHostFunc0(token uint64) HostFunc0 {
	fn, ok := registry0[token]
	if !ok {
		panic("bytecode: execute: unregistered host call token")
	}
	return fn
}
func toHostFunc1(token uint64) HostFunc1 {
	fn, ok := registry1[token]
	if !ok {
		panic("bytecode: execute: unregistered host call token")
	}
	return fn
}
func toHostFunc2(token uint64) HostFunc2 {
	fn, ok := registry2[token]
	if !ok {
		panic("bytecode: execute: unregistered host call token")
	}
	return fn
}
