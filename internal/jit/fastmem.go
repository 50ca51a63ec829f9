package jit

import (
	"encoding/binary"
	"sync"
	"sync/atomic"

	"github.com/retrojit/dbtjit/internal/guest"
)

// Reservation describes one guest's fastmem mapping: the host base address
// a native Routine's memoryBase argument points into, and the mapping's
// total size (spec's "2^32-byte reservation"). A fault handler consults the
// currently-executing guest's Reservation to decide whether a trapped
// access is an in-bounds guest load it should recover (slow-path read,
// resume) or something else entirely (re-raise, spec §7's "Fastmem fault
// outside reservation" row).
type Reservation struct {
	Base uintptr
	Size uintptr
}

// Contains reports whether host address addr falls inside r.
func (r Reservation) Contains(addr uintptr) bool {
	return addr >= r.Base && addr-r.Base < r.Size
}

// execState is the thread-local bookkeeping a fastmem fault handler needs:
// which guest, reservation, and BasicBlock the interrupted thread was
// executing when the fault landed. Spec §9's design note calls for a
// "thread-local current block/current guest pointer established at block
// entry and cleared at exit"; Go has no user-visible thread-local storage,
// so this keys the same information by the calling OS thread's id
// (unix.Gettid on the POSIX build, the current goroutine's M on Windows —
// see fastmem_unix.go/fastmem_windows.go) instead, which is equivalent for
// this module's single-thread-per-guest execution model (spec §5).
type execState struct {
	guest       guest.Guest
	reservation Reservation
	block       *BasicBlock
}

var (
	execStateMu sync.RWMutex
	execStates  = map[int]*execState{}

	faultCount int64 // process-wide counter, exported for tests/metrics
)

// enterFastmem records the calling thread's in-flight native execution
// context so a concurrent fault on this thread can recover it; exitFastmem
// clears it. Both are called immediately around the Routine.Execute call a
// BasicBlock makes for the native dispatch leg (spec §4.7 step 6).
func enterFastmem(threadID int, g guest.Guest, res Reservation, block *BasicBlock) {
	execStateMu.Lock()
	execStates[threadID] = &execState{guest: g, reservation: res, block: block}
	execStateMu.Unlock()
}

func exitFastmem(threadID int) {
	execStateMu.Lock()
	delete(execStates, threadID)
	execStateMu.Unlock()
}

func lookupExecState(threadID int) (*execState, bool) {
	execStateMu.RLock()
	s, ok := execStates[threadID]
	execStateMu.RUnlock()
	return s, ok
}

// FaultCount returns the number of fastmem faults this process has
// recovered from, for tests and the debug CLI's stats output.
func FaultCount() int64 { return atomic.LoadInt64(&faultCount) }

// decodedLoad is what the per-architecture instruction decoder recovers
// from the faulting PC: which destination register the load was writing
// and how many bytes it was reading, enough to redo the access on the slow
// path and inject the result (spec §4.7: "decode the faulting instruction
// enough to recover (size, destination register)").
type decodedLoad struct {
	destReg  int
	bytes    int
	instrLen int // bytes to advance the saved PC past
}

// decodeAMD64Load recognizes the exact forms emit.go's load() emits for
// fastmem: `MOV r32/r64, [base + index*1]` (a two- or three-byte opcode
// plus a ModRM/SIB byte, no displacement — see backend/amd64/asm.go's
// loadIndexed). Returns ok=false for anything else, which the handler
// treats as unrecoverable (re-raise).
func decodeAMD64Load(code []byte) (decodedLoad, bool) {
	if len(code) < 3 {
		return decodedLoad{}, false
	}
	i := 0
	hasREX := code[i]&0xF0 == 0x40
	var rex byte
	if hasREX {
		rex = code[i]
		i++
	}
	if i+1 >= len(code) {
		return decodedLoad{}, false
	}
	op := code[i]
	var width int
	switch op {
	case 0x8A:
		width = 1
	case 0x8B:
		if rex&0x8 != 0 {
			width = 8
		} else {
			width = 4
		}
	default:
		return decodedLoad{}, false
	}
	i++
	modrm := code[i]
	i++
	mod := modrm >> 6
	reg := int((modrm>>3)&0x7) | boolToInt(rex&0x4 != 0)<<3
	rm := modrm & 0x7
	if mod != 0 || rm != 4 {
		// Only the no-displacement, SIB-addressed form fastmem emits is
		// recognized; anything else (a spill reload, a different
		// addressing mode) is outside this handler's scope.
		return decodedLoad{}, false
	}
	i++ // SIB byte, unchecked: loadIndexed always uses scale=1 and the
	// pinned memory-base/index registers, so its value is fixed and
	// doesn't affect decode, only its presence does.
	return decodedLoad{destReg: reg, bytes: width, instrLen: i}, true
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// decodeARM64Load recognizes `LDR{B,H,W,X} Wt/Xt, [Xbase, Windex]` — a
// fixed 4-byte instruction on this architecture, so only the opcode word
// itself needs decoding (spec §4.6.3).
func decodeARM64Load(word uint32) (decodedLoad, bool) {
	// Bits [31:30] size, bits [29:24] == 0b111000, bit 22 (L) must be 1
	// (load, not store), per the LDR register-offset encoding the arm64
	// back-end's loadIndexed emits (see backend/arm64/asm.go).
	size := word >> 30
	if word&0x3FE00000 != 0x38600000 {
		return decodedLoad{}, false
	}
	l := (word >> 22) & 1
	if l != 1 {
		return decodedLoad{}, false
	}
	rt := int(word & 0x1F)
	var bytes int
	switch size {
	case 0:
		bytes = 1
	case 1:
		bytes = 2
	case 2:
		bytes = 4
	case 3:
		bytes = 8
	}
	return decodedLoad{destReg: rt, bytes: bytes, instrLen: 4}, true
}

// recoverFault performs the slow-path read and reports the value to
// inject, incrementing the process-wide fault counter and the owning
// block's DISABLE_FASTMEM flag (spec §4.7's "Fastmem fault handling"
// bullet list, steps 2-5). It does not touch the saved register file or
// program counter itself — those are platform-specific (see
// fastmem_unix.go/fastmem_windows.go's handler, which calls this after
// computing guestAddr from the faulting host address and the
// Reservation).
func recoverFault(st *execState, guestAddr uint32, bytes int) uint64 {
	atomic.AddInt64(&faultCount, 1)
	st.block.DisableFastmem()
	return st.guest.Load(guestAddr, bytes)
}

// putLE writes v's low n bytes little-endian into dst, used by a platform
// handler to place the recovered value into the saved register slot of
// width n it decoded (the saved context stores full 64/32-bit GPR slots
// regardless of the load's width, so the handler widens/zero-extends
// before calling this — matching what the faulting MOVZX/LDRB/etc would
// have produced).
func putLE(dst []byte, v uint64, n int) {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], v)
	copy(dst, buf[:n])
}
