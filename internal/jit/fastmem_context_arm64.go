//go:build unix && arm64

package jit

import "unsafe"

// Layout for Linux's <sys/ucontext.h> on arm64: ucontext_t.uc_mcontext is a
// sigcontext with regs[31] general registers, sp, pc, pstate, then a fault
// address field; siginfo_t.si_addr is at a fixed offset as on amd64.
const (
	sigInfoAddrOffset = 16 // offsetof(siginfo_t, si_addr) on linux/arm64

	ucMcontextOffset = 176 // offsetof(ucontext_t, uc_mcontext) on linux/arm64
	regsOffset       = 8   // offsetof(sigcontext, regs) within mcontext
	pcOffsetInMctx    = 8 + 31*8 + 8 // regs[0..30], sp, pc
)

func faultingAddress(info unsafe.Pointer) uintptr {
	return *(*uintptr)(unsafe.Add(info, sigInfoAddrOffset))
}

func mcontext(ctx unsafe.Pointer) unsafe.Pointer {
	return unsafe.Add(ctx, ucMcontextOffset)
}

func contextPC(ctx unsafe.Pointer) uint64 {
	return *(*uint64)(unsafe.Add(mcontext(ctx), pcOffsetInMctx))
}

func advanceContextPC(ctx unsafe.Pointer, n uint64) {
	p := (*uint64)(unsafe.Add(mcontext(ctx), pcOffsetInMctx))
	*p += n
}

func setContextGPR(ctx unsafe.Pointer, reg int, v uint64, bytes int) {
	if reg == 31 {
		// Xzr/Wzr as a destination is never emitted for a load; nothing to
		// write back.
		return
	}
	p := (*uint64)(unsafe.Add(mcontext(ctx), regsOffset+reg*8))
	if bytes >= 8 {
		*p = v
		return
	}
	var buf [8]byte
	putLE(buf[:], v, bytes)
	dst := unsafe.Slice((*byte)(unsafe.Pointer(p)), 8)
	copy(dst[:bytes], buf[:bytes])
}

func decodeLoadAt(pc uint64) (decodedLoad, bool) {
	return decodeARM64Load(readUint32Arm(pc))
}

func readUint32Arm(pc uint64) uint32 {
	b := codeAt(pc, 4)
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}
