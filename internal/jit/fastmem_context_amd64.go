//go:build unix && amd64

package jit

import "unsafe"

// ucontext/mcontext layout below matches Linux's <sys/ucontext.h> for
// amd64: ucontext_t.uc_mcontext.gregs[REG_*] and si_addr at a fixed offset
// in siginfo_t. Darwin's amd64 layout differs (mcontext is a pointer to an
// mcontext64 struct rather than inline), so this file is Linux-only in
// practice even though the unix build tag is broader; an embedder targeting
// macOS/amd64 would need its own variant here (not attempted: the example
// pack gives no amd64 macOS-specific signal-handling reference to ground
// one on).
const (
	sigInfoAddrOffset = 16 // offsetof(siginfo_t, si_addr) on linux/amd64

	ucMcontextOffset = 40 // offsetof(ucontext_t, uc_mcontext) on linux/amd64
	gregsOffset      = 40 // offsetof(mcontext_t, gregs) within mcontext_t
	regRIP           = 16
)

// gregIndex maps a ModRM reg field (0-15, REX-extended) to the glibc
// REG_* index gregs[] uses, which is NOT the same ordering as the ModRM
// encoding (glibc's is historical, amd64 SysV register-save order).
var gregIndexAMD64 = [16]int{
	/*RAX*/ 13, /*RCX*/ 14, /*RDX*/ 12, /*RBX*/ 11,
	/*RSP*/ 15, /*RBP*/ 10, /*RSI*/ 9, /*RDI*/ 8,
	/*R8*/ 0, /*R9*/ 1, /*R10*/ 2, /*R11*/ 3,
	/*R12*/ 4, /*R13*/ 5, /*R14*/ 6, /*R15*/ 7,
}

func faultingAddress(info unsafe.Pointer) uintptr {
	return *(*uintptr)(unsafe.Add(info, sigInfoAddrOffset))
}

func mcontextGregs(ctx unsafe.Pointer) unsafe.Pointer {
	mctx := unsafe.Add(ctx, ucMcontextOffset)
	return unsafe.Add(mctx, gregsOffset)
}

func contextPC(ctx unsafe.Pointer) uint64 {
	gregs := mcontextGregs(ctx)
	return *(*uint64)(unsafe.Add(gregs, regRIP*8))
}

func advanceContextPC(ctx unsafe.Pointer, n uint64) {
	gregs := mcontextGregs(ctx)
	p := (*uint64)(unsafe.Add(gregs, regRIP*8))
	*p += n
}

func setContextGPR(ctx unsafe.Pointer, reg int, v uint64, bytes int) {
	gregs := mcontextGregs(ctx)
	idx := gregIndexAMD64[reg&0xF]
	p := (*uint64)(unsafe.Add(gregs, idx*8))
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
	return decodeAMD64Load(codeAt(pc, 8))
}
