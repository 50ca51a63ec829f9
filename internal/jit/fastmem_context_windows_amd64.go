//go:build windows && amd64

package jit

import "unsafe"

// CONTEXT layout for windows/amd64 (winnt.h): this package only needs Rip
// and the integer GPRs, at the offsets below within the struct
// AddVectoredExceptionHandler's EXCEPTION_POINTERS.ContextRecord points at.
// x/sys/windows' Context type (used for Get/SetThreadContext) has the same
// layout; these offsets are used directly rather than importing that type
// so this file only depends on unsafe.Pointer arithmetic already in scope.
const (
	ctxRipOffset = 0xF8
	ctxRaxOffset = 0x78
	ctxRcxOffset = 0x80
	ctxRdxOffset = 0x88
	ctxRbxOffset = 0x90
	ctxRspOffset = 0x98
	ctxRbpOffset = 0xA0
	ctxRsiOffset = 0xA8
	ctxRdiOffset = 0xB0
	ctxR8Offset  = 0xB8
)

// gprOffsetsAMD64 indexes by the same ModRM-style register number
// decodeAMD64Load returns (0=RAX..15=R15); R8-R15 are 8 bytes apart
// starting at ctxR8Offset.
var gprOffsetsWindowsAMD64 = [16]uintptr{
	ctxRaxOffset, ctxRcxOffset, ctxRdxOffset, ctxRbxOffset,
	ctxRspOffset, ctxRbpOffset, ctxRsiOffset, ctxRdiOffset,
	ctxR8Offset + 0*8, ctxR8Offset + 1*8, ctxR8Offset + 2*8, ctxR8Offset + 3*8,
	ctxR8Offset + 4*8, ctxR8Offset + 5*8, ctxR8Offset + 6*8, ctxR8Offset + 7*8,
}

func contextPC(ctx unsafe.Pointer) (uint64, bool) {
	return *(*uint64)(unsafe.Add(ctx, ctxRipOffset)), true
}

func advanceContextPC(ctx unsafe.Pointer, n uint64) {
	p := (*uint64)(unsafe.Add(ctx, ctxRipOffset))
	*p += n
}

func setContextGPR(ctx unsafe.Pointer, reg int, v uint64, bytes int) {
	p := (*uint64)(unsafe.Add(ctx, gprOffsetsWindowsAMD64[reg&0xF]))
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
