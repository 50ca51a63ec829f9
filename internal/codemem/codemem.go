// Package codemem maps and protects the executable pages a native back-end
// (amd64, arm64) writes its emitted instructions into. It is the one place
// this module's Go code differs by runtime.GOOS, following the teacher's
// own internal/platform split for exactly this concern (see mmap_test.go's
// MmapCodeSegment/MunmapCodeSegment contract in the teacher reference).
package codemem

import (
	"errors"
	"unsafe"
)

// ErrNotMapped is returned by Unmap/Protect when called on a buffer codemem
// never mapped (double-unmap, or a buffer that was never a code segment).
var ErrNotMapped = errors.New("codemem: not a mapped code segment")

// Segment is an anonymous RW-then-RX-on-Prepare memory mapping backing one
// Routine's machine code.
type Segment struct {
	code []byte
}

// Bytes returns the segment's backing slice, writable until Protect is
// called.
func (s *Segment) Bytes() []byte { return s.code }

// Addr returns the mapping's base host address, used as the Routine's entry
// point once Protect has made it executable.
func (s *Segment) Addr() uintptr {
	if len(s.code) == 0 {
		return 0
	}
	return uintptr(unsafe.Pointer(&s.code[0]))
}
