//go:build windows

package codemem

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/windows"
)

// Map anonymously reserves n bytes RW and copies code into it.
func Map(code []byte) (*Segment, error) {
	if len(code) == 0 {
		panic("BUG: codemem.Map with zero length")
	}
	addr, err := windows.VirtualAlloc(0, uintptr(len(code)), windows.MEM_COMMIT|windows.MEM_RESERVE, windows.PAGE_READWRITE)
	if err != nil {
		return nil, fmt.Errorf("codemem: VirtualAlloc: %w", err)
	}
	buf := unsafe.Slice((*byte)(unsafe.Pointer(addr)), len(code))
	copy(buf, code)
	return &Segment{code: buf}, nil
}

// Protect flips the segment from RW to RX, matching spec §4.6's "prepare
// makes it executable" contract.
func (s *Segment) Protect() error {
	if len(s.code) == 0 {
		return ErrNotMapped
	}
	var old uint32
	addr := uintptr(unsafe.Pointer(&s.code[0]))
	if err := windows.VirtualProtect(addr, uintptr(len(s.code)), windows.PAGE_EXECUTE_READ, &old); err != nil {
		return fmt.Errorf("codemem: VirtualProtect: %w", err)
	}
	return nil
}

// Unmap releases the segment. The segment must not be used afterward.
func (s *Segment) Unmap() error {
	if len(s.code) == 0 {
		return ErrNotMapped
	}
	addr := uintptr(unsafe.Pointer(&s.code[0]))
	err := windows.VirtualFree(addr, 0, windows.MEM_RELEASE)
	s.code = nil
	if err != nil {
		return fmt.Errorf("codemem: VirtualFree: %w", err)
	}
	return nil
}
