//go:build !windows

package codemem

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// Map anonymously reserves n bytes RW and copies code into it.
func Map(code []byte) (*Segment, error) {
	if len(code) == 0 {
		panic("BUG: codemem.Map with zero length")
	}
	buf, err := unix.Mmap(-1, 0, len(code), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANON)
	if err != nil {
		return nil, fmt.Errorf("codemem: mmap: %w", err)
	}
	copy(buf, code)
	return &Segment{code: buf}, nil
}

// Protect flips the segment from RW to RX, matching spec §4.6's "prepare
// makes it executable" contract.
func (s *Segment) Protect() error {
	if len(s.code) == 0 {
		return ErrNotMapped
	}
	if err := unix.Mprotect(s.code, unix.PROT_READ|unix.PROT_EXEC); err != nil {
		return fmt.Errorf("codemem: mprotect: %w", err)
	}
	return nil
}

// Unmap releases the segment. The segment must not be used afterward.
func (s *Segment) Unmap() error {
	if len(s.code) == 0 {
		return ErrNotMapped
	}
	err := unix.Munmap(s.code)
	s.code = nil
	if err != nil {
		return fmt.Errorf("codemem: munmap: %w", err)
	}
	return nil
}
