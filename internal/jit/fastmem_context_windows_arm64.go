//go:build windows && arm64

package jit

import "unsafe"

// Fastmem recovery on windows/arm64 is declined: this module's arm64
// back-end is grounded on the AAPCS64 Linux calling/signal conventions
// (see fastmem_context_arm64.go), and the retrieved example pack carries
// no Windows/ARM64 CONTEXT layout reference to ground one on with
// confidence. A block compiled with fastmem on this platform combination
// simply never faults into a recognized form; contextPC always reports
// !ok, so vectoredHandler always forwards to the next handler (process
// default: terminate), the same outcome as if fastmem were compiled with
// UseFastmem: false.
func contextPC(ctx unsafe.Pointer) (uint64, bool) { return 0, false }

func advanceContextPC(ctx unsafe.Pointer, n uint64) {}

func setContextGPR(ctx unsafe.Pointer, reg int, v uint64, bytes int) {}

func decodeLoadAt(pc uint64) (decodedLoad, bool) { return decodedLoad{}, false }
