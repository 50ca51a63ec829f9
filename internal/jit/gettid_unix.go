//go:build unix

package jit

import "golang.org/x/sys/unix"

// currentThreadID returns the calling OS thread's id, the key execState
// uses. This is deliberately the OS thread, not the calling goroutine:
// Go's runtime can migrate a goroutine between OS threads between calls,
// but never mid-call, and a fastmem fault only ever lands synchronously
// inside the single nativecall.CallRaw invocation enterFastmem/exitFastmem
// bracket, which runs without a safepoint the scheduler could use to move
// it (it's in a cgo-free assembly call with no Go preemption points).
func currentThreadID() int { return unix.Gettid() }
