//go:build windows

package jit

import "golang.org/x/sys/windows"

// currentThreadID returns the calling OS thread's id (see the unix variant's
// doc comment for why the OS thread, not the goroutine, is the right key).
func currentThreadID() int { return int(windows.GetCurrentThreadId()) }
