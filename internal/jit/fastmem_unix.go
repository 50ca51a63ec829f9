//go:build unix

package jit

import (
	"unsafe"

	"golang.org/x/sys/unix"
)

// installed guards RegisterFaultHandler against being called more than
// once per process. This package expects to be the only SIGSEGV/SIGBUS
// handler installed: a fault it can't recover (not inside a thread's
// bracketed execState, or not one of the load forms backend/amd64 and
// backend/arm64 emit) crashes the process rather than being chained to
// whatever disposition preceded it. An embedder that also wants its own
// SIGSEGV handling for other reasons must layer that on its own; this is a
// known simplification, not an oversight.
var installed bool

// RegisterFaultHandler installs this package's SIGSEGV/SIGBUS handler,
// enabling fastmem recovery (spec §4.7's "Fastmem fault handling"). It must
// be called once, before any native Routine with fastmem enabled executes.
//
// This relies on the kernel invoking a SA_SIGINFO handler on the faulting
// thread's own stack with the standard (signum, *siginfo_t, *ucontext_t)
// argument convention; sigTrampoline (fastmem_trampoline_*.s) is the
// minimal assembly shim that convention requires, in the same spirit as
// nativecall's hand-written call boundary (see that package's doc comment)
// — this is its mirror image, the one place compiled guest code's fault
// crosses back into Go. The trampoline itself does no g/m bookkeeping the
// way the Go runtime's own internal signal handler does before running
// arbitrary Go code on a signal stack; handleFault is kept deliberately
// small (map lookup, a handful of field reads, one guest.Load call) to
// stay within what that simplification can tolerate.
func RegisterFaultHandler() error {
	if installed {
		return nil
	}
	act := unix.Sigaction{
		Flags: unix.SA_SIGINFO | unix.SA_RESTART,
	}
	act.Handler = sigTrampolineAddr()
	unix.Sigemptyset(&act.Mask)

	if err := unix.Sigaction(unix.SIGSEGV, &act, nil); err != nil {
		return err
	}
	if err := unix.Sigaction(unix.SIGBUS, &act, nil); err != nil {
		return err
	}
	installed = true
	return nil
}

// sigTrampolineAddr is implemented in fastmem_trampoline_amd64.s /
// fastmem_trampoline_arm64.s: it returns the trampoline entry point's own
// address for use as a raw sa_sigaction function pointer.
func sigTrampolineAddr() uintptr

// handleFault is called by the assembly trampoline with the raw
// (signum, siginfo, ucontext) triple the kernel delivered, each widened to
// a uintptr so the ABI0 stack-passing convention the trampoline uses has no
// sub-word-width ambiguity to get wrong. It must not allocate or block: it
// runs on the interrupted thread, inside the signal, with no guarantee the
// interrupted code left the Go scheduler in a state that tolerates either.
//
// It returns 1 if it recovered the fault and patched the saved context to
// resume past it, 0 if the fault is unrecoverable — the trampoline treats
// 0 as fatal and aborts the process, per this file's "no chaining" doc
// comment above.
//
//go:nosplit
func handleFault(sig, infoPtr, ctxPtr uintptr) uintptr {
	info := unsafe.Pointer(infoPtr)
	ctx := unsafe.Pointer(ctxPtr)

	tid := currentThreadID()
	st, ok := lookupExecState(tid)
	if !ok {
		return 0
	}

	faultAddr := faultingAddress(info)
	if !st.reservation.Contains(faultAddr) {
		return 0
	}

	pc := contextPC(ctx)
	load, decodeOK := decodeLoadAt(pc)
	if !decodeOK {
		return 0
	}

	guestAddr := uint32(faultAddr - st.reservation.Base)
	v := recoverFault(st, guestAddr, load.bytes)
	setContextGPR(ctx, load.destReg, v, load.bytes)
	advanceContextPC(ctx, uint64(load.instrLen))
	return 1
}

func codeAt(pc uint64, n int) []byte {
	return unsafe.Slice((*byte)(unsafe.Pointer(uintptr(pc))), n)
}
