// Package dbtapi is dbtjit's internal debug/tracing surface, the analogue
// of the teacher's wazevoapi package: environment-gated debug booleans read
// once at process start, plus a small generic object pool used by the
// back-ends' amode/instruction arenas. There is no logging library
// dependency here, matching the teacher: debug output is plain
// fmt.Fprintf(os.Stderr, ...) gated by these flags, never a structured
// logger, since this package sits on the hot compile path and the teacher's
// own compiler core never pulls in one either.
package dbtapi

import "os"

// Debug flags, each gated by an environment variable read once at package
// init, mirroring wazevoapi's PrintEnabledXXX consts.
var (
	// PrintIR, when set (DBTJIT_PRINT_IR=1), makes the JIT cache log each
	// ExecutionUnit's disassembly to stderr when a BasicBlock is created.
	PrintIR = envBool("DBTJIT_PRINT_IR")

	// PrintRTL logs each back-end's allocated RTL program before emission.
	PrintRTL = envBool("DBTJIT_PRINT_RTL")

	// PrintGuardMisses logs every guard-flag mismatch a BasicBlock hits.
	PrintGuardMisses = envBool("DBTJIT_PRINT_GUARD_MISSES")

	// PerfMap, when set, makes the JIT cache write a /tmp/perf-<pid>.map
	// style symbol file (see perfmap.go) mapping compiled code ranges to
	// guest symbols for `perf report`/`dtrace` to resolve.
	PerfMap = envBool("DBTJIT_PERF_MAP")
)

func envBool(name string) bool {
	v := os.Getenv(name)
	return v != "" && v != "0"
}

// Pool is a small generic free-list, the same shape as wazevoapi.Pool[T]:
// a slice of already-allocated *T values reused across compilations to
// avoid repeated allocation of short-lived scratch structures (back-end
// addressing-mode records, RTL instruction staging buffers).
type Pool[T any] struct {
	free []*T
	new  func() *T
}

// NewPool creates a Pool whose elements are produced by newFn when the free
// list is empty.
func NewPool[T any](newFn func() *T) *Pool[T] {
	return &Pool[T]{new: newFn}
}

// Allocate returns a *T, either reused from the free list or freshly built.
func (p *Pool[T]) Allocate() *T {
	if n := len(p.free); n > 0 {
		v := p.free[n-1]
		p.free = p.free[:n-1]
		return v
	}
	return p.new()
}

// Reset returns v to the pool for reuse.
func (p *Pool[T]) Reset(v *T) {
	p.free = append(p.free, v)
}
