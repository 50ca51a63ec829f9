// Package nativecall provides the single entry point native routines are
// invoked through: a tiny per-arch assembly stub that loads two arguments
// into the fixed registers a compiled Routine's prologue expects
// (memoryBase, registerBase) and calls the routine's entry address.
//
// This is deliberately the only place compiled machine code and Go cross a
// call boundary in either direction: compilation never emits an outbound
// call to an arbitrary Go function pointer (see backend/amd64, backend/
// arm64 doc comments on HostCall support), so one small, hand-verifiable
// glue routine per architecture is all either native back-end needs.
package nativecall

// CallRaw jumps to the machine code at entry, passing memoryBase and
// registerBase in the registers the emitted prologue reads them from (see
// call_amd64.s / call_arm64.s), and returns the routine's u64 result.
func CallRaw(entry, memoryBase, registerBase uintptr) uint64
