package jit

// GuardFlags is the bitmask of CPU-state dependencies a compilation may
// bake in (spec §3, "Guard flags"). The set itself is guest-specific and
// deliberately narrow and manually enumerated rather than auto-specialized
// (spec §9's design note): a front-end defines its own bit meanings (FPU
// SZ/PR mode, ABI bank selection, ...) and passes them through
// UnitBuilder.SetGuardFlags / the cpuFlags argument to Execute. jit itself
// never interprets individual bits, only compares masked values.
type GuardFlags uint64

// Depends reports whether g includes every bit set in bits.
func (g GuardFlags) Depends(bits GuardFlags) bool { return g&bits == bits }

// blockFlags is the internal bookkeeping set of non-guard flags a
// BasicBlock carries, distinct from the guest-defined GuardFlags: whether
// fastmem has been disabled for this block (spec §4.7, "Fastmem fault
// handling" — a fault downgrades the block's next recompile to slow-path
// loads) and whether the block is marked dirty pending invalidation.
type blockFlag uint32

const (
	flagDirty blockFlag = 1 << iota
	flagDisableFastmem
)
