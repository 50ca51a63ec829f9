package amd64

import (
	"strings"

	"github.com/retrojit/dbtjit/internal/backend/nativecall"
	"github.com/retrojit/dbtjit/internal/codemem"
	"github.com/retrojit/dbtjit/internal/guest"
)

// Routine is the amd64 back-end's backend.Routine: a block of RW machine
// code that Prepare maps RX and Execute invokes through nativecall.CallRaw.
//
// Unlike the bytecode back-end, Execute never touches the guest.Guest
// interface directly — the emitted code itself dereferences registerBase
// and (when fastmem is enabled) memoryBase, exactly as spec §4.6.2
// describes. g is accepted only to satisfy backend.Routine's shared
// signature; a future host-call-capable native back-end would thread it
// through as the callback target, per the reasoning in
// internal/backend/nativecall's doc comment.
type Routine struct {
	code    []byte
	listing []string
	seg     *codemem.Segment
}

// Prepare maps the routine's code RW->RX. commit is honored as documented
// on backend.Routine: passing false still maps and protects immediately,
// since this back-end has no staged/deferred compilation step of its own.
func (r *Routine) Prepare(commit bool) (bool, error) {
	if r.seg != nil {
		return true, nil
	}
	seg, err := codemem.Map(r.code)
	if err != nil {
		return false, err
	}
	if err := seg.Protect(); err != nil {
		seg.Unmap()
		return false, err
	}
	r.seg = seg
	return true, nil
}

// Execute runs the compiled routine. g is unused (see the type doc
// comment); memoryBase/registerBase are passed straight to the native
// entry point, matching the register-pinning contract emit.go compiled
// against.
func (r *Routine) Execute(g guest.Guest, memoryBase, registerBase uintptr) uint64 {
	if r.seg == nil {
		if _, err := r.Prepare(true); err != nil {
			panic(err)
		}
	}
	return nativecall.CallRaw(r.seg.Addr(), memoryBase, registerBase)
}

// Disassemble renders the RTL listing this routine was compiled from; it
// does not disassemble the raw machine code itself.
func (r *Routine) Disassemble() string {
	return strings.Join(r.listing, "\n")
}
