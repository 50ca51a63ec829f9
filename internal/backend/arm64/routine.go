package arm64

import (
	"strings"

	"github.com/retrojit/dbtjit/internal/backend/nativecall"
	"github.com/retrojit/dbtjit/internal/codemem"
	"github.com/retrojit/dbtjit/internal/guest"
)

// Routine is the arm64 back-end's backend.Routine, the AArch64 analogue of
// backend/amd64's Routine: a block of RW machine code that Prepare maps RX
// and Execute invokes through nativecall.CallRaw using the AAPCS argument
// registers emit.go compiled the prologue against.
type Routine struct {
	code    []byte
	listing []string
	seg     *codemem.Segment
}

// Prepare maps the routine's code RW->RX, same semantics as amd64's.
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

// Execute runs the compiled routine. g is unused, matching amd64's Routine
// (see its doc comment) — this back-end has no host-call trampoline either.
func (r *Routine) Execute(g guest.Guest, memoryBase, registerBase uintptr) uint64 {
	if r.seg == nil {
		if _, err := r.Prepare(true); err != nil {
			panic(err)
		}
	}
	return nativecall.CallRaw(r.seg.Addr(), memoryBase, registerBase)
}

// Disassemble renders the RTL listing this routine was compiled from.
func (r *Routine) Disassemble() string {
	return strings.Join(r.listing, "\n")
}
