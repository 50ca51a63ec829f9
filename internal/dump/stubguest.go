package dump

import "encoding/binary"

// StubGuest is a flat, in-memory guest.Guest used by cmd/dbtjit-trace's
// `run` subcommand to execute a loaded dump without a real front-end —
// host-side debugging only, per spec §6's persisted-artifacts note.
type StubGuest struct {
	Registers []byte
	Memory    []byte
}

// NewStubGuest allocates a guest with regBytes of register space and
// memBytes of linear memory, both zeroed.
func NewStubGuest(regBytes, memBytes int) *StubGuest {
	return &StubGuest{Registers: make([]byte, regBytes), Memory: make([]byte, memBytes)}
}

func (g *StubGuest) RegisterRead(index uint32, bytes int) uint64 {
	return readLE(g.Registers, index, bytes)
}

func (g *StubGuest) RegisterWrite(index uint32, bytes int, value uint64) {
	writeLE(g.Registers, index, bytes, value)
}

func (g *StubGuest) Load(address uint32, bytes int) uint64 {
	return readLE(g.Memory, address, bytes)
}

func (g *StubGuest) Store(address uint32, bytes int, value uint64) {
	writeLE(g.Memory, address, bytes, value)
}

func readLE(buf []byte, index uint32, bytes int) uint64 {
	off := int(index) * 8
	b := buf[off : off+8]
	switch bytes {
	case 1:
		return uint64(b[0])
	case 2:
		return uint64(binary.LittleEndian.Uint16(b))
	case 4:
		return uint64(binary.LittleEndian.Uint32(b))
	default:
		return binary.LittleEndian.Uint64(b)
	}
}

func writeLE(buf []byte, index uint32, bytes int, value uint64) {
	off := int(index) * 8
	b := buf[off : off+8]
	switch bytes {
	case 1:
		b[0] = byte(value)
	case 2:
		binary.LittleEndian.PutUint16(b, uint16(value))
	case 4:
		binary.LittleEndian.PutUint32(b, uint32(value))
	default:
		binary.LittleEndian.PutUint64(b, value)
	}
}
