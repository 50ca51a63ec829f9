// Package dump implements the JSON on-disk representation
// cmd/dbtjit-trace reads and writes. Per spec §6 ("Persisted artifacts:
// none — any corelike dump is host-side debugging output only"), this
// format is not part of the DBT core's contract; it exists solely so the
// trace CLI has something to load without requiring a guest front-end
// wired up to produce an ExecutionUnit live.
package dump

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/retrojit/dbtjit/internal/ir"
)

// ExecutionUnit is the serializable form of an *ir.ExecutionUnit: the
// opcode/type enums round-trip by their underlying numeric value (Name
// fields are informational only, filled in by Encode for a human skimming
// the file, ignored by Decode).
type ExecutionUnit struct {
	RegisterOffset uint32         `json:"register_offset"`
	Instructions   []Instruction  `json:"instructions"`
}

type Instruction struct {
	Opcode     uint32    `json:"opcode"`
	OpcodeName string    `json:"opcode_name,omitempty"`
	Type       byte      `json:"type"`
	TypeName   string    `json:"type_name,omitempty"`
	HasResult  bool      `json:"has_result"`
	Result     uint32    `json:"result,omitempty"`
	Sources    []Operand `json:"sources,omitempty"`
}

type Operand struct {
	IsConst  bool   `json:"is_const"`
	Type     byte   `json:"type"`
	TypeName string `json:"type_name,omitempty"`
	Reg      uint32 `json:"reg,omitempty"`
	Bits     uint64 `json:"bits,omitempty"`
}

// Encode renders eu as its JSON dump form.
func Encode(eu *ir.ExecutionUnit) *ExecutionUnit {
	out := &ExecutionUnit{RegisterOffset: eu.RegisterOffset()}
	eu.Instructions().Iterate(func(_ ir.InstrID, in *ir.Instruction) bool {
		srcs := in.Sources()
		di := Instruction{
			Opcode:     uint32(in.Opcode()),
			OpcodeName: in.Opcode().String(),
			Type:       byte(in.Type()),
			TypeName:   in.Type().String(),
			HasResult:  in.HasResult(),
			Sources:    make([]Operand, len(srcs)),
		}
		if in.HasResult() {
			di.Result = uint32(in.Result())
		}
		for i, s := range srcs {
			di.Sources[i] = Operand{
				IsConst:  s.IsConst(),
				Type:     byte(s.Type()),
				TypeName: s.Type().String(),
				Bits:     s.Bits(),
			}
			if s.IsReg() {
				di.Sources[i].Reg = uint32(s.Reg())
			}
		}
		out.Instructions = append(out.Instructions, di)
		return true
	})
	return out
}

// WriteJSON writes eu's dump form to w, pretty-printed for readability
// since these files are debugging artifacts, not a hot-path format.
func WriteJSON(w io.Writer, eu *ir.ExecutionUnit) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(Encode(eu))
}

// Decode reconstructs an *ir.ExecutionUnit from its dump form using
// ir.NewRawInstruction, the same unchecked constructor the optimizer and
// RTL lowering use to re-emit already-validated instructions — a loaded
// dump is assumed well-typed (there is no Assembler re-validation pass;
// dumps are written by this same package, by Encode, in practice).
func Decode(d *ExecutionUnit) *ir.ExecutionUnit {
	eu := ir.NewExecutionUnit(d.RegisterOffset)
	for _, di := range d.Instructions {
		srcs := make([]ir.Operand, len(di.Sources))
		for i, s := range di.Sources {
			typ := ir.Type(s.Type)
			if s.IsConst {
				srcs[i] = ir.ConstOperand(typ, s.Bits)
			} else {
				srcs[i] = ir.RegOperand(typ, ir.Reg(s.Reg))
			}
		}
		result := ir.InvalidReg
		if di.HasResult {
			result = ir.Reg(di.Result)
		}
		eu.Emit(ir.NewRawInstruction(ir.Opcode(di.Opcode), ir.Type(di.Type), result, srcs...))
	}
	return eu
}

// ReadJSON loads an ExecutionUnit dump from r.
func ReadJSON(r io.Reader) (*ir.ExecutionUnit, error) {
	var d ExecutionUnit
	if err := json.NewDecoder(r).Decode(&d); err != nil {
		return nil, fmt.Errorf("dump: decode: %w", err)
	}
	return Decode(&d), nil
}
