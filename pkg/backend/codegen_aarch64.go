package backend

import (
	"encoding/binary"

	"github.com/Manu343726/escarabajo/pkg/utils"
)

// AArch64 BL Instruction Format (32-bit):
//
//	┌──────────────────────────────────────┐
//	│  31-26  │          25-0              │
//	│ opcode  │  imm26 (word displacement) │
//	└──────────────────────────────────────┘
//
// The displacement is measured in 4-byte words from the instruction address
// itself, so patch positions point at the instruction, not the operand.
var (
	a64BranchImmMask    = utils.AllOnes[uint32](26)
	a64BranchOpcodeMask = ^a64BranchImmMask
)

type aarch64CodeGen struct{}

func (aarch64CodeGen) EmitCallPatches(m *Module, funcLayout []uint32) {
	for ti := range m.ThreadInfo {
		for _, p := range m.ThreadInfo[ti].CallPatches {
			out := m.Functions[p.SourceFunc].Output
			if out == nil {
				continue
			}

			site := int(out.PrologueLength) + int(p.Pos)
			actualPos := funcLayout[p.SourceFunc] + uint32(out.PrologueLength) + p.Pos
			delta := int32(funcLayout[p.TargetFunc]) - int32(actualPos)

			instruction := binary.LittleEndian.Uint32(out.Code[site:])
			imm := uint32(delta>>2) & a64BranchImmMask
			binary.LittleEndian.PutUint32(out.Code[site:], (instruction&a64BranchOpcodeMask)|imm)
		}
	}
}
