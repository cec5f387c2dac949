package backend

import "encoding/binary"

// x86-64 near calls encode their target as a 32-bit displacement relative to
// the end of the 4-byte operand. Call patches point at the operand itself.
type x64CodeGen struct{}

func (x64CodeGen) EmitCallPatches(m *Module, funcLayout []uint32) {
	for ti := range m.ThreadInfo {
		for _, p := range m.ThreadInfo[ti].CallPatches {
			out := m.Functions[p.SourceFunc].Output
			if out == nil {
				continue
			}

			site := int(out.PrologueLength) + int(p.Pos)
			actualPos := funcLayout[p.SourceFunc] + uint32(out.PrologueLength) + p.Pos
			disp := int32(funcLayout[p.TargetFunc]) - int32(actualPos+4)

			binary.LittleEndian.PutUint32(out.Code[site:], uint32(disp))
		}
	}
}
