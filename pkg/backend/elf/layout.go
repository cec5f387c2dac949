package elf

import (
	"github.com/Manu343726/escarabajo/pkg/backend"
	"github.com/Manu343726/escarabajo/pkg/utils"
)

// Returns the running byte offsets of every function inside the code
// section. The returned slice has one extra trailing slot holding the total
// section size; functions without a compiled output contribute zero bytes.
func textLayout(m *backend.Module) []uint32 {
	layout := make([]uint32, len(m.Functions)+1)

	offset := uint32(0)
	for i := range m.Functions {
		layout[i] = offset
		if out := m.Functions[i].Output; out != nil {
			offset += uint32(out.CodeSize())
		}
	}

	layout[len(m.Functions)] = offset
	return layout
}

// Returns the absolute code-section offset of a patch applied pos bytes past
// the prologue of the given function. The patched word must lie inside the
// function's compiled output.
func patchSite(m *backend.Module, funcLayout []uint32, funcIdx int, pos uint32) (uint32, error) {
	out := m.Functions[funcIdx].Output
	if out == nil {
		return 0, utils.MakeError(backend.ErrLayoutMismatch,
			"patch targets function %q which has no compiled output", m.Functions[funcIdx].Name)
	}

	site := uint32(out.PrologueLength) + pos
	if int(site)+4 > out.CodeSize() {
		return 0, utils.MakeError(backend.ErrLayoutMismatch,
			"patch at offset %d of function %q falls outside its %d code bytes",
			site, m.Functions[funcIdx].Name, out.CodeSize())
	}

	return funcLayout[funcIdx] + site, nil
}

// Returns the byte size of the .bss region: the highest end position of any
// BSS-storage global, or zero when the module has none
func bssSize(m *backend.Module) uint64 {
	size := uint64(0)
	for ti := range m.ThreadInfo {
		for _, g := range m.ThreadInfo[ti].Globals {
			if g.Storage != backend.StorageBSS || g.Init == nil {
				continue
			}
			if end := uint64(g.Pos) + uint64(g.Init.Size); end > size {
				size = end
			}
		}
	}
	return size
}
