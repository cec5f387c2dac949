package elf

import (
	"github.com/Manu343726/escarabajo/pkg/backend"
)

// relocationSection pairs a relocation section with its entries. Writers
// iterate the returned list in order; today only .rela.text is populated,
// and .rela.data slots in here once data relocations are tallied.
type relocationSection struct {
	section int
	entries []Rela
}

// Collects the relocation sections of the relocatable flavor. Symbol ids
// must already be assigned, and intra-module call patches must already be
// resolved so the entry order matches the final code bytes.
func relocationSections(m *backend.Module, funcLayout []uint32) ([]relocationSection, error) {
	text, err := textRelocations(m, funcLayout)
	if err != nil {
		return nil, err
	}

	return []relocationSection{
		{section: sRelaText, entries: text},
	}, nil
}

// Resolves the external-call and constant-pool patches of every partition
// into .rela.text entries. External calls relocate against the external's
// symbol; constant-pool loads relocate against the .rodata section symbol.
func textRelocations(m *backend.Module, funcLayout []uint32) ([]Rela, error) {
	count := 0
	for ti := range m.ThreadInfo {
		count += len(m.ThreadInfo[ti].ExternCallPatches)
		count += len(m.ThreadInfo[ti].ConstPatches)
	}

	relocs := make([]Rela, 0, count)
	for ti := range m.ThreadInfo {
		for _, p := range m.ThreadInfo[ti].ExternCallPatches {
			site, err := patchSite(m, funcLayout, p.SourceFunc, p.Pos)
			if err != nil {
				return nil, err
			}

			relocs = append(relocs, Rela{
				Offset: uint64(site),
				Info:   RelaInfo(p.Target.SymbolID, R_X86_64_PLT32),
				Addend: -4,
			})
		}

		for _, p := range m.ThreadInfo[ti].ConstPatches {
			site, err := patchSite(m, funcLayout, p.SourceFunc, p.Pos)
			if err != nil {
				return nil, err
			}

			relocs = append(relocs, Rela{
				Offset: uint64(site),
				Info:   RelaInfo(sRodata, R_X86_64_PLT32),
				Addend: -4,
			})
		}
	}

	return relocs, nil
}
