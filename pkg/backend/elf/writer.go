package elf

import (
	"log/slog"

	"github.com/Manu343726/escarabajo/pkg/backend"
	"github.com/Manu343726/escarabajo/pkg/utils"
)

// DebugFormat is an opaque handle to a debug information formatter. Debug
// sections are not emitted yet; the writers accept the handle for forward
// compatibility and ignore it.
type DebugFormat interface {
	Name() string
}

// WriteRelocatable serializes the module into an ELF64 relocatable object
// (ET_REL) with a symbol table and .text relocations, ready for linking.
//
// Side effects on the module: externals and globals receive their assigned
// symbol ids, and the code generator resolves the intra-module call
// displacements in place.
func WriteRelocatable(m *backend.Module, debugFormat DebugFormat) ([]byte, error) {
	ow := &objectWriter{module: m}
	return ow.write()
}

type objectWriter struct {
	module *backend.Module

	header     Ehdr
	sections   [sMax]Shdr
	tables     *symbolTables
	funcLayout []uint32
	relocs     []relocationSection
}

func (ow *objectWriter) write() ([]byte, error) {
	if err := ow.prepare(); err != nil {
		return nil, err
	}
	if err := ow.resolvePatches(); err != nil {
		return nil, err
	}
	ow.buildSymbolTable()
	ow.plan()
	return ow.emit()
}

// Resolves the target machine, fills in the header and section skeletons and
// assigns a symbol table slot to every function, external and global
func (ow *objectWriter) prepare() error {
	machine, err := machineFor(ow.module.TargetArch)
	if err != nil {
		return err
	}

	ow.header = Ehdr{
		Ident:     elfIdent(),
		Type:      ET_REL,
		Machine:   machine,
		Version:   EV_CURRENT,
		Ehsize:    EhdrSize,
		Shentsize: ShdrSize,
		Shnum:     sMax,
		Shstrndx:  sStrtab,
	}
	ow.sections = objectSections()

	ow.tables = newSymbolTables()
	for i := sStrtab; i < sMax; i++ {
		ow.sections[i].Name = ow.tables.strtab.CString(sectionNames[i])
	}

	ow.assignSymbolIDs()
	return nil
}

// Assigns the symbol index space: slots 0..sMax-1 are the null and section
// symbols, compiled functions follow, then every external and finally every
// global, in flat partition concatenation order. The assigned ids are stored
// back into the records so relocation emission can read them.
func (ow *objectWriter) assignSymbolIDs() {
	functionSymStart := uint32(sMax)
	externalSymBaseline := functionSymStart + uint32(ow.module.CompiledCount())

	id := externalSymBaseline
	for ti := range ow.module.ThreadInfo {
		for _, external := range ow.module.ThreadInfo[ti].Externals {
			external.SymbolID = id
			id++
		}
	}
	for ti := range ow.module.ThreadInfo {
		for _, global := range ow.module.ThreadInfo[ti].Globals {
			global.ID = id
			id++
		}
	}
}

// Computes the function layout, lets the code generator resolve the
// intra-module call displacements against it, and collects the relocation
// entries of the remaining patches. The code generator must run before
// relocation collection so the emitted code bytes are final.
func (ow *objectWriter) resolvePatches() error {
	codeGen, err := backend.FindCodeGen(ow.module.TargetArch)
	if err != nil {
		return err
	}

	ow.funcLayout = textLayout(ow.module)
	ow.sections[sText].Size = uint64(ow.funcLayout[len(ow.module.Functions)])

	codeGen.EmitCallPatches(ow.module, ow.funcLayout)

	ow.relocs, err = relocationSections(ow.module, ow.funcLayout)
	if err != nil {
		return err
	}
	for _, rs := range ow.relocs {
		ow.sections[rs.section].Size = uint64(len(rs.entries)) * RelaSize
	}
	return nil
}

// Builds the symbol table in its fixed order: the null symbol, one section
// symbol per non-null section, compiled functions, externals, data globals
func (ow *objectWriter) buildSymbolTable() {
	m := ow.module

	ow.tables.putNull()

	for i := sStrtab; i < sMax; i++ {
		ow.tables.put(sectionNames[i], SymInfo(STB_LOCAL, STT_SECTION), uint16(i), 0, 0)
	}

	for i := range m.Functions {
		if m.Functions[i].Output == nil {
			continue
		}
		funcSize := ow.funcLayout[i+1] - ow.funcLayout[i]
		ow.tables.put(m.Functions[i].Name, SymInfo(STB_GLOBAL, STT_FUNC), sText,
			uint64(ow.funcLayout[i]), uint64(funcSize))
	}

	for ti := range m.ThreadInfo {
		for _, external := range m.ThreadInfo[ti].Externals {
			ow.tables.put(external.Name, SymInfo(STB_GLOBAL, STT_NOTYPE), 0, 0, 0)
		}
	}

	for ti := range m.ThreadInfo {
		for _, global := range m.ThreadInfo[ti].Globals {
			shndx := uint16(sData)
			if global.Storage == backend.StorageBSS {
				shndx = sBss
			}
			var size uint64
			if global.Init != nil {
				size = uint64(global.Init.Size)
			}
			ow.tables.put(global.Name, SymInfo(STB_GLOBAL, STT_OBJECT), shndx,
				uint64(global.Pos), size)
		}
	}
}

// Fixes the remaining section sizes and assigns every file offset: sections
// in table order starting right after the file header, the section header
// table after the last section. NOBITS sections occupy no file bytes.
func (ow *objectWriter) plan() {
	ow.sections[sSymtab].Size = uint64(ow.tables.symtab.Len())
	ow.sections[sStrtab].Size = uint64(ow.tables.strtab.Len())
	ow.sections[sData].Size = uint64(ow.module.DataRegionSize)
	ow.sections[sRodata].Size = uint64(ow.module.RDataRegionSize)
	ow.sections[sBss].Size = bssSize(ow.module)

	outputSize := uint64(EhdrSize)
	for i := range ow.sections {
		ow.sections[i].Offset = outputSize
		if ow.sections[i].Type != SHT_NOBITS {
			outputSize += ow.sections[i].Size
		}
	}

	ow.header.Shoff = outputSize

	slog.Debug("planned relocatable object layout",
		"text", ow.sections[sText].Size,
		"relocations", ow.sections[sRelaText].Size/RelaSize,
		"symtab", ow.sections[sSymtab].Size/SymSize,
		"shoff", ow.header.Shoff)
}

// Writes every planned piece into a single allocation, verifying at each
// section boundary that the cursor landed exactly on the planned offset
func (ow *objectWriter) emit() ([]byte, error) {
	m := ow.module
	outputSize := ow.header.Shoff + sMax*ShdrSize

	w := imageWriter{out: make([]byte, outputSize)}

	var header Emitter
	header.Reserve(EhdrSize)
	ow.header.emit(&header)
	w.write(header.Bytes())

	if err := w.check(sectionNames[sStrtab], ow.sections[sStrtab].Offset); err != nil {
		return nil, err
	}
	w.write(ow.tables.strtab.Bytes())

	if err := w.check(sectionNames[sText], ow.sections[sText].Offset); err != nil {
		return nil, err
	}
	for i := range m.Functions {
		if out := m.Functions[i].Output; out != nil {
			w.write(out.Code)
		}
	}

	for _, rs := range ow.relocs {
		if err := w.check(sectionNames[rs.section], ow.sections[rs.section].Offset); err != nil {
			return nil, err
		}
		var entries Emitter
		entries.Reserve(len(rs.entries) * RelaSize)
		for i := range rs.entries {
			rs.entries[i].emit(&entries)
		}
		w.write(entries.Bytes())
	}

	if err := w.check(sectionNames[sData], ow.sections[sData].Offset); err != nil {
		return nil, err
	}
	ow.writeDataSection(&w)

	if err := w.check(sectionNames[sRodata], ow.sections[sRodata].Offset); err != nil {
		return nil, err
	}
	ow.writeRodataSection(&w)

	if err := w.check(sectionNames[sSymtab], ow.sections[sSymtab].Offset); err != nil {
		return nil, err
	}
	w.write(ow.tables.symtab.Bytes())

	if err := w.check("section header table", ow.header.Shoff); err != nil {
		return nil, err
	}
	var headers Emitter
	headers.Reserve(sMax * ShdrSize)
	for i := range ow.sections {
		ow.sections[i].emit(&headers)
	}
	w.write(headers.Bytes())

	if err := w.check("end of image", outputSize); err != nil {
		return nil, err
	}
	return w.out, nil
}

// Copies the initializer regions of every .data global into its position
// inside the data region; uncovered bytes stay zero
func (ow *objectWriter) writeDataSection(w *imageWriter) {
	region := w.region(ow.sections[sData].Size)

	for ti := range ow.module.ThreadInfo {
		for _, global := range ow.module.ThreadInfo[ti].Globals {
			if global.Storage != backend.StorageData || global.Init == nil {
				continue
			}
			for _, obj := range global.Init.Objects {
				if obj.Kind == backend.RegionObject {
					copy(region[global.Pos+obj.Offset:], obj.Data)
				}
			}
		}
	}
}

// Copies every constant-pool patch's data to its position inside .rodata
func (ow *objectWriter) writeRodataSection(w *imageWriter) {
	region := w.region(ow.sections[sRodata].Size)

	for ti := range ow.module.ThreadInfo {
		for _, p := range ow.module.ThreadInfo[ti].ConstPatches {
			copy(region[p.RDataPos:], p.Data)
		}
	}
}

// Returns the e_machine code of the given target architecture
func machineFor(arch backend.Arch) (uint16, error) {
	switch arch {
	case backend.ArchX86_64:
		return EM_X86_64, nil
	case backend.ArchAArch64:
		return EM_AARCH64, nil
	default:
		return 0, utils.MakeError(backend.ErrUnsupportedArch, "%v has no ELF machine code", arch)
	}
}
