package elf

import (
	"bytes"
	stdelf "debug/elf"
	"encoding/binary"
	"testing"

	"github.com/Manu343726/escarabajo/pkg/backend"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func parseObject(t *testing.T, output []byte) *stdelf.File {
	t.Helper()
	file, err := stdelf.NewFile(bytes.NewReader(output))
	require.NoError(t, err, "the output must be parseable ELF")
	return file
}

func emptyModule(arch backend.Arch) *backend.Module {
	return &backend.Module{
		TargetArch: arch,
		ThreadInfo: make([]backend.ThreadInfo, 1),
	}
}

func singleFunctionModule(name string, codeSize, prologue int) *backend.Module {
	m := emptyModule(backend.ArchX86_64)
	m.Functions = []backend.Function{{
		Name: name,
		Output: &backend.FunctionOutput{
			Code:           make([]byte, codeSize),
			PrologueLength: prologue,
		},
	}}
	return m
}

func TestWriteRelocatable_EmptyModule(t *testing.T) {
	output, err := WriteRelocatable(emptyModule(backend.ArchX86_64), nil)
	require.NoError(t, err)

	assert.Equal(t, []byte{0x7F, 'E', 'L', 'F', 2, 1, 1}, output[:7])

	file := parseObject(t, output)
	assert.Equal(t, stdelf.ET_REL, file.Type)
	assert.Equal(t, stdelf.EM_X86_64, file.Machine)

	require.Len(t, file.Sections, sMax)
	expectedNames := []string{"", ".strtab", ".text", ".rela.text", ".data", ".rodata", ".bss", ".symtab"}
	for i, section := range file.Sections {
		assert.Equal(t, expectedNames[i], section.Name)
	}

	for _, name := range []string{".text", ".rela.text", ".data", ".rodata", ".bss"} {
		assert.Zero(t, file.Section(name).Size, "section %s must be empty", name)
	}
	assert.NotZero(t, file.Section(".strtab").Size)

	// null symbol plus the seven section symbols
	assert.Equal(t, uint64(8*SymSize), file.Section(".symtab").Size)

	symbols, err := file.Symbols()
	require.NoError(t, err)
	require.Len(t, symbols, sMax-1)
	for i, sym := range symbols {
		assert.Equal(t, stdelf.STT_SECTION, stdelf.ST_TYPE(sym.Info))
		assert.Equal(t, stdelf.STB_LOCAL, stdelf.ST_BIND(sym.Info))
		assert.Equal(t, expectedNames[i+1], sym.Name)
		assert.Equal(t, stdelf.SectionIndex(i+1), sym.Section)
	}
}

func TestWriteRelocatable_EmptyModuleAArch64(t *testing.T) {
	output, err := WriteRelocatable(emptyModule(backend.ArchAArch64), nil)
	require.NoError(t, err)

	file := parseObject(t, output)
	assert.Equal(t, stdelf.EM_AARCH64, file.Machine)
	assert.Equal(t, stdelf.ET_REL, file.Type)
}

func TestWriteRelocatable_SectionHeaderTableClosesTheFile(t *testing.T) {
	output, err := WriteRelocatable(singleFunctionModule("main", 16, 4), nil)
	require.NoError(t, err)

	shoff := binary.LittleEndian.Uint64(output[40:])
	shnum := binary.LittleEndian.Uint16(output[60:])
	assert.Equal(t, uint64(len(output)), shoff+uint64(shnum)*ShdrSize)
}

func TestWriteRelocatable_SectionOffsetsAreConsistent(t *testing.T) {
	m := singleFunctionModule("main", 32, 4)
	m.DataRegionSize = 24
	m.RDataRegionSize = 8
	m.ThreadInfo[0].Globals = []*backend.Global{{
		Name:    "buffer",
		Storage: backend.StorageBSS,
		Init:    &backend.Initializer{Size: 64},
	}}

	output, err := WriteRelocatable(m, nil)
	require.NoError(t, err)

	file := parseObject(t, output)
	shoff := binary.LittleEndian.Uint64(output[40:])

	previousEnd := uint64(EhdrSize)
	for i, section := range file.Sections {
		if i == 0 {
			continue
		}
		assert.GreaterOrEqual(t, section.Offset, previousEnd,
			"section %s overlaps its predecessor", section.Name)
		end := section.Offset
		if section.Type != stdelf.SHT_NOBITS {
			end += section.Size
		}
		assert.LessOrEqual(t, end, shoff, "section %s runs into the header table", section.Name)
		previousEnd = end
	}

	// .bss occupies no file bytes even with a nonzero size
	assert.Equal(t, uint64(64), file.Section(".bss").Size)
	assert.Equal(t, file.Section(".bss").Offset, file.Section(".symtab").Offset)
}

func TestWriteRelocatable_SingleFunction(t *testing.T) {
	output, err := WriteRelocatable(singleFunctionModule("main", 16, 4), nil)
	require.NoError(t, err)

	file := parseObject(t, output)
	assert.Equal(t, uint64(16), file.Section(".text").Size)
	assert.Zero(t, file.Section(".rela.text").Size)

	symbols, err := file.Symbols()
	require.NoError(t, err)
	require.Len(t, symbols, sMax-1+1)

	main := symbols[len(symbols)-1]
	assert.Equal(t, "main", main.Name)
	assert.Equal(t, stdelf.STT_FUNC, stdelf.ST_TYPE(main.Info))
	assert.Equal(t, stdelf.STB_GLOBAL, stdelf.ST_BIND(main.Info))
	assert.Equal(t, stdelf.SectionIndex(sText), main.Section)
	assert.Zero(t, main.Value)
	assert.Equal(t, uint64(16), main.Size)
}

func TestWriteRelocatable_UncompiledFunctionsTakeNoSpace(t *testing.T) {
	m := emptyModule(backend.ArchX86_64)
	m.Functions = []backend.Function{
		{Name: "declared_only"},
		{Name: "main", Output: &backend.FunctionOutput{Code: make([]byte, 8)}},
	}

	output, err := WriteRelocatable(m, nil)
	require.NoError(t, err)

	file := parseObject(t, output)
	assert.Equal(t, uint64(8), file.Section(".text").Size)

	symbols, err := file.Symbols()
	require.NoError(t, err)
	require.Len(t, symbols, sMax-1+1, "only the compiled function gets a symbol")
	assert.Equal(t, "main", symbols[len(symbols)-1].Name)
}

func decodeRelas(t *testing.T, file *stdelf.File) []Rela {
	t.Helper()
	data, err := file.Section(".rela.text").Data()
	require.NoError(t, err)
	require.Zero(t, len(data)%RelaSize)

	relas := make([]Rela, 0, len(data)/RelaSize)
	for pos := 0; pos < len(data); pos += RelaSize {
		relas = append(relas, Rela{
			Offset: binary.LittleEndian.Uint64(data[pos:]),
			Info:   binary.LittleEndian.Uint64(data[pos+8:]),
			Addend: int64(binary.LittleEndian.Uint64(data[pos+16:])),
		})
	}
	return relas
}

func TestWriteRelocatable_ExternCallRelocation(t *testing.T) {
	m := singleFunctionModule("main", 16, 4)
	puts := &backend.External{Name: "puts"}
	m.ThreadInfo[0].Externals = []*backend.External{puts}
	m.ThreadInfo[0].ExternCallPatches = []backend.ExternCallPatch{
		{SourceFunc: 0, Target: puts, Pos: 5},
	}

	output, err := WriteRelocatable(m, nil)
	require.NoError(t, err)

	// one compiled function: externals start right after its symbol
	expectedID := uint32(sMax) + 1
	assert.Equal(t, expectedID, puts.SymbolID)

	file := parseObject(t, output)
	relas := decodeRelas(t, file)
	require.Len(t, relas, 1)
	assert.Equal(t, uint64(9), relas[0].Offset, "patch lands past the 4-byte prologue")
	assert.Equal(t, RelaInfo(expectedID, R_X86_64_PLT32), relas[0].Info)
	assert.Equal(t, int64(-4), relas[0].Addend)

	symbols, err := file.Symbols()
	require.NoError(t, err)
	sym := symbols[len(symbols)-1]
	assert.Equal(t, "puts", sym.Name)
	assert.Equal(t, stdelf.STB_GLOBAL, stdelf.ST_BIND(sym.Info))
	assert.Equal(t, stdelf.STT_NOTYPE, stdelf.ST_TYPE(sym.Info))
	assert.Equal(t, stdelf.SectionIndex(0), sym.Section)
}

func TestWriteRelocatable_ConstPoolRelocation(t *testing.T) {
	constant := []byte{1, 2, 3, 4, 5, 6, 7, 8}

	m := singleFunctionModule("main", 16, 4)
	m.RDataRegionSize = uint32(len(constant))
	m.ThreadInfo[0].ConstPatches = []backend.ConstPoolPatch{
		{SourceFunc: 0, Pos: 3, RDataPos: 0, Data: constant},
	}

	output, err := WriteRelocatable(m, nil)
	require.NoError(t, err)

	file := parseObject(t, output)
	relas := decodeRelas(t, file)
	require.Len(t, relas, 1)
	assert.Equal(t, uint64(7), relas[0].Offset)
	assert.Equal(t, RelaInfo(sRodata, R_X86_64_PLT32), relas[0].Info, "constants relocate against the .rodata section symbol")
	assert.Equal(t, int64(-4), relas[0].Addend)

	rodata, err := file.Section(".rodata").Data()
	require.NoError(t, err)
	assert.Equal(t, constant, rodata)
}

func TestWriteRelocatable_DataSection(t *testing.T) {
	m := emptyModule(backend.ArchX86_64)
	m.DataRegionSize = 16
	m.ThreadInfo[0].Globals = []*backend.Global{{
		Name:    "counter",
		Storage: backend.StorageData,
		Pos:     8,
		Init: &backend.Initializer{
			Size:    8,
			Objects: []backend.InitObject{{Kind: backend.RegionObject, Offset: 4, Data: []byte{0xAA, 0xBB}}},
		},
	}}

	output, err := WriteRelocatable(m, nil)
	require.NoError(t, err)

	file := parseObject(t, output)
	data, err := file.Section(".data").Data()
	require.NoError(t, err)
	require.Len(t, data, 16)

	expected := make([]byte, 16)
	expected[12] = 0xAA
	expected[13] = 0xBB
	assert.Equal(t, expected, data, "initializer regions land at global pos plus object offset")

	symbols, err := file.Symbols()
	require.NoError(t, err)
	sym := symbols[len(symbols)-1]
	assert.Equal(t, "counter", sym.Name)
	assert.Equal(t, stdelf.STT_OBJECT, stdelf.ST_TYPE(sym.Info))
	assert.Equal(t, stdelf.SectionIndex(sData), sym.Section)
	assert.Equal(t, uint64(8), sym.Value)
	assert.Equal(t, uint64(8), sym.Size)
}

func TestWriteRelocatable_SymbolOrderAcrossPartitions(t *testing.T) {
	m := emptyModule(backend.ArchX86_64)
	m.ThreadInfo = make([]backend.ThreadInfo, 2)
	m.Functions = []backend.Function{
		{Name: "main", Output: &backend.FunctionOutput{Code: make([]byte, 4)}},
	}

	extA := &backend.External{Name: "malloc"}
	extB := &backend.External{Name: "free"}
	globalA := &backend.Global{Name: "table", Storage: backend.StorageData, Init: &backend.Initializer{Size: 4}}
	globalB := &backend.Global{Name: "cache", Storage: backend.StorageBSS, Init: &backend.Initializer{Size: 4}}

	m.ThreadInfo[0].Externals = []*backend.External{extA}
	m.ThreadInfo[0].Globals = []*backend.Global{globalA}
	m.ThreadInfo[1].Externals = []*backend.External{extB}
	m.ThreadInfo[1].Globals = []*backend.Global{globalB}
	m.DataRegionSize = 4

	output, err := WriteRelocatable(m, nil)
	require.NoError(t, err)

	// externals across every partition come first, then the globals
	baseline := uint32(sMax) + 1
	assert.Equal(t, baseline, extA.SymbolID)
	assert.Equal(t, baseline+1, extB.SymbolID)
	assert.Equal(t, baseline+2, globalA.ID)
	assert.Equal(t, baseline+3, globalB.ID)

	file := parseObject(t, output)
	symbols, err := file.Symbols()
	require.NoError(t, err)

	names := make([]string, 0, len(symbols))
	for _, sym := range symbols {
		names = append(names, sym.Name)
	}
	assert.Equal(t, []string{
		".strtab", ".text", ".rela.text", ".data", ".rodata", ".bss", ".symtab",
		"main", "malloc", "free", "table", "cache",
	}, names)

	assert.Equal(t, stdelf.SectionIndex(sBss), symbols[len(symbols)-1].Section)
}

func TestWriteRelocatable_RelaTextHeaderCrossReferences(t *testing.T) {
	m := singleFunctionModule("main", 16, 4)
	puts := &backend.External{Name: "puts"}
	m.ThreadInfo[0].Externals = []*backend.External{puts}
	m.ThreadInfo[0].ExternCallPatches = []backend.ExternCallPatch{{SourceFunc: 0, Target: puts, Pos: 0}}

	output, err := WriteRelocatable(m, nil)
	require.NoError(t, err)

	file := parseObject(t, output)
	rela := file.Section(".rela.text")
	assert.Equal(t, uint32(sSymtab), rela.Link)
	assert.Equal(t, uint32(sText), rela.Info, "sh_info names the section being relocated")
	assert.Equal(t, uint64(RelaSize), rela.Entsize)

	symtab := file.Section(".symtab")
	assert.Equal(t, uint32(sStrtab), symtab.Link)
	assert.Equal(t, uint32(sMax), symtab.Info)
	assert.Equal(t, uint64(SymSize), symtab.Entsize)
}

func TestWriteRelocatable_PatchOutsideFunctionFails(t *testing.T) {
	m := singleFunctionModule("main", 8, 4)
	puts := &backend.External{Name: "puts"}
	m.ThreadInfo[0].Externals = []*backend.External{puts}
	m.ThreadInfo[0].ExternCallPatches = []backend.ExternCallPatch{{SourceFunc: 0, Target: puts, Pos: 6}}

	_, err := WriteRelocatable(m, nil)
	assert.ErrorIs(t, err, backend.ErrLayoutMismatch)
}

func TestWriteRelocatable_UnsupportedArch(t *testing.T) {
	_, err := WriteRelocatable(emptyModule(backend.ArchUnknown), nil)
	assert.ErrorIs(t, err, backend.ErrUnsupportedArch)
}
