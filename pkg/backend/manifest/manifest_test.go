package manifest

import (
	"testing"

	"github.com/Manu343726/escarabajo/pkg/backend"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const exampleManifest = `
arch: x86_64
functions:
  - name: main
    code: "55 48 89 e5 e8 00 00 00 00 5d c3"
    prologue: 4
  - name: declared_only
externals:
  - puts
globals:
  - name: counter
    storage: data
    size: 8
    init: "2a 00 00 00"
  - name: scratch
    storage: bss
    size: 32
patches:
  extern-calls:
    - function: main
      target: puts
      offset: 1
  constants:
    - function: main
      offset: 1
      data: "48 65 6c 6c 6f 00"
`

func TestParse_BuildsTheDescribedModule(t *testing.T) {
	m, err := Parse([]byte(exampleManifest))
	require.NoError(t, err)

	assert.Equal(t, backend.ArchX86_64, m.TargetArch)
	require.Len(t, m.Functions, 2)
	require.Len(t, m.ThreadInfo, 1)

	main := m.Functions[0]
	assert.Equal(t, "main", main.Name)
	require.NotNil(t, main.Output)
	assert.Equal(t, 11, main.Output.CodeSize())
	assert.Equal(t, 4, main.Output.PrologueLength)
	assert.Equal(t, byte(0x55), main.Output.Code[0])

	assert.Nil(t, m.Functions[1].Output, "functions without code stay uncompiled")
	assert.Equal(t, 1, m.CompiledCount())

	partition := m.ThreadInfo[0]
	require.Len(t, partition.Externals, 1)
	assert.Equal(t, "puts", partition.Externals[0].Name)

	require.Len(t, partition.ExternCallPatches, 1)
	assert.Same(t, partition.Externals[0], partition.ExternCallPatches[0].Target)
	assert.Equal(t, 0, partition.ExternCallPatches[0].SourceFunc)
	assert.Equal(t, uint32(1), partition.ExternCallPatches[0].Pos)

	require.Len(t, partition.ConstPatches, 1)
	assert.Equal(t, []byte("Hello\x00"), partition.ConstPatches[0].Data)
	assert.Zero(t, partition.ConstPatches[0].RDataPos)
	assert.Equal(t, uint32(8), m.RDataRegionSize, "constants are packed with 8-byte alignment")
}

func TestParse_GlobalPlacement(t *testing.T) {
	m, err := Parse([]byte(exampleManifest))
	require.NoError(t, err)

	globals := m.ThreadInfo[0].Globals
	require.Len(t, globals, 2)

	counter := globals[0]
	assert.Equal(t, backend.StorageData, counter.Storage)
	assert.Zero(t, counter.Pos)
	require.NotNil(t, counter.Init)
	assert.Equal(t, uint32(8), counter.Init.Size)
	require.Len(t, counter.Init.Objects, 1)
	assert.Equal(t, []byte{0x2A, 0, 0, 0}, counter.Init.Objects[0].Data)

	scratch := globals[1]
	assert.Equal(t, backend.StorageBSS, scratch.Storage)
	assert.Zero(t, scratch.Pos, "bss positions are independent from the data region")

	assert.Equal(t, uint32(8), m.DataRegionSize, "bss globals take no data region space")
}

func TestParse_ConstantsArePackedInOrder(t *testing.T) {
	m, err := Parse([]byte(`
arch: x86_64
functions:
  - name: main
    code: "e8 00 00 00 00 e8 00 00 00 00"
patches:
  constants:
    - function: main
      offset: 1
      data: "01 02 03"
    - function: main
      offset: 6
      data: "04 05"
`))
	require.NoError(t, err)

	patches := m.ThreadInfo[0].ConstPatches
	require.Len(t, patches, 2)
	assert.Zero(t, patches[0].RDataPos)
	assert.Equal(t, uint32(8), patches[1].RDataPos)
	assert.Equal(t, uint32(16), m.RDataRegionSize)
}

func TestParse_GlobalSizeDefaultsToInitializer(t *testing.T) {
	m, err := Parse([]byte(`
arch: aarch64
globals:
  - name: greeting
    init: "68 6f 6c 61 00"
`))
	require.NoError(t, err)

	assert.Equal(t, backend.ArchAArch64, m.TargetArch)
	global := m.ThreadInfo[0].Globals[0]
	assert.Equal(t, uint32(5), global.Init.Size)
}

func TestParse_Errors(t *testing.T) {
	scenarios := []struct {
		name     string
		manifest string
		sentinel error
	}{
		{
			name:     "unknown architecture",
			manifest: "arch: riscv64",
			sentinel: backend.ErrUnsupportedArch,
		},
		{
			name:     "not yaml",
			manifest: "\t{nope",
			sentinel: ErrInvalidManifest,
		},
		{
			name: "odd hex in code",
			manifest: `
arch: x86_64
functions:
  - name: main
    code: "c"
`,
			sentinel: ErrInvalidManifest,
		},
		{
			name: "prologue longer than code",
			manifest: `
arch: x86_64
functions:
  - name: main
    code: "c3"
    prologue: 2
`,
			sentinel: ErrInvalidManifest,
		},
		{
			name: "duplicated function",
			manifest: `
arch: x86_64
functions:
  - name: main
    code: "c3"
  - name: main
    code: "c3"
`,
			sentinel: ErrInvalidManifest,
		},
		{
			name: "unknown storage class",
			manifest: `
arch: x86_64
globals:
  - name: g
    storage: tls
    size: 8
`,
			sentinel: ErrInvalidManifest,
		},
		{
			name: "bss global with initializer",
			manifest: `
arch: x86_64
globals:
  - name: g
    storage: bss
    init: "00"
`,
			sentinel: ErrInvalidManifest,
		},
		{
			name: "initializer larger than declared size",
			manifest: `
arch: x86_64
globals:
  - name: g
    size: 2
    init: "01 02 03"
`,
			sentinel: ErrInvalidManifest,
		},
		{
			name: "patch against unknown function",
			manifest: `
arch: x86_64
patches:
  constants:
    - function: missing
      offset: 0
      data: "00"
`,
			sentinel: ErrInvalidManifest,
		},
		{
			name: "extern call against unknown external",
			manifest: `
arch: x86_64
functions:
  - name: main
    code: "e8 00 00 00 00"
patches:
  extern-calls:
    - function: main
      target: missing
      offset: 1
`,
			sentinel: ErrInvalidManifest,
		},
	}

	for _, scenario := range scenarios {
		t.Run(scenario.name, func(t *testing.T) {
			_, err := Parse([]byte(scenario.manifest))
			assert.ErrorIs(t, err, scenario.sentinel)
		})
	}
}
