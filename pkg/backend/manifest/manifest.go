// Package manifest loads YAML module descriptions and turns them into
// backend modules ready for object emission.
//
// A manifest names the target architecture, the compiled functions with
// their machine code as hex strings, the external symbols, the global data
// definitions and the patch lists the code generator registered. The loader
// assigns every global its position inside the .data/.bss regions and every
// constant its position inside .rodata, and computes the region sizes.
package manifest

import (
	"encoding/hex"
	"errors"
	"os"
	"strings"

	"github.com/Manu343726/escarabajo/pkg/backend"
	"github.com/Manu343726/escarabajo/pkg/utils"
	"gopkg.in/yaml.v3"
)

// ErrInvalidManifest is returned when a manifest cannot be turned into a
// well-formed module
var ErrInvalidManifest = errors.New("invalid module manifest")

// Byte alignment of globals inside .data/.bss and of constants inside .rodata
const regionAlignment = 8

// Manifest mirrors the YAML module description
type Manifest struct {
	Arch      string     `yaml:"arch"`
	Functions []Function `yaml:"functions"`
	Externals []string   `yaml:"externals"`
	Globals   []Global   `yaml:"globals"`
	Patches   Patches    `yaml:"patches"`
}

// Function describes one compiled function. Code holds the machine code as
// a hex string (whitespace ignored); an empty string means the function was
// declared but not compiled.
type Function struct {
	Name     string `yaml:"name"`
	Code     string `yaml:"code"`
	Prologue int    `yaml:"prologue"`
}

// Global describes one global data definition
type Global struct {
	Name    string `yaml:"name"`
	Storage string `yaml:"storage"`
	Size    uint32 `yaml:"size"`
	Init    string `yaml:"init"`
}

// Patches groups the patch lists registered during code generation
type Patches struct {
	Calls       []CallPatch       `yaml:"calls"`
	ExternCalls []ExternCallPatch `yaml:"extern-calls"`
	Constants   []ConstPatch      `yaml:"constants"`
}

// CallPatch marks an unresolved intra-module call displacement
type CallPatch struct {
	Function string `yaml:"function"`
	Target   string `yaml:"target"`
	Offset   uint32 `yaml:"offset"`
}

// ExternCallPatch marks an unresolved call to an external symbol
type ExternCallPatch struct {
	Function string `yaml:"function"`
	Target   string `yaml:"target"`
	Offset   uint32 `yaml:"offset"`
}

// ConstPatch marks a PC-relative constant-pool reference, with the constant
// bytes as a hex string
type ConstPatch struct {
	Function string `yaml:"function"`
	Offset   uint32 `yaml:"offset"`
	Data     string `yaml:"data"`
}

// Loads a manifest file and builds the module it describes
func Load(path string) (*backend.Module, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parses a YAML manifest and builds the module it describes
func Parse(data []byte) (*backend.Module, error) {
	var manifest Manifest
	if err := yaml.Unmarshal(data, &manifest); err != nil {
		return nil, utils.MakeError(ErrInvalidManifest, "%v", err)
	}
	return manifest.Build()
}

// Build turns the manifest into a backend module with a single partition
func (manifest *Manifest) Build() (*backend.Module, error) {
	arch, err := parseArch(manifest.Arch)
	if err != nil {
		return nil, err
	}

	module := &backend.Module{
		TargetArch: arch,
		ThreadInfo: make([]backend.ThreadInfo, 1),
	}
	partition := &module.ThreadInfo[0]

	funcIndices := make(map[string]int, len(manifest.Functions))
	for _, fn := range manifest.Functions {
		if _, duplicate := funcIndices[fn.Name]; duplicate {
			return nil, utils.MakeError(ErrInvalidManifest, "duplicated function %q", fn.Name)
		}
		funcIndices[fn.Name] = len(module.Functions)

		var output *backend.FunctionOutput
		if fn.Code != "" {
			code, err := decodeHex(fn.Code)
			if err != nil {
				return nil, utils.MakeError(ErrInvalidManifest, "function %q code: %v", fn.Name, err)
			}
			if fn.Prologue < 0 || fn.Prologue > len(code) {
				return nil, utils.MakeError(ErrInvalidManifest,
					"function %q: prologue of %v bytes does not fit its %v code bytes",
					fn.Name, fn.Prologue, len(code))
			}
			output = &backend.FunctionOutput{Code: code, PrologueLength: fn.Prologue}
		}

		module.Functions = append(module.Functions, backend.Function{Name: fn.Name, Output: output})
	}

	for _, name := range manifest.Externals {
		partition.Externals = append(partition.Externals, &backend.External{Name: name})
	}
	externals := utils.GenMap(partition.Externals, func(e *backend.External) string { return e.Name })
	if len(externals) != len(partition.Externals) {
		return nil, utils.MakeError(ErrInvalidManifest, "duplicated external symbol")
	}

	if err := manifest.placeGlobals(module, partition); err != nil {
		return nil, err
	}
	if err := manifest.buildPatches(module, partition, funcIndices, externals); err != nil {
		return nil, err
	}

	return module, nil
}

// Assigns every global a position inside its storage region and computes
// the .data region size
func (manifest *Manifest) placeGlobals(module *backend.Module, partition *backend.ThreadInfo) error {
	dataPos := uint32(0)
	bssPos := uint32(0)

	for _, g := range manifest.Globals {
		global := &backend.Global{Name: g.Name}

		switch g.Storage {
		case "data", "":
			global.Storage = backend.StorageData
		case "bss":
			global.Storage = backend.StorageBSS
		default:
			return utils.MakeError(ErrInvalidManifest,
				"global %q: unknown storage class %q", g.Name, g.Storage)
		}

		size := g.Size
		init := &backend.Initializer{Size: size}
		if g.Init != "" {
			if global.Storage == backend.StorageBSS {
				return utils.MakeError(ErrInvalidManifest,
					"global %q: bss globals cannot carry initializer bytes", g.Name)
			}
			data, err := decodeHex(g.Init)
			if err != nil {
				return utils.MakeError(ErrInvalidManifest, "global %q init: %v", g.Name, err)
			}
			if size == 0 {
				size = uint32(len(data))
				init.Size = size
			} else if uint32(len(data)) > size {
				return utils.MakeError(ErrInvalidManifest,
					"global %q: %v initializer bytes do not fit its declared size %v",
					g.Name, len(data), size)
			}
			init.Objects = []backend.InitObject{{Kind: backend.RegionObject, Data: data}}
		}
		global.Init = init

		switch global.Storage {
		case backend.StorageData:
			global.Pos = dataPos
			dataPos = utils.AlignUp(dataPos+size, uint32(regionAlignment))
		case backend.StorageBSS:
			global.Pos = bssPos
			bssPos = utils.AlignUp(bssPos+size, uint32(regionAlignment))
		}

		partition.Globals = append(partition.Globals, global)
	}

	module.DataRegionSize = dataPos
	return nil
}

// Resolves patch targets to function indices and externals, assigns every
// constant its .rodata position and computes the region size
func (manifest *Manifest) buildPatches(module *backend.Module, partition *backend.ThreadInfo,
	funcIndices map[string]int, externals map[string]*backend.External) error {

	resolveFunc := func(name string) (int, error) {
		idx, found := funcIndices[name]
		if !found {
			return 0, utils.MakeError(ErrInvalidManifest, "patch references unknown function %q", name)
		}
		return idx, nil
	}

	for _, p := range manifest.Patches.Calls {
		source, err := resolveFunc(p.Function)
		if err != nil {
			return err
		}
		target, err := resolveFunc(p.Target)
		if err != nil {
			return err
		}
		partition.CallPatches = append(partition.CallPatches, backend.CallPatch{
			SourceFunc: source,
			TargetFunc: target,
			Pos:        p.Offset,
		})
	}

	for _, p := range manifest.Patches.ExternCalls {
		source, err := resolveFunc(p.Function)
		if err != nil {
			return err
		}
		external, found := externals[p.Target]
		if !found {
			return utils.MakeError(ErrInvalidManifest,
				"extern-call patch references unknown external %q", p.Target)
		}
		partition.ExternCallPatches = append(partition.ExternCallPatches, backend.ExternCallPatch{
			SourceFunc: source,
			Target:     external,
			Pos:        p.Offset,
		})
	}

	rdataPos := uint32(0)
	for _, p := range manifest.Patches.Constants {
		source, err := resolveFunc(p.Function)
		if err != nil {
			return err
		}
		data, err := decodeHex(p.Data)
		if err != nil {
			return utils.MakeError(ErrInvalidManifest, "constant patch data: %v", err)
		}
		if len(data) == 0 {
			return utils.MakeError(ErrInvalidManifest, "constant patch carries no data")
		}
		partition.ConstPatches = append(partition.ConstPatches, backend.ConstPoolPatch{
			SourceFunc: source,
			Pos:        p.Offset,
			RDataPos:   rdataPos,
			Data:       data,
		})
		rdataPos = utils.AlignUp(rdataPos+uint32(len(data)), uint32(regionAlignment))
	}
	module.RDataRegionSize = rdataPos

	return nil
}

func parseArch(name string) (backend.Arch, error) {
	switch strings.ToLower(name) {
	case "x86_64", "x86-64", "amd64":
		return backend.ArchX86_64, nil
	case "aarch64", "arm64":
		return backend.ArchAArch64, nil
	default:
		return backend.ArchUnknown, utils.MakeError(backend.ErrUnsupportedArch, "%q", name)
	}
}

// Decodes a hex string, ignoring any whitespace between byte pairs
func decodeHex(s string) ([]byte, error) {
	return hex.DecodeString(strings.Join(strings.Fields(s), ""))
}
