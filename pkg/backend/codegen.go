package backend

import (
	"github.com/Manu343726/escarabajo/pkg/utils"
)

// CodeGen resolves target-specific patches once the final function layout is
// known. Implementations cover one target architecture each.
type CodeGen interface {
	// EmitCallPatches rewrites the intra-module call displacements of every
	// function, given the final byte offset of each function inside the code
	// section (funcLayout has one extra trailing slot holding the section
	// size). Rewrites are absolute, so resolving the same layout twice leaves
	// the code unchanged.
	EmitCallPatches(m *Module, funcLayout []uint32)
}

// Returns the code generator for the given target architecture
func FindCodeGen(arch Arch) (CodeGen, error) {
	switch arch {
	case ArchX86_64:
		return x64CodeGen{}, nil
	case ArchAArch64:
		return aarch64CodeGen{}, nil
	default:
		return nil, utils.MakeError(ErrUnsupportedArch, "no code generator for %v", arch)
	}
}
