// Package backend models the frozen compilation modules the object writers
// consume: compiled functions, per-worker symbol partitions, patch lists and
// global data initializers.
package backend

import "fmt"

// Target architectures understood by the object writers
type Arch int

const (
	ArchUnknown Arch = iota
	ArchX86_64
	ArchAArch64
)

func (a Arch) String() string {
	switch a {
	case ArchX86_64:
		return "x86_64"
	case ArchAArch64:
		return "aarch64"
	default:
		return fmt.Sprintf("unknown(%d)", int(a))
	}
}

// FunctionOutput holds the finished machine code of a compiled function.
// Code starts with the function prologue, followed by the body; patch
// positions are always relative to the end of the prologue.
type FunctionOutput struct {
	Code           []byte
	PrologueLength int
}

// Returns the total byte size of the compiled function
func (o *FunctionOutput) CodeSize() int {
	return len(o.Code)
}

// Function is a module-level function. Output is nil if the function was
// declared but never compiled; such functions occupy no space in .text.
type Function struct {
	Name   string
	Output *FunctionOutput
}

// External is a symbol defined outside the module, for example a libc
// function. SymbolID is assigned by the object writer while building the
// symbol table and is read back when resolving call patches.
type External struct {
	Name     string
	SymbolID uint32
}

// Storage class of a global data definition
type StorageClass int

const (
	// StorageData places the global in .data with its initializer bytes
	StorageData StorageClass = iota
	// StorageBSS places the global in .bss, zero-initialized at load time
	StorageBSS
)

// Kind of a single initializer piece
type InitObjectKind int

const (
	// RegionObject is an inline byte slice copied verbatim into the global
	RegionObject InitObjectKind = iota
)

// InitObject is a single piece of a global initializer, placed at Offset
// bytes from the start of the global.
type InitObject struct {
	Kind   InitObjectKind
	Offset uint32
	Data   []byte
}

// Initializer describes the initial contents of a global. Bytes not covered
// by any object are zero.
type Initializer struct {
	Size    uint32
	Objects []InitObject
}

// Global is a module-level data definition. Pos is its byte position inside
// the region selected by Storage. ID is assigned by the object writer while
// building the symbol table.
type Global struct {
	Name    string
	Storage StorageClass
	Pos     uint32
	ID      uint32
	Init    *Initializer
}

// CallPatch marks an unresolved call displacement between two functions of
// the module. Pos is the byte offset of the displacement operand, past the
// prologue of the source function.
type CallPatch struct {
	SourceFunc int
	TargetFunc int
	Pos        uint32
}

// ExternCallPatch marks an unresolved call to an external symbol
type ExternCallPatch struct {
	SourceFunc int
	Target     *External
	Pos        uint32
}

// ConstPoolPatch marks a PC-relative reference into the constant pool.
// Data holds the constant bytes, destined for offset RDataPos of .rodata.
type ConstPoolPatch struct {
	SourceFunc int
	Pos        uint32
	RDataPos   uint32
	Data       []byte
}

// ThreadInfo is the per-worker partition of symbols and patches produced
// during compilation. The writers iterate partitions in ascending index
// order, then natural list order, and treat them as one flat concatenation;
// that order also defines symbol id assignment.
type ThreadInfo struct {
	Externals         []*External
	Globals           []*Global
	CallPatches       []CallPatch
	ExternCallPatches []ExternCallPatch
	ConstPatches      []ConstPoolPatch
}

// Module is a frozen compilation unit ready for object emission. The writers
// read it single-threaded; the only mutations are the symbol ids stored into
// externals and globals and the call displacements resolved by the code
// generator.
type Module struct {
	TargetArch Arch
	Functions  []Function
	ThreadInfo []ThreadInfo

	// Precomputed byte sizes of the .data and .rodata regions
	DataRegionSize  uint32
	RDataRegionSize uint32
}

// Returns the number of functions with a compiled output
func (m *Module) CompiledCount() int {
	count := 0
	for i := range m.Functions {
		if m.Functions[i].Output != nil {
			count++
		}
	}
	return count
}
