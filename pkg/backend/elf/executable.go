package elf

import (
	"encoding/binary"
	"log/slog"

	"github.com/Manu343726/escarabajo/pkg/backend"
	"github.com/Manu343726/escarabajo/pkg/utils"
)

// Memory layout of the executable flavor. Segments are mapped at the static
// base plus their page-aligned file offset, so p_vaddr and p_offset stay
// congruent modulo the page size as the loader requires.
const (
	exeBaseVaddr = 0x400000
	exePageSize  = 0x1000
)

// Program header table of the executable flavor
const (
	pText = iota
	pRodata
	pMax
)

// WriteExecutable serializes the module into a minimal static ELF64
// executable (ET_EXEC) with two PT_LOAD segments and no section table.
// Constant-pool references are resolved by address fixup in the output
// image, so those fixups leave the module's code bytes unchanged; the code
// generator still resolves the intra-module call displacements in place in
// the module's code. Modules with external call patches cannot be written
// as executables and fail with backend.ErrUnsupportedPatch.
func WriteExecutable(m *backend.Module, debugFormat DebugFormat) ([]byte, error) {
	xw := &executableWriter{module: m}
	return xw.write()
}

type executableWriter struct {
	module *backend.Module

	header     Ehdr
	segments   [pMax]Phdr
	funcLayout []uint32
}

func (xw *executableWriter) write() ([]byte, error) {
	if err := xw.prepare(); err != nil {
		return nil, err
	}
	if err := xw.resolvePatches(); err != nil {
		return nil, err
	}
	xw.plan()
	return xw.emit()
}

func (xw *executableWriter) prepare() error {
	machine, err := machineFor(xw.module.TargetArch)
	if err != nil {
		return err
	}

	xw.header = Ehdr{
		Ident:     elfIdent(),
		Type:      ET_EXEC,
		Machine:   machine,
		Version:   EV_CURRENT,
		Ehsize:    EhdrSize,
		Phentsize: PhdrSize,
		Phnum:     pMax,
	}

	rdataSize := uint64(xw.module.RDataRegionSize)
	xw.segments = [pMax]Phdr{
		pText: {
			Type:  PT_LOAD,
			Flags: PF_X | PF_R,
			Align: exePageSize,
		},
		pRodata: {
			Type:   PT_LOAD,
			Flags:  PF_R,
			Align:  exePageSize,
			Filesz: rdataSize,
			Memsz:  rdataSize,
		},
	}

	return nil
}

// Computes the function layout and resolves the intra-module call
// displacements. Executables carry no relocations, so any external call
// patch is an error at this stage.
func (xw *executableWriter) resolvePatches() error {
	codeGen, err := backend.FindCodeGen(xw.module.TargetArch)
	if err != nil {
		return err
	}

	xw.funcLayout = textLayout(xw.module)
	codeGen.EmitCallPatches(xw.module, xw.funcLayout)

	for ti := range xw.module.ThreadInfo {
		for _, p := range xw.module.ThreadInfo[ti].ExternCallPatches {
			return utils.MakeError(backend.ErrUnsupportedPatch,
				"cannot write an executable: function %q calls external symbol %q, which has no address",
				xw.module.Functions[p.SourceFunc].Name, p.Target.Name)
		}
	}
	return nil
}

// Lays out the loadable segments: each starts at the next page-aligned file
// offset and is mapped at the static base plus that offset; the code
// segment's memory size is rounded up to whole pages. The program header
// table follows the last segment's bytes.
func (xw *executableWriter) plan() {
	codeSize := uint64(xw.funcLayout[len(xw.module.Functions)])
	xw.segments[pText].Filesz = codeSize
	xw.segments[pText].Memsz = utils.AlignUp(codeSize, uint64(exePageSize))

	fileOffset := uint64(EhdrSize)
	for i := range xw.segments {
		fileOffset = utils.AlignUp(fileOffset, uint64(exePageSize))
		xw.segments[i].Offset = fileOffset
		xw.segments[i].Vaddr = exeBaseVaddr + fileOffset
		xw.segments[i].Paddr = xw.segments[i].Vaddr
		fileOffset += xw.segments[i].Filesz
	}

	xw.header.Phoff = fileOffset

	slog.Debug("planned executable layout",
		"text", codeSize,
		"rodata", xw.segments[pRodata].Filesz,
		"phoff", xw.header.Phoff)
}

func (xw *executableWriter) emit() ([]byte, error) {
	m := xw.module
	outputSize := xw.header.Phoff + pMax*PhdrSize

	w := imageWriter{out: make([]byte, outputSize)}

	var header Emitter
	header.Reserve(EhdrSize)
	xw.header.emit(&header)
	w.write(header.Bytes())

	w.pad(xw.segments[pText].Offset)
	if err := w.check(".text segment", xw.segments[pText].Offset); err != nil {
		return nil, err
	}
	for i := range m.Functions {
		if out := m.Functions[i].Output; out != nil {
			w.write(out.Code)
		}
	}

	if err := xw.applyRodataFixups(w.out); err != nil {
		return nil, err
	}

	w.pad(xw.segments[pRodata].Offset)
	if err := w.check(".rodata segment", xw.segments[pRodata].Offset); err != nil {
		return nil, err
	}
	rodata := w.region(xw.segments[pRodata].Filesz)
	for ti := range m.ThreadInfo {
		for _, p := range m.ThreadInfo[ti].ConstPatches {
			copy(rodata[p.RDataPos:], p.Data)
		}
	}

	if err := w.check("program header table", xw.header.Phoff); err != nil {
		return nil, err
	}
	var headers Emitter
	headers.Reserve(pMax * PhdrSize)
	for i := range xw.segments {
		xw.segments[i].emit(&headers)
	}
	w.write(headers.Bytes())

	if err := w.check("end of image", outputSize); err != nil {
		return nil, err
	}
	return w.out, nil
}

// Rewrites every constant-pool displacement word inside the already-copied
// code bytes of the output image. The word holds the target's offset inside
// .rodata; adding the distance between the rodata base and the end of the
// 4-byte operand turns it into the final PC-relative displacement.
func (xw *executableWriter) applyRodataFixups(output []byte) error {
	for ti := range xw.module.ThreadInfo {
		for _, p := range xw.module.ThreadInfo[ti].ConstPatches {
			site, err := patchSite(xw.module, xw.funcLayout, p.SourceFunc, p.Pos)
			if err != nil {
				return err
			}

			sitePC := xw.segments[pText].Vaddr + uint64(site) + 4
			delta := uint32(xw.segments[pRodata].Vaddr - sitePC)

			fileOffset := xw.segments[pText].Offset + uint64(site)
			word := binary.LittleEndian.Uint32(output[fileOffset:])
			binary.LittleEndian.PutUint32(output[fileOffset:], word+delta)
		}
	}
	return nil
}
