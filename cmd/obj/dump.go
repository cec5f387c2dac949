package obj

import (
	"debug/elf"
	"encoding/binary"
	"fmt"
	"os"

	"github.com/Manu343726/escarabajo/pkg/utils"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

// Dump output colors
var (
	dumpTitleColor   = color.New(color.FgCyan, color.Bold)
	dumpNameColor    = color.New(color.FgYellow)
	dumpAddressColor = color.New(color.FgGreen)
	dumpDimColor     = color.New(color.FgHiBlack)
)

var dumpCmd = &cobra.Command{
	Use:   "dump <elf-file>",
	Short: "Inspect an ELF64 file",
	Long: `Parses an ELF64 file and prints its header, program headers, sections,
symbols and text relocations in a human readable listing.

The listing is intended for debugging and inspection, not for parsing.`,
	Args: cobra.ExactArgs(1),
	Run:  runDump,
}

func init() {
	ObjCmd.AddCommand(dumpCmd)
}

func runDump(cmd *cobra.Command, args []string) {
	path := args[0]

	file, err := elf.Open(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error parsing ELF file: %v\n", err)
		os.Exit(1)
	}
	defer file.Close()

	if file.Class != elf.ELFCLASS64 {
		fmt.Fprintf(os.Stderr, "Error: expected a 64-bit ELF file, got %v\n", file.Class)
		os.Exit(1)
	}
	if file.Data != elf.ELFDATA2LSB {
		fmt.Fprintf(os.Stderr, "Error: expected a little-endian ELF file, got %v\n", file.Data)
		os.Exit(1)
	}

	d := &elfDumper{file: file}
	if err := d.dump(); err != nil {
		fmt.Fprintf(os.Stderr, "Error dumping %s: %v\n", path, err)
		os.Exit(1)
	}
}

type elfDumper struct {
	file *elf.File
}

func (d *elfDumper) dump() error {
	d.dumpHeader()
	d.dumpProgramHeaders()
	d.dumpSections()
	if err := d.dumpSymbols(); err != nil {
		return err
	}
	return d.dumpRelocations()
}

func (d *elfDumper) dumpHeader() {
	dumpTitleColor.Println("=== ELF Header ===")
	fmt.Printf("Type:    %v\n", d.file.Type)
	fmt.Printf("Machine: %v\n", d.file.Machine)
	fmt.Printf("Entry:   %s\n", dumpAddressColor.Sprint(utils.FormatUintHex(d.file.Entry, 8)))
	fmt.Println()
}

func (d *elfDumper) dumpProgramHeaders() {
	dumpTitleColor.Printf("=== Program Headers (%d) ===\n", len(d.file.Progs))

	if len(d.file.Progs) == 0 {
		dumpDimColor.Println("(none)")
		fmt.Println()
		return
	}

	for i, prog := range d.file.Progs {
		fmt.Printf("[%d] %-8v flags=%-3v offset=%s vaddr=%s filesz=%-6d memsz=%-6d align=%#x\n",
			i, prog.Type, prog.Flags,
			utils.FormatUintHex(prog.Off, 6),
			dumpAddressColor.Sprint(utils.FormatUintHex(prog.Vaddr, 8)),
			prog.Filesz, prog.Memsz, prog.Align)
	}
	fmt.Println()
}

func (d *elfDumper) dumpSections() {
	dumpTitleColor.Printf("=== Sections (%d) ===\n", len(d.file.Sections))

	if len(d.file.Sections) == 0 {
		dumpDimColor.Println("(none)")
		fmt.Println()
		return
	}

	for i, section := range d.file.Sections {
		name := section.Name
		if name == "" {
			name = "(null)"
		}
		fmt.Printf("[%d] %s type=%-12v offset=%s size=%-6d link=%d info=%d align=%d\n",
			i, dumpNameColor.Sprintf("%-12s", name), section.Type,
			utils.FormatUintHex(section.Offset, 6), section.Size,
			section.Link, section.Info, section.Addralign)
	}
	fmt.Println()
}

func (d *elfDumper) dumpSymbols() error {
	symbols, err := d.file.Symbols()
	if err == elf.ErrNoSymbols {
		symbols = nil
	} else if err != nil {
		return fmt.Errorf("failed to read symbol table: %w", err)
	}

	dumpTitleColor.Printf("=== Symbols (%d) ===\n", len(symbols))

	if len(symbols) == 0 {
		dumpDimColor.Println("(none)")
		fmt.Println()
		return nil
	}

	for _, sym := range symbols {
		binding := elf.ST_BIND(sym.Info)
		symType := elf.ST_TYPE(sym.Info)
		fmt.Printf("%s value=%s size=%-6d %v %v shndx=%d\n",
			dumpNameColor.Sprintf("%-20s", sym.Name),
			dumpAddressColor.Sprint(utils.FormatUintHex(sym.Value, 8)),
			sym.Size, binding, symType, sym.Section)
	}
	fmt.Println()
	return nil
}

// Text relocations are listed from the raw .rela.text bytes; debug/elf only
// exposes relocations through ApplyRelocations
func (d *elfDumper) dumpRelocations() error {
	section := d.file.Section(".rela.text")
	if section == nil {
		return nil
	}

	data, err := section.Data()
	if err != nil {
		return fmt.Errorf("failed to read .rela.text: %w", err)
	}

	const relaSize = 24
	dumpTitleColor.Printf("=== Text Relocations (%d) ===\n", len(data)/relaSize)

	if len(data) == 0 {
		dumpDimColor.Println("(none)")
		return nil
	}

	for pos := 0; pos+relaSize <= len(data); pos += relaSize {
		offset := binary.LittleEndian.Uint64(data[pos:])
		info := binary.LittleEndian.Uint64(data[pos+8:])
		addend := int64(binary.LittleEndian.Uint64(data[pos+16:]))

		symbol := uint32(info >> 32)
		relType := elf.R_X86_64(info & 0xFFFFFFFF)
		fmt.Printf("offset=%s %-18v symbol=%-4d addend=%d\n",
			dumpAddressColor.Sprint(utils.FormatUintHex(offset, 6)), relType, symbol, addend)
	}
	return nil
}
