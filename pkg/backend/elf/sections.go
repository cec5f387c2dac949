package elf

import (
	"fmt"
	"strings"
)

// Section table of the relocatable flavor, in the exact order the writer
// plans offsets, emits section symbols and writes section contents
const (
	sNull = iota
	sStrtab
	sText
	sRelaText
	sData
	sRodata
	sBss
	sSymtab
	sMax
)

var sectionNames = [sMax]string{
	"", ".strtab", ".text", ".rela.text", ".data", ".rodata", ".bss", ".symtab",
}

// Returns the section header skeletons of the relocatable flavor, with every
// size- and offset-independent field already filled in
func objectSections() [sMax]Shdr {
	var sections [sMax]Shdr

	sections[sStrtab] = Shdr{Type: SHT_STRTAB, Addralign: 1}
	sections[sText] = Shdr{Type: SHT_PROGBITS, Flags: SHF_ALLOC | SHF_EXECINSTR, Addralign: 16}
	sections[sRelaText] = Shdr{
		Type:      SHT_RELA,
		Flags:     SHF_INFO_LINK,
		Link:      sSymtab,
		Info:      sText,
		Addralign: 16,
		Entsize:   RelaSize,
	}
	sections[sData] = Shdr{Type: SHT_PROGBITS, Flags: SHF_ALLOC | SHF_WRITE, Addralign: 16}
	sections[sRodata] = Shdr{Type: SHT_PROGBITS, Flags: SHF_ALLOC, Addralign: 16}
	sections[sBss] = Shdr{Type: SHT_NOBITS, Flags: SHF_ALLOC | SHF_WRITE, Addralign: 16}
	sections[sSymtab] = Shdr{
		Type:      SHT_SYMTAB,
		Link:      sStrtab,
		Info:      sMax, // first non-local symbol: null + section symbols are local
		Addralign: 1,
		Entsize:   SymSize,
	}

	return sections
}

var sectionTypeNames = map[uint32]string{
	SHT_NULL:     "NULL",
	SHT_PROGBITS: "PROGBITS",
	SHT_SYMTAB:   "SYMTAB",
	SHT_STRTAB:   "STRTAB",
	SHT_RELA:     "RELA",
	SHT_NOBITS:   "NOBITS",
}

// Dumps the fixed section layout of relocatable objects as one big
// multiline string
func Documentation(leftpad int) string {
	leftpadStr := strings.Repeat(" ", leftpad)
	sections := objectSections()

	var builder strings.Builder

	builder.WriteString(leftpadStr)
	builder.WriteString(fmt.Sprintf("total sections: %v\n", sMax))
	builder.WriteString(leftpadStr)
	builder.WriteString(fmt.Sprintf("section header size (bytes): %v\n\n", ShdrSize))

	for i := sNull; i < sMax; i++ {
		name := sectionNames[i]
		if name == "" {
			name = "(null)"
		}
		builder.WriteString(leftpadStr)
		builder.WriteString(fmt.Sprintf(" - [%v] %-11s type=%-8s flags=%#04x link=%v info=%v align=%v entsize=%v\n",
			i, name, sectionTypeNames[sections[i].Type], sections[i].Flags,
			sections[i].Link, sections[i].Info, sections[i].Addralign, sections[i].Entsize))
	}

	return builder.String()
}

// Like Documentation(), but with zero leftpad
func DocString() string {
	return Documentation(0)
}
