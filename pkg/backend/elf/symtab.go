package elf

// symbolTables accumulates the merged string table and the symbol table of
// the relocatable flavor. Both grow in lockstep: every symbol's st_name
// points at the name interned just before the symbol record was appended.
type symbolTables struct {
	strtab Emitter
	symtab Emitter
}

func newSymbolTables() *symbolTables {
	tables := &symbolTables{}
	tables.strtab.Reserve(1024)
	tables.strtab.U8(0) // the empty name every table starts with
	return tables
}

// Appends the zeroed null symbol every symbol table starts with
func (t *symbolTables) putNull() {
	t.symtab.Zero(SymSize)
}

// Interns the name and appends a symbol record referencing it
func (t *symbolTables) put(name string, info byte, shndx uint16, value, size uint64) {
	sym := Sym{
		Name:  t.strtab.CString(name),
		Info:  info,
		Shndx: shndx,
		Value: value,
		Size:  size,
	}
	sym.emit(&t.symtab)
}
