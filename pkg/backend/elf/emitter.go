package elf

import (
	"github.com/Manu343726/escarabajo/pkg/backend"
	"github.com/Manu343726/escarabajo/pkg/utils"
)

// Emitter is a growable little-endian byte buffer. It backs the auxiliary
// tables built during emission (string table, symbol table, relocation
// array) as well as the fixed-size records copied into the final image.
type Emitter struct {
	buf []byte
}

// Grows the buffer capacity so n more bytes can be appended without reallocating
func (e *Emitter) Reserve(n int) {
	if cap(e.buf)-len(e.buf) < n {
		grown := make([]byte, len(e.buf), len(e.buf)+n)
		copy(grown, e.buf)
		e.buf = grown
	}
}

// Appends raw bytes
func (e *Emitter) Append(b []byte) {
	e.buf = append(e.buf, b...)
}

// Appends a single byte
func (e *Emitter) U8(v byte) {
	e.buf = append(e.buf, v)
}

// Appends a 16-bit value, little-endian
func (e *Emitter) U16(v uint16) {
	e.buf = append(e.buf, byte(v), byte(v>>8))
}

// Appends a 32-bit value, little-endian
func (e *Emitter) U32(v uint32) {
	e.buf = append(e.buf, byte(v), byte(v>>8), byte(v>>16), byte(v>>24))
}

// Appends a 64-bit value, little-endian
func (e *Emitter) U64(v uint64) {
	e.buf = append(e.buf,
		byte(v), byte(v>>8), byte(v>>16), byte(v>>24),
		byte(v>>32), byte(v>>40), byte(v>>48), byte(v>>56))
}

// Appends n zero bytes
func (e *Emitter) Zero(n int) {
	e.buf = append(e.buf, make([]byte, n)...)
}

// Appends a NUL-terminated string and returns the offset it starts at,
// suitable for st_name/sh_name fields
func (e *Emitter) CString(s string) uint32 {
	offset := uint32(len(e.buf))
	e.buf = append(e.buf, s...)
	e.buf = append(e.buf, 0)
	return offset
}

// Returns the current buffer length
func (e *Emitter) Len() uint32 {
	return uint32(len(e.buf))
}

// Returns the accumulated bytes
func (e *Emitter) Bytes() []byte {
	return e.buf
}

// imageWriter fills a preallocated output image through a cursor. The cursor
// is checked against the planned section offsets at every section boundary;
// a divergence means the size planning and the write path disagree, which is
// a fatal internal error.
type imageWriter struct {
	out []byte
	pos uint64
}

func (w *imageWriter) write(b []byte) {
	copy(w.out[w.pos:], b)
	w.pos += uint64(len(b))
}

// Advances the cursor over n bytes, leaving them zero. The image comes
// zero-initialized from the allocator, so nothing needs to be written.
func (w *imageWriter) zero(n uint64) {
	w.pos += n
}

// Advances the cursor to the given offset, leaving the gap zero
func (w *imageWriter) pad(offset uint64) {
	w.zero(offset - w.pos)
}

// Returns the next n bytes of the image for in-place filling and advances
// the cursor over them
func (w *imageWriter) region(n uint64) []byte {
	b := w.out[w.pos : w.pos+n]
	w.pos += n
	return b
}

// Verifies that the cursor sits exactly at the planned offset of a section
func (w *imageWriter) check(name string, offset uint64) error {
	if w.pos != offset {
		return utils.MakeError(backend.ErrLayoutMismatch,
			"%s planned at offset %#x but write cursor is at %#x", name, offset, w.pos)
	}
	return nil
}
