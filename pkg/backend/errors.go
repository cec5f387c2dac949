package backend

import "errors"

// Sentinel errors of the object emission layer. Callers are expected to
// match them with errors.Is; the wrapped message carries the details.
var (
	// ErrUnsupportedArch is returned when the module targets an architecture
	// no writer or code generator implements
	ErrUnsupportedArch = errors.New("unsupported target architecture")

	// ErrUnsupportedPatch is returned when a patch kind cannot be resolved by
	// the selected output flavor, e.g. an external call inside an executable
	ErrUnsupportedPatch = errors.New("unsupported patch")

	// ErrLayoutMismatch signals an internal inconsistency between the planned
	// file layout and the bytes actually written
	ErrLayoutMismatch = errors.New("object file layout mismatch")
)
