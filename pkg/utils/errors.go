package utils

import (
	"fmt"
)

// Wraps a sentinel error with a formatted details message, so callers can
// both match the error kind with errors.Is and read what went wrong
func MakeError(err error, detailsBody string, args ...any) error {
	return fmt.Errorf("%w: "+detailsBody, append([]any{err}, args...)...)
}
