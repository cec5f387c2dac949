package utils

import (
	"fmt"
)

// Formats an uint value into a fixed width hex string of n digits
func FormatUintHex(value uint64, digits int) string {
	return fmt.Sprintf("0x%0*x", digits, value)
}
