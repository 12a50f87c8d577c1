// Package booth holds the catalogue of polling-station identifiers.
package booth

import (
	"fmt"
	"strconv"
	"strings"
)

// Count is the number of booths in the constituency. Identifiers run 001..Count.
const Count = 188

// All returns every booth identifier in order.
func All() []string {
	out := make([]string, Count)
	for i := range out {
		out[i] = fmt.Sprintf("%03d", i+1)
	}
	return out
}

// IsValid reports whether s is a canonical 3-digit booth identifier.
func IsValid(s string) bool {
	if len(s) != 3 {
		return false
	}
	n, err := strconv.Atoi(s)
	if err != nil || s[0] == '+' || s[0] == '-' {
		return false
	}
	return n >= 1 && n <= Count
}

// Format zero-pads numeric input in range to the canonical form ("7" -> "007").
// Anything else is returned trimmed but otherwise unchanged so that IsValid can reject it.
func Format(s string) string {
	s = strings.TrimSpace(s)
	n, err := strconv.Atoi(s)
	if err != nil || n < 1 || n > Count {
		return s
	}
	return fmt.Sprintf("%03d", n)
}
