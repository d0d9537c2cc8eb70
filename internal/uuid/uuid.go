// Package uuid allocates page identifiers.
package uuid

import (
	"fmt"
	"strings"
	"sync/atomic"
	"unicode"

	"github.com/google/uuid"
)

// Generator produces page identifiers.
type Generator func() string

// New generates a new UUID v4.
func New() string {
	return uuid.New().String()
}

// Sequence returns a Generator yielding prefix-1, prefix-2, ... Used where
// identifiers must be predictable.
func Sequence(prefix string) Generator {
	var n atomic.Int64
	return func() string {
		return fmt.Sprintf("%s-%d", prefix, n.Add(1))
	}
}

// ValidatePageID returns an error if s cannot appear in a manifest line:
// page identifiers must be non-empty and free of whitespace.
func ValidatePageID(s string) error {
	if s == "" {
		return fmt.Errorf("empty page identifier")
	}
	if strings.IndexFunc(s, unicode.IsSpace) >= 0 {
		return fmt.Errorf("page identifier %q contains whitespace", s)
	}
	return nil
}
