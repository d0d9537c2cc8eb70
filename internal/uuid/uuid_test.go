// Package uuid provides unit tests for page identifier allocation.
package uuid

import (
	"testing"

	"github.com/google/uuid"
)

// TestNew tests that New() generates valid UUID v4 strings.
func TestNew(t *testing.T) {
	id := New()
	parsed, err := uuid.Parse(id)
	if err != nil || parsed.Version() != 4 || parsed.String() != id {
		t.Errorf("Generated UUID does not match v4 format: %s", id)
	}
	if err := ValidatePageID(id); err != nil {
		t.Errorf("ValidatePageID(%q) = %v", id, err)
	}
}

// TestNewUniqueness tests that New() generates unique IDs.
func TestNewUniqueness(t *testing.T) {
	ids := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		id := New()
		if ids[id] {
			t.Fatalf("Duplicate UUID generated: %s", id)
		}
		ids[id] = true
	}
}

// TestSequence verifies predictable identifiers.
func TestSequence(t *testing.T) {
	gen := Sequence("page")
	if got := gen(); got != "page-1" {
		t.Errorf("first = %q, want page-1", got)
	}
	if got := gen(); got != "page-2" {
		t.Errorf("second = %q, want page-2", got)
	}
}

// TestValidatePageID rejects identifiers that would break manifest lines.
func TestValidatePageID(t *testing.T) {
	for _, bad := range []string{"", "a b", "a\nb", "\t"} {
		if err := ValidatePageID(bad); err == nil {
			t.Errorf("ValidatePageID(%q) = nil, want error", bad)
		}
	}
	for _, good := range []string{"A", "page-1", New()} {
		if err := ValidatePageID(good); err != nil {
			t.Errorf("ValidatePageID(%q) = %v", good, err)
		}
	}
}
