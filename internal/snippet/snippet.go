// Package snippet provides a content-addressed, diff-encoded text store.
//
// Every Snippet is identified by the SHA-256 digest of its full text. A
// snippet may be stored as full text or as a line diff against another
// snippet of the same Archive; the identity never changes with the encoding.
package snippet

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/kimhsiao/notearchive/internal/textdiff"
)

// HashLength is the length of a hex-encoded content hash.
const HashLength = 64

// CalculateHash returns the hex SHA-256 digest of text.
func CalculateHash(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// IsHash reports whether s looks like a content hash.
func IsHash(s string) bool {
	if len(s) != HashLength {
		return false
	}
	for _, c := range s {
		if !((c >= '0' && c <= '9') || (c >= 'a' && c <= 'f')) {
			return false
		}
	}
	return true
}

// Snippet is one unit of content-addressed text.
//
// A snippet loaded as a diff holds no text until the owning Archive
// materializes it; afterwards the text stays cached.
type Snippet struct {
	hash string

	text         string
	materialized bool

	// base is empty for full-text snippets.
	base   string
	script textdiff.Script
}

// NewSnippet builds a full-text snippet outside any archive.
func NewSnippet(text string) *Snippet {
	return &Snippet{
		hash:         CalculateHash(text),
		text:         text,
		materialized: true,
	}
}

// Hash returns the content hash of the snippet's full text.
func (s *Snippet) Hash() string {
	return s.hash
}

// IsDiffEncoded reports whether the snippet is stored as a diff.
func (s *Snippet) IsDiffEncoded() bool {
	return s.base != ""
}

// BaseHash returns the hash of the diff base, or "" for full-text snippets.
func (s *Snippet) BaseHash() string {
	return s.base
}

// payload returns the stored representation.
func (s *Snippet) payload() string {
	if s.IsDiffEncoded() {
		return s.script.Encode()
	}
	return s.text
}

// clearDiff switches the representation back to full text. The caller must
// have materialized the snippet first.
func (s *Snippet) clearDiff() {
	s.base = ""
	s.script = nil
}
