// Package parser extracts page properties from note text.
package parser

import (
	"github.com/kimhsiao/notearchive/internal/challenge"
)

// Result is what a Parser extracts from one page.
type Result struct {
	Title     string
	Hashtags  []string
	Templates []challenge.Template
	WordCount int
}

// Parser turns page text into a Result. Implementations must be safe for
// concurrent use: the archive parses stale pages in parallel.
type Parser interface {
	Parse(text string) (*Result, error)
}

// Func adapts a plain function to Parser.
type Func func(text string) (*Result, error)

// Parse implements Parser.
func (f Func) Parse(text string) (*Result, error) {
	return f(text)
}
