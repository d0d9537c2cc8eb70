// Package textdiff computes, encodes and applies line-based edit scripts.
//
// A Script turns a base text into a target text. Scripts operate on lines
// that keep their terminators, so applying a script reproduces the target
// byte for byte, including a missing final newline.
package textdiff

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/pmezard/go-difflib/difflib"
	godiff "github.com/sourcegraph/go-diff/diff"
)

// OpKind is the kind of one edit operation.
type OpKind byte

const (
	// OpCopy copies Count lines from the base.
	OpCopy OpKind = '='
	// OpSkip drops Count lines of the base.
	OpSkip OpKind = '-'
	// OpInsert emits Text.
	OpInsert OpKind = '+'
)

// Op is one edit operation.
type Op struct {
	Kind  OpKind
	Count int
	Text  string
}

// Script is an ordered list of operations that consumes every base line.
type Script []Op

// SplitLines splits s after each "\n". Joining the result yields s.
func SplitLines(s string) []string {
	if s == "" {
		return nil
	}
	lines := strings.SplitAfter(s, "\n")
	if lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}

// Compute returns the script that turns from into to.
func Compute(from, to string) Script {
	a, b := SplitLines(from), SplitLines(to)
	matcher := difflib.NewMatcherWithJunk(a, b, false, nil)

	var script Script
	for _, oc := range matcher.GetOpCodes() {
		switch oc.Tag {
		case 'e':
			script = script.push(Op{Kind: OpCopy, Count: oc.I2 - oc.I1})
		case 'd':
			script = script.push(Op{Kind: OpSkip, Count: oc.I2 - oc.I1})
		case 'i':
			script = script.push(Op{Kind: OpInsert, Text: strings.Join(b[oc.J1:oc.J2], "")})
		case 'r':
			script = script.push(Op{Kind: OpSkip, Count: oc.I2 - oc.I1})
			script = script.push(Op{Kind: OpInsert, Text: strings.Join(b[oc.J1:oc.J2], "")})
		}
	}
	return script
}

// push appends op, merging it into the previous op of the same kind.
func (s Script) push(op Op) Script {
	if op.Kind != OpInsert && op.Count == 0 {
		return s
	}
	if op.Kind == OpInsert && op.Text == "" {
		return s
	}
	if n := len(s); n > 0 && s[n-1].Kind == op.Kind {
		last := &s[n-1]
		last.Count += op.Count
		last.Text += op.Text
		return s
	}
	return append(s, op)
}

// Apply runs the script against base.
func (s Script) Apply(base string) (string, error) {
	lines := SplitLines(base)
	var out strings.Builder
	out.Grow(len(base))

	idx := 0
	for i, op := range s {
		switch op.Kind {
		case OpCopy:
			if idx+op.Count > len(lines) {
				return "", fmt.Errorf("op %d: copy %d lines past end of base (%d of %d used)", i, op.Count, idx, len(lines))
			}
			for _, line := range lines[idx : idx+op.Count] {
				out.WriteString(line)
			}
			idx += op.Count
		case OpSkip:
			if idx+op.Count > len(lines) {
				return "", fmt.Errorf("op %d: skip %d lines past end of base (%d of %d used)", i, op.Count, idx, len(lines))
			}
			idx += op.Count
		case OpInsert:
			out.WriteString(op.Text)
		default:
			return "", fmt.Errorf("op %d: unknown kind %q", i, op.Kind)
		}
	}
	if idx != len(lines) {
		return "", fmt.Errorf("script consumed %d of %d base lines", idx, len(lines))
	}
	return out.String(), nil
}

// Encode serializes the script. Copy and skip ops are written as "=N" and
// "-N"; an insert is "+B" followed by B raw bytes and a newline.
func (s Script) Encode() string {
	var b strings.Builder
	for _, op := range s {
		b.WriteByte(byte(op.Kind))
		if op.Kind == OpInsert {
			b.WriteString(strconv.Itoa(len(op.Text)))
			b.WriteByte('\n')
			b.WriteString(op.Text)
		} else {
			b.WriteString(strconv.Itoa(op.Count))
		}
		b.WriteByte('\n')
	}
	return b.String()
}

// Decode parses the output of Encode.
func Decode(encoded string) (Script, error) {
	r := bufio.NewReader(strings.NewReader(encoded))
	var script Script
	for {
		header, err := r.ReadString('\n')
		if err == io.EOF && header == "" {
			return script, nil
		}
		if err != nil {
			return nil, fmt.Errorf("op %d: truncated header %q", len(script), header)
		}
		header = strings.TrimSuffix(header, "\n")
		if len(header) < 2 {
			return nil, fmt.Errorf("op %d: malformed header %q", len(script), header)
		}
		n, err := strconv.Atoi(header[1:])
		if err != nil || n < 0 {
			return nil, fmt.Errorf("op %d: bad count in %q", len(script), header)
		}

		switch kind := OpKind(header[0]); kind {
		case OpCopy, OpSkip:
			script = append(script, Op{Kind: kind, Count: n})
		case OpInsert:
			buf := make([]byte, n+1)
			if _, err := io.ReadFull(r, buf); err != nil {
				return nil, fmt.Errorf("op %d: insert payload truncated: %w", len(script), err)
			}
			if buf[n] != '\n' {
				return nil, fmt.Errorf("op %d: insert payload not terminated", len(script))
			}
			script = append(script, Op{Kind: OpInsert, Text: string(buf[:n])})
		default:
			return nil, fmt.Errorf("op %d: unknown kind %q", len(script), header[0])
		}
	}
}

// Unified renders a human-readable unified diff between two texts.
func Unified(from, to, fromLabel, toLabel string) (string, error) {
	return difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        difflib.SplitLines(from),
		B:        difflib.SplitLines(to),
		FromFile: fromLabel,
		ToFile:   toLabel,
		Context:  3,
	})
}

// Stat summarizes a unified diff.
type Stat struct {
	Added   int
	Changed int
	Deleted int
}

// String renders the stat the way diffstat tools do.
func (s Stat) String() string {
	return fmt.Sprintf("%d added, %d changed, %d deleted", s.Added, s.Changed, s.Deleted)
}

// UnifiedStat parses a unified diff produced by Unified and counts lines.
func UnifiedStat(unified string) (Stat, error) {
	if strings.TrimSpace(unified) == "" {
		return Stat{}, nil
	}
	fd, err := godiff.ParseFileDiff([]byte(unified))
	if err != nil {
		return Stat{}, fmt.Errorf("parse unified diff: %w", err)
	}
	st := fd.Stat()
	return Stat{Added: int(st.Added), Changed: int(st.Changed), Deleted: int(st.Deleted)}, nil
}
