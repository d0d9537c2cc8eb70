package snippet

import (
	"bufio"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/kimhsiao/notearchive/internal/errors"
	"github.com/kimhsiao/notearchive/internal/textdiff"
)

// formatHeader is the first line of every serialized archive.
const formatHeader = "notearchive 1"

const recordPrefix = "+++ "

// TextSerialized encodes the whole archive. The output is deterministic:
// snippets are ordered by hash and references by name.
//
//	notearchive 1
//	+++ snippet <hash> full <bytes>
//	<payload>
//	+++ snippet <hash> diff <base> <bytes>
//	<payload>
//	+++ ref <name> <hash>
//
// Each payload is followed by a single newline.
func (a *Archive) TextSerialized() string {
	var b strings.Builder
	b.WriteString(formatHeader)
	b.WriteByte('\n')

	for _, h := range a.Hashes() {
		s := a.snippets[h]
		payload := s.payload()
		if s.IsDiffEncoded() {
			fmt.Fprintf(&b, "%ssnippet %s diff %s %d\n", recordPrefix, s.hash, s.base, len(payload))
		} else {
			fmt.Fprintf(&b, "%ssnippet %s full %d\n", recordPrefix, s.hash, len(payload))
		}
		b.WriteString(payload)
		b.WriteByte('\n')
	}

	names := make([]string, 0, len(a.refs))
	for name := range a.refs {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(&b, "%sref %s %s\n", recordPrefix, name, a.refs[name])
	}
	return b.String()
}

// Parse rebuilds an archive from TextSerialized output. Malformed input,
// hash mismatches on full-text snippets, dangling diff bases, diff cycles and
// dangling references are reported as DESERIALIZE_ERROR.
func Parse(serialized string, opts ...Option) (*Archive, error) {
	a := New(opts...)
	r := bufio.NewReader(strings.NewReader(serialized))

	first, err := r.ReadString('\n')
	if err != nil || strings.TrimSuffix(first, "\n") != formatHeader {
		return nil, errors.Deserialize("missing %q header", formatHeader)
	}

	line := 1
	for {
		header, err := r.ReadString('\n')
		if err == io.EOF && header == "" {
			break
		}
		line++
		if err != nil {
			return nil, errors.Deserialize("line %d: truncated record header", line)
		}
		header = strings.TrimSuffix(header, "\n")
		if !strings.HasPrefix(header, recordPrefix) {
			return nil, errors.Deserialize("line %d: expected record header, got %q", line, header)
		}
		fields := strings.Split(strings.TrimPrefix(header, recordPrefix), " ")

		switch fields[0] {
		case "snippet":
			s, n, err := parseSnippet(r, fields)
			if err != nil {
				return nil, errors.Wrap(errors.ErrDeserialize, fmt.Sprintf("line %d", line), err)
			}
			line += n
			if _, dup := a.snippets[s.hash]; dup {
				return nil, errors.Deserialize("line %d: duplicate snippet %s", line, s.hash)
			}
			a.snippets[s.hash] = s
		case "ref":
			if len(fields) != 3 || validateRefName(fields[1]) != nil || !IsHash(fields[2]) {
				return nil, errors.Deserialize("line %d: malformed reference %q", line, header)
			}
			a.refs[fields[1]] = fields[2]
		default:
			return nil, errors.Deserialize("line %d: unknown record type %q", line, fields[0])
		}
	}

	if err := a.checkLinks(); err != nil {
		return nil, err
	}
	return a, nil
}

// parseSnippet reads one snippet record whose header has been split into
// fields. It returns the number of newlines consumed from the payload.
func parseSnippet(r *bufio.Reader, fields []string) (*Snippet, int, error) {
	var (
		hash, base, size string
	)
	switch {
	case len(fields) == 4 && fields[2] == "full":
		hash, size = fields[1], fields[3]
	case len(fields) == 5 && fields[2] == "diff":
		hash, base, size = fields[1], fields[3], fields[4]
		if !IsHash(base) {
			return nil, 0, fmt.Errorf("bad base hash %q", base)
		}
	default:
		return nil, 0, fmt.Errorf("malformed snippet header %q", strings.Join(fields, " "))
	}
	if !IsHash(hash) {
		return nil, 0, fmt.Errorf("bad hash %q", hash)
	}
	n, err := strconv.Atoi(size)
	if err != nil || n < 0 {
		return nil, 0, fmt.Errorf("bad payload length %q", size)
	}

	buf := make([]byte, n+1)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, 0, fmt.Errorf("snippet %s: payload truncated", hash)
	}
	if buf[n] != '\n' {
		return nil, 0, fmt.Errorf("snippet %s: payload not terminated", hash)
	}
	payload := string(buf[:n])
	consumed := strings.Count(payload, "\n") + 1

	if base == "" {
		if got := CalculateHash(payload); got != hash {
			return nil, 0, fmt.Errorf("snippet %s: content hashes to %s", hash, got)
		}
		return &Snippet{hash: hash, text: payload, materialized: true}, consumed, nil
	}

	if base == hash {
		return nil, 0, fmt.Errorf("snippet %s: diff against itself", hash)
	}
	script, err := textdiff.Decode(payload)
	if err != nil {
		return nil, 0, fmt.Errorf("snippet %s: %w", hash, err)
	}
	return &Snippet{hash: hash, base: base, script: script}, consumed, nil
}

// checkLinks verifies that every diff base and reference resolves, that no
// diff chain loops, and rebuilds the dependents index.
func (a *Archive) checkLinks() error {
	for _, h := range a.Hashes() {
		s := a.snippets[h]
		if !s.IsDiffEncoded() {
			continue
		}
		if _, ok := a.snippets[s.base]; !ok {
			return errors.Deserialize("snippet %s: diff base %s is missing", s.hash, s.base)
		}
		a.link(s)
	}

	// Walk each chain; a chain longer than the snippet count must loop.
	terminates := make(map[string]bool, len(a.snippets))
	for _, h := range a.Hashes() {
		var path []string
		cur := a.snippets[h]
		for cur.IsDiffEncoded() && !terminates[cur.hash] {
			path = append(path, cur.hash)
			if len(path) > len(a.snippets) {
				return errors.Deserialize("snippet %s: diff chain loops", h)
			}
			cur = a.snippets[cur.base]
		}
		for _, p := range path {
			terminates[p] = true
		}
	}

	for name, h := range a.refs {
		if _, ok := a.snippets[h]; !ok {
			return errors.Deserialize("reference %q points at missing snippet %s", name, h)
		}
	}
	return nil
}
