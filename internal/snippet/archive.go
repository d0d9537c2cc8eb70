package snippet

import (
	"fmt"
	"sort"
	"strings"
	"unicode"

	"github.com/kimhsiao/notearchive/internal/errors"
	"github.com/kimhsiao/notearchive/internal/telemetry"
	"github.com/kimhsiao/notearchive/internal/textdiff"
)

// DefaultMaxChainDepth bounds the number of diff hops any snippet needs to
// reach a full-text snippet.
const DefaultMaxChainDepth = 50

// Option configures an Archive.
type Option func(*Archive)

// WithMaxChainDepth sets the delta chain bound used by Rebase. Values below
// one are treated as one.
func WithMaxChainDepth(depth int) Option {
	return func(a *Archive) {
		if depth < 1 {
			depth = 1
		}
		a.maxChainDepth = depth
	}
}

// Archive owns a set of snippets keyed by content hash and a table of
// symbolic references (name → hash).
//
// Thread Safety: Archive is not safe for concurrent use. The owning document
// serializes access.
type Archive struct {
	snippets map[string]*Snippet
	refs     map[string]string

	// dependents maps a hash to the snippets diff-encoded against it.
	dependents map[string]map[string]struct{}

	maxChainDepth int
}

// New creates an empty archive.
func New(opts ...Option) *Archive {
	a := &Archive{
		snippets:      make(map[string]*Snippet),
		refs:          make(map[string]string),
		dependents:    make(map[string]map[string]struct{}),
		maxChainDepth: DefaultMaxChainDepth,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// MaxChainDepth returns the configured delta chain bound.
func (a *Archive) MaxChainDepth() int {
	return a.maxChainDepth
}

// Len returns the number of snippets.
func (a *Archive) Len() int {
	return len(a.snippets)
}

// Hashes returns every snippet hash in sorted order.
func (a *Archive) Hashes() []string {
	hashes := make([]string, 0, len(a.snippets))
	for h := range a.snippets {
		hashes = append(hashes, h)
	}
	sort.Strings(hashes)
	return hashes
}

// Insert stores text and returns its snippet. Text already present returns
// the existing snippet unchanged.
func (a *Archive) Insert(text string) *Snippet {
	hash := CalculateHash(text)
	if existing, ok := a.snippets[hash]; ok {
		telemetry.SnippetsInserted.WithLabelValues("deduplicated").Inc()
		return existing
	}
	s := &Snippet{hash: hash, text: text, materialized: true}
	a.snippets[hash] = s
	telemetry.SnippetsInserted.WithLabelValues("stored").Inc()
	return s
}

// InsertSnippet stores a snippet built elsewhere, deduplicating by hash. The
// returned snippet is the one owned by the archive. A diff-encoded snippet
// from another archive is stored as a full-text copy, since its base may not
// exist here; it must have been materialized by its own archive first.
func (a *Archive) InsertSnippet(s *Snippet) (*Snippet, error) {
	if existing, ok := a.snippets[s.hash]; ok {
		telemetry.SnippetsInserted.WithLabelValues("deduplicated").Inc()
		return existing, nil
	}
	if s.IsDiffEncoded() {
		if !s.materialized {
			return nil, errors.Newf(errors.ErrInvalid, "snippet %s is diff-encoded and was never materialized", s.hash)
		}
		s = &Snippet{hash: s.hash, text: s.text, materialized: true}
	}
	a.snippets[s.hash] = s
	telemetry.SnippetsInserted.WithLabelValues("stored").Inc()
	return s, nil
}

// Snippet looks up a snippet by hash.
func (a *Archive) Snippet(hash string) (*Snippet, bool) {
	s, ok := a.snippets[hash]
	return s, ok
}

// Text materializes the snippet with the given hash.
func (a *Archive) Text(hash string) (string, error) {
	s, ok := a.snippets[hash]
	if !ok {
		return "", errors.NoSuchText(hash)
	}
	return a.Materialize(s)
}

// Materialize returns the full text of s, resolving diff bases through the
// archive. A missing base, a broken diff or a hash mismatch is corruption.
func (a *Archive) Materialize(s *Snippet) (string, error) {
	if s.materialized {
		telemetry.MaterializeHops.Observe(0)
		return s.text, nil
	}

	var chain []*Snippet
	cur := s
	for !cur.materialized {
		chain = append(chain, cur)
		if len(chain) > len(a.snippets) {
			return "", errors.Deserialize("snippet %s: diff chain does not terminate", s.hash)
		}
		base, ok := a.snippets[cur.base]
		if !ok {
			return "", errors.Deserialize("snippet %s: diff base %s is missing", cur.hash, cur.base)
		}
		cur = base
	}
	telemetry.MaterializeHops.Observe(float64(len(chain)))

	text := cur.text
	for i := len(chain) - 1; i >= 0; i-- {
		sn := chain[i]
		out, err := sn.script.Apply(text)
		if err != nil {
			return "", errors.Wrap(errors.ErrDeserialize, fmt.Sprintf("snippet %s: cannot apply diff", sn.hash), err)
		}
		if got := CalculateHash(out); got != sn.hash {
			return "", errors.Deserialize("snippet %s: materialized text hashes to %s", sn.hash, got)
		}
		sn.text = out
		sn.materialized = true
		text = out
	}
	return s.text, nil
}

// ChainDepth returns the number of diff hops from s to a full-text snippet.
func (a *Archive) ChainDepth(s *Snippet) int {
	depth := 0
	for cur := s; cur.IsDiffEncoded(); depth++ {
		next, ok := a.snippets[cur.base]
		if !ok || depth > len(a.snippets) {
			break
		}
		cur = next
	}
	return depth
}

// inboundDepth returns the longest chain of snippets that reach hash through
// their diff bases.
func (a *Archive) inboundDepth(hash string) int {
	longest := 0
	for dep := range a.dependents[hash] {
		if d := 1 + a.inboundDepth(dep); d > longest {
			longest = d
		}
	}
	return longest
}

// EncodeAsDiff stores s as a diff against base, or as full text when base is
// nil. The snippet's hash never changes. Both snippets must belong to the
// archive, and base must not itself depend on s.
func (a *Archive) EncodeAsDiff(s, base *Snippet) error {
	if _, ok := a.snippets[s.hash]; !ok {
		return errors.NoSuchText(s.hash)
	}
	text, err := a.Materialize(s)
	if err != nil {
		return err
	}

	if base == nil || base.hash == s.hash {
		a.unlink(s)
		s.clearDiff()
		return nil
	}
	if _, ok := a.snippets[base.hash]; !ok {
		return errors.NoSuchText(base.hash)
	}
	for cur := base; cur.IsDiffEncoded(); {
		if cur.base == s.hash {
			return errors.Newf(errors.ErrInvalid, "encoding %s against %s would create a diff cycle", s.hash, base.hash)
		}
		next, ok := a.snippets[cur.base]
		if !ok {
			return errors.Deserialize("snippet %s: diff base %s is missing", cur.hash, cur.base)
		}
		cur = next
	}

	baseText, err := a.Materialize(base)
	if err != nil {
		return err
	}
	a.unlink(s)
	s.base = base.hash
	s.script = textdiff.Compute(baseText, text)
	a.link(s)
	return nil
}

// Rebase records that newer supersedes older in one lineage (successive
// versions of a page, its properties, or the manifest). newer is kept as
// full text and older becomes a diff against it, unless that would push any
// delta chain past the archive's maximum depth; then older stays full and
// acts as a keyframe. Reports whether older was diff-encoded.
func (a *Archive) Rebase(older, newer *Snippet) (bool, error) {
	if older == nil || newer == nil || older.hash == newer.hash {
		return false, nil
	}
	if newer.IsDiffEncoded() {
		if err := a.EncodeAsDiff(newer, nil); err != nil {
			return false, err
		}
	}
	if a.inboundDepth(older.hash)+1 > a.maxChainDepth {
		if older.IsDiffEncoded() {
			if err := a.EncodeAsDiff(older, nil); err != nil {
				return false, err
			}
		}
		telemetry.Rebases.WithLabelValues("keyframe").Inc()
		return false, nil
	}
	if err := a.EncodeAsDiff(older, newer); err != nil {
		return false, err
	}
	telemetry.Rebases.WithLabelValues("diff").Inc()
	return true, nil
}

func (a *Archive) link(s *Snippet) {
	deps := a.dependents[s.base]
	if deps == nil {
		deps = make(map[string]struct{})
		a.dependents[s.base] = deps
	}
	deps[s.hash] = struct{}{}
}

func (a *Archive) unlink(s *Snippet) {
	if !s.IsDiffEncoded() {
		return
	}
	if deps := a.dependents[s.base]; deps != nil {
		delete(deps, s.hash)
		if len(deps) == 0 {
			delete(a.dependents, s.base)
		}
	}
}

// =====================================================
// Symbolic references
// =====================================================

func validateRefName(name string) error {
	if name == "" || strings.IndexFunc(name, unicode.IsSpace) >= 0 {
		return errors.Newf(errors.ErrInvalid, "invalid reference name %q", name)
	}
	return nil
}

// SetSymbolicReference stores text and points name at it, replacing any
// previous target.
func (a *Archive) SetSymbolicReference(name, text string) (*Snippet, error) {
	if err := validateRefName(name); err != nil {
		return nil, err
	}
	s := a.Insert(text)
	a.refs[name] = s.hash
	return s, nil
}

// SymbolicReference returns the hash name points at.
func (a *Archive) SymbolicReference(name string) (string, bool) {
	h, ok := a.refs[name]
	return h, ok
}

// References returns a copy of the reference table.
func (a *Archive) References() map[string]string {
	out := make(map[string]string, len(a.refs))
	for k, v := range a.refs {
		out[k] = v
	}
	return out
}

// =====================================================
// Inspection
// =====================================================

// Stats summarizes archive storage.
type Stats struct {
	Snippets     int
	DiffEncoded  int
	References   int
	StoredBytes  int
	FullBytes    int
	MaxChainSeen int
}

// Stats materializes every snippet to report stored versus full size.
func (a *Archive) Stats() (Stats, error) {
	st := Stats{Snippets: len(a.snippets), References: len(a.refs)}
	for _, h := range a.Hashes() {
		s := a.snippets[h]
		text, err := a.Materialize(s)
		if err != nil {
			return Stats{}, err
		}
		st.FullBytes += len(text)
		st.StoredBytes += len(s.payload())
		if s.IsDiffEncoded() {
			st.DiffEncoded++
			if d := a.ChainDepth(s); d > st.MaxChainSeen {
				st.MaxChainSeen = d
			}
		}
	}
	return st, nil
}

// Verify materializes every snippet and checks every reference. It returns
// one error per problem found.
func (a *Archive) Verify() []error {
	var problems []error
	for _, h := range a.Hashes() {
		if _, err := a.Materialize(a.snippets[h]); err != nil {
			problems = append(problems, err)
		}
	}
	names := make([]string, 0, len(a.refs))
	for name := range a.refs {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if _, ok := a.snippets[a.refs[name]]; !ok {
			problems = append(problems, errors.Deserialize("reference %q points at missing snippet %s", name, a.refs[name]))
		}
	}
	return problems
}
