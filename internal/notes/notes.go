// Package notes implements NoteArchive: pages of markdown text kept in a
// content-addressed snippet archive, with per-page properties and an
// append-only history of page manifests.
//
// Thread Safety: NoteArchive is not safe for concurrent use. The owning
// document holds a lock around every call.
package notes

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/kimhsiao/notearchive/internal/challenge"
	"github.com/kimhsiao/notearchive/internal/errors"
	"github.com/kimhsiao/notearchive/internal/logging"
	"github.com/kimhsiao/notearchive/internal/models"
	"github.com/kimhsiao/notearchive/internal/parser"
	"github.com/kimhsiao/notearchive/internal/snippet"
	"github.com/kimhsiao/notearchive/internal/uuid"
)

// Symbolic reference names.
const (
	VersionsReference   = "versions"
	FileImportReference = "file-import"
)

// DefaultParseConcurrency bounds parallel parses during a batch update.
const DefaultParseConcurrency = 4

// pageContents is the in-memory cache entry of one page.
//
// stale: text changed and properties are not recomputed yet.
// dirty: text or properties not yet written to the archive.
type pageContents struct {
	text       string
	timestamp  time.Time
	properties *models.PageProperties
	stale      bool
	dirty      bool
}

// Option configures a NoteArchive.
type Option func(*NoteArchive)

// WithParser sets the page parser. Defaults to the markdown parser.
func WithParser(p parser.Parser) Option {
	return func(n *NoteArchive) { n.parser = p }
}

// WithRegistry sets the challenge template registry.
func WithRegistry(r *challenge.Registry) Option {
	return func(n *NoteArchive) { n.registry = r }
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(n *NoteArchive) { n.logger = l }
}

// WithIDGenerator sets the page identifier source. Defaults to UUID v4.
func WithIDGenerator(g uuid.Generator) Option {
	return func(n *NoteArchive) { n.newID = g }
}

// WithMaxChainDepth bounds the delta chains of the underlying archive.
func WithMaxChainDepth(depth int) Option {
	return func(n *NoteArchive) { n.maxChainDepth = depth }
}

// WithParseConcurrency bounds parallel parses in BatchUpdatePageProperties.
func WithParseConcurrency(limit int) Option {
	return func(n *NoteArchive) {
		if limit > 0 {
			n.parseConcurrency = limit
		}
	}
}

// WithVerifyOnLoad controls whether Parse and Load materialize every
// snippet before returning, so a corrupt historical diff fails the open
// instead of a later read. On by default.
func WithVerifyOnLoad(verify bool) Option {
	return func(n *NoteArchive) { n.verifyOnLoad = verify }
}

// NoteArchive is the page-level façade over a snippet archive.
type NoteArchive struct {
	archive  *snippet.Archive
	parser   parser.Parser
	registry *challenge.Registry
	logger   *logging.Logger
	newID    uuid.Generator

	maxChainDepth    int
	parseConcurrency int
	verifyOnLoad     bool

	// pages is the edit cache; it always wins over archived state.
	pages map[string]*pageContents
	// digests maps each live page to its last archived properties hash.
	digests map[string]string
	// versions is the history, oldest first.
	versions []models.Version
	// fileImports maps imported file names to page identifiers.
	fileImports      map[string]string
	fileImportsDirty bool

	// modified is set by any edit and cleared by a commit.
	modified bool

	broker *broker
}

func newNoteArchive(opts []Option) *NoteArchive {
	n := &NoteArchive{
		parseConcurrency: DefaultParseConcurrency,
		verifyOnLoad:     true,
		pages:            make(map[string]*pageContents),
		digests:          make(map[string]string),
		fileImports:      make(map[string]string),
		broker:           newBroker(),
	}
	for _, opt := range opts {
		opt(n)
	}
	if n.parser == nil {
		n.parser = parser.NewMarkdownParser()
	}
	if n.registry == nil {
		n.registry = challenge.DefaultRegistry()
	}
	if n.logger == nil {
		n.logger = logging.Get().Component("notes")
	}
	if n.newID == nil {
		n.newID = uuid.New
	}
	return n
}

func (n *NoteArchive) archiveOptions() []snippet.Option {
	if n.maxChainDepth > 0 {
		return []snippet.Option{snippet.WithMaxChainDepth(n.maxChainDepth)}
	}
	return nil
}

// New creates an empty note archive.
func New(opts ...Option) *NoteArchive {
	n := newNoteArchive(opts)
	n.archive = snippet.New(n.archiveOptions()...)
	return n
}

// Parse rebuilds a note archive from its serialized form.
func Parse(serialized string, opts ...Option) (*NoteArchive, error) {
	n := newNoteArchive(opts)
	a, err := snippet.Parse(serialized, n.archiveOptions()...)
	if err != nil {
		return nil, err
	}
	if err := n.load(a); err != nil {
		return nil, err
	}
	return n, nil
}

// Load wraps an existing snippet archive. A missing versions reference is
// an empty history.
func Load(a *snippet.Archive, opts ...Option) (*NoteArchive, error) {
	n := newNoteArchive(opts)
	if err := n.load(a); err != nil {
		return nil, err
	}
	return n, nil
}

func (n *NoteArchive) load(a *snippet.Archive) error {
	n.archive = a

	if n.verifyOnLoad {
		if problems := a.Verify(); len(problems) > 0 {
			return errors.Wrap(errors.ErrDeserialize,
				fmt.Sprintf("archive has %d unreadable snippets or references", len(problems)), problems[0])
		}
	}

	if hash, ok := a.SymbolicReference(VersionsReference); ok {
		payload, err := a.Text(hash)
		if err != nil {
			return errors.Wrap(errors.ErrDeserialize, "versions reference", err)
		}
		versions, err := parseVersions(payload)
		if err != nil {
			return err
		}
		n.versions = versions
	}

	if len(n.versions) > 0 {
		manifest, err := n.Manifest(n.versions[len(n.versions)-1])
		if err != nil {
			return errors.Wrap(errors.ErrDeserialize, "newest manifest", err)
		}
		for id, propsHash := range manifest {
			if _, ok := a.Snippet(propsHash); !ok {
				return errors.Deserialize("manifest entry %s points at missing properties %s", id, propsHash)
			}
			n.digests[id] = propsHash
		}
	}

	if hash, ok := a.SymbolicReference(FileImportReference); ok {
		payload, err := a.Text(hash)
		if err != nil {
			return err
		}
		if err := yaml.Unmarshal([]byte(payload), &n.fileImports); err != nil {
			return errors.Wrap(errors.ErrDeserialize, "malformed file-import table", err)
		}
		if n.fileImports == nil {
			n.fileImports = make(map[string]string)
		}
	}

	n.logger.Debug("Note archive loaded", map[string]interface{}{
		"snippets": a.Len(),
		"versions": len(n.versions),
		"pages":    len(n.digests),
	})
	return nil
}

// Archive returns the underlying snippet archive.
func (n *NoteArchive) Archive() *snippet.Archive {
	return n.archive
}

// Registry returns the challenge template registry in use.
func (n *NoteArchive) Registry() *challenge.Registry {
	return n.registry
}

// TextSerialized serializes the underlying archive. Edits not yet committed
// with ArchivePageManifestVersion are not included.
func (n *NoteArchive) TextSerialized() string {
	return n.archive.TextSerialized()
}

// HasUncommittedChanges reports whether any edit happened since the last
// commit.
func (n *NoteArchive) HasUncommittedChanges() bool {
	return n.modified
}

// PageIdentifiers returns every live page identifier, sorted.
func (n *NoteArchive) PageIdentifiers() []string {
	ids := make([]string, 0, len(n.digests)+len(n.pages))
	for id := range n.digests {
		ids = append(ids, id)
	}
	for id := range n.pages {
		if _, ok := n.digests[id]; !ok {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// Versions returns the version history, oldest first.
func (n *NoteArchive) Versions() []models.Version {
	out := make([]models.Version, len(n.versions))
	copy(out, n.versions)
	return out
}

// =====================================================
// Persisted payloads
// =====================================================

// encodeVersions writes one "timestamp hash" line per version, newest first.
func encodeVersions(versions []models.Version) string {
	var b strings.Builder
	for i := len(versions) - 1; i >= 0; i-- {
		b.WriteString(versions[i].String())
		b.WriteByte('\n')
	}
	return b.String()
}

// parseVersions reads the encodeVersions form and returns it oldest first.
func parseVersions(payload string) ([]models.Version, error) {
	lines := strings.Split(strings.TrimSuffix(payload, "\n"), "\n")
	if payload == "" {
		lines = nil
	}
	versions := make([]models.Version, 0, len(lines))
	for i := len(lines) - 1; i >= 0; i-- {
		v, err := models.ParseVersion(lines[i])
		if err != nil {
			return nil, errors.Wrap(errors.ErrDeserialize, "malformed versions reference", err)
		}
		if !snippet.IsHash(v.ManifestHash) {
			return nil, errors.Deserialize("versions reference: bad manifest hash %q", v.ManifestHash)
		}
		versions = append(versions, v)
	}
	return versions, nil
}

// encodeManifest writes sorted "pageID propertiesHash" lines.
func encodeManifest(digests map[string]string) string {
	ids := make([]string, 0, len(digests))
	for id := range digests {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var b strings.Builder
	for _, id := range ids {
		b.WriteString(id)
		b.WriteByte(' ')
		b.WriteString(digests[id])
		b.WriteByte('\n')
	}
	return b.String()
}

// parseManifest reads the encodeManifest form.
func parseManifest(payload string) (map[string]string, error) {
	manifest := make(map[string]string)
	if payload == "" {
		return manifest, nil
	}
	for i, line := range strings.Split(strings.TrimSuffix(payload, "\n"), "\n") {
		id, hash, ok := strings.Cut(line, " ")
		if !ok || uuid.ValidatePageID(id) != nil || !snippet.IsHash(hash) {
			return nil, errors.Deserialize("manifest line %d: malformed entry %q", i+1, line)
		}
		if _, dup := manifest[id]; dup {
			return nil, errors.Deserialize("manifest line %d: duplicate page %s", i+1, id)
		}
		manifest[id] = hash
	}
	return manifest, nil
}
