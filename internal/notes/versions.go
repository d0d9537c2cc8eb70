package notes

import (
	"fmt"
	"sort"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/kimhsiao/notearchive/internal/errors"
	"github.com/kimhsiao/notearchive/internal/models"
	"github.com/kimhsiao/notearchive/internal/snippet"
	"github.com/kimhsiao/notearchive/internal/telemetry"
)

// ArchivePageManifestVersion flushes every edited page into the archive and
// records a new version if the resulting manifest differs from the newest
// one. It reports whether a version was appended.
//
// Each lineage (a page's text, its properties, the manifest and the
// versions list) keeps its newest snippet as full text and re-encodes the
// predecessor as a diff against it.
func (n *NoteArchive) ArchivePageManifestVersion(ts time.Time) (bool, error) {
	if _, err := n.BatchUpdatePageProperties(); err != nil {
		return false, err
	}
	if err := n.flushPages(); err != nil {
		return false, err
	}
	if err := n.flushFileImports(); err != nil {
		return false, err
	}

	manifest := n.archive.Insert(encodeManifest(n.digests))

	var previous *snippet.Snippet
	if len(n.versions) > 0 {
		last := n.versions[len(n.versions)-1]
		if last.ManifestHash == manifest.Hash() {
			n.modified = false
			telemetry.Commits.WithLabelValues("noop").Inc()
			return false, nil
		}
		s, ok := n.archive.Snippet(last.ManifestHash)
		if !ok {
			return false, errors.NoSuchText(last.ManifestHash)
		}
		previous = s
	}
	if _, err := n.archive.Rebase(previous, manifest); err != nil {
		return false, err
	}

	version := models.Version{Timestamp: models.NormalizeTimestamp(ts), ManifestHash: manifest.Hash()}
	n.versions = append(n.versions, version)
	if err := n.setLineageReference(VersionsReference, encodeVersions(n.versions)); err != nil {
		n.versions = n.versions[:len(n.versions)-1]
		return false, err
	}

	n.modified = false
	telemetry.Commits.WithLabelValues("committed").Inc()
	n.logger.Info("Version committed", map[string]interface{}{
		"version":  len(n.versions),
		"manifest": manifest.Hash(),
		"pages":    len(n.digests),
	})
	n.broker.publish(PageChange{Kind: VersionCommitted, Timestamp: version.Timestamp, ManifestHash: manifest.Hash()})
	return true, nil
}

// flushPages writes the text and properties of every dirty page.
func (n *NoteArchive) flushPages() error {
	var dirty []string
	for id, page := range n.pages {
		if page.dirty {
			dirty = append(dirty, id)
		}
	}
	sort.Strings(dirty)

	for _, id := range dirty {
		page := n.pages[id]
		encoded, err := page.properties.Encode()
		if err != nil {
			return errors.Wrap(errors.ErrInternal, fmt.Sprintf("page %s", id), err)
		}
		text := n.archive.Insert(page.text)
		props := n.archive.Insert(encoded)

		if priorHash, ok := n.digests[id]; ok && priorHash != props.Hash() {
			if err := n.rebasePage(priorHash, props, text); err != nil {
				return err
			}
		}
		n.digests[id] = props.Hash()
		page.dirty = false
	}
	return nil
}

// rebasePage re-encodes a page's previous properties and text against the
// new ones.
func (n *NoteArchive) rebasePage(priorHash string, props, text *snippet.Snippet) error {
	prior, ok := n.archive.Snippet(priorHash)
	if !ok {
		return errors.NoSuchText(priorHash)
	}
	priorProps, err := n.propertiesByHash(priorHash)
	if err != nil {
		return err
	}
	if _, err := n.archive.Rebase(prior, props); err != nil {
		return err
	}
	if priorProps.ContentHash == text.Hash() {
		return nil
	}
	priorText, ok := n.archive.Snippet(priorProps.ContentHash)
	if !ok {
		return errors.NoSuchText(priorProps.ContentHash)
	}
	_, err = n.archive.Rebase(priorText, text)
	return err
}

// setLineageReference points name at text and re-encodes the previous
// target as a diff against it.
func (n *NoteArchive) setLineageReference(name, text string) error {
	var previous *snippet.Snippet
	if hash, ok := n.archive.SymbolicReference(name); ok {
		previous, _ = n.archive.Snippet(hash)
	}
	current, err := n.archive.SetSymbolicReference(name, text)
	if err != nil {
		return err
	}
	_, err = n.archive.Rebase(previous, current)
	return err
}

func (n *NoteArchive) flushFileImports() error {
	if !n.fileImportsDirty {
		return nil
	}
	out, err := yaml.Marshal(n.fileImports)
	if err != nil {
		return errors.Wrap(errors.ErrInternal, "encode file-import table", err)
	}
	if err := n.setLineageReference(FileImportReference, string(out)); err != nil {
		return err
	}
	n.fileImportsDirty = false
	return nil
}

// =====================================================
// Historical reads
// =====================================================

// Manifest returns the page → properties hash mapping of a version.
func (n *NoteArchive) Manifest(v models.Version) (map[string]string, error) {
	payload, err := n.archive.Text(v.ManifestHash)
	if err != nil {
		return nil, err
	}
	return parseManifest(payload)
}

// PagePropertiesAt returns the properties a page had at a version.
func (n *NoteArchive) PagePropertiesAt(v models.Version, id string) (models.PageProperties, error) {
	manifest, err := n.Manifest(v)
	if err != nil {
		return models.PageProperties{}, err
	}
	hash, ok := manifest[id]
	if !ok {
		return models.PageProperties{}, errors.NoSuchPage(id)
	}
	return n.propertiesByHash(hash)
}

// TextAt returns the text a page had at a version.
func (n *NoteArchive) TextAt(v models.Version, id string) (string, error) {
	props, err := n.PagePropertiesAt(v, id)
	if err != nil {
		return "", err
	}
	return n.archive.Text(props.ContentHash)
}

// VersionAt returns the version with 1-based number num, oldest first.
func (n *NoteArchive) VersionAt(num int) (models.Version, error) {
	if num < 1 || num > len(n.versions) {
		return models.Version{}, errors.Newf(errors.ErrNotFound, "no version %d (have %d)", num, len(n.versions))
	}
	return n.versions[num-1], nil
}
