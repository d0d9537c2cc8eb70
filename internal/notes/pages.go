package notes

import (
	"fmt"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kimhsiao/notearchive/internal/errors"
	"github.com/kimhsiao/notearchive/internal/models"
	"github.com/kimhsiao/notearchive/internal/parser"
	"github.com/kimhsiao/notearchive/internal/snippet"
	"github.com/kimhsiao/notearchive/internal/telemetry"
	"github.com/kimhsiao/notearchive/internal/uuid"
)

// InsertNote creates a page holding text and returns its identifier. Nothing
// is written to the archive until the next commit.
func (n *NoteArchive) InsertNote(text string, ts time.Time) (string, error) {
	id := n.newID()
	if err := uuid.ValidatePageID(id); err != nil {
		return "", errors.Wrap(errors.ErrInvalid, "generated page identifier", err)
	}
	if n.exists(id) {
		return "", errors.Newf(errors.ErrInvalid, "page %s already exists", id)
	}
	n.seed(id, text, ts)
	n.broker.publish(PageChange{Kind: PageInserted, PageID: id, Timestamp: ts})
	return id, nil
}

// UpdateText replaces the text of a page. Byte-identical text is a no-op.
// An identifier unknown to the archive creates the page.
func (n *NoteArchive) UpdateText(id, text string, ts time.Time) error {
	if err := uuid.ValidatePageID(id); err != nil {
		return errors.Wrap(errors.ErrInvalid, "update text", err)
	}

	current, err := n.CurrentText(id)
	switch {
	case err == nil:
		if current == text {
			return nil
		}
	case errors.Is(err, errors.ErrNoSuchPage):
		n.seed(id, text, ts)
		n.broker.publish(PageChange{Kind: PageInserted, PageID: id, Timestamp: ts})
		return nil
	default:
		return err
	}

	if page, ok := n.pages[id]; ok {
		page.text = text
		page.timestamp = ts
		page.stale = true
		page.dirty = true
		n.modified = true
	} else {
		n.seed(id, text, ts)
	}
	n.broker.publish(PageChange{Kind: PageUpdated, PageID: id, Timestamp: ts})
	return nil
}

// RemoveNote drops a page from the cache and from the next manifest.
// Committed versions keep listing it.
func (n *NoteArchive) RemoveNote(id string) error {
	if !n.exists(id) {
		return errors.NoSuchPage(id)
	}
	delete(n.pages, id)
	delete(n.digests, id)
	for name, pageID := range n.fileImports {
		if pageID == id {
			delete(n.fileImports, name)
			n.fileImportsDirty = true
		}
	}
	n.modified = true
	n.broker.publish(PageChange{Kind: PageRemoved, PageID: id})
	return nil
}

// CurrentText returns the newest text of a page: the cached edit if there is
// one, else the text of its last archived properties.
func (n *NoteArchive) CurrentText(id string) (string, error) {
	if page, ok := n.pages[id]; ok {
		return page.text, nil
	}
	props, err := n.archivedProperties(id)
	if err != nil {
		return "", err
	}
	return n.archive.Text(props.ContentHash)
}

// PageProperties returns the current properties of a page, recomputing them
// first when the page is stale.
func (n *NoteArchive) PageProperties(id string) (models.PageProperties, error) {
	if page, ok := n.pages[id]; ok {
		if page.stale || page.properties == nil {
			if err := n.updatePages([]string{id}); err != nil {
				return models.PageProperties{}, err
			}
		}
		return *page.properties, nil
	}
	return n.archivedProperties(id)
}

// AllPageProperties brings every page up to date and returns its properties
// keyed by page identifier.
func (n *NoteArchive) AllPageProperties() (map[string]models.PageProperties, error) {
	if _, err := n.BatchUpdatePageProperties(); err != nil {
		return nil, err
	}
	all := make(map[string]models.PageProperties, len(n.digests)+len(n.pages))
	for _, id := range n.PageIdentifiers() {
		props, err := n.PageProperties(id)
		if err != nil {
			return nil, err
		}
		all[id] = props
	}
	return all, nil
}

// BatchUpdatePageProperties recomputes the properties of every stale page
// and returns how many were updated.
func (n *NoteArchive) BatchUpdatePageProperties() (int, error) {
	var stale []string
	for id, page := range n.pages {
		if page.stale {
			stale = append(stale, id)
		}
	}
	if len(stale) == 0 {
		return 0, nil
	}
	sort.Strings(stale)
	if err := n.updatePages(stale); err != nil {
		return 0, err
	}
	n.logger.Debug("Page properties updated", map[string]interface{}{
		"count": len(stale),
	})
	return len(stale), nil
}

// updatePages parses the given cached pages concurrently, then applies the
// results in order. Template payloads are inserted into the archive.
func (n *NoteArchive) updatePages(ids []string) error {
	results := make([]*parser.Result, len(ids))

	var g errgroup.Group
	g.SetLimit(n.parseConcurrency)
	for i, id := range ids {
		i, id := i, id
		text := n.pages[id].text
		g.Go(func() error {
			res, err := n.parser.Parse(text)
			if err != nil {
				return fmt.Errorf("parse page %s: %w", id, err)
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return errors.Wrap(errors.ErrInternal, "update page properties", err)
	}

	for i, id := range ids {
		page := n.pages[id]
		res := results[i]
		props := models.PageProperties{
			ContentHash: snippet.CalculateHash(page.text),
			Timestamp:   models.NormalizeTimestamp(page.timestamp),
			Hashtags:    res.Hashtags,
			Title:       res.Title,
			WordCount:   res.WordCount,
		}
		for _, tmpl := range res.Templates {
			s := n.archive.Insert(tmpl.Encode())
			props.ChallengeTemplateKeys = append(props.ChallengeTemplateKeys,
				models.ChallengeTemplateKey{Type: tmpl.Type(), Hash: s.Hash()})
		}
		page.properties = &props
		page.stale = false
		telemetry.PropertyUpdates.Inc()
		n.broker.publish(PageChange{Kind: PropertiesUpdated, PageID: id, Timestamp: page.timestamp})
	}
	return nil
}

func (n *NoteArchive) exists(id string) bool {
	if _, ok := n.pages[id]; ok {
		return true
	}
	_, ok := n.digests[id]
	return ok
}

func (n *NoteArchive) seed(id, text string, ts time.Time) {
	n.pages[id] = &pageContents{
		text:      text,
		timestamp: ts,
		stale:     true,
		dirty:     true,
	}
	n.modified = true
}

// archivedProperties decodes the last archived properties of a page.
func (n *NoteArchive) archivedProperties(id string) (models.PageProperties, error) {
	hash, ok := n.digests[id]
	if !ok {
		return models.PageProperties{}, errors.NoSuchPage(id)
	}
	return n.propertiesByHash(hash)
}

func (n *NoteArchive) propertiesByHash(hash string) (models.PageProperties, error) {
	text, err := n.archive.Text(hash)
	if err != nil {
		return models.PageProperties{}, err
	}
	props, err := models.DecodePageProperties(text)
	if err != nil {
		return models.PageProperties{}, errors.Wrap(errors.ErrDeserialize, fmt.Sprintf("properties snippet %s", hash), err)
	}
	return props, nil
}
