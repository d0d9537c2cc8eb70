package notes

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/kimhsiao/notearchive/internal/errors"
	"github.com/kimhsiao/notearchive/internal/models"
	"github.com/kimhsiao/notearchive/internal/textdiff"
)

// ImportFile stores the text of an external file as a page. Importing the
// same name again updates that page instead of creating another. Reports
// whether a page was created.
func (n *NoteArchive) ImportFile(name, text string, ts time.Time) (string, bool, error) {
	if strings.TrimSpace(name) == "" {
		return "", false, errors.New(errors.ErrInvalid, "import file name is empty")
	}
	if id, ok := n.fileImports[name]; ok && n.exists(id) {
		if err := n.UpdateText(id, text, ts); err != nil {
			return "", false, err
		}
		return id, false, nil
	}

	id, err := n.InsertNote(text, ts)
	if err != nil {
		return "", false, err
	}
	n.fileImports[name] = id
	n.fileImportsDirty = true
	return id, true, nil
}

// ImportedFiles returns a copy of the file name → page identifier table.
func (n *NoteArchive) ImportedFiles() map[string]string {
	out := make(map[string]string, len(n.fileImports))
	for k, v := range n.fileImports {
		out[k] = v
	}
	return out
}

// Hashtags returns every hashtag used by a live page, sorted.
func (n *NoteArchive) Hashtags() ([]string, error) {
	all, err := n.AllPageProperties()
	if err != nil {
		return nil, err
	}
	set := make(map[string]struct{})
	for _, props := range all {
		for _, tag := range props.Hashtags {
			set[tag] = struct{}{}
		}
	}
	tags := make([]string, 0, len(set))
	for tag := range set {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	return tags, nil
}

// PagesWithHashtag returns the sorted identifiers of pages tagged with tag.
func (n *NoteArchive) PagesWithHashtag(tag string) ([]string, error) {
	all, err := n.AllPageProperties()
	if err != nil {
		return nil, err
	}
	var ids []string
	for id, props := range all {
		if props.HasHashtag(tag) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// PageDiff returns a unified diff of a page between two versions. A page
// missing from a version diffs as empty text.
func (n *NoteArchive) PageDiff(id string, from, to models.Version) (string, error) {
	before, err := n.textAtOrEmpty(from, id)
	if err != nil {
		return "", err
	}
	after, err := n.textAtOrEmpty(to, id)
	if err != nil {
		return "", err
	}
	return textdiff.Unified(before, after, versionLabel(id, from), versionLabel(id, to))
}

func (n *NoteArchive) textAtOrEmpty(v models.Version, id string) (string, error) {
	text, err := n.TextAt(v, id)
	if errors.Is(err, errors.ErrNoSuchPage) {
		return "", nil
	}
	return text, err
}

func versionLabel(id string, v models.Version) string {
	return fmt.Sprintf("%s@%s", id, models.NormalizeTimestamp(v.Timestamp).Format(models.TimestampLayout))
}
