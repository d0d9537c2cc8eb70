package notes

import (
	"github.com/kimhsiao/notearchive/internal/challenge"
	"github.com/kimhsiao/notearchive/internal/errors"
	"github.com/kimhsiao/notearchive/internal/models"
	"github.com/kimhsiao/notearchive/internal/telemetry"
)

// ChallengeTemplate decodes the template stored under key. A missing
// snippet is NO_SUCH_TEMPLATE_KEY; an unregistered type is
// NO_SUCH_TEMPLATE_CLASS.
func (n *NoteArchive) ChallengeTemplate(key models.ChallengeTemplateKey) (challenge.Template, error) {
	s, ok := n.archive.Snippet(key.Hash)
	if !ok {
		return nil, errors.Newf(errors.ErrNoSuchTemplateKey, "no template snippet for key %s", key)
	}
	payload, err := n.archive.Materialize(s)
	if err != nil {
		return nil, err
	}
	return n.registry.Decode(key.Type, payload)
}

// ChallengeIdentifiers lists every challenge of every live page. Templates
// that fail to resolve are logged and skipped.
func (n *NoteArchive) ChallengeIdentifiers() ([]models.ChallengeIdentifier, error) {
	all, err := n.AllPageProperties()
	if err != nil {
		return nil, err
	}

	var ids []models.ChallengeIdentifier
	seen := make(map[models.ChallengeTemplateKey]struct{})
	for _, pageID := range n.PageIdentifiers() {
		for _, key := range all[pageID].ChallengeTemplateKeys {
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}

			tmpl, err := n.ChallengeTemplate(key)
			if err != nil {
				telemetry.TemplateFailures.Inc()
				n.logger.ErrorWithCode("Skipping challenge template", string(errors.CodeOf(err)), err, map[string]interface{}{
					"page": pageID,
					"key":  key.String(),
				})
				continue
			}
			for i := range tmpl.Challenges() {
				ids = append(ids, models.ChallengeIdentifier{TemplateKey: key, Index: i})
			}
		}
	}
	return ids, nil
}

// Challenge resolves one challenge identifier.
func (n *NoteArchive) Challenge(id models.ChallengeIdentifier) (challenge.Challenge, error) {
	tmpl, err := n.ChallengeTemplate(id.TemplateKey)
	if err != nil {
		return challenge.Challenge{}, err
	}
	challenges := tmpl.Challenges()
	if id.Index < 0 || id.Index >= len(challenges) {
		return challenge.Challenge{}, errors.Newf(errors.ErrNotFound, "template %s has no challenge %d", id.TemplateKey, id.Index)
	}
	return challenges[id.Index], nil
}
