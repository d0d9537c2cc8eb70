// Package models provides data model definitions for the note archive.
package models

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// TimestampLayout is the layout used for every persisted timestamp.
const TimestampLayout = time.RFC3339

// NormalizeTimestamp converts t to UTC and drops sub-second precision, which
// is what survives a round trip through the persisted form.
func NormalizeTimestamp(t time.Time) time.Time {
	return t.UTC().Truncate(time.Second)
}

// ChallengeTemplateKey locates a challenge template in the archive: the
// template's type tag plus the hash of its encoded snippet.
type ChallengeTemplateKey struct {
	Type string
	Hash string
}

// String returns the "type:hash" form.
func (k ChallengeTemplateKey) String() string {
	return k.Type + ":" + k.Hash
}

// ParseChallengeTemplateKey parses the "type:hash" form.
func ParseChallengeTemplateKey(s string) (ChallengeTemplateKey, error) {
	typ, hash, ok := strings.Cut(s, ":")
	if !ok || typ == "" || hash == "" {
		return ChallengeTemplateKey{}, fmt.Errorf("malformed challenge template key %q", s)
	}
	return ChallengeTemplateKey{Type: typ, Hash: hash}, nil
}

// MarshalYAML implements yaml.Marshaler.
func (k ChallengeTemplateKey) MarshalYAML() (interface{}, error) {
	return k.String(), nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (k *ChallengeTemplateKey) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	parsed, err := ParseChallengeTemplateKey(s)
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// ChallengeIdentifier names one challenge: a template plus the index of the
// challenge the template produces.
type ChallengeIdentifier struct {
	TemplateKey ChallengeTemplateKey
	Index       int
}

// String returns the "type:hash#index" form.
func (c ChallengeIdentifier) String() string {
	return fmt.Sprintf("%s#%d", c.TemplateKey, c.Index)
}

// PageProperties is the extracted metadata of one page at one point in time.
type PageProperties struct {
	ContentHash           string
	Timestamp             time.Time
	Hashtags              []string
	Title                 string
	WordCount             int
	ChallengeTemplateKeys []ChallengeTemplateKey
}

// pagePropertiesDocument is the persisted YAML shape of PageProperties.
type pagePropertiesDocument struct {
	ContentHash           string                 `yaml:"content_hash"`
	Timestamp             string                 `yaml:"timestamp"`
	Title                 string                 `yaml:"title"`
	Hashtags              []string               `yaml:"hashtags,omitempty"`
	WordCount             int                    `yaml:"word_count,omitempty"`
	ChallengeTemplateKeys []ChallengeTemplateKey `yaml:"challenge_templates,omitempty"`
}

// Encode returns the persisted form: one YAML document with one field per
// line, so successive versions diff well.
func (p PageProperties) Encode() (string, error) {
	doc := pagePropertiesDocument{
		ContentHash:           p.ContentHash,
		Timestamp:             NormalizeTimestamp(p.Timestamp).Format(TimestampLayout),
		Title:                 p.Title,
		Hashtags:              p.Hashtags,
		WordCount:             p.WordCount,
		ChallengeTemplateKeys: p.ChallengeTemplateKeys,
	}
	out, err := yaml.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("encode page properties: %w", err)
	}
	return string(out), nil
}

// DecodePageProperties parses the output of Encode.
func DecodePageProperties(text string) (PageProperties, error) {
	var doc pagePropertiesDocument
	if err := yaml.Unmarshal([]byte(text), &doc); err != nil {
		return PageProperties{}, fmt.Errorf("decode page properties: %w", err)
	}
	if doc.ContentHash == "" {
		return PageProperties{}, fmt.Errorf("decode page properties: missing content_hash")
	}
	ts, err := time.Parse(TimestampLayout, doc.Timestamp)
	if err != nil {
		return PageProperties{}, fmt.Errorf("decode page properties: %w", err)
	}
	return PageProperties{
		ContentHash:           doc.ContentHash,
		Timestamp:             ts.UTC(),
		Hashtags:              doc.Hashtags,
		Title:                 doc.Title,
		WordCount:             doc.WordCount,
		ChallengeTemplateKeys: doc.ChallengeTemplateKeys,
	}, nil
}

// HasHashtag reports whether tag is one of the page's hashtags. The leading
// '#' is optional.
func (p PageProperties) HasHashtag(tag string) bool {
	return slices.Contains(p.Hashtags, "#"+strings.TrimPrefix(tag, "#"))
}

// Equal compares two properties field by field, timestamps to the second.
func (p PageProperties) Equal(o PageProperties) bool {
	return p.ContentHash == o.ContentHash &&
		NormalizeTimestamp(p.Timestamp).Equal(NormalizeTimestamp(o.Timestamp)) &&
		p.Title == o.Title &&
		p.WordCount == o.WordCount &&
		slices.Equal(p.Hashtags, o.Hashtags) &&
		slices.Equal(p.ChallengeTemplateKeys, o.ChallengeTemplateKeys)
}

// Version is one entry of the append-only history: a timestamped pointer to
// a manifest snippet.
type Version struct {
	Timestamp    time.Time
	ManifestHash string
}

// String returns the persisted "timestamp hash" line.
func (v Version) String() string {
	return NormalizeTimestamp(v.Timestamp).Format(TimestampLayout) + " " + v.ManifestHash
}

// ParseVersion parses one "timestamp hash" line.
func ParseVersion(line string) (Version, error) {
	ts, hash, ok := strings.Cut(line, " ")
	if !ok || hash == "" || strings.Contains(hash, " ") {
		return Version{}, fmt.Errorf("malformed version line %q", line)
	}
	t, err := time.Parse(TimestampLayout, ts)
	if err != nil {
		return Version{}, fmt.Errorf("malformed version timestamp %q: %w", ts, err)
	}
	return Version{Timestamp: t.UTC(), ManifestHash: hash}, nil
}
