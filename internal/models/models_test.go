// Package models tests for data model definitions.
package models

import (
	"strings"
	"testing"
	"time"
)

// =====================================================
// ChallengeTemplateKey Tests
// =====================================================

// TestChallengeTemplateKey_roundTrip verifies the "type:hash" form.
func TestChallengeTemplateKey_roundTrip(t *testing.T) {
	key := ChallengeTemplateKey{Type: "cloze", Hash: "abc123"}

	if key.String() != "cloze:abc123" {
		t.Errorf("String() = %q, want 'cloze:abc123'", key.String())
	}

	parsed, err := ParseChallengeTemplateKey(key.String())
	if err != nil {
		t.Fatalf("ParseChallengeTemplateKey() error = %v", err)
	}
	if parsed != key {
		t.Errorf("ParseChallengeTemplateKey() = %+v, want %+v", parsed, key)
	}
}

// TestParseChallengeTemplateKey_invalid verifies malformed keys are rejected.
func TestParseChallengeTemplateKey_invalid(t *testing.T) {
	for _, in := range []string{"", "cloze", ":abc", "cloze:"} {
		if _, err := ParseChallengeTemplateKey(in); err == nil {
			t.Errorf("ParseChallengeTemplateKey(%q) should fail", in)
		}
	}
}

// TestChallengeIdentifier_String verifies the identifier form.
func TestChallengeIdentifier_String(t *testing.T) {
	id := ChallengeIdentifier{TemplateKey: ChallengeTemplateKey{Type: "qa", Hash: "ff"}, Index: 2}
	if id.String() != "qa:ff#2" {
		t.Errorf("String() = %q, want 'qa:ff#2'", id.String())
	}
}

// =====================================================
// PageProperties Tests
// =====================================================

func sampleProperties() PageProperties {
	return PageProperties{
		ContentHash: "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855",
		Timestamp:   time.Date(2024, 3, 1, 12, 30, 45, 999, time.FixedZone("CET", 3600)),
		Hashtags:    []string{"#go", "#notes"},
		Title:       "Title: with colon",
		WordCount:   42,
		ChallengeTemplateKeys: []ChallengeTemplateKey{
			{Type: "cloze", Hash: "aa"},
			{Type: "qa", Hash: "bb"},
		},
	}
}

// TestPageProperties_roundTrip verifies Encode and DecodePageProperties.
func TestPageProperties_roundTrip(t *testing.T) {
	props := sampleProperties()

	text, err := props.Encode()
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	decoded, err := DecodePageProperties(text)
	if err != nil {
		t.Fatalf("DecodePageProperties() error = %v\n%s", err, text)
	}
	if !decoded.Equal(props) {
		t.Errorf("DecodePageProperties() = %+v, want %+v", decoded, props)
	}
	if decoded.Timestamp.Location() != time.UTC {
		t.Errorf("Timestamp location = %v, want UTC", decoded.Timestamp.Location())
	}
	if !decoded.Timestamp.Equal(time.Date(2024, 3, 1, 11, 30, 45, 0, time.UTC)) {
		t.Errorf("Timestamp = %v", decoded.Timestamp)
	}
}

// TestPageProperties_Encode_stable verifies equal properties encode
// identically, which keeps content hashes stable.
func TestPageProperties_Encode_stable(t *testing.T) {
	a, _ := sampleProperties().Encode()
	b, _ := sampleProperties().Encode()
	if a != b {
		t.Errorf("Encode() is not deterministic:\n%s\nvs\n%s", a, b)
	}
	if !strings.Contains(a, "content_hash: ") {
		t.Errorf("Encode() missing content_hash:\n%s", a)
	}
	if !strings.Contains(a, "word_count: 42\n") {
		t.Errorf("Encode() missing word_count:\n%s", a)
	}
}

// TestPageProperties_Encode_empty verifies optional lists are omitted.
func TestPageProperties_Encode_empty(t *testing.T) {
	props := PageProperties{ContentHash: "x", Timestamp: time.Unix(0, 0)}
	text, err := props.Encode()
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	if strings.Contains(text, "hashtags") || strings.Contains(text, "challenge_templates") || strings.Contains(text, "word_count") {
		t.Errorf("Encode() should omit empty lists:\n%s", text)
	}
	decoded, err := DecodePageProperties(text)
	if err != nil {
		t.Fatalf("DecodePageProperties() error = %v", err)
	}
	if !decoded.Equal(props) {
		t.Errorf("DecodePageProperties() = %+v, want %+v", decoded, props)
	}
}

// TestDecodePageProperties_invalid verifies malformed payloads fail.
func TestDecodePageProperties_invalid(t *testing.T) {
	tests := []string{
		"::::",
		"title: no hash\ntimestamp: 2024-01-01T00:00:00Z\n",
		"content_hash: x\ntimestamp: yesterday\n",
		"content_hash: x\ntimestamp: 2024-01-01T00:00:00Z\nchallenge_templates:\n  - nocolon\n",
	}
	for _, in := range tests {
		if _, err := DecodePageProperties(in); err == nil {
			t.Errorf("DecodePageProperties(%q) should fail", in)
		}
	}
}

// TestPageProperties_HasHashtag verifies the optional '#' prefix.
func TestPageProperties_HasHashtag(t *testing.T) {
	props := sampleProperties()
	if !props.HasHashtag("go") || !props.HasHashtag("#go") {
		t.Error("HasHashtag() should match with or without '#'")
	}
	if props.HasHashtag("rust") {
		t.Error("HasHashtag(rust) = true, want false")
	}
}

// =====================================================
// Version Tests
// =====================================================

// TestVersion_roundTrip verifies the "timestamp hash" line form.
func TestVersion_roundTrip(t *testing.T) {
	v := Version{Timestamp: time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC), ManifestHash: "abc"}
	if v.String() != "2024-01-02T03:04:05Z abc" {
		t.Errorf("String() = %q", v.String())
	}
	parsed, err := ParseVersion(v.String())
	if err != nil {
		t.Fatalf("ParseVersion() error = %v", err)
	}
	if !parsed.Timestamp.Equal(v.Timestamp) || parsed.ManifestHash != v.ManifestHash {
		t.Errorf("ParseVersion() = %+v, want %+v", parsed, v)
	}
}

// TestParseVersion_invalid verifies malformed lines are rejected.
func TestParseVersion_invalid(t *testing.T) {
	for _, in := range []string{"", "abc", "notatime abc", "2024-01-02T03:04:05Z a b"} {
		if _, err := ParseVersion(in); err == nil {
			t.Errorf("ParseVersion(%q) should fail", in)
		}
	}
}
