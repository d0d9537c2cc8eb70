// Package backup packs a serialized note archive into a portable bundle:
// a gzip-compressed tar holding the archive and a YAML manifest, optionally
// sealed with a password.
//
// Passwords are never stored with the bundle; the same password must be
// given again to import it.
package backup

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"io"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/kimhsiao/notearchive/internal/errors"
	"github.com/kimhsiao/notearchive/internal/snippet"
)

// FormatVersion identifies the bundle layout.
const FormatVersion = "1"

// Bundle entry names.
const (
	manifestEntry = "manifest.yaml"
	archiveEntry  = "archive.notes"
)

// maxEntrySize bounds a single bundle entry when importing.
const maxEntrySize = 1 << 30

// Manifest describes the archive inside a bundle.
type Manifest struct {
	Format     string    `yaml:"format"`
	Name       string    `yaml:"name"`
	ExportedAt time.Time `yaml:"exported_at"`
	Versions   int       `yaml:"versions"`
	Pages      int       `yaml:"pages"`
	Checksum   string    `yaml:"checksum"`
	Encrypted  bool      `yaml:"encrypted"`
}

// ExportResult describes a written bundle.
type ExportResult struct {
	SizeBytes int64
	Checksum  string
	Encrypted bool
	Duration  time.Duration
}

// Export writes a bundle of serialized to w. manifest supplies the
// descriptive fields; Format, Checksum and Encrypted are filled in. An empty
// password writes an unsealed bundle.
func Export(w io.Writer, serialized string, manifest Manifest, password string) (*ExportResult, error) {
	start := time.Now()

	manifest.Format = FormatVersion
	manifest.Checksum = snippet.CalculateHash(serialized)
	manifest.Encrypted = password != ""
	if manifest.ExportedAt.IsZero() {
		manifest.ExportedAt = start.UTC().Truncate(time.Second)
	}

	manifestData, err := yaml.Marshal(&manifest)
	if err != nil {
		return nil, errors.Wrap(errors.ErrInternal, "encode bundle manifest", err)
	}

	var buf bytes.Buffer
	gzw := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gzw)
	entries := []struct {
		name string
		data []byte
	}{
		{manifestEntry, manifestData},
		{archiveEntry, []byte(serialized)},
	}
	for _, e := range entries {
		header := &tar.Header{
			Name:    e.name,
			Mode:    0644,
			Size:    int64(len(e.data)),
			ModTime: manifest.ExportedAt,
		}
		if err := tw.WriteHeader(header); err != nil {
			return nil, errors.Wrap(errors.ErrInternal, "write bundle entry", err)
		}
		if _, err := tw.Write(e.data); err != nil {
			return nil, errors.Wrap(errors.ErrInternal, "write bundle entry", err)
		}
	}
	if err := tw.Close(); err != nil {
		return nil, errors.Wrap(errors.ErrInternal, "close bundle", err)
	}
	if err := gzw.Close(); err != nil {
		return nil, errors.Wrap(errors.ErrInternal, "compress bundle", err)
	}

	data := buf.Bytes()
	if password != "" {
		if data, err = Seal(data, password); err != nil {
			return nil, err
		}
	}

	n, err := w.Write(data)
	if err != nil {
		return nil, errors.Wrap(errors.ErrStorage, "write bundle", err)
	}
	return &ExportResult{
		SizeBytes: int64(n),
		Checksum:  manifest.Checksum,
		Encrypted: manifest.Encrypted,
		Duration:  time.Since(start),
	}, nil
}

// Import reads a bundle written by Export and returns its manifest and the
// serialized archive. A sealed bundle needs its password; without one the
// import fails with INVALID_PASSWORD. A damaged bundle fails with
// CORRUPTED_ARCHIVE.
func Import(r io.Reader, password string) (Manifest, string, error) {
	var manifest Manifest

	data, err := io.ReadAll(r)
	if err != nil {
		return manifest, "", errors.Wrap(errors.ErrStorage, "read bundle", err)
	}
	if IsSealed(data) {
		if password == "" {
			return manifest, "", errors.New(errors.ErrInvalidPassword, "bundle is encrypted; a password is required")
		}
		if data, err = Open(data, password); err != nil {
			return manifest, "", err
		}
	}

	entries, err := readEntries(data)
	if err != nil {
		return manifest, "", err
	}

	manifestData, ok := entries[manifestEntry]
	if !ok {
		return manifest, "", errors.New(errors.ErrCorruptedArchive, "bundle has no manifest")
	}
	if err := yaml.Unmarshal(manifestData, &manifest); err != nil {
		return manifest, "", errors.Wrap(errors.ErrCorruptedArchive, "malformed bundle manifest", err)
	}
	if manifest.Format != FormatVersion {
		return manifest, "", errors.Newf(errors.ErrCorruptedArchive, "unsupported bundle format %q", manifest.Format)
	}

	archive, ok := entries[archiveEntry]
	if !ok {
		return manifest, "", errors.New(errors.ErrCorruptedArchive, "bundle has no archive")
	}
	serialized := string(archive)
	if snippet.CalculateHash(serialized) != manifest.Checksum {
		return manifest, "", errors.New(errors.ErrCorruptedArchive, "archive does not match the manifest checksum")
	}
	return manifest, serialized, nil
}

func readEntries(data []byte) (map[string][]byte, error) {
	gzr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, errors.Wrap(errors.ErrCorruptedArchive, "bundle is not gzip data", err)
	}
	defer gzr.Close()

	entries := make(map[string][]byte)
	tr := tar.NewReader(gzr)
	for {
		header, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.Wrap(errors.ErrCorruptedArchive, "read bundle entry", err)
		}
		if header.Typeflag != tar.TypeReg {
			continue
		}
		if header.Size > maxEntrySize {
			return nil, errors.Newf(errors.ErrCorruptedArchive, "bundle entry %s is too large", header.Name)
		}
		content, err := io.ReadAll(io.LimitReader(tr, maxEntrySize))
		if err != nil {
			return nil, errors.Wrap(errors.ErrCorruptedArchive, "read bundle entry", err)
		}
		entries[header.Name] = content
	}
	return entries, nil
}
