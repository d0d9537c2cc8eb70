package backup

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/kimhsiao/notearchive/internal/errors"
)

const testPassword = "correct horse battery"

var exportedAt = time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)

func exportBundle(t *testing.T, serialized, password string) []byte {
	t.Helper()
	var buf bytes.Buffer
	res, err := Export(&buf, serialized, Manifest{Name: "journal", ExportedAt: exportedAt, Versions: 3, Pages: 2}, password)
	if err != nil {
		t.Fatalf("Export() error = %v", err)
	}
	if res.SizeBytes != int64(buf.Len()) {
		t.Errorf("SizeBytes = %d, want %d", res.SizeBytes, buf.Len())
	}
	if res.Encrypted != (password != "") {
		t.Errorf("Encrypted = %v", res.Encrypted)
	}
	return buf.Bytes()
}

// =====================================================
// Export / Import Tests
// =====================================================

func TestExportImport(t *testing.T) {
	serialized := "notearchive 1\n+++ ref versions 0123\n"
	for _, password := range []string{"", testPassword} {
		name := "plain"
		if password != "" {
			name = "sealed"
		}
		t.Run(name, func(t *testing.T) {
			data := exportBundle(t, serialized, password)
			if IsSealed(data) != (password != "") {
				t.Errorf("IsSealed() = %v", IsSealed(data))
			}

			manifest, got, err := Import(bytes.NewReader(data), password)
			if err != nil {
				t.Fatalf("Import() error = %v", err)
			}
			if got != serialized {
				t.Errorf("Import() archive = %q, want %q", got, serialized)
			}
			if manifest.Name != "journal" || manifest.Versions != 3 || manifest.Pages != 2 {
				t.Errorf("manifest = %+v", manifest)
			}
			if !manifest.ExportedAt.Equal(exportedAt) {
				t.Errorf("ExportedAt = %v, want %v", manifest.ExportedAt, exportedAt)
			}
			if manifest.Format != FormatVersion || manifest.Encrypted != (password != "") {
				t.Errorf("manifest = %+v", manifest)
			}
		})
	}
}

func TestImport_passwordErrors(t *testing.T) {
	data := exportBundle(t, "archive", testPassword)

	tests := []struct {
		name     string
		password string
	}{
		{"missing password", ""},
		{"wrong password", "incorrect horse"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := Import(bytes.NewReader(data), tt.password)
			if !errors.Is(err, errors.ErrInvalidPassword) {
				t.Errorf("Import() error = %v, want INVALID_PASSWORD", err)
			}
		})
	}
}

func TestImport_corrupted(t *testing.T) {
	plain := exportBundle(t, "archive", "")

	tests := []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"not gzip", []byte("hello")},
		{"truncated", plain[:len(plain)/2]},
		{"truncated seal header", []byte(sealMagic + "\x01short")},
		{"unknown seal version", append([]byte(sealMagic+"\x09"), make([]byte, SaltLength+nonceLength+32)...)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := Import(bytes.NewReader(tt.data), testPassword)
			if !errors.Is(err, errors.ErrCorruptedArchive) {
				t.Errorf("Import() error = %v, want CORRUPTED_ARCHIVE", err)
			}
		})
	}
}

// =====================================================
// Seal / Open Tests
// =====================================================

func TestSeal_shortPassword(t *testing.T) {
	if _, err := Seal([]byte("x"), "short"); !errors.Is(err, errors.ErrInvalid) {
		t.Errorf("Seal() error = %v, want INVALID_INPUT", err)
	}
}

func TestSeal_randomized(t *testing.T) {
	a, err := Seal([]byte("same"), testPassword)
	if err != nil {
		t.Fatal(err)
	}
	b, _ := Seal([]byte("same"), testPassword)
	if bytes.Equal(a, b) {
		t.Error("two seals of the same data should differ (fresh salt and nonce)")
	}
	if bytes.Contains(a, []byte(testPassword)) {
		t.Error("sealed data must not contain the password")
	}
}

func TestOpen_tamperedHeader(t *testing.T) {
	sealed, err := Seal([]byte("payload"), testPassword)
	if err != nil {
		t.Fatal(err)
	}
	// Flip a salt byte: the derived key changes and the header is
	// authenticated, so decryption fails.
	sealed[len(sealMagic)+1] ^= 0xff
	if _, err := Open(sealed, testPassword); !errors.Is(err, errors.ErrInvalidPassword) {
		t.Errorf("Open() error = %v, want INVALID_PASSWORD", err)
	}
}

func TestOpen_roundTripLarge(t *testing.T) {
	data := []byte(strings.Repeat("line of archive text\n", 10000))
	sealed, err := Seal(data, testPassword)
	if err != nil {
		t.Fatal(err)
	}
	got, err := Open(sealed, testPassword)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Error("Open() did not return the sealed data")
	}
}
