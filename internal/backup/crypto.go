package backup

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"fmt"

	"golang.org/x/crypto/pbkdf2"

	"github.com/kimhsiao/notearchive/internal/errors"
)

const (
	// PasswordMinLength is the minimum required password length.
	PasswordMinLength = 8
	// SaltLength is the length of the random salt for key derivation.
	SaltLength = 32
	// KeyIterations is the PBKDF2-SHA256 iteration count.
	KeyIterations = 100000

	sealMagic   = "NOTEARC"
	sealVersion = 1
	nonceLength = 12 // GCM standard nonce size
	headerSize  = len(sealMagic) + 1 + SaltLength + nonceLength
)

// Seal encrypts data with a key derived from password. The password is
// never stored: the output holds only magic, version, salt, nonce and the
// AES-256-GCM ciphertext.
func Seal(data []byte, password string) ([]byte, error) {
	if len(password) < PasswordMinLength {
		return nil, errors.Newf(errors.ErrInvalid, "password must be at least %d characters", PasswordMinLength)
	}

	salt := make([]byte, SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return nil, errors.Wrap(errors.ErrInternal, "generate salt", err)
	}
	nonce := make([]byte, nonceLength)
	if _, err := rand.Read(nonce); err != nil {
		return nil, errors.Wrap(errors.ErrInternal, "generate nonce", err)
	}

	gcm, err := newGCM(password, salt)
	if err != nil {
		return nil, err
	}

	header := make([]byte, 0, headerSize)
	header = append(header, sealMagic...)
	header = append(header, sealVersion)
	header = append(header, salt...)
	header = append(header, nonce...)

	out := make([]byte, headerSize, headerSize+len(data)+gcm.Overhead())
	copy(out, header)
	// The header is authenticated as additional data.
	return gcm.Seal(out, nonce, data, header), nil
}

// Open decrypts the output of Seal. A wrong password (or a tampered
// ciphertext) fails with INVALID_PASSWORD; anything that is not a sealed
// archive fails with CORRUPTED_ARCHIVE.
func Open(sealed []byte, password string) ([]byte, error) {
	if !IsSealed(sealed) {
		return nil, errors.New(errors.ErrCorruptedArchive, "not a sealed archive")
	}
	if len(sealed) < headerSize {
		return nil, errors.New(errors.ErrCorruptedArchive, "sealed archive header is truncated")
	}
	if v := sealed[len(sealMagic)]; v != sealVersion {
		return nil, errors.Newf(errors.ErrCorruptedArchive, "unsupported sealed archive version %d", v)
	}

	salt := sealed[len(sealMagic)+1 : len(sealMagic)+1+SaltLength]
	nonce := sealed[len(sealMagic)+1+SaltLength : headerSize]

	gcm, err := newGCM(password, salt)
	if err != nil {
		return nil, err
	}
	plaintext, err := gcm.Open(nil, nonce, sealed[headerSize:], sealed[:headerSize])
	if err != nil {
		return nil, errors.Wrap(errors.ErrInvalidPassword, "decryption failed", err)
	}
	return plaintext, nil
}

// IsSealed reports whether data starts with the sealed archive magic.
func IsSealed(data []byte) bool {
	return bytes.HasPrefix(data, []byte(sealMagic))
}

func newGCM(password string, salt []byte) (cipher.AEAD, error) {
	key := deriveKey(password, salt)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, errors.Wrap(errors.ErrInternal, fmt.Sprintf("create cipher (%d-byte key)", len(key)), err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, errors.Wrap(errors.ErrInternal, "create GCM", err)
	}
	return gcm, nil
}

// deriveKey derives a 32-byte AES-256 key with PBKDF2-SHA256.
func deriveKey(password string, salt []byte) []byte {
	return pbkdf2.Key([]byte(password), salt, KeyIterations, 32, sha256.New)
}
