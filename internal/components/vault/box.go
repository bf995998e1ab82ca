package vault

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
	"golang.org/x/crypto/nacl/secretbox"

	"github.com/drivebags/drivebags-go/internal/components/apperr"
)

// MasterKeySize is the length of the configured master key in bytes.
const MasterKeySize = 32

const nonceSize = 24

var hkdfInfo = []byte("drivebags credential vault v1")

var ErrDecryptionFailed = apperr.New(apperr.ErrDecryptionFailed, "stored credential could not be decrypted")

// Box seals credentials with NaCl secretbox. The box key is derived from
// the master key with HKDF-SHA256 so the master key is never used directly.
type Box struct {
	key [32]byte
}

// NewBox derives the box key from masterKey.
func NewBox(masterKey []byte) (*Box, error) {
	if len(masterKey) < MasterKeySize {
		return nil, fmt.Errorf("vault: master key must be at least %d bytes, got %d", MasterKeySize, len(masterKey))
	}
	b := &Box{}
	if _, err := io.ReadFull(hkdf.New(sha256.New, masterKey, nil, hkdfInfo), b.key[:]); err != nil {
		return nil, fmt.Errorf("vault: derive key: %w", err)
	}
	return b, nil
}

// ParseMasterKey decodes a base64 master key as produced by GenerateMasterKey.
func ParseMasterKey(s string) ([]byte, error) {
	key, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("vault: master key is not valid base64: %w", err)
	}
	if len(key) < MasterKeySize {
		return nil, fmt.Errorf("vault: master key must decode to at least %d bytes", MasterKeySize)
	}
	return key, nil
}

// GenerateMasterKey returns a fresh random master key, base64 encoded.
func GenerateMasterKey() (string, error) {
	key := make([]byte, MasterKeySize)
	if _, err := rand.Read(key); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(key), nil
}

// Encrypt returns base64(nonce || sealed).
func (b *Box) Encrypt(plaintext []byte) (string, error) {
	var nonce [nonceSize]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return "", fmt.Errorf("vault: nonce: %w", err)
	}
	sealed := secretbox.Seal(nonce[:], plaintext, &nonce, &b.key)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt opens a value produced by Encrypt. Any malformed or tampered
// input yields ErrDecryptionFailed.
func (b *Box) Decrypt(ciphertext string) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDecryptionFailed, err)
	}
	if len(raw) < nonceSize+secretbox.Overhead {
		return nil, fmt.Errorf("%w: %w", ErrDecryptionFailed, errors.New("ciphertext too short"))
	}

	var nonce [nonceSize]byte
	copy(nonce[:], raw[:nonceSize])
	out, ok := secretbox.Open(nil, raw[nonceSize:], &nonce, &b.key)
	if !ok {
		return nil, ErrDecryptionFailed
	}
	if out == nil {
		out = []byte{}
	}
	return out, nil
}
