package vault_test

import (
	"bytes"
	"encoding/base64"
	"errors"
	"testing"

	"github.com/drivebags/drivebags-go/internal/components/apperr"
	"github.com/drivebags/drivebags-go/internal/components/vault"
)

func newBox(t *testing.T) *vault.Box {
	t.Helper()
	key, err := vault.GenerateMasterKey()
	if err != nil {
		t.Fatal(err)
	}
	raw, err := vault.ParseMasterKey(key)
	if err != nil {
		t.Fatal(err)
	}
	b, err := vault.NewBox(raw)
	if err != nil {
		t.Fatal(err)
	}
	return b
}

func TestBox_RoundTrip(t *testing.T) {
	b := newBox(t)
	inputs := [][]byte{
		{},
		[]byte("1//0refresh-token"),
		bytes.Repeat([]byte{0x00, 0xff}, 4096),
	}
	for _, in := range inputs {
		sealed, err := b.Encrypt(in)
		if err != nil {
			t.Fatalf("Encrypt: %v", err)
		}
		out, err := b.Decrypt(sealed)
		if err != nil {
			t.Fatalf("Decrypt: %v", err)
		}
		if !bytes.Equal(in, out) {
			t.Errorf("round trip mismatch for %d bytes", len(in))
		}
	}
}

func TestBox_FreshNoncePerSeal(t *testing.T) {
	b := newBox(t)
	a, _ := b.Encrypt([]byte("same"))
	c, _ := b.Encrypt([]byte("same"))
	if a == c {
		t.Error("two seals of the same plaintext must differ")
	}
}

func TestBox_TamperingFails(t *testing.T) {
	b := newBox(t)
	sealed, _ := b.Encrypt([]byte("refresh-token"))
	raw, _ := base64.StdEncoding.DecodeString(sealed)

	flipped := bytes.Clone(raw)
	flipped[len(flipped)-1] ^= 0x01

	otherKey, _ := newBox(t).Encrypt([]byte("refresh-token"))

	cases := map[string]string{
		"flipped bit": base64.StdEncoding.EncodeToString(flipped),
		"truncated":   base64.StdEncoding.EncodeToString(raw[:10]),
		"not base64":  "%%%",
		"empty":       "",
		"other key":   otherKey,
	}
	for name, in := range cases {
		t.Run(name, func(t *testing.T) {
			out, err := b.Decrypt(in)
			if !errors.Is(err, vault.ErrDecryptionFailed) || !errors.Is(err, apperr.ErrDecryptionFailed) {
				t.Fatalf("expected ErrDecryptionFailed, got %v", err)
			}
			if out != nil {
				t.Error("a failed decrypt must not return data")
			}
		})
	}
}

func TestNewBox_ShortKey(t *testing.T) {
	if _, err := vault.NewBox([]byte("short")); err == nil {
		t.Error("expected error for short key")
	}
	if _, err := vault.ParseMasterKey(base64.StdEncoding.EncodeToString([]byte("short"))); err == nil {
		t.Error("expected error for short encoded key")
	}
}
