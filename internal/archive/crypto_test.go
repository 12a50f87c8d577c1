package archive

import (
	"bytes"
	"errors"
	"testing"
)

func TestDeriveKey(t *testing.T) {
	salt := []byte("1234567890abcdef")

	a := DeriveKey("passphrase", salt)
	b := DeriveKey("passphrase", salt)
	if !bytes.Equal(a, b) {
		t.Error("same passphrase and salt should give the same key")
	}
	if len(a) != keySize {
		t.Errorf("key length = %d, want %d", len(a), keySize)
	}
	if bytes.Equal(a, DeriveKey("other", salt)) {
		t.Error("different passphrases should give different keys")
	}
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	plaintext := []byte("\uFEFF\"Date & Time\",\"Booth\"\n\"1/3/2024, 2:30:00 pm\",\"001\"")

	sealed, err := Encrypt(plaintext, "correct horse")
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	if len(sealed) <= saltSize+nonceSize {
		t.Fatalf("sealed length = %d", len(sealed))
	}
	if bytes.Contains(sealed, []byte("Booth")) {
		t.Error("ciphertext should not contain plaintext")
	}

	got, err := Decrypt(sealed, "correct horse")
	if err != nil {
		t.Fatalf("decrypt: %v", err)
	}
	if !bytes.Equal(got, plaintext) {
		t.Errorf("round trip = %q, want %q", got, plaintext)
	}
}

func TestEncryptUsesFreshSalt(t *testing.T) {
	a, _ := Encrypt([]byte("same"), "pw")
	b, _ := Encrypt([]byte("same"), "pw")
	if bytes.Equal(a[:saltSize], b[:saltSize]) {
		t.Error("salts should differ between archives")
	}
}

func TestDecryptWrongPassphrase(t *testing.T) {
	sealed, _ := Encrypt([]byte("secret"), "right")
	if _, err := Decrypt(sealed, "wrong"); err == nil {
		t.Error("expected error for wrong passphrase")
	}
}

func TestDecryptTampered(t *testing.T) {
	sealed, _ := Encrypt([]byte("secret"), "pw")
	sealed[len(sealed)-1] ^= 0xff
	if _, err := Decrypt(sealed, "pw"); err == nil {
		t.Error("expected error for tampered ciphertext")
	}
}

func TestDecryptTooShort(t *testing.T) {
	if _, err := Decrypt([]byte("short"), "pw"); !errors.Is(err, ErrCiphertextTooShort) {
		t.Errorf("err = %v, want ErrCiphertextTooShort", err)
	}
}
