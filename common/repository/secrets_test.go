package repository

import (
	"bytes"
	"testing"
)

func TestSecretBox_SealOpenRoundTrip(t *testing.T) {
	box, err := NewSecretBox("master-key")
	if err != nil {
		t.Fatalf("NewSecretBox: %v", err)
	}

	plaintext := []byte("sk-very-secret")
	salt, ciphertext, err := box.Seal(plaintext)
	if err != nil {
		t.Fatalf("Seal failed: %v", err)
	}
	if len(salt) == 0 {
		t.Fatal("empty salt")
	}
	if bytes.Contains(ciphertext, plaintext) {
		t.Fatal("ciphertext contains plaintext")
	}

	opened, err := box.Open(ciphertext, salt)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if !bytes.Equal(opened, plaintext) {
		t.Errorf("round trip lost data: %q", opened)
	}
}

func TestSecretBox_SaltsDiffer(t *testing.T) {
	box, _ := NewSecretBox("master-key")

	salt1, ct1, _ := box.Seal([]byte("same value"))
	salt2, ct2, _ := box.Seal([]byte("same value"))
	if bytes.Equal(salt1, salt2) {
		t.Errorf("two seals produced the same salt")
	}
	if bytes.Equal(ct1, ct2) {
		t.Errorf("two seals produced the same ciphertext")
	}
}

func TestSecretBox_WrongKeyFails(t *testing.T) {
	box, _ := NewSecretBox("master-key")
	other, _ := NewSecretBox("different-key")

	salt, ciphertext, _ := box.Seal([]byte("secret"))
	if _, err := other.Open(ciphertext, salt); err == nil {
		t.Errorf("Open succeeded with the wrong master key")
	}
}

func TestNewSecretBox_RequiresKey(t *testing.T) {
	if _, err := NewSecretBox(""); err == nil {
		t.Errorf("empty master key accepted")
	}
}

func TestMaskValue(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"", ""},
		{"x", "x"},
		{"secret", "s*****"},
		{"sk-abc123", "s********"},
	}
	for _, tt := range tests {
		if got := MaskValue(tt.in); got != tt.want {
			t.Errorf("MaskValue(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
