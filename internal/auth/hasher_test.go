package auth

import (
	"bytes"
	"testing"
)

func TestGenerateSalt(t *testing.T) {
	h := NewHasher(1)

	first, err := h.GenerateSalt()
	if err != nil {
		t.Fatalf("GenerateSalt returned error: %v", err)
	}
	if len(first) != saltSize {
		t.Fatalf("salt length = %d, want %d", len(first), saltSize)
	}

	second, err := h.GenerateSalt()
	if err != nil {
		t.Fatalf("GenerateSalt returned error: %v", err)
	}
	if bytes.Equal(first, second) {
		t.Fatal("two generated salts are identical")
	}
}

func TestVerifyRoundTrip(t *testing.T) {
	h := NewHasher(1)

	salt, err := h.GenerateSalt()
	if err != nil {
		t.Fatalf("GenerateSalt returned error: %v", err)
	}
	hash, err := h.ComputeHash("pw123", salt)
	if err != nil {
		t.Fatalf("ComputeHash returned error: %v", err)
	}
	if len(hash) != scryptKeyLen {
		t.Fatalf("hash length = %d, want %d", len(hash), scryptKeyLen)
	}

	ok, err := h.Verify("pw123", salt, hash)
	if err != nil {
		t.Fatalf("Verify returned error: %v", err)
	}
	if !ok {
		t.Fatal("Verify rejected the correct password")
	}

	ok, err = h.Verify("pw124", salt, hash)
	if err != nil {
		t.Fatalf("Verify returned error: %v", err)
	}
	if ok {
		t.Fatal("Verify accepted a wrong password")
	}
}

func TestVerifyRejectsMutatedHash(t *testing.T) {
	h := NewHasher(1)

	salt, err := h.GenerateSalt()
	if err != nil {
		t.Fatalf("GenerateSalt returned error: %v", err)
	}
	hash, err := h.ComputeHash("pw123", salt)
	if err != nil {
		t.Fatalf("ComputeHash returned error: %v", err)
	}

	// 1バイトだけ壊した期待値は受け付けない
	mutated := bytes.Clone(hash)
	mutated[len(mutated)/2] ^= 0x01
	ok, err := h.Verify("pw123", salt, mutated)
	if err != nil {
		t.Fatalf("Verify returned error: %v", err)
	}
	if ok {
		t.Fatal("Verify accepted a mutated hash")
	}

	// 長さが違う期待値も受け付けない
	ok, err = h.Verify("pw123", salt, hash[:len(hash)-1])
	if err != nil {
		t.Fatalf("Verify returned error: %v", err)
	}
	if ok {
		t.Fatal("Verify accepted a truncated hash")
	}
}

func TestComputeHashNormalizesUnicode(t *testing.T) {
	h := NewHasher(1)

	salt, err := h.GenerateSalt()
	if err != nil {
		t.Fatalf("GenerateSalt returned error: %v", err)
	}

	// 合成済み (U+00E9) と結合文字 (e + U+0301) は同じハッシュになる
	composed, err := h.ComputeHash("café", salt)
	if err != nil {
		t.Fatalf("ComputeHash returned error: %v", err)
	}
	decomposed, err := h.ComputeHash("cafe\u0301", salt)
	if err != nil {
		t.Fatalf("ComputeHash returned error: %v", err)
	}
	if !bytes.Equal(composed, decomposed) {
		t.Fatal("NFC normalization did not unify equivalent passwords")
	}
}
