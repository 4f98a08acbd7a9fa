package token

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/iconidentify/streamrelay/internal/domain"
)

func testPayload() domain.Payload {
	return domain.Payload{
		SourceURL:      "https://www.tiktok.com/@someone/video/7123456789",
		FormatSelector: "h264_540p",
		OwnerLabel:     "someone",
		Kind:           domain.KindVideo,
	}
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	c, err := NewCodec("test-key-123!")
	if err != nil {
		t.Fatalf("NewCodec failed: %v", err)
	}

	tok, err := c.Encrypt(testPayload(), time.Hour)
	if err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}

	got, err := c.Decrypt(tok)
	if err != nil {
		t.Fatalf("Decrypt failed: %v", err)
	}

	want := testPayload()
	if got.SourceURL != want.SourceURL ||
		got.FormatSelector != want.FormatSelector ||
		got.OwnerLabel != want.OwnerLabel ||
		got.Kind != want.Kind {
		t.Errorf("payload mismatch: got %+v", got)
	}
	if got.TTLSeconds != 3600 {
		t.Errorf("expected ttl 3600, got %d", got.TTLSeconds)
	}
	if got.IssuedAt == 0 {
		t.Error("issued_at not stamped")
	}
}

func TestTokenIsQueryStringSafe(t *testing.T) {
	c, err := NewCodec("qs-safety")
	if err != nil {
		t.Fatalf("NewCodec failed: %v", err)
	}

	// Several tokens: nonces are random, so exercise a few encodings.
	for i := 0; i < 20; i++ {
		tok, err := c.Encrypt(testPayload(), time.Hour)
		if err != nil {
			t.Fatalf("Encrypt failed: %v", err)
		}
		if strings.ContainsAny(tok, "+/=") {
			t.Fatalf("token contains URL-unsafe characters: %q", tok)
		}
	}
}

func TestCiphertextNonDeterministic(t *testing.T) {
	c, err := NewCodec("nonce-check")
	if err != nil {
		t.Fatalf("NewCodec failed: %v", err)
	}

	a, _ := c.Encrypt(testPayload(), time.Hour)
	b, _ := c.Encrypt(testPayload(), time.Hour)
	if a == b {
		t.Error("two encryptions produced identical tokens")
	}
}

func TestDecryptWrongKey(t *testing.T) {
	issuer, _ := NewCodec("correct-key")
	other, _ := NewCodec("wrong-key")

	tok, err := issuer.Encrypt(testPayload(), time.Hour)
	if err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}

	_, err = other.Decrypt(tok)
	if !errors.Is(err, domain.ErrInvalidToken) {
		t.Errorf("expected ErrInvalidToken, got: %v", err)
	}
}

func TestDecryptCorrupted(t *testing.T) {
	c, _ := NewCodec("corruption")

	tok, err := c.Encrypt(testPayload(), time.Hour)
	if err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}

	cases := map[string]string{
		"not base64":      "!!!not-a-token!!!",
		"truncated":       tok[:10],
		"flipped tail":    tok[:len(tok)-2] + "AA",
		"empty":           "",
		"header only":     "U1JUSwEAAAAAAAAAAAAAAAAAAAA", // magic+version+nonce, no ciphertext
		"double encoding": "U1JUSw%3D%3D",
	}

	for name, bad := range cases {
		if _, err := c.Decrypt(bad); !errors.Is(err, domain.ErrInvalidToken) {
			t.Errorf("%s: expected ErrInvalidToken, got: %v", name, err)
		}
	}
}

func TestExpiryBoundary(t *testing.T) {
	c, err := NewCodec("expiry")
	if err != nil {
		t.Fatalf("NewCodec failed: %v", err)
	}

	issued := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return issued }

	tok, err := c.Encrypt(testPayload(), 10*time.Second)
	if err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}

	// Just inside the TTL.
	c.now = func() time.Time { return issued.Add(9 * time.Second) }
	if _, err := c.Decrypt(tok); err != nil {
		t.Errorf("token should still be valid, got: %v", err)
	}

	// Exactly at expiry: now >= issued+ttl fails.
	c.now = func() time.Time { return issued.Add(10 * time.Second) }
	if _, err := c.Decrypt(tok); !errors.Is(err, domain.ErrExpiredToken) {
		t.Errorf("expected ErrExpiredToken at boundary, got: %v", err)
	}

	// Past expiry.
	c.now = func() time.Time { return issued.Add(11 * time.Second) }
	if _, err := c.Decrypt(tok); !errors.Is(err, domain.ErrExpiredToken) {
		t.Errorf("expected ErrExpiredToken, got: %v", err)
	}
}

func TestZeroTTLExpiresImmediately(t *testing.T) {
	c, err := NewCodec("zero-ttl")
	if err != nil {
		t.Fatalf("NewCodec failed: %v", err)
	}

	tok, err := c.Encrypt(testPayload(), 0)
	if err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}
	if _, err := c.Decrypt(tok); !errors.Is(err, domain.ErrExpiredToken) {
		t.Errorf("expected ErrExpiredToken for zero TTL, got: %v", err)
	}
}

func TestNewCodecEmptyKey(t *testing.T) {
	if _, err := NewCodec(""); err == nil {
		t.Error("expected error for empty key")
	}
}
