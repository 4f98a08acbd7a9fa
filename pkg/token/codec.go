// Package token implements the capability-token codec: a small JSON payload
// with an embedded expiry, sealed with AES-256-GCM and encoded so the result
// survives verbatim as a single query-string value.
package token

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"golang.org/x/crypto/argon2"

	"github.com/iconidentify/streamrelay/internal/domain"
)

const (
	// Token format magic bytes
	magicBytes = "SRTK"

	// Version of the token format
	formatVersion = 1

	// Argon2id parameters (OWASP recommended)
	argon2Time    = 3
	argon2Memory  = 64 * 1024 // 64 MB
	argon2Threads = 4
	argon2KeyLen  = 32 // AES-256

	nonceSize = 12 // GCM standard nonce size

	// Header size: magic(4) + version(4) + nonce(12) = 20 bytes
	headerSize = 4 + 4 + nonceSize
)

// codecSalt is fixed: the key is derived once per process, not per token,
// so tokens issued by one instance decrypt on any instance sharing the key.
var codecSalt = []byte("streamrelay.token.v1")

// Codec encrypts and decrypts capability payloads under a shared key.
type Codec struct {
	aead cipher.AEAD
	now  func() time.Time
}

// NewCodec derives an AES-256 key from the configured passphrase using
// Argon2id and prepares the authenticated cipher.
func NewCodec(key string) (*Codec, error) {
	if key == "" {
		return nil, fmt.Errorf("token: empty key")
	}

	derived := argon2.IDKey([]byte(key), codecSalt, argon2Time, argon2Memory, argon2Threads, argon2KeyLen)

	block, err := aes.NewCipher(derived)
	if err != nil {
		return nil, fmt.Errorf("token: create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("token: create GCM: %w", err)
	}

	return &Codec{
		aead: aead,
		now:  time.Now,
	}, nil
}

// Encrypt stamps the payload with issued-at and TTL, seals it, and returns
// the URL-safe token. Ciphertext differs per call (fresh nonce); the payload
// round-trips exactly.
func (c *Codec) Encrypt(payload domain.Payload, ttl time.Duration) (string, error) {
	payload.IssuedAt = c.now().Unix()
	payload.TTLSeconds = int64(ttl / time.Second)

	plaintext, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("token: marshal payload: %w", err)
	}

	nonce := make([]byte, nonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("token: generate nonce: %w", err)
	}

	ciphertext := c.aead.Seal(nil, nonce, plaintext, nil)

	// magic + version + nonce + ciphertext
	raw := make([]byte, headerSize+len(ciphertext))
	copy(raw[0:4], magicBytes)
	binary.LittleEndian.PutUint32(raw[4:8], formatVersion)
	copy(raw[8:headerSize], nonce)
	copy(raw[headerSize:], ciphertext)

	// RawURLEncoding: no '+', '/' or '=' — the token is the full external
	// representation, callers never re-encode it.
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

// Decrypt opens a token. It returns domain.ErrInvalidToken for anything that
// fails to decode or authenticate, and domain.ErrExpiredToken when the
// payload is authentic but its TTL has elapsed, so callers can answer with
// different statuses.
func (c *Codec) Decrypt(tok string) (*domain.Payload, error) {
	raw, err := base64.RawURLEncoding.DecodeString(tok)
	if err != nil {
		return nil, domain.ErrInvalidToken
	}
	if len(raw) < headerSize {
		return nil, domain.ErrInvalidToken
	}
	if string(raw[0:4]) != magicBytes {
		return nil, domain.ErrInvalidToken
	}
	if binary.LittleEndian.Uint32(raw[4:8]) != formatVersion {
		return nil, domain.ErrInvalidToken
	}

	nonce := raw[8:headerSize]
	ciphertext := raw[headerSize:]

	plaintext, err := c.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, domain.ErrInvalidToken
	}

	var payload domain.Payload
	if err := json.Unmarshal(plaintext, &payload); err != nil {
		return nil, domain.ErrInvalidToken
	}

	if !c.now().Before(payload.ExpiresAt()) {
		return nil, domain.ErrExpiredToken
	}

	return &payload, nil
}
