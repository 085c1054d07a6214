package config

import (
	"crypto/hkdf"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"
)

// DecodeSecret accepts hex, base64, or raw text secrets of at least 16 bytes.
func DecodeSecret(raw string) ([]byte, error) {
	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, fmt.Errorf("secret is empty")
	}
	if b, err := hex.DecodeString(value); err == nil && len(b) >= 16 {
		return b, nil
	}
	if b, err := base64.StdEncoding.DecodeString(value); err == nil && len(b) >= 16 {
		return b, nil
	}
	if b, err := base64.RawStdEncoding.DecodeString(value); err == nil && len(b) >= 16 {
		return b, nil
	}
	if len(value) >= 16 {
		return []byte(value), nil
	}
	return nil, fmt.Errorf("secret must be at least 16 bytes")
}

// CursorKey returns the HMAC key used to sign pagination cursors, derived from
// CursorSecret via HKDF-SHA256. Returns (nil, nil) when CursorSecret is not set.
func (c *Config) CursorKey() ([]byte, error) {
	if c == nil || strings.TrimSpace(c.CursorSecret) == "" {
		return nil, nil
	}
	raw, err := DecodeSecret(c.CursorSecret)
	if err != nil {
		return nil, fmt.Errorf("invalid cursor secret: %w", err)
	}
	key, err := hkdf.Key(sha256.New, raw, nil, "pagination-cursors", 32)
	if err != nil {
		return nil, fmt.Errorf("HKDF derivation failed: %w", err)
	}
	return key, nil
}
