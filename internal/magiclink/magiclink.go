// Package magiclink mints and checks the opaque bearer tokens that grant
// time-limited access to approved documents.
package magiclink

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"time"
)

const (
	// TokenBytes is the amount of entropy in a token (256 bits).
	TokenBytes = 32
	// DefaultDays is the default validity window for both links and granted access.
	DefaultDays = 7
	// DefaultTTL is DefaultDays as a duration.
	DefaultTTL = DefaultDays * 24 * time.Hour
)

// Generate returns a URL-safe random token.
func Generate() (string, error) {
	buf := make([]byte, TokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("magic link entropy: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// ExpirationFromNow returns now plus days, falling back to DefaultDays when days <= 0.
func ExpirationFromNow(now time.Time, days int) time.Time {
	if days <= 0 {
		days = DefaultDays
	}
	return now.UTC().AddDate(0, 0, days)
}

// Expired reports whether a link expiring at expiresAt is no longer redeemable at now.
// A link expires strictly after its expiry instant; a missing expiry counts as expired.
func Expired(expiresAt *time.Time, now time.Time) bool {
	if expiresAt == nil {
		return true
	}
	return expiresAt.Before(now)
}

// LooksValid performs a cheap shape check before a store lookup.
func LooksValid(token string) bool {
	if len(token) != base64.RawURLEncoding.EncodedLen(TokenBytes) {
		return false
	}
	_, err := base64.RawURLEncoding.DecodeString(token)
	return err == nil
}

// URL builds the public access link for token.
func URL(baseURL, token string) string {
	return fmt.Sprintf("%s/access/%s", trimSlash(baseURL), token)
}

func trimSlash(s string) string {
	for len(s) > 0 && s[len(s)-1] == '/' {
		s = s[:len(s)-1]
	}
	return s
}
