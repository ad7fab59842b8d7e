package attendance

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"
)

// DefaultTokenTTL is how long a freshly minted QR token stays valid.
const DefaultTokenTTL = 15 * time.Minute

const tokenBytes = 32

var randRead = rand.Read

// Mint generates a new active token with 256 bits of entropy. It does not
// persist anything. An error means the system randomness source is broken.
func Mint(ttl time.Duration, now time.Time) (QRToken, error) {
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	buf := make([]byte, tokenBytes)
	if _, err := randRead(buf); err != nil {
		return QRToken{}, fmt.Errorf("mint token: read random: %w", err)
	}
	now = now.UTC()
	return QRToken{
		Value:     hex.EncodeToString(buf),
		IssuedAt:  now,
		ExpiresAt: now.Add(ttl),
		IsActive:  true,
	}, nil
}
