package api

import (
	"fmt"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"
	"github.com/livekit/protocol/auth"
)

var tokenAlgorithms = []jose.SignatureAlgorithm{
	jose.HS256, jose.HS384, jose.HS512,
	jose.RS256, jose.ES256,
}

// Claims is the unverified payload of a room token.
type Claims struct {
	jwt.Claims
	Name  string           `json:"name,omitempty"`
	Video *auth.VideoGrant `json:"video,omitempty"`
}

// ParseClaims decodes the claims of a JWT without checking its signature.
// The device never holds the signing secret; the result is informational.
func ParseClaims(raw string) (*Claims, error) {
	tok, err := jwt.ParseSigned(raw, tokenAlgorithms)
	if err != nil {
		return nil, fmt.Errorf("parse jwt: %w", err)
	}
	var c Claims
	if err := tok.UnsafeClaimsWithoutVerification(&c); err != nil {
		return nil, fmt.Errorf("decode claims: %w", err)
	}
	return &c, nil
}

// Room returns the room the token grants access to, if any.
func (c *Claims) Room() string {
	if c.Video == nil {
		return ""
	}
	return c.Video.Room
}

// Expired reports whether the token's expiry lies before now. Tokens
// without an expiry never expire.
func (c *Claims) Expired(now time.Time) bool {
	return c.Expiry != nil && now.After(c.Expiry.Time())
}
