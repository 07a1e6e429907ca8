// Package sessions keeps the per-browser token state of signed in users.
package sessions

import (
	"math"
	"time"
)

// TokenPair is the credential set of one session. The internal token carries
// the full data scopes and never leaves the server; the public token is the
// viewer-safe one handed to the browser. Both share a single refresh token and
// expiry and are always replaced together.
type TokenPair struct {
	InternalAccessToken string
	PublicAccessToken   string
	RefreshToken        string
	ExpiresAt           time.Time
}

// IsExpired reports whether the pair is no longer usable at now.
func (t TokenPair) IsExpired(now time.Time) bool {
	return !t.ExpiresAt.After(now)
}

// ExpiresIn returns the remaining lifetime in whole seconds, never negative.
func (t TokenPair) ExpiresIn(now time.Time) int {
	remaining := t.ExpiresAt.Sub(now).Seconds()
	if remaining <= 0 {
		return 0
	}
	return int(math.Round(remaining))
}

// Session binds a browser to its token pair.
type Session struct {
	ID        string
	Tokens    TokenPair
	CreatedAt time.Time
	UpdatedAt time.Time
}
