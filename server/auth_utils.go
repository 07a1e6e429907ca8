package server

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/hkdf"
)

const (
	// sessionCookieName carries the signed session id
	sessionCookieName = "aps_session"
	// authStateCookieName carries the OAuth state between login and callback
	authStateCookieName = "aps_auth_state"
	authStateMaxAge     = 10 * time.Minute

	cookieKeyInfo = "aps-viewer session cookie v1"
)

var ErrInvalidSessionCookie = errors.New("invalid session cookie")

// generateRandomString creates a random base64url string
func generateRandomString(length int) string {
	b := make([]byte, length)
	_, _ = rand.Read(b)
	return base64.RawURLEncoding.EncodeToString(b)
}

type sessionClaims struct {
	SessionID string `json:"sid"`
	jwt.RegisteredClaims
}

// SessionCookies signs and verifies the browser's session cookie. The cookie
// holds only the session id; tokens never leave the server.
type SessionCookies struct {
	key    []byte
	maxAge time.Duration
}

// NewSessionCookies derives the HS256 signing key from secret.
func NewSessionCookies(secret string, maxAge time.Duration) (*SessionCookies, error) {
	if secret == "" {
		return nil, errors.New("session secret is required")
	}
	key := make([]byte, 32)
	if _, err := io.ReadFull(hkdf.New(sha256.New, []byte(secret), nil, []byte(cookieKeyInfo)), key); err != nil {
		return nil, fmt.Errorf("failed to derive cookie key: %w", err)
	}
	return &SessionCookies{key: key, maxAge: maxAge}, nil
}

func (c *SessionCookies) sign(sessionID string, now time.Time) (string, error) {
	claims := sessionClaims{
		SessionID: sessionID,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(c.maxAge)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.key)
}

// SessionID returns the verified session id carried by the request.
func (c *SessionCookies) SessionID(r *http.Request) (string, error) {
	cookie, err := r.Cookie(sessionCookieName)
	if err != nil || cookie.Value == "" {
		return "", ErrInvalidSessionCookie
	}

	var claims sessionClaims
	_, err = jwt.ParseWithClaims(cookie.Value, &claims, func(*jwt.Token) (any, error) {
		return c.key, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil || claims.SessionID == "" {
		return "", ErrInvalidSessionCookie
	}
	return claims.SessionID, nil
}

func (c *SessionCookies) Set(w http.ResponseWriter, r *http.Request, sessionID string) error {
	value, err := c.sign(sessionID, time.Now())
	if err != nil {
		return fmt.Errorf("failed to sign session cookie: %w", err)
	}
	setCookie(w, r, sessionCookieName, value, int(c.maxAge.Seconds()))
	return nil
}

func (c *SessionCookies) Clear(w http.ResponseWriter, r *http.Request) {
	setCookie(w, r, sessionCookieName, "", -1)
}

func setAuthStateCookie(w http.ResponseWriter, r *http.Request, state string) {
	setCookie(w, r, authStateCookieName, state, int(authStateMaxAge.Seconds()))
}

func clearAuthStateCookie(w http.ResponseWriter, r *http.Request) {
	setCookie(w, r, authStateCookieName, "", -1)
}

func setCookie(w http.ResponseWriter, r *http.Request, name, value string, maxAge int) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		HttpOnly: true,
		Secure:   getScheme(r) == "https",
		SameSite: http.SameSiteLaxMode,
		MaxAge:   maxAge,
	})
}
