// Package broker owns every credential the viewer backend holds: the
// two-legged service token used for storage and translation, and the
// per-session three-legged token pair of each signed in user.
package broker

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/jrsteele09/aps-viewer-server/aps"
	apperrors "github.com/jrsteele09/aps-viewer-server/internal/errors"
	"github.com/jrsteele09/aps-viewer-server/sessions"
	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"
)

// NowTimeFunc returns the current time. It can be overridden in tests.
var NowTimeFunc = time.Now

// Authenticator is the subset of the APS authentication API the broker needs.
type Authenticator interface {
	AuthorizationURL(state string) string
	ServiceTokenSource(ctx context.Context) oauth2.TokenSource
	ExchangeCode(ctx context.Context, code string) (*oauth2.Token, error)
	RefreshToken(ctx context.Context, refreshToken string, scopes []string) (*oauth2.Token, error)
	UserInfo(ctx context.Context, accessToken string) (*aps.UserProfile, error)
}

// AccessToken is a bearer token with its remaining lifetime in seconds.
type AccessToken struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
}

// Tokens is the usable view of a session's token pair.
type Tokens struct {
	Internal AccessToken
	Public   AccessToken
}

// Broker issues and refreshes tokens.
type Broker struct {
	auth           Authenticator
	repo           sessions.Repo
	service        oauth2.TokenSource
	internalScopes []string
	publicScopes   []string
	flight         singleflight.Group
}

// New creates a broker. The service token source is created once and caches
// its token until expiry.
func New(auth Authenticator, repo sessions.Repo, internalScopes, publicScopes []string) *Broker {
	return &Broker{
		auth:           auth,
		repo:           repo,
		service:        auth.ServiceTokenSource(context.Background()),
		internalScopes: internalScopes,
		publicScopes:   publicScopes,
	}
}

// ServiceTokenSource returns the shared two-legged token source.
func (b *Broker) ServiceTokenSource() oauth2.TokenSource {
	return b.service
}

// ServiceToken returns a valid two-legged token, requesting a new one only
// when the cached token has expired.
func (b *Broker) ServiceToken(ctx context.Context) (*oauth2.Token, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	tok, err := b.service.Token()
	if err != nil {
		return nil, aps.TokenError(err)
	}
	return tok, nil
}

// AuthorizationURL is where the browser is sent to sign in.
func (b *Broker) AuthorizationURL(state string) string {
	return b.auth.AuthorizationURL(state)
}

// Login completes the authorization code flow and creates a new session.
// The code is exchanged for internal credentials which are immediately
// refreshed with the public scopes; the session keeps the public grant's
// refresh token and the internal token's lifetime.
func (b *Broker) Login(ctx context.Context, code string) (sessions.Session, error) {
	if code == "" {
		return sessions.Session{}, apperrors.New(apperrors.ErrAuth, "missing authorization code")
	}

	internal, err := b.auth.ExchangeCode(ctx, code)
	if err != nil {
		log.Warn().Err(err).Msg("Authorization code exchange failed")
		return sessions.Session{}, fmt.Errorf("%w: authorization code exchange failed", apperrors.ErrAuth)
	}

	public, err := b.auth.RefreshToken(ctx, internal.RefreshToken, b.publicScopes)
	if err != nil {
		log.Warn().Err(err).Msg("Public token request failed")
		return sessions.Session{}, fmt.Errorf("%w: public token request failed", apperrors.ErrAuth)
	}

	now := NowTimeFunc()
	session := sessions.Session{
		ID: uuid.NewString(),
		Tokens: sessions.TokenPair{
			InternalAccessToken: internal.AccessToken,
			PublicAccessToken:   public.AccessToken,
			RefreshToken:        public.RefreshToken,
			ExpiresAt:           now.Add(aps.ExpiresIn(internal)),
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := b.repo.Upsert(ctx, session); err != nil {
		return sessions.Session{}, apperrors.Wrapf(err, "failed to store session")
	}

	log.Info().Str("session", session.ID).Msg("Session created")
	return session, nil
}

// EnsureFresh returns usable tokens for a session, refreshing them first when
// they have expired. Concurrent refreshes of one session share a single
// upstream refresh cycle. A refresh the token endpoint rejects ends the
// session; transport failures and upstream errors leave it in place.
func (b *Broker) EnsureFresh(ctx context.Context, sessionID string) (Tokens, error) {
	s, err := b.load(ctx, sessionID)
	if err != nil {
		return Tokens{}, err
	}
	if !s.Tokens.IsExpired(NowTimeFunc()) {
		return tokensFor(s.Tokens), nil
	}

	// the refresh outlives any one caller so a cancelled request cannot fail
	// the others waiting on the same flight
	v, err, _ := b.flight.Do(sessionID, func() (any, error) {
		return b.refresh(context.WithoutCancel(ctx), sessionID)
	})
	if err != nil {
		return Tokens{}, err
	}
	return tokensFor(v.(sessions.TokenPair)), nil
}

func (b *Broker) load(ctx context.Context, sessionID string) (sessions.Session, error) {
	s, err := b.repo.Get(ctx, sessionID)
	if apperrors.Is(err, apperrors.ErrSessionNotFound) {
		return sessions.Session{}, apperrors.ErrSessionExpired
	}
	if err != nil {
		return sessions.Session{}, fmt.Errorf("%w: session store: %w", apperrors.ErrUpstream, err)
	}
	if s.Tokens.RefreshToken == "" {
		return sessions.Session{}, apperrors.ErrSessionExpired
	}
	return s, nil
}

func (b *Broker) refresh(ctx context.Context, sessionID string) (sessions.TokenPair, error) {
	// re-read inside the flight: a flight that finished just before this one
	// started may already have rotated the refresh token
	s, err := b.load(ctx, sessionID)
	if err != nil {
		return sessions.TokenPair{}, err
	}
	if !s.Tokens.IsExpired(NowTimeFunc()) {
		return s.Tokens, nil
	}

	internal, err := b.auth.RefreshToken(ctx, s.Tokens.RefreshToken, b.internalScopes)
	if err != nil {
		if refreshRejected(err) {
			return sessions.TokenPair{}, b.expire(ctx, sessionID, err)
		}
		log.Warn().Err(err).Str("session", sessionID).Msg("Token refresh failed, keeping session")
		return sessions.TokenPair{}, aps.TokenError(err)
	}

	public, err := b.auth.RefreshToken(ctx, internal.RefreshToken, b.publicScopes)
	if err != nil {
		if refreshRejected(err) {
			return sessions.TokenPair{}, b.expire(ctx, sessionID, err)
		}
		// the old refresh token was consumed by the internal grant
		log.Warn().Err(err).Str("session", sessionID).Msg("Public token refresh failed, keeping session")
		s.Tokens.RefreshToken = internal.RefreshToken
		s.UpdatedAt = NowTimeFunc()
		if uerr := b.update(ctx, s); uerr != nil {
			return sessions.TokenPair{}, uerr
		}
		return sessions.TokenPair{}, aps.TokenError(err)
	}

	now := NowTimeFunc()
	s.Tokens = sessions.TokenPair{
		InternalAccessToken: internal.AccessToken,
		PublicAccessToken:   public.AccessToken,
		RefreshToken:        public.RefreshToken,
		ExpiresAt:           now.Add(aps.ExpiresIn(internal)),
	}
	s.UpdatedAt = now
	if err := b.update(ctx, s); err != nil {
		return sessions.TokenPair{}, err
	}

	log.Debug().Str("session", sessionID).Time("expires_at", s.Tokens.ExpiresAt).Msg("Session tokens refreshed")
	return s.Tokens, nil
}

// update stores refreshed tokens unless the session was logged out while the
// refresh was in flight.
func (b *Broker) update(ctx context.Context, s sessions.Session) error {
	err := b.repo.Update(ctx, s)
	if apperrors.Is(err, apperrors.ErrSessionNotFound) {
		log.Info().Str("session", s.ID).Msg("Session ended during token refresh")
		return apperrors.ErrSessionExpired
	}
	if err != nil {
		return fmt.Errorf("%w: failed to store refreshed tokens: %w", apperrors.ErrUpstream, err)
	}
	return nil
}

func (b *Broker) expire(ctx context.Context, sessionID string, cause error) error {
	log.Warn().Err(cause).Str("session", sessionID).Msg("Token refresh rejected, ending session")
	if err := b.repo.Delete(ctx, sessionID); err != nil {
		log.Err(err).Str("session", sessionID).Msg("Failed to delete session")
	}
	return apperrors.ErrSessionExpired
}

// refreshRejected reports whether the token endpoint refused the grant itself,
// as opposed to failing to answer.
func refreshRejected(err error) bool {
	var re *oauth2.RetrieveError
	if !apperrors.As(err, &re) || re.Response == nil {
		return false
	}
	switch re.Response.StatusCode {
	case http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden:
		return true
	}
	return false
}

// Logout ends a session. Ending an unknown session is not an error.
func (b *Broker) Logout(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return nil
	}
	return b.repo.Delete(ctx, sessionID)
}

// Profile returns the profile of the user owning internalToken.
func (b *Broker) Profile(ctx context.Context, internalToken string) (aps.UserProfile, error) {
	profile, err := b.auth.UserInfo(ctx, internalToken)
	if err != nil {
		return aps.UserProfile{}, fmt.Errorf("%w: userinfo: %v", apperrors.ErrUpstream, err)
	}
	return *profile, nil
}

func tokensFor(tp sessions.TokenPair) Tokens {
	expiresIn := tp.ExpiresIn(NowTimeFunc())
	return Tokens{
		Internal: AccessToken{AccessToken: tp.InternalAccessToken, ExpiresIn: expiresIn},
		Public:   AccessToken{AccessToken: tp.PublicAccessToken, ExpiresIn: expiresIn},
	}
}
