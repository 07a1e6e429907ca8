package server

import (
	"context"
	"net/http"

	"github.com/jrsteele09/aps-viewer-server/broker"
	apperrors "github.com/jrsteele09/aps-viewer-server/internal/errors"
	"github.com/rs/zerolog/log"
)

// ContextKey is a custom type for context keys to avoid collisions
type ContextKey string

const (
	// ContextKeySessionID stores the verified session id
	ContextKeySessionID ContextKey = "session_id"
	// ContextKeyTokens stores the session's fresh token pair
	ContextKeyTokens ContextKey = "tokens"
)

// RequireSession rejects requests without a valid session cookie and makes the
// session's tokens, refreshed when needed, available to the handler.
func (s *Server) RequireSession() func(http.HandlerFunc) http.HandlerFunc {
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			sessionID, err := s.cookies.SessionID(r)
			if err != nil {
				writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "Not authenticated"})
				return
			}

			tokens, err := s.broker.EnsureFresh(r.Context(), sessionID)
			if err != nil {
				if apperrors.Is(err, apperrors.ErrSessionExpired) {
					s.cookies.Clear(w, r)
					writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "Session expired. Please log in again."})
					return
				}
				writeError(w, r, err)
				return
			}

			logger := log.Ctx(r.Context()).With().Str("session", sessionID).Logger()
			ctx := logger.WithContext(r.Context())
			ctx = context.WithValue(ctx, ContextKeySessionID, sessionID)
			ctx = context.WithValue(ctx, ContextKeyTokens, tokens)
			next(w, r.WithContext(ctx))
		}
	}
}

func tokensFromContext(ctx context.Context) broker.Tokens {
	tokens, _ := ctx.Value(ContextKeyTokens).(broker.Tokens)
	return tokens
}
