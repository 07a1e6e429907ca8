package server

import (
	"crypto/subtle"
	"net/http"

	"github.com/rs/zerolog/log"
)

// LoginHandler starts the three-legged flow.
func (s *Server) LoginHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		state := generateRandomString(32)
		setAuthStateCookie(w, r, state)
		http.Redirect(w, r, s.broker.AuthorizationURL(state), http.StatusFound)
	}
}

// CallbackHandler finishes the flow: it checks the state, exchanges the code,
// issues the session cookie and sends the browser back to the frontend.
func (s *Server) CallbackHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		query := r.URL.Query()

		stateCookie, err := r.Cookie(authStateCookieName)
		state := query.Get("state")
		if err != nil || state == "" || subtle.ConstantTimeCompare([]byte(stateCookie.Value), []byte(state)) != 1 {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "Invalid or missing state parameter"})
			return
		}
		clearAuthStateCookie(w, r)

		if authErr := query.Get("error"); authErr != "" {
			log.Ctx(r.Context()).Warn().Str("error", authErr).Str("description", query.Get("error_description")).Msg("Authorization was not granted")
			writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "Authorization failed: " + authErr})
			return
		}

		session, err := s.broker.Login(r.Context(), query.Get("code"))
		if err != nil {
			writeError(w, r, err)
			return
		}

		if err := s.cookies.Set(w, r, session.ID); err != nil {
			writeError(w, r, err)
			return
		}
		http.Redirect(w, r, s.config.GetFrontendURL(), http.StatusFound)
	}
}

// TokenHandler hands the browser the viewer's read-only token.
func (s *Server) TokenHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, tokensFromContext(r.Context()).Public)
	}
}

func (s *Server) ProfileHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		profile, err := s.broker.Profile(r.Context(), tokensFromContext(r.Context()).Internal.AccessToken)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"name": profile.Name})
	}
}

// LogoutHandler ends the session. The GET variant redirects to the frontend
// so it can be used as a plain link.
func (s *Server) LogoutHandler(redirect bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if sessionID, err := s.cookies.SessionID(r); err == nil {
			if err := s.broker.Logout(r.Context(), sessionID); err != nil {
				log.Ctx(r.Context()).Warn().Err(err).Msg("Failed to end session")
			}
		}
		s.cookies.Clear(w, r)

		if redirect {
			http.Redirect(w, r, s.config.GetFrontendURL(), http.StatusFound)
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"success": true})
	}
}
