package server

import "net/http"

// Hub browsing acts on the user's behalf, so it uses the session's internal
// token rather than the service token.

func (s *Server) HubsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		hubs, err := s.gateway.Hubs(r.Context(), tokensFromContext(r.Context()).Internal.AccessToken)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, hubs)
	}
}

func (s *Server) ProjectsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		projects, err := s.gateway.Projects(r.Context(), tokensFromContext(r.Context()).Internal.AccessToken, r.PathValue("hub"))
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, projects)
	}
}

func (s *Server) ProjectContentsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		entries, err := s.gateway.ProjectContents(r.Context(), tokensFromContext(r.Context()).Internal.AccessToken,
			r.PathValue("hub"), r.PathValue("project"), r.URL.Query().Get("folder_id"))
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, entries)
	}
}

func (s *Server) ItemVersionsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		versions, err := s.gateway.ItemVersions(r.Context(), tokensFromContext(r.Context()).Internal.AccessToken,
			r.PathValue("project"), r.PathValue("item"))
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, versions)
	}
}
