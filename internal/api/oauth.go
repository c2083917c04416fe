package api

import (
	"net/http"
)

// handleOAuthRedirect sends the browser to Google's consent screen.
func (s *Server) handleOAuthRedirect(w http.ResponseWriter, r *http.Request) {
	if s.deps.OAuth == nil {
		s.errorResponse(w, http.StatusServiceUnavailable, "oauth not configured")
		return
	}
	url, err := s.deps.OAuth.AuthURL()
	if err != nil {
		s.errorResponse(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	http.Redirect(w, r, url, http.StatusTemporaryRedirect)
}

func (s *Server) handleOAuthCallback(w http.ResponseWriter, r *http.Request) {
	if s.deps.OAuth == nil {
		s.errorResponse(w, http.StatusServiceUnavailable, "oauth not configured")
		return
	}
	query := r.URL.Query()
	if errMsg := query.Get("error"); errMsg != "" {
		s.errorResponse(w, http.StatusBadRequest, "provider error: "+errMsg)
		return
	}
	if err := s.deps.OAuth.HandleCallback(r.Context(), query.Get("state"), query.Get("code")); err != nil {
		s.logger.Error("oauth callback failed", "error", err)
		s.errorResponse(w, http.StatusBadRequest, err.Error())
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write([]byte("<html><body><p>Google account connected. You can close this tab.</p></body></html>"))
}

func (s *Server) handleOAuthStatus(w http.ResponseWriter, r *http.Request) {
	connected := s.deps.OAuth != nil && s.deps.OAuth.Connected()
	s.writeJSON(w, map[string]any{
		"configured": s.deps.OAuth != nil,
		"connected":  connected,
	})
}

func (s *Server) handleOAuthDisconnect(w http.ResponseWriter, r *http.Request) {
	if s.deps.OAuth == nil {
		s.errorResponse(w, http.StatusServiceUnavailable, "oauth not configured")
		return
	}
	if err := s.deps.OAuth.Disconnect(); err != nil {
		s.errorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, map[string]any{"status": "disconnected"})
}
