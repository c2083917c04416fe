// Package web serves the embedded dashboard: a single-page runtime
// overview with today's briefing, pending proposals, and a QR code
// for pairing the Telegram bot.
package web

import (
	"html/template"
	"log/slog"
	"net/http"

	"github.com/omnibrain/omnibrain/internal/store"
)

// Server renders the dashboard pages.
type Server struct {
	store     *store.Store
	templates map[string]*template.Template
	logger    *slog.Logger

	// botUsername builds the t.me pairing deep-link; empty hides the
	// pairing card.
	botUsername string

	// statusFunc is the daemon's live status snapshot.
	statusFunc func() map[string]any
}

// NewServer builds the dashboard server. statusFunc may be nil.
func NewServer(s *store.Store, botUsername string, statusFunc func() map[string]any, logger *slog.Logger) *Server {
	return &Server{
		store:       s,
		templates:   loadTemplates(),
		logger:      logger,
		botUsername: botUsername,
		statusFunc:  statusFunc,
	}
}

// Routes registers the dashboard handlers on mux.
func (s *Server) Routes(mux *http.ServeMux) {
	mux.HandleFunc("GET /{$}", s.handleDashboard)
	mux.HandleFunc("GET /qr/telegram.png", s.handlePairingQR)
}
