// Package oauth manages the Google OAuth connection: auth-URL
// generation with a state token, the callback exchange, and token
// persistence through the secure vault.
package oauth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/omnibrain/omnibrain/internal/events"
	"github.com/omnibrain/omnibrain/internal/secure"
)

// tokenSecret is the vault entry holding the Google token JSON.
const tokenSecret = "google_token"

// Scopes requested for the Gmail and Calendar collectors.
var defaultScopes = []string{
	"https://www.googleapis.com/auth/gmail.readonly",
	"https://www.googleapis.com/auth/calendar.readonly",
}

// Config carries the OAuth client credentials.
type Config struct {
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	RedirectURL  string `yaml:"redirect_url"`
}

// Manager owns the Google OAuth flow and the persisted token.
type Manager struct {
	config *oauth2.Config
	vault  *secure.Vault
	bus    *events.Bus // may be nil
	logger *slog.Logger

	mu    sync.Mutex
	state string
}

// NewManager creates the manager. Credentials may be empty; flows
// then fail with a clear error.
func NewManager(cfg Config, vault *secure.Vault, bus *events.Bus, logger *slog.Logger) *Manager {
	return &Manager{
		config: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       defaultScopes,
			Endpoint:     google.Endpoint,
		},
		vault:  vault,
		bus:    bus,
		logger: logger,
	}
}

// AuthURL returns the consent-screen URL with a fresh single-use
// state token.
func (m *Manager) AuthURL() (string, error) {
	if m.config.ClientID == "" {
		return "", fmt.Errorf("google oauth not configured")
	}
	raw := make([]byte, 16)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	m.mu.Lock()
	m.state = hex.EncodeToString(raw)
	url := m.config.AuthCodeURL(m.state, oauth2.AccessTypeOffline, oauth2.ApprovalForce)
	m.mu.Unlock()
	return url, nil
}

// HandleCallback validates the state, exchanges the code, and seals
// the token into the vault.
func (m *Manager) HandleCallback(ctx context.Context, state, code string) error {
	m.mu.Lock()
	expected := m.state
	m.state = ""
	m.mu.Unlock()
	if expected == "" || state != expected {
		return fmt.Errorf("oauth state mismatch")
	}

	token, err := m.config.Exchange(ctx, code)
	if err != nil {
		return fmt.Errorf("exchange code: %w", err)
	}
	if err := m.saveToken(token); err != nil {
		return err
	}

	m.logger.Info("google account connected")
	m.bus.Publish(events.Event{Topic: events.TopicGoogleConnected, Source: "oauth"})
	return nil
}

func (m *Manager) saveToken(token *oauth2.Token) error {
	raw, err := json.Marshal(token)
	if err != nil {
		return err
	}
	if err := m.vault.Seal(tokenSecret, raw); err != nil {
		return fmt.Errorf("persist token: %w", err)
	}
	return nil
}

func (m *Manager) loadToken() (*oauth2.Token, error) {
	raw, err := m.vault.Open(tokenSecret)
	if err != nil {
		return nil, err
	}
	var token oauth2.Token
	if err := json.Unmarshal(raw, &token); err != nil {
		return nil, fmt.Errorf("stored token unreadable: %w", err)
	}
	return &token, nil
}

// TokenSource returns a refreshing token source. Refreshed tokens are
// resealed so restarts keep the newest refresh token.
func (m *Manager) TokenSource(ctx context.Context) (oauth2.TokenSource, error) {
	token, err := m.loadToken()
	if err != nil {
		if errors.Is(err, secure.ErrNotFound) {
			return nil, fmt.Errorf("google account not connected")
		}
		return nil, err
	}
	return &persistingSource{
		manager: m,
		source:  m.config.TokenSource(ctx, token),
		last:    token.AccessToken,
	}, nil
}

// Connected reports whether a token is on file.
func (m *Manager) Connected() bool {
	return m.vault.Has(tokenSecret)
}

// Disconnect removes the stored token.
func (m *Manager) Disconnect() error {
	if err := m.vault.Delete(tokenSecret); err != nil {
		return err
	}
	m.logger.Info("google account disconnected")
	m.bus.Publish(events.Event{Topic: events.TopicGoogleDisconnected, Source: "oauth"})
	return nil
}

// persistingSource reseals the token whenever a refresh rotates it.
type persistingSource struct {
	manager *Manager
	source  oauth2.TokenSource

	mu   sync.Mutex
	last string
}

func (p *persistingSource) Token() (*oauth2.Token, error) {
	token, err := p.source.Token()
	if err != nil {
		return nil, err
	}
	p.mu.Lock()
	rotated := token.AccessToken != p.last
	p.last = token.AccessToken
	p.mu.Unlock()
	if rotated {
		if err := p.manager.saveToken(token); err != nil {
			p.manager.logger.Warn("refreshed token not persisted", "error", err)
		}
	}
	return token, nil
}
