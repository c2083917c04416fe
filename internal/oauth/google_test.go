package oauth

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"golang.org/x/oauth2"

	"github.com/omnibrain/omnibrain/internal/events"
	"github.com/omnibrain/omnibrain/internal/secure"
)

func newTestManager(t *testing.T) (*Manager, *events.Bus) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	vault, err := secure.New(filepath.Join(t.TempDir(), "vault"), "test-pass", logger)
	if err != nil {
		t.Fatal(err)
	}
	bus := events.New()
	m := NewManager(Config{
		ClientID:     "client-id",
		ClientSecret: "client-secret",
		RedirectURL:  "http://localhost:8594/api/v1/oauth/google/callback",
	}, vault, bus, logger)
	return m, bus
}

func TestAuthURLCarriesState(t *testing.T) {
	m, _ := newTestManager(t)
	url, err := m.AuthURL()
	if err != nil {
		t.Fatalf("AuthURL: %v", err)
	}
	if !strings.Contains(url, "state="+m.state) {
		t.Errorf("url = %q, missing state", url)
	}
	if !strings.Contains(url, "access_type=offline") {
		t.Errorf("url = %q, missing offline access", url)
	}
}

func TestCallbackRejectsBadState(t *testing.T) {
	m, _ := newTestManager(t)
	if _, err := m.AuthURL(); err != nil {
		t.Fatal(err)
	}
	if err := m.HandleCallback(context.Background(), "forged", "code"); err == nil {
		t.Error("forged state accepted")
	}
}

func TestUnconfiguredManager(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	vault, _ := secure.New(filepath.Join(t.TempDir(), "vault"), "pw", logger)
	m := NewManager(Config{}, vault, nil, logger)
	if _, err := m.AuthURL(); err == nil {
		t.Error("unconfigured manager produced an auth URL")
	}
}

func TestConnectedAndDisconnect(t *testing.T) {
	m, bus := newTestManager(t)
	ch := bus.Subscribe(events.TopicGoogleDisconnected, 4)

	if m.Connected() {
		t.Error("fresh manager reports connected")
	}
	if err := m.saveToken(&oauth2.Token{AccessToken: "tok", RefreshToken: "ref"}); err != nil {
		t.Fatal(err)
	}
	if !m.Connected() {
		t.Error("manager with stored token reports disconnected")
	}

	if err := m.Disconnect(); err != nil {
		t.Fatal(err)
	}
	if m.Connected() {
		t.Error("still connected after disconnect")
	}
	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatal("google_disconnected not published")
	}
}

func TestTokenSourceWithoutToken(t *testing.T) {
	m, _ := newTestManager(t)
	if _, err := m.TokenSource(context.Background()); err == nil {
		t.Error("token source built without a stored token")
	}
}

func TestTokenRoundTrip(t *testing.T) {
	m, _ := newTestManager(t)
	want := &oauth2.Token{
		AccessToken:  "access",
		RefreshToken: "refresh",
		Expiry:       time.Now().Add(time.Hour).UTC().Truncate(time.Second),
	}
	if err := m.saveToken(want); err != nil {
		t.Fatal(err)
	}
	got, err := m.loadToken()
	if err != nil {
		t.Fatal(err)
	}
	if got.AccessToken != want.AccessToken || got.RefreshToken != want.RefreshToken {
		t.Errorf("token = %+v", got)
	}
}
