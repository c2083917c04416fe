package skills

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/omnibrain/omnibrain/internal/store"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.New(filepath.Join(t.TempDir(), "skills_test.db"), quietLogger())
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func writeManifest(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "skill.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadManifest(t *testing.T) {
	path := writeManifest(t, `
name: weather
version: "1.2.0"
description: Daily weather summary
author: test
category: info
permissions: [notify, read_preferences]
triggers:
  - type: interval
    spec: 30m
handlers:
  poll: handler.py
dependencies: ["requests>=2.0"]
future_field: ignored
`)
	m, err := LoadManifest(path)
	if err != nil {
		t.Fatalf("LoadManifest: %v", err)
	}
	if m.Name != "weather" || m.Version != "1.2.0" {
		t.Errorf("manifest = %+v", m)
	}
	if !m.HasPermission("notify") || m.HasPermission("llm_access") {
		t.Error("permission set wrong")
	}
	if len(m.Triggers) != 1 || m.Triggers[0].Type != "interval" {
		t.Errorf("triggers = %+v", m.Triggers)
	}
	if m.Dir != filepath.Dir(path) {
		t.Errorf("dir = %q", m.Dir)
	}
}

func TestLoadManifestRejections(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"missing name", "version: \"1.0\"\nhandlers:\n  poll: h.py\n"},
		{"unknown permission", "name: x\npermissions: [root_access]\nhandlers:\n  poll: h.py\n"},
		{"no handlers", "name: x\npermissions: [notify]\n"},
		{"bad trigger type", "name: x\ntriggers:\n  - type: webhook\n    spec: foo\nhandlers:\n  poll: h.py\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := LoadManifest(writeManifest(t, tt.content)); err == nil {
				t.Error("invalid manifest accepted")
			}
		})
	}
}

func testGateway(t *testing.T, s *store.Store, perms ...string) *Gateway {
	t.Helper()
	return NewGateway(GatewayDeps{Store: s}, &Manifest{Name: "test-skill", Permissions: perms}, quietLogger())
}

func TestGatewayPermissionDenied(t *testing.T) {
	g := testGateway(t, newTestStore(t)) // no permissions

	methods := []string{
		"memory_search", "memory_store", "notify", "propose_action",
		"llm_complete", "get_events", "get_contacts", "get_preference", "emit_event",
	}
	for _, method := range methods {
		result, rpcErr := g.Handle(context.Background(), method, map[string]any{})
		if rpcErr == nil || rpcErr.Code != codeNoPermission {
			t.Errorf("%s: error = %+v, want code %d", method, rpcErr, codeNoPermission)
		}
		if result != nil {
			t.Errorf("%s returned a result without permission", method)
		}
	}
}

func TestGatewayLogNeedsNoPermission(t *testing.T) {
	g := testGateway(t, newTestStore(t))
	result, rpcErr := g.Handle(context.Background(), "log", map[string]any{"message": "hi"})
	if rpcErr != nil || result != true {
		t.Errorf("log = (%v, %+v)", result, rpcErr)
	}
}

func TestGatewayUnknownMethod(t *testing.T) {
	g := testGateway(t, newTestStore(t), "notify")
	_, rpcErr := g.Handle(context.Background(), "format_disk", nil)
	if rpcErr == nil || rpcErr.Code != codeMethodUnknown {
		t.Errorf("error = %+v, want code %d", rpcErr, codeMethodUnknown)
	}
}

func TestGatewayRateCap(t *testing.T) {
	g := testGateway(t, newTestStore(t))
	g.rateCap = 3
	for i := range 3 {
		if _, rpcErr := g.Handle(context.Background(), "log", map[string]any{}); rpcErr != nil {
			t.Fatalf("call %d: %+v", i, rpcErr)
		}
	}
	_, rpcErr := g.Handle(context.Background(), "log", map[string]any{})
	if rpcErr == nil || rpcErr.Code != codeRateLimited {
		t.Errorf("error = %+v, want code %d", rpcErr, codeRateLimited)
	}
}

func TestGatewayProposeAndPreference(t *testing.T) {
	s := newTestStore(t)
	g := testGateway(t, s, "propose_actions", "read_preferences")

	result, rpcErr := g.Handle(context.Background(), "propose_action", map[string]any{
		"type": "reminder", "title": "Water the plants", "priority": float64(2),
	})
	if rpcErr != nil {
		t.Fatalf("propose_action: %+v", rpcErr)
	}
	if _, ok := result.(map[string]any)["id"]; !ok {
		t.Errorf("result = %+v, want id", result)
	}
	pending, _ := s.ListPendingProposals()
	if len(pending) != 1 || pending[0].Title != "Water the plants" {
		t.Errorf("pending = %+v", pending)
	}

	s.SetPreference("user.city", "Milan", 1.0, "test")
	got, rpcErr := g.Handle(context.Background(), "get_preference", map[string]any{"key": "user.city"})
	if rpcErr != nil || got != "Milan" {
		t.Errorf("get_preference = (%v, %+v)", got, rpcErr)
	}
}

func TestGatewayIntegrationPermission(t *testing.T) {
	g := testGateway(t, newTestStore(t)) // no google_gmail
	_, rpcErr := g.Handle(context.Background(), "integration_call",
		map[string]any{"name": "gmail", "method": "ping"})
	if rpcErr == nil || rpcErr.Code != codeNoPermission {
		t.Errorf("error = %+v, want code %d", rpcErr, codeNoPermission)
	}
}

// integrationFunc adapts a function to the Integration interface.
type integrationFunc func(ctx context.Context, method string, params map[string]any) (any, error)

func (f integrationFunc) Call(ctx context.Context, method string, params map[string]any) (any, error) {
	return f(ctx, method, params)
}

func TestGatewayIntegrationHandshake(t *testing.T) {
	forwarded := 0
	deps := GatewayDeps{
		Store: newTestStore(t),
		Integrations: map[string]IntegrationBuilder{
			"calendar": func(context.Context) (Integration, error) {
				return integrationFunc(func(_ context.Context, method string, _ map[string]any) (any, error) {
					forwarded++
					if method != "upcoming" {
						return nil, fmt.Errorf("unknown calendar method %q", method)
					}
					return []string{"standup"}, nil
				}), nil
			},
			"gmail": func(context.Context) (Integration, error) {
				return nil, fmt.Errorf("imap auth failed")
			},
		},
	}
	g := NewGateway(deps, &Manifest{
		Name:        "planner",
		Permissions: []string{"read_calendar", "google_gmail"},
	}, quietLogger())

	// The availability check succeeds without reaching the integration,
	// which only understands its real methods.
	result, rpcErr := g.Handle(context.Background(), "integration_call",
		map[string]any{"name": "calendar", "method": "ping"})
	if rpcErr != nil || result != true {
		t.Fatalf("ping = (%v, %+v), want (true, nil)", result, rpcErr)
	}
	if forwarded != 0 {
		t.Errorf("ping was forwarded to the integration (%d calls)", forwarded)
	}

	// Real methods are forwarded to the built client.
	result, rpcErr = g.Handle(context.Background(), "integration_call",
		map[string]any{"name": "calendar", "method": "upcoming"})
	if rpcErr != nil {
		t.Fatalf("upcoming: %+v", rpcErr)
	}
	if got, ok := result.([]string); !ok || len(got) != 1 {
		t.Errorf("upcoming = %v", result)
	}

	// Auth failure yields a null result, not an error, so the runner
	// maps the handle to unavailable.
	result, rpcErr = g.Handle(context.Background(), "integration_call",
		map[string]any{"name": "gmail", "method": "ping"})
	if rpcErr != nil {
		t.Fatalf("gmail ping errored: %+v", rpcErr)
	}
	if result != nil {
		t.Errorf("gmail ping = %v, want null after auth failure", result)
	}
}

func TestDepsHashOrderInsensitive(t *testing.T) {
	a := depsHash([]string{"requests>=2.0", "pyyaml", "httpx"})
	b := depsHash([]string{"httpx", "pyyaml", "requests>=2.0"})
	if a != b {
		t.Error("reordered dependency lists hashed differently")
	}
	if c := depsHash([]string{"pyyaml", "httpx"}); c == a {
		t.Error("different dependency lists hashed identically")
	}
}

func TestMatchAsk(t *testing.T) {
	m := &Manifest{Name: "weather", AskKeywords: []string{"forecast", "rain"}}
	tests := []struct {
		message string
		want    bool
	}{
		{"what's the Weather like?", true},
		{"any rain expected tomorrow?", true},
		{"schedule a meeting", false},
	}
	for _, tt := range tests {
		if got := matchAsk(m, tt.message); got != tt.want {
			t.Errorf("matchAsk(%q) = %v, want %v", tt.message, got, tt.want)
		}
	}
}

func TestDiscoverRegistersSkill(t *testing.T) {
	s := newTestStore(t)
	root := t.TempDir()
	dir := filepath.Join(root, "weather")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	manifest := "name: weather\npermissions: [notify]\nhandlers:\n  poll: handler.py\n"
	if err := os.WriteFile(filepath.Join(dir, "skill.yaml"), []byte(manifest), 0o644); err != nil {
		t.Fatal(err)
	}

	r := NewRuntime([]string{root}, s, nil, GatewayDeps{Store: s}, quietLogger())
	if err := r.Discover(context.Background()); err != nil {
		t.Fatalf("Discover: %v", err)
	}

	sk, err := s.GetSkill("weather")
	if err != nil || sk == nil {
		t.Fatalf("GetSkill = (%+v, %v)", sk, err)
	}
	if !sk.Enabled {
		t.Error("new skill not enabled by default")
	}
	if len(r.Skills()) != 1 {
		t.Errorf("loaded skills = %d", len(r.Skills()))
	}
}
