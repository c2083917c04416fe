package api

import (
	"bufio"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/omnibrain/omnibrain/internal/chat"
	"github.com/omnibrain/omnibrain/internal/config"
	"github.com/omnibrain/omnibrain/internal/events"
	"github.com/omnibrain/omnibrain/internal/llm"
	"github.com/omnibrain/omnibrain/internal/store"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.New(filepath.Join(t.TempDir(), "api_test.db"), quietLogger())
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func newTestServer(t *testing.T, apiKey string, deps Deps) *Server {
	t.Helper()
	if deps.Store == nil {
		deps.Store = newTestStore(t)
	}
	return NewServer("127.0.0.1", 0, apiKey, deps, quietLogger())
}

func doJSON(t *testing.T, handler http.Handler, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestAuthMiddleware(t *testing.T) {
	srv := newTestServer(t, "secret", Deps{})
	h := srv.Handler()

	if rec := doJSON(t, h, "GET", "/api/v1/status", "", nil); rec.Code != http.StatusUnauthorized {
		t.Errorf("no key: status = %d, want 401", rec.Code)
	}
	if rec := doJSON(t, h, "GET", "/api/v1/status", "", map[string]string{"X-API-Key": "wrong"}); rec.Code != http.StatusUnauthorized {
		t.Errorf("bad key: status = %d, want 401", rec.Code)
	}
	if rec := doJSON(t, h, "GET", "/api/v1/status", "", map[string]string{"X-API-Key": "secret"}); rec.Code != http.StatusOK {
		t.Errorf("good key: status = %d, want 200", rec.Code)
	}
	// Health is exempt so probes work without the key.
	if rec := doJSON(t, h, "GET", "/api/v1/health", "", nil); rec.Code != http.StatusOK {
		t.Errorf("health: status = %d, want 200", rec.Code)
	}
}

func TestAuthDisabledWithoutKey(t *testing.T) {
	srv := newTestServer(t, "", Deps{})
	rec := doJSON(t, srv.Handler(), "GET", "/api/v1/status", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var got map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	if got["version"] == "" {
		t.Error("status payload missing version")
	}
}

func TestProposalLifecycle(t *testing.T) {
	s := newTestStore(t)
	srv := newTestServer(t, "", Deps{Store: s})
	h := srv.Handler()

	id, err := s.InsertProposal(&store.Proposal{
		Type: "reply", Title: "Reply to Anna", ExpiresAt: time.Now().Add(time.Hour),
	})
	if err != nil {
		t.Fatal(err)
	}

	rec := doJSON(t, h, "GET", "/api/v1/proposals", "", nil)
	if !strings.Contains(rec.Body.String(), "Reply to Anna") {
		t.Fatalf("list = %s", rec.Body.String())
	}

	rec = doJSON(t, h, "POST", "/api/v1/proposals/1/approve", `{"result":"sent"}`, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("approve status = %d: %s", rec.Code, rec.Body.String())
	}
	p, err := s.GetProposal(id)
	if err != nil {
		t.Fatal(err)
	}
	if p.Status != store.ProposalApproved {
		t.Errorf("status = %q", p.Status)
	}

	// A decided proposal cannot be re-decided.
	rec = doJSON(t, h, "POST", "/api/v1/proposals/1/reject", "", nil)
	if rec.Code != http.StatusConflict {
		t.Errorf("re-decide status = %d, want 409", rec.Code)
	}

	rec = doJSON(t, h, "POST", "/api/v1/proposals/999/approve", "", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("missing proposal status = %d, want 404", rec.Code)
	}
}

func TestProposalSnooze(t *testing.T) {
	s := newTestStore(t)
	srv := newTestServer(t, "", Deps{Store: s})

	id, err := s.InsertProposal(&store.Proposal{
		Type: "reply", Title: "Follow up", ExpiresAt: time.Now().Add(time.Hour),
	})
	if err != nil {
		t.Fatal(err)
	}

	rec := doJSON(t, srv.Handler(), "POST", "/api/v1/proposals/1/snooze", `{"hours":4}`, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("snooze status = %d: %s", rec.Code, rec.Body.String())
	}
	p, _ := s.GetProposal(id)
	if p.Status != store.ProposalSnoozed {
		t.Errorf("status = %q", p.Status)
	}
}

func TestBriefingGetAndValidation(t *testing.T) {
	s := newTestStore(t)
	srv := newTestServer(t, "", Deps{Store: s})
	h := srv.Handler()

	if rec := doJSON(t, h, "GET", "/api/v1/briefing", "", nil); rec.Code != http.StatusNotFound {
		t.Errorf("empty store status = %d, want 404", rec.Code)
	}
	if rec := doJSON(t, h, "GET", "/api/v1/briefing?type=hourly", "", nil); rec.Code != http.StatusBadRequest {
		t.Errorf("bad type status = %d, want 400", rec.Code)
	}

	if _, err := s.InsertBriefing(&store.Briefing{
		Date: time.Now().Format("2006-01-02"), Type: store.BriefingMorning, Content: "Quiet day.",
	}); err != nil {
		t.Fatal(err)
	}
	rec := doJSON(t, h, "GET", "/api/v1/briefing?type=morning", "", nil)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "Quiet day.") {
		t.Errorf("briefing = %d %s", rec.Code, rec.Body.String())
	}
}

func TestEventsAndSearch(t *testing.T) {
	s := newTestStore(t)
	srv := newTestServer(t, "", Deps{Store: s})
	h := srv.Handler()

	if _, err := s.InsertEvent(&store.Event{
		TS: time.Now(), Source: "gmail", EventType: "email", Title: "Invoice from vendor",
	}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.InsertEvent(&store.Event{
		TS: time.Now(), Source: "calendar", EventType: "meeting", Title: "Standup",
	}); err != nil {
		t.Fatal(err)
	}

	rec := doJSON(t, h, "GET", "/api/v1/events?source=gmail", "", nil)
	if !strings.Contains(rec.Body.String(), "Invoice") || strings.Contains(rec.Body.String(), "Standup") {
		t.Errorf("filtered events = %s", rec.Body.String())
	}

	rec = doJSON(t, h, "GET", "/api/v1/search?q=invoice", "", nil)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "Invoice") {
		t.Errorf("search = %d %s", rec.Code, rec.Body.String())
	}
	if rec := doJSON(t, h, "GET", "/api/v1/search", "", nil); rec.Code != http.StatusBadRequest {
		t.Errorf("empty query status = %d, want 400", rec.Code)
	}
}

func TestSettingsRoundTrip(t *testing.T) {
	srv := newTestServer(t, "", Deps{})
	h := srv.Handler()

	rec := doJSON(t, h, "PUT", "/api/v1/settings", `{"user.name":"Marco","briefing.hour":"07:00"}`, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("put status = %d: %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, h, "GET", "/api/v1/settings", "", nil)
	body := rec.Body.String()
	if !strings.Contains(body, "user.name") || !strings.Contains(body, "Marco") {
		t.Errorf("settings = %s", body)
	}
}

func TestOnboardingProfile(t *testing.T) {
	s := newTestStore(t)
	srv := newTestServer(t, "", Deps{Store: s})
	h := srv.Handler()

	rec := doJSON(t, h, "POST", "/api/v1/onboarding/profile",
		`{"name":"Marco","role":"founder","vips":["anna@acme.it"]}`, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("profile status = %d: %s", rec.Code, rec.Body.String())
	}
	if got := s.PreferenceString("user.name", ""); got != "Marco" {
		t.Errorf("user.name = %q", got)
	}
	if _, err := s.GetContact("anna@acme.it"); err != nil {
		t.Errorf("vip contact not stored: %v", err)
	}

	rec = doJSON(t, h, "POST", "/api/v1/onboarding/analyze", "", nil)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"profile_configured":true`) {
		t.Errorf("analyze = %d %s", rec.Code, rec.Body.String())
	}
}

func TestSkillRoutesWithoutRuntime(t *testing.T) {
	srv := newTestServer(t, "", Deps{})
	h := srv.Handler()

	if rec := doJSON(t, h, "GET", "/api/v1/skills", "", nil); rec.Code != http.StatusOK {
		t.Errorf("list status = %d", rec.Code)
	}
	if rec := doJSON(t, h, "POST", "/api/v1/skills/foo/enable", "", nil); rec.Code != http.StatusNotFound {
		t.Errorf("enable missing skill status = %d, want 404", rec.Code)
	}
	if rec := doJSON(t, h, "GET", "/api/v1/skills/runtime", "", nil); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("runtime status = %d, want 503", rec.Code)
	}
}

func TestOAuthStatusUnconfigured(t *testing.T) {
	srv := newTestServer(t, "", Deps{})
	rec := doJSON(t, srv.Handler(), "GET", "/api/v1/oauth/status", "", nil)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"configured":false`) {
		t.Errorf("oauth status = %d %s", rec.Code, rec.Body.String())
	}
}

func TestMessageWithoutRouter(t *testing.T) {
	srv := newTestServer(t, "", Deps{})
	rec := doJSON(t, srv.Handler(), "POST", "/api/v1/message", `{"message":"what did Anna say?"}`, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), `"model":"memory"`) {
		t.Errorf("fallback reply = %s", rec.Body.String())
	}
}

// streamServer fakes an OpenAI-compatible streaming endpoint.
func streamServer(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		chunks := []string{
			`{"choices":[{"delta":{"content":"Hello"}}]}`,
			`{"choices":[],"usage":{"prompt_tokens":10,"completion_tokens":2,"total_tokens":12}}`,
		}
		for _, c := range chunks {
			w.Write([]byte("data: " + c + "\n\n"))
		}
		w.Write([]byte("data: [DONE]\n\n"))
	}))
}

func TestChatStreamSSE(t *testing.T) {
	upstream := streamServer(t)
	t.Cleanup(upstream.Close)

	s := newTestStore(t)
	router, err := llm.NewRouterFromConfig(config.LLMConfig{
		Provider:       "deepseek",
		DeepSeekAPIKey: "test-key",
		BaseURL:        upstream.URL + "/v1",
		Model:          "deepseek-chat",
	}, quietLogger())
	if err != nil {
		t.Fatal(err)
	}
	bridge := chat.New(s, router, chat.Options{}, quietLogger())
	srv := newTestServer(t, "", Deps{Store: s, Bridge: bridge})

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	resp, err := http.Post(ts.URL+"/api/v1/chat", "application/json",
		strings.NewReader(`{"message":"hi"}`))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content type = %q", ct)
	}

	var sawToken, sawDone bool
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var frame map[string]any
		if err := json.Unmarshal([]byte(line[len("data: "):]), &frame); err != nil {
			t.Fatalf("bad frame %q: %v", line, err)
		}
		switch frame["type"] {
		case "token":
			sawToken = true
		case "done":
			sawDone = true
			if frame["session_id"] == "" {
				t.Error("done frame missing session_id")
			}
		}
	}
	if !sawToken || !sawDone {
		t.Errorf("sawToken=%v sawDone=%v", sawToken, sawDone)
	}
}

func TestFeedBroadcastAndPing(t *testing.T) {
	bus := events.New()
	srv := newTestServer(t, "", Deps{Bus: bus})
	go srv.feed.run(t.Context())

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/v1/feed"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	if err := conn.WriteMessage(websocket.TextMessage, []byte("ping")); err != nil {
		t.Fatal(err)
	}
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatal(err)
	}
	if string(msg) != "pong" {
		t.Fatalf("reply = %q, want pong", msg)
	}

	// The hub registers the client before the upgrade returns, so the
	// broadcast after the pong round-trip reaches it.
	bus.Publish(events.Event{
		Topic:  events.TopicNotification,
		Source: "proactive",
		Data:   map[string]any{"title": "Meeting soon"},
	})

	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, msg, err = conn.ReadMessage()
	if err != nil {
		t.Fatal(err)
	}
	var frame map[string]any
	if err := json.Unmarshal(msg, &frame); err != nil {
		t.Fatal(err)
	}
	if frame["type"] != events.TopicNotification || frame["title"] != "Meeting soon" {
		t.Errorf("frame = %v", frame)
	}
}
