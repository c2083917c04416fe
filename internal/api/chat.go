package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/omnibrain/omnibrain/internal/agent"
	"github.com/omnibrain/omnibrain/internal/llm"
	"github.com/omnibrain/omnibrain/internal/memory"
)

type messageRequest struct {
	Message   string `json:"message"`
	SessionID string `json:"session_id,omitempty"`
}

// handleMessage answers a single message without streaming. With no
// router configured the reply degrades to a memory search.
func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	var req messageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		s.errorResponse(w, http.StatusBadRequest, "message is required")
		return
	}

	if s.deps.Router == nil {
		s.writeJSON(w, map[string]any{
			"response": s.memoryFallback(r, req.Message),
			"model":    "memory",
		})
		return
	}

	resp, err := s.deps.Router.Chat(r.Context(), llm.Request{
		Messages: []llm.Message{{Role: "user", Content: req.Message}},
		Source:   "message",
	})
	if err != nil {
		s.logger.Error("message completion failed", "error", err)
		s.errorResponse(w, http.StatusBadGateway, "llm error: "+err.Error())
		return
	}
	s.writeJSON(w, map[string]any{
		"response": agent.StripReasoning(resp.Content),
		"model":    resp.Usage.Model,
		"usage":    resp.Usage,
	})
}

// memoryFallback answers from stored documents when no LLM provider
// is configured.
func (s *Server) memoryFallback(r *http.Request, query string) string {
	if s.deps.Memory == nil {
		return "No language model is configured and memory is unavailable."
	}
	docs, err := s.deps.Memory.Search(r.Context(), query, memory.SearchOptions{MaxResults: 3})
	if err != nil || len(docs) == 0 {
		return "No language model is configured and nothing in memory matches."
	}
	var b strings.Builder
	b.WriteString("No language model is configured; closest matches from memory:\n")
	for _, d := range docs {
		text := d.Text
		if len(text) > 200 {
			text = text[:200] + "…"
		}
		fmt.Fprintf(&b, "- [%s] %s\n", d.Source, text)
	}
	return b.String()
}

// handleChatStream runs one chat turn over SSE. Each frame is one
// `data: <json>` line; the terminal frame is {type:"done",session_id}.
func (s *Server) handleChatStream(w http.ResponseWriter, r *http.Request) {
	if s.deps.Bridge == nil {
		s.errorResponse(w, http.StatusServiceUnavailable, "chat not configured")
		return
	}
	var req messageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		s.errorResponse(w, http.StatusBadRequest, "message is required")
		return
	}
	if req.SessionID == "" {
		req.SessionID = uuid.New().String()
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		s.errorResponse(w, http.StatusInternalServerError, "streaming not supported")
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Accel-Buffering", "no")

	for frame := range s.deps.Bridge.Stream(r.Context(), req.SessionID, req.Message) {
		data, err := json.Marshal(frame)
		if err != nil {
			s.logger.Debug("frame marshal failed", "error", err)
			continue
		}
		if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
			return // client gone; the bridge drains on ctx cancel
		}
		flusher.Flush()
	}
}

func (s *Server) handleChatSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := s.deps.Store.ListChatSessions()
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, map[string]any{"sessions": sessions, "count": len(sessions)})
}

func (s *Server) handleChatSessionDelete(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.deps.Store.DeleteChatSession(id); err != nil {
		s.errorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleChatHistory(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("session_id")
	if sessionID == "" {
		s.errorResponse(w, http.StatusBadRequest, "session_id is required")
		return
	}
	messages, err := s.deps.Store.GetChatMessages(sessionID, parseIntParam(r, "limit", 100))
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}
	type wireMessage struct {
		Role      string    `json:"role"`
		Content   string    `json:"content"`
		Timestamp time.Time `json:"ts"`
	}
	out := make([]wireMessage, 0, len(messages))
	for _, m := range messages {
		out = append(out, wireMessage{Role: m.Role, Content: m.Content, Timestamp: m.TS})
	}
	s.writeJSON(w, map[string]any{"session_id": sessionID, "messages": out})
}
