package llm

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"time"

	"github.com/omnibrain/omnibrain/internal/store"
)

const promptPreviewLimit = 500

// Transparency records every outbound LLM call so the user can audit
// what was sent where and at what cost. The full prompt body is never
// persisted: only a SHA-256 hash and a preview capped at 500 bytes.
type Transparency struct {
	store  *store.Store
	logger *slog.Logger
}

// NewTransparency creates the logger over the store's llm_calls table.
func NewTransparency(s *store.Store, logger *slog.Logger) *Transparency {
	return &Transparency{store: s, logger: logger}
}

// Record persists one call. Failures are logged and swallowed; losing
// an audit row must never fail the call it describes.
func (t *Transparency) Record(c *store.LLMCall) {
	if c.CostEstimate == 0 {
		c.CostEstimate = EstimateCost(c.Provider, c.Model, c.InputTokens, c.OutputTokens, c.CacheReadTokens)
	}
	if _, err := t.store.InsertLLMCall(c); err != nil {
		t.logger.Warn("transparency record failed", "provider", c.Provider, "error", err)
	}
}

// Hook is the totals-only observer installed on the Router: it records
// calls without prompt or response bodies.
func (t *Transparency) Hook() Hook {
	return func(u Usage) {
		t.Record(&store.LLMCall{
			Provider:            u.Provider,
			Model:               u.Model,
			InputTokens:         u.InputTokens,
			OutputTokens:        u.OutputTokens,
			CacheReadTokens:     u.CacheReadTokens,
			CacheCreationTokens: u.CacheCreationTokens,
			Source:              u.Source,
			DurationMS:          u.DurationMS,
			Success:             u.Success,
			ErrorMessage:        u.Error,
		})
	}
}

// Call tracks one in-flight invocation started with Begin. Token
// appends streamed output; Finish writes the record whether the call
// succeeded or failed.
type Call struct {
	t            *Transparency
	start        time.Time
	call         store.LLMCall
	responseSize int
}

// Begin opens a tracked call. The prompt is hashed and previewed here
// and then discarded.
func (t *Transparency) Begin(provider, model, source, prompt string) *Call {
	sum := sha256.Sum256([]byte(prompt))
	preview := prompt
	if len(preview) > promptPreviewLimit {
		preview = preview[:promptPreviewLimit]
	}
	return &Call{
		t:     t,
		start: time.Now(),
		call: store.LLMCall{
			Provider:      provider,
			Model:         model,
			Source:        source,
			PromptHash:    hex.EncodeToString(sum[:]),
			PromptPreview: preview,
			PromptSize:    len(prompt),
		},
	}
}

// Token accounts one streamed chunk.
func (c *Call) Token(s string) { c.responseSize += len(s) }

// Finish completes the record. usage may be nil on early failure.
func (c *Call) Finish(usage *Usage, err error) {
	c.call.DurationMS = time.Since(c.start).Milliseconds()
	c.call.ResponseSize = c.responseSize
	c.call.Success = err == nil
	if err != nil {
		c.call.ErrorMessage = err.Error()
	}
	if usage != nil {
		c.call.InputTokens = usage.InputTokens
		c.call.OutputTokens = usage.OutputTokens
		c.call.CacheReadTokens = usage.CacheReadTokens
		c.call.CacheCreationTokens = usage.CacheCreationTokens
		if usage.Model != "" {
			c.call.Model = usage.Model
		}
	}
	c.t.Record(&c.call)
}

// Calls returns transparency rows with pagination.
func (t *Transparency) Calls(f store.LLMCallFilter) ([]*store.LLMCall, error) {
	return t.store.ListLLMCalls(f)
}

// Stats aggregates calls over the last days by provider and source,
// with today and month-to-date totals.
func (t *Transparency) Stats(days int) (*store.LLMCallStats, error) {
	return t.store.QueryLLMCallStats(days)
}

// DailyCosts returns per-day cost totals for charting.
func (t *Transparency) DailyCosts(days int) ([]*store.DailyCost, error) {
	return t.store.QueryDailyCosts(days)
}

// Prune drops records older than days.
func (t *Transparency) Prune(days int) (int, error) {
	return t.store.PruneLLMCalls(days)
}
