package store

import (
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// LLMCall is one row of the transparency log: a single outbound LLM
// invocation with its token counts, cost, and timing. The full prompt
// body is never stored, only a SHA-256 hash and a preview capped at
// 500 bytes.
type LLMCall struct {
	ID                  int64     `json:"id"`
	TS                  time.Time `json:"ts"`
	Provider            string    `json:"provider"`
	Model               string    `json:"model"`
	PromptHash          string    `json:"prompt_hash,omitempty"`
	PromptPreview       string    `json:"prompt_preview,omitempty"`
	PromptSize          int       `json:"prompt_size"`
	ResponseSize        int       `json:"response_size"`
	InputTokens         int       `json:"input_tokens"`
	OutputTokens        int       `json:"output_tokens"`
	CacheReadTokens     int       `json:"cache_read_tokens"`
	CacheCreationTokens int       `json:"cache_creation_tokens"`
	CostEstimate        float64   `json:"cost_estimate"`
	Source              string    `json:"source,omitempty"`
	DurationMS          int64     `json:"duration_ms"`
	Success             bool      `json:"success"`
	ErrorMessage        string    `json:"error_message,omitempty"`
}

// LLMCallFilter narrows ListLLMCalls.
type LLMCallFilter struct {
	Provider string
	Model    string
	Source   string
	Since    time.Time
	Limit    int
	Offset   int
}

// InsertLLMCall appends a transparency record.
func (s *Store) InsertLLMCall(c *LLMCall) (int64, error) {
	if c.Provider == "" || c.Model == "" {
		return 0, fmt.Errorf("llm call requires provider and model")
	}
	if c.TS.IsZero() {
		c.TS = time.Now().UTC()
	}

	res, err := s.db.Exec(`
		INSERT INTO llm_calls (ts, provider, model, prompt_hash, prompt_preview, prompt_size, response_size,
			input_tokens, output_tokens, cache_read_tokens, cache_creation_tokens,
			cost_estimate, source, duration_ms, success, error_message)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, c.TS.UTC().Format(time.RFC3339), c.Provider, c.Model, nullStr(c.PromptHash),
		nullStr(c.PromptPreview), c.PromptSize, c.ResponseSize,
		c.InputTokens, c.OutputTokens, c.CacheReadTokens, c.CacheCreationTokens,
		c.CostEstimate, nullStr(c.Source), c.DurationMS, c.Success, nullStr(c.ErrorMessage))
	if err != nil {
		return 0, fmt.Errorf("insert llm call: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	c.ID = id
	return id, nil
}

// ListLLMCalls returns transparency rows newest first, with pagination.
func (s *Store) ListLLMCalls(f LLMCallFilter) ([]*LLMCall, error) {
	var where []string
	var args []any

	if f.Provider != "" {
		where = append(where, "provider = ?")
		args = append(args, f.Provider)
	}
	if f.Model != "" {
		where = append(where, "model = ?")
		args = append(args, f.Model)
	}
	if f.Source != "" {
		where = append(where, "source = ?")
		args = append(args, f.Source)
	}
	if !f.Since.IsZero() {
		where = append(where, "ts >= ?")
		args = append(args, f.Since.UTC().Format(time.RFC3339))
	}

	query := `SELECT id, ts, provider, model, prompt_hash, prompt_preview, prompt_size, response_size,
		input_tokens, output_tokens, cache_read_tokens, cache_creation_tokens,
		cost_estimate, source, duration_ms, success, error_message FROM llm_calls`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY ts DESC, id DESC LIMIT ? OFFSET ?`

	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	args = append(args, limit, f.Offset)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query llm calls: %w", err)
	}
	defer rows.Close()

	var calls []*LLMCall
	for rows.Next() {
		var c LLMCall
		var ts string
		var promptHash, promptPreview, source, errorMessage sql.NullString
		var success int
		if err := rows.Scan(&c.ID, &ts, &c.Provider, &c.Model, &promptHash, &promptPreview,
			&c.PromptSize, &c.ResponseSize, &c.InputTokens, &c.OutputTokens,
			&c.CacheReadTokens, &c.CacheCreationTokens, &c.CostEstimate,
			&source, &c.DurationMS, &success, &errorMessage); err != nil {
			return nil, err
		}
		c.TS = parseStoredTime(ts)
		c.PromptHash = promptHash.String
		c.PromptPreview = promptPreview.String
		c.Source = source.String
		c.Success = success != 0
		c.ErrorMessage = errorMessage.String
		calls = append(calls, &c)
	}
	return calls, rows.Err()
}

// LLMCallAggregate is one grouped row of LLMCallStats.
type LLMCallAggregate struct {
	Key          string  `json:"key"`
	Calls        int     `json:"calls"`
	InputTokens  int64   `json:"input_tokens"`
	OutputTokens int64   `json:"output_tokens"`
	CostEstimate float64 `json:"cost_estimate"`
}

// LLMCallStats holds transparency aggregates for the stats endpoints.
type LLMCallStats struct {
	TotalCalls   int                 `json:"total_calls"`
	TotalCost    float64             `json:"total_cost"`
	TodayCalls   int                 `json:"today_calls"`
	TodayCost    float64             `json:"today_cost"`
	MonthCalls   int                 `json:"month_calls"`
	MonthCost    float64             `json:"month_cost"`
	ByProvider   []*LLMCallAggregate `json:"by_provider"`
	BySource     []*LLMCallAggregate `json:"by_source"`
	FailureCount int                 `json:"failure_count"`
}

// QueryLLMCallStats aggregates the last days of transparency rows plus
// today and month-to-date totals.
func (s *Store) QueryLLMCallStats(days int) (*LLMCallStats, error) {
	if days <= 0 {
		days = 30
	}
	cutoff := time.Now().UTC().AddDate(0, 0, -days).Format(time.RFC3339)

	stats := &LLMCallStats{}
	err := s.db.QueryRow(`
		SELECT COUNT(*), COALESCE(SUM(cost_estimate), 0),
			COALESCE(SUM(CASE WHEN success = 0 THEN 1 ELSE 0 END), 0)
		FROM llm_calls WHERE ts >= ?
	`, cutoff).Scan(&stats.TotalCalls, &stats.TotalCost, &stats.FailureCount)
	if err != nil {
		return nil, fmt.Errorf("query llm call totals: %w", err)
	}

	now := time.Now()
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location()).UTC().Format(time.RFC3339)
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location()).UTC().Format(time.RFC3339)

	if err := s.db.QueryRow(`
		SELECT COUNT(*), COALESCE(SUM(cost_estimate), 0) FROM llm_calls WHERE ts >= ?
	`, dayStart).Scan(&stats.TodayCalls, &stats.TodayCost); err != nil {
		return nil, err
	}
	if err := s.db.QueryRow(`
		SELECT COUNT(*), COALESCE(SUM(cost_estimate), 0) FROM llm_calls WHERE ts >= ?
	`, monthStart).Scan(&stats.MonthCalls, &stats.MonthCost); err != nil {
		return nil, err
	}

	stats.ByProvider, err = s.llmCallsGroupedBy("provider", cutoff)
	if err != nil {
		return nil, err
	}
	stats.BySource, err = s.llmCallsGroupedBy("source", cutoff)
	if err != nil {
		return nil, err
	}
	return stats, nil
}

func (s *Store) llmCallsGroupedBy(column, cutoff string) ([]*LLMCallAggregate, error) {
	// column is a compile-time constant from our own methods, never
	// user input.
	query := fmt.Sprintf(`
		SELECT COALESCE(%s, ''), COUNT(*), COALESCE(SUM(input_tokens), 0),
			COALESCE(SUM(output_tokens), 0), COALESCE(SUM(cost_estimate), 0)
		FROM llm_calls WHERE ts >= ?
		GROUP BY %s ORDER BY SUM(cost_estimate) DESC
	`, column, column)

	rows, err := s.db.Query(query, cutoff)
	if err != nil {
		return nil, fmt.Errorf("query llm calls by %s: %w", column, err)
	}
	defer rows.Close()

	var aggs []*LLMCallAggregate
	for rows.Next() {
		var a LLMCallAggregate
		if err := rows.Scan(&a.Key, &a.Calls, &a.InputTokens, &a.OutputTokens, &a.CostEstimate); err != nil {
			return nil, err
		}
		aggs = append(aggs, &a)
	}
	return aggs, rows.Err()
}

// DailyCost is one day of spend for charting.
type DailyCost struct {
	Date  string  `json:"date"` // YYYY-MM-DD
	Calls int     `json:"calls"`
	Cost  float64 `json:"cost"`
}

// QueryDailyCosts returns per-day call counts and cost for the last
// days, oldest first.
func (s *Store) QueryDailyCosts(days int) ([]*DailyCost, error) {
	if days <= 0 {
		days = 30
	}
	cutoff := time.Now().UTC().AddDate(0, 0, -days).Format(time.RFC3339)

	rows, err := s.db.Query(`
		SELECT substr(ts, 1, 10) AS day, COUNT(*), COALESCE(SUM(cost_estimate), 0)
		FROM llm_calls WHERE ts >= ?
		GROUP BY day ORDER BY day
	`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("query daily costs: %w", err)
	}
	defer rows.Close()

	var costs []*DailyCost
	for rows.Next() {
		var d DailyCost
		if err := rows.Scan(&d.Date, &d.Calls, &d.Cost); err != nil {
			return nil, err
		}
		costs = append(costs, &d)
	}
	return costs, rows.Err()
}

// PruneLLMCalls deletes transparency rows older than days. Returns how
// many rows were removed.
func (s *Store) PruneLLMCalls(days int) (int, error) {
	if days <= 0 {
		return 0, nil
	}
	cutoff := time.Now().UTC().AddDate(0, 0, -days).Format(time.RFC3339)
	res, err := s.db.Exec(`DELETE FROM llm_calls WHERE ts < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune llm calls: %w", err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}
