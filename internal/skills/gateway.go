package skills

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/omnibrain/omnibrain/internal/events"
	"github.com/omnibrain/omnibrain/internal/llm"
	"github.com/omnibrain/omnibrain/internal/memory"
	"github.com/omnibrain/omnibrain/internal/store"
)

// JSON-RPC error codes returned to the child.
const (
	codeRateLimited   = -32000
	codeNoPermission  = -32001
	codeMethodUnknown = -32601
	codeInternal      = -32603
)

const defaultRateCap = 100

// methodPermissions maps each gateway method to the single permission
// it requires. log is absent on purpose: it needs none.
var methodPermissions = map[string]string{
	"memory_search":    "read_memory",
	"memory_store":     "write_memory",
	"notify":           "notify",
	"propose_action":   "propose_actions",
	"llm_complete":     "llm_access",
	"get_events":       "read_events",
	"get_contacts":     "read_contacts",
	"get_preference":   "read_preferences",
	"emit_event":       "emit_events",
	"integration_call": "", // resolved per integration name
}

// integrationPermissions guards integration_call by target.
var integrationPermissions = map[string]string{
	"gmail":    "google_gmail",
	"calendar": "read_calendar",
}

// Integration is a lazily built external client exposed to skills.
type Integration interface {
	Call(ctx context.Context, method string, params map[string]any) (any, error)
}

// IntegrationBuilder authenticates and returns a client. An error
// means auth failure; the skill sees a null result.
type IntegrationBuilder func(ctx context.Context) (Integration, error)

// GatewayDeps are the daemon-side resources skills may reach. Any
// slot may be nil; its methods then return an internal error.
type GatewayDeps struct {
	Store        *store.Store
	Memory       *memory.Memory
	Router       *llm.Router
	Bus          *events.Bus
	Notify       func(level, title, message string)
	Integrations map[string]IntegrationBuilder
	// RateCap overrides the per-invocation call limit. Zero or
	// negative keeps the default.
	RateCap int
}

// Gateway handles the RPC requests of one sandbox invocation. Not
// safe for concurrent use; each invocation gets its own.
type Gateway struct {
	deps    GatewayDeps
	skill   string
	perms   map[string]bool
	logger  *slog.Logger
	rateCap int
	calls   int

	// integrations built during this invocation, nil for auth failure.
	built map[string]Integration
}

// NewGateway creates the per-invocation gateway for a skill.
func NewGateway(deps GatewayDeps, m *Manifest, logger *slog.Logger) *Gateway {
	perms := make(map[string]bool, len(m.Permissions))
	for _, p := range m.Permissions {
		perms[p] = true
	}
	rateCap := deps.RateCap
	if rateCap <= 0 {
		rateCap = defaultRateCap
	}
	return &Gateway{
		deps:    deps,
		skill:   m.Name,
		perms:   perms,
		logger:  logger,
		rateCap: rateCap,
		built:   make(map[string]Integration),
	}
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Handle dispatches one request and returns (result, rpcError).
func (g *Gateway) Handle(ctx context.Context, method string, params map[string]any) (any, *rpcError) {
	g.calls++
	if g.calls > g.rateCap {
		return nil, &rpcError{codeRateLimited, fmt.Sprintf("rate cap of %d calls exceeded", g.rateCap)}
	}

	if method == "log" {
		g.logger.Info("skill log", "skill", g.skill, "message", str(params, "message"))
		return true, nil
	}

	required, known := methodPermissions[method]
	if !known {
		return nil, &rpcError{codeMethodUnknown, fmt.Sprintf("unknown method %q", method)}
	}
	if method == "integration_call" {
		required = integrationPermissions[str(params, "name")]
		if required == "" {
			return nil, &rpcError{codeMethodUnknown, fmt.Sprintf("unknown integration %q", str(params, "name"))}
		}
	}
	if !g.perms[required] {
		g.logger.Info("skill call denied",
			"skill", g.skill, "method", method, "missing", required)
		return nil, &rpcError{codeNoPermission, fmt.Sprintf("method %q requires permission %q", method, required)}
	}

	result, err := g.dispatch(ctx, method, params)
	if err != nil {
		return nil, &rpcError{codeInternal, err.Error()}
	}
	return result, nil
}

func (g *Gateway) dispatch(ctx context.Context, method string, params map[string]any) (any, error) {
	switch method {
	case "memory_search":
		if g.deps.Memory == nil {
			return nil, fmt.Errorf("memory unavailable")
		}
		docs, err := g.deps.Memory.Search(ctx, str(params, "query"), memory.SearchOptions{
			MaxResults: intOr(params, "max_results", 5),
		})
		if err != nil {
			return nil, err
		}
		return docs, nil

	case "memory_store":
		if g.deps.Memory == nil {
			return nil, fmt.Errorf("memory unavailable")
		}
		id, err := g.deps.Memory.Store(ctx, memory.Input{
			Text:       str(params, "text"),
			Source:     memory.SourceNote,
			SourceType: "skill:" + g.skill,
		})
		if err != nil {
			return nil, err
		}
		return map[string]any{"id": id}, nil

	case "notify":
		if g.deps.Notify == nil {
			return nil, fmt.Errorf("notifications unavailable")
		}
		level := str(params, "level")
		if level == "" {
			level = "fyi"
		}
		g.deps.Notify(level, str(params, "title"), str(params, "message"))
		return true, nil

	case "propose_action":
		if g.deps.Store == nil {
			return nil, fmt.Errorf("store unavailable")
		}
		actionData, _ := params["action_data"].(map[string]any)
		id, err := g.deps.Store.InsertProposal(&store.Proposal{
			Type:        str(params, "type"),
			Title:       str(params, "title"),
			Description: str(params, "description"),
			ActionData:  actionData,
			Priority:    intOr(params, "priority", 0),
		})
		if err != nil {
			return nil, err
		}
		return map[string]any{"id": id}, nil

	case "llm_complete":
		if g.deps.Router == nil {
			return nil, fmt.Errorf("llm unavailable")
		}
		resp, err := g.deps.Router.Chat(ctx, llm.Request{
			System:   str(params, "system"),
			Messages: []llm.Message{{Role: "user", Content: str(params, "prompt")}},
			Source:   "skill:" + g.skill,
		})
		if err != nil {
			return nil, err
		}
		return map[string]any{"content": resp.Content}, nil

	case "get_events":
		if g.deps.Store == nil {
			return nil, fmt.Errorf("store unavailable")
		}
		return g.deps.Store.QueryEvents(store.EventFilter{
			Source: str(params, "source"),
			Limit:  intOr(params, "limit", 20),
		})

	case "get_contacts":
		if g.deps.Store == nil {
			return nil, fmt.Errorf("store unavailable")
		}
		return g.deps.Store.ListContacts(intOr(params, "limit", 20))

	case "get_preference":
		if g.deps.Store == nil {
			return nil, fmt.Errorf("store unavailable")
		}
		raw, ok := g.deps.Store.GetPreference(str(params, "key"))
		if !ok {
			return nil, nil
		}
		var v any
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, err
		}
		return v, nil

	case "emit_event":
		g.deps.Bus.Publish(events.Event{
			Topic:  str(params, "topic"),
			Source: "skill:" + g.skill,
			Data:   params,
		})
		return true, nil

	case "integration_call":
		return g.integrationCall(ctx, params)
	}
	return nil, fmt.Errorf("unhandled method %q", method)
}

// integrationCall builds the named integration once per invocation
// and routes the call. Auth failure yields a null result, not an
// error, so skills can degrade.
func (g *Gateway) integrationCall(ctx context.Context, params map[string]any) (any, error) {
	name := str(params, "name")
	client, cached := g.built[name]
	if !cached {
		builder := g.deps.Integrations[name]
		if builder == nil {
			return nil, fmt.Errorf("integration %q not configured", name)
		}
		var err error
		client, err = builder(ctx)
		if err != nil {
			g.logger.Warn("integration auth failed", "skill", g.skill, "integration", name, "error", err)
			client = nil
		}
		g.built[name] = client
	}
	if client == nil {
		return nil, nil
	}
	// "ping" is the availability check the runner sends from
	// get_integration. It is answered here, after the lazy build, so
	// integrations only ever see their real methods.
	if str(params, "method") == "ping" {
		return true, nil
	}
	callParams, _ := params["params"].(map[string]any)
	return client.Call(ctx, str(params, "method"), callParams)
}

func str(params map[string]any, key string) string {
	s, _ := params[key].(string)
	return s
}

func intOr(params map[string]any, key string, def int) int {
	switch v := params[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	}
	return def
}
