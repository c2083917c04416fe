// Omnibrain is a personal AI daemon.
//
// It collects email, calendar, and GitHub activity into a local SQLite
// store, runs a proactive background engine that surfaces briefings and
// action proposals, and exposes a REST API, a web dashboard, and an
// optional Telegram bot. Configuration is loaded from a single YAML
// file discovered automatically (see [config.DefaultSearchPaths]).
//
// Usage:
//
//	omnibrain serve          Start the daemon
//	omnibrain init [dir]     Initialize a working directory with defaults
//	omnibrain version        Print version and build information
//	omnibrain -o json version    Output version information as JSON
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/omnibrain/omnibrain/internal/agent"
	"github.com/omnibrain/omnibrain/internal/api"
	"github.com/omnibrain/omnibrain/internal/briefing"
	"github.com/omnibrain/omnibrain/internal/buildinfo"
	"github.com/omnibrain/omnibrain/internal/calendar"
	"github.com/omnibrain/omnibrain/internal/chat"
	"github.com/omnibrain/omnibrain/internal/config"
	"github.com/omnibrain/omnibrain/internal/email"
	"github.com/omnibrain/omnibrain/internal/events"
	"github.com/omnibrain/omnibrain/internal/extract"
	"github.com/omnibrain/omnibrain/internal/github"
	"github.com/omnibrain/omnibrain/internal/knowledge"
	"github.com/omnibrain/omnibrain/internal/llm"
	"github.com/omnibrain/omnibrain/internal/memory"
	"github.com/omnibrain/omnibrain/internal/mqtt"
	"github.com/omnibrain/omnibrain/internal/oauth"
	"github.com/omnibrain/omnibrain/internal/paths"
	"github.com/omnibrain/omnibrain/internal/patterns"
	"github.com/omnibrain/omnibrain/internal/proactive"
	"github.com/omnibrain/omnibrain/internal/scoring"
	"github.com/omnibrain/omnibrain/internal/secure"
	"github.com/omnibrain/omnibrain/internal/skills"
	"github.com/omnibrain/omnibrain/internal/store"
	"github.com/omnibrain/omnibrain/internal/telegram"
	"github.com/omnibrain/omnibrain/internal/tracker"
	"github.com/omnibrain/omnibrain/internal/web"
)

const heartbeatInterval = 30 * time.Second

// main is intentionally minimal. It constructs the OS-level environment
// (context, stdio, argv) and delegates immediately to [run]. This keeps
// os.Exit, os.Stdout, and os.Args out of the application logic so that
// the full startup-to-shutdown lifecycle can be driven from tests.
func main() {
	ctx := context.Background()

	if err := run(ctx, os.Stdout, os.Stderr, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

// run is the real entry point for the omnibrain command. All OS-level
// dependencies are injected as parameters:
//
//   - ctx controls the lifetime of the process. Cancelling it triggers
//     graceful shutdown of all servers and background goroutines.
//   - stdout and stderr receive all program output. Structured logs go
//     to stdout; fatal error messages go to stderr.
//   - args is os.Args[1:]. We parse these manually rather than using
//     the flag package to avoid global state that interferes with
//     parallel tests.
//
// run returns nil on clean shutdown and a non-nil error for any failure.
// The caller (main) is responsible for printing the error and exiting.
func run(ctx context.Context, stdout io.Writer, stderr io.Writer, args []string) error {
	// Parse arguments by hand. The flag package relies on package-level
	// globals (flag.CommandLine), which makes it impossible to call run()
	// concurrently from tests. Our argument surface is small enough that
	// manual parsing is clearer than bringing in a CLI framework.
	var configPath string
	var outputFmt string // "text" (default) or "json"
	var command string
	var cmdArgs []string

	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "-config" && i+1 < len(args):
			configPath = args[i+1]
			i++ // skip the value
		case strings.HasPrefix(args[i], "-config="):
			configPath = strings.TrimPrefix(args[i], "-config=")
		case (args[i] == "-o" || args[i] == "--output") && i+1 < len(args):
			outputFmt = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-o="):
			outputFmt = strings.TrimPrefix(args[i], "-o=")
		case strings.HasPrefix(args[i], "--output="):
			outputFmt = strings.TrimPrefix(args[i], "--output=")
		case args[i] == "-h" || args[i] == "-help" || args[i] == "--help":
			return printUsage(stdout)
		case !strings.HasPrefix(args[i], "-") && command == "":
			command = args[i]
		default:
			if command != "" {
				cmdArgs = append(cmdArgs, args[i])
			} else {
				return fmt.Errorf("unknown flag: %s", args[i])
			}
		}
	}

	if outputFmt == "" {
		outputFmt = "text"
	}
	if outputFmt != "text" && outputFmt != "json" {
		return fmt.Errorf("unknown output format: %q (expected text or json)", outputFmt)
	}

	switch command {
	case "serve":
		return runServe(ctx, stdout, stderr, configPath)
	case "init":
		dir := "."
		if len(cmdArgs) > 0 {
			dir = cmdArgs[0]
		}
		return runInit(stdout, dir)
	case "version":
		return runVersion(stdout, outputFmt)
	case "":
		return printUsage(stdout)
	default:
		return fmt.Errorf("unknown command: %s", command)
	}
}

// runVersion prints build metadata in the requested output format.
func runVersion(w io.Writer, outputFmt string) error {
	info := buildinfo.Info()
	if outputFmt == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(info)
	}
	fmt.Fprintln(w, buildinfo.String())
	// Print fields in a stable order for human readability.
	for _, k := range []string{"version", "git_commit", "git_branch", "build_time", "go_version", "os", "arch"} {
		if v, ok := info[k]; ok {
			fmt.Fprintf(w, "  %-12s %s\n", k+":", v)
		}
	}
	return nil
}

// printUsage writes the top-level help text to w. It is called when
// omnibrain is invoked with no arguments, or with -h / --help.
func printUsage(w io.Writer) error {
	fmt.Fprintln(w, "Omnibrain - Personal AI Daemon")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage: omnibrain [flags] <command> [args]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  serve        Start the daemon")
	fmt.Fprintln(w, "  init [dir]   Initialize working directory with defaults (default: .)")
	fmt.Fprintln(w, "  version      Show version information")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Flags:")
	fmt.Fprintln(w, "  -config <path>    Path to config file (default: auto-discover)")
	fmt.Fprintln(w, "  -o, --output fmt  Output format: text (default) or json")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Config search order:")
	fmt.Fprintln(w, "  ./config.yaml, ~/.config/omnibrain/config.yaml, /etc/omnibrain/config.yaml")
	return nil
}

// runServe handles the "omnibrain serve" subcommand. It is the primary
// operating mode: loads config, opens the store and memory databases,
// builds the collectors, proactive engine, skill runtime, and chat
// bridge, starts the API server (which also serves the dashboard), and
// blocks until a shutdown signal arrives.
//
// Every subsystem except the store is optional: a failed or
// unconfigured slot is logged and left nil, and the routes or tasks
// that need it degrade. Only a broken store aborts startup.
//
// The shutdown sequence is:
//  1. SIGINT or SIGTERM cancels the context
//  2. The proactive engine and skill runtime stop accepting work
//  3. The HTTP server drains in-flight requests
//  4. Database connections are closed via defers
func runServe(ctx context.Context, stdout io.Writer, stderr io.Writer, configPath string) error {
	logger := newLogger(stdout, slog.LevelInfo)
	logger.Info("starting Omnibrain", "version", buildinfo.Version, "commit", buildinfo.GitCommit, "built", buildinfo.BuildTime)

	// A .env next to the binary feeds the ${VAR} expansion in the
	// config file and the environment overrides.
	if err := config.LoadDotenv(); err != nil {
		logger.Warn("dotenv load failed", "error", err)
	}

	cfg, cfgPath, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	// --- Data directory layout ---
	// All persistent state (store, memory index, vector store, skills,
	// vault, logs) resolves through a single Layout.
	layout := paths.NewLayout(cfg.DataDir, cfg.LogDir)
	if err := layout.Ensure(); err != nil {
		return err
	}

	// Reconfigure logging now that the log directory exists: the
	// configured level, mirrored to a rotated file so the daemon can
	// run detached. The initial Info-level stdout logger covered only
	// the startup banner.
	{
		level := slog.LevelInfo
		if cfg.LogLevel != "" {
			if parsed, err := config.ParseLogLevel(cfg.LogLevel); err == nil {
				level = parsed
			} else {
				logger.Warn("invalid log level, using info", "log_level", cfg.LogLevel)
			}
		}
		rotated := &lumberjack.Logger{
			Filename:   layout.LogFile(),
			MaxSize:    10, // megabytes
			MaxBackups: 5,
		}
		logger = newLogger(io.MultiWriter(stdout, rotated), level)
	}

	logger.Info("config loaded",
		"path", cfgPath,
		"data_dir", cfg.DataDir,
		"api", fmt.Sprintf("%s:%d", cfg.APIHost, cfg.APIPort),
	)

	// --- Store ---
	// The single SQLite file holding events, contacts, proposals,
	// briefings, chat history, skills, and the LLM call log. The only
	// subsystem whose failure aborts startup.
	st, err := store.New(layout.StoreDB(), logger)
	if err != nil {
		return fmt.Errorf("open store %s: %w", layout.StoreDB(), err)
	}
	defer st.Close()
	logger.Info("store opened", "path", layout.StoreDB())

	// --- Event bus ---
	// In-process pub/sub connecting collectors, the proactive engine,
	// Telegram, MQTT, and the dashboard feed.
	bus := events.New()

	// --- Memory ---
	// Keyword FTS index, plus an optional embedded vector store when
	// embeddings are configured. Memory search degrades to
	// keyword-only without embeddings, and to events-only without the
	// keyword index.
	var mem *memory.Memory
	if kw, err := memory.NewKeywordStore(layout.MemoryDB(), logger); err != nil {
		logger.Warn("keyword memory unavailable", "error", err)
	} else {
		var vec *memory.VectorStore
		if cfg.Embeddings.Enabled {
			embed, err := llm.NewEmbeddingFunc(cfg.Embeddings)
			if err != nil {
				logger.Warn("embeddings unavailable", "error", err)
			} else if vec, err = memory.NewVectorStore(layout.VectorDir(), embed, logger); err != nil {
				logger.Warn("vector store unavailable", "error", err)
				vec = nil
			}
		}
		mem = memory.New(kw, vec, logger)
		defer mem.Close()
	}

	// --- LLM router ---
	// Chat completions with provider failover. Without any API key the
	// router is nil: chat streaming and briefing generation answer 503,
	// /message falls back to memory search.
	router, err := llm.NewRouterFromConfig(cfg.LLM, logger)
	if err != nil {
		logger.Warn("llm unavailable", "error", err)
		router = nil
	}

	// --- LLM transparency ---
	// Every call the router makes is recorded with tokens and cost.
	transparency := llm.NewTransparency(st, logger)
	if router != nil {
		router.SetHook(transparency.Hook())
	}

	// --- Analysis and learning ---
	detector := patterns.NewDetector(st, logger)
	generator := briefing.NewGenerator(st, router, logger)
	review := briefing.NewReviewEngine(st, detector, logger)
	graph := knowledge.New(st, mem, logger)
	extractor := extract.New(st, router, logger)
	trk := tracker.New(st, logger)
	gate := agent.NewApprovalGate(0)

	// --- Secret vault and Google OAuth ---
	// The vault holds OAuth tokens encrypted at rest. Without an
	// encryption key the Google integration stays disconnected.
	var oauthMgr *oauth.Manager
	if cfg.EncryptionKey != "" {
		vault, err := secure.New(layout.Vault(), cfg.EncryptionKey, logger)
		if err != nil {
			logger.Warn("vault unavailable", "error", err)
		} else {
			if err := vault.MigratePlaintext(layout.GoogleToken(), "google_token"); err != nil {
				logger.Warn("google token migration failed", "error", err)
			}
			oauthMgr = oauth.NewManager(oauth.Config{
				ClientID:     cfg.OAuth.GoogleClientID,
				ClientSecret: cfg.OAuth.GoogleClientSecret,
				RedirectURL:  cfg.OAuth.RedirectURL,
			}, vault, bus, logger)
		}
	} else {
		logger.Info("no encryption key configured, vault disabled")
	}

	// --- Collectors ---
	var emailCol *email.Collector
	var emailClient *email.Client
	if cfg.IMAP.Host != "" {
		emailClient = email.NewClient(email.Config{
			Host:     cfg.IMAP.Host,
			Port:     cfg.IMAP.Port,
			Username: cfg.IMAP.Username,
			Password: cfg.IMAP.Password,
			TLS:      true,
			Folder:   cfg.IMAP.Mailbox,
		}, logger)
		defer emailClient.Close()
		emailCol = email.NewCollector(emailClient, st, mem, bus, logger)
		logger.Info("email collector configured", "host", cfg.IMAP.Host, "folder", cfg.IMAP.Mailbox)
	}

	var calCol *calendar.Collector
	var calClient *calendar.Client
	if cfg.CalDAV.URL != "" {
		calClient, err = calendar.NewClient(calendar.Config{
			Endpoint:   cfg.CalDAV.URL,
			Username:   cfg.CalDAV.Username,
			Password:   cfg.CalDAV.Password,
			WindowDays: cfg.CalDAV.WindowDays,
		}, logger)
		if err != nil {
			logger.Warn("calendar unavailable", "error", err)
		} else {
			calCol = calendar.NewCollector(calClient, st, mem, bus, logger)
			logger.Info("calendar collector configured", "endpoint", cfg.CalDAV.URL)
		}
	}

	var ghCol *github.Collector
	if cfg.GitHub.Token != "" {
		ghCol = github.NewCollector(github.NewClient(cfg.GitHub.Token), st, logger)
		logger.Info("github collector configured")
	}

	// --- Notification selector ---
	// Scores every outgoing notification and applies quiet hours and
	// the critical-per-hour cap.
	var quiet *scoring.QuietHours
	if cfg.QuietHours.Enabled {
		quiet = &scoring.QuietHours{Start: cfg.QuietHours.Start, End: cfg.QuietHours.End}
	}
	selector := scoring.NewSelector(nil, quiet, cfg.MaxCriticalPerHour)

	// --- Proactive engine ---
	// Background tasks: source polling, briefings, pattern detection,
	// proposal expiry, plus the retention sweep registered below.
	engine := proactive.New(selector, bus, nil, logger)

	// Assign through interface variables so an absent collector stays
	// an untyped nil and its task is skipped.
	var emailSrc, calSrc proactive.Collector
	if emailCol != nil {
		emailSrc = emailCol
	}
	if calCol != nil {
		calSrc = calCol
	}
	engine.RegisterDefaults(proactive.Deps{
		Store:         st,
		Email:         emailSrc,
		Calendar:      calSrc,
		Detector:      detector,
		Briefings:     generator,
		CheckInterval: time.Duration(cfg.CheckIntervalMinutes) * time.Minute,
		MorningTime:   cfg.BriefingTime,
		EveningTime:   cfg.EveningTime,
	})
	if ghCol != nil {
		engine.Register(&proactive.Task{
			Name:    "check_github",
			Trigger: proactive.Every(time.Duration(cfg.CheckIntervalMinutes) * time.Minute),
			Handler: func(ctx context.Context) ([]proactive.Notification, error) {
				n, err := ghCol.Collect(ctx)
				if err != nil {
					return nil, fmt.Errorf("github collect: %w", err)
				}
				if n == 0 {
					return nil, nil
				}
				return []proactive.Notification{{
					Score:   0.3,
					Title:   "New GitHub activity",
					Message: fmt.Sprintf("%d new notifications captured.", n),
					Data:    map[string]any{"source": "github", "count": n},
				}}, nil
			},
		})
	}
	engine.Register(&proactive.Task{
		Name:    "retention_sweep",
		Trigger: proactive.Daily("04:00"),
		Handler: func(context.Context) ([]proactive.Notification, error) {
			counts, err := st.Prune(cfg.Retention.EventDays, cfg.Retention.ProposalDays, cfg.Retention.SessionDays)
			if err != nil {
				return nil, err
			}
			pruned, err := st.PruneLLMCalls(cfg.Retention.LLMCallDays)
			if err != nil {
				return nil, err
			}
			if err := st.Vacuum(); err != nil {
				logger.Warn("vacuum failed", "error", err)
			}
			logger.Info("retention sweep complete",
				"events", counts.Events, "proposals", counts.Proposals,
				"sessions", counts.Sessions, "llm_calls", pruned)
			return nil, nil
		},
	})

	// --- Skill runtime ---
	// Python skills discovered from skill.yaml manifests, sandboxed per
	// invocation with a JSON-RPC gateway back into the daemon.
	skillRuntime := skills.NewRuntime(cfg.Skills.Dirs, st, bus, skills.GatewayDeps{
		Store:  st,
		Memory: mem,
		Router: router,
		Bus:    bus,
		Notify: func(level, title, message string) {
			bus.Publish(events.Event{
				Topic:  events.TopicNotification,
				Source: "skill",
				Data:   map[string]any{"level": level, "title": title, "message": message},
			})
		},
		Integrations: skillIntegrations(calClient, emailClient),
		RateCap:      cfg.Skills.RPCCallLimit,
	}, logger)
	skillRuntime.Tune(cfg.Skills.Python, time.Duration(cfg.Skills.TimeoutSeconds)*time.Second)
	if err := skillRuntime.Discover(ctx); err != nil {
		logger.Warn("skill discovery failed", "error", err)
	}

	// --- Chat bridge ---
	// Session-cached agents behind the SSE chat endpoint and Telegram.
	// Needs the router; without one the chat routes answer 503.
	var bridge *chat.Bridge
	if router != nil {
		bridge = chat.New(st, router, chat.Options{
			Memory:    mem,
			Tracker:   trk,
			Detector:  detector,
			Extractor: extractor,
			Gate:      gate,
		}, logger)
	}

	// status is the daemon snapshot shared by the dashboard and the
	// Telegram /status command.
	status := func() map[string]any {
		return map[string]any{
			"version": buildinfo.Version,
			"uptime":  buildinfo.Uptime().String(),
			"stats":   st.Stats(),
			"engine":  engine.Status(),
		}
	}

	// --- Telegram ---
	var notifier *telegram.Notifier
	if cfg.TelegramBotToken != "" {
		notifier, err = telegram.New(cfg.TelegramBotToken, cfg.TelegramChatID, bus, st, status, logger)
		if err != nil {
			logger.Warn("telegram unavailable", "error", err)
			notifier = nil
		}
	}
	botUsername := ""
	if notifier != nil {
		botUsername = notifier.Username()
	}

	// --- Dashboard and API server ---
	dashboard := web.NewServer(st, botUsername, status, logger)
	server := api.NewServer(cfg.APIHost, cfg.APIPort, cfg.APIKey, api.Deps{
		Store:        st,
		Bridge:       bridge,
		Memory:       mem,
		Router:       router,
		Generator:    generator,
		Review:       review,
		Graph:        graph,
		Detector:     detector,
		Skills:       skillRuntime,
		OAuth:        oauthMgr,
		Transparency: transparency,
		Engine:       engine,
		Bus:          bus,
		Dashboard:    dashboard,
	}, logger)

	// --- Signal handling and graceful shutdown ---
	// NotifyContext wraps the parent context so that SIGINT/SIGTERM
	// cancellation flows through the same ctx used by all components.
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// --- Background goroutines ---
	go engine.Run(ctx)
	go skillRuntime.Start(ctx)
	defer skillRuntime.Stop()

	if notifier != nil {
		go notifier.Run(ctx)
	}
	if cfg.MQTT.BrokerURL != "" {
		pub := mqtt.New(mqtt.Config{
			Broker:   cfg.MQTT.BrokerURL,
			Topic:    cfg.MQTT.Topic,
			ClientID: cfg.MQTT.ClientID,
		}, bus, logger)
		go func() {
			if err := pub.Start(ctx); err != nil {
				logger.Error("mqtt publisher failed", "error", err)
			}
		}()
	}

	// Heartbeat: a periodic liveness line so a silent log means a
	// wedged daemon, not a quiet one.
	go func() {
		ticker := time.NewTicker(heartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				stats := st.Stats()
				logger.Debug("heartbeat",
					"uptime", buildinfo.Uptime().String(),
					"events", stats["events"],
					"contacts", stats["contacts"],
					"pending_proposals", stats["pending_proposals"],
					"unprocessed_events", stats["unprocessed_events"])
			}
		}
	}()

	go func() {
		<-ctx.Done()
		logger.Info("shutdown signal received")
		engine.Stop()
		_ = server.Shutdown(context.Background())
	}()

	// Start the API server. This blocks until the server is shut down
	// (via context cancellation or fatal error).
	if err := server.Start(ctx); err != nil {
		if ctx.Err() == nil {
			return fmt.Errorf("server failed: %w", err)
		}
	}

	logger.Info("Omnibrain stopped")
	return nil
}

// skillIntegrations builds the integration table offered to skills.
// Only slots with a live client behind them are registered.
func skillIntegrations(cal *calendar.Client, em *email.Client) map[string]skills.IntegrationBuilder {
	integrations := make(map[string]skills.IntegrationBuilder)
	if cal != nil {
		integrations["calendar"] = func(context.Context) (skills.Integration, error) {
			return &calendarIntegration{client: cal}, nil
		}
	}
	if em != nil {
		integrations["gmail"] = func(context.Context) (skills.Integration, error) {
			return &gmailIntegration{client: em}, nil
		}
	}
	if len(integrations) == 0 {
		return nil
	}
	return integrations
}

// calendarIntegration exposes the CalDAV client to skills through the
// gateway's integration_call method.
type calendarIntegration struct {
	client *calendar.Client
}

func (c *calendarIntegration) Call(ctx context.Context, method string, _ map[string]any) (any, error) {
	switch method {
	case "upcoming":
		return c.client.Upcoming(ctx)
	}
	return nil, fmt.Errorf("unknown calendar method %q", method)
}

// gmailIntegration exposes the IMAP client to skills holding the
// google_gmail permission. "recent" fetches messages with UID above
// since_uid, capped to the newest limit entries.
type gmailIntegration struct {
	client *email.Client
}

func (g *gmailIntegration) Call(ctx context.Context, method string, params map[string]any) (any, error) {
	switch method {
	case "recent":
		since := uint32(numParam(params, "since_uid", 0))
		limit := int(numParam(params, "limit", 10))
		msgs, err := g.client.FetchAbove(ctx, since)
		if err != nil {
			return nil, err
		}
		if limit > 0 && len(msgs) > limit {
			msgs = msgs[len(msgs)-limit:]
		}
		return msgs, nil
	}
	return nil, fmt.Errorf("unknown gmail method %q", method)
}

// numParam reads a numeric RPC parameter. JSON numbers decode as
// float64.
func numParam(params map[string]any, key string, def float64) float64 {
	if v, ok := params[key].(float64); ok {
		return v
	}
	return def
}

// newLogger creates a structured text logger that writes to w at the
// given level. All log output in Omnibrain goes through slog; this
// helper standardizes the handler configuration across subcommands.
func newLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: config.ReplaceLogLevelNames,
	}))
}

// loadConfig locates and parses the YAML configuration file. If
// explicit is non-empty, that exact path is used (and must exist).
// Otherwise, [config.FindConfig] searches the default locations.
// Returns the parsed config, the path that was loaded, and any error.
func loadConfig(explicit string) (*config.Config, string, error) {
	cfgPath, err := config.FindConfig(explicit)
	if err != nil {
		return nil, "", err
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, cfgPath, fmt.Errorf("load config %s: %w", cfgPath, err)
	}

	return cfg, cfgPath, nil
}
