// Package config handles Omnibrain configuration loading.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// DefaultSearchPaths returns the config file search order.
// An explicit path (from -config flag) is checked first.
// Then: ./config.yaml, ~/.config/omnibrain/config.yaml, /etc/omnibrain/config.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"config.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "omnibrain", "config.yaml"))
	}

	paths = append(paths, "/etc/omnibrain/config.yaml")
	return paths
}

// FindConfig locates a config file. If explicit is non-empty, it must exist.
// Otherwise, searches DefaultSearchPaths and returns the first that exists.
// Returns the path found, or an error if nothing was found.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", DefaultSearchPaths())
}

// Config holds all Omnibrain configuration.
type Config struct {
	DataDir  string `yaml:"data_dir"`
	LogDir   string `yaml:"log_dir"` // default: <data_dir>/logs
	LogLevel string `yaml:"log_level"`

	APIHost string `yaml:"api_host"`
	APIPort int    `yaml:"api_port"`
	// APIKey is the shared secret for the X-API-Key header. Empty
	// disables authentication. Overridden by OMNIBRAIN_API_KEY.
	APIKey string `yaml:"api_key"`

	CheckIntervalMinutes int    `yaml:"check_interval_minutes"`
	BriefingTime         string `yaml:"briefing_time"` // "HH:MM" local time
	EveningTime          string `yaml:"evening_time"`

	TelegramBotToken string `yaml:"telegram_bot_token"`
	TelegramChatID   int64  `yaml:"telegram_chat_id"`

	// EncryptionKey unlocks the token vault. Overridden by
	// OMNIBRAIN_ENCRYPTION_KEY. Empty leaves tokens in plaintext files.
	EncryptionKey string `yaml:"encryption_key"`

	QuietHours QuietHoursConfig `yaml:"quiet_hours"`
	// MaxCriticalPerHour caps critical notifications before the selector
	// starts downgrading them to important. Zero uses the default (4).
	MaxCriticalPerHour int `yaml:"max_critical_per_hour"`

	LLM        LLMConfig        `yaml:"llm"`
	Embeddings EmbeddingsConfig `yaml:"embeddings"`
	IMAP       IMAPConfig       `yaml:"imap"`
	CalDAV     CalDAVConfig     `yaml:"caldav"`
	GitHub     GitHubConfig     `yaml:"github"`
	MQTT       MQTTConfig       `yaml:"mqtt"`
	Skills     SkillsConfig     `yaml:"skills"`
	OAuth      OAuthConfig      `yaml:"oauth"`
	Retention  RetentionConfig  `yaml:"retention"`
}

// QuietHoursConfig suppresses loud notifications during a daily window.
// Start and End are hours 0-23; overnight windows (start > end) are valid.
type QuietHoursConfig struct {
	Enabled bool `yaml:"enabled"`
	Start   int  `yaml:"start"`
	End     int  `yaml:"end"`
}

// LLMConfig selects the chat provider. When Provider is empty, the
// daemon picks the first provider with a configured key: deepseek,
// then openai, then anthropic.
type LLMConfig struct {
	Provider        string  `yaml:"provider"` // deepseek, openai, anthropic
	Model           string  `yaml:"model"`
	DeepSeekAPIKey  string  `yaml:"deepseek_api_key"`
	OpenAIAPIKey    string  `yaml:"openai_api_key"`
	AnthropicAPIKey string  `yaml:"anthropic_api_key"`
	BaseURL         string  `yaml:"base_url"`
	MaxTokens       int     `yaml:"max_tokens"`
	Temperature     float32 `yaml:"temperature"`
}

// EmbeddingsConfig defines embedding generation for the vector memory.
// Disabled (or key-less) means the vector store is skipped and memory
// search runs keyword-only.
type EmbeddingsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Model   string `yaml:"model"` // e.g. text-embedding-3-small
	BaseURL string `yaml:"base_url"`
	APIKey  string `yaml:"api_key"` // defaults to llm.openai_api_key
}

// IMAPConfig defines the email collector connection.
type IMAPConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Mailbox  string `yaml:"mailbox"` // default INBOX
}

// CalDAVConfig defines the calendar collector connection.
type CalDAVConfig struct {
	URL        string `yaml:"url"`
	Username   string `yaml:"username"`
	Password   string `yaml:"password"`
	WindowDays int    `yaml:"window_days"` // default 7
}

// GitHubConfig defines the notifications collector.
type GitHubConfig struct {
	Token string `yaml:"token"`
}

// MQTTConfig defines the optional notification fan-out.
type MQTTConfig struct {
	BrokerURL string `yaml:"broker_url"`
	Topic     string `yaml:"topic"` // default omnibrain/notifications
	ClientID  string `yaml:"client_id"`
}

// SkillsConfig defines the skill runtime.
type SkillsConfig struct {
	// Dirs are scanned for skill.yaml manifests. Default: <data_dir>/skills.
	Dirs []string `yaml:"dirs"`
	// Python is the interpreter used to bootstrap per-skill venvs.
	Python string `yaml:"python"`
	// TimeoutSeconds bounds each handler invocation (default 60).
	TimeoutSeconds int `yaml:"timeout_seconds"`
	// RPCCallLimit caps gateway calls per invocation (default 100).
	RPCCallLimit int `yaml:"rpc_call_limit"`
}

// OAuthConfig defines the Google OAuth application.
type OAuthConfig struct {
	GoogleClientID     string `yaml:"google_client_id"`
	GoogleClientSecret string `yaml:"google_client_secret"`
	RedirectURL        string `yaml:"redirect_url"`
}

// RetentionConfig controls the hourly cleanup sweep.
type RetentionConfig struct {
	EventDays    int `yaml:"event_days"`
	ProposalDays int `yaml:"proposal_days"`
	SessionDays  int `yaml:"session_days"`
	LLMCallDays  int `yaml:"llm_call_days"`
}

// LoadDotenv loads a .env file from the working directory if present.
// Missing files are not an error; malformed files are.
func LoadDotenv() error {
	if _, err := os.Stat(".env"); err != nil {
		return nil
	}
	return godotenv.Load()
}

// Load reads configuration from a YAML file and applies environment
// overrides for secrets.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, err
	}

	cfg.applyEnv()
	cfg.applyDefaults()
	return cfg, nil
}

// Default returns a default configuration. Environment overrides are
// not applied; callers that skip Load should call ApplyEnv themselves.
func Default() *Config {
	return &Config{
		DataDir:              "~/.local/share/omnibrain",
		LogLevel:             "info",
		APIHost:              "127.0.0.1",
		APIPort:              8181,
		CheckIntervalMinutes: 15,
		BriefingTime:         "07:30",
		EveningTime:          "21:30",
		MaxCriticalPerHour:   4,
		QuietHours:           QuietHoursConfig{Start: 22, End: 7},
		LLM: LLMConfig{
			MaxTokens:   2048,
			Temperature: 0.7,
		},
		Embeddings: EmbeddingsConfig{
			Model: "text-embedding-3-small",
		},
		IMAP:   IMAPConfig{Port: 993, Mailbox: "INBOX"},
		CalDAV: CalDAVConfig{WindowDays: 7},
		MQTT:   MQTTConfig{Topic: "omnibrain/notifications"},
		Skills: SkillsConfig{
			Python:         "python3",
			TimeoutSeconds: 60,
			RPCCallLimit:   100,
		},
		Retention: RetentionConfig{
			EventDays:    90,
			ProposalDays: 30,
			SessionDays:  60,
			LLMCallDays:  90,
		},
	}
}

// ApplyEnv applies environment variable overrides to cfg. Exposed for
// callers that construct a Config without a file.
func (c *Config) ApplyEnv() {
	c.applyEnv()
	c.applyDefaults()
}

func (c *Config) applyEnv() {
	if v := os.Getenv("OMNIBRAIN_DATA_DIR"); v != "" {
		c.DataDir = v
	}
	if v := os.Getenv("OMNIBRAIN_API_KEY"); v != "" {
		c.APIKey = v
	}
	if v := os.Getenv("OMNIBRAIN_ENCRYPTION_KEY"); v != "" {
		c.EncryptionKey = v
	}
	if v := os.Getenv("DEEPSEEK_API_KEY"); v != "" {
		c.LLM.DeepSeekAPIKey = v
	}
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		c.LLM.OpenAIAPIKey = v
	}
	if v := os.Getenv("ANTHROPIC_API_KEY"); v != "" {
		c.LLM.AnthropicAPIKey = v
	}
	if v := os.Getenv("TELEGRAM_BOT_TOKEN"); v != "" {
		c.TelegramBotToken = v
	}
}

func (c *Config) applyDefaults() {
	c.DataDir = expandHome(c.DataDir)
	if c.LogDir == "" {
		c.LogDir = filepath.Join(c.DataDir, "logs")
	} else {
		c.LogDir = expandHome(c.LogDir)
	}
	if len(c.Skills.Dirs) == 0 {
		c.Skills.Dirs = []string{filepath.Join(c.DataDir, "skills")}
	}
	for i, d := range c.Skills.Dirs {
		c.Skills.Dirs[i] = expandHome(d)
	}
	if c.Embeddings.APIKey == "" {
		c.Embeddings.APIKey = c.LLM.OpenAIAPIKey
	}
}

// expandHome replaces a leading ~ with the user's home directory.
func expandHome(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	if path == "~" {
		return home
	}
	if strings.HasPrefix(path, "~/") || strings.HasPrefix(path, "~"+string(filepath.Separator)) {
		return filepath.Join(home, path[2:])
	}
	return path
}
