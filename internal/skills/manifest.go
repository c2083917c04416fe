// Package skills discovers, sandboxes, and routes user-installed
// skills: small Python handlers described by a skill.yaml manifest,
// run in an isolated subprocess that talks back to the daemon over a
// permission-checked JSON-RPC gateway.
package skills

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// The closed permission set. Manifests naming anything else fail to
// load.
var knownPermissions = map[string]bool{
	"read_memory":      true,
	"write_memory":     true,
	"notify":           true,
	"propose_actions":  true,
	"llm_access":       true,
	"read_events":      true,
	"read_contacts":    true,
	"read_preferences": true,
	"emit_events":      true,
	"google_gmail":     true,
	"read_calendar":    true,
}

// TriggerSpec is one manifest trigger.
type TriggerSpec struct {
	Type string `yaml:"type"` // interval, cron, event
	Spec string `yaml:"spec"`
}

// Handlers names the handler files relative to the skill directory.
type Handlers struct {
	Poll  string `yaml:"poll,omitempty"`
	Ask   string `yaml:"ask,omitempty"`
	Event string `yaml:"event,omitempty"`
}

// Manifest is a parsed skill.yaml. Unknown keys are ignored.
type Manifest struct {
	Name         string        `yaml:"name"`
	Version      string        `yaml:"version"`
	Description  string        `yaml:"description"`
	Author       string        `yaml:"author"`
	Category     string        `yaml:"category"`
	Permissions  []string      `yaml:"permissions"`
	Triggers     []TriggerSpec `yaml:"triggers"`
	Handlers     Handlers      `yaml:"handlers"`
	Dependencies []string      `yaml:"dependencies"`
	AskKeywords  []string      `yaml:"ask_keywords"`

	// Dir is where the manifest was found. Not part of the YAML.
	Dir string `yaml:"-"`
}

// LoadManifest reads and validates one skill.yaml.
func LoadManifest(path string) (*Manifest, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	var m Manifest
	if err := yaml.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("parse manifest %s: %w", path, err)
	}
	m.Dir = filepath.Dir(path)
	if err := m.validate(); err != nil {
		return nil, fmt.Errorf("manifest %s: %w", path, err)
	}
	return &m, nil
}

func (m *Manifest) validate() error {
	if m.Name == "" {
		return fmt.Errorf("name is required")
	}
	if m.Version == "" {
		m.Version = "0.0.0"
	}
	for _, p := range m.Permissions {
		if !knownPermissions[p] {
			return fmt.Errorf("unknown permission %q", p)
		}
	}
	for _, t := range m.Triggers {
		switch t.Type {
		case "interval", "cron", "event":
		default:
			return fmt.Errorf("unknown trigger type %q", t.Type)
		}
		if t.Spec == "" {
			return fmt.Errorf("trigger %s has empty spec", t.Type)
		}
	}
	if m.Handlers.Poll == "" && m.Handlers.Ask == "" && m.Handlers.Event == "" {
		return fmt.Errorf("no handlers declared")
	}
	return nil
}

// HasPermission reports whether the manifest declares the permission.
func (m *Manifest) HasPermission(p string) bool {
	for _, have := range m.Permissions {
		if have == p {
			return true
		}
	}
	return false
}
