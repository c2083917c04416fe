// Package paths defines the on-disk layout under the data directory.
// Every component that touches the filesystem resolves its files
// through a single [Layout] built from configuration at startup, so
// the directory structure is decided in exactly one place.
package paths

import (
	"fmt"
	"os"
	"path/filepath"
)

// Layout resolves well-known files and directories under the data dir.
type Layout struct {
	dataDir string
	logDir  string
}

// NewLayout creates a Layout rooted at dataDir. logDir may be empty,
// in which case logs live under <dataDir>/logs.
func NewLayout(dataDir, logDir string) *Layout {
	if logDir == "" {
		logDir = filepath.Join(dataDir, "logs")
	}
	return &Layout{dataDir: dataDir, logDir: logDir}
}

// DataDir returns the root data directory.
func (l *Layout) DataDir() string { return l.dataDir }

// StoreDB is the main state database (single file, WAL).
func (l *Layout) StoreDB() string { return filepath.Join(l.dataDir, "omnibrain.db") }

// MemoryDB is the keyword memory index (single file, WAL).
func (l *Layout) MemoryDB() string { return filepath.Join(l.dataDir, "memory.db") }

// VectorDir is the optional embedded vector store directory.
func (l *Layout) VectorDir() string { return filepath.Join(l.dataDir, "chroma") }

// SkillsDir is the default skill installation directory.
func (l *Layout) SkillsDir() string { return filepath.Join(l.dataDir, "skills") }

// SkillDir is the directory of one installed skill.
func (l *Layout) SkillDir(name string) string { return filepath.Join(l.SkillsDir(), name) }

// LogFile is the rotating daemon log.
func (l *Layout) LogFile() string { return filepath.Join(l.logDir, "omnibrain.log") }

// GoogleCredentials is the OAuth client secret file.
func (l *Layout) GoogleCredentials() string {
	return filepath.Join(l.dataDir, "google_credentials.json")
}

// GoogleToken is the plaintext OAuth token location. When an
// encryption key is configured the token is migrated into the vault
// and this file is removed.
func (l *Layout) GoogleToken() string { return filepath.Join(l.dataDir, "google_token.json") }

// Vault is the encrypted secret store directory.
func (l *Layout) Vault() string { return filepath.Join(l.dataDir, "vault") }

// ExportDir returns a timestamped directory for data exports.
func (l *Layout) ExportDir(stamp string) string {
	return filepath.Join(l.dataDir, "export-"+stamp)
}

// Ensure creates the directories the daemon expects to exist.
func (l *Layout) Ensure() error {
	for _, dir := range []string{l.dataDir, l.logDir, l.SkillsDir()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}
	return nil
}
