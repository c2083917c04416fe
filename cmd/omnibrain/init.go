package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/omnibrain/omnibrain/internal/defaults"
)

// runInit initializes an Omnibrain working directory. It creates the
// directory structure and writes the bundled starter config. Existing
// files are never overwritten.
func runInit(w io.Writer, dir string) error {
	fmt.Fprintf(w, "Initializing Omnibrain workspace in %s\n", dir)

	for _, sub := range []string{"skills", "logs"} {
		path := filepath.Join(dir, sub)
		if err := os.MkdirAll(path, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", path, err)
		}
	}

	// The config may hold API keys, so it gets owner-only permissions.
	configPath := filepath.Join(dir, "config.yaml")
	if err := writeIfMissing(configPath, defaults.ConfigYAML, 0o600); err != nil {
		return err
	}
	fmt.Fprintf(w, "  ✓ %s\n", configPath)

	fmt.Fprintln(w)
	fmt.Fprintln(w, "Edit config.yaml (or a .env next to it) to add your API keys,")
	fmt.Fprintln(w, "then start the daemon with: omnibrain -config "+configPath+" serve")
	return nil
}

// writeIfMissing writes content to path only if the file does not
// already exist, so init never overwrites user customizations.
func writeIfMissing(path string, content []byte, mode os.FileMode) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	}
	return os.WriteFile(path, content, mode)
}
