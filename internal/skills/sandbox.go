package skills

import (
	"bufio"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "embed"
)

//go:embed runner.py
var runnerSource []byte

const (
	defaultInvokeTimeout = 60 * time.Second
	venvDirName          = ".venv"
	depsMarkerName       = ".deps_installed"
)

// Sandbox runs skill handlers in isolated python3 subprocesses.
type Sandbox struct {
	deps    GatewayDeps
	logger  *slog.Logger
	python  string
	timeout time.Duration
}

// NewSandbox creates the sandbox runner.
func NewSandbox(deps GatewayDeps, logger *slog.Logger) *Sandbox {
	return &Sandbox{deps: deps, logger: logger, python: "python3", timeout: defaultInvokeTimeout}
}

// Tune overrides the interpreter used to bootstrap venvs and the
// per-invocation timeout. Zero values keep the defaults.
func (s *Sandbox) Tune(python string, timeout time.Duration) {
	if python != "" {
		s.python = python
	}
	if timeout > 0 {
		s.timeout = timeout
	}
}

// Invoke runs one handler of the skill and returns its final result.
// The wall-clock timeout kills the subprocess on expiry.
func (s *Sandbox) Invoke(ctx context.Context, m *Manifest, handlerFile, handlerKey string, args []any, kwargs map[string]any) (any, error) {
	python, err := s.ensureVenv(ctx, m)
	if err != nil {
		return nil, fmt.Errorf("venv for %s: %w", m.Name, err)
	}
	runner := filepath.Join(m.Dir, venvDirName, "runner.py")

	argsJSON, err := json.Marshal(args)
	if err != nil {
		return nil, err
	}
	kwargsJSON, err := json.Marshal(kwargs)
	if err != nil {
		return nil, err
	}

	runCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, python, runner)
	cmd.Dir = m.Dir
	cmd.Env = append(os.Environ(),
		"OMNIBRAIN_HANDLER="+filepath.Join(m.Dir, handlerFile),
		"OMNIBRAIN_HANDLER_KEY="+handlerKey,
		"OMNIBRAIN_ARGS="+string(argsJSON),
		"OMNIBRAIN_KWARGS="+string(kwargsJSON),
	)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	var stderr strings.Builder
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start sandbox: %w", err)
	}

	result, rpcErr := s.serve(runCtx, m, stdin, stdout)
	waitErr := cmd.Wait()

	if runCtx.Err() == context.DeadlineExceeded {
		return nil, fmt.Errorf("skill %s timed out after %s", m.Name, s.timeout)
	}
	if rpcErr != nil {
		return nil, rpcErr
	}
	if waitErr != nil {
		return nil, fmt.Errorf("skill %s: %w (stderr: %s)", m.Name, waitErr, firstLine(stderr.String()))
	}
	return result, nil
}

type rpcRequest struct {
	JSONRPC string         `json:"jsonrpc"`
	ID      json.Number    `json:"id"`
	Method  string         `json:"method"`
	Params  map[string]any `json:"params"`
}

type rpcResponse struct {
	ID     json.Number `json:"id"`
	Result any         `json:"result,omitempty"`
	Error  *rpcError   `json:"error,omitempty"`
}

// serve answers the child's RPC requests until it emits its final
// {"result": …} line or the stream ends.
func (s *Sandbox) serve(ctx context.Context, m *Manifest, stdin io.WriteCloser, stdout io.Reader) (any, error) {
	defer stdin.Close()
	gateway := NewGateway(s.deps, m, s.logger)
	enc := json.NewEncoder(stdin)

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		var req rpcRequest
		if err := json.Unmarshal([]byte(line), &req); err != nil || req.Method == "" {
			// Not a request: the final result payload.
			var final struct {
				Result any `json:"result"`
			}
			if err := json.Unmarshal([]byte(line), &final); err != nil {
				return nil, fmt.Errorf("skill %s emitted unparseable output", m.Name)
			}
			return final.Result, nil
		}

		result, rpcErr := gateway.Handle(ctx, req.Method, req.Params)
		if err := enc.Encode(rpcResponse{ID: req.ID, Result: result, Error: rpcErr}); err != nil {
			return nil, fmt.Errorf("write rpc response: %w", err)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read skill output: %w", err)
	}
	return nil, fmt.Errorf("skill %s exited without a result", m.Name)
}

// ensureVenv creates the per-skill virtual environment on first use,
// installs the manifest dependencies, and materializes the runner.
// The .deps_installed marker holds the SHA-256 of the dependency list
// so changed manifests reinstall.
func (s *Sandbox) ensureVenv(ctx context.Context, m *Manifest) (string, error) {
	venv := filepath.Join(m.Dir, venvDirName)
	python := filepath.Join(venv, "bin", "python3")
	marker := filepath.Join(venv, depsMarkerName)
	wantHash := depsHash(m.Dependencies)

	if existing, err := os.ReadFile(marker); err == nil && string(existing) == wantHash {
		return python, nil
	}

	if _, err := os.Stat(python); err != nil {
		s.logger.Info("creating skill venv", "skill", m.Name)
		cmd := exec.CommandContext(ctx, s.python, "-m", "venv", venv)
		if out, err := cmd.CombinedOutput(); err != nil {
			return "", fmt.Errorf("%s -m venv: %w (%s)", s.python, err, firstLine(string(out)))
		}
	}

	if len(m.Dependencies) > 0 {
		s.logger.Info("installing skill dependencies", "skill", m.Name, "count", len(m.Dependencies))
		installArgs := append([]string{"-m", "pip", "install", "--quiet"}, m.Dependencies...)
		cmd := exec.CommandContext(ctx, python, installArgs...)
		if out, err := cmd.CombinedOutput(); err != nil {
			return "", fmt.Errorf("pip install: %w (%s)", err, firstLine(string(out)))
		}
	}

	if err := os.WriteFile(filepath.Join(venv, "runner.py"), runnerSource, 0o644); err != nil {
		return "", fmt.Errorf("write runner: %w", err)
	}
	if err := os.WriteFile(marker, []byte(wantHash), 0o644); err != nil {
		return "", fmt.Errorf("write deps marker: %w", err)
	}
	return python, nil
}

// depsHash fingerprints the dependency list. Sorted first, so
// reordering manifest entries does not invalidate an existing venv.
func depsHash(deps []string) string {
	sorted := append([]string(nil), deps...)
	sort.Strings(sorted)
	sum := sha256.Sum256([]byte(strings.Join(sorted, "\n")))
	return hex.EncodeToString(sum[:])
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
