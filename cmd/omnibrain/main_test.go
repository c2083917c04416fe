package main

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"github.com/omnibrain/omnibrain/internal/calendar"
	"github.com/omnibrain/omnibrain/internal/email"
)

func TestRunVersionText(t *testing.T) {
	t.Parallel()
	var out, errOut bytes.Buffer

	if err := run(context.Background(), &out, &errOut, []string{"version"}); err != nil {
		t.Fatalf("run version: %v", err)
	}
	got := out.String()
	if !strings.Contains(got, "Omnibrain") {
		t.Errorf("version output missing product name: %q", got)
	}
	if !strings.Contains(got, "go_version") {
		t.Errorf("version output missing go_version: %q", got)
	}
}

func TestRunVersionJSON(t *testing.T) {
	t.Parallel()
	var out, errOut bytes.Buffer

	if err := run(context.Background(), &out, &errOut, []string{"-o", "json", "version"}); err != nil {
		t.Fatalf("run version: %v", err)
	}
	var info map[string]string
	if err := json.Unmarshal(out.Bytes(), &info); err != nil {
		t.Fatalf("version output is not JSON: %v\n%s", err, out.String())
	}
	if info["version"] == "" {
		t.Error("version field empty")
	}
}

func TestRunUsage(t *testing.T) {
	t.Parallel()
	var out, errOut bytes.Buffer

	if err := run(context.Background(), &out, &errOut, nil); err != nil {
		t.Fatalf("run without args: %v", err)
	}
	if !strings.Contains(out.String(), "Usage: omnibrain") {
		t.Errorf("usage output = %q", out.String())
	}
}

func TestRunRejectsUnknownCommand(t *testing.T) {
	t.Parallel()
	var out, errOut bytes.Buffer

	if err := run(context.Background(), &out, &errOut, []string{"dance"}); err == nil {
		t.Error("unknown command accepted")
	}
}

func TestRunRejectsUnknownFlag(t *testing.T) {
	t.Parallel()
	var out, errOut bytes.Buffer

	if err := run(context.Background(), &out, &errOut, []string{"-frobnicate"}); err == nil {
		t.Error("unknown flag accepted")
	}
}

func TestRunRejectsBadOutputFormat(t *testing.T) {
	t.Parallel()
	var out, errOut bytes.Buffer

	if err := run(context.Background(), &out, &errOut, []string{"-o", "yaml", "version"}); err == nil {
		t.Error("bad output format accepted")
	}
}

func TestSkillIntegrationsTable(t *testing.T) {
	t.Parallel()

	if got := skillIntegrations(nil, nil); got != nil {
		t.Errorf("no clients should yield a nil table, got %v", got)
	}

	table := skillIntegrations(&calendar.Client{}, email.NewClient(email.Config{Host: "imap.example.com"}, slog.Default()))
	for _, name := range []string{"calendar", "gmail"} {
		if table[name] == nil {
			t.Errorf("integration %q not registered", name)
		}
	}

	calOnly := skillIntegrations(&calendar.Client{}, nil)
	if calOnly["gmail"] != nil {
		t.Error("gmail registered without an email client")
	}
}

func TestGmailIntegrationRejectsUnknownMethod(t *testing.T) {
	t.Parallel()

	g := &gmailIntegration{client: email.NewClient(email.Config{Host: "imap.example.com"}, slog.Default())}
	if _, err := g.Call(context.Background(), "delete_all", nil); err == nil {
		t.Error("unknown method accepted")
	}
}
