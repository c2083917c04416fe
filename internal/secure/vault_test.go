package secure

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
)

func newTestVault(t *testing.T, passphrase string) *Vault {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	v, err := New(filepath.Join(t.TempDir(), "vault"), passphrase, logger)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return v
}

func TestSealOpenRoundTrip(t *testing.T) {
	v := newTestVault(t, "correct horse battery staple")
	secret := []byte(`{"access_token":"ya29.xyz","refresh_token":"1//abc"}`)

	if err := v.Seal("google_token", secret); err != nil {
		t.Fatalf("Seal: %v", err)
	}
	got, err := v.Open("google_token")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if string(got) != string(secret) {
		t.Errorf("round trip = %q", got)
	}
}

func TestWrongPassphraseRejected(t *testing.T) {
	dir := t.TempDir()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

	v1, _ := New(dir, "right", logger)
	if err := v1.Seal("token", []byte("secret")); err != nil {
		t.Fatal(err)
	}
	v2, _ := New(dir, "wrong", logger)
	if _, err := v2.Open("token"); err == nil {
		t.Error("wrong passphrase decrypted the secret")
	}
}

func TestOpenMissing(t *testing.T) {
	v := newTestVault(t, "pw")
	if _, err := v.Open("nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestTamperDetected(t *testing.T) {
	v := newTestVault(t, "pw")
	if err := v.Seal("token", []byte("secret")); err != nil {
		t.Fatal(err)
	}
	path := v.path("token")
	blob, _ := os.ReadFile(path)
	blob[len(blob)-1] ^= 0xFF
	os.WriteFile(path, blob, 0o600)

	if _, err := v.Open("token"); err == nil {
		t.Error("tampered file decrypted")
	}
}

func TestEmptyPassphraseRejected(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	if _, err := New(t.TempDir(), "", logger); err == nil {
		t.Error("empty passphrase accepted")
	}
}

func TestMigratePlaintext(t *testing.T) {
	v := newTestVault(t, "pw")
	plain := filepath.Join(t.TempDir(), "google_token.json")
	if err := os.WriteFile(plain, []byte(`{"access_token":"x"}`), 0o600); err != nil {
		t.Fatal(err)
	}

	if err := v.MigratePlaintext(plain, "google_token"); err != nil {
		t.Fatalf("MigratePlaintext: %v", err)
	}
	if _, err := os.Stat(plain); !os.IsNotExist(err) {
		t.Error("plaintext file still present after migration")
	}
	got, err := v.Open("google_token")
	if err != nil || string(got) != `{"access_token":"x"}` {
		t.Errorf("migrated secret = (%q, %v)", got, err)
	}

	// Second call is a no-op even if a new plaintext file appears.
	if err := os.WriteFile(plain, []byte("other"), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := v.MigratePlaintext(plain, "google_token"); err != nil {
		t.Fatal(err)
	}
	got, _ = v.Open("google_token")
	if string(got) != `{"access_token":"x"}` {
		t.Error("existing secret overwritten by re-migration")
	}
}

func TestDeleteIdempotent(t *testing.T) {
	v := newTestVault(t, "pw")
	v.Seal("token", []byte("x"))
	if err := v.Delete("token"); err != nil {
		t.Fatal(err)
	}
	if v.Has("token") {
		t.Error("secret survives delete")
	}
	if err := v.Delete("token"); err != nil {
		t.Error("double delete errored")
	}
}
