// Package secure is the at-rest vault for OAuth tokens and other
// credentials: argon2id key derivation, XChaCha20-Poly1305 sealed
// blobs, one file per secret.
package secure

import (
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"
)

// File layout: magic, 16-byte salt, 24-byte nonce, ciphertext.
var magic = []byte("OBVAULT1")

const saltSize = 16

// argon2id parameters.
const (
	argonTime    = 1
	argonMemory  = 64 * 1024 // KiB
	argonThreads = 4
)

// ErrNotFound is returned when the named secret does not exist.
var ErrNotFound = errors.New("secret not found")

// Vault seals and opens named secrets under one directory.
type Vault struct {
	dir        string
	passphrase []byte
	logger     *slog.Logger
}

// New creates a vault rooted at dir. The directory is created on
// first Seal.
func New(dir, passphrase string, logger *slog.Logger) (*Vault, error) {
	if passphrase == "" {
		return nil, fmt.Errorf("vault passphrase is empty")
	}
	return &Vault{dir: dir, passphrase: []byte(passphrase), logger: logger}, nil
}

func (v *Vault) path(name string) string {
	// Secret names become file names; keep them flat.
	safe := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			return r
		}
		return '_'
	}, name)
	return filepath.Join(v.dir, safe+".enc")
}

func (v *Vault) deriveKey(salt []byte) []byte {
	return argon2.IDKey(v.passphrase, salt, argonTime, argonMemory, argonThreads, chacha20poly1305.KeySize)
}

// Seal encrypts and persists a secret, replacing any previous value.
func (v *Vault) Seal(name string, plaintext []byte) error {
	if err := os.MkdirAll(v.dir, 0o700); err != nil {
		return fmt.Errorf("create vault dir: %w", err)
	}

	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return fmt.Errorf("generate salt: %w", err)
	}
	aead, err := chacha20poly1305.NewX(v.deriveKey(salt))
	if err != nil {
		return err
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return fmt.Errorf("generate nonce: %w", err)
	}

	blob := make([]byte, 0, len(magic)+saltSize+len(nonce)+len(plaintext)+aead.Overhead())
	blob = append(blob, magic...)
	blob = append(blob, salt...)
	blob = append(blob, nonce...)
	blob = aead.Seal(blob, nonce, plaintext, nil)

	if err := os.WriteFile(v.path(name), blob, 0o600); err != nil {
		return fmt.Errorf("write secret %s: %w", name, err)
	}
	return nil
}

// Open decrypts the named secret. A wrong passphrase or a tampered
// file yields an authentication error.
func (v *Vault) Open(name string) ([]byte, error) {
	blob, err := os.ReadFile(v.path(name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("read secret %s: %w", name, err)
	}

	minLen := len(magic) + saltSize + chacha20poly1305.NonceSizeX
	if len(blob) < minLen || string(blob[:len(magic)]) != string(magic) {
		return nil, fmt.Errorf("secret %s: not a vault file", name)
	}
	blob = blob[len(magic):]
	salt, blob := blob[:saltSize], blob[saltSize:]
	nonce, ciphertext := blob[:chacha20poly1305.NonceSizeX], blob[chacha20poly1305.NonceSizeX:]

	aead, err := chacha20poly1305.NewX(v.deriveKey(salt))
	if err != nil {
		return nil, err
	}
	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("decrypt secret %s: %w", name, err)
	}
	return plaintext, nil
}

// Delete removes the named secret. Deleting a missing secret is not
// an error.
func (v *Vault) Delete(name string) error {
	err := os.Remove(v.path(name))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete secret %s: %w", name, err)
	}
	return nil
}

// Has reports whether the named secret exists.
func (v *Vault) Has(name string) bool {
	_, err := os.Stat(v.path(name))
	return err == nil
}

// MigratePlaintext moves a legacy plaintext file into the vault: seal
// its contents under name, then remove the original. A missing file
// or an already-sealed secret is a no-op.
func (v *Vault) MigratePlaintext(plainPath, name string) error {
	if v.Has(name) {
		return nil
	}
	raw, err := os.ReadFile(plainPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read %s: %w", plainPath, err)
	}
	if err := v.Seal(name, raw); err != nil {
		return err
	}
	if err := os.Remove(plainPath); err != nil {
		return fmt.Errorf("remove plaintext %s: %w", plainPath, err)
	}
	v.logger.Info("plaintext secret migrated into vault", "file", plainPath, "secret", name)
	return nil
}
