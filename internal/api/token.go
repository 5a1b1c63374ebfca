package api

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/mitchellh/go-homedir"
)

// DefaultTokenFile is where the CLI keeps the bearer token between runs.
const DefaultTokenFile = "~/.tawasol/token"

// TokenSource yields the bearer token for authenticated calls.
type TokenSource interface {
	Token() (string, error)
}

type StaticToken string

func (t StaticToken) Token() (string, error) { return string(t), nil }

// FileToken reads the token from a file. The path may start with ~.
type FileToken struct {
	Path string
}

// Token returns the stored token, or "" when none has been saved yet.
func (f FileToken) Token() (string, error) {
	path, err := homedir.Expand(f.Path)
	if err != nil {
		return "", fmt.Errorf("token path: %w", err)
	}
	b, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read token: %w", err)
	}
	return strings.TrimSpace(string(b)), nil
}

// Save writes token to the file, creating its directory if needed.
func (f FileToken) Save(token string) error {
	path, err := homedir.Expand(f.Path)
	if err != nil {
		return fmt.Errorf("token path: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create token dir: %w", err)
	}
	if err := os.WriteFile(path, []byte(token+"\n"), 0o600); err != nil {
		return fmt.Errorf("write token: %w", err)
	}
	return nil
}
