package credentials

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"eartune-trainer/internal/domain"
)

// FileStore keeps tokens in a JSON file readable only by the owner.
type FileStore struct {
	Path string
}

func NewFileStore(path string) *FileStore {
	return &FileStore{Path: path}
}

// DefaultPath is the token file under the user's config directory.
func DefaultPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		dir = "."
	}
	return filepath.Join(dir, "eartune", "credentials.json")
}

func (f *FileStore) Load(_ context.Context) (Tokens, error) {
	data, err := os.ReadFile(f.Path)
	if errors.Is(err, fs.ErrNotExist) {
		return Tokens{}, domain.ErrNoCredentials
	}
	if err != nil {
		return Tokens{}, fmt.Errorf("read credentials: %w", err)
	}
	var tokens Tokens
	if err := json.Unmarshal(data, &tokens); err != nil {
		return Tokens{}, fmt.Errorf("decode credentials %s: %w", f.Path, err)
	}
	if tokens.Empty() {
		return Tokens{}, domain.ErrNoCredentials
	}
	return tokens, nil
}

func (f *FileStore) Save(_ context.Context, tokens Tokens) error {
	if err := os.MkdirAll(filepath.Dir(f.Path), 0o700); err != nil {
		return fmt.Errorf("create credentials dir: %w", err)
	}
	data, err := json.Marshal(tokens)
	if err != nil {
		return err
	}
	tmp := f.Path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write credentials: %w", err)
	}
	if err := os.Rename(tmp, f.Path); err != nil {
		return fmt.Errorf("replace credentials: %w", err)
	}
	return nil
}

// Clear removes the token file; a missing file is not an error.
func (f *FileStore) Clear(_ context.Context) error {
	if err := os.Remove(f.Path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove credentials: %w", err)
	}
	return nil
}
