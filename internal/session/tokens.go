package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/matheus3301/chatterbox/internal/remote"
)

var _ remote.TokenStore = (*FileTokens)(nil)

// FileTokens persists the signed-in session as JSON with 0600 permissions.
type FileTokens struct {
	mu   sync.Mutex
	path string
}

// NewFileTokens stores tokens at path.
func NewFileTokens(path string) *FileTokens {
	return &FileTokens{path: path}
}

// Load returns the stored session or remote.ErrNoSession.
func (f *FileTokens) Load() (remote.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, err := os.ReadFile(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		return remote.Session{}, remote.ErrNoSession
	}
	if err != nil {
		return remote.Session{}, err
	}
	var s remote.Session
	if err := json.Unmarshal(data, &s); err != nil {
		return remote.Session{}, fmt.Errorf("parse %s: %w", f.path, err)
	}
	if s.Identity.UserID == "" {
		return remote.Session{}, remote.ErrNoSession
	}
	return s, nil
}

// Save writes s, replacing the file atomically.
func (f *FileTokens) Save(s remote.Session) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(f.path), 0700); err != nil {
		return err
	}
	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return err
	}
	return os.Rename(tmp, f.path)
}

// Clear removes the stored session.
func (f *FileTokens) Clear() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := os.Remove(f.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}
