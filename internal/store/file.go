package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/hasirciogli/pro-auth/internal/models"
)

const (
	configDirName   = "proauth"
	sessionFileName = "session.json"
)

// sessionFile is the on-disk layout: one key, one opaque value
type sessionFile struct {
	AuthToken string `json:"auth_token"`
}

// DefaultFilePath returns ~/.config/proauth/session.json
func DefaultFilePath() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}

	return filepath.Join(homeDir, ".config", configDirName, sessionFileName), nil
}

// FileStore keeps the marker in a JSON file readable only by the owner
type FileStore struct {
	path string
}

func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Path returns the file the marker is written to
func (f *FileStore) Path() string {
	return f.path
}

func (f *FileStore) Put(ctx context.Context, marker models.Marker) error {
	if err := os.MkdirAll(filepath.Dir(f.path), 0700); err != nil {
		return unavailable("create session directory", err)
	}

	data, err := json.MarshalIndent(sessionFile{AuthToken: string(marker)}, "", "  ")
	if err != nil {
		return unavailable("marshal session file", err)
	}

	// Write then rename so a crash never leaves a truncated file behind
	tmp, err := os.CreateTemp(filepath.Dir(f.path), filepath.Base(f.path)+".*")
	if err != nil {
		return unavailable("create session file", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return unavailable("write session file", err)
	}
	if err := tmp.Chmod(0600); err != nil {
		_ = tmp.Close()
		return unavailable("write session file", err)
	}
	if err := tmp.Close(); err != nil {
		return unavailable("write session file", err)
	}
	if err := os.Rename(tmp.Name(), f.path); err != nil {
		return unavailable("replace session file", err)
	}

	return nil
}

func (f *FileStore) Get(ctx context.Context) (models.Marker, bool, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", false, nil
		}
		return "", false, unavailable("read session file", err)
	}

	var sf sessionFile
	if err := json.Unmarshal(data, &sf); err != nil {
		return "", false, unavailable("parse session file", err)
	}

	if sf.AuthToken == "" {
		return "", false, nil
	}
	return models.Marker(sf.AuthToken), true, nil
}

func (f *FileStore) Clear(ctx context.Context) error {
	if err := os.Remove(f.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return unavailable("remove session file", err)
	}
	return nil
}
