// Package store persists the session marker in client-local storage.
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/hasirciogli/pro-auth/internal/models"
)

// ErrStorageUnavailable wraps every backend failure
var ErrStorageUnavailable = errors.New("session storage unavailable")

// Store holds at most one session marker
type Store interface {
	// Put writes the marker, overwriting any previous value.
	Put(ctx context.Context, marker models.Marker) error
	// Get returns the current marker; ok is false when none is stored.
	Get(ctx context.Context) (marker models.Marker, ok bool, err error)
	// Clear removes the marker. Clearing an absent marker is not an error.
	Clear(ctx context.Context) error
}

// Backend names accepted by Open
const (
	BackendMemory  = "memory"
	BackendFile    = "file"
	BackendKeyring = "keyring"
	BackendSQLite  = "sqlite"
)

// Open creates the store for the named backend. path is used by the file
// and sqlite backends; empty means the default location.
func Open(backend, path string, log zerolog.Logger) (Store, error) {
	switch strings.ToLower(backend) {
	case BackendMemory:
		return NewMemoryStore(), nil
	case BackendFile, "":
		if path == "" {
			p, err := DefaultFilePath()
			if err != nil {
				return nil, err
			}
			path = p
		}
		return NewFileStore(path), nil
	case BackendKeyring:
		return NewKeyringStore(KeyringService), nil
	case BackendSQLite:
		if path == "" {
			p, err := DefaultSQLitePath()
			if err != nil {
				return nil, err
			}
			path = p
		}
		return OpenSQLiteStore(path, log)
	default:
		return nil, fmt.Errorf("unknown session store backend %q", backend)
	}
}

// Close releases backend resources if the store holds any
func Close(s Store) error {
	if c, ok := s.(interface{ Close() error }); ok {
		return c.Close()
	}
	return nil
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrStorageUnavailable, op, err)
}
