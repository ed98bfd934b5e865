package store

import (
	"context"
	"errors"

	"github.com/zalando/go-keyring"

	"github.com/hasirciogli/pro-auth/internal/models"
)

// KeyringService is the OS credential manager service name
const KeyringService = "proauth-cli"

// KeyringStore keeps the marker in the OS keychain/credential manager
type KeyringStore struct {
	service string
}

func NewKeyringStore(service string) *KeyringStore {
	return &KeyringStore{service: service}
}

func (k *KeyringStore) Put(ctx context.Context, marker models.Marker) error {
	if err := keyring.Set(k.service, models.MarkerKey, string(marker)); err != nil {
		return unavailable("save marker to keyring", err)
	}
	return nil
}

func (k *KeyringStore) Get(ctx context.Context) (models.Marker, bool, error) {
	value, err := keyring.Get(k.service, models.MarkerKey)
	if err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return "", false, nil
		}
		return "", false, unavailable("load marker from keyring", err)
	}
	if value == "" {
		return "", false, nil
	}
	return models.Marker(value), true, nil
}

func (k *KeyringStore) Clear(ctx context.Context) error {
	if err := keyring.Delete(k.service, models.MarkerKey); err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return nil // Already deleted
		}
		return unavailable("delete marker from keyring", err)
	}
	return nil
}
