package commands

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/hasirciogli/pro-auth/internal/auth"
	"github.com/hasirciogli/pro-auth/internal/config"
	"github.com/hasirciogli/pro-auth/internal/logger"
	"github.com/hasirciogli/pro-auth/internal/models"
	"github.com/hasirciogli/pro-auth/internal/session"
	"github.com/hasirciogli/pro-auth/internal/store"
)

// runtime is everything a command needs to drive the session lifecycle
type runtime struct {
	cfg        *config.Config
	log        zerolog.Logger
	store      store.Store
	controller *session.Controller
}

// loadConfig loads configuration and initializes the logger.
// This is common logic used by every command.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	logger.Init(cfg.Logging.Level, cfg.Logging.Format)
	return cfg, nil
}

// openRuntime opens the configured store and starts a controller on it.
// Background revalidation is only scheduled for long-running commands.
func openRuntime(cfg *config.Config, withRefresh bool) (*runtime, error) {
	log := logger.GetLogger()

	validator, err := newValidator(cfg)
	if err != nil {
		return nil, err
	}

	st, err := store.Open(cfg.Session.Store, cfg.Session.Path, log)
	if err != nil {
		return nil, fmt.Errorf("failed to open session store: %w", err)
	}

	opts := []session.Option{session.WithLogger(log.With().Str("component", "session").Logger())}
	if withRefresh {
		opts = append(opts, session.WithRefresh(cfg.Session.Refresh))
	}

	controller, err := session.New(validator, st, opts...)
	if err != nil {
		_ = store.Close(st)
		return nil, err
	}

	return &runtime{cfg: cfg, log: log, store: st, controller: controller}, nil
}

// Close disposes the controller and releases the store
func (r *runtime) Close() {
	r.controller.Dispose()
	if err := store.Close(r.store); err != nil {
		r.log.Warn().Err(err).Msg("Failed to close session store")
	}
}

// newValidator builds the credential policy from configuration
func newValidator(cfg *config.Config) (*auth.StaticValidator, error) {
	creds := cfg.Credentials

	hash := creds.PasswordHash
	if hash == "" {
		h, err := auth.HashPassword(creds.Password)
		if err != nil {
			return nil, err
		}
		hash = h
	}

	return auth.NewStaticValidator(auth.StaticConfig{
		Username:     creds.Username,
		PasswordHash: hash,
		User: models.User{
			ID:       creds.UserID,
			Username: creds.Username,
			Email:    creds.Email,
			Role:     models.Role(creds.Role),
		},
		Marker:  auth.DefaultMarker,
		Latency: auth.Latency(cfg.Session.Latency),
	})
}

// waitReady blocks until the startup session check has finished
func waitReady(ctx context.Context, c *session.Controller) error {
	select {
	case <-c.Ready():
		return nil
	case <-ctx.Done():
		return fmt.Errorf("timed out restoring session: %w", ctx.Err())
	}
}
