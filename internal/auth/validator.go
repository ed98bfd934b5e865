package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/hasirciogli/pro-auth/internal/models"
)

// ErrInvalidCredentials is the only failure a Validator reports for bad input
var ErrInvalidCredentials = errors.New("invalid username or password")

var validate = validator.New()

// Credentials is a username/password pair submitted for login
type Credentials struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

// Validate checks that both fields are present
func (c Credentials) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidCredentials, err)
	}
	return nil
}

// Validator decides whether credentials are accepted and re-derives the user
// behind a stored session marker.
type Validator interface {
	// Authenticate returns the user and the marker to persist for a new session.
	Authenticate(ctx context.Context, creds Credentials) (*models.User, models.Marker, error)
	// Resume re-derives the user from a previously persisted marker.
	Resume(ctx context.Context, marker models.Marker) (*models.User, error)
	// Revoke is called when a session ends.
	Revoke(ctx context.Context, marker models.Marker) error
}

// Latency holds the simulated round-trip delay applied to each call
type Latency struct {
	Login  time.Duration
	Resume time.Duration
	Revoke time.Duration
}

// DefaultLatency mirrors the delays of the hosted console's mock service
func DefaultLatency() Latency {
	return Latency{
		Login:  time.Second,
		Resume: 500 * time.Millisecond,
		Revoke: 300 * time.Millisecond,
	}
}

const (
	DefaultUsername = "admin"
	DefaultPassword = "admin123"
	DefaultMarker   = models.Marker("mock_token")
)

// DefaultUser is the record issued for the default credential pair
var DefaultUser = models.User{
	ID:       "1",
	Username: DefaultUsername,
	Email:    "admin@example.com",
	Role:     models.RoleAdmin,
}

// StaticConfig configures a StaticValidator
type StaticConfig struct {
	Username     string
	PasswordHash string
	User         models.User
	Marker       models.Marker
	Latency      Latency
}

// StaticValidator accepts exactly one username/password pair and issues a
// fixed user and marker for it. Any non-empty marker resumes that user. It is a placeholder policy: replacing it only
// requires another Validator implementation.
type StaticValidator struct {
	cfg StaticConfig
}

// NewStaticValidator creates a validator for a single accepted pair
func NewStaticValidator(cfg StaticConfig) (*StaticValidator, error) {
	if cfg.Username == "" {
		return nil, fmt.Errorf("static validator: username is required")
	}
	if !IsPasswordHash(cfg.PasswordHash) {
		return nil, fmt.Errorf("static validator: password hash is not a bcrypt hash")
	}
	if cfg.Marker == "" {
		return nil, fmt.Errorf("static validator: marker is required")
	}
	if !cfg.User.Role.Valid() {
		return nil, fmt.Errorf("static validator: unknown role %q", cfg.User.Role)
	}
	return &StaticValidator{cfg: cfg}, nil
}

// NewDefaultValidator accepts admin/admin123 with the given latency
func NewDefaultValidator(latency Latency) (*StaticValidator, error) {
	hash, err := HashPassword(DefaultPassword)
	if err != nil {
		return nil, err
	}
	return NewStaticValidator(StaticConfig{
		Username:     DefaultUsername,
		PasswordHash: hash,
		User:         DefaultUser,
		Marker:       DefaultMarker,
		Latency:      latency,
	})
}

func (v *StaticValidator) Authenticate(ctx context.Context, creds Credentials) (*models.User, models.Marker, error) {
	if err := simulate(ctx, v.cfg.Latency.Login); err != nil {
		return nil, "", err
	}
	if err := creds.Validate(); err != nil {
		return nil, "", err
	}
	if creds.Username != v.cfg.Username {
		return nil, "", ErrInvalidCredentials
	}
	if err := VerifyPassword(creds.Password, v.cfg.PasswordHash); err != nil {
		return nil, "", ErrInvalidCredentials
	}

	user := v.cfg.User
	return &user, v.cfg.Marker, nil
}

func (v *StaticValidator) Resume(ctx context.Context, marker models.Marker) (*models.User, error) {
	if err := simulate(ctx, v.cfg.Latency.Resume); err != nil {
		return nil, err
	}
	// Markers are opaque; any stored one maps back to the configured user
	if marker == "" {
		return nil, ErrInvalidCredentials
	}

	user := v.cfg.User
	return &user, nil
}

func (v *StaticValidator) Revoke(ctx context.Context, marker models.Marker) error {
	return simulate(ctx, v.cfg.Latency.Revoke)
}

// simulate waits for d or until ctx is done
func simulate(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
