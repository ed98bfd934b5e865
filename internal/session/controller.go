// Package session owns the client session lifecycle: startup restoration,
// login and logout, and the auth state observed by presentation code.
package session

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/hasirciogli/pro-auth/internal/auth"
	"github.com/hasirciogli/pro-auth/internal/models"
	"github.com/hasirciogli/pro-auth/internal/store"
)

// DefaultRefreshSpec matches how long a restored session is trusted before
// it is checked again
const DefaultRefreshSpec = "@every 5m"

type opKind int

const (
	opRestore opKind = iota
	opLogin
	opLogout
	opRevalidate
)

func (k opKind) String() string {
	switch k {
	case opRestore:
		return "restore"
	case opLogin:
		return "login"
	case opLogout:
		return "logout"
	case opRevalidate:
		return "revalidate"
	}
	return "unknown"
}

type request struct {
	kind  opKind
	creds auth.Credentials
	// entered is set once the busy phase has been published
	entered bool
}

// busyPhase is the state entered as soon as req starts
func (r request) busyPhase() State {
	switch r.kind {
	case opLogin:
		return LoggingIn{}
	case opLogout:
		return LoggingOut{}
	}
	return nil
}

type subscriber struct {
	id     uint64
	fn     func(State)
	active atomic.Bool
	// mu is held while fn runs so unsubscribing waits for a delivery in progress
	mu sync.Mutex
}

// Option configures a Controller
type Option func(*Controller)

// WithLogger sets the logger used for lifecycle events
func WithLogger(log zerolog.Logger) Option {
	return func(c *Controller) {
		c.logger = log
	}
}

// WithRefresh schedules a background session check using a cron spec
// such as "@every 5m". An empty spec disables it.
func WithRefresh(spec string) Option {
	return func(c *Controller) {
		c.refreshSpec = spec
	}
}

// Controller runs one login, logout or session check at a time and
// publishes every state transition to its subscribers.
type Controller struct {
	validator   auth.Validator
	store       store.Store
	logger      zerolog.Logger
	ctx         context.Context
	refreshSpec string
	cron        *cron.Cron

	mu       sync.Mutex
	state    State
	running  bool
	current  opKind
	next     *request
	idle     chan struct{}
	ready    chan struct{}
	subs     map[uint64]*subscriber
	subSeq   uint64
	disposed bool
}

// New creates a controller and immediately starts restoring any session
// left in the store.
func New(v auth.Validator, s store.Store, opts ...Option) (*Controller, error) {
	c := &Controller{
		validator: v,
		store:     s,
		logger:    zerolog.Nop(),
		ctx:       context.Background(),
		state:     Restoring{},
		ready:     make(chan struct{}),
		subs:      make(map[uint64]*subscriber),
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.refreshSpec != "" {
		c.cron = cron.New()
		if _, err := c.cron.AddFunc(c.refreshSpec, c.Revalidate); err != nil {
			return nil, fmt.Errorf("invalid session refresh schedule %q: %w", c.refreshSpec, err)
		}
	}

	c.running = true
	c.current = opRestore
	c.idle = make(chan struct{})
	go c.run(request{kind: opRestore})

	if c.cron != nil {
		c.cron.Start()
	}

	return c, nil
}

// Login starts a login attempt. The outcome is observed through State.
func (c *Controller) Login(username, password string) {
	c.submit(request{
		kind:  opLogin,
		creds: auth.Credentials{Username: username, Password: password},
	})
}

// Logout ends the current session, if any. It never fails observably.
func (c *Controller) Logout() {
	c.submit(request{kind: opLogout})
}

// Revalidate checks that an authenticated session still has its marker.
// It is skipped while any other operation is running or queued.
func (c *Controller) Revalidate() {
	c.submit(request{kind: opRevalidate})
}

// State returns the current auth state
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// View returns the current auth state flattened for presentation
func (c *Controller) View() View {
	return c.State().View()
}

// Ready is closed once the startup session check has finished
func (c *Controller) Ready() <-chan struct{} {
	return c.ready
}

// Subscribe registers fn to receive every subsequent state. fn is called
// in transition order, outside the controller lock, and must not call
// Dispose or its own unsubscribe function. Unsubscribing waits for a call
// to fn already in progress; once it returns, fn receives nothing more.
func (c *Controller) Subscribe(fn func(State)) (unsubscribe func()) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.disposed {
		return func() {}
	}

	c.subSeq++
	sub := &subscriber{id: c.subSeq, fn: fn}
	sub.active.Store(true)
	c.subs[sub.id] = sub

	return func() {
		sub.mu.Lock()
		sub.active.Store(false)
		sub.mu.Unlock()

		c.mu.Lock()
		delete(c.subs, sub.id)
		c.mu.Unlock()
	}
}

// Wait blocks until no operation is running or queued
func (c *Controller) Wait(ctx context.Context) error {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return nil
	}
	idle := c.idle
	c.mu.Unlock()

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Dispose detaches all subscribers, drops queued requests and stops the
// refresh schedule. An operation already in flight still runs to
// completion before Dispose returns.
func (c *Controller) Dispose() {
	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		return
	}
	c.disposed = true
	c.next = nil
	for _, sub := range c.subs {
		sub.active.Store(false)
	}
	c.subs = make(map[uint64]*subscriber)
	running, idle := c.running, c.idle
	c.mu.Unlock()

	if c.cron != nil {
		<-c.cron.Stop().Done()
	}
	if running {
		<-idle
	}

	c.logger.Debug().Msg("Session controller disposed")
}

func (c *Controller) submit(req request) {
	c.mu.Lock()

	if c.disposed {
		c.mu.Unlock()
		c.logger.Debug().Str("op", req.kind.String()).Msg("Ignoring request on disposed session controller")
		return
	}

	if req.kind == opRevalidate {
		_, authenticated := c.state.(Authenticated)
		if c.running || !authenticated {
			c.mu.Unlock()
			return
		}
	}

	if c.running {
		if c.next != nil {
			c.logger.Debug().
				Str("op", req.kind.String()).
				Str("replaced", c.next.kind.String()).
				Msg("Replacing queued session request")
		}

		// A background check never holds back a user request: its outcome
		// is discarded, so the request's busy phase starts now
		var subs []*subscriber
		busy := req.busyPhase()
		if c.current == opRevalidate && busy != nil {
			req.entered = true
			c.state = busy
			subs = c.snapshotLocked()
		}
		c.next = &req
		c.mu.Unlock()

		if req.entered {
			c.notify(subs, busy)
		}
		return
	}

	c.running = true
	c.current = req.kind
	c.idle = make(chan struct{})

	// Enter the busy phase before returning so a retry clears a previous
	// error immediately
	var subs []*subscriber
	busy := req.busyPhase()
	if busy != nil {
		c.state = busy
		subs = c.snapshotLocked()
	}
	c.mu.Unlock()

	if busy != nil {
		c.notify(subs, busy)
	}

	go c.run(req)
}

func (c *Controller) run(req request) {
	for {
		c.execute(req)

		c.mu.Lock()
		if c.next == nil || c.disposed {
			c.next = nil
			c.running = false
			close(c.idle)
			c.mu.Unlock()
			return
		}
		req = *c.next
		c.next = nil
		c.current = req.kind

		var subs []*subscriber
		busy := req.busyPhase()
		if req.entered {
			busy = nil
		}
		if busy != nil {
			c.state = busy
			subs = c.snapshotLocked()
		}
		c.mu.Unlock()

		if busy != nil {
			c.notify(subs, busy)
		}
	}
}

func (c *Controller) execute(req request) {
	switch req.kind {
	case opRestore:
		c.restore()
	case opLogin:
		c.login(req.creds)
	case opLogout:
		c.logout()
	case opRevalidate:
		c.revalidate()
	}
}

func (c *Controller) restore() {
	defer close(c.ready)

	marker, ok, err := c.store.Get(c.ctx)
	if err != nil {
		c.logger.Error().Err(err).Msg("Failed to read session marker")
		c.transition(Idle{})
		return
	}
	if !ok {
		c.logger.Debug().Msg("No stored session")
		c.transition(Idle{})
		return
	}

	user, err := c.validator.Resume(c.ctx, marker)
	if err != nil {
		c.logger.Warn().Err(err).Msg("Stored session rejected")
		c.discardMarker(err)
		c.transition(Idle{})
		return
	}

	c.logger.Info().Str("user_id", user.ID).Str("username", user.Username).Msg("Session restored")
	c.transition(Authenticated{User: *user})
}

func (c *Controller) login(creds auth.Credentials) {
	user, marker, err := c.validator.Authenticate(c.ctx, creds)

	// A newer request is waiting; its outcome is the one that counts
	if c.superseded() {
		c.logger.Debug().Str("username", creds.Username).Msg("Login result superseded")
		return
	}

	if err != nil {
		c.logger.Info().Err(err).Str("username", creds.Username).Msg("Login rejected")
		c.transition(Failed{Message: failureMessage(err)})
		return
	}

	if err := c.store.Put(c.ctx, marker); err != nil {
		c.logger.Error().Err(err).Str("username", creds.Username).Msg("Failed to persist session marker")
		c.transition(Failed{Message: failureMessage(err)})
		return
	}

	c.logger.Info().Str("user_id", user.ID).Str("username", user.Username).Msg("User logged in")
	c.transition(Authenticated{User: *user})
}

func (c *Controller) logout() {
	marker, ok, err := c.store.Get(c.ctx)
	if err != nil {
		c.logger.Warn().Err(err).Msg("Failed to read session marker during logout")
	}

	if ok {
		if err := c.validator.Revoke(c.ctx, marker); err != nil {
			c.logger.Warn().Err(err).Msg("Failed to revoke session")
		}
	}

	if err := c.store.Clear(c.ctx); err != nil {
		c.logger.Warn().Err(err).Msg("Failed to clear session marker")
	}

	c.logger.Info().Msg("User logged out")
	c.transition(Idle{})
}

func (c *Controller) revalidate() {
	if _, ok := c.State().(Authenticated); !ok {
		return
	}

	marker, ok, err := c.store.Get(c.ctx)
	if err != nil {
		// Keep the session; the next check may succeed
		c.logger.Warn().Err(err).Msg("Failed to read session marker during revalidation")
		return
	}

	if ok {
		_, err = c.validator.Resume(c.ctx, marker)
		if err == nil || !errors.Is(err, auth.ErrInvalidCredentials) {
			if err != nil {
				c.logger.Warn().Err(err).Msg("Session revalidation failed")
			}
			return
		}
		c.discardMarker(err)
	}

	if c.superseded() {
		return
	}

	c.logger.Info().Msg("Session invalidated")
	c.transition(Idle{})
}

// discardMarker clears a marker the validator no longer accepts
func (c *Controller) discardMarker(cause error) {
	if !errors.Is(cause, auth.ErrInvalidCredentials) {
		return
	}
	if err := c.store.Clear(c.ctx); err != nil {
		c.logger.Warn().Err(err).Msg("Failed to clear rejected session marker")
	}
}

func (c *Controller) superseded() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.next != nil
}

func (c *Controller) transition(next State) {
	c.mu.Lock()
	prev := c.state
	c.state = next
	subs := c.snapshotLocked()
	c.mu.Unlock()

	c.logger.Debug().
		Str("from", string(prev.Phase())).
		Str("to", string(next.Phase())).
		Msg("Session state changed")

	c.notify(subs, next)
}

// snapshotLocked returns subscribers in registration order. c.mu must be held.
func (c *Controller) snapshotLocked() []*subscriber {
	subs := make([]*subscriber, 0, len(c.subs))
	for _, sub := range c.subs {
		subs = append(subs, sub)
	}
	sort.Slice(subs, func(i, j int) bool { return subs[i].id < subs[j].id })
	return subs
}

func (c *Controller) notify(subs []*subscriber, s State) {
	for _, sub := range subs {
		sub.mu.Lock()
		if sub.active.Load() {
			sub.fn(s)
		}
		sub.mu.Unlock()
	}
}

func failureMessage(err error) string {
	switch {
	case errors.Is(err, auth.ErrInvalidCredentials):
		return auth.ErrInvalidCredentials.Error()
	case errors.Is(err, store.ErrStorageUnavailable):
		return store.ErrStorageUnavailable.Error()
	default:
		return "login failed"
	}
}

// UserOf returns the session user when s is Authenticated
func UserOf(s State) (models.User, bool) {
	if a, ok := s.(Authenticated); ok {
		return a.User, true
	}
	return models.User{}, false
}
