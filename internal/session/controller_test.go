package session

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hasirciogli/pro-auth/internal/auth"
	"github.com/hasirciogli/pro-auth/internal/models"
	"github.com/hasirciogli/pro-auth/internal/store"
)

var (
	staticOnce      sync.Once
	staticValidator *auth.StaticValidator
)

// sharedStatic avoids paying the bcrypt hash cost in every test
func sharedStatic(t *testing.T) *auth.StaticValidator {
	t.Helper()
	staticOnce.Do(func() {
		v, err := auth.NewDefaultValidator(auth.Latency{})
		if err != nil {
			panic(err)
		}
		staticValidator = v
	})
	return staticValidator
}

// fakeValidator wraps the static policy with gates and call accounting
type fakeValidator struct {
	inner        *auth.StaticValidator
	loginGate    chan struct{}
	resumeGate   chan struct{}
	rejectResume atomic.Bool

	inFlight    atomic.Int32
	maxInFlight atomic.Int32
	logins      atomic.Int32
	revokes     atomic.Int32
}

func newFakeValidator(t *testing.T) *fakeValidator {
	return &fakeValidator{inner: sharedStatic(t)}
}

func (f *fakeValidator) Authenticate(ctx context.Context, creds auth.Credentials) (*models.User, models.Marker, error) {
	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		m := f.maxInFlight.Load()
		if n <= m || f.maxInFlight.CompareAndSwap(m, n) {
			break
		}
	}
	f.logins.Add(1)

	if f.loginGate != nil {
		<-f.loginGate
	}
	return f.inner.Authenticate(ctx, creds)
}

func (f *fakeValidator) Resume(ctx context.Context, marker models.Marker) (*models.User, error) {
	if f.resumeGate != nil {
		<-f.resumeGate
	}
	if f.rejectResume.Load() {
		return nil, auth.ErrInvalidCredentials
	}
	return f.inner.Resume(ctx, marker)
}

func (f *fakeValidator) Revoke(ctx context.Context, marker models.Marker) error {
	f.revokes.Add(1)
	return f.inner.Revoke(ctx, marker)
}

// brokenStore fails every write
type brokenStore struct {
	store.MemoryStore
}

func (b *brokenStore) Put(ctx context.Context, marker models.Marker) error {
	return fmt.Errorf("%w: quota exceeded", store.ErrStorageUnavailable)
}

// recorder collects every state published to a subscriber
type recorder struct {
	mu     sync.Mutex
	states []State
}

func (r *recorder) record(s State) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, s)
}

func (r *recorder) phases() []Phase {
	r.mu.Lock()
	defer r.mu.Unlock()
	phases := make([]Phase, len(r.states))
	for i, s := range r.states {
		phases[i] = s.Phase()
	}
	return phases
}

func newController(t *testing.T, v auth.Validator, s store.Store, opts ...Option) *Controller {
	t.Helper()
	c, err := New(v, s, opts...)
	require.NoError(t, err)
	t.Cleanup(c.Dispose)
	return c
}

func waitReady(t *testing.T, c *Controller) {
	t.Helper()
	select {
	case <-c.Ready():
	case <-time.After(5 * time.Second):
		t.Fatal("controller never finished restoring")
	}
}

func settle(t *testing.T, c *Controller) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, c.Wait(ctx))
}

func storedMarker(t *testing.T, s store.Store) (models.Marker, bool) {
	t.Helper()
	marker, ok, err := s.Get(context.Background())
	require.NoError(t, err)
	return marker, ok
}

func TestController_StartsRestoring(t *testing.T) {
	v := newFakeValidator(t)
	v.resumeGate = make(chan struct{})

	s := store.NewMemoryStore()
	require.NoError(t, s.Put(context.Background(), auth.DefaultMarker))

	c := newController(t, v, s)

	assert.Equal(t, PhaseRestoring, c.State().Phase())
	assert.True(t, c.View().Loading)

	close(v.resumeGate)
	waitReady(t, c)
	assert.Equal(t, PhaseAuthenticated, c.State().Phase())
}

func TestController_RestoreWithoutMarker(t *testing.T) {
	c := newController(t, newFakeValidator(t), store.NewMemoryStore())
	waitReady(t, c)

	assert.Equal(t, Idle{}, c.State())
	assert.Equal(t, View{Phase: PhaseIdle}, c.View())
}

func TestController_RestoreWithMarker(t *testing.T) {
	s := store.NewMemoryStore()
	require.NoError(t, s.Put(context.Background(), auth.DefaultMarker))

	v := newFakeValidator(t)
	c := newController(t, v, s)
	waitReady(t, c)

	user, ok := UserOf(c.State())
	require.True(t, ok)
	assert.Equal(t, auth.DefaultUser, user)
	assert.Zero(t, v.logins.Load(), "restoring must not ask for credentials")
}

func TestController_RestoreAnyStoredMarker(t *testing.T) {
	for _, marker := range []models.Marker{"mock_token", "issued-by-another-client"} {
		t.Run(string(marker), func(t *testing.T) {
			s := store.NewMemoryStore()
			require.NoError(t, s.Put(context.Background(), marker))

			c := newController(t, newFakeValidator(t), s)
			waitReady(t, c)

			assert.Equal(t, PhaseAuthenticated, c.State().Phase())
			stored, ok := storedMarker(t, s)
			assert.True(t, ok)
			assert.Equal(t, marker, stored)
		})
	}
}

func TestController_RestoreRejectedMarkerClearsStore(t *testing.T) {
	s := store.NewMemoryStore()
	require.NoError(t, s.Put(context.Background(), "stale-marker"))

	v := newFakeValidator(t)
	v.rejectResume.Store(true)
	c := newController(t, v, s)
	waitReady(t, c)

	assert.Equal(t, Idle{}, c.State())
	_, ok := storedMarker(t, s)
	assert.False(t, ok)
}

func TestController_LoginSuccess(t *testing.T) {
	s := store.NewMemoryStore()
	c := newController(t, newFakeValidator(t), s)
	waitReady(t, c)

	c.Login("admin", "admin123")
	settle(t, c)

	state, ok := c.State().(Authenticated)
	require.True(t, ok, "got %T", c.State())
	assert.Equal(t, models.RoleAdmin, state.User.Role)

	view := c.View()
	assert.True(t, view.Authenticated())
	assert.False(t, view.Loading)
	assert.Empty(t, view.Error)

	marker, ok := storedMarker(t, s)
	assert.True(t, ok)
	assert.Equal(t, auth.DefaultMarker, marker)
}

func TestController_LoginRejected(t *testing.T) {
	tests := []struct {
		name     string
		username string
		password string
	}{
		{name: "wrong password", username: "admin", password: "wrong"},
		{name: "wrong username", username: "operator", password: "admin123"},
		{name: "empty password", username: "admin", password: ""},
		{name: "empty username", username: "", password: "admin123"},
		{name: "swapped", username: "admin123", password: "admin"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := store.NewMemoryStore()
			c := newController(t, newFakeValidator(t), s)
			waitReady(t, c)

			c.Login(tt.username, tt.password)
			settle(t, c)

			assert.Equal(t, Failed{Message: "invalid username or password"}, c.State())
			assert.Nil(t, c.View().User)
			assert.False(t, c.View().Loading)

			_, ok := storedMarker(t, s)
			assert.False(t, ok, "a rejected login must not touch the store")
		})
	}
}

func TestController_LogoutAfterLogin(t *testing.T) {
	s := store.NewMemoryStore()
	v := newFakeValidator(t)
	c := newController(t, v, s)
	waitReady(t, c)

	c.Login("admin", "admin123")
	settle(t, c)
	require.Equal(t, PhaseAuthenticated, c.State().Phase())

	c.Logout()
	settle(t, c)

	assert.Equal(t, Idle{}, c.State())
	_, ok := storedMarker(t, s)
	assert.False(t, ok)
	assert.Equal(t, int32(1), v.revokes.Load())
}

func TestController_LogoutTwice(t *testing.T) {
	s := store.NewMemoryStore()
	c := newController(t, newFakeValidator(t), s)
	waitReady(t, c)

	c.Login("admin", "admin123")
	settle(t, c)

	c.Logout()
	settle(t, c)
	c.Logout()
	settle(t, c)

	assert.Equal(t, Idle{}, c.State())
	_, ok := storedMarker(t, s)
	assert.False(t, ok)
}

func TestController_RestartKeepsSession(t *testing.T) {
	s := store.NewMemoryStore()

	first := newController(t, newFakeValidator(t), s)
	waitReady(t, first)
	first.Login("admin", "admin123")
	settle(t, first)
	first.Dispose()

	second := newController(t, newFakeValidator(t), s)
	waitReady(t, second)
	assert.Equal(t, PhaseAuthenticated, second.State().Phase())

	second.Logout()
	settle(t, second)
	second.Dispose()

	third := newController(t, newFakeValidator(t), s)
	waitReady(t, third)
	assert.Equal(t, Idle{}, third.State())
}

func TestController_BackToBackLoginsLastWins(t *testing.T) {
	tests := []struct {
		name      string
		first     [2]string
		second    [2]string
		wantPhase Phase
		wantStore bool
	}{
		{
			name:      "valid then invalid",
			first:     [2]string{"admin", "admin123"},
			second:    [2]string{"admin", "nope"},
			wantPhase: PhaseFailed,
			wantStore: false,
		},
		{
			name:      "invalid then valid",
			first:     [2]string{"admin", "nope"},
			second:    [2]string{"admin", "admin123"},
			wantPhase: PhaseAuthenticated,
			wantStore: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := store.NewMemoryStore()
			v := newFakeValidator(t)
			v.loginGate = make(chan struct{})
			c := newController(t, v, s)
			waitReady(t, c)

			c.Login(tt.first[0], tt.first[1])
			c.Login(tt.second[0], tt.second[1])
			assert.Equal(t, PhaseLoggingIn, c.State().Phase())

			close(v.loginGate)
			settle(t, c)

			assert.Equal(t, tt.wantPhase, c.State().Phase())
			_, ok := storedMarker(t, s)
			assert.Equal(t, tt.wantStore, ok)
			assert.Equal(t, int32(1), v.maxInFlight.Load(), "credential checks must never overlap")
		})
	}
}

func TestController_QueuedRequestsKeepOnlyTheLatest(t *testing.T) {
	v := newFakeValidator(t)
	v.loginGate = make(chan struct{})
	c := newController(t, v, store.NewMemoryStore())
	waitReady(t, c)

	c.Login("admin", "wrong-1")
	c.Login("admin", "wrong-2")
	c.Login("admin", "wrong-3")
	c.Login("admin", "admin123")

	close(v.loginGate)
	settle(t, c)

	assert.Equal(t, PhaseAuthenticated, c.State().Phase())
	assert.Equal(t, int32(2), v.logins.Load(), "in-flight attempt plus the latest queued one")
}

func TestController_RetryClearsErrorImmediately(t *testing.T) {
	v := newFakeValidator(t)
	c := newController(t, v, store.NewMemoryStore())
	waitReady(t, c)

	c.Login("admin", "wrong")
	settle(t, c)
	require.Equal(t, PhaseFailed, c.State().Phase())

	v.loginGate = make(chan struct{})
	c.Login("admin", "admin123")

	view := c.View()
	assert.Equal(t, PhaseLoggingIn, view.Phase)
	assert.Empty(t, view.Error)
	assert.True(t, view.Loading)

	close(v.loginGate)
	settle(t, c)
	assert.Equal(t, PhaseAuthenticated, c.State().Phase())
}

func TestController_LoadingOnlyWhileOperationInFlight(t *testing.T) {
	c := newController(t, newFakeValidator(t), store.NewMemoryStore())
	waitReady(t, c)

	rec := &recorder{}
	c.Subscribe(rec.record)

	c.Login("admin", "wrong")
	settle(t, c)
	c.Login("admin", "admin123")
	settle(t, c)
	c.Logout()
	settle(t, c)

	assert.Equal(t, []Phase{
		PhaseLoggingIn, PhaseFailed,
		PhaseLoggingIn, PhaseAuthenticated,
		PhaseLoggingOut, PhaseIdle,
	}, rec.phases())

	for _, s := range rec.states {
		view := s.View()
		busy := s.Phase() == PhaseLoggingIn || s.Phase() == PhaseLoggingOut
		assert.Equal(t, busy, view.Loading, "phase %s", s.Phase())
		if view.Loading {
			assert.Empty(t, view.Error)
		}
	}
}

func TestController_RequestsDuringRestoreAreQueued(t *testing.T) {
	v := newFakeValidator(t)
	v.resumeGate = make(chan struct{})

	s := store.NewMemoryStore()
	require.NoError(t, s.Put(context.Background(), auth.DefaultMarker))

	c := newController(t, v, s)
	rec := &recorder{}
	c.Subscribe(rec.record)

	c.Logout()
	assert.Equal(t, PhaseRestoring, c.State().Phase())

	close(v.resumeGate)
	settle(t, c)

	assert.Equal(t, []Phase{PhaseAuthenticated, PhaseLoggingOut, PhaseIdle}, rec.phases())
}

func TestController_StorageUnavailableOnLogin(t *testing.T) {
	c := newController(t, newFakeValidator(t), &brokenStore{})
	waitReady(t, c)

	c.Login("admin", "admin123")
	settle(t, c)

	assert.Equal(t, Failed{Message: "session storage unavailable"}, c.State())

	// The failure is recoverable: the controller keeps serving requests
	c.Logout()
	settle(t, c)
	assert.Equal(t, Idle{}, c.State())
}

func TestController_UnsubscribedViewIsNotUpdated(t *testing.T) {
	c := newController(t, newFakeValidator(t), store.NewMemoryStore())
	waitReady(t, c)

	kept, dropped := &recorder{}, &recorder{}
	c.Subscribe(kept.record)
	unsubscribe := c.Subscribe(dropped.record)
	unsubscribe()

	c.Login("admin", "admin123")
	settle(t, c)

	assert.NotEmpty(t, kept.phases())
	assert.Empty(t, dropped.phases())
}

func TestController_UnsubscribeWaitsForDelivery(t *testing.T) {
	c := newController(t, newFakeValidator(t), store.NewMemoryStore())
	waitReady(t, c)

	entered, gate := make(chan struct{}), make(chan struct{})
	rec := &recorder{}
	var once sync.Once
	unsubscribe := c.Subscribe(func(s State) {
		rec.record(s)
		once.Do(func() {
			close(entered)
			<-gate
		})
	})

	go c.Login("admin", "admin123")
	<-entered

	unsubscribed := make(chan struct{})
	go func() {
		unsubscribe()
		close(unsubscribed)
	}()

	select {
	case <-unsubscribed:
		t.Fatal("unsubscribe returned while a delivery was in progress")
	case <-time.After(50 * time.Millisecond):
	}

	close(gate)
	<-unsubscribed
	settle(t, c)

	assert.Equal(t, PhaseAuthenticated, c.State().Phase())
	assert.Equal(t, []Phase{PhaseLoggingIn}, rec.phases())
}

func TestController_DisposeLetsInFlightOperationFinish(t *testing.T) {
	s := store.NewMemoryStore()
	v := newFakeValidator(t)
	v.loginGate = make(chan struct{})
	c := newController(t, v, s)
	waitReady(t, c)

	rec := &recorder{}
	c.Subscribe(rec.record)

	c.Login("admin", "admin123")
	require.Equal(t, []Phase{PhaseLoggingIn}, rec.phases())

	disposed := make(chan struct{})
	go func() {
		c.Dispose()
		close(disposed)
	}()

	// Dispose waits for the running login
	select {
	case <-disposed:
		t.Fatal("Dispose returned while a login was in flight")
	case <-time.After(50 * time.Millisecond):
	}

	close(v.loginGate)
	<-disposed

	_, ok := storedMarker(t, s)
	assert.True(t, ok, "the in-flight login still completes")
	assert.Equal(t, []Phase{PhaseLoggingIn}, rec.phases(), "disposed views receive nothing")

	c.Login("admin", "admin123")
	assert.Equal(t, int32(1), v.logins.Load(), "requests after Dispose are ignored")
}

func TestController_Revalidate(t *testing.T) {
	s := store.NewMemoryStore()
	c := newController(t, newFakeValidator(t), s)
	waitReady(t, c)

	c.Login("admin", "admin123")
	settle(t, c)

	c.Revalidate()
	settle(t, c)
	assert.Equal(t, PhaseAuthenticated, c.State().Phase(), "marker still present")

	require.NoError(t, s.Clear(context.Background()))
	c.Revalidate()
	settle(t, c)
	assert.Equal(t, Idle{}, c.State())
}

func TestController_RequestDuringRevalidationEntersBusyPhase(t *testing.T) {
	tests := []struct {
		name    string
		request func(c *Controller)
		busy    Phase
		final   Phase
		stored  bool
	}{
		{
			name:    "logout",
			request: func(c *Controller) { c.Logout() },
			busy:    PhaseLoggingOut,
			final:   PhaseIdle,
			stored:  false,
		},
		{
			name:    "login",
			request: func(c *Controller) { c.Login("admin", "admin123") },
			busy:    PhaseLoggingIn,
			final:   PhaseAuthenticated,
			stored:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := store.NewMemoryStore()
			v := newFakeValidator(t)
			c := newController(t, v, s)
			waitReady(t, c)

			c.Login("admin", "admin123")
			settle(t, c)
			require.Equal(t, PhaseAuthenticated, c.State().Phase())

			v.resumeGate = make(chan struct{})
			rec := &recorder{}
			c.Subscribe(rec.record)

			c.Revalidate()
			tt.request(c)

			assert.Equal(t, tt.busy, c.State().Phase())
			assert.True(t, c.View().Loading)

			close(v.resumeGate)
			settle(t, c)

			assert.Equal(t, tt.final, c.State().Phase())
			assert.Equal(t, []Phase{tt.busy, tt.final}, rec.phases(), "busy phase is published once")
			_, ok := storedMarker(t, s)
			assert.Equal(t, tt.stored, ok)
		})
	}
}

func TestController_RevalidateIgnoredWhenNotAuthenticated(t *testing.T) {
	c := newController(t, newFakeValidator(t), store.NewMemoryStore())
	waitReady(t, c)

	rec := &recorder{}
	c.Subscribe(rec.record)

	c.Revalidate()
	settle(t, c)

	assert.Empty(t, rec.phases())
}

func TestController_ScheduledRevalidation(t *testing.T) {
	s := store.NewMemoryStore()
	c := newController(t, newFakeValidator(t), s, WithRefresh("@every 1s"))
	waitReady(t, c)

	c.Login("admin", "admin123")
	settle(t, c)
	require.Equal(t, PhaseAuthenticated, c.State().Phase())

	// Another process ends the session
	require.NoError(t, s.Clear(context.Background()))

	assert.Eventually(t, func() bool {
		return c.State().Phase() == PhaseIdle
	}, 5*time.Second, 50*time.Millisecond)
}

func TestNew_InvalidRefreshSchedule(t *testing.T) {
	_, err := New(newFakeValidator(t), store.NewMemoryStore(), WithRefresh("every now and then"))
	assert.Error(t, err)
}
