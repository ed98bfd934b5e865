package session

import "github.com/hasirciogli/pro-auth/internal/models"

// Phase names a State variant
type Phase string

const (
	PhaseIdle          Phase = "idle"
	PhaseRestoring     Phase = "restoring"
	PhaseAuthenticated Phase = "authenticated"
	PhaseLoggingIn     Phase = "logging_in"
	PhaseLoggingOut    Phase = "logging_out"
	PhaseFailed        Phase = "failed"
)

// State is the auth state of a Controller. Exactly one of the types below
// implements it at any time; a user exists only in Authenticated and an error
// message only in Failed.
type State interface {
	Phase() Phase
	View() View
	state()
}

// Idle means no session and no error
type Idle struct{}

// Restoring means the startup session check is in flight
type Restoring struct{}

// Authenticated holds the user of the current session
type Authenticated struct {
	User models.User
}

// LoggingIn means a credential check is in flight
type LoggingIn struct{}

// LoggingOut means the session is being torn down
type LoggingOut struct{}

// Failed means the last login attempt was rejected
type Failed struct {
	Message string
}

func (Idle) Phase() Phase          { return PhaseIdle }
func (Restoring) Phase() Phase     { return PhaseRestoring }
func (Authenticated) Phase() Phase { return PhaseAuthenticated }
func (LoggingIn) Phase() Phase     { return PhaseLoggingIn }
func (LoggingOut) Phase() Phase    { return PhaseLoggingOut }
func (Failed) Phase() Phase        { return PhaseFailed }

func (Idle) state()          {}
func (Restoring) state()     {}
func (Authenticated) state() {}
func (LoggingIn) state()     {}
func (LoggingOut) state()    {}
func (Failed) state()        {}

// View is the flattened shape handed to presentation code
type View struct {
	Phase   Phase        `json:"phase"`
	User    *models.User `json:"user,omitempty"`
	Loading bool         `json:"loading"`
	Error   string       `json:"error,omitempty"`
}

// Authenticated reports whether the view carries a user
func (v View) Authenticated() bool {
	return v.User != nil
}

func (s Idle) View() View      { return View{Phase: s.Phase()} }
func (s Restoring) View() View { return View{Phase: s.Phase(), Loading: true} }
func (s LoggingIn) View() View { return View{Phase: s.Phase(), Loading: true} }

func (s LoggingOut) View() View {
	return View{Phase: s.Phase(), Loading: true}
}

func (s Authenticated) View() View {
	user := s.User
	return View{Phase: s.Phase(), User: &user}
}

func (s Failed) View() View {
	return View{Phase: s.Phase(), Error: s.Message}
}
