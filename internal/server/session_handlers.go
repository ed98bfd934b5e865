package server

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/hasirciogli/pro-auth/internal/session"
)

// LoginRequest represents a login request
type LoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// getSession returns the current auth state
func (s *Server) getSession(c *gin.Context) {
	c.JSON(http.StatusOK, s.controller.View())
}

// login starts a login attempt; the outcome arrives through getSession or
// the event stream
func (s *Server) login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	s.controller.Login(req.Username, req.Password)

	c.JSON(http.StatusAccepted, s.controller.View())
}

// logout ends the current session
func (s *Server) logout(c *gin.Context) {
	s.controller.Logout()

	c.JSON(http.StatusAccepted, s.controller.View())
}

// streamSession pushes the auth state as server-sent events: the current
// state first, then one event per transition. Slow clients only ever see the
// newest state.
func (s *Server) streamSession(c *gin.Context) {
	updates := make(chan session.View, 1)
	unsubscribe := s.controller.Subscribe(func(st session.State) {
		v := st.View()
		select {
		case updates <- v:
		default:
			// Replace the undelivered state with the newer one
			select {
			case <-updates:
			default:
			}
			updates <- v
		}
	})
	defer unsubscribe()

	c.Header("Cache-Control", "no-cache")
	c.Header("X-Accel-Buffering", "no")

	c.SSEvent("state", s.controller.View())
	c.Writer.Flush()

	ctx := c.Request.Context()
	c.Stream(func(w io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case v := <-updates:
			c.SSEvent("state", v)
			return true
		}
	})

	s.logger.Debug().Str("client_ip", c.ClientIP()).Msg("Session event stream closed")
}
