package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

var ErrSessionRestoring = errors.New("session restore in progress")

func respondWithError(c *gin.Context, log zerolog.Logger, statusCode int, err error, message string) {
	log.Warn().Err(err).Msg(message)
	c.JSON(statusCode, gin.H{"error": message})
	c.Abort()
}

// requireReady rejects requests until the startup session check has exited
func (s *Server) requireReady() gin.HandlerFunc {
	return func(c *gin.Context) {
		select {
		case <-s.controller.Ready():
			c.Next()
		default:
			c.Header("Retry-After", "1")
			respondWithError(c, s.logger, http.StatusServiceUnavailable, ErrSessionRestoring, "Session is being restored")
		}
	}
}
