package rest

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func (s *Server) getSystemStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.lm.GetCurrentStatus())
}

// shutdown triggers a graceful stop. The response is written before the
// shutdown starts so the caller gets an answer on the socket it opened.
func (s *Server) shutdown(c *gin.Context) {
	s.logger.Warn("Shutdown requested via API",
		zap.String("username", c.GetString("username")))

	c.JSON(http.StatusOK, gin.H{"message": "shutdown initiated"})

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := s.lm.Shutdown(ctx); err != nil {
			s.logger.Error("Shutdown failed", zap.Error(err))
		}
	}()
}
