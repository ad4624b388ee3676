package rest

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/whttlr/cnc-bridge/internal/api/websocket"
	"github.com/whttlr/cnc-bridge/internal/control"
	"github.com/whttlr/cnc-bridge/internal/serial"
	"github.com/whttlr/cnc-bridge/internal/types"
)

// getMachineStatus returns the latest cached snapshot, or performs a fresh
// exchange when ?fresh=true is set.
func (s *Server) getMachineStatus(c *gin.Context) {
	ctrl := s.lm.Controller()

	if c.Query("fresh") == "true" {
		state, err := ctrl.Query(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusBadGateway, types.NewErrorResponse(
				types.CodeMachineUnreachable, "status query failed", err.Error()))
			return
		}
		c.JSON(http.StatusOK, state)
		return
	}

	state := ctrl.Cached()
	if state == nil {
		c.JSON(http.StatusServiceUnavailable, types.NewErrorResponse(
			types.CodeNoStatus, "no machine status captured yet", nil))
		return
	}
	c.JSON(http.StatusOK, state)
}

// getMachineHealth recomputes the full health snapshot on every call and
// mirrors it onto the live feed.
func (s *Server) getMachineHealth(c *gin.Context) {
	snap := s.lm.Controller().Health(c.Request.Context())
	s.wsHub.Broadcast(websocket.NewMessage(websocket.MessageTypeHealth, snap))
	c.JSON(http.StatusOK, snap)
}

func (s *Server) unlockMachine(c *gin.Context) {
	result, err := s.lm.Controller().Unlock(c.Request.Context())
	s.respondCommand(c, result, err)
}

func (s *Server) homeMachine(c *gin.Context) {
	result, err := s.lm.Controller().Home(c.Request.Context())
	s.respondCommand(c, result, err)
}

func (s *Server) softResetMachine(c *gin.Context) {
	result, err := s.lm.Controller().SoftReset(c.Request.Context())
	s.respondCommand(c, result, err)
}

func (s *Server) emergencyStop(c *gin.Context) {
	result, err := s.lm.Controller().EmergencyStop()
	s.respondCommand(c, result, err)
}

type gcodeRequest struct {
	Command string `json:"command" binding:"required"`
}

func (s *Server) sendGcode(c *gin.Context) {
	var req gcodeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, types.NewErrorResponse(
			types.CodeInvalidRequest, "command field is required", err.Error()))
		return
	}

	cmd := strings.TrimSpace(req.Command)
	if cmd == "" || strings.ContainsAny(cmd, "\r\n") {
		c.JSON(http.StatusBadRequest, types.NewErrorResponse(
			types.CodeInvalidRequest, "command must be a single non-empty line", nil))
		return
	}

	result, err := s.lm.Controller().SendGcode(c.Request.Context(), cmd)
	s.respondCommand(c, result, err)
}

// respondCommand maps a command outcome to HTTP. A safety denial is a 409
// carrying the decision, not an error; channel failures are 502.
func (s *Server) respondCommand(c *gin.Context, result control.CommandResult, err error) {
	switch {
	case errors.Is(err, control.ErrDiagnosticsBusy):
		c.JSON(http.StatusConflict, types.NewErrorResponse(
			types.CodeDiagnosticsBusy, "a diagnostics run is in progress", result))
	case err != nil:
		var cmdErr *serial.CommandError
		if errors.As(err, &cmdErr) {
			c.JSON(http.StatusUnprocessableEntity, types.NewErrorResponse(
				types.CodeCommandRejected, err.Error(), result))
			return
		}
		s.logger.Error("Machine command failed",
			zap.String("operation", string(result.Operation)),
			zap.Error(err))
		c.JSON(http.StatusBadGateway, types.NewErrorResponse(
			types.CodeMachineUnreachable, err.Error(), result))
	case result.Denied != nil:
		c.JSON(http.StatusConflict, gin.H{
			"operation": result.Operation,
			"executed":  false,
			"denied":    result.Denied,
		})
	default:
		c.JSON(http.StatusOK, result)
	}
}
