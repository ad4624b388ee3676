package rest

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/whttlr/cnc-bridge/internal/control"
	"github.com/whttlr/cnc-bridge/internal/storage"
	"github.com/whttlr/cnc-bridge/internal/types"
)

// runDiagnostics executes the configured sequence synchronously and returns
// the full report. Live step progress is broadcast over the websocket feed
// while the run is in flight.
func (s *Server) runDiagnostics(c *gin.Context) {
	report, err := s.lm.Controller().RunDiagnostics(c.Request.Context())
	if errors.Is(err, control.ErrDiagnosticsBusy) {
		c.JSON(http.StatusConflict, types.NewErrorResponse(
			types.CodeDiagnosticsBusy, "a diagnostics run is already in progress", nil))
		return
	}
	if err != nil {
		s.logger.Error("Diagnostics run failed to start", zap.Error(err))
		c.JSON(http.StatusBadGateway, types.NewErrorResponse(
			types.CodeMachineUnreachable, err.Error(), nil))
		return
	}

	c.JSON(http.StatusOK, report)
}

func (s *Server) listDiagnosticsReports(c *gin.Context) {
	reports := s.lm.Reports()
	if reports == nil {
		c.JSON(http.StatusServiceUnavailable, types.NewErrorResponse(
			types.CodePersistenceDisabled, "report storage is not configured", nil))
		return
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	summaries, err := reports.ListReports(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, types.NewErrorResponse(
			types.CodeStorageError, err.Error(), nil))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"reports": summaries,
		"count":   len(summaries),
	})
}

func (s *Server) getDiagnosticsReport(c *gin.Context) {
	reports := s.lm.Reports()
	if reports == nil {
		c.JSON(http.StatusServiceUnavailable, types.NewErrorResponse(
			types.CodePersistenceDisabled, "report storage is not configured", nil))
		return
	}

	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, types.NewErrorResponse(
			types.CodeInvalidRequest, "invalid report id", nil))
		return
	}

	report, err := reports.GetReport(c.Request.Context(), id)
	if errors.Is(err, storage.ErrReportNotFound) {
		c.JSON(http.StatusNotFound, types.NewErrorResponse(
			types.CodeReportNotFound, "no report with that id", nil))
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, types.NewErrorResponse(
			types.CodeStorageError, err.Error(), nil))
		return
	}

	c.JSON(http.StatusOK, report)
}

func (s *Server) listEvents(c *gin.Context) {
	eventLog := s.lm.EventLog()
	if eventLog == nil {
		c.JSON(http.StatusServiceUnavailable, types.NewErrorResponse(
			types.CodePersistenceDisabled, "event storage is not configured", nil))
		return
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	events, err := eventLog.RecentEvents(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, types.NewErrorResponse(
			types.CodeStorageError, err.Error(), nil))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"events": events,
		"count":  len(events),
	})
}
