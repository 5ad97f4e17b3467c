package server

import (
	"context"
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/tablesense/repute/internal/analytics"
	"github.com/tablesense/repute/internal/pipeline"
)

// Pipeline is the orchestrator surface the handlers need.
type Pipeline interface {
	Trigger(ctx context.Context) (pipeline.Status, error)
	Status() pipeline.Status
}

// ReportSource serves the last persisted report.
type ReportSource interface {
	Latest() (analytics.Report, bool, error)
}

// Handler serves the report boundary endpoints.
type Handler struct {
	Orch    Pipeline
	Reports ReportSource
}

// Register mounts the endpoints on the given group.
func (h *Handler) Register(g *echo.Group) {
	g.GET("/report", h.getReport)
	g.POST("/trigger", h.postTrigger)
	g.GET("/status", h.getStatus)
}

// getReport returns the latest persisted report
// @route GET /api/report
func (h *Handler) getReport(c echo.Context) error {
	report, ok, err := h.Reports.Latest()
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "no report generated yet")
	}
	return c.JSON(http.StatusOK, report)
}

// postTrigger starts a pipeline run unless one is active
// @route POST /api/trigger
func (h *Handler) postTrigger(c echo.Context) error {
	// The run outlives the request, so it gets a detached context.
	st, err := h.Orch.Trigger(context.Background())
	if err != nil {
		if errors.Is(err, pipeline.ErrRunInProgress) {
			// coalesced: report the active run instead of starting another
			return c.JSON(http.StatusOK, st)
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusAccepted, st)
}

// getStatus returns the orchestrator status
// @route GET /api/status
func (h *Handler) getStatus(c echo.Context) error {
	return c.JSON(http.StatusOK, h.Orch.Status())
}
