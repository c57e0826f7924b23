package routes

import (
	"errors"
	"net/http"

	"github.com/OpenPecha/webuddhist/backend/internal/server/middleware"
	"github.com/OpenPecha/webuddhist/backend/internal/storage"
	"github.com/OpenPecha/webuddhist/backend/pkg/ledger"

	"github.com/labstack/echo/v4"
)

// GetRunReportHandler returns the archived report of a completed run. The text
// id comes from ?text_id= or, failing that, from the run ledger.
func GetRunReportHandler(c echo.Context) error {
	app := c.(*middleware.AppContext).App
	if app.Reports == nil {
		return c.JSON(http.StatusServiceUnavailable, errorResponse{Message: "Report archive not configured"})
	}

	ctx := c.Request().Context()
	runID := c.Param("id")
	textID := c.QueryParam("text_id")
	if textID == "" && app.Runs != nil {
		run, err := app.Runs.Get(ctx, runID)
		if errors.Is(err, ledger.ErrNotFound) {
			return c.JSON(http.StatusNotFound, errorResponse{Message: "Run not found"})
		}
		if err != nil {
			return c.JSON(http.StatusInternalServerError, errorResponse{Message: "Internal server error"})
		}
		textID = run.TextID
	}
	if textID == "" {
		return c.JSON(http.StatusBadRequest, errorResponse{Message: "text_id is required"})
	}

	report, err := app.Reports.GetReport(ctx, textID, runID)
	if errors.Is(err, storage.ErrReportNotFound) {
		return c.JSON(http.StatusNotFound, errorResponse{Message: "Report not found"})
	}
	if err != nil {
		return c.JSON(http.StatusInternalServerError, errorResponse{Message: "Internal server error"})
	}
	return c.JSON(http.StatusOK, report)
}
