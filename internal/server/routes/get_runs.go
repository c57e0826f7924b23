package routes

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/OpenPecha/webuddhist/backend/internal/server/middleware"
	"github.com/OpenPecha/webuddhist/backend/pkg/ledger"

	"github.com/labstack/echo/v4"
)

func GetRunHandler(c echo.Context) error {
	runs := c.(*middleware.AppContext).App.Runs
	if runs == nil {
		return c.JSON(http.StatusServiceUnavailable, errorResponse{Message: "Run ledger not configured"})
	}

	run, err := runs.Get(c.Request().Context(), c.Param("id"))
	if errors.Is(err, ledger.ErrNotFound) {
		return c.JSON(http.StatusNotFound, errorResponse{Message: "Run not found"})
	}
	if err != nil {
		return c.JSON(http.StatusInternalServerError, errorResponse{Message: "Internal server error"})
	}
	return c.JSON(http.StatusOK, run)
}

// ListRunsHandler lists the most recent runs for ?text_id=, newest first.
func ListRunsHandler(c echo.Context) error {
	type listRunsResponse struct {
		Runs []*ledger.Run `json:"runs"`
	}

	runs := c.(*middleware.AppContext).App.Runs
	if runs == nil {
		return c.JSON(http.StatusServiceUnavailable, errorResponse{Message: "Run ledger not configured"})
	}

	textID := c.QueryParam("text_id")
	if textID == "" {
		return c.JSON(http.StatusBadRequest, errorResponse{Message: "text_id is required"})
	}
	limit := 0
	if raw := c.QueryParam("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			return c.JSON(http.StatusBadRequest, errorResponse{Message: "limit must be a positive integer"})
		}
		limit = parsed
	}

	list, err := runs.ListByText(c.Request().Context(), textID, limit)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, errorResponse{Message: "Internal server error"})
	}
	if list == nil {
		list = []*ledger.Run{}
	}
	return c.JSON(http.StatusOK, listRunsResponse{Runs: list})
}
