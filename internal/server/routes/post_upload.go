package routes

import (
	"net/http"

	"github.com/OpenPecha/webuddhist/backend/internal/server/middleware"
	"github.com/OpenPecha/webuddhist/backend/internal/uploader"
	"github.com/OpenPecha/webuddhist/backend/pkg/logger"

	"github.com/labstack/echo/v4"
)

// UploadTextHandler runs the pipeline synchronously and returns the run's
// TextInstanceIds.
func UploadTextHandler(c echo.Context) error {
	type uploadResponse struct {
		RunID string `json:"run_id"`
		*uploader.TextInstanceIds
	}

	data := new(uploader.TextUploadRequest)
	if err := c.Bind(data); err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Message: "Invalid request body"})
	}
	if err := c.Validate(data); err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Message: "Invalid request body", Error: err.Error()})
	}

	cc := c.(*middleware.AppContext)
	ctx := c.Request().Context()

	if sem := cc.App.Uploads; sem != nil {
		if err := sem.Acquire(ctx, 1); err != nil {
			return c.JSON(http.StatusServiceUnavailable, errorResponse{Message: "Request cancelled while waiting for an upload slot"})
		}
		defer sem.Release(1)
	}

	runID, ids, err := cc.App.Runner.Upload(ctx, *data, cc.Token)
	if err != nil {
		logger.Error("[Server] Upload failed", "run_id", runID, "text_id", data.TextID, "err", err)
		return c.JSON(pipelineError(err))
	}

	return c.JSON(http.StatusOK, uploadResponse{RunID: runID, TextInstanceIds: ids})
}
