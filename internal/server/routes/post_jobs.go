package routes

import (
	"net/http"

	"github.com/OpenPecha/webuddhist/backend/internal/queue"
	"github.com/OpenPecha/webuddhist/backend/internal/server/middleware"
	"github.com/OpenPecha/webuddhist/backend/internal/uploader"
	"github.com/OpenPecha/webuddhist/backend/pkg/logger"

	"github.com/labstack/echo/v4"
)

// EnqueueUploadHandler records a pending run and hands it to the worker.
func EnqueueUploadHandler(c echo.Context) error {
	type enqueueResponse struct {
		Message string `json:"message"`
		RunID   string `json:"run_id,omitempty"`
	}

	data := new(uploader.TextUploadRequest)
	if err := c.Bind(data); err != nil {
		return c.JSON(http.StatusBadRequest, enqueueResponse{Message: "Invalid request body"})
	}
	if err := c.Validate(data); err != nil {
		return c.JSON(http.StatusBadRequest, enqueueResponse{Message: "Invalid request body"})
	}

	cc := c.(*middleware.AppContext)
	if cc.App.Queue == nil {
		return c.JSON(http.StatusServiceUnavailable, enqueueResponse{Message: "Upload queue not configured"})
	}

	ctx := c.Request().Context()
	runID, err := cc.App.Runner.Start(ctx, *data)
	if err != nil {
		logger.Error("[Server] Failed to record run", "text_id", data.TextID, "err", err)
		return c.JSON(http.StatusInternalServerError, enqueueResponse{Message: "Internal server error"})
	}

	msg := queue.UploadMessage{RunID: runID, Request: *data}
	if !cc.App.OmitToken {
		msg.Token = cc.Token
	}
	err = queue.PublishUpload(ctx, cc.App.Queue, msg)
	if err != nil {
		logger.Error("[Server] Failed to enqueue upload", "run_id", runID, "err", err)
		return c.JSON(http.StatusInternalServerError, enqueueResponse{Message: "Failed to enqueue upload"})
	}

	return c.JSON(http.StatusAccepted, enqueueResponse{Message: "Upload queued", RunID: runID})
}
