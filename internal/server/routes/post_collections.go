package routes

import (
	"net/http"

	"github.com/OpenPecha/webuddhist/backend/internal/server/middleware"
	"github.com/OpenPecha/webuddhist/backend/internal/uploader"
	"github.com/OpenPecha/webuddhist/backend/pkg/logger"

	"github.com/labstack/echo/v4"
)

// SyncCollectionsHandler mirrors the upstream category tree into the
// destination.
func SyncCollectionsHandler(c echo.Context) error {
	type syncResponse struct {
		Collections map[string]string `json:"collections"`
	}

	data := new(uploader.CollectionSyncRequest)
	if err := c.Bind(data); err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Message: "Invalid request body"})
	}
	if err := c.Validate(data); err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Message: "Invalid request body", Error: err.Error()})
	}

	cc := c.(*middleware.AppContext)
	ids, err := cc.App.Collections.SyncCollections(c.Request().Context(), *data, cc.Token)
	if err != nil {
		logger.Error("[Server] Collection sync failed", "destination_url", data.DestinationURL, "err", err)
		return c.JSON(pipelineError(err))
	}
	return c.JSON(http.StatusOK, syncResponse{Collections: ids})
}
