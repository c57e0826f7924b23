package server

import (
	"github.com/OpenPecha/webuddhist/backend/internal/server/middleware"
	"github.com/OpenPecha/webuddhist/backend/internal/server/routes"

	"github.com/labstack/echo/v4"
)

func RegisterRoutes(e *echo.Echo) {
	// Health check route
	e.GET("/health", func(c echo.Context) error {
		return c.String(200, "OK")
	})

	uploaderRoutes := e.Group("/api/v1/text-uploader", middleware.AuthMiddleware, middleware.RequireAdmin)

	uploaderRoutes.POST("/upload", routes.UploadTextHandler)
	uploaderRoutes.POST("/jobs", routes.EnqueueUploadHandler)
	uploaderRoutes.POST("/collections", routes.SyncCollectionsHandler)

	// Run ledger
	uploaderRoutes.GET("/runs", routes.ListRunsHandler)
	uploaderRoutes.GET("/runs/:id", routes.GetRunHandler)
	uploaderRoutes.GET("/runs/:id/report", routes.GetRunReportHandler)
}
