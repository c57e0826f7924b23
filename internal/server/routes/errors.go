package routes

import (
	"errors"
	"net/http"

	"github.com/OpenPecha/webuddhist/backend/internal/uploader"
)

type errorResponse struct {
	Message string `json:"message"`
	Error   string `json:"error,omitempty"`
}

// pipelineStatus maps the pipeline error taxonomy to an HTTP status.
func pipelineStatus(err error) (int, string) {
	switch {
	case errors.Is(err, uploader.ErrAuthorization):
		return http.StatusForbidden, "Forbidden"
	case errors.Is(err, uploader.ErrIngestionInProgress):
		return http.StatusConflict, "Ingestion already running for this text"
	case errors.Is(err, uploader.ErrMissingCollection),
		errors.Is(err, uploader.ErrMissingVersionGroup),
		errors.Is(err, uploader.ErrMissingInstance),
		errors.Is(err, uploader.ErrEmptySegmentation),
		errors.Is(err, uploader.ErrInvalidSpan):
		return http.StatusUnprocessableEntity, "Upstream text cannot be ingested"
	case errors.Is(err, uploader.ErrDestinationConflict):
		return http.StatusConflict, "Destination rejected the upload"
	case errors.Is(err, uploader.ErrUpstreamUnavailable),
		errors.Is(err, uploader.ErrTransport):
		return http.StatusBadGateway, "Upstream service unavailable"
	default:
		return http.StatusInternalServerError, "Internal server error"
	}
}

func pipelineError(err error) (int, errorResponse) {
	status, message := pipelineStatus(err)
	return status, errorResponse{Message: message, Error: err.Error()}
}
