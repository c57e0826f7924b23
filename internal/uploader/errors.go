package uploader

import (
	"errors"
	"fmt"

	"github.com/OpenPecha/webuddhist/backend/pkg/httpapi"
)

var (
	ErrAuthorization        = errors.New("administrator authority required")
	ErrUpstreamUnavailable  = errors.New("upstream unavailable")
	ErrDestinationConflict  = errors.New("destination rejected write")
	ErrMissingCollection    = errors.New("missing destination collection")
	ErrMissingVersionGroup  = errors.New("commentary has no version group")
	ErrMissingInstance      = errors.New("text has no critical instance")
	ErrEmptySegmentation    = errors.New("text has no segmentation")
	ErrInvalidSpan          = errors.New("segment span outside content")
	ErrTransport            = errors.New("transport error")
	ErrPartialSegmentUpload = errors.New("partial segment upload")
	ErrMappingUnconfigured  = errors.New("mapping queue url not configured")
	ErrIngestionInProgress  = errors.New("ingestion already running for text")
)

type Stage string

const (
	StageAccess      Stage = "access"
	StageCollections Stage = "collections"
	StageMetadata    Stage = "metadata"
	StageSegments    Stage = "segments"
	StageTOC         Stage = "toc"
	StageMapping     Stage = "mapping"
)

// StageError names the component and identifier a pipeline failure came from.
type StageError struct {
	Stage Stage
	ID    string
	Err   error
}

func (e *StageError) Error() string {
	if e.ID == "" {
		return fmt.Sprintf("%s: %v", e.Stage, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Stage, e.ID, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// classify tags HTTP boundary errors with the matching sentinel while keeping
// the original error reachable through errors.As.
func classify(err error) error {
	if err == nil {
		return nil
	}
	for _, known := range []error{
		ErrUpstreamUnavailable,
		ErrDestinationConflict,
		ErrTransport,
	} {
		if errors.Is(err, known) {
			return err
		}
	}

	if errors.Is(err, httpapi.ErrResponseTooLarge) {
		return fmt.Errorf("%w: %w", ErrUpstreamUnavailable, err)
	}

	var transportErr *httpapi.TransportError
	if errors.As(err, &transportErr) {
		return fmt.Errorf("%w: %w", ErrTransport, err)
	}

	var apiErr *httpapi.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.Service {
		case httpapi.ServiceWeBuddhist:
			return fmt.Errorf("%w: %w", ErrDestinationConflict, err)
		default:
			return fmt.Errorf("%w: %w", ErrUpstreamUnavailable, err)
		}
	}
	return err
}

// IsPermanent reports whether re-running the pipeline cannot fix err.
// A partial segment upload is permanent because a re-run would skip the text.
func IsPermanent(err error) bool {
	for _, permanent := range []error{
		ErrAuthorization,
		ErrMissingCollection,
		ErrMissingVersionGroup,
		ErrMissingInstance,
		ErrEmptySegmentation,
		ErrInvalidSpan,
		ErrPartialSegmentUpload,
		ErrMappingUnconfigured,
	} {
		if errors.Is(err, permanent) {
			return true
		}
	}
	return false
}
