package uploader

import (
	"context"

	"github.com/OpenPecha/webuddhist/backend/pkg/logger"
	"github.com/OpenPecha/webuddhist/backend/pkg/mapping"
)

// MappingTrigger asks the mapping service to link segments across every
// expression of the work. Loopback destinations are skipped.
type MappingTrigger struct {
	queue MappingQueue
	log   *logger.Logger
}

func (t *MappingTrigger) Trigger(ctx context.Context, req TextUploadRequest, state *runState) error {
	if mapping.IsLocalDestination(req.DestinationURL) {
		t.log.Info("[Uploader] Local destination, skipping mapping job", "destination_url", req.DestinationURL)
		return nil
	}
	if t.queue == nil {
		return &StageError{Stage: StageMapping, ID: req.TextID, Err: ErrMappingUnconfigured}
	}

	job := mapping.Job{
		TextIDs:     state.pechaTextIDs(),
		Source:      req.OpenPechaAPIURL,
		Destination: req.DestinationURL,
	}
	if err := t.queue.EnqueueTextIDs(ctx, job); err != nil {
		return &StageError{Stage: StageMapping, ID: req.TextID, Err: classify(err)}
	}
	t.log.Info("[Uploader] Mapping job enqueued", "text_ids", len(job.TextIDs))
	return nil
}
