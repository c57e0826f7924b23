package uploader

import (
	"context"
	"time"

	"github.com/OpenPecha/webuddhist/backend/internal/util"
	"github.com/OpenPecha/webuddhist/backend/pkg/ledger"
	"github.com/OpenPecha/webuddhist/backend/pkg/logger"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

const archiveAttempts = 3

// RunLedger records the lifecycle of every run.
type RunLedger interface {
	Create(ctx context.Context, params ledger.CreateParams) error
	MarkRunning(ctx context.Context, id string) error
	Complete(ctx context.Context, id string, newText, allText map[string]string) error
	Fail(ctx context.Context, id string, runErr error) error
}

// ReportArchive stores the result of a completed run.
type ReportArchive interface {
	PutReport(ctx context.Context, textID, runID string, ids *TextInstanceIds) error
}

// TextUploader is what the runner wraps. *Pipeline implements it.
type TextUploader interface {
	UploadText(ctx context.Context, req TextUploadRequest, token string) (*TextInstanceIds, error)
}

// Runner adds the ledger and the report archive around a pipeline. Either may
// be nil.
type Runner struct {
	uploader TextUploader
	ledger   RunLedger
	archive  ReportArchive

	archivePause time.Duration
}

type NewRunnerParams struct {
	Uploader TextUploader
	Ledger   RunLedger
	Archive  ReportArchive
}

func NewRunner(params NewRunnerParams) *Runner {
	return &Runner{
		uploader:     params.Uploader,
		ledger:       params.Ledger,
		archive:      params.Archive,
		archivePause: time.Second,
	}
}

func NewRunID() (string, error) {
	return gonanoid.New()
}

// Start records a pending run and returns its id.
func (r *Runner) Start(ctx context.Context, req TextUploadRequest) (string, error) {
	runID, err := NewRunID()
	if err != nil {
		return "", err
	}
	if r.ledger != nil {
		if err := r.ledger.Create(ctx, ledger.CreateParams{
			ID:             runID,
			TextID:         req.TextID,
			DestinationURL: req.DestinationURL,
		}); err != nil {
			return "", err
		}
	}
	return runID, nil
}

// Run executes a started run. Ledger and archive failures are logged and do
// not fail the run.
func (r *Runner) Run(ctx context.Context, runID string, req TextUploadRequest, token string) (*TextInstanceIds, error) {
	log := logger.With("run_id", runID, "text_id", req.TextID)

	if r.ledger != nil {
		if err := r.ledger.MarkRunning(ctx, runID); err != nil {
			log.Warn("[Uploader] Failed to mark run running", "err", err)
		}
	}

	ids, err := r.uploader.UploadText(ctx, req, token)

	// The request context may already be gone; bookkeeping still has to land.
	bookCtx := context.WithoutCancel(ctx)
	if err != nil {
		log.Error("[Uploader] Run failed", "err", err)
		if r.ledger != nil {
			if ferr := r.ledger.Fail(bookCtx, runID, err); ferr != nil {
				log.Warn("[Uploader] Failed to record run failure", "err", ferr)
			}
		}
		return nil, err
	}

	if r.ledger != nil {
		if cerr := r.ledger.Complete(bookCtx, runID, ids.NewText, ids.AllText); cerr != nil {
			log.Warn("[Uploader] Failed to record run completion", "err", cerr)
		}
	}
	if r.archive != nil {
		aerr := util.RetryErrWithContext(bookCtx, archiveAttempts, r.archivePause, func(ctx context.Context) error {
			return r.archive.PutReport(ctx, req.TextID, runID, ids)
		})
		if aerr != nil {
			log.Warn("[Uploader] Failed to archive run report", "err", aerr)
		}
	}
	return ids, nil
}

// Upload starts and runs in one call.
func (r *Runner) Upload(ctx context.Context, req TextUploadRequest, token string) (string, *TextInstanceIds, error) {
	runID, err := r.Start(ctx, req)
	if err != nil {
		return "", nil, err
	}
	ids, err := r.Run(ctx, runID, req, token)
	return runID, ids, err
}
