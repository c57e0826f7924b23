package middleware

import (
	"context"

	"github.com/OpenPecha/webuddhist/backend/internal/queue"
	"github.com/OpenPecha/webuddhist/backend/internal/storage"
	"github.com/OpenPecha/webuddhist/backend/internal/uploader"
	"github.com/OpenPecha/webuddhist/backend/pkg/auth"
	"github.com/OpenPecha/webuddhist/backend/pkg/ledger"

	"github.com/labstack/echo/v4"
	"golang.org/x/sync/semaphore"
)

// Verifier turns a bearer token into a user.
type Verifier interface {
	Verify(token string) (*auth.User, error)
}

// Runner starts and executes ledger-tracked pipeline runs.
type Runner interface {
	Start(ctx context.Context, req uploader.TextUploadRequest) (string, error)
	Upload(ctx context.Context, req uploader.TextUploadRequest, token string) (string, *uploader.TextInstanceIds, error)
}

type CollectionSyncer interface {
	SyncCollections(ctx context.Context, req uploader.CollectionSyncRequest, token string) (map[string]string, error)
}

type RunStore interface {
	Get(ctx context.Context, id string) (*ledger.Run, error)
	ListByText(ctx context.Context, textID string, limit int) ([]*ledger.Run, error)
}

type ReportStore interface {
	GetReport(ctx context.Context, textID, runID string) (*storage.Report, error)
}

// App carries the process-wide dependencies. Queue, Runs and Reports are nil
// when RabbitMQ, Postgres or S3 are not configured.
type App struct {
	Verifier    Verifier
	Runner      Runner
	Collections CollectionSyncer
	Runs        RunStore
	Reports     ReportStore
	Queue       queue.Channel
	// OmitToken keeps the caller's bearer token out of queued messages.
	OmitToken bool
	Uploads   *semaphore.Weighted
}

type AppContext struct {
	echo.Context
	App   *App
	User  *auth.User
	Token string
}

func AppContextMiddleware(app *App) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			cc := &AppContext{Context: c, App: app}
			return next(cc)
		}
	}
}
