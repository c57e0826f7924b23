package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/OpenPecha/webuddhist/backend/internal/queue"
	mid "github.com/OpenPecha/webuddhist/backend/internal/server/middleware"
	"github.com/OpenPecha/webuddhist/backend/internal/storage"
	"github.com/OpenPecha/webuddhist/backend/internal/telemetry"
	"github.com/OpenPecha/webuddhist/backend/internal/uploader"
	"github.com/OpenPecha/webuddhist/backend/internal/util"
	"github.com/OpenPecha/webuddhist/backend/pkg/auth"
	"github.com/OpenPecha/webuddhist/backend/pkg/leaselock"
	"github.com/OpenPecha/webuddhist/backend/pkg/ledger"
	"github.com/OpenPecha/webuddhist/backend/pkg/logger"

	"github.com/MicahParks/keyfunc/v3"
	"github.com/go-playground/validator"
	"github.com/golang-jwt/jwt/v5"
	"github.com/golang-migrate/migrate/v4"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/semaphore"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
)

type CustomValidator struct {
	validator *validator.Validate
}

func (cv *CustomValidator) Validate(i any) error {
	if err := cv.validator.Struct(i); err != nil {
		return err
	}
	return nil
}

func NewValidator() *CustomValidator {
	return &CustomValidator{validator: validator.New()}
}

// NewEcho builds the HTTP surface around app.
func NewEcho(app *mid.App) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.Validator = NewValidator()

	e.Use(mid.AppContextMiddleware(app))
	e.Use(middleware.CORS())
	e.Use(middleware.RequestLogger())
	e.Use(middleware.Recover())
	e.Use(middleware.BodyLimit("1M"))

	RegisterRoutes(e)
	return e
}

// Keyfunc picks the JWT key source: JWKS from AUTH_URL when set, otherwise an
// HMAC secret from JWT_SECRET. It returns nil when neither is configured, in
// which case only the master key is accepted.
func Keyfunc(ctx context.Context) (jwt.Keyfunc, error) {
	if authURL := util.GetEnv("AUTH_URL"); authURL != "" {
		k, err := keyfunc.NewDefaultCtx(ctx, []string{authURL + "/jwks"})
		if err != nil {
			return nil, fmt.Errorf("failed to load jwks keys: %w", err)
		}
		return k.Keyfunc, nil
	}
	if secret := util.GetEnv("JWT_SECRET"); secret != "" {
		return auth.HMACKeyfunc(secret), nil
	}
	return nil, nil
}

// PipelineConfig reads the pipeline settings from the environment.
func PipelineConfig() uploader.Config {
	return uploader.Config{
		HTTPTimeout:      util.GetEnvSeconds("HTTP_TIMEOUT_SECONDS", 30*time.Second),
		MappingURL:       util.GetEnv("SQS_URL"),
		MappingTimeout:   util.GetEnvSeconds("MAPPING_TIMEOUT_SECONDS", 10*time.Second),
		SegmentBatchSize: util.GetEnvInt("SEGMENT_BATCH_SIZE", uploader.MaxSegmentBatchSize),
		SyncCollections:  util.GetEnvBool("SYNC_COLLECTIONS", false),
	}
}

// Migrate applies the SQL migrations under MIGRATIONS_PATH.
func Migrate(databaseURL string) error {
	path := util.GetEnvString("MIGRATIONS_PATH", "migrations")
	m, err := migrate.New("file://"+path, databaseURL)
	if err != nil {
		return fmt.Errorf("failed to open migrations: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}
	return nil
}

// Services are the pieces shared by the server and the worker.
type Services struct {
	Verifier *auth.Verifier
	Pipeline *uploader.Pipeline
	Runner   *uploader.Runner
	Ledger   *ledger.Ledger
	Archive  *storage.ReportArchive
	Pool     *pgxpool.Pool
}

// NewServices wires the pipeline with its optional Postgres ledger, work
// leases and S3 report archive.
func NewServices(ctx context.Context) (*Services, error) {
	kf, err := Keyfunc(ctx)
	if err != nil {
		return nil, err
	}
	verifier := auth.NewVerifier(auth.NewVerifierParams{
		Keyfunc:   kf,
		MasterKey: util.GetEnv("MASTER_API_KEY"),
	})

	s := &Services{Verifier: verifier}
	pipelineParams := uploader.NewPipelineParams{
		Config:   PipelineConfig(),
		Gate:     verifier,
		LeaseTTL: util.GetEnvSeconds("LEASE_TTL_SECONDS", 5*time.Minute),
	}
	var runnerParams uploader.NewRunnerParams

	if databaseURL := util.GetEnv("DATABASE_URL"); databaseURL != "" {
		if err := Migrate(databaseURL); err != nil {
			return nil, err
		}
		pool, err := pgxpool.New(ctx, databaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		s.Pool = pool
		s.Ledger = ledger.New(pool)
		runnerParams.Ledger = s.Ledger
		pipelineParams.Locker = leaselock.New(pool)
	} else {
		logger.Warn("DATABASE_URL not set, runs are not recorded and not serialised per work")
	}

	s.Pipeline = uploader.NewPipeline(pipelineParams)
	runnerParams.Uploader = s.Pipeline

	if bucket := util.GetEnv("AWS_BUCKET"); bucket != "" {
		client, err := storage.NewS3Client(ctx)
		if err != nil {
			return nil, err
		}
		s.Archive = storage.NewReportArchive(client, bucket)
		runnerParams.Archive = s.Archive
	}

	s.Runner = uploader.NewRunner(runnerParams)
	return s, nil
}

func (s *Services) Close() {
	if s.Pool != nil {
		s.Pool.Close()
	}
}

func Init() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Init(ctx, "text-uploader-server")
	if err != nil {
		logger.Fatal("Failed to init tracing", "err", err)
	}
	defer shutdownTracing(context.Background())

	services, err := NewServices(ctx)
	if err != nil {
		logger.Fatal("Failed to init services", "err", err)
	}
	defer services.Close()

	app := &mid.App{
		Verifier:    services.Verifier,
		Runner:      services.Runner,
		Collections: services.Pipeline,
		Uploads:     semaphore.NewWeighted(int64(max(util.GetEnvInt("MAX_CONCURRENT_UPLOADS", 2), 1))),
	}
	if services.Ledger != nil {
		app.Runs = services.Ledger
	}
	if services.Archive != nil {
		app.Reports = services.Archive
	}

	if util.GetEnv("RABBITMQ_HOST") != "" {
		conn, err := queue.Init(ctx)
		if err != nil {
			logger.Fatal("Failed to connect to RabbitMQ", "err", err)
		}
		defer conn.Close()
		ch, err := conn.Channel()
		if err != nil {
			logger.Fatal("Failed to open channel", "err", err)
		}
		defer ch.Close()
		if err := queue.SetupQueues(ch, []string{queue.UploadQueue}); err != nil {
			logger.Fatal("Failed to declare queues", "err", err)
		}
		app.Queue = ch
		app.OmitToken = !util.GetEnvBool("QUEUE_FORWARD_TOKEN", true)
	}

	e := NewEcho(app)

	go func() {
		port := util.GetEnvString("PORT", "8080")
		logger.Info("Starting server", "port", port)
		if err := e.Start(":" + port); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed shutting down server", "err", err)
		}
	}()

	<-ctx.Done()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(ctx); err != nil {
		logger.Error("Failed to shutdown server", "err", err)
	}
}
