// Package uploader copies a work and all of its related expressions from the
// OpenPecha catalog into a WeBuddhist backend.
package uploader

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/OpenPecha/webuddhist/backend/internal/telemetry"
	"github.com/OpenPecha/webuddhist/backend/pkg/leaselock"
	"github.com/OpenPecha/webuddhist/backend/pkg/logger"
	"github.com/OpenPecha/webuddhist/backend/pkg/mapping"
	"github.com/OpenPecha/webuddhist/backend/pkg/openpecha"
	"github.com/OpenPecha/webuddhist/backend/pkg/webuddhist"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

type Config struct {
	// HTTPTimeout bounds each upstream and destination request.
	HTTPTimeout time.Duration
	// MappingURL is the mapping queue base. Empty disables remote runs.
	MappingURL     string
	MappingTimeout time.Duration
	// SegmentBatchSize is capped at MaxSegmentBatchSize.
	SegmentBatchSize int
	// SyncCollections mirrors the category tree before every run.
	SyncCollections bool
	// HTTPClient overrides the per-service clients when set.
	HTTPClient *http.Client
}

// ClientFactory builds the per-run API clients. Destination clients carry the
// caller's token.
type ClientFactory interface {
	Upstream(baseURL string) Upstream
	Destination(baseURL, token string) Destination
	Mapping() MappingQueue
}

// HTTPClients is the ClientFactory backed by the real HTTP clients.
type HTTPClients struct {
	cfg Config
}

func (f HTTPClients) Upstream(baseURL string) Upstream {
	return openpecha.NewClient(openpecha.NewClientParams{
		BaseURL:    baseURL,
		Timeout:    f.cfg.HTTPTimeout,
		HTTPClient: f.cfg.HTTPClient,
	})
}

func (f HTTPClients) Destination(baseURL, token string) Destination {
	return webuddhist.NewClient(webuddhist.NewClientParams{
		BaseURL:    baseURL,
		Token:      token,
		Timeout:    f.cfg.HTTPTimeout,
		HTTPClient: f.cfg.HTTPClient,
	})
}

func (f HTTPClients) Mapping() MappingQueue {
	if f.cfg.MappingURL == "" {
		return nil
	}
	return mapping.NewClient(mapping.NewClientParams{
		BaseURL:    f.cfg.MappingURL,
		Timeout:    f.cfg.MappingTimeout,
		HTTPClient: f.cfg.HTTPClient,
	})
}

// Locker holds a lease on every key for the duration of fn.
type Locker interface {
	WithLeases(ctx context.Context, keys []string, opts leaselock.Options, fn func(ctx context.Context) error) error
}

type Pipeline struct {
	cfg         Config
	gate        Authorizer
	clients     ClientFactory
	collections *CollectionMap
	newID       func() string
	locker      Locker
	leaseOpts   leaselock.Options
}

type NewPipelineParams struct {
	Config Config
	Gate   Authorizer
	// Clients defaults to HTTPClients built from Config.
	Clients ClientFactory
	// Collections is shared across runs; a fresh map is used when nil.
	Collections *CollectionMap
	// NewSectionID defaults to uuid.NewString.
	NewSectionID func() string
	// Locker serialises runs that share an expression. Nil runs unguarded.
	Locker Locker
	// LeaseTTL defaults to five minutes; leases are renewed while the run lasts.
	LeaseTTL time.Duration
}

func NewPipeline(params NewPipelineParams) *Pipeline {
	clients := params.Clients
	if clients == nil {
		clients = HTTPClients{cfg: params.Config}
	}
	collections := params.Collections
	if collections == nil {
		collections = NewCollectionMap()
	}
	return &Pipeline{
		cfg:         params.Config,
		gate:        params.Gate,
		clients:     clients,
		collections: collections,
		newID:       params.NewSectionID,
		locker:      params.Locker,
		leaseOpts: leaselock.Options{
			TTL:         params.LeaseTTL,
			TokenPrefix: "upload-",
		},
	}
}

func (p *Pipeline) authorize(textID, token string) error {
	if p.gate == nil {
		return &StageError{Stage: StageAccess, ID: textID, Err: fmt.Errorf("%w: no access gate configured", ErrAuthorization)}
	}
	if _, err := p.gate.Authorize(token); err != nil {
		return &StageError{Stage: StageAccess, ID: textID, Err: fmt.Errorf("%w: %w", ErrAuthorization, err)}
	}
	return nil
}

// UploadText runs the whole pipeline for one upstream text. Nothing is rolled
// back on failure; a re-run picks up where the destination state left off.
func (p *Pipeline) UploadText(ctx context.Context, req TextUploadRequest, token string) (*TextInstanceIds, error) {
	ctx, span := telemetry.Tracer().Start(ctx, "uploader.UploadText", trace.WithAttributes(
		attribute.String("text_id", req.TextID),
		attribute.String("destination_url", req.DestinationURL),
	))
	defer span.End()

	ids, err := p.uploadText(ctx, req, token)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.Int("new_texts", len(ids.NewText)))
	return ids, nil
}

func (p *Pipeline) uploadText(ctx context.Context, req TextUploadRequest, token string) (*TextInstanceIds, error) {
	if err := p.authorize(req.TextID, token); err != nil {
		return nil, err
	}

	log := logger.With("text_id", req.TextID)
	upstream := p.clients.Upstream(req.OpenPechaAPIURL)
	dest := p.clients.Destination(req.DestinationURL, token)
	state := newRunState()

	log.Info("[Uploader] Upload started", "destination_url", req.DestinationURL)
	start := time.Now()

	if p.cfg.SyncCollections {
		collections := &CollectionService{
			upstream:       upstream,
			dest:           dest,
			collections:    p.collections,
			destinationURL: req.DestinationURL,
		}
		if err := p.stage(ctx, StageCollections, req.TextID, func(ctx context.Context) error {
			_, err := collections.Sync(ctx)
			return err
		}); err != nil {
			return nil, err
		}
	}

	metadata := &MetadataService{
		upstream:       upstream,
		dest:           dest,
		collections:    p.collections,
		destinationURL: req.DestinationURL,
		log:            log,
	}
	var w *work
	if err := p.stage(ctx, StageMetadata, req.TextID, func(ctx context.Context) error {
		var err error
		w, err = metadata.expand(ctx, req.TextID)
		return err
	}); err != nil {
		return nil, err
	}

	err := p.withWorkLease(ctx, w, func(ctx context.Context) error {
		if err := p.stage(ctx, StageMetadata, req.TextID, func(ctx context.Context) error {
			return metadata.ingest(ctx, w, state)
		}); err != nil {
			return err
		}

		segments := &SegmentService{upstream: upstream, dest: dest, batchSize: p.cfg.SegmentBatchSize, log: log}
		if err := p.stage(ctx, StageSegments, req.TextID, func(ctx context.Context) error {
			return segments.UploadAll(ctx, state)
		}); err != nil {
			return err
		}

		toc := &TOCService{upstream: upstream, dest: dest, newID: p.newID, log: log}
		if err := p.stage(ctx, StageTOC, req.TextID, func(ctx context.Context) error {
			return toc.CreateAll(ctx, state)
		}); err != nil {
			return err
		}

		trigger := &MappingTrigger{queue: p.clients.Mapping(), log: log}
		return p.stage(ctx, StageMapping, req.TextID, func(ctx context.Context) error {
			return trigger.Trigger(ctx, req, state)
		})
	})
	if err != nil {
		return nil, err
	}

	ids := state.result()
	log.Info("[Uploader] Upload finished", "new_texts", len(ids.NewText), "all_texts", len(ids.AllText), "duration", time.Since(start).Round(time.Millisecond))
	return ids, nil
}

// SyncCollections mirrors the upstream category tree on demand and returns the
// resulting pecha_collection_id -> destination id map.
func (p *Pipeline) SyncCollections(ctx context.Context, req CollectionSyncRequest, token string) (map[string]string, error) {
	if err := p.authorize("", token); err != nil {
		return nil, err
	}
	service := &CollectionService{
		upstream:       p.clients.Upstream(req.OpenPechaAPIURL),
		dest:           p.clients.Destination(req.DestinationURL, token),
		collections:    p.collections,
		destinationURL: req.DestinationURL,
	}

	var ids map[string]string
	err := p.stage(ctx, StageCollections, "", func(ctx context.Context) error {
		var err error
		ids, err = service.Sync(ctx)
		return err
	})
	return ids, err
}

// withWorkLease runs fn holding one lease per expression of w, so two runs that
// reach the same work from different texts cannot both pass the uploaded-text
// check. A busy lease is ErrIngestionInProgress.
func (p *Pipeline) withWorkLease(ctx context.Context, w *work, fn func(context.Context) error) error {
	if p.locker == nil {
		return fn(ctx)
	}
	ids := w.expressionIDs()
	keys := make([]string, 0, len(ids))
	for _, id := range ids {
		keys = append(keys, leaselock.TextKey(id))
	}

	err := p.locker.WithLeases(ctx, keys, p.leaseOpts, fn)
	if errors.Is(err, leaselock.ErrBusy) {
		return fmt.Errorf("%w: %s", ErrIngestionInProgress, w.textID)
	}
	return err
}

// stage runs fn inside a child span and makes sure any failure names the stage.
func (p *Pipeline) stage(ctx context.Context, stage Stage, id string, fn func(context.Context) error) error {
	ctx, span := telemetry.Tracer().Start(ctx, string(stage))
	defer span.End()

	err := fn(ctx)
	if err == nil {
		return nil
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())

	var stageErr *StageError
	if errors.As(err, &stageErr) {
		return err
	}
	return &StageError{Stage: stage, ID: id, Err: classify(err)}
}
