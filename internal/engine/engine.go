// Package engine owns the ingest lifecycle: it consumes jobs, claims rows,
// downloads the selected track, drives the Opencast upload, and records the
// terminal state. A periodic reaper re-drives rows that never completed.
package engine

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/zingest/zingest/internal/log"
	"github.com/zingest/zingest/internal/metrics"
	"github.com/zingest/zingest/internal/opencast"
	"github.com/zingest/zingest/internal/queue"
	"github.com/zingest/zingest/internal/store"
	"github.com/zingest/zingest/internal/zoom"
)

const (
	reaperInterval  = time.Minute
	staleAfter      = time.Hour
	downloadTimeout = 30 * time.Minute
)

// Source is the subset of the Zoom adapter the engine depends on.
type Source interface {
	GetRecording(ctx context.Context, uuid string) (zoom.Recording, error)
	GetDownloadToken() (string, error)
}

// Sink is the subset of the Opencast adapter the engine depends on.
type Sink interface {
	Ingest(ctx context.Context, job opencast.IngestJob) (opencast.IngestResult, error)
}

// Consumer blocks on the job queue, dispatching each message to the handler.
type Consumer interface {
	Consume(ctx context.Context, handle queue.Handler) error
}

// Notifier routes critical engine failures to operators. May be nil.
type Notifier interface {
	Notify(ctx context.Context, subject, body string)
}

// Engine drives ingest rows from NEW to a terminal state.
type Engine struct {
	store    *store.Store
	source   Source
	sink     Sink
	notifier Notifier
	root     string
	httpc    *http.Client

	// workers bounds concurrent uploads across the consumer and the reaper.
	workers *semaphore.Weighted

	// reapEvery and staleWindow control the reaper cadence; tests shrink them.
	reapEvery   time.Duration
	staleWindow time.Duration
}

// Options tunes engine construction.
type Options struct {
	// InProgressRoot is the scratch directory for downloads.
	InProgressRoot string
	// Workers bounds concurrent uploads; minimum 1.
	Workers int
	// Notifier receives critical failure notices; nil disables.
	Notifier Notifier
	// HTTPClient overrides the download client (tests).
	HTTPClient *http.Client
}

// New builds the engine.
func New(st *store.Store, source Source, sink Sink, opts Options) *Engine {
	workers := opts.Workers
	if workers < 1 {
		workers = 1
	}
	httpc := opts.HTTPClient
	if httpc == nil {
		httpc = &http.Client{Timeout: downloadTimeout}
	}
	root := opts.InProgressRoot
	if root == "" {
		root = "in-progress"
	}
	return &Engine{
		store:       st,
		source:      source,
		sink:        sink,
		notifier:    opts.Notifier,
		root:        root,
		httpc:       httpc,
		workers:     semaphore.NewWeighted(int64(workers)),
		reapEvery:   reaperInterval,
		staleWindow: staleAfter,
	}
}

// Run starts the consumer and the reaper and blocks until ctx is cancelled.
func (e *Engine) Run(ctx context.Context, consumer Consumer) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return consumer.Consume(ctx, e.HandleJob) })
	g.Go(func() error { return e.runReaper(ctx) })
	return g.Wait()
}

// HandleJob is the queue handler: it claims and processes one ingest row.
// Retryable failures are reported as ErrRedeliver so the broker redelivers.
func (e *Engine) HandleJob(ctx context.Context, msg queue.Message) error {
	ctx = log.ContextWithIngest(ctx, strconv.FormatInt(msg.IngestID, 10), msg.UUID)
	logger := log.WithComponentFromContext(ctx, "engine")

	ingest, err := e.store.GetIngest(ctx, msg.IngestID)
	if errors.Is(err, store.ErrNotFound) {
		logger.Warn().Str("event", "engine.unknown_ingest").
			Msg("message references a missing ingest row, dropping")
		return nil
	}
	if err != nil {
		return fmt.Errorf("%v: %w", err, queue.ErrRedeliver)
	}
	return e.process(ctx, ingest)
}

// runReaper re-drives stale rows: every minute, every non-terminal row not
// currently in progress and untouched for an hour is processed sequentially.
// A crashed IN_PROGRESS row is deliberately left for operator intervention.
func (e *Engine) runReaper(ctx context.Context) error {
	logger := log.WithComponent("engine")
	ticker := time.NewTicker(e.reapEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		stale, err := e.store.StaleIngests(ctx, time.Now().Add(-e.staleWindow))
		if err != nil {
			logger.Error().Err(err).Str("event", "reaper.query_failed").Msg("stale sweep failed")
			continue
		}
		if len(stale) == 0 {
			continue
		}
		logger.Info().Int("count", len(stale)).Str("event", "reaper.sweep").
			Msg("re-driving stale ingests")
		metrics.AddReaperRequeued(len(stale))
		for _, ingest := range stale {
			ictx := log.ContextWithIngest(ctx, strconv.FormatInt(ingest.ID, 10), ingest.UUID)
			if err := e.process(ictx, ingest); err != nil {
				ilogger := log.WithComponentFromContext(ictx, "engine")
				ilogger.Warn().Err(err).
					Str("event", "reaper.retry_failed").Msg("stale ingest failed again")
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
		}
	}
}

// process runs the state machine for one row. The claim is committed before
// any network work; a retryable failure releases the row back to NEW.
func (e *Engine) process(ctx context.Context, ingest store.Ingest) error {
	if err := e.workers.Acquire(ctx, 1); err != nil {
		return err
	}
	defer e.workers.Release(1)

	logger := log.WithComponentFromContext(ctx, "engine")
	started := time.Now()

	claimed, err := e.store.ClaimIngest(ctx, ingest.ID)
	if err != nil {
		return fmt.Errorf("%v: %w", err, queue.ErrRedeliver)
	}
	if !claimed {
		logger.Debug().Str("event", "engine.claim_lost").
			Msg("row already in progress or terminal, skipping")
		return nil
	}

	status, err := e.run(ctx, ingest)
	metrics.ObserveIngest(time.Since(started))
	if err != nil {
		// The row returns to NEW either way; the difference is whether the
		// broker retries promptly or the reaper picks it up later.
		if rerr := e.store.ReleaseIngest(ctx, ingest.ID); rerr != nil {
			logger.Error().Err(rerr).Str("event", "engine.release_failed").
				Msg("row is stuck IN_PROGRESS and needs operator attention")
		}
		if retryable(err) {
			metrics.IncIngestResult("retryable")
			logger.Warn().Err(err).Str("event", "engine.retryable").
				Msg("ingest failed, will be retried")
			return fmt.Errorf("%v: %w", err, queue.ErrRedeliver)
		}
		metrics.IncIngestResult("failed")
		logger.Error().Err(err).Str("event", "engine.failed").
			Msg("ingest failed terminally")
		e.notify(ctx, ingest, err)
		return err
	}
	metrics.IncIngestResult(statusLabel(status))
	return nil
}

func statusLabel(s store.Status) string {
	if s == store.StatusWarning {
		return "warning"
	}
	return "finished"
}

// run performs the download/upload work for a claimed row.
func (e *Engine) run(ctx context.Context, ingest store.Ingest) (store.Status, error) {
	logger := log.WithComponentFromContext(ctx, "engine")

	params, err := store.DecodeParams(ingest.Params)
	if err != nil {
		return 0, fmt.Errorf("engine: decode params for ingest %d: %w", ingest.ID, err)
	}

	rec, err := e.source.GetRecording(ctx, ingest.UUID)
	if err != nil {
		return 0, err
	}

	track, fallback, err := selectTrack(rec.RecordingFiles)
	if err != nil {
		return 0, err
	}
	if fallback {
		logger.Warn().Str("event", "engine.fallback_track").
			Str("recording_type", track.RecordingType).
			Msg("no preferred track available, using fallback")
		metrics.IncFallbackTrack()
	}

	videoPath := e.localPath(track, "")
	if err := e.download(ctx, track, videoPath); err != nil {
		return 0, err
	}

	chatPath := ""
	if chat, ok := chatFile(rec.RecordingFiles); ok {
		chatPath = e.localPath(chat, ".TXT")
		if err := e.download(ctx, chat, chatPath); err != nil {
			// The transcript is optional; the episode is worth more than
			// its chat log.
			logger.Warn().Err(err).Str("event", "engine.chat_failed").
				Msg("chat transcript download failed, ingesting without it")
			chatPath = ""
		}
	}

	result, err := e.sink.Ingest(ctx, opencast.IngestJob{
		EpisodeID:  ingest.UUID,
		WorkflowID: params.WorkflowID,
		ACLID:      params.ACLID,
		Fields:     params.Fields,
		VideoPath:  videoPath,
		ChatPath:   chatPath,
	})
	if err != nil {
		return 0, err
	}

	// A cancel may have removed the row while we were uploading; skip
	// completion in that case and just clean up.
	if _, err := e.store.GetIngest(ctx, ingest.ID); errors.Is(err, store.ErrNotFound) {
		logger.Info().Str("event", "engine.cancelled").
			Msg("row was cancelled mid-flight, discarding result")
		remove(ctx, videoPath)
		remove(ctx, chatPath)
		return store.StatusFinished, nil
	}

	status := store.StatusFinished
	if fallback {
		status = store.StatusWarning
	}
	if err := e.store.FinishIngest(ctx, ingest.ID, status, result.MediaPackageID, result.WorkflowInstanceID); err != nil {
		return 0, err
	}
	remove(ctx, videoPath)
	remove(ctx, chatPath)

	logger.Info().Str("event", "engine.done").
		Str("status", status.String()).
		Str("mediapackage_id", result.MediaPackageID).
		Str("workflow_instance_id", result.WorkflowInstanceID).
		Msg("ingest complete")
	return status, nil
}

// retryable classifies failures: transport problems, missing tracks, local
// file inconsistencies, and malformed intermediate responses all may resolve
// on a later attempt. Schema violations will not.
func retryable(err error) bool {
	switch {
	case errors.Is(err, zoom.ErrBadWebhookData), errors.Is(err, zoom.ErrNotFound):
		return false
	case errors.Is(err, zoom.ErrTransport),
		errors.Is(err, zoom.ErrNoMP4Files),
		errors.Is(err, opencast.ErrTransport),
		errors.Is(err, opencast.ErrMediaPackageInvalid),
		errors.Is(err, opencast.ErrOpencast),
		errors.Is(err, errSizeMismatch):
		return true
	default:
		// Unknown failures lean retryable; the reaper gives up implicitly by
		// never finding a FINISHED row, not by dropping it.
		return true
	}
}

func (e *Engine) notify(ctx context.Context, ingest store.Ingest, err error) {
	if e.notifier == nil {
		return
	}
	e.notifier.Notify(ctx,
		fmt.Sprintf("ingest %d for recording %s failed", ingest.ID, ingest.UUID),
		err.Error())
}
