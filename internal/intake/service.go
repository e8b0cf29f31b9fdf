// Package intake converts external stimuli into exactly one enqueued ingest
// job each, or a documented rejection. It owns the webhook endpoint and the
// human-facing submission surface.
package intake

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/zingest/zingest/internal/config"
	"github.com/zingest/zingest/internal/metrics"
	"github.com/zingest/zingest/internal/opencast"
	"github.com/zingest/zingest/internal/queue"
	"github.com/zingest/zingest/internal/sanitize"
	"github.com/zingest/zingest/internal/store"
	"github.com/zingest/zingest/internal/zoom"
)

// Source is the subset of the Zoom adapter intake depends on.
type Source interface {
	GetRecording(ctx context.Context, uuid string) (zoom.Recording, error)
	ListUserRecordings(ctx context.Context, userID string, from, to time.Time, pageSize, minDuration int) ([]zoom.Recording, error)
	GetUser(ctx context.Context, idOrEmail string) (zoom.User, error)
	SearchUsers(ctx context.Context, query, nextPageToken string) ([]zoom.User, string, error)
}

// Sink is the subset of the Opencast adapter intake depends on.
type Sink interface {
	CreateSeries(ctx context.Context, req opencast.SeriesRequest) (string, error)
	Workflows(ctx context.Context) map[string]string
	ACLNames(ctx context.Context) map[string]string
	Themes(ctx context.Context) map[string]string
	SeriesTitles(ctx context.Context) map[string]string
}

// Publisher enqueues ingest jobs.
type Publisher interface {
	Publish(ctx context.Context, msg queue.Message) error
}

// Service wires the intake operations to their collaborators.
type Service struct {
	store  *store.Store
	source Source
	sink   Sink
	broker Publisher
	cfg    config.Config

	topicRegex *regexp.Regexp
}

// NewService builds the intake service. The topic regex must already have
// passed config validation.
func NewService(st *store.Store, source Source, sink Sink, broker Publisher, cfg config.Config) (*Service, error) {
	s := &Service{store: st, source: source, sink: sink, broker: broker, cfg: cfg}
	if cfg.TopicRegex != "" {
		re, err := regexp.Compile(cfg.TopicRegex)
		if err != nil {
			return nil, fmt.Errorf("intake: topic_regex: %w", err)
		}
		s.topicRegex = re
	}
	return s, nil
}

// IngestRequest is one manual submission.
type IngestRequest struct {
	WorkflowID string            `json:"workflow_id"`
	ACLID      string            `json:"acl_id"`
	SeriesID   string            `json:"series_id"`
	Fields     map[string]string `json:"fields"`
	// DurationCheck enables the minimum-duration gate for this submission.
	DurationCheck bool `json:"duration_check"`
}

// ErrTooShort rejects recordings below the configured minimum duration.
type ErrTooShort struct {
	Duration int
	Minimum  int
}

func (e ErrTooShort) Error() string {
	return fmt.Sprintf("intake: recording is too short (%d < %d minutes)", e.Duration, e.Minimum)
}

// ErrUnknownCatalogID rejects submissions referencing ids absent from the
// catalog snapshots.
type ErrUnknownCatalogID struct {
	Catalog string
	ID      string
}

func (e ErrUnknownCatalogID) Error() string {
	return fmt.Sprintf("intake: %s %q is not in the catalog", e.Catalog, e.ID)
}

// validateCatalogIDs checks the submission against the cached catalogs. An
// empty snapshot skips the check so a failed refresh never blocks intake.
func (s *Service) validateCatalogIDs(ctx context.Context, req IngestRequest) error {
	if req.WorkflowID != "" {
		if wfs := s.sink.Workflows(ctx); len(wfs) > 0 {
			if _, ok := wfs[req.WorkflowID]; !ok {
				return ErrUnknownCatalogID{Catalog: "workflow", ID: req.WorkflowID}
			}
		}
	}
	if req.ACLID != "" {
		if acls := s.sink.ACLNames(ctx); len(acls) > 0 {
			if _, ok := acls[req.ACLID]; !ok {
				return ErrUnknownCatalogID{Catalog: "acl", ID: req.ACLID}
			}
		}
	}
	return nil
}

// IngestManual creates an ingest for a known recording uuid and enqueues the
// job. Unlike the webhook path there is no secret gate and the duration check
// is caller-controlled.
func (s *Service) IngestManual(ctx context.Context, uuid string, req IngestRequest) (int64, error) {
	if err := s.validateCatalogIDs(ctx, req); err != nil {
		metrics.IncManualIngest("invalid")
		return 0, err
	}
	rec, err := s.source.GetRecording(ctx, uuid)
	if err != nil {
		metrics.IncManualIngest("invalid")
		return 0, err
	}
	if req.DurationCheck && rec.Duration < s.cfg.Webhook.MinDuration {
		metrics.IncManualIngest("too_short")
		return 0, ErrTooShort{Duration: rec.Duration, Minimum: s.cfg.Webhook.MinDuration}
	}
	id, err := s.createAndEnqueue(ctx, rec, s.buildParams(ctx, rec, req), false)
	if err == nil {
		metrics.IncManualIngest("accepted")
	}
	return id, err
}

// BulkResult is the outcome of one entry of a bulk submission.
type BulkResult struct {
	UUID     string `json:"uuid"`
	IngestID int64  `json:"ingest_id,omitempty"`
	Error    string `json:"error,omitempty"`
}

// IngestBulk loops IngestManual over the uuids with shared parameters.
// Individual failures do not abort the batch.
func (s *Service) IngestBulk(ctx context.Context, uuids []string, shared IngestRequest) []BulkResult {
	results := make([]BulkResult, 0, len(uuids))
	for _, uuid := range uuids {
		id, err := s.IngestManual(ctx, uuid, shared)
		r := BulkResult{UUID: uuid, IngestID: id}
		if err != nil {
			r.Error = err.Error()
		}
		results = append(results, r)
	}
	return results
}

// buildParams assembles the persisted submission parameters: explicit request
// values first, recording metadata as fallback, webhook defaults last.
func (s *Service) buildParams(ctx context.Context, rec zoom.Recording, req IngestRequest) store.IngestParams {
	fields := make(map[string]string, len(req.Fields)+5)
	for k, v := range req.Fields {
		fields[sanitize.String(k)] = sanitize.String(v)
	}
	if fields["title"] == "" {
		fields["title"] = sanitize.String(rec.Topic)
	}
	if fields["date"] == "" {
		fields["date"] = rec.StartTime
	}
	if fields["duration"] == "" {
		fields["duration"] = strconv.Itoa(rec.Duration)
	}
	if fields["creator"] == "" {
		fields["creator"] = s.creatorFor(ctx, rec.HostID)
	}
	if req.SeriesID != "" {
		fields["isPartOf"] = req.SeriesID
	}
	return store.IngestParams{
		WorkflowID: req.WorkflowID,
		ACLID:      req.ACLID,
		Fields:     fields,
	}
}

// creatorFor resolves the host id to a display name, falling back to the raw
// id when the user lookup fails.
func (s *Service) creatorFor(ctx context.Context, hostID string) string {
	u, err := s.source.GetUser(ctx, hostID)
	if err != nil {
		return hostID
	}
	name := strings.TrimSpace(u.FirstName + " " + u.LastName)
	if name == "" {
		return hostID
	}
	return name
}

// createAndEnqueue persists the ingest row and, after commit, publishes the
// job. A publish failure is surfaced; the row stays NEW for the reaper.
func (s *Service) createAndEnqueue(ctx context.Context, rec zoom.Recording, params store.IngestParams, isWebhook bool) (int64, error) {
	blob, err := params.Encode()
	if err != nil {
		return 0, err
	}
	id, err := s.store.CreateIngest(ctx, store.Recording{
		UUID:      rec.UUID,
		HostID:    rec.HostID,
		StartTime: rec.StartTime,
		Title:     rec.Topic,
		Duration:  rec.Duration,
	}, blob, isWebhook)
	if err != nil {
		return 0, err
	}
	if err := s.broker.Publish(ctx, queue.Message{UUID: rec.UUID, IngestID: id}); err != nil {
		return id, err
	}
	return id, nil
}

// CreateSeries forwards a series creation to Opencast.
func (s *Service) CreateSeries(ctx context.Context, req opencast.SeriesRequest) (string, error) {
	req.Title = sanitize.String(req.Title)
	for k, v := range req.Fields {
		req.Fields[k] = sanitize.String(v)
	}
	return s.sink.CreateSeries(ctx, req)
}
