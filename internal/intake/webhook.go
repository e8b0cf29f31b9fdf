package intake

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/zingest/zingest/internal/log"
	"github.com/zingest/zingest/internal/metrics"
	"github.com/zingest/zingest/internal/sanitize"
	"github.com/zingest/zingest/internal/store"
	"github.com/zingest/zingest/internal/zoom"
)

// webhookEvent is the envelope Zoom posts to the webhook endpoint.
type webhookEvent struct {
	Event         string         `json:"event"`
	DownloadToken string         `json:"download_token"`
	Payload       map[string]any `json:"payload"`
}

// webhookReply is a terminal intake decision: an HTTP status plus a short
// plain-text reason for the webhook caller.
type webhookReply struct {
	Status  int
	Message string
}

func reply(status int, format string, args ...any) webhookReply {
	return webhookReply{Status: status, Message: fmt.Sprintf(format, args...)}
}

// HandleWebhook routes one webhook event. The returned reply is written
// verbatim to the caller; Zoom only cares about the status code, the message
// is for operators replaying events by hand.
func (s *Service) HandleWebhook(ctx context.Context, body []byte) webhookReply {
	logger := log.WithComponentFromContext(ctx, "intake")

	if !s.cfg.WebhookEnabled() {
		metrics.IncWebhookEvent("disabled")
		return reply(http.StatusMethodNotAllowed, "webhook ingest is not configured")
	}

	var event webhookEvent
	if err := json.Unmarshal(body, &event); err != nil {
		metrics.IncWebhookEvent("invalid")
		return reply(http.StatusBadRequest, "malformed webhook body")
	}

	switch event.Event {
	case "recording.completed":
		return s.recordingCompleted(ctx, event.Payload)
	case "recording.renamed":
		return s.recordingRenamed(ctx, event.Payload)
	default:
		// Zoom retries anything non-2xx; event types we do not handle are
		// acknowledged so the subscription can carry them without churn.
		logger.Debug().Str("event", "webhook.unknown_event").
			Str("webhook_event", event.Event).Msg("ignoring unknown event type")
		metrics.IncWebhookEvent("ignored")
		return reply(http.StatusOK, "unknown event type %q", event.Event)
	}
}

func (s *Service) recordingCompleted(ctx context.Context, payload map[string]any) webhookReply {
	if err := zoom.ValidatePayload(payload); err != nil {
		metrics.IncWebhookEvent("invalid")
		return reply(http.StatusBadRequest, "%v", err)
	}
	obj, _ := payload["object"].(map[string]any)
	rec, err := zoom.ParseObject(obj)
	if err != nil {
		metrics.IncWebhookEvent("invalid")
		return reply(http.StatusBadRequest, "%v", err)
	}
	return s.processRecording(ctx, rec)
}

// processRecording runs the completion pipeline for one recording: topic
// filter, minimum duration, webhook dedup, then create-and-enqueue. Both the
// completed event and a rename arriving ahead of it end up here.
func (s *Service) processRecording(ctx context.Context, rec zoom.Recording) webhookReply {
	logger := log.WithComponentFromContext(ctx, "intake")

	if s.topicRegex != nil && !s.topicRegex.MatchString(rec.Topic) {
		logger.Info().Str("event", "webhook.filtered").
			Str("uuid", rec.UUID).Str("topic", rec.Topic).
			Msg("recording dropped by topic filter")
		metrics.IncWebhookEvent("filtered")
		return reply(http.StatusOK, "dropped by filter")
	}
	if rec.Duration < s.cfg.Webhook.MinDuration {
		metrics.IncWebhookEvent("too_short")
		return reply(http.StatusBadRequest, "recording is too short (%d < %d minutes)",
			rec.Duration, s.cfg.Webhook.MinDuration)
	}

	exists, err := s.store.HasWebhookIngest(ctx, rec.UUID)
	if err != nil {
		return reply(http.StatusInternalServerError, "%v", err)
	}
	if exists {
		metrics.IncWebhookEvent("duplicate")
		return reply(http.StatusOK, "already created")
	}

	params := s.webhookParams(ctx, rec)
	id, err := s.createAndEnqueue(ctx, rec, params, true)
	if errors.Is(err, store.ErrDuplicateWebhook) {
		// Lost the race against a concurrent delivery of the same event.
		metrics.IncWebhookEvent("duplicate")
		return reply(http.StatusOK, "already created")
	}
	if err != nil {
		if id != 0 {
			// Row is committed; the publish failed. The reaper re-drives it.
			metrics.IncPublishFailure()
			logger.Error().Err(err).Str("event", "webhook.publish_failed").
				Str("uuid", rec.UUID).Int64("ingest_id", id).
				Msg("job publish failed, row left for the reaper")
		}
		return reply(http.StatusInternalServerError, "%v", err)
	}

	logger.Info().Str("event", "webhook.accepted").
		Str("uuid", rec.UUID).Int64("ingest_id", id).
		Msg("webhook ingest enqueued")
	metrics.IncWebhookEvent("accepted")
	return reply(http.StatusOK, "Successfully sent %s to the processing queue", rec.UUID)
}

// webhookParams maps the configured defaults onto the submission parameters.
func (s *Service) webhookParams(ctx context.Context, rec zoom.Recording) store.IngestParams {
	fields := map[string]string{
		"title":    sanitize.String(rec.Topic),
		"date":     rec.StartTime,
		"duration": strconv.Itoa(rec.Duration),
		"creator":  s.creatorFor(ctx, rec.HostID),
	}
	if s.cfg.Webhook.DefaultSeriesID != "" {
		fields["isPartOf"] = s.cfg.Webhook.DefaultSeriesID
	}
	return store.IngestParams{
		WorkflowID: s.cfg.Webhook.DefaultWorkflowID,
		ACLID:      s.cfg.Webhook.DefaultACLID,
		Fields:     fields,
	}
}

// recordingRenamed updates the stored title. A rename can also reach us
// before (or instead of) the completed event, so when no ingest exists yet
// the recording is fetched from Zoom and pushed through the completion
// pipeline under its new title.
func (s *Service) recordingRenamed(ctx context.Context, payload map[string]any) webhookReply {
	logger := log.WithComponentFromContext(ctx, "intake")

	if err := zoom.ValidateRenamed(payload); err != nil {
		metrics.IncWebhookEvent("invalid")
		return reply(http.StatusBadRequest, "%v", err)
	}
	obj := payload["object"].(map[string]any)
	uuid, _ := obj["uuid"].(string)
	topic, _ := obj["topic"].(string)

	err := s.store.RenameRecording(ctx, uuid, topic)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return reply(http.StatusInternalServerError, "%v", err)
	}

	ingests, err := s.store.IngestsForRecording(ctx, uuid)
	if err != nil {
		return reply(http.StatusInternalServerError, "%v", err)
	}
	if len(ingests) > 0 {
		logger.Info().
			Str("event", "webhook.renamed").Str("uuid", uuid).
			Msg("recording renamed")
		return reply(http.StatusOK, "renamed %s", uuid)
	}

	rec, err := s.source.GetRecording(ctx, uuid)
	if errors.Is(err, zoom.ErrNotFound) {
		return reply(http.StatusOK, "unknown recording %s", uuid)
	}
	if err != nil {
		return reply(http.StatusInternalServerError, "%v", err)
	}
	rec.Topic = topic
	logger.Info().
		Str("event", "webhook.renamed_without_ingest").Str("uuid", uuid).
		Msg("rename arrived before any ingest, running completion pipeline")
	return s.processRecording(ctx, rec)
}
