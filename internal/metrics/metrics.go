// Package metrics exposes Prometheus counters and gauges for the ingest
// pipeline. Helpers keep label usage consistent across callers.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Intake metrics
	webhookEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "zingest_webhook_events_total",
		Help: "Webhook events received by outcome",
	}, []string{"outcome"}) // outcome=accepted|duplicate|filtered|too_short|invalid|ignored|disabled

	manualIngestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "zingest_manual_ingests_total",
		Help: "Manual ingest submissions by outcome",
	}, []string{"outcome"}) // outcome=accepted|too_short|invalid

	// Queue metrics
	publishFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "zingest_queue_publish_failures_total",
		Help: "Job publish failures (row stays NEW for the reaper)",
	})

	// Engine metrics
	ingestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "zingest_ingests_total",
		Help: "Completed engine runs by result",
	}, []string{"result"}) // result=finished|warning|retryable|failed

	ingestDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "zingest_ingest_duration_seconds",
		Help:    "Wall time of a complete engine run",
		Buckets: prometheus.ExponentialBuckets(10, 2, 10),
	})

	downloadBytes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "zingest_download_bytes_total",
		Help: "Bytes downloaded from the recording source",
	})

	downloadsSkipped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "zingest_downloads_skipped_total",
		Help: "Downloads skipped because the file already existed at full size",
	})

	fallbackTracksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "zingest_fallback_tracks_total",
		Help: "Ingests that had to use a fallback track (status WARNING)",
	})

	reaperRequeuedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "zingest_reaper_requeued_total",
		Help: "Stale ingest rows re-driven by the reaper",
	})

	// Catalog metrics
	catalogRefreshTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "zingest_catalog_refresh_total",
		Help: "Catalog cache refreshes by catalog and outcome",
	}, []string{"catalog", "outcome"}) // outcome=success|failure
)

func IncWebhookEvent(outcome string)  { webhookEventsTotal.WithLabelValues(outcome).Inc() }
func IncManualIngest(outcome string)  { manualIngestsTotal.WithLabelValues(outcome).Inc() }
func IncPublishFailure()              { publishFailuresTotal.Inc() }
func IncIngestResult(result string)   { ingestsTotal.WithLabelValues(result).Inc() }
func ObserveIngest(d time.Duration)   { ingestDuration.Observe(d.Seconds()) }
func AddDownloadBytes(n int64)        { downloadBytes.Add(float64(n)) }
func IncDownloadSkipped()             { downloadsSkipped.Inc() }
func IncFallbackTrack()               { fallbackTracksTotal.Inc() }
func AddReaperRequeued(n int)         { reaperRequeuedTotal.Add(float64(n)) }
func IncCatalogRefresh(catalog string, err error) {
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	catalogRefreshTotal.WithLabelValues(catalog, outcome).Inc()
}
