package metrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestWebhookEventCounter(t *testing.T) {
	before := testutil.ToFloat64(webhookEventsTotal.WithLabelValues("accepted"))
	IncWebhookEvent("accepted")
	assert.Equal(t, before+1, testutil.ToFloat64(webhookEventsTotal.WithLabelValues("accepted")))
}

func TestCatalogRefreshOutcome(t *testing.T) {
	okBefore := testutil.ToFloat64(catalogRefreshTotal.WithLabelValues("acls", "success"))
	errBefore := testutil.ToFloat64(catalogRefreshTotal.WithLabelValues("acls", "failure"))

	IncCatalogRefresh("acls", nil)
	IncCatalogRefresh("acls", errors.New("boom"))

	assert.Equal(t, okBefore+1, testutil.ToFloat64(catalogRefreshTotal.WithLabelValues("acls", "success")))
	assert.Equal(t, errBefore+1, testutil.ToFloat64(catalogRefreshTotal.WithLabelValues("acls", "failure")))
}

func TestDownloadBytes(t *testing.T) {
	before := testutil.ToFloat64(downloadBytes)
	AddDownloadBytes(2048)
	assert.Equal(t, before+2048, testutil.ToFloat64(downloadBytes))
}
