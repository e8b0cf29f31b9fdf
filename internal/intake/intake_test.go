package intake

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zingest/zingest/internal/config"
	"github.com/zingest/zingest/internal/opencast"
	"github.com/zingest/zingest/internal/queue"
	"github.com/zingest/zingest/internal/store"
	"github.com/zingest/zingest/internal/zoom"
)

type fakeSource struct {
	recordings    map[string]zoom.Recording
	users         map[string]zoom.User
	searchResults []zoom.User
}

func (f *fakeSource) GetRecording(ctx context.Context, uuid string) (zoom.Recording, error) {
	rec, ok := f.recordings[uuid]
	if !ok {
		return zoom.Recording{}, zoom.ErrNotFound
	}
	return rec, nil
}

func (f *fakeSource) ListUserRecordings(ctx context.Context, userID string, from, to time.Time, pageSize, minDuration int) ([]zoom.Recording, error) {
	var out []zoom.Recording
	for _, rec := range f.recordings {
		if rec.HostID == userID && rec.Duration >= minDuration {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (f *fakeSource) GetUser(ctx context.Context, idOrEmail string) (zoom.User, error) {
	u, ok := f.users[idOrEmail]
	if !ok {
		return zoom.User{}, zoom.ErrNotFound
	}
	return u, nil
}

func (f *fakeSource) SearchUsers(ctx context.Context, query, nextPageToken string) ([]zoom.User, string, error) {
	return f.searchResults, "", nil
}

type fakePublisher struct {
	messages []queue.Message
	err      error
}

func (f *fakePublisher) Publish(ctx context.Context, msg queue.Message) error {
	if f.err != nil {
		return f.err
	}
	f.messages = append(f.messages, msg)
	return nil
}

type fakeSink struct {
	created      []opencast.SeriesRequest
	workflows    map[string]string
	acls         map[string]string
	themes       map[string]string
	seriesTitles map[string]string
}

func (f *fakeSink) CreateSeries(ctx context.Context, req opencast.SeriesRequest) (string, error) {
	f.created = append(f.created, req)
	return "series-1", nil
}

func (f *fakeSink) Workflows(ctx context.Context) map[string]string    { return f.workflows }
func (f *fakeSink) ACLNames(ctx context.Context) map[string]string     { return f.acls }
func (f *fakeSink) Themes(ctx context.Context) map[string]string       { return f.themes }
func (f *fakeSink) SeriesTitles(ctx context.Context) map[string]string { return f.seriesTitles }

func enabledConfig() config.Config {
	cfg := config.Defaults()
	cfg.Webhook.DefaultWorkflowID = "fast"
	cfg.Webhook.DefaultACLID = "7"
	return cfg
}

type fixture struct {
	svc    *Service
	store  *store.Store
	broker *fakePublisher
	sink   *fakeSink
	source *fakeSource
}

func newFixture(t *testing.T, cfg config.Config) *fixture {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	source := &fakeSource{
		recordings: map[string]zoom.Recording{},
		users: map[string]zoom.User{
			"H": {ID: "H", FirstName: "Ada", LastName: "Lovelace", Email: "ada@example.org"},
		},
	}
	broker := &fakePublisher{}
	sink := &fakeSink{}
	svc, err := NewService(st, source, sink, broker, cfg)
	require.NoError(t, err)
	return &fixture{svc: svc, store: st, broker: broker, sink: sink, source: source}
}

func completedBody(topic string, duration int) []byte {
	return []byte(fmt.Sprintf(`{
		"event": "recording.completed",
		"download_token": "tok",
		"payload": {"object": {
			"id": 123, "uuid": "abc==", "host_id": "H", "topic": %q,
			"start_time": "2024-01-02T10:00:00Z", "duration": %d,
			"recording_files": [{
				"id": "F1", "recording_start": "s", "recording_end": "e",
				"download_url": "https://src/x", "file_type": "MP4", "file_size": 1024,
				"recording_type": "shared_screen_with_speaker_view", "status": "completed"
			}]
		}}
	}`, topic, duration))
}

func post(t *testing.T, h http.Handler, path string, body []byte) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(body))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestWebhookHappyPath(t *testing.T) {
	f := newFixture(t, enabledConfig())
	h := f.svc.Router()

	w := post(t, h, "/webhook", completedBody("Lecture", 45))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "Successfully sent abc==")

	rec, err := f.store.GetRecording(context.Background(), "abc==")
	require.NoError(t, err)
	assert.Equal(t, "Lecture", rec.Title)

	ingests, err := f.store.IngestsForRecording(context.Background(), "abc==")
	require.NoError(t, err)
	require.Len(t, ingests, 1)
	assert.True(t, ingests[0].IsWebhook)
	assert.Equal(t, store.StatusNew, ingests[0].Status)

	params, err := store.DecodeParams(ingests[0].Params)
	require.NoError(t, err)
	assert.Equal(t, "fast", params.WorkflowID)
	assert.Equal(t, "7", params.ACLID)
	assert.Equal(t, "Lecture", params.Fields["title"])
	assert.Equal(t, "45", params.Fields["duration"])
	assert.Equal(t, "Ada Lovelace", params.Fields["creator"])

	require.Len(t, f.broker.messages, 1)
	assert.Equal(t, queue.Message{UUID: "abc==", IngestID: ingests[0].ID}, f.broker.messages[0])
}

func TestWebhookDuplicateIsNoOp(t *testing.T) {
	f := newFixture(t, enabledConfig())
	h := f.svc.Router()

	post(t, h, "/webhook", completedBody("Lecture", 45))
	w := post(t, h, "/webhook", completedBody("Lecture", 45))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "already created")

	ingests, err := f.store.IngestsForRecording(context.Background(), "abc==")
	require.NoError(t, err)
	assert.Len(t, ingests, 1)
	assert.Len(t, f.broker.messages, 1)
}

func TestWebhookRename(t *testing.T) {
	f := newFixture(t, enabledConfig())
	h := f.svc.Router()
	post(t, h, "/webhook", completedBody("Lecture", 45))

	w := post(t, h, "/webhook", []byte(`{
		"event": "recording.renamed",
		"payload": {
			"old_object": {"uuid": "abc==", "topic": "Lecture"},
			"object": {"uuid": "abc==", "topic": "Lecture (fixed)"}
		}
	}`))
	require.Equal(t, http.StatusOK, w.Code)

	rec, err := f.store.GetRecording(context.Background(), "abc==")
	require.NoError(t, err)
	assert.Equal(t, "Lecture (fixed)", rec.Title)

	ingests, err := f.store.IngestsForRecording(context.Background(), "abc==")
	require.NoError(t, err)
	assert.Len(t, ingests, 1, "rename must not create a second ingest")
	assert.Len(t, f.broker.messages, 1)
}

func TestWebhookRenameBeforeCompletion(t *testing.T) {
	f := newFixture(t, enabledConfig())
	h := f.svc.Router()
	f.source.recordings["abc=="] = zoom.Recording{
		UUID: "abc==", HostID: "H", Topic: "Lecture",
		StartTime: "2024-01-02T10:00:00Z", Duration: 45,
	}

	w := post(t, h, "/webhook", []byte(`{
		"event": "recording.renamed",
		"payload": {
			"old_object": {"uuid": "abc==", "topic": "Lecture"},
			"object": {"uuid": "abc==", "topic": "Lecture (fixed)"}
		}
	}`))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "processing queue")

	ingests, err := f.store.IngestsForRecording(context.Background(), "abc==")
	require.NoError(t, err)
	require.Len(t, ingests, 1, "a rename with no prior ingest runs the completion pipeline")
	assert.True(t, ingests[0].IsWebhook)
	require.Len(t, f.broker.messages, 1)

	params, err := store.DecodeParams(ingests[0].Params)
	require.NoError(t, err)
	assert.Equal(t, "Lecture (fixed)", params.Fields["title"], "the renamed topic wins")

	w = post(t, h, "/webhook", completedBody("Lecture", 45))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "already created", "the late completed event is a duplicate")
	assert.Len(t, f.broker.messages, 1)
}

func TestWebhookRenameUnknownEverywhere(t *testing.T) {
	f := newFixture(t, enabledConfig())
	w := post(t, f.svc.Router(), "/webhook", []byte(`{
		"event": "recording.renamed",
		"payload": {
			"old_object": {"uuid": "ghost==", "topic": "Old"},
			"object": {"uuid": "ghost==", "topic": "New"}
		}
	}`))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "unknown recording")
	assert.Empty(t, f.broker.messages)
}

func TestWebhookUnknownEventAcknowledged(t *testing.T) {
	f := newFixture(t, enabledConfig())
	w := post(t, f.svc.Router(), "/webhook", []byte(`{"event":"meeting.started","payload":{}}`))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "unknown event type")
	assert.Empty(t, f.broker.messages)
}

func TestWebhookFilterDrop(t *testing.T) {
	cfg := enabledConfig()
	cfg.TopicRegex = "^Class:"
	f := newFixture(t, cfg)

	w := post(t, f.svc.Router(), "/webhook", completedBody("Lecture", 45))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "dropped by filter")

	_, err := f.store.GetRecording(context.Background(), "abc==")
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.Empty(t, f.broker.messages)
}

func TestWebhookDisabledWithoutDefaults(t *testing.T) {
	f := newFixture(t, config.Defaults())
	w := post(t, f.svc.Router(), "/webhook", completedBody("Lecture", 45))
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestWebhookMinDurationBoundary(t *testing.T) {
	cfg := enabledConfig()
	cfg.Webhook.MinDuration = 45
	f := newFixture(t, cfg)
	h := f.svc.Router()

	w := post(t, h, "/webhook", completedBody("Lecture", 44))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "too short")

	w = post(t, h, "/webhook", completedBody("Lecture", 45))
	assert.Equal(t, http.StatusOK, w.Code, "duration equal to the minimum is accepted")
}

func TestWebhookSecretGate(t *testing.T) {
	cfg := enabledConfig()
	cfg.Webhook.Secret = "hunter2"
	f := newFixture(t, cfg)
	h := f.svc.Router()

	w := post(t, h, "/webhook", completedBody("Lecture", 45))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	req := httptest.NewRequest(http.MethodPost, "/webhook", bytes.NewReader(completedBody("Lecture", 45)))
	req.Header.Set("Authorization", "hunter2")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestWebhookInvalidPayload(t *testing.T) {
	f := newFixture(t, enabledConfig())
	w := post(t, f.svc.Router(), "/webhook", []byte(`{"event":"recording.completed","payload":{"object":{"uuid":"abc=="}}}`))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestWebhookPublishFailureLeavesRowForReaper(t *testing.T) {
	f := newFixture(t, enabledConfig())
	f.broker.err = errors.New("broker down")

	w := post(t, f.svc.Router(), "/webhook", completedBody("Lecture", 45))
	assert.Equal(t, http.StatusInternalServerError, w.Code)

	ingests, err := f.store.IngestsForRecording(context.Background(), "abc==")
	require.NoError(t, err)
	require.Len(t, ingests, 1, "the committed row survives the publish failure")
	assert.Equal(t, store.StatusNew, ingests[0].Status)
}

func TestManualIngest(t *testing.T) {
	f := newFixture(t, enabledConfig())
	f.source.recordings["xyz=="] = zoom.Recording{
		UUID: "xyz==", HostID: "H", Topic: "Seminar", StartTime: "2024-02-01T09:00:00Z", Duration: 10,
	}

	body, _ := json.Marshal(IngestRequest{
		WorkflowID: "slow", ACLID: "9", SeriesID: "series-5",
		Fields: map[string]string{"title": "Seminar wk1"},
	})
	w := post(t, f.svc.Router(), "/recording/xyz%3D%3D/", body)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	ingests, err := f.store.IngestsForRecording(context.Background(), "xyz==")
	require.NoError(t, err)
	require.Len(t, ingests, 1)
	assert.False(t, ingests[0].IsWebhook)

	params, err := store.DecodeParams(ingests[0].Params)
	require.NoError(t, err)
	assert.Equal(t, "slow", params.WorkflowID)
	assert.Equal(t, "Seminar wk1", params.Fields["title"], "explicit fields win over recording metadata")
	assert.Equal(t, "series-5", params.Fields["isPartOf"])
	assert.Equal(t, "10", params.Fields["duration"])
}

func TestManualIngestDurationCheck(t *testing.T) {
	cfg := enabledConfig()
	cfg.Webhook.MinDuration = 30
	f := newFixture(t, cfg)
	f.source.recordings["xyz=="] = zoom.Recording{UUID: "xyz==", HostID: "H", Topic: "Short", Duration: 5}

	checked, _ := json.Marshal(IngestRequest{WorkflowID: "fast", DurationCheck: true})
	w := post(t, f.svc.Router(), "/recording/xyz%3D%3D/", checked)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	unchecked, _ := json.Marshal(IngestRequest{WorkflowID: "fast"})
	w = post(t, f.svc.Router(), "/recording/xyz%3D%3D/", unchecked)
	assert.Equal(t, http.StatusOK, w.Code, "duration check is caller-controlled on the manual path")
}

func TestBulkIngest(t *testing.T) {
	f := newFixture(t, enabledConfig())
	f.source.recordings["a=="] = zoom.Recording{UUID: "a==", HostID: "H", Topic: "A", Duration: 20}
	f.source.recordings["b=="] = zoom.Recording{UUID: "b==", HostID: "H", Topic: "B", Duration: 25}

	body := []byte(`{"event_ids":["a==","b==","missing=="],"workflow_id":"fast"}`)
	w := post(t, f.svc.Router(), "/bulk", body)
	require.Equal(t, http.StatusOK, w.Code)

	var results []BulkResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &results))
	require.Len(t, results, 3)
	assert.NotZero(t, results[0].IngestID)
	assert.NotZero(t, results[1].IngestID)
	assert.NotEmpty(t, results[2].Error, "unknown uuid fails without aborting the batch")
	assert.Len(t, f.broker.messages, 2)
}

func TestCreateSeriesEndpoint(t *testing.T) {
	f := newFixture(t, enabledConfig())
	body := []byte(`{"title":"Algo​rithms","acl_id":"7","theme_id":"3","fields":{"creator":"Ada"}}`)
	w := post(t, f.svc.Router(), "/series", body)
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Contains(t, w.Body.String(), "series-1")

	require.Len(t, f.sink.created, 1)
	assert.Equal(t, "Algorithms", f.sink.created[0].Title, "zero width space is stripped")
}

func TestCancelAndDelete(t *testing.T) {
	f := newFixture(t, enabledConfig())
	h := f.svc.Router()
	post(t, h, "/webhook", completedBody("Lecture", 45))
	ingests, err := f.store.IngestsForRecording(context.Background(), "abc==")
	require.NoError(t, err)
	require.Len(t, ingests, 1)

	w := post(t, h, fmt.Sprintf("/cancel?ingest_id=%d", ingests[0].ID), nil)
	require.Equal(t, http.StatusOK, w.Code)
	w = post(t, h, fmt.Sprintf("/cancel?ingest_id=%d", ingests[0].ID), nil)
	assert.Equal(t, http.StatusNotFound, w.Code, "second cancel finds nothing")

	f.source.recordings["abc=="] = zoom.Recording{UUID: "abc=="}
	w = post(t, h, "/delete?uuid=abc%3D%3D", nil)
	assert.Equal(t, http.StatusConflict, w.Code, "recording still known upstream")

	delete(f.source.recordings, "abc==")
	w = post(t, h, "/delete?uuid=abc%3D%3D", nil)
	require.Equal(t, http.StatusOK, w.Code)
	_, err = f.store.GetRecording(context.Background(), "abc==")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestGetRecordingView(t *testing.T) {
	f := newFixture(t, enabledConfig())
	h := f.svc.Router()
	post(t, h, "/webhook", completedBody("Lecture", 45))

	req := httptest.NewRequest(http.MethodGet, "/recording/abc%3D%3D/", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var view struct {
		Title   string       `json:"title"`
		Ingests []ingestView `json:"ingests"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &view))
	assert.Equal(t, "Lecture", view.Title)
	require.Len(t, view.Ingests, 1)
	assert.Equal(t, "new", view.Ingests[0].Status)
}

func TestSearchUsersCacheFirst(t *testing.T) {
	f := newFixture(t, enabledConfig())
	h := f.svc.Router()
	require.NoError(t, f.store.EnsureUser(context.Background(), store.User{
		ID: "U1", FirstName: "Grace", LastName: "Hopper", Email: "grace@example.org",
	}))
	f.source.searchResults = []zoom.User{{ID: "U9", FirstName: "Grace", LastName: "Murray"}}

	req := httptest.NewRequest(http.MethodGet, "/users?q=hopper", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var res struct {
		Source string `json:"source"`
		Users  []struct {
			ID string `json:"id"`
		} `json:"users"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	assert.Equal(t, "cache", res.Source)
	require.Len(t, res.Users, 1)
	assert.Equal(t, "U1", res.Users[0].ID)
}

func TestSearchUsersFallsThroughToZoom(t *testing.T) {
	f := newFixture(t, enabledConfig())
	h := f.svc.Router()
	f.source.searchResults = []zoom.User{{ID: "U9", FirstName: "Grace", LastName: "Murray"}}

	req := httptest.NewRequest(http.MethodGet, "/users?q=murray", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var res struct {
		Source string `json:"source"`
		Users  []struct {
			ID string `json:"id"`
		} `json:"users"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	assert.Equal(t, "zoom", res.Source)
	require.Len(t, res.Users, 1)
	assert.Equal(t, "U9", res.Users[0].ID)

	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/users", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code, "query is required")
}

func TestManualIngestValidatesCatalogIDs(t *testing.T) {
	f := newFixture(t, enabledConfig())
	f.source.recordings["xyz=="] = zoom.Recording{UUID: "xyz==", HostID: "H", Topic: "Seminar", Duration: 10}
	f.sink.workflows = map[string]string{"fast": "Fast upload"}
	f.sink.acls = map[string]string{"7": "students"}

	body, _ := json.Marshal(IngestRequest{WorkflowID: "bogus", ACLID: "7"})
	w := post(t, f.svc.Router(), "/recording/xyz%3D%3D/", body)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "workflow")

	body, _ = json.Marshal(IngestRequest{WorkflowID: "fast", ACLID: "404"})
	w = post(t, f.svc.Router(), "/recording/xyz%3D%3D/", body)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "acl")

	body, _ = json.Marshal(IngestRequest{WorkflowID: "fast", ACLID: "7"})
	w = post(t, f.svc.Router(), "/recording/xyz%3D%3D/", body)
	assert.Equal(t, http.StatusOK, w.Code, "known ids pass validation")
}

func TestManualIngestSkipsValidationOnEmptySnapshot(t *testing.T) {
	f := newFixture(t, enabledConfig())
	f.source.recordings["xyz=="] = zoom.Recording{UUID: "xyz==", HostID: "H", Topic: "Seminar", Duration: 10}

	body, _ := json.Marshal(IngestRequest{WorkflowID: "anything", ACLID: "9"})
	w := post(t, f.svc.Router(), "/recording/xyz%3D%3D/", body)
	assert.Equal(t, http.StatusOK, w.Code, "empty catalog snapshots must not block intake")
}

func TestCatalogsEndpoint(t *testing.T) {
	f := newFixture(t, enabledConfig())
	f.sink.workflows = map[string]string{"fast": "Fast upload"}
	f.sink.acls = map[string]string{"7": "students"}
	f.sink.themes = map[string]string{"1": "default"}
	f.sink.seriesTitles = map[string]string{"s1": "Algorithms (2026) (Ada Lovelace)"}

	req := httptest.NewRequest(http.MethodGet, "/catalogs", nil)
	w := httptest.NewRecorder()
	f.svc.Router().ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var res map[string]map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	assert.Equal(t, "Fast upload", res["workflows"]["fast"])
	assert.Equal(t, "students", res["acls"]["7"])
	assert.Equal(t, "default", res["themes"]["1"])
	assert.Equal(t, "Algorithms (2026) (Ada Lovelace)", res["series"]["s1"])
}
