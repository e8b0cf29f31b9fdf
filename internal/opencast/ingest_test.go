package opencast

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const workflowResponse = `<wf:workflow xmlns:wf="http://workflow.opencastproject.org" xmlns:mp="http://mediapackage.opencastproject.org" id="wf-42">` +
	`<mp:mediapackage id="mp-final"/></wf:workflow>`

type ingestRecorder struct {
	mu        sync.Mutex
	flavors   []string
	filenames []string
	types     []string
}

func (rec *ingestRecorder) handler(t *testing.T) http.Handler {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/acl-manager/acl/acls.json", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[{"id":7,"name":"course","acl":{"ace":[{"role":"ROLE_COURSE","action":"read","allow":true}]}}]`))
	})
	mux.HandleFunc("/ingest/createMediaPackage", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<mediapackage id="mp-0"/>`))
	})
	mux.HandleFunc("/ingest/addDCCatalog", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		rec.record(r.Form.Get("flavor"), "", "")
		assert.NotEmpty(t, r.Form.Get("mediaPackage"))
		assert.NotEmpty(t, r.Form.Get("dublinCore"))
		_, _ = w.Write([]byte(`<mediapackage id="mp-dc"/>`))
	})
	attach := func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseMultipartForm(1 << 20))
		files := r.MultipartForm.File["BODY"]
		require.Len(t, files, 1)
		rec.record(r.FormValue("flavor"), files[0].Filename, files[0].Header.Get("Content-Type"))
		_, _ = w.Write([]byte(`<mediapackage id="mp-next"/>`))
	}
	mux.HandleFunc("/ingest/addAttachment", attach)
	mux.HandleFunc("/ingest/addTrack", attach)
	mux.HandleFunc("/ingest/ingest/", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "true", r.Form.Get("publishToSearch"))
		_, _ = w.Write([]byte(workflowResponse))
	})
	return mux
}

func (rec *ingestRecorder) record(flavor, filename, contentType string) {
	rec.mu.Lock()
	defer rec.mu.Unlock()
	rec.flavors = append(rec.flavors, flavor)
	if filename != "" {
		rec.filenames = append(rec.filenames, filename)
		rec.types = append(rec.types, contentType)
	}
}

func writeTempFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestIngestFullProtocol(t *testing.T) {
	rec := &ingestRecorder{}
	c := testOpencast(t, rec.handler(t), Options{})

	result, err := c.Ingest(context.Background(), IngestJob{
		EpisodeID:  "abc==",
		WorkflowID: "fast",
		ACLID:      "7",
		Fields: map[string]string{
			"title":          "Lecture 1",
			"duration":       "45",
			"eth-advertised": "on",
		},
		VideoPath: writeTempFile(t, "track.mp4", "videobytes"),
		ChatPath:  writeTempFile(t, "chat.txt", "hello"),
	})
	require.NoError(t, err)
	assert.Equal(t, "mp-final", result.MediaPackageID)
	assert.Equal(t, "wf-42", result.WorkflowInstanceID)

	assert.Equal(t, []string{
		"dublincore/episode",
		"ethterms/episode",
		"security/xacml+episode",
		"chat/transcript",
		"presentation/source",
	}, rec.flavors)
	assert.Equal(t, []string{"xacml.xml", "chat.txt", "track.mp4"}, rec.filenames)
	assert.Equal(t, []string{"text/xml", "text/plain", "video/mp4"}, rec.types)
}

func TestIngestSkipsOptionalSteps(t *testing.T) {
	rec := &ingestRecorder{}
	c := testOpencast(t, rec.handler(t), Options{})

	_, err := c.Ingest(context.Background(), IngestJob{
		EpisodeID:  "abc==",
		WorkflowID: "fast",
		Fields:     map[string]string{"title": "Lecture 1"},
		VideoPath:  writeTempFile(t, "track.mp4", "videobytes"),
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"dublincore/episode", "presentation/source"}, rec.flavors)
}

func TestIngestRejectsMissingWorkflow(t *testing.T) {
	c := testOpencast(t, http.NotFoundHandler(), Options{})
	_, err := c.Ingest(context.Background(), IngestJob{EpisodeID: "abc=="})
	assert.ErrorIs(t, err, ErrOpencast)
}

func TestIngestAbortsOnMalformedMediaPackage(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/ingest/createMediaPackage", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<mediapackage id="mp-0"/>`))
	})
	mux.HandleFunc("/ingest/addDCCatalog", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<mediapackage id="broken`))
	})
	c := testOpencast(t, mux, Options{})

	_, err := c.Ingest(context.Background(), IngestJob{
		EpisodeID:  "abc==",
		WorkflowID: "fast",
		VideoPath:  writeTempFile(t, "track.mp4", "x"),
	})
	assert.ErrorIs(t, err, ErrMediaPackageInvalid)
}

func TestParseWorkflow(t *testing.T) {
	result, err := parseWorkflow(workflowResponse)
	require.NoError(t, err)
	assert.Equal(t, "wf-42", result.WorkflowInstanceID)
	assert.Equal(t, "mp-final", result.MediaPackageID)

	_, err = parseWorkflow(`<wf:workflow xmlns:wf="http://workflow.opencastproject.org" id="wf-42"/>`)
	assert.ErrorIs(t, err, ErrMediaPackageInvalid, "missing mediapackage id")
}

func TestCreateSeries(t *testing.T) {
	var gotTheme string
	var ethPut bool
	mux := http.NewServeMux()
	mux.HandleFunc("/acl-manager/acl/acls.json", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[{"id":7,"name":"course","acl":{"ace":[{"role":"ROLE_COURSE","action":"read","allow":true}]}}]`))
	})
	mux.HandleFunc("/api/series", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		gotTheme = r.Form.Get("theme")
		assert.Contains(t, r.Form.Get("metadata"), `"startDate"`)
		assert.Contains(t, r.Form.Get("metadata"), `"title"`)
		assert.Contains(t, r.Form.Get("acl"), "ROLE_COURSE")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"identifier":"series-9"}`))
	})
	mux.HandleFunc("/series/series-9/elements/ethterms", func(w http.ResponseWriter, r *http.Request) {
		ethPut = r.Method == http.MethodPut
		w.WriteHeader(http.StatusNoContent)
	})
	c := testOpencast(t, mux, Options{})

	id, err := c.CreateSeries(context.Background(), SeriesRequest{
		Title:   "Algorithms",
		ACLID:   "7",
		ThemeID: "3",
		Fields: map[string]string{
			"date":           "2026-02-01",
			"creator":        "Ada Lovelace;Grace Hopper",
			"eth-advertised": "on",
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "series-9", id)
	assert.Equal(t, "3", gotTheme)
	assert.True(t, ethPut, "extension element must be attached after creation")
}

func TestCreateSeriesRejectsNon201(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/acl-manager/acl/acls.json", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[]`))
	})
	mux.HandleFunc("/api/series", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
	})
	c := testOpencast(t, mux, Options{})

	_, err := c.CreateSeries(context.Background(), SeriesRequest{Title: "Algorithms"})
	assert.ErrorIs(t, err, ErrOpencast)
}
