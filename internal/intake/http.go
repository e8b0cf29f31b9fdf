package intake

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/zingest/zingest/internal/log"
	"github.com/zingest/zingest/internal/opencast"
	"github.com/zingest/zingest/internal/store"
	"github.com/zingest/zingest/internal/zoom"
)

const maxBodyBytes = 1 << 20

// Router builds the HTTP surface: the webhook endpoint plus the human-facing
// submission and browsing API.
func (s *Service) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(requestID)
	r.Use(httprate.LimitByIP(300, time.Minute))

	r.Post("/webhook", s.handleWebhook)

	r.Get("/", s.handleSearch)
	r.Get("/users", s.handleSearchUsers)
	r.Get("/catalogs", s.handleCatalogs)
	r.Get("/healthz", s.handleHealthz)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/recording/{uuid}", func(r chi.Router) {
		r.Get("/", s.handleGetRecording)
		r.Post("/", s.handleManualIngest)
	})
	r.Post("/bulk", s.handleBulk)
	r.Post("/series", s.handleCreateSeries)
	r.Get("/recordings/{userID}", s.handleListRecordings)

	r.HandleFunc("/cancel", s.handleCancel)
	r.HandleFunc("/delete", s.handleDelete)

	return r
}

// requestID tags each request with a correlation id for log context.
func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-Id")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-Id", id)
		next.ServeHTTP(w, r.WithContext(log.ContextWithRequestID(r.Context(), id)))
	})
}

func (s *Service) handleWebhook(w http.ResponseWriter, r *http.Request) {
	if !s.authorizeWebhook(r) {
		http.Error(w, "bad webhook secret", http.StatusUnauthorized)
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		http.Error(w, "unreadable body", http.StatusBadRequest)
		return
	}
	rep := s.HandleWebhook(r.Context(), body)
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(rep.Status)
	_, _ = w.Write([]byte(rep.Message))
}

// authorizeWebhook enforces the optional pre-shared secret, accepted either
// as the Authorization header or a "secret" query parameter.
func (s *Service) authorizeWebhook(r *http.Request) bool {
	secret := s.cfg.Webhook.Secret
	if secret == "" {
		return true
	}
	for _, candidate := range []string{r.Header.Get("Authorization"), r.URL.Query().Get("secret")} {
		if subtle.ConstantTimeCompare([]byte(candidate), []byte(secret)) == 1 {
			return true
		}
	}
	return false
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func (s *Service) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ingestView is the wire rendering of one ingest row.
type ingestView struct {
	ID             int64  `json:"id"`
	Status         string `json:"status"`
	Timestamp      string `json:"timestamp"`
	IsWebhook      bool   `json:"is_webhook"`
	MediaPackageID string `json:"mediapackage_id,omitempty"`
	WorkflowID     string `json:"workflow_id,omitempty"`
}

func viewIngest(i store.Ingest) ingestView {
	return ingestView{
		ID:             i.ID,
		Status:         i.Status.String(),
		Timestamp:      i.Timestamp.UTC().Format(time.RFC3339),
		IsWebhook:      i.IsWebhook,
		MediaPackageID: i.MediaPackageID,
		WorkflowID:     i.WorkflowID,
	}
}

func (s *Service) handleGetRecording(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "uuid")
	rec, err := s.store.GetRecording(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, err)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	ingests, err := s.store.IngestsForRecording(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	views := make([]ingestView, 0, len(ingests))
	for _, i := range ingests {
		views = append(views, viewIngest(i))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"uuid":       rec.UUID,
		"title":      rec.Title,
		"host_id":    rec.HostID,
		"start_time": rec.StartTime,
		"duration":   rec.Duration,
		"ingests":    views,
	})
}

func (s *Service) handleManualIngest(w http.ResponseWriter, r *http.Request) {
	var req IngestRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	id, err := s.IngestManual(r.Context(), chi.URLParam(r, "uuid"), req)
	var (
		tooShort  ErrTooShort
		unknownID ErrUnknownCatalogID
	)
	switch {
	case errors.As(err, &tooShort), errors.As(err, &unknownID):
		writeError(w, http.StatusBadRequest, err)
	case errors.Is(err, store.ErrDuplicateWebhook):
		writeError(w, http.StatusConflict, err)
	case err != nil:
		writeError(w, http.StatusBadGateway, err)
	default:
		writeJSON(w, http.StatusOK, map[string]int64{"ingest_id": id})
	}
}

func (s *Service) handleBulk(w http.ResponseWriter, r *http.Request) {
	var req struct {
		EventIDs []string `json:"event_ids"`
		IngestRequest
	}
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if len(req.EventIDs) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "event_ids is empty"})
		return
	}
	writeJSON(w, http.StatusOK, s.IngestBulk(r.Context(), req.EventIDs, req.IngestRequest))
}

func (s *Service) handleCreateSeries(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Title   string            `json:"title"`
		ACLID   string            `json:"acl_id"`
		ThemeID string            `json:"theme_id"`
		Fields  map[string]string `json:"fields"`
	}
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.Title == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "title is empty"})
		return
	}
	id, err := s.CreateSeries(r.Context(), opencast.SeriesRequest{
		Title: req.Title, ACLID: req.ACLID, ThemeID: req.ThemeID, Fields: req.Fields,
	})
	if err != nil {
		writeError(w, http.StatusBadGateway, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"identifier": id})
}

func (s *Service) handleListRecordings(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	q := r.URL.Query()
	from, _ := time.Parse("2006-01-02", q.Get("from"))
	to, _ := time.Parse("2006-01-02", q.Get("to"))

	recs, err := s.source.ListUserRecordings(r.Context(), userID, from, to, 0, s.cfg.Webhook.MinDuration)
	if err != nil {
		writeError(w, http.StatusBadGateway, err)
		return
	}
	type recView struct {
		UUID      string `json:"uuid"`
		Topic     string `json:"topic"`
		StartTime string `json:"start_time"`
		Duration  int    `json:"duration"`
		Status    string `json:"status,omitempty"`
	}
	views := make([]recView, 0, len(recs))
	for _, rec := range recs {
		v := recView{UUID: rec.UUID, Topic: rec.Topic, StartTime: rec.StartTime, Duration: rec.Duration}
		if ingests, err := s.store.IngestsForRecording(r.Context(), rec.UUID); err == nil && len(ingests) > 0 {
			v.Status = ingests[len(ingests)-1].Status.String()
		}
		views = append(views, v)
	}
	writeJSON(w, http.StatusOK, views)
}

func (s *Service) handleSearch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	recs, err := s.store.SearchRecordings(r.Context(), q.Get("title"), q.Get("user"), q.Get("date"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	type hit struct {
		UUID      string `json:"uuid"`
		Title     string `json:"title"`
		StartTime string `json:"start_time"`
		Duration  int    `json:"duration"`
	}
	hits := make([]hit, 0, len(recs))
	for _, rec := range recs {
		hits = append(hits, hit{UUID: rec.UUID, Title: rec.Title, StartTime: rec.StartTime, Duration: rec.Duration})
	}
	writeJSON(w, http.StatusOK, hits)
}

// handleCatalogs renders the cached catalog snapshots for submission forms.
func (s *Service) handleCatalogs(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	writeJSON(w, http.StatusOK, map[string]any{
		"workflows": s.sink.Workflows(ctx),
		"acls":      s.sink.ACLNames(ctx),
		"themes":    s.sink.Themes(ctx),
		"series":    s.sink.SeriesTitles(ctx),
	})
}

// handleSearchUsers answers user lookups from the local cache first and only
// then from the upstream directory, which is paged via next_page_token.
func (s *Service) handleSearchUsers(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	query := q.Get("q")
	if query == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "q is empty"})
		return
	}

	type userView struct {
		ID        string `json:"id"`
		FirstName string `json:"first_name"`
		LastName  string `json:"last_name"`
		Email     string `json:"email"`
	}

	if q.Get("next_page_token") == "" {
		cached, err := s.store.FindUsersMatching(r.Context(), query)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		if len(cached) > 0 {
			views := make([]userView, 0, len(cached))
			for _, u := range cached {
				views = append(views, userView{ID: u.ID, FirstName: u.FirstName, LastName: u.LastName, Email: u.Email})
			}
			writeJSON(w, http.StatusOK, map[string]any{"users": views, "source": "cache"})
			return
		}
	}

	users, next, err := s.source.SearchUsers(r.Context(), query, q.Get("next_page_token"))
	if err != nil {
		writeError(w, http.StatusBadGateway, err)
		return
	}
	views := make([]userView, 0, len(users))
	for _, u := range users {
		views = append(views, userView{ID: u.ID, FirstName: u.FirstName, LastName: u.LastName, Email: u.Email})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"users": views, "next_page_token": next, "source": "zoom",
	})
}

func (s *Service) handleCancel(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(queryOrForm(r, "ingest_id"), 10, 64)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "ingest_id is not an integer"})
		return
	}
	err = s.store.CancelIngest(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, err)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"cancelled": strconv.FormatInt(id, 10)})
}

// handleDelete reconciles a recording Zoom no longer knows: the local rows go
// away only after the upstream lookup confirms the 404.
func (s *Service) handleDelete(w http.ResponseWriter, r *http.Request) {
	id := queryOrForm(r, "uuid")
	if id == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "uuid is empty"})
		return
	}
	_, err := s.source.GetRecording(r.Context(), id)
	if err == nil {
		writeJSON(w, http.StatusConflict, map[string]string{
			"error": "recording still exists upstream, refusing to delete",
		})
		return
	}
	if !errors.Is(err, zoom.ErrNotFound) {
		writeError(w, http.StatusBadGateway, err)
		return
	}
	err = s.store.DeleteRecording(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, err)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"deleted": id})
}

func queryOrForm(r *http.Request, key string) string {
	if v := r.URL.Query().Get(key); v != "" {
		return v
	}
	_ = r.ParseForm()
	return r.PostFormValue(key)
}
