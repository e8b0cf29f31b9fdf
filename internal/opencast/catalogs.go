package opencast

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/zingest/zingest/internal/log"
	"github.com/zingest/zingest/internal/metrics"
)

const (
	catalogPageSize   = 100
	refreshAttempts   = 5
	refreshBackoffMul = 5 * time.Second
)

// ACE is one (role, action) grant inside an access control list.
type ACE struct {
	Role   string `json:"role"`
	Action string `json:"action"`
	Allow  bool   `json:"allow"`
}

// ACL is a named access control list.
type ACL struct {
	Name string
	ACEs []ACE
}

// cache is one TTL-guarded catalog snapshot. A single refresh may be in
// flight at a time; readers during a refresh observe the previous snapshot.
// Swapping the map reference publishes the new snapshot atomically.
type cache[V any] struct {
	mu         sync.Mutex
	updated    time.Time
	refreshing bool
	snapshot   map[string]V
}

// get returns the current snapshot, refreshing it first when stale. Refresh
// failures keep the previous snapshot and are logged, never surfaced.
func (c *cache[V]) get(ctx context.Context, ttl time.Duration, name string,
	sleep func(context.Context, time.Duration) error,
	fetch func(context.Context) (map[string]V, error)) map[string]V {

	c.mu.Lock()
	if c.refreshing || (c.snapshot != nil && time.Since(c.updated) < ttl) {
		snap := c.snapshot
		c.mu.Unlock()
		return snap
	}
	c.refreshing = true
	c.mu.Unlock()

	logger := log.WithComponentFromContext(ctx, "opencast")
	var (
		fresh map[string]V
		err   error
	)
	for attempt := 1; attempt <= refreshAttempts; attempt++ {
		if attempt > 1 {
			if serr := sleep(ctx, time.Duration(attempt)*refreshBackoffMul); serr != nil {
				err = serr
				break
			}
		}
		fresh, err = fetch(ctx)
		if err == nil {
			break
		}
		logger.Warn().Err(err).Int("attempt", attempt).Str("catalog", name).
			Str("event", "catalog.refresh_retry").Msg("catalog refresh failed")
	}

	metrics.IncCatalogRefresh(name, err)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.refreshing = false
	if err != nil {
		logger.Error().Err(err).Str("catalog", name).
			Str("event", "catalog.refresh_failed").
			Msg("catalog refresh exhausted retries, keeping previous snapshot")
		return c.snapshot
	}
	c.snapshot = fresh
	c.updated = time.Now()
	logger.Info().Str("catalog", name).Int("entries", len(fresh)).
		Str("event", "catalog.refreshed").Msg("catalog refreshed")
	return c.snapshot
}

// Catalogs is the cached view of the four Opencast catalogs the pipeline
// consults: ACLs, themes, workflow definitions, and series.
type Catalogs struct {
	client            *Client
	ttl               time.Duration
	workflowAllowlist map[string]bool
	seriesFilter      *regexp.Regexp

	acls      cache[ACL]
	themes    cache[string]
	workflows cache[string]
	series    cache[string]
}

func newCatalogs(client *Client, ttl time.Duration, allowlist []string, seriesFilter *regexp.Regexp) *Catalogs {
	var allow map[string]bool
	if len(allowlist) > 0 {
		allow = make(map[string]bool, len(allowlist))
		for _, id := range allowlist {
			allow[id] = true
		}
	}
	return &Catalogs{client: client, ttl: ttl, workflowAllowlist: allow, seriesFilter: seriesFilter}
}

// ACLs returns the id → ACL snapshot.
func (c *Catalogs) ACLs(ctx context.Context) map[string]ACL {
	return c.acls.get(ctx, c.ttl, "acls", c.client.sleep, c.fetchACLs)
}

// GetACL resolves a single ACL id against the snapshot.
func (c *Catalogs) GetACL(ctx context.Context, id string) (ACL, bool) {
	acl, ok := c.ACLs(ctx)[id]
	return acl, ok
}

// Themes returns the id → name snapshot.
func (c *Catalogs) Themes(ctx context.Context) map[string]string {
	return c.themes.get(ctx, c.ttl, "themes", c.client.sleep, c.fetchThemes)
}

// Workflows returns the id → title snapshot, filtered by the allowlist.
func (c *Catalogs) Workflows(ctx context.Context) map[string]string {
	return c.workflows.get(ctx, c.ttl, "workflows", c.client.sleep, c.fetchWorkflows)
}

// Series returns the id → rendered title snapshot, filtered by the series regex.
func (c *Catalogs) Series(ctx context.Context) map[string]string {
	return c.series.get(ctx, c.ttl, "series", c.client.sleep, c.fetchSeries)
}

// GetSeriesTitle resolves one series id, falling through to a direct fetch
// when the id is not in the snapshot.
func (c *Catalogs) GetSeriesTitle(ctx context.Context, id string) (string, bool) {
	if title, ok := c.Series(ctx)[id]; ok {
		return title, true
	}
	row, err := c.client.fetchSingleSeries(ctx, id)
	if err != nil {
		return "", false
	}
	title := renderSeriesTitle(row)
	// Earlier callers still hold the old map reference, so the snapshot is
	// cloned and swapped rather than written in place.
	c.series.mu.Lock()
	if c.series.snapshot != nil {
		next := make(map[string]string, len(c.series.snapshot)+1)
		for k, v := range c.series.snapshot {
			next[k] = v
		}
		next[id] = title
		c.series.snapshot = next
	}
	c.series.mu.Unlock()
	return title, true
}

type aclRow struct {
	ID   json.Number `json:"id"`
	Name string      `json:"name"`
	ACL  struct {
		ACE []ACE `json:"ace"`
	} `json:"acl"`
}

func (c *Catalogs) fetchACLs(ctx context.Context) (map[string]ACL, error) {
	body, err := c.client.get(ctx, "/acl-manager/acl/acls.json")
	if err != nil {
		return nil, err
	}
	var rows []aclRow
	if err := json.Unmarshal([]byte(body), &rows); err != nil {
		return nil, fmt.Errorf("decode acls: %w", err)
	}
	out := make(map[string]ACL, len(rows))
	for _, row := range rows {
		out[row.ID.String()] = ACL{Name: row.Name, ACEs: row.ACL.ACE}
	}
	return out, nil
}

type themePage struct {
	Total   json.Number `json:"total"`
	Count   json.Number `json:"count"`
	Results []struct {
		ID   json.Number `json:"id"`
		Name string      `json:"name"`
	} `json:"results"`
}

func (c *Catalogs) fetchThemes(ctx context.Context) (map[string]string, error) {
	out := make(map[string]string)
	offset := 0
	for {
		path := fmt.Sprintf("/admin-ng/themes/themes.json?limit=%d", catalogPageSize)
		if offset > 0 {
			path += fmt.Sprintf("&offset=%d", offset)
		}
		body, err := c.client.get(ctx, path)
		if err != nil {
			return nil, err
		}
		var page themePage
		if err := json.Unmarshal([]byte(body), &page); err != nil {
			return nil, fmt.Errorf("decode themes: %w", err)
		}
		for _, row := range page.Results {
			out[row.ID.String()] = row.Name
		}
		total, _ := page.Total.Int64()
		// Stop at the boundary: an exact multiple of the page size must not
		// trigger one extra request.
		if int64(len(out)) >= total || len(page.Results) == 0 {
			return out, nil
		}
		offset += catalogPageSize
	}
}

type workflowRow struct {
	Identifier string `json:"identifier"`
	Title      string `json:"title"`
}

func (c *Catalogs) fetchWorkflows(ctx context.Context) (map[string]string, error) {
	body, err := c.client.get(ctx, "/api/workflow-definitions?filter=tag:upload&filter=tag:schedule")
	if err != nil {
		return nil, err
	}
	var rows []workflowRow
	if err := json.Unmarshal([]byte(body), &rows); err != nil {
		return nil, fmt.Errorf("decode workflows: %w", err)
	}
	out := make(map[string]string, len(rows))
	for _, row := range rows {
		if c.workflowAllowlist != nil && !c.workflowAllowlist[row.Identifier] {
			continue
		}
		out[row.Identifier] = row.Title
	}
	return out, nil
}

type seriesRow struct {
	Identifier string   `json:"identifier"`
	Title      string   `json:"title"`
	Created    string   `json:"created"`
	Creators   []string `json:"creators"`
}

// renderSeriesTitle builds the display form "Title (year) (creators)" with the
// creator list capped at 50 characters.
func renderSeriesTitle(row seriesRow) string {
	year := row.Created
	if len(year) > 4 {
		year = year[:4]
	}
	title := fmt.Sprintf("%s (%s)", row.Title, year)
	if len(row.Creators) > 0 {
		creators := strings.Join(row.Creators, ", ")
		if len(creators) > 50 {
			creators = creators[:50]
		}
		title = fmt.Sprintf("%s (%s)", title, creators)
	}
	return title
}

func (c *Catalogs) fetchSeries(ctx context.Context) (map[string]string, error) {
	out := make(map[string]string)
	offset := 0
	processed := 0
	for {
		path := fmt.Sprintf("/api/series/series.json?count=%d", catalogPageSize)
		if offset > 0 {
			path += fmt.Sprintf("&offset=%d", offset)
		}
		body, err := c.client.get(ctx, path)
		if err != nil {
			return nil, err
		}
		var page struct {
			TotalCount json.Number `json:"totalCount"`
			Catalogs   []seriesRow `json:"catalogs"`
		}
		if err := json.Unmarshal([]byte(body), &page); err != nil {
			return nil, fmt.Errorf("decode series: %w", err)
		}
		for _, row := range page.Catalogs {
			if c.seriesFilter != nil && !c.seriesFilter.MatchString(row.Title) {
				continue
			}
			out[row.Identifier] = renderSeriesTitle(row)
		}
		processed += len(page.Catalogs)
		total, _ := page.TotalCount.Int64()
		if int64(processed) >= total || len(page.Catalogs) == 0 {
			return out, nil
		}
		offset += catalogPageSize
	}
}

// Workflows exposes the workflow snapshot for submission validation.
func (c *Client) Workflows(ctx context.Context) map[string]string {
	return c.catalogs.Workflows(ctx)
}

// Themes exposes the theme snapshot.
func (c *Client) Themes(ctx context.Context) map[string]string {
	return c.catalogs.Themes(ctx)
}

// SeriesTitles exposes the series snapshot with rendered display titles.
func (c *Client) SeriesTitles(ctx context.Context) map[string]string {
	return c.catalogs.Series(ctx)
}

// ACLNames exposes the ACL snapshot as id → name.
func (c *Client) ACLNames(ctx context.Context) map[string]string {
	acls := c.catalogs.ACLs(ctx)
	out := make(map[string]string, len(acls))
	for id, acl := range acls {
		out[id] = acl.Name
	}
	return out
}

func (c *Client) fetchSingleSeries(ctx context.Context, id string) (seriesRow, error) {
	body, err := c.get(ctx, "/api/series/series.json?seriesId="+id)
	if err != nil {
		return seriesRow{}, err
	}
	var page struct {
		Catalogs []seriesRow `json:"catalogs"`
	}
	if err := json.Unmarshal([]byte(body), &page); err != nil {
		return seriesRow{}, fmt.Errorf("decode series: %w", err)
	}
	if len(page.Catalogs) == 0 {
		return seriesRow{}, &APIError{Sentinel: ErrOpencast, Operation: "single series",
			Body: "series " + id + " not found"}
	}
	return page.Catalogs[0], nil
}
