// Package zoom is the single point of contact with the Zoom cloud API. Every
// outbound request carries a bearer token minted by the TokenSource, and
// every decoded response is stripped of zero width spaces before it is
// returned to callers.
package zoom

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/zingest/zingest/internal/log"
	"github.com/zingest/zingest/internal/sanitize"
)

const (
	// BaseURL is the default Zoom API endpoint.
	BaseURL = "https://api.zoom.us/v2"
	// BaseURLEU is used when GDPR routing is configured.
	BaseURLEU = "https://api.eu.zoom.us/v2"

	maxAttempts = 5
)

// Client talks to the Zoom API.
type Client struct {
	base   string
	http   *http.Client
	tokens *TokenSource

	// OnUser, when set, receives every user fetched through GetUser so the
	// caller can maintain a write-through cache.
	OnUser func(ctx context.Context, u User)

	userCache *userCache

	// sleep is swapped in tests to avoid real backoff waits.
	sleep func(ctx context.Context, d time.Duration) error
}

// Options tunes client construction.
type Options struct {
	// GDPR routes all calls to the EU endpoint.
	GDPR bool
	// BaseURL overrides the endpoint entirely (tests).
	BaseURL string
}

// New builds a client around the given credential pair.
func New(key, secret string, opts Options) *Client {
	base := BaseURL
	if opts.GDPR {
		base = BaseURLEU
	}
	if opts.BaseURL != "" {
		base = opts.BaseURL
	}
	return &Client{
		base:      strings.TrimRight(base, "/"),
		http:      &http.Client{Timeout: 30 * time.Second},
		tokens:    NewTokenSource(key, secret),
		userCache: newUserCache(32),
		sleep:     sleepCtx,
	}
}

// GetDownloadToken returns the bearer token used for media downloads.
func (c *Client) GetDownloadToken() (string, error) {
	return c.tokens.Token()
}

// EncodePathUUID escapes a meeting uuid for use in a URL path. Uuids starting
// with "/" or containing "//" must be double-URL-encoded per the Zoom API
// contract; everything else is escaped once.
func EncodePathUUID(uuid string) string {
	if strings.HasPrefix(uuid, "/") || strings.Contains(uuid, "//") {
		return url.QueryEscape(url.QueryEscape(uuid))
	}
	return url.PathEscape(uuid)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	select {
	case <-time.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// getJSON performs an authenticated GET with retries and sanitized decoding.
// Transport errors and 5xx back off attempt*5s; a 429 waits a randomized 1-5s
// instead, since Zoom's rate limit window is short. Any other 4xx is terminal.
func (c *Client) getJSON(ctx context.Context, path string, query url.Values, out any) error {
	logger := log.WithComponentFromContext(ctx, "zoom")
	u := c.base + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	backoff := func(attempt int) error {
		return c.sleep(ctx, time.Duration(attempt)*5*time.Second)
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		status, body, err := c.do(ctx, u)
		switch {
		case err != nil:
			lastErr = &APIError{Sentinel: ErrTransport, Operation: "GET " + path, Err: err}
			logger.Warn().Err(err).Int("attempt", attempt).Str("path", path).
				Str("event", "zoom.retry").Msg("transport failure")
			if attempt < maxAttempts {
				if serr := backoff(attempt); serr != nil {
					return serr
				}
			}
			continue
		case status == http.StatusTooManyRequests:
			lastErr = &APIError{Sentinel: ErrTransport, Operation: "GET " + path, Status: status}
			wait := time.Duration(rand.Intn(4000)+1000) * time.Millisecond
			logger.Warn().Int("attempt", attempt).Dur("wait", wait).Str("path", path).
				Str("event", "zoom.rate_limited").Msg("rate limited by zoom")
			if attempt < maxAttempts {
				if serr := c.sleep(ctx, wait); serr != nil {
					return serr
				}
			}
			continue
		case status == http.StatusNotFound:
			return &APIError{Sentinel: ErrNotFound, Operation: "GET " + path, Status: status, Body: string(body)}
		case status >= 400 && status < 500:
			return &APIError{Sentinel: ErrBadWebhookData, Operation: "GET " + path, Status: status, Body: string(body)}
		case status >= 500:
			lastErr = &APIError{Sentinel: ErrTransport, Operation: "GET " + path, Status: status}
			logger.Warn().Int("attempt", attempt).Int("status", status).Str("path", path).
				Str("event", "zoom.retry").Msg("upstream error")
			if attempt < maxAttempts {
				if serr := backoff(attempt); serr != nil {
					return serr
				}
			}
			continue
		}
		return decodeSanitized(body, out)
	}
	return lastErr
}

func (c *Client) do(ctx context.Context, u string) (int, []byte, error) {
	token, err := c.tokens.Token()
	if err != nil {
		return 0, nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	res, err := c.http.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer res.Body.Close()
	body, err := io.ReadAll(io.LimitReader(res.Body, 10<<20))
	if err != nil {
		return 0, nil, err
	}
	return res.StatusCode, body, nil
}

// decodeSanitized strips zero width spaces from every string in the decoded
// payload before unmarshalling into the typed destination.
func decodeSanitized(body []byte, out any) error {
	if out == nil {
		return nil
	}
	var raw any
	if err := json.Unmarshal(body, &raw); err != nil {
		return &APIError{Sentinel: ErrBadWebhookData, Operation: "decode", Err: err}
	}
	clean, err := json.Marshal(sanitize.Value(raw))
	if err != nil {
		return fmt.Errorf("zoom: re-encode response: %w", err)
	}
	if err := json.Unmarshal(clean, out); err != nil {
		return &APIError{Sentinel: ErrBadWebhookData, Operation: "decode", Err: err}
	}
	return nil
}
