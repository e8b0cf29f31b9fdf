// Package opencast implements the Opencast ingest protocol: digest-
// authenticated catalog lookups, streaming multipart uploads, and the
// step-by-step assembly of a mediapackage.
package opencast

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/icholy/digest"

	"github.com/zingest/zingest/internal/log"
)

// Every call advertises digest authentication to Opencast's runtime.
const requestedAuthHeader = "Digest"

const catalogTTL = time.Hour

// Client talks to one Opencast admin node.
type Client struct {
	base string
	http *http.Client

	catalogs *Catalogs

	// sleep is swapped in tests to avoid real backoff waits.
	sleep func(ctx context.Context, d time.Duration) error
}

// Options tunes client construction.
type Options struct {
	// WorkflowAllowlist keeps only the listed workflow definitions; empty keeps all.
	WorkflowAllowlist []string
	// SeriesFilter is a compiled regex applied to series titles; nil keeps all.
	SeriesFilter *regexp.Regexp
	// Timeout overrides the control-call timeout (tests).
	Timeout time.Duration
}

// New builds a client with digest credentials.
func New(baseURL, user, password string, opts Options) *Client {
	timeout := 60 * time.Second
	if opts.Timeout > 0 {
		timeout = opts.Timeout
	}
	c := &Client{
		base: strings.TrimRight(baseURL, "/"),
		http: &http.Client{
			Timeout: timeout,
			Transport: &digest.Transport{
				Username: user,
				Password: password,
			},
		},
		sleep: func(ctx context.Context, d time.Duration) error {
			select {
			case <-time.After(d):
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		},
	}
	c.catalogs = newCatalogs(c, catalogTTL, opts.WorkflowAllowlist, opts.SeriesFilter)
	return c
}

// Catalogs exposes the cached Opencast catalogs.
func (c *Client) Catalogs() *Catalogs {
	return c.catalogs
}

func (c *Client) get(ctx context.Context, path string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+path, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("X-Requested-Auth", requestedAuthHeader)
	res, err := c.http.Do(req)
	if err != nil {
		return "", &APIError{Sentinel: ErrTransport, Operation: "GET " + path, Err: err}
	}
	defer res.Body.Close()
	body, err := io.ReadAll(io.LimitReader(res.Body, 50<<20))
	if err != nil {
		return "", &APIError{Sentinel: ErrTransport, Operation: "GET " + path, Err: err}
	}
	if res.StatusCode < 200 || res.StatusCode > 299 {
		return "", &APIError{Sentinel: ErrOpencast, Operation: "GET " + path,
			Status: res.StatusCode, Body: truncate(string(body), 200)}
	}
	return string(body), nil
}

// filePart describes one streamed file in a multipart POST.
type filePart struct {
	field       string
	filename    string
	contentType string
	reader      io.Reader
	size        int64
}

// postMultipart streams fields and files to path. File bodies are piped, not
// buffered, so multi-gigabyte tracks never sit in memory.
func (c *Client) postMultipart(ctx context.Context, path string, fields map[string]string, files []filePart) (string, error) {
	logger := log.WithComponentFromContext(ctx, "opencast")

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		var err error
		defer func() { _ = pw.CloseWithError(err) }()
		for name, value := range fields {
			if err = mw.WriteField(name, value); err != nil {
				return
			}
		}
		for _, f := range files {
			hdr := make(textproto.MIMEHeader)
			hdr.Set("Content-Disposition",
				fmt.Sprintf(`form-data; name=%q; filename=%q`, f.field, f.filename))
			hdr.Set("Content-Type", f.contentType)
			var part io.Writer
			if part, err = mw.CreatePart(hdr); err != nil {
				return
			}
			body := io.Reader(f.reader)
			if f.size > 0 {
				body = newProgressReader(body, f.size, f.filename, logger)
			}
			if _, err = io.Copy(part, body); err != nil {
				return
			}
		}
		err = mw.Close()
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+path, pr)
	if err != nil {
		return "", err
	}
	req.Header.Set("X-Requested-Auth", requestedAuthHeader)
	req.Header.Set("Content-Type", mw.FormDataContentType())

	res, err := c.http.Do(req)
	if err != nil {
		return "", &APIError{Sentinel: ErrTransport, Operation: "POST " + path, Err: err}
	}
	defer res.Body.Close()
	body, err := io.ReadAll(io.LimitReader(res.Body, 50<<20))
	if err != nil {
		return "", &APIError{Sentinel: ErrTransport, Operation: "POST " + path, Err: err}
	}
	if res.StatusCode < 200 || res.StatusCode > 299 {
		return "", &APIError{Sentinel: ErrOpencast, Operation: "POST " + path,
			Status: res.StatusCode, Body: truncate(string(body), 200)}
	}
	return string(body), nil
}

func (c *Client) putBody(ctx context.Context, path, contentType, body string) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.base+path, strings.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("X-Requested-Auth", requestedAuthHeader)
	req.Header.Set("Content-Type", contentType)
	res, err := c.http.Do(req)
	if err != nil {
		return 0, &APIError{Sentinel: ErrTransport, Operation: "PUT " + path, Err: err}
	}
	defer res.Body.Close()
	_, _ = io.Copy(io.Discard, res.Body)
	return res.StatusCode, nil
}

func (c *Client) postForm(ctx context.Context, path string, form url.Values) (int, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+path, strings.NewReader(form.Encode()))
	if err != nil {
		return 0, "", err
	}
	req.Header.Set("X-Requested-Auth", requestedAuthHeader)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	res, err := c.http.Do(req)
	if err != nil {
		return 0, "", &APIError{Sentinel: ErrTransport, Operation: "POST " + path, Err: err}
	}
	defer res.Body.Close()
	body, err := io.ReadAll(io.LimitReader(res.Body, 10<<20))
	if err != nil {
		return 0, "", &APIError{Sentinel: ErrTransport, Operation: "POST " + path, Err: err}
	}
	return res.StatusCode, string(body), nil
}

// validateMediaPackage checks that an intermediate protocol response is
// well-formed XML. A malformed document invalidates the whole protocol run.
func validateMediaPackage(doc string) error {
	dec := xml.NewDecoder(strings.NewReader(doc))
	seen := false
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return &APIError{Sentinel: ErrMediaPackageInvalid, Operation: "validate mediapackage", Err: err}
		}
		if _, ok := tok.(xml.StartElement); ok {
			seen = true
		}
	}
	if !seen {
		return &APIError{Sentinel: ErrMediaPackageInvalid, Operation: "validate mediapackage",
			Body: "document contains no elements"}
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
