package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/zingest/zingest/internal/log"
	"github.com/zingest/zingest/internal/metrics"
	"github.com/zingest/zingest/internal/zoom"
)

// errSizeMismatch marks a transfer whose on-disk size does not match the
// size the recording metadata promised. Retryable.
var errSizeMismatch = errors.New("engine: downloaded size does not match expected size")

// localPath builds the in-progress location for one recording file. The
// extension follows the file type unless an override is given (chat logs
// become .TXT regardless of their reported type).
func (e *Engine) localPath(f zoom.RecordingFile, extOverride string) string {
	ext := extOverride
	if ext == "" {
		ext = "." + strings.ToLower(f.FileType)
	}
	return filepath.Join(e.root, f.ID+ext)
}

// download streams one recording file to its in-progress path, authorizing
// with a freshly minted bearer token. An existing file of exactly the
// expected size is kept as-is so interrupted runs resume cheaply.
func (e *Engine) download(ctx context.Context, f zoom.RecordingFile, path string) error {
	logger := log.WithComponentFromContext(ctx, "engine")

	if err := os.MkdirAll(e.root, 0o755); err != nil {
		return fmt.Errorf("engine: create %s: %w", e.root, err)
	}
	if info, err := os.Stat(path); err == nil && info.Size() == f.FileSize {
		logger.Debug().Str("event", "download.skipped").Str("path", path).
			Int64("size", f.FileSize).Msg("file already present at expected size")
		metrics.IncDownloadSkipped()
		return nil
	}

	token, err := e.source.GetDownloadToken()
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.DownloadURL, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)

	res, err := e.httpc.Do(req)
	if err != nil {
		return &zoom.APIError{Sentinel: zoom.ErrTransport, Operation: "download " + f.ID, Err: err}
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode > 299 {
		return &zoom.APIError{Sentinel: zoom.ErrTransport, Operation: "download " + f.ID,
			Status: res.StatusCode}
	}

	out, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("engine: create %s: %w", path, err)
	}
	written, err := io.Copy(out, res.Body)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return &zoom.APIError{Sentinel: zoom.ErrTransport, Operation: "download " + f.ID, Err: err}
	}
	metrics.AddDownloadBytes(written)

	if f.FileSize > 0 && written != f.FileSize {
		return fmt.Errorf("%w: %s got %d, want %d", errSizeMismatch, path, written, f.FileSize)
	}
	logger.Debug().Str("event", "download.done").Str("path", path).
		Int64("bytes", written).Msg("download complete")
	return nil
}

// remove deletes a downloaded artifact, tolerating files already gone.
func remove(ctx context.Context, path string) {
	if path == "" {
		return
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		logger := log.WithComponentFromContext(ctx, "engine")
		logger.Warn().Err(err).
			Str("event", "cleanup.failed").Str("path", path).
			Msg("file must be removed manually")
	}
}
