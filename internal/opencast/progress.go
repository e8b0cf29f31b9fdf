package opencast

import (
	"io"

	"github.com/rs/zerolog"
)

// progressReader wraps an upload body and logs a debug line each time a new
// 5% multiple of the expected size has been read.
type progressReader struct {
	r      io.Reader
	total  int64
	read   int64
	latest int // last 5% step logged
	logger zerolog.Logger
	name   string
}

func newProgressReader(r io.Reader, total int64, name string, logger zerolog.Logger) *progressReader {
	return &progressReader{r: r, total: total, name: name, logger: logger}
}

func (p *progressReader) Read(buf []byte) (int, error) {
	n, err := p.r.Read(buf)
	p.read += int64(n)
	if p.total > 0 {
		step := int(p.read * 100 / p.total / 5 * 5)
		if step > p.latest {
			p.latest = step
			p.logger.Debug().
				Str("event", "upload.progress").
				Str("file", p.name).
				Int("percent", step).
				Int64("bytes", p.read).
				Msg("upload progress")
		}
	}
	return n, err
}
