package gtfs

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// ErrNotModified is returned when the server confirms the archive has not
// changed since the previous download.
var ErrNotModified = errors.New("gtfs archive not modified")

type Downloader struct {
	url      string
	client   *http.Client
	logger   *slog.Logger
	maxBytes int64

	etag         string
	lastModified string
}

func NewDownloader(url string, logger *slog.Logger) *Downloader {
	return &Downloader{
		url: url,
		client: &http.Client{
			Timeout: 2 * time.Minute,
		},
		logger:   logger.With("component", "gtfs_downloader"),
		maxBytes: 256 << 20,
	}
}

// Download fetches the archive. After a successful download the validators
// are remembered and sent on the next call, which returns ErrNotModified
// on a 304. Callers must serialize calls.
func (d *Downloader) Download(ctx context.Context) (*zip.Reader, []byte, error) {
	start := time.Now()
	d.logger.Info("starting GTFS download", "url", d.url)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.url, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("User-Agent", "ktmtrack/1.0")
	if d.etag != "" {
		req.Header.Set("If-None-Match", d.etag)
	}
	if d.lastModified != "" {
		req.Header.Set("If-Modified-Since", d.lastModified)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		d.logger.Error("failed to download GTFS",
			"error", err,
			"duration_ms", time.Since(start).Milliseconds(),
		)
		return nil, nil, fmt.Errorf("download gtfs: %w", err)
	}
	defer resp.Body.Close()

	d.logger.Debug("received HTTP response",
		"status_code", resp.StatusCode,
		"content_length", resp.ContentLength,
		"etag", resp.Header.Get("ETag"),
	)

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotModified:
		d.logger.Info("GTFS archive not modified", "duration_ms", time.Since(start).Milliseconds())
		return nil, nil, ErrNotModified
	default:
		return nil, nil, fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, d.maxBytes+1))
	if err != nil {
		return nil, nil, fmt.Errorf("read body: %w", err)
	}
	if int64(len(data)) > d.maxBytes {
		return nil, nil, fmt.Errorf("archive exceeds %d bytes", d.maxBytes)
	}

	reader, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, nil, fmt.Errorf("open zip: %w", err)
	}

	d.etag = resp.Header.Get("ETag")
	d.lastModified = resp.Header.Get("Last-Modified")

	d.logger.Info("GTFS download completed",
		"size_mb", fmt.Sprintf("%.2f", float64(len(data))/(1024*1024)),
		"files_in_archive", len(reader.File),
		"total_duration_ms", time.Since(start).Milliseconds(),
	)

	return reader, data, nil
}

// Forget drops the stored validators so the next call downloads in full.
func (d *Downloader) Forget() {
	d.etag = ""
	d.lastModified = ""
}
