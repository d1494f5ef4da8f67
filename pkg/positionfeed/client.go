// Package positionfeed fetches live vehicle positions from either a
// GTFS-Realtime VehiclePositions endpoint or the mtrec JSON position API.
package positionfeed

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"ktmtrack/internal/domain"
)

type Format string

const (
	FormatGTFSRT Format = "gtfsrt"
	FormatJSON   Format = "json"
)

// Fetcher is what the position poller consumes.
type Fetcher interface {
	Fetch(ctx context.Context) ([]domain.VehicleRecord, error)
}

type Client struct {
	url        string
	format     Format
	httpClient *http.Client
	maxBytes   int64
}

func New(url string, format Format) *Client {
	return &Client{
		url:    url,
		format: format,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				MaxIdleConns:        4,
				MaxIdleConnsPerHost: 4,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		maxBytes: 16 << 20,
	}
}

// Fetch performs a single request. Retrying is left to the next poll.
func (c *Client) Fetch(ctx context.Context) ([]domain.VehicleRecord, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Cache-Control", "no-cache")
	req.Header.Set("User-Agent", "ktmtrack/1.0")
	switch c.format {
	case FormatGTFSRT:
		req.Header.Set("Accept", "application/x-protobuf, application/octet-stream")
	default:
		req.Header.Set("Accept", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBytes))
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}

	fetchedAt := time.Now()
	switch c.format {
	case FormatGTFSRT:
		return DecodeGTFSRT(body, fetchedAt)
	case FormatJSON:
		return DecodeJSON(body, fetchedAt)
	default:
		return nil, fmt.Errorf("unsupported feed format %q", c.format)
	}
}

// mpsToKMH converts GTFS-Realtime speeds (metres per second).
func mpsToKMH(v float64) float64 {
	return v * 3.6
}
