package stream

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/iconidentify/streamrelay/internal/config"
	"github.com/iconidentify/streamrelay/internal/domain"
)

// Fetcher opens upstream connections for resolved formats. The client has no
// overall timeout — the stream may legitimately run for minutes — only a
// header timeout; the per-read bound is the consumer's stall timeout.
type Fetcher struct {
	client    *http.Client
	userAgent string
	logger    *slog.Logger
}

// NewFetcher creates an upstream fetcher.
func NewFetcher(cfg config.StreamConfig, logger *slog.Logger) *Fetcher {
	transport := &http.Transport{
		ResponseHeaderTimeout: 30 * time.Second,
		// Use defaults for other settings
	}

	return &Fetcher{
		client: &http.Client{
			Transport: transport,
			// No Timeout - life of the stream is bounded elsewhere
		},
		userAgent: cfg.UserAgent,
		logger:    logger,
	}
}

// Open connects to the format's direct URL with its pre-extracted headers
// and returns the body reader plus the content length (-1 when unknown).
// The request is bound to ctx: cancelling it closes the connection even
// mid-body, which is how producer cancellation reaches the upstream.
func (f *Fetcher) Open(ctx context.Context, format *domain.Format) (io.ReadCloser, int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, format.DirectURL, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "*/*")
	for k, v := range format.Headers {
		req.Header.Set(k, v)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, 0, ctx.Err()
		}
		return nil, 0, fmt.Errorf("%w: %v", domain.ErrUpstreamIO, err)
	}

	switch {
	case resp.StatusCode == http.StatusForbidden || resp.StatusCode == http.StatusUnauthorized:
		resp.Body.Close()
		return nil, 0, fmt.Errorf("upstream status %d: %w", resp.StatusCode, domain.ErrResolutionForbidden)
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		resp.Body.Close()
		return nil, 0, fmt.Errorf("upstream status %d: %w", resp.StatusCode, domain.ErrResolutionNotFound)
	case resp.StatusCode == http.StatusTooManyRequests:
		resp.Body.Close()
		return nil, 0, fmt.Errorf("upstream status %d: %w", resp.StatusCode, domain.ErrResolutionTransient)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		resp.Body.Close()
		return nil, 0, fmt.Errorf("%w: upstream status %d", domain.ErrUpstreamIO, resp.StatusCode)
	}

	size := resp.ContentLength
	if format.Filesize > 0 && size <= 0 {
		size = format.Filesize
	}

	return resp.Body, size, nil
}
