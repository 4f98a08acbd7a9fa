package handler

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/iconidentify/streamrelay/internal/config"
	"github.com/iconidentify/streamrelay/internal/domain"
	"github.com/iconidentify/streamrelay/internal/extractor"
	"github.com/iconidentify/streamrelay/internal/service"
	"github.com/iconidentify/streamrelay/internal/stream"
	"github.com/iconidentify/streamrelay/internal/worker"
	"github.com/iconidentify/streamrelay/pkg/token"
)

// testLogger returns a silent logger for tests.
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// mockExtractorClient is a test implementation of extractor.Client.
type mockExtractorClient struct {
	mu    sync.Mutex
	calls int
	media *domain.Media
	err   error
}

func (m *mockExtractorClient) Extract(ctx context.Context, sourceURL string) (*domain.Media, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	return m.media, nil
}

func (m *mockExtractorClient) Resolve(ctx context.Context, sourceURL, selector string) (*domain.Format, error) {
	media, err := m.Extract(ctx, sourceURL)
	if err != nil {
		return nil, err
	}
	return extractor.FindFormat(media, selector)
}

func (m *mockExtractorClient) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// testEnv wires real services around a mock extractor.
type testEnv struct {
	codec   *token.Codec
	pool    *worker.Pool
	stream  *StreamHandler
	link    *LinkHandler
	health  *HealthHandler
	baseURL string
}

func newTestEnv(t *testing.T, client extractor.Client, poolCfg worker.Config) *testEnv {
	t.Helper()

	codec, err := token.NewCodec("handler-test-key")
	if err != nil {
		t.Fatalf("NewCodec failed: %v", err)
	}

	pool := worker.NewPool(poolCfg, testLogger())
	t.Cleanup(func() { pool.Close(time.Second) })

	streamCfg := config.StreamConfig{
		QueueCapacity: 4,
		ChunkSize:     4096,
		StallTimeout:  2 * time.Second,
		UserAgent:     "streamrelay-test",
	}
	fetcher := stream.NewFetcher(streamCfg, testLogger())
	streamSvc := service.NewStreamService(codec, client, pool, fetcher, streamCfg, testLogger())
	linkSvc := service.NewLinkService(codec, client, pool, "http://localhost:3021", time.Hour, testLogger())

	return &testEnv{
		codec:   codec,
		pool:    pool,
		stream:  NewStreamHandler(streamSvc, testLogger()),
		link:    NewLinkHandler(linkSvc, testLogger()),
		health:  NewHealthHandler(pool),
		baseURL: "http://localhost:3021",
	}
}

func (e *testEnv) token(t *testing.T, payload domain.Payload, ttl time.Duration) string {
	t.Helper()
	tok, err := e.codec.Encrypt(payload, ttl)
	if err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}
	return tok
}
