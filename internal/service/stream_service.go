package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/iconidentify/streamrelay/internal/config"
	"github.com/iconidentify/streamrelay/internal/domain"
	"github.com/iconidentify/streamrelay/internal/extractor"
	"github.com/iconidentify/streamrelay/internal/stream"
	"github.com/iconidentify/streamrelay/internal/worker"
	"github.com/iconidentify/streamrelay/pkg/token"
)

// StreamService drives the per-request state machine
// Resolving -> Streaming -> {Completed | Aborted | Failed}. It owns no
// global state: each request gets its own job, bridge and pool slots.
type StreamService struct {
	codec   *token.Codec
	client  extractor.Client
	pool    *worker.Pool
	fetcher *stream.Fetcher
	cfg     config.StreamConfig
	logger  *slog.Logger
}

// NewStreamService creates the stream orchestrator.
func NewStreamService(
	codec *token.Codec,
	client extractor.Client,
	pool *worker.Pool,
	fetcher *stream.Fetcher,
	cfg config.StreamConfig,
	logger *slog.Logger,
) *StreamService {
	return &StreamService{
		codec:   codec,
		client:  client,
		pool:    pool,
		fetcher: fetcher,
		cfg:     cfg,
		logger:  logger,
	}
}

// Session is a resolved, not-yet-started stream. The handler reads the
// response metadata, writes headers exactly once, then calls Stream.
type Session struct {
	Job    *domain.StreamJob
	Format *domain.Format
}

// ContentType returns the response content type.
func (s *Session) ContentType() string {
	if s.Format.Kind.Valid() {
		return s.Format.Kind.ContentType()
	}
	return s.Job.Payload.Kind.ContentType()
}

// Filename returns the attachment filename.
func (s *Session) Filename() string {
	return s.Job.Payload.Filename()
}

// ContentLength returns the body size when known, -1 otherwise.
func (s *Session) ContentLength() int64 {
	if s.Format.Filesize > 0 {
		return s.Format.Filesize
	}
	return -1
}

// Open decodes the token and resolves the format. Expiry is checked here
// and only here: a stream that starts with a valid token runs to completion.
// No bridge is started and no byte is fetched when resolution fails.
func (s *StreamService) Open(ctx context.Context, tok string) (*Session, error) {
	payload, err := s.codec.Decrypt(tok)
	if err != nil {
		return nil, err
	}
	if err := payload.Validate(); err != nil {
		return nil, fmt.Errorf("%v: %w", err, domain.ErrInvalidToken)
	}

	job := domain.NewStreamJob(*payload)
	logger := s.logger.With("job_id", job.ID)

	// Tokens carrying a pre-resolved URL (issued for direct downloads)
	// skip the extraction collaborator entirely.
	if payload.DirectURL != "" {
		logger.Debug("direct stream, skipping extraction")
		return &Session{
			Job: job,
			Format: &domain.Format{
				DirectURL: payload.DirectURL,
				Headers:   payload.Headers,
				Kind:      payload.Kind,
				Filesize:  payload.Filesize,
			},
		}, nil
	}

	fut := worker.Submit(ctx, s.pool, func(ctx context.Context) (*domain.Format, error) {
		return s.client.Resolve(ctx, payload.SourceURL, payload.FormatSelector)
	})
	format, err := fut.Wait(ctx)
	if err != nil {
		job.MarkFailed(err)
		return nil, domain.NewStreamError(job.ID, "resolve", err)
	}

	logger.Info("format resolved",
		"format_id", format.ID,
		"kind", format.Kind,
		"filesize", format.Filesize,
	)
	return &Session{Job: job, Format: format}, nil
}

// Stream runs the bridge: a pool-scheduled producer fetches upstream bytes
// while this goroutine drains the queue into w. It returns nil on clean
// completion, domain.ErrClientDisconnected when the client went away, and
// the failure cause otherwise. On every return the producer is cancelled,
// its pool slot released and the upstream connection closed.
func (s *StreamService) Stream(ctx context.Context, sess *Session, w io.Writer) error {
	job := sess.Job
	job.MarkStreaming()
	logger := s.logger.With("job_id", job.ID)

	streamCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	bridge := stream.NewBridge(s.cfg.QueueCapacity, s.cfg.ChunkSize, s.cfg.StallTimeout)

	// The producer handles its own terminal pushes and always returns nil,
	// so a future error can only mean the work never ran (saturated pool,
	// cancelled while queued) — safe to surface through the bridge.
	fut := worker.Submit(streamCtx, s.pool, func(ctx context.Context) (struct{}, error) {
		body, _, err := s.fetcher.Open(ctx, sess.Format)
		if err != nil {
			bridge.Finish(ctx, err)
			return struct{}{}, nil
		}
		bridge.Produce(ctx, body)
		return struct{}{}, nil
	})
	go func() {
		if _, err := fut.Wait(context.Background()); err != nil {
			bridge.Finish(streamCtx, err)
		}
	}()

	flusher, _ := w.(http.Flusher)

	for {
		chunk, err := bridge.Next(streamCtx)
		if err != nil {
			if ctx.Err() != nil {
				job.MarkAborted()
				logger.Info("client disconnected", "bytes_sent", job.BytesSent())
				return domain.ErrClientDisconnected
			}
			job.MarkFailed(err)
			return domain.NewStreamError(job.ID, "stream", err)
		}

		if chunk.Terminal() {
			if errors.Is(chunk.Err, io.EOF) {
				job.MarkCompleted()
				logger.Info("stream completed",
					"bytes_sent", job.BytesSent(),
					"elapsed", job.Elapsed(),
				)
				return nil
			}
			job.MarkFailed(chunk.Err)
			return domain.NewStreamError(job.ID, "stream", chunk.Err)
		}

		if _, err := w.Write(chunk.Data); err != nil {
			// Write failure means the client socket is gone; the
			// deferred cancel stops the producer on its next push.
			job.MarkAborted()
			logger.Info("client disconnected mid-write", "bytes_sent", job.BytesSent())
			return domain.ErrClientDisconnected
		}
		job.AddBytes(len(chunk.Data))
		if flusher != nil {
			flusher.Flush()
		}
	}
}
