// Package stream implements the producer→queue→consumer bridge that turns a
// blocking upstream byte source into a chunked HTTP response with bounded
// memory and cooperative cancellation.
package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/iconidentify/streamrelay/internal/domain"
)

// Chunk is one queue item. Data chunks carry bytes; the terminal chunk
// carries Err (io.EOF for a clean end, anything else for a failure).
// Exactly one terminal chunk ends a bridge; nothing follows it.
type Chunk struct {
	Data []byte
	Err  error
}

// Terminal reports whether the chunk ends the stream.
func (c Chunk) Terminal() bool {
	return c.Err != nil
}

// Bridge is the bounded channel between one producer and one consumer.
// Capacity bounds per-stream memory at roughly queue capacity times chunk
// size: a fast upstream blocks on push until the client catches up.
type Bridge struct {
	ch           chan Chunk
	chunkSize    int
	stallTimeout time.Duration

	// terminal guards the single-terminal invariant across the producer
	// path and the pool-failure path.
	terminal sync.Once
}

// NewBridge creates a bridge with the given queue capacity and chunk size.
func NewBridge(queueCapacity, chunkSize int, stallTimeout time.Duration) *Bridge {
	if queueCapacity <= 0 {
		queueCapacity = 20
	}
	if chunkSize <= 0 {
		chunkSize = 64 * 1024
	}
	if stallTimeout <= 0 {
		stallTimeout = 30 * time.Second
	}
	return &Bridge{
		ch:           make(chan Chunk, queueCapacity),
		chunkSize:    chunkSize,
		stallTimeout: stallTimeout,
	}
}

// Produce reads body in fixed-size chunks and pushes them onto the queue,
// closing body on every exit path. Pushes block when the queue is full;
// cancelling ctx releases the producer promptly — it must never outlive its
// consumer.
func (b *Bridge) Produce(ctx context.Context, body io.ReadCloser) {
	defer body.Close()

	for {
		buf := make([]byte, b.chunkSize)
		n, err := body.Read(buf)
		if n > 0 {
			if !b.push(ctx, Chunk{Data: buf[:n]}) {
				return
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				b.Finish(ctx, io.EOF)
			} else if ctx.Err() == nil {
				b.Finish(ctx, fmt.Errorf("%w: %v", domain.ErrUpstreamIO, err))
			}
			// On cancellation the consumer is gone; push nothing.
			return
		}
	}
}

// Finish pushes the terminal chunk. At most one terminal is ever delivered,
// whichever caller gets there first.
func (b *Bridge) Finish(ctx context.Context, cause error) {
	b.terminal.Do(func() {
		b.push(ctx, Chunk{Err: cause})
	})
}

// Next pops the next chunk, bounded by the stall timeout. It returns
// domain.ErrStreamStalled when nothing arrives in time and ctx's error when
// the consumer itself is cancelled.
func (b *Bridge) Next(ctx context.Context) (Chunk, error) {
	timer := time.NewTimer(b.stallTimeout)
	defer timer.Stop()

	select {
	case chunk := <-b.ch:
		return chunk, nil
	case <-ctx.Done():
		return Chunk{}, ctx.Err()
	case <-timer.C:
		return Chunk{}, domain.ErrStreamStalled
	}
}

// Len reports the number of queued chunks.
func (b *Bridge) Len() int {
	return len(b.ch)
}

// Cap reports the queue capacity.
func (b *Bridge) Cap() int {
	return cap(b.ch)
}

func (b *Bridge) push(ctx context.Context, chunk Chunk) bool {
	select {
	case b.ch <- chunk:
		return true
	case <-ctx.Done():
		return false
	}
}
