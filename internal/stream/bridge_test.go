package stream

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/iconidentify/streamrelay/internal/domain"
)

// chunkedSource is an upstream body that serves count chunks of size bytes
// each and records whether it was closed.
type chunkedSource struct {
	mu        sync.Mutex
	remaining int
	size      int
	delay     time.Duration
	closed    bool
	closedAt  time.Time
	unblock   chan struct{} // non-nil: Read blocks until closed
	seq       byte
}

func (s *chunkedSource) Read(p []byte) (int, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return 0, errors.New("read after close")
	}
	if s.remaining == 0 {
		s.mu.Unlock()
		return 0, io.EOF
	}
	if s.unblock != nil {
		ch := s.unblock
		s.mu.Unlock()
		<-ch
		return 0, errors.New("connection closed")
	}
	s.remaining--
	seq := s.seq
	s.seq++
	s.mu.Unlock()

	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	n := s.size
	if n > len(p) {
		n = len(p)
	}
	for i := 0; i < n; i++ {
		p[i] = seq
	}
	return n, nil
}

func (s *chunkedSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		s.closedAt = time.Now()
		if s.unblock != nil {
			close(s.unblock)
			s.unblock = nil
		}
	}
	return nil
}

func (s *chunkedSource) wasClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func TestProduceDeliversAllBytesInOrder(t *testing.T) {
	const chunks = 10
	const chunkSize = 256

	src := &chunkedSource{remaining: chunks, size: chunkSize}
	b := NewBridge(3, chunkSize, time.Second)

	go b.Produce(context.Background(), src)

	var got bytes.Buffer
	ctx := context.Background()
	for {
		chunk, err := b.Next(ctx)
		if err != nil {
			t.Fatalf("Next failed: %v", err)
		}
		if chunk.Terminal() {
			if !errors.Is(chunk.Err, io.EOF) {
				t.Fatalf("expected clean end, got: %v", chunk.Err)
			}
			break
		}
		got.Write(chunk.Data)
	}

	if got.Len() != chunks*chunkSize {
		t.Errorf("delivered %d bytes, want %d", got.Len(), chunks*chunkSize)
	}
	// Chunk n is filled with byte value n; order must be preserved.
	data := got.Bytes()
	for i := 0; i < chunks; i++ {
		if data[i*chunkSize] != byte(i) {
			t.Fatalf("chunk %d out of order (got marker %d)", i, data[i*chunkSize])
		}
	}
	if !src.wasClosed() {
		t.Error("upstream body not closed after EOF")
	}
}

func TestQueueNeverExceedsCapacity(t *testing.T) {
	const capacity = 3

	// Fast producer, slow consumer.
	src := &chunkedSource{remaining: 50, size: 128}
	b := NewBridge(capacity, 128, time.Second)

	done := make(chan struct{})
	go func() {
		b.Produce(context.Background(), src)
		close(done)
	}()

	ctx := context.Background()
	for {
		if n := b.Len(); n > capacity {
			t.Fatalf("queue length %d exceeds capacity %d", n, capacity)
		}
		chunk, err := b.Next(ctx)
		if err != nil {
			t.Fatalf("Next failed: %v", err)
		}
		if chunk.Terminal() {
			break
		}
		time.Sleep(time.Millisecond) // consumer at half pace
	}
	<-done
}

func TestCancellationStopsProducerAndClosesUpstream(t *testing.T) {
	// Enough chunks that the producer is mid-flight when cancelled.
	src := &chunkedSource{remaining: 1000, size: 512}
	b := NewBridge(2, 512, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		b.Produce(ctx, src)
		close(done)
	}()

	// Read a couple of chunks, then walk away like a closed client.
	for i := 0; i < 2; i++ {
		if _, err := b.Next(ctx); err != nil {
			t.Fatalf("Next failed: %v", err)
		}
	}
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("producer did not stop after cancellation")
	}
	if !src.wasClosed() {
		t.Error("upstream connection not closed after cancellation")
	}
}

func TestUpstreamErrorProducesSingleErrorTerminal(t *testing.T) {
	src := &chunkedSource{remaining: 100, size: 64, delay: 2 * time.Millisecond}
	b := NewBridge(4, 64, time.Second)

	// Kill the connection while the producer is mid-stream.
	go func() {
		time.Sleep(10 * time.Millisecond)
		src.Close()
	}()
	go b.Produce(context.Background(), src)

	ctx := context.Background()
	var terminal Chunk
	for {
		chunk, err := b.Next(ctx)
		if err != nil {
			t.Fatalf("Next failed: %v", err)
		}
		if chunk.Terminal() {
			terminal = chunk
			break
		}
	}

	if errors.Is(terminal.Err, io.EOF) {
		// Race allowed: both chunks may have been read before Close.
		t.Skip("source drained before close; nothing to assert")
	}
	if !errors.Is(terminal.Err, domain.ErrUpstreamIO) {
		t.Errorf("terminal error = %v, want ErrUpstreamIO", terminal.Err)
	}

	// Nothing may follow the terminal.
	if n := b.Len(); n != 0 {
		t.Errorf("%d chunks queued after terminal", n)
	}
}

func TestFinishIsExactlyOnce(t *testing.T) {
	b := NewBridge(4, 64, time.Second)
	ctx := context.Background()

	b.Finish(ctx, io.EOF)
	b.Finish(ctx, errors.New("late failure"))

	chunk, err := b.Next(ctx)
	if err != nil {
		t.Fatalf("Next failed: %v", err)
	}
	if !errors.Is(chunk.Err, io.EOF) {
		t.Errorf("first terminal should win, got: %v", chunk.Err)
	}
	if b.Len() != 0 {
		t.Error("second Finish must not enqueue anything")
	}
}

func TestNextStallTimeout(t *testing.T) {
	b := NewBridge(4, 64, 30*time.Millisecond)

	start := time.Now()
	_, err := b.Next(context.Background())
	if !errors.Is(err, domain.ErrStreamStalled) {
		t.Fatalf("expected ErrStreamStalled, got: %v", err)
	}
	if time.Since(start) < 30*time.Millisecond {
		t.Error("stall timeout fired early")
	}
}

func TestNextConsumerContextCancelled(t *testing.T) {
	b := NewBridge(4, 64, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := b.Next(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got: %v", err)
	}
}
