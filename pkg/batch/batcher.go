package batch

import (
	"context"
	"sync"
	"time"
)

// Flusher delivers one accumulated batch downstream.
type Flusher[T any] func(ctx context.Context, batch []T) error

// Batcher accumulates records and flushes them when the batch fills
// or the interval elapses. The stats publisher uses it to turn one
// network round trip per record into one per batch.
type Batcher[T any] struct {
	size     int
	interval time.Duration
	flusher  Flusher[T]

	mu      sync.Mutex
	pending []T

	flushChan chan struct{}
	stopChan  chan struct{}
	doneChan  chan struct{}
	stopOnce  sync.Once
}

// NewBatcher starts the flush schedule immediately.
func NewBatcher[T any](size int, interval time.Duration, flusher Flusher[T]) *Batcher[T] {
	if size < 1 {
		size = 1
	}
	if interval <= 0 {
		interval = time.Second
	}
	b := &Batcher[T]{
		size:      size,
		interval:  interval,
		flusher:   flusher,
		pending:   make([]T, 0, size),
		flushChan: make(chan struct{}, 1),
		stopChan:  make(chan struct{}),
		doneChan:  make(chan struct{}),
	}

	go b.run()
	return b
}

// Add queues one record. A full batch triggers an asynchronous flush.
func (b *Batcher[T]) Add(record T) {
	b.mu.Lock()
	b.pending = append(b.pending, record)
	shouldFlush := len(b.pending) >= b.size
	b.mu.Unlock()

	if shouldFlush {
		select {
		case b.flushChan <- struct{}{}:
		default:
		}
	}
}

// Flush delivers everything pending right now.
func (b *Batcher[T]) Flush(ctx context.Context) error {
	b.mu.Lock()
	if len(b.pending) == 0 {
		b.mu.Unlock()
		return nil
	}
	batch := make([]T, len(b.pending))
	copy(batch, b.pending)
	b.pending = b.pending[:0]
	b.mu.Unlock()

	return b.flusher(ctx, batch)
}

// Stop flushes the remainder and waits for the schedule to exit, so a
// caller may release downstream resources right after it returns.
func (b *Batcher[T]) Stop() {
	b.stopOnce.Do(func() { close(b.stopChan) })
	<-b.doneChan
}

// PendingCount returns the number of records awaiting a flush.
func (b *Batcher[T]) PendingCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

func (b *Batcher[T]) run() {
	defer close(b.doneChan)

	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			b.Flush(context.Background())
		case <-b.flushChan:
			b.Flush(context.Background())
		case <-b.stopChan:
			b.Flush(context.Background())
			return
		}
	}
}
