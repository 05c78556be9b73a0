package snapshot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

var (
	// ErrWriterClosed is returned when a write is submitted after Shutdown.
	ErrWriterClosed = errors.New("snapshot writer closed")
	// ErrWritePending is returned when the caller stopped waiting after its
	// write was queued. The write still runs; callers must treat the data as
	// accepted.
	ErrWritePending = errors.New("snapshot write still pending")
)

// Saver persists a full collection.
type Saver[T any] interface {
	Save(items []T) error
}

// Writer serialises snapshot rewrites through a single background worker.
// Callers wait for their own write, but a stalled disk only blocks them up to
// their context deadline; the worker keeps going and the next write carries
// the newer collection anyway.
type Writer[T any] struct {
	saver  Saver[T]
	logger *slog.Logger

	mu     sync.RWMutex
	closed bool
	jobs   chan writeJob[T]
	wg     sync.WaitGroup
}

type writeJob[T any] struct {
	items []T
	done  chan error
}

// NewWriter starts the worker goroutine for saver.
func NewWriter[T any](saver Saver[T], queueSize int, logger *slog.Logger) *Writer[T] {
	if queueSize <= 0 {
		queueSize = 16
	}
	if logger == nil {
		logger = slog.Default()
	}

	w := &Writer[T]{
		saver:  saver,
		logger: logger,
		jobs:   make(chan writeJob[T], queueSize),
	}

	w.wg.Add(1)
	go w.worker()

	return w
}

// Write enqueues items and blocks until they are on disk or ctx is done.
// items must not be modified by the caller afterwards. If ctx ends before
// the job is queued, ctx's error is returned and nothing is written; if it
// ends afterwards, the error wraps both ErrWritePending and ctx's error.
func (w *Writer[T]) Write(ctx context.Context, items []T) error {
	job := writeJob[T]{items: items, done: make(chan error, 1)}

	if err := w.enqueue(ctx, job); err != nil {
		return err
	}

	select {
	case <-ctx.Done():
		return fmt.Errorf("%w: %w", ErrWritePending, ctx.Err())
	case err := <-job.done:
		return err
	}
}

func (w *Writer[T]) enqueue(ctx context.Context, job writeJob[T]) error {
	w.mu.RLock()
	defer w.mu.RUnlock()

	if w.closed {
		return ErrWriterClosed
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case w.jobs <- job:
		return nil
	}
}

// Shutdown stops accepting writes and waits for queued ones to finish.
func (w *Writer[T]) Shutdown(ctx context.Context) error {
	w.mu.Lock()
	if !w.closed {
		w.closed = true
		close(w.jobs)
	}
	w.mu.Unlock()

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}

func (w *Writer[T]) worker() {
	defer w.wg.Done()

	for job := range w.jobs {
		err := w.saver.Save(job.items)
		if err != nil {
			w.logger.Error("snapshot write failed", "error", err, "items", len(job.items))
		}
		job.done <- err
	}
}
