package store

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/wolfeidau/objcache/telemetry"
)

// Instrumented wraps a Store with metrics recording.
type Instrumented struct {
	store Store
}

// NewInstrumented creates a new instrumented store wrapper.
func NewInstrumented(s Store) *Instrumented {
	return &Instrumented{store: s}
}

// Create stages a new content file. Commit metrics are recorded when the
// returned writer publishes or aborts.
func (is *Instrumented) Create(ctx context.Context) (Writer, error) {
	start := time.Now()
	w, err := is.store.Create(ctx)
	telemetry.RecordContentOp(ctx, "create", outcomeFromError(err), time.Since(start), 0)
	if err != nil {
		return nil, err
	}
	return &instrumentedWriter{w: w, ctx: ctx, start: start}, nil
}

func (is *Instrumented) Open(ctx context.Context, name string) (io.ReadCloser, error) {
	start := time.Now()
	rc, err := is.store.Open(ctx, name)
	telemetry.RecordContentOp(ctx, "open", outcomeFromError(err), time.Since(start), 0)
	if err != nil {
		return nil, err
	}
	return rc, nil
}

// PathFor delegates to the underlying store.
func (is *Instrumented) PathFor(name string) string {
	return is.store.PathFor(name)
}

func (is *Instrumented) Size(ctx context.Context, name string) (int64, error) {
	start := time.Now()
	size, err := is.store.Size(ctx, name)
	telemetry.RecordContentOp(ctx, "size", outcomeFromError(err), time.Since(start), 0)
	return size, err
}

func (is *Instrumented) Remove(ctx context.Context, name string) error {
	start := time.Now()
	err := is.store.Remove(ctx, name)
	telemetry.RecordContentOp(ctx, "remove", outcomeFromError(err), time.Since(start), 0)
	return err
}

func (is *Instrumented) List(ctx context.Context) ([]string, error) {
	start := time.Now()
	names, err := is.store.List(ctx)
	telemetry.RecordContentOp(ctx, "list", outcomeFromError(err), time.Since(start), 0)
	return names, err
}

// RemoveStaleTemps delegates to the underlying store if it implements TempSweeper.
func (is *Instrumented) RemoveStaleTemps(ctx context.Context, olderThan time.Duration) (int, error) {
	ts, ok := is.store.(TempSweeper)
	if !ok {
		return 0, nil
	}
	start := time.Now()
	removed, err := ts.RemoveStaleTemps(ctx, olderThan)
	telemetry.RecordContentOp(ctx, "sweep_temps", outcomeFromError(err), time.Since(start), 0)
	return removed, err
}

// Unwrap returns the underlying store.
func (is *Instrumented) Unwrap() Store {
	return is.store
}

func outcomeFromError(err error) string {
	if err == nil {
		return "success"
	}
	if errors.Is(err, ErrNotFound) {
		return "not_found"
	}
	return "error"
}

// instrumentedWriter counts staged bytes and records the commit.
type instrumentedWriter struct {
	w     Writer
	ctx   context.Context
	start time.Time
	n     int64
}

func (w *instrumentedWriter) Write(p []byte) (int, error) {
	n, err := w.w.Write(p)
	w.n += int64(n)
	return n, err
}

func (w *instrumentedWriter) CommitAs(name string) error {
	err := w.w.CommitAs(name)
	telemetry.RecordContentOp(w.ctx, "commit", outcomeFromError(err), time.Since(w.start), w.n)
	return err
}

func (w *instrumentedWriter) Abort() error {
	err := w.w.Abort()
	telemetry.RecordContentOp(w.ctx, "abort", outcomeFromError(err), time.Since(w.start), 0)
	return err
}

// Compile-time interface checks
var (
	_ Store       = (*Instrumented)(nil)
	_ TempSweeper = (*Instrumented)(nil)
	_ Writer      = (*instrumentedWriter)(nil)
)
