package qbosync

import (
	"context"
	"fmt"
)

// flusher buffers record write-backs and flushes them in fixed-size
// batches to bound round-trips. With skip set every call is a no-op, which
// is how dry runs avoid touching the tabs.
//
// A failed flush surfaces as an error with records still posted to the
// ledger; the next run's duplicate check marks them skipped and recovers
// their IDs, so nothing is ever posted twice.
type flusher[T any] struct {
	size  int
	skip  bool
	buf   []T
	write func(context.Context, []T) error
}

func (f *flusher[T]) add(ctx context.Context, items ...T) error {
	if f.skip {
		return nil
	}
	f.buf = append(f.buf, items...)
	if len(f.buf) >= f.size {
		return f.flush(ctx)
	}
	return nil
}

func (f *flusher[T]) flush(ctx context.Context) error {
	if f.skip || len(f.buf) == 0 {
		return nil
	}
	if err := f.write(ctx, f.buf); err != nil {
		return fmt.Errorf("write back %d records: %w", len(f.buf), err)
	}
	f.buf = f.buf[:0]
	return nil
}
