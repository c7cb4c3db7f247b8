// Package batch implements bounded-parallel fan-out over a sequence of
// items, plus a streaming variant that pauses admission under memory
// pressure. Grounded on the reference batch processor's snapshot-then-flush
// concurrency shape, replacing its fixed object-storage operation types
// with a caller-supplied generic processor function.
package batch

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/tachyon-beep/mnemosyne/resourceprobe"
)

// Processor computes the result for one item. A returned error marks that
// item's slot as failed; the item's result is reported as the zero value
// unless failFast is set, in which case the whole run stops early.
type Processor[T any, R any] func(ctx context.Context, item T) (R, error)

// Executor runs batches of work with bounded concurrency.
type Executor struct {
	batchSize   int
	parallelism int
	logger      *zap.SugaredLogger
}

// Option configures an Executor.
type Option func(*Executor)

func WithBatchSize(n int) Option   { return func(e *Executor) { e.batchSize = n } }
func WithParallelism(n int) Option { return func(e *Executor) { e.parallelism = n } }
func WithLogger(l *zap.SugaredLogger) Option {
	return func(e *Executor) { e.logger = l }
}

// New creates an Executor with defaults (batchSize=50, parallelism=4),
// overridden by opts.
func New(opts ...Option) *Executor {
	e := &Executor{
		batchSize:   50,
		parallelism: 4,
		logger:      zap.NewNop().Sugar(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

type batchRange struct{ start, end int }

func chunk(n, size int) []batchRange {
	if size <= 0 {
		size = n
	}
	if size <= 0 {
		size = 1
	}
	var out []batchRange
	for start := 0; start < n; start += size {
		end := start + size
		if end > n {
			end = n
		}
		out = append(out, batchRange{start, end})
	}
	return out
}

// Run splits items into batches of at most e.batchSize, running up to
// e.parallelism batches concurrently, and within each batch running every
// item concurrently. Results are returned in input order. An item whose
// processor errors leaves a zero-value result unless failFast is true, in
// which case the first error aborts remaining work and is returned.
func Run[T any, R any](ctx context.Context, e *Executor, items []T, proc Processor[T, R], failFast bool) ([]R, error) {
	results := make([]R, len(items))
	batches := chunk(len(items), e.batchSize)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.parallelism)

	for _, b := range batches {
		b := b
		g.Go(func() error {
			return runBatch(gctx, e, items[b.start:b.end], b.start, results, proc, failFast)
		})
	}

	if err := g.Wait(); err != nil {
		return results, err
	}
	return results, nil
}

func runBatch[T any, R any](ctx context.Context, e *Executor, items []T, offset int, results []R, proc Processor[T, R], failFast bool) error {
	ig, igctx := errgroup.WithContext(ctx)

	for i, item := range items {
		i, item := i, item
		ig.Go(func() error {
			select {
			case <-igctx.Done():
				return igctx.Err()
			default:
			}
			r, err := proc(igctx, item)
			if err != nil {
				if failFast {
					return err
				}
				e.logger.Warnw("batch item failed", "offset", offset+i, "error", err)
				return nil
			}
			results[offset+i] = r
			return nil
		})
	}
	return ig.Wait()
}

// StreamBatch is one completed batch yielded by Stream: its input items,
// in order, and their corresponding results (zero value on per-item
// failure).
type StreamBatch[T any, R any] struct {
	Items   []T
	Results []R
}

// Stream runs items through proc in batches of e.batchSize, yielding each
// completed batch on the returned channel as soon as it finishes. After
// each batch, pressure is consulted against checker; when over budget,
// admission of the next batch pauses until WaitUntilClear returns. The
// channel closes when all items are processed, ctx is cancelled, or
// WaitUntilClear errors.
func Stream[T any, R any](ctx context.Context, e *Executor, items []T, proc Processor[T, R], checker *PressureChecker) <-chan StreamBatch[T, R] {
	out := make(chan StreamBatch[T, R])

	go func() {
		defer close(out)
		for _, b := range chunk(len(items), e.batchSize) {
			batchItems := items[b.start:b.end]
			results := make([]R, len(batchItems))
			if err := runBatch(ctx, e, batchItems, 0, results, proc, false); err != nil {
				e.logger.Warnw("stream batch failed", "error", err)
				return
			}

			select {
			case out <- StreamBatch[T, R]{Items: batchItems, Results: results}:
			case <-ctx.Done():
				return
			}

			if checker != nil {
				if under, err := checker.UnderPressure(); err != nil {
					e.logger.Warnw("pressure check failed", "error", err)
					return
				} else if under {
					if err := checker.WaitUntilClear(ctx); err != nil {
						return
					}
				}
			}
		}
	}()

	return out
}

// PressureChecker reports whether the process is over its configured memory
// budget, used by Stream to gate admission of new items.
type PressureChecker struct {
	probe     resourceprobe.Probe
	maxBytes  uint64
	pollEvery time.Duration
}

// NewPressureChecker builds a checker that considers the process under
// pressure once heap-in-use exceeds 0.8 × maxMemoryMB.
func NewPressureChecker(probe resourceprobe.Probe, maxMemoryMB int) *PressureChecker {
	return &PressureChecker{
		probe:     probe,
		maxBytes:  uint64(float64(maxMemoryMB) * 0.8 * 1024 * 1024),
		pollEvery: 50 * time.Millisecond,
	}
}

// UnderPressure reports whether heap-in-use is over threshold, suggesting a
// GC hint as a side effect when it is.
func (p *PressureChecker) UnderPressure() (bool, error) {
	heap, err := p.probe.HeapInUseBytes()
	if err != nil {
		return false, err
	}
	if heap > p.maxBytes {
		p.probe.SuggestGC()
		return true, nil
	}
	return false, nil
}

// WaitUntilClear blocks, polling at pollEvery, until pressure clears or ctx
// is cancelled.
func (p *PressureChecker) WaitUntilClear(ctx context.Context) error {
	for {
		under, err := p.UnderPressure()
		if err != nil {
			return err
		}
		if !under {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(p.pollEvery):
		}
	}
}
