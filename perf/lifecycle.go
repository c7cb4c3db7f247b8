package perf

import (
	"context"
	"io"
	"time"
)

// ShutdownSequence holds the stop functions for each background loop,
// invoked in the fixed order warming -> predictor -> pattern learner ->
// index monitor -> query executor, mirroring the reference gateway's
// signal-driven graceful shutdown in main.go.
type ShutdownSequence struct {
	StopWarming  context.CancelFunc
	StopPredict  context.CancelFunc
	StopPattern  context.CancelFunc
	StopIndexMon context.CancelFunc
	CloseQuery   io.Closer
}

// Shutdown runs the sequence, continuing past a failing step so every
// component gets a chance to stop, and returns the first error seen.
func (m *Manager) Shutdown(seq ShutdownSequence) error {
	var firstErr error
	record := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	for _, stop := range []context.CancelFunc{seq.StopWarming, seq.StopPredict, seq.StopPattern, seq.StopIndexMon} {
		if stop != nil {
			stop()
		}
	}
	if m.cron != nil {
		<-m.cron.Stop().Done()
	}
	if seq.CloseQuery != nil {
		record(seq.CloseQuery.Close())
	}
	return firstErr
}

// CacheResetter clears all cached entries.
type CacheResetter interface {
	InvalidatePattern(substring string) int
}

// QueueDrainer drops a scheduler's pending warming queue and in-flight
// tracking.
type QueueDrainer interface {
	Reset()
}

// ResetPerformanceState clears MemoryCache contents and the warming
// scheduler's queue, and pauses PatternLearner.RecordRequest for
// resetLearningBlackout, per §5's note that pattern and model history
// survive a reset while in-flight caching/learning state does not.
func (m *Manager) ResetPerformanceState(cache CacheResetter, warming QueueDrainer) {
	if cache != nil {
		cache.InvalidatePattern("")
	}
	if warming != nil {
		warming.Reset()
	}
	m.PauseLearning(resetLearningBlackout)
}

const resetLearningBlackout = time.Second
