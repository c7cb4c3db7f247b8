// Package warm implements the priority-queued cache warming scheduler: it
// admits predictions only when CPU, memory, and in-flight bounds permit,
// then dispatches per-kind warming strategies that populate MemoryCache
// ahead of demand, using utils/heap.MaxHeap for the priority queue and
// resourceprobe for admission control.
package warm

import (
	"context"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/tachyon-beep/mnemosyne/predict"
	"github.com/tachyon-beep/mnemosyne/resourceprobe"
	"github.com/tachyon-beep/mnemosyne/utils/heap"
)

const maxQueueLen = 100

// Kind classifies a cache key so the scheduler can dispatch the right
// warming strategy.
type Kind string

const (
	KindFlow         Kind = "flow"
	KindProductivity Kind = "productivity"
	KindKnowledgeGap Kind = "knowledge_gap"
	KindSearch       Kind = "search"
	KindGeneric      Kind = "generic"
)

// ParseKind classifies a cache key by prefix convention
// ("<kind>:..."), falling back to generic.
func ParseKind(cacheKey string) Kind {
	prefix, _, found := strings.Cut(cacheKey, ":")
	if !found {
		return KindGeneric
	}
	switch Kind(prefix) {
	case KindFlow, KindProductivity, KindKnowledgeGap, KindSearch:
		return Kind(prefix)
	default:
		return KindGeneric
	}
}

// Strategy materializes the artifact for one prediction and writes it into
// the cache (via the cache it closes over).
type Strategy func(ctx context.Context, pred predict.Prediction) error

// ResourceThresholds gates background admission.
type ResourceThresholds struct {
	MaxCPUUtilization float64
	MaxMemoryUsageMB  int
}

// Counters tracks scheduler outcomes, read by performanceHealthCheck and
// the S4/S8 testable properties.
type Counters struct {
	Successful           int64
	Failed                int64
	SkippedDueToResources int64
	Offered               int64
}

// Scheduler is the bounded priority-queue warming engine.
type Scheduler struct {
	mu sync.Mutex

	queue    *heap.MaxHeap[predict.Prediction]
	inFlight map[string]struct{}

	probe      resourceprobe.Probe
	thresholds ResourceThresholds
	maxConcurrentPredictions int
	maxPerMinute             int

	strategies map[Kind]Strategy
	counters   Counters

	logger *zap.SugaredLogger
}

func rankLess(a, b predict.Prediction) bool {
	ra, rb := a.Priority*a.Confidence*a.EstimatedValue, b.Priority*b.Confidence*b.EstimatedValue
	if ra != rb {
		return ra < rb
	}
	return a.CacheKey < b.CacheKey
}

// New creates a Scheduler. strategies maps each Kind to its warming
// function; a missing Kind falls back to strategies[KindGeneric] if
// present, otherwise predictions of that kind are dropped (logged).
func New(probe resourceprobe.Probe, thresholds ResourceThresholds, maxConcurrentPredictions, maxPerMinute int, strategies map[Kind]Strategy, logger *zap.SugaredLogger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Scheduler{
		queue:                    heap.NewMaxHeap(rankLess),
		inFlight:                 make(map[string]struct{}),
		probe:                    probe,
		thresholds:               thresholds,
		maxConcurrentPredictions: maxConcurrentPredictions,
		maxPerMinute:             maxPerMinute,
		strategies:               strategies,
		logger:                   logger,
	}
}

// Queue filters out keys already in-flight, pushes the rest, and caps the
// queue length at 100 by keeping only the 100 highest-ranked predictions.
func (s *Scheduler) Queue(preds []predict.Prediction) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, p := range preds {
		if _, inFlight := s.inFlight[p.CacheKey]; inFlight {
			continue
		}
		s.queue.Push(p)
	}

	if s.queue.Len() <= maxQueueLen {
		return
	}

	all := make([]predict.Prediction, 0, s.queue.Len())
	for {
		p, ok := s.queue.Pop()
		if !ok {
			break
		}
		all = append(all, p)
	}
	// Pop drains the max-heap highest-rank-first, so the first
	// maxQueueLen items popped are the ones to keep.
	if len(all) > maxQueueLen {
		all = all[:maxQueueLen]
	}
	for _, p := range all {
		s.queue.Push(p)
	}
}

// QueueLen reports the current queue length.
func (s *Scheduler) QueueLen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queue.Len()
}

// Reset drops all queued predictions and in-flight tracking, used when
// performance state is reset; accumulated counters are left untouched.
func (s *Scheduler) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queue = heap.NewMaxHeap(rankLess)
	s.inFlight = make(map[string]struct{})
}

// Counters returns a snapshot of scheduler outcome counts.
func (s *Scheduler) Counters() Counters {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counters
}

// resourceAvailability computes how many warming operations are currently
// allowed, per §4.8: CPU over threshold halves the budget, heap-in-use
// over threshold multiplies it by 0.3, in-flight at capacity zeroes it;
// two or more active reasons (or an allowed count of zero) means
// canWarm=false.
func (s *Scheduler) resourceAvailability(budget int) (allowed int, canWarm bool) {
	reasons := 0
	allowed = budget

	if cpu, err := s.probe.CPUUtilization(); err == nil && cpu > s.thresholds.MaxCPUUtilization {
		allowed /= 2
		reasons++
	}
	if heapBytes, err := s.probe.HeapInUseBytes(); err == nil {
		heapMB := float64(heapBytes) / (1024 * 1024)
		if heapMB > float64(s.thresholds.MaxMemoryUsageMB) {
			allowed = int(float64(allowed) * 0.3)
			reasons++
		}
	}
	if len(s.inFlight) >= s.maxConcurrentPredictions {
		allowed = 0
		reasons++
	}

	canWarm = reasons < 2 && allowed > 0
	return allowed, canWarm
}

// Process drains up to min(maxPerMinute, allowedByResources) predictions
// from the queue front, dispatches each to its warming strategy
// concurrently, and updates counters. Safe to call on a timer or on
// demand.
func (s *Scheduler) Process(ctx context.Context) {
	s.mu.Lock()
	allowed, canWarm := s.resourceAvailability(s.maxPerMinute)
	if !canWarm {
		s.counters.SkippedDueToResources++
		s.mu.Unlock()
		return
	}

	var batch []predict.Prediction
	for len(batch) < allowed {
		p, ok := s.queue.Pop()
		if !ok {
			break
		}
		s.inFlight[p.CacheKey] = struct{}{}
		batch = append(batch, p)
	}
	s.counters.Offered += int64(len(batch))
	s.mu.Unlock()

	var wg sync.WaitGroup
	for _, p := range batch {
		p := p
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.dispatch(ctx, p)
		}()
	}
	wg.Wait()
}

func (s *Scheduler) dispatch(ctx context.Context, p predict.Prediction) {
	defer func() {
		s.mu.Lock()
		delete(s.inFlight, p.CacheKey)
		s.mu.Unlock()
	}()

	strategy, ok := s.strategies[ParseKind(p.CacheKey)]
	if !ok {
		strategy, ok = s.strategies[KindGeneric]
	}
	if !ok {
		s.logger.Warnw("no warming strategy for key", "key", p.CacheKey)
		s.recordFailure()
		return
	}

	if err := strategy(ctx, p); err != nil {
		s.logger.Warnw("warming task failed", "key", p.CacheKey, "error", err)
		s.recordFailure()
		return
	}
	s.recordSuccess()
}

func (s *Scheduler) recordSuccess() {
	s.mu.Lock()
	s.counters.Successful++
	s.mu.Unlock()
}

func (s *Scheduler) recordFailure() {
	s.mu.Lock()
	s.counters.Failed++
	s.mu.Unlock()
}

// StartTicker runs Process on the given cadence until ctx is cancelled.
func (s *Scheduler) StartTicker(ctx context.Context, every time.Duration) {
	ticker := time.NewTicker(every)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.Process(ctx)
			}
		}
	}()
}
