// Package predict composes multiple scoring sub-models over observed
// patterns into a ranked, deduplicated list of cache-warming candidates,
// and tracks each sub-model's running accuracy from reported outcomes.
// Each sub-model is a closed-form scoring function; there is no ML
// runtime dependency.
package predict

import (
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"github.com/tachyon-beep/mnemosyne/pattern"
	"github.com/tachyon-beep/mnemosyne/utils/array"
	"github.com/tachyon-beep/mnemosyne/utils/copy"
)

// ModelKind identifies one of the four sub-models.
type ModelKind string

const (
	Sequence     ModelKind = "sequence"
	Temporal     ModelKind = "temporal"
	Contextual   ModelKind = "contextual"
	Collaborative ModelKind = "collaborative"
)

const (
	seqPriority  = 100
	seqTTL       = 60 * time.Minute
	temporalPriority = 80
	temporalTTL      = 120 * time.Minute
	contextPriority  = 60
	contextTTL       = 30 * time.Minute
	collabPriority   = 40
	collabTTL        = 45 * time.Minute

	emaAlpha           = 0.1
	recomputeEvery      = 100
	recomputeWindowSize = 1000
)

// Prediction is a candidate artifact to warm.
type Prediction struct {
	CacheKey       string
	Model          ModelKind
	Confidence     float64
	Priority       float64
	EstimatedValue float64
	Context        pattern.Context
	ExpiryTime     time.Time
}

func (p Prediction) rank() float64 {
	return p.Priority * p.Confidence * p.EstimatedValue
}

// ModelStats tracks one sub-model's running accuracy.
type ModelStats struct {
	Accuracy      float64
	TrainingCount int
	LastUpdated   time.Time
	Disabled      bool
}

// TrainingSample is one outcome report, kept in a bounded ring for
// periodic accuracy recomputation.
type TrainingSample struct {
	Model     ModelKind
	CacheKey  string
	Timestamp time.Time
	Accurate  bool
}

// TemporalSample is one historical access used by the temporal sub-model,
// keyed by hour-of-day and day-of-week.
type TemporalSample struct {
	Key       string
	Timestamp time.Time
}

// CollaborativeProvider supplies user-similarity data; until one is
// configured the collaborative sub-model stays permanently disabled.
type CollaborativeProvider interface {
	SimilarUsers(userID string, recentKeys []string) map[string]float64 // userId -> similarity
	TopKeysFor(userID string) []string
}

const maxTrainingSamples = 10000
const trimTrainingTo = 5000

// Predictor composes the four sub-models.
type Predictor struct {
	mu     sync.Mutex
	clock  clock.Clock
	logger *zap.SugaredLogger

	learner                  *pattern.Learner
	maxConcurrentPredictions int

	temporal []TemporalSample
	training []TrainingSample
	stats    map[ModelKind]*ModelStats

	collaborative CollaborativeProvider
}

// New creates a Predictor backed by learner, with the real wall clock.
func New(learner *pattern.Learner, maxConcurrentPredictions int, logger *zap.SugaredLogger) *Predictor {
	return NewWithClock(learner, maxConcurrentPredictions, clock.New(), logger)
}

// NewWithClock injects a clock for deterministic TTL/accuracy tests.
func NewWithClock(learner *pattern.Learner, maxConcurrentPredictions int, clk clock.Clock, logger *zap.SugaredLogger) *Predictor {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Predictor{
		clock:                    clk,
		logger:                   logger,
		learner:                  learner,
		maxConcurrentPredictions: maxConcurrentPredictions,
		stats: map[ModelKind]*ModelStats{
			Sequence:      {},
			Temporal:      {},
			Contextual:    {},
			Collaborative: {Disabled: true},
		},
	}
}

// WithCollaborativeProvider enables the collaborative sub-model.
func (p *Predictor) WithCollaborativeProvider(provider CollaborativeProvider) *Predictor {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.collaborative = provider
	p.stats[Collaborative].Disabled = false
	return p
}

// RecordTemporalSample feeds the temporal sub-model's historical ledger.
func (p *Predictor) RecordTemporalSample(key string, at time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.temporal = append(p.temporal, TemporalSample{Key: key, Timestamp: at})
}

// Predict runs all enabled sub-models for userID given recentKeys/ctx,
// dedups by cacheKey (keeping the highest-confidence candidate), and
// returns up to maxConcurrentPredictions predictions, stably sorted by
// priority*confidence*estimatedValue descending.
func (p *Predictor) Predict(userID string, recentKeys []string, ctx pattern.Context, operationKind string, threshold float64) []Prediction {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.clock.Now()
	var all []Prediction
	all = append(all, p.sequencePredictions(recentKeys, ctx, operationKind, threshold, now)...)
	all = append(all, p.temporalPredictions(ctx, operationKind, now)...)
	all = append(all, p.contextualPredictions(ctx, operationKind, now)...)
	all = append(all, p.collaborativePredictions(userID, recentKeys, operationKind, now)...)

	deduped := dedupeByCacheKey(all)

	sort.SliceStable(deduped, func(i, j int) bool {
		return deduped[i].rank() > deduped[j].rank()
	})
	if len(deduped) > p.maxConcurrentPredictions {
		deduped = deduped[:p.maxConcurrentPredictions]
	}
	return snapshotPredictions(deduped, p.logger)
}

// snapshotPredictions deep-copies every Prediction before it leaves the
// Predictor. Every sub-model above stamps the same caller-supplied
// pattern.Context onto several Prediction entries, so without this the
// returned slice aliases one QueryTypes slice across many predictions;
// a caller (or a later warming retry) mutating one entry's Context would
// silently corrupt the others still queued. json.Marshal/Unmarshal errors
// are not expected for this plain-data struct, so a failure falls back to
// the shallow value rather than dropping the prediction.
func snapshotPredictions(preds []Prediction, logger *zap.SugaredLogger) []Prediction {
	out := make([]Prediction, len(preds))
	for i, p := range preds {
		cp, err := copy.Deep(p)
		if err != nil {
			logger.Warnw("prediction snapshot failed, returning shallow copy", "cacheKey", p.CacheKey, "error", err)
			out[i] = p
			continue
		}
		out[i] = cp
	}
	return out
}

func dedupeByCacheKey(preds []Prediction) []Prediction {
	best := make(map[string]Prediction)
	order := make([]string, 0, len(preds))
	for _, pr := range preds {
		existing, ok := best[pr.CacheKey]
		if !ok {
			order = append(order, pr.CacheKey)
			best[pr.CacheKey] = pr
			continue
		}
		if pr.Confidence > existing.Confidence {
			best[pr.CacheKey] = pr
		}
	}
	out := make([]Prediction, 0, len(order))
	for _, key := range order {
		out = append(out, best[key])
	}
	return out
}

func estimatedValue(operationKind string) float64 {
	switch operationKind {
	case "flow":
		return 3
	case "knowledge_gap":
		return 2.5
	case "productivity":
		return 2
	case "search":
		return 1.5
	case "batch", "all":
		return 2
	default:
		return 1
	}
}

func (p *Predictor) sequencePredictions(recentKeys []string, ctx pattern.Context, operationKind string, threshold float64, now time.Time) []Prediction {
	scored := p.learner.PredictivePatterns(recentKeys, ctx, threshold)
	value := estimatedValue(operationKind)

	out := make([]Prediction, 0, len(scored))
	for _, s := range scored {
		seq := s.Pattern.Sequence
		if len(seq) == 0 {
			continue
		}
		nextKey := seq[len(seq)-1]
		confidence := s.Pattern.Confidence * math.Min(1, float64(s.Pattern.Frequency)/100)
		out = append(out, Prediction{
			CacheKey:       nextKey,
			Model:          Sequence,
			Confidence:     confidence,
			Priority:       seqPriority,
			EstimatedValue: value,
			Context:        ctx,
			ExpiryTime:     now.Add(seqTTL),
		})
	}
	return out
}

func (p *Predictor) temporalPredictions(ctx pattern.Context, operationKind string, now time.Time) []Prediction {
	if len(p.temporal) == 0 {
		return nil
	}
	counts := make(map[string]int)
	var total int
	for _, sample := range p.temporal {
		if hourWithin(sample.Timestamp.Hour(), ctx.Time.Hour(), 1) && sample.Timestamp.Weekday() == ctx.Time.Weekday() {
			counts[sample.Key]++
			total++
		}
	}
	if total == 0 {
		return nil
	}
	value := estimatedValue(operationKind)

	out := make([]Prediction, 0, len(counts))
	for key, count := range counts {
		out = append(out, Prediction{
			CacheKey:       key,
			Model:          Temporal,
			Confidence:     float64(count) / float64(total),
			Priority:       temporalPriority,
			EstimatedValue: value,
			Context:        ctx,
			ExpiryTime:     now.Add(temporalTTL),
		})
	}
	return out
}

func hourWithin(a, b, tolerance int) bool {
	d := a - b
	if d < 0 {
		d = -d
	}
	if d > 12 {
		d = 24 - d
	}
	return d <= tolerance
}

func (p *Predictor) contextualPredictions(ctx pattern.Context, operationKind string, now time.Time) []Prediction {
	if len(ctx.QueryTypes) == 0 {
		return nil
	}
	value := estimatedValue(operationKind)

	out := make([]Prediction, 0, len(ctx.QueryTypes))
	for _, qt := range ctx.QueryTypes {
		out = append(out, Prediction{
			CacheKey:       relatedKey(qt),
			Model:          Contextual,
			Confidence:     0.5,
			Priority:       contextPriority,
			EstimatedValue: value,
			Context:        ctx,
			ExpiryTime:     now.Add(contextTTL),
		})
	}
	return out
}

func relatedKey(queryType string) string {
	return strings.ToLower(queryType) + ":related"
}

func (p *Predictor) collaborativePredictions(userID string, recentKeys []string, operationKind string, now time.Time) []Prediction {
	if p.collaborative == nil {
		return nil
	}
	similar := p.collaborative.SimilarUsers(userID, recentKeys)
	if len(similar) == 0 {
		return nil
	}
	value := estimatedValue(operationKind)

	var out []Prediction
	for otherUser, userSim := range similar {
		for _, key := range p.collaborative.TopKeysFor(otherUser) {
			keySim := 1.0
			if idx := array.IndexOf(recentKeys, key); idx >= 0 {
				keySim = 0.5
			}
			out = append(out, Prediction{
				CacheKey:       key,
				Model:          Collaborative,
				Confidence:     userSim * keySim,
				Priority:       collabPriority,
				EstimatedValue: value,
				ExpiryTime:     now.Add(collabTTL),
			})
		}
	}
	return out
}

// Update reports a prediction's outcome, updating its model's EMA accuracy
// and, every 100 samples, recomputing accuracy as the ground-truth success
// ratio over the most recent 1000 samples.
func (p *Predictor) Update(pred Prediction, accurate bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.clock.Now()
	p.training = append(p.training, TrainingSample{
		Model:     pred.Model,
		CacheKey:  pred.CacheKey,
		Timestamp: now,
		Accurate:  accurate,
	})
	if len(p.training) > maxTrainingSamples {
		p.training = p.training[len(p.training)-trimTrainingTo:]
	}

	s := p.stats[pred.Model]
	if s == nil {
		s = &ModelStats{}
		p.stats[pred.Model] = s
	}
	outcome := 0.0
	if accurate {
		outcome = 1.0
	}
	s.Accuracy = (1-emaAlpha)*s.Accuracy + emaAlpha*outcome
	s.TrainingCount++
	s.LastUpdated = now

	if s.TrainingCount%recomputeEvery == 0 {
		p.recomputeAccuracyLocked(pred.Model, now)
	}
}

func (p *Predictor) recomputeAccuracyLocked(model ModelKind, now time.Time) {
	start := 0
	if len(p.training) > recomputeWindowSize {
		start = len(p.training) - recomputeWindowSize
	}
	var hits, total int
	for _, sample := range p.training[start:] {
		if sample.Model != model {
			continue
		}
		total++
		if sample.Accurate {
			hits++
		}
	}
	if total == 0 {
		return
	}
	p.stats[model].Accuracy = float64(hits) / float64(total)
	p.stats[model].LastUpdated = now
}

// Stats returns a snapshot of per-model accuracy tracking.
func (p *Predictor) Stats() map[ModelKind]ModelStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[ModelKind]ModelStats, len(p.stats))
	for k, v := range p.stats {
		out[k] = *v
	}
	return out
}
