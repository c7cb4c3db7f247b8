// Package pattern implements the sliding-window request recorder and
// sequential-pattern extractor: it watches which cache keys a user
// accesses over time and upserts Pattern records summarizing recurring
// sub-sequences, later consulted by the predictor. Uses
// utils/orderedmap for deterministic iteration order during pruning.
package pattern

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"github.com/tachyon-beep/mnemosyne/utils/array"
	"github.com/tachyon-beep/mnemosyne/utils/orderedmap"
)

const (
	windowDuration    = 24 * time.Hour
	maxSessionEntries = 100
	trimSessionTo     = 50
	maxSubSeqLen      = 5
	minSubSeqLen      = 2
	pruneAgeThreshold = 30 * 24 * time.Hour
	topN              = 10
)

// Context captures the situational features of a request, used both to
// enrich Pattern records and to score predictions against the current
// session.
type Context struct {
	Time       time.Time
	QueryTypes []string
}

func (c Context) hourOfDay() int { return c.Time.Hour() }
func (c Context) dayOfWeek() time.Weekday { return c.Time.Weekday() }

// RequestRecord is one observed access, kept in the 24h sliding window.
type RequestRecord struct {
	Key       string
	UserID    string
	Timestamp time.Time
	Context   Context
}

// Pattern is a recurring contiguous sub-sequence of cache-key accesses.
type Pattern struct {
	ID         string
	UserID     string
	Sequence   []string
	Frequency  int
	LastSeen   time.Time
	Confidence float64
	HourOfDay  int
	DayOfWeek  time.Weekday
	QueryTypes []string
}

// Learner owns the request ring, per-user session state, and the pattern
// store.
type Learner struct {
	mu     sync.Mutex
	clock  clock.Clock
	logger *zap.SugaredLogger

	maxPatternHistory   int
	minPatternFrequency int

	requests []RequestRecord
	sessions map[string][]string // userId -> ordered recent keys
	patterns *orderedmap.Map
}

// New creates a Learner with the real wall clock.
func New(maxPatternHistory, minPatternFrequency int, logger *zap.SugaredLogger) *Learner {
	return NewWithClock(maxPatternHistory, minPatternFrequency, clock.New(), logger)
}

// NewWithClock injects a clock for deterministic decay/pruning tests.
func NewWithClock(maxPatternHistory, minPatternFrequency int, clk clock.Clock, logger *zap.SugaredLogger) *Learner {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Learner{
		clock:               clk,
		logger:              logger,
		maxPatternHistory:   maxPatternHistory,
		minPatternFrequency: minPatternFrequency,
		sessions:            make(map[string][]string),
		patterns:            orderedmap.New(),
	}
}

// RecordRequest appends the access to the sliding window and session ring,
// extracts every contiguous sub-sequence of length 2..min(5, sessionLen)
// ending at this access, and upserts a Pattern for each.
func (l *Learner) RecordRequest(key, userID string, ctx Context) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	rec := RequestRecord{Key: key, UserID: userID, Timestamp: now, Context: ctx}
	l.requests = append(l.requests, rec)
	l.evictOldRequestsLocked(now)

	session := append(l.sessions[userID], key)
	if len(session) > maxSessionEntries {
		session = session[len(session)-trimSessionTo:]
	}
	l.sessions[userID] = session

	maxLen := maxSubSeqLen
	if len(session) < maxLen {
		maxLen = len(session)
	}
	for length := minSubSeqLen; length <= maxLen; length++ {
		seq := session[len(session)-length:]
		l.upsertPatternLocked(userID, seq, now, ctx)
	}

	l.pruneLocked(now)
}

func (l *Learner) evictOldRequestsLocked(now time.Time) {
	cutoff := now.Add(-windowDuration)
	idx := 0
	for idx < len(l.requests) && l.requests[idx].Timestamp.Before(cutoff) {
		idx++
	}
	if idx > 0 {
		l.requests = l.requests[idx:]
	}
}

func patternID(userID string, seq []string) string {
	return userID + ":" + strings.Join(seq, "->")
}

func (l *Learner) upsertPatternLocked(userID string, seq []string, now time.Time, ctx Context) {
	id := patternID(userID, seq)

	if existing, ok := l.patterns.Get(id); ok {
		p := existing.(Pattern)
		p.Frequency++
		p.LastSeen = now
		p.Confidence = minFloat(1, p.Confidence+0.01)
		p.QueryTypes = unionStrings(p.QueryTypes, ctx.QueryTypes)
		l.patterns.Set(id, p)
		return
	}

	l.patterns.Set(id, Pattern{
		ID:         id,
		UserID:     userID,
		Sequence:   append([]string(nil), seq...),
		Frequency:  1,
		LastSeen:   now,
		Confidence: 0.1,
		HourOfDay:  ctx.hourOfDay(),
		DayOfWeek:  ctx.dayOfWeek(),
		QueryTypes: append([]string(nil), ctx.QueryTypes...),
	})
}

func (l *Learner) pruneLocked(now time.Time) {
	keys := append([]string(nil), l.patterns.Keys()...)
	if len(keys) <= l.maxPatternHistory {
		return
	}
	for _, id := range keys {
		v, ok := l.patterns.Get(id)
		if !ok {
			continue
		}
		p := v.(Pattern)
		if now.Sub(p.LastSeen) > pruneAgeThreshold && p.Frequency < l.minPatternFrequency {
			l.patterns.Delete(id)
		}
	}
}

// ActiveUsers returns the userIds with at least one session entry, sorted
// for deterministic iteration by callers that sweep every user on a timer.
func (l *Learner) ActiveUsers() []string {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]string, 0, len(l.sessions))
	for userID, keys := range l.sessions {
		if len(keys) > 0 {
			out = append(out, userID)
		}
	}
	sort.Strings(out)
	return out
}

// RecentKeys returns userID's current session ring, most recent last.
func (l *Learner) RecentKeys(userID string) []string {
	l.mu.Lock()
	defer l.mu.Unlock()

	session := l.sessions[userID]
	out := make([]string, len(session))
	copy(out, session)
	return out
}

// Scored is a Pattern paired with its current prediction score.
type Scored struct {
	Pattern Pattern
	Score   float64
}

// PredictivePatterns returns up to the top 10 patterns whose score against
// recentKeys/ctx is at least threshold, highest score first.
func (l *Learner) PredictivePatterns(recentKeys []string, ctx Context, threshold float64) []Scored {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	var scored []Scored
	for _, id := range l.patterns.Keys() {
		v, ok := l.patterns.Get(id)
		if !ok {
			continue
		}
		p := v.(Pattern)
		score := l.score(p, recentKeys, ctx, now)
		if score >= threshold {
			scored = append(scored, Scored{Pattern: p, Score: score})
		}
	}

	sort.Slice(scored, func(i, j int) bool {
		if scored[i].Score != scored[j].Score {
			return scored[i].Score > scored[j].Score
		}
		return scored[i].Pattern.ID < scored[j].Pattern.ID
	})
	if len(scored) > topN {
		scored = scored[:topN]
	}
	return scored
}

func (l *Learner) score(p Pattern, recentKeys []string, ctx Context, now time.Time) float64 {
	prefix := p.Sequence[:len(p.Sequence)-1]
	suffix := suffixOf(recentKeys, len(prefix))

	var sequenceScore float64
	if equalStrings(prefix, suffix) {
		sequenceScore = 0.6
	} else {
		sequenceScore = overlapRatio(prefix, suffix) * 0.4
	}

	frequencyScore := minFloat(0.2, float64(p.Frequency)/100)
	confidenceScore := p.Confidence * 0.1

	contextScore := l.contextSimilarity(p, ctx) * 0.1

	hoursSince := now.Sub(p.LastSeen).Hours()
	recencyScore := maxFloat(0, 0.1-hoursSince/168)

	return sequenceScore + frequencyScore + confidenceScore + contextScore + recencyScore
}

func (l *Learner) contextSimilarity(p Pattern, ctx Context) float64 {
	var matches, total float64

	total++
	if hourDiff(p.HourOfDay, ctx.hourOfDay()) <= 1 {
		matches++
	}
	total++
	if p.DayOfWeek == ctx.dayOfWeek() {
		matches++
	}
	if len(p.QueryTypes) > 0 || len(ctx.QueryTypes) > 0 {
		total++
		if overlapsAny(p.QueryTypes, ctx.QueryTypes) {
			matches++
		}
	}
	if total == 0 {
		return 0
	}
	return matches / total
}

func suffixOf(keys []string, n int) []string {
	if n <= 0 {
		return nil
	}
	if n > len(keys) {
		n = len(keys)
	}
	return keys[len(keys)-n:]
}

func overlapRatio(a, b []string) float64 {
	if len(a) == 0 {
		return 0
	}
	set := make(map[string]struct{}, len(b))
	for _, k := range b {
		set[k] = struct{}{}
	}
	var hits int
	for _, k := range a {
		if _, ok := set[k]; ok {
			hits++
		}
	}
	return float64(hits) / float64(len(a))
}

func overlapsAny(a, b []string) bool {
	for _, x := range a {
		if array.Contains(b, x) {
			return true
		}
	}
	return false
}

func unionStrings(a, b []string) []string {
	out := append([]string(nil), a...)
	for _, x := range b {
		if !array.Contains(out, x) {
			out = append(out, x)
		}
	}
	return out
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func hourDiff(a, b int) int {
	d := a - b
	if d < 0 {
		d = -d
	}
	if d > 12 {
		d = 24 - d
	}
	return d
}

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

func maxFloat(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}
