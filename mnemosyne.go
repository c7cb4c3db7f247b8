// Package mnemosyne is the core-exposed API facade: it wires
// MemoryCache, QueryExecutor, BatchExecutor, PatternLearner, Predictor,
// WarmingScheduler, IndexMonitor, and PerformanceManager into the
// library surface the tool layer calls, as a single entry-point struct
// composing every subsystem behind request-scoped methods, constructed
// once and reused for the process lifetime.
package mnemosyne

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/tachyon-beep/mnemosyne/batch"
	"github.com/tachyon-beep/mnemosyne/cachekey"
	"github.com/tachyon-beep/mnemosyne/config"
	"github.com/tachyon-beep/mnemosyne/errs"
	"github.com/tachyon-beep/mnemosyne/index"
	"github.com/tachyon-beep/mnemosyne/memcache"
	"github.com/tachyon-beep/mnemosyne/pattern"
	"github.com/tachyon-beep/mnemosyne/perf"
	"github.com/tachyon-beep/mnemosyne/predict"
	"github.com/tachyon-beep/mnemosyne/query"
	"github.com/tachyon-beep/mnemosyne/resourceprobe"
	"github.com/tachyon-beep/mnemosyne/warm"
)

// Conversation is the subset of the persistent analytics schema's
// conversations table the core reads.
type Conversation struct {
	ID        string
	Title     string
	CreatedAt time.Time
	UpdatedAt time.Time
	Metadata  json.RawMessage
}

// Message is one row of the persistent analytics schema's messages table.
type Message struct {
	ID             string
	ConversationID string
	Role           string
	Content        string
	CreatedAt      time.Time
	Metadata       json.RawMessage
}

// ConversationBundle is one conversation plus its messages, the unit of
// work every analytics collaborator operates over. UserID identifies the
// session PatternLearner attributes this bundle's cache access to; the
// persistent schema has no per-request caller identity of its own, so
// callers set it to whatever session/tenant concept they track (it may be
// left empty to fall back to a single shared session).
type ConversationBundle struct {
	Conversation Conversation
	Messages     []Message
	UserID       string
}

// AnalyzerKind tags an Analyzer's variant, replacing runtime type
// assertion with an explicit discriminant.
type AnalyzerKind string

const (
	KindFlow         AnalyzerKind = "flow"
	KindProductivity AnalyzerKind = "productivity"
)

// Analyzer is the common tag every analytics collaborator implements.
type Analyzer interface {
	Kind() AnalyzerKind
}

// FlowAnalyzer computes a flow-state artifact for one conversation.
type FlowAnalyzer interface {
	Analyzer
	AnalyzeFlow(ctx context.Context, conversation Conversation, messages []Message) (any, error)
}

// ProductivityAnalyzer computes a productivity-scoring artifact for one
// conversation.
type ProductivityAnalyzer interface {
	Analyzer
	AnalyzeProductivity(ctx context.Context, conversation Conversation, messages []Message) (any, error)
}

// Gap is one detected knowledge gap, derived jointly across a set of
// conversation bundles.
type Gap struct {
	ID             string
	ConversationID string
	Topic          string
	Description    string
	Severity       string
	DetectedAt     time.Time
}

// GapDetector finds knowledge gaps across a collection of conversations.
type GapDetector interface {
	DetectKnowledgeGaps(ctx context.Context, bundles []ConversationBundle) ([]Gap, error)
}

// Decision is one tracked decision extracted from a conversation.
type Decision struct {
	ID             string
	ConversationID string
	Summary        string
	DecidedAt      time.Time
}

// DecisionTracker extracts decisions from one conversation's messages.
type DecisionTracker interface {
	TrackDecisions(ctx context.Context, conversation Conversation, messages []Message) ([]Decision, error)
}

// Metrics is the Prometheus surface exported by Manager, mirroring the
// counters and histograms the ambient stack mandates: cache hit/miss/
// eviction counts, warming outcome counts, alert counts by kind, query
// latency, and warming task duration.
type Metrics struct {
	CacheHits      prometheus.Counter
	CacheMisses    prometheus.Counter
	CacheEvictions prometheus.Counter
	WarmSuccess    prometheus.Counter
	WarmFailure    prometheus.Counter
	AlertsRaised   *prometheus.CounterVec
	QueryLatency   prometheus.Histogram
	WarmDuration   prometheus.Histogram
}

func newMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		CacheHits: factory.NewCounter(prometheus.CounterOpts{
			Name: "mnemosyne_cache_hits_total",
			Help: "MemoryCache lookups that found a live entry.",
		}),
		CacheMisses: factory.NewCounter(prometheus.CounterOpts{
			Name: "mnemosyne_cache_misses_total",
			Help: "MemoryCache lookups that found no live entry.",
		}),
		CacheEvictions: factory.NewCounter(prometheus.CounterOpts{
			Name: "mnemosyne_cache_evictions_total",
			Help: "Entries evicted from MemoryCache to free space.",
		}),
		WarmSuccess: factory.NewCounter(prometheus.CounterOpts{
			Name: "mnemosyne_warming_success_total",
			Help: "Cache-warming tasks that populated an entry successfully.",
		}),
		WarmFailure: factory.NewCounter(prometheus.CounterOpts{
			Name: "mnemosyne_warming_failure_total",
			Help: "Cache-warming tasks whose strategy returned an error.",
		}),
		AlertsRaised: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "mnemosyne_index_alerts_total",
			Help: "Index-health alerts raised, by kind.",
		}, []string{"kind"}),
		QueryLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "mnemosyne_query_latency_seconds",
			Help:    "optimizeQuery call latency.",
			Buckets: prometheus.DefBuckets,
		}),
		WarmDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "mnemosyne_warm_task_duration_seconds",
			Help:    "Per-task duration of a dispatched warming strategy.",
			Buckets: prometheus.DefBuckets,
		}),
	}
}

// Manager is the top-level facade: one instance per process, constructed
// once via New and reused for every request, composing every subsystem
// behind a single long-lived struct.
type Manager struct {
	cfg     config.Config
	logger  *zap.SugaredLogger
	metrics *Metrics

	cache     *memcache.Cache
	queryExec *query.Executor
	batchExec *batch.Executor
	learner   *pattern.Learner
	predictor *predict.Predictor
	scheduler *warm.Scheduler
	indexMon  *index.Monitor
	perfMgr   *perf.Manager
	escalator *index.Escalator
	recompute *recomputeRegistry

	mu                sync.Mutex
	lastEvictions     int64
	predictiveRunning bool
	perfRunning       bool
	cancelPredict     context.CancelFunc
	cancelWarmTicker  context.CancelFunc
	cancelIndexSample context.CancelFunc
}

// New builds a Manager wired per the configured tunables, opening no
// background work until InitializePredictiveCaching /
// InitializePerformanceMonitoring are called. db is the already-opened
// analytics store handle (database/sql over modernc.org/sqlite or any
// compatible driver); reg receives the Prometheus metrics this facade
// registers (pass prometheus.DefaultRegisterer, or a fresh *Registry in
// tests to avoid collisions across cases).
func New(cfg config.Config, db *sql.DB, logger *zap.SugaredLogger, reg prometheus.Registerer) *Manager {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	cache := memcache.New(int64(cfg.Cache.MaxMemoryUsageMB) * 1024 * 1024)
	queryExec := query.NewFromDB(db, logger)
	batchExec := batch.New(
		batch.WithBatchSize(cfg.Cache.BatchSize),
		batch.WithParallelism(cfg.Cache.ParallelWorkers),
		batch.WithLogger(logger),
	)
	probe := resourceprobe.New(100*time.Millisecond, time.Minute)
	learner := pattern.New(cfg.Predictive.MaxPatternHistory, cfg.Predictive.MinPatternFrequency, logger)
	predictor := predict.New(learner, cfg.Predictive.MaxConcurrentPredictions, logger)

	thresholds := index.Thresholds{
		SlowQueryMs:          cfg.Monitoring.AlertThresholds.SlowQueryMs,
		UnusedIndexDays:      cfg.Monitoring.AlertThresholds.UnusedIndexDays,
		WriteImpactThreshold: cfg.Monitoring.AlertThresholds.WriteImpactThreshold,
	}
	indexMon := index.New(db, thresholds, logger)

	var notifier index.AlertNotifier = index.NoopNotifier{}
	if cfg.Alerts.WebhookURL != "" {
		notifier = index.NewWebhookNotifier(cfg.Alerts.WebhookURL)
	}
	escalationThresholds := make([]index.EscalationThreshold, 0, len(cfg.Alerts.EscalationThresholds))
	for _, t := range cfg.Alerts.EscalationThresholds {
		escalationThresholds = append(escalationThresholds, index.EscalationThreshold{
			Severity: index.Severity(t.Severity),
			AfterN:   t.AfterN,
		})
	}
	escalator := index.NewEscalator(escalationThresholds, notifier)

	m := &Manager{
		cfg:       cfg,
		logger:    logger,
		metrics:   newMetrics(reg),
		cache:     cache,
		queryExec: queryExec,
		batchExec: batchExec,
		learner:   learner,
		predictor: predictor,
		indexMon:  indexMon,
		perfMgr:   perf.New(cfg.Optimization, logger),
		escalator: escalator,
		recompute: newRecomputeRegistry(cfg.Predictive.MaxPatternHistory),
	}

	resourceThresholds := warm.ResourceThresholds{
		MaxCPUUtilization: cfg.Predictive.ResourceThresholds.MaxCPUUtilization,
		MaxMemoryUsageMB:  cfg.Predictive.ResourceThresholds.MaxMemoryUsageMB,
	}
	m.scheduler = warm.New(probe, resourceThresholds, cfg.Predictive.MaxConcurrentPredictions,
		cfg.Predictive.WarmingStrategy.MaxWarmingOperationsPerMin, m.warmingStrategies(), logger)

	return m
}

// cacheObserver records a Prometheus counter alongside every Get outcome.
func (m *Manager) cacheObserver(string) memcache.Observer {
	return func(_ string, outcome memcache.AccessKind) {
		if outcome == memcache.Hit {
			m.metrics.CacheHits.Inc()
		} else {
			m.metrics.CacheMisses.Inc()
		}
	}
}

// syncEvictionMetric adds any evictions observed since the last call to
// the Prometheus counter; Cache itself reports a cumulative total, not a
// per-call delta, so the facade is the one place that tracks the high
// water mark.
func (m *Manager) syncEvictionMetric(stats memcache.Stats) {
	m.mu.Lock()
	delta := stats.Evictions - m.lastEvictions
	m.lastEvictions = stats.Evictions
	m.mu.Unlock()
	if delta > 0 {
		m.metrics.CacheEvictions.Add(float64(delta))
	}
}

// requestContext builds the situational features PatternLearner records
// alongside a request, tagging queryTypes with the calling operation.
func (m *Manager) requestContext(operationKind string) pattern.Context {
	return pattern.Context{Time: time.Now(), QueryTypes: []string{operationKind}}
}

func (m *Manager) recordAccess(operationKind, key, userID string) {
	if m.perfMgr.LearningPaused() {
		return
	}
	m.learner.RecordRequest(key, userID, m.requestContext(operationKind))
}

// optimizeOverBundles is the generic data/control-flow path shared by
// every per-conversation analysis operation: KeyBuilder, then MemoryCache
// lookup, then a bounded-parallel fan-out via BatchExecutor on miss, then
// insert-and-stamp-TTL. Never reflects on T; compute is a caller closure.
func (m *Manager) optimizeOverBundles(ctx context.Context, operationKind string, bundles []ConversationBundle, compute func(ctx context.Context, b ConversationBundle) (any, error)) ([]any, error) {
	proc := func(ctx context.Context, b ConversationBundle) (any, error) {
		key := cachekey.Content(operationKind, b)
		bundle := b
		m.recompute.register(key, func(ctx context.Context) (any, error) { return compute(ctx, bundle) })

		if cached, ok := m.cache.Get(key, m.cacheObserver(operationKind)); ok {
			m.recordAccess(operationKind, key, b.UserID)
			return cached, nil
		}

		artifact, err := compute(ctx, b)
		if err != nil {
			return nil, err
		}

		if _, err := m.cache.Set(key, artifact, m.cfg.Cache.QueryCacheTTL); err != nil {
			m.logger.Warnw("cache set failed", "operation", operationKind, "key", key, "error", err)
		}
		m.syncEvictionMetric(m.cache.Stats())
		m.recordAccess(operationKind, key, b.UserID)
		return artifact, nil
	}

	return batch.Run(ctx, m.batchExec, bundles, proc, false)
}

// OptimizeFlowAnalysis computes (or serves from cache) a flow-state
// artifact per bundle, in input order; a bundle whose analyzer call fails
// leaves a nil slot and is logged, never aborting the others.
func (m *Manager) OptimizeFlowAnalysis(ctx context.Context, bundles []ConversationBundle, analyzer FlowAnalyzer) ([]any, error) {
	return m.optimizeOverBundles(ctx, string(warm.KindFlow), bundles, func(ctx context.Context, b ConversationBundle) (any, error) {
		return analyzer.AnalyzeFlow(ctx, b.Conversation, b.Messages)
	})
}

// OptimizeProductivityAnalysis computes (or serves from cache) a
// productivity-scoring artifact per bundle.
func (m *Manager) OptimizeProductivityAnalysis(ctx context.Context, bundles []ConversationBundle, analyzer ProductivityAnalyzer) ([]any, error) {
	return m.optimizeOverBundles(ctx, string(warm.KindProductivity), bundles, func(ctx context.Context, b ConversationBundle) (any, error) {
		return analyzer.AnalyzeProductivity(ctx, b.Conversation, b.Messages)
	})
}

// OptimizeDecisionTracking extracts decisions per conversation, cached
// per bundle like flow/productivity analysis.
func (m *Manager) OptimizeDecisionTracking(ctx context.Context, bundles []ConversationBundle, tracker DecisionTracker) ([][]Decision, error) {
	results, err := m.optimizeOverBundles(ctx, "decision_tracking", bundles, func(ctx context.Context, b ConversationBundle) (any, error) {
		return tracker.TrackDecisions(ctx, b.Conversation, b.Messages)
	})
	out := make([][]Decision, len(results))
	for i, r := range results {
		if decisions, ok := r.([]Decision); ok {
			out[i] = decisions
		}
	}
	return out, err
}

// OptimizeKnowledgeGapDetection detects gaps jointly across bundles; the
// whole set shares one cache entry since gap detection is inherently a
// cross-conversation computation, not a per-bundle one.
func (m *Manager) OptimizeKnowledgeGapDetection(ctx context.Context, bundles []ConversationBundle, detector GapDetector) ([]Gap, error) {
	key := cachekey.Content(string(warm.KindKnowledgeGap), bundles)
	m.recompute.register(key, func(ctx context.Context) (any, error) { return detector.DetectKnowledgeGaps(ctx, bundles) })

	if cached, ok := m.cache.Get(key, m.cacheObserver(string(warm.KindKnowledgeGap))); ok {
		m.recordAccess(string(warm.KindKnowledgeGap), key, "")
		gaps, _ := cached.([]Gap)
		return gaps, nil
	}

	gaps, err := detector.DetectKnowledgeGaps(ctx, bundles)
	if err != nil {
		return nil, &errs.AnalysisItemError{Cause: err}
	}

	if _, err := m.cache.Set(key, gaps, m.cfg.Cache.QueryCacheTTL); err != nil {
		m.logger.Warnw("cache set failed", "operation", "knowledge_gap", "key", key, "error", err)
	}
	m.syncEvictionMetric(m.cache.Stats())
	m.recordAccess(string(warm.KindKnowledgeGap), key, "")
	return gaps, nil
}

// OptimizeQuery runs a parameterized query through QueryExecutor,
// observing its latency in the query-latency histogram. Row results are
// not cached directly (a *sql.Rows cursor cannot be replayed); callers
// that need cached query results should memoize the decoded rows
// themselves via the same KeyBuilder/MemoryCache primitives this facade
// uses for analysis artifacts.
func (m *Manager) OptimizeQuery(ctx context.Context, queryID, sqlText string, params ...any) (*sql.Rows, error) {
	start := time.Now()
	rows, err := m.queryExec.Execute(ctx, queryID, sqlText, params...)
	m.metrics.QueryLatency.Observe(time.Since(start).Seconds())
	return rows, err
}

// warmingStrategies builds the per-Kind Strategy table the warming
// scheduler dispatches into. A prediction names a cache key whose bundle
// is not retrievable from the key alone (KeyBuilder digests are
// one-way), so a genuinely cold key — evicted or TTL-expired since it
// was last computed — is warmed by looking up the recompute closure
// registered for that key the last time an optimize call populated it,
// and running the real analyzer again through it, exactly as the
// original compute path would. A key still live in MemoryCache is just
// extended to the prediction's TTL rather than recomputed for nothing.
// Only a key this process has genuinely never computed (and so never
// registered) fails, as a WarmingError.
func (m *Manager) warmingStrategies() map[warm.Kind]warm.Strategy {
	refresh := warmAndCount(m, func(ctx context.Context, pred predict.Prediction) error {
		ttl := time.Until(pred.ExpiryTime)
		if ttl <= 0 {
			ttl = m.cfg.Cache.QueryCacheTTL
		}

		if value, ok := m.cache.Get(pred.CacheKey, nil); ok {
			_, err := m.cache.Set(pred.CacheKey, value, ttl)
			m.syncEvictionMetric(m.cache.Stats())
			return err
		}

		recompute, ok := m.recompute.get(pred.CacheKey)
		if !ok {
			return fmt.Errorf("warm %q: no recompute registered for this key", pred.CacheKey)
		}
		artifact, err := recompute(ctx)
		if err != nil {
			return fmt.Errorf("warm %q: analyzer recompute failed: %w", pred.CacheKey, err)
		}
		_, err = m.cache.Set(pred.CacheKey, artifact, ttl)
		m.syncEvictionMetric(m.cache.Stats())
		return err
	})

	return map[warm.Kind]warm.Strategy{
		warm.KindFlow:         refresh,
		warm.KindProductivity: refresh,
		warm.KindKnowledgeGap: refresh,
		warm.KindSearch:       refresh,
		warm.KindGeneric:      refresh,
	}
}

func warmAndCount(m *Manager, strategy warm.Strategy) warm.Strategy {
	return func(ctx context.Context, pred predict.Prediction) error {
		start := time.Now()
		err := strategy(ctx, pred)
		m.metrics.WarmDuration.Observe(time.Since(start).Seconds())
		if err != nil {
			m.metrics.WarmFailure.Inc()
		} else {
			m.metrics.WarmSuccess.Inc()
		}
		return err
	}
}

// InitializePredictiveCaching starts the prediction cycle (one sweep
// every five minutes, computing and queueing predictions for every
// active user) and the scheduler's own processing ticker on a 2-minute
// warming cadence.
func (m *Manager) InitializePredictiveCaching(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.predictiveRunning || !m.cfg.Predictive.Enabled {
		return nil
	}

	predictCtx, cancelPredict := context.WithCancel(ctx)
	m.cancelPredict = cancelPredict
	go m.runPredictionLoop(predictCtx, 5*time.Minute)

	warmCtx, cancelWarm := context.WithCancel(ctx)
	m.cancelWarmTicker = cancelWarm
	m.scheduler.StartTicker(warmCtx, 2*time.Minute)

	m.predictiveRunning = true
	return nil
}

func (m *Manager) runPredictionLoop(ctx context.Context, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.runPredictionCycle()
		}
	}
}

func (m *Manager) runPredictionCycle() {
	if m.perfMgr.LearningPaused() {
		return
	}
	for _, userID := range m.learner.ActiveUsers() {
		recent := m.learner.RecentKeys(userID)
		preds := m.predictor.Predict(userID, recent, pattern.Context{Time: time.Now()}, "batch", m.cfg.Predictive.PredictionThreshold)
		m.scheduler.Queue(preds)
	}
}

// ConfigurePredictiveCaching replaces the live predictive tunables and,
// depending on the new enabled flag, starts or stops the background
// prediction/warming loops.
func (m *Manager) ConfigurePredictiveCaching(ctx context.Context, enabled bool, cfg config.PredictiveConfig) {
	m.mu.Lock()
	m.cfg.Predictive = cfg
	running := m.predictiveRunning
	m.mu.Unlock()

	if enabled && !running {
		_ = m.InitializePredictiveCaching(ctx)
		return
	}
	if !enabled && running {
		m.stopPredictiveCaching()
	}
}

func (m *Manager) stopPredictiveCaching() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cancelPredict != nil {
		m.cancelPredict()
	}
	if m.cancelWarmTicker != nil {
		m.cancelWarmTicker()
	}
	m.predictiveRunning = false
}

// TriggerPredictiveCacheWarming runs one prediction cycle across every
// active user immediately, queues the results, and drains the queue
// through the scheduler's resource-gated Process before returning them.
func (m *Manager) TriggerPredictiveCacheWarming(ctx context.Context) []predict.Prediction {
	var all []predict.Prediction
	for _, userID := range m.learner.ActiveUsers() {
		recent := m.learner.RecentKeys(userID)
		preds := m.predictor.Predict(userID, recent, pattern.Context{Time: time.Now()}, "batch", m.cfg.Predictive.PredictionThreshold)
		all = append(all, preds...)
		m.scheduler.Queue(preds)
	}
	m.scheduler.Process(ctx)
	return all
}

// PredictiveCachingStatus is the snapshot predictiveCachingStatus()
// returns.
type PredictiveCachingStatus struct {
	Enabled         bool
	LearningEnabled bool
	QueueLength     int
	Counters        warm.Counters
	ModelStats      map[predict.ModelKind]predict.ModelStats
}

// PredictiveCachingStatus reports the live predictive-caching state.
func (m *Manager) PredictiveCachingStatus() PredictiveCachingStatus {
	m.mu.Lock()
	enabled := m.predictiveRunning
	m.mu.Unlock()

	return PredictiveCachingStatus{
		Enabled:         enabled,
		LearningEnabled: m.cfg.Predictive.LearningEnabled && !m.perfMgr.LearningPaused(),
		QueueLength:     m.scheduler.QueueLen(),
		Counters:        m.scheduler.Counters(),
		ModelStats:      m.predictor.Stats(),
	}
}

// InitializePerformanceMonitoring starts the index-sampling ticker (on
// monitoring.intervalMinutes) and a maintenance sweep cron firing every
// five minutes that drains unresolved alerts through the automation
// policy, executing approved maintenance actions inside the configured
// window.
func (m *Manager) InitializePerformanceMonitoring(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.perfRunning || !m.cfg.Monitoring.Enabled {
		return nil
	}

	sampleCtx, cancelSample := context.WithCancel(ctx)
	m.cancelIndexSample = cancelSample
	interval := time.Duration(m.cfg.Monitoring.IntervalMinutes) * time.Minute
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	go m.runIndexSampleLoop(sampleCtx, interval)

	if err := m.perfMgr.StartMaintenanceCron("0 */5 * * * *", m.sweepAlerts); err != nil {
		return fmt.Errorf("failed to start maintenance sweep: %w", err)
	}

	m.perfRunning = true
	return nil
}

func (m *Manager) runIndexSampleLoop(ctx context.Context, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.sampleIndexHealth(ctx)
		}
	}
}

func (m *Manager) sampleIndexHealth(ctx context.Context) {
	latencies := make([]index.QueryLatencyStat, 0)
	for id, stat := range m.queryExec.Stats() {
		latencies = append(latencies, index.QueryLatencyStat{AvgMs: float64(stat.Avg.Milliseconds()), SQL: id})
	}

	_, alerts, err := m.indexMon.Sample(ctx, latencies)
	if err != nil {
		m.logger.Warnw("index sample failed", "error", err)
		return
	}
	for _, alert := range alerts {
		m.metrics.AlertsRaised.WithLabelValues(string(alert.Kind)).Inc()
		if err := m.escalator.Observe(ctx, alert); err != nil {
			m.logger.Warnw("alert escalation notify failed", "alert", alert.ID, "error", err)
		}
	}
	m.syncEvictionMetric(m.cache.Stats())
}

// sweepAlerts drains every unresolved index alert through the automation
// policy, executing approved maintenance actions.
func (m *Manager) sweepAlerts() {
	ctx := context.Background()
	for _, alert := range m.indexMon.Alerts() {
		decision := m.perfMgr.Decide(alert)
		if decision.Decision != perf.ChoiceApprove {
			continue
		}
		task := index.MaintenanceTask{
			Task:          maintenanceActionFor(alert),
			Target:        alert.IndexName,
			ScheduledTime: time.Now(),
			Priority:      decision.Confidence,
		}
		m.perfMgr.Execute(ctx, decision, task, perf.MonitorExecutor{Monitor: m.indexMon})
		m.indexMon.ResolveAlert(alert.ID)
	}
}

func maintenanceActionFor(alert index.Alert) string {
	switch alert.Kind {
	case index.AlertUnusedIndex:
		return "drop"
	case index.AlertIndexDegradation:
		return "reindex"
	default:
		return "analyze"
	}
}

// PerformanceHealthCheckResult is the {status, checks[]} shape
// performanceHealthCheck returns.
type PerformanceHealthCheckResult struct {
	Status string
	Checks []HealthCheckEntry
}

// HealthCheckEntry is one component's pass/warning/fail verdict.
type HealthCheckEntry struct {
	Component string
	Status    string
	Detail    string
}

// PerformanceHealthCheck runs every component health check and reports an
// aggregate pass/warning/fail status with one line per component.
func (m *Manager) PerformanceHealthCheck(ctx context.Context) PerformanceHealthCheckResult {
	report := m.perfMgr.HealthCheck(ctx, perf.HealthInputs{
		Cache:           m.cache,
		MaxCacheBytes:   int64(m.cfg.Cache.MaxMemoryUsageMB) * 1024 * 1024,
		QueryExec:       m.queryExec,
		Warming:         m.scheduler,
		IndexMon:        m.indexMon,
		IntervalMinutes: m.cfg.Monitoring.IntervalMinutes,
	})

	status := "pass"
	entries := make([]HealthCheckEntry, 0, len(report.Checks))
	for _, c := range report.Checks {
		entries = append(entries, HealthCheckEntry{Component: c.Component, Status: string(c.Status), Detail: c.Detail})
		switch {
		case c.Status == perf.CheckFail:
			status = "fail"
		case c.Status == perf.CheckWarn && status != "fail":
			status = "warning"
		}
	}
	return PerformanceHealthCheckResult{Status: status, Checks: entries}
}

// ResetPerformanceState clears cached entries and the warming queue, and
// pauses PatternLearner for a short blackout; pattern and model history
// survive the reset.
func (m *Manager) ResetPerformanceState() {
	m.perfMgr.ResetPerformanceState(m.cache, m.scheduler)
}

// ShutdownPerformanceMonitoring stops every background loop in the order
// warming -> prediction -> index sampling -> maintenance cron -> query
// executor, then closes the database handle.
func (m *Manager) ShutdownPerformanceMonitoring() error {
	m.mu.Lock()
	cancelWarm := m.cancelWarmTicker
	cancelPredict := m.cancelPredict
	cancelSample := m.cancelIndexSample
	m.predictiveRunning = false
	m.perfRunning = false
	m.mu.Unlock()

	return m.perfMgr.Shutdown(perf.ShutdownSequence{
		StopWarming:  orNoop(cancelWarm),
		StopPredict:  orNoop(cancelPredict),
		StopIndexMon: orNoop(cancelSample),
		CloseQuery:   m.queryExec,
	})
}

func orNoop(cancel context.CancelFunc) context.CancelFunc {
	if cancel != nil {
		return cancel
	}
	return func() {}
}

// CacheStats exposes the live MemoryCache snapshot (entries, bytes,
// evictions, per-key hit/miss accounting), syncing the Prometheus
// eviction counter from it on read.
func (m *Manager) CacheStats() memcache.Stats {
	stats := m.cache.Stats()
	m.syncEvictionMetric(stats)
	return stats
}
