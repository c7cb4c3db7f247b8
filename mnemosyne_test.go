package mnemosyne

import (
	"context"
	"errors"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tachyon-beep/mnemosyne/cachekey"
	"github.com/tachyon-beep/mnemosyne/config"
	"github.com/tachyon-beep/mnemosyne/predict"
	"github.com/tachyon-beep/mnemosyne/resourceprobe"
	"github.com/tachyon-beep/mnemosyne/warm"
)

func newTestManager(t *testing.T) (*Manager, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	cfg := config.Default()
	cfg.Cache.MaxMemoryUsageMB = 1
	cfg.Monitoring.Enabled = false
	cfg.Predictive.Enabled = false

	m := New(cfg, db, nil, prometheus.NewRegistry())
	return m, mock
}

type fakeFlowAnalyzer struct {
	calls int
}

func (fakeFlowAnalyzer) Kind() AnalyzerKind { return KindFlow }

func (f *fakeFlowAnalyzer) AnalyzeFlow(_ context.Context, conv Conversation, _ []Message) (any, error) {
	f.calls++
	return "flow-for-" + conv.ID, nil
}

type failingFlowAnalyzer struct{}

func (failingFlowAnalyzer) Kind() AnalyzerKind { return KindFlow }
func (failingFlowAnalyzer) AnalyzeFlow(context.Context, Conversation, []Message) (any, error) {
	return nil, errors.New("boom")
}

func TestOptimizeFlowAnalysis_CacheHitSkipsCompute(t *testing.T) {
	m, _ := newTestManager(t)
	analyzer := &fakeFlowAnalyzer{}
	bundles := []ConversationBundle{{Conversation: Conversation{ID: "c1"}, UserID: "u1"}}

	results, err := m.OptimizeFlowAnalysis(context.Background(), bundles, analyzer)
	require.NoError(t, err)
	require.Equal(t, []any{"flow-for-c1"}, results)
	assert.Equal(t, 1, analyzer.calls)

	results, err = m.OptimizeFlowAnalysis(context.Background(), bundles, analyzer)
	require.NoError(t, err)
	require.Equal(t, []any{"flow-for-c1"}, results)
	assert.Equal(t, 1, analyzer.calls, "second call should be served from cache")

	stats := m.CacheStats()
	assert.Equal(t, 1, stats.Entries)
}

func TestOptimizeFlowAnalysis_PerItemFailureLeavesNilSlot(t *testing.T) {
	m, _ := newTestManager(t)
	bundles := []ConversationBundle{
		{Conversation: Conversation{ID: "ok"}, UserID: "u1"},
		{Conversation: Conversation{ID: "bad"}, UserID: "u1"},
	}

	results, err := m.OptimizeFlowAnalysis(context.Background(), bundles, failingFlowAnalyzer{})
	require.NoError(t, err)
	require.Len(t, results, 2)
	for _, r := range results {
		assert.Nil(t, r)
	}
}

type fakeGapDetector struct{ calls int }

func (f *fakeGapDetector) DetectKnowledgeGaps(_ context.Context, bundles []ConversationBundle) ([]Gap, error) {
	f.calls++
	return []Gap{{ID: "gap1", ConversationID: bundles[0].Conversation.ID}}, nil
}

func TestOptimizeKnowledgeGapDetection_SharesOneCacheEntryAcrossBundles(t *testing.T) {
	m, _ := newTestManager(t)
	detector := &fakeGapDetector{}
	bundles := []ConversationBundle{
		{Conversation: Conversation{ID: "c1"}},
		{Conversation: Conversation{ID: "c2"}},
	}

	gaps, err := m.OptimizeKnowledgeGapDetection(context.Background(), bundles, detector)
	require.NoError(t, err)
	require.Len(t, gaps, 1)

	_, err = m.OptimizeKnowledgeGapDetection(context.Background(), bundles, detector)
	require.NoError(t, err)
	assert.Equal(t, 1, detector.calls)
}

func TestOptimizeQuery_ExecutesAndRecordsLatency(t *testing.T) {
	m, mock := newTestManager(t)
	mock.ExpectPrepare("SELECT 1").
		ExpectQuery().
		WillReturnRows(sqlmock.NewRows([]string{"n"}).AddRow(1))

	rows, err := m.OptimizeQuery(context.Background(), "q1", "SELECT 1")
	require.NoError(t, err)
	rows.Close()

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPerformanceHealthCheck_ReportsPass(t *testing.T) {
	m, mock := newTestManager(t)
	mock.ExpectPing()
	mock.ExpectQuery("PRAGMA integrity_check").WillReturnRows(sqlmock.NewRows([]string{"integrity_check"}).AddRow("ok"))

	report := m.PerformanceHealthCheck(context.Background())
	assert.Equal(t, "pass", report.Status)
	var sawQueryExecutor bool
	for _, c := range report.Checks {
		if c.Component == "query_executor" {
			sawQueryExecutor = true
			assert.Equal(t, "pass", c.Status)
		}
	}
	assert.True(t, sawQueryExecutor)
}

func TestTriggerPredictiveCacheWarming_NoActiveUsersReturnsEmpty(t *testing.T) {
	m, _ := newTestManager(t)
	preds := m.TriggerPredictiveCacheWarming(context.Background())
	assert.Empty(t, preds)
}

func TestPredictiveCachingStatus_ReflectsLifecycle(t *testing.T) {
	m, _ := newTestManager(t)
	status := m.PredictiveCachingStatus()
	assert.False(t, status.Enabled)

	m.cfg.Predictive.Enabled = true
	require.NoError(t, m.InitializePredictiveCaching(context.Background()))
	t.Cleanup(func() { _ = m.ShutdownPerformanceMonitoring() })

	status = m.PredictiveCachingStatus()
	assert.True(t, status.Enabled)
}

func TestResetPerformanceState_ClearsCacheAndPausesLearning(t *testing.T) {
	m, _ := newTestManager(t)
	analyzer := &fakeFlowAnalyzer{}
	bundles := []ConversationBundle{{Conversation: Conversation{ID: "c1"}, UserID: "u1"}}
	_, err := m.OptimizeFlowAnalysis(context.Background(), bundles, analyzer)
	require.NoError(t, err)
	require.Equal(t, 1, m.CacheStats().Entries)

	m.ResetPerformanceState()
	assert.Equal(t, 0, m.CacheStats().Entries)
	assert.True(t, m.perfMgr.LearningPaused())
}

func TestShutdownPerformanceMonitoring_ClosesQueryExecutor(t *testing.T) {
	m, mock := newTestManager(t)
	mock.ExpectClose()

	err := m.ShutdownPerformanceMonitoring()
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

// TestEndToEnd_WarmingSchedulerBackoffUnderPressure mirrors scenario S4:
// sustained CPU and heap pressure readings (two reasons) should cause the
// scheduler to skip offers rather than dispatch, without touching the
// cache path at all.
func TestEndToEnd_WarmingSchedulerBackoffUnderPressure(t *testing.T) {
	m, _ := newTestManager(t)

	probe := resourceprobe.NewMock(99, 10_000_000)
	m.scheduler = warm.New(probe, warm.ResourceThresholds{MaxCPUUtilization: 10, MaxMemoryUsageMB: 1},
		m.cfg.Predictive.MaxConcurrentPredictions, m.cfg.Predictive.WarmingStrategy.MaxWarmingOperationsPerMin,
		m.warmingStrategies(), nil)

	analyzer := &fakeFlowAnalyzer{}
	bundles := []ConversationBundle{{Conversation: Conversation{ID: "c1"}, UserID: "u1"}}
	_, err := m.OptimizeFlowAnalysis(context.Background(), bundles, analyzer)
	require.NoError(t, err)
	m.learner.RecordRequest("flow:seed", "u1", m.requestContext("flow"))

	m.TriggerPredictiveCacheWarming(context.Background())
	assert.Equal(t, int64(0), m.scheduler.Counters().Successful)
	assert.Equal(t, int64(1), m.scheduler.Counters().SkippedDueToResources)
}

// TestWarmingStrategy_RecomputesColdKeyViaRealAnalyzer proves a
// prediction naming a key whose cache entry has since been evicted is
// warmed by re-running the real analyzer, not just refusing because
// nothing is live to refresh.
func TestWarmingStrategy_RecomputesColdKeyViaRealAnalyzer(t *testing.T) {
	m, _ := newTestManager(t)
	analyzer := &fakeFlowAnalyzer{}
	bundle := ConversationBundle{Conversation: Conversation{ID: "c1"}, UserID: "u1"}

	_, err := m.OptimizeFlowAnalysis(context.Background(), []ConversationBundle{bundle}, analyzer)
	require.NoError(t, err)
	require.Equal(t, 1, analyzer.calls)

	key := cachekey.Content(string(warm.KindFlow), bundle)
	removed := m.cache.InvalidatePattern(key)
	require.Equal(t, 1, removed)
	_, stillCached := m.cache.Get(key, nil)
	require.False(t, stillCached, "entry should be gone before warming runs")

	strategy := m.warmingStrategies()[warm.KindFlow]
	pred := predict.Prediction{CacheKey: key, ExpiryTime: time.Now().Add(time.Minute)}
	require.NoError(t, strategy(context.Background(), pred))

	assert.Equal(t, 2, analyzer.calls, "cold-key warming should re-run the real analyzer")
	value, ok := m.cache.Get(key, nil)
	require.True(t, ok)
	assert.Equal(t, "flow-for-c1", value)
}

// TestWarmingStrategy_UnknownKeyFails covers the genuinely-unrecoverable
// case: a key this process never computed (so never registered) cannot
// be warmed at all.
func TestWarmingStrategy_UnknownKeyFails(t *testing.T) {
	m, _ := newTestManager(t)
	strategy := m.warmingStrategies()[warm.KindFlow]
	err := strategy(context.Background(), predict.Prediction{CacheKey: "never-seen", ExpiryTime: time.Now().Add(time.Minute)})
	assert.Error(t, err)
}

func TestEndToEnd_CacheGrowsAndEvicts(t *testing.T) {
	m, _ := newTestManager(t)
	for i := 0; i < 200; i++ {
		bundles := []ConversationBundle{{Conversation: Conversation{ID: string(rune('a' + i%26))}}}
		_, err := m.OptimizeFlowAnalysis(context.Background(), bundles, &fakeFlowAnalyzer{})
		require.NoError(t, err)
	}
	stats := m.CacheStats()
	assert.LessOrEqual(t, stats.Bytes, int64(m.cfg.Cache.MaxMemoryUsageMB)*1024*1024)
}
