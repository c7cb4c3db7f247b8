package perf

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tachyon-beep/mnemosyne/config"
	"github.com/tachyon-beep/mnemosyne/index"
)

func TestPolicy_ApprovesCriticalSlowQueryUnderNonConservativeRisk(t *testing.T) {
	cfg := config.OptimizationConfig{RiskTolerance: "moderate"}
	choice, confidence, _ := Policy(index.Alert{Kind: index.AlertSlowQuery, Severity: index.SeverityCritical}, cfg)
	assert.Equal(t, ChoiceApprove, choice)
	assert.Equal(t, 0.8, confidence)
}

func TestPolicy_DefersCriticalSlowQueryUnderConservativeRisk(t *testing.T) {
	cfg := config.OptimizationConfig{RiskTolerance: "conservative"}
	choice, _, _ := Policy(index.Alert{Kind: index.AlertSlowQuery, Severity: index.SeverityCritical}, cfg)
	assert.Equal(t, ChoiceDefer, choice)
}

func TestPolicy_ApprovesUnusedIndexDropWhenEnabled(t *testing.T) {
	cfg := config.OptimizationConfig{AutoDropUnusedIndexes: true}
	choice, confidence, _ := Policy(index.Alert{Kind: index.AlertUnusedIndex, Severity: index.SeverityLow}, cfg)
	assert.Equal(t, ChoiceApprove, choice)
	assert.Equal(t, 0.9, confidence)
}

func TestPolicy_DefersUnusedIndexWhenDisabled(t *testing.T) {
	cfg := config.OptimizationConfig{AutoDropUnusedIndexes: false}
	choice, _, _ := Policy(index.Alert{Kind: index.AlertUnusedIndex, Severity: index.SeverityLow}, cfg)
	assert.Equal(t, ChoiceDefer, choice)
}

func TestPolicy_DefersUnmatchedAlert(t *testing.T) {
	cfg := config.OptimizationConfig{}
	choice, _, _ := Policy(index.Alert{Kind: index.AlertWriteImpact, Severity: index.SeverityMedium}, cfg)
	assert.Equal(t, ChoiceDefer, choice)
}

func TestDecide_RecordsHistoryEntry(t *testing.T) {
	m := New(config.OptimizationConfig{AutoDropUnusedIndexes: true}, nil)
	decision := m.Decide(index.Alert{Kind: index.AlertUnusedIndex, Severity: index.SeverityLow})

	assert.Equal(t, ChoiceApprove, decision.Decision)
	assert.Equal(t, StateApproved, decision.State)
	require.Len(t, m.History(), 1)
}

type stubExecutor struct {
	called bool
	err    error
}

func (s *stubExecutor) Execute(ctx context.Context, task index.MaintenanceTask) error {
	s.called = true
	return s.err
}

func TestExecute_RunsWithinMaintenanceWindow(t *testing.T) {
	at := time.Date(2026, 1, 1, 3, 0, 0, 0, time.UTC)
	m := NewWithClock(config.OptimizationConfig{MaintenanceWindowHours: []int{2, 3, 4}}, func() time.Time { return at }, nil)
	decision := m.Decide(index.Alert{Kind: index.AlertUnusedIndex, Severity: index.SeverityLow})
	// force approve regardless of policy match for this test's window check
	decision.Decision = ChoiceApprove

	exec := &stubExecutor{}
	result := m.Execute(context.Background(), decision, index.MaintenanceTask{Task: "vacuum"}, exec)

	assert.True(t, exec.called)
	assert.Equal(t, StateClosed, result.State)
	assert.Equal(t, "succeeded", result.Result)
}

func TestExecute_DefersOutsideMaintenanceWindow(t *testing.T) {
	at := time.Date(2026, 1, 1, 14, 0, 0, 0, time.UTC)
	m := NewWithClock(config.OptimizationConfig{MaintenanceWindowHours: []int{2, 3, 4}}, func() time.Time { return at }, nil)
	decision := AutomationDecision{Decision: ChoiceApprove, State: StateApproved}

	exec := &stubExecutor{}
	result := m.Execute(context.Background(), decision, index.MaintenanceTask{Task: "vacuum"}, exec)

	assert.False(t, exec.called)
	assert.Contains(t, result.Result, "outside maintenance window")
}

func TestExecute_RecordsFailureFromExecutor(t *testing.T) {
	at := time.Date(2026, 1, 1, 3, 0, 0, 0, time.UTC)
	m := NewWithClock(config.OptimizationConfig{MaintenanceWindowHours: []int{3}}, func() time.Time { return at }, nil)
	decision := AutomationDecision{Decision: ChoiceApprove, State: StateApproved}

	exec := &stubExecutor{err: errors.New("disk full")}
	result := m.Execute(context.Background(), decision, index.MaintenanceTask{Task: "vacuum"}, exec)

	assert.Equal(t, StateClosed, result.State)
	assert.Contains(t, result.Result, "disk full")
}

func TestExecute_RecordsSucceededAndClosedAsDistinctHistoryEntries(t *testing.T) {
	at := time.Date(2026, 1, 1, 3, 0, 0, 0, time.UTC)
	m := NewWithClock(config.OptimizationConfig{MaintenanceWindowHours: []int{3}}, func() time.Time { return at }, nil)
	decision := m.Decide(index.Alert{Kind: index.AlertUnusedIndex, Severity: index.SeverityLow, IndexName: "idx_x"})
	decision.Decision = ChoiceApprove

	exec := &stubExecutor{}
	m.Execute(context.Background(), decision, index.MaintenanceTask{Task: "vacuum"}, exec)

	var states []State
	for _, d := range m.History() {
		states = append(states, d.State)
	}
	assert.Contains(t, states, StateExecuting)
	assert.Contains(t, states, StateSucceeded)
	assert.Contains(t, states, StateClosed)
}

func TestAppendHistory_TrimsWhenOverCapacity(t *testing.T) {
	m := New(config.OptimizationConfig{}, nil)
	for i := 0; i < maxHistory+10; i++ {
		m.appendHistory(AutomationDecision{ID: "x"})
	}
	// The append that crosses maxHistory trims to trimHistoryTo; the
	// remaining 9 appends then stack on top of it.
	assert.Len(t, m.History(), trimHistoryTo+9)
}

func TestPauseLearning_ReEnablesAfterDuration(t *testing.T) {
	m := New(config.OptimizationConfig{}, nil)
	m.PauseLearning(10 * time.Millisecond)
	assert.True(t, m.LearningPaused())
	time.Sleep(50 * time.Millisecond)
	assert.False(t, m.LearningPaused())
}

type fakeCache struct{ invalidated bool }

func (f *fakeCache) InvalidatePattern(substring string) int {
	f.invalidated = true
	return 0
}

type fakeWarming struct{ reset bool }

func (f *fakeWarming) Reset() { f.reset = true }

func TestResetPerformanceState_ClearsCacheAndQueue(t *testing.T) {
	m := New(config.OptimizationConfig{}, nil)
	cache := &fakeCache{}
	warming := &fakeWarming{}

	m.ResetPerformanceState(cache, warming)

	assert.True(t, cache.invalidated)
	assert.True(t, warming.reset)
	assert.True(t, m.LearningPaused())
}

func TestShutdown_InvokesStopsInOrderAndClosesQuery(t *testing.T) {
	m := New(config.OptimizationConfig{}, nil)
	var order []string
	mk := func(name string) context.CancelFunc { return func() { order = append(order, name) } }

	closer := closerFunc(func() error {
		order = append(order, "query")
		return nil
	})

	err := m.Shutdown(ShutdownSequence{
		StopWarming:  mk("warming"),
		StopPredict:  mk("predict"),
		StopPattern:  mk("pattern"),
		StopIndexMon: mk("index"),
		CloseQuery:   closer,
	})

	require.NoError(t, err)
	assert.Equal(t, []string{"warming", "predict", "pattern", "index", "query"}, order)
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }
