// Package perf implements the top-level orchestrator: it owns component
// lifecycle, routes index-health alerts through an automation policy
// (approve/defer), gates approved DDL actions behind a configured
// maintenance window, and persists a rolling decision history. Grounded on
// the reference trader scheduler's cron-driven job registration
// (github.com/robfig/cron/v3) for expressing maintenance hours, adapted
// from a generic job runner to a window-membership predicate re-checked at
// execution time.
package perf

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/tachyon-beep/mnemosyne/config"
	"github.com/tachyon-beep/mnemosyne/index"
)

// DecisionKind classifies what prompted an AutomationDecision.
type DecisionKind string

const (
	DecisionIndexOptimization DecisionKind = "index_optimization"
	DecisionAlertEscalation   DecisionKind = "alert_escalation"
	DecisionMaintenanceTask   DecisionKind = "maintenance_task"
)

// Choice is the policy's verdict on an alert.
type Choice string

const (
	ChoiceApprove  Choice = "approve"
	ChoiceDefer    Choice = "defer"
	ChoiceEscalate Choice = "escalate"
)

// State is an AutomationDecision's position in its lifecycle.
type State string

const (
	StateOpen      State = "open"
	StateDeferred  State = "deferred"
	StateApproved  State = "approved"
	StateExecuting State = "executing"
	StateSucceeded State = "succeeded"
	StateFailed    State = "failed"
	StateClosed    State = "closed"
)

// AutomationDecision is one policy verdict, appended to the rolling
// history.
type AutomationDecision struct {
	ID         string
	Type       DecisionKind
	Decision   Choice
	Reason     string
	Confidence float64
	State      State
	Result     string
	Timestamp  time.Time
}

const maxHistory = 10000
const trimHistoryTo = 5000

// Policy decides how to handle an index-health alert given the current
// optimization configuration, per §4.9's decision table.
func Policy(alert index.Alert, cfg config.OptimizationConfig) (Choice, float64, string) {
	switch {
	case alert.Kind == index.AlertSlowQuery && alert.Severity == index.SeverityCritical && cfg.RiskTolerance != "conservative":
		return ChoiceApprove, 0.8, "critical slow query under non-conservative risk tolerance"
	case alert.Kind == index.AlertUnusedIndex && cfg.AutoDropUnusedIndexes && alert.Severity != index.SeverityCritical:
		return ChoiceApprove, 0.9, "unused index eligible for automatic drop"
	default:
		return ChoiceDefer, 0, "no automation rule matched; deferred for manual review"
	}
}

// MaintenanceWindow reports whether hour is inside the configured
// maintenance hours.
type MaintenanceWindow struct {
	hours map[int]struct{}
}

// NewMaintenanceWindow builds a window from the configured hours-of-day.
func NewMaintenanceWindow(hours []int) MaintenanceWindow {
	set := make(map[int]struct{}, len(hours))
	for _, h := range hours {
		set[h] = struct{}{}
	}
	return MaintenanceWindow{hours: set}
}

// Contains reports whether t's hour-of-day is inside the window.
func (w MaintenanceWindow) Contains(t time.Time) bool {
	_, ok := w.hours[t.Hour()]
	return ok
}

// Clock abstracts wall-clock time for maintenance-window checks, allowing
// deterministic tests.
type Clock func() time.Time

// Executor runs an approved maintenance action. Implementations MUST
// re-check the maintenance window immediately before running DDL, not rely
// on the caller having checked it at scheduling time.
type Executor interface {
	Execute(ctx context.Context, task index.MaintenanceTask) error
}

// MonitorExecutor adapts an index.Monitor to Executor.
type MonitorExecutor struct {
	Monitor *index.Monitor
}

func (e MonitorExecutor) Execute(ctx context.Context, task index.MaintenanceTask) error {
	return e.Monitor.RunMaintenance(ctx, task.Task, task.Target)
}

// Manager is the top-level orchestrator.
type Manager struct {
	mu      sync.Mutex
	cfg     config.OptimizationConfig
	window  MaintenanceWindow
	now     Clock
	history []AutomationDecision
	cron    *cron.Cron
	logger  *zap.SugaredLogger

	learningPaused bool
}

// New creates a Manager.
func New(cfg config.OptimizationConfig, logger *zap.SugaredLogger) *Manager {
	return NewWithClock(cfg, time.Now, logger)
}

// NewWithClock injects a clock for deterministic maintenance-window tests.
func NewWithClock(cfg config.OptimizationConfig, now Clock, logger *zap.SugaredLogger) *Manager {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Manager{
		cfg:    cfg,
		window: NewMaintenanceWindow(cfg.MaintenanceWindowHours),
		now:    now,
		cron:   cron.New(cron.WithSeconds()),
		logger: logger,
	}
}

// Decide routes alert through Policy, records an AutomationDecision, and
// returns it.
func (m *Manager) Decide(alert index.Alert) AutomationDecision {
	choice, confidence, reason := Policy(alert, m.cfg)

	decision := AutomationDecision{
		ID:         uuid.New().String(),
		Type:       DecisionAlertEscalation,
		Decision:   choice,
		Reason:     reason,
		Confidence: confidence,
		State:      StateOpen,
		Timestamp:  m.now(),
	}
	if choice == ChoiceApprove {
		decision.State = StateApproved
	} else {
		decision.State = StateDeferred
	}

	m.appendHistory(decision)
	return decision
}

// Execute runs an approved decision's maintenance action, re-checking the
// maintenance window immediately before executing DDL. A decision whose
// window check fails transitions to deferred-execute (state remains
// "approved", result records the deferral) rather than executing outside
// the window.
func (m *Manager) Execute(ctx context.Context, decision AutomationDecision, task index.MaintenanceTask, exec Executor) AutomationDecision {
	if decision.Decision != ChoiceApprove {
		return decision
	}

	if !m.window.Contains(m.now()) {
		decision.Result = "deferred: outside maintenance window"
		m.appendHistory(decision)
		return decision
	}

	decision.State = StateExecuting
	m.appendHistory(decision)

	if err := exec.Execute(ctx, task); err != nil {
		decision.State = StateFailed
		decision.Result = fmt.Sprintf("failed: %v", err)
	} else {
		decision.State = StateSucceeded
		decision.Result = "succeeded"
	}
	m.appendHistory(decision)

	decision.State = StateClosed
	m.appendHistory(decision)
	return decision
}

func (m *Manager) appendHistory(decision AutomationDecision) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.history = append(m.history, decision)
	if len(m.history) > maxHistory {
		m.history = m.history[len(m.history)-trimHistoryTo:]
	}
}

// History returns a snapshot of the rolling decision history.
func (m *Manager) History() []AutomationDecision {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]AutomationDecision, len(m.history))
	copy(out, m.history)
	return out
}

// LearningPaused reports whether PatternLearner should currently drop
// recordRequest calls, set during resetPerformanceState's ~1s blackout.
func (m *Manager) LearningPaused() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.learningPaused
}

// StartMaintenanceCron registers schedule (a 6-field, seconds-prefixed cron
// expression, since the underlying scheduler is built with
// cron.WithSeconds()) to invoke sweep on each tick, and starts the cron
// scheduler.
func (m *Manager) StartMaintenanceCron(schedule string, sweep func()) error {
	if _, err := m.cron.AddFunc(schedule, sweep); err != nil {
		return fmt.Errorf("failed to register maintenance schedule: %w", err)
	}
	m.cron.Start()
	return nil
}

// PauseLearning disables learning for d, then re-enables it.
func (m *Manager) PauseLearning(d time.Duration) {
	m.mu.Lock()
	m.learningPaused = true
	m.mu.Unlock()

	time.AfterFunc(d, func() {
		m.mu.Lock()
		m.learningPaused = false
		m.mu.Unlock()
	})
}
