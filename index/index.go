// Package index implements the index-health monitor: it samples a SQLite
// schema's indexes on a timer, tracks usage against the queries recorded by
// the query package, emits alerts when thresholds are breached, and ranks
// optimization recommendations by cost-benefit. Grounded on the reference
// trader database wrapper's direct SQL introspection style (sqlite_master,
// PRAGMA) and its maintenance-action vocabulary (VACUUM, integrity_check,
// WAL checkpoint), generalized from a fixed operational database to an
// arbitrary monitored schema.
package index

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Severity classifies an Alert.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// AlertKind classifies the condition that triggered an Alert.
type AlertKind string

const (
	AlertSlowQuery         AlertKind = "slow_query"
	AlertUnusedIndex       AlertKind = "unused_index"
	AlertIndexDegradation  AlertKind = "index_degradation"
	AlertWriteImpact       AlertKind = "write_impact"
)

// Alert is one emitted condition.
type Alert struct {
	ID        string
	Kind      AlertKind
	Severity  Severity
	IndexName string
	Details   string
	Resolved  bool
}

// IndexStat is one index's sampled health.
type IndexStat struct {
	IndexName          string
	TableName          string
	UsageCount         int
	EffectivenessScore float64
	MaintenanceCost     float64
	SizeBytes          int64
	LastUsed           time.Time
}

// RecommendationType classifies a suggested action.
type RecommendationType string

const (
	RecommendCreate  RecommendationType = "create"
	RecommendDrop    RecommendationType = "drop"
	RecommendRebuild RecommendationType = "rebuild"
)

// ImpactWeight and RiskLevel drive Recommendation scoring.
type ImpactWeight string
type RiskLevel string

const (
	ImpactHigh   ImpactWeight = "high"
	ImpactMedium ImpactWeight = "medium"
	ImpactLow    ImpactWeight = "low"

	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

func impactWeightValue(w ImpactWeight) float64 {
	switch w {
	case ImpactHigh:
		return 3
	case ImpactMedium:
		return 2
	default:
		return 1
	}
}

func riskPenaltyValue(r RiskLevel) float64 {
	switch r {
	case RiskLow:
		return 1
	case RiskMedium:
		return 0.7
	default:
		return 0.3
	}
}

// Recommendation is a ranked, derived optimization suggestion.
type Recommendation struct {
	Type             RecommendationType
	SQL              string
	ExpectedImpact   string
	RiskLevel        RiskLevel
	EstimatedBenefit float64
	Impact           ImpactWeight
	Priority         float64
}

func (r Recommendation) score() float64 {
	if r.Priority == 0 {
		return 0
	}
	return r.EstimatedBenefit * impactWeightValue(r.Impact) / r.Priority * riskPenaltyValue(r.RiskLevel)
}

// MaintenanceTask is a scheduled DDL-level action.
type MaintenanceTask struct {
	ID              string
	Task            string // reindex, analyze, vacuum, optimize, drop
	Target          string
	ScheduledTime   time.Time
	Priority        float64
	EstimatedDuration time.Duration
}

// Thresholds configures alert emission.
type Thresholds struct {
	SlowQueryMs          int
	UnusedIndexDays      int
	WriteImpactThreshold int
}

// QueryLatencyStat is the subset of query.Stat the monitor needs, kept as
// its own type so index does not import query directly.
type QueryLatencyStat struct {
	AvgMs float64
	SQL   string
}

// Monitor samples index health on a configured cadence.
type Monitor struct {
	db         *sql.DB
	thresholds Thresholds
	logger     *zap.SugaredLogger

	mu          sync.Mutex
	usageCounts map[string]int
	lastUsed    map[string]time.Time
	writeCounts map[string]int
	lastSample  time.Time
	alerts      []Alert
	tasks       map[string]MaintenanceTask
}

// New creates a Monitor over db.
func New(db *sql.DB, thresholds Thresholds, logger *zap.SugaredLogger) *Monitor {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Monitor{
		db:          db,
		thresholds:  thresholds,
		logger:      logger,
		usageCounts: make(map[string]int),
		lastUsed:    make(map[string]time.Time),
		writeCounts: make(map[string]int),
		tasks:       make(map[string]MaintenanceTask),
	}
}

// RecordIndexUsage records that indexName was used to satisfy one query,
// called by the caller after consulting EXPLAIN QUERY PLAN for a statement.
func (m *Monitor) RecordIndexUsage(indexName string, at time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.usageCounts[indexName]++
	m.lastUsed[indexName] = at
}

// RecordWrite records a write against table, feeding write-impact
// estimation for its indexes.
func (m *Monitor) RecordWrite(table string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writeCounts[table]++
}

// listIndexes queries sqlite_master for user-defined indexes.
func (m *Monitor) listIndexes(ctx context.Context) ([]IndexStat, error) {
	rows, err := m.db.QueryContext(ctx, `
		SELECT name, tbl_name FROM sqlite_master
		WHERE type = 'index' AND name NOT LIKE 'sqlite_%'
	`)
	if err != nil {
		return nil, fmt.Errorf("listing indexes: %w", err)
	}
	defer rows.Close()

	var out []IndexStat
	for rows.Next() {
		var name, table string
		if err := rows.Scan(&name, &table); err != nil {
			return nil, err
		}
		out = append(out, IndexStat{IndexName: name, TableName: table})
	}
	return out, rows.Err()
}

// Sample collects per-index usage/effectiveness/write-impact and emits
// alerts where thresholds are breached, per §4.9. Index size is not
// sampled: IndexStat.SizeBytes stays zero.
func (m *Monitor) Sample(ctx context.Context, queryLatencies []QueryLatencyStat) ([]IndexStat, []Alert, error) {
	indexes, err := m.listIndexes(ctx)
	if err != nil {
		return nil, nil, err
	}

	m.mu.Lock()
	now := time.Now()
	m.lastSample = now

	var totalEligible int
	for _, q := range queryLatencies {
		if slowQueryInvolvesIndexes(q.SQL) {
			totalEligible++
		}
	}

	var stats []IndexStat
	var alerts []Alert
	for _, idx := range indexes {
		usage := m.usageCounts[idx.IndexName]
		lastUsed := m.lastUsed[idx.IndexName]
		writeImpact := m.writeCounts[idx.TableName] * indexParticipation(idx.IndexName)

		effectiveness := 0.0
		if totalEligible > 0 {
			effectiveness = float64(usage) / float64(totalEligible)
		}

		stat := IndexStat{
			IndexName:          idx.IndexName,
			TableName:          idx.TableName,
			UsageCount:         usage,
			EffectivenessScore: effectiveness,
			MaintenanceCost:    float64(writeImpact),
			LastUsed:           lastUsed,
		}
		stats = append(stats, stat)

		if m.thresholds.UnusedIndexDays > 0 && !lastUsed.IsZero() &&
			now.Sub(lastUsed) > time.Duration(m.thresholds.UnusedIndexDays)*24*time.Hour {
			alerts = append(alerts, Alert{ID: uuid.New().String(), Kind: AlertUnusedIndex, Severity: SeverityMedium,
				IndexName: idx.IndexName,
				Details:   fmt.Sprintf("index %s unused for over %d days", idx.IndexName, m.thresholds.UnusedIndexDays)})
		}
		if m.thresholds.WriteImpactThreshold > 0 && writeImpact > m.thresholds.WriteImpactThreshold {
			alerts = append(alerts, Alert{ID: uuid.New().String(), Kind: AlertWriteImpact, Severity: SeverityHigh,
				IndexName: idx.IndexName,
				Details:   fmt.Sprintf("index %s write impact %d exceeds threshold", idx.IndexName, writeImpact)})
		}
	}

	for _, q := range queryLatencies {
		if m.thresholds.SlowQueryMs > 0 && q.AvgMs > float64(m.thresholds.SlowQueryMs) {
			alerts = append(alerts, Alert{ID: uuid.New().String(), Kind: AlertSlowQuery, Severity: SeverityCritical,
				Details: fmt.Sprintf("query averaging %.1fms exceeds %dms", q.AvgMs, m.thresholds.SlowQueryMs)})
		}
	}

	m.alerts = append(m.alerts, alerts...)
	m.mu.Unlock()

	return stats, alerts, nil
}

func slowQueryInvolvesIndexes(sql string) bool {
	lower := strings.ToLower(sql)
	return strings.Contains(lower, "where") || strings.Contains(lower, "join")
}

func indexParticipation(indexName string) int {
	return 1
}

// LastSample reports when Sample last ran, used by performanceHealthCheck.
func (m *Monitor) LastSample() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastSample
}

// Alerts returns a snapshot of every unresolved alert accumulated by
// Sample, oldest first, for a caller driving alerts through an automation
// policy on a sweep cadence.
func (m *Monitor) Alerts() []Alert {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Alert, 0, len(m.alerts))
	for _, a := range m.alerts {
		if !a.Resolved {
			out = append(out, a)
		}
	}
	return out
}

// ResolveAlert marks id resolved so it is no longer returned by Alerts,
// called once an automation decision reaches a terminal state.
func (m *Monitor) ResolveAlert(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.alerts {
		if m.alerts[i].ID == id {
			m.alerts[i].Resolved = true
			return
		}
	}
}

// Recommendations derives ranked suggestions from the latest stats; the
// alerts argument is not consulted.
func Recommendations(stats []IndexStat, alerts []Alert) []Recommendation {
	var recs []Recommendation
	for _, s := range stats {
		switch {
		case s.UsageCount == 0:
			recs = append(recs, Recommendation{
				Type:             RecommendDrop,
				SQL:              fmt.Sprintf("DROP INDEX %s", s.IndexName),
				ExpectedImpact:   "reclaims write overhead from an unused index",
				RiskLevel:        RiskMedium,
				EstimatedBenefit: s.MaintenanceCost,
				Impact:           ImpactMedium,
				Priority:         1,
			})
		case s.EffectivenessScore < 0.1 && s.UsageCount > 0:
			recs = append(recs, Recommendation{
				Type:             RecommendRebuild,
				SQL:              fmt.Sprintf("REINDEX %s", s.IndexName),
				ExpectedImpact:   "restores index selectivity",
				RiskLevel:        RiskLow,
				EstimatedBenefit: 1 - s.EffectivenessScore,
				Impact:           ImpactLow,
				Priority:         1,
			})
		}
	}

	sort.Slice(recs, func(i, j int) bool { return recs[i].score() > recs[j].score() })
	return recs
}

// HealthCheck mirrors the reference's ping-plus-integrity-check pattern.
func (m *Monitor) HealthCheck(ctx context.Context) error {
	var result string
	if err := m.db.QueryRowContext(ctx, "PRAGMA integrity_check").Scan(&result); err != nil {
		return fmt.Errorf("integrity check failed: %w", err)
	}
	if result != "ok" {
		return fmt.Errorf("integrity check reported: %s", result)
	}
	return nil
}

// RunMaintenance executes a maintenance action, mirroring the reference's
// Vacuum/WALCheckpoint vocabulary, extended with REINDEX/ANALYZE/PRAGMA
// optimize/DROP INDEX per §4.9's MaintenanceTask.task enum.
func (m *Monitor) RunMaintenance(ctx context.Context, task, target string) error {
	var stmt string
	switch task {
	case "vacuum":
		stmt = "VACUUM"
	case "analyze":
		stmt = "ANALYZE"
	case "optimize":
		stmt = "PRAGMA optimize"
	case "reindex":
		if target == "" {
			stmt = "REINDEX"
		} else {
			stmt = "REINDEX " + target
		}
	case "drop":
		if target == "" {
			return fmt.Errorf("drop maintenance task requires a target index name")
		}
		stmt = fmt.Sprintf("DROP INDEX %s", target)
	default:
		return fmt.Errorf("unknown maintenance task: %s", task)
	}
	_, err := m.db.ExecContext(ctx, stmt)
	return err
}

// ScheduleTask records a pending maintenance task, removed on completion or
// 24h expiry by the caller's housekeeping.
func (m *Monitor) ScheduleTask(task MaintenanceTask) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if task.ID == "" {
		task.ID = uuid.New().String()
	}
	m.tasks[task.ID] = task
}

// Tasks returns the pending maintenance tasks.
func (m *Monitor) Tasks() []MaintenanceTask {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]MaintenanceTask, 0, len(m.tasks))
	for _, t := range m.tasks {
		out = append(out, t)
	}
	return out
}

// ExpireTasks removes tasks scheduled more than 24h ago that never
// completed (the caller removes a task explicitly via CompleteTask on
// success).
func (m *Monitor) ExpireTasks(now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, t := range m.tasks {
		if now.Sub(t.ScheduledTime) > 24*time.Hour {
			delete(m.tasks, id)
		}
	}
}

// CompleteTask removes a task on completion.
func (m *Monitor) CompleteTask(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.tasks, id)
}
