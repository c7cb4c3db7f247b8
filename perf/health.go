package perf

import (
	"context"
	"fmt"
	"time"

	"github.com/tachyon-beep/mnemosyne/index"
	"github.com/tachyon-beep/mnemosyne/memcache"
	"github.com/tachyon-beep/mnemosyne/query"
	"github.com/tachyon-beep/mnemosyne/warm"
)

// CheckStatus is a single health check's verdict.
type CheckStatus string

const (
	CheckPass CheckStatus = "pass"
	CheckWarn CheckStatus = "warning"
	CheckFail CheckStatus = "fail"
)

// CheckResult reports one component's health.
type CheckResult struct {
	Component string
	Status    CheckStatus
	Detail    string
}

// Report is the aggregate result of performanceHealthCheck.
type Report struct {
	Checks  []CheckResult
	Healthy bool
}

// slowQueryP99Ms is the latency, in ms, above which a query's observed Max
// (used as a p99 proxy; the ring keeps no percentile, only avg/min/max over
// its bounded window) marks the executor check degraded.
const slowQueryP99Ms = 1000

// HealthInputs bundles the live components performanceHealthCheck
// inspects, mirroring §12's concrete check list.
type HealthInputs struct {
	Cache            *memcache.Cache
	MaxCacheBytes    int64
	QueryExec        *query.Executor
	Warming          *warm.Scheduler
	IndexMon         *index.Monitor
	IntervalMinutes  int
}

// HealthCheck runs performanceHealthCheck: memory_cache, query_executor,
// warming_scheduler, index_monitor, automation_policy.
func (m *Manager) HealthCheck(ctx context.Context, in HealthInputs) Report {
	var checks []CheckResult

	if in.Cache != nil {
		used := in.Cache.CurrentBytes()
		if in.MaxCacheBytes > 0 && used > in.MaxCacheBytes {
			checks = append(checks, CheckResult{"memory_cache", CheckFail,
				fmt.Sprintf("cache using %d bytes, over %d limit", used, in.MaxCacheBytes)})
		} else {
			checks = append(checks, CheckResult{"memory_cache", CheckPass, fmt.Sprintf("using %d bytes", used)})
		}
	}

	if in.QueryExec != nil {
		status, detail := CheckPass, "reachable"
		if err := in.QueryExec.HealthCheck(ctx); err != nil {
			status, detail = CheckFail, err.Error()
		} else {
			for id, stat := range in.QueryExec.Stats() {
				if stat.Max > slowQueryP99Ms*time.Millisecond {
					status = CheckWarn
					detail = fmt.Sprintf("query %q p99-proxy %s exceeds %dms", id, stat.Max, slowQueryP99Ms)
					break
				}
			}
		}
		checks = append(checks, CheckResult{"query_executor", status, detail})
	}

	if in.Warming != nil {
		counters := in.Warming.Counters()
		total := counters.Successful + counters.Failed + counters.SkippedDueToResources
		status, detail := CheckPass, "nominal"
		if total > 0 && float64(counters.SkippedDueToResources)/float64(total) > 0.5 {
			status, detail = CheckWarn, "more than half of warming offers skipped due to resource pressure"
		}
		checks = append(checks, CheckResult{"warming_scheduler", status, detail})
	}

	if in.IndexMon != nil {
		status, detail := CheckPass, "fresh"
		last := in.IndexMon.LastSample()
		stale := time.Duration(2*in.IntervalMinutes) * time.Minute
		if in.IntervalMinutes > 0 && !last.IsZero() && time.Since(last) > stale {
			status, detail = CheckFail, fmt.Sprintf("last sample %s ago exceeds %s staleness bound", time.Since(last), stale)
		}
		checks = append(checks, CheckResult{"index_monitor", status, detail})
	}

	checks = append(checks, CheckResult{"automation_policy", CheckPass,
		fmt.Sprintf("risk_tolerance=%s", m.cfg.RiskTolerance)})

	healthy := true
	for _, c := range checks {
		if c.Status == CheckFail {
			healthy = false
		}
	}
	return Report{Checks: checks, Healthy: healthy}
}
