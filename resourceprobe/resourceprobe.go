// Package resourceprobe abstracts the host CPU/memory signals that drive
// WarmingScheduler admission decisions behind a capability interface that
// tests can drive deterministically. The real implementation samples
// gopsutil/v3 for host CPU/RAM percentages.
package resourceprobe

import (
	"runtime"
	"runtime/debug"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

// Probe reports resource pressure signals and offers a cooperative GC hint.
type Probe interface {
	// CPUUtilization returns a 0-100 percentage of host CPU in use.
	CPUUtilization() (float64, error)

	// HeapInUseBytes returns the process's current heap usage in bytes.
	HeapInUseBytes() (uint64, error)

	// SuggestGC asks the runtime to return memory to the OS. Implementations
	// should rate-limit this; it is a hint, not a requirement.
	SuggestGC()
}

// gopsutilProbe is the production Probe, sampling host CPU via gopsutil and
// process heap via runtime.ReadMemStats, mirroring the reference's
// getSystemStats (cpu.Percent + mem.VirtualMemory) but scoped to a single
// short sample per call (CPUUtilization blocks for sampleInterval).
type gopsutilProbe struct {
	sampleInterval time.Duration

	mu           sync.Mutex
	lastGC       time.Time
	gcMinPeriod  time.Duration
}

// New builds the production resource probe. sampleInterval controls how
// long cpu.Percent blocks to compute an instantaneous reading (the
// reference uses 100ms to stay responsive); gcMinPeriod rate-limits
// SuggestGC.
func New(sampleInterval, gcMinPeriod time.Duration) Probe {
	if sampleInterval <= 0 {
		sampleInterval = 100 * time.Millisecond
	}
	if gcMinPeriod <= 0 {
		gcMinPeriod = time.Minute
	}
	return &gopsutilProbe{sampleInterval: sampleInterval, gcMinPeriod: gcMinPeriod}
}

func (p *gopsutilProbe) CPUUtilization() (float64, error) {
	percents, err := cpu.Percent(p.sampleInterval, false)
	if err != nil {
		return 0, err
	}
	if len(percents) == 0 {
		return 0, nil
	}
	return percents[0], nil
}

func (p *gopsutilProbe) HeapInUseBytes() (uint64, error) {
	var stats runtime.MemStats
	runtime.ReadMemStats(&stats)
	return stats.HeapInuse, nil
}

// HostMemoryPercent reports host-wide RAM utilization, mirroring the
// reference's dual CPU+RAM sample. The scheduler gates only on process
// heap (§9); neither it nor PerformanceManager's health check calls this
// function.
func HostMemoryPercent() (float64, error) {
	stat, err := mem.VirtualMemory()
	if err != nil {
		return 0, err
	}
	return stat.UsedPercent, nil
}

func (p *gopsutilProbe) SuggestGC() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if time.Since(p.lastGC) < p.gcMinPeriod {
		return
	}
	p.lastGC = time.Now()
	debug.FreeOSMemory()
}
