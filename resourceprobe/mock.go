package resourceprobe

import (
	"math"
	"sync/atomic"
)

func floatBits(f float64) uint64    { return math.Float64bits(f) }
func floatFromBits(b uint64) float64 { return math.Float64frombits(b) }

// Mock is a deterministic Probe for tests, letting scenarios like S4
// (scheduler backoff under sustained pressure) fix CPU/heap readings
// without sampling the real host.
type Mock struct {
	cpuPercent   atomic.Uint64 // stored as math.Float64bits
	heapBytes    atomic.Uint64
	gcSuggested  atomic.Int64
}

func NewMock(cpuPercent float64, heapBytes uint64) *Mock {
	m := &Mock{}
	m.SetCPUUtilization(cpuPercent)
	m.heapBytes.Store(heapBytes)
	return m
}

func (m *Mock) SetCPUUtilization(percent float64) {
	m.cpuPercent.Store(floatBits(percent))
}

func (m *Mock) SetHeapInUseBytes(v uint64) {
	m.heapBytes.Store(v)
}

func (m *Mock) CPUUtilization() (float64, error) {
	return floatFromBits(m.cpuPercent.Load()), nil
}

func (m *Mock) HeapInUseBytes() (uint64, error) {
	return m.heapBytes.Load(), nil
}

func (m *Mock) SuggestGC() {
	m.gcSuggested.Add(1)
}

func (m *Mock) GCSuggestedCount() int64 {
	return m.gcSuggested.Load()
}
