package processor

import (
	"sync/atomic"
	"time"
)

type ServiceMetrics struct {
	processed   atomic.Int64
	failed      atomic.Int64
	durationNs  atomic.Int64
	lastResetNs atomic.Int64
}

type Stats struct {
	Processed     int64
	Failed        int64
	RatePerSecond float64
	AvgDuration   time.Duration
	Uptime        time.Duration
}

func NewServiceMetrics() *ServiceMetrics {
	m := &ServiceMetrics{}
	m.lastResetNs.Store(time.Now().UnixNano())
	return m
}

func (m *ServiceMetrics) RecordSuccess(duration time.Duration) {
	m.processed.Add(1)
	m.durationNs.Add(int64(duration))
}

func (m *ServiceMetrics) RecordFailure() {
	m.failed.Add(1)
}

func (m *ServiceMetrics) GetStats() Stats {
	processed := m.processed.Load()
	elapsed := time.Since(time.Unix(0, m.lastResetNs.Load()))

	s := Stats{
		Processed: processed,
		Failed:    m.failed.Load(),
		Uptime:    elapsed,
	}
	if secs := elapsed.Seconds(); secs > 0 {
		s.RatePerSecond = float64(processed) / secs
	}
	if processed > 0 {
		s.AvgDuration = time.Duration(m.durationNs.Load() / processed)
	}
	return s
}

func (m *ServiceMetrics) Reset() {
	m.processed.Store(0)
	m.failed.Store(0)
	m.durationNs.Store(0)
	m.lastResetNs.Store(time.Now().UnixNano())
}
