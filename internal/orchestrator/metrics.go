package orchestrator

import (
	"sync"
	"time"
)

// SchedulerMetrics tracks statistics about plan execution.
type SchedulerMetrics struct {
	SubQueriesExecuted   int
	SubQueriesSuccessful int
	SubQueriesFailed     int
	SubQueriesSkipped    int
	CacheHits            int
	TotalDuration        time.Duration
	LongestSubQueryTime  time.Duration

	mu sync.Mutex // Protects metrics updates
}

func (m *SchedulerMetrics) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.SubQueriesExecuted = 0
	m.SubQueriesSuccessful = 0
	m.SubQueriesFailed = 0
	m.SubQueriesSkipped = 0
	m.CacheHits = 0
	m.TotalDuration = 0
	m.LongestSubQueryTime = 0
}

func (m *SchedulerMetrics) RecordSuccess(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.SubQueriesExecuted++
	m.SubQueriesSuccessful++
	m.record(d)
}

func (m *SchedulerMetrics) RecordFailure(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.SubQueriesExecuted++
	m.SubQueriesFailed++
	m.record(d)
}

func (m *SchedulerMetrics) RecordSkipped() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.SubQueriesSkipped++
}

func (m *SchedulerMetrics) RecordCacheHit() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.SubQueriesExecuted++
	m.SubQueriesSuccessful++
	m.CacheHits++
}

// record assumes the mutex is held.
func (m *SchedulerMetrics) record(d time.Duration) {
	m.TotalDuration += d
	if d > m.LongestSubQueryTime {
		m.LongestSubQueryTime = d
	}
}

// Copy creates a snapshot without the mutex.
func (m *SchedulerMetrics) Copy() SchedulerMetrics {
	m.mu.Lock()
	defer m.mu.Unlock()

	return SchedulerMetrics{
		SubQueriesExecuted:   m.SubQueriesExecuted,
		SubQueriesSuccessful: m.SubQueriesSuccessful,
		SubQueriesFailed:     m.SubQueriesFailed,
		SubQueriesSkipped:    m.SubQueriesSkipped,
		CacheHits:            m.CacheHits,
		TotalDuration:        m.TotalDuration,
		LongestSubQueryTime:  m.LongestSubQueryTime,
	}
}
