package dispatch

import (
	"sort"
	"sync"
	"time"
)

// Metrics collects per-job statistics.
type Metrics struct {
	mu sync.RWMutex

	jobs map[string]*JobMetrics

	totalJobs   uint64
	totalErrors uint64
	totalPanics uint64
	dropped     uint64
}

// JobMetrics holds metrics for one job name.
type JobMetrics struct {
	Name          string
	Count         uint64
	ErrorCount    uint64
	TotalDuration time.Duration
	MinDuration   time.Duration
	MaxDuration   time.Duration
	LastRun       time.Time
}

// AverageDuration returns the mean run time.
func (m JobMetrics) AverageDuration() time.Duration {
	if m.Count == 0 {
		return 0
	}
	return m.TotalDuration / time.Duration(m.Count)
}

// NewMetrics creates a new metrics collector.
func NewMetrics() *Metrics {
	return &Metrics{jobs: make(map[string]*JobMetrics)}
}

// Record records a finished job.
func (m *Metrics) Record(c Completion) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.totalJobs++
	if c.Err != nil {
		m.totalErrors++
	}

	jm := m.jobs[c.Name]
	if jm == nil {
		jm = &JobMetrics{Name: c.Name, MinDuration: c.Duration, MaxDuration: c.Duration}
		m.jobs[c.Name] = jm
	}
	jm.Count++
	jm.TotalDuration += c.Duration
	jm.LastRun = time.Now()
	if c.Err != nil {
		jm.ErrorCount++
	}
	jm.MinDuration = min(jm.MinDuration, c.Duration)
	jm.MaxDuration = max(jm.MaxDuration, c.Duration)
}

func (m *Metrics) recordPanic() {
	m.mu.Lock()
	m.totalPanics++
	m.mu.Unlock()
}

func (m *Metrics) recordDropped() {
	m.mu.Lock()
	m.dropped++
	m.mu.Unlock()
}

// Snapshot is a point-in-time copy of the metrics.
type Snapshot struct {
	TotalJobs   uint64
	TotalErrors uint64
	TotalPanics uint64
	Dropped     uint64
	Jobs        []JobMetrics
}

// Snapshot returns the current metrics with jobs sorted by name.
func (m *Metrics) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s := Snapshot{
		TotalJobs:   m.totalJobs,
		TotalErrors: m.totalErrors,
		TotalPanics: m.totalPanics,
		Dropped:     m.dropped,
		Jobs:        make([]JobMetrics, 0, len(m.jobs)),
	}
	for _, jm := range m.jobs {
		s.Jobs = append(s.Jobs, *jm)
	}
	sort.Slice(s.Jobs, func(i, j int) bool { return s.Jobs[i].Name < s.Jobs[j].Name })
	return s
}
