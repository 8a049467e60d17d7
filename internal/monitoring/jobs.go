package monitoring

import (
	"sort"
	"sync"
	"time"

	"github.com/teatalks/teatalks/pkg/metrics"
)

// JobSummary describes the run history of one background job.
type JobSummary struct {
	Job                 string    `json:"job"`
	TotalRuns           uint64    `json:"totalRuns"`
	Failures            uint64    `json:"failures"`
	ConsecutiveFailures uint64    `json:"consecutiveFailures"`
	LastRunAt           time.Time `json:"lastRunAt"`
	LastSuccessAt       time.Time `json:"lastSuccessAt"`
	LastError           string    `json:"lastError,omitempty"`
}

// JobTracker records maintenance job outcomes for health probes and Prometheus.
type JobTracker struct {
	mu   sync.Mutex
	jobs map[string]*JobSummary
	now  func() time.Time
}

// NewJobTracker constructs an empty tracker.
func NewJobTracker() *JobTracker {
	return &JobTracker{jobs: make(map[string]*JobSummary), now: time.Now}
}

// WithClock overrides the tracker clock.
func (t *JobTracker) WithClock(clock func() time.Time) *JobTracker {
	if clock != nil {
		t.now = clock
	}
	return t
}

// Expect registers a job before its first run so probes can report it as pending.
func (t *JobTracker) Expect(job string) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.jobs[job]; !ok {
		t.jobs[job] = &JobSummary{Job: job}
	}
}

// Record stores the outcome of a single run.
func (t *JobTracker) Record(job string, err error, duration time.Duration) {
	if t == nil {
		return
	}

	result := "success"
	if err != nil {
		result = "failure"
	}
	metrics.MaintenanceRuns.WithLabelValues(job, result).Inc()
	metrics.MaintenanceDuration.WithLabelValues(job).Observe(duration.Seconds())

	t.mu.Lock()
	defer t.mu.Unlock()

	summary, ok := t.jobs[job]
	if !ok {
		summary = &JobSummary{Job: job}
		t.jobs[job] = summary
	}

	now := t.now()
	summary.TotalRuns++
	summary.LastRunAt = now
	if err != nil {
		summary.Failures++
		summary.ConsecutiveFailures++
		summary.LastError = err.Error()
		return
	}
	summary.ConsecutiveFailures = 0
	summary.LastSuccessAt = now
	summary.LastError = ""
}

// Snapshot returns a copy of every tracked job sorted by name.
func (t *JobTracker) Snapshot() []JobSummary {
	if t == nil {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]JobSummary, 0, len(t.jobs))
	for _, summary := range t.jobs {
		out = append(out, *summary)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Job < out[j].Job })
	return out
}
