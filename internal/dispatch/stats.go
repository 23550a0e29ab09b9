package dispatch

import (
	"sync"
	"time"

	"dispatchd/internal/domain"
)

// Stats aggregates manager-wide counters under its own lock, distinct from
// any queue's locks so statistics reporting never contends with execution.
type Stats struct {
	mu        sync.Mutex
	submitted int64
	completed int64
	failed    int64
	timedOut  int64
	workloads map[domain.Workload]*workloadStats
}

type workloadStats struct {
	submitted int64
	execCount int64
	avgMillis float64
}

// NewStats creates an empty aggregate.
func NewStats() *Stats {
	return &Stats{workloads: make(map[domain.Workload]*workloadStats)}
}

func (s *Stats) workload(w domain.Workload) *workloadStats {
	ws, ok := s.workloads[w]
	if !ok {
		ws = &workloadStats{}
		s.workloads[w] = ws
	}
	return ws
}

// RecordSubmitted counts a submission routed to workload class w.
func (s *Stats) RecordSubmitted(w domain.Workload) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.submitted++
	s.workload(w).submitted++
}

// RecordCompleted counts a successful execution and folds its duration into
// the per-workload running mean. The mean is incremental, not a stored sum,
// so it cannot overflow over long uptimes.
func (s *Stats) RecordCompleted(w domain.Workload, d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.completed++
	ws := s.workload(w)
	ws.execCount++
	sample := float64(d.Microseconds()) / 1000.0
	ws.avgMillis += (sample - ws.avgMillis) / float64(ws.execCount)
}

// RecordFailed counts a terminal execution failure.
func (s *Stats) RecordFailed(w domain.Workload) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failed++
}

// RecordTimeout counts a caller that gave up waiting.
func (s *Stats) RecordTimeout() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.timedOut++
}

// WorkloadSnapshot is the per-class slice of a stats snapshot.
type WorkloadSnapshot struct {
	Submitted   int64   `json:"submitted"`
	Executed    int64   `json:"executed"`
	AvgExecMsec float64 `json:"avg_exec_ms"`
}

// StatsSnapshot is a point-in-time copy of the aggregate counters.
type StatsSnapshot struct {
	Submitted int64                       `json:"submitted"`
	Completed int64                       `json:"completed"`
	Failed    int64                       `json:"failed"`
	TimedOut  int64                       `json:"timed_out"`
	Workloads map[string]WorkloadSnapshot `json:"workloads"`
}

// Snapshot copies the counters without disturbing dispatch.
func (s *Stats) Snapshot() StatsSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := StatsSnapshot{
		Submitted: s.submitted,
		Completed: s.completed,
		Failed:    s.failed,
		TimedOut:  s.timedOut,
		Workloads: make(map[string]WorkloadSnapshot, len(s.workloads)),
	}
	for w, ws := range s.workloads {
		snap.Workloads[string(w)] = WorkloadSnapshot{
			Submitted:   ws.submitted,
			Executed:    ws.execCount,
			AvgExecMsec: ws.avgMillis,
		}
	}
	return snap
}
