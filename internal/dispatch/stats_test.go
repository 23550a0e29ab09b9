package dispatch

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"dispatchd/internal/domain"
)

func TestStatsRunningMean(t *testing.T) {
	s := NewStats()

	for _, d := range []time.Duration{10 * time.Millisecond, 20 * time.Millisecond, 30 * time.Millisecond} {
		s.RecordSubmitted(domain.WorkloadFast)
		s.RecordCompleted(domain.WorkloadFast, d)
	}

	snap := s.Snapshot()
	assert.Equal(t, int64(3), snap.Submitted)
	assert.Equal(t, int64(3), snap.Completed)

	fast := snap.Workloads[string(domain.WorkloadFast)]
	assert.Equal(t, int64(3), fast.Submitted)
	assert.Equal(t, int64(3), fast.Executed)
	assert.InDelta(t, 20.0, fast.AvgExecMsec, 0.001)
}

func TestStatsPerWorkloadIsolation(t *testing.T) {
	s := NewStats()

	s.RecordSubmitted(domain.WorkloadFast)
	s.RecordCompleted(domain.WorkloadFast, 5*time.Millisecond)
	s.RecordSubmitted(domain.WorkloadSlow)
	s.RecordCompleted(domain.WorkloadSlow, 500*time.Millisecond)
	s.RecordSubmitted(domain.WorkloadMedium)
	s.RecordFailed(domain.WorkloadMedium)
	s.RecordTimeout()

	snap := s.Snapshot()
	assert.Equal(t, int64(3), snap.Submitted)
	assert.Equal(t, int64(2), snap.Completed)
	assert.Equal(t, int64(1), snap.Failed)
	assert.Equal(t, int64(1), snap.TimedOut)

	assert.InDelta(t, 5.0, snap.Workloads[string(domain.WorkloadFast)].AvgExecMsec, 0.001)
	assert.InDelta(t, 500.0, snap.Workloads[string(domain.WorkloadSlow)].AvgExecMsec, 0.001)
	assert.Equal(t, int64(0), snap.Workloads[string(domain.WorkloadMedium)].Executed)
}

func TestSnapshotIsACopy(t *testing.T) {
	s := NewStats()
	s.RecordSubmitted(domain.WorkloadFast)

	snap := s.Snapshot()
	snap.Workloads[string(domain.WorkloadFast)] = WorkloadSnapshot{Submitted: 99}

	assert.Equal(t, int64(1), s.Snapshot().Workloads[string(domain.WorkloadFast)].Submitted)
}
