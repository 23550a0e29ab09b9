package dispatch

import (
	"time"

	"dispatchd/internal/domain"
)

// QueueStatus is a read-only view of one queue.
type QueueStatus struct {
	Workload            string    `json:"workload"`
	Role                string    `json:"role"`
	Depth               int       `json:"depth"`
	Connected           bool      `json:"connected"`
	Executing           bool      `json:"executing"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	LastHeartbeat       time.Time `json:"last_heartbeat"`
}

// MigrationStatus reports the lead's migration version markers.
type MigrationStatus struct {
	Available int64  `json:"available"`
	Loaded    int64  `json:"loaded"`
	Applied   int64  `json:"applied"`
	LastError string `json:"last_error,omitempty"`
}

// DatabaseStatus is a read-only view of one database's queue hierarchy.
type DatabaseStatus struct {
	Name       string           `json:"name"`
	Engine     string           `json:"engine"`
	Connected  bool             `json:"connected"`
	TotalDepth int              `json:"total_depth"`
	Queues     []QueueStatus    `json:"queues"`
	Migration  *MigrationStatus `json:"migration,omitempty"`
}

// Snapshot is the full status/statistics view, safe to call from any
// thread without disturbing dispatch.
type Snapshot struct {
	Databases []DatabaseStatus `json:"databases"`
	Stats     StatsSnapshot    `json:"stats"`
}

func queueStatus(q *Queue) QueueStatus {
	return QueueStatus{
		Workload:            string(q.Workload()),
		Role:                string(q.Role()),
		Depth:               q.Depth(),
		Connected:           q.Connected(),
		Executing:           q.executing.Load(),
		ConsecutiveFailures: q.ConsecutiveFailures(),
		LastHeartbeat:       q.LastHeartbeat(),
	}
}

// Status assembles a snapshot across all databases.
func (m *Manager) Status() Snapshot {
	snap := Snapshot{Stats: m.stats.Snapshot()}

	for _, name := range m.DatabaseNames() {
		lead, ok := m.Lead(name)
		if !ok {
			continue
		}

		ds := DatabaseStatus{
			Name:       name,
			Engine:     lead.eng.Name(),
			Connected:  lead.Connected(),
			TotalDepth: lead.TotalDepth(),
			Queues:     []QueueStatus{queueStatus(lead)},
		}

		workers := lead.Workers()
		for _, w := range domain.WorkerWorkloads {
			if c, ok := workers[w]; ok {
				ds.Queues = append(ds.Queues, queueStatus(c))
			}
		}

		if lead.migrator != nil {
			markers := lead.migrator.Markers()
			ds.Migration = &MigrationStatus{
				Available: markers.Available,
				Loaded:    markers.Loaded,
				Applied:   markers.Applied,
				LastError: lead.migrator.LastError(),
			}
		}

		snap.Databases = append(snap.Databases, ds)
	}
	return snap
}
