// Package dispatch implements the query dispatch and lifecycle subsystem:
// per-database lead queues, typed worker queues, connection health
// monitoring, topology supervision, and migration orchestration.
package dispatch

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"dispatchd/internal/domain"
	"dispatchd/internal/engine"
	"dispatchd/internal/migrate"
	"dispatchd/internal/pending"
)

// Role distinguishes the always-present lead queue from dynamically
// spawned typed workers.
type Role string

// Queue roles.
const (
	RoleLead   Role = "lead"
	RoleWorker Role = "worker"
)

// Options tunes queue behaviour. Zero values select the defaults.
type Options struct {
	HeartbeatInterval   time.Duration // connection health check cadence (default 30s)
	PollInterval        time.Duration // worker idle poll (default 1s)
	RetireAfter         time.Duration // idle grace before retiring a worker; 0 disables retirement
	QueueDepth          int           // FIFO capacity per queue (default 256)
	DefaultQueryTimeout time.Duration // pending-result registration timeout (default 30s)
}

func (o Options) withDefaults() Options {
	if o.HeartbeatInterval <= 0 {
		o.HeartbeatInterval = 30 * time.Second
	}
	if o.PollInterval <= 0 {
		o.PollInterval = time.Second
	}
	if o.QueueDepth <= 0 {
		o.QueueDepth = 256
	}
	if o.DefaultQueryTimeout <= 0 {
		o.DefaultQueryTimeout = 30 * time.Second
	}
	return o
}

// Recorder receives best-effort notifications about query lifecycle for
// durable journaling. Implementations log their own failures; the dispatch
// path never blocks on them.
type Recorder interface {
	QuerySubmitted(ctx context.Context, database string, q *domain.Query)
	QueryCompleted(ctx context.Context, queryID string, duration time.Duration)
	QueryFailed(ctx context.Context, queryID, errMsg string, duration time.Duration)
}

// Queue owns a FIFO of queries and the single goroutine that drains it.
// The buffered fifo channel is both the FIFO and the depth-signaling
// primitive: a receive with timeout is the bounded wait.
type Queue struct {
	database string
	role     Role
	workload domain.Workload
	eng      engine.Engine
	dsn      string
	opts     Options

	fifo       chan *domain.Query
	pending    *pending.Registry
	stats      *Stats
	journal    Recorder
	logger     *slog.Logger
	baseLogger *slog.Logger // un-scoped, for deriving child queue loggers

	// connMu guards acquisition and replacement of the persistent
	// connection. At most one live connection exists per queue.
	connMu sync.Mutex
	conn   engine.Conn

	// stateMu guards the health-monitor bookkeeping read by status
	// snapshots.
	stateMu             sync.Mutex
	connected           bool
	lastHeartbeat       time.Time
	lastConnAttempt     time.Time
	consecutiveFailures int

	executing  atomic.Bool
	lastActive atomic.Int64 // unix nanos of last enqueue/dequeue activity

	shutdown     chan struct{}
	shutdownOnce sync.Once
	done         chan struct{}

	// Lead-only topology state.
	childrenMu  sync.Mutex
	children    map[domain.Workload]*Queue
	enabled     map[domain.Workload]bool
	migrator    *migrate.Orchestrator
	autoMigrate bool

	// Cache-worker-only result cache.
	cacheMu sync.RWMutex
	cache   map[uint64]*domain.Result
}

func newQueue(database string, role Role, workload domain.Workload, eng engine.Engine, dsn string,
	opts Options, pnd *pending.Registry, stats *Stats, journal Recorder, logger *slog.Logger) *Queue {

	q := &Queue{
		database:   database,
		role:       role,
		workload:   workload,
		eng:        eng,
		dsn:        dsn,
		opts:       opts,
		fifo:       make(chan *domain.Query, opts.QueueDepth),
		pending:    pnd,
		stats:      stats,
		journal:    journal,
		baseLogger: logger,
		logger: logger.With("component", "dispatch",
			"database", database, "queue", string(workload)),
		shutdown: make(chan struct{}),
		done:     make(chan struct{}),
	}
	if workload == domain.WorkloadCache {
		q.cache = make(map[uint64]*domain.Result)
	}
	q.lastActive.Store(time.Now().UnixNano())
	return q
}

// newLead creates the lead queue for a database. Workers for the enabled
// workload classes are spawned by topology supervision on idle cycles.
func newLead(database string, eng engine.Engine, dsn string, workers []domain.Workload,
	migrator *migrate.Orchestrator, autoMigrate bool, opts Options,
	pnd *pending.Registry, stats *Stats, journal Recorder, logger *slog.Logger) *Queue {

	q := newQueue(database, RoleLead, domain.WorkloadLead, eng, dsn, opts, pnd, stats, journal, logger)
	q.children = make(map[domain.Workload]*Queue)
	q.enabled = make(map[domain.Workload]bool)
	for _, w := range workers {
		q.enabled[w] = true
	}
	q.migrator = migrator
	q.autoMigrate = autoMigrate
	return q
}

// Database returns the owning database name.
func (q *Queue) Database() string { return q.database }

// Role returns the queue role.
func (q *Queue) Role() Role { return q.role }

// Workload returns the queue's workload class.
func (q *Queue) Workload() domain.Workload { return q.workload }

// Enqueue appends a query to the FIFO without blocking. A full queue is
// reported as an execution failure; the query is never silently dropped.
func (q *Queue) Enqueue(query *domain.Query) error {
	select {
	case q.fifo <- query:
		q.touch()
		return nil
	default:
		return domain.ErrExecution("dispatch queue %s/%s is full", q.database, q.workload)
	}
}

// Depth returns this queue's FIFO length.
func (q *Queue) Depth() int { return len(q.fifo) }

// TotalDepth returns the FIFO length including, for a lead, all children.
func (q *Queue) TotalDepth() int {
	depth := len(q.fifo)
	if q.role != RoleLead {
		return depth
	}
	q.childrenMu.Lock()
	defer q.childrenMu.Unlock()
	for _, c := range q.children {
		depth += len(c.fifo)
	}
	return depth
}

// Connected reports whether the persistent connection is believed live.
func (q *Queue) Connected() bool {
	q.stateMu.Lock()
	defer q.stateMu.Unlock()
	return q.connected
}

// ConsecutiveFailures returns the health monitor's failure streak.
func (q *Queue) ConsecutiveFailures() int {
	q.stateMu.Lock()
	defer q.stateMu.Unlock()
	return q.consecutiveFailures
}

// LastHeartbeat returns when the health monitor last ran.
func (q *Queue) LastHeartbeat() time.Time {
	q.stateMu.Lock()
	defer q.stateMu.Unlock()
	return q.lastHeartbeat
}

func (q *Queue) touch() {
	q.lastActive.Store(time.Now().UnixNano())
}

func (q *Queue) idleFor(now time.Time) time.Duration {
	return now.Sub(time.Unix(0, q.lastActive.Load()))
}

// Start launches the worker goroutine.
func (q *Queue) Start() {
	go q.run()
}

// Stop requests cooperative shutdown and joins the worker. A lead joins
// its own goroutine before stopping children so an in-flight supervision
// cycle cannot respawn workers mid-teardown.
func (q *Queue) Stop() {
	q.shutdownOnce.Do(func() { close(q.shutdown) })
	<-q.done

	if q.role == RoleLead {
		q.childrenMu.Lock()
		children := make([]*Queue, 0, len(q.children))
		for _, c := range q.children {
			children = append(children, c)
		}
		q.children = make(map[domain.Workload]*Queue)
		q.childrenMu.Unlock()
		for _, c := range children {
			c.Stop()
		}
	}
}

func (q *Queue) cachedResult(key uint64) *domain.Result {
	q.cacheMu.RLock()
	defer q.cacheMu.RUnlock()
	return q.cache[key]
}

func (q *Queue) storeCached(key uint64, res *domain.Result) {
	q.cacheMu.Lock()
	defer q.cacheMu.Unlock()
	q.cache[key] = res
}
