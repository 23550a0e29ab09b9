package dispatch

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"dispatchd/internal/domain"
	"dispatchd/internal/engine"
	"dispatchd/internal/pending"
)

// fakeEngine scripts connection and probe behaviour for queue tests. Ping
// errors are popped once per probe across all connections the engine hands
// out, so a reconnect-probe-fail sequence can be described up front.
type fakeEngine struct {
	mu         sync.Mutex
	name       string
	connectErr error
	pingErrs   []error
	execFn     func(sqlText string, params []interface{}) (*domain.Result, error)

	connects int
	executed []string
	closed   int
}

func (e *fakeEngine) Name() string {
	if e.name == "" {
		return "fake"
	}
	return e.name
}

func (e *fakeEngine) Connect(_ context.Context, _ string) (engine.Conn, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.connects++
	if e.connectErr != nil {
		return nil, e.connectErr
	}
	return &scriptedConn{eng: e}, nil
}

func (e *fakeEngine) executedSQL() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.executed...)
}

func (e *fakeEngine) execCalls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.executed)
}

type scriptedConn struct {
	eng *fakeEngine
}

func (c *scriptedConn) Execute(_ context.Context, sqlText string, params []interface{}) (*domain.Result, error) {
	c.eng.mu.Lock()
	c.eng.executed = append(c.eng.executed, sqlText)
	fn := c.eng.execFn
	c.eng.mu.Unlock()

	if fn != nil {
		return fn(sqlText, params)
	}
	return &domain.Result{Columns: []string{"ok"}, RowCount: 1}, nil
}

func (c *scriptedConn) Ping(_ context.Context) error {
	c.eng.mu.Lock()
	defer c.eng.mu.Unlock()
	if len(c.eng.pingErrs) == 0 {
		return nil
	}
	err := c.eng.pingErrs[0]
	c.eng.pingErrs = c.eng.pingErrs[1:]
	return err
}

func (c *scriptedConn) ExecuteTx(_ context.Context, _ []string) error { return nil }

func (c *scriptedConn) Close() error {
	c.eng.mu.Lock()
	defer c.eng.mu.Unlock()
	c.eng.closed++
	return nil
}

func testOpts() Options {
	return Options{
		HeartbeatInterval:   time.Hour,
		PollInterval:        5 * time.Millisecond,
		QueueDepth:          8,
		DefaultQueryTimeout: 2 * time.Second,
	}
}

func newTestWorker(eng *fakeEngine, w domain.Workload, pnd *pending.Registry, opts Options) *Queue {
	return newQueue("orders", RoleWorker, w, eng, "dsn", opts, pnd, NewStats(), nil, slog.Default())
}

func newTestLead(eng *fakeEngine, workers []domain.Workload, opts Options) *Queue {
	pnd := pending.NewRegistry(slog.Default())
	return newLead("orders", eng, "dsn", workers, nil, false, opts, pnd, NewStats(), nil, slog.Default())
}
