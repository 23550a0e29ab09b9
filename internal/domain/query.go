package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
)

// Workload classifies a query so the router can pick an appropriate queue.
type Workload string

// Recognized workload classes. WorkloadLead is reserved for the
// always-present per-database lead queue and is never a valid hint.
const (
	WorkloadSlow   Workload = "slow"
	WorkloadMedium Workload = "medium"
	WorkloadFast   Workload = "fast"
	WorkloadCache  Workload = "cache"
	WorkloadLead   Workload = "lead"
)

// WorkerWorkloads lists the workload classes a lead may spawn workers for.
var WorkerWorkloads = []Workload{WorkloadSlow, WorkloadMedium, WorkloadFast, WorkloadCache}

// ParseWorkload maps a caller-supplied hint to a workload class.
// Unrecognized or empty hints default to medium.
func ParseWorkload(hint string) Workload {
	switch Workload(strings.ToLower(strings.TrimSpace(hint))) {
	case WorkloadSlow:
		return WorkloadSlow
	case WorkloadMedium:
		return WorkloadMedium
	case WorkloadFast:
		return WorkloadFast
	case WorkloadCache:
		return WorkloadCache
	default:
		return WorkloadMedium
	}
}

// ValidWorkerWorkload reports whether s names a spawnable worker class.
func ValidWorkerWorkload(s string) bool {
	switch Workload(s) {
	case WorkloadSlow, WorkloadMedium, WorkloadFast, WorkloadCache:
		return true
	}
	return false
}

// Query is one submitted unit of work. It is owned exclusively by the queue
// it lands on until a worker dequeues it; never shared between queues.
type Query struct {
	ID          string
	SQL         string
	Params      []interface{}
	Workload    Workload
	CacheKey    uint64 // non-zero only for cache-class queries
	SubmittedAt time.Time
	RetryCount  int
	LastError   string
}

// CacheKey derives a stable hash over the normalized SQL text and parameters.
// Whitespace runs collapse so trivially reformatted queries hash alike; the
// exact canonicalization is otherwise deliberately simple.
func CacheKey(sqlText string, params []interface{}) uint64 {
	d := xxhash.New()
	_, _ = d.WriteString(strings.Join(strings.Fields(sqlText), " "))
	for _, p := range params {
		_, _ = d.WriteString("\x00")
		_, _ = fmt.Fprintf(d, "%v", p)
	}
	return d.Sum64()
}
