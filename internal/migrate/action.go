// Package migrate implements the per-database migration state machine and
// its starlark-scripted migration source.
package migrate

// Action is what the orchestrator decided to do this cycle.
type Action int

// Possible migration actions.
const (
	ActionNone Action = iota
	ActionLoad
	ActionApply
)

func (a Action) String() string {
	switch a {
	case ActionLoad:
		return "load"
	case ActionApply:
		return "apply"
	default:
		return "none"
	}
}

// DefaultThreshold is the migration version below which a database is
// considered uninitialized.
const DefaultThreshold int64 = 1000

// Markers are the three monotonically non-decreasing version markers the
// state machine is evaluated against.
type Markers struct {
	Available int64 // highest version discoverable from the source
	Loaded    int64 // highest version evaluated into executable statements
	Applied   int64 // highest version committed to the database
}

// Decide evaluates the migration action table.
func Decide(m Markers, threshold int64) Action {
	if m.Available == m.Applied {
		return ActionNone
	}
	if m.Available >= threshold && m.Loaded < threshold {
		return ActionLoad
	}
	if m.Available >= threshold && m.Loaded < m.Available {
		return ActionLoad
	}
	if m.Loaded > m.Applied {
		return ActionApply
	}
	return ActionNone
}
