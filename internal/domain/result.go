package domain

import "time"

// Result holds the structured output of an executed query.
type Result struct {
	Columns      []string
	Rows         [][]interface{}
	RowCount     int
	AffectedRows int64
	Duration     time.Duration
	FromCache    bool
}

// Outcome is what a worker delivers to the pending-result registry:
// exactly one of Result or Err is set.
type Outcome struct {
	Result *Result
	Err    error
}
