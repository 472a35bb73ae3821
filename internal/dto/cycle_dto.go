package dto

import "time"

// CycleReport counts what one reconciliation cycle did. It is logged at the end
// of every cycle and exposed on the ops API as the last cycle's result.
type CycleReport struct {
	StartedAt    time.Time     `json:"started_at"`
	Duration     time.Duration `json:"duration_ns"`
	Advices      int           `json:"advices"`
	Created      int           `json:"created"`
	Completed    int           `json:"completed"`
	Resynced     int           `json:"resynced"`
	Anomalies    int           `json:"anomalies"`
	Suspects     int           `json:"suspects"`
	Skipped      int           `json:"skipped"`
	LinesPatched int           `json:"lines_patched"`
	Stored       int           `json:"stored"`
	Events       int           `json:"events"`
	Errors       int           `json:"errors"`
}
