package model

import "time"

// DailyMetrics is the persisted per-date processing aggregate.
type DailyMetrics struct {
	Date                 time.Time `json:"date"`
	StandardProcessed    int       `json:"standard_processed"`
	LimitedProcessed     int       `json:"limited_processed"`
	MinimalProcessed     int       `json:"minimal_processed"`
	DeadLettered         int       `json:"dead_lettered"`
	TotalProcessed       int       `json:"total_processed"`
	TotalDurationSeconds float64   `json:"total_duration_seconds"`
	LargeFilesCount      int       `json:"large_files_count"` // >50 MB
	SuccessRate          float64   `json:"success_rate"`      // percent
}

// RunKind distinguishes the top-level operations recorded in the run log.
type RunKind string

const (
	RunDaily      RunKind = "daily"
	RunNightBatch RunKind = "night_batch"
	RunCleanup    RunKind = "cleanup"
)

// RunStatus is the state of an ingestion run.
type RunStatus string

const (
	RunRunning  RunStatus = "running"
	RunComplete RunStatus = "complete"
	RunFailed   RunStatus = "failed"
)

// IngestionRun is one row in the run log, keyed by a generated uuid.
type IngestionRun struct {
	ID           string     `json:"id"`
	Kind         RunKind    `json:"kind"`
	TargetDate   *time.Time `json:"target_date,omitempty"`
	Status       RunStatus  `json:"status"`
	StartedAt    time.Time  `json:"started_at"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
	Processed    int        `json:"processed"`
	Succeeded    int        `json:"succeeded"`
	Failed       int        `json:"failed"`
	DeadLettered int        `json:"dead_lettered"`
	Error        *string    `json:"error,omitempty"`
}
