package history

import "time"

// Run statuses.
const (
	StatusSuccess    = "success"
	StatusFailed     = "failed"
	StatusRejected   = "rejected"
	StatusInProgress = "in_progress"
)

// Triggers.
const (
	TriggerCLI     = "cli"
	TriggerWebhook = "webhook"
)

// RunRecord is one provisioning run as stored in the database.
type RunRecord struct {
	ID              int64      `json:"id"`
	Target          string     `json:"target"`
	Branch          string     `json:"branch"`
	Trigger         string     `json:"trigger"`
	Status          string     `json:"status"`
	StartedAt       time.Time  `json:"started_at"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
	DurationSeconds *float64   `json:"duration_seconds,omitempty"`
	FailedStage     *string    `json:"failed_stage,omitempty"`
	CommitHash      *string    `json:"commit_hash,omitempty"`
	ErrorMessage    *string    `json:"error_message,omitempty"`
}

// TargetStatus is the latest run plus recent history for one deployment directory.
type TargetStatus struct {
	Target        string      `json:"target"`
	LatestRun     *RunRecord  `json:"latest_run,omitempty"`
	RecentHistory []RunRecord `json:"recent_history"`
}
