package model

import "time"

// Run statuses
const (
	RunStatusRunning   = "running"
	RunStatusCompleted = "completed"
	RunStatusFailed    = "failed"
)

// ReconcileRun records one invocation of the reply reconciliation job
type ReconcileRun struct {
	ID              uint       `json:"id" gorm:"primaryKey;autoIncrement"`
	RunID           string     `json:"run_id" gorm:"type:varchar(36);not null;uniqueIndex"`
	Trigger         string     `json:"trigger" gorm:"type:varchar(20);not null"`
	Status          string     `json:"status" gorm:"type:varchar(20);not null"`
	UsersSeen       int        `json:"users_seen"`
	UsersSkipped    int        `json:"users_skipped"`
	ThreadsChecked  int        `json:"threads_checked"`
	ThreadFailures  int        `json:"thread_failures"`
	RepliesRecorded int        `json:"replies_recorded"`
	ErrorMsg        string     `json:"error_msg" gorm:"type:text"`
	StartedAt       time.Time  `json:"started_at" gorm:"index"`
	FinishedAt      *time.Time `json:"finished_at"`
}

// TableName specifies the table name for ReconcileRun
func (ReconcileRun) TableName() string {
	return "reconcile_runs"
}
