// Package history is the out-of-scope workflow-history sink the core
// emits a completion record to when an ssh_command or scp_transfer task
// completes or is cancelled: one row per task with its connection-id, host
// alias, kind, start/finish timestamps, outcome and client IP (SPEC_FULL.md
// §3.1). Tasks that end with an error frame are not recorded.
// The core never queries it; REST endpoints read it independently.
package history

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Kind classifies the workflow that produced a record.
type Kind string

const (
	KindSSHCommand  Kind = "ssh_command"
	KindSCPTransfer Kind = "scp_transfer"
)

// Outcome classifies how the workflow ended.
type Outcome string

const (
	OutcomeCompleted Outcome = "completed"
	OutcomeCancelled Outcome = "cancelled"
	OutcomeError     Outcome = "error"
)

// WorkflowRecord is the GORM model for the sshgate_workflow_history table.
type WorkflowRecord struct {
	ID           string    `gorm:"primaryKey" json:"id"`
	ConnectionID string    `gorm:"index" json:"connection_id"`
	HostAlias    string    `gorm:"index" json:"host_alias"`
	Kind         string    `gorm:"index" json:"kind"`
	StartedAt    time.Time `json:"started_at"`
	FinishedAt   time.Time `json:"finished_at"`
	Outcome      string    `gorm:"index" json:"outcome"`
	ClientIP     string    `json:"client_ip"`
}

// TableName overrides the GORM table name.
func (WorkflowRecord) TableName() string {
	return "sshgate_workflow_history"
}

// Recorder persists workflow-completion records and purges old ones on a
// retention schedule.
type Recorder struct {
	db            *gorm.DB
	mu            sync.RWMutex
	retentionDays int
}

// NewRecorder auto-migrates the history table and builds a Recorder.
func NewRecorder(db *gorm.DB, retentionDays int) (*Recorder, error) {
	if err := db.AutoMigrate(&WorkflowRecord{}); err != nil {
		return nil, err
	}
	return &Recorder{db: db, retentionDays: retentionDays}, nil
}

// RecordCompletion inserts one workflow-history row. The core calls this
// once for each task that completes or is cancelled (a task that ends in
// an error is not recorded) — it never reads it back.
func (r *Recorder) RecordCompletion(connectionID, hostAlias string, kind Kind, startedAt, finishedAt time.Time, outcome Outcome, clientIP string) {
	rec := WorkflowRecord{
		ID:           uuid.NewString(),
		ConnectionID: connectionID,
		HostAlias:    hostAlias,
		Kind:         string(kind),
		StartedAt:    startedAt,
		FinishedAt:   finishedAt,
		Outcome:      string(outcome),
		ClientIP:     clientIP,
	}
	if err := r.db.Create(&rec).Error; err != nil {
		log.Printf("history: failed to record workflow completion: %v", err)
	}
}

// QueryOptions controls pagination for Query.
type QueryOptions struct {
	Limit  int
	Offset int
}

// Query returns history rows newest-first, for the read-only REST surface.
func (r *Recorder) Query(opts QueryOptions) ([]WorkflowRecord, int64, error) {
	q := r.db.Model(&WorkflowRecord{})

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = 100
	}

	var rows []WorkflowRecord
	err := q.Order("finished_at DESC").Limit(limit).Offset(opts.Offset).Find(&rows).Error
	return rows, total, err
}

// PurgeOlderThan deletes rows finished before the cutoff. Returns the
// number of rows removed.
func (r *Recorder) PurgeOlderThan(d time.Duration) (int64, error) {
	cutoff := time.Now().Add(-d)
	result := r.db.Where("finished_at < ?", cutoff).Delete(&WorkflowRecord{})
	return result.RowsAffected, result.Error
}

// RetentionDays returns the current retention policy in days.
func (r *Recorder) RetentionDays() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.retentionDays
}

// RunRetentionOnce purges rows older than the configured retention period.
// It is a no-op when retention is disabled (retentionDays <= 0). Intended
// to be invoked by a github.com/robfig/cron/v3 schedule rather than the
// raw time.Ticker the reference audit subsystem used.
func (r *Recorder) RunRetentionOnce(ctx context.Context) {
	days := r.RetentionDays()
	if days <= 0 {
		return
	}
	deleted, err := r.PurgeOlderThan(time.Duration(days) * 24 * time.Hour)
	if err != nil {
		log.Printf("history: retention purge error: %v", err)
		return
	}
	if deleted > 0 {
		log.Printf("history: purged %d workflow-history row(s) older than %d days", deleted, days)
	}
}
