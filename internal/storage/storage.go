// Package storage defines the print job ledger.
package storage

import (
	"context"
	"time"
)

// Job statuses.
const (
	StatusPrinting  = "printing"
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
)

// JobRecord is one print submission that reached the download step.
type JobRecord struct {
	ID         string     `json:"id"`
	URL        string     `json:"url"`
	Printer    string     `json:"printer"`
	Copies     int        `json:"copies,omitempty"`
	Status     string     `json:"status"`
	Error      string     `json:"error,omitempty"`
	CreatedAt  time.Time  `json:"createdAt"`
	FinishedAt *time.Time `json:"finishedAt,omitempty"`
}

// JobReadRepository reads the ledger.
type JobReadRepository interface {
	RecentJobs(ctx context.Context, limit int) ([]JobRecord, error)
}

// JobWriteRepository writes the ledger.
type JobWriteRepository interface {
	RecordJob(ctx context.Context, job JobRecord) error
	FinishJob(ctx context.Context, id, status, errMsg string, finishedAt time.Time) error
}

// JobRepository is the full ledger.
type JobRepository interface {
	JobReadRepository
	JobWriteRepository
}
