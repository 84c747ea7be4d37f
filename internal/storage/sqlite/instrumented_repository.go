package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/italolelis/print_agent/internal/storage"
	"github.com/italolelis/print_agent/internal/telemetry"
)

// InstrumentedJobRepository wraps the job repositories with telemetry.
type InstrumentedJobRepository struct {
	read      *JobReadRepository
	write     *JobWriteRepository
	telemetry *telemetry.Telemetry
}

var _ storage.JobRepository = (*InstrumentedJobRepository)(nil)

// NewInstrumentedJobRepository creates a new instrumented job repository.
func NewInstrumentedJobRepository(dbConn *sql.DB, tel *telemetry.Telemetry) *InstrumentedJobRepository {
	return &InstrumentedJobRepository{
		read:      NewJobReadRepository(dbConn),
		write:     NewJobWriteRepository(dbConn),
		telemetry: tel,
	}
}

// RecordJob inserts a job with telemetry.
func (r *InstrumentedJobRepository) RecordJob(ctx context.Context, job storage.JobRecord) error {
	return r.telemetry.InstrumentDBOperation(ctx, "record_job", func(ctx context.Context) error {
		return r.write.RecordJob(ctx, job)
	})
}

// FinishJob updates a job's final status with telemetry.
func (r *InstrumentedJobRepository) FinishJob(ctx context.Context, id, status, errMsg string, finishedAt time.Time) error {
	return r.telemetry.InstrumentDBOperation(ctx, "finish_job", func(ctx context.Context) error {
		return r.write.FinishJob(ctx, id, status, errMsg, finishedAt)
	})
}

// RecentJobs lists jobs with telemetry.
func (r *InstrumentedJobRepository) RecentJobs(ctx context.Context, limit int) ([]storage.JobRecord, error) {
	var result []storage.JobRecord

	err := r.telemetry.InstrumentDBOperation(ctx, "recent_jobs", func(ctx context.Context) error {
		var err error

		result, err = r.read.RecentJobs(ctx, limit)

		return err
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}
