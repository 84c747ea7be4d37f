package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/italolelis/print_agent/internal/storage"
)

// timeLayout is fixed width so created_at sorts as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// JobWriteRepository implements storage.JobWriteRepository
// and stores print jobs in SQLite.
type JobWriteRepository struct {
	db *sql.DB
}

func NewJobWriteRepository(db *sql.DB) *JobWriteRepository {
	return &JobWriteRepository{db: db}
}

func (r *JobWriteRepository) RecordJob(ctx context.Context, job storage.JobRecord) error {
	status := job.Status
	if status == "" {
		status = storage.StatusPrinting
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO jobs (id, url, printer, copies, status, error, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		job.ID, job.URL, job.Printer, job.Copies, status, job.Error, job.CreatedAt.UTC().Format(timeLayout),
	)

	return err
}

// FinishJob sets the final status of a job that is still printing.
func (r *JobWriteRepository) FinishJob(ctx context.Context, id, status, errMsg string, finishedAt time.Time) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE jobs SET status = ?, error = ?, finished_at = ? WHERE id = ? AND status = ?`,
		status, errMsg, finishedAt.UTC().Format(timeLayout), id, storage.StatusPrinting,
	)
	if err != nil {
		return err
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}

	if affected == 0 {
		return fmt.Errorf("job %s is not printing", id)
	}

	return nil
}
