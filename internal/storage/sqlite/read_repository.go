package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/italolelis/print_agent/internal/storage"
)

type JobReadRepository struct {
	db *sql.DB
}

func NewJobReadRepository(dbConn *sql.DB) *JobReadRepository {
	return &JobReadRepository{db: dbConn}
}

// RecentJobs returns up to limit jobs, newest first.
func (r *JobReadRepository) RecentJobs(ctx context.Context, limit int) ([]storage.JobRecord, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT
			id,
			url,
			printer,
			copies,
			status,
			error,
			created_at,
			finished_at
		FROM jobs
		ORDER BY created_at DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}

	defer rows.Close()

	jobs := make([]storage.JobRecord, 0)

	for rows.Next() {
		var (
			record     storage.JobRecord
			createdAt  string
			finishedAt sql.NullString
		)

		if err := rows.Scan(&record.ID, &record.URL, &record.Printer, &record.Copies, &record.Status, &record.Error, &createdAt, &finishedAt); err != nil {
			return nil, err
		}

		if record.CreatedAt, err = time.Parse(timeLayout, createdAt); err != nil {
			return nil, fmt.Errorf("invalid created_at for job %s: %w", record.ID, err)
		}

		if finishedAt.Valid {
			t, err := time.Parse(timeLayout, finishedAt.String)
			if err != nil {
				return nil, fmt.Errorf("invalid finished_at for job %s: %w", record.ID, err)
			}

			record.FinishedAt = &t
		}

		jobs = append(jobs, record)
	}

	return jobs, rows.Err()
}
