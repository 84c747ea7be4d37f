package sqlite

import (
	"database/sql"
	"fmt"

	// Import the SQLite driver.
	_ "github.com/mattn/go-sqlite3"
)

// InitDB opens the SQLite database at path and creates the jobs table if it doesn't exist.
func InitDB(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS jobs (
		id TEXT PRIMARY KEY,
		url TEXT NOT NULL,
		printer TEXT NOT NULL,
		copies INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL DEFAULT 'printing',
		error TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL,
		finished_at TEXT
	)`)
	if err != nil {
		db.Close()

		return nil, fmt.Errorf("failed to create jobs table: %w", err)
	}

	if _, err := db.Exec(`CREATE INDEX IF NOT EXISTS idx_jobs_created_at ON jobs (created_at)`); err != nil {
		db.Close()

		return nil, fmt.Errorf("failed to create jobs index: %w", err)
	}

	return db, nil
}
