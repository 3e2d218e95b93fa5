package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"hzinstall/internal/security"
	"hzinstall/pkg/fileutil"

	_ "modernc.org/sqlite"
)

// History stores provisioning runs in SQLite.
type History struct {
	db *sql.DB
}

// Open opens (creating if needed) the history database at dbPath.
func Open(dbPath string) (*History, error) {
	if dir := filepath.Dir(dbPath); !fileutil.DirExists(dir) {
		if err := security.CreateSecureDir(dir, security.PermDirectory); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite has a single writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	h := &History{db: db}
	if err := h.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	if err := os.Chmod(dbPath, security.PermDBFile); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set database permissions: %w", err)
	}

	return h, nil
}

// Close closes the database connection.
func (h *History) Close() error {
	return h.db.Close()
}

func (h *History) initSchema() error {
	_, err := h.db.Exec(`
		CREATE TABLE IF NOT EXISTS runs (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			target TEXT NOT NULL,
			branch TEXT NOT NULL,
			trigger TEXT NOT NULL,
			status TEXT NOT NULL,
			started_at TEXT NOT NULL,
			completed_at TEXT,
			duration_seconds REAL,
			failed_stage TEXT,
			commit_hash TEXT,
			error_message TEXT
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create table: %w", err)
	}

	_, err = h.db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_target_id
		ON runs(target, id DESC)
	`)
	if err != nil {
		return fmt.Errorf("failed to create index: %w", err)
	}

	return nil
}

// Record inserts a run. A zero StartedAt is stored as now; a finished run
// without CompletedAt is stamped with now as well.
func (h *History) Record(ctx context.Context, record *RunRecord) (int64, error) {
	now := time.Now().UTC()

	startedAt := record.StartedAt
	if startedAt.IsZero() {
		startedAt = now
	}

	var completedAt *string
	if record.CompletedAt != nil {
		formatted := record.CompletedAt.UTC().Format(time.RFC3339)
		completedAt = &formatted
	} else if record.Status != StatusInProgress {
		formatted := now.Format(time.RFC3339)
		completedAt = &formatted
	}

	result, err := h.db.ExecContext(ctx, `
		INSERT INTO runs
		(target, branch, trigger, status, started_at, completed_at,
		 duration_seconds, failed_stage, commit_hash, error_message)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		record.Target,
		record.Branch,
		record.Trigger,
		record.Status,
		startedAt.UTC().Format(time.RFC3339),
		completedAt,
		record.DurationSeconds,
		record.FailedStage,
		record.CommitHash,
		record.ErrorMessage,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to insert run record: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get last insert ID: %w", err)
	}

	return id, nil
}

const selectColumns = `
	SELECT id, target, branch, trigger, status, started_at, completed_at,
	       duration_seconds, failed_stage, commit_hash, error_message
	FROM runs`

// Latest returns the most recent run for target, or nil when there is none.
func (h *History) Latest(ctx context.Context, target string) (*RunRecord, error) {
	row := h.db.QueryRowContext(ctx, selectColumns+`
		WHERE target = ?
		ORDER BY id DESC
		LIMIT 1
	`, target)

	record, err := scanRunRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query latest run: %w", err)
	}

	return record, nil
}

// Recent returns up to limit runs for target, newest first.
func (h *History) Recent(ctx context.Context, target string, limit int) ([]RunRecord, error) {
	rows, err := h.db.QueryContext(ctx, selectColumns+`
		WHERE target = ?
		ORDER BY id DESC
		LIMIT ?
	`, target, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query run history: %w", err)
	}
	defer rows.Close()

	return collect(rows)
}

// LatestPerTarget returns the newest run of every target seen so far.
func (h *History) LatestPerTarget(ctx context.Context) (map[string]*RunRecord, error) {
	rows, err := h.db.QueryContext(ctx, selectColumns+`
		WHERE id IN (SELECT MAX(id) FROM runs GROUP BY target)
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query targets: %w", err)
	}
	defer rows.Close()

	records, err := collect(rows)
	if err != nil {
		return nil, err
	}

	result := make(map[string]*RunRecord, len(records))
	for i := range records {
		result[records[i].Target] = &records[i]
	}
	return result, nil
}

// Status returns the latest run and up to limit recent runs for target.
func (h *History) Status(ctx context.Context, target string, limit int) (*TargetStatus, error) {
	recent, err := h.Recent(ctx, target, limit)
	if err != nil {
		return nil, err
	}

	status := &TargetStatus{Target: target, RecentHistory: recent}
	if status.RecentHistory == nil {
		status.RecentHistory = []RunRecord{}
	}
	if len(recent) > 0 {
		latest := recent[0]
		status.LatestRun = &latest
	}
	return status, nil
}

func collect(rows *sql.Rows) ([]RunRecord, error) {
	var records []RunRecord
	for rows.Next() {
		record, err := scanRunRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run record: %w", err)
		}
		records = append(records, *record)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return records, nil
}

// scanner is implemented by both *sql.Row and *sql.Rows
type scanner interface {
	Scan(dest ...any) error
}

func scanRunRecord(s scanner) (*RunRecord, error) {
	var record RunRecord
	var startedAtStr string
	var completedAtStr sql.NullString

	err := s.Scan(
		&record.ID,
		&record.Target,
		&record.Branch,
		&record.Trigger,
		&record.Status,
		&startedAtStr,
		&completedAtStr,
		&record.DurationSeconds,
		&record.FailedStage,
		&record.CommitHash,
		&record.ErrorMessage,
	)
	if err != nil {
		return nil, err
	}

	startedAt, err := time.Parse(time.RFC3339, startedAtStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse started_at timestamp: %w", err)
	}
	record.StartedAt = startedAt

	if completedAtStr.Valid {
		completedAt, err := time.Parse(time.RFC3339, completedAtStr.String)
		if err != nil {
			return nil, fmt.Errorf("failed to parse completed_at timestamp: %w", err)
		}
		record.CompletedAt = &completedAt
	}

	return &record, nil
}
