// Package ledger keeps a local record of file scans submitted by the CLI and of the webhook
// notifications that complete them. Scan results are delivered asynchronously, so the ledger is
// what ties an upload id back to the file it came from.
package ledger

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrations embed.FS

var ErrNotFound = errors.New("scan not found")

// Status is where a scan is in its lifecycle
type Status string

const (
	// StatusSubmitted means the scan was accepted and no webhook has arrived yet.
	StatusSubmitted Status = "submitted"
	// StatusCompleted means the webhook arrived without errors.
	StatusCompleted Status = "completed"
	// StatusFailed means the webhook reported errors.
	StatusFailed Status = "failed"
)

// Scan is one row of the ledger
type Scan struct {
	ID              int64
	UploadID        string
	ScanID          string
	Source          string
	RequestMetadata string
	Status          Status
	FindingsPresent bool
	FindingsURL     string
	Errors          []string
	SubmittedAt     time.Time
	CompletedAt     time.Time
}

// Submission is a scan accepted by the service.
type Submission struct {
	UploadID        string
	ScanID          string
	Source          string
	RequestMetadata string
}

// Result is the outcome reported by a webhook notification.
type Result struct {
	UploadID        string
	RequestMetadata string
	FindingsPresent bool
	FindingsURL     string
	Errors          []string
}

// Repository provides ledger operations
type Repository struct {
	db     *sql.DB
	logger *slog.Logger
	now    func() time.Time
}

// RunMigrations applies the embedded schema migrations.
func RunMigrations(ctx context.Context, db *sql.DB) error {
	goose.SetBaseFS(migrations)
	goose.SetLogger(goose.NopLogger())

	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("failed to set goose dialect: %w", err)
	}
	return goose.UpContext(ctx, db, "migrations")
}

// Open opens the ledger at path, creating the file and its directory if needed.
func Open(ctx context.Context, path string, logger *slog.Logger) (*Repository, error) {
	logger = logger.With("ledger_path", path)

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create ledger directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		logger.Error("ledger_open_failed", "error", err)
		return nil, fmt.Errorf("failed to open ledger: %w", err)
	}
	// One writer at a time; the CLI and the webhook server may share the file.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to configure ledger: %w", err)
	}

	if err := RunMigrations(ctx, db); err != nil {
		db.Close()
		logger.Error("ledger_migration_failed", "error", err)
		return nil, fmt.Errorf("failed to migrate ledger: %w", err)
	}

	logger.Debug("ledger_ready")
	return &Repository{db: db, logger: logger, now: time.Now}, nil
}

// Close closes the database connection
func (r *Repository) Close() error {
	return r.db.Close()
}

// RecordSubmission stores an accepted scan. Recording the same upload twice updates the row.
func (r *Repository) RecordSubmission(ctx context.Context, s Submission) (*Scan, error) {
	query := `
		INSERT INTO file_scans (upload_id, scan_id, source, request_metadata, status, submitted_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(upload_id) DO UPDATE SET
			scan_id = excluded.scan_id,
			source = excluded.source,
			request_metadata = excluded.request_metadata,
			submitted_at = excluded.submitted_at
	`
	_, err := r.db.ExecContext(ctx, query,
		s.UploadID, s.ScanID, s.Source, s.RequestMetadata, string(StatusSubmitted), r.now().Unix())
	if err != nil {
		r.logger.Error("ledger_insert_failed", "upload_id", s.UploadID, "error", err)
		return nil, fmt.Errorf("failed to record submission: %w", err)
	}

	r.logger.Debug("ledger_submission_recorded", "upload_id", s.UploadID, "scan_id", s.ScanID)
	return r.Get(ctx, s.UploadID)
}

// RecordResult stores the outcome of a scan. A result for an upload the ledger has never seen, for
// example one submitted from another machine, gets a row of its own.
func (r *Repository) RecordResult(ctx context.Context, res Result) (*Scan, error) {
	status := StatusCompleted
	if len(res.Errors) > 0 {
		status = StatusFailed
	}

	query := `
		INSERT INTO file_scans (upload_id, request_metadata, status, findings_present, findings_url, errors, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(upload_id) DO UPDATE SET
			status = excluded.status,
			findings_present = excluded.findings_present,
			findings_url = excluded.findings_url,
			errors = excluded.errors,
			completed_at = excluded.completed_at
	`
	_, err := r.db.ExecContext(ctx, query,
		res.UploadID, res.RequestMetadata, string(status), res.FindingsPresent, res.FindingsURL,
		strings.Join(res.Errors, "\n"), r.now().Unix())
	if err != nil {
		r.logger.Error("ledger_update_failed", "upload_id", res.UploadID, "error", err)
		return nil, fmt.Errorf("failed to record result: %w", err)
	}

	r.logger.Debug("ledger_result_recorded", "upload_id", res.UploadID, "status", status)
	return r.Get(ctx, res.UploadID)
}

const selectScan = `
	SELECT id, upload_id, scan_id, source, request_metadata, status,
	       findings_present, findings_url, errors, submitted_at, completed_at
	FROM file_scans
`

type scanner interface {
	Scan(dest ...any) error
}

func scanRow(row scanner) (*Scan, error) {
	var (
		s                    Scan
		errs                 string
		submitted, completed sql.NullInt64
	)
	err := row.Scan(&s.ID, &s.UploadID, &s.ScanID, &s.Source, &s.RequestMetadata, &s.Status,
		&s.FindingsPresent, &s.FindingsURL, &errs, &submitted, &completed)
	if err != nil {
		return nil, err
	}

	if errs != "" {
		s.Errors = strings.Split(errs, "\n")
	}
	if submitted.Valid {
		s.SubmittedAt = time.Unix(submitted.Int64, 0)
	}
	if completed.Valid {
		s.CompletedAt = time.Unix(completed.Int64, 0)
	}
	return &s, nil
}

// Get retrieves a scan by upload id
func (r *Repository) Get(ctx context.Context, uploadID string) (*Scan, error) {
	s, err := scanRow(r.db.QueryRowContext(ctx, selectScan+" WHERE upload_id = ?", uploadID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		r.logger.Error("ledger_query_failed", "upload_id", uploadID, "error", err)
		return nil, fmt.Errorf("failed to query scan: %w", err)
	}
	return s, nil
}

// List returns the most recent scans first. A limit of zero returns every scan.
func (r *Repository) List(ctx context.Context, limit int) ([]*Scan, error) {
	query := selectScan + " ORDER BY id DESC"
	args := []any{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		r.logger.Error("ledger_list_failed", "error", err)
		return nil, fmt.Errorf("failed to list scans: %w", err)
	}
	defer rows.Close()

	var scans []*Scan
	for rows.Next() {
		s, err := scanRow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		scans = append(scans, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return scans, nil
}
