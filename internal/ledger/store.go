// Package ledger records organize batches and the fastq files each batch
// placed in the analysis tree, in a local SQLite database.
package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/harrison/fcsort/internal/models"
)

// Batch status values.
const (
	StatusRunning   = "running"
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
)

// ErrBatchNotFound is returned when a batch id is unknown.
var ErrBatchNotFound = errors.New("batch not found")

// Batch is one organize invocation.
type Batch struct {
	ID               string
	Flowcells        []string
	RestrictProjects []string
	RestrictSamples  []string
	TransferMethod   string
	Status           string
	Message          string
	StartedAt        time.Time
	FinishedAt       *time.Time
	FileCount        int
}

// OrganizedFile is one fastq file placed by a batch.
type OrganizedFile struct {
	ID          int64
	BatchID     string
	ProjectID   string
	ProjectName string
	Sample      string
	LibraryPrep string
	SeqRun      string
	FileName    string
	Destination string
}

// Store manages the ledger database.
type Store struct {
	db     *sql.DB
	dbPath string
}

// NewStore opens (and migrates) the ledger at dbPath. ":memory:" opens a
// private in-memory database.
func NewStore(dbPath string) (*Store, error) {
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if dbPath == ":memory:" {
		// every pooled connection would otherwise get its own empty database
		db.SetMaxOpenConns(1)
	}

	pragmas := []string{
		"PRAGMA busy_timeout=5000", // Must be first
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	}
	for _, pragma := range pragmas {
		if err := execWithRetry(db, pragma, 5, 10*time.Millisecond); err != nil {
			db.Close()
			return nil, fmt.Errorf("set %s: %w", pragma, err)
		}
	}

	s := &Store{db: db, dbPath: dbPath}
	if err := s.ApplyMigrations(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply migrations: %w", err)
	}
	return s, nil
}

// execWithRetry executes a statement, backing off on "database is locked".
func execWithRetry(db *sql.DB, stmt string, maxRetries int, baseDelay time.Duration) error {
	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		_, err := db.Exec(stmt)
		if err == nil {
			return nil
		}
		if !strings.Contains(err.Error(), "database is locked") {
			return err
		}
		lastErr = err
		time.Sleep(baseDelay * time.Duration(1<<attempt))
	}
	return lastErr
}

// Path returns the database path.
func (s *Store) Path() string {
	return s.dbPath
}

// Close closes the database connection
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// BeginBatch inserts a running batch with a fresh id.
func (s *Store) BeginBatch(ctx context.Context, flowcells, restrictProjects, restrictSamples []string, transferMethod string) (*Batch, error) {
	b := &Batch{
		ID:               uuid.NewString(),
		Flowcells:        flowcells,
		RestrictProjects: restrictProjects,
		RestrictSamples:  restrictSamples,
		TransferMethod:   transferMethod,
		Status:           StatusRunning,
		StartedAt:        time.Now().UTC(),
	}

	fcJSON, err := marshalList(flowcells)
	if err != nil {
		return nil, err
	}
	projJSON, err := marshalList(restrictProjects)
	if err != nil {
		return nil, err
	}
	sampleJSON, err := marshalList(restrictSamples)
	if err != nil {
		return nil, err
	}

	_, err = s.db.ExecContext(ctx, `INSERT INTO batches
		(id, flowcells, restrict_projects, restrict_samples, transfer_method, status, started_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		b.ID, fcJSON, projJSON, sampleJSON, transferMethod, b.Status, b.StartedAt)
	if err != nil {
		return nil, fmt.Errorf("insert batch: %w", err)
	}
	return b, nil
}

// RecordTree stores every fastq file of tree under batchID.
func (s *Store) RecordTree(ctx context.Context, batchID string, tree *models.Tree) (int, error) {
	if tree.Empty() {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO organized_files
		(batch_id, project_id, project_name, sample, libprep, seqrun, file_name, destination)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	count := 0
	for _, p := range tree.Projects() {
		for _, smp := range p.Samples() {
			for _, lp := range smp.LibraryPreps() {
				for _, run := range lp.SequencingRuns() {
					for _, f := range run.FastqFiles() {
						dest := filepath.Join(run.Dir(), f)
						if _, err := stmt.ExecContext(ctx, batchID, p.ID, p.Name, smp.Name, lp.Name, run.Name, f, dest); err != nil {
							return 0, fmt.Errorf("record %s: %w", dest, err)
						}
						count++
					}
				}
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return count, nil
}

// FinishBatch sets the final status and message of a batch.
func (s *Store) FinishBatch(ctx context.Context, batchID, status, message string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE batches SET status = ?, message = ?, finished_at = ? WHERE id = ?`,
		status, message, time.Now().UTC(), batchID)
	if err != nil {
		return fmt.Errorf("update batch: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrBatchNotFound, batchID)
	}
	return nil
}

// ListBatches returns the most recent batches first; limit <= 0 means all.
func (s *Store) ListBatches(ctx context.Context, limit int) ([]*Batch, error) {
	query := `SELECT b.id, b.flowcells, b.restrict_projects, b.restrict_samples, b.transfer_method,
		b.status, COALESCE(b.message, ''), b.started_at, b.finished_at,
		(SELECT COUNT(*) FROM organized_files f WHERE f.batch_id = b.id)
		FROM batches b ORDER BY b.started_at DESC, b.rowid DESC`
	var args []interface{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query batches: %w", err)
	}
	defer rows.Close()

	var batches []*Batch
	for rows.Next() {
		b, err := scanBatch(rows)
		if err != nil {
			return nil, err
		}
		batches = append(batches, b)
	}
	return batches, rows.Err()
}

// GetBatch returns one batch. An unambiguous id prefix is accepted.
func (s *Store) GetBatch(ctx context.Context, id string) (*Batch, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT b.id, b.flowcells, b.restrict_projects, b.restrict_samples, b.transfer_method,
		b.status, COALESCE(b.message, ''), b.started_at, b.finished_at,
		(SELECT COUNT(*) FROM organized_files f WHERE f.batch_id = b.id)
		FROM batches b WHERE b.id LIKE ? || '%' LIMIT 2`, id)
	if err != nil {
		return nil, fmt.Errorf("query batch: %w", err)
	}
	defer rows.Close()

	var found []*Batch
	for rows.Next() {
		b, err := scanBatch(rows)
		if err != nil {
			return nil, err
		}
		found = append(found, b)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	switch len(found) {
	case 0:
		return nil, fmt.Errorf("%w: %s", ErrBatchNotFound, id)
	case 1:
		return found[0], nil
	default:
		return nil, fmt.Errorf("batch id prefix %q is ambiguous", id)
	}
}

// FilesForBatch returns the files recorded for a batch in insertion order.
func (s *Store) FilesForBatch(ctx context.Context, batchID string) ([]*OrganizedFile, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, batch_id, project_id, project_name, sample, libprep, seqrun, file_name, destination
		FROM organized_files WHERE batch_id = ? ORDER BY id`, batchID)
	if err != nil {
		return nil, fmt.Errorf("query files: %w", err)
	}
	defer rows.Close()

	var files []*OrganizedFile
	for rows.Next() {
		f := &OrganizedFile{}
		if err := rows.Scan(&f.ID, &f.BatchID, &f.ProjectID, &f.ProjectName, &f.Sample, &f.LibraryPrep, &f.SeqRun, &f.FileName, &f.Destination); err != nil {
			return nil, fmt.Errorf("scan file: %w", err)
		}
		files = append(files, f)
	}
	return files, rows.Err()
}

func scanBatch(rows *sql.Rows) (*Batch, error) {
	var (
		b                            Batch
		fcJSON, projJSON, sampleJSON sql.NullString
		method                       sql.NullString
		finished                     sql.NullTime
	)
	if err := rows.Scan(&b.ID, &fcJSON, &projJSON, &sampleJSON, &method, &b.Status, &b.Message, &b.StartedAt, &finished, &b.FileCount); err != nil {
		return nil, fmt.Errorf("scan batch: %w", err)
	}
	b.TransferMethod = method.String
	if finished.Valid {
		t := finished.Time
		b.FinishedAt = &t
	}
	for _, f := range []struct {
		raw sql.NullString
		dst *[]string
	}{{fcJSON, &b.Flowcells}, {projJSON, &b.RestrictProjects}, {sampleJSON, &b.RestrictSamples}} {
		if f.raw.Valid && f.raw.String != "" {
			if err := json.Unmarshal([]byte(f.raw.String), f.dst); err != nil {
				return nil, fmt.Errorf("unmarshal batch %s: %w", b.ID, err)
			}
		}
	}
	return &b, nil
}

func marshalList(values []string) (string, error) {
	if values == nil {
		values = []string{}
	}
	data, err := json.Marshal(values)
	if err != nil {
		return "", fmt.Errorf("marshal list: %w", err)
	}
	return string(data), nil
}
