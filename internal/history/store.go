// Package history archives finished reports so alignment can be tracked over
// time. Scans never read it back.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"tracescan/internal/errors"
	"tracescan/internal/report"
)

// Store is the sqlite-backed report archive.
type Store struct {
	conn   *sql.DB
	logger *slog.Logger
	path   string
	now    func() time.Time
}

// Run is one archived report summary.
type Run struct {
	ID               string    `json:"id"`
	Mode             string    `json:"mode"`
	GeneratedAt      time.Time `json:"generatedAt"`
	RecordedAt       time.Time `json:"recordedAt"`
	AlignmentPercent float64   `json:"alignmentPercent"`
	DriftLevel       string    `json:"driftLevel"`
	Entries          int       `json:"entries"`
	Definitions      int       `json:"definitions"`
	CompleteChains   int       `json:"completeChains"`
}

// Open opens or creates the archive at dbPath.
func Open(dbPath string, logger *slog.Logger) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, errors.New(errors.HistoryFailed, "failed to create history directory", err)
	}
	exists := fileExists(dbPath)

	conn, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, errors.New(errors.HistoryFailed, "failed to open history database", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
	}
	for _, pragma := range pragmas {
		if _, err := conn.Exec(pragma); err != nil {
			conn.Close()
			return nil, errors.New(errors.HistoryFailed, "failed to set pragma", err)
		}
	}

	s := &Store{conn: conn, logger: logger, path: dbPath, now: time.Now}
	if !exists {
		logger.Info("Creating history database", "path", dbPath)
		err = s.initializeSchema()
	} else {
		err = s.runMigrations()
	}
	if err != nil {
		conn.Close()
		return nil, errors.New(errors.HistoryFailed, "failed to prepare history schema", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.conn != nil {
		return s.conn.Close()
	}
	return nil
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// withTx executes fn within a transaction, rolling back on error.
func (s *Store) withTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			s.logger.Error("Failed to rollback transaction", "error", err.Error(), "rollbackError", rbErr.Error())
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Record archives rep and returns its run id. Superseded placeholders are
// not archived.
func (s *Store) Record(ctx context.Context, rep *report.Report) (string, error) {
	if rep.Status != report.StatusComplete {
		return "", errors.New(errors.HistoryFailed, fmt.Sprintf("refusing to archive a %s report", rep.Status), nil)
	}

	data, err := report.EncodeJSON(rep)
	if err != nil {
		return "", errors.New(errors.HistoryFailed, "failed to encode report", err)
	}
	blob := compress(data)

	id := uuid.NewString()
	err = s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO runs (id, mode, generated_at, recorded_at, alignment, drift_level,
				entries, definitions, complete_chains, report)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			id, rep.Mode,
			rep.GeneratedAt.UTC().Format(time.RFC3339Nano),
			s.now().UTC().Format(time.RFC3339Nano),
			rep.AlignmentPercent, string(rep.DriftLevel),
			rep.Summary.Entries, rep.Summary.Definitions, rep.Summary.CompleteChains,
			blob)
		return err
	})
	if err != nil {
		return "", errors.New(errors.HistoryFailed, "failed to archive report", err)
	}

	s.logger.Debug("Report archived", "id", id, "bytes", len(data), "compressed", len(blob))
	return id, nil
}

// List returns up to limit runs, newest first. mode filters when non-empty.
func (s *Store) List(ctx context.Context, mode string, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}

	query := `SELECT id, mode, generated_at, recorded_at, alignment, drift_level,
			entries, definitions, complete_chains
		FROM runs`
	args := []interface{}{}
	if mode != "" {
		query += ` WHERE mode = ?`
		args = append(args, mode)
	}
	query += ` ORDER BY recorded_at DESC, seq DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.New(errors.HistoryFailed, "failed to list runs", err)
	}
	defer rows.Close()

	runs := []Run{}
	for rows.Next() {
		var r Run
		var generated, recorded string
		if err := rows.Scan(&r.ID, &r.Mode, &generated, &recorded, &r.AlignmentPercent, &r.DriftLevel,
			&r.Entries, &r.Definitions, &r.CompleteChains); err != nil {
			return nil, errors.New(errors.HistoryFailed, "failed to read run", err)
		}
		r.GeneratedAt, _ = time.Parse(time.RFC3339Nano, generated)
		r.RecordedAt, _ = time.Parse(time.RFC3339Nano, recorded)
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.New(errors.HistoryFailed, "failed to list runs", err)
	}
	return runs, nil
}

// Report returns the archived JSON report for id.
func (s *Store) Report(ctx context.Context, id string) ([]byte, error) {
	var blob []byte
	err := s.conn.QueryRowContext(ctx, `SELECT report FROM runs WHERE id = ?`, id).Scan(&blob)
	if err == sql.ErrNoRows {
		return nil, errors.New(errors.HistoryFailed, fmt.Sprintf("no archived run %s", id), nil)
	}
	if err != nil {
		return nil, errors.New(errors.HistoryFailed, "failed to read archived report", err)
	}
	data, err := decompress(blob)
	if err != nil {
		return nil, errors.New(errors.HistoryFailed, "archived report is corrupt", err)
	}
	return data, nil
}

// Prune keeps the newest keep runs and deletes the rest. It returns the
// number of deleted runs.
func (s *Store) Prune(ctx context.Context, keep int) (int, error) {
	if keep < 0 {
		keep = 0
	}
	var deleted int64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			DELETE FROM runs WHERE seq NOT IN (
				SELECT seq FROM runs ORDER BY recorded_at DESC, seq DESC LIMIT ?
			)`, keep)
		if err != nil {
			return err
		}
		deleted, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return 0, errors.New(errors.HistoryFailed, "failed to prune history", err)
	}
	if deleted > 0 {
		s.logger.Info("History pruned", "deleted", deleted, "kept", keep)
	}
	return int(deleted), nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
