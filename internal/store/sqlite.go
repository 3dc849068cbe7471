package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "embed"

	"github.com/BTreeMap/IntakePipe/internal/models"
	_ "github.com/mattn/go-sqlite3"
)

// DefaultDirPermissions defines the default permissions for database directories.
const DefaultDirPermissions = 0755

//go:embed migrations_sqlite.sql
var sqliteMigrations string

// SQLiteStore is a Store backed by a single SQLite database file.
type SQLiteStore struct {
	db *sql.DB
}

// Compile-time check that SQLiteStore implements Store.
var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore creates a new SQLite store with the given DSN.
// The DSN should be a file path to the SQLite database file.
// If the directory doesn't exist, it will be created.
func NewSQLiteStore(opts ...Option) (*SQLiteStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewSQLiteStore invoked", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("SQLiteStore DSN not set")
		return nil, ErrDSNNotSet
	}

	dir := filepath.Dir(dsn)
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		slog.Error("Failed to create database directory", "error", err, "dir", dir)
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		slog.Error("Failed to open SQLite connection", "error", err)
		return nil, err
	}
	// SQLite serializes writers; one connection avoids SQLITE_BUSY under concurrent turns.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		slog.Error("SQLite ping failed", "error", err)
		db.Close()
		return nil, err
	}

	if _, err := db.Exec(sqliteMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("SQLite migrations applied successfully", "dir", dir)

	return &SQLiteStore{db: db}, nil
}

// Backend reports the store type.
func (s *SQLiteStore) Backend() string { return BackendSQLite }

// Close closes the SQLite database connection.
func (s *SQLiteStore) Close() error {
	slog.Debug("Closing SQLite database connection")
	err := s.db.Close()
	if err != nil {
		slog.Error("Failed to close SQLite database", "error", err)
	}
	return err
}

func (s *SQLiteStore) CreateCheckpoint(ctx context.Context, cp models.Checkpoint) (models.Checkpoint, bool, error) {
	answers, err := encodeAnswers(cp.Answers)
	if err != nil {
		return cp, false, err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return cp, false, fmt.Errorf("create checkpoint begin failed: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO intake_checkpoints (`+checkpointColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		cp.SubjectID, cp.TenantID, cp.SubjectKey, cp.SubjectHint, cp.SessionID, cp.Cursor,
		cp.CurrentStageID, answers, cp.Completed, cp.CreatedAt.UTC(), cp.UpdatedAt.UTC(),
		cp.CompletedAt, nilIfEmpty(cp.ExternalID), cp.ExternalSyncedAt, cp.ContactEmail, cp.Revision,
	)
	if err != nil {
		return cp, false, fmt.Errorf("create checkpoint failed: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		row := tx.QueryRowContext(ctx,
			`SELECT `+checkpointColumns+` FROM intake_checkpoints
			 WHERE tenant_id = ? AND subject_key = ? AND completed = 0 AND subject_key <> ''
			 ORDER BY updated_at DESC LIMIT 1`,
			cp.TenantID, cp.SubjectKey,
		)
		existing, err := scanCheckpoint(row)
		if err != nil {
			return cp, false, fmt.Errorf("create checkpoint conflict lookup failed: %w", err)
		}
		if existing.Messages, err = sqliteMessages(ctx, tx, existing.SubjectID); err != nil {
			return cp, false, err
		}
		slog.Debug("SQLiteStore.CreateCheckpoint: open checkpoint exists", "subjectID", existing.SubjectID)
		return existing, false, nil
	}
	if err := sqliteAppendMessages(ctx, tx, cp.SubjectID, cp.Messages); err != nil {
		return cp, false, err
	}
	if err := tx.Commit(); err != nil {
		return cp, false, fmt.Errorf("create checkpoint commit failed: %w", err)
	}
	slog.Debug("SQLiteStore.CreateCheckpoint", "subjectID", cp.SubjectID, "tenantID", cp.TenantID)
	return cp, true, nil
}

func (s *SQLiteStore) SaveCheckpoint(ctx context.Context, cp models.Checkpoint) error {
	answers, err := encodeAnswers(cp.Answers)
	if err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("save checkpoint begin failed: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`INSERT INTO intake_checkpoints (`+checkpointColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(subject_id) DO UPDATE SET
		   subject_hint = excluded.subject_hint,
		   session_id = excluded.session_id,
		   cursor_pos = excluded.cursor_pos,
		   current_stage_id = excluded.current_stage_id,
		   answers_json = excluded.answers_json,
		   completed = CASE WHEN intake_checkpoints.completed THEN 1 ELSE excluded.completed END,
		   updated_at = excluded.updated_at,
		   completed_at = COALESCE(intake_checkpoints.completed_at, excluded.completed_at),
		   external_id = COALESCE(excluded.external_id, intake_checkpoints.external_id),
		   contact_email = excluded.contact_email,
		   revision = excluded.revision
		 WHERE intake_checkpoints.revision = excluded.revision - 1`,
		cp.SubjectID, cp.TenantID, cp.SubjectKey, cp.SubjectHint, cp.SessionID, cp.Cursor,
		cp.CurrentStageID, answers, cp.Completed, cp.CreatedAt.UTC(), cp.UpdatedAt.UTC(),
		cp.CompletedAt, nilIfEmpty(cp.ExternalID), cp.ExternalSyncedAt, cp.ContactEmail, cp.Revision,
	)
	if err != nil {
		return fmt.Errorf("save checkpoint failed for %s: %w", cp.SubjectID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		slog.Warn("SQLiteStore.SaveCheckpoint: stale revision rejected", "subjectID", cp.SubjectID, "revision", cp.Revision)
		return ErrStaleCheckpoint
	}
	if err := sqliteAppendMessages(ctx, tx, cp.SubjectID, cp.Messages); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("save checkpoint commit failed: %w", err)
	}
	slog.Debug("SQLiteStore.SaveCheckpoint", "subjectID", cp.SubjectID, "cursor", cp.Cursor, "completed", cp.Completed)
	return nil
}

func (s *SQLiteStore) GetCheckpoint(ctx context.Context, subjectID string) (*models.Checkpoint, error) {
	cp, err := s.queryOne(ctx, `SELECT `+checkpointColumns+` FROM intake_checkpoints WHERE subject_id = ?`, subjectID)
	if err != nil {
		return nil, err
	}
	if cp == nil {
		return nil, ErrCheckpointNotFound
	}
	return cp, nil
}

func (s *SQLiteStore) FindResumable(ctx context.Context, tenantID, subjectKey string) (*models.Checkpoint, error) {
	if subjectKey == "" {
		return nil, nil
	}
	return s.queryOne(ctx,
		`SELECT `+checkpointColumns+` FROM intake_checkpoints
		 WHERE tenant_id = ? AND subject_key = ? AND completed = 0
		 ORDER BY updated_at DESC LIMIT 1`,
		tenantID, subjectKey,
	)
}

func (s *SQLiteStore) FindRecentDuplicate(ctx context.Context, tenantID, subjectKey string, window time.Duration) (*models.Checkpoint, error) {
	if subjectKey == "" || window <= 0 {
		return nil, nil
	}
	return s.queryOne(ctx,
		`SELECT `+checkpointColumns+` FROM intake_checkpoints
		 WHERE tenant_id = ? AND subject_key = ? AND completed = 0 AND created_at >= ?
		 ORDER BY created_at DESC LIMIT 1`,
		tenantID, subjectKey, now().Add(-window),
	)
}

func (s *SQLiteStore) FindBySession(ctx context.Context, sessionID string) (*models.Checkpoint, error) {
	if sessionID == "" {
		return nil, nil
	}
	return s.queryOne(ctx, `SELECT `+checkpointColumns+` FROM intake_checkpoints WHERE session_id = ? LIMIT 1`, sessionID)
}

func (s *SQLiteStore) MarkCompleted(ctx context.Context, subjectID string, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE intake_checkpoints SET completed = 1, completed_at = COALESCE(completed_at, ?), updated_at = ? WHERE subject_id = ?`,
		at.UTC(), now(), subjectID,
	)
	if err != nil {
		return fmt.Errorf("mark completed failed for %s: %w", subjectID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrCheckpointNotFound
	}
	slog.Debug("SQLiteStore.MarkCompleted", "subjectID", subjectID)
	return nil
}

func (s *SQLiteStore) RecordExternalID(ctx context.Context, subjectID, externalID string, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE intake_checkpoints SET external_id = ?, external_synced_at = ? WHERE subject_id = ?`,
		externalID, at.UTC(), subjectID,
	)
	if err != nil {
		return fmt.Errorf("record external id failed for %s: %w", subjectID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrCheckpointNotFound
	}
	return nil
}

func (s *SQLiteStore) ListCheckpoints(ctx context.Context, filter CheckpointFilter, page Page) ([]models.Checkpoint, int, error) {
	page = page.Normalize()
	where, args := checkpointWhere(filter, func(int) string { return "?" }, "completed = 1", "completed = 0")

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM intake_checkpoints`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count checkpoints failed: %w", err)
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+checkpointColumns+` FROM intake_checkpoints`+where+`
		 ORDER BY created_at DESC, subject_id ASC LIMIT ? OFFSET ?`,
		append(args, page.Size, page.Offset())...,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("list checkpoints failed: %w", err)
	}
	defer rows.Close()
	out, err := scanCheckpoints(rows)
	if err != nil {
		return nil, 0, err
	}
	return out, total, nil
}

// queryOne loads a single checkpoint and its message log, returning nil when no row matches.
func (s *SQLiteStore) queryOne(ctx context.Context, query string, args ...any) (*models.Checkpoint, error) {
	cp, err := scanCheckpoint(s.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("checkpoint query failed: %w", err)
	}
	if cp.Messages, err = sqliteMessages(ctx, s.db, cp.SubjectID); err != nil {
		return nil, err
	}
	return &cp, nil
}

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func sqliteMessages(ctx context.Context, q querier, subjectID string) ([]models.Message, error) {
	return loadMessages(ctx, q, `SELECT role, content, created_at FROM intake_messages WHERE subject_id = ? ORDER BY seq ASC`, subjectID)
}

// sqliteAppendMessages stores the tail of msgs that is not yet persisted.
func sqliteAppendMessages(ctx context.Context, q querier, subjectID string, msgs []models.Message) error {
	var next int
	if err := q.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq) + 1, 0) FROM intake_messages WHERE subject_id = ?`, subjectID).Scan(&next); err != nil {
		return fmt.Errorf("message sequence lookup failed: %w", err)
	}
	for i := next; i < len(msgs); i++ {
		m := msgs[i]
		if _, err := q.ExecContext(ctx,
			`INSERT INTO intake_messages (subject_id, seq, role, content, created_at) VALUES (?, ?, ?, ?, ?)`,
			subjectID, i, string(m.Role), m.Content, m.Timestamp.UTC(),
		); err != nil {
			return fmt.Errorf("append message %d failed: %w", i, err)
		}
	}
	return nil
}
