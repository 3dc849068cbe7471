package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "embed"

	"github.com/BTreeMap/IntakePipe/internal/models"
	_ "github.com/lib/pq"
)

// Database connection pool configuration constants
const (
	// DefaultMaxOpenConns is the default maximum number of open connections to the database
	DefaultMaxOpenConns = 25
	// DefaultMaxIdleConns is the default maximum number of idle connections in the pool
	DefaultMaxIdleConns = 25
	// DefaultConnMaxLifetime is the default maximum amount of time a connection may be reused
	DefaultConnMaxLifetime = 5 * time.Minute
)

//go:embed migrations_postgres.sql
var postgresMigrations string

// PostgresStore is a Store backed by PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// Compile-time check that PostgresStore implements Store.
var _ Store = (*PostgresStore)(nil)

// NewPostgresStore creates a new Postgres store based on provided options.
func NewPostgresStore(opts ...Option) (*PostgresStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("PostgresStore.NewPostgresStore: creating Postgres store", "DSN_set", cfg.DSN != "")
	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("PostgresStore DSN not set")
		return nil, ErrDSNNotSet
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		slog.Error("Failed to open Postgres connection", "error", err)
		return nil, err
	}

	db.SetMaxOpenConns(DefaultMaxOpenConns)
	db.SetMaxIdleConns(DefaultMaxIdleConns)
	db.SetConnMaxLifetime(DefaultConnMaxLifetime)

	if err := db.Ping(); err != nil {
		slog.Error("Postgres ping failed", "error", err)
		db.Close()
		return nil, err
	}
	if _, err := db.Exec(postgresMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("Postgres migrations applied successfully")
	return &PostgresStore{db: db}, nil
}

// Backend reports the store type.
func (s *PostgresStore) Backend() string { return BackendPostgres }

// Close closes the PostgreSQL database connection.
func (s *PostgresStore) Close() error {
	slog.Debug("Closing PostgreSQL database connection")
	err := s.db.Close()
	if err != nil {
		slog.Error("Failed to close PostgreSQL database", "error", err)
	}
	return err
}

func (s *PostgresStore) CreateCheckpoint(ctx context.Context, cp models.Checkpoint) (models.Checkpoint, bool, error) {
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
		`INSERT INTO intake_checkpoints (`+checkpointColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		 ON CONFLICT DO NOTHING`,
		cp.SubjectID, cp.TenantID, cp.SubjectKey, cp.SubjectHint, cp.SessionID, cp.Cursor,
		cp.CurrentStageID, answers, cp.Completed, cp.CreatedAt.UTC(), cp.UpdatedAt.UTC(),
		cp.CompletedAt, nilIfEmpty(cp.ExternalID), cp.ExternalSyncedAt, cp.ContactEmail, cp.Revision,
	)
	if err != nil {
		return cp, false, fmt.Errorf("create checkpoint failed: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		// Leave the transaction before reading so the row committed by the winner is visible.
		tx.Rollback()
		existing, err := s.FindResumable(ctx, cp.TenantID, cp.SubjectKey)
		if err != nil {
			return cp, false, err
		}
		if existing == nil {
			return cp, false, fmt.Errorf("create checkpoint conflict for %s without open checkpoint", cp.SubjectID)
		}
		slog.Debug("PostgresStore.CreateCheckpoint: open checkpoint exists", "subjectID", existing.SubjectID)
		return *existing, false, nil
	}
	if err := pgAppendMessages(ctx, tx, cp.SubjectID, cp.Messages); err != nil {
		return cp, false, err
	}
	if err := tx.Commit(); err != nil {
		return cp, false, fmt.Errorf("create checkpoint commit failed: %w", err)
	}
	slog.Debug("PostgresStore.CreateCheckpoint", "subjectID", cp.SubjectID, "tenantID", cp.TenantID)
	return cp, true, nil
}

func (s *PostgresStore) SaveCheckpoint(ctx context.Context, cp models.Checkpoint) error {
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
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		 ON CONFLICT (subject_id) DO UPDATE SET
		   subject_hint = EXCLUDED.subject_hint,
		   session_id = EXCLUDED.session_id,
		   cursor_pos = EXCLUDED.cursor_pos,
		   current_stage_id = EXCLUDED.current_stage_id,
		   answers_json = EXCLUDED.answers_json,
		   completed = intake_checkpoints.completed OR EXCLUDED.completed,
		   updated_at = EXCLUDED.updated_at,
		   completed_at = COALESCE(intake_checkpoints.completed_at, EXCLUDED.completed_at),
		   external_id = COALESCE(EXCLUDED.external_id, intake_checkpoints.external_id),
		   contact_email = EXCLUDED.contact_email,
		   revision = EXCLUDED.revision
		 WHERE intake_checkpoints.revision = EXCLUDED.revision - 1`,
		cp.SubjectID, cp.TenantID, cp.SubjectKey, cp.SubjectHint, cp.SessionID, cp.Cursor,
		cp.CurrentStageID, answers, cp.Completed, cp.CreatedAt.UTC(), cp.UpdatedAt.UTC(),
		cp.CompletedAt, nilIfEmpty(cp.ExternalID), cp.ExternalSyncedAt, cp.ContactEmail, cp.Revision,
	)
	if err != nil {
		return fmt.Errorf("save checkpoint failed for %s: %w", cp.SubjectID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		slog.Warn("PostgresStore.SaveCheckpoint: stale revision rejected", "subjectID", cp.SubjectID, "revision", cp.Revision)
		return ErrStaleCheckpoint
	}
	if err := pgAppendMessages(ctx, tx, cp.SubjectID, cp.Messages); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("save checkpoint commit failed: %w", err)
	}
	slog.Debug("PostgresStore.SaveCheckpoint", "subjectID", cp.SubjectID, "cursor", cp.Cursor, "completed", cp.Completed)
	return nil
}

func (s *PostgresStore) GetCheckpoint(ctx context.Context, subjectID string) (*models.Checkpoint, error) {
	cp, err := s.queryOne(ctx, `SELECT `+checkpointColumns+` FROM intake_checkpoints WHERE subject_id = $1`, subjectID)
	if err != nil {
		return nil, err
	}
	if cp == nil {
		return nil, ErrCheckpointNotFound
	}
	return cp, nil
}

func (s *PostgresStore) FindResumable(ctx context.Context, tenantID, subjectKey string) (*models.Checkpoint, error) {
	if subjectKey == "" {
		return nil, nil
	}
	return s.queryOne(ctx,
		`SELECT `+checkpointColumns+` FROM intake_checkpoints
		 WHERE tenant_id = $1 AND subject_key = $2 AND completed = FALSE
		 ORDER BY updated_at DESC LIMIT 1`,
		tenantID, subjectKey,
	)
}

func (s *PostgresStore) FindRecentDuplicate(ctx context.Context, tenantID, subjectKey string, window time.Duration) (*models.Checkpoint, error) {
	if subjectKey == "" || window <= 0 {
		return nil, nil
	}
	return s.queryOne(ctx,
		`SELECT `+checkpointColumns+` FROM intake_checkpoints
		 WHERE tenant_id = $1 AND subject_key = $2 AND completed = FALSE AND created_at >= $3
		 ORDER BY created_at DESC LIMIT 1`,
		tenantID, subjectKey, now().Add(-window),
	)
}

func (s *PostgresStore) FindBySession(ctx context.Context, sessionID string) (*models.Checkpoint, error) {
	if sessionID == "" {
		return nil, nil
	}
	return s.queryOne(ctx, `SELECT `+checkpointColumns+` FROM intake_checkpoints WHERE session_id = $1 LIMIT 1`, sessionID)
}

func (s *PostgresStore) MarkCompleted(ctx context.Context, subjectID string, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE intake_checkpoints SET completed = TRUE, completed_at = COALESCE(completed_at, $1), updated_at = $2 WHERE subject_id = $3`,
		at.UTC(), now(), subjectID,
	)
	if err != nil {
		return fmt.Errorf("mark completed failed for %s: %w", subjectID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrCheckpointNotFound
	}
	slog.Debug("PostgresStore.MarkCompleted", "subjectID", subjectID)
	return nil
}

func (s *PostgresStore) RecordExternalID(ctx context.Context, subjectID, externalID string, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE intake_checkpoints SET external_id = $1, external_synced_at = $2 WHERE subject_id = $3`,
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

func (s *PostgresStore) ListCheckpoints(ctx context.Context, filter CheckpointFilter, page Page) ([]models.Checkpoint, int, error) {
	page = page.Normalize()
	where, args := checkpointWhere(filter, func(n int) string { return fmt.Sprintf("$%d", n) }, "completed = TRUE", "completed = FALSE")

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM intake_checkpoints`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count checkpoints failed: %w", err)
	}
	n := len(args)
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+checkpointColumns+` FROM intake_checkpoints`+where+
			fmt.Sprintf(` ORDER BY created_at DESC, subject_id ASC LIMIT $%d OFFSET $%d`, n+1, n+2),
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

func (s *PostgresStore) queryOne(ctx context.Context, query string, args ...any) (*models.Checkpoint, error) {
	cp, err := scanCheckpoint(s.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("checkpoint query failed: %w", err)
	}
	cp.Messages, err = loadMessages(ctx, s.db,
		`SELECT role, content, created_at FROM intake_messages WHERE subject_id = $1 ORDER BY seq ASC`, cp.SubjectID)
	if err != nil {
		return nil, err
	}
	return &cp, nil
}

func pgAppendMessages(ctx context.Context, q querier, subjectID string, msgs []models.Message) error {
	var next int
	if err := q.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq) + 1, 0) FROM intake_messages WHERE subject_id = $1`, subjectID).Scan(&next); err != nil {
		return fmt.Errorf("message sequence lookup failed: %w", err)
	}
	for i := next; i < len(msgs); i++ {
		m := msgs[i]
		if _, err := q.ExecContext(ctx,
			`INSERT INTO intake_messages (subject_id, seq, role, content, created_at) VALUES ($1, $2, $3, $4, $5)
			 ON CONFLICT (subject_id, seq) DO NOTHING`,
			subjectID, i, string(m.Role), m.Content, m.Timestamp.UTC(),
		); err != nil {
			return fmt.Errorf("append message %d failed: %w", i, err)
		}
	}
	return nil
}
