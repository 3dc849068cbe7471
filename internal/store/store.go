// Package store provides storage backends for IntakePipe.
//
// It holds durable intake checkpoints, the outbox used for completion
// hand-offs, and inbound message deduplication records. SQLite, Postgres and
// an in-memory implementation share the same interfaces.
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/BTreeMap/IntakePipe/internal/models"
)

// Error variables for store operations.
var (
	ErrCheckpointNotFound = errors.New("checkpoint not found")
	ErrStaleCheckpoint    = errors.New("checkpoint was saved by a newer turn")
	ErrDSNNotSet          = errors.New("database DSN not set")
)

// Backend names reported by Store.Backend.
const (
	BackendMemory   = "memory"
	BackendSQLite   = "sqlite3"
	BackendPostgres = "postgres"
)

// CheckpointStore persists intake checkpoints keyed by subject.
type CheckpointStore interface {
	// CreateCheckpoint inserts a new checkpoint. When an open checkpoint already
	// exists for the same tenant and non-empty subject key it returns that one and false.
	CreateCheckpoint(ctx context.Context, cp models.Checkpoint) (models.Checkpoint, bool, error)

	// SaveCheckpoint upserts cp by subject ID. Only messages not yet stored are appended.
	// An existing record is only replaced when its revision is cp.Revision-1;
	// otherwise nothing is written and ErrStaleCheckpoint is returned.
	SaveCheckpoint(ctx context.Context, cp models.Checkpoint) error

	// GetCheckpoint returns the checkpoint for subjectID or ErrCheckpointNotFound.
	GetCheckpoint(ctx context.Context, subjectID string) (*models.Checkpoint, error)

	// FindResumable returns the most recently updated incomplete checkpoint for the subject, or nil.
	FindResumable(ctx context.Context, tenantID, subjectKey string) (*models.Checkpoint, error)

	// FindRecentDuplicate returns an incomplete checkpoint for the subject created within window, or nil.
	FindRecentDuplicate(ctx context.Context, tenantID, subjectKey string, window time.Duration) (*models.Checkpoint, error)

	// FindBySession returns the checkpoint last written by sessionID, or nil.
	FindBySession(ctx context.Context, sessionID string) (*models.Checkpoint, error)

	// MarkCompleted flips the durable completed flag. Repeated calls keep the first completion time.
	MarkCompleted(ctx context.Context, subjectID string, at time.Time) error

	// RecordExternalID stores the identifier assigned by the CRM.
	RecordExternalID(ctx context.Context, subjectID, externalID string, at time.Time) error
}

// Checkpoint list status filters.
const (
	StatusAll       = ""
	StatusCompleted = "completed"
	StatusPending   = "pending"
)

// Page size bounds for ListCheckpoints.
const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// CheckpointFilter narrows ListCheckpoints. Zero values match everything.
type CheckpointFilter struct {
	TenantID string
	Status   string
	// Search is a case-insensitive substring of the subject hint or contact email.
	Search         string
	CompletedAfter time.Time
}

// Page selects a 1-based page of results.
type Page struct {
	Number int
	Size   int
}

// Normalize applies the defaults and clamps the size to MaxPageSize.
func (p Page) Normalize() Page {
	if p.Number < 1 {
		p.Number = 1
	}
	if p.Size < 1 {
		p.Size = DefaultPageSize
	}
	if p.Size > MaxPageSize {
		p.Size = MaxPageSize
	}
	return p
}

// Offset is the number of rows skipped before the page.
func (p Page) Offset() int { return (p.Number - 1) * p.Size }

// CheckpointLister pages through checkpoints, newest first.
type CheckpointLister interface {
	// ListCheckpoints returns one page of matching checkpoints without their
	// message logs, plus the total number of matches.
	ListCheckpoints(ctx context.Context, filter CheckpointFilter, page Page) ([]models.Checkpoint, int, error)
}

// Store is the full persistence surface used by the application.
type Store interface {
	CheckpointStore
	CheckpointLister
	OutboxRepo
	DedupRepo
	Backend() string
	Close() error
}

// Opts holds configuration options for store implementations.
type Opts struct {
	DSN string
}

// Option is a functional option for configuring stores.
type Option func(*Opts)

// WithSQLiteDSN sets the SQLite database file path.
func WithSQLiteDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// WithPostgresDSN sets the Postgres connection string.
func WithPostgresDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// DetectDSNType returns BackendPostgres for Postgres URLs or key/value DSNs and BackendSQLite otherwise.
func DetectDSNType(dsn string) string {
	d := strings.TrimSpace(dsn)
	switch {
	case strings.HasPrefix(d, "postgres://"), strings.HasPrefix(d, "postgresql://"):
		return BackendPostgres
	case strings.Contains(d, "host=") || strings.Contains(d, "dbname="):
		return BackendPostgres
	default:
		return BackendSQLite
	}
}

// Open creates the store matching dsn. An empty dsn yields an in-memory store.
func Open(dsn string) (Store, error) {
	if dsn == "" {
		slog.Warn("store.Open: no DSN configured, using in-memory store; progress will not survive restarts")
		return NewInMemoryStore(), nil
	}
	switch DetectDSNType(dsn) {
	case BackendPostgres:
		s, err := NewPostgresStore(WithPostgresDSN(dsn))
		if err != nil {
			return nil, fmt.Errorf("failed to open postgres store: %w", err)
		}
		return s, nil
	default:
		s, err := NewSQLiteStore(WithSQLiteDSN(dsn))
		if err != nil {
			return nil, fmt.Errorf("failed to open sqlite store: %w", err)
		}
		return s, nil
	}
}

func now() time.Time { return time.Now().UTC() }

// likePattern turns a search term into a lowercase LIKE pattern with wildcards escaped.
func likePattern(term string) string {
	r := strings.NewReplacer(`\`, `\\`, "%", `\%`, "_", `\_`)
	return "%" + r.Replace(strings.ToLower(strings.TrimSpace(term))) + "%"
}
