package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/BTreeMap/IntakePipe/internal/models"
)

// checkpointColumns is the select list shared by every checkpoint query.
const checkpointColumns = `subject_id, tenant_id, subject_key, subject_hint, session_id, cursor_pos,
	current_stage_id, answers_json, completed, created_at, updated_at, completed_at, external_id, external_synced_at,
	contact_email, revision`

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// nilIfEmpty returns nil if s is empty, otherwise returns s.
// Used for nullable database columns.
func nilIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func encodeAnswers(a models.Answers) (string, error) {
	if a == nil {
		return "{}", nil
	}
	data, err := json.Marshal(a)
	if err != nil {
		return "", fmt.Errorf("failed to marshal answers: %w", err)
	}
	return string(data), nil
}

// scanCheckpoint scans a checkpoint row without its messages.
func scanCheckpoint(row rowScanner) (models.Checkpoint, error) {
	var cp models.Checkpoint
	var answersJSON []byte
	var completedAt, syncedAt sql.NullTime
	var externalID sql.NullString
	err := row.Scan(
		&cp.SubjectID, &cp.TenantID, &cp.SubjectKey, &cp.SubjectHint, &cp.SessionID, &cp.Cursor,
		&cp.CurrentStageID, &answersJSON, &cp.Completed, &cp.CreatedAt, &cp.UpdatedAt,
		&completedAt, &externalID, &syncedAt,
		&cp.ContactEmail, &cp.Revision,
	)
	if err != nil {
		return cp, err
	}
	if len(answersJSON) > 0 {
		if err := json.Unmarshal(answersJSON, &cp.Answers); err != nil {
			return cp, fmt.Errorf("failed to decode answers for %s: %w", cp.SubjectID, err)
		}
	}
	if cp.Answers == nil {
		cp.Answers = models.Answers{}
	}
	if completedAt.Valid {
		cp.CompletedAt = &completedAt.Time
	}
	if syncedAt.Valid {
		cp.ExternalSyncedAt = &syncedAt.Time
	}
	cp.ExternalID = externalID.String
	return cp, nil
}

func scanCheckpoints(rows *sql.Rows) ([]models.Checkpoint, error) {
	var out []models.Checkpoint
	for rows.Next() {
		cp, err := scanCheckpoint(rows)
		if err != nil {
			return nil, fmt.Errorf("scan checkpoint failed: %w", err)
		}
		out = append(out, cp)
	}
	return out, rows.Err()
}

// checkpointWhere builds the WHERE clause for filter. placeholder renders the
// n-th bind parameter; completed and pending are the dialect's status predicates.
func checkpointWhere(filter CheckpointFilter, placeholder func(n int) string, completed, pending string) (string, []any) {
	var conds []string
	var args []any
	bind := func(v any) string {
		args = append(args, v)
		return placeholder(len(args))
	}
	if filter.TenantID != "" {
		conds = append(conds, "tenant_id = "+bind(filter.TenantID))
	}
	switch filter.Status {
	case StatusCompleted:
		conds = append(conds, completed)
	case StatusPending:
		conds = append(conds, pending)
	}
	if term := strings.TrimSpace(filter.Search); term != "" {
		pattern := likePattern(term)
		conds = append(conds, fmt.Sprintf(`(LOWER(subject_hint) LIKE %s ESCAPE '\' OR LOWER(contact_email) LIKE %s ESCAPE '\')`,
			bind(pattern), bind(pattern)))
	}
	if !filter.CompletedAfter.IsZero() {
		conds = append(conds, "completed_at >= "+bind(filter.CompletedAfter.UTC()))
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

// scanOutboxMessage scans an OutboxMessage from a result row.
func scanOutboxMessage(row rowScanner) (OutboxMessage, error) {
	var m OutboxMessage
	var payloadJSON, dedupeKey, lastError sql.NullString
	var nextAttemptAt, lockedAt sql.NullTime
	err := row.Scan(
		&m.ID, &m.SubjectID, &m.Kind, &payloadJSON, &m.Status, &m.Attempts,
		&nextAttemptAt, &dedupeKey, &lockedAt, &lastError, &m.CreatedAt, &m.UpdatedAt,
	)
	if err != nil {
		return m, fmt.Errorf("scan outbox message failed: %w", err)
	}
	m.PayloadJSON = payloadJSON.String
	m.DedupeKey = dedupeKey.String
	m.LastError = lastError.String
	if nextAttemptAt.Valid {
		m.NextAttemptAt = &nextAttemptAt.Time
	}
	if lockedAt.Valid {
		m.LockedAt = &lockedAt.Time
	}
	return m, nil
}

// loadMessages reads a subject's message log in sequence order.
func loadMessages(ctx context.Context, q querier, query, subjectID string) ([]models.Message, error) {
	rows, err := q.QueryContext(ctx, query, subjectID)
	if err != nil {
		return nil, fmt.Errorf("message query failed for %s: %w", subjectID, err)
	}
	defer rows.Close()
	var msgs []models.Message
	for rows.Next() {
		var m models.Message
		var role string
		if err := rows.Scan(&role, &m.Content, &m.Timestamp); err != nil {
			return nil, fmt.Errorf("scan message failed: %w", err)
		}
		m.Role = models.Role(role)
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}
