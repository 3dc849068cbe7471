package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/BTreeMap/IntakePipe/internal/models"
	"github.com/BTreeMap/IntakePipe/internal/util"
)

// InMemoryStore keeps everything in process memory. Used for development and tests.
type InMemoryStore struct {
	mu          sync.RWMutex
	checkpoints map[string]models.Checkpoint
	outbox      map[string]*OutboxMessage
	dedup       map[string]DedupRecord
}

// Compile-time check that InMemoryStore implements Store.
var _ Store = (*InMemoryStore)(nil)

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		checkpoints: make(map[string]models.Checkpoint),
		outbox:      make(map[string]*OutboxMessage),
		dedup:       make(map[string]DedupRecord),
	}
}

func (s *InMemoryStore) Backend() string { return BackendMemory }

func (s *InMemoryStore) Close() error { return nil }

func cloneCheckpoint(cp models.Checkpoint) models.Checkpoint {
	c := cp
	c.Answers = cp.Answers.Clone()
	if c.Answers == nil {
		c.Answers = models.Answers{}
	}
	c.Messages = append([]models.Message(nil), cp.Messages...)
	return c
}

// openFor returns the most recently updated open checkpoint for a subject key. Caller holds mu.
func (s *InMemoryStore) openFor(tenantID, subjectKey string) (models.Checkpoint, bool) {
	var best models.Checkpoint
	found := false
	for _, cp := range s.checkpoints {
		if cp.Completed || cp.TenantID != tenantID || cp.SubjectKey != subjectKey {
			continue
		}
		if !found || cp.UpdatedAt.After(best.UpdatedAt) {
			best, found = cp, true
		}
	}
	return best, found
}

func (s *InMemoryStore) CreateCheckpoint(_ context.Context, cp models.Checkpoint) (models.Checkpoint, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cp.SubjectKey != "" {
		if existing, ok := s.openFor(cp.TenantID, cp.SubjectKey); ok {
			return cloneCheckpoint(existing), false, nil
		}
	}
	s.checkpoints[cp.SubjectID] = cloneCheckpoint(cp)
	return cp, true, nil
}

func (s *InMemoryStore) SaveCheckpoint(_ context.Context, cp models.Checkpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := cloneCheckpoint(cp)
	if prev, ok := s.checkpoints[cp.SubjectID]; ok {
		if prev.Revision != cp.Revision-1 {
			return ErrStaleCheckpoint
		}
		next.CreatedAt = prev.CreatedAt
		next.Completed = prev.Completed || cp.Completed
		if prev.CompletedAt != nil {
			next.CompletedAt = prev.CompletedAt
		}
		if next.ExternalID == "" {
			next.ExternalID = prev.ExternalID
		}
		next.ExternalSyncedAt = prev.ExternalSyncedAt
		if len(next.Messages) < len(prev.Messages) {
			next.Messages = prev.Messages
		}
	}
	s.checkpoints[cp.SubjectID] = next
	return nil
}

func (s *InMemoryStore) GetCheckpoint(_ context.Context, subjectID string) (*models.Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cp, ok := s.checkpoints[subjectID]
	if !ok {
		return nil, ErrCheckpointNotFound
	}
	c := cloneCheckpoint(cp)
	return &c, nil
}

func (s *InMemoryStore) FindResumable(_ context.Context, tenantID, subjectKey string) (*models.Checkpoint, error) {
	if subjectKey == "" {
		return nil, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	cp, ok := s.openFor(tenantID, subjectKey)
	if !ok {
		return nil, nil
	}
	c := cloneCheckpoint(cp)
	return &c, nil
}

func (s *InMemoryStore) FindRecentDuplicate(_ context.Context, tenantID, subjectKey string, window time.Duration) (*models.Checkpoint, error) {
	if subjectKey == "" || window <= 0 {
		return nil, nil
	}
	cutoff := now().Add(-window)
	s.mu.RLock()
	defer s.mu.RUnlock()
	cp, ok := s.openFor(tenantID, subjectKey)
	if !ok || cp.CreatedAt.Before(cutoff) {
		return nil, nil
	}
	c := cloneCheckpoint(cp)
	return &c, nil
}

func (s *InMemoryStore) FindBySession(_ context.Context, sessionID string) (*models.Checkpoint, error) {
	if sessionID == "" {
		return nil, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, cp := range s.checkpoints {
		if cp.SessionID == sessionID {
			c := cloneCheckpoint(cp)
			return &c, nil
		}
	}
	return nil, nil
}

func (s *InMemoryStore) ListCheckpoints(_ context.Context, filter CheckpointFilter, page Page) ([]models.Checkpoint, int, error) {
	page = page.Normalize()
	term := strings.ToLower(strings.TrimSpace(filter.Search))
	s.mu.RLock()
	var matched []models.Checkpoint
	for _, cp := range s.checkpoints {
		if filter.TenantID != "" && cp.TenantID != filter.TenantID {
			continue
		}
		if (filter.Status == StatusCompleted && !cp.Completed) || (filter.Status == StatusPending && cp.Completed) {
			continue
		}
		if term != "" && !strings.Contains(strings.ToLower(cp.SubjectHint), term) &&
			!strings.Contains(strings.ToLower(cp.ContactEmail), term) {
			continue
		}
		if !filter.CompletedAfter.IsZero() && (cp.CompletedAt == nil || cp.CompletedAt.Before(filter.CompletedAfter)) {
			continue
		}
		c := cloneCheckpoint(cp)
		c.Messages = nil
		matched = append(matched, c)
	}
	s.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		if matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].SubjectID < matched[j].SubjectID
		}
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})
	total := len(matched)
	start := min(page.Offset(), total)
	end := min(start+page.Size, total)
	return matched[start:end], total, nil
}

func (s *InMemoryStore) MarkCompleted(_ context.Context, subjectID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp, ok := s.checkpoints[subjectID]
	if !ok {
		return ErrCheckpointNotFound
	}
	cp.Completed = true
	if cp.CompletedAt == nil {
		t := at.UTC()
		cp.CompletedAt = &t
	}
	cp.UpdatedAt = now()
	s.checkpoints[subjectID] = cp
	return nil
}

func (s *InMemoryStore) RecordExternalID(_ context.Context, subjectID, externalID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp, ok := s.checkpoints[subjectID]
	if !ok {
		return ErrCheckpointNotFound
	}
	cp.ExternalID = externalID
	t := at.UTC()
	cp.ExternalSyncedAt = &t
	s.checkpoints[subjectID] = cp
	return nil
}

func (s *InMemoryStore) EnqueueOutboxMessage(subjectID, kind, payloadJSON, dedupeKey string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if dedupeKey != "" {
		for _, m := range s.outbox {
			if m.DedupeKey == dedupeKey && m.Status != OutboxStatusCanceled {
				return m.ID, nil
			}
		}
	}
	ts := now()
	id := util.NewOutboxID()
	s.outbox[id] = &OutboxMessage{
		ID:          id,
		SubjectID:   subjectID,
		Kind:        kind,
		PayloadJSON: payloadJSON,
		Status:      OutboxStatusQueued,
		DedupeKey:   dedupeKey,
		CreatedAt:   ts,
		UpdatedAt:   ts,
	}
	return id, nil
}

// sortedOutbox returns outbox messages oldest first. Caller holds mu.
func (s *InMemoryStore) sortedOutbox() []*OutboxMessage {
	out := make([]*OutboxMessage, 0, len(s.outbox))
	for _, m := range s.outbox {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

func (s *InMemoryStore) ClaimDueOutboxMessages(at time.Time, limit int) ([]OutboxMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var claimed []OutboxMessage
	for _, m := range s.sortedOutbox() {
		if len(claimed) >= limit {
			break
		}
		if m.Status != OutboxStatusQueued || (m.NextAttemptAt != nil && m.NextAttemptAt.After(at)) {
			continue
		}
		lockedAt := at.UTC()
		m.Status = OutboxStatusSending
		m.LockedAt = &lockedAt
		m.UpdatedAt = lockedAt
		claimed = append(claimed, *m)
	}
	return claimed, nil
}

func (s *InMemoryStore) MarkOutboxMessageSent(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m, ok := s.outbox[id]; ok {
		m.Status = OutboxStatusSent
		m.LockedAt = nil
		m.UpdatedAt = now()
	}
	return nil
}

func (s *InMemoryStore) FailOutboxMessage(id string, errMsg string, nextAttemptAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m, ok := s.outbox[id]; ok {
		next := nextAttemptAt.UTC()
		m.Status = OutboxStatusQueued
		m.Attempts++
		m.LastError = errMsg
		m.NextAttemptAt = &next
		m.LockedAt = nil
		m.UpdatedAt = now()
	}
	return nil
}

func (s *InMemoryStore) DeadLetterOutboxMessage(id string, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m, ok := s.outbox[id]; ok {
		m.Status = OutboxStatusFailed
		m.Attempts++
		m.LastError = errMsg
		m.LockedAt = nil
		m.UpdatedAt = now()
	}
	return nil
}

func (s *InMemoryStore) RequeueStaleSendingMessages(staleBefore time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, m := range s.outbox {
		if m.Status == OutboxStatusSending && m.LockedAt != nil && m.LockedAt.Before(staleBefore) {
			m.Status = OutboxStatusQueued
			m.LockedAt = nil
			m.UpdatedAt = now()
			n++
		}
	}
	return n, nil
}

func (s *InMemoryStore) ListOutboxMessages(subjectID string) ([]OutboxMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []OutboxMessage
	for _, m := range s.sortedOutbox() {
		if m.SubjectID == subjectID {
			out = append(out, *m)
		}
	}
	return out, nil
}

func (s *InMemoryStore) IsDuplicate(messageID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.dedup[messageID]
	return ok, nil
}

func (s *InMemoryStore) RecordInbound(messageID, subjectID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.dedup[messageID]; ok {
		return false, nil
	}
	s.dedup[messageID] = DedupRecord{MessageID: messageID, SubjectID: subjectID, ReceivedAt: now()}
	return true, nil
}

func (s *InMemoryStore) MarkProcessed(messageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.dedup[messageID]; ok {
		t := now()
		r.ProcessedAt = &t
		s.dedup[messageID] = r
	}
	return nil
}

func (s *InMemoryStore) PruneInbound(cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, r := range s.dedup {
		if r.ReceivedAt.Before(cutoff) {
			delete(s.dedup, id)
			n++
		}
	}
	return n, nil
}
