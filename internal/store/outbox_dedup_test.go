package store

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/BTreeMap/IntakePipe/internal/util"
)

func TestOutboxRepo_EnqueueAndClaim(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		subject := util.GenerateRandomID("subj_", 12)
		id, err := s.EnqueueOutboxMessage(subject, "crm_sync", `{"subject_id":"x"}`, "")
		if err != nil {
			t.Fatalf("EnqueueOutboxMessage failed: %v", err)
		}
		if id == "" {
			t.Fatal("EnqueueOutboxMessage returned empty ID")
		}

		msgs, err := s.ListOutboxMessages(subject)
		if err != nil || len(msgs) != 1 {
			t.Fatalf("ListOutboxMessages = %d, %v", len(msgs), err)
		}
		if msgs[0].Status != OutboxStatusQueued || msgs[0].Kind != "crm_sync" {
			t.Errorf("unexpected message: %+v", msgs[0])
		}

		claimed, err := s.ClaimDueOutboxMessages(time.Now(), 100)
		if err != nil {
			t.Fatalf("ClaimDueOutboxMessages failed: %v", err)
		}
		var found bool
		for _, m := range claimed {
			if m.ID == id {
				found = true
				if m.Status != OutboxStatusSending || m.SubjectID != subject {
					t.Errorf("unexpected claimed message: %+v", m)
				}
			}
		}
		if !found {
			t.Fatal("enqueued message was not claimed")
		}
	})
}

func TestOutboxRepo_DedupeKey(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		subject := util.GenerateRandomID("subj_", 12)
		key := "completion:" + subject + ":crm_sync"
		id1, err := s.EnqueueOutboxMessage(subject, "crm_sync", `{}`, key)
		if err != nil {
			t.Fatalf("EnqueueOutboxMessage 1 failed: %v", err)
		}
		id2, err := s.EnqueueOutboxMessage(subject, "crm_sync", `{}`, key)
		if err != nil {
			t.Fatalf("EnqueueOutboxMessage 2 failed: %v", err)
		}
		if id2 != id1 {
			t.Errorf("Expected same ID for duplicate dedupe key, got %q and %q", id1, id2)
		}
		msgs, _ := s.ListOutboxMessages(subject)
		if len(msgs) != 1 {
			t.Errorf("expected one message, got %d", len(msgs))
		}
	})
}

func TestOutboxRepo_FailRetryAndDeadLetter(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		subject := util.GenerateRandomID("subj_", 12)
		id, _ := s.EnqueueOutboxMessage(subject, "completion_webhook", `{}`, "")
		s.ClaimDueOutboxMessages(time.Now(), 100)

		if err := s.FailOutboxMessage(id, "send error", time.Now().Add(time.Hour)); err != nil {
			t.Fatalf("FailOutboxMessage failed: %v", err)
		}
		msgs, _ := s.ListOutboxMessages(subject)
		if msgs[0].Status != OutboxStatusQueued || msgs[0].Attempts != 1 || msgs[0].LastError != "send error" {
			t.Errorf("unexpected message after failure: %+v", msgs[0])
		}
		for _, m := range mustClaim(t, s, time.Now()) {
			if m.ID == id {
				t.Error("message claimed before its retry time")
			}
		}

		if err := s.DeadLetterOutboxMessage(id, "gave up"); err != nil {
			t.Fatalf("DeadLetterOutboxMessage failed: %v", err)
		}
		msgs, _ = s.ListOutboxMessages(subject)
		if msgs[0].Status != OutboxStatusFailed || msgs[0].Attempts != 2 {
			t.Errorf("unexpected message after dead-letter: %+v", msgs[0])
		}
		for _, m := range mustClaim(t, s, time.Now().Add(2*time.Hour)) {
			if m.ID == id {
				t.Error("dead-lettered message must not be claimed")
			}
		}
	})
}

func TestOutboxRepo_RequeueStale(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		subject := util.GenerateRandomID("subj_", 12)
		id, _ := s.EnqueueOutboxMessage(subject, "crm_sync", `{}`, "")
		s.ClaimDueOutboxMessages(time.Now(), 100)

		n, err := s.RequeueStaleSendingMessages(time.Now().Add(time.Minute))
		if err != nil {
			t.Fatalf("RequeueStaleSendingMessages failed: %v", err)
		}
		if n < 1 {
			t.Errorf("Expected at least 1 requeued, got %d", n)
		}
		msgs, _ := s.ListOutboxMessages(subject)
		if msgs[0].ID != id || msgs[0].Status != OutboxStatusQueued {
			t.Errorf("expected requeued message, got %+v", msgs[0])
		}
	})
}

func mustClaim(t *testing.T, s Store, at time.Time) []OutboxMessage {
	t.Helper()
	msgs, err := s.ClaimDueOutboxMessages(at, 100)
	if err != nil {
		t.Fatalf("ClaimDueOutboxMessages failed: %v", err)
	}
	return msgs
}

func TestDedupRepo_Basic(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		msgID := util.GenerateRandomID("msg_", 12)
		dup, err := s.IsDuplicate(msgID)
		if err != nil {
			t.Fatalf("IsDuplicate failed: %v", err)
		}
		if dup {
			t.Error("Expected false for new message")
		}

		isNew, err := s.RecordInbound(msgID, "subj-1")
		if err != nil || !isNew {
			t.Fatalf("RecordInbound = %v, %v", isNew, err)
		}
		if dup, _ := s.IsDuplicate(msgID); !dup {
			t.Error("Expected true for duplicate message")
		}
		if again, _ := s.RecordInbound(msgID, "subj-1"); again {
			t.Error("Expected isNew=false for duplicate record")
		}
		if err := s.MarkProcessed(msgID); err != nil {
			t.Fatalf("MarkProcessed failed: %v", err)
		}

		n, err := s.PruneInbound(time.Now().Add(time.Minute))
		if err != nil || n < 1 {
			t.Errorf("PruneInbound = %d, %v", n, err)
		}
		if dup, _ := s.IsDuplicate(msgID); dup {
			t.Error("pruned message should no longer be a duplicate")
		}
	})
}

// --- OutboxSender tests ---

func TestOutboxSender_Basic(t *testing.T) {
	s := newTestSQLiteStore(t)

	var sent int32
	sendFunc := func(ctx context.Context, msg OutboxMessage) error {
		atomic.AddInt32(&sent, 1)
		return nil
	}
	sender := NewOutboxSender(s, sendFunc, 50*time.Millisecond)

	if _, err := s.EnqueueOutboxMessage("subj-1", "crm_sync", `{}`, ""); err != nil {
		t.Fatalf("EnqueueOutboxMessage failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	go sender.Run(ctx)
	<-ctx.Done()

	if atomic.LoadInt32(&sent) != 1 {
		t.Errorf("Expected 1 send, got %d", atomic.LoadInt32(&sent))
	}
	msgs, _ := s.ListOutboxMessages("subj-1")
	if len(msgs) != 1 || msgs[0].Status != OutboxStatusSent {
		t.Errorf("expected message marked sent, got %+v", msgs)
	}
}

func TestOutboxSender_RetryThenDeadLetter(t *testing.T) {
	s := NewInMemoryStore()
	var outcomes []string
	sender := NewOutboxSender(s,
		func(ctx context.Context, msg OutboxMessage) error { return errors.New("crm down") },
		time.Second,
		WithMaxAttempts(2),
		WithBaseBackoff(time.Millisecond),
		WithObserver(func(kind, outcome string) { outcomes = append(outcomes, kind+":"+outcome) }),
	)
	if _, err := s.EnqueueOutboxMessage("subj-1", "crm_sync", `{}`, ""); err != nil {
		t.Fatalf("EnqueueOutboxMessage failed: %v", err)
	}

	sender.Poll(context.Background())
	msgs, _ := s.ListOutboxMessages("subj-1")
	if msgs[0].Status != OutboxStatusQueued || msgs[0].Attempts != 1 {
		t.Fatalf("expected retry scheduled, got %+v", msgs[0])
	}

	time.Sleep(5 * time.Millisecond)
	sender.Poll(context.Background())
	msgs, _ = s.ListOutboxMessages("subj-1")
	if msgs[0].Status != OutboxStatusFailed || msgs[0].LastError != "crm down" {
		t.Fatalf("expected dead-lettered message, got %+v", msgs[0])
	}
	if len(outcomes) != 2 || outcomes[0] != "crm_sync:retry" || outcomes[1] != "crm_sync:dead" {
		t.Errorf("unexpected outcomes: %v", outcomes)
	}
}

func TestOutboxSender_RecoverStaleMessages(t *testing.T) {
	s := NewInMemoryStore()
	sender := NewOutboxSender(s, func(context.Context, OutboxMessage) error { return nil }, time.Second)
	s.EnqueueOutboxMessage("subj-1", "crm_sync", `{}`, "")
	s.ClaimDueOutboxMessages(time.Now().Add(-time.Hour), 10)

	if err := sender.RecoverStaleMessages(); err != nil {
		t.Fatalf("RecoverStaleMessages failed: %v", err)
	}
	msgs, _ := s.ListOutboxMessages("subj-1")
	if msgs[0].Status != OutboxStatusQueued {
		t.Errorf("expected stale message requeued, got %s", msgs[0].Status)
	}
}
