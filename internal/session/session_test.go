package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BTreeMap/IntakePipe/internal/models"
)

func TestMemoryStore_PutGetDelete(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	_, err := s.Get(ctx, "sess_missing")
	assert.True(t, errors.Is(err, ErrNotFound))

	st := &models.ConversationState{SessionID: "sess_1", SubjectID: "subj_1", Answers: models.Answers{"full_name": "Jane"}}
	require.NoError(t, s.Put(ctx, st))

	// Mutating the caller's copy must not leak into the store.
	st.Answers["full_name"] = "changed"
	st.Cursor = 9

	got, err := s.Get(ctx, "sess_1")
	require.NoError(t, err)
	assert.Equal(t, "Jane", got.Answers.String("full_name"))
	assert.Equal(t, 0, got.Cursor)
	assert.Equal(t, 1, s.Len())

	require.NoError(t, s.Delete(ctx, "sess_1"))
	_, err = s.Get(ctx, "sess_1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStore_PutRequiresSessionID(t *testing.T) {
	s := NewMemoryStore()
	assert.Error(t, s.Put(context.Background(), &models.ConversationState{}))
	assert.Error(t, s.Put(context.Background(), nil))
}

func TestMemoryStore_Sweep(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	clock := time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return clock }

	require.NoError(t, s.Put(ctx, &models.ConversationState{SessionID: "sess_old"}))
	clock = clock.Add(90 * time.Minute)
	require.NoError(t, s.Put(ctx, &models.ConversationState{SessionID: "sess_new"}))
	clock = clock.Add(45 * time.Minute)

	assert.Equal(t, 1, s.Sweep(2*time.Hour))
	_, err := s.Get(ctx, "sess_old")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.Get(ctx, "sess_new")
	assert.NoError(t, err)
}

func TestLocks_SerializesSameKey(t *testing.T) {
	l := NewLocks()
	var mu sync.Mutex
	inside := 0
	maxInside := 0

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := l.Lock("sess_1")
			defer unlock()
			mu.Lock()
			inside++
			if inside > maxInside {
				maxInside = inside
			}
			mu.Unlock()
			time.Sleep(time.Millisecond)
			mu.Lock()
			inside--
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, maxInside)
	assert.Equal(t, 0, l.Held())
}

func TestLocks_DifferentKeysIndependent(t *testing.T) {
	l := NewLocks()
	unlockA := l.Lock("a")
	done := make(chan struct{})
	go func() {
		unlock := l.Lock("b")
		unlock()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("lock on b blocked behind a")
	}
	unlockA()
	assert.Equal(t, 0, l.Held())
}
