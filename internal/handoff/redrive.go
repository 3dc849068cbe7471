package handoff

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/BTreeMap/IntakePipe/internal/models"
	"github.com/BTreeMap/IntakePipe/internal/store"
)

// DefaultRedriveLookback bounds how far back Redrive looks for completed intakes.
const DefaultRedriveLookback = 24 * time.Hour

// Redriver re-enqueues hand-offs for completed intakes whose outbox rows were
// never written, for example when the enqueue after MarkCompleted failed.
// Subjects that already have a row for a kind are left alone by the outbox dedupe key.
type Redriver struct {
	dispatcher *Dispatcher
	source     store.CheckpointLister
	lookback   time.Duration
	now        func() time.Time
}

// NewRedriver creates a Redriver over completed checkpoints from source.
func NewRedriver(d *Dispatcher, source store.CheckpointLister, lookback time.Duration) *Redriver {
	if lookback <= 0 {
		lookback = DefaultRedriveLookback
	}
	return &Redriver{dispatcher: d, source: source, lookback: lookback, now: time.Now}
}

// Redrive hands off every intake completed within the lookback window and
// returns how many subjects were handed off without error.
func (r *Redriver) Redrive(ctx context.Context) (int, error) {
	filter := store.CheckpointFilter{
		Status:         store.StatusCompleted,
		CompletedAfter: r.now().Add(-r.lookback),
	}
	page := store.Page{Number: 1, Size: store.MaxPageSize}
	handed := 0
	var errs []error
	for {
		batch, _, err := r.source.ListCheckpoints(ctx, filter, page)
		if err != nil {
			return handed, fmt.Errorf("list completed checkpoints: %w", err)
		}
		for _, cp := range batch {
			if err := ctx.Err(); err != nil {
				return handed, err
			}
			if err := r.dispatcher.HandleCompletion(ctx, completionEvent(cp)); err != nil {
				errs = append(errs, fmt.Errorf("subject %s: %w", cp.SubjectID, err))
				continue
			}
			handed++
		}
		if len(batch) < page.Size {
			break
		}
		page.Number++
	}
	slog.Debug("Redriver.Redrive: completed intakes handed off", "count", handed, "failed", len(errs), "lookback", r.lookback)
	return handed, errors.Join(errs...)
}

func completionEvent(cp models.Checkpoint) models.CompletionEvent {
	ev := models.CompletionEvent{
		SubjectID:   cp.SubjectID,
		TenantID:    cp.TenantID,
		SubjectHint: cp.SubjectHint,
		Answers:     cp.Answers.Clone(),
	}
	if cp.CompletedAt != nil {
		ev.CompletedAt = *cp.CompletedAt
	}
	return ev
}
