// Package handoff turns completed intakes into durable outbox deliveries and
// routes claimed deliveries to the collaborator registered for their kind.
package handoff

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/BTreeMap/IntakePipe/internal/flow"
	"github.com/BTreeMap/IntakePipe/internal/models"
	"github.com/BTreeMap/IntakePipe/internal/store"
)

// Delivery kinds stored in the outbox.
const (
	KindCRMSync           = "crm_sync"
	KindCompletionWebhook = "completion_webhook"
	KindStaffNotification = "staff_notification"
)

// Error variables for hand-off routing.
var (
	ErrUnknownKind = errors.New("no deliverer registered for kind")
	ErrBadPayload  = errors.New("outbox payload is not a completion event")
)

// Deliverer pushes one completed intake to an external system.
type Deliverer interface {
	Deliver(ctx context.Context, ev models.CompletionEvent) error
}

// DelivererFunc adapts a function to Deliverer.
type DelivererFunc func(ctx context.Context, ev models.CompletionEvent) error

// Deliver calls f.
func (f DelivererFunc) Deliver(ctx context.Context, ev models.CompletionEvent) error { return f(ctx, ev) }

// DedupeKey is the outbox dedupe key for a subject's delivery of kind.
func DedupeKey(subjectID, kind string) string {
	return fmt.Sprintf("completion:%s:%s", subjectID, kind)
}

// Dispatcher enqueues one outbox message per configured kind for each completed intake.
type Dispatcher struct {
	outbox store.OutboxRepo
	kinds  []string
}

var _ flow.CompletionHandler = (*Dispatcher)(nil)

// NewDispatcher creates a Dispatcher that enqueues the given kinds.
func NewDispatcher(outbox store.OutboxRepo, kinds ...string) *Dispatcher {
	return &Dispatcher{outbox: outbox, kinds: append([]string(nil), kinds...)}
}

// HandleCompletion records the deliveries. Enqueueing is idempotent per subject and kind.
func (d *Dispatcher) HandleCompletion(ctx context.Context, ev models.CompletionEvent) error {
	if len(d.kinds) == 0 {
		slog.Debug("Dispatcher.HandleCompletion: no delivery kinds configured", "subjectID", ev.SubjectID)
		return nil
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal completion event: %w", err)
	}
	var errs []error
	for _, kind := range d.kinds {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		id, err := d.outbox.EnqueueOutboxMessage(ev.SubjectID, kind, string(payload), DedupeKey(ev.SubjectID, kind))
		if err != nil {
			slog.Error("Dispatcher.HandleCompletion: enqueue failed", "subjectID", ev.SubjectID, "kind", kind, "error", err)
			errs = append(errs, fmt.Errorf("enqueue %s: %w", kind, err))
			continue
		}
		slog.Info("Dispatcher.HandleCompletion: delivery enqueued", "subjectID", ev.SubjectID, "kind", kind, "outboxID", id)
	}
	return errors.Join(errs...)
}

// Router maps outbox kinds to deliverers.
type Router struct {
	mu         sync.RWMutex
	deliverers map[string]Deliverer
}

// NewRouter creates an empty Router.
func NewRouter() *Router {
	return &Router{deliverers: make(map[string]Deliverer)}
}

// Register sets the deliverer for kind, replacing any earlier one.
func (r *Router) Register(kind string, d Deliverer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deliverers[kind] = d
	slog.Debug("Router.Register: deliverer registered", "kind", kind)
}

// Kinds returns the registered kinds in sorted order.
func (r *Router) Kinds() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	kinds := make([]string, 0, len(r.deliverers))
	for k := range r.deliverers {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}

// Send delivers one claimed outbox message. It satisfies store.OutboxSendFunc.
func (r *Router) Send(ctx context.Context, msg store.OutboxMessage) error {
	r.mu.RLock()
	d, ok := r.deliverers[msg.Kind]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownKind, msg.Kind)
	}
	var ev models.CompletionEvent
	if err := json.Unmarshal([]byte(msg.PayloadJSON), &ev); err != nil {
		return fmt.Errorf("%w: %w", ErrBadPayload, err)
	}
	if ev.SubjectID == "" {
		ev.SubjectID = msg.SubjectID
	}
	if err := d.Deliver(ctx, ev); err != nil {
		return fmt.Errorf("%s delivery for %s: %w", msg.Kind, ev.SubjectID, err)
	}
	slog.Info("Router.Send: delivered", "kind", msg.Kind, "subjectID", ev.SubjectID, "outboxID", msg.ID)
	return nil
}
