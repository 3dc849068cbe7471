package crm

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/BTreeMap/IntakePipe/internal/catalog"
	"github.com/BTreeMap/IntakePipe/internal/models"
)

// DefaultSource is the contact source recorded in the CRM.
const DefaultSource = "AI Onboarding System"

// ExternalIDRecorder stores the CRM contact ID on the subject's checkpoint.
type ExternalIDRecorder interface {
	RecordExternalID(ctx context.Context, subjectID, externalID string, at time.Time) error
}

// Syncer delivers completed intakes to the CRM.
type Syncer struct {
	client     *Client
	catalog    *catalog.Catalog
	recorder   ExternalIDRecorder
	workflowID string
	now        func() time.Time
}

// SyncerOption configures a Syncer.
type SyncerOption func(*Syncer)

// WithWorkflowID triggers the workflow after every successful upsert.
func WithWorkflowID(id string) SyncerOption {
	return func(s *Syncer) { s.workflowID = id }
}

// NewSyncer creates a Syncer. recorder may be nil.
func NewSyncer(client *Client, cat *catalog.Catalog, recorder ExternalIDRecorder, opts ...SyncerOption) *Syncer {
	s := &Syncer{
		client:   client,
		catalog:  cat,
		recorder: recorder,
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Deliver upserts the contact for ev and records its ID. Every step is
// idempotent, so a retried delivery converges on the same contact.
func (s *Syncer) Deliver(ctx context.Context, ev models.CompletionEvent) error {
	rec := MapAnswers(s.catalog, ev.Answers)
	if rec.Email == "" {
		slog.Error("Syncer.Deliver: no email answer", "subjectID", ev.SubjectID)
		return ErrMissingEmail
	}

	contact := Contact{
		Email:     rec.Email,
		FirstName: rec.FirstName,
		LastName:  rec.LastName,
		Phone:     rec.Phone,
		Source:    DefaultSource,
		Tags:      rec.Tags,
	}
	for _, f := range rec.Fields {
		id, err := s.client.EnsureCustomField(ctx, f.Name, f.DataType)
		if err != nil {
			return err
		}
		contact.CustomFields = append(contact.CustomFields, CustomFieldValue{ID: id, Value: f.Value})
	}

	contactID, err := s.client.UpsertContact(ctx, contact)
	if err != nil {
		return err
	}
	if err := s.client.AddTags(ctx, contactID, rec.Tags); err != nil {
		return err
	}
	if s.workflowID != "" {
		if err := s.client.TriggerWorkflow(ctx, s.workflowID, contactID); err != nil {
			return err
		}
	}
	if s.recorder != nil {
		if err := s.recorder.RecordExternalID(ctx, ev.SubjectID, contactID, s.now()); err != nil {
			return fmt.Errorf("record contact id: %w", err)
		}
	}
	slog.Info("Syncer.Deliver: intake synced", "subjectID", ev.SubjectID, "contactID", contactID, "fields", len(contact.CustomFields), "tags", len(rec.Tags))
	return nil
}
