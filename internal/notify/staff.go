package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/BTreeMap/IntakePipe/internal/models"
)

// ErrRecipientNotSet is returned when no staff number is configured.
var ErrRecipientNotSet = errors.New("staff notification number not set")

// StaffNotifier texts an operator when an intake completes.
type StaffNotifier struct {
	sender SMSSender
	to     string
}

// NewStaffNotifier creates a notifier that texts to.
func NewStaffNotifier(sender SMSSender, to string) (*StaffNotifier, error) {
	if strings.TrimSpace(to) == "" {
		return nil, ErrRecipientNotSet
	}
	return &StaffNotifier{sender: sender, to: to}, nil
}

// Deliver sends the completion summary.
func (n *StaffNotifier) Deliver(ctx context.Context, ev models.CompletionEvent) error {
	body := StaffSummary(ev)
	if err := n.sender.SendMessage(ctx, n.to, body); err != nil {
		return err
	}
	slog.Info("StaffNotifier.Deliver: staff notified", "subjectID", ev.SubjectID)
	return nil
}

// StaffSummary is the SMS body for a completed intake.
func StaffSummary(ev models.CompletionEvent) string {
	practice := ev.Answers.String("practice_legal_name")
	if practice == "" {
		practice = ev.SubjectHint
	}
	if practice == "" {
		practice = "A new practice"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Onboarding completed: %s", practice)
	name := ev.Answers.String("full_name")
	email := ev.Answers.String("business_email")
	switch {
	case name != "" && email != "":
		fmt.Fprintf(&b, "\nContact: %s <%s>", name, email)
	case name != "":
		fmt.Fprintf(&b, "\nContact: %s", name)
	case email != "":
		fmt.Fprintf(&b, "\nContact: %s", email)
	}
	if phone := ev.Answers.String("business_phone"); phone != "" {
		fmt.Fprintf(&b, "\nPhone: %s", phone)
	}
	answered := len(ev.Answers) - ev.Answers.CountSkipped()
	fmt.Fprintf(&b, "\n%d answers, %d skipped", answered, ev.Answers.CountSkipped())
	return b.String()
}
