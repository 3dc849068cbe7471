package store

import (
	"context"
	"log/slog"
	"time"
)

// OutboxSendFunc performs the delivery for one outbox message.
type OutboxSendFunc func(ctx context.Context, msg OutboxMessage) error

// OutboxObserver is notified of each delivery outcome. Outcome is "sent", "retry" or "dead".
type OutboxObserver func(kind, outcome string)

// Default outbox sender tuning.
const (
	DefaultOutboxPollInterval = 5 * time.Second
	DefaultOutboxMaxAttempts  = 6
	defaultStaleThreshold     = 5 * time.Minute
	defaultClaimLimit         = 10
)

// OutboxSender periodically claims due outbox messages and attempts to deliver them.
// Messages that fail maxAttempts times are dead-lettered with status failed.
type OutboxSender struct {
	repo           OutboxRepo
	sendFunc       OutboxSendFunc
	pollInterval   time.Duration
	staleThreshold time.Duration
	claimLimit     int
	maxAttempts    int
	baseBackoff    time.Duration
	observer       OutboxObserver
}

// SenderOption configures an OutboxSender.
type SenderOption func(*OutboxSender)

// WithMaxAttempts caps delivery attempts before a message is dead-lettered.
func WithMaxAttempts(n int) SenderOption {
	return func(s *OutboxSender) {
		if n > 0 {
			s.maxAttempts = n
		}
	}
}

// WithBaseBackoff sets the first retry delay; later retries double it.
func WithBaseBackoff(d time.Duration) SenderOption {
	return func(s *OutboxSender) {
		if d > 0 {
			s.baseBackoff = d
		}
	}
}

// WithObserver registers a callback for delivery outcomes.
func WithObserver(fn OutboxObserver) SenderOption {
	return func(s *OutboxSender) { s.observer = fn }
}

// NewOutboxSender creates a new OutboxSender.
func NewOutboxSender(repo OutboxRepo, sendFunc OutboxSendFunc, pollInterval time.Duration, opts ...SenderOption) *OutboxSender {
	if pollInterval <= 0 {
		pollInterval = DefaultOutboxPollInterval
	}
	s := &OutboxSender{
		repo:           repo,
		sendFunc:       sendFunc,
		pollInterval:   pollInterval,
		staleThreshold: defaultStaleThreshold,
		claimLimit:     defaultClaimLimit,
		maxAttempts:    DefaultOutboxMaxAttempts,
		baseBackoff:    10 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RecoverStaleMessages requeues messages stuck in sending state (crash recovery).
// Should be called once at startup and may be called periodically afterwards.
func (s *OutboxSender) RecoverStaleMessages() error {
	staleBefore := time.Now().Add(-s.staleThreshold)
	n, err := s.repo.RequeueStaleSendingMessages(staleBefore)
	if err != nil {
		return err
	}
	if n > 0 {
		slog.Info("OutboxSender.RecoverStaleMessages: requeued stale messages", "count", n)
	}
	return nil
}

// Run starts the polling loop. It blocks until the context is cancelled.
func (s *OutboxSender) Run(ctx context.Context) {
	slog.Info("OutboxSender.Run: starting outbox sender", "pollInterval", s.pollInterval, "maxAttempts", s.maxAttempts)

	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("OutboxSender.Run: stopping")
			return
		case <-ticker.C:
			s.Poll(ctx)
		}
	}
}

// Poll claims and delivers one batch of due messages.
func (s *OutboxSender) Poll(ctx context.Context) {
	now := time.Now()
	msgs, err := s.repo.ClaimDueOutboxMessages(now, s.claimLimit)
	if err != nil {
		slog.Error("OutboxSender.poll: claim failed", "error", err)
		return
	}

	for _, msg := range msgs {
		slog.Debug("OutboxSender.poll: sending message", "id", msg.ID, "subjectID", msg.SubjectID, "kind", msg.Kind)
		err := s.sendFunc(ctx, msg)
		if err == nil {
			if err := s.repo.MarkOutboxMessageSent(msg.ID); err != nil {
				slog.Error("OutboxSender.poll: mark sent error", "id", msg.ID, "error", err)
			}
			s.observe(msg.Kind, "sent")
			slog.Debug("OutboxSender.poll: message sent", "id", msg.ID, "subjectID", msg.SubjectID)
			continue
		}

		if msg.Attempts+1 >= s.maxAttempts {
			slog.Error("OutboxSender.poll: giving up", "id", msg.ID, "kind", msg.Kind, "attempts", msg.Attempts+1, "error", err)
			if err := s.repo.DeadLetterOutboxMessage(msg.ID, err.Error()); err != nil {
				slog.Error("OutboxSender.poll: dead-letter error", "id", msg.ID, "error", err)
			}
			s.observe(msg.Kind, "dead")
			continue
		}

		slog.Warn("OutboxSender.poll: send failed", "id", msg.ID, "kind", msg.Kind, "attempts", msg.Attempts+1, "error", err)
		// Exponential backoff: base, 2*base, 4*base, ...
		nextAttempt := now.Add(s.baseBackoff * time.Duration(1<<msg.Attempts))
		if err := s.repo.FailOutboxMessage(msg.ID, err.Error(), nextAttempt); err != nil {
			slog.Error("OutboxSender.poll: fail message error", "id", msg.ID, "error", err)
		}
		s.observe(msg.Kind, "retry")
	}
}

func (s *OutboxSender) observe(kind, outcome string) {
	if s.observer != nil {
		s.observer(kind, outcome)
	}
}
