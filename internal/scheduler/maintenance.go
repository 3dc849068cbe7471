package scheduler

import (
	"context"
	"log/slog"
	"time"
)

// Maintenance job names.
const (
	JobSweepSessions   = "sweep_sessions"
	JobRecoverOutbox   = "recover_outbox"
	JobPruneInbound    = "prune_inbound"
	JobRedriveHandoffs = "redrive_handoffs"
)

// Maintenance defaults.
const (
	DefaultMaintenanceSpec  = "*/5 * * * *"
	DefaultSessionTTL       = 2 * time.Hour
	DefaultInboundRetention = 7 * 24 * time.Hour
)

// SessionSweeper evicts idle live sessions.
type SessionSweeper interface {
	SweepSessions(ttl time.Duration) int
}

// StaleRecoverer requeues outbox messages stuck in sending.
type StaleRecoverer interface {
	RecoverStaleMessages() error
}

// InboundPruner forgets old inbound message IDs.
type InboundPruner interface {
	PruneInbound(cutoff time.Time) (int, error)
}

// HandoffRedriver re-enqueues hand-offs for recently completed intakes.
type HandoffRedriver interface {
	Redrive(ctx context.Context) (int, error)
}

// MaintenanceConfig selects the maintenance jobs to schedule. Nil collaborators are skipped.
type MaintenanceConfig struct {
	Spec             string
	SessionTTL       time.Duration
	InboundRetention time.Duration
	Sessions         SessionSweeper
	Outbox           StaleRecoverer
	Inbound          InboundPruner
	Handoffs         HandoffRedriver
}

// RegisterMaintenance adds the configured maintenance jobs to s.
func RegisterMaintenance(s *Scheduler, cfg MaintenanceConfig) error {
	if cfg.Spec == "" {
		cfg.Spec = DefaultMaintenanceSpec
	}
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = DefaultSessionTTL
	}
	if cfg.InboundRetention <= 0 {
		cfg.InboundRetention = DefaultInboundRetention
	}

	if cfg.Sessions != nil {
		sweeper, ttl := cfg.Sessions, cfg.SessionTTL
		if err := s.AddJob(JobSweepSessions, cfg.Spec, func(context.Context) error {
			if n := sweeper.SweepSessions(ttl); n > 0 {
				slog.Info("maintenance: idle sessions evicted", "count", n)
			}
			return nil
		}); err != nil {
			return err
		}
	}
	if cfg.Outbox != nil {
		outbox := cfg.Outbox
		if err := s.AddJob(JobRecoverOutbox, cfg.Spec, func(context.Context) error {
			return outbox.RecoverStaleMessages()
		}); err != nil {
			return err
		}
	}
	if cfg.Inbound != nil {
		pruner, retention := cfg.Inbound, cfg.InboundRetention
		if err := s.AddJob(JobPruneInbound, cfg.Spec, func(context.Context) error {
			n, err := pruner.PruneInbound(time.Now().Add(-retention))
			if n > 0 {
				slog.Info("maintenance: inbound message ids pruned", "count", n)
			}
			return err
		}); err != nil {
			return err
		}
	}
	if cfg.Handoffs != nil {
		redriver := cfg.Handoffs
		if err := s.AddJob(JobRedriveHandoffs, cfg.Spec, func(ctx context.Context) error {
			n, err := redriver.Redrive(ctx)
			if n > 0 {
				slog.Debug("maintenance: completed intakes redriven", "count", n)
			}
			return err
		}); err != nil {
			return err
		}
	}
	slog.Info("RegisterMaintenance: jobs scheduled", "spec", cfg.Spec, "jobs", s.Jobs())
	return nil
}
