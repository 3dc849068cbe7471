package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestSchedulerAddJob(t *testing.T) {
	s := NewScheduler()
	defer s.Stop()
	if err := s.AddJob("noop", "* * * * *", func(context.Context) error { return nil }); err != nil {
		t.Errorf("Expected no error adding job, got %v", err)
	}
	if err := s.AddJob("noop", "* * * * *", func(context.Context) error { return nil }); err == nil {
		t.Error("Expected error adding duplicate job name")
	}
	if err := s.AddJob("bad", "every minute", func(context.Context) error { return nil }); err == nil {
		t.Error("Expected error for invalid cron expression")
	}
	if got := s.Jobs(); len(got) != 1 || got[0] != "noop" {
		t.Errorf("Expected [noop], got %v", got)
	}
}

func TestSchedulerRunReportsToObserver(t *testing.T) {
	var mu sync.Mutex
	outcomes := map[string]error{}
	s := NewScheduler(WithJobObserver(func(name string, _ time.Duration, err error) {
		mu.Lock()
		defer mu.Unlock()
		outcomes[name] = err
	}))
	defer s.Stop()

	boom := errors.New("boom")
	if err := s.AddJob("fails", "0 0 1 1 *", func(context.Context) error { return boom }); err != nil {
		t.Fatal(err)
	}
	if err := s.Run("fails"); !errors.Is(err, boom) {
		t.Errorf("Expected boom, got %v", err)
	}
	if err := s.Run("missing"); !errors.Is(err, ErrUnknownJob) {
		t.Errorf("Expected ErrUnknownJob, got %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if !errors.Is(outcomes["fails"], boom) {
		t.Errorf("Expected observer to see boom, got %v", outcomes)
	}
}

type fakeSweeper struct{ ttl time.Duration }

func (f *fakeSweeper) SweepSessions(ttl time.Duration) int {
	f.ttl = ttl
	return 2
}

type fakeRecoverer struct{ calls int }

func (f *fakeRecoverer) RecoverStaleMessages() error {
	f.calls++
	return nil
}

type fakePruner struct{ cutoff time.Time }

func (f *fakePruner) PruneInbound(cutoff time.Time) (int, error) {
	f.cutoff = cutoff
	return 3, nil
}

type fakeRedriver struct{ calls int }

func (f *fakeRedriver) Redrive(context.Context) (int, error) {
	f.calls++
	return 1, nil
}

func TestRegisterMaintenance(t *testing.T) {
	s := NewScheduler()
	defer s.Stop()
	sweeper, recoverer, pruner, redriver := &fakeSweeper{}, &fakeRecoverer{}, &fakePruner{}, &fakeRedriver{}

	err := RegisterMaintenance(s, MaintenanceConfig{
		SessionTTL:       time.Hour,
		InboundRetention: 24 * time.Hour,
		Sessions:         sweeper,
		Outbox:           recoverer,
		Inbound:          pruner,
		Handoffs:         redriver,
	})
	if err != nil {
		t.Fatalf("RegisterMaintenance failed: %v", err)
	}
	want := []string{JobPruneInbound, JobRecoverOutbox, JobRedriveHandoffs, JobSweepSessions}
	got := s.Jobs()
	if len(got) != len(want) {
		t.Fatalf("Expected jobs %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Expected jobs %v, got %v", want, got)
		}
	}

	for _, name := range want {
		if err := s.Run(name); err != nil {
			t.Errorf("job %s failed: %v", name, err)
		}
	}
	if sweeper.ttl != time.Hour {
		t.Errorf("Expected sweep ttl 1h, got %v", sweeper.ttl)
	}
	if recoverer.calls != 1 {
		t.Errorf("Expected one recovery, got %d", recoverer.calls)
	}
	if redriver.calls != 1 {
		t.Errorf("Expected one redrive, got %d", redriver.calls)
	}
	if age := time.Since(pruner.cutoff); age < 23*time.Hour || age > 25*time.Hour {
		t.Errorf("Expected cutoff about a day ago, got %v", pruner.cutoff)
	}
}

func TestRegisterMaintenanceSkipsNilCollaborators(t *testing.T) {
	s := NewScheduler()
	defer s.Stop()
	if err := RegisterMaintenance(s, MaintenanceConfig{Outbox: &fakeRecoverer{}}); err != nil {
		t.Fatal(err)
	}
	if got := s.Jobs(); len(got) != 1 || got[0] != JobRecoverOutbox {
		t.Errorf("Expected only %s, got %v", JobRecoverOutbox, got)
	}
}

func TestRegisterMaintenanceInvalidSpec(t *testing.T) {
	s := NewScheduler()
	defer s.Stop()
	if err := RegisterMaintenance(s, MaintenanceConfig{Spec: "bogus", Outbox: &fakeRecoverer{}}); err == nil {
		t.Error("Expected error for invalid spec")
	}
}
