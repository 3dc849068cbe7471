package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BTreeMap/IntakePipe/internal/flow"
	"github.com/BTreeMap/IntakePipe/internal/scheduler"
	"github.com/BTreeMap/IntakePipe/internal/store"
)

// counterValue returns the counter sample of name whose labels match, or -1.
func counterValue(t *testing.T, reg *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			if matches(m, labels) {
				return m.GetCounter().GetValue()
			}
		}
	}
	return -1
}

func histogramCount(t *testing.T, reg *prometheus.Registry, name string, labels map[string]string) uint64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			if matches(m, labels) {
				return m.GetHistogram().GetSampleCount()
			}
		}
	}
	return 0
}

func matches(m *dto.Metric, labels map[string]string) bool {
	if len(m.GetLabel()) != len(labels) {
		return false
	}
	for _, lp := range m.GetLabel() {
		if labels[lp.GetName()] != lp.GetValue() {
			return false
		}
	}
	return true
}

func TestRecorderObservesEngineEvents(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := NewRecorder(reg)

	r.StartRecorded(flow.StartFresh)
	r.StartRecorded(flow.StartFresh)
	r.StartRecorded(flow.StartDuplicate)
	r.TurnRecorded(flow.OutcomeAccepted, 5*time.Millisecond)
	r.TurnRecorded(flow.OutcomeRejected, time.Millisecond)
	r.TurnRecorded(flow.OutcomeAccepted, time.Millisecond)
	r.PersistenceFailed()

	assert.Equal(t, 2.0, counterValue(t, reg, "intakepipe_starts_total", map[string]string{"kind": "fresh"}))
	assert.Equal(t, 1.0, counterValue(t, reg, "intakepipe_starts_total", map[string]string{"kind": "duplicate"}))
	assert.Equal(t, 2.0, counterValue(t, reg, "intakepipe_turns_total", map[string]string{"outcome": flow.OutcomeAccepted}))
	assert.Equal(t, uint64(2), histogramCount(t, reg, "intakepipe_turn_duration_seconds", map[string]string{"outcome": flow.OutcomeAccepted}))
	assert.Equal(t, 1.0, counterValue(t, reg, "intakepipe_persistence_failures_total", map[string]string{}))
}

func TestRecorderHooks(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := NewRecorder(reg)

	var outboxHook store.OutboxObserver = r.OutboxDelivery
	var jobHook scheduler.JobObserver = r.JobFinished
	outboxHook("crm_sync", "retry")
	outboxHook("crm_sync", "sent")
	r.SemanticFallback("text", errors.New("timeout"))
	jobHook(scheduler.JobRecoverOutbox, time.Millisecond, nil)
	jobHook(scheduler.JobRecoverOutbox, time.Millisecond, errors.New("db down"))

	assert.Equal(t, 1.0, counterValue(t, reg, "intakepipe_outbox_deliveries_total", map[string]string{"kind": "crm_sync", "outcome": "sent"}))
	assert.Equal(t, 1.0, counterValue(t, reg, "intakepipe_semantic_fallbacks_total", map[string]string{"op": "text"}))
	assert.Equal(t, 1.0, counterValue(t, reg, "intakepipe_maintenance_runs_total", map[string]string{"job": scheduler.JobRecoverOutbox, "status": "error"}))
	assert.Equal(t, uint64(2), histogramCount(t, reg, "intakepipe_maintenance_duration_seconds", map[string]string{"job": scheduler.JobRecoverOutbox}))
}

func TestNewRecorderTwiceOnSameRegistryPanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	NewRecorder(reg)
	assert.Panics(t, func() { NewRecorder(reg) })
}
