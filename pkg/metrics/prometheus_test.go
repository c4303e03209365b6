package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestNewMetrics_IndependentRegistries(t *testing.T) {
	a := NewMetrics("voice-service")
	b := NewMetrics("voice-service")

	a.RecordTurn("pipeline", "responded", time.Second)
	a.RecordTurn("pipeline", "discarded_short", 0)

	assert.Equal(t, float64(1), testutil.ToFloat64(a.turnsTotal.WithLabelValues("pipeline", "responded")))
	assert.Equal(t, float64(0), testutil.ToFloat64(b.turnsTotal.WithLabelValues("pipeline", "responded")))
}

func TestCallLifecycle(t *testing.T) {
	m := NewMetrics("voice-service")

	m.CallStarted()
	m.CallStarted()
	m.CallEnded("relay", "completed", 42*time.Second)

	assert.Equal(t, float64(1), testutil.ToFloat64(m.callsActive))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.callsTotal.WithLabelValues("relay", "completed")))
}

func TestRecordPersistence(t *testing.T) {
	m := NewMetrics("voice-service")

	m.RecordPersistence("final", "full", errors.New("column missing"))
	m.RecordPersistence("final", "minimal", nil)

	assert.Equal(t, float64(1), testutil.ToFloat64(m.persistenceWrites.WithLabelValues("final", "full", "failure")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.persistenceWrites.WithLabelValues("final", "minimal", "success")))
}

func TestRecordTokens_IgnoresNonPositive(t *testing.T) {
	m := NewMetrics("voice-service")

	m.RecordTokens("relay", 0)
	m.RecordTokens("relay", 120)

	assert.Equal(t, float64(120), testutil.ToFloat64(m.tokensTotal.WithLabelValues("relay")))
}
