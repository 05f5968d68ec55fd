package metrics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// counterValue sums every series of the named counter whose labels include want.
func counterValue(t *testing.T, m *Metrics, name string, want map[string]string) float64 {
	t.Helper()
	families, err := m.Registry().Gather()
	require.NoError(t, err)
	total := 0.0
	for _, f := range families {
		if f.GetName() != name {
			continue
		}
	series:
		for _, s := range f.GetMetric() {
			labels := map[string]string{}
			for _, l := range s.GetLabel() {
				labels[l.GetName()] = l.GetValue()
			}
			for k, v := range want {
				if labels[k] != v {
					continue series
				}
			}
			total += s.GetCounter().GetValue()
		}
	}
	return total
}

func TestObserveAssignmentCountsByOutcome(t *testing.T) {
	m := New()
	m.ObserveAssignment("assigned")
	m.ObserveAssignment("conflict")
	m.ObserveAssignment("conflict")

	assert.Equal(t, 1.0, counterValue(t, m, "chauffeur_assignments_total", map[string]string{"outcome": "assigned"}))
	assert.Equal(t, 2.0, counterValue(t, m, "chauffeur_assignments_total", map[string]string{"outcome": "conflict"}))
}

func TestObserveFareWarnings(t *testing.T) {
	m := New()
	m.ObserveFare("transfer", "ok", true)
	m.ObserveFare("transfer", "ok", false)

	assert.Equal(t, 2.0, counterValue(t, m, "chauffeur_fare_quotes_total", map[string]string{"service_type": "transfer"}))
	assert.Equal(t, 1.0, counterValue(t, m, "chauffeur_fare_warnings_total", nil))
}

func TestObserveHTTPLabelsStatus(t *testing.T) {
	m := New()
	m.ObserveHTTP("POST", "/api/fares/quote", 422, 5*time.Millisecond)

	assert.Equal(t, 1.0, counterValue(t, m, "chauffeur_http_requests_total",
		map[string]string{"route": "/api/fares/quote", "status": "422"}))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveFare("hourly", "ok", false)
		m.ObserveRuleLookupError("ambiguous")
		m.ObserveRank(time.Now(), 3)
		m.ObserveAssignment("assigned")
		m.ObserveHTTP("GET", "/health", 200, time.Millisecond)
	})
}
