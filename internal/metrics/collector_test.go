package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// gathered returns the value of the sample named name whose labels match.
func gathered(t *testing.T, reg *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)

	for _, fam := range families {
		if fam.GetName() != name {
			continue
		}
	metrics:
		for _, m := range fam.GetMetric() {
			for _, lp := range m.GetLabel() {
				if labels[lp.GetName()] != lp.GetValue() {
					continue metrics
				}
			}
			switch {
			case m.GetCounter() != nil:
				return m.GetCounter().GetValue()
			case m.GetGauge() != nil:
				return m.GetGauge().GetValue()
			}
		}
	}
	t.Fatalf("metric %s%v not found", name, labels)
	return 0
}

func TestCollector_MirrorsTrackAction(t *testing.T) {
	reg := prometheus.NewRegistry()
	s, _ := newTestStore(t)
	NewCollector(reg, s)

	s.TrackAction("like", true, nil)
	s.TrackAction("like", false, map[string]any{DetailErrorClass: "rate_limit"})
	s.TrackAction("like", false, nil)

	assert.Equal(t, 1.0, gathered(t, reg, "feedbot_actions_total", map[string]string{"category": "like", "outcome": "success"}))
	assert.Equal(t, 2.0, gathered(t, reg, "feedbot_actions_total", map[string]string{"category": "like", "outcome": "failure"}))
	assert.Equal(t, 1.0, gathered(t, reg, "feedbot_action_errors_total", map[string]string{"class": "rate_limit"}))
	assert.Equal(t, 1.0, gathered(t, reg, "feedbot_action_errors_total", map[string]string{"class": "other"}))
	assert.InDelta(t, 33.33, gathered(t, reg, "feedbot_success_rate", nil), 0.01)
}

func TestCollector_ObserveBudget(t *testing.T) {
	reg := prometheus.NewRegistry()
	s, _ := newTestStore(t)
	c := NewCollector(reg, s)

	c.ObserveBudget("comment", 7, 2)
	assert.Equal(t, 7.0, gathered(t, reg, "feedbot_budget_used", map[string]string{"category": "comment", "window": "daily"}))
	assert.Equal(t, 2.0, gathered(t, reg, "feedbot_budget_used", map[string]string{"category": "comment", "window": "hourly"}))

	var none *Collector
	none.ObserveBudget("like", 1, 1)
}
