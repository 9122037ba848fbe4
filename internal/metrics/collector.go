package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector mirrors the store into prometheus metrics.
type Collector struct {
	actions     *prometheus.CounterVec
	errors      *prometheus.CounterVec
	budgetUsed  *prometheus.GaugeVec
	successRate prometheus.GaugeFunc
}

// NewCollector registers the feedbot metrics on reg and attaches them to s.
func NewCollector(reg prometheus.Registerer, s *Store) *Collector {
	factory := promauto.With(reg)
	c := &Collector{
		actions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "feedbot_actions_total",
			Help: "Action attempts by category and outcome",
		}, []string{"category", "outcome"}),
		errors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "feedbot_action_errors_total",
			Help: "Failed action attempts by error class",
		}, []string{"class"}),
		budgetUsed: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "feedbot_budget_used",
			Help: "Actions consumed from the budget by category and window",
		}, []string{"category", "window"}),
		successRate: factory.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "feedbot_success_rate",
			Help: "Percentage of successful requests today",
		}, func() float64 { return s.SuccessRate("") }),
	}
	s.SetCollector(c)
	return c
}

func (c *Collector) observe(category string, success bool, class string) {
	outcome := "success"
	if !success {
		outcome = "failure"
		if class == "" {
			class = "other"
		}
		c.errors.WithLabelValues(class).Inc()
	}
	c.actions.WithLabelValues(category, outcome).Inc()
}

// ObserveBudget publishes the current daily and hourly consumption.
func (c *Collector) ObserveBudget(category string, daily, hourly int) {
	if c == nil {
		return
	}
	c.budgetUsed.WithLabelValues(category, "daily").Set(float64(daily))
	c.budgetUsed.WithLabelValues(category, "hourly").Set(float64(hourly))
}
