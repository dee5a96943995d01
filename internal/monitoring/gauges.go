package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/sells-group/phonetrust/internal/model"
)

// Gauges exports the latest MetricsSnapshot to Prometheus.
type Gauges struct {
	States          *prometheus.GaugeVec
	StaleScores     prometheus.Gauge
	MultipleUsers   prometheus.Gauge
	AverageScore    prometheus.Gauge
	StagesCompleted *prometheus.GaugeVec
	RejectionRate   prometheus.Gauge
	CircuitOpen     *prometheus.GaugeVec
}

// NewGauges registers the snapshot gauges with reg. A nil reg creates
// unregistered collectors.
func NewGauges(reg prometheus.Registerer) *Gauges {
	f := promauto.With(reg)
	return &Gauges{
		States: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "phonetrust_states",
			Help: "Phone trust states by trust level",
		}, []string{"level"}),
		StaleScores: f.NewGauge(prometheus.GaugeOpts{
			Name: "phonetrust_stale_scores",
			Help: "States whose trust score failed to recalculate",
		}),
		MultipleUsers: f.NewGauge(prometheus.GaugeOpts{
			Name: "phonetrust_multiple_user_states",
			Help: "States on phones claimed by more than one user",
		}),
		AverageScore: f.NewGauge(prometheus.GaugeOpts{
			Name: "phonetrust_average_trust_score",
			Help: "Mean trust score across all states",
		}),
		StagesCompleted: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "phonetrust_stages_completed",
			Help: "States with the stage complete",
		}, []string{"stage"}),
		RejectionRate: f.NewGauge(prometheus.GaugeOpts{
			Name: "phonetrust_screenshot_rejection_rate",
			Help: "Share of screenshots in the lookback window that could not certify",
		}),
		CircuitOpen: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "phonetrust_circuit_open",
			Help: "1 while a collaborator circuit breaker is not closed",
		}, []string{"collaborator"}),
	}
}

// Update sets every gauge from snap.
func (g *Gauges) Update(snap *MetricsSnapshot) {
	for _, level := range model.TrustLevels {
		g.States.WithLabelValues(string(level)).Set(float64(snap.StatesByLevel[level]))
	}
	for _, stage := range model.Stages {
		g.StagesCompleted.WithLabelValues(string(stage)).Set(float64(snap.StagesCompleted[stage]))
	}
	g.StaleScores.Set(float64(snap.StaleScores))
	g.MultipleUsers.Set(float64(snap.MultipleUsers))
	g.AverageScore.Set(snap.AverageScore)
	g.RejectionRate.Set(snap.RejectionRate)
	for name, state := range snap.Breakers {
		v := 0.0
		if state != "closed" {
			v = 1
		}
		g.CircuitOpen.WithLabelValues(name).Set(v)
	}
}
