package trust

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/sells-group/phonetrust/internal/model"
)

// Metrics counts validator activity.
type Metrics struct {
	// Stage submissions that left the stage complete, by stage
	StageCompletions *prometheus.CounterVec

	// Collaborator failures by collaborator and kind
	CollaboratorFailures *prometheus.CounterVec

	// Screenshot verdicts: certified or rejected
	Screenshots *prometheus.CounterVec

	// Scores left stale after a failed recalculation
	StaleScores prometheus.Counter
}

// NewMetrics registers the validator metrics with reg. A nil reg creates
// unregistered collectors.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		StageCompletions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "phonetrust_stage_completions_total",
			Help: "Stage submissions that left the stage complete",
		}, []string{"stage"}),

		CollaboratorFailures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "phonetrust_collaborator_failures_total",
			Help: "Collaborator failures by collaborator and kind",
		}, []string{"collaborator", "kind"}),

		Screenshots: f.NewCounterVec(prometheus.CounterOpts{
			Name: "phonetrust_screenshots_total",
			Help: "Processed USSD screenshots by verdict",
		}, []string{"verdict"}),

		StaleScores: f.NewCounter(prometheus.CounterOpts{
			Name: "phonetrust_stale_scores_total",
			Help: "Trust scores left stale after a scoring failure",
		}),
	}
}

func (m *Metrics) stageCompleted(stage model.Stage) {
	if m != nil {
		m.StageCompletions.WithLabelValues(string(stage)).Inc()
	}
}

func (m *Metrics) collaboratorFailed(e *CollaboratorError) {
	if m != nil {
		m.CollaboratorFailures.WithLabelValues(e.Collaborator, string(e.Kind)).Inc()
	}
}

func (m *Metrics) screenshot(certified bool) {
	if m == nil {
		return
	}
	verdict := "rejected"
	if certified {
		verdict = "certified"
	}
	m.Screenshots.WithLabelValues(verdict).Inc()
}

func (m *Metrics) scoreStale() {
	if m != nil {
		m.StaleScores.Inc()
	}
}
