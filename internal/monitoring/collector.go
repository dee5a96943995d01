package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/phonetrust/internal/model"
	"github.com/sells-group/phonetrust/internal/resilience"
	"github.com/sells-group/phonetrust/internal/store"
)

// MetricsSnapshot holds a point-in-time view of validation health.
type MetricsSnapshot struct {
	// State totals, independent of the lookback window.
	StatesTotal     int                      `json:"states_total"`
	StatesByLevel   map[model.TrustLevel]int `json:"states_by_level"`
	StaleScores     int                      `json:"stale_scores"`
	MultipleUsers   int                      `json:"multiple_users"`
	AverageScore    float64                  `json:"average_score"`
	StagesCompleted map[model.Stage]int      `json:"stages_completed"`

	// Evidence within the lookback window.
	Screenshots          int     `json:"screenshots"`
	ScreenshotsCertified int     `json:"screenshots_certified"`
	RejectionRate        float64 `json:"rejection_rate"`
	Transactions         int     `json:"transactions"`

	// Collaborator circuit states by name.
	Breakers map[string]string `json:"breakers"`

	LookbackHours int       `json:"lookback_hours"`
	CollectedAt   time.Time `json:"collected_at"`
}

// SnapshotSource is the store query the collector needs.
type SnapshotSource interface {
	Snapshot(ctx context.Context, since time.Time) (*store.Snapshot, error)
}

// BreakerSource reports collaborator circuit states.
type BreakerSource interface {
	States() map[string]resilience.CircuitState
}

// Collector gathers metrics from the store and the circuit breakers.
type Collector struct {
	source   SnapshotSource
	breakers BreakerSource
	now      func() time.Time
}

// NewCollector creates a new metrics collector. breakers may be nil.
func NewCollector(source SnapshotSource, breakers BreakerSource) *Collector {
	return &Collector{
		source:   source,
		breakers: breakers,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Collect gathers a snapshot over the given lookback window.
func (c *Collector) Collect(ctx context.Context, lookbackHours int) (*MetricsSnapshot, error) {
	now := c.now()
	cutoff := now.Add(-time.Duration(lookbackHours) * time.Hour)

	s, err := c.source.Snapshot(ctx, cutoff)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: store snapshot")
	}

	snap := &MetricsSnapshot{
		StatesTotal:          s.StatesTotal,
		StatesByLevel:        s.StatesByLevel,
		StaleScores:          s.StaleScores,
		MultipleUsers:        s.MultipleUsers,
		AverageScore:         s.AverageScore,
		StagesCompleted:      s.StagesCompleted,
		Screenshots:          s.Screenshots,
		ScreenshotsCertified: s.ScreenshotsCertified,
		Transactions:         s.Transactions,
		Breakers:             map[string]string{},
		LookbackHours:        lookbackHours,
		CollectedAt:          now,
	}
	if s.Screenshots > 0 {
		snap.RejectionRate = float64(s.Screenshots-s.ScreenshotsCertified) / float64(s.Screenshots)
	}

	if c.breakers != nil {
		for name, state := range c.breakers.States() {
			snap.Breakers[name] = state.String()
		}
	}
	return snap, nil
}
