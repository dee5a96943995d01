// Package certainty assigns certainty coefficients to data sources and folds
// certified data points into weighted scores.
package certainty

import (
	"context"
	"slices"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/phonetrust/internal/model"
)

// TableLoader reads the certainty table from a configuration store.
type TableLoader interface {
	LoadCertaintyTable(ctx context.Context) (model.CertaintyTable, error)
}

// Calculator owns a lazily loaded certainty table. The table is fetched once
// and kept until Reset or Reload.
type Calculator struct {
	loader TableLoader

	mu        sync.Mutex
	table     model.CertaintyTable
	fromStore bool
}

// NewCalculator creates a Calculator. A nil loader always uses DefaultTable.
func NewCalculator(loader TableLoader) *Calculator {
	return &Calculator{loader: loader}
}

// Table returns the cached table, loading it on first use.
func (c *Calculator) Table(ctx context.Context) model.CertaintyTable {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.table == nil {
		c.load(ctx)
	}
	return c.table
}

// FromStore reports whether the cached table came from the store rather
// than the built-in fallback.
func (c *Calculator) FromStore() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fromStore
}

// Reset drops the cached table; the next call reloads it.
func (c *Calculator) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.table = nil
	c.fromStore = false
}

// Reload fetches the table again immediately.
func (c *Calculator) Reload(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.load(ctx)
}

// load must be called with mu held.
func (c *Calculator) load(ctx context.Context) {
	if c.loader == nil {
		c.table, c.fromStore = DefaultTable(), false
		return
	}

	t, err := c.loader.LoadCertaintyTable(ctx)
	if err == nil {
		err = Validate(t)
	}
	if err != nil {
		zap.L().Warn("certainty: using built-in table", zap.Error(err))
		c.table, c.fromStore = DefaultTable(), false
		return
	}

	c.table, c.fromStore = t, true
	zap.L().Debug("certainty: loaded table from store", zap.Int("sources", len(t)))
}

// CertaintyOf returns the coefficient for a source, 0 for unknown sources.
func (c *Calculator) CertaintyOf(ctx context.Context, source model.SourceType, certified bool) float64 {
	e, ok := c.Table(ctx)[source]
	if !ok {
		return 0
	}
	if certified {
		return e.CertifiedCertainty
	}
	return e.BaseCertainty
}

// CheckCertification reports whether every proof required for the source
// is present. Unknown sources are never certified.
func (c *Calculator) CheckCertification(ctx context.Context, source model.SourceType, proofs []string) model.CertificationCheck {
	e, ok := c.Table(ctx)[source]
	if !ok {
		return model.CertificationCheck{MissingRequirements: []string{}}
	}

	missing := []string{}
	for _, req := range e.RequiredForCertified {
		if !slices.Contains(proofs, req) {
			missing = append(missing, req)
		}
	}
	return model.CertificationCheck{
		IsCertified:         len(missing) == 0,
		MissingRequirements: missing,
	}
}

// DataPoint builds a CertifiedDataPoint with its coefficient applied.
func (c *Calculator) DataPoint(ctx context.Context, featureID, name string, raw float64, source model.SourceType, certified bool) model.CertifiedDataPoint {
	coef := c.CertaintyOf(ctx, source, certified)
	return model.CertifiedDataPoint{
		FeatureID:            featureID,
		FeatureName:          name,
		RawValue:             raw,
		SourceType:           source,
		IsCertified:          certified,
		CertaintyCoefficient: coef,
		WeightedValue:        raw * coef,
	}
}

// WeightedScore folds data points into weight-normalized raw and certified
// scores. Points whose feature has no weight are ignored; a zero total
// weight yields zero scores.
func WeightedScore(points []model.CertifiedDataPoint, weights map[string]float64) model.WeightedScore {
	out := model.WeightedScore{Breakdown: []model.FeatureContribution{}}

	var totalWeight, rawSum, certSum, certaintySum float64
	for _, p := range points {
		w := weights[p.FeatureID]
		if w == 0 {
			continue
		}
		rawContribution := w * p.RawValue
		contribution := w * p.RawValue * p.CertaintyCoefficient

		totalWeight += w
		rawSum += rawContribution
		certSum += contribution
		certaintySum += w * p.CertaintyCoefficient

		out.Breakdown = append(out.Breakdown, model.FeatureContribution{
			FeatureID:       p.FeatureID,
			Weight:          w,
			RawValue:        p.RawValue,
			Certainty:       p.CertaintyCoefficient,
			RawContribution: rawContribution,
			Contribution:    contribution,
		})
	}

	if totalWeight == 0 {
		return out
	}
	out.RawScore = rawSum / totalWeight
	out.CertifiedScore = certSum / totalWeight
	out.OverallCertainty = certaintySum / totalWeight
	return out
}

// TrustLevelFor maps a 0-100 score to its trust level.
func TrustLevelFor(score float64) model.TrustLevel {
	switch {
	case score >= 90:
		return model.TrustGold
	case score >= 70:
		return model.TrustCertified
	case score >= 50:
		return model.TrustVerified
	case score >= 20:
		return model.TrustBasic
	default:
		return model.TrustUnverified
	}
}

// DormantAfter is the inactivity span after which a phone is dormant
// regardless of its transaction volume.
const DormantAfter = 90 * 24 * time.Hour

// ActivityLevelFor derives an activity level from the transaction count and
// the most recent activity. Recency takes precedence over volume.
func ActivityLevelFor(count int, lastActivity *time.Time, now time.Time) model.ActivityLevel {
	if lastActivity != nil && now.Sub(*lastActivity) > DormantAfter {
		return model.ActivityDormant
	}
	switch {
	case count <= 0:
		return model.ActivityDormant
	case count < 10:
		return model.ActivityLow
	case count < 30:
		return model.ActivityMedium
	case count < 60:
		return model.ActivityHigh
	default:
		return model.ActivityVeryHigh
	}
}
