// Package scoring provides the trust-score collaborator used after every
// validation stage: a remote HTTP service or a local certainty-weighted
// computation over the stored state.
package scoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/phonetrust/internal/certainty"
	"github.com/sells-group/phonetrust/internal/config"
	"github.com/sells-group/phonetrust/internal/model"
	"github.com/sells-group/phonetrust/internal/resilience"
)

// Scorer returns the authoritative trust score in [0,100] for a phone.
type Scorer interface {
	Score(ctx context.Context, phone, userID string) (float64, error)
}

// StateReader loads a persisted trust state.
type StateReader interface {
	GetState(ctx context.Context, phone, userID string) (*model.PhoneTrustState, error)
}

// NewScorer builds the scorer selected by cfg.Provider. The breaker is
// shared with monitoring so its state can be reported.
func NewScorer(cfg config.ScoringConfig, states StateReader, calc *certainty.Calculator, breaker *resilience.CircuitBreaker) (Scorer, error) {
	switch cfg.Provider {
	case "local", "":
		return NewLocal(states, calc, cfg.Weights), nil
	case "http":
		if cfg.BaseURL == "" {
			return nil, eris.New("scoring: http provider requires base_url")
		}
		retry := resilience.FromRetryConfig(cfg.RetryMaxAttempts, cfg.RetryInitialBackoffMs, cfg.RetryMaxBackoffMs)
		retry.OnRetry = resilience.RetryLogger("scoring", "trust-score")
		guard := resilience.NewGuard("scoring", cfg.RateLimit, cfg.RateBurst, breaker, retry)

		c := NewHTTPClient(cfg.BaseURL, cfg.APIKey, guard)
		if cfg.TimeoutSecs > 0 {
			c.client.Timeout = time.Duration(cfg.TimeoutSecs) * time.Second
		}
		return c, nil
	default:
		return nil, eris.Errorf("scoring: unknown provider %q", cfg.Provider)
	}
}

func validScore(score float64) error {
	if score < 0 || score > 100 {
		return eris.Errorf("scoring: score %.2f out of range [0,100]", score)
	}
	return nil
}
