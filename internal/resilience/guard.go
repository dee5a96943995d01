package resilience

import (
	"context"
	"errors"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"
)

// Guard combines a rate limiter, a circuit breaker and retries around one
// collaborator. Any component may be nil.
type Guard struct {
	Name    string
	Limiter *rate.Limiter
	Breaker *CircuitBreaker
	Retry   RetryConfig
}

// NewGuard builds a Guard allowing rps requests per second with the given
// burst. rps <= 0 disables rate limiting.
func NewGuard(name string, rps float64, burst int, breaker *CircuitBreaker, retry RetryConfig) *Guard {
	g := &Guard{Name: name, Breaker: breaker, Retry: retry}
	if rps > 0 {
		g.Limiter = rate.NewLimiter(rate.Limit(rps), max(burst, 1))
	}
	if g.Retry.OnRetry == nil {
		g.Retry.OnRetry = RetryLogger(name, "call")
	}
	return g
}

// Call runs fn through the guard. Each attempt waits for a limiter token and
// passes through the breaker; transient failures are retried.
func Call[T any](ctx context.Context, g *Guard, fn func(ctx context.Context) (T, error)) (T, error) {
	if g == nil {
		return fn(ctx)
	}
	cfg := g.Retry
	shouldRetry := cfg.ShouldRetry
	if shouldRetry == nil {
		shouldRetry = IsTransient
	}
	cfg.ShouldRetry = func(err error) bool {
		return !errors.Is(err, ErrCircuitOpen) && shouldRetry(err)
	}
	return DoVal(ctx, cfg, func(ctx context.Context) (T, error) {
		if g.Limiter != nil {
			if err := g.Limiter.Wait(ctx); err != nil {
				var zero T
				return zero, eris.Wrapf(err, "resilience: %s rate limiter", g.Name)
			}
		}
		if g.Breaker == nil {
			return fn(ctx)
		}
		return ExecuteVal(ctx, g.Breaker, fn)
	})
}
