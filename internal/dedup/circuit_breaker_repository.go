package dedup

import (
	"context"
	"fmt"
	"time"

	"github.com/sony/gobreaker"

	"mailmaestro/internal/config"
	"mailmaestro/pkg/circuitbreaker"
)

// CircuitBreakerRepository guards a Repository with a circuit breaker so a
// failing database does not stall a whole triage run.
type CircuitBreakerRepository struct {
	repo Repository
	cb   *circuitbreaker.Wrapper
}

func NewCircuitBreakerRepository(repo Repository, cfg config.CircuitBreakerConfig) *CircuitBreakerRepository {
	if !cfg.Enabled {
		return &CircuitBreakerRepository{repo: repo}
	}

	cbConfig := circuitbreaker.DefaultConfig("dedup-store")
	if cfg.MaxRequests > 0 {
		cbConfig.MaxRequests = cfg.MaxRequests
	}
	if cfg.Interval > 0 {
		cbConfig.Interval = cfg.Interval
	}
	if cfg.Timeout > 0 {
		cbConfig.Timeout = cfg.Timeout
	}
	if cfg.FailureRatio > 0 && cfg.MinRequests > 0 {
		cbConfig.ReadyToTrip = func(counts gobreaker.Counts) bool {
			if counts.Requests < uint32(cfg.MinRequests) {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return failureRatio >= cfg.FailureRatio
		}
	}

	return &CircuitBreakerRepository{
		repo: repo,
		cb:   circuitbreaker.NewWrapper(cbConfig),
	}
}

func (r *CircuitBreakerRepository) Seen(ctx context.Context, fingerprint string) (bool, error) {
	if r.cb == nil {
		return r.repo.Seen(ctx, fingerprint)
	}

	result, err := r.cb.ExecuteWithContext(ctx, func() (interface{}, error) {
		return r.repo.Seen(ctx, fingerprint)
	})

	r.cb.RecordRequest(err == nil)

	if err != nil {
		if r.cb.IsOpen() {
			return false, fmt.Errorf("circuit breaker is open for dedup-store: %w", err)
		}
		return false, err
	}

	seen, ok := result.(bool)
	if !ok {
		return false, fmt.Errorf("repository returned invalid result type")
	}
	return seen, nil
}

func (r *CircuitBreakerRepository) Mark(ctx context.Context, fingerprint string, at time.Time) error {
	if r.cb == nil {
		return r.repo.Mark(ctx, fingerprint, at)
	}

	_, err := r.cb.ExecuteWithContext(ctx, func() (interface{}, error) {
		return nil, r.repo.Mark(ctx, fingerprint, at)
	})

	r.cb.RecordRequest(err == nil)

	if err != nil {
		if r.cb.IsOpen() {
			return fmt.Errorf("circuit breaker is open for dedup-store: %w", err)
		}
		return err
	}
	return nil
}

func (r *CircuitBreakerRepository) IsOpen() bool {
	if r.cb == nil {
		return false
	}
	return r.cb.IsOpen()
}
