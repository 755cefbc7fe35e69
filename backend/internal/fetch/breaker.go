package fetch

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"talent-graph/backend/internal/state"
	"talent-graph/backend/pkg/logger"
)

// BreakerConfig holds circuit breaker settings for an upstream fetcher
type BreakerConfig struct {
	Name             string
	MaxRequests      uint32
	Interval         time.Duration
	Timeout          time.Duration
	FailureThreshold float64
	MinRequests      uint32
}

// DefaultBreakerConfig returns the default breaker settings
func DefaultBreakerConfig(name string) BreakerConfig {
	return BreakerConfig{
		Name:             name,
		MaxRequests:      3,
		Interval:         30 * time.Second,
		Timeout:          60 * time.Second,
		FailureThreshold: 0.8,
		MinRequests:      5,
	}
}

// BreakerFetcher stops calling a failing upstream until it recovers. While
// open, every fetch fails immediately, which the expansion controller treats
// as "no neighbours" and schedules for retry.
type BreakerFetcher struct {
	inner Fetcher
	cb    *gobreaker.CircuitBreaker
}

// NewBreakerFetcher wraps inner with a circuit breaker
func NewBreakerFetcher(inner Fetcher, cfg BreakerConfig) *BreakerFetcher {
	log := logger.Named("fetch.breaker")
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < cfg.MinRequests {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return failureRatio >= cfg.FailureThreshold
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			log.Warn("Circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
		IsSuccessful: func(err error) bool {
			// caller cancellation says nothing about upstream health
			return err == nil || errors.Is(err, context.Canceled)
		},
	})
	return &BreakerFetcher{inner: inner, cb: cb}
}

// FetchNeighbors implements Fetcher
func (f *BreakerFetcher) FetchNeighbors(ctx context.Context, person state.Person) ([]state.Record, error) {
	out, err := f.cb.Execute(func() (interface{}, error) {
		return f.inner.FetchNeighbors(ctx, person)
	})
	if err != nil {
		return nil, err
	}
	records, _ := out.([]state.Record)
	return records, nil
}

// State reports the current breaker state
func (f *BreakerFetcher) State() gobreaker.State {
	return f.cb.State()
}
