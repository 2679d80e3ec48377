// Package circuitbreaker wraps sony/gobreaker with a per-address
// registry so the client's reconnect-resume loop stops hammering a
// consistently unreachable server instead of burning its whole RFW
// retry budget on dial failures alone.
package circuitbreaker

import (
	"fmt"
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/coreflux/rfw-workload/internal/metrics"
)

// Registry hands out one breaker per target address.
type Registry struct {
	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker
	logger   *zap.Logger
}

// NewRegistry creates an empty per-address breaker registry.
func NewRegistry(logger *zap.Logger) *Registry {
	return &Registry{
		breakers: make(map[string]*gobreaker.CircuitBreaker),
		logger:   logger,
	}
}

// For returns the breaker for addr, creating it on first use. Five
// consecutive dial failures trip the breaker for 30 seconds, mirroring
// the RFW session's own MaxFail=5 budget so a dead address fails fast
// on the retry after the one that would have exhausted the budget
// anyway.
func (r *Registry) For(addr string) *gobreaker.CircuitBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cb, ok := r.breakers[addr]; ok {
		return cb
	}

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        addr,
		MaxRequests: 1,
		Interval:    0,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			r.logger.Warn("circuit breaker state change",
				zap.String("address", name), zap.String("from", from.String()), zap.String("to", to.String()))
			if to == gobreaker.StateOpen {
				metrics.CircuitBreakerTrips.WithLabelValues(name).Inc()
			}
		},
	})
	r.breakers[addr] = cb
	return cb
}

// ErrOpen wraps gobreaker.ErrOpenState with the address for caller logging.
func ErrOpen(addr string) error {
	return fmt.Errorf("circuit open for %s: %w", addr, gobreaker.ErrOpenState)
}
