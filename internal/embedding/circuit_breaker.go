package embedding

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker"
)

// ErrCircuitOpen is returned while the breaker is open and rejecting
// calls to a failing backend.
var ErrCircuitOpen = errors.New("embedding circuit breaker is open")

// BreakerConfig tunes the circuit breaker that guards backend calls.
type BreakerConfig struct {
	// MaxFailures is the number of consecutive failures that trip the
	// circuit. Default: 3.
	MaxFailures uint32

	// Cooldown is how long the circuit stays open before allowing probe
	// requests. Default: 30 seconds.
	Cooldown time.Duration

	// ProbeSuccesses is the number of consecutive successes in half-open
	// state required to close the circuit. Default: 2.
	ProbeSuccesses uint32
}

func (c BreakerConfig) withDefaults() BreakerConfig {
	if c.MaxFailures == 0 {
		c.MaxFailures = 3
	}
	if c.Cooldown == 0 {
		c.Cooldown = 30 * time.Second
	}
	if c.ProbeSuccesses == 0 {
		c.ProbeSuccesses = 2
	}
	return c
}

// breaker wraps gobreaker so a flapping embedding backend fails fast
// instead of stalling every search on a timeout.
type breaker struct {
	cb *gobreaker.CircuitBreaker
}

func newBreaker(name string, cfg BreakerConfig) *breaker {
	cfg = cfg.withDefaults()
	return &breaker{
		cb: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        name,
			MaxRequests: cfg.ProbeSuccesses,
			Timeout:     cfg.Cooldown,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= cfg.MaxFailures
			},
		}),
	}
}

// execute runs fn through the breaker, translating gobreaker's open and
// half-open rejections into ErrCircuitOpen.
func (b *breaker) execute(ctx context.Context, fn func() (interface{}, error)) (interface{}, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	result, err := b.cb.Execute(func() (interface{}, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return fn()
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, ErrCircuitOpen
	}
	return result, err
}

// open reports whether the breaker is currently rejecting calls.
func (b *breaker) open() bool {
	return b.cb.State() == gobreaker.StateOpen
}
