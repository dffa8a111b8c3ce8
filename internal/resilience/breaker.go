// Package resilience puts circuit breakers in front of remote calls so that a
// failing backend is not hammered while it is down. Retrying is left to the
// callers: the upload queue owns its retry policy.
package resilience

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/dmitrijs2005/propcheck/internal/logging"
	"github.com/sony/gobreaker/v2"
)

type Config struct {
	Enabled          bool
	MinRequests      uint32
	FailureRatio     float64
	OpenTimeout      time.Duration
	HalfOpenMaxCalls uint32
}

func DefaultConfig() Config {
	return Config{
		Enabled:          true,
		MinRequests:      5,
		FailureRatio:     0.6,
		OpenTimeout:      30 * time.Second,
		HalfOpenMaxCalls: 1,
	}
}

func (c Config) normalize() Config {
	out := c
	def := DefaultConfig()

	if out.MinRequests == 0 {
		out.MinRequests = def.MinRequests
	}
	if out.FailureRatio <= 0 || out.FailureRatio > 1 {
		out.FailureRatio = def.FailureRatio
	}
	if out.OpenTimeout <= 0 {
		out.OpenTimeout = def.OpenTimeout
	}
	if out.HalfOpenMaxCalls == 0 {
		out.HalfOpenMaxCalls = def.HalfOpenMaxCalls
	}
	return out
}

// Breakers keeps one circuit breaker per operation name.
type Breakers struct {
	cfg Config
	log logging.Logger

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker[any]
}

func New(cfg Config, log logging.Logger) *Breakers {
	if log == nil {
		log = logging.Nop()
	}
	return &Breakers{
		cfg:      cfg.normalize(),
		log:      log,
		breakers: make(map[string]*gobreaker.CircuitBreaker[any]),
	}
}

// Execute runs fn through the breaker for operation. While the breaker is
// open fn is not called and an error matching IsCircuitOpen is returned.
func (b *Breakers) Execute(ctx context.Context, operation string, fn func(context.Context) error) error {
	if fn == nil {
		return fmt.Errorf("resilience: operation callback is nil")
	}
	if b == nil || !b.cfg.Enabled {
		return fn(ctx)
	}

	op := strings.TrimSpace(operation)
	if op == "" {
		op = "unknown"
	}

	_, err := b.breaker(op).Execute(func() (any, error) {
		return nil, fn(ctx)
	})
	return err
}

func (b *Breakers) breaker(operation string) *gobreaker.CircuitBreaker[any] {
	b.mu.Lock()
	defer b.mu.Unlock()

	if cb, ok := b.breakers[operation]; ok {
		return cb
	}

	settings := gobreaker.Settings{
		Name:        operation,
		MaxRequests: b.cfg.HalfOpenMaxCalls,
		Timeout:     b.cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < b.cfg.MinRequests {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= b.cfg.FailureRatio
		},
		// cancellation says nothing about backend health
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			b.log.Warn(context.Background(), "circuit breaker state change", "operation", name, "from", from.String(), "to", to.String())
		},
	}

	cb := gobreaker.NewCircuitBreaker[any](settings)
	b.breakers[operation] = cb
	return cb
}

func IsCircuitOpen(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}
