/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package breaker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"k8s.io/utils/clock"

	"github.com/telekom/tokengate/pkg/metrics"
)

// State is the current position of a Breaker.
type State int32

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// ErrOpen is returned by Execute while the breaker rejects calls.
var ErrOpen = errors.New("circuit breaker is open")

// Config controls when a Breaker trips and recovers.
type Config struct {
	// FailureThreshold is the number of consecutive failures that opens the breaker. Default: 5
	FailureThreshold int
	// SuccessThreshold is the number of consecutive half-open successes that closes it. Default: 2
	SuccessThreshold int
	// OpenTimeout is how long the breaker stays open before probing. Default: 30s
	OpenTimeout time.Duration
	// HalfOpenMaxCalls bounds concurrent probe calls. Default: 1
	HalfOpenMaxCalls int
	// OnStateChange is invoked after every transition.
	OnStateChange func(from, to State)
}

// DefaultConfig returns the defaults used for backend breakers.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		SuccessThreshold: 2,
		OpenTimeout:      30 * time.Second,
		HalfOpenMaxCalls: 1,
	}
}

// Option customizes a Breaker.
type Option func(*Breaker)

// WithClock replaces the wall clock, mostly for tests.
func WithClock(c clock.PassiveClock) Option {
	return func(b *Breaker) { b.clock = c }
}

// Breaker is safe for concurrent use.
type Breaker struct {
	name   string
	cfg    Config
	log    *zap.Logger
	clock  clock.PassiveClock
	mu     sync.Mutex
	state  atomic.Int32
	opened time.Time // guarded by mu

	consecutiveFails atomic.Int64
	consecutiveSuccs atomic.Int64
	probes           atomic.Int64

	calls      atomic.Int64
	failures   atomic.Int64
	rejections atomic.Int64
	lastErr    atomic.Value
}

// New creates a closed breaker. Zero config values fall back to DefaultConfig.
func New(name string, cfg Config, log *zap.Logger, opts ...Option) *Breaker {
	def := DefaultConfig()
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = def.FailureThreshold
	}
	if cfg.SuccessThreshold <= 0 {
		cfg.SuccessThreshold = def.SuccessThreshold
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = def.OpenTimeout
	}
	if cfg.HalfOpenMaxCalls <= 0 {
		cfg.HalfOpenMaxCalls = def.HalfOpenMaxCalls
	}
	if log == nil {
		log = zap.NewNop()
	}
	b := &Breaker{
		name:  name,
		cfg:   cfg,
		log:   log.Named("breaker").With(zap.String("breaker", name)),
		clock: clock.RealClock{},
	}
	for _, o := range opts {
		o(b)
	}
	b.state.Store(int32(Closed))
	metrics.CircuitBreakerState.WithLabelValues(name).Set(float64(Closed))
	return b
}

// Name returns the label the breaker reports metrics under.
func (b *Breaker) Name() string { return b.name }

// Execute runs fn unless the breaker is open. Errors returned by fn count as
// failures except context cancellation by the caller.
func (b *Breaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	probe, ok := b.acquire()
	if !ok {
		b.rejections.Add(1)
		metrics.CircuitBreakerRejections.WithLabelValues(b.name).Inc()
		return ErrOpen
	}
	if probe {
		defer b.probes.Add(-1)
	}
	b.calls.Add(1)

	err := fn(ctx)
	switch {
	case err == nil:
		b.onSuccess()
	case errors.Is(err, context.Canceled):
		// caller went away, says nothing about the backend
	default:
		b.onFailure(err)
	}
	return err
}

// acquire reports whether a call may proceed and whether it is a half-open probe.
func (b *Breaker) acquire() (probe bool, ok bool) {
	switch State(b.state.Load()) {
	case Closed:
		return false, true
	case Open:
		b.mu.Lock()
		elapsed := b.clock.Since(b.opened)
		b.mu.Unlock()
		if elapsed < b.cfg.OpenTimeout {
			return false, false
		}
		b.transition(HalfOpen)
		fallthrough
	case HalfOpen:
		if b.probes.Add(1) <= int64(b.cfg.HalfOpenMaxCalls) {
			return true, true
		}
		b.probes.Add(-1)
		return false, false
	}
	return false, false
}

func (b *Breaker) onSuccess() {
	b.consecutiveFails.Store(0)
	n := b.consecutiveSuccs.Add(1)
	if State(b.state.Load()) == HalfOpen && int(n) >= b.cfg.SuccessThreshold {
		b.transition(Closed)
	}
}

func (b *Breaker) onFailure(err error) {
	b.failures.Add(1)
	b.lastErr.Store(err)
	b.consecutiveSuccs.Store(0)
	n := b.consecutiveFails.Add(1)
	switch State(b.state.Load()) {
	case Closed:
		if int(n) >= b.cfg.FailureThreshold {
			b.transition(Open)
		}
	case HalfOpen:
		b.transition(Open)
	}
}

func (b *Breaker) transition(to State) {
	b.mu.Lock()
	from := State(b.state.Load())
	if from == to {
		b.mu.Unlock()
		return
	}
	b.state.Store(int32(to))
	if to == Open {
		b.opened = b.clock.Now()
	}
	b.consecutiveFails.Store(0)
	b.consecutiveSuccs.Store(0)
	b.mu.Unlock()

	b.log.Info("circuit breaker state changed",
		zap.String("from", from.String()),
		zap.String("to", to.String()))
	metrics.CircuitBreakerState.WithLabelValues(b.name).Set(float64(to))
	if b.cfg.OnStateChange != nil {
		b.cfg.OnStateChange(from, to)
	}
}

// State returns the current state without triggering an open to half-open move.
func (b *Breaker) State() State {
	return State(b.state.Load())
}

// Healthy reports whether the breaker is closed.
func (b *Breaker) Healthy() bool {
	return b.State() == Closed
}

// Stats is a point-in-time snapshot of breaker counters.
type Stats struct {
	State      State
	Calls      int64
	Failures   int64
	Rejections int64
	LastError  error
}

func (b *Breaker) Stats() Stats {
	s := Stats{
		State:      b.State(),
		Calls:      b.calls.Load(),
		Failures:   b.failures.Load(),
		Rejections: b.rejections.Load(),
	}
	if err, ok := b.lastErr.Load().(error); ok {
		s.LastError = err
	}
	return s
}

// ForceOpen trips the breaker, e.g. for maintenance of the backend.
func (b *Breaker) ForceOpen() { b.transition(Open) }

// ForceClose closes the breaker regardless of recent failures.
func (b *Breaker) ForceClose() { b.transition(Closed) }
