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

package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"golang.org/x/time/rate"
	"k8s.io/utils/clock"

	"github.com/telekom/tokengate/pkg/metrics"
)

var (
	// ErrInvalidKey is returned for an empty bucket key.
	ErrInvalidKey = errors.New("ratelimit: key must not be empty")
	// ErrInvalidCost is returned when cost is zero or negative.
	ErrInvalidCost = errors.New("ratelimit: cost must be positive")
	// ErrCostExceedsCapacity is returned when a request asks for more tokens than a full bucket holds.
	ErrCostExceedsCapacity = errors.New("ratelimit: cost exceeds bucket capacity")
	// ErrInvalidConfig is returned by constructors for non-positive capacity or rate.
	ErrInvalidConfig = errors.New("ratelimit: invalid configuration")
)

// Config holds the bucket parameters shared by every key of a limiter.
type Config struct {
	// Capacity is the maximum number of tokens a bucket holds, and its initial fill
	Capacity int
	// Rate is the refill rate in tokens per second
	Rate float64
	// CleanupInterval is how often idle buckets are swept
	CleanupInterval time.Duration
	// MaxAge is how long a bucket is kept after its last access
	MaxAge time.Duration
}

// RefillTime is the time an empty bucket needs to become full again.
func (c Config) RefillTime() time.Duration {
	return time.Duration(float64(c.Capacity) / c.Rate * float64(time.Second))
}

func (c Config) validate() error {
	if c.Capacity <= 0 {
		return fmt.Errorf("%w: capacity must be positive, got %d", ErrInvalidConfig, c.Capacity)
	}
	if c.Rate <= 0 || math.IsNaN(c.Rate) || math.IsInf(c.Rate, 0) {
		return fmt.Errorf("%w: rate must be a positive finite number, got %v", ErrInvalidConfig, c.Rate)
	}
	return nil
}

func (c Config) withDefaults() Config {
	if c.CleanupInterval <= 0 {
		c.CleanupInterval = time.Minute
	}
	if c.MaxAge <= 0 {
		c.MaxAge = 5 * time.Minute
	}
	// An evicted bucket is recreated full, so it must not be dropped before it
	// would have refilled on its own.
	if refill := c.RefillTime(); c.MaxAge < refill {
		c.MaxAge = refill
	}
	return c
}

// Decision is the outcome of an admission check.
type Decision struct {
	Allowed bool
	// Remaining is the number of whole tokens left after the check
	Remaining int
	// Limit is the bucket capacity
	Limit int
	// RetryAfter is how long until the requested cost could be granted; zero when allowed
	RetryAfter time.Duration
}

// Limiter is implemented by every admission backend.
type Limiter interface {
	TryAcquire(ctx context.Context, key string, cost int) (Decision, error)
	Reset(ctx context.Context, key string) error
	Stop()
}

func validate(key string, cost, capacity int) error {
	if key == "" {
		return ErrInvalidKey
	}
	if cost <= 0 {
		return fmt.Errorf("%w: got %d", ErrInvalidCost, cost)
	}
	if cost > capacity {
		return fmt.Errorf("%w: cost %d, capacity %d", ErrCostExceedsCapacity, cost, capacity)
	}
	return nil
}

// retryAfter converts a token deficit into a wait time.
func retryAfter(deficit, ratePerSecond float64) time.Duration {
	if deficit <= 0 {
		return 0
	}
	return time.Duration(math.Ceil(deficit / ratePerSecond * float64(time.Second)))
}

// bucket holds the limiter for one key. evicted is set under mu once the
// bucket has been removed from the map; holders must then retry.
type bucket struct {
	mu         sync.Mutex
	limiter    *rate.Limiter
	lastAccess time.Time
	evicted    bool
}

// Option customizes a Controller.
type Option func(*Controller)

// WithClock sets the time source, mostly for tests.
func WithClock(c clock.WithTicker) Option {
	return func(ctl *Controller) { ctl.clock = c }
}

// WithName sets the policy name used as metrics label.
func WithName(name string) Option {
	return func(ctl *Controller) { ctl.name = name }
}

// Controller is an in-memory token bucket limiter keyed by client or subject.
type Controller struct {
	mu      sync.RWMutex
	buckets map[string]*bucket
	config  Config
	name    string
	clock   clock.WithTicker
	done    chan struct{}
	stop    sync.Once
}

var _ Limiter = (*Controller)(nil)

// New creates a Controller and starts its eviction sweeper. Call Stop to release it.
func New(cfg Config, opts ...Option) (*Controller, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	ctl := &Controller{
		buckets: make(map[string]*bucket),
		config:  cfg.withDefaults(),
		name:    "default",
		clock:   clock.RealClock{},
		done:    make(chan struct{}),
	}
	for _, o := range opts {
		o(ctl)
	}

	go ctl.cleanup()

	return ctl, nil
}

// TryAcquire takes cost tokens from the bucket for key if enough are available.
func (ctl *Controller) TryAcquire(_ context.Context, key string, cost int) (Decision, error) {
	if err := validate(key, cost, ctl.config.Capacity); err != nil {
		return Decision{}, err
	}

	for {
		b := ctl.getOrCreate(key)
		b.mu.Lock()
		if b.evicted {
			// lost a race with Reset or the sweeper
			b.mu.Unlock()
			continue
		}
		now := ctl.clock.Now()
		b.lastAccess = now
		d := Decision{Limit: ctl.config.Capacity}
		d.Allowed = b.limiter.AllowN(now, cost)
		tokens := b.limiter.TokensAt(now)
		b.mu.Unlock()

		d.Remaining = int(math.Max(0, math.Floor(tokens)))
		if !d.Allowed {
			d.RetryAfter = retryAfter(float64(cost)-tokens, ctl.config.Rate)
		}
		recordDecision(ctl.name, d)
		return d, nil
	}
}

// TryAcquireOne is TryAcquire with a cost of one token.
func (ctl *Controller) TryAcquireOne(ctx context.Context, key string) (Decision, error) {
	return ctl.TryAcquire(ctx, key, 1)
}

func (ctl *Controller) getOrCreate(key string) *bucket {
	ctl.mu.RLock()
	b, ok := ctl.buckets[key]
	ctl.mu.RUnlock()
	if ok {
		return b
	}

	ctl.mu.Lock()
	defer ctl.mu.Unlock()
	if b, ok = ctl.buckets[key]; ok {
		return b
	}
	b = &bucket{
		limiter:    rate.NewLimiter(rate.Limit(ctl.config.Rate), ctl.config.Capacity),
		lastAccess: ctl.clock.Now(),
	}
	ctl.buckets[key] = b
	metrics.RateLimitBuckets.WithLabelValues(ctl.name).Set(float64(len(ctl.buckets)))
	return b
}

// Reset drops the bucket for key; the next acquire starts from a full bucket.
func (ctl *Controller) Reset(_ context.Context, key string) error {
	if key == "" {
		return ErrInvalidKey
	}
	ctl.mu.Lock()
	defer ctl.mu.Unlock()
	if b, ok := ctl.buckets[key]; ok {
		b.mu.Lock()
		b.evicted = true
		b.mu.Unlock()
		delete(ctl.buckets, key)
		metrics.RateLimitBuckets.WithLabelValues(ctl.name).Set(float64(len(ctl.buckets)))
	}
	return nil
}

// Stop stops the eviction sweeper. It is safe to call more than once.
func (ctl *Controller) Stop() {
	ctl.stop.Do(func() { close(ctl.done) })
}

// cleanup periodically evicts idle buckets
func (ctl *Controller) cleanup() {
	ticker := ctl.clock.NewTicker(ctl.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctl.done:
			return
		case <-ticker.C():
			ctl.sweep()
		}
	}
}

// sweep removes buckets idle for longer than MaxAge and returns how many it removed.
// Lock order is map then bucket, the same as Reset.
func (ctl *Controller) sweep() int {
	ctl.mu.Lock()
	defer ctl.mu.Unlock()

	now := ctl.clock.Now()
	removed := 0
	for key, b := range ctl.buckets {
		b.mu.Lock()
		if now.Sub(b.lastAccess) > ctl.config.MaxAge {
			b.evicted = true
			delete(ctl.buckets, key)
			removed++
		}
		b.mu.Unlock()
	}
	if removed > 0 {
		metrics.RateLimitEvictions.WithLabelValues(ctl.name).Add(float64(removed))
		metrics.RateLimitBuckets.WithLabelValues(ctl.name).Set(float64(len(ctl.buckets)))
	}
	return removed
}

// Len returns the current number of tracked buckets
func (ctl *Controller) Len() int {
	ctl.mu.RLock()
	defer ctl.mu.RUnlock()
	return len(ctl.buckets)
}

// Config returns the effective configuration after defaults were applied
func (ctl *Controller) Config() Config {
	return ctl.config
}

// Name returns the policy name of the controller
func (ctl *Controller) Name() string {
	return ctl.name
}

func recordDecision(policy string, d Decision) {
	outcome := "allowed"
	if !d.Allowed {
		outcome = "denied"
	}
	metrics.RateLimitDecisions.WithLabelValues(policy, outcome).Inc()
}
