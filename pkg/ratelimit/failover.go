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

	"go.uber.org/zap"

	"github.com/telekom/tokengate/pkg/breaker"
	"github.com/telekom/tokengate/pkg/metrics"
)

// FailoverLimiter asks a shared primary limiter and falls back to a local
// Controller while the primary is failing. The fallback enforces the same
// per-key quota per replica, so a backend outage never admits unlimited traffic.
type FailoverLimiter struct {
	name     string
	capacity int
	primary  Limiter
	fallback *Controller
	breaker  *breaker.Breaker
	log      *zap.SugaredLogger
}

var _ Limiter = (*FailoverLimiter)(nil)

// NewFailover combines primary and fallback behind br. Both limiters must use
// the same capacity.
func NewFailover(name string, primary Limiter, fallback *Controller, br *breaker.Breaker, log *zap.SugaredLogger) *FailoverLimiter {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &FailoverLimiter{
		name:     name,
		capacity: fallback.Config().Capacity,
		primary:  primary,
		fallback: fallback,
		breaker:  br,
		log:      log.With("policy", name),
	}
}

func (f *FailoverLimiter) TryAcquire(ctx context.Context, key string, cost int) (Decision, error) {
	// configuration errors must neither trip the breaker nor be masked by the fallback
	if err := validate(key, cost, f.capacity); err != nil {
		return Decision{}, err
	}

	var d Decision
	err := f.breaker.Execute(ctx, func(ctx context.Context) error {
		var err error
		d, err = f.primary.TryAcquire(ctx, key, cost)
		return err
	})
	if err == nil {
		return d, nil
	}
	if ctx.Err() != nil {
		return Decision{}, ctx.Err()
	}

	metrics.RateLimitBackendFallbacks.WithLabelValues(f.name).Inc()
	if !errors.Is(err, breaker.ErrOpen) {
		f.log.Warnw("Shared rate limit backend failed, answering from local buckets", "error", err)
	}
	return f.fallback.TryAcquire(ctx, key, cost)
}

// Reset clears the key in both limiters. The primary error, if any, is returned.
func (f *FailoverLimiter) Reset(ctx context.Context, key string) error {
	if err := f.fallback.Reset(ctx, key); err != nil {
		return err
	}
	return f.primary.Reset(ctx, key)
}

// Stop stops both limiters.
func (f *FailoverLimiter) Stop() {
	f.primary.Stop()
	f.fallback.Stop()
}

// Breaker exposes the circuit breaker for health reporting.
func (f *FailoverLimiter) Breaker() *breaker.Breaker {
	return f.breaker
}
