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
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/telekom/tokengate/pkg/breaker"
	"github.com/telekom/tokengate/pkg/metrics"
)

type flakyLimiter struct {
	err   error
	calls int
	reset []string
}

func (f *flakyLimiter) TryAcquire(_ context.Context, _ string, _ int) (Decision, error) {
	f.calls++
	if f.err != nil {
		return Decision{}, f.err
	}
	return Decision{Allowed: true, Limit: 2, Remaining: 1}, nil
}

func (f *flakyLimiter) Reset(_ context.Context, key string) error {
	f.reset = append(f.reset, key)
	return f.err
}

func (f *flakyLimiter) Stop() {}

func newTestFailover(t *testing.T, primary Limiter, name string) (*FailoverLimiter, *Controller) {
	t.Helper()
	local, _ := newTestController(t, Config{Capacity: 2, Rate: 0.01})
	br := breaker.New(name, breaker.Config{FailureThreshold: 2, OpenTimeout: time.Hour}, zaptest.NewLogger(t))
	return NewFailover(name, primary, local, br, zaptest.NewLogger(t).Sugar()), local
}

func TestFailoverLimiter(t *testing.T) {
	ctx := context.Background()

	t.Run("uses primary while healthy", func(t *testing.T) {
		primary := &flakyLimiter{}
		f, local := newTestFailover(t, primary, "failover-healthy")

		d, err := f.TryAcquire(ctx, "k", 1)
		require.NoError(t, err)
		assert.True(t, d.Allowed)
		assert.Equal(t, 1, primary.calls)
		assert.Equal(t, 0, local.Len())
	})

	t.Run("falls back to local quota on backend errors", func(t *testing.T) {
		primary := &flakyLimiter{err: errors.New("connection refused")}
		f, local := newTestFailover(t, primary, "failover-down")

		allowed := 0
		for i := 0; i < 5; i++ {
			d, err := f.TryAcquire(ctx, "k", 1)
			require.NoError(t, err)
			if d.Allowed {
				allowed++
			}
		}

		assert.Equal(t, 2, allowed, "local fallback enforces the same capacity")
		assert.Equal(t, 1, local.Len())
		assert.Equal(t, 2, primary.calls, "breaker opens after the failure threshold")
		assert.Equal(t, breaker.Open, f.Breaker().State())
		assert.Equal(t, float64(5), testutil.ToFloat64(metrics.RateLimitBackendFallbacks.WithLabelValues("failover-down")))
	})

	t.Run("falls back when redis goes away", func(t *testing.T) {
		mr, client := newTestRedis(t)
		rl, _ := newTestRedisLimiter(t, client, Config{Capacity: 2, Rate: 0.01})
		f, _ := newTestFailover(t, rl, "failover-redis")

		d, err := f.TryAcquire(ctx, "k", 1)
		require.NoError(t, err)
		require.True(t, d.Allowed)

		mr.Close()
		d, err = f.TryAcquire(ctx, "k", 1)
		require.NoError(t, err)
		assert.True(t, d.Allowed, "local bucket starts full")
	})

	t.Run("configuration errors bypass breaker and fallback", func(t *testing.T) {
		primary := &flakyLimiter{}
		f, _ := newTestFailover(t, primary, "failover-config")

		for i := 0; i < 5; i++ {
			_, err := f.TryAcquire(ctx, "k", 3)
			assert.ErrorIs(t, err, ErrCostExceedsCapacity)
		}
		assert.Equal(t, 0, primary.calls)
		assert.Equal(t, breaker.Closed, f.Breaker().State())
	})

	t.Run("reset clears both tiers", func(t *testing.T) {
		primary := &flakyLimiter{err: errors.New("down")}
		f, local := newTestFailover(t, primary, "failover-reset")

		_, _ = f.TryAcquire(ctx, "k", 1)
		require.Equal(t, 1, local.Len())

		err := f.Reset(ctx, "k")
		assert.Error(t, err)
		assert.Equal(t, []string{"k"}, primary.reset)
		assert.Equal(t, 0, local.Len())
	})
}
