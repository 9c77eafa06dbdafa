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

package auth

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	clocktesting "k8s.io/utils/clock/testing"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, redis.UniversalClient) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestMemoryRevocationStore(t *testing.T) {
	ctx := context.Background()
	clk := clocktesting.NewFakePassiveClock(epoch)
	s := NewMemoryRevocationStore(512*1024, clk)

	require.NoError(t, s.Revoke(ctx, "a", 1500*time.Millisecond))
	require.NoError(t, s.Revoke(ctx, "ignored", 0))
	assert.Error(t, s.Revoke(ctx, "", time.Minute))

	revoked, err := s.IsRevoked(ctx, "a")
	require.NoError(t, err)
	assert.True(t, revoked)
	revoked, _ = s.IsRevoked(ctx, "ignored")
	assert.False(t, revoked)

	clk.SetTime(epoch.Add(time.Second))
	revoked, _ = s.IsRevoked(ctx, "a")
	assert.True(t, revoked, "ttl is rounded up to whole seconds")

	clk.SetTime(epoch.Add(2 * time.Second))
	revoked, _ = s.IsRevoked(ctx, "a")
	assert.False(t, revoked)
}

func TestRedisRevocationStore(t *testing.T) {
	ctx := context.Background()
	mr, client := newTestRedis(t)
	s := NewRedisRevocationStore(client, "")

	require.NoError(t, s.Revoke(ctx, "jti-1", time.Minute))
	assert.True(t, mr.Exists("jwt:blacklist:jti-1"))
	assert.Equal(t, time.Minute, mr.TTL("jwt:blacklist:jti-1"))

	revoked, err := s.IsRevoked(ctx, "jti-1")
	require.NoError(t, err)
	assert.True(t, revoked)

	ttl, err := s.TTL(ctx, "jti-1")
	require.NoError(t, err)
	assert.Equal(t, time.Minute, ttl)

	revoked, err = s.IsRevoked(ctx, "jti-2")
	require.NoError(t, err)
	assert.False(t, revoked)

	mr.FastForward(time.Minute)
	revoked, err = s.IsRevoked(ctx, "jti-1")
	require.NoError(t, err)
	assert.False(t, revoked)

	mr.Close()
	_, err = s.IsRevoked(ctx, "jti-1")
	assert.Error(t, err)
}

func TestTieredRevocationStore(t *testing.T) {
	ctx := context.Background()
	mr, client := newTestRedis(t)
	clk := clocktesting.NewFakePassiveClock(epoch)
	remote := NewRedisRevocationStore(client, "test:revoked:")

	replicaA := NewTieredRevocationStore(NewMemoryRevocationStore(512*1024, clk), remote)
	localB := NewMemoryRevocationStore(512*1024, clk)
	replicaB := NewTieredRevocationStore(localB, remote)

	require.NoError(t, replicaA.Revoke(ctx, "jti-1", time.Hour))
	assert.True(t, mr.Exists("test:revoked:jti-1"))

	// replica B learns about the revocation from redis and caches it
	revoked, err := replicaB.IsRevoked(ctx, "jti-1")
	require.NoError(t, err)
	assert.True(t, revoked)
	hit, _ := localB.IsRevoked(ctx, "jti-1")
	assert.True(t, hit)

	// local hits survive a redis outage
	mr.Close()
	revoked, err = replicaB.IsRevoked(ctx, "jti-1")
	require.NoError(t, err)
	assert.True(t, revoked)

	_, err = replicaB.IsRevoked(ctx, "jti-unknown")
	assert.Error(t, err)

	// revocation still applies locally when redis is down
	assert.Error(t, replicaA.Revoke(ctx, "jti-2", time.Hour))
	revoked, _ = replicaA.IsRevoked(ctx, "jti-2")
	assert.True(t, revoked)
}
