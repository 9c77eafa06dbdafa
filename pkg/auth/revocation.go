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
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/coocood/freecache"
	"github.com/redis/go-redis/v9"
	"k8s.io/utils/clock"
)

// DefaultRevocationPrefix is the Redis key prefix for revoked token ids.
const DefaultRevocationPrefix = "jwt:blacklist:"

// RevocationStore remembers revoked token ids until their tokens expire.
type RevocationStore interface {
	// Revoke stores jti for ttl.
	Revoke(ctx context.Context, jti string, ttl time.Duration) error
	IsRevoked(ctx context.Context, jti string) (bool, error)
}

// ttlSeconds rounds up so an entry never outlives its token by less than a second.
func ttlSeconds(ttl time.Duration) int {
	return int(math.Ceil(ttl.Seconds()))
}

// clockTimer feeds a clock into freecache's expiry bookkeeping.
type clockTimer struct {
	clock clock.PassiveClock
}

func (t clockTimer) Now() uint32 {
	return uint32(t.clock.Now().Unix())
}

// MemoryRevocationStore keeps revoked ids in a process-local freecache.
// Entries expire with their tokens; when the cache is full, the oldest entries
// are overwritten.
type MemoryRevocationStore struct {
	cache *freecache.Cache
}

var _ RevocationStore = (*MemoryRevocationStore)(nil)

// NewMemoryRevocationStore allocates a cache of sizeBytes (freecache minimum is 512KiB).
func NewMemoryRevocationStore(sizeBytes int, clk clock.PassiveClock) *MemoryRevocationStore {
	if clk == nil {
		clk = clock.RealClock{}
	}
	return &MemoryRevocationStore{cache: freecache.NewCacheCustomTimer(sizeBytes, clockTimer{clock: clk})}
}

func (m *MemoryRevocationStore) Revoke(_ context.Context, jti string, ttl time.Duration) error {
	if jti == "" {
		return errors.New("token id must not be empty")
	}
	if ttl <= 0 {
		return nil
	}
	return m.cache.Set([]byte(jti), []byte{1}, ttlSeconds(ttl))
}

func (m *MemoryRevocationStore) IsRevoked(_ context.Context, jti string) (bool, error) {
	_, err := m.cache.Get([]byte(jti))
	if errors.Is(err, freecache.ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

// Len returns the number of live entries.
func (m *MemoryRevocationStore) Len() int64 {
	return m.cache.EntryCount()
}

// RedisRevocationStore shares revoked ids between replicas.
type RedisRevocationStore struct {
	client redis.UniversalClient
	prefix string
}

var _ RevocationStore = (*RedisRevocationStore)(nil)

func NewRedisRevocationStore(client redis.UniversalClient, prefix string) *RedisRevocationStore {
	if prefix == "" {
		prefix = DefaultRevocationPrefix
	}
	return &RedisRevocationStore{client: client, prefix: prefix}
}

func (r *RedisRevocationStore) key(jti string) string {
	return r.prefix + jti
}

func (r *RedisRevocationStore) Revoke(ctx context.Context, jti string, ttl time.Duration) error {
	if jti == "" {
		return errors.New("token id must not be empty")
	}
	if ttl <= 0 {
		return nil
	}
	if err := r.client.Set(ctx, r.key(jti), "revoked", ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", r.key(jti), err)
	}
	return nil
}

func (r *RedisRevocationStore) IsRevoked(ctx context.Context, jti string) (bool, error) {
	ttl, err := r.TTL(ctx, jti)
	if err != nil {
		return false, err
	}
	return ttl > 0, nil
}

// TTL returns how long jti stays revoked, or zero when it is not revoked.
func (r *RedisRevocationStore) TTL(ctx context.Context, jti string) (time.Duration, error) {
	ttl, err := r.client.PTTL(ctx, r.key(jti)).Result()
	if err != nil {
		return 0, fmt.Errorf("redis pttl %s: %w", r.key(jti), err)
	}
	// -2: no such key, -1: no expiry (never written by this store)
	if ttl < 0 {
		return 0, nil
	}
	return ttl, nil
}

// TieredRevocationStore answers from the local cache first and falls back to
// Redis, copying remote hits into the local cache.
type TieredRevocationStore struct {
	local  *MemoryRevocationStore
	remote *RedisRevocationStore
}

var _ RevocationStore = (*TieredRevocationStore)(nil)

func NewTieredRevocationStore(local *MemoryRevocationStore, remote *RedisRevocationStore) *TieredRevocationStore {
	return &TieredRevocationStore{local: local, remote: remote}
}

// Revoke writes both tiers. The local write happens even when Redis fails so
// this replica rejects the token either way.
func (t *TieredRevocationStore) Revoke(ctx context.Context, jti string, ttl time.Duration) error {
	if err := t.local.Revoke(ctx, jti, ttl); err != nil {
		return err
	}
	return t.remote.Revoke(ctx, jti, ttl)
}

func (t *TieredRevocationStore) IsRevoked(ctx context.Context, jti string) (bool, error) {
	if hit, _ := t.local.IsRevoked(ctx, jti); hit {
		return true, nil
	}
	ttl, err := t.remote.TTL(ctx, jti)
	if err != nil {
		return false, err
	}
	if ttl <= 0 {
		return false, nil
	}
	_ = t.local.Revoke(ctx, jti, ttl)
	return true, nil
}
