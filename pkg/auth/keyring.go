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
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/telekom/tokengate/pkg/metrics"
)

// MinSecretLength is the minimum HS512 secret size in bytes.
const MinSecretLength = 64

// Key is a symmetric signing key.
type Key struct {
	ID     string
	Secret []byte
}

// NewKey validates secret and derives its key id.
func NewKey(secret []byte) (Key, error) {
	if len(secret) < MinSecretLength {
		return Key{}, fmt.Errorf("%w: got %d", ErrSecretTooShort, len(secret))
	}
	s := make([]byte, len(secret))
	copy(s, secret)
	return Key{ID: KeyID(s), Secret: s}, nil
}

// KeyID derives a stable, non-reversible identifier from a secret.
func KeyID(secret []byte) string {
	sum := sha256.Sum256(secret)
	return hex.EncodeToString(sum[:])[:16]
}

// retiredKey is a replaced key that verifies until its own deadline.
type retiredKey struct {
	key   Key
	until time.Time
}

type keySet struct {
	current *Key
	// retired is ordered oldest first
	retired []retiredKey
}

// KeyRing holds the current signing key and the keys it replaced that are
// still inside their grace window. Readers get a consistent snapshot without
// locking; Rotate is serialized.
type KeyRing struct {
	mu    sync.Mutex
	set   atomic.Pointer[keySet]
	grace time.Duration
}

// NewKeyRing returns a ring signing with initial. grace is how long the previous
// key keeps verifying after a rotation.
func NewKeyRing(initial Key, grace time.Duration) (*KeyRing, error) {
	if len(initial.Secret) < MinSecretLength {
		return nil, fmt.Errorf("%w: got %d", ErrSecretTooShort, len(initial.Secret))
	}
	if initial.ID == "" {
		initial.ID = KeyID(initial.Secret)
	}
	r := &KeyRing{grace: grace}
	r.set.Store(&keySet{current: &initial})
	return r, nil
}

// Current returns the signing key.
func (r *KeyRing) Current() (Key, error) {
	if r == nil {
		return Key{}, ErrNoSigningKey
	}
	s := r.set.Load()
	if s == nil || s.current == nil {
		return Key{}, ErrNoSigningKey
	}
	return *s.current, nil
}

// Lookup returns the key with the given id if it may verify tokens at now.
func (r *KeyRing) Lookup(kid string, now time.Time) (Key, bool) {
	if r == nil {
		return Key{}, false
	}
	s := r.set.Load()
	if s == nil {
		return Key{}, false
	}
	if s.current != nil && s.current.ID == kid {
		return *s.current, true
	}
	for _, rk := range s.retired {
		if rk.key.ID == kid && now.Before(rk.until) {
			return rk.key, true
		}
	}
	return Key{}, false
}

// Rotate makes next the signing key. The replaced key verifies until
// now+grace; keys replaced earlier keep their own deadlines and are dropped
// once those have passed.
func (r *KeyRing) Rotate(next Key, now time.Time) error {
	if r == nil {
		return ErrNoSigningKey
	}
	if len(next.Secret) < MinSecretLength {
		return fmt.Errorf("%w: got %d", ErrSecretTooShort, len(next.Secret))
	}
	if next.ID == "" {
		next.ID = KeyID(next.Secret)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	old := r.set.Load()
	if old == nil {
		old = &keySet{}
	}
	if old.current != nil && old.current.ID == next.ID {
		return fmt.Errorf("%w: %s", ErrDuplicateKeyID, next.ID)
	}

	retired := make([]retiredKey, 0, len(old.retired)+1)
	for _, rk := range old.retired {
		// a key brought back becomes current again
		if now.Before(rk.until) && rk.key.ID != next.ID {
			retired = append(retired, rk)
		}
	}
	if old.current != nil && r.grace > 0 {
		retired = append(retired, retiredKey{key: *old.current, until: now.Add(r.grace)})
	}
	r.set.Store(&keySet{current: &next, retired: retired})
	metrics.AuthKeyRotations.Inc()
	return nil
}

// Grace returns the verification window of a replaced key.
func (r *KeyRing) Grace() time.Duration {
	return r.grace
}

// PreviousID returns the id of the most recently replaced key that may still
// verify, and until when.
func (r *KeyRing) PreviousID() (string, time.Time, bool) {
	if r == nil {
		return "", time.Time{}, false
	}
	s := r.set.Load()
	if s == nil || len(s.retired) == 0 {
		return "", time.Time{}, false
	}
	last := s.retired[len(s.retired)-1]
	return last.key.ID, last.until, true
}
