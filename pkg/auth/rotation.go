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
	"time"

	"go.uber.org/zap"
	"k8s.io/utils/clock"
)

// Rotator replaces the signing key of a ring at a fixed interval.
type Rotator struct {
	ring     *KeyRing
	source   KeySource
	every    time.Duration
	clock    clock.WithTicker
	log      *zap.SugaredLogger
	OnRotate func(Key)
}

// NewRotator returns a rotator drawing new secrets from source.
func NewRotator(ring *KeyRing, source KeySource, every time.Duration, clk clock.WithTicker, log *zap.SugaredLogger) *Rotator {
	if clk == nil {
		clk = clock.RealClock{}
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Rotator{ring: ring, source: source, every: every, clock: clk, log: log}
}

// RotateNow loads a new key from the source and installs it.
func (r *Rotator) RotateNow() (Key, error) {
	key, err := LoadKey(r.source)
	if err != nil {
		return Key{}, err
	}
	if err := r.ring.Rotate(key, r.clock.Now()); err != nil {
		return Key{}, err
	}
	r.log.Infow("Rotated signing key", "kid", key.ID, "grace", r.ring.Grace())
	if r.OnRotate != nil {
		r.OnRotate(key)
	}
	return key, nil
}

// Run rotates every interval until ctx is done. Failed rotations are logged
// and the current key stays in use.
func (r *Rotator) Run(ctx context.Context) {
	if r.every <= 0 {
		return
	}
	ticker := r.clock.NewTicker(r.every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
			_, err := r.RotateNow()
			switch {
			case err == nil:
			case errors.Is(err, ErrDuplicateKeyID):
				r.log.Debugw("Signing key source unchanged, keeping current key")
			default:
				r.log.Warnw("Signing key rotation failed", "error", err)
			}
		}
	}
}
