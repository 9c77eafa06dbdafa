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
	"bytes"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"os"

	"github.com/zalando/go-keyring"
)

// KeySource yields signing secret material.
type KeySource interface {
	Secret() ([]byte, error)
	Name() string
}

// LoadKey reads a secret from src and turns it into a Key.
func LoadKey(src KeySource) (Key, error) {
	secret, err := src.Secret()
	if err != nil {
		return Key{}, fmt.Errorf("loading signing secret from %s: %w", src.Name(), err)
	}
	k, err := NewKey(secret)
	if err != nil {
		return Key{}, fmt.Errorf("signing secret from %s: %w", src.Name(), err)
	}
	return k, nil
}

// StaticSource is a secret taken verbatim from configuration.
type StaticSource string

func (s StaticSource) Secret() ([]byte, error) {
	if s == "" {
		return nil, ErrNoSigningKey
	}
	return []byte(s), nil
}

func (StaticSource) Name() string { return "config" }

// EnvSource reads the secret from an environment variable.
type EnvSource string

func (e EnvSource) Secret() ([]byte, error) {
	v, ok := os.LookupEnv(string(e))
	if !ok || v == "" {
		return nil, fmt.Errorf("%w: environment variable %s is not set", ErrNoSigningKey, string(e))
	}
	return []byte(v), nil
}

func (e EnvSource) Name() string { return "env:" + string(e) }

// FileSource reads the secret from a file; trailing newlines are dropped.
type FileSource string

func (f FileSource) Secret() ([]byte, error) {
	b, err := os.ReadFile(string(f))
	if err != nil {
		return nil, err
	}
	return bytes.TrimRight(b, "\r\n"), nil
}

func (f FileSource) Name() string { return "file:" + string(f) }

// KeyringSource reads the secret from the OS keyring.
type KeyringSource struct {
	Service string
	User    string
}

func (k KeyringSource) Secret() ([]byte, error) {
	v, err := keyring.Get(k.Service, k.User)
	if err != nil {
		return nil, err
	}
	return []byte(v), nil
}

func (k KeyringSource) Name() string { return "keyring:" + k.Service + "/" + k.User }

// Store writes secret to the OS keyring entry.
func (k KeyringSource) Store(secret string) error {
	return keyring.Set(k.Service, k.User, secret)
}

// RandomSource generates a fresh secret on every call. Tokens signed with it do
// not survive a restart.
type RandomSource int

func (r RandomSource) Secret() ([]byte, error) {
	n := int(r)
	if n < MinSecretLength {
		n = MinSecretLength
	}
	s, err := GenerateSecret(n)
	if err != nil {
		return nil, err
	}
	return []byte(s), nil
}

func (RandomSource) Name() string { return "random" }

// GenerateSecret returns n random bytes encoded as unpadded base64url. The
// encoded form is longer than n, so it satisfies MinSecretLength when n does.
func GenerateSecret(n int) (string, error) {
	if n <= 0 {
		return "", fmt.Errorf("secret size must be positive, got %d", n)
	}
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
