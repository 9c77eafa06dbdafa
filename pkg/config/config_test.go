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

package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/telekom/tokengate/pkg/auth"
	"github.com/telekom/tokengate/pkg/config"
	"github.com/telekom/tokengate/pkg/ratelimit"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad(t *testing.T) {
	tests := []struct {
		name        string
		content     string
		expectError bool
		check       func(t *testing.T, cfg config.Config)
	}{
		{
			name: "full config",
			content: `
server:
  listenAddress: ":9090"
  trustedProxies: ["10.0.0.0/8"]
  allowedOrigins: ["https://shop.example.com"]
auth:
  issuer: shop
  tokenTTL: 2h
  keyGrace: 30m
  rotateEvery: 24h
  secretEnv: SHOP_JWT_SECRET
rateLimit:
  backend: redis
  policies:
    - name: order
      capacity: 5
      refillPeriod: 1h
    - name: search
      capacity: 50
      refillPeriod: 10s
  breaker:
    failureThreshold: 3
    openTimeout: 10s
redis:
  addresses: ["localhost:6379"]
audit:
  enabled: true
  kafka:
    brokers: ["localhost:9092"]
    topic: tokengate-audit
users:
  - username: admin
    passwordHash: "$2a$10$abcdefghijklmnopqrstuv"
    role: ADMIN
    claims:
      tenant: acme
`,
			check: func(t *testing.T, cfg config.Config) {
				assert.Equal(t, ":9090", cfg.Server.ListenAddress)
				assert.Equal(t, 15*time.Second, cfg.Server.ShutdownTimeout)
				assert.Equal(t, "shop", cfg.Auth.Issuer)
				assert.Equal(t, 2*time.Hour, cfg.Auth.TokenTTL)
				assert.Equal(t, 30*time.Minute, cfg.Auth.KeyGrace)
				assert.Equal(t, auth.EnvSource("SHOP_JWT_SECRET"), cfg.Auth.KeySource())
				assert.Equal(t, config.BackendRedis, cfg.RateLimit.Backend)
				assert.Equal(t, 3, cfg.RateLimit.Breaker.Config().FailureThreshold)
				assert.Equal(t, "snappy", cfg.Audit.Kafka.Compression)

				u, ok := cfg.FindUser("admin")
				require.True(t, ok)
				assert.Equal(t, "ADMIN", u.Role)
				assert.Equal(t, "acme", u.Claims["tenant"])

				policies := map[string]ratelimit.Policy{}
				for _, p := range cfg.RateLimit.EffectivePolicies() {
					policies[p.Name] = p
				}
				assert.Equal(t, 5, policies[ratelimit.PolicyOrder].Capacity)
				assert.Equal(t, 100, policies[ratelimit.PolicyAPI].Capacity)
				assert.Equal(t, 10*time.Second, policies["search"].RefillPeriod)
				assert.Len(t, policies, 5)
			},
		},
		{
			name:    "minimal config gets defaults",
			content: "server: {}\n",
			check: func(t *testing.T, cfg config.Config) {
				assert.Equal(t, ":8080", cfg.Server.ListenAddress)
				assert.Equal(t, auth.DefaultTTL, cfg.Auth.TokenTTL)
				assert.Equal(t, auth.DefaultTTL, cfg.Auth.KeyGrace)
				assert.Equal(t, config.BackendMemory, cfg.RateLimit.Backend)
				assert.Equal(t, ratelimit.DefaultRedisPrefix, cfg.Redis.Prefix)
				assert.Equal(t, auth.RandomSource(auth.MinSecretLength), cfg.Auth.KeySource())
				assert.False(t, cfg.Redis.Enabled())
			},
		},
		{
			name:        "invalid YAML",
			content:     `invalid: yaml: content [`,
			expectError: true,
		},
		{
			name:        "unknown field",
			content:     "server:\n  listenAdress: \":1\"\n",
			expectError: true,
		},
		{
			name:        "redis backend without redis",
			content:     "rateLimit:\n  backend: redis\n",
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := config.Load(writeConfig(t, tt.content))
			if tt.expectError {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			tt.check(t, cfg)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := config.Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestValidate(t *testing.T) {
	valid := func() config.Config {
		var cfg config.Config
		cfg.Defaults()
		return cfg
	}

	tests := []struct {
		name   string
		mutate func(cfg *config.Config)
	}{
		{"ttl below one second", func(cfg *config.Config) { cfg.Auth.TokenTTL = 500 * time.Millisecond }},
		{"short static secret", func(cfg *config.Config) { cfg.Auth.Secret = "short" }},
		{"two secret sources", func(cfg *config.Config) {
			cfg.Auth.SecretEnv = "A"
			cfg.Auth.SecretFile = "/tmp/b"
		}},
		{"incomplete keyring", func(cfg *config.Config) { cfg.Auth.Keyring = &config.KeyringRef{Service: "svc"} }},
		{"unknown backend", func(cfg *config.Config) { cfg.RateLimit.Backend = "etcd" }},
		{"invalid policy", func(cfg *config.Config) {
			cfg.RateLimit.Policies = []ratelimit.Policy{{Name: "x", Capacity: 0, RefillPeriod: time.Second}}
		}},
		{"duplicate policy", func(cfg *config.Config) {
			p := ratelimit.Policy{Name: "x", Capacity: 1, RefillPeriod: time.Second}
			cfg.RateLimit.Policies = []ratelimit.Policy{p, p}
		}},
		{"kafka without topic", func(cfg *config.Config) {
			cfg.Audit.Enabled = true
			cfg.Audit.Kafka = &config.Kafka{Brokers: []string{"b:9092"}}
		}},
		{"user without hash", func(cfg *config.Config) { cfg.Users = []config.User{{Username: "bob"}} }},
		{"duplicate user", func(cfg *config.Config) {
			cfg.Users = []config.User{{Username: "bob", PasswordHash: "h"}, {Username: "bob", PasswordHash: "h"}}
		}},
		{"tls cert without key", func(cfg *config.Config) { cfg.Server.TLSCertFile = "cert.pem" }},
	}

	require.NoError(t, valid().Validate())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.ErrorIs(t, err, config.ErrInvalid)
		})
	}
}

func TestKeySourceSelection(t *testing.T) {
	secret := string(make([]byte, auth.MinSecretLength))
	assert.Equal(t, auth.StaticSource(secret), config.Auth{Secret: secret}.KeySource())
	assert.Equal(t, auth.FileSource("/run/secret"), config.Auth{SecretFile: "/run/secret"}.KeySource())
	assert.Equal(t, auth.KeyringSource{Service: "tokengate", User: "signing"},
		config.Auth{Keyring: &config.KeyringRef{Service: "tokengate", User: "signing"}}.KeySource())
}

func TestRotationSource(t *testing.T) {
	random := auth.RandomSource(auth.MinSecretLength)
	ring := &config.KeyringRef{Service: "tokengate", User: "signing"}

	tests := []struct {
		name string
		auth config.Auth
		want auth.KeySource
	}{
		{"generated secret", config.Auth{}, random},
		{"static secret", config.Auth{Secret: "x"}, random},
		{"env secret", config.Auth{SecretEnv: "TOKENGATE_SECRET"}, random},
		{"file is re-read", config.Auth{SecretFile: "/run/secret"}, auth.FileSource("/run/secret")},
		{"keyring is re-read", config.Auth{Keyring: ring}, auth.KeyringSource{Service: "tokengate", User: "signing"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.auth.RotationSource())
		})
	}
	assert.Equal(t, random, config.Auth{}.KeySource())
	assert.Equal(t, auth.EnvSource("TOKENGATE_SECRET"), config.Auth{SecretEnv: "TOKENGATE_SECRET"}.KeySource())
}
