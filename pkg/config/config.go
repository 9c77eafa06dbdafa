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

package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/telekom/tokengate/pkg/auth"
	"github.com/telekom/tokengate/pkg/breaker"
	"github.com/telekom/tokengate/pkg/ratelimit"
)

// Rate limit backends.
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
)

// DefaultPath is used when Load is called without a path.
const DefaultPath = "./config.yaml"

// ErrInvalid wraps every Validate failure.
var ErrInvalid = errors.New("invalid configuration")

type Server struct {
	ListenAddress   string        `yaml:"listenAddress"`
	TLSCertFile     string        `yaml:"tlsCertFile"`
	TLSKeyFile      string        `yaml:"tlsKeyFile"`
	TrustedProxies  []string      `yaml:"trustedProxies"` // IPs/CIDRs to trust for X-Forwarded-For headers
	AllowedOrigins  []string      `yaml:"allowedOrigins"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
}

// KeyringRef points at a secret in the OS keyring.
type KeyringRef struct {
	Service string `yaml:"service"`
	User    string `yaml:"user"`
}

type Auth struct {
	Issuer   string        `yaml:"issuer"`
	TokenTTL time.Duration `yaml:"tokenTTL"`
	// KeyGrace is how long the previous signing key keeps verifying after a rotation.
	KeyGrace time.Duration `yaml:"keyGrace"`
	// RotateEvery enables the rotation worker when positive.
	RotateEvery time.Duration `yaml:"rotateEvery"`

	// Exactly one of the secret sources may be set. With none set a random
	// secret is generated at startup and tokens do not survive a restart.
	Secret     string      `yaml:"secret"`
	SecretEnv  string      `yaml:"secretEnv"`
	SecretFile string      `yaml:"secretFile"`
	Keyring    *KeyringRef `yaml:"keyring"`

	RevocationCacheBytes int    `yaml:"revocationCacheBytes"`
	RevocationPrefix     string `yaml:"revocationPrefix"`
}

// KeySource returns the configured secret source.
func (a Auth) KeySource() auth.KeySource {
	switch {
	case a.Secret != "":
		return auth.StaticSource(a.Secret)
	case a.SecretEnv != "":
		return auth.EnvSource(a.SecretEnv)
	case a.SecretFile != "":
		return auth.FileSource(a.SecretFile)
	case a.Keyring != nil:
		return auth.KeyringSource{Service: a.Keyring.Service, User: a.Keyring.User}
	default:
		return auth.RandomSource(auth.MinSecretLength)
	}
}

// RotationSource returns the source new keys are drawn from on rotation. File
// and keyring secrets are re-read so operators can rotate them out of band;
// every other source rotates to a random secret.
func (a Auth) RotationSource() auth.KeySource {
	switch {
	case a.Secret == "" && a.SecretEnv == "" && a.SecretFile != "":
		return auth.FileSource(a.SecretFile)
	case a.Secret == "" && a.SecretEnv == "" && a.Keyring != nil:
		return auth.KeyringSource{Service: a.Keyring.Service, User: a.Keyring.User}
	default:
		return auth.RandomSource(auth.MinSecretLength)
	}
}

func (a Auth) sourceCount() int {
	n := 0
	for _, set := range []bool{a.Secret != "", a.SecretEnv != "", a.SecretFile != "", a.Keyring != nil} {
		if set {
			n++
		}
	}
	return n
}

type Breaker struct {
	FailureThreshold int           `yaml:"failureThreshold"`
	SuccessThreshold int           `yaml:"successThreshold"`
	OpenTimeout      time.Duration `yaml:"openTimeout"`
}

// Config converts to breaker settings; zero fields take the breaker defaults.
func (b Breaker) Config() breaker.Config {
	return breaker.Config{
		FailureThreshold: b.FailureThreshold,
		SuccessThreshold: b.SuccessThreshold,
		OpenTimeout:      b.OpenTimeout,
	}
}

type RateLimit struct {
	Backend         string        `yaml:"backend"`
	CleanupInterval time.Duration `yaml:"cleanupInterval"`
	// Policies override the built-in policies by name and may add new ones.
	Policies []ratelimit.Policy `yaml:"policies"`
	Breaker  Breaker            `yaml:"breaker"`
}

// EffectivePolicies merges the configured policies over the defaults.
func (r RateLimit) EffectivePolicies() []ratelimit.Policy {
	out := ratelimit.DefaultPolicies()
	index := make(map[string]int, len(out))
	for i, p := range out {
		index[p.Name] = i
	}
	for _, p := range r.Policies {
		if i, ok := index[p.Name]; ok {
			out[i] = p
			continue
		}
		index[p.Name] = len(out)
		out = append(out, p)
	}
	return out
}

type Redis struct {
	Addresses   []string      `yaml:"addresses"`
	Username    string        `yaml:"username"`
	Password    string        `yaml:"password"`
	DB          int           `yaml:"db"`
	Prefix      string        `yaml:"prefix"`
	DialTimeout time.Duration `yaml:"dialTimeout"`
}

// Enabled reports whether a Redis endpoint is configured.
func (r Redis) Enabled() bool { return len(r.Addresses) > 0 }

type KafkaSASL struct {
	Mechanism string `yaml:"mechanism"`
	Username  string `yaml:"username"`
	Password  string `yaml:"password"`
}

type KafkaTLS struct {
	Enabled            bool   `yaml:"enabled"`
	CAFile             string `yaml:"caFile"`
	CertFile           string `yaml:"certFile"`
	KeyFile            string `yaml:"keyFile"`
	InsecureSkipVerify bool   `yaml:"insecureSkipVerify"`
}

type Kafka struct {
	Brokers     []string   `yaml:"brokers"`
	Topic       string     `yaml:"topic"`
	Compression string     `yaml:"compression"`
	SASL        *KafkaSASL `yaml:"sasl"`
	TLS         *KafkaTLS  `yaml:"tls"`
}

type Audit struct {
	Enabled   bool    `yaml:"enabled"`
	Log       bool    `yaml:"log"`
	QueueSize int     `yaml:"queueSize"`
	Workers   int     `yaml:"workers"`
	Kafka     *Kafka  `yaml:"kafka"`
	Breaker   Breaker `yaml:"breaker"`
}

// User is a static account accepted by the login endpoint.
type User struct {
	Username     string            `yaml:"username"`
	PasswordHash string            `yaml:"passwordHash"` // bcrypt
	Role         string            `yaml:"role"`
	Claims       map[string]string `yaml:"claims"`
}

type Config struct {
	Server    Server    `yaml:"server"`
	Auth      Auth      `yaml:"auth"`
	RateLimit RateLimit `yaml:"rateLimit"`
	Redis     Redis     `yaml:"redis"`
	Audit     Audit     `yaml:"audit"`
	Users     []User    `yaml:"users"`
}

// Load reads the configuration file, applies defaults and validates the result.
// If configPath is empty, defaults to "./config.yaml".
func Load(configPath ...string) (Config, error) {
	path := DefaultPath
	if len(configPath) > 0 && configPath[0] != "" {
		path = configPath[0]
	}

	var config Config
	content, err := os.ReadFile(path)
	if err != nil {
		return config, fmt.Errorf("trying to open tokengate config file %s: %w", path, err)
	}
	if err := yaml.UnmarshalStrict(content, &config); err != nil {
		return config, fmt.Errorf("error unmarshaling YAML %s: %w", path, err)
	}

	config.Defaults()
	if err := config.Validate(); err != nil {
		return config, err
	}
	return config, nil
}

// Defaults fills unset values.
func (c *Config) Defaults() {
	if c.Server.ListenAddress == "" {
		c.Server.ListenAddress = ":8080"
	}
	if c.Server.ShutdownTimeout <= 0 {
		c.Server.ShutdownTimeout = 15 * time.Second
	}

	if c.Auth.Issuer == "" {
		c.Auth.Issuer = "tokengate"
	}
	if c.Auth.TokenTTL == 0 {
		c.Auth.TokenTTL = auth.DefaultTTL
	}
	if c.Auth.KeyGrace == 0 {
		c.Auth.KeyGrace = c.Auth.TokenTTL
	}
	if c.Auth.RevocationCacheBytes <= 0 {
		c.Auth.RevocationCacheBytes = 8 * 1024 * 1024
	}
	if c.Auth.RevocationPrefix == "" {
		c.Auth.RevocationPrefix = auth.DefaultRevocationPrefix
	}

	if c.RateLimit.Backend == "" {
		c.RateLimit.Backend = BackendMemory
	}
	if c.RateLimit.CleanupInterval <= 0 {
		c.RateLimit.CleanupInterval = time.Minute
	}

	if c.Redis.Prefix == "" {
		c.Redis.Prefix = ratelimit.DefaultRedisPrefix
	}
	if c.Redis.DialTimeout <= 0 {
		c.Redis.DialTimeout = 5 * time.Second
	}

	if c.Audit.QueueSize <= 0 {
		c.Audit.QueueSize = 10000
	}
	if c.Audit.Workers <= 0 {
		c.Audit.Workers = 2
	}
	if c.Audit.Kafka != nil && c.Audit.Kafka.Compression == "" {
		c.Audit.Kafka.Compression = "snappy"
	}
}

// Validate reports configuration errors. Every error wraps ErrInvalid.
func (c Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalid}, args...)...))
	}

	if c.Server.ListenAddress == "" {
		add("server.listenAddress must not be empty")
	}
	if (c.Server.TLSCertFile == "") != (c.Server.TLSKeyFile == "") {
		add("server.tlsCertFile and server.tlsKeyFile must be set together")
	}

	if c.Auth.TokenTTL < time.Second {
		add("auth.tokenTTL must be at least 1s, got %s", c.Auth.TokenTTL)
	}
	if c.Auth.KeyGrace < 0 {
		add("auth.keyGrace must not be negative")
	}
	if c.Auth.RotateEvery < 0 {
		add("auth.rotateEvery must not be negative")
	}
	if c.Auth.sourceCount() > 1 {
		add("auth: only one of secret, secretEnv, secretFile and keyring may be set")
	}
	if c.Auth.Secret != "" && len(c.Auth.Secret) < auth.MinSecretLength {
		add("auth.secret must be at least %d bytes", auth.MinSecretLength)
	}
	if k := c.Auth.Keyring; k != nil && (k.Service == "" || k.User == "") {
		add("auth.keyring needs service and user")
	}

	switch c.RateLimit.Backend {
	case BackendMemory:
	case BackendRedis:
		if !c.Redis.Enabled() {
			add("rateLimit.backend %q needs redis.addresses", BackendRedis)
		}
	default:
		add("rateLimit.backend must be %q or %q, got %q", BackendMemory, BackendRedis, c.RateLimit.Backend)
	}
	seen := map[string]bool{}
	for _, p := range c.RateLimit.Policies {
		if seen[p.Name] {
			add("rateLimit.policies: duplicate policy %q", p.Name)
		}
		seen[p.Name] = true
		if err := p.Validate(); err != nil {
			add("rateLimit.policies: %v", err)
		}
	}

	if c.Audit.Enabled && c.Audit.Kafka != nil {
		if len(c.Audit.Kafka.Brokers) == 0 {
			add("audit.kafka.brokers must not be empty")
		}
		if c.Audit.Kafka.Topic == "" {
			add("audit.kafka.topic must not be empty")
		}
	}

	users := map[string]bool{}
	for i, u := range c.Users {
		if u.Username == "" {
			add("users[%d].username must not be empty", i)
			continue
		}
		if users[u.Username] {
			add("users: duplicate username %q", u.Username)
		}
		users[u.Username] = true
		if u.PasswordHash == "" {
			add("users[%d].passwordHash must not be empty", i)
		}
	}

	return errors.Join(errs...)
}

// FindUser returns the configured user with the given name.
func (c Config) FindUser(username string) (User, bool) {
	for _, u := range c.Users {
		if u.Username == username {
			return u, true
		}
	}
	return User{}, false
}
