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

package cli

import (
	"crypto/tls"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"
)

type Config struct {
	Debug bool

	// ConfigPath is the YAML configuration file.
	ConfigPath string

	// Metrics server flags. An empty or "0" address disables the listener.
	MetricsAddr string

	EnableHTTP2 bool

	// AuthSecretEnv overrides auth.secretEnv from the config file.
	AuthSecretEnv string
	// EnableRedis forces the redis rate limit backend when redis is configured.
	EnableRedis bool
	// KeyRotationInterval overrides auth.rotateEvery, e.g. "24h".
	KeyRotationInterval string
	// DisableAudit turns off audit sinks regardless of the config file.
	DisableAudit bool
}

// Parse parses the process command line.
func Parse() *Config {
	config, err := ParseArgs(flag.CommandLine, os.Args[1:])
	if err != nil {
		// flag.CommandLine exits on error; unreachable in practice
		panic(err)
	}
	return config
}

// ParseArgs registers the flags on fs and parses args.
func ParseArgs(fs *flag.FlagSet, args []string) (*Config, error) {
	config := &Config{}
	// The pattern: fs.XxxVar(&variable, "flag-name", defaultValueOrEnvValue, "help text")
	fs.BoolVar(&config.Debug, "debug", getEnvBool("TOKENGATE_DEBUG", false), "Enable debug level logging")

	fs.StringVar(&config.ConfigPath, "config-path", getEnvString("TOKENGATE_CONFIG_PATH", "./config.yaml"),
		"Path to the tokengate configuration file")

	fs.StringVar(&config.MetricsAddr, "metrics-bind-address", getEnvString("METRICS_BIND_ADDRESS", "0.0.0.0:8081"),
		"The address the Prometheus metrics endpoint binds to, or 0 to disable the metrics listener")
	fs.BoolVar(&config.EnableHTTP2, "enable-http2", getEnvBool("ENABLE_HTTP2", false),
		"If set, HTTP/2 will be enabled for the TLS API server")

	fs.StringVar(&config.AuthSecretEnv, "auth-secret-env", getEnvString("TOKENGATE_AUTH_SECRET_ENV", ""),
		"Name of the environment variable holding the token signing secret; overrides the config file")
	fs.BoolVar(&config.EnableRedis, "enable-redis", getEnvBool("TOKENGATE_ENABLE_REDIS", false),
		"Use the redis rate limit backend (requires redis.addresses in the config file)")
	fs.StringVar(&config.KeyRotationInterval, "key-rotation-interval", getEnvString("TOKENGATE_KEY_ROTATION_INTERVAL", ""),
		"Interval for rotating the signing key (e.g. '24h'); empty keeps the config file value")
	fs.BoolVar(&config.DisableAudit, "disable-audit", getEnvBool("TOKENGATE_DISABLE_AUDIT", false),
		"Disable audit event sinks")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	return config, nil
}

func (c *Config) Print(log *zap.SugaredLogger) {
	log.Infow("CLI Configuration",
		"debug", c.Debug,
		"config_path", c.ConfigPath,
		"metrics_bind_address", c.MetricsAddr,
		"enable_http2", c.EnableHTTP2,
		"auth_secret_env", c.AuthSecretEnv,
		"enable_redis", c.EnableRedis,
		"key_rotation_interval", c.KeyRotationInterval,
		"disable_audit", c.DisableAudit,
	)
}

// MetricsEnabled reports whether a metrics listener should be started.
func (c *Config) MetricsEnabled() bool {
	return c.MetricsAddr != "" && c.MetricsAddr != "0"
}

// DisableHTTP2 is used to configure TLS options to disable HTTP/2.
// This is important because HTTP/2 has known vulnerabilities (CVE-2023-44487, CVE-2024-3156).
func DisableHTTP2(c *tls.Config) {
	c.NextProtos = []string{"http/1.1"}
}

// ParseKeyRotationInterval returns the flag value, or def when the flag is empty or invalid.
func ParseKeyRotationInterval(interval string, def time.Duration, log *zap.SugaredLogger) time.Duration {
	every, err := parseDuration("key-rotation-interval", interval, def)
	if err != nil {
		log.Warn(err)
	}
	return every
}

func parseDuration(name, value string, def time.Duration) (time.Duration, error) {
	duration := def
	if value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			duration = d
		} else {
			return duration, fmt.Errorf("invalid %s %q; using default %s: %w", name, value, def.String(), err)
		}
	}

	return duration, nil
}

// getEnvString returns the value of an environment variable, or the provided default if not set.
func getEnvString(key, defaultVal string) string {
	if val, ok := os.LookupEnv(key); ok {
		return val
	}
	return defaultVal
}

// getEnvBool returns the value of an environment variable as a bool, or the provided default if not set.
// Valid true values are "true", "1", "yes" (case-insensitive).
func getEnvBool(key string, defaultVal bool) bool {
	if val, ok := os.LookupEnv(key); ok {
		switch strings.ToLower(val) {
		case "true", "1", "yes":
			return true
		case "false", "0", "no":
			return false
		}
	}
	return defaultVal
}
