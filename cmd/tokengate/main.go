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

package main

import (
	"context"
	"errors"
	stdlog "log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/telekom/tokengate/pkg/api"
	"github.com/telekom/tokengate/pkg/cli"
	"github.com/telekom/tokengate/pkg/config"
	"github.com/telekom/tokengate/pkg/gateway"
	"github.com/telekom/tokengate/pkg/metrics"
	"github.com/telekom/tokengate/pkg/version"
)

func main() {
	cliConfig := cli.Parse()

	zl := setupLogger(cliConfig.Debug)
	defer func() { _ = zl.Sync() }()
	log := zl.Sugar()
	log.Infow("Starting tokengate", "version", version.Version, "commit", version.GitCommit)
	cliConfig.Print(log)

	cfg, err := config.Load(cliConfig.ConfigPath)
	if err != nil {
		log.Fatalf("Error loading config: %v", err)
	}
	if err := applyOverrides(&cfg, cliConfig, log); err != nil {
		log.Fatalf("Invalid command line overrides: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, cliConfig, zl); err != nil {
		log.Fatalw("tokengate stopped with error", "error", err)
	}
	log.Info("tokengate stopped")
}

// applyOverrides lets flags and their environment variables take precedence
// over the configuration file.
func applyOverrides(cfg *config.Config, c *cli.Config, log *zap.SugaredLogger) error {
	if c.AuthSecretEnv != "" {
		cfg.Auth.Secret = ""
		cfg.Auth.SecretFile = ""
		cfg.Auth.Keyring = nil
		cfg.Auth.SecretEnv = c.AuthSecretEnv
	}
	if c.EnableRedis {
		cfg.RateLimit.Backend = config.BackendRedis
	}
	cfg.Auth.RotateEvery = cli.ParseKeyRotationInterval(c.KeyRotationInterval, cfg.Auth.RotateEvery, log)
	if c.DisableAudit {
		cfg.Audit.Enabled = false
	}
	return cfg.Validate()
}

func newRedisClient(r config.Redis) redis.UniversalClient {
	if !r.Enabled() {
		return nil
	}
	return redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:       r.Addresses,
		Username:    r.Username,
		Password:    r.Password,
		DB:          r.DB,
		DialTimeout: r.DialTimeout,
	})
}

func run(ctx context.Context, cfg config.Config, c *cli.Config, zl *zap.Logger) error {
	log := zl.Sugar()

	client := newRedisClient(cfg.Redis)
	if client != nil {
		defer func() { _ = client.Close() }()
		pingCtx, cancel := context.WithTimeout(ctx, cfg.Redis.DialTimeout)
		err := client.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			// the failover limiter serves locally until redis recovers
			log.Warnw("Redis is not reachable at startup", "addresses", cfg.Redis.Addresses, "error", err)
		}
	}

	gw, err := gateway.New(ctx, cfg, gateway.Options{
		Logger:       zl,
		Redis:        client,
		DisableAudit: c.DisableAudit,
	})
	if err != nil {
		return err
	}
	defer func() {
		if err := gw.Close(); err != nil {
			log.Warnw("Error closing gateway", "error", err)
		}
	}()

	controllers, err := gw.Controllers()
	if err != nil {
		return err
	}
	var opts []api.ServerOption
	for name, check := range gw.HealthChecks() {
		opts = append(opts, api.WithHealthCheck(name, check))
	}
	if !c.EnableHTTP2 {
		opts = append(opts, api.WithTLSOption(cli.DisableHTTP2))
	}
	server := api.NewServer(zl, cfg, c.Debug, opts...)
	if err := server.RegisterAll(controllers); err != nil {
		return err
	}

	go gw.Run(ctx)
	if c.MetricsEnabled() {
		go serveMetrics(ctx, c.MetricsAddr, log)
	}

	return server.Listen(ctx)
}

func serveMetrics(ctx context.Context, addr string, log *zap.SugaredLogger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.MetricsHandler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Infow("Starting metrics server", "address", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Errorw("Metrics server failed", "error", err)
	}
}

func setupLogger(debug bool) *zap.Logger {
	cfg := zap.NewProductionConfig()
	if debug {
		cfg = zap.NewDevelopmentConfig()
	}
	// Disable automatic stacktraces for non-fatal levels to avoid noisy traces in WARN/INFO logs
	cfg.DisableStacktrace = true
	cfg.EncoderConfig.EncodeTime = func(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
		enc.AppendString(t.UTC().Format(time.RFC3339))
	}
	cfg.EncoderConfig.TimeKey = "ts"
	logger, err := cfg.Build()
	if err != nil {
		stdlog.Fatalf("failed to set up logger: %v", err)
	}
	return logger
}
