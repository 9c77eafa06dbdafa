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

package gateway

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"k8s.io/utils/clock"

	"github.com/telekom/tokengate/pkg/api"
	"github.com/telekom/tokengate/pkg/audit"
	"github.com/telekom/tokengate/pkg/auth"
	"github.com/telekom/tokengate/pkg/breaker"
	"github.com/telekom/tokengate/pkg/config"
	"github.com/telekom/tokengate/pkg/ratelimit"
)

// Options carries the dependencies New does not build from the configuration.
type Options struct {
	Logger *zap.Logger
	// Clock defaults to the wall clock
	Clock clock.WithTicker
	// Redis is required when the rate limit backend is redis. It also backs the
	// revocation store when set.
	Redis redis.UniversalClient
	// AuditSinks are added to the configured sinks.
	AuditSinks []audit.Sink
	// KeySource overrides the configured signing secret source.
	KeySource    auth.KeySource
	DisableAudit bool
}

// Gateway owns the authenticator, the admission limiters and the audit trail.
type Gateway struct {
	cfg    config.Config
	log    *zap.SugaredLogger
	logger *zap.Logger
	clock  clock.WithTicker
	redis  redis.UniversalClient

	keys    *auth.KeyRing
	authn   *auth.Authenticator
	limits  *ratelimit.Registry
	audit   *audit.Service
	users   *StaticUsers
	rotator *auth.Rotator
	// manual serves admin triggered rotations; it has no OnRotate hook so the
	// admin handler can record the caller as actor.
	manual *auth.Rotator
}

// New wires a gateway from cfg. The returned gateway must be closed.
func New(ctx context.Context, cfg config.Config, opts Options) (*Gateway, error) {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Clock == nil {
		opts.Clock = clock.RealClock{}
	}
	if cfg.RateLimit.Backend == config.BackendRedis && opts.Redis == nil {
		return nil, fmt.Errorf("%w: rate limit backend redis requires a redis client", config.ErrInvalid)
	}

	g := &Gateway{
		cfg:    cfg,
		logger: opts.Logger,
		log:    opts.Logger.Sugar(),
		clock:  opts.Clock,
		redis:  opts.Redis,
	}

	source := opts.KeySource
	if source == nil {
		source = cfg.Auth.KeySource()
	}
	key, err := auth.LoadKey(source)
	if err != nil {
		return nil, fmt.Errorf("loading signing key from %s: %w", source.Name(), err)
	}
	if g.keys, err = auth.NewKeyRing(key, cfg.Auth.KeyGrace); err != nil {
		return nil, err
	}
	g.log.Infow("Signing key loaded", "source", source.Name(), "kid", key.ID)

	g.users, err = NewStaticUsers(cfg.Users)
	if err != nil {
		return nil, err
	}

	if !opts.DisableAudit && cfg.Audit.Enabled {
		if g.audit, err = g.buildAudit(opts.AuditSinks); err != nil {
			return nil, err
		}
	} else if len(opts.AuditSinks) > 0 {
		g.log.Warnw("Audit is disabled, ignoring extra sinks", "sinks", len(opts.AuditSinks))
	}

	var store auth.RevocationStore = auth.NewMemoryRevocationStore(cfg.Auth.RevocationCacheBytes, opts.Clock)
	if opts.Redis != nil {
		store = auth.NewTieredRevocationStore(
			auth.NewMemoryRevocationStore(cfg.Auth.RevocationCacheBytes, opts.Clock),
			auth.NewRedisRevocationStore(opts.Redis, cfg.Auth.RevocationPrefix))
	}
	g.authn = auth.New(g.log.Named("auth"), g.keys,
		auth.Config{Issuer: cfg.Auth.Issuer, DefaultTTL: cfg.Auth.TokenTTL},
		auth.WithClock(opts.Clock), auth.WithRevocationStore(store))

	if g.limits, err = g.buildLimits(); err != nil {
		_ = g.audit.Close()
		return nil, err
	}

	rotation := cfg.Auth.RotationSource()
	g.rotator = auth.NewRotator(g.keys, rotation, cfg.Auth.RotateEvery, opts.Clock, g.log.Named("rotation"))
	g.rotator.OnRotate = func(k auth.Key) {
		g.audit.Emit(context.Background(), audit.NewEvent(audit.EventKeyRotated,
			audit.Actor{Subject: "system"},
			audit.Target{Kind: "signingKey", Name: k.ID},
			map[string]any{"trigger": "schedule"}))
	}
	g.manual = auth.NewRotator(g.keys, rotation, 0, opts.Clock, g.log.Named("rotation"))

	g.audit.Emit(ctx, audit.NewEvent(audit.EventSystemStartup, audit.Actor{Subject: "system"},
		audit.Target{Kind: "gateway", Name: cfg.Auth.Issuer},
		map[string]any{"rateLimitBackend": cfg.RateLimit.Backend}))
	return g, nil
}

func (g *Gateway) buildAudit(extra []audit.Sink) (*audit.Service, error) {
	var sinks []audit.Sink
	if g.cfg.Audit.Log {
		sinks = append(sinks, audit.NewLogSink(g.logger))
	}
	if k := g.cfg.Audit.Kafka; k != nil {
		kcfg, err := kafkaSinkConfig(k)
		if err != nil {
			return nil, err
		}
		sink, err := audit.NewKafkaSink(kcfg, g.logger)
		if err != nil {
			return nil, fmt.Errorf("audit kafka sink: %w", err)
		}
		sinks = append(sinks, sink)
	}
	sinks = append(sinks, extra...)
	if len(sinks) == 0 {
		g.log.Infow("Audit enabled without sinks, events are discarded")
		return nil, nil
	}

	qcfg := audit.DefaultQueuedSinkConfig()
	if g.cfg.Audit.QueueSize > 0 {
		qcfg.QueueSize = g.cfg.Audit.QueueSize
	}
	if g.cfg.Audit.Workers > 0 {
		qcfg.WorkerCount = g.cfg.Audit.Workers
	}
	qcfg.Breaker = g.cfg.Audit.Breaker.Config()
	return audit.NewService(sinks, qcfg, g.logger), nil
}

func kafkaSinkConfig(k *config.Kafka) (audit.KafkaSinkConfig, error) {
	out := audit.KafkaSinkConfig{
		Brokers:          k.Brokers,
		Topic:            k.Topic,
		CompressionCodec: k.Compression,
	}
	if k.SASL != nil {
		out.SASL = &audit.KafkaSASLConfig{
			Mechanism: k.SASL.Mechanism,
			Username:  k.SASL.Username,
			Password:  k.SASL.Password,
		}
	}
	if k.TLS != nil && k.TLS.Enabled {
		t := &audit.KafkaTLSConfig{Enabled: true, InsecureSkipVerify: k.TLS.InsecureSkipVerify}
		var err error
		for _, f := range []struct {
			path string
			dst  *[]byte
		}{
			{k.TLS.CAFile, &t.CACert},
			{k.TLS.CertFile, &t.ClientCert},
			{k.TLS.KeyFile, &t.ClientKey},
		} {
			if f.path == "" {
				continue
			}
			if *f.dst, err = os.ReadFile(f.path); err != nil {
				return out, fmt.Errorf("audit kafka tls: %w", err)
			}
		}
		out.TLS = t
	}
	return out, nil
}

func (g *Gateway) buildLimits() (*ratelimit.Registry, error) {
	reg := ratelimit.NewRegistry()
	for _, p := range g.cfg.RateLimit.EffectivePolicies() {
		lcfg := p.Config()
		lcfg.CleanupInterval = g.cfg.RateLimit.CleanupInterval

		local, err := ratelimit.New(lcfg, ratelimit.WithClock(g.clock), ratelimit.WithName(p.Name))
		if err != nil {
			reg.Stop()
			return nil, fmt.Errorf("policy %q: %w", p.Name, err)
		}
		if g.cfg.RateLimit.Backend != config.BackendRedis {
			reg.Register(p, local)
			continue
		}

		shared, err := ratelimit.NewRedis(g.redis, lcfg, ratelimit.RedisOptions{
			Name:   p.Name,
			Prefix: g.cfg.Redis.Prefix,
			Clock:  g.clock,
		})
		if err != nil {
			local.Stop()
			reg.Stop()
			return nil, fmt.Errorf("policy %q: %w", p.Name, err)
		}
		br := breaker.New("ratelimit-"+p.Name, g.cfg.RateLimit.Breaker.Config(), g.logger, breaker.WithClock(g.clock))
		reg.Register(p, ratelimit.NewFailover(p.Name, shared, local, br, g.log.Named("ratelimit")))
	}
	g.log.Infow("Admission policies registered", "backend", g.cfg.RateLimit.Backend, "policies", reg.Names())
	return reg, nil
}

// Controllers returns the API controllers in registration order.
func (g *Gateway) Controllers() ([]api.APIController, error) {
	authMW := api.NewAuth(g.log.Named("auth"), g.authn, g.audit)

	apiAuthed, err := newAdmission(g.limits, ratelimit.PolicyAPI, g.audit, g.log)
	if err != nil {
		return nil, err
	}
	apiAnon, err := newAdmission(g.limits, ratelimit.PolicyAPIAnonymous, g.audit, g.log)
	if err != nil {
		return nil, err
	}
	codes, err := newAdmission(g.limits, ratelimit.PolicyVerificationCode, g.audit, g.log)
	if err != nil {
		return nil, err
	}
	orders, err := newAdmission(g.limits, ratelimit.PolicyOrder, g.audit, g.log)
	if err != nil {
		return nil, err
	}
	apiLimit := apiAuthed.middleware(apiAnon)

	return []api.APIController{
		NewSessionController(g.log, g.authn, g.users, g.audit, authMW.OptionalMiddleware(), apiLimit),
		NewVerificationCodeController(g.log, codes, authMW.OptionalMiddleware()),
		NewOrderController(g.log, authMW.Middleware(), orders.middleware(nil)),
		NewAdminController(g.log, g.limits, g.manual, g.keys, g.audit,
			authMW.Middleware(), api.RequireRole(RoleAdmin), apiLimit),
	}, nil
}

// HealthChecks returns the readiness checks of the configured backends.
func (g *Gateway) HealthChecks() map[string]api.HealthFunc {
	checks := map[string]api.HealthFunc{}
	if g.redis != nil {
		checks["redis"] = func(ctx context.Context) error {
			return g.redis.Ping(ctx).Err()
		}
	}
	return checks
}

// Authenticator returns the token authenticator.
func (g *Gateway) Authenticator() *auth.Authenticator { return g.authn }

// Limits returns the admission policy registry.
func (g *Gateway) Limits() *ratelimit.Registry { return g.limits }

// Run runs the key rotation worker until ctx is done.
func (g *Gateway) Run(ctx context.Context) {
	if g.cfg.Auth.RotateEvery <= 0 {
		g.log.Debugw("Key rotation disabled")
		return
	}
	g.log.Infow("Starting key rotation", "every", g.cfg.Auth.RotateEvery)
	g.rotator.Run(ctx)
}

// Close stops the limiters and drains the audit queues.
func (g *Gateway) Close() error {
	g.audit.Emit(context.Background(), audit.NewEvent(audit.EventSystemShutdown,
		audit.Actor{Subject: "system"}, audit.Target{Kind: "gateway", Name: g.cfg.Auth.Issuer}, nil))
	g.limits.Stop()
	var errs []error
	if err := g.audit.Close(); err != nil {
		errs = append(errs, fmt.Errorf("closing audit: %w", err))
	}
	return errors.Join(errs...)
}
