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
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"k8s.io/utils/clock"

	"github.com/telekom/tokengate/pkg/metrics"
)

// DefaultTTL is the lifetime of tokens issued without an explicit ttl.
const DefaultTTL = 24 * time.Hour

const signingAlgorithm = "HS512"

var (
	errUnknownKey     = errors.New("unknown or retired key id")
	errMissingKeyID   = errors.New("missing kid header")
	errWrongAlgorithm = errors.New("unexpected signing algorithm")
)

// Config holds issuance settings.
type Config struct {
	// Issuer is written to and required in the iss claim when set
	Issuer string
	// DefaultTTL is used by IssueDefault
	DefaultTTL time.Duration
}

// Token is an issued, signed token.
type Token struct {
	Raw       string
	ID        string
	KeyID     string
	Subject   string
	Claims    Claims
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// Identity is the principal a verified token represents.
type Identity struct {
	Subject   string    `json:"subject"`
	Claims    Claims    `json:"claims"`
	TokenID   string    `json:"tokenId"`
	IssuedAt  time.Time `json:"issuedAt"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// HasRole reports whether the identity carries role in its "role" claim.
func (i Identity) HasRole(role string) bool {
	r, ok := i.Claims.GetString("role")
	return ok && r == role
}

type tokenClaims struct {
	jwt.RegisteredClaims
	Claims Claims `json:"claims"`
}

// Option customizes an Authenticator.
type Option func(*Authenticator)

// WithClock sets the time source used for issuance, expiry and key grace windows.
func WithClock(c clock.PassiveClock) Option {
	return func(a *Authenticator) { a.clock = c }
}

// WithRevocationStore enables revocation checks and Revoke.
func WithRevocationStore(s RevocationStore) Option {
	return func(a *Authenticator) { a.revocations = s }
}

// Authenticator issues and verifies tokens signed with the keys of a KeyRing.
type Authenticator struct {
	log         *zap.SugaredLogger
	keys        *KeyRing
	cfg         Config
	clock       clock.PassiveClock
	revocations RevocationStore
	parser      *jwt.Parser
}

func New(log *zap.SugaredLogger, keys *KeyRing, cfg Config, opts ...Option) *Authenticator {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	if cfg.DefaultTTL <= 0 {
		cfg.DefaultTTL = DefaultTTL
	}
	a := &Authenticator{
		log:    log,
		keys:   keys,
		cfg:    cfg,
		clock:  clock.RealClock{},
		parser: jwt.NewParser(jwt.WithJSONNumber(), jwt.WithoutClaimsValidation()),
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

// Keys returns the key ring used for signing.
func (a *Authenticator) Keys() *KeyRing { return a.keys }

// Config returns the issuance settings.
func (a *Authenticator) Config() Config { return a.cfg }

// Now returns the current time of the authenticator's clock.
func (a *Authenticator) Now() time.Time { return a.clock.Now() }

// Issue signs a token for subject that expires no earlier than ttl from now.
// Timestamps have second precision, so ttl must be at least one second.
func (a *Authenticator) Issue(subject string, claims Claims, ttl time.Duration) (Token, error) {
	if subject == "" {
		return Token{}, ErrInvalidSubject
	}
	if ttl < time.Second {
		return Token{}, fmt.Errorf("%w: got %s", ErrInvalidTTL, ttl)
	}
	if err := claims.validate(); err != nil {
		return Token{}, err
	}
	key, err := a.keys.Current()
	if err != nil {
		return Token{}, err
	}

	// NumericDate has second precision: iat rounds down, exp rounds up so the
	// token never lives shorter than ttl
	now := a.clock.Now()
	iat := now.Truncate(time.Second)
	exp := now.Add(ttl)
	if whole := exp.Truncate(time.Second); !whole.Equal(exp) {
		exp = whole.Add(time.Second)
	}
	tc := tokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   subject,
			Issuer:    a.cfg.Issuer,
			IssuedAt:  jwt.NewNumericDate(iat),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
		Claims: claims.Clone(),
	}

	t := jwt.NewWithClaims(jwt.SigningMethodHS512, tc)
	t.Header["kid"] = key.ID
	raw, err := t.SignedString(key.Secret)
	if err != nil {
		return Token{}, fmt.Errorf("signing token: %w", err)
	}

	metrics.AuthTokensIssued.Inc()
	a.log.Debugw("Issued token", "subject", subject, "jti", tc.ID, "kid", key.ID, "expiresAt", exp)

	return Token{
		Raw:       raw,
		ID:        tc.ID,
		KeyID:     key.ID,
		Subject:   subject,
		Claims:    tc.Claims,
		IssuedAt:  tc.IssuedAt.Time,
		ExpiresAt: tc.ExpiresAt.Time,
	}, nil
}

// IssueDefault is Issue with Config.DefaultTTL.
func (a *Authenticator) IssueDefault(subject string, claims Claims) (Token, error) {
	return a.Issue(subject, claims, a.cfg.DefaultTTL)
}

// Verify checks signature, registered claims, expiry and revocation of raw.
// Rejected tokens yield a *VerificationError. A failing revocation store yields
// an error wrapping ErrRevocationStore instead.
func (a *Authenticator) Verify(ctx context.Context, raw string) (Identity, error) {
	id, err := a.verify(ctx, raw)
	result := "success"
	if err != nil {
		result = string(ReasonOf(err))
		if result == "" {
			result = "error"
		}
	}
	metrics.AuthVerifications.WithLabelValues(result).Inc()
	return id, err
}

func (a *Authenticator) verify(ctx context.Context, raw string) (Identity, error) {
	now := a.clock.Now()

	var tc tokenClaims
	_, err := a.parser.ParseWithClaims(raw, &tc, func(t *jwt.Token) (interface{}, error) {
		if t.Method.Alg() != signingAlgorithm {
			return nil, fmt.Errorf("%w: %s", errWrongAlgorithm, t.Method.Alg())
		}
		kid, _ := t.Header["kid"].(string)
		if kid == "" {
			return nil, errMissingKeyID
		}
		key, ok := a.keys.Lookup(kid, now)
		if !ok {
			return nil, fmt.Errorf("%w: %s", errUnknownKey, kid)
		}
		return key.Secret, nil
	})
	if err != nil {
		return Identity{}, classify(err)
	}

	switch {
	case tc.Subject == "":
		return Identity{}, failure(ReasonMalformed, errors.New("missing sub claim"))
	case tc.ID == "":
		return Identity{}, failure(ReasonMalformed, errors.New("missing jti claim"))
	case tc.IssuedAt == nil:
		return Identity{}, failure(ReasonMalformed, errors.New("missing iat claim"))
	case tc.ExpiresAt == nil:
		return Identity{}, failure(ReasonMalformed, errors.New("missing exp claim"))
	case a.cfg.Issuer != "" && tc.Issuer != a.cfg.Issuer:
		return Identity{}, failure(ReasonMalformed, fmt.Errorf("unexpected issuer %q", tc.Issuer))
	}

	if !now.Before(tc.ExpiresAt.Time) {
		return Identity{}, failure(ReasonExpired, fmt.Errorf("expired at %s", tc.ExpiresAt.Time.UTC().Format(time.RFC3339)))
	}

	if a.revocations != nil {
		revoked, err := a.revocations.IsRevoked(ctx, tc.ID)
		if err != nil {
			return Identity{}, fmt.Errorf("%w: %w", ErrRevocationStore, err)
		}
		if revoked {
			return Identity{}, failure(ReasonRevoked, fmt.Errorf("token id %s", tc.ID))
		}
	}

	return Identity{
		Subject:   tc.Subject,
		Claims:    tc.Claims.Clone(),
		TokenID:   tc.ID,
		IssuedAt:  tc.IssuedAt.Time,
		ExpiresAt: tc.ExpiresAt.Time,
	}, nil
}

// classify maps parser errors onto verification reasons. Anything that is not
// a signature problem is a malformed token.
func classify(err error) error {
	switch {
	case errors.Is(err, errUnknownKey), errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return failure(ReasonInvalidSignature, err)
	default:
		return failure(ReasonMalformed, err)
	}
}

// Revoke puts the token of id on the revocation list until it expires.
// Tokens that already expired are skipped.
func (a *Authenticator) Revoke(ctx context.Context, id Identity) error {
	if a.revocations == nil {
		return fmt.Errorf("%w: revocation is not configured", ErrRevocationStore)
	}
	remaining := id.ExpiresAt.Sub(a.clock.Now())
	if remaining <= 0 {
		metrics.AuthRevocations.WithLabelValues("skipped").Inc()
		a.log.Debugw("Skipping revocation of expired token", "jti", id.TokenID)
		return nil
	}
	if err := a.revocations.Revoke(ctx, id.TokenID, remaining); err != nil {
		metrics.AuthRevocations.WithLabelValues("error").Inc()
		return fmt.Errorf("%w: %w", ErrRevocationStore, err)
	}
	metrics.AuthRevocations.WithLabelValues("stored").Inc()
	a.log.Infow("Revoked token", "subject", id.Subject, "jti", id.TokenID, "until", id.ExpiresAt)
	return nil
}
