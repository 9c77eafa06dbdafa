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

package cmd

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/telekom/tokengate/pkg/auth"
	"github.com/telekom/tokengate/pkg/gatectl/output"
)

// secretFlags select the signing secret for the offline token commands.
type secretFlags struct {
	literal        string
	env            string
	file           string
	stdin          bool
	keyringService string
	keyringUser    string
}

func (f *secretFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.literal, "secret", "", "Signing secret value")
	cmd.Flags().StringVar(&f.env, "secret-env", "", "Read the signing secret from this environment variable")
	cmd.Flags().StringVar(&f.file, "secret-file", "", "Read the signing secret from this file")
	cmd.Flags().BoolVar(&f.stdin, "secret-stdin", false, "Read the signing secret from the first line of stdin")
	cmd.Flags().StringVar(&f.keyringService, "keyring-service", "", "Read the signing secret from this OS keyring service")
	cmd.Flags().StringVar(&f.keyringUser, "keyring-user", "", "Keyring user of the signing secret")
}

func (f *secretFlags) source(rt *runtimeState) (auth.KeySource, error) {
	var sources []auth.KeySource
	if f.literal != "" {
		sources = append(sources, auth.StaticSource(f.literal))
	}
	if f.env != "" {
		sources = append(sources, auth.EnvSource(f.env))
	}
	if f.file != "" {
		sources = append(sources, auth.FileSource(f.file))
	}
	if f.keyringService != "" || f.keyringUser != "" {
		if f.keyringService == "" || f.keyringUser == "" {
			return nil, errors.New("--keyring-service and --keyring-user must be set together")
		}
		sources = append(sources, auth.KeyringSource{Service: f.keyringService, User: f.keyringUser})
	}
	if f.stdin {
		secret, err := readLine(rt.input)
		if err != nil {
			return nil, fmt.Errorf("reading secret: %w", err)
		}
		sources = append(sources, auth.StaticSource(secret))
	}
	switch len(sources) {
	case 0:
		return nil, errors.New("a signing secret is required (--secret, --secret-env, --secret-file, --secret-stdin or --keyring-service)")
	case 1:
		return sources[0], nil
	default:
		return nil, errors.New("only one signing secret source may be given")
	}
}

func (f *secretFlags) authenticator(rt *runtimeState, issuer string) (*auth.Authenticator, error) {
	src, err := f.source(rt)
	if err != nil {
		return nil, err
	}
	key, err := auth.LoadKey(src)
	if err != nil {
		return nil, err
	}
	ring, err := auth.NewKeyRing(key, 0)
	if err != nil {
		return nil, err
	}
	return auth.New(zap.NewNop().Sugar(), ring, auth.Config{Issuer: issuer}), nil
}

// IssuedToken is the machine readable output of token issue.
type IssuedToken struct {
	Token     string      `json:"token" yaml:"token"`
	ID        string      `json:"id" yaml:"id"`
	KeyID     string      `json:"keyId" yaml:"keyId"`
	Subject   string      `json:"subject" yaml:"subject"`
	Claims    auth.Claims `json:"claims,omitempty" yaml:"-"`
	ExpiresAt time.Time   `json:"expiresAt" yaml:"expiresAt"`
}

func NewTokenCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue and verify tokens offline with a signing secret",
	}
	cmd.AddCommand(newTokenIssueCommand(), newTokenVerifyCommand())
	return cmd
}

func newTokenIssueCommand() *cobra.Command {
	var (
		secret  secretFlags
		subject string
		issuer  string
		claims  []string
		ttl     time.Duration
	)
	cmd := &cobra.Command{
		Use:   "issue",
		Short: "Sign a token",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			parsed := auth.Claims{}
			for _, c := range claims {
				name, value, err := auth.ParseClaim(c)
				if err != nil {
					return err
				}
				parsed[name] = value
			}
			a, err := secret.authenticator(rt, issuer)
			if err != nil {
				return err
			}
			tok, err := a.Issue(subject, parsed, ttl)
			if err != nil {
				return err
			}
			if rt.OutputFormat() == output.FormatTable {
				_, _ = fmt.Fprintln(rt.Writer(), tok.Raw)
				return nil
			}
			return output.WriteObject(rt.Writer(), rt.OutputFormat(), IssuedToken{
				Token:     tok.Raw,
				ID:        tok.ID,
				KeyID:     tok.KeyID,
				Subject:   tok.Subject,
				Claims:    tok.Claims,
				ExpiresAt: tok.ExpiresAt,
			})
		},
	}
	secret.register(cmd)
	cmd.Flags().StringVar(&subject, "subject", "", "Token subject")
	cmd.Flags().StringVar(&issuer, "issuer", "tokengate", "Token issuer")
	cmd.Flags().StringArrayVar(&claims, "claim", nil, "Custom claim as name=value; repeatable")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "Token lifetime")
	_ = cmd.MarkFlagRequired("subject")
	return cmd
}

func newTokenVerifyCommand() *cobra.Command {
	var (
		secret secretFlags
		issuer string
	)
	cmd := &cobra.Command{
		Use:   "verify TOKEN",
		Short: "Verify a token and print its identity",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			a, err := secret.authenticator(rt, issuer)
			if err != nil {
				return err
			}
			id, err := a.Verify(cmd.Context(), args[0])
			if err != nil {
				if reason := auth.ReasonOf(err); reason != "" {
					return fmt.Errorf("token rejected (%s): %w", reason, err)
				}
				return err
			}
			if rt.OutputFormat() == output.FormatTable {
				output.WriteIdentity(rt.Writer(), id)
				return nil
			}
			return output.WriteObject(rt.Writer(), rt.OutputFormat(), id)
		},
	}
	secret.register(cmd)
	cmd.Flags().StringVar(&issuer, "issuer", "tokengate", "Required issuer; empty accepts any")
	return cmd
}
