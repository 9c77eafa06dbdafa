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
	"os"
	"time"

	"github.com/telekom/tokengate/pkg/gatectl/client"
	"github.com/telekom/tokengate/pkg/gatectl/config"
)

// expiryLeeway treats tokens that expire this soon as expired.
const expiryLeeway = 30 * time.Second

// buildClient returns a client for the current context. With authenticated set
// it attaches the --token override or the stored token of the context.
func buildClient(rt *runtimeState, authenticated bool) (*client.Client, *config.Context, error) {
	ctxCfg, err := rt.ResolveContext()
	if err != nil {
		return nil, nil, err
	}
	server := rt.resolveServer(ctxCfg)
	if server == "" {
		return nil, nil, errors.New("server is required")
	}

	options := []client.Option{
		client.WithServer(server),
		client.WithTLSConfig(ctxCfg.CAFile, ctxCfg.InsecureSkipTLSVerify),
	}
	if rt.cfg != nil && rt.cfg.Settings.Timeout != "" {
		if timeout, parseErr := time.ParseDuration(rt.cfg.Settings.Timeout); parseErr == nil {
			options = append(options, client.WithTimeout(timeout))
		}
	}
	if authenticated {
		token, err := rt.resolveToken(ctxCfg)
		if err != nil {
			return nil, nil, err
		}
		options = append(options, client.WithToken(token))
	}
	// Add verbose logging if enabled - write to stderr to avoid corrupting JSON output
	if rt.verbose {
		options = append(options, client.WithVerbose(func(format string, args ...any) {
			_, _ = fmt.Fprintf(os.Stderr, "[DEBUG] "+format+"\n", args...)
		}))
	}
	c, err := client.New(options...)
	return c, ctxCfg, err
}

func (rt *runtimeState) resolveToken(ctxCfg *config.Context) (string, error) {
	if rt.tokenOverride != "" {
		return rt.tokenOverride, nil
	}
	store, err := rt.TokenStore()
	if err != nil {
		return "", err
	}
	stored, ok, err := store.Get(ctxCfg.Name)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", fmt.Errorf("not logged in to context %s; run 'gatectl login'", ctxCfg.Name)
	}
	if stored.Expired(rt.now(), expiryLeeway) {
		return "", fmt.Errorf("token for context %s expired at %s; run 'gatectl login'",
			ctxCfg.Name, stored.Expiry.UTC().Format(time.RFC3339))
	}
	return stored.AccessToken, nil
}
