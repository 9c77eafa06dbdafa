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
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"golang.org/x/crypto/bcrypt"

	"github.com/telekom/tokengate/pkg/api"
	tgconfig "github.com/telekom/tokengate/pkg/config"
	"github.com/telekom/tokengate/pkg/gatectl/config"
	"github.com/telekom/tokengate/pkg/gateway"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type testEnv struct {
	configPath string
	tokenPath  string
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	for _, name := range []string{"GATECTL_CONTEXT", "GATECTL_OUTPUT", "GATECTL_SERVER", "GATECTL_TOKEN", "GATECTL_TOKEN_STORAGE", "GATECTL_VERBOSE"} {
		t.Setenv(name, "")
	}
	dir := t.TempDir()
	return testEnv{
		configPath: filepath.Join(dir, "config.yaml"),
		tokenPath:  filepath.Join(dir, "tokens.json"),
	}
}

// run executes gatectl with args, feeding stdin, and returns what it printed.
func (e testEnv) run(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := NewRootCommand(Config{
		ConfigPath:   e.configPath,
		TokenPath:    e.tokenPath,
		OutputWriter: &out,
		Input:        strings.NewReader(stdin),
	})
	root.SetArgs(args)
	root.SetOut(&out)
	root.SetErr(&out)
	err := root.Execute()
	return out.String(), err
}

func (e testEnv) mustRun(t *testing.T, stdin string, args ...string) string {
	t.Helper()
	out, err := e.run(t, stdin, args...)
	require.NoError(t, err, out)
	return out
}

// newTestServer runs a tokengate API with the users alice (USER) and root (ADMIN).
func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	hash := func(pw string) string {
		h, err := bcrypt.GenerateFromPassword([]byte(pw), bcrypt.MinCost)
		require.NoError(t, err)
		return string(h)
	}
	cfg := tgconfig.Config{
		Auth: tgconfig.Auth{Secret: strings.Repeat("k", 64)},
		Users: []tgconfig.User{
			{Username: "alice", PasswordHash: hash("wonderland"), Role: "USER"},
			{Username: "root", PasswordHash: hash("toor"), Role: gateway.RoleAdmin},
		},
	}
	cfg.Defaults()

	log := zaptest.NewLogger(t)
	gw, err := gateway.New(context.Background(), cfg, gateway.Options{Logger: log})
	require.NoError(t, err)
	t.Cleanup(func() { _ = gw.Close() })
	controllers, err := gw.Controllers()
	require.NoError(t, err)
	srv := api.NewServer(log, cfg, false)
	require.NoError(t, srv.RegisterAll(controllers))

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func TestRuntimeStateResolveContextName(t *testing.T) {
	rt := &runtimeState{contextOverride: "override"}
	require.Equal(t, "override", rt.ResolveContextName())

	rt = &runtimeState{cfg: &config.Config{CurrentContext: "ctx"}}
	require.Equal(t, "ctx", rt.ResolveContextName())

	rt = &runtimeState{cfg: &config.Config{Contexts: []config.Context{{Name: "first"}}}}
	require.Equal(t, "first", rt.ResolveContextName())
}

func TestRuntimeStateOutputFormat(t *testing.T) {
	rt := &runtimeState{outputFormat: "json"}
	require.EqualValues(t, "json", rt.OutputFormat())

	rt = &runtimeState{cfg: &config.Config{Settings: config.Settings{OutputFormat: "yaml"}}}
	require.EqualValues(t, "yaml", rt.OutputFormat())

	rt = &runtimeState{}
	require.EqualValues(t, "table", rt.OutputFormat())
}

func TestResolveContext(t *testing.T) {
	rt := &runtimeState{}
	_, err := rt.ResolveContext()
	require.Error(t, err)

	rt = &runtimeState{cfg: &config.Config{}}
	_, err = rt.ResolveContext()
	require.Error(t, err)

	rt = &runtimeState{cfg: &config.Config{}, serverOverride: "http://localhost:1"}
	ctx, err := rt.ResolveContext()
	require.NoError(t, err)
	assert.Equal(t, "default", ctx.Name)
	assert.Equal(t, "http://localhost:1", rt.resolveServer(ctx))

	rt = &runtimeState{cfg: &config.Config{Contexts: []config.Context{{Name: "dev", Server: "https://dev"}}}}
	ctx, err = rt.ResolveContext()
	require.NoError(t, err)
	assert.Equal(t, "https://dev", rt.resolveServer(ctx))
}

func TestMissingConfig(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.run(t, "", "whoami")
	require.ErrorContains(t, err, "no config file found")

	// configless commands still work
	out := env.mustRun(t, "", "version")
	assert.Contains(t, out, "gatectl ")
}

func TestConfigCommands(t *testing.T) {
	env := newTestEnv(t)

	env.mustRun(t, "", "config", "set-context", "dev", "--server", "http://dev.example.com", "--username", "alice")
	env.mustRun(t, "", "config", "set-context", "prod", "--server", "https://prod.example.com")

	out := env.mustRun(t, "", "config", "current-context")
	assert.Equal(t, "dev\n", out)

	out = env.mustRun(t, "", "config", "get-contexts")
	assert.Contains(t, out, "* dev\thttp://dev.example.com")
	assert.Contains(t, out, "  prod\thttps://prod.example.com")

	env.mustRun(t, "", "config", "use-context", "prod")
	_, err := env.run(t, "", "config", "use-context", "missing")
	require.ErrorContains(t, err, "context not found")

	// updating keeps fields that were not passed
	env.mustRun(t, "", "config", "set-context", "dev", "--insecure-skip-tls-verify")
	cfg, err := config.Load(env.configPath)
	require.NoError(t, err)
	dev, err := cfg.FindContext("dev")
	require.NoError(t, err)
	assert.Equal(t, "alice", dev.Username)
	assert.True(t, dev.InsecureSkipTLSVerify)
	assert.Equal(t, "prod", cfg.CurrentContext)

	env.mustRun(t, "", "config", "set", "output-format", "json")
	env.mustRun(t, "", "config", "set", "timeout", "5s")
	_, err = env.run(t, "", "config", "set", "output-format", "xml")
	require.Error(t, err)
	_, err = env.run(t, "", "config", "set", "token-storage", "vault")
	require.ErrorContains(t, err, "token-storage")
	_, err = env.run(t, "", "config", "set", "colour", "on")
	require.ErrorContains(t, err, "unknown setting")

	out = env.mustRun(t, "", "config", "view", "-o", "yaml")
	assert.Contains(t, out, "current-context: prod")
	assert.Contains(t, out, "output-format: json")

	env.mustRun(t, "", "config", "delete-context", "prod")
	cfg, err = config.Load(env.configPath)
	require.NoError(t, err)
	assert.Len(t, cfg.Contexts, 1)
	assert.Empty(t, cfg.CurrentContext)
	_, err = env.run(t, "", "config", "delete-context", "prod")
	require.ErrorContains(t, err, "context not found")

	// a new context without a server is rejected
	_, err = env.run(t, "", "config", "set-context", "empty")
	require.ErrorContains(t, err, "server is required")
}

func TestSessionCommands(t *testing.T) {
	ts := newTestServer(t)
	env := newTestEnv(t)
	env.mustRun(t, "", "config", "set-context", "dev", "--server", ts.URL, "--username", "alice")
	env.mustRun(t, "", "config", "set", "token-storage", "file")

	_, err := env.run(t, "", "whoami")
	require.ErrorContains(t, err, "not logged in")

	_, err = env.run(t, "wrong\n", "login")
	require.Error(t, err)

	out := env.mustRun(t, "wonderland\n", "login")
	assert.Contains(t, out, "Logged in as alice")

	out = env.mustRun(t, "", "whoami", "-o", "json")
	var identity struct {
		Subject string `json:"subject"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &identity), out)
	assert.Equal(t, "alice", identity.Subject)

	out = env.mustRun(t, "", "whoami")
	assert.Contains(t, out, "role=USER")

	out = env.mustRun(t, "", "order", "submit")
	assert.Contains(t, out, "Order accepted")

	out = env.mustRun(t, "", "code", "request", "Alice@Example.com", "--channel", "email")
	assert.Contains(t, out, "Verification code requested")

	out = env.mustRun(t, "", "refresh")
	assert.Contains(t, out, "Token refreshed")
	env.mustRun(t, "", "whoami")

	_, err = env.run(t, "", "admin", "policies")
	require.ErrorContains(t, err, "403")

	out = env.mustRun(t, "", "logout")
	assert.Contains(t, out, "Logged out")
	_, err = env.run(t, "", "whoami")
	require.ErrorContains(t, err, "not logged in")
}

func TestAdminCommands(t *testing.T) {
	ts := newTestServer(t)
	env := newTestEnv(t)
	env.mustRun(t, "", "config", "set-context", "dev", "--server", ts.URL)
	env.mustRun(t, "", "config", "set", "token-storage", "file")
	env.mustRun(t, "", "login", "-u", "root", "-p", "toor")

	out := env.mustRun(t, "", "admin", "policies")
	assert.Contains(t, out, "verification-code")
	assert.Contains(t, out, "order")

	for range 3 {
		env.mustRun(t, "", "code", "request", "+4917012345")
	}
	_, err := env.run(t, "", "code", "request", "+4917012345")
	require.ErrorContains(t, err, "429")

	out = env.mustRun(t, "", "admin", "reset", "verification-code", "+4917012345")
	assert.Contains(t, out, "Bucket verification-code/+4917012345 reset")
	env.mustRun(t, "", "code", "request", "+4917012345")

	_, err = env.run(t, "", "admin", "reset", "nope", "key")
	require.ErrorContains(t, err, "404")

	out = env.mustRun(t, "", "admin", "rotate-key")
	assert.Contains(t, out, "New signing key:")
	assert.Contains(t, out, "Previous key")

	// tokens signed before the rotation stay valid during the grace period
	env.mustRun(t, "", "whoami")

	out = env.mustRun(t, "", "admin", "audit-health")
	assert.Contains(t, out, "Audit is disabled")
}

func TestServerAndTokenOverrides(t *testing.T) {
	ts := newTestServer(t)
	env := newTestEnv(t)

	out := env.mustRun(t, "", "version", "--server-version", "--server", ts.URL)
	assert.Contains(t, out, "server ")

	_, err := env.run(t, "", "whoami", "--server", ts.URL, "--token", "garbage")
	require.ErrorContains(t, err, "401")
}

func TestTokenCommands(t *testing.T) {
	env := newTestEnv(t)
	t.Setenv("TEST_SIGNING_SECRET", strings.Repeat("s", 64))

	_, err := env.run(t, "", "token", "issue", "--subject", "bob")
	require.ErrorContains(t, err, "signing secret is required")

	out := env.mustRun(t, "", "token", "issue", "--subject", "bob", "--claim", "role=ADMIN", "--claim", "tier=3",
		"--secret-env", "TEST_SIGNING_SECRET", "-o", "json")
	var issued IssuedToken
	require.NoError(t, json.Unmarshal([]byte(out), &issued), out)
	assert.Equal(t, "bob", issued.Subject)
	assert.NotEmpty(t, issued.ID)
	assert.Len(t, strings.Split(issued.Token, "."), 3)

	out = env.mustRun(t, "", "token", "verify", issued.Token, "--secret-env", "TEST_SIGNING_SECRET")
	assert.Contains(t, out, "bob")
	assert.Contains(t, out, "role=ADMIN")

	// table output is the bare token
	raw := strings.TrimSpace(env.mustRun(t, "", "token", "issue", "--subject", "carol", "--secret-env", "TEST_SIGNING_SECRET"))
	env.mustRun(t, "", "token", "verify", raw, "--secret-env", "TEST_SIGNING_SECRET")

	secretFile := filepath.Join(t.TempDir(), "secret")
	require.NoError(t, writeFile(secretFile, strings.Repeat("x", 64)))
	_, err = env.run(t, "", "token", "verify", raw, "--secret-file", secretFile)
	require.ErrorContains(t, err, "InvalidSignature")

	_, err = env.run(t, strings.Repeat("s", 64)+"\n", "token", "verify", raw, "--secret-stdin", "--issuer", "someone-else")
	require.Error(t, err)
	env.mustRun(t, strings.Repeat("s", 64)+"\n", "token", "verify", raw, "--secret-stdin")
	env.mustRun(t, "", "token", "verify", raw, "--secret", strings.Repeat("s", 64))

	_, err = env.run(t, "", "token", "issue", "--subject", "bob", "--secret-env", "TEST_SIGNING_SECRET", "--secret-file", secretFile)
	require.ErrorContains(t, err, "only one")
	_, err = env.run(t, "", "token", "issue", "--subject", "bob", "--secret-env", "TEST_SIGNING_SECRET", "--claim", "=x")
	require.ErrorContains(t, err, "invalid claim")
	_, err = env.run(t, "", "token", "verify", "not-a-token", "--secret-env", "TEST_SIGNING_SECRET")
	require.ErrorContains(t, err, "Malformed")
}

func TestVersionCommand(t *testing.T) {
	env := newTestEnv(t)
	out := env.mustRun(t, "", "version", "-o", "json")
	var report versionReport
	require.NoError(t, json.Unmarshal([]byte(out), &report), out)
	assert.NotEmpty(t, report.Client.Version)
	assert.Nil(t, report.Server)

	out = env.mustRun(t, "", "version", "-o", "yaml")
	assert.Contains(t, out, "client:")
}

func TestCompletionCommand(t *testing.T) {
	env := newTestEnv(t)
	for _, shell := range []string{"bash", "zsh", "fish", "powershell"} {
		out := env.mustRun(t, "", "completion", shell)
		assert.Contains(t, out, "gatectl", shell)
	}
	_, err := env.run(t, "", "completion", "tcsh")
	require.ErrorContains(t, err, "unsupported shell")
}
