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
	"context"
	"errors"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/telekom/tokengate/pkg/gatectl/config"
	"github.com/telekom/tokengate/pkg/gatectl/credentials"
	"github.com/telekom/tokengate/pkg/gatectl/output"
)

type Config struct {
	ConfigPath   string
	OutputWriter io.Writer
	// Input is read for passwords and secrets; defaults to stdin
	Input io.Reader
	// TokenPath is the token file used with the file token storage
	TokenPath string
}

type runtimeState struct {
	configPath           string
	tokenPath            string
	cfg                  *config.Config
	contextOverride      string
	outputFormat         string
	serverOverride       string
	tokenOverride        string
	tokenStorageOverride string
	verbose              bool
	writer               io.Writer
	input                io.Reader
	now                  func() time.Time
}

type runtimeKey struct{}

func DefaultConfig() Config {
	return Config{
		ConfigPath:   config.DefaultConfigPath(),
		OutputWriter: os.Stdout,
		Input:        os.Stdin,
		TokenPath:    config.DefaultTokenPath(),
	}
}

// commands that work without a config file
var configless = map[string]bool{
	"version":    true,
	"completion": true,
	"token":      true,
	"secret":     true,
	"config":     true,
}

func NewRootCommand(cfg Config) *cobra.Command {
	rt := &runtimeState{
		configPath: cfg.ConfigPath,
		tokenPath:  cfg.TokenPath,
		writer:     cfg.OutputWriter,
		input:      cfg.Input,
		now:        time.Now,
	}

	root := &cobra.Command{
		Use:          "gatectl",
		Short:        "tokengate CLI",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if rt.writer == nil {
				rt.writer = os.Stdout
			}
			if rt.input == nil {
				rt.input = os.Stdin
			}
			if rt.configPath == "" {
				rt.configPath = config.DefaultConfigPath()
			}
			if rt.tokenPath == "" {
				rt.tokenPath = config.DefaultTokenPath()
			}
			if rt.contextOverride == "" {
				rt.contextOverride = os.Getenv("GATECTL_CONTEXT")
			}
			if rt.outputFormat == "" {
				rt.outputFormat = os.Getenv("GATECTL_OUTPUT")
			}
			if rt.serverOverride == "" {
				rt.serverOverride = os.Getenv("GATECTL_SERVER")
			}
			if rt.tokenOverride == "" {
				rt.tokenOverride = os.Getenv("GATECTL_TOKEN")
			}
			if rt.tokenStorageOverride == "" {
				rt.tokenStorageOverride = os.Getenv("GATECTL_TOKEN_STORAGE")
			}
			if !rt.verbose {
				rt.verbose = strings.EqualFold(os.Getenv("GATECTL_VERBOSE"), "true")
			}

			if configless[topLevel(cmd).Name()] {
				return nil
			}
			// a server override is enough to talk to tokengate without a config file
			if rt.serverOverride != "" {
				if cfg, err := config.Load(rt.configPath); err == nil {
					rt.cfg = cfg
				} else {
					def := config.DefaultConfig()
					rt.cfg = &def
				}
				return nil
			}
			return rt.EnsureConfigLoaded()
		},
	}

	root.PersistentFlags().StringVar(&rt.configPath, "config", rt.configPath, "Path to config file")
	root.PersistentFlags().StringVarP(&rt.contextOverride, "context", "c", "", "Context name override")
	root.PersistentFlags().StringVarP(&rt.outputFormat, "output", "o", "", "Output format: table, json, yaml")
	root.PersistentFlags().StringVar(&rt.serverOverride, "server", "", "Server override (bypass config)")
	root.PersistentFlags().StringVar(&rt.tokenOverride, "token", "", "Bearer token override")
	root.PersistentFlags().StringVar(&rt.tokenStorageOverride, "token-storage", "", "Token storage backend: keychain or file")
	root.PersistentFlags().BoolVarP(&rt.verbose, "verbose", "v", false, "Log every HTTP request to stderr")

	root.SetContext(context.WithValue(context.Background(), runtimeKey{}, rt))

	root.AddCommand(
		NewConfigCommand(),
		NewLoginCommand(),
		NewLogoutCommand(),
		NewWhoamiCommand(),
		NewRefreshCommand(),
		NewCodeCommand(),
		NewOrderCommand(),
		NewAdminCommand(),
		NewTokenCommand(),
		NewSecretCommand(),
		NewCompletionCommand(),
		NewVersionCommand(),
	)

	return root
}

func topLevel(cmd *cobra.Command) *cobra.Command {
	for cmd.HasParent() && cmd.Parent().HasParent() {
		cmd = cmd.Parent()
	}
	return cmd
}

func getRuntime(cmd *cobra.Command) (*runtimeState, error) {
	rt, ok := cmd.Context().Value(runtimeKey{}).(*runtimeState)
	if !ok || rt == nil {
		return nil, errors.New("runtime not initialized")
	}
	return rt, nil
}

func (rt *runtimeState) ResolveContextName() string {
	if rt.contextOverride != "" {
		return rt.contextOverride
	}
	if rt.cfg != nil {
		return rt.cfg.CurrentContextOrDefault()
	}
	return ""
}

func (rt *runtimeState) OutputFormat() output.Format {
	if rt.outputFormat != "" {
		return output.Format(rt.outputFormat)
	}
	if rt.cfg != nil && rt.cfg.Settings.OutputFormat != "" {
		return output.Format(rt.cfg.Settings.OutputFormat)
	}
	return output.FormatTable
}

func (rt *runtimeState) TokenStore() (credentials.Store, error) {
	kind := rt.tokenStorageOverride
	if kind == "" && rt.cfg != nil {
		kind = rt.cfg.Settings.TokenStorage
	}
	return credentials.NewStore(kind, rt.tokenPath)
}

func (rt *runtimeState) Writer() io.Writer {
	if rt.writer != nil {
		return rt.writer
	}
	return os.Stdout
}

func (rt *runtimeState) EnsureConfigLoaded() error {
	if rt.cfg != nil {
		return nil
	}
	cfg, err := config.Load(rt.configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return errors.New("no config file found; run 'gatectl config set-context' or pass --server")
		}
		return err
	}
	rt.cfg = cfg
	return nil
}

// loadOrDefaultConfig returns the config file, or an empty config when there is none.
func (rt *runtimeState) loadOrDefaultConfig() (*config.Config, error) {
	cfg, err := config.Load(rt.configPath)
	if errors.Is(err, os.ErrNotExist) {
		def := config.DefaultConfig()
		return &def, nil
	}
	return cfg, err
}

func (rt *runtimeState) ResolveContext() (*config.Context, error) {
	if rt.cfg == nil {
		return nil, errors.New("config not loaded")
	}
	name := rt.ResolveContextName()
	if name == "" {
		if rt.serverOverride != "" {
			return &config.Context{Name: "default", Server: rt.serverOverride}, nil
		}
		return nil, errors.New("no context configured")
	}
	ctx, err := rt.cfg.FindContext(name)
	if err != nil && rt.serverOverride != "" {
		return &config.Context{Name: name, Server: rt.serverOverride}, nil
	}
	return ctx, err
}

func (rt *runtimeState) resolveServer(ctx *config.Context) string {
	if rt.serverOverride != "" {
		return rt.serverOverride
	}
	if ctx != nil {
		return ctx.Server
	}
	return ""
}
