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

	"github.com/telekom/tokengate/pkg/gatectl/config"
	"github.com/telekom/tokengate/pkg/gatectl/output"
)

func NewConfigCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage gatectl configuration",
	}

	cmd.AddCommand(
		newConfigViewCommand(),
		newConfigContextsCommand(),
		newConfigCurrentContextCommand(),
		newConfigSetContextCommand(),
		newConfigUseContextCommand(),
		newConfigDeleteContextCommand(),
		newConfigSetValueCommand(),
	)

	return cmd
}

// saveConfig validates cfg and writes it to the configured path.
func (rt *runtimeState) saveConfig(cfg *config.Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := config.Save(rt.configPath, cfg); err != nil {
		return err
	}
	rt.cfg = cfg
	return nil
}

func newConfigViewCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "view",
		Short: "Show the current configuration",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			if err := rt.EnsureConfigLoaded(); err != nil {
				return err
			}
			format := rt.OutputFormat()
			if format == output.FormatTable {
				format = output.FormatYAML
			}
			return output.WriteObject(rt.Writer(), format, rt.cfg)
		},
	}
}

func newConfigContextsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "get-contexts",
		Short: "List configured contexts",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			if err := rt.EnsureConfigLoaded(); err != nil {
				return err
			}
			current := rt.cfg.CurrentContextOrDefault()
			for _, ctx := range rt.cfg.Contexts {
				marker := " "
				if ctx.Name == current {
					marker = "*"
				}
				_, _ = fmt.Fprintf(rt.Writer(), "%s %s\t%s\n", marker, ctx.Name, ctx.Server)
			}
			return nil
		},
	}
}

func newConfigCurrentContextCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "current-context",
		Short: "Print the current context",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			if err := rt.EnsureConfigLoaded(); err != nil {
				return err
			}
			name := rt.cfg.CurrentContextOrDefault()
			if name == "" {
				return errors.New("no current context")
			}
			_, _ = fmt.Fprintln(rt.Writer(), name)
			return nil
		},
	}
}

func newConfigSetContextCommand() *cobra.Command {
	var (
		server   string
		username string
		caFile   string
		insecure bool
		use      bool
	)

	cmd := &cobra.Command{
		Use:   "set-context NAME",
		Short: "Create or update a context",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			cfg, err := rt.loadOrDefaultConfig()
			if err != nil {
				return err
			}
			ctx := config.Context{Name: args[0]}
			if existing, err := cfg.FindContext(args[0]); err == nil {
				ctx = *existing
			}
			flags := cmd.Flags()
			if flags.Changed("server") {
				ctx.Server = server
			}
			if flags.Changed("username") {
				ctx.Username = username
			}
			if flags.Changed("ca-file") {
				ctx.CAFile = caFile
			}
			if flags.Changed("insecure-skip-tls-verify") {
				ctx.InsecureSkipTLSVerify = insecure
			}
			cfg.SetContext(ctx)
			if use || cfg.CurrentContext == "" {
				cfg.CurrentContext = ctx.Name
			}
			if err := rt.saveConfig(cfg); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(rt.Writer(), "Context %q saved\n", ctx.Name)
			return nil
		},
	}

	cmd.Flags().StringVar(&server, "server", "", "tokengate server URL")
	cmd.Flags().StringVar(&username, "username", "", "Default login username")
	cmd.Flags().StringVar(&caFile, "ca-file", "", "CA bundle used to verify the server")
	cmd.Flags().BoolVar(&insecure, "insecure-skip-tls-verify", false, "Skip TLS verification")
	cmd.Flags().BoolVar(&use, "use", false, "Make this the current context")
	return cmd
}

func newConfigUseContextCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "use-context NAME",
		Short: "Switch the current context",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			if err := rt.EnsureConfigLoaded(); err != nil {
				return err
			}
			if _, err := rt.cfg.FindContext(args[0]); err != nil {
				return err
			}
			rt.cfg.CurrentContext = args[0]
			if err := rt.saveConfig(rt.cfg); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(rt.Writer(), "Switched to context %q\n", args[0])
			return nil
		},
	}
}

func newConfigDeleteContextCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "delete-context NAME",
		Short: "Remove a context",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			if err := rt.EnsureConfigLoaded(); err != nil {
				return err
			}
			cfg := rt.cfg
			kept := cfg.Contexts[:0]
			found := false
			for _, ctx := range cfg.Contexts {
				if ctx.Name == args[0] {
					found = true
					continue
				}
				kept = append(kept, ctx)
			}
			if !found {
				return fmt.Errorf("context not found: %s", args[0])
			}
			cfg.Contexts = kept
			if cfg.CurrentContext == args[0] {
				cfg.CurrentContext = ""
			}
			if err := rt.saveConfig(cfg); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(rt.Writer(), "Context %q deleted\n", args[0])
			return nil
		},
	}
}

func newConfigSetValueCommand() *cobra.Command {
	return &cobra.Command{
		Use:       "set KEY VALUE",
		Short:     "Set a setting (output-format, token-storage, timeout)",
		Args:      cobra.ExactArgs(2),
		ValidArgs: []string{"output-format", "token-storage", "timeout"},
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			cfg, err := rt.loadOrDefaultConfig()
			if err != nil {
				return err
			}
			key, value := args[0], args[1]
			switch key {
			case "output-format":
				switch output.Format(value) {
				case output.FormatTable, output.FormatJSON, output.FormatYAML:
				default:
					return fmt.Errorf("unsupported output format: %s", value)
				}
				cfg.Settings.OutputFormat = value
			case "token-storage":
				cfg.Settings.TokenStorage = value
			case "timeout":
				if _, err := time.ParseDuration(value); err != nil {
					return fmt.Errorf("invalid timeout: %w", err)
				}
				cfg.Settings.Timeout = value
			default:
				return fmt.Errorf("unknown setting: %s", key)
			}
			if err := rt.saveConfig(cfg); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(rt.Writer(), "%s set to %s\n", key, value)
			return nil
		},
	}
}
