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
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/telekom/tokengate/pkg/gatectl/output"
)

func NewAdminCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "admin",
		Short: "Administer rate limits, signing keys and audit sinks (requires the ADMIN role)",
	}
	cmd.AddCommand(
		newAdminPoliciesCommand(),
		newAdminResetCommand(),
		newAdminRotateKeyCommand(),
		newAdminAuditHealthCommand(),
	)
	return cmd
}

func newAdminPoliciesCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "policies",
		Short: "List admission policies",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			c, _, err := buildClient(rt, true)
			if err != nil {
				return err
			}
			policies, err := c.Policies(cmd.Context())
			if err != nil {
				return err
			}
			if rt.OutputFormat() == output.FormatTable {
				output.WritePolicyTable(rt.Writer(), policies)
				return nil
			}
			return output.WriteObject(rt.Writer(), rt.OutputFormat(), policies)
		},
	}
}

func newAdminResetCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "reset POLICY KEY",
		Short: "Refill the bucket of KEY under POLICY",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			c, _, err := buildClient(rt, true)
			if err != nil {
				return err
			}
			if err := c.ResetBucket(cmd.Context(), args[0], args[1]); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(rt.Writer(), "Bucket %s/%s reset\n", args[0], args[1])
			return nil
		},
	}
}

func newAdminRotateKeyCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "rotate-key",
		Short: "Rotate the token signing key",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			c, _, err := buildClient(rt, true)
			if err != nil {
				return err
			}
			resp, err := c.RotateKey(cmd.Context())
			if err != nil {
				return err
			}
			if rt.OutputFormat() != output.FormatTable {
				return output.WriteObject(rt.Writer(), rt.OutputFormat(), resp)
			}
			_, _ = fmt.Fprintf(rt.Writer(), "New signing key: %s\n", resp.KeyID)
			if resp.PreviousKeyID != "" {
				_, _ = fmt.Fprintf(rt.Writer(), "Previous key %s verifies until %s\n",
					resp.PreviousKeyID, resp.PreviousValidUntil.UTC().Format(time.RFC3339))
			}
			return nil
		},
	}
}

func newAdminAuditHealthCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "audit-health",
		Short: "Show the state of the audit sinks",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			c, _, err := buildClient(rt, true)
			if err != nil {
				return err
			}
			health, err := c.AuditHealth(cmd.Context())
			if err != nil {
				return err
			}
			if rt.OutputFormat() != output.FormatTable {
				return output.WriteObject(rt.Writer(), rt.OutputFormat(), health)
			}
			if len(health) == 0 {
				_, _ = fmt.Fprintln(rt.Writer(), "Audit is disabled")
				return nil
			}
			output.WriteAuditHealthTable(rt.Writer(), health)
			return nil
		},
	}
}
