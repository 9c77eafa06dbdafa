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

	"github.com/spf13/cobra"
)

func NewCodeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "code",
		Short: "Verification codes",
	}
	var channel string
	request := &cobra.Command{
		Use:   "request TARGET",
		Short: "Request a verification code for a phone number or e-mail address",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			// the token is optional for this endpoint
			authenticated := rt.tokenOverride != ""
			c, _, err := buildClient(rt, authenticated)
			if err != nil {
				return err
			}
			if err := c.RequestVerificationCode(cmd.Context(), args[0], channel); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(rt.Writer(), "Verification code requested for %s\n", args[0])
			return nil
		},
	}
	request.Flags().StringVar(&channel, "channel", "", "Delivery channel: sms or email")
	cmd.AddCommand(request)
	return cmd
}

func NewOrderCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "order",
		Short: "Orders",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "submit",
		Short: "Submit an order",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			c, _, err := buildClient(rt, true)
			if err != nil {
				return err
			}
			if err := c.SubmitOrder(cmd.Context()); err != nil {
				return err
			}
			_, _ = fmt.Fprintln(rt.Writer(), "Order accepted")
			return nil
		},
	})
	return cmd
}
