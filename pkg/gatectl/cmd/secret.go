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

	"github.com/spf13/cobra"

	"github.com/telekom/tokengate/pkg/auth"
)

func NewSecretCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "secret",
		Short: "Manage signing secrets",
	}
	cmd.AddCommand(newSecretGenerateCommand())
	return cmd
}

func newSecretGenerateCommand() *cobra.Command {
	var (
		size           int
		keyringService string
		keyringUser    string
	)

	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate a random signing secret",
		Long: `Generate a random signing secret.

The secret is printed unless --keyring-service and --keyring-user are given,
in which case it is written to the OS keyring where the server's keyring
key source can read it.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			if size < auth.MinSecretLength {
				return fmt.Errorf("--bytes must be at least %d", auth.MinSecretLength)
			}
			if (keyringService == "") != (keyringUser == "") {
				return errors.New("--keyring-service and --keyring-user must be set together")
			}
			secret, err := auth.GenerateSecret(size)
			if err != nil {
				return err
			}
			if keyringService == "" {
				_, _ = fmt.Fprintln(rt.Writer(), secret)
				return nil
			}
			src := auth.KeyringSource{Service: keyringService, User: keyringUser}
			if err := src.Store(secret); err != nil {
				return fmt.Errorf("storing secret in %s: %w", src.Name(), err)
			}
			_, _ = fmt.Fprintf(rt.Writer(), "Secret stored in %s (key id %s)\n", src.Name(), auth.KeyID([]byte(secret)))
			return nil
		},
	}

	cmd.Flags().IntVar(&size, "bytes", auth.MinSecretLength, "Number of random bytes")
	cmd.Flags().StringVar(&keyringService, "keyring-service", "", "Store the secret under this OS keyring service")
	cmd.Flags().StringVar(&keyringUser, "keyring-user", "", "Keyring user for the stored secret")
	return cmd
}
