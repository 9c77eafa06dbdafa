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
	"bufio"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/telekom/tokengate/pkg/gatectl/client"
	"github.com/telekom/tokengate/pkg/gatectl/credentials"
	"github.com/telekom/tokengate/pkg/gatectl/output"
	"github.com/telekom/tokengate/pkg/gateway"
)

func NewLoginCommand() *cobra.Command {
	var username, password string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Log in and store the issued token",
		Long:  "Log in with username and password. Without --password the password is read from the first line of stdin.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			c, ctxCfg, err := buildClient(rt, false)
			if err != nil {
				return err
			}
			if username == "" {
				username = ctxCfg.Username
			}
			if username == "" {
				return errors.New("username is required (--username or the context's username)")
			}
			if password == "" {
				if password, err = readLine(rt.input); err != nil {
					return fmt.Errorf("reading password: %w", err)
				}
			}

			tok, err := c.Login(cmd.Context(), username, password)
			if err != nil {
				return err
			}
			if err := saveToken(rt, ctxCfg.Name, tok); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(rt.Writer(), "Logged in as %s. Token expires at %s\n",
				tok.User.Username, tok.ExpiresAt.UTC().Format(time.RFC3339))
			return nil
		},
	}
	cmd.Flags().StringVarP(&username, "username", "u", "", "Username; defaults to the context's username")
	cmd.Flags().StringVarP(&password, "password", "p", "", "Password; read from stdin when empty")
	return cmd
}

func NewLogoutCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Revoke the stored token and remove it",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			c, ctxCfg, err := buildClient(rt, true)
			if err != nil {
				return err
			}
			// an already rejected token only needs to be forgotten
			if err := c.Logout(cmd.Context()); err != nil && !client.IsStatus(err, http.StatusUnauthorized) {
				return err
			}
			store, err := rt.TokenStore()
			if err != nil {
				return err
			}
			if err := store.Delete(ctxCfg.Name); err != nil {
				return err
			}
			_, _ = fmt.Fprintln(rt.Writer(), "Logged out")
			return nil
		},
	}
}

func NewWhoamiCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the identity of the current token",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			c, _, err := buildClient(rt, true)
			if err != nil {
				return err
			}
			id, err := c.Me(cmd.Context())
			if err != nil {
				return err
			}
			if rt.OutputFormat() == output.FormatTable {
				output.WriteIdentity(rt.Writer(), id)
				return nil
			}
			return output.WriteObject(rt.Writer(), rt.OutputFormat(), id)
		},
	}
}

func NewRefreshCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "refresh",
		Short: "Exchange the stored token for a new one",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			c, ctxCfg, err := buildClient(rt, true)
			if err != nil {
				return err
			}
			tok, err := c.Refresh(cmd.Context())
			if err != nil {
				return err
			}
			if err := saveToken(rt, ctxCfg.Name, tok); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(rt.Writer(), "Token refreshed. Expires at %s\n", tok.ExpiresAt.UTC().Format(time.RFC3339))
			return nil
		},
	}
}

func saveToken(rt *runtimeState, contextName string, tok gateway.TokenResponse) error {
	store, err := rt.TokenStore()
	if err != nil {
		return err
	}
	return store.Save(contextName, credentials.StoredToken{
		AccessToken: tok.Token,
		TokenType:   tok.TokenType,
		Expiry:      tok.ExpiresAt,
		Subject:     tok.User.Username,
	})
}

func readLine(r io.Reader) (string, error) {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	line = strings.TrimRight(line, "\r\n")
	if line == "" {
		return "", errors.New("empty input")
	}
	return line, nil
}
