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

	"github.com/telekom/tokengate/pkg/gatectl/output"
	"github.com/telekom/tokengate/pkg/version"
)

type versionReport struct {
	Client version.BuildInfo  `json:"client" yaml:"client"`
	Server *version.BuildInfo `json:"server,omitempty" yaml:"server,omitempty"`
}

func NewVersionCommand() *cobra.Command {
	var withServer bool

	cmd := &cobra.Command{
		Use:   "version",
		Short: "Show gatectl version",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			report := versionReport{Client: version.GetBuildInfo()}
			if withServer {
				cfg, err := rt.loadOrDefaultConfig()
				if err != nil {
					return err
				}
				rt.cfg = cfg
				c, _, err := buildClient(rt, false)
				if err != nil {
					return err
				}
				info, err := c.ServerVersion(cmd.Context())
				if err != nil {
					return err
				}
				report.Server = &info
			}

			format := rt.OutputFormat()
			if format != output.FormatTable {
				return output.WriteObject(rt.Writer(), format, report)
			}
			w := rt.Writer()
			_, _ = fmt.Fprintf(w, "gatectl %s (commit: %s, built: %s)\n", report.Client.Version, report.Client.GitCommit, report.Client.BuildDate)
			if report.Server != nil {
				_, _ = fmt.Fprintf(w, "server %s (commit: %s, built: %s)\n", report.Server.Version, report.Server.GitCommit, report.Server.BuildDate)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&withServer, "server-version", false, "Also query the server version")
	return cmd
}
