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

// Package output renders gatectl results as tables, JSON or YAML.
package output

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/telekom/tokengate/pkg/audit"
	"github.com/telekom/tokengate/pkg/auth"
	"github.com/telekom/tokengate/pkg/gateway"
)

type Format string

const (
	FormatTable Format = "table"
	FormatJSON  Format = "json"
	FormatYAML  Format = "yaml"
)

func WriteObject(w io.Writer, format Format, obj any) error {
	switch format {
	case FormatJSON:
		data, err := json.MarshalIndent(obj, "", "  ")
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(w, string(data))
		return err
	case FormatYAML:
		data, err := yaml.Marshal(obj)
		if err != nil {
			return err
		}
		_, err = fmt.Fprint(w, string(data))
		return err
	case FormatTable:
		return fmt.Errorf("table format requires a specific formatter")
	default:
		return fmt.Errorf("unknown output format: %s", format)
	}
}

func newTable(w io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(w, 2, 4, 2, ' ', 0)
}

func WritePolicyTable(w io.Writer, policies []gateway.PolicyInfo) {
	tw := newTable(w)
	_, _ = fmt.Fprintln(tw, "NAME\tCAPACITY\tREFILL\tRATE/S\tMAX_AGE")
	for _, p := range policies {
		maxAge := "-"
		if p.MaxAge > 0 {
			maxAge = p.MaxAge.String()
		}
		_, _ = fmt.Fprintf(tw, "%s\t%d\t%s\t%.4g\t%s\n", p.Name, p.Capacity, p.RefillPeriod, p.RatePerSecond, maxAge)
	}
	_ = tw.Flush()
}

func WriteAuditHealthTable(w io.Writer, sinks []audit.QueuedSinkHealth) {
	tw := newTable(w)
	_, _ = fmt.Fprintln(tw, "SINK\tHEALTHY\tCIRCUIT\tQUEUE\tPROCESSED\tFAILED\tDROPPED")
	for _, s := range sinks {
		_, _ = fmt.Fprintf(tw, "%s\t%t\t%s\t%d/%d\t%d\t%d\t%d\n",
			s.Name, s.Healthy, s.CircuitState, s.QueueLength, s.QueueCapacity,
			s.ProcessedEvents, s.FailedEvents, s.DroppedEvents)
	}
	_ = tw.Flush()
}

// WriteIdentity prints the subject, token metadata and claims sorted by name.
func WriteIdentity(w io.Writer, id auth.Identity) {
	tw := newTable(w)
	_, _ = fmt.Fprintf(tw, "Subject:\t%s\n", id.Subject)
	_, _ = fmt.Fprintf(tw, "Token ID:\t%s\n", id.TokenID)
	_, _ = fmt.Fprintf(tw, "Issued:\t%s\n", formatTime(id.IssuedAt))
	_, _ = fmt.Fprintf(tw, "Expires:\t%s\n", formatTime(id.ExpiresAt))
	if len(id.Claims) > 0 {
		names := make([]string, 0, len(id.Claims))
		for k := range id.Claims {
			names = append(names, k)
		}
		sort.Strings(names)
		parts := make([]string, 0, len(names))
		for _, k := range names {
			parts = append(parts, k+"="+id.Claims[k].String())
		}
		_, _ = fmt.Fprintf(tw, "Claims:\t%s\n", strings.Join(parts, ", "))
	}
	_ = tw.Flush()
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}
