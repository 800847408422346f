package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/nholik/servo/internal/check"
	"github.com/nholik/servo/internal/connector"
	"github.com/nholik/servo/internal/coordinator"
	"gopkg.in/yaml.v3"
)

const (
	outputText = "text"
	outputYAML = "yaml"
	outputJSON = "json"
)

func writeReports(w io.Writer, format string, reports []coordinator.Report) error {
	switch format {
	case outputYAML:
		return encodeYAML(w, reports)
	case outputJSON:
		return encodeJSON(w, reports)
	}
	formatText(w, reports)
	return nil
}

func formatText(w io.Writer, reports []coordinator.Report) {
	for _, r := range reports {
		fmt.Fprintf(w, "CONNECTOR %s (%s)\n", r.Connector, r.Type)

		tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "CHECK\tID\tREQUIRED\tSTATUS\tMESSAGE")
		for _, res := range r.Results {
			required := ""
			if res.Required {
				required = "yes"
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", res.Name, res.ID, required, statusMarker(res), res.Message)
		}
		_ = tw.Flush()

		if r.Error != "" {
			fmt.Fprintf(w, "[ERR]  %s\n", r.Error)
		}
		fmt.Fprintf(w, "Results: %d/%d passed", r.Summary.Passed, r.Summary.Total)
		if r.Summary.Failed > 0 {
			fmt.Fprintf(w, ", %d failed", r.Summary.Failed)
		}
		fmt.Fprintln(w)
		fmt.Fprintln(w)
	}
}

func statusMarker(r check.Result) string {
	switch {
	case !r.HasRun():
		return "PENDING"
	case r.Passed():
		return "PASS"
	default:
		return "FAIL"
	}
}

type checkListing struct {
	Connector string         `json:"connector" yaml:"connector"`
	Type      string         `json:"type" yaml:"type"`
	Checks    []check.Result `json:"checks" yaml:"checks"`
}

func listChecks(w io.Writer, format string, connectors []connector.Connector) error {
	listings := make([]checkListing, 0, len(connectors))
	for _, c := range connectors {
		collection, err := c.Checks()
		if err != nil {
			return fmt.Errorf("build checks for %s: %w", c.Name(), err)
		}
		listings = append(listings, checkListing{Connector: c.Name(), Type: c.Type(), Checks: collection.Specs()})
	}

	switch format {
	case outputYAML:
		return encodeYAML(w, listings)
	case outputJSON:
		return encodeJSON(w, listings)
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "CONNECTOR\tCHECK\tID\tREQUIRED\tTAGS")
	for _, l := range listings {
		for _, spec := range l.Checks {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%t\t%s\n", l.Connector, spec.Name, spec.ID, spec.Required, strings.Join(spec.Tags, ","))
		}
	}
	return tw.Flush()
}

func encodeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func encodeYAML(w io.Writer, v any) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return err
	}
	return enc.Close()
}
