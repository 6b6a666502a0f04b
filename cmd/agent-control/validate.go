package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/aquasecurity/table"
	"github.com/rancher/agent-control/internal/agenttype"
	"github.com/spf13/cobra"
	"sigs.k8s.io/yaml"
)

// newValidateAgentTypeCommand exposes C1+C2+C3 (variable filling, template
// substitution, rendering) as a standalone linter, the way the original's
// agent-type definition module doubles as both the runtime path and an
// offline validator (see SPEC_FULL.md §5.2).
func newValidateAgentTypeCommand() *cobra.Command {
	var (
		valuesFile string
		agentID    string
		attrFlags  []string
	)

	cmd := &cobra.Command{
		Use:   "validate-agent-type <agent-type.yaml>",
		Short: "Render an agent-type document against a values file and report errors",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			atData, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("reading agent-type file: %w", err)
			}
			at, err := agenttype.ParseAgentType(atData)
			if err != nil {
				return fmt.Errorf("parsing agent-type file: %w", err)
			}

			values := map[string]interface{}{}
			if valuesFile != "" {
				valData, err := os.ReadFile(valuesFile)
				if err != nil {
					return fmt.Errorf("reading values file: %w", err)
				}
				if err := yaml.Unmarshal(valData, &values); err != nil {
					return fmt.Errorf("parsing values file: %w", err)
				}
			}

			attrs, err := parseKeyValueFlags(attrFlags)
			if err != nil {
				return err
			}

			base, err := os.MkdirTemp("", "agent-control-validate-*")
			if err != nil {
				return fmt.Errorf("creating scratch materialization directory: %w", err)
			}
			defer os.RemoveAll(base)

			rc, err := agenttype.Render(
				context.Background(), agentID, at, values,
				attrs, envAsMap(), map[string]string{}, map[string]string{},
				agenttype.DiskPersister{}, base,
			)
			if err != nil {
				return fmt.Errorf("rendering agent type %s: %w", at.FQN(), err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "agent type %s: OK\n\n", at.FQN())
			printRuntimeConfig(cmd.OutOrStdout(), rc)
			return nil
		},
	}
	cmd.Flags().StringVar(&valuesFile, "values", "", "path to an agent-values YAML document")
	cmd.Flags().StringVar(&agentID, "agent-id", "validate", "sub-agent id to render as")
	cmd.Flags().StringArrayVar(&attrFlags, "attr", nil, "nr-sub attribute in key=value form, repeatable")
	return cmd
}

func parseKeyValueFlags(flags []string) (map[string]string, error) {
	out := map[string]string{}
	for _, f := range flags {
		k, v, ok := strings.Cut(f, "=")
		if !ok {
			return nil, fmt.Errorf("invalid key=value pair %q", f)
		}
		out[k] = v
	}
	return out, nil
}

func envAsMap() map[string]string {
	out := map[string]string{}
	for _, kv := range os.Environ() {
		k, v, ok := strings.Cut(kv, "=")
		if ok {
			out[k] = v
		}
	}
	return out
}

func printRuntimeConfig(w io.Writer, rc *agenttype.RuntimeConfig) {
	t := table.New(w)
	switch {
	case rc.Host != nil:
		t.SetHeaders("PATH", "ARGS", "RESTART POLICY", "FILE LOGGING")
		for _, e := range rc.Host.Executables {
			t.AddRow(e.Path, e.Args, string(e.RestartPolicy.Type), fmt.Sprintf("%t", rc.Host.EnableFileLogging))
		}
	case rc.Cluster != nil:
		t.SetHeaders("KEY", "KIND", "NAME")
		for key, obj := range rc.Cluster.Objects {
			t.AddRow(key, obj.Kind, obj.Metadata.Name)
		}
	default:
		return
	}
	t.Render()
}
