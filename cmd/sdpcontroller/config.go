package main

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/cuemby/sdpcontroller/pkg/config"
	"github.com/cuemby/sdpcontroller/pkg/types"
	"github.com/cuemby/sdpcontroller/pkg/workflow"
	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"sigs.k8s.io/yaml"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect controller configuration",
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a configuration file",
	Long: `Load the configuration exactly as serve would and report the first
error, or print the subarrays, templates and resource capacities it defines.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, built, err := loadConfig(cmd)
		if err != nil {
			return err
		}

		fmt.Printf("✓ Configuration valid: %d receptors, %d subarrays, %d templates\n\n",
			len(built.Registry.Receptors()), len(built.Registry.Subarrays()), len(built.Templates))

		t := newTable()
		t.AppendHeader(table.Row{"Subarray", "Namespace", "Template", "Receptors"})
		for _, sa := range built.Registry.Subarrays() {
			t.AppendRow(table.Row{sa.Name, sa.Namespace, sa.Template, strings.Join(sa.Receptors, ",")})
		}
		t.Render()

		t = newTable()
		t.AppendHeader(table.Row{"Template", "Components", "TTL", "Custom Resources"})
		for _, name := range cfg.TemplateNames() {
			tmpl := built.Templates[name]
			t.AppendRow(table.Row{name, len(tmpl.Components), tmpl.TTL, formatCustom(tmpl.CustomTotals())})
		}
		t.Render()

		if len(built.Capacity) > 0 {
			t = newTable()
			t.AppendHeader(table.Row{"Resource", "Capacity"})
			for _, name := range sortedKeys(built.Capacity) {
				t.AppendRow(table.Row{name, built.Capacity[name]})
			}
			t.Render()
		}
		return nil
	},
}

var workflowCmd = &cobra.Command{
	Use:   "workflow",
	Short: "Work with generated workflow documents",
}

var workflowRenderCmd = &cobra.Command{
	Use:   "render SUBARRAY",
	Short: "Print the workflow an activation would submit",
	Long: `Build the workflow document for SUBARRAY from the configuration and print
it as YAML without contacting the controller or the cluster.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		_, built, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		sa, err := built.Registry.Lookup(args[0])
		if err != nil {
			return err
		}

		now := time.Now().UTC()
		inst := &types.PipelineInstance{
			ID:           uuid.New().String(),
			Subarray:     sa.Name,
			Namespace:    sa.Namespace,
			Template:     built.Templates[sa.Template],
			Receptors:    sa.Receptors,
			State:        types.InstanceStateStarting,
			WorkflowName: workflow.WorkflowName(sa.Name, now),
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		sub, err := workflow.NewTranslator(built.Translator).Translate(inst)
		if err != nil {
			return err
		}
		out, err := yaml.JSONToYAML(sub.Manifest)
		if err != nil {
			return fmt.Errorf("failed to render workflow: %w", err)
		}
		fmt.Print(string(out))
		return nil
	},
}

func init() {
	for _, c := range []*cobra.Command{configValidateCmd, workflowRenderCmd} {
		c.Flags().StringP("config", "c", "/etc/sdpcontroller/config.yaml", "Configuration file")
	}
	configCmd.AddCommand(configValidateCmd)
	workflowCmd.AddCommand(workflowRenderCmd)
}

func loadConfig(cmd *cobra.Command) (*config.Config, *config.Built, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, nil, err
	}
	built, err := cfg.Build()
	if err != nil {
		return nil, nil, fmt.Errorf("invalid configuration %s: %w", path, err)
	}
	return cfg, built, nil
}

func formatCustom(totals map[string]int64) string {
	if len(totals) == 0 {
		return "-"
	}
	parts := make([]string, 0, len(totals))
	for _, name := range sortedKeys(totals) {
		parts = append(parts, fmt.Sprintf("%s=%d", name, totals[name]))
	}
	return strings.Join(parts, ",")
}

func sortedKeys(m map[string]int64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
