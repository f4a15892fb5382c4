package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/cuemby/sdpcontroller/pkg/client"
	"github.com/cuemby/sdpcontroller/pkg/config"
	"github.com/cuemby/sdpcontroller/pkg/types"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"
)

var subarrayCmd = &cobra.Command{
	Use:   "subarray",
	Short: "Activate, deactivate and inspect subarrays",
	Long: `Talk to a running controller. Status and list also work against the
read-only local socket, e.g. --api-addr unix:///var/run/sdpcontroller.sock`,
}

var subarrayActivateCmd = &cobra.Command{
	Use:   "activate SUBARRAY",
	Short: "Start the subarray's pipeline",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := dialAPI(cmd)
		if err != nil {
			return err
		}
		defer c.Close()

		id, err := c.Activate(args[0])
		if err != nil {
			return fmt.Errorf("failed to activate %s: %w", args[0], err)
		}
		fmt.Printf("✓ Subarray %s activated\n", args[0])
		fmt.Printf("  Instance: %s\n", id)
		return nil
	},
}

var subarrayDeactivateCmd = &cobra.Command{
	Use:   "deactivate SUBARRAY",
	Short: "Stop the subarray's pipeline",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := dialAPI(cmd)
		if err != nil {
			return err
		}
		defer c.Close()

		if err := c.Deactivate(args[0]); err != nil {
			return fmt.Errorf("failed to deactivate %s: %w", args[0], err)
		}
		fmt.Printf("✓ Subarray %s stopping\n", args[0])
		return nil
	},
}

var subarrayStatusCmd = &cobra.Command{
	Use:   "status SUBARRAY",
	Short: "Show the subarray's lifecycle state",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := dialAPI(cmd)
		if err != nil {
			return err
		}
		defer c.Close()

		report, err := c.Status(args[0])
		if err != nil {
			return fmt.Errorf("failed to get status of %s: %w", args[0], err)
		}
		printReport(report)
		return nil
	},
}

var subarrayListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all subarrays",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := dialAPI(cmd)
		if err != nil {
			return err
		}
		defer c.Close()

		overview, err := c.List()
		if err != nil {
			return fmt.Errorf("failed to list subarrays: %w", err)
		}

		t := newTable()
		t.AppendHeader(table.Row{"Subarray", "Namespace", "State", "Instance", "Age"})
		for _, r := range overview.Subarrays {
			id, age := "-", "-"
			if r.Instance != nil {
				id = r.Instance.ID
				age = time.Since(r.Instance.CreatedAt).Truncate(time.Second).String()
			}
			t.AppendRow(table.Row{r.Subarray, r.Namespace, stateText(r.State), id, age})
		}
		t.Render()
		fmt.Printf("\n%d of %d subarrays active, %d receptors in pool\n",
			len(overview.Active()), len(overview.Subarrays), len(overview.Receptors))
		return nil
	},
}

func init() {
	subarrayCmd.PersistentFlags().String("api-addr", config.DefaultAPIAddr, "Controller API address")

	subarrayCmd.AddCommand(subarrayActivateCmd)
	subarrayCmd.AddCommand(subarrayDeactivateCmd)
	subarrayCmd.AddCommand(subarrayStatusCmd)
	subarrayCmd.AddCommand(subarrayListCmd)
}

func dialAPI(cmd *cobra.Command) (*client.Client, error) {
	addr, _ := cmd.Flags().GetString("api-addr")
	return client.NewClient(addr)
}

func newTable() table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetStyle(table.StyleRounded)
	t.Style().Format.Header = text.FormatUpper
	return t
}

func stateText(s types.InstanceState) string {
	switch s {
	case types.InstanceStateRunning:
		return text.FgGreen.Sprint(s)
	case types.InstanceStateStarting, types.InstanceStateStopping:
		return text.FgYellow.Sprint(s)
	case types.InstanceStateFailed:
		return text.FgRed.Sprint(s)
	}
	return text.FgHiBlack.Sprint(s)
}

func printReport(r *types.StatusReport) {
	fmt.Printf("Subarray:  %s\n", r.Subarray)
	fmt.Printf("Namespace: %s\n", r.Namespace)
	fmt.Printf("State:     %s\n", stateText(r.State))

	inst := r.Instance
	if inst == nil {
		return
	}
	fmt.Printf("Instance:  %s\n", inst.ID)
	if inst.Template != nil {
		fmt.Printf("Template:  %s (ttl %s)\n", inst.Template.Name, inst.TTL())
	}
	fmt.Printf("Workflow:  %s\n", inst.WorkflowName)
	fmt.Printf("Receptors: %s\n", strings.Join(inst.Receptors, ","))
	fmt.Printf("Created:   %s\n", inst.CreatedAt.Format(time.RFC3339))
	if inst.Reason != "" {
		fmt.Printf("Reason:    %s\n", inst.Reason)
	}
}
