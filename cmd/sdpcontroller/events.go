package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cuemby/sdpcontroller/pkg/config"
	"github.com/cuemby/sdpcontroller/pkg/events"
	"github.com/spf13/cobra"
)

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Stream lifecycle events",
	Long: `Print lifecycle events from a running controller until interrupted.
Works against the read-only local socket too.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := dialAPI(cmd)
		if err != nil {
			return err
		}
		defer c.Close()

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		return c.Events(ctx, func(e *events.Event) error {
			fmt.Printf("%s  %-20s %-12s %s\n",
				e.Timestamp.Format(time.RFC3339), e.Type, e.Subarray, e.Message)
			return nil
		})
	},
}

func init() {
	eventsCmd.Flags().String("api-addr", config.DefaultAPIAddr, "Controller API address")
}
