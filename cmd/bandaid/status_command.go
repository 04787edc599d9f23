package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"bandaid/internal/api"
)

func newStatusCommand(client *apiClient) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show daemon status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var status api.Status
			if err := client.get(cmd.Context(), "/api/status", &status); err != nil {
				return err
			}

			running := "no"
			if status.Running {
				running = "yes"
			}
			rows := [][]string{
				{"Running", running},
				{"PID", strconv.Itoa(status.PID)},
				{"Data dir", status.DataDir},
				{"Lock file", status.LockFilePath},
				{"Runs pending", strconv.Itoa(status.Runs.Pending)},
				{"Runs running", strconv.Itoa(status.Runs.Running)},
				{"Runs completed", strconv.Itoa(status.Runs.Completed)},
				{"Runs failed", strconv.Itoa(status.Runs.Failed)},
			}
			writeTable(cmd.OutOrStdout(), []string{"Field", "Value"}, rows)
			if !status.Running {
				fmt.Fprintln(cmd.OutOrStdout(), "Daemon is not processing; start bandaidd.")
			}
			return nil
		},
	}
}
