package main

import (
	"github.com/spf13/cobra"
)

func newRootCommand() *cobra.Command {
	var apiFlag string

	client := &apiClient{base: &apiFlag}

	rootCmd := &cobra.Command{
		Use:           "bandaid",
		Short:         "Operator CLI for the bandaid poster service",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.PersistentFlags().StringVar(&apiFlag, "api", "http://127.0.0.1:7619", "Base URL of the bandaid daemon API")

	rootCmd.AddCommand(newStatusCommand(client))
	rootCmd.AddCommand(newPostersCommand(client))
	rootCmd.AddCommand(newAccountCommand(client))
	rootCmd.AddCommand(newConfigCommand())

	return rootCmd
}
