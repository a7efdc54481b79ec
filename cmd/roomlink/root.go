package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// defaultConfigPath is used when neither --config nor ROOMLINK_CONFIG is set.
const defaultConfigPath = "configs/config.yaml"

// defaultNodePort is appended to node addresses given without a port.
const defaultNodePort = "47670"

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "roomlink",
		Short:         "RoomLink room node",
		Long:          "RoomLink runs the devices of one room and keeps a hub in sync with them.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(
		newServeCommand(),
		newSnapshotCommand(),
		newEventCommand(),
		newVersionCommand(),
	)
	return root
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print build information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "roomlink %s (commit %s, built %s)\n", version, commit, date)
		},
	}
}

// configPath resolves the config flag against ROOMLINK_CONFIG.
func configPath(flag string) string {
	if flag != "" {
		return flag
	}
	if path := os.Getenv("ROOMLINK_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}
