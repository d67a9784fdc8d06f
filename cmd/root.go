package cmd

import (
	"github.com/kurtosis-tech/stacktrace"
	"github.com/spf13/cobra"

	"github.com/odyssey/beacon/internal/config"
)

var beaconDirpath string

var rootCmd = &cobra.Command{
	Use:   beaconCmdStr,
	Short: "Beacon — project-aware remote status for the coding-assistant statusline",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		dirpath, err := config.GetBeaconDirpath()
		if err != nil {
			return stacktrace.Propagate(err, "failed to get beacon directory path")
		}
		beaconDirpath = dirpath

		if err := config.EnsureDirStructure(beaconDirpath); err != nil {
			return stacktrace.Propagate(err, "failed to ensure directory structure")
		}

		return nil
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
