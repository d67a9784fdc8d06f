package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/odyssey/beacon/internal/version"
)

var versionCmd = &cobra.Command{
	Use:   versionCmdStr,
	Short: "Print the beacon version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("beacon version %s\n", version.Version)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
