package cmd

import (
	"encoding/json"
	"log/slog"
	"os"

	"github.com/kurtosis-tech/stacktrace"
	"github.com/spf13/cobra"

	"github.com/odyssey/beacon/internal/config"
	"github.com/odyssey/beacon/internal/projectroot"
	"github.com/odyssey/beacon/internal/statusline"
)

var statuslineCmd = &cobra.Command{
	Use:   statuslineCmdStr,
	Short: "Produce one status report for the host's statusline renderer",
	Long: "Reads the host's render-tick JSON from stdin and writes a machine-readable " +
		"status report to stdout. Always exits zero for classified failures: an " +
		"unreachable or unauthenticated remote is a report, not an error.",
	RunE: func(cmd *cobra.Command, args []string) error {
		// Stdout belongs to the renderer, so diagnostics go to the log file.
		logFile, err := os.OpenFile(config.GetLogFilepath(beaconDirpath), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return stacktrace.Propagate(err, "failed to open beacon log file")
		}
		defer logFile.Close()
		logger := slog.New(slog.NewTextHandler(logFile, nil))

		tick := statusline.ReadRenderTick(cmd.InOrStdin())
		pipeline := statusline.New(beaconDirpath, projectroot.NewExecutableResolver(), logger)
		report := pipeline.Run(cmd.Context(), tick)

		if err := json.NewEncoder(cmd.OutOrStdout()).Encode(report); err != nil {
			return stacktrace.Propagate(err, "failed to write status report")
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statuslineCmd)
}
