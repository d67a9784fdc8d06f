package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/odyssey/beacon/internal/config"
	"github.com/odyssey/beacon/internal/projectroot"
	"github.com/odyssey/beacon/internal/token"
)

var doctorCmd = &cobra.Command{
	Use:   doctorCmdStr,
	Short: "Diagnose project resolution, configuration, and credentials",
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		logger := slog.New(slog.NewTextHandler(io.Discard, nil))

		root := projectroot.NewExecutableResolver().Resolve()
		fmt.Fprintf(out, "Project root: %s\n", root.Path)
		fmt.Fprintf(out, "  Matched marker: %s (depth %d)\n", root.MatchedMarker, root.SearchDepth)
		if !root.Confident() {
			fmt.Fprintf(out, "  Warning: no marker found; this is a best-effort fallback\n")
		}

		cfg, err := config.LoadConnectionConfig(root.Path)
		switch {
		case err != nil:
			fmt.Fprintf(out, "Config: unusable (%v)\n", err)
		case !cfg.Configured():
			fmt.Fprintf(out, "Config: no endpoint configured\n")
		default:
			fmt.Fprintf(out, "Config: endpoint %s\n", cfg.EndpointURL)
			fmt.Fprintf(out, "  Request timeout: %s, retries: %d, status TTL: %s\n",
				cfg.GetRequestTimeout(), cfg.GetMaxRetries(), cfg.GetStatusTTL())

			store := token.NewStore(cfg.GetCredentialFilepath(root.Path), cfg.GetTokenRefreshURL(), nil, logger)
			record, err := store.CurrentToken(context.Background())
			if err != nil {
				fmt.Fprintf(out, "Credential: none (%s)\n", cfg.GetCredentialFilepath(root.Path))
			} else {
				fmt.Fprintf(out, "Credential: %s", record.Masked())
				if !record.ExpiresAt.IsZero() {
					fmt.Fprintf(out, " (expires %s)", record.ExpiresAt.Format("2006-01-02 15:04:05"))
				}
				fmt.Fprintln(out)
			}
		}

		fmt.Fprintf(out, "State dir: %s\n", beaconDirpath)
		if _, err := os.Stat(config.GetLogFilepath(beaconDirpath)); err == nil {
			fmt.Fprintf(out, "  Log file: %s\n", config.GetLogFilepath(beaconDirpath))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(doctorCmd)
}
