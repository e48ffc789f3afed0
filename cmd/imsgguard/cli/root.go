package cli

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

var (
	cfgFile string
	verbose bool
	logger  *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "imsgguard",
	Short: "imsg-guard — contact allow-list firewall for the imsg RPC backend",
	Long: `imsg-guard sits between a messaging client and the privileged imsg
JSON-RPC backend. Outbound sends are restricted to an explicit contact
allow-list, aliases are rewritten to real handles on the way out, and real
handles are rewritten back to aliases on the way in so the client side never
sees them.

It runs either as a local stdio relay (guard), as an HTTP bridge in front of
the backend (bridge), or as the stdio client of a remote bridge (proxy).`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		level := slog.LevelInfo
		if verbose {
			level = slog.LevelDebug
		}
		logger = slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
			Level: level,
		}))
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (YAML)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
