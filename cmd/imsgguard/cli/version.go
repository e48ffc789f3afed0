package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// version is set via ldflags at release time.
var version = "dev"

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the imsg-guard version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("imsgguard %s\n", version)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
