package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/imsgguard/imsg-guard/internal/bridge"
	"github.com/imsgguard/imsg-guard/internal/config"
	"github.com/spf13/cobra"
)

var proxyDBPath string

var proxyCmd = &cobra.Command{
	Use:   "proxy [rpc]",
	Short: "Run the stdio client of a remote bridge",
	Long: `Run the local half of bridge mode. The proxy speaks JSON-RPC over
stdio like the backend would, but forwards every request to the remote
bridge over HTTP and polls it for notifications. Point the messaging client
at this command instead of the backend.

The optional "rpc" argument and the --db flag are accepted for command line
compatibility with the backend; --db is ignored.`,
	Example: `  IMSG_BRIDGE_URL=http://100.77.56.119:8788 IMSG_BRIDGE_TOKEN=secret imsgguard proxy rpc`,
	Args: func(cmd *cobra.Command, args []string) error {
		if len(args) > 1 || (len(args) == 1 && args[0] != "rpc") {
			return fmt.Errorf("unexpected arguments %v (only \"rpc\" is accepted)", args)
		}
		return nil
	},
	RunE: runProxy,
}

func init() {
	proxyCmd.Flags().StringVar(&proxyDBPath, "db", "", "ignored (backend compatibility)")
	rootCmd.AddCommand(proxyCmd)
}

func runProxy(cmd *cobra.Command, args []string) error {
	// All filtering happens on the bridge side, so the proxy needs no
	// contact directory of its own.
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if err := cfg.RequireBridgeURL(); err != nil {
		return err
	}
	if err := cfg.RequireToken(); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("shutting down proxy")
		cancel()
	}()

	client := bridge.NewClient(bridge.ClientConfig{
		Logger:       logger,
		BridgeURL:    cfg.BridgeURL,
		Token:        cfg.Token,
		PollInterval: cfg.PollInterval,
	})

	logger.Info("starting proxy", "bridge", cfg.BridgeURL)
	if err := client.Run(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
