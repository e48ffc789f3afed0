package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/imsgguard/imsg-guard/internal/filter"
	"github.com/imsgguard/imsg-guard/internal/relay"
	"github.com/spf13/cobra"
)

var guardDBPath string

var guardCmd = &cobra.Command{
	Use:   "guard [rpc]",
	Short: "Run the stdio relay in front of a local backend",
	Long: `Run the filtering relay on the same host as the backend. The guard
spawns the backend subprocess and bridges its own stdin/stdout to it, so a
messaging client can use the guard binary as a drop-in replacement for the
backend command.

The optional "rpc" argument is accepted for command line compatibility with
the backend.`,
	Example: `  IMSG_CONTACTS='{"noah":"+15551234567"}' imsgguard guard rpc
  imsgguard guard -c guard.yaml rpc --db /path/to/chat.db`,
	Args: func(cmd *cobra.Command, args []string) error {
		if len(args) > 1 || (len(args) == 1 && args[0] != "rpc") {
			return fmt.Errorf("unexpected arguments %v (only \"rpc\" is accepted)", args)
		}
		return nil
	},
	RunE: runGuard,
}

func init() {
	guardCmd.Flags().StringVar(&guardDBPath, "db", "", "backend message database path")
	rootCmd.AddCommand(guardCmd)
}

func runGuard(cmd *cobra.Command, args []string) error {
	rt, err := buildRuntime(true)
	if err != nil {
		return err
	}
	defer rt.close()

	dbPath := rt.cfg.DBPath
	if guardDBPath != "" {
		dbPath = guardDBPath
	}

	backend, err := relay.StartBackend(rt.cfg.BackendPath, dbPath)
	if err != nil {
		return err
	}
	defer func() {
		_ = backend.Terminate(3 * time.Second)
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("shutting down guard")
		cancel()
	}()

	outbound := filter.BuildOutboundChain(rt.chainCfg)
	inbound := filter.BuildInboundChain(rt.chainCfg)
	r := relay.New(logger, outbound, inbound)

	logger.Info("starting guard",
		"backend", rt.cfg.BackendPath,
		"contacts", rt.dir.Len(),
	)

	if err := r.Run(ctx, os.Stdin, os.Stdout, backend.Stdin(), backend.Stdout()); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
