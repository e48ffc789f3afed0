package cli

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/imsgguard/imsg-guard/internal/bridge"
	"github.com/imsgguard/imsg-guard/internal/filter"
	"github.com/spf13/cobra"
)

var bridgeCmd = &cobra.Command{
	Use:   "bridge",
	Short: "Run the HTTP bridge in front of a local backend",
	Long: `Run the bridge server on the host that has the backend. The bridge
owns the backend subprocess and exposes it over HTTP: POST /rpc forwards a
request and returns its response, GET /notifications drains the filtered
inbound buffer, GET /contacts lists the allowed aliases. Everything except
GET /health requires the bearer token.`,
	Example: `  IMSG_BRIDGE_TOKEN=secret IMSG_CONTACTS_FILE=contacts.json imsgguard bridge
  imsgguard bridge -c bridge.yaml`,
	Args: cobra.NoArgs,
	RunE: runBridge,
}

func init() {
	rootCmd.AddCommand(bridgeCmd)
}

func runBridge(cmd *cobra.Command, args []string) error {
	rt, err := buildRuntime(true)
	if err != nil {
		return err
	}
	defer rt.close()

	if err := rt.cfg.RequireToken(); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	manager := bridge.NewManager(bridge.ManagerConfig{
		Logger:     logger,
		Outbound:   filter.BuildOutboundChain(rt.chainCfg),
		Inbound:    filter.BuildInboundChain(rt.chainCfg),
		BufferMax:  rt.cfg.BufferMax,
		RPCTimeout: rt.cfg.RPCTimeout,
	})
	if err := manager.Start(ctx, rt.cfg.BackendPath, rt.cfg.DBPath); err != nil {
		return err
	}
	defer manager.Stop()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("shutting down bridge")
		cancel()
	}()

	srv := bridge.NewServer(logger, rt.cfg.Token, rt.dir, manager)
	err = srv.ListenAndServe(ctx, rt.cfg.Listen)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}
