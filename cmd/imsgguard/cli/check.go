package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/imsgguard/imsg-guard/api"
	"github.com/imsgguard/imsg-guard/internal/filter"
	"github.com/spf13/cobra"
)

var (
	checkLine      string
	checkDirection string
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Dry-run one JSON-RPC line through the filter chain",
	Long: `Evaluate a single JSON-RPC line without a running backend and print
the decision. Useful for debugging the contact list and policy rules.`,
	Example: `  imsgguard check -c guard.yaml --line '{"jsonrpc":"2.0","id":1,"method":"send","params":{"to":"noah","text":"hi"}}'
  imsgguard check -c guard.yaml --direction inbound --line '{"jsonrpc":"2.0","method":"message","params":{"sender":"+15551234567"}}'`,
	RunE: runCheck,
}

func init() {
	checkCmd.Flags().StringVar(&checkLine, "line", "", "JSON-RPC line to evaluate")
	checkCmd.Flags().StringVar(&checkDirection, "direction", "outbound", "outbound or inbound")
	_ = checkCmd.MarkFlagRequired("line")
	rootCmd.AddCommand(checkCmd)
}

func runCheck(cmd *cobra.Command, args []string) error {
	rt, err := buildRuntime(false)
	if err != nil {
		return err
	}

	var direction api.Direction
	var chain *filter.Chain
	switch checkDirection {
	case "outbound":
		direction = api.DirectionOutbound
		chain = filter.BuildOutboundChain(rt.chainCfg)
	case "inbound":
		direction = api.DirectionInbound
		chain = filter.BuildInboundChain(rt.chainCfg)
	default:
		return fmt.Errorf("invalid direction %q (expected outbound or inbound)", checkDirection)
	}

	fc := filter.NewContext([]byte(checkLine), direction)
	if err := chain.Process(context.Background(), fc); err != nil {
		return fmt.Errorf("evaluating line: %w", err)
	}

	output := struct {
		Action  string          `json:"action"`
		Reason  string          `json:"reason,omitempty"`
		Message string          `json:"message,omitempty"`
		Out     json.RawMessage `json:"out,omitempty"`
	}{
		Action: string(api.ActionAllow),
	}
	if fc.Decision != nil {
		output.Action = string(fc.Decision.Action)
		output.Reason = string(fc.Decision.Reason)
		output.Message = fc.Decision.Message
	}
	if !fc.Halted && json.Valid(fc.Out()) {
		output.Out = json.RawMessage(fc.Out())
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(output)
}
