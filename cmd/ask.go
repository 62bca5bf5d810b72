package cmd

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"portfolio-oracle/oracle"
	"portfolio-oracle/web/format"
)

var (
	askSession string
	askJSON    bool
)

var askCmd = &cobra.Command{
	Use:   "ask [question]",
	Short: "Ask the Oracle one question from the terminal",
	Long: `Runs a single question through the full pipeline (assembly, generation and
persistence) and prints the answer. Reuse --session to continue a conversation.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runAsk,
}

func init() {
	askCmd.Flags().StringVarP(&askSession, "session", "s", "", "conversation session id (default: new session)")
	askCmd.Flags().BoolVar(&askJSON, "json", false, "output the result as JSON")
	rootCmd.AddCommand(askCmd)
}

func runAsk(cmd *cobra.Command, args []string) error {
	ctx := commandContext(cmd)

	a, err := bootstrap(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	sessionID := askSession
	if sessionID == "" {
		sessionID = "cli-" + uuid.NewString()
	}

	result, err := a.oracle.Ask(ctx, oracle.AskRequest{
		SessionID: sessionID,
		Question:  strings.Join(args, " "),
		IP:        "cli",
	})
	if err != nil {
		return fmt.Errorf("ask failed: %w", err)
	}

	if askJSON {
		data, err := json.MarshalIndent(struct {
			SessionID string `json:"session_id"`
			oracle.AskResult
		}{sessionID, result}, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal result: %w", err)
		}
		cmd.Println(string(data))
		return nil
	}

	cmd.Println(result.Answer)
	cmd.Println()
	cmd.Println(format.Rule('-'))
	cmd.Printf("session: %s  grounded: %t  latency: %dms\n", sessionID, result.HadGrounding, result.LatencyMs)
	for i, c := range result.Citations {
		cmd.Printf("[%d] %s (%.3f)\n", i+1, c.Title, c.Score)
	}
	return nil
}
