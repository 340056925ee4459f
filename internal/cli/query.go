package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/corvid-agent/corvid/internal/config"
	"github.com/corvid-agent/corvid/internal/tracing"
	"github.com/corvid-agent/corvid/pkg/codec"
	"github.com/corvid-agent/corvid/pkg/strategy"
)

var (
	queryMode    string
	queryStream  bool
	queryJSON    bool
	queryTools   []string
	queryTimeout time.Duration
)

var queryCmd = &cobra.Command{
	Use:   "query [prompt]",
	Short: "Run one query against the agent CLI",
	Long: `Run a single query through the configured execution strategy.
Batch mode spawns one CLI process for the query; interactive mode reuses a
persistent session and falls back to batch if the session fails.`,
	Args: cobra.ExactArgs(1),
	RunE: runQuery,
}

func init() {
	queryCmd.Flags().StringVar(&queryMode, "mode", "", "execution mode override (batch, interactive)")
	queryCmd.Flags().BoolVar(&queryStream, "stream", false, "print messages as they arrive instead of after completion")
	queryCmd.Flags().BoolVar(&queryJSON, "json", false, "print raw message JSON instead of text content")
	queryCmd.Flags().StringSliceVar(&queryTools, "tool", nil, "tool to enable for this query (repeatable)")
	queryCmd.Flags().DurationVar(&queryTimeout, "timeout", 0, "per-query timeout override")
	rootCmd.AddCommand(queryCmd)
}

func runQuery(cmd *cobra.Command, args []string) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}
	if queryMode != "" {
		cfg.Mode = config.Mode(queryMode)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	rt, err := buildRuntime(cfg)
	if err != nil {
		return err
	}
	defer rt.close()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx = tracing.NewRequestContext(ctx)

	if err := rt.strat.Start(ctx); err != nil {
		return fmt.Errorf("start execution strategy: %w", err)
	}

	req := strategy.QueryRequest{
		Prompt:  args[0],
		Tools:   queryTools,
		Timeout: queryTimeout,
	}

	if queryStream {
		return rt.strat.ExecuteStream(ctx, req, printMessage)
	}

	msgs, err := rt.strat.Execute(ctx, req)
	if err != nil {
		return err
	}
	for _, msg := range msgs {
		printMessage(msg)
	}
	return nil
}

func printMessage(msg codec.Message) {
	if queryJSON {
		if raw, err := json.Marshal(msg); err == nil {
			fmt.Fprintln(os.Stdout, string(raw))
		}
		return
	}
	switch msg.Kind {
	case codec.KindText, codec.KindAssistant:
		if msg.Content != "" {
			fmt.Fprintln(os.Stdout, msg.Content)
		}
	case codec.KindError:
		fmt.Fprintf(os.Stderr, "error: %s\n", msg.Content)
	}
}
