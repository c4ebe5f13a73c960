package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"loadpilot/internal/config"
	"loadpilot/internal/delivery"
	"loadpilot/internal/draft"
	"loadpilot/internal/extract"
	"loadpilot/internal/guard"
	"loadpilot/internal/llm"
	"loadpilot/internal/logging"
	"loadpilot/internal/negotiation"
	"loadpilot/internal/pipeline"
	"loadpilot/internal/requirements"
	"loadpilot/internal/store"
	"loadpilot/internal/types"
)

var version = "0.1.0"

var (
	configPath  string
	requestPath string
	verbose     bool

	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "loadpilot",
	Short: "loadpilot - automated freight load negotiation over email",
	Long: `loadpilot drives email negotiations with freight brokers: it gathers
missing load details, checks the load against the truck, walks a descending
bid ladder, and hands drafts to a human dispatcher before anything binding
goes out.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		if verbose {
			cfg.Logging.Level = "debug"
		}
		logger, err = logging.New(cfg.Logging)
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		cmd.SetContext(config.IntoContext(cmd.Context(), cfg))
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

var processCmd = &cobra.Command{
	Use:   "process",
	Short: "Process one inbound broker email",
	Long: `Reads a normalized inbound request (JSON) describing the broker's
latest message plus the load, company, and truck records, runs the workflow,
and prints the result envelope to stdout.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.FromContext(cmd.Context())
		if err != nil {
			return err
		}

		raw, err := os.ReadFile(requestPath)
		if err != nil {
			return fmt.Errorf("failed to read request file: %w", err)
		}
		var req types.InboundRequest
		if err := json.Unmarshal(raw, &req); err != nil {
			return fmt.Errorf("failed to parse request file: %w", err)
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		orch, closeFn, err := buildOrchestrator(ctx, cfg)
		if err != nil {
			return err
		}
		defer closeFn()

		result, err := orch.Process(ctx, &req)
		if err != nil {
			return err
		}

		out, err := json.MarshalIndent(result, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(out))
		return nil
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the loadpilot version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "loadpilot %s\n", version)
	},
}

func buildOrchestrator(ctx context.Context, cfg *config.Config) (*pipeline.Orchestrator, func(), error) {
	client, err := llm.NewFromConfig(ctx, cfg.LLM)
	if err != nil {
		return nil, nil, err
	}

	st, err := store.NewSQLiteStore(cfg.Store.DatabasePath)
	if err != nil {
		return nil, nil, err
	}

	sender, err := delivery.NewHTTPSender(cfg.Delivery.BaseURL, cfg.Delivery.RequestTimeout(), logger)
	if err != nil {
		st.Close()
		return nil, nil, err
	}

	orch := pipeline.NewOrchestrator(pipeline.Deps{
		Store:      st,
		Sender:     sender,
		Cancel:     guard.NewCancellationGuard(client, logger),
		Gate:       guard.NewReplyNecessityGate(client, logger),
		Extractor:  extract.NewFieldExtractor(client, logger),
		Classifier: negotiation.NewClassifier(client, logger),
		Checker:    requirements.NewChecker(client, logger),
		Writer: draft.NewWriter(
			draft.NewDrafter(client, logger),
			draft.NewJudge(client, logger),
			cfg.Negotiation.MaxDraftRetries, logger),
		FallbackPolicy: types.NegotiationPolicy{
			FirstBidThresholdPct:  cfg.Negotiation.FirstBidThresholdPct,
			SecondBidThresholdPct: cfg.Negotiation.SecondBidThresholdPct,
			RoundingUnit:          cfg.Negotiation.RoundingUnit,
		},
		Logger: logger,
	})
	return orch, func() { st.Close() }, nil
}

func main() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config file (YAML)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	processCmd.Flags().StringVarP(&requestPath, "request", "r", "", "path to the inbound request JSON file")
	processCmd.MarkFlagRequired("request")

	rootCmd.AddCommand(processCmd)
	rootCmd.AddCommand(versionCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
