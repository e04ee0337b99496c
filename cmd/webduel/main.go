package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-rod/rod/lib/launcher"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/v0xg/webduel/internal/agent"
	"github.com/v0xg/webduel/internal/baseline"
	"github.com/v0xg/webduel/internal/browser"
	"github.com/v0xg/webduel/internal/config"
	"github.com/v0xg/webduel/internal/duel"
	"github.com/v0xg/webduel/internal/logging"
	"github.com/v0xg/webduel/internal/metrics"
	"github.com/v0xg/webduel/internal/policy"
	"github.com/v0xg/webduel/internal/vision"
)

var (
	cfgFile       string
	provider      string
	model         string
	maxSteps      int
	headless      bool
	selectorsJSON string
	csvOut        string
	verbose       bool
)

func main() {
	// Load .env file if present (silently ignore if not found)
	_ = godotenv.Load()

	rootCmd := &cobra.Command{
		Use:   "webduel",
		Short: "Benchmark a vision-driven web agent against a selector-based crawler",
		Long: `webduel points a VLM-driven navigation agent at a goal like
"find the cheapest laptop", lets it look at the page and act until done, and
can pit it against a conventional CSS-selector crawler on the same goal to
declare a winner on success, speed, and token cost.`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Config file (default: ./webduel.yaml if present)")
	rootCmd.PersistentFlags().StringVar(&provider, "provider", "", "Model provider: claude, openai (default: from config or claude)")
	rootCmd.PersistentFlags().StringVar(&model, "model", "", "Specific model override")
	rootCmd.PersistentFlags().IntVar(&maxSteps, "max-steps", 0, "Navigation step budget")
	rootCmd.PersistentFlags().BoolVar(&headless, "headless", true, "Run the browser headless")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Debug logging")

	rootCmd.AddCommand(navigateCmd(), duelCmd(), resilienceCmd(), validateCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// setup loads config, applies flag overrides, and builds the logger.
func setup(cmd *cobra.Command) (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, nil, err
	}
	if cmd.Flags().Changed("provider") {
		cfg.Provider = provider
	}
	if cmd.Flags().Changed("model") {
		cfg.Model = model
	}
	if cmd.Flags().Changed("max-steps") {
		cfg.MaxSteps = maxSteps
	}
	if cmd.Flags().Changed("headless") {
		cfg.Headless = headless
	}
	if verbose {
		cfg.LogLevel = "debug"
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}

	logger, err := logging.New(cfg.LogLevel, cfg.LogFile)
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}

func runContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func agentConfig(cfg *config.Config) agent.Config {
	return agent.Config{
		MaxSteps:          cfg.MaxSteps,
		EmptyLimit:        cfg.EmptyLimit,
		LoopWindow:        cfg.LoopWindow,
		PerceptionTimeout: cfg.PerceptionTimeout,
		DecisionTimeout:   cfg.DecisionTimeout,
		ExecutionTimeout:  cfg.ExecutionTimeout,
		DebugDir:          cfg.DebugDir,
	}
}

func browserOptions(cfg *config.Config) browser.Options {
	return browser.Options{
		Width:             cfg.ViewportWidth,
		Height:            cfg.ViewportHeight,
		Headless:          cfg.Headless,
		NavigationTimeout: cfg.NavigationTimeout,
	}
}

func buildOrchestrator(cfg *config.Config, logger *zap.Logger) (*duel.Orchestrator, *metrics.Tracker, error) {
	prov, err := vision.NewProvider(cfg.Provider, cfg.Model, logger)
	if err != nil {
		return nil, nil, err
	}
	tracker := metrics.NewTracker()
	orch := duel.NewOrchestrator(
		duel.NewAgentRunner(prov, agentConfig(cfg), browserOptions(cfg), cfg.ConfidenceEpsilon, logger),
		duel.NewDOMRunner(baseline.Options{
			Headless: cfg.Headless,
			MaxPages: cfg.BaselineMaxPages,
			Timeout:  cfg.NavigationTimeout,
		}, logger),
		tracker,
		duel.Config{CostWeight: cfg.CostWeight, ScoreEpsilon: cfg.ScoreEpsilon},
		logger,
	)
	return orch, tracker, nil
}

func navigateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "navigate <url> <goal>",
		Short: "Run the vision agent against a goal",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup(cmd)
			if err != nil {
				return err
			}
			defer logger.Sync()

			prov, err := vision.NewProvider(cfg.Provider, cfg.Model, logger)
			if err != nil {
				return err
			}
			b, err := browser.New(browserOptions(cfg), logger)
			if err != nil {
				return err
			}
			defer b.Close()

			ctx, cancel := runContext()
			defer cancel()

			pol := policy.NewLLM(prov, cfg.ConfidenceEpsilon, logger)
			loop := agent.NewLoop(args[1], prov, pol, b, agentConfig(cfg), logger)

			fmt.Printf("→ Navigating %s\n", args[0])
			rep := loop.Run(ctx, args[0])

			fmt.Printf("\nStatus:   %s\n", rep.Status)
			fmt.Printf("Steps:    %d/%d\n", rep.Steps, cfg.MaxSteps)
			fmt.Printf("Pages:    %d\n", rep.PagesVisited)
			fmt.Printf("Tokens:   %d (%d API calls)\n", rep.TotalTokens, rep.APICalls)
			fmt.Printf("Duration: %.2fs\n", rep.Duration.Seconds())
			if rep.FinalURL != "" {
				fmt.Printf("Final:    %s\n", rep.FinalURL)
			}
			for _, e := range rep.Errors() {
				fmt.Printf("  error: %s\n", e)
			}
			return nil
		},
	}
	return cmd
}

func duelCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "duel <url> <goal>",
		Short: "Run the vision agent and the selector crawler head to head",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup(cmd)
			if err != nil {
				return err
			}
			defer logger.Sync()

			selectors, err := parseSelectors(selectorsJSON)
			if err != nil {
				return err
			}
			orch, tracker, err := buildOrchestrator(cfg, logger)
			if err != nil {
				return err
			}

			ctx, cancel := runContext()
			defer cancel()

			fmt.Printf("→ Duel at %s\n  goal: %s\n", args[0], args[1])
			verdict, err := orch.Run(ctx, args[0], args[1], selectors)
			if err != nil {
				return err
			}
			printVerdict(verdict)
			return writeCSV(tracker)
		},
	}
	cmd.Flags().StringVar(&selectorsJSON, "selectors", "", "JSON object of field -> CSS selector for the DOM crawler")
	cmd.Flags().StringVar(&csvOut, "csv", "", "Write the metrics table to this CSV file")
	return cmd
}

func resilienceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "resilience <url> <goal>",
		Short: "Rerun both crawlers against DOM-perturbed variants of the target",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup(cmd)
			if err != nil {
				return err
			}
			defer logger.Sync()

			selectors, err := parseSelectors(selectorsJSON)
			if err != nil {
				return err
			}
			orch, tracker, err := buildOrchestrator(cfg, logger)
			if err != nil {
				return err
			}

			ctx, cancel := runContext()
			defer cancel()

			rep, err := orch.RunResilience(ctx, args[0], args[1], selectors, nil)
			if err != nil {
				return err
			}
			fmt.Printf("\nResilience over %d perturbations:\n", rep.Perturbations)
			fmt.Printf("  vision:   %.2f\n", rep.VLMScore)
			fmt.Printf("  selector: %.2f\n", rep.DOMScore)
			return writeCSV(tracker)
		},
	}
	cmd.Flags().StringVar(&selectorsJSON, "selectors", "", "JSON object of field -> CSS selector for the DOM crawler")
	cmd.Flags().StringVar(&csvOut, "csv", "", "Write the metrics table to this CSV file")
	return cmd
}

func validateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check API keys and browser availability",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			check := func(name string, ok bool) {
				state := "missing"
				if ok {
					state = "ok"
				}
				fmt.Printf("  %-12s %s\n", name, state)
			}
			fmt.Println("API keys:")
			check("anthropic", os.Getenv("WEBDUEL_ANTHROPIC_KEY") != "" || os.Getenv("ANTHROPIC_API_KEY") != "")
			check("openai", os.Getenv("WEBDUEL_OPENAI_KEY") != "" || os.Getenv("OPENAI_API_KEY") != "")

			fmt.Println("Browser:")
			path, has := launcher.LookPath()
			if has {
				fmt.Printf("  chromium     %s\n", path)
			} else {
				fmt.Println("  chromium     not found (rod will download one on first run)")
			}
			return nil
		},
	}
}

func parseSelectors(raw string) (map[string]string, error) {
	if raw == "" {
		return nil, nil
	}
	var selectors map[string]string
	if err := json.Unmarshal([]byte(raw), &selectors); err != nil {
		return nil, fmt.Errorf("parse --selectors: %w", err)
	}
	return selectors, nil
}

func printVerdict(v *duel.Verdict) {
	fmt.Println("\nDUEL RESULTS")
	fmt.Printf("  vision:   success=%v duration=%.2fs tokens=%d score=%.2f\n",
		v.VLM.Success, v.VLM.Duration.Seconds(), v.VLM.TotalTokens, v.VLMScore)
	fmt.Printf("  selector: success=%v duration=%.2fs tokens=%d score=%.2f\n",
		v.DOM.Success, v.DOM.Duration.Seconds(), v.DOM.TotalTokens, v.DOMScore)
	fmt.Printf("\nWinner: %s\n", v.Winner)
	for _, e := range v.VLM.Errors {
		fmt.Printf("  vision error: %s\n", e)
	}
	for _, e := range v.DOM.Errors {
		fmt.Printf("  selector error: %s\n", e)
	}
}

func writeCSV(tracker *metrics.Tracker) error {
	if csvOut == "" {
		return nil
	}
	f, err := os.Create(csvOut)
	if err != nil {
		return fmt.Errorf("create %s: %w", csvOut, err)
	}
	defer f.Close()
	if err := tracker.WriteCSV(f); err != nil {
		return err
	}
	fmt.Printf("→ Metrics written to %s\n", csvOut)
	return nil
}
