// Command deepscout runs autonomous web research from the terminal: it
// decomposes an objective into sub-questions, researches them in parallel
// against a search provider, and prints the synthesized answer.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"deepscout/internal/config"
	"deepscout/internal/llm"
	"deepscout/internal/logging"
	"deepscout/internal/research"
	"deepscout/internal/websearch"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var version = "dev"

type runFlags struct {
	configPath string
	criteria   []string
	maxNodes   int
	maxDepth   int
	maxTime    time.Duration
	concurrent int
	provider   string
	model      string
	linear     bool
	jsonOut    bool
	debug      bool
	quiet      bool
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		if !errors.Is(err, research.ErrStopped) {
			fmt.Fprintln(os.Stderr, "error:", err)
		}
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "deepscout",
		Short:         "Autonomous web research agent",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newRunCmd(), newVersionCmd())
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the deepscout version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "deepscout", version)
		},
	}
}

func newRunCmd() *cobra.Command {
	var flags runFlags
	cmd := &cobra.Command{
		Use:   "run \"<objective>\"",
		Short: "Research an objective and print the synthesized answer",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runResearch(cmd, args[0], flags)
		},
	}

	cmd.Flags().StringVarP(&flags.configPath, "config", "c", "", "path to YAML config file")
	cmd.Flags().StringSliceVar(&flags.criteria, "criteria", nil, "success criterion (repeatable)")
	cmd.Flags().IntVar(&flags.maxNodes, "max-nodes", 0, "cap on research nodes (0 = config default)")
	cmd.Flags().IntVar(&flags.maxDepth, "max-depth", 0, "cap on tree depth (0 = config default)")
	cmd.Flags().DurationVar(&flags.maxTime, "max-time", 0, "wall-clock cap (0 = config default)")
	cmd.Flags().IntVar(&flags.concurrent, "concurrency", 0, "parallel node limit (0 = config default)")
	cmd.Flags().StringVar(&flags.provider, "provider", "", "search provider: tavily or duckduckgo")
	cmd.Flags().StringVar(&flags.model, "model", "", "generation model id")
	cmd.Flags().BoolVar(&flags.linear, "linear", false, "single-document mode instead of a question tree")
	cmd.Flags().BoolVar(&flags.jsonOut, "json", false, "emit progress events as JSON lines")
	cmd.Flags().BoolVar(&flags.debug, "debug", false, "verbose logging")
	cmd.Flags().BoolVarP(&flags.quiet, "quiet", "q", false, "suppress progress, print only the answer")
	return cmd
}

func runResearch(cmd *cobra.Command, objective string, flags runFlags) error {
	// A .env in the working directory is a convenience, not a requirement.
	_ = godotenv.Load()

	cfg, err := loadConfig(flags)
	if err != nil {
		return err
	}
	if err := logging.Init(cfg.Debug); err != nil {
		return err
	}
	defer logging.Sync()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	gen, err := buildGenerator(ctx, cfg.LLM)
	if err != nil {
		return err
	}
	search := buildSearch(cfg.Search, gen)
	orch := research.New(gen, search)

	render := newRenderer(cmd.OutOrStdout(), cmd.ErrOrStderr(), flags.jsonOut, flags.quiet)

	if flags.linear {
		res, err := orch.RunLinear(ctx, research.LinearRequest{
			Objective:       objective,
			SuccessCriteria: flags.criteria,
			MaxTime:         cfg.Budgets.MaxTime,
			OnProgress:      render.onEvent,
		})
		if res != nil {
			render.linearResult(res)
		}
		return err
	}

	state, err := orch.Run(ctx, research.Request{
		Objective:       objective,
		SuccessCriteria: flags.criteria,
		Budgets:         cfg.Budgets,
		OnProgress:      render.onEvent,
	})
	if state != nil {
		render.treeResult(state)
	}
	return err
}

func loadConfig(flags runFlags) (config.Config, error) {
	cfg, err := config.Load(flags.configPath)
	if err != nil {
		return cfg, err
	}
	if flags.maxNodes > 0 {
		cfg.Budgets.MaxNodes = flags.maxNodes
	}
	if flags.maxDepth > 0 {
		cfg.Budgets.MaxDepth = flags.maxDepth
	}
	if flags.maxTime > 0 {
		cfg.Budgets.MaxTime = flags.maxTime
	}
	if flags.concurrent > 0 {
		cfg.Budgets.Concurrency = flags.concurrent
	}
	if flags.provider != "" {
		cfg.Search.Provider = flags.provider
	}
	if flags.model != "" {
		cfg.LLM.Model = flags.model
	}
	if flags.debug {
		cfg.Debug = true
	}
	if cfg.Search.Provider == "tavily" && cfg.Search.TavilyAPIKey == "" {
		return cfg, errors.New("search provider tavily requires TAVILY_API_KEY")
	}
	return cfg, nil
}

func buildGenerator(ctx context.Context, cfg config.LLMConfig) (llm.Client, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("GEMINI_API_KEY is required")
	}
	client, err := llm.NewGemini(ctx, cfg.APIKey, cfg.Model)
	if err != nil {
		return nil, fmt.Errorf("init model client: %w", err)
	}
	return llm.WithRetry(client, llm.RetryConfig{
		MaxRetries:     cfg.MaxRetries,
		InitialBackoff: cfg.BackoffBase,
		MaxBackoff:     cfg.BackoffMax,
	}), nil
}

func buildSearch(cfg config.SearchConfig, gen llm.Client) *websearch.Executor {
	var provider websearch.Provider
	if cfg.Provider == "tavily" {
		provider = websearch.NewTavily(cfg.TavilyAPIKey, cfg.Depth, cfg.Timeout)
	} else {
		provider = websearch.NewDuckDuckGo(cfg.Timeout, cfg.MaxSources)
	}
	fetcher := websearch.NewHTTPFetcher(cfg.Timeout)
	return websearch.NewExecutor(provider, fetcher, gen, cfg)
}
