package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"socflow/internal/config"
	"socflow/internal/embedding"
	"socflow/internal/enrich"
	"socflow/internal/llm"
	"socflow/internal/logging"
	"socflow/internal/memory"
	"socflow/internal/mitre"
	"socflow/internal/pipeline"
	"socflow/internal/store"
)

var (
	// Global flags
	configPath string
	workspace  string
	verbose    bool

	cfg *config.Config
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "socflow",
	Short: "socflow - security alert investigation pipeline",
	Long: `socflow investigates security alerts through a staged pipeline:
memory correlation, enrichment, MITRE ATT&CK analysis, conditional
deep-dive investigation, response planning, reporting, and persistence
with campaign detection.

Point it at an alert file to investigate one alert, or at a directory
to watch for incoming alerts.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if workspace == "" {
			workspace, _ = os.Getwd()
		}
		if err := logging.Initialize(workspace); err != nil {
			return fmt.Errorf("failed to initialize logging: %w", err)
		}

		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return err
		}
		if err := cfg.Validate(); err != nil {
			return err
		}
		logging.Boot("socflow %s starting (config=%s)", cfg.Version, configPath)
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logging.CloseAll()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "socflow.yaml", "config file path")
	rootCmd.PersistentFlags().StringVar(&workspace, "workspace", "", "workspace directory (defaults to cwd)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	rootCmd.AddCommand(investigateCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(memoryCmd)
	rootCmd.AddCommand(statsCmd)
}

// openStore opens the incident store and attaches the configured embedding
// engine. The engine is optional: without one, search degrades to keywords.
func openStore() (*store.IncidentStore, error) {
	s, err := store.Open(cfg.Store.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open incident store: %w", err)
	}

	engine, err := embedding.NewEngine(cfg.Embedding)
	if err != nil {
		logging.BootDebug("embedding engine unavailable: %v", err)
	} else {
		s.SetEmbeddingEngine(engine)
	}

	if err := s.SeedPlaybooks(cmdContext()); err != nil {
		logging.BootDebug("playbook seeding failed: %v", err)
	}
	return s, nil
}

// buildRunner assembles the pipeline from config. A missing API key degrades
// the LLM-backed paths to their deterministic fallbacks.
func buildRunner(s *store.IncidentStore) *pipeline.Runner {
	var client llm.Client
	if cfg.LLM.APIKey != "" {
		client = llm.NewGeminiClientWithConfig(llm.GeminiConfig{
			APIKey:  cfg.LLM.APIKey,
			Model:   cfg.LLM.Model,
			BaseURL: cfg.LLM.BaseURL,
			Timeout: cfg.GetLLMTimeout(),
		})
	} else {
		logging.Boot("no LLM API key configured, running with deterministic fallbacks")
	}

	var classifier *mitre.Classifier
	if engine, err := embedding.NewEngine(cfg.Embedding); err == nil {
		classifier = mitre.NewClassifier(engine)
	} else {
		classifier = mitre.NewClassifier(nil)
	}

	return pipeline.New(pipeline.Config{
		LLM:                    client,
		Enricher:               enrich.NewEnricher(cfg.Enrichment),
		Classifier:             classifier,
		Correlator:             memory.NewCorrelator(s, client),
		Store:                  s,
		InvestigationThreshold: cfg.Pipeline.InvestigationThreshold,
		CampaignWindow:         cfg.GetCampaignWindow(),
	})
}

var (
	ctxOnce sync.Once
	rootCtx context.Context
)

// cmdContext returns the process context, cancelled on SIGINT/SIGTERM.
func cmdContext() context.Context {
	ctxOnce.Do(func() {
		rootCtx, _ = signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	})
	return rootCtx
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
