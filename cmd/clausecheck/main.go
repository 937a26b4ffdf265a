// clausecheck verifies construction subcontract provisions: ingest a
// chunked contract, screen it against the provision catalog, and run
// LLM tool-agent verification over the candidates.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"clausecheck/internal/analysis"
	"clausecheck/internal/catalog"
	"clausecheck/internal/config"
	"clausecheck/internal/embedding"
	"clausecheck/internal/llm"
	"clausecheck/internal/logging"
	"clausecheck/internal/store"
)

var (
	// Global flags
	configPath string
	debugMode  bool
	verbose    bool

	// Logger
	logger *zap.Logger
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "clausecheck",
	Short: "clausecheck - contract provision verification pipeline",
	Long: `clausecheck analyzes construction subcontracts against a provision
catalog. A cheap pre-screening pass (vector retrieval plus exact keyword
sweep) bounds what an LLM tool agent then verifies batch by batch, and
reconciliation guarantees exactly one finding per provision.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		zapCfg := zap.NewProductionConfig()
		if verbose {
			zapCfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = zapCfg.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

// stack bundles the wired pipeline components a command works with.
type stack struct {
	cfg      *config.Config
	store    *store.Store
	embedder embedding.Engine
	catalogs *catalog.Manager
	service  *analysis.Service
}

// buildStack wires the full pipeline from configuration.
func buildStack() (*stack, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if debugMode {
		cfg.Logging.DebugMode = true
	}
	if err := logging.Initialize(cfg.Logging.Dir, logging.Options{
		DebugMode:  cfg.Logging.DebugMode,
		Level:      cfg.Logging.Level,
		Categories: cfg.Logging.Categories,
	}); err != nil {
		return nil, err
	}

	embedder, err := embedding.NewEngine(cfg.Embedding)
	if err != nil {
		return nil, err
	}
	st, err := store.New(cfg.Storage.DatabasePath, embedder.Dimensions())
	if err != nil {
		return nil, err
	}
	catalogs, err := catalog.NewManager(cfg.Catalog.Path)
	if err != nil {
		st.Close()
		return nil, err
	}
	client, err := llm.NewClient(cfg.LLM)
	if err != nil {
		st.Close()
		return nil, err
	}

	svc := analysis.New(cfg, catalogs, embedder, st, st, st, st, client)
	return &stack{
		cfg:      cfg,
		store:    st,
		embedder: embedder,
		catalogs: catalogs,
		service:  svc,
	}, nil
}

func main() {
	// Best effort; a missing .env is the normal case in production.
	_ = godotenv.Load()

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "clausecheck.yaml", "config file path")
	rootCmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "enable categorized debug logs")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose CLI logging")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(analyzeCmd)
	rootCmd.AddCommand(ingestCmd)
	rootCmd.AddCommand(catalogCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
