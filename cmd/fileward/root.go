package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/mvasile/fileward/internal/archive"
	"github.com/mvasile/fileward/internal/classify"
	"github.com/mvasile/fileward/internal/config"
	"github.com/mvasile/fileward/internal/events"
	"github.com/mvasile/fileward/internal/executor"
	"github.com/mvasile/fileward/internal/guardian"
	"github.com/mvasile/fileward/internal/history"
	"github.com/mvasile/fileward/internal/oplog"
	"github.com/mvasile/fileward/internal/safety"
)

var rootCmd = &cobra.Command{
	Use:   "fileward",
	Short: "Safety-gated file organizer",
	Long: `Fileward organizes, deduplicates and renames files behind a
multi-layer safety gate. Nothing is moved or deleted unless the
protection ruleset and the operation guardian both allow it, and every
mutation is appended to an operation log that supports undo.

All destructive commands simulate by default. Pass --execute to apply.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return initApp()
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		closeApp()
	},
}

var (
	cfgFile    string
	verbose    bool
	jsonOutput bool
	execute    bool

	cfg        *config.Config
	logger     *events.Logger
	judge      *safety.Classifier
	guard      guardian.Guardian
	opLog      *oplog.Log
	auditStore history.Store
	exec       *executor.Executor
)

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "",
		"Config file (default searches ~/.fileward)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false,
		"Enable debug logging")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false,
		"Output results as JSON")
	rootCmd.PersistentFlags().BoolVar(&execute, "execute", false,
		"Apply changes instead of simulating")
}

func initApp() error {
	loader := config.NewLoader(cfgFile)
	loaded, err := loader.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	cfg = loaded

	if verbose {
		cfg.Log.Level = "debug"
	}
	logger, err = events.NewLogger(&cfg.Log)
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}

	if used := loader.ConfigFileUsed(); used != "" {
		logger.WithField("path", used).Debug("config loaded")
	}

	// --execute flips the simulate-by-default behavior for this run only.
	if execute {
		cfg.Organize.DryRun = false
	} else {
		cfg.Organize.DryRun = true
	}

	judge = safety.NewClassifier(cfg.Rules, logger)
	guard = guardian.NewRuleGuardian(cfg, logger)

	opLog, err = oplog.Open(cfg.Oplog.Path, logger)
	if err != nil {
		return fmt.Errorf("open operation log: %w", err)
	}

	if cfg.History.Path != "" {
		auditStore, err = history.NewSQLiteStore(cfg.History.Path, logger)
		if err != nil {
			// History is reporting, not safety. Run without it.
			logger.WithError(err).Warn("history store unavailable")
			auditStore = nil
		}
	}

	exec = executor.New(cfg, judge, guard, opLog, auditStore, logger)
	return nil
}

func closeApp() {
	if auditStore != nil {
		_ = auditStore.Close()
	}
}

// newArchiveStore builds the configured pre-deletion archive backend.
// Returns nil when archiving is disabled.
func newArchiveStore() (archive.Store, error) {
	return archive.New(&cfg.Archive, logger)
}

// newContentClassifier builds the Ollama-backed classifier.
func newContentClassifier() *classify.OllamaClassifier {
	return classify.NewOllamaClassifier(&cfg.Classifier, logger)
}

func reportSimulated(applied bool) {
	if !applied {
		fmt.Println()
		printInfo("Simulation only. Re-run with --execute to apply.")
	}
	_ = os.Stdout.Sync()
}
