// Command porch runs stepped computations described by model files: Go
// functions wired together through a shared pool of named values.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"porchlight/internal/config"
	"porchlight/internal/logging"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

var (
	// Global flags
	verbose    bool
	configPath string

	// Loaded in PersistentPreRunE
	cfg    *config.Config
	logger *zap.Logger
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "porch",
	Short: "porchlight - step functions over a shared value pool",
	Long: `porch loads a model file naming Go functions and the values they share,
then calls the functions step by step. Each function's parameter names pick
its inputs from the pool and the names in its return statements say which
pool values its results replace.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return err
		}

		if verbose {
			zc := zap.NewDevelopmentConfig()
			zc.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
			logger, err = zc.Build()
			if err != nil {
				return fmt.Errorf("failed to initialize logger: %w", err)
			}
			logging.SetBase(logger)
		} else {
			if err := logging.Initialize(cfg.Logging.Options()); err != nil {
				return err
			}
			logger = logging.Get(logging.CategoryCLI).Zap()
		}
		if logging.IsDebugMode() {
			logging.Boot("porch %s: %s (config %s)", version, cmd.Name(), configPath)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logging.Sync()
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the porch version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "porch %s\n", version)
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "porchlight.yaml", "Config file")

	runCmd.Flags().IntVarP(&runSteps, "steps", "n", 0, "Steps to run (default: model steps, then config default_steps)")
	runCmd.Flags().StringVar(&recordPath, "record", "", "Record every step to this SQLite database")
	runCmd.Flags().BoolVar(&watchModel, "watch", false, "Re-run when the model or its source changes")

	inspectCmd.Flags().BoolVar(&showInstrumented, "instrumented", false, "Also print the instrumented source")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(inspectCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(versionCmd)
}

// commandContext returns the command's context, or Background when the
// command was not started through Execute.
func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}
