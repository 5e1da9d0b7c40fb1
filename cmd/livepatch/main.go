package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"livepatch/internal/config"
	"livepatch/internal/logging"
)

var (
	// Global flags
	verbose     bool
	configPath  string
	projectPath string

	// Logger
	logger *zap.Logger

	// restoreLogging undoes the --verbose console redirect.
	restoreLogging func()
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "livepatch",
	Short: "livepatch - turn visual page edits into source patches",
	Long: `livepatch previews CSS, text and image edits on a live page and writes
the matching change back to the component source once approved.

Patches come from deterministic string matchers first, then a local
fast-apply model, then a cloud model. Every write is undoable.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		zcfg := zap.NewProductionConfig()
		if verbose {
			zcfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = zcfg.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		if verbose {
			restoreLogging = logging.Redirect(logger.Core())
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if restoreLogging != nil {
			restoreLogging()
			restoreLogging = nil
		}
		logging.CloseAll()
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file (default: <project>/.livepatch/config.yaml)")
	rootCmd.PersistentFlags().StringVarP(&projectPath, "project", "p", "", "Project root (default: current directory)")

	patchCmd.Flags().BoolVar(&applyPatch, "apply", false, "Write the patch to disk")
	checkpointCmd.Flags().BoolVar(&restoreCheckpoint, "restore", false, "Restore the named checkpoint instead of creating it")
	serveCmd.Flags().StringVar(&serveURL, "url", "", "Open this page in a new tab on start")
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Listen address (overrides server.addr)")

	rootCmd.AddCommand(
		resolveCmd,
		patchCmd,
		undoCmd,
		redoCmd,
		checkpointCmd,
		editedCmd,
		serveCmd,
	)
}

// resolveProject returns the absolute project root from the flag, the
// config file or the working directory, in that order.
func resolveProject(cfg *config.Config) (string, error) {
	p := projectPath
	if p == "" && cfg != nil {
		p = cfg.Project.Path
	}
	if p == "" {
		wd, err := os.Getwd()
		if err != nil {
			return "", fmt.Errorf("failed to get working directory: %w", err)
		}
		p = wd
	}
	return filepath.Abs(p)
}

// loadConfig reads the config file and initializes categorized logging.
func loadConfig() (*config.Config, string, error) {
	root, err := resolveProject(nil)
	if err != nil {
		return nil, "", err
	}
	path := configPath
	if path == "" {
		path = config.Path(root)
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}
	if err := cfg.Validate(); err != nil {
		return nil, "", fmt.Errorf("invalid config: %w", err)
	}
	if projectPath == "" && cfg.Project.Path != "" {
		if root, err = resolveProject(cfg); err != nil {
			return nil, "", err
		}
	}
	if err := logging.Initialize(filepath.Join(root, config.DirName, "logs"), cfg.LoggingOptions()); err != nil {
		logger.Warn("Categorized logging disabled", zap.Error(err))
	}
	return cfg, root, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
