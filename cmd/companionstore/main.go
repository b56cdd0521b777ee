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

	"github.com/jeanpaul/companionstore/internal/config"
	"github.com/jeanpaul/companionstore/internal/tui"
)

// app holds the global flags and what PersistentPreRunE derives from them.
type app struct {
	configPath string
	dir        string
	verbose    bool

	cfg    *config.Config
	logger *zap.Logger
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		stop()
		fatal("%s", err)
	}
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:   "companionstore",
		Short: "Inspect and maintain an embedded cache and vector store",
		Long: tui.BannerStyle.Render(tui.Banner) + `
companionstore operates on the storage directory of the embedded dual-store:
a Redis-style cache of strings, lists and hashes with TTLs, and a vector index
of document collections ranked by cosine similarity.

Every command loads the directory, runs, and persists changes before exiting.`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: a.setup,
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if a.logger != nil {
				_ = a.logger.Sync()
			}
		},
	}

	root.PersistentFlags().StringVarP(&a.configPath, "config", "c", "", "Config file (default: ./companionstore.yaml, then "+config.Path()+")")
	root.PersistentFlags().StringVarP(&a.dir, "dir", "d", "", "Storage directory (overrides storage_directory)")
	root.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "Enable debug logging")

	root.AddCommand(
		a.initCmd(),
		a.doctorCmd(),
		a.infoCmd(),
		a.keysCmd(),
		a.getCmd(),
		a.setCmd(),
		a.delCmd(),
		a.sweepCmd(),
		a.flushAllCmd(),
		a.collectionsCmd(),
		a.collectionCmd(),
		a.docsCmd(),
		a.queryCmd(),
		a.dropCmd(),
	)
	return root
}

// setup loads the configuration and builds the logger. init runs before a
// config file exists, so it only gets the logger.
func (a *app) setup(cmd *cobra.Command, args []string) error {
	level := "info"
	if cmd.Name() != "init" {
		cfg, err := config.Load(a.configPath)
		if err != nil {
			return err
		}
		if a.dir != "" {
			cfg.StorageDirectory = a.dir
		}
		a.cfg = cfg
		level = cfg.LogLevel
	}

	zcfg := zap.NewProductionConfig()
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("failed to parse log level: %w", err)
	}
	zcfg.Level = zap.NewAtomicLevelAt(lvl)
	if a.verbose {
		zcfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}
	logger, err := zcfg.Build()
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	a.logger = logger
	return nil
}

func fatal(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(os.Stderr, tui.ErrorStyle.Render("error: "+msg))
	os.Exit(1)
}
