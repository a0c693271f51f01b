package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/tonimelisma/nxsync/internal/config"
	"github.com/tonimelisma/nxsync/internal/store"
)

// errNoRemoteClientFactory is returned by commands that need a RemoteClient
// when none has been wired into this build (spec.md §1: remote
// authentication and transport are out of scope for this module; a
// deployment links in a concrete remoteclient.Client constructor).
var errNoRemoteClientFactory = errors.New("no RemoteClient implementation is registered in this build")

// Global persistent flags, bound in newRootCmd.
var (
	flagConfigPath string
	flagDataDir    string
	flagJSON       bool
	flagVerbose    bool
	flagQuiet      bool
)

// cliContextKey is the context key for *CLIContext.
type cliContextKey struct{}

// CLIContext bundles the resolved config, logger, and open store that
// every subcommand's RunE needs. Built once in PersistentPreRunE.
type CLIContext struct {
	Cfg     *config.Config
	Logger  *slog.Logger
	Store   store.Store
	DataDir string
}

func cliContextFrom(ctx context.Context) *CLIContext {
	cc, _ := ctx.Value(cliContextKey{}).(*CLIContext)
	return cc
}

func mustCLIContext(ctx context.Context) *CLIContext {
	cc := cliContextFrom(ctx)
	if cc == nil {
		panic("BUG: CLIContext not found in context — PersistentPreRunE must run before RunE")
	}

	return cc
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "nxsync",
		Short:         "Bidirectional file sync daemon and CLI",
		Long:          "nxsync keeps a local folder tree synchronized with a remote document server.",
		Version:       version,
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return setupCLIContext(cmd)
		},
	}

	cmd.PersistentFlags().StringVar(&flagConfigPath, "config", "", "config file path")
	cmd.PersistentFlags().StringVar(&flagDataDir, "data-dir", "", "data directory (state database, PID file)")
	cmd.PersistentFlags().BoolVar(&flagJSON, "json", false, "output in JSON format")
	cmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "enable debug logging")
	cmd.PersistentFlags().BoolVarP(&flagQuiet, "quiet", "q", false, "suppress informational output")
	cmd.MarkFlagsMutuallyExclusive("verbose", "quiet")

	cmd.AddCommand(newSyncCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newBindCmd())
	cmd.AddCommand(newConflictsCmd())

	return cmd
}

func setupCLIContext(cmd *cobra.Command) error {
	logger := buildLogger()

	configPath := flagConfigPath
	if configPath == "" {
		configPath = config.DefaultConfigPath()
	}

	cfg, err := config.LoadOrDefault(configPath, logger)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	dataDir := flagDataDir
	if dataDir == "" {
		dataDir = config.DefaultDataDir()
	}

	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return fmt.Errorf("creating data directory %s: %w", dataDir, err)
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	st, err := store.NewStore(ctx, filepath.Join(dataDir, "pairs.db"), logger)
	if err != nil {
		return fmt.Errorf("opening pair-state store: %w", err)
	}

	cc := &CLIContext{Cfg: cfg, Logger: logger, Store: st, DataDir: dataDir}
	cmd.SetContext(context.WithValue(ctx, cliContextKey{}, cc))

	return nil
}

func buildLogger() *slog.Logger {
	level := slog.LevelInfo

	if flagVerbose {
		level = slog.LevelDebug
	}

	if flagQuiet {
		level = slog.LevelError
	}

	useColor := isatty.IsTerminal(os.Stderr.Fd())

	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level, AddSource: useColor && level == slog.LevelDebug}))
}
