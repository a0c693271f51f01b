package main

import (
	"net/http"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/nxsync/internal/config"
	"github.com/tonimelisma/nxsync/internal/controller"
	"github.com/tonimelisma/nxsync/internal/notify"
	"github.com/tonimelisma/nxsync/internal/scheduler"
)

// remoteClientFactory and localClientFactory are nil in this build:
// authentication and transport to a concrete remote document server, and the
// local filesystem implementation, are both out of scope for this module
// (spec.md §1, §6). A deployment links in real implementations by setting
// these package vars before calling newRootCmd, e.g. from a build-specific
// init() in a separate file compiled only into that deployment's binary.
var (
	remoteClientFactory controller.RemoteClientFactory
	localClientFactory  scheduler.LocalClientFactory
)

func newSyncCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Run the sync daemon",
		Long: `Start the scheduler loop: acquire the singleton PID lock, then repeatedly
refresh every binding's local and remote state and resolve whatever pairs
are not yet synchronized, until interrupted.`,
		RunE: runSync,
	}

	cmd.Flags().Duration("interval", scheduler.DefaultLoopInterval, "time between passes when nothing is pending")
	cmd.Flags().Bool("websocket", false, "serve a frontend notification websocket")
	cmd.Flags().String("websocket-addr", "127.0.0.1:7860", "address for --websocket")

	return cmd
}

func runSync(cmd *cobra.Command, _ []string) error {
	if remoteClientFactory == nil || localClientFactory == nil {
		return errNoRemoteClientFactory
	}

	cc := mustCLIContext(cmd.Context())

	interval, err := cmd.Flags().GetDuration("interval")
	if err != nil {
		return err
	}

	useWebsocket, err := cmd.Flags().GetBool("websocket")
	if err != nil {
		return err
	}

	var notifier notify.Notifier = notify.Noop{}

	if useWebsocket || cc.Cfg.Sync.Websocket {
		addr, err := cmd.Flags().GetString("websocket-addr")
		if err != nil {
			return err
		}

		hub := notify.NewHub(cc.Logger)
		notifier = hub

		server := &http.Server{Addr: addr, Handler: hub}

		go func() {
			cc.Logger.Info("sync: serving frontend websocket", "addr", addr)

			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				cc.Logger.Error("sync: websocket server failed", "error", err)
			}
		}()
	}

	ctrl := controller.NewStoreController(cc.Store, remoteClientFactory, cc.Logger)

	pidPath := filepath.Join(cc.DataDir, "nxsync.pid")
	stopPath := filepath.Join(cc.DataDir, "nxsync.stop")

	sched := scheduler.New(cc.Store, ctrl, localClientFactory, notifier, pidPath, stopPath, cc.Logger,
		scheduler.WithLoopInterval(interval),
		scheduler.WithErrorSkipPeriod(resolveErrorSkipPeriod(cc.Cfg)),
		scheduler.WithMaxSyncStep(resolveMaxSyncStep(cc.Cfg)),
		scheduler.WithLimitPending(resolveLimitPending(cc.Cfg)),
	)

	ctx := shutdownContext(cmd.Context(), cc.Logger)

	statusf("nxsync daemon starting (pid file %s)", pidPath)

	return sched.Run(ctx)
}

// resolveErrorSkipPeriod parses the configured duration string, falling back
// to the scheduler default on any parse failure (config.Validate already
// rejects malformed values before this point in normal operation).
func resolveErrorSkipPeriod(cfg *config.Config) time.Duration {
	_, sync, _ := cfg.ResolveProfile("")

	d, err := time.ParseDuration(sync.ErrorSkipPeriod)
	if err != nil {
		return scheduler.DefaultErrorSkipPeriod
	}

	return d
}

// resolveMaxSyncStep returns the configured max_sync_step, falling back to
// the scheduler default when non-positive (config.Validate already rejects
// that in normal operation).
func resolveMaxSyncStep(cfg *config.Config) int {
	_, sync, _ := cfg.ResolveProfile("")

	if sync.MaxSyncStep <= 0 {
		return scheduler.DefaultMaxSyncStep
	}

	return sync.MaxSyncStep
}

// resolveLimitPending returns the configured limit_pending, falling back to
// the scheduler default when non-positive.
func resolveLimitPending(cfg *config.Config) int {
	_, sync, _ := cfg.ResolveProfile("")

	if sync.LimitPending <= 0 {
		return scheduler.DefaultLimitPending
	}

	return sync.LimitPending
}
