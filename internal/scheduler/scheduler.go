// Package scheduler implements the Scheduler loop (spec.md §4.H): a
// PID-locked singleton process that, on each iteration, refreshes every
// configured binding's local and remote state and drives the resolver over
// whatever pairs need attention, backing off per-pair on repeated failure.
// Grounded on the teacher's pidfile.go (flock + liveness-probe singleton)
// and orchestrator.go (per-binding concurrent iteration via goroutines),
// generalized from the teacher's raw sync.WaitGroup fan-out to
// golang.org/x/sync/errgroup so the first binding's fatal error cancels the
// others' context rather than being silently dropped.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/tonimelisma/nxsync/internal/controller"
	"github.com/tonimelisma/nxsync/internal/localclient"
	"github.com/tonimelisma/nxsync/internal/localscan"
	"github.com/tonimelisma/nxsync/internal/notify"
	"github.com/tonimelisma/nxsync/internal/pairstate"
	"github.com/tonimelisma/nxsync/internal/remoteclient"
	"github.com/tonimelisma/nxsync/internal/remotescan"
	"github.com/tonimelisma/nxsync/internal/rename"
	"github.com/tonimelisma/nxsync/internal/resolver"
	"github.com/tonimelisma/nxsync/internal/store"
	"github.com/tonimelisma/nxsync/internal/syncerr"
)

const (
	pidFilePermissions = 0o644
	pidDirPermissions  = 0o755

	// DefaultLoopInterval is how long the scheduler sleeps between passes
	// over every binding when there is nothing pending (spec.md §6 tunables).
	DefaultLoopInterval = 30 * time.Second

	// DefaultErrorSkipPeriod is the cooldown applied to a pair after a
	// retryable failure, supplemented from
	// original_source/synchronizer.py's per-pair error cooldown.
	DefaultErrorSkipPeriod = 5 * time.Minute

	// DefaultMaxSyncStep caps how many pending pairs one resolveBinding pass
	// resolves (spec.md §6 "max_sync_step=10").
	DefaultMaxSyncStep = 10

	// DefaultLimitPending caps how many pending pairs pendingPairs even
	// fetches before max_sync_step applies (spec.md §6 "limit_pending=100").
	DefaultLimitPending = 100
)

// LocalClientFactory creates a LocalClient rooted at a binding's local
// folder. Kept as a factory, not a single shared client, since each
// binding owns an independent local root.
type LocalClientFactory func(binding *pairstate.ServerBinding) (localclient.Client, error)

// Scheduler drives the sync loop for every configured binding.
type Scheduler struct {
	store           store.Store
	controller      controller.Controller
	localFactory    LocalClientFactory
	notifier        notify.Notifier
	logger          *slog.Logger
	pidFilePath     string
	stopFilePath    string
	loopInterval    time.Duration
	errorSkipPeriod time.Duration
	maxSyncStep     int
	limitPending    int

	mu        sync.Mutex
	cooldowns map[string]time.Time // pair ID -> earliest retry time
}

// Option configures optional Scheduler behavior.
type Option func(*Scheduler)

// WithLoopInterval overrides DefaultLoopInterval.
func WithLoopInterval(d time.Duration) Option { return func(s *Scheduler) { s.loopInterval = d } }

// WithErrorSkipPeriod overrides DefaultErrorSkipPeriod.
func WithErrorSkipPeriod(d time.Duration) Option {
	return func(s *Scheduler) { s.errorSkipPeriod = d }
}

// WithMaxSyncStep overrides DefaultMaxSyncStep.
func WithMaxSyncStep(n int) Option { return func(s *Scheduler) { s.maxSyncStep = n } }

// WithLimitPending overrides DefaultLimitPending.
func WithLimitPending(n int) Option { return func(s *Scheduler) { s.limitPending = n } }

// New creates a Scheduler. pidFilePath and stopFilePath are absolute paths
// under the daemon's data directory.
func New(st store.Store, ctrl controller.Controller, localFactory LocalClientFactory, notifier notify.Notifier, pidFilePath, stopFilePath string, logger *slog.Logger, opts ...Option) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}

	if notifier == nil {
		notifier = notify.Noop{}
	}

	s := &Scheduler{
		store:           st,
		controller:      ctrl,
		localFactory:    localFactory,
		notifier:        notifier,
		logger:          logger,
		pidFilePath:     pidFilePath,
		stopFilePath:    stopFilePath,
		loopInterval:    DefaultLoopInterval,
		errorSkipPeriod: DefaultErrorSkipPeriod,
		maxSyncStep:     DefaultMaxSyncStep,
		limitPending:    DefaultLimitPending,
		cooldowns:       make(map[string]time.Time),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Run acquires the PID lock and loops until the stop file appears or ctx is
// cancelled. Returns an error immediately, without looping, if another
// instance already holds the lock (spec.md §4.H "singleton execution").
func (s *Scheduler) Run(ctx context.Context) error {
	cleanup, err := s.acquireLock()
	if err != nil {
		return err
	}
	defer cleanup()

	s.logger.Info("scheduler: started", "pid", os.Getpid())

	for {
		if s.stopRequested() {
			s.logger.Info("scheduler: stop file present, exiting")
			return nil
		}

		if err := ctx.Err(); err != nil {
			return nil
		}

		if err := s.runOnce(ctx); err != nil {
			s.logger.Error("scheduler: pass failed", "error", err)
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(s.loopInterval):
		}
	}
}

// acquireLock writes the PID file under an exclusive non-blocking flock,
// returning a cleanup func that releases it and removes the file. Directly
// adapted from the teacher's writePIDFile in pidfile.go.
func (s *Scheduler) acquireLock() (func(), error) {
	if s.pidFilePath == "" {
		return nil, fmt.Errorf("scheduler: PID file path is empty")
	}

	dir := filepath.Dir(s.pidFilePath)
	if err := os.MkdirAll(dir, pidDirPermissions); err != nil {
		return nil, fmt.Errorf("scheduler: creating PID file directory: %w", err)
	}

	f, err := os.OpenFile(s.pidFilePath, os.O_CREATE|os.O_RDWR, pidFilePermissions)
	if err != nil {
		return nil, fmt.Errorf("scheduler: opening PID file: %w", err)
	}

	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		s.cleanStalePID(f)
		f.Close()

		return nil, fmt.Errorf("scheduler: another instance is already running (could not lock %s)", s.pidFilePath)
	}

	if err := f.Truncate(0); err != nil {
		f.Close()
		return nil, fmt.Errorf("scheduler: truncating PID file: %w", err)
	}

	if _, err := fmt.Fprintf(f, "%d\n", os.Getpid()); err != nil {
		f.Close()
		return nil, fmt.Errorf("scheduler: writing PID file: %w", err)
	}

	if err := f.Sync(); err != nil {
		f.Close()
		return nil, fmt.Errorf("scheduler: syncing PID file: %w", err)
	}

	return func() {
		os.Remove(s.pidFilePath)
		os.Remove(s.stopFilePath)
		f.Close()
	}, nil
}

// cleanStalePID removes the stop file artifact from a previous run if the
// PID it names is no longer alive. Flock already failing here means either
// a live holder or an OS-level stale lock; this only tidies up the
// separate stop-file convention, never the lock itself.
func (s *Scheduler) cleanStalePID(f *os.File) {
	data, err := os.ReadFile(s.pidFilePath)
	if err != nil {
		return
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return
	}

	proc, err := os.FindProcess(pid)
	if err != nil {
		return
	}

	if err := proc.Signal(syscall.Signal(0)); err != nil {
		s.logger.Warn("scheduler: stale PID file found, previous holder is dead", "pid", pid)
	}
}

func (s *Scheduler) stopRequested() bool {
	if s.stopFilePath == "" {
		return false
	}

	_, err := os.Stat(s.stopFilePath)
	return err == nil
}

// runOnce iterates every configured binding concurrently via errgroup: one
// binding's fatal error cancels the group's shared context, so a broken
// account doesn't silently starve the others of cancellation signal the
// way raw goroutines with an unchecked WaitGroup would (spec.md §4.H).
func (s *Scheduler) runOnce(ctx context.Context) error {
	bindings, err := s.controller.ListBindings(ctx)
	if err != nil {
		return fmt.Errorf("scheduler: listing bindings: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)

	for _, b := range bindings {
		binding := b

		if binding.InvalidCredentials {
			continue
		}

		g.Go(func() error {
			return s.syncBinding(gctx, binding)
		})
	}

	return g.Wait()
}

// syncBinding runs one full pass for a binding: refresh remote state, refresh
// local state, then resolve every pair whose derived tag is not
// synchronized, preferring pairs with a non-empty local_path as a tie-break
// so a binding with both a pending local creation and a pending remote
// creation makes visible local progress first (spec.md §4.H "synchronize").
func (s *Scheduler) syncBinding(ctx context.Context, binding *pairstate.ServerBinding) error {
	s.notifier.NotifySyncStarted(binding.ID)
	defer s.notifier.NotifySyncStopped(binding.ID)

	local, err := s.localFactory(binding)
	if err != nil {
		return fmt.Errorf("scheduler: creating local client for %s: %w", binding.LocalFolder, err)
	}

	remote, err := s.controller.RemoteClientFor(ctx, binding)
	if err != nil {
		s.notifier.NotifyOffline(binding.ID, err)
		return fmt.Errorf("scheduler: creating remote client for %s: %w", binding.LocalFolder, err)
	}

	remoteScanner := remotescan.NewScanner(s.store, s.logger)

	if binding.LastSyncDate == 0 {
		// Empty ref is the RemoteClient convention for "the binding's declared
		// synchronization root" (spec.md §6), resolved by the concrete client
		// from binding credentials rather than stored on ServerBinding itself.
		if err := remoteScanner.FullScan(ctx, binding, remote, ""); err != nil {
			return s.handleBindingError(ctx, binding, err)
		}
	} else {
		summary, err := remote.GetChanges(ctx, binding.LastSyncDate, binding.LastRootDefinitions)
		if err != nil {
			return s.handleBindingError(ctx, binding, syncerr.Network("fetching remote changes", err))
		}

		if err := remoteScanner.Update(ctx, binding, summary); err != nil {
			return s.handleBindingError(ctx, binding, err)
		}
	}

	localScanner := localscan.NewScanner(local, s.store, s.logger)
	if err := localScanner.Scan(ctx, binding); err != nil {
		return s.handleBindingError(ctx, binding, err)
	}

	s.notifier.NotifyOnline(binding.ID)

	return s.resolveBinding(ctx, binding, local, remote)
}

// resolveBinding resolves up to max_sync_step pending pairs per pass
// (spec.md §6, §4.H "synchronize(limit=max_sync_step)"), so one binding with
// a huge backlog cannot starve its siblings of a scheduler pass.
func (s *Scheduler) resolveBinding(ctx context.Context, binding *pairstate.ServerBinding, local localclient.Client, remote remoteclient.Client) error {
	detector := rename.NewDetector(s.store, s.logger)
	res := resolver.New(s.store, local, remote, detector, s.logger)

	pending, err := s.pendingPairs(ctx, binding)
	if err != nil {
		return err
	}

	n := len(pending)
	s.notifier.NotifyPending(binding.ID, n, false)

	pending = capMaxSyncStep(pending, s.maxSyncStep)

	// Every pair's failure is independent of its siblings': one bad upload
	// must not hide a second pair's invariant violation. multierr
	// accumulates them all instead of the loop returning (and hiding the
	// rest) on the first one.
	var errs error

	for _, p := range pending {
		if err := ctx.Err(); err != nil {
			return nil
		}

		if s.onCooldown(p.ID) {
			continue
		}

		if err := res.Resolve(ctx, binding, p); err != nil {
			s.logger.Warn("scheduler: resolving pair failed", "pair_id", p.ID, "error", err)
			errs = multierr.Append(errs, fmt.Errorf("pair %s: %w", p.ID, err))

			if syncerr.Blacklistable(err) {
				s.setCooldown(p.ID)
			}

			if !syncerr.Retryable(err) {
				continue
			}
		}
	}

	if errs != nil {
		// Per-pair failures are expected and already cooled down above; they
		// must not cancel sibling bindings' errgroup context, so only log
		// the aggregate here rather than returning it.
		s.logger.Error("scheduler: some pairs failed to resolve", "binding_id", binding.ID, "errors", errs)
	}

	return s.store.Commit(ctx)
}

// pendingPairs lists every non-synchronized pair, local_path-first per the
// tie-break spec.md §4.H describes, capped to limit_pending entries
// (spec.md §6).
func (s *Scheduler) pendingPairs(ctx context.Context, binding *pairstate.ServerBinding) ([]*pairstate.PairState, error) {
	all, err := s.store.QueryBy(ctx, store.Eq("local_folder", binding.LocalFolder))
	if err != nil {
		return nil, fmt.Errorf("scheduler: listing pairs for %s: %w", binding.LocalFolder, err)
	}

	pending := make([]*pairstate.PairState, 0, len(all))

	for _, p := range all {
		if p.Tag() != pairstate.TagSynchronized {
			pending = append(pending, p)
		}
	}

	sorted := sortPendingLocalFirst(pending)

	if s.limitPending > 0 && len(sorted) > s.limitPending {
		sorted = sorted[:s.limitPending]
	}

	return sorted, nil
}

// sortPendingLocalFirst partitions pairs so every row with a non-empty
// local_path is resolved before any remote-only row (spec.md §4.H
// tie-break), without disturbing relative order within each group.
func sortPendingLocalFirst(pending []*pairstate.PairState) []*pairstate.PairState {
	out := make([]*pairstate.PairState, 0, len(pending))
	var rest []*pairstate.PairState

	for _, p := range pending {
		if p.HasLocal() {
			out = append(out, p)
		} else {
			rest = append(rest, p)
		}
	}

	return append(out, rest...)
}

// capMaxSyncStep truncates pending to at most n entries, the per-pass cap
// from spec.md §6; n <= 0 means uncapped.
func capMaxSyncStep(pending []*pairstate.PairState, n int) []*pairstate.PairState {
	if n > 0 && len(pending) > n {
		return pending[:n]
	}

	return pending
}

func (s *Scheduler) onCooldown(pairID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	until, ok := s.cooldowns[pairID]
	if !ok {
		return false
	}

	return time.Now().Before(until)
}

func (s *Scheduler) setCooldown(pairID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cooldowns[pairID] = time.Now().Add(s.errorSkipPeriod)
}

func (s *Scheduler) handleBindingError(ctx context.Context, binding *pairstate.ServerBinding, err error) error {
	se, ok := syncerr.As(err)
	if ok && se.Kind == syncerr.KindAuth {
		s.notifier.NotifyOffline(binding.ID, err)

		if markErr := s.controller.MarkInvalid(ctx, binding.ID); markErr != nil {
			s.logger.Error("scheduler: marking binding invalid failed", "binding_id", binding.ID, "error", markErr)
		}

		s.controller.InvalidateRemoteClient(binding.ID)

		return fmt.Errorf("scheduler: binding %s requires re-authentication: %w", binding.ID, err)
	}

	if ok && se.Kind == syncerr.KindNetwork {
		s.notifier.NotifyOffline(binding.ID, err)
		s.controller.InvalidateRemoteClient(binding.ID)
	}

	return fmt.Errorf("scheduler: syncing binding %s: %w", binding.ID, err)
}
