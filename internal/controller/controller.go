// Package controller declares the Controller boundary (spec.md §6,
// component I): the owner of the session factory, the per-binding pending
// list, and the cached remote clients. A concrete controller wires a Store,
// a remoteclient.Client per binding, and the scheduler together; this
// module only depends on the interface so it can be driven by test doubles.
package controller

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/tonimelisma/nxsync/internal/pairstate"
	"github.com/tonimelisma/nxsync/internal/remoteclient"
	"github.com/tonimelisma/nxsync/internal/store"
)

// RemoteClientFactory builds a RemoteClient for one binding. Authentication
// and transport construction are explicitly out of scope (spec.md §1); a
// concrete deployment supplies this.
type RemoteClientFactory func(ctx context.Context, binding *pairstate.ServerBinding) (remoteclient.Client, error)

// Controller is the external session/client factory the scheduler drives
// (spec.md §6).
type Controller interface {
	// ListBindings returns every configured, non-invalid server binding.
	ListBindings(ctx context.Context) ([]*pairstate.ServerBinding, error)
	// RemoteClientFor returns the cached remote client for a binding,
	// creating and caching one on first use.
	RemoteClientFor(ctx context.Context, binding *pairstate.ServerBinding) (remoteclient.Client, error)
	// InvalidateRemoteClient drops a cached client after a network error so
	// the next call re-creates it (spec.md §5 "Shared resources").
	InvalidateRemoteClient(bindingID string)
	// MarkInvalid flags a binding so the scheduler skips it on future loops
	// (e.g. after repeated authentication failure).
	MarkInvalid(ctx context.Context, bindingID string) error
	// Unbind tears down a binding whose local root has vanished (spec.md
	// §4.D "Failure semantics"), cascading pair-row deletion.
	Unbind(ctx context.Context, bindingID string) error
}

// StoreController is the default Controller: binding bookkeeping lives in
// the Store, and a per-binding RemoteClient is created on first use and
// cached by binding ID, mirroring the teacher's orchestrator.go clientPair
// cache keyed by token path.
type StoreController struct {
	store   store.Store
	factory RemoteClientFactory
	logger  *slog.Logger

	mu      sync.Mutex
	clients map[string]remoteclient.Client
}

// NewStoreController creates a StoreController. factory is called at most
// once per binding ID until InvalidateRemoteClient drops the cache entry.
func NewStoreController(st store.Store, factory RemoteClientFactory, logger *slog.Logger) *StoreController {
	if logger == nil {
		logger = slog.Default()
	}

	return &StoreController{
		store:   st,
		factory: factory,
		logger:  logger,
		clients: make(map[string]remoteclient.Client),
	}
}

// ListBindings returns every binding whose credentials have not been
// flagged invalid.
func (c *StoreController) ListBindings(ctx context.Context) ([]*pairstate.ServerBinding, error) {
	all, err := c.store.ListBindings(ctx)
	if err != nil {
		return nil, fmt.Errorf("controller: listing bindings: %w", err)
	}

	out := make([]*pairstate.ServerBinding, 0, len(all))

	for _, b := range all {
		if !b.InvalidCredentials {
			out = append(out, b)
		}
	}

	return out, nil
}

// RemoteClientFor returns the cached client for binding, building one via
// factory on first use. Not safe to call concurrently for the SAME binding
// before the first call returns; the scheduler only ever syncs one binding
// from one goroutine at a time (spec.md §4.H), so this is never contended
// in practice, but the map itself is still guarded since ListBindings and
// sync goroutines for DIFFERENT bindings run concurrently.
func (c *StoreController) RemoteClientFor(ctx context.Context, binding *pairstate.ServerBinding) (remoteclient.Client, error) {
	c.mu.Lock()
	cached, ok := c.clients[binding.ID]
	c.mu.Unlock()

	if ok {
		return cached, nil
	}

	client, err := c.factory(ctx, binding)
	if err != nil {
		return nil, fmt.Errorf("controller: building remote client for %s: %w", binding.LocalFolder, err)
	}

	c.mu.Lock()
	c.clients[binding.ID] = client
	c.mu.Unlock()

	return client, nil
}

// InvalidateRemoteClient drops the cached client for bindingID so the next
// RemoteClientFor call rebuilds it.
func (c *StoreController) InvalidateRemoteClient(bindingID string) {
	c.mu.Lock()
	delete(c.clients, bindingID)
	c.mu.Unlock()
}

// MarkInvalid flags a binding's credentials as invalid so ListBindings
// excludes it until an operator re-authenticates.
func (c *StoreController) MarkInvalid(ctx context.Context, bindingID string) error {
	b, err := c.store.GetBinding(ctx, bindingID)
	if err != nil {
		return fmt.Errorf("controller: loading binding %s: %w", bindingID, err)
	}

	if b == nil {
		return fmt.Errorf("controller: binding %s not found", bindingID)
	}

	b.InvalidCredentials = true

	if err := c.store.SaveBinding(ctx, b); err != nil {
		return fmt.Errorf("controller: saving invalidated binding %s: %w", bindingID, err)
	}

	return c.store.Commit(ctx)
}

// Unbind removes a binding and every pair row under it (spec.md §4.D
// "Failure semantics": a vanished local root tears down its whole tree
// rather than propagating mass deletions to the remote side).
func (c *StoreController) Unbind(ctx context.Context, bindingID string) error {
	b, err := c.store.GetBinding(ctx, bindingID)
	if err != nil {
		return fmt.Errorf("controller: loading binding %s: %w", bindingID, err)
	}

	if b == nil {
		return nil
	}

	pairs, err := c.store.QueryBy(ctx, store.Eq("local_folder", b.LocalFolder))
	if err != nil {
		return fmt.Errorf("controller: listing pairs for %s: %w", b.LocalFolder, err)
	}

	for _, p := range pairs {
		if err := c.store.Delete(ctx, p.ID); err != nil {
			return fmt.Errorf("controller: deleting pair %s: %w", p.ID, err)
		}
	}

	if err := c.store.DeleteBinding(ctx, b.ID); err != nil {
		return fmt.Errorf("controller: deleting binding %s: %w", b.ID, err)
	}

	c.InvalidateRemoteClient(bindingID)

	c.logger.Info("controller: unbound", "local_folder", b.LocalFolder, "pairs_removed", len(pairs))

	return c.store.Commit(ctx)
}
