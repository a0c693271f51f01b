// Package remotescan implements the Remote Scanner (spec.md §4.E): a full
// tree scan for a binding's first pass, and an incremental change-feed
// apply for every subsequent pass. Grounded on the teacher's
// internal/sync/delta.go FetchAndApply structure (token-based incremental
// fetch, checkpoint persistence) generalized to the change-summary shape
// original_source/synchronizer.py's _update_remote_states expects: events
// sorted by eventDate descending, most-recent-wins per ref, resolved
// against parent_uid before being applied.
package remotescan

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/tonimelisma/nxsync/internal/align"
	"github.com/tonimelisma/nxsync/internal/pairstate"
	"github.com/tonimelisma/nxsync/internal/remoteclient"
	"github.com/tonimelisma/nxsync/internal/store"
	"github.com/tonimelisma/nxsync/internal/syncerr"
)

// Scanner refreshes one binding's remote-side pair_state rows, either via a
// full tree walk or an incremental change-feed poll.
type Scanner struct {
	store  store.Store
	logger *slog.Logger
}

// NewScanner creates a Scanner over the given store.
func NewScanner(st store.Store, logger *slog.Logger) *Scanner {
	if logger == nil {
		logger = slog.Default()
	}

	return &Scanner{store: st, logger: logger}
}

// FullScan walks the entire remote tree, used the first time a binding is
// synchronized (spec.md §4.E "scan_remote"). It recurses depth first from
// the binding's declared root reference.
func (s *Scanner) FullScan(ctx context.Context, binding *pairstate.ServerBinding, client remoteclient.Client, rootRef string) error {
	s.logger.Info("remotescan: starting full scan", "local_folder", binding.LocalFolder)

	root, err := client.GetInfo(ctx, rootRef, true)
	if err != nil {
		return syncerr.Network("fetching remote root info", err)
	}

	if err := s.scanNode(ctx, binding, client, root, pairstate.RootLocalPath); err != nil {
		return fmt.Errorf("remotescan: full scan: %w", err)
	}

	s.logger.Info("remotescan: full scan complete", "local_folder", binding.LocalFolder)

	return nil
}

func (s *Scanner) scanNode(ctx context.Context, binding *pairstate.ServerBinding, client remoteclient.Client, node *remoteclient.Info, remoteParentPath string) error {
	children, err := client.GetChildrenInfo(ctx, node.Ref)
	if err != nil {
		return syncerr.Network(fmt.Sprintf("listing children of %s", node.Ref), err)
	}

	existing, err := s.store.QueryBy(ctx,
		store.Eq("local_folder", binding.LocalFolder),
		store.Eq("remote_parent_ref", node.Ref),
	)
	if err != nil {
		return fmt.Errorf("remotescan: query existing children of %s: %w", node.Ref, err)
	}

	keys := make([]string, 0, len(children))
	for _, c := range children {
		keys = append(keys, c.Ref)
	}

	tag, err := s.store.MarkSelection(ctx, store.SelectionRemoteRefs, keys, store.DefaultPageSize)
	if err != nil {
		return fmt.Errorf("remotescan: mark_selection for %s: %w", node.Ref, err)
	}

	byRef := make(map[string]*pairstate.PairState, len(existing))
	for _, p := range existing {
		byRef[p.RemoteRef] = p
	}

	// Sweep before creating or aligning children: rows added below carry no
	// tag from this pass and would otherwise be swept as missing.
	if err := s.markDeleted(ctx, binding, node.Ref, tag); err != nil {
		return err
	}

	for _, c := range children {
		if p, found := byRef[c.Ref]; found {
			if err := s.refresh(ctx, p, c, remoteParentPath); err != nil {
				return err
			}
		} else if _, err := s.align(ctx, binding, remoteParentPath, c); err != nil {
			return err
		}

		if c.Folderish {
			childPath := remoteParentPath + c.Name + "/"
			if err := s.scanNode(ctx, binding, client, c, childPath); err != nil {
				return err
			}
		}
	}

	return nil
}

// align pairs a newly observed remote node with an unpaired local-only row
// in the same parent, first by digest then by name (mirrors
// localscan.Scanner.align's relaxation order).
func (s *Scanner) align(ctx context.Context, binding *pairstate.ServerBinding, remoteParentPath string, c *remoteclient.Info) (*pairstate.PairState, error) {
	candidates, err := s.store.QueryBy(ctx,
		store.Eq("local_folder", binding.LocalFolder),
		store.Eq("remote_ref", ""),
	)
	if err != nil {
		return nil, fmt.Errorf("remotescan: align candidates for %s: %w", c.Ref, err)
	}

	candidates = filterByLocalParent(candidates, remoteParentPath)

	if match := matchByDigest(candidates, c); match != nil {
		return s.bindRemote(ctx, match, c, remoteParentPath)
	}

	if match := matchByName(candidates, c); match != nil {
		return s.bindRemote(ctx, match, c, remoteParentPath)
	}

	p := &pairstate.PairState{
		LocalFolder:          binding.LocalFolder,
		ServerBindingID:      binding.ID,
		RemoteRef:            c.Ref,
		RemoteParentRef:      c.ParentRef,
		RemoteParentPath:     remoteParentPath,
		RemoteName:           c.Name,
		RemoteDigest:         c.Digest,
		RemoteCanCreateChild: c.CanCreateChild,
		RemoteCanRename:      c.CanRename,
		RemoteCanDelete:      c.CanDelete,
		Folderish:            c.Folderish,
		LocalState:           pairstate.LocalUnknown,
		RemoteState:          pairstate.RemoteCreated,
	}

	if err := s.store.Add(ctx, p); err != nil {
		return nil, fmt.Errorf("remotescan: add new pair %s: %w", c.Ref, err)
	}

	s.logger.Debug("remotescan: new remote entry", "ref", c.Ref, "name", c.Name)

	return p, nil
}

func filterByLocalParent(candidates []*pairstate.PairState, remoteParentPath string) []*pairstate.PairState {
	// remoteParentPath is slash-terminated ("/dir/"); local parent paths are
	// not ("/dir"), except the root "/".
	localParent := strings.TrimSuffix(remoteParentPath, "/")
	if localParent == "" {
		localParent = pairstate.RootLocalPath
	}

	out := candidates[:0]

	for _, c := range candidates {
		if c.LocalParentPath == localParent {
			out = append(out, c)
		}
	}

	return out
}

func matchByDigest(candidates []*pairstate.PairState, c *remoteclient.Info) *pairstate.PairState {
	if c.Folderish {
		return nil
	}

	for _, cand := range candidates {
		if cand.Folderish == c.Folderish && cand.LocalDigest == c.Digest && align.NameMatch(cand.LocalName, c.Name) {
			return cand
		}
	}

	return nil
}

func matchByName(candidates []*pairstate.PairState, c *remoteclient.Info) *pairstate.PairState {
	for _, cand := range candidates {
		if cand.Folderish == c.Folderish && align.NameMatch(cand.LocalName, c.Name) {
			return cand
		}
	}

	return nil
}

func (s *Scanner) bindRemote(ctx context.Context, p *pairstate.PairState, c *remoteclient.Info, remoteParentPath string) (*pairstate.PairState, error) {
	p.RemoteRef = c.Ref
	p.RemoteParentRef = c.ParentRef
	p.RemoteParentPath = remoteParentPath
	p.RemoteName = c.Name
	p.RemoteDigest = c.Digest
	p.RemoteCanCreateChild = c.CanCreateChild
	p.RemoteCanRename = c.CanRename
	p.RemoteCanDelete = c.CanDelete
	p.RemoteState = pairstate.RemoteSynchronized

	if err := s.store.Update(ctx, p); err != nil {
		return nil, fmt.Errorf("remotescan: bind remote to local-only pair %s: %w", p.ID, err)
	}

	s.logger.Debug("remotescan: aligned remote entry with local-only pair", "ref", c.Ref, "pair_id", p.ID)

	return p, nil
}

func (s *Scanner) refresh(ctx context.Context, p *pairstate.PairState, c *remoteclient.Info, remoteParentPath string) error {
	if p.RemoteName == c.Name && p.RemoteDigest == c.Digest && p.Folderish == c.Folderish &&
		p.RemoteCanCreateChild == c.CanCreateChild && p.RemoteCanRename == c.CanRename && p.RemoteCanDelete == c.CanDelete {
		return nil
	}

	p.RemoteParentPath = remoteParentPath
	p.RemoteName = c.Name
	p.RemoteDigest = c.Digest
	p.Folderish = c.Folderish
	p.RemoteCanCreateChild = c.CanCreateChild
	p.RemoteCanRename = c.CanRename
	p.RemoteCanDelete = c.CanDelete

	if p.RemoteState == pairstate.RemoteSynchronized {
		p.RemoteState = pairstate.RemoteModified
	}

	if err := s.store.Update(ctx, p); err != nil {
		return fmt.Errorf("remotescan: update existing pair %s: %w", p.ID, err)
	}

	s.logger.Debug("remotescan: remote entry changed", "ref", c.Ref)

	return nil
}

func (s *Scanner) markDeleted(ctx context.Context, binding *pairstate.ServerBinding, parentRef, tag string) error {
	missing, err := s.store.NotSelected(ctx, tag,
		store.Eq("local_folder", binding.LocalFolder),
		store.Eq("remote_parent_ref", parentRef),
	)
	if err != nil {
		return fmt.Errorf("remotescan: not_selected for %s: %w", parentRef, err)
	}

	for _, p := range missing {
		if !p.HasRemote() || p.RemoteState == pairstate.RemoteDeleted {
			continue
		}

		p.RemoteState = pairstate.RemoteDeleted

		if err := s.store.Update(ctx, p); err != nil {
			return fmt.Errorf("remotescan: mark_remotely_deleted %s: %w", p.RemoteRef, err)
		}

		s.logger.Debug("remotescan: remote deletion detected", "ref", p.RemoteRef)
	}

	return nil
}

// Update applies one change-feed summary incrementally (spec.md §4.E
// "update_remote_states"): events are sorted by EventDate descending so
// that, when the same ref appears more than once in one summary, the most
// recent event wins and earlier stale entries are skipped. The binding's
// checkpoint is advanced on success via store.Checkpoint.
func (s *Scanner) Update(ctx context.Context, binding *pairstate.ServerBinding, summary *remoteclient.ChangeSummary) error {
	events := make([]remoteclient.ChangeEvent, len(summary.FileSystemChanges))
	copy(events, summary.FileSystemChanges)

	sort.SliceStable(events, func(i, j int) bool {
		return events[i].EventDate > events[j].EventDate
	})

	seen := make(map[string]bool, len(events))

	for _, ev := range events {
		if seen[ev.RemoteRef] {
			continue
		}

		seen[ev.RemoteRef] = true

		if err := s.applyEvent(ctx, binding, ev); err != nil {
			return fmt.Errorf("remotescan: apply change event for %s: %w", ev.RemoteRef, err)
		}
	}

	if err := s.store.Checkpoint(ctx, binding.ID, summary.SyncDate, summary.ActiveSynchronizationRootDefs); err != nil {
		return fmt.Errorf("remotescan: checkpoint: %w", err)
	}

	s.logger.Debug("remotescan: incremental update applied", "events", len(events), "too_many_changes", summary.HasTooManyChanges)

	return nil
}

func (s *Scanner) applyEvent(ctx context.Context, binding *pairstate.ServerBinding, ev remoteclient.ChangeEvent) error {
	existing, err := s.store.QueryBy(ctx,
		store.Eq("local_folder", binding.LocalFolder),
		store.Eq("remote_ref", ev.RemoteRef),
	)
	if err != nil {
		return err
	}

	if ev.FSItem == nil {
		for _, p := range existing {
			p.RemoteState = pairstate.RemoteDeleted
			if err := s.store.Update(ctx, p); err != nil {
				return err
			}
		}

		return nil
	}

	parentPath, err := s.resolveParentPath(ctx, binding, ev.ParentUID)
	if err != nil {
		return err
	}

	info := &remoteclient.Info{
		Ref:       ev.FSItem.Ref,
		ParentRef: ev.ParentUID,
		Name:      ev.FSItem.Name,
		Folderish: ev.FSItem.Folderish,
		Digest:    ev.FSItem.Digest,
	}

	if len(existing) == 0 {
		_, err := s.align(ctx, binding, parentPath, info)
		return err
	}

	return s.refresh(ctx, existing[0], info, parentPath)
}

// resolveParentPath looks up the materialized remote_parent_path for a
// parent ref already known to the store, falling back to the root path
// when the parent is the binding's own root.
func (s *Scanner) resolveParentPath(ctx context.Context, binding *pairstate.ServerBinding, parentRef string) (string, error) {
	parents, err := s.store.QueryBy(ctx,
		store.Eq("local_folder", binding.LocalFolder),
		store.Eq("remote_ref", parentRef),
	)
	if err != nil {
		return "", err
	}

	if len(parents) == 0 {
		return pairstate.RootLocalPath, nil
	}

	return parents[0].RemoteParentPath + parents[0].RemoteName + "/", nil
}
