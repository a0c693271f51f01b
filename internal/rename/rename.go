// Package rename implements the Move/Rename Detector (spec.md §4.F):
// finding the best candidate pair to treat a freshly-observed
// locally_created or remotely_created row as a rename/move of, rather than
// a genuine new document, by comparing digests (files) or direct-child name
// sets (folders) and reranking by name/parent similarity. Grounded on the
// teacher's reconciler.go detectLocalMoves (hash-keyed candidate maps)
// generalized to the align package's Jaccard reranker, the way
// original_source/nuxeo-drive-client/nxdrive/synchronizer.py's
// rerank_local_rename_or_move_candidates ranks same-digest siblings and
// folder candidates by shared children.
package rename

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/tonimelisma/nxsync/internal/align"
	"github.com/tonimelisma/nxsync/internal/pairstate"
	"github.com/tonimelisma/nxsync/internal/store"
)

// Detector finds rename/move candidates for newly-observed pair rows.
type Detector struct {
	store  store.Store
	logger *slog.Logger
}

// NewDetector creates a Detector over the given store.
func NewDetector(st store.Store, logger *slog.Logger) *Detector {
	if logger == nil {
		logger = slog.Default()
	}

	return &Detector{store: st, logger: logger}
}

// LocalMoveCandidate finds the best locally_deleted row that the given
// locally_created row might actually be a local rename/move of (spec.md
// §4.F): for files, same digest; for folders, same name or same parent,
// ranked by the Jaccard index of direct child name sets. Returns nil if no
// candidate clears the Jaccard cutoff.
func (d *Detector) LocalMoveCandidate(ctx context.Context, binding *pairstate.ServerBinding, created *pairstate.PairState) (*pairstate.PairState, error) {
	if created.Folderish {
		return d.localFolderMoveCandidate(ctx, binding, created)
	}

	deleted, err := d.store.QueryBy(ctx,
		store.Eq("local_folder", binding.LocalFolder),
		store.Eq("local_state", string(pairstate.LocalDeleted)),
		store.Eq("folderish", false),
		store.Eq("local_digest", created.LocalDigest),
	)
	if err != nil {
		return nil, fmt.Errorf("rename: query local-deleted siblings: %w", err)
	}

	byID := make(map[string]*pairstate.PairState, len(deleted))
	candidates := make([]align.Candidate, 0, len(deleted))

	for _, p := range deleted {
		byID[p.ID] = p
		candidates = append(candidates, align.Candidate{
			ID:         p.ID,
			Name:       p.LocalName,
			SameParent: created.LocalParentPath != "" && p.LocalParentPath == created.LocalParentPath,
		})
	}

	return d.bestCandidate(created.LocalName, nil, false, candidates, byID)
}

// localFolderMoveCandidate is the folder branch of LocalMoveCandidate.
// Folders carry no digest, so candidates are found by name or parent match
// (spec.md §4.F "For folders: local_name equal OR local_parent_path
// equal") and ranked by the Jaccard index of their direct child name sets
// (scenario S6).
func (d *Detector) localFolderMoveCandidate(ctx context.Context, binding *pairstate.ServerBinding, created *pairstate.PairState) (*pairstate.PairState, error) {
	deleted, err := d.queryEitherLocal(ctx, binding,
		store.Eq("local_state", string(pairstate.LocalDeleted)),
		store.Eq("folderish", true),
		store.Eq("local_name", created.LocalName),
		store.Eq("local_parent_path", created.LocalParentPath),
	)
	if err != nil {
		return nil, fmt.Errorf("rename: query local-deleted folder candidates: %w", err)
	}

	targetChildren, err := d.localChildNames(ctx, binding, created.LocalPath)
	if err != nil {
		return nil, err
	}

	byID := make(map[string]*pairstate.PairState, len(deleted))
	candidates := make([]align.Candidate, 0, len(deleted))

	for _, p := range deleted {
		byID[p.ID] = p

		children, err := d.localChildNames(ctx, binding, p.LocalPath)
		if err != nil {
			return nil, err
		}

		candidates = append(candidates, align.Candidate{
			ID:         p.ID,
			Name:       p.LocalName,
			ChildNames: children,
			SameParent: created.LocalParentPath != "" && p.LocalParentPath == created.LocalParentPath,
		})
	}

	return d.bestCandidate(created.LocalName, targetChildren, true, candidates, byID)
}

// DeletedMoveCandidate is the reverse of LocalMoveCandidate: given a
// locally_deleted row, finds the best locally_created/unknown row it might
// actually have become (spec.md §4.F: "If source is locally_deleted:
// candidates have remote_ref=∅ and local_state ∈ {created, unknown}").
// resolveLocallyDeleted calls this before ever touching the remote side, so
// the deleted half of a local move is never mistaken for a genuine deletion
// just because it happened to be resolved before its created counterpart.
func (d *Detector) DeletedMoveCandidate(ctx context.Context, binding *pairstate.ServerBinding, deleted *pairstate.PairState) (*pairstate.PairState, error) {
	if deleted.Folderish {
		return d.deletedFolderMoveCandidate(ctx, binding, deleted)
	}

	created, err := d.queryByLocalStates(ctx, binding,
		[]pairstate.LocalState{pairstate.LocalCreated, pairstate.LocalUnknown},
		store.Eq("folderish", false),
		store.Eq("local_digest", deleted.LocalDigest),
	)
	if err != nil {
		return nil, fmt.Errorf("rename: query locally-created siblings: %w", err)
	}

	byID := make(map[string]*pairstate.PairState, len(created))
	candidates := make([]align.Candidate, 0, len(created))

	for _, p := range created {
		if p.RemoteRef != "" {
			continue
		}

		byID[p.ID] = p
		candidates = append(candidates, align.Candidate{
			ID:         p.ID,
			Name:       p.LocalName,
			SameParent: deleted.LocalParentPath != "" && p.LocalParentPath == deleted.LocalParentPath,
		})
	}

	return d.bestCandidate(deleted.LocalName, nil, false, candidates, byID)
}

// deletedFolderMoveCandidate is the folder branch of DeletedMoveCandidate.
func (d *Detector) deletedFolderMoveCandidate(ctx context.Context, binding *pairstate.ServerBinding, deleted *pairstate.PairState) (*pairstate.PairState, error) {
	created, err := d.queryByLocalStatesEither(ctx, binding,
		[]pairstate.LocalState{pairstate.LocalCreated, pairstate.LocalUnknown},
		store.Eq("folderish", true),
		store.Eq("local_name", deleted.LocalName),
		store.Eq("local_parent_path", deleted.LocalParentPath),
	)
	if err != nil {
		return nil, fmt.Errorf("rename: query locally-created folder candidates: %w", err)
	}

	targetChildren, err := d.localChildNames(ctx, binding, deleted.LocalPath)
	if err != nil {
		return nil, err
	}

	byID := make(map[string]*pairstate.PairState, len(created))
	candidates := make([]align.Candidate, 0, len(created))

	for _, p := range created {
		if p.RemoteRef != "" {
			continue
		}

		byID[p.ID] = p

		children, err := d.localChildNames(ctx, binding, p.LocalPath)
		if err != nil {
			return nil, err
		}

		candidates = append(candidates, align.Candidate{
			ID:         p.ID,
			Name:       p.LocalName,
			ChildNames: children,
			SameParent: deleted.LocalParentPath != "" && p.LocalParentPath == deleted.LocalParentPath,
		})
	}

	return d.bestCandidate(deleted.LocalName, targetChildren, true, candidates, byID)
}

// queryByLocalStates unions QueryBy results across several local_state
// values, since the store's filter set only supports AND-of-equality.
func (d *Detector) queryByLocalStates(ctx context.Context, binding *pairstate.ServerBinding, states []pairstate.LocalState, filters ...store.Filter) ([]*pairstate.PairState, error) {
	seen := make(map[string]bool)
	var merged []*pairstate.PairState

	for _, state := range states {
		rows, err := d.store.QueryBy(ctx, append([]store.Filter{
			store.Eq("local_folder", binding.LocalFolder),
			store.Eq("local_state", string(state)),
		}, filters...)...)
		if err != nil {
			return nil, err
		}

		for _, p := range rows {
			if seen[p.ID] {
				continue
			}

			seen[p.ID] = true
			merged = append(merged, p)
		}
	}

	return merged, nil
}

// queryByLocalStatesEither combines the local_state union of
// queryByLocalStates with the name-OR-parent union of queryEither, for the
// folder candidate query across multiple candidate states.
func (d *Detector) queryByLocalStatesEither(ctx context.Context, binding *pairstate.ServerBinding, states []pairstate.LocalState, folderishFilter, nameFilter, parentFilter store.Filter) ([]*pairstate.PairState, error) {
	seen := make(map[string]bool)
	var merged []*pairstate.PairState

	for _, state := range states {
		rows, err := d.queryEither(ctx, binding, store.Eq("local_state", string(state)), folderishFilter, nameFilter, parentFilter)
		if err != nil {
			return nil, err
		}

		for _, p := range rows {
			if seen[p.ID] {
				continue
			}

			seen[p.ID] = true
			merged = append(merged, p)
		}
	}

	return merged, nil
}

// RemoteMoveCandidate is the remote-side mirror of LocalMoveCandidate: finds
// the best remotely_deleted row that a new remotely_created row might be a
// server-side rename/move of.
func (d *Detector) RemoteMoveCandidate(ctx context.Context, binding *pairstate.ServerBinding, created *pairstate.PairState) (*pairstate.PairState, error) {
	if created.Folderish {
		return d.remoteFolderMoveCandidate(ctx, binding, created)
	}

	deleted, err := d.store.QueryBy(ctx,
		store.Eq("local_folder", binding.LocalFolder),
		store.Eq("remote_state", string(pairstate.RemoteDeleted)),
		store.Eq("folderish", false),
		store.Eq("remote_digest", created.RemoteDigest),
	)
	if err != nil {
		return nil, fmt.Errorf("rename: query remote-deleted siblings: %w", err)
	}

	byID := make(map[string]*pairstate.PairState, len(deleted))
	candidates := make([]align.Candidate, 0, len(deleted))

	for _, p := range deleted {
		byID[p.ID] = p
		candidates = append(candidates, align.Candidate{
			ID:         p.ID,
			Name:       p.RemoteName,
			SameParent: created.RemoteParentPath != "" && p.RemoteParentPath == created.RemoteParentPath,
		})
	}

	return d.bestCandidate(created.RemoteName, nil, false, candidates, byID)
}

// remoteFolderMoveCandidate is the folder branch of RemoteMoveCandidate,
// mirroring localFolderMoveCandidate over remote_name/remote_parent_ref.
func (d *Detector) remoteFolderMoveCandidate(ctx context.Context, binding *pairstate.ServerBinding, created *pairstate.PairState) (*pairstate.PairState, error) {
	deleted, err := d.queryEitherRemote(ctx, binding,
		store.Eq("remote_state", string(pairstate.RemoteDeleted)),
		store.Eq("folderish", true),
		store.Eq("remote_name", created.RemoteName),
		store.Eq("remote_parent_ref", created.RemoteParentRef),
	)
	if err != nil {
		return nil, fmt.Errorf("rename: query remote-deleted folder candidates: %w", err)
	}

	targetChildren, err := d.remoteChildNames(ctx, binding, created.RemoteRef)
	if err != nil {
		return nil, err
	}

	byID := make(map[string]*pairstate.PairState, len(deleted))
	candidates := make([]align.Candidate, 0, len(deleted))

	for _, p := range deleted {
		byID[p.ID] = p

		children, err := d.remoteChildNames(ctx, binding, p.RemoteRef)
		if err != nil {
			return nil, err
		}

		candidates = append(candidates, align.Candidate{
			ID:         p.ID,
			Name:       p.RemoteName,
			ChildNames: children,
			SameParent: created.RemoteParentPath != "" && p.RemoteParentPath == created.RemoteParentPath,
		})
	}

	return d.bestCandidate(created.RemoteName, targetChildren, true, candidates, byID)
}

// queryEitherLocal runs two QueryBy calls sharing the given AND-ed
// constraints, one filtered by nameFilter and one by parentFilter, and
// returns the deduplicated union (spec.md §4.F: "local_name equal OR
// local_parent_path equal", not both — folder candidates only need to
// match one).
func (d *Detector) queryEitherLocal(ctx context.Context, binding *pairstate.ServerBinding, stateFilter, folderishFilter, nameFilter, parentFilter store.Filter) ([]*pairstate.PairState, error) {
	return d.queryEither(ctx, binding, stateFilter, folderishFilter, nameFilter, parentFilter)
}

// queryEitherRemote is the remote-side equivalent of queryEitherLocal.
func (d *Detector) queryEitherRemote(ctx context.Context, binding *pairstate.ServerBinding, stateFilter, folderishFilter, nameFilter, parentFilter store.Filter) ([]*pairstate.PairState, error) {
	return d.queryEither(ctx, binding, stateFilter, folderishFilter, nameFilter, parentFilter)
}

func (d *Detector) queryEither(ctx context.Context, binding *pairstate.ServerBinding, stateFilter, folderishFilter, nameFilter, parentFilter store.Filter) ([]*pairstate.PairState, error) {
	byName, err := d.store.QueryBy(ctx, store.Eq("local_folder", binding.LocalFolder), stateFilter, folderishFilter, nameFilter)
	if err != nil {
		return nil, err
	}

	byParent, err := d.store.QueryBy(ctx, store.Eq("local_folder", binding.LocalFolder), stateFilter, folderishFilter, parentFilter)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool, len(byName)+len(byParent))
	merged := make([]*pairstate.PairState, 0, len(byName)+len(byParent))

	for _, rows := range [][]*pairstate.PairState{byName, byParent} {
		for _, p := range rows {
			if seen[p.ID] {
				continue
			}

			seen[p.ID] = true
			merged = append(merged, p)
		}
	}

	return merged, nil
}

// localChildNames returns the direct local child names of the pair rooted
// at parentPath, used as a folder's child-name set for Jaccard ranking.
// Children of an already-deleted folder keep their local_parent_path, so
// this reflects the folder's pre-deletion contents.
func (d *Detector) localChildNames(ctx context.Context, binding *pairstate.ServerBinding, parentPath string) ([]string, error) {
	if parentPath == "" {
		return nil, nil
	}

	children, err := d.store.QueryBy(ctx,
		store.Eq("local_folder", binding.LocalFolder),
		store.Eq("local_parent_path", parentPath),
	)
	if err != nil {
		return nil, fmt.Errorf("rename: query local children of %s: %w", parentPath, err)
	}

	names := make([]string, 0, len(children))

	for _, c := range children {
		if c.LocalName != "" {
			names = append(names, c.LocalName)
		}
	}

	return names, nil
}

// remoteChildNames is the remote-side mirror of localChildNames.
func (d *Detector) remoteChildNames(ctx context.Context, binding *pairstate.ServerBinding, parentRef string) ([]string, error) {
	if parentRef == "" {
		return nil, nil
	}

	children, err := d.store.QueryBy(ctx,
		store.Eq("local_folder", binding.LocalFolder),
		store.Eq("remote_parent_ref", parentRef),
	)
	if err != nil {
		return nil, fmt.Errorf("rename: query remote children of %s: %w", parentRef, err)
	}

	names := make([]string, 0, len(children))

	for _, c := range children {
		if c.RemoteName != "" {
			names = append(names, c.RemoteName)
		}
	}

	return names, nil
}

// bestCandidate wraps align.RerankCandidates over the store rows, returning
// the single best surviving candidate, or nil if the reranker pruned every
// one (Jaccard index of zero against the target).
func (d *Detector) bestCandidate(targetName string, targetChildNames []string, folderish bool, candidates []align.Candidate, byID map[string]*pairstate.PairState) (*pairstate.PairState, error) {
	if len(candidates) == 0 {
		return nil, nil
	}

	ranked, truncated := align.RerankCandidates(targetName, targetChildNames, folderish, candidates)
	if truncated {
		d.logger.Warn("rename: candidate list truncated", "target_name", targetName, "cap", align.MaxRenameCandidates, "available", len(candidates))
	}

	if len(ranked) == 0 {
		return nil, nil
	}

	return byID[ranked[0].ID], nil
}
