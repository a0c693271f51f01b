// Package resolver implements the Sync Resolver (spec.md §4.G): one handler
// per closed pair_state tag, dispatched via an exhaustive switch rather
// than the original's string-keyed '_synchronize_' + pair_state lookup
// (spec.md §9 redesign flag). Grounded on the teacher's reconciler.go
// decision-table style (one classify/dispatch function per case, each
// logging which row of the matrix fired) adapted from the three-way
// ActionPlan model to direct per-pair handler calls against the Store,
// LocalClient, and RemoteClient boundaries.
package resolver

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/tonimelisma/nxsync/internal/localclient"
	"github.com/tonimelisma/nxsync/internal/pairstate"
	"github.com/tonimelisma/nxsync/internal/remoteclient"
	"github.com/tonimelisma/nxsync/internal/rename"
	"github.com/tonimelisma/nxsync/internal/store"
	"github.com/tonimelisma/nxsync/internal/syncerr"
)

// Resolver applies the outcome of one pair's classification by driving the
// local and remote clients, then updating the pair row to reflect the new
// synchronized state.
type Resolver struct {
	store    store.Store
	local    localclient.Client
	remote   remoteclient.Client
	detector *rename.Detector
	logger   *slog.Logger
}

// New creates a Resolver over the given collaborators.
func New(st store.Store, local localclient.Client, remote remoteclient.Client, detector *rename.Detector, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}

	return &Resolver{store: st, local: local, remote: remote, detector: detector, logger: logger}
}

// Resolve dispatches a single pair by its derived tag. The exhaustive
// switch is the module's one and only dispatch point: every Tag value
// declared in package pairstate has a case here, and a tag without a case
// reaches the default branch, which returns an invariant violation rather
// than silently skipping the pair.
func (r *Resolver) Resolve(ctx context.Context, binding *pairstate.ServerBinding, p *pairstate.PairState) error {
	tag := p.Tag()

	r.logger.Debug("resolver: dispatching pair", "id", p.ID, "tag", tag, "local_path", p.LocalPath, "remote_ref", p.RemoteRef)

	switch tag {
	case pairstate.TagSynchronized:
		return nil
	case pairstate.TagLocallyModified:
		return r.resolveLocallyModified(ctx, binding, p)
	case pairstate.TagRemotelyModified:
		return r.resolveRemotelyModified(ctx, binding, p)
	case pairstate.TagLocallyCreated:
		return r.resolveLocallyCreated(ctx, binding, p)
	case pairstate.TagRemotelyCreated:
		return r.resolveRemotelyCreated(ctx, binding, p)
	case pairstate.TagLocallyDeleted:
		return r.resolveLocallyDeleted(ctx, binding, p)
	case pairstate.TagRemotelyDeleted:
		return r.resolveRemotelyDeleted(ctx, binding, p)
	case pairstate.TagDeleted:
		return r.resolveDeleted(ctx, p)
	case pairstate.TagConflicted:
		return r.resolveConflicted(ctx, binding, p)
	default:
		return syncerr.InvariantViolation(fmt.Sprintf("pair %s has unknown tag %q", p.ID, tag))
	}
}

// resolveLocallyModified uploads the new content and re-marks the pair
// synchronized on both sides.
func (r *Resolver) resolveLocallyModified(ctx context.Context, binding *pairstate.ServerBinding, p *pairstate.PairState) error {
	if !p.RemoteCanRename {
		// read-only remote target: nothing we can do but wait for the user.
		return nil
	}

	if err := r.remote.StreamUpdate(ctx, p.RemoteRef, p.LocalPath, p.LocalName); err != nil {
		return syncerr.Network("uploading modified content", err)
	}

	info, err := r.remote.GetInfo(ctx, p.RemoteRef, true)
	if err != nil {
		return syncerr.Network("refreshing remote info after upload", err)
	}

	p.RemoteDigest = info.Digest
	p.LocalState = pairstate.LocalSynchronized
	p.RemoteState = pairstate.RemoteSynchronized

	return r.save(ctx, p)
}

// resolveRemotelyModified downloads new content over the local file if the
// digest actually changed; otherwise the remote side only moved and/or was
// renamed, and the local tree must follow without re-downloading anything
// (spec.md §4.G).
func (r *Resolver) resolveRemotelyModified(ctx context.Context, binding *pairstate.ServerBinding, p *pairstate.PairState) error {
	if p.LocalDigest != p.RemoteDigest {
		tmpPath, err := r.remote.StreamContent(ctx, p.RemoteRef, p.LocalPath)
		if err != nil {
			return syncerr.Network("downloading modified content", err)
		}

		_ = tmpPath // a concrete LocalClient atomically installs tmpPath over LocalPath

		p.LocalDigest = p.RemoteDigest
	} else if err := r.applyRemoteMoveRename(ctx, binding, p); err != nil {
		return err
	}

	p.LocalState = pairstate.LocalSynchronized
	p.RemoteState = pairstate.RemoteSynchronized

	return r.save(ctx, p)
}

// applyRemoteMoveRename moves and/or renames p's local counterpart to match
// its already-refreshed remote parent/name, then cascades the resulting
// path change onto every descendant (spec.md §4.G descendant-maintenance
// primitives local_rename_with_descendants/update_remote_parent_path_recursive).
func (r *Resolver) applyRemoteMoveRename(ctx context.Context, binding *pairstate.ServerBinding, p *pairstate.PairState) error {
	oldLocalPath := p.LocalPath
	currentPath := oldLocalPath

	parentChanged := p.RemoteParentPath != "" && p.RemoteParentPath != p.LocalParentPath
	nameChanged := p.RemoteName != "" && p.RemoteName != p.LocalName

	if parentChanged {
		info, err := r.local.Move(ctx, currentPath, p.RemoteParentPath)
		if err != nil {
			return syncerr.LocalIO("moving local counterpart", err)
		}

		currentPath = info.Path
		p.LocalParentPath = p.RemoteParentPath
	}

	if nameChanged {
		info, err := r.local.Rename(ctx, currentPath, p.RemoteName)
		if err != nil {
			return syncerr.LocalIO("renaming local counterpart", err)
		}

		currentPath = info.Path
		p.LocalName = p.RemoteName
	}

	if !p.Folderish || currentPath == oldLocalPath {
		p.LocalPath = currentPath
		return nil
	}

	if err := r.localRenameWithDescendants(ctx, binding, oldLocalPath, currentPath); err != nil {
		return err
	}

	if err := r.updateRemoteParentPathRecursive(ctx, binding, p, joinPath(p.RemoteParentPath, p.RemoteName)); err != nil {
		return err
	}

	p.LocalPath = currentPath

	return nil
}

// localRenameWithDescendants rewrites local_path/local_parent_path on every
// descendant of a folder that just moved from oldPath to newPath, and
// refreshes each from the local client.
func (r *Resolver) localRenameWithDescendants(ctx context.Context, binding *pairstate.ServerBinding, oldPath, newPath string) error {
	children, err := r.store.QueryBy(ctx, store.Eq("local_folder", binding.LocalFolder), store.Eq("local_parent_path", oldPath))
	if err != nil {
		return fmt.Errorf("resolver: listing descendants of %s: %w", oldPath, err)
	}

	for _, child := range children {
		childOldPath := child.LocalPath
		childNewPath := joinPath(newPath, child.LocalName)

		if child.Folderish {
			if err := r.localRenameWithDescendants(ctx, binding, childOldPath, childNewPath); err != nil {
				return err
			}
		}

		child.LocalPath = childNewPath
		child.LocalParentPath = newPath

		if info, err := r.local.GetInfo(ctx, childNewPath); err == nil {
			child.LocalDigest = info.Digest
		}

		if err := r.save(ctx, child); err != nil {
			return err
		}
	}

	return nil
}

// updateRemoteParentPathRecursive rewrites the materialized remote_parent_path
// on every descendant of folder to newRemoteParentPath, recursing with each
// descendant's own new remote path.
func (r *Resolver) updateRemoteParentPathRecursive(ctx context.Context, binding *pairstate.ServerBinding, folder *pairstate.PairState, newRemoteParentPath string) error {
	children, err := r.store.QueryBy(ctx, store.Eq("local_folder", binding.LocalFolder), store.Eq("remote_parent_ref", folder.RemoteRef))
	if err != nil {
		return fmt.Errorf("resolver: listing remote descendants of %s: %w", folder.RemoteRef, err)
	}

	for _, child := range children {
		child.RemoteParentPath = newRemoteParentPath

		if child.Folderish {
			childRemotePath := joinPath(newRemoteParentPath, child.RemoteName)
			if err := r.updateRemoteParentPathRecursive(ctx, binding, child, childRemotePath); err != nil {
				return err
			}
		}

		if err := r.save(ctx, child); err != nil {
			return err
		}
	}

	return nil
}

// joinPath concatenates a tree-rooted parent path and a child name, matching
// the RootLocalPath ("/") convention used throughout pairstate.
func joinPath(parent, name string) string {
	if parent == "" || parent == pairstate.RootLocalPath {
		return "/" + name
	}

	return strings.TrimSuffix(parent, "/") + "/" + name
}

// resolveLocallyCreated uploads a brand-new local file or folder, first
// checking whether it is actually a local rename/move of a deleted pair
// (spec.md §4.F).
func (r *Resolver) resolveLocallyCreated(ctx context.Context, binding *pairstate.ServerBinding, p *pairstate.PairState) error {
	moved, err := r.detector.LocalMoveCandidate(ctx, binding, p)
	if err != nil {
		return err
	}

	if moved != nil {
		return r.applyLocalMove(ctx, moved, p)
	}

	if p.Folderish {
		ref, err := r.remote.MakeFolder(ctx, p.RemoteParentRef, p.LocalName)
		if err != nil {
			return syncerr.Network("creating remote folder", err)
		}

		p.RemoteRef = ref
	} else {
		ref, err := r.remote.StreamFile(ctx, p.RemoteParentRef, p.LocalPath, p.LocalName)
		if err != nil {
			return syncerr.Network("uploading new file", err)
		}

		p.RemoteRef = ref
	}

	p.RemoteName = p.LocalName
	p.RemoteDigest = p.LocalDigest
	p.LocalState = pairstate.LocalSynchronized
	p.RemoteState = pairstate.RemoteSynchronized

	return r.save(ctx, p)
}

// resolveRemotelyCreated downloads a brand-new remote file or folder, first
// checking whether it is actually a server-side rename/move.
func (r *Resolver) resolveRemotelyCreated(ctx context.Context, binding *pairstate.ServerBinding, p *pairstate.PairState) error {
	moved, err := r.detector.RemoteMoveCandidate(ctx, binding, p)
	if err != nil {
		return err
	}

	if moved != nil {
		return r.applyRemoteMove(ctx, moved, p)
	}

	if p.Folderish {
		path, err := r.local.MakeFolder(ctx, p.RemoteParentPath, p.RemoteName)
		if err != nil {
			return syncerr.LocalIO("creating local folder", err)
		}

		p.LocalPath = path
	} else {
		path, _, finalName, err := r.local.GetNewFile(ctx, p.RemoteParentPath, p.RemoteName)
		if err != nil {
			return syncerr.LocalIO("reserving local file slot", err)
		}

		if _, err := r.remote.StreamContent(ctx, p.RemoteRef, path); err != nil {
			return syncerr.Network("downloading new file content", err)
		}

		p.LocalPath = path
		p.LocalName = finalName
	}

	if p.LocalName == "" {
		p.LocalName = p.RemoteName
	}

	p.LocalParentPath = p.RemoteParentPath
	p.LocalDigest = p.RemoteDigest
	p.LocalState = pairstate.LocalSynchronized
	p.RemoteState = pairstate.RemoteSynchronized

	return r.save(ctx, p)
}

// resolveLocallyDeleted propagates a local deletion to the remote side,
// first consulting the move detector (spec.md §4.F: "Triggered by the
// resolver when a pair is in locally_deleted or locally_created") so the
// deleted half of a local move is never mistaken for a real deletion just
// because the scheduler resolved it before its created counterpart.
func (r *Resolver) resolveLocallyDeleted(ctx context.Context, binding *pairstate.ServerBinding, p *pairstate.PairState) error {
	moved, err := r.detector.DeletedMoveCandidate(ctx, binding, p)
	if err != nil {
		return err
	}

	if moved != nil {
		return r.applyLocalMove(ctx, p, moved)
	}

	if !p.RemoteCanDelete {
		// Read-only remote target: the local deletion can never be applied
		// upstream, so treat the branch as remotely re-created instead of
		// leaving the pair stuck in locally_deleted forever (spec.md §4.G).
		if p.Folderish {
			if err := r.markDescendantsRemotelyCreated(ctx, binding, p); err != nil {
				return err
			}
		}

		p.LocalPath = ""
		p.LocalParentPath = ""
		p.LocalName = ""
		p.LocalDigest = ""
		p.LocalState = pairstate.LocalUnknown
		p.RemoteState = pairstate.RemoteCreated

		return r.save(ctx, p)
	}

	if p.Folderish {
		if err := r.deleteDescendants(ctx, binding, p); err != nil {
			return err
		}
	}

	if err := r.remote.Delete(ctx, p.RemoteRef); err != nil {
		return syncerr.Network("deleting remote counterpart", err)
	}

	p.RemoteState = pairstate.RemoteDeleted

	return r.save(ctx, p)
}

// markDescendantsRemotelyCreated clears the local side of every descendant
// of folder and marks it (local_state=unknown, remote_state=created), so a
// locally-deleted folder whose remote side cannot be removed is fully
// re-downloaded rather than left half-deleted (spec.md §4.G
// descendant-maintenance primitives).
func (r *Resolver) markDescendantsRemotelyCreated(ctx context.Context, binding *pairstate.ServerBinding, folder *pairstate.PairState) error {
	children, err := r.store.QueryBy(ctx, store.Eq("local_folder", binding.LocalFolder), store.Eq("local_parent_path", folder.LocalPath))
	if err != nil {
		return fmt.Errorf("resolver: listing descendants of %s: %w", folder.ID, err)
	}

	for _, child := range children {
		if child.Folderish {
			if err := r.markDescendantsRemotelyCreated(ctx, binding, child); err != nil {
				return err
			}
		}

		child.LocalPath = ""
		child.LocalParentPath = ""
		child.LocalName = ""
		child.LocalDigest = ""
		child.LocalState = pairstate.LocalUnknown
		child.RemoteState = pairstate.RemoteCreated

		if err := r.save(ctx, child); err != nil {
			return err
		}
	}

	return nil
}

// resolveRemotelyDeleted propagates a remote deletion to the local side,
// cascading to descendants if the pair is a folder.
func (r *Resolver) resolveRemotelyDeleted(ctx context.Context, binding *pairstate.ServerBinding, p *pairstate.PairState) error {
	if p.Folderish {
		if err := r.deleteDescendants(ctx, binding, p); err != nil {
			return err
		}
	}

	if err := r.local.Delete(ctx, p.LocalPath); err != nil {
		return syncerr.LocalIO("deleting local counterpart", err)
	}

	p.LocalState = pairstate.LocalDeleted

	return r.save(ctx, p)
}

// resolveDeleted purges a pair row once both sides are confirmed gone.
func (r *Resolver) resolveDeleted(ctx context.Context, p *pairstate.PairState) error {
	return r.store.Delete(ctx, p.ID)
}

// resolveConflicted auto-resolves a conflict as synchronized when both
// sides actually carry the same content (digests equal); otherwise it
// renames the local copy aside under a conflict name, matching the
// teacher's conflict-copy approach (conflicts.go) generalized to this
// engine's pair model, and falls the original pair through to
// remotely_created semantics so the server's content is re-downloaded fresh
// (spec.md §4.G, scenario S4).
func (r *Resolver) resolveConflicted(ctx context.Context, binding *pairstate.ServerBinding, p *pairstate.PairState) error {
	if p.LocalDigest == p.RemoteDigest {
		p.LocalState = pairstate.LocalSynchronized
		p.RemoteState = pairstate.RemoteSynchronized

		return r.save(ctx, p)
	}

	conflictName, err := r.remote.ConflictedName(ctx, p.LocalName)
	if err != nil {
		return syncerr.Network("generating conflict name", err)
	}

	if _, err := r.local.Rename(ctx, p.LocalPath, conflictName); err != nil {
		return syncerr.LocalIO("renaming local copy aside for conflict", err)
	}

	r.logger.Warn("resolver: conflict detected, local copy renamed aside", "pair_id", p.ID, "conflict_name", conflictName)

	conflictCopy := &pairstate.PairState{
		LocalFolder:     p.LocalFolder,
		ServerBindingID: p.ServerBindingID,
		LocalPath:       joinPath(p.LocalParentPath, conflictName),
		LocalParentPath: p.LocalParentPath,
		LocalName:       conflictName,
		LocalDigest:     p.LocalDigest,
		Folderish:       p.Folderish,
		LocalState:      pairstate.LocalCreated,
		RemoteState:     pairstate.RemoteUnknown,
	}

	if err := r.store.Add(ctx, conflictCopy); err != nil {
		return fmt.Errorf("resolver: registering conflict copy: %w", err)
	}

	// The original pair falls through to remotely_created: its local side
	// is gone (renamed away to the conflict copy above), so the next pass
	// re-downloads the server's content fresh rather than this pair ever
	// being treated as synchronized.
	p.LocalPath = ""
	p.LocalParentPath = ""
	p.LocalName = ""
	p.LocalDigest = ""
	p.LocalState = pairstate.LocalUnknown
	p.RemoteState = pairstate.RemoteCreated

	return r.save(ctx, p)
}

func (r *Resolver) save(ctx context.Context, p *pairstate.PairState) error {
	if err := p.Validate(); err != nil {
		return syncerr.InvariantViolation(err.Error())
	}

	if err := r.store.Update(ctx, p); err != nil {
		return fmt.Errorf("resolver: saving pair %s: %w", p.ID, err)
	}

	return nil
}

// applyLocalMove reassigns a deleted pair's remote counterpart to the new
// local location rather than delete-then-create (spec.md §4.F).
func (r *Resolver) applyLocalMove(ctx context.Context, deleted, created *pairstate.PairState) error {
	r.logger.Debug("resolver: local move detected", "from", deleted.LocalPath, "to", created.LocalPath)

	if deleted.RemoteParentRef != created.RemoteParentRef {
		if _, err := r.remote.Move(ctx, deleted.RemoteRef, created.RemoteParentRef); err != nil {
			return syncerr.Network("moving remote counterpart", err)
		}
	}

	if deleted.RemoteName != created.LocalName {
		if _, err := r.remote.Rename(ctx, deleted.RemoteRef, created.LocalName); err != nil {
			return syncerr.Network("renaming remote counterpart", err)
		}
	}

	deleted.LocalPath = created.LocalPath
	deleted.LocalParentPath = created.LocalParentPath
	deleted.LocalName = created.LocalName
	deleted.LocalDigest = created.LocalDigest
	deleted.RemoteParentPath = created.LocalParentPath
	deleted.RemoteName = created.LocalName
	deleted.LocalState = pairstate.LocalSynchronized
	deleted.RemoteState = pairstate.RemoteSynchronized

	if err := r.save(ctx, deleted); err != nil {
		return err
	}

	return r.store.Delete(ctx, created.ID)
}

// applyRemoteMove is the remote-side mirror of applyLocalMove.
func (r *Resolver) applyRemoteMove(ctx context.Context, deleted, created *pairstate.PairState) error {
	r.logger.Debug("resolver: remote move detected", "from", deleted.RemoteName, "to", created.RemoteName)

	if deleted.LocalParentPath != created.RemoteParentPath {
		if _, err := r.local.Move(ctx, deleted.LocalPath, created.RemoteParentPath); err != nil {
			return syncerr.LocalIO("moving local counterpart", err)
		}
	}

	if deleted.LocalName != created.RemoteName {
		if _, err := r.local.Rename(ctx, deleted.LocalPath, created.RemoteName); err != nil {
			return syncerr.LocalIO("renaming local counterpart", err)
		}
	}

	deleted.RemoteRef = created.RemoteRef
	deleted.RemoteParentRef = created.RemoteParentRef
	deleted.RemoteParentPath = created.RemoteParentPath
	deleted.RemoteName = created.RemoteName
	deleted.RemoteDigest = created.RemoteDigest
	deleted.LocalParentPath = created.RemoteParentPath
	deleted.LocalName = created.RemoteName
	deleted.LocalState = pairstate.LocalSynchronized
	deleted.RemoteState = pairstate.RemoteSynchronized

	if err := r.save(ctx, deleted); err != nil {
		return err
	}

	return r.store.Delete(ctx, created.ID)
}

// deleteDescendants recursively deletes every pair rooted under a folder
// pair being deleted, deepest first, matching the teacher's orderDeletes
// depth-last convention generalized from a flat ActionPlan slice to direct
// recursive store calls.
func (r *Resolver) deleteDescendants(ctx context.Context, binding *pairstate.ServerBinding, folder *pairstate.PairState) error {
	var scopeFilter store.Filter
	if folder.HasLocal() {
		scopeFilter = store.Eq("local_parent_path", folder.LocalPath)
	} else {
		scopeFilter = store.Eq("remote_parent_ref", folder.RemoteRef)
	}

	children, err := r.store.QueryBy(ctx, store.Eq("local_folder", binding.LocalFolder), scopeFilter)
	if err != nil {
		return fmt.Errorf("resolver: listing descendants of %s: %w", folder.ID, err)
	}

	for _, child := range children {
		if child.Folderish {
			if err := r.deleteDescendants(ctx, binding, child); err != nil {
				return err
			}
		}

		if err := r.store.Delete(ctx, child.ID); err != nil {
			return fmt.Errorf("resolver: deleting descendant %s: %w", child.ID, err)
		}
	}

	return nil
}
