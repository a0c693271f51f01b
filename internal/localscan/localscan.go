// Package localscan implements the Local Scanner (spec.md §4.D): a
// recursive depth-first walk of the local tree that aligns each entry with
// an existing pair row (or creates one), then uses the store's
// mark-and-sweep primitive to detect local deletions. Grounded on the
// teacher's internal/sync/scanner.go walkDir/processEntry/detectOrphans
// structure, generalized from the teacher's single Item model to pairing
// against pairstate.PairState rows via the Store boundary.
package localscan

import (
	"context"
	"fmt"
	"log/slog"
	"path"

	"golang.org/x/text/unicode/norm"

	"github.com/tonimelisma/nxsync/internal/align"
	"github.com/tonimelisma/nxsync/internal/localclient"
	"github.com/tonimelisma/nxsync/internal/pairstate"
	"github.com/tonimelisma/nxsync/internal/store"
	"github.com/tonimelisma/nxsync/internal/syncerr"
)

// Scanner walks one binding's local root and refreshes pair_state rows.
type Scanner struct {
	client localclient.Client
	store  store.Store
	logger *slog.Logger
}

// NewScanner creates a Scanner over the given client and store.
func NewScanner(client localclient.Client, st store.Store, logger *slog.Logger) *Scanner {
	if logger == nil {
		logger = slog.Default()
	}

	return &Scanner{client: client, store: st, logger: logger}
}

// Scan refreshes every pair under binding's local root, recursing depth
// first into folders the walk itself just created or confirmed (spec.md
// §4.D "recursive depth-first refresh").
func (s *Scanner) Scan(ctx context.Context, binding *pairstate.ServerBinding) error {
	s.logger.Info("localscan: starting scan", "local_folder", binding.LocalFolder)

	if err := s.scanDir(ctx, binding, pairstate.RootLocalPath); err != nil {
		return fmt.Errorf("localscan: scan %s: %w", binding.LocalFolder, err)
	}

	s.logger.Info("localscan: scan complete", "local_folder", binding.LocalFolder)

	return nil
}

// scanDir refreshes one directory's direct children, then recurses into any
// child that is itself a folder.
func (s *Scanner) scanDir(ctx context.Context, binding *pairstate.ServerBinding, dirPath string) error {
	children, err := s.client.GetChildrenInfo(ctx, dirPath)
	if err != nil {
		return syncerr.LocalIO(fmt.Sprintf("listing children of %s", dirPath), err)
	}

	// Normalize to NFC: HFS+ returns decomposed (NFD) names, so the same
	// filename would otherwise compare unequal to its remote-side form.
	for _, c := range children {
		c.Name = norm.NFC.String(c.Name)
	}

	existing, err := s.store.QueryBy(ctx,
		store.Eq("local_folder", binding.LocalFolder),
		store.Eq("local_parent_path", dirPath),
	)
	if err != nil {
		return fmt.Errorf("localscan: query existing children of %s: %w", dirPath, err)
	}

	keys := make([]string, 0, len(children))
	for _, c := range children {
		keys = append(keys, c.Path)
	}

	tag, err := s.store.MarkSelection(ctx, store.SelectionLocalPaths, keys, store.DefaultPageSize)
	if err != nil {
		return fmt.Errorf("localscan: mark_selection for %s: %w", dirPath, err)
	}

	byPath := make(map[string]*pairstate.PairState, len(existing))
	for _, p := range existing {
		byPath[p.LocalPath] = p
	}

	// Sweep before creating or aligning children: rows added below carry no
	// tag from this pass and would otherwise be swept as missing.
	if err := s.markDeleted(ctx, binding, dirPath, tag); err != nil {
		return err
	}

	var subdirs []string

	for _, c := range children {
		p, found := byPath[c.Path]
		if !found {
			p, err = s.align(ctx, binding, dirPath, c)
			if err != nil {
				return err
			}
		} else {
			if err := s.refresh(ctx, p, c); err != nil {
				return err
			}
		}

		if c.Folderish {
			subdirs = append(subdirs, c.Path)
		}
	}

	for _, sub := range subdirs {
		if err := ctx.Err(); err != nil {
			return err
		}

		if err := s.scanDir(ctx, binding, sub); err != nil {
			return err
		}
	}

	return nil
}

// align pairs a newly observed local entry with an unpaired remote-only row
// in the same parent (spec.md §4.D "Alignment step"), first by
// (parent, digest, folderish, name), then relaxed to (parent, folderish,
// name). No match creates a fresh pair.
func (s *Scanner) align(ctx context.Context, binding *pairstate.ServerBinding, parent string, c *localclient.Info) (*pairstate.PairState, error) {
	candidates, err := s.store.QueryBy(ctx,
		store.Eq("local_folder", binding.LocalFolder),
		store.Eq("local_path", ""),
	)
	if err != nil {
		return nil, fmt.Errorf("localscan: align candidates for %s: %w", c.Path, err)
	}

	// remote_parent_path is not a store filter column, and remotescan records
	// it slash-terminated ("/dir/"), so the parent match is done here.
	remoteParent := parent
	if parent != pairstate.RootLocalPath {
		remoteParent = parent + "/"
	}

	sameParent := candidates[:0]
	for _, cand := range candidates {
		if cand.RemoteParentPath == remoteParent {
			sameParent = append(sameParent, cand)
		}
	}
	candidates = sameParent

	if match := matchByDigest(candidates, c); match != nil {
		return s.bindLocal(ctx, match, c)
	}

	if match := matchByName(candidates, c); match != nil {
		return s.bindLocal(ctx, match, c)
	}

	now := pairstate.LocalCreated
	p := &pairstate.PairState{
		LocalFolder:     binding.LocalFolder,
		ServerBindingID: binding.ID,
		LocalPath:       c.Path,
		LocalParentPath: parent,
		LocalName:       c.Name,
		LocalDigest:     c.Digest,
		Folderish:       c.Folderish,
		LocalState:      now,
		RemoteState:     pairstate.RemoteUnknown,
	}

	if err := s.store.Add(ctx, p); err != nil {
		return nil, fmt.Errorf("localscan: add new pair %s: %w", c.Path, err)
	}

	s.logger.Debug("localscan: new local entry", "path", c.Path, "folderish", c.Folderish)

	return p, nil
}

func matchByDigest(candidates []*pairstate.PairState, c *localclient.Info) *pairstate.PairState {
	if c.Folderish {
		return nil
	}

	for _, cand := range candidates {
		if cand.Folderish == c.Folderish && cand.RemoteDigest == c.Digest && align.NameMatch(cand.RemoteName, c.Name) {
			return cand
		}
	}

	return nil
}

func matchByName(candidates []*pairstate.PairState, c *localclient.Info) *pairstate.PairState {
	for _, cand := range candidates {
		if cand.Folderish == c.Folderish && align.NameMatch(cand.RemoteName, c.Name) {
			return cand
		}
	}

	return nil
}

func (s *Scanner) bindLocal(ctx context.Context, p *pairstate.PairState, c *localclient.Info) (*pairstate.PairState, error) {
	p.LocalPath = c.Path
	p.LocalParentPath = path.Dir(c.Path)
	if p.LocalParentPath == "." {
		p.LocalParentPath = pairstate.RootLocalPath
	}

	p.LocalName = c.Name
	p.LocalDigest = c.Digest
	p.LocalState = pairstate.LocalSynchronized

	if err := s.store.Update(ctx, p); err != nil {
		return nil, fmt.Errorf("localscan: bind local to remote-only pair %s: %w", p.ID, err)
	}

	s.logger.Debug("localscan: aligned local entry with remote-only pair", "path", c.Path, "pair_id", p.ID)

	return p, nil
}

// refresh updates an already-paired row's local-side fields, recomputing
// the digest only for files and only when needed by the caller's knowledge
// of the file having possibly changed; localscan always refreshes the
// digest for files since localclient.Client exposes no mtime fast path of
// its own (spec.md §6 leaves mtime caching to the concrete LocalClient).
func (s *Scanner) refresh(ctx context.Context, p *pairstate.PairState, c *localclient.Info) error {
	digest := p.LocalDigest

	if !c.Folderish {
		d, err := s.client.GetDigest(ctx, c.Path)
		if err != nil {
			s.logger.Warn("localscan: digest failed, skipping entry", "path", c.Path, "error", err)
			return nil
		}

		digest = d
	}

	if p.LocalName == c.Name && p.LocalDigest == digest && p.Folderish == c.Folderish {
		return nil
	}

	p.LocalName = c.Name
	p.LocalDigest = digest
	p.Folderish = c.Folderish

	if p.LocalState == pairstate.LocalSynchronized {
		p.LocalState = pairstate.LocalModified
	}

	if err := s.store.Update(ctx, p); err != nil {
		return fmt.Errorf("localscan: update existing pair %s: %w", p.ID, err)
	}

	s.logger.Debug("localscan: local entry changed", "path", c.Path)

	return nil
}

// markDeleted applies mark-and-sweep within one directory scope: any pair
// whose local_path was paired under dirPath but was not re-tagged in this
// pass is now locally deleted (spec.md §4.D "mark_locally_deleted").
func (s *Scanner) markDeleted(ctx context.Context, binding *pairstate.ServerBinding, dirPath, tag string) error {
	missing, err := s.store.NotSelected(ctx, tag,
		store.Eq("local_folder", binding.LocalFolder),
		store.Eq("local_parent_path", dirPath),
	)
	if err != nil {
		return fmt.Errorf("localscan: not_selected for %s: %w", dirPath, err)
	}

	for _, p := range missing {
		if !p.HasLocal() || p.LocalState == pairstate.LocalDeleted {
			continue
		}

		if err := s.markOneDeleted(ctx, binding, p); err != nil {
			return err
		}
	}

	return nil
}

// markOneDeleted recurses depth-first into a missing folder's descendants
// before acting on the folder itself: since a path that vanished from its
// parent's listing is never walked again by scanDir, the only way to ever
// revisit its subtree is from the DB rows alone (spec.md §4.D). A local-only
// row (no remote_ref) is purged outright rather than left sitting forever as
// a zombie local_state=deleted row with nothing on either side left to
// reconcile against. A bound row keeps its local_path/local_parent_path
// intact when marked deleted, since the Move/Rename Detector's folder case
// relies on reading a deleted folder's still-recorded child names.
func (s *Scanner) markOneDeleted(ctx context.Context, binding *pairstate.ServerBinding, p *pairstate.PairState) error {
	if p.Folderish {
		children, err := s.store.QueryBy(ctx,
			store.Eq("local_folder", binding.LocalFolder),
			store.Eq("local_parent_path", p.LocalPath),
		)
		if err != nil {
			return fmt.Errorf("localscan: query descendants of %s: %w", p.LocalPath, err)
		}

		for _, child := range children {
			if !child.HasLocal() || child.LocalState == pairstate.LocalDeleted {
				continue
			}

			if err := s.markOneDeleted(ctx, binding, child); err != nil {
				return err
			}
		}
	}

	if p.RemoteRef == "" {
		if err := s.store.Delete(ctx, p.ID); err != nil {
			return fmt.Errorf("localscan: purge local-only pair %s: %w", p.LocalPath, err)
		}

		s.logger.Debug("localscan: purged local-only entry", "path", p.LocalPath)

		return nil
	}

	p.LocalState = pairstate.LocalDeleted

	if err := s.store.Update(ctx, p); err != nil {
		return fmt.Errorf("localscan: mark_locally_deleted %s: %w", p.LocalPath, err)
	}

	s.logger.Debug("localscan: local deletion detected", "path", p.LocalPath)

	return nil
}
