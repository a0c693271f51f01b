package rename

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/nxsync/internal/pairstate"
	"github.com/tonimelisma/nxsync/internal/store"
)

func newTestStore(t *testing.T) store.Store {
	t.Helper()

	s, err := store.NewStore(context.Background(), ":memory:", nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	return s
}

func TestLocalMoveCandidateMatchesByDigest(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	binding := &pairstate.ServerBinding{LocalFolder: "/home/user/sync"}
	require.NoError(t, st.SaveBinding(ctx, binding))

	deleted := &pairstate.PairState{
		LocalFolder: binding.LocalFolder, ServerBindingID: binding.ID,
		LocalPath: "/old.txt", LocalName: "old.txt", LocalDigest: "samedigest",
		Folderish:  false,
		LocalState: pairstate.LocalDeleted,
	}
	require.NoError(t, st.Add(ctx, deleted))

	created := &pairstate.PairState{
		LocalPath: "/new.txt", LocalName: "new.txt", LocalDigest: "samedigest", Folderish: false,
	}

	d := NewDetector(st, nil)
	candidate, err := d.LocalMoveCandidate(ctx, binding, created)
	require.NoError(t, err)
	require.NotNil(t, candidate)
	assert.Equal(t, deleted.ID, candidate.ID)
}

func TestLocalMoveCandidateFoldersWithNoCandidateReturnNil(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	binding := &pairstate.ServerBinding{LocalFolder: "/home/user/sync"}
	require.NoError(t, st.SaveBinding(ctx, binding))

	created := &pairstate.PairState{LocalPath: "/newdir", LocalParentPath: "/", LocalName: "newdir", Folderish: true}

	d := NewDetector(st, nil)
	candidate, err := d.LocalMoveCandidate(ctx, binding, created)
	require.NoError(t, err)
	assert.Nil(t, candidate, "no locally_deleted folder row exists to match against")
}

// TestLocalMoveCandidateFoldersMatchByChildSetJaccard is scenario S6 from
// spec.md §4.F: a folder move is detected by the Jaccard index of direct
// child name sets, not folders being unconditionally excluded.
func TestLocalMoveCandidateFoldersMatchByChildSetJaccard(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	binding := &pairstate.ServerBinding{LocalFolder: "/home/user/sync"}
	require.NoError(t, st.SaveBinding(ctx, binding))

	srcA := &pairstate.PairState{
		LocalFolder: binding.LocalFolder, ServerBindingID: binding.ID,
		LocalPath: "/src/A", LocalParentPath: "/src", LocalName: "A", Folderish: true,
		LocalState: pairstate.LocalDeleted,
	}
	require.NoError(t, st.Add(ctx, srcA))

	otherB := &pairstate.PairState{
		LocalFolder: binding.LocalFolder, ServerBindingID: binding.ID,
		LocalPath: "/other/B", LocalParentPath: "/other", LocalName: "B", Folderish: true,
		LocalState: pairstate.LocalDeleted,
	}
	require.NoError(t, st.Add(ctx, otherB))

	for _, name := range []string{"p", "q", "r"} {
		require.NoError(t, st.Add(ctx, &pairstate.PairState{
			LocalFolder: binding.LocalFolder, ServerBindingID: binding.ID,
			LocalPath: "/src/A/" + name, LocalParentPath: "/src/A", LocalName: name,
			LocalState: pairstate.LocalDeleted,
		}))
	}

	for _, name := range []string{"u", "v"} {
		require.NoError(t, st.Add(ctx, &pairstate.PairState{
			LocalFolder: binding.LocalFolder, ServerBindingID: binding.ID,
			LocalPath: "/other/B/" + name, LocalParentPath: "/other/B", LocalName: name,
			LocalState: pairstate.LocalDeleted,
		}))
	}

	dstA := &pairstate.PairState{
		LocalPath: "/dst/A", LocalParentPath: "/dst", LocalName: "A", Folderish: true,
	}

	// dstA's own children, as they would already be recorded by the scanner
	// having walked the new location before the move detector runs.
	for _, name := range []string{"p", "q", "r"} {
		require.NoError(t, st.Add(ctx, &pairstate.PairState{
			LocalFolder: binding.LocalFolder, ServerBindingID: binding.ID,
			LocalPath: "/dst/A/" + name, LocalParentPath: "/dst/A", LocalName: name,
			LocalState: pairstate.LocalCreated,
		}))
	}

	d := NewDetector(st, nil)
	candidate, err := d.LocalMoveCandidate(ctx, binding, dstA)
	require.NoError(t, err)
	require.NotNil(t, candidate)
	assert.Equal(t, srcA.ID, candidate.ID)
}

func TestLocalMoveCandidateNoMatchWithoutSharedDigest(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	binding := &pairstate.ServerBinding{LocalFolder: "/home/user/sync"}
	require.NoError(t, st.SaveBinding(ctx, binding))

	deleted := &pairstate.PairState{
		LocalFolder: binding.LocalFolder, ServerBindingID: binding.ID,
		LocalPath: "/old.txt", LocalName: "old.txt", LocalDigest: "digest-a",
		LocalState: pairstate.LocalDeleted,
	}
	require.NoError(t, st.Add(ctx, deleted))

	created := &pairstate.PairState{LocalPath: "/new.txt", LocalName: "new.txt", LocalDigest: "digest-b"}

	d := NewDetector(st, nil)
	candidate, err := d.LocalMoveCandidate(ctx, binding, created)
	require.NoError(t, err)
	assert.Nil(t, candidate)
}

func TestRemoteMoveCandidateMatchesByDigest(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	binding := &pairstate.ServerBinding{LocalFolder: "/home/user/sync"}
	require.NoError(t, st.SaveBinding(ctx, binding))

	deleted := &pairstate.PairState{
		LocalFolder: binding.LocalFolder, ServerBindingID: binding.ID,
		RemoteRef: "ref-1", RemoteName: "old.txt", RemoteDigest: "samedigest",
		Folderish:   false,
		RemoteState: pairstate.RemoteDeleted,
	}
	require.NoError(t, st.Add(ctx, deleted))

	created := &pairstate.PairState{RemoteName: "new.txt", RemoteDigest: "samedigest", Folderish: false}

	d := NewDetector(st, nil)
	candidate, err := d.RemoteMoveCandidate(ctx, binding, created)
	require.NoError(t, err)
	require.NotNil(t, candidate)
	assert.Equal(t, deleted.ID, candidate.ID)
}

func TestDeletedMoveCandidateMatchesByDigest(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	binding := &pairstate.ServerBinding{LocalFolder: "/home/user/sync"}
	require.NoError(t, st.SaveBinding(ctx, binding))

	created := &pairstate.PairState{
		LocalFolder: binding.LocalFolder, ServerBindingID: binding.ID,
		LocalPath: "/new.txt", LocalName: "new.txt", LocalDigest: "samedigest",
		Folderish:  false,
		LocalState: pairstate.LocalCreated,
	}
	require.NoError(t, st.Add(ctx, created))

	deleted := &pairstate.PairState{LocalPath: "/old.txt", LocalName: "old.txt", LocalDigest: "samedigest"}

	d := NewDetector(st, nil)
	candidate, err := d.DeletedMoveCandidate(ctx, binding, deleted)
	require.NoError(t, err)
	require.NotNil(t, candidate)
	assert.Equal(t, created.ID, candidate.ID)
}

func TestDeletedMoveCandidateIgnoresAlreadyBoundRows(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	binding := &pairstate.ServerBinding{LocalFolder: "/home/user/sync"}
	require.NoError(t, st.SaveBinding(ctx, binding))

	bound := &pairstate.PairState{
		LocalFolder: binding.LocalFolder, ServerBindingID: binding.ID,
		LocalPath: "/new.txt", LocalName: "new.txt", LocalDigest: "samedigest",
		RemoteRef:  "ref-1",
		LocalState: pairstate.LocalCreated,
	}
	require.NoError(t, st.Add(ctx, bound))

	deleted := &pairstate.PairState{LocalPath: "/old.txt", LocalName: "old.txt", LocalDigest: "samedigest"}

	d := NewDetector(st, nil)
	candidate, err := d.DeletedMoveCandidate(ctx, binding, deleted)
	require.NoError(t, err)
	assert.Nil(t, candidate, "a row already bound to a remote ref is not an available move target")
}

// TestDeletedMoveCandidateFoldersMatchByChildSetJaccard mirrors S6 from the
// opposite direction: resolveLocallyDeleted consults this before deleting
// remote data, so it must find the created folder by its own merit.
func TestDeletedMoveCandidateFoldersMatchByChildSetJaccard(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	binding := &pairstate.ServerBinding{LocalFolder: "/home/user/sync"}
	require.NoError(t, st.SaveBinding(ctx, binding))

	dstA := &pairstate.PairState{
		LocalFolder: binding.LocalFolder, ServerBindingID: binding.ID,
		LocalPath: "/dst/A", LocalParentPath: "/dst", LocalName: "A", Folderish: true,
		LocalState: pairstate.LocalCreated,
	}
	require.NoError(t, st.Add(ctx, dstA))

	otherB := &pairstate.PairState{
		LocalFolder: binding.LocalFolder, ServerBindingID: binding.ID,
		LocalPath: "/other/B", LocalParentPath: "/other", LocalName: "B", Folderish: true,
		LocalState: pairstate.LocalCreated,
	}
	require.NoError(t, st.Add(ctx, otherB))

	for _, name := range []string{"p", "q", "r"} {
		require.NoError(t, st.Add(ctx, &pairstate.PairState{
			LocalFolder: binding.LocalFolder, ServerBindingID: binding.ID,
			LocalPath: "/dst/A/" + name, LocalParentPath: "/dst/A", LocalName: name,
			LocalState: pairstate.LocalCreated,
		}))
	}

	for _, name := range []string{"u", "v"} {
		require.NoError(t, st.Add(ctx, &pairstate.PairState{
			LocalFolder: binding.LocalFolder, ServerBindingID: binding.ID,
			LocalPath: "/other/B/" + name, LocalParentPath: "/other/B", LocalName: name,
			LocalState: pairstate.LocalCreated,
		}))
	}

	srcA := &pairstate.PairState{
		LocalPath: "/src/A", LocalParentPath: "/src", LocalName: "A", Folderish: true,
	}

	for _, name := range []string{"p", "q", "r"} {
		require.NoError(t, st.Add(ctx, &pairstate.PairState{
			LocalFolder: binding.LocalFolder, ServerBindingID: binding.ID,
			LocalPath: "/src/A/" + name, LocalParentPath: "/src/A", LocalName: name,
			LocalState: pairstate.LocalDeleted,
		}))
	}

	d := NewDetector(st, nil)
	candidate, err := d.DeletedMoveCandidate(ctx, binding, srcA)
	require.NoError(t, err)
	require.NotNil(t, candidate)
	assert.Equal(t, dstA.ID, candidate.ID)
}

func TestLocalMoveCandidatePrefersSameParentOnTie(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	binding := &pairstate.ServerBinding{LocalFolder: "/home/user/sync"}
	require.NoError(t, st.SaveBinding(ctx, binding))

	sibling := &pairstate.PairState{
		LocalFolder: binding.LocalFolder, ServerBindingID: binding.ID,
		LocalPath: "/dir/old.txt", LocalParentPath: "/dir", LocalName: "old.txt", LocalDigest: "samedigest",
		LocalState: pairstate.LocalDeleted,
	}
	elsewhere := &pairstate.PairState{
		LocalFolder: binding.LocalFolder, ServerBindingID: binding.ID,
		LocalPath: "/other/old.txt", LocalParentPath: "/other", LocalName: "old.txt", LocalDigest: "samedigest",
		LocalState: pairstate.LocalDeleted,
	}
	require.NoError(t, st.Add(ctx, sibling))
	require.NoError(t, st.Add(ctx, elsewhere))

	created := &pairstate.PairState{
		LocalPath: "/dir/new.txt", LocalParentPath: "/dir", LocalName: "new.txt", LocalDigest: "samedigest",
	}

	d := NewDetector(st, nil)
	candidate, err := d.LocalMoveCandidate(ctx, binding, created)
	require.NoError(t, err)
	require.NotNil(t, candidate)
	assert.Equal(t, sibling.ID, candidate.ID)
}
