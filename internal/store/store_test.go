package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/nxsync/internal/pairstate"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()

	s, err := NewStore(context.Background(), ":memory:", nil)
	require.NoError(t, err)

	t.Cleanup(func() { _ = s.Close() })

	return s
}

func saveBinding(t *testing.T, s *SQLiteStore, localFolder string) *pairstate.ServerBinding {
	t.Helper()

	b := &pairstate.ServerBinding{LocalFolder: localFolder, ServerURL: "https://example.test"}
	require.NoError(t, s.SaveBinding(context.Background(), b))

	return b
}

func TestAddAndQueryBy(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	b := saveBinding(t, s, "/home/user/sync")

	p := &pairstate.PairState{
		LocalFolder:     b.LocalFolder,
		ServerBindingID: b.ID,
		LocalPath:       "/foo.txt",
		LocalParentPath: pairstate.RootLocalPath,
		LocalState:      pairstate.LocalCreated,
		RemoteState:     pairstate.RemoteUnknown,
	}
	require.NoError(t, s.Add(ctx, p))
	assert.NotEmpty(t, p.ID)

	got, err := s.QueryBy(ctx, Eq("local_folder", b.LocalFolder), Eq("local_path", "/foo.txt"))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, p.ID, got[0].ID)
	assert.Equal(t, pairstate.LocalCreated, got[0].LocalState)
}

func TestQueryByRejectsUnknownColumn(t *testing.T) {
	s := newTestStore(t)
	_, err := s.QueryBy(context.Background(), Eq("not_a_real_column", "x"))
	assert.Error(t, err)
}

func TestUpdate(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	b := saveBinding(t, s, "/home/user/sync")

	p := &pairstate.PairState{
		LocalFolder:     b.LocalFolder,
		ServerBindingID: b.ID,
		LocalPath:       "/foo.txt",
		LocalState:      pairstate.LocalCreated,
		RemoteState:     pairstate.RemoteUnknown,
	}
	require.NoError(t, s.Add(ctx, p))

	p.LocalState = pairstate.LocalSynchronized
	require.NoError(t, s.Update(ctx, p))

	got, err := s.QueryBy(ctx, Eq("id", p.ID))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, pairstate.LocalSynchronized, got[0].LocalState)
}

func TestDelete(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	b := saveBinding(t, s, "/home/user/sync")

	p := &pairstate.PairState{LocalFolder: b.LocalFolder, ServerBindingID: b.ID, LocalPath: "/foo.txt"}
	require.NoError(t, s.Add(ctx, p))
	require.NoError(t, s.Delete(ctx, p.ID))

	got, err := s.QueryBy(ctx, Eq("id", p.ID))
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestMarkSelectionAndNotSelected(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	b := saveBinding(t, s, "/home/user/sync")

	kept := &pairstate.PairState{
		LocalFolder: b.LocalFolder, ServerBindingID: b.ID,
		LocalPath: "/kept.txt", LocalParentPath: pairstate.RootLocalPath,
		LocalState: pairstate.LocalSynchronized, RemoteState: pairstate.RemoteSynchronized,
	}
	orphaned := &pairstate.PairState{
		LocalFolder: b.LocalFolder, ServerBindingID: b.ID,
		LocalPath: "/orphaned.txt", LocalParentPath: pairstate.RootLocalPath,
		LocalState: pairstate.LocalSynchronized, RemoteState: pairstate.RemoteSynchronized,
	}
	require.NoError(t, s.Add(ctx, kept))
	require.NoError(t, s.Add(ctx, orphaned))

	tag, err := s.MarkSelection(ctx, SelectionLocalPaths, []string{"/kept.txt"}, DefaultPageSize)
	require.NoError(t, err)
	assert.NotEmpty(t, tag)

	missing, err := s.NotSelected(ctx, tag, Eq("local_folder", b.LocalFolder), Eq("local_parent_path", pairstate.RootLocalPath))
	require.NoError(t, err)
	require.Len(t, missing, 1)
	assert.Equal(t, orphaned.ID, missing[0].ID)
}

func TestMarkSelectionPaging(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	b := saveBinding(t, s, "/home/user/sync")

	var keys []string
	for i := 0; i < 5; i++ {
		path := "/f" + string(rune('a'+i)) + ".txt"
		require.NoError(t, s.Add(ctx, &pairstate.PairState{
			LocalFolder: b.LocalFolder, ServerBindingID: b.ID,
			LocalPath: path, LocalParentPath: pairstate.RootLocalPath,
		}))
		keys = append(keys, path)
	}

	// Page size smaller than the key count exercises the paging loop.
	tag, err := s.MarkSelection(ctx, SelectionLocalPaths, keys, 2)
	require.NoError(t, err)

	missing, err := s.NotSelected(ctx, tag, Eq("local_folder", b.LocalFolder))
	require.NoError(t, err)
	assert.Empty(t, missing)
}

func TestDirtyCountAndDeletedCount(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	b := saveBinding(t, s, "/home/user/sync")

	require.NoError(t, s.Add(ctx, &pairstate.PairState{
		LocalFolder: b.LocalFolder, ServerBindingID: b.ID, LocalPath: "/a.txt",
		LocalState: pairstate.LocalSynchronized, RemoteState: pairstate.RemoteSynchronized,
	}))
	require.NoError(t, s.Add(ctx, &pairstate.PairState{
		LocalFolder: b.LocalFolder, ServerBindingID: b.ID, LocalPath: "/b.txt",
		LocalState: pairstate.LocalModified, RemoteState: pairstate.RemoteSynchronized,
	}))
	require.NoError(t, s.Add(ctx, &pairstate.PairState{
		LocalFolder: b.LocalFolder, ServerBindingID: b.ID, LocalPath: "/c.txt",
		LocalState: pairstate.LocalDeleted, RemoteState: pairstate.RemoteDeleted,
	}))

	dirty, err := s.DirtyCount(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, dirty) // modified + deleted are both non-synchronized

	deleted, err := s.DeletedCount(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, deleted)
}

func TestDirtyCountSQLMatchesDerive(t *testing.T) {
	// Cross-check every (local, remote) combination the SQL CASE expression
	// hardcodes against pairstate.Derive, so the two never drift apart.
	ctx := context.Background()
	s := newTestStore(t)
	b := saveBinding(t, s, "/home/user/sync")

	locals := []pairstate.LocalState{
		pairstate.LocalUnknown, pairstate.LocalCreated, pairstate.LocalModified,
		pairstate.LocalDeleted, pairstate.LocalSynchronized,
	}
	remotes := []pairstate.RemoteState{
		pairstate.RemoteUnknown, pairstate.RemoteCreated, pairstate.RemoteModified,
		pairstate.RemoteDeleted, pairstate.RemoteSynchronized,
	}

	wantDirty := 0

	for i, l := range locals {
		for j, r := range remotes {
			p := &pairstate.PairState{
				LocalFolder: b.LocalFolder, ServerBindingID: b.ID,
				LocalPath: pathFor(i, j), LocalState: l, RemoteState: r,
			}
			require.NoError(t, s.Add(ctx, p))

			if pairstate.Derive(l, r) != pairstate.TagSynchronized {
				wantDirty++
			}
		}
	}

	got, err := s.DirtyCount(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, wantDirty, got)
}

func pathFor(i, j int) string {
	return "/" + string(rune('a'+i)) + string(rune('a'+j)) + ".txt"
}

func TestBindingCRUD(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	b := &pairstate.ServerBinding{LocalFolder: "/home/user/sync", ServerURL: "https://example.test"}
	require.NoError(t, s.SaveBinding(ctx, b))
	require.NotEmpty(t, b.ID)

	got, err := s.GetBinding(ctx, b.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, b.LocalFolder, got.LocalFolder)

	all, err := s.ListBindings(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)

	require.NoError(t, s.Checkpoint(ctx, b.ID, 12345, "cursor-blob"))
	got, err = s.GetBinding(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(12345), got.LastSyncDate)
	assert.Equal(t, "cursor-blob", got.LastRootDefinitions)

	require.NoError(t, s.DeleteBinding(ctx, b.ID))
	got, err = s.GetBinding(ctx, b.ID)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestGetBindingNotFound(t *testing.T) {
	s := newTestStore(t)
	got, err := s.GetBinding(context.Background(), "nonexistent")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestCommitPersistsAcrossTransactions(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	b := saveBinding(t, s, "/home/user/sync")

	require.NoError(t, s.Add(ctx, &pairstate.PairState{
		LocalFolder: b.LocalFolder, ServerBindingID: b.ID, LocalPath: "/a.txt",
	}))

	require.NoError(t, s.Commit(ctx))

	got, err := s.QueryBy(ctx, Eq("local_folder", b.LocalFolder))
	require.NoError(t, err)
	assert.Len(t, got, 1)
}
