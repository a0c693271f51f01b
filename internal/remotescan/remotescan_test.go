package remotescan

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/nxsync/internal/pairstate"
	"github.com/tonimelisma/nxsync/internal/remoteclient"
	"github.com/tonimelisma/nxsync/internal/store"
)

// fakeRemoteClient serves a fixed tree keyed by ref, grounded on the
// teacher's test-double style of hardcoded maps rather than a mock library.
type fakeRemoteClient struct {
	remoteclient.Client
	infos    map[string]*remoteclient.Info
	children map[string][]*remoteclient.Info
}

func (f *fakeRemoteClient) GetInfo(ctx context.Context, ref string, raiseIfMissing bool) (*remoteclient.Info, error) {
	info, ok := f.infos[ref]
	if !ok {
		return nil, errors.New("not found")
	}

	return info, nil
}

func (f *fakeRemoteClient) GetChildrenInfo(ctx context.Context, ref string) ([]*remoteclient.Info, error) {
	return f.children[ref], nil
}

func newTestStore(t *testing.T) store.Store {
	t.Helper()

	s, err := store.NewStore(context.Background(), ":memory:", nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	return s
}

func TestFullScanCreatesNewPairs(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	binding := &pairstate.ServerBinding{LocalFolder: "/home/user/sync"}
	require.NoError(t, st.SaveBinding(ctx, binding))

	root := &remoteclient.Info{Ref: "root", Folderish: true}
	child := &remoteclient.Info{Ref: "child-1", ParentRef: "root", Name: "a.txt", Digest: "d1"}

	client := &fakeRemoteClient{
		infos:    map[string]*remoteclient.Info{"root": root},
		children: map[string][]*remoteclient.Info{"root": {child}},
	}

	scanner := NewScanner(st, nil)
	require.NoError(t, scanner.FullScan(ctx, binding, client, "root"))

	got, err := st.QueryBy(ctx, store.Eq("local_folder", binding.LocalFolder), store.Eq("remote_ref", "child-1"))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "a.txt", got[0].RemoteName)
	assert.Equal(t, pairstate.RemoteCreated, got[0].RemoteState)
}

func TestFullScanMarksMissingChildrenDeleted(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	binding := &pairstate.ServerBinding{LocalFolder: "/home/user/sync"}
	require.NoError(t, st.SaveBinding(ctx, binding))

	existing := &pairstate.PairState{
		LocalFolder: binding.LocalFolder, ServerBindingID: binding.ID,
		RemoteRef: "gone", RemoteParentRef: "root", RemoteName: "gone.txt",
		RemoteState: pairstate.RemoteSynchronized,
	}
	require.NoError(t, st.Add(ctx, existing))

	root := &remoteclient.Info{Ref: "root", Folderish: true}
	client := &fakeRemoteClient{
		infos:    map[string]*remoteclient.Info{"root": root},
		children: map[string][]*remoteclient.Info{"root": {}},
	}

	scanner := NewScanner(st, nil)
	require.NoError(t, scanner.FullScan(ctx, binding, client, "root"))

	got, err := st.QueryBy(ctx, store.Eq("id", existing.ID))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, pairstate.RemoteDeleted, got[0].RemoteState)
}

func TestUpdateAppliesMostRecentEventPerRef(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	binding := &pairstate.ServerBinding{LocalFolder: "/home/user/sync"}
	require.NoError(t, st.SaveBinding(ctx, binding))

	scanner := NewScanner(st, nil)

	summary := &remoteclient.ChangeSummary{
		SyncDate: 100,
		FileSystemChanges: []remoteclient.ChangeEvent{
			{EventDate: 1, RemoteRef: "r1", FSItem: &remoteclient.FSItem{Ref: "r1", Name: "stale-name.txt"}},
			{EventDate: 2, RemoteRef: "r1", FSItem: &remoteclient.FSItem{Ref: "r1", Name: "fresh-name.txt"}},
		},
	}

	require.NoError(t, scanner.Update(ctx, binding, summary))

	got, err := st.QueryBy(ctx, store.Eq("local_folder", binding.LocalFolder), store.Eq("remote_ref", "r1"))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "fresh-name.txt", got[0].RemoteName)
}

func TestUpdateDeletionEventMarksRemoteDeleted(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	binding := &pairstate.ServerBinding{LocalFolder: "/home/user/sync"}
	require.NoError(t, st.SaveBinding(ctx, binding))

	existing := &pairstate.PairState{
		LocalFolder: binding.LocalFolder, ServerBindingID: binding.ID,
		RemoteRef: "r1", RemoteName: "a.txt", RemoteState: pairstate.RemoteSynchronized,
	}
	require.NoError(t, st.Add(ctx, existing))

	scanner := NewScanner(st, nil)
	summary := &remoteclient.ChangeSummary{
		SyncDate: 200,
		FileSystemChanges: []remoteclient.ChangeEvent{
			{EventDate: 1, RemoteRef: "r1", FSItem: nil},
		},
	}

	require.NoError(t, scanner.Update(ctx, binding, summary))

	got, err := st.QueryBy(ctx, store.Eq("id", existing.ID))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, pairstate.RemoteDeleted, got[0].RemoteState)
}

func TestUpdateCheckpointsSyncDate(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	binding := &pairstate.ServerBinding{LocalFolder: "/home/user/sync"}
	require.NoError(t, st.SaveBinding(ctx, binding))

	scanner := NewScanner(st, nil)
	summary := &remoteclient.ChangeSummary{SyncDate: 999, ActiveSynchronizationRootDefs: "cursor"}

	require.NoError(t, scanner.Update(ctx, binding, summary))

	got, err := st.GetBinding(ctx, binding.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(999), got.LastSyncDate)
	assert.Equal(t, "cursor", got.LastRootDefinitions)
}
