package localscan

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/nxsync/internal/localclient"
	"github.com/tonimelisma/nxsync/internal/pairstate"
	"github.com/tonimelisma/nxsync/internal/store"
)

// fakeLocalClient serves a fixed directory tree keyed by path, grounded on
// remotescan_test.go's hardcoded-map test-double style.
type fakeLocalClient struct {
	localclient.Client
	children map[string][]*localclient.Info
	digests  map[string]string
}

func (f *fakeLocalClient) GetChildrenInfo(ctx context.Context, path string) ([]*localclient.Info, error) {
	return f.children[path], nil
}

func (f *fakeLocalClient) GetDigest(ctx context.Context, path string) (string, error) {
	d, ok := f.digests[path]
	if !ok {
		return "", errors.New("not found")
	}

	return d, nil
}

func newTestStore(t *testing.T) store.Store {
	t.Helper()

	s, err := store.NewStore(context.Background(), ":memory:", nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	return s
}

func TestScanCreatesNewPairs(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	binding := &pairstate.ServerBinding{LocalFolder: "/home/user/sync"}
	require.NoError(t, st.SaveBinding(ctx, binding))

	client := &fakeLocalClient{
		children: map[string][]*localclient.Info{
			pairstate.RootLocalPath: {
				{Path: "/a.txt", Name: "a.txt", Digest: "d1"},
			},
		},
		digests: map[string]string{"/a.txt": "d1"},
	}

	scanner := NewScanner(client, st, nil)
	require.NoError(t, scanner.Scan(ctx, binding))

	got, err := st.QueryBy(ctx, store.Eq("local_folder", binding.LocalFolder), store.Eq("local_path", "/a.txt"))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, pairstate.LocalCreated, got[0].LocalState)
}

func TestScanMarksMissingChildDeleted(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	binding := &pairstate.ServerBinding{LocalFolder: "/home/user/sync"}
	require.NoError(t, st.SaveBinding(ctx, binding))

	existing := &pairstate.PairState{
		LocalFolder: binding.LocalFolder, ServerBindingID: binding.ID,
		LocalPath: "/gone.txt", LocalParentPath: pairstate.RootLocalPath,
		RemoteRef:  "gone-ref",
		LocalState: pairstate.LocalSynchronized,
	}
	require.NoError(t, st.Add(ctx, existing))

	client := &fakeLocalClient{children: map[string][]*localclient.Info{pairstate.RootLocalPath: {}}}

	scanner := NewScanner(client, st, nil)
	require.NoError(t, scanner.Scan(ctx, binding))

	got, err := st.QueryBy(ctx, store.Eq("id", existing.ID))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, pairstate.LocalDeleted, got[0].LocalState)
}

func TestScanRefreshesChangedDigest(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	binding := &pairstate.ServerBinding{LocalFolder: "/home/user/sync"}
	require.NoError(t, st.SaveBinding(ctx, binding))

	existing := &pairstate.PairState{
		LocalFolder: binding.LocalFolder, ServerBindingID: binding.ID,
		LocalPath: "/a.txt", LocalParentPath: pairstate.RootLocalPath, LocalName: "a.txt",
		LocalDigest: "old", LocalState: pairstate.LocalSynchronized,
	}
	require.NoError(t, st.Add(ctx, existing))

	client := &fakeLocalClient{
		children: map[string][]*localclient.Info{
			pairstate.RootLocalPath: {{Path: "/a.txt", Name: "a.txt", Digest: "new"}},
		},
		digests: map[string]string{"/a.txt": "new"},
	}

	scanner := NewScanner(client, st, nil)
	require.NoError(t, scanner.Scan(ctx, binding))

	got, err := st.QueryBy(ctx, store.Eq("id", existing.ID))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "new", got[0].LocalDigest)
	assert.Equal(t, pairstate.LocalModified, got[0].LocalState)
}

func TestScanAlignsNewEntryWithRemoteOnlyPairByDigest(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	binding := &pairstate.ServerBinding{LocalFolder: "/home/user/sync"}
	require.NoError(t, st.SaveBinding(ctx, binding))

	remoteOnly := &pairstate.PairState{
		LocalFolder: binding.LocalFolder, ServerBindingID: binding.ID,
		RemoteParentPath: pairstate.RootLocalPath, RemoteName: "a.txt", RemoteDigest: "d1",
		LocalState: pairstate.LocalUnknown, RemoteState: pairstate.RemoteCreated,
	}
	require.NoError(t, st.Add(ctx, remoteOnly))

	client := &fakeLocalClient{
		children: map[string][]*localclient.Info{
			pairstate.RootLocalPath: {{Path: "/a.txt", Name: "a.txt", Digest: "d1"}},
		},
		digests: map[string]string{"/a.txt": "d1"},
	}

	scanner := NewScanner(client, st, nil)
	require.NoError(t, scanner.Scan(ctx, binding))

	got, err := st.QueryBy(ctx, store.Eq("id", remoteOnly.ID))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "/a.txt", got[0].LocalPath)
	assert.Equal(t, pairstate.LocalSynchronized, got[0].LocalState)

	// No duplicate pair was created for the same local path.
	all, err := st.QueryBy(ctx, store.Eq("local_folder", binding.LocalFolder))
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestScanMarksVanishedFolderSubtreeDeletedRecursively(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	binding := &pairstate.ServerBinding{LocalFolder: "/home/user/sync"}
	require.NoError(t, st.SaveBinding(ctx, binding))

	folder := &pairstate.PairState{
		LocalFolder: binding.LocalFolder, ServerBindingID: binding.ID,
		LocalPath: "/dir", LocalParentPath: pairstate.RootLocalPath, Folderish: true,
		RemoteRef:  "dir-ref",
		LocalState: pairstate.LocalSynchronized,
	}
	require.NoError(t, st.Add(ctx, folder))

	child := &pairstate.PairState{
		LocalFolder: binding.LocalFolder, ServerBindingID: binding.ID,
		LocalPath: "/dir/child.txt", LocalParentPath: "/dir",
		RemoteRef:  "child-ref",
		LocalState: pairstate.LocalSynchronized,
	}
	require.NoError(t, st.Add(ctx, child))

	// Nothing claims /dir anymore: scanDir is never called again for it, so
	// markDeleted alone must walk the subtree from the DB.
	client := &fakeLocalClient{children: map[string][]*localclient.Info{pairstate.RootLocalPath: {}}}

	scanner := NewScanner(client, st, nil)
	require.NoError(t, scanner.Scan(ctx, binding))

	got, err := st.QueryBy(ctx, store.Eq("id", folder.ID))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, pairstate.LocalDeleted, got[0].LocalState)
	assert.Equal(t, "/dir", got[0].LocalPath, "deleted folder keeps its path so the move detector can read its former children")

	gotChild, err := st.QueryBy(ctx, store.Eq("id", child.ID))
	require.NoError(t, err)
	require.Len(t, gotChild, 1)
	assert.Equal(t, pairstate.LocalDeleted, gotChild[0].LocalState, "descendant must be marked deleted too, not left orphaned")
}

func TestScanPurgesLocalOnlyRowOnDeletion(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	binding := &pairstate.ServerBinding{LocalFolder: "/home/user/sync"}
	require.NoError(t, st.SaveBinding(ctx, binding))

	localOnly := &pairstate.PairState{
		LocalFolder: binding.LocalFolder, ServerBindingID: binding.ID,
		LocalPath: "/scratch.txt", LocalParentPath: pairstate.RootLocalPath,
		LocalState: pairstate.LocalSynchronized,
	}
	require.NoError(t, st.Add(ctx, localOnly))

	client := &fakeLocalClient{children: map[string][]*localclient.Info{pairstate.RootLocalPath: {}}}

	scanner := NewScanner(client, st, nil)
	require.NoError(t, scanner.Scan(ctx, binding))

	got, err := st.QueryBy(ctx, store.Eq("id", localOnly.ID))
	require.NoError(t, err)
	assert.Empty(t, got, "a local-only row must be purged outright, not left as a permanent zombie")
}

func TestScanRecursesIntoSubdirectories(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	binding := &pairstate.ServerBinding{LocalFolder: "/home/user/sync"}
	require.NoError(t, st.SaveBinding(ctx, binding))

	client := &fakeLocalClient{
		children: map[string][]*localclient.Info{
			pairstate.RootLocalPath: {{Path: "/dir", Name: "dir", Folderish: true}},
			"/dir":                  {{Path: "/dir/child.txt", Name: "child.txt", Digest: "d1"}},
		},
		digests: map[string]string{"/dir/child.txt": "d1"},
	}

	scanner := NewScanner(client, st, nil)
	require.NoError(t, scanner.Scan(ctx, binding))

	got, err := st.QueryBy(ctx, store.Eq("local_folder", binding.LocalFolder), store.Eq("local_path", "/dir/child.txt"))
	require.NoError(t, err)
	require.Len(t, got, 1)
}
