package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/nxsync/internal/pairstate"
)

func TestRunStatusWithNoBindingsIsNotAnError(t *testing.T) {
	cmd := newTestCLIContext(t)
	require.NoError(t, runStatus(cmd, nil))
}

func TestRunStatusCountsDirtyAndDeletedPairs(t *testing.T) {
	cmd := newTestCLIContext(t)
	cc := mustCLIContext(cmd.Context())
	ctx := cmd.Context()

	binding := &pairstate.ServerBinding{LocalFolder: "/home/user/sync"}
	require.NoError(t, cc.Store.SaveBinding(ctx, binding))

	require.NoError(t, cc.Store.Add(ctx, &pairstate.PairState{
		LocalFolder: binding.LocalFolder, ServerBindingID: binding.ID, LocalPath: "/dirty.txt",
		LocalState: pairstate.LocalModified, RemoteState: pairstate.RemoteSynchronized,
	}))
	require.NoError(t, cc.Store.Add(ctx, &pairstate.PairState{
		LocalFolder: binding.LocalFolder, ServerBindingID: binding.ID, LocalPath: "/gone.txt",
		LocalState: pairstate.LocalDeleted, RemoteState: pairstate.RemoteDeleted,
	}))

	dirty, err := cc.Store.DirtyCount(ctx, binding.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, dirty)

	deleted, err := cc.Store.DeletedCount(ctx, binding.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, deleted)

	require.NoError(t, runStatus(cmd, nil))
}

func TestRunStatusJSONOutput(t *testing.T) {
	cmd := newTestCLIContext(t)
	cc := mustCLIContext(cmd.Context())
	ctx := cmd.Context()

	binding := &pairstate.ServerBinding{LocalFolder: "/home/user/sync"}
	require.NoError(t, cc.Store.SaveBinding(ctx, binding))

	flagJSON = true
	defer func() { flagJSON = false }()

	require.NoError(t, runStatus(cmd, nil))
}
