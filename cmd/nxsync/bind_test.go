package main

import (
	"context"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/nxsync/internal/store"
)

// newTestCLIContext builds a CLIContext backed by an in-memory store and
// returns a bare *cobra.Command carrying it, so runXxx functions can be
// called directly without going through PersistentPreRunE's real config/data
// directory setup.
func newTestCLIContext(t *testing.T) *cobra.Command {
	t.Helper()

	s, err := store.NewStore(context.Background(), ":memory:", nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	cc := &CLIContext{Store: s}
	cmd := &cobra.Command{}
	cmd.SetContext(context.WithValue(context.Background(), cliContextKey{}, cc))

	return cmd
}

func TestRunBindAddCreatesBinding(t *testing.T) {
	cmd := newTestCLIContext(t)

	require.NoError(t, runBindAdd(cmd, []string{"/home/user/sync", "https://server.example/root"}))

	cc := mustCLIContext(cmd.Context())
	bindings, err := cc.Store.ListBindings(cmd.Context())
	require.NoError(t, err)
	require.Len(t, bindings, 1)
	assert.Equal(t, "https://server.example/root", bindings[0].ServerURL)
}

func TestRunBindAddRejectsDuplicateLocalFolder(t *testing.T) {
	cmd := newTestCLIContext(t)

	require.NoError(t, runBindAdd(cmd, []string{"/home/user/sync", "https://server.example/root"}))
	err := runBindAdd(cmd, []string{"/home/user/sync", "https://server.example/other"})
	assert.Error(t, err)
}

func TestRunBindListEmptyIsNotAnError(t *testing.T) {
	cmd := newTestCLIContext(t)
	assert.NoError(t, runBindList(cmd, nil))
}

func TestRunBindRemoveDeletesBindingAndPairs(t *testing.T) {
	cmd := newTestCLIContext(t)
	cc := mustCLIContext(cmd.Context())

	require.NoError(t, runBindAdd(cmd, []string{"/home/user/sync", "https://server.example/root"}))

	bindings, err := cc.Store.ListBindings(cmd.Context())
	require.NoError(t, err)
	require.Len(t, bindings, 1)

	require.NoError(t, runBindRemove(cmd, []string{bindings[0].ID}))

	got, err := cc.Store.ListBindings(cmd.Context())
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestRunBindRemoveUnknownIDErrors(t *testing.T) {
	cmd := newTestCLIContext(t)
	err := runBindRemove(cmd, []string{"does-not-exist"})
	assert.Error(t, err)
}
