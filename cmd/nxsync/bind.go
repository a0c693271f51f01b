package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/nxsync/internal/pairstate"
	"github.com/tonimelisma/nxsync/internal/store"
)

func newBindCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bind",
		Short: "Manage server bindings (add, list, remove)",
		Long:  "A binding anchors one local folder to one remote server root. The scheduler syncs every non-invalid binding on each pass.",
	}

	cmd.AddCommand(newBindAddCmd())
	cmd.AddCommand(newBindListCmd())
	cmd.AddCommand(newBindRemoveCmd())

	return cmd
}

func newBindAddCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "add <local-folder> <server-url>",
		Short: "Create a new binding",
		Args:  cobra.ExactArgs(2),
		RunE:  runBindAdd,
	}
}

func runBindAdd(cmd *cobra.Command, args []string) error {
	cc := mustCLIContext(cmd.Context())
	ctx := cmd.Context()

	localFolder, err := filepath.Abs(args[0])
	if err != nil {
		return fmt.Errorf("resolving local folder %s: %w", args[0], err)
	}

	serverURL := args[1]

	existing, err := cc.Store.ListBindings(ctx)
	if err != nil {
		return fmt.Errorf("listing existing bindings: %w", err)
	}

	for _, b := range existing {
		if b.LocalFolder == localFolder {
			return fmt.Errorf("a binding already exists for %s", localFolder)
		}
	}

	b := &pairstate.ServerBinding{
		LocalFolder: localFolder,
		ServerURL:   serverURL,
	}

	if err := cc.Store.SaveBinding(ctx, b); err != nil {
		return fmt.Errorf("saving binding: %w", err)
	}

	if err := cc.Store.Commit(ctx); err != nil {
		return fmt.Errorf("committing binding: %w", err)
	}

	statusf("Bound %s to %s (id %s)", localFolder, serverURL, b.ID)

	return nil
}

func newBindListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List configured bindings",
		RunE:  runBindList,
	}
}

func runBindList(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())
	ctx := cmd.Context()

	bindings, err := cc.Store.ListBindings(ctx)
	if err != nil {
		return fmt.Errorf("listing bindings: %w", err)
	}

	if len(bindings) == 0 {
		statusf("No bindings configured. Run 'nxsync bind add <local-folder> <server-url>' to add one.")
		return nil
	}

	if flagJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")

		if err := enc.Encode(bindings); err != nil {
			return fmt.Errorf("encoding JSON output: %w", err)
		}

		return nil
	}

	headers := []string{"ID", "LOCAL FOLDER", "SERVER", "LAST SYNC", "STATE"}
	rows := make([][]string, len(bindings))

	for i, b := range bindings {
		state := "ready"
		if b.InvalidCredentials {
			state = "needs re-authentication"
		}

		rows[i] = []string{b.ID, b.LocalFolder, b.ServerURL, formatRelativeTime(b.LastSyncDate), state}
	}

	printTable(os.Stdout, headers, rows)

	return nil
}

func newBindRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rm <binding-id>",
		Short: "Remove a binding and every pair row tracked under it",
		Args:  cobra.ExactArgs(1),
		RunE:  runBindRemove,
	}
}

func runBindRemove(cmd *cobra.Command, args []string) error {
	cc := mustCLIContext(cmd.Context())
	ctx := cmd.Context()

	id := args[0]

	b, err := cc.Store.GetBinding(ctx, id)
	if err != nil {
		return fmt.Errorf("loading binding %s: %w", id, err)
	}

	if b == nil {
		return fmt.Errorf("no binding with id %s", id)
	}

	pairs, err := cc.Store.QueryBy(ctx, store.Eq("local_folder", b.LocalFolder))
	if err != nil {
		return fmt.Errorf("listing pairs for %s: %w", b.LocalFolder, err)
	}

	for _, p := range pairs {
		if err := cc.Store.Delete(ctx, p.ID); err != nil {
			return fmt.Errorf("deleting pair %s: %w", p.ID, err)
		}
	}

	if err := cc.Store.DeleteBinding(ctx, b.ID); err != nil {
		return fmt.Errorf("deleting binding %s: %w", b.ID, err)
	}

	if err := cc.Store.Commit(ctx); err != nil {
		return fmt.Errorf("committing removal: %w", err)
	}

	statusf("Removed binding %s (%s) and %d pair rows", b.ID, b.LocalFolder, len(pairs))

	return nil
}
