package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/nxsync/internal/pairstate"
	"github.com/tonimelisma/nxsync/internal/store"
)

func newConflictsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "conflicts",
		Short: "List unresolved conflicted pairs",
		Long: `Display every pair whose derived state is "conflicted": both sides
changed since the last synchronized snapshot.

The resolver renames the local copy aside and registers it as a new pair on
its next pass; this command lists what is still awaiting that pass.`,
		RunE: runConflicts,
	}
}

// conflictJSON is the JSON-serializable representation of one conflicted pair.
type conflictJSON struct {
	ID          string `json:"id"`
	LocalPath   string `json:"local_path"`
	RemoteRef   string `json:"remote_ref,omitempty"`
	LocalFolder string `json:"local_folder"`
}

func runConflicts(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())
	ctx := cmd.Context()

	bindings, err := cc.Store.ListBindings(ctx)
	if err != nil {
		return fmt.Errorf("listing bindings: %w", err)
	}

	var conflicts []*pairstate.PairState

	for _, b := range bindings {
		pairs, err := cc.Store.QueryBy(ctx, store.Eq("local_folder", b.LocalFolder))
		if err != nil {
			return fmt.Errorf("listing pairs for %s: %w", b.LocalFolder, err)
		}

		for _, p := range pairs {
			if p.Tag() == pairstate.TagConflicted {
				conflicts = append(conflicts, p)
			}
		}
	}

	if len(conflicts) == 0 {
		statusf("No unresolved conflicts.")
		return nil
	}

	if flagJSON {
		return printConflictsJSON(conflicts)
	}

	printConflictsTable(conflicts)

	return nil
}

func printConflictsJSON(conflicts []*pairstate.PairState) error {
	items := make([]conflictJSON, len(conflicts))

	for i, p := range conflicts {
		items[i] = conflictJSON{
			ID:          p.ID,
			LocalPath:   p.LocalPath,
			RemoteRef:   p.RemoteRef,
			LocalFolder: p.LocalFolder,
		}
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")

	if err := enc.Encode(items); err != nil {
		return fmt.Errorf("encoding JSON output: %w", err)
	}

	return nil
}

func printConflictsTable(conflicts []*pairstate.PairState) {
	headers := []string{"ID", "LOCAL PATH", "REMOTE REF", "BINDING"}
	rows := make([][]string, len(conflicts))

	for i, p := range conflicts {
		idPrefix := p.ID
		if len(idPrefix) > 8 {
			idPrefix = idPrefix[:8]
		}

		rows[i] = []string{idPrefix, p.LocalPath, p.RemoteRef, p.LocalFolder}
	}

	printTable(os.Stdout, headers, rows)
}
