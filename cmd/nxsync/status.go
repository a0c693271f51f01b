package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show every binding's pending and deleted pair counts",
		Long: `Display the state of all configured server bindings.

Shows the local root, last sync time, and the number of dirty (not
synchronized) and deleted-pending-purge pairs tracked for each binding.`,
		RunE: runStatus,
	}
}

// bindingStatus is the JSON-serializable representation of one binding's status.
type bindingStatus struct {
	ID                  string `json:"id"`
	LocalFolder         string `json:"local_folder"`
	ServerURL           string `json:"server_url"`
	InvalidCredentials  bool   `json:"invalid_credentials"`
	LastSyncDate        string `json:"last_sync_date"`
	DirtyCount          int    `json:"dirty_count"`
	DeletedCount        int    `json:"deleted_count"`
}

func runStatus(cmd *cobra.Command, _ []string) error {
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

	statuses := make([]bindingStatus, 0, len(bindings))

	for _, b := range bindings {
		dirty, err := cc.Store.DirtyCount(ctx, b.ID)
		if err != nil {
			return fmt.Errorf("counting dirty pairs for %s: %w", b.LocalFolder, err)
		}

		deleted, err := cc.Store.DeletedCount(ctx, b.ID)
		if err != nil {
			return fmt.Errorf("counting deleted pairs for %s: %w", b.LocalFolder, err)
		}

		statuses = append(statuses, bindingStatus{
			ID:                 b.ID,
			LocalFolder:        b.LocalFolder,
			ServerURL:          b.ServerURL,
			InvalidCredentials: b.InvalidCredentials,
			LastSyncDate:       formatRelativeTime(b.LastSyncDate),
			DirtyCount:         dirty,
			DeletedCount:       deleted,
		})
	}

	if flagJSON {
		return printStatusJSON(statuses)
	}

	printStatusTable(statuses)

	return nil
}

func printStatusJSON(statuses []bindingStatus) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")

	if err := enc.Encode(statuses); err != nil {
		return fmt.Errorf("encoding JSON output: %w", err)
	}

	return nil
}

func printStatusTable(statuses []bindingStatus) {
	headers := []string{"LOCAL FOLDER", "SERVER", "LAST SYNC", "DIRTY", "DELETED", "STATE"}
	rows := make([][]string, len(statuses))

	for i, s := range statuses {
		state := "ready"
		if s.InvalidCredentials {
			state = "needs re-authentication"
		}

		rows[i] = []string{
			s.LocalFolder, s.ServerURL, s.LastSyncDate,
			formatCount(s.DirtyCount), formatCount(s.DeletedCount), state,
		}
	}

	printTable(os.Stdout, headers, rows)
}
