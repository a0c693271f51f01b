// Package store implements the persistent Pair-State Store (spec.md §4.A):
// a SQLite-backed table of pairstate.PairState rows with equality-filtered
// queries, a mark-and-sweep primitive for deletion detection, and
// session/commit semantics so a handler's reads stay stable until it
// commits. Grounded on the teacher's internal/sync SQLiteStore
// (prepared-statement groups, WAL pragmas, goose migrations).
package store

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite" // pure Go driver, registers as "sqlite"

	"github.com/tonimelisma/nxsync/internal/pairstate"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// walJournalSizeLimit caps the WAL file at 64 MiB before a checkpoint is forced.
const walJournalSizeLimit = 67108864

// DefaultPageSize is the mark-and-sweep paging size (spec.md §6 tunables).
const DefaultPageSize = 100

// Filter is one equality constraint in a QueryBy call. Column must be one of
// the indexed attributes named in spec.md §4.A.
type Filter struct {
	Column string
	Value  any
}

// Eq builds a Filter for a column/value equality constraint.
func Eq(column string, value any) Filter { return Filter{Column: column, Value: value} }

// allowedColumns whitelists the columns QueryBy/NotSelected may filter on:
// spec.md §4.A's enumerated filter set and composite indexes, plus
// local_name/remote_name which §4.F's folder move/rename candidate query
// ("local_name equal OR local_parent_path equal") requires filtering on.
var allowedColumns = map[string]bool{
	"local_folder":      true,
	"local_path":        true,
	"local_parent_path": true,
	"local_name":        true,
	"remote_ref":        true,
	"remote_parent_ref": true,
	"remote_name":       true,
	"folderish":         true,
	"local_digest":      true,
	"remote_digest":     true,
	"local_state":       true,
	"remote_state":      true,
	"server_binding_id": true,
	"id":                true,
}

// SelectionKind names which identity column MarkSelection tags against.
type SelectionKind int

// The two mark-and-sweep identity kinds named in spec.md §4.A.
const (
	SelectionLocalPaths SelectionKind = iota
	SelectionRemoteRefs
)

func (k SelectionKind) column() string {
	if k == SelectionRemoteRefs {
		return "remote_ref"
	}
	return "local_path"
}

// Store is the Pair-State Store contract (spec.md §4.A).
type Store interface {
	QueryBy(ctx context.Context, filters ...Filter) ([]*pairstate.PairState, error)
	MarkSelection(ctx context.Context, kind SelectionKind, keys []string, pageSize int) (string, error)
	NotSelected(ctx context.Context, tag string, filters ...Filter) ([]*pairstate.PairState, error)
	Add(ctx context.Context, p *pairstate.PairState) error
	Update(ctx context.Context, p *pairstate.PairState) error
	Delete(ctx context.Context, id string) error
	Commit(ctx context.Context) error
	DirtyCount(ctx context.Context, serverBindingID string) (int, error)
	DeletedCount(ctx context.Context, serverBindingID string) (int, error)

	// ServerBinding bookkeeping.
	GetBinding(ctx context.Context, id string) (*pairstate.ServerBinding, error)
	ListBindings(ctx context.Context) ([]*pairstate.ServerBinding, error)
	SaveBinding(ctx context.Context, b *pairstate.ServerBinding) error
	DeleteBinding(ctx context.Context, id string) error
	Checkpoint(ctx context.Context, bindingID string, syncDate int64, rootDefs string) error

	Close() error
}

// SQLiteStore implements Store with an embedded pure-Go SQLite database in
// WAL mode. A single long-lived transaction buffers every write; Commit
// publishes it to other readers (a separate connection, or the UI) and opens
// a fresh transaction, giving handlers snapshot-consistent reads until they
// commit (spec.md §4.A "session semantics").
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
	tx     *sql.Tx
}

// NewStore opens dbPath (use ":memory:" for tests), applies pragmas and
// migrations, and begins the first buffering transaction.
func NewStore(ctx context.Context, dbPath string, logger *slog.Logger) (*SQLiteStore, error) {
	if logger == nil {
		logger = slog.Default()
	}

	logger.Info("opening pair-state database", "path", dbPath)

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("store: open sqlite: %w", err)
	}

	if err := setPragmas(ctx, db); err != nil {
		db.Close()
		return nil, err
	}

	if err := runMigrations(ctx, db); err != nil {
		db.Close()
		return nil, err
	}

	s := &SQLiteStore{db: db, logger: logger}

	if err := s.beginTx(ctx); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

func setPragmas(ctx context.Context, db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = FULL",
		"PRAGMA foreign_keys = ON",
		fmt.Sprintf("PRAGMA journal_size_limit = %d", walJournalSizeLimit),
	}

	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			return fmt.Errorf("store: set pragma %q: %w", p, err)
		}
	}

	return nil
}

func runMigrations(ctx context.Context, db *sql.DB) error {
	subFS, err := fs.Sub(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("store: migration sub-filesystem: %w", err)
	}

	provider, err := goose.NewProvider(goose.DialectSQLite3, db, subFS)
	if err != nil {
		return fmt.Errorf("store: creating migration provider: %w", err)
	}

	if _, err := provider.Up(ctx); err != nil {
		return fmt.Errorf("store: running migrations: %w", err)
	}

	return nil
}

func (s *SQLiteStore) beginTx(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin transaction: %w", err)
	}

	s.tx = tx

	return nil
}

// Close commits nothing; it rolls back any uncommitted buffered writes and
// closes the database. Callers must Commit before Close if pending writes
// should be kept.
func (s *SQLiteStore) Close() error {
	if s.tx != nil {
		_ = s.tx.Rollback()
	}

	return s.db.Close()
}

// Commit publishes the buffered transaction and opens a fresh one.
func (s *SQLiteStore) Commit(ctx context.Context) error {
	if err := s.tx.Commit(); err != nil {
		return fmt.Errorf("store: commit: %w", err)
	}

	return s.beginTx(ctx)
}

const pairColumns = `id, local_folder, server_binding_id, local_path, local_parent_path,
	local_name, local_digest, folderish, remote_ref, remote_parent_ref,
	remote_parent_path, remote_name, remote_digest, remote_can_create_child,
	remote_can_rename, remote_can_delete, local_state, remote_state,
	last_sync_error_date`

func scanPair(row *sql.Rows) (*pairstate.PairState, error) {
	p := &pairstate.PairState{}

	err := row.Scan(
		&p.ID, &p.LocalFolder, &p.ServerBindingID, &p.LocalPath, &p.LocalParentPath,
		&p.LocalName, &p.LocalDigest, &p.Folderish, &p.RemoteRef, &p.RemoteParentRef,
		&p.RemoteParentPath, &p.RemoteName, &p.RemoteDigest, &p.RemoteCanCreateChild,
		&p.RemoteCanRename, &p.RemoteCanDelete, &p.LocalState, &p.RemoteState,
		&p.LastSyncErrorDate,
	)
	if err != nil {
		return nil, fmt.Errorf("store: scan pair row: %w", err)
	}

	return p, nil
}

func buildWhere(filters []Filter, extra string) (string, []any, error) {
	clauses := make([]string, 0, len(filters)+1)
	args := make([]any, 0, len(filters)+1)

	for _, f := range filters {
		if !allowedColumns[f.Column] {
			return "", nil, fmt.Errorf("store: column %q is not filterable", f.Column)
		}

		clauses = append(clauses, fmt.Sprintf("%s = ?", f.Column))
		args = append(args, f.Value)
	}

	if extra != "" {
		clauses = append(clauses, extra)
	}

	if len(clauses) == 0 {
		return "", args, nil
	}

	return "WHERE " + strings.Join(clauses, " AND "), args, nil
}

// QueryBy returns every pair matching all given equality filters.
func (s *SQLiteStore) QueryBy(ctx context.Context, filters ...Filter) ([]*pairstate.PairState, error) {
	where, args, err := buildWhere(filters, "")
	if err != nil {
		return nil, err
	}

	rows, err := s.tx.QueryContext(ctx, "SELECT "+pairColumns+" FROM pair_state "+where, args...)
	if err != nil {
		return nil, fmt.Errorf("store: query_by: %w", err)
	}
	defer rows.Close()

	var result []*pairstate.PairState

	for rows.Next() {
		p, err := scanPair(rows)
		if err != nil {
			return nil, err
		}

		result = append(result, p)
	}

	return result, rows.Err()
}

// MarkSelection tags every row whose identity column (local_path or
// remote_ref, per kind) is present in keys with a freshly generated tag,
// paging through keys so arbitrarily large listings stay within SQLite's
// bound-parameter limit (spec.md §4.A "mark-and-sweep").
func (s *SQLiteStore) MarkSelection(ctx context.Context, kind SelectionKind, keys []string, pageSize int) (string, error) {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}

	tag := uuid.NewString()
	column := kind.column()

	for start := 0; start < len(keys); start += pageSize {
		end := start + pageSize
		if end > len(keys) {
			end = len(keys)
		}

		page := keys[start:end]
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(page)), ",")

		args := make([]any, 0, len(page)+1)
		args = append(args, tag)
		for _, k := range page {
			args = append(args, k)
		}

		q := fmt.Sprintf("UPDATE pair_state SET scan_tag = ? WHERE %s IN (%s)", column, placeholders)
		if _, err := s.tx.ExecContext(ctx, q, args...); err != nil {
			return "", fmt.Errorf("store: mark_selection: %w", err)
		}
	}

	return tag, nil
}

// NotSelected returns rows matching filters whose scan_tag is not the given
// tag: rows present in the DB but absent from the most recent fresh listing
// passed to MarkSelection.
func (s *SQLiteStore) NotSelected(ctx context.Context, tag string, filters ...Filter) ([]*pairstate.PairState, error) {
	where, args, err := buildWhere(filters, "(scan_tag IS NULL OR scan_tag != ?)")
	if err != nil {
		return nil, err
	}

	args = append(args, tag)

	rows, err := s.tx.QueryContext(ctx, "SELECT "+pairColumns+" FROM pair_state "+where, args...)
	if err != nil {
		return nil, fmt.Errorf("store: not_selected: %w", err)
	}
	defer rows.Close()

	var result []*pairstate.PairState

	for rows.Next() {
		p, err := scanPair(rows)
		if err != nil {
			return nil, err
		}

		result = append(result, p)
	}

	return result, rows.Err()
}

// Add inserts a new pair row, assigning a UUID if p.ID is empty.
func (s *SQLiteStore) Add(ctx context.Context, p *pairstate.PairState) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}

	_, err := s.tx.ExecContext(ctx, `
		INSERT INTO pair_state (`+pairColumns+`)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		p.ID, p.LocalFolder, p.ServerBindingID, p.LocalPath, p.LocalParentPath,
		p.LocalName, p.LocalDigest, p.Folderish, p.RemoteRef, p.RemoteParentRef,
		p.RemoteParentPath, p.RemoteName, p.RemoteDigest, p.RemoteCanCreateChild,
		p.RemoteCanRename, p.RemoteCanDelete, p.LocalState, p.RemoteState,
		p.LastSyncErrorDate,
	)
	if err != nil {
		return fmt.Errorf("store: add pair %s: %w", p.ID, err)
	}

	return nil
}

// Update overwrites an existing pair row in place by ID.
func (s *SQLiteStore) Update(ctx context.Context, p *pairstate.PairState) error {
	_, err := s.tx.ExecContext(ctx, `
		UPDATE pair_state SET
			local_folder=?, server_binding_id=?, local_path=?, local_parent_path=?,
			local_name=?, local_digest=?, folderish=?, remote_ref=?, remote_parent_ref=?,
			remote_parent_path=?, remote_name=?, remote_digest=?, remote_can_create_child=?,
			remote_can_rename=?, remote_can_delete=?, local_state=?, remote_state=?,
			last_sync_error_date=?
		WHERE id=?`,
		p.LocalFolder, p.ServerBindingID, p.LocalPath, p.LocalParentPath,
		p.LocalName, p.LocalDigest, p.Folderish, p.RemoteRef, p.RemoteParentRef,
		p.RemoteParentPath, p.RemoteName, p.RemoteDigest, p.RemoteCanCreateChild,
		p.RemoteCanRename, p.RemoteCanDelete, p.LocalState, p.RemoteState,
		p.LastSyncErrorDate, p.ID,
	)
	if err != nil {
		return fmt.Errorf("store: update pair %s: %w", p.ID, err)
	}

	return nil
}

// Delete removes a single pair row by ID.
func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	if _, err := s.tx.ExecContext(ctx, "DELETE FROM pair_state WHERE id = ?", id); err != nil {
		return fmt.Errorf("store: delete pair %s: %w", id, err)
	}

	return nil
}

// pairStateTagCaseSQL mirrors pairstate.Derive in SQL so dirty/deleted counts
// do not require loading every row into Go. Kept deliberately close to
// Derive's branch order; store_test.go cross-checks both against the same
// fixtures so the two never drift.
const pairStateTagCaseSQL = `
	CASE
		WHEN local_state = 'deleted' AND remote_state = 'deleted' THEN 'deleted'
		WHEN local_state = 'deleted' THEN 'locally_deleted'
		WHEN remote_state = 'deleted' THEN 'remotely_deleted'
		WHEN local_state = 'modified' AND remote_state = 'modified' THEN 'conflicted'
		WHEN local_state = 'created' AND remote_state = 'created' THEN 'conflicted'
		WHEN local_state = 'modified' THEN 'locally_modified'
		WHEN remote_state = 'modified' THEN 'remotely_modified'
		WHEN local_state = 'created' THEN 'locally_created'
		WHEN remote_state = 'created' THEN 'remotely_created'
		WHEN local_state = 'synchronized' AND remote_state = 'synchronized' THEN 'synchronized'
		ELSE 'unknown'
	END`

// DirtyCount returns the number of pairs in the binding whose derived
// pair_state is not synchronized.
func (s *SQLiteStore) DirtyCount(ctx context.Context, serverBindingID string) (int, error) {
	var n int

	q := `SELECT COUNT(*) FROM (SELECT ` + pairStateTagCaseSQL + ` AS tag FROM pair_state WHERE server_binding_id = ?) WHERE tag != 'synchronized'`
	if err := s.tx.QueryRowContext(ctx, q, serverBindingID).Scan(&n); err != nil {
		return 0, fmt.Errorf("store: dirty_count: %w", err)
	}

	return n, nil
}

// DeletedCount returns the number of pairs in the binding tagged 'deleted'
// (both sides confirmed gone, pending purge).
func (s *SQLiteStore) DeletedCount(ctx context.Context, serverBindingID string) (int, error) {
	var n int

	q := "SELECT COUNT(*) FROM pair_state WHERE server_binding_id = ? AND local_state = 'deleted' AND remote_state = 'deleted'"
	if err := s.tx.QueryRowContext(ctx, q, serverBindingID).Scan(&n); err != nil {
		return 0, fmt.Errorf("store: deleted_count: %w", err)
	}

	return n, nil
}

const bindingColumns = `id, local_folder, server_url, credentials, last_sync_date, last_root_definitions, invalid_credentials`

// GetBinding loads one ServerBinding by ID.
func (s *SQLiteStore) GetBinding(ctx context.Context, id string) (*pairstate.ServerBinding, error) {
	row := s.tx.QueryRowContext(ctx, "SELECT "+bindingColumns+" FROM server_binding WHERE id = ?", id)

	b := &pairstate.ServerBinding{}
	if err := row.Scan(&b.ID, &b.LocalFolder, &b.ServerURL, &b.Credentials, &b.LastSyncDate, &b.LastRootDefinitions, &b.InvalidCredentials); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}

		return nil, fmt.Errorf("store: get_binding %s: %w", id, err)
	}

	return b, nil
}

// ListBindings returns every configured server binding.
func (s *SQLiteStore) ListBindings(ctx context.Context) ([]*pairstate.ServerBinding, error) {
	rows, err := s.tx.QueryContext(ctx, "SELECT "+bindingColumns+" FROM server_binding")
	if err != nil {
		return nil, fmt.Errorf("store: list_bindings: %w", err)
	}
	defer rows.Close()

	var result []*pairstate.ServerBinding

	for rows.Next() {
		b := &pairstate.ServerBinding{}
		if err := rows.Scan(&b.ID, &b.LocalFolder, &b.ServerURL, &b.Credentials, &b.LastSyncDate, &b.LastRootDefinitions, &b.InvalidCredentials); err != nil {
			return nil, fmt.Errorf("store: scan binding: %w", err)
		}

		result = append(result, b)
	}

	return result, rows.Err()
}

// SaveBinding upserts a ServerBinding row.
func (s *SQLiteStore) SaveBinding(ctx context.Context, b *pairstate.ServerBinding) error {
	if b.ID == "" {
		b.ID = uuid.NewString()
	}

	_, err := s.tx.ExecContext(ctx, `
		INSERT INTO server_binding (`+bindingColumns+`) VALUES (?,?,?,?,?,?,?)
		ON CONFLICT(id) DO UPDATE SET
			local_folder=excluded.local_folder, server_url=excluded.server_url,
			credentials=excluded.credentials, last_sync_date=excluded.last_sync_date,
			last_root_definitions=excluded.last_root_definitions,
			invalid_credentials=excluded.invalid_credentials`,
		b.ID, b.LocalFolder, b.ServerURL, b.Credentials, b.LastSyncDate, b.LastRootDefinitions, b.InvalidCredentials,
	)
	if err != nil {
		return fmt.Errorf("store: save_binding %s: %w", b.ID, err)
	}

	return nil
}

// DeleteBinding removes a ServerBinding row. Callers are expected to delete
// the binding's pair rows first (see controller.Unbind); this does not
// cascade, matching Delete's single-row contract for pairs.
func (s *SQLiteStore) DeleteBinding(ctx context.Context, id string) error {
	if _, err := s.tx.ExecContext(ctx, "DELETE FROM server_binding WHERE id = ?", id); err != nil {
		return fmt.Errorf("store: delete_binding %s: %w", id, err)
	}

	return nil
}

// Checkpoint persists (last_sync_date, last_root_definitions) on a binding so
// the next change-feed request is incremental (GLOSSARY "Checkpoint").
func (s *SQLiteStore) Checkpoint(ctx context.Context, bindingID string, syncDate int64, rootDefs string) error {
	_, err := s.tx.ExecContext(ctx,
		"UPDATE server_binding SET last_sync_date = ?, last_root_definitions = ? WHERE id = ?",
		syncDate, rootDefs, bindingID,
	)
	if err != nil {
		return fmt.Errorf("store: checkpoint %s: %w", bindingID, err)
	}

	return nil
}
