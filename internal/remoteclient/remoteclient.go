// Package remoteclient declares the Remote FS Client boundary (spec.md §6).
// Authentication, the concrete REST endpoints, and the wire format of the
// change-feed protocol are explicitly out of scope (spec.md §1); every
// in-scope component depends only on this interface.
package remoteclient

import "context"

// Info is the remote metadata the scanner and resolver need about one node.
type Info struct {
	Ref             string
	ParentRef       string
	Name            string
	Folderish       bool
	Digest          string
	CanCreateChild  bool
	CanRename       bool
	CanDelete       bool
}

// FSItem is the payload of one change-feed event: the current remote state
// of the changed node, or nil when the event is a deletion.
type FSItem struct {
	Ref       string
	ParentRef string
	Name      string
	Folderish bool
	Digest    string
}

// ChangeEvent is a single entry in a change summary (spec.md §4.E).
type ChangeEvent struct {
	EventDate int64 // unix nanoseconds, used to resolve "most recent wins"
	RemoteRef string
	ParentUID string
	FSItem    *FSItem // nil means the node was deleted
}

// ChangeSummary is the result of polling the remote change feed
// (spec.md §6 "get_changes").
type ChangeSummary struct {
	FileSystemChanges              []ChangeEvent
	SyncDate                       int64
	ActiveSynchronizationRootDefs  string
	HasTooManyChanges              bool
}

// Client is the Remote FS Client contract (spec.md §6).
type Client interface {
	GetInfo(ctx context.Context, ref string, raiseIfMissing bool) (*Info, error)
	GetChildrenInfo(ctx context.Context, uid string) ([]*Info, error)
	GetChanges(ctx context.Context, lastSyncDate int64, lastRootDefinitions string) (*ChangeSummary, error)
	StreamContent(ctx context.Context, ref, destPath string) (tmpPath string, err error)
	StreamUpdate(ctx context.Context, ref, absPath, filename string) error
	StreamFile(ctx context.Context, parentRef, absPath, filename string) (ref string, err error)
	MakeFolder(ctx context.Context, parentRef, name string) (ref string, err error)
	Rename(ctx context.Context, ref, name string) (*Info, error)
	Move(ctx context.Context, ref, targetParentRef string) (*Info, error)
	CanMove(ctx context.Context, ref, targetRef string) (bool, error)
	Delete(ctx context.Context, ref string) error
	ConflictedName(ctx context.Context, localName string) (string, error)
}
