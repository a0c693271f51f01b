// Package localclient declares the Local FS Client boundary (spec.md §6).
// Path normalization, digest computation, and atomic rename are the
// concern of a concrete implementation outside this module's scope; every
// in-scope component (internal/localscan, internal/resolver) depends only
// on this interface.
package localclient

import "context"

// Info is the filesystem metadata the scanner and resolver need about one
// local node.
type Info struct {
	Path      string // tree-rooted path
	FilePath  string // absolute OS path
	Folderish bool
	Name      string
	Digest    string // empty for folders
	MTime     int64  // unix nanoseconds
}

// Client is the Local FS Client contract (spec.md §6).
type Client interface {
	GetInfo(ctx context.Context, path string) (*Info, error)
	GetChildrenInfo(ctx context.Context, path string) ([]*Info, error)
	// GetDigest may return an error on concurrent access (locked file); the
	// scanner treats that as a swallowed per-child failure (spec.md §4.D).
	GetDigest(ctx context.Context, path string) (string, error)
	MakeFolder(ctx context.Context, parent, name string) (string, error)
	// GetNewFile reserves a temp slot for a new download, returning the
	// final tree path, the absolute OS path to write to, and the name.
	GetNewFile(ctx context.Context, parent, name string) (path, osPath, finalName string, err error)
	Rename(ctx context.Context, path, newName string) (*Info, error)
	Move(ctx context.Context, path, newParentPath string) (*Info, error)
	Delete(ctx context.Context, path string) error
	GetPath(ctx context.Context, absPath string) (string, error)
}
