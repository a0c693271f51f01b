// Package pairstate defines the central data model of the sync engine: the
// PairState row that joins a local filesystem node to a remote document, and
// the ServerBinding that anchors a pair tree to one remote account.
package pairstate

import "fmt"

// LocalState and RemoteState are the two independent observation axes a
// scanner updates. PairState is always a pure function of the two
// (data-model.md / spec.md §3 invariant 5).
type LocalState string

// Values a PairState's LocalState column can hold.
const (
	LocalUnknown      LocalState = "unknown"
	LocalCreated      LocalState = "created"
	LocalModified     LocalState = "modified"
	LocalDeleted      LocalState = "deleted"
	LocalSynchronized LocalState = "synchronized"
)

// RemoteState mirrors LocalState for the remote side.
type RemoteState string

// Values a PairState's RemoteState column can hold.
const (
	RemoteUnknown      RemoteState = "unknown"
	RemoteCreated      RemoteState = "created"
	RemoteModified     RemoteState = "modified"
	RemoteDeleted      RemoteState = "deleted"
	RemoteSynchronized RemoteState = "synchronized"
)

// Tag is the closed set of pair-state tags the resolver dispatches on
// (spec.md §4.G, GLOSSARY "Pair state"). It is a string type rather than an
// int so stored rows stay human-readable, but every constructor and switch
// over Tag in this module is exhaustive — adding a tag here requires
// updating Derive and every resolver handler switch, which is the point of
// the "dynamic handler dispatch" redesign flag (spec.md §9).
type Tag string

// The closed set of pair-state tags.
const (
	TagSynchronized    Tag = "synchronized"
	TagLocallyModified Tag = "locally_modified"
	TagRemotelyModified Tag = "remotely_modified"
	TagLocallyCreated  Tag = "locally_created"
	TagRemotelyCreated Tag = "remotely_created"
	TagLocallyDeleted  Tag = "locally_deleted"
	TagRemotelyDeleted Tag = "remotely_deleted"
	TagDeleted         Tag = "deleted"
	TagConflicted      Tag = "conflicted"
	TagUnknown         Tag = "unknown"
)

// RootLocalPath is the sentinel local_path value for a binding's root pair.
const RootLocalPath = "/"

// PairState is a row joining a local node and a remote node the engine
// believes correspond. Either side may be absent (spec.md §3).
type PairState struct {
	// Identity
	ID             string
	LocalFolder    string // root identifier the pair belongs to
	ServerBindingID string

	// Local side
	LocalPath       string // empty means absent
	LocalParentPath string
	LocalName       string
	LocalDigest     string // empty for folders or when unknown
	Folderish       bool

	// Remote side
	RemoteRef            string // empty means absent
	RemoteParentRef      string
	RemoteParentPath     string // materialized path of refs
	RemoteName           string
	RemoteDigest         string
	RemoteCanCreateChild bool
	RemoteCanRename      bool
	RemoteCanDelete      bool

	// State
	LocalState  LocalState
	RemoteState RemoteState

	// Bookkeeping
	LastSyncErrorDate int64 // unix nanoseconds; 0 means never errored
}

// HasLocal reports whether the pair currently has a local-side counterpart.
func (p *PairState) HasLocal() bool {
	return p.LocalPath != ""
}

// HasRemote reports whether the pair currently has a remote-side counterpart.
func (p *PairState) HasRemote() bool {
	return p.RemoteRef != ""
}

// IsRoot reports whether this pair is the root of its binding (invariant 1).
func (p *PairState) IsRoot() bool {
	return p.LocalPath == RootLocalPath
}

// Tag derives the closed pair_state tag from (LocalState,
// RemoteState) per spec.md §3 invariant 5 and the GLOSSARY definition.
// This is the ONLY place that maps the two axes to a tag: every other
// component reads Tag() rather than re-deriving it, so invariant 5 holds by
// construction.
func (p *PairState) Tag() Tag {
	return Derive(p.LocalState, p.RemoteState)
}

// Derive computes the pair_state tag for a given (local, remote) pair. It is
// a pure function, matching invariant 5 exactly: the same input always
// yields the same tag, independent of any other pair field.
func Derive(local LocalState, remote RemoteState) Tag {
	switch {
	case local == LocalDeleted && remote == RemoteDeleted:
		return TagDeleted
	case local == LocalDeleted:
		return TagLocallyDeleted
	case remote == RemoteDeleted:
		return TagRemotelyDeleted
	case local == LocalModified && remote == RemoteModified:
		return TagConflicted
	case local == LocalCreated && remote == RemoteCreated:
		return TagConflicted
	case local == LocalModified:
		return TagLocallyModified
	case remote == RemoteModified:
		return TagRemotelyModified
	case local == LocalCreated:
		return TagLocallyCreated
	case remote == RemoteCreated:
		return TagRemotelyCreated
	case local == LocalSynchronized && remote == RemoteSynchronized:
		return TagSynchronized
	default:
		return TagUnknown
	}
}

// ServerBinding is the cursor into one remote account's change stream
// (spec.md §3 "ServerBinding").
type ServerBinding struct {
	ID                    string
	LocalFolder           string // local root path for this binding
	ServerURL             string
	Credentials           string // opaque; interpreted by the RemoteClient
	LastSyncDate          int64  // unix nanoseconds
	LastRootDefinitions   string // opaque cursor blob returned by the remote change feed
	InvalidCredentials    bool
}

// String renders a tag for logging.
func (t Tag) String() string { return string(t) }

// Validate reports a non-nil error if the pair violates invariant 6 (at
// least one side present) or invariant 7 (canonical local_path) of spec.md
// §3. The other invariants are not checked here, and the store does not
// check them either.
func (p *PairState) Validate() error {
	if !p.HasLocal() && !p.HasRemote() {
		return fmt.Errorf("pairstate %s: both sides absent (invariant 6 violated)", p.ID)
	}

	if p.HasLocal() && p.LocalPath != RootLocalPath {
		if p.LocalPath == "" || (len(p.LocalPath) > 1 && p.LocalPath[len(p.LocalPath)-1] == '/') {
			return fmt.Errorf("pairstate %s: local_path %q not canonical (invariant 7 violated)", p.ID, p.LocalPath)
		}
	}

	return nil
}
