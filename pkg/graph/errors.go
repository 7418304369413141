package graph

import "errors"

// Build-time validation errors. A build that fails with any of these produces
// no store at all; a previously built snapshot keeps serving untouched.
var (
	// ErrDuplicateID means two declarations carry the same node id.
	ErrDuplicateID = errors.New("duplicate node id")

	// ErrUnresolvedTarget means a relation points at an id that is not part
	// of the declaration set (and external targets are not allowed).
	ErrUnresolvedTarget = errors.New("unresolved relation target")

	// ErrUnknownRelationType means a relation type string is outside the
	// closed twenty-entry vocabulary.
	ErrUnknownRelationType = errors.New("unknown relation type")

	// ErrUnknownKind means a node kind string is outside the closed kind set.
	ErrUnknownKind = errors.New("unknown node kind")
)

// Serving-time errors.
var (
	// ErrUnknownStartNode means a traversal start id did not resolve.
	ErrUnknownStartNode = errors.New("unknown start node")
)

// Snapshot decode errors.
var (
	// ErrBadSnapshot means the snapshot payload is structurally invalid.
	ErrBadSnapshot = errors.New("malformed snapshot")

	// ErrVersionMismatch means the snapshot was written by an incompatible
	// format version. The relation vocabulary is tied to the format version,
	// so there is no forward compatibility path.
	ErrVersionMismatch = errors.New("snapshot format version mismatch")
)
