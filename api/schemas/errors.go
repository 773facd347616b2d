package schemas

import "errors"

// Sentinel errors shared across store backends. Callers check them with
// errors.Is; backends wrap them with the offending id for context.
var (
	// ErrUnknownNode is returned when an operation references a node id
	// that does not exist in the store.
	ErrUnknownNode = errors.New("unknown node")

	// ErrTreeNotFound is returned when a tree id or name matches nothing.
	ErrTreeNotFound = errors.New("tree not found")
)
