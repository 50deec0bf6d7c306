package forkchoice

import "github.com/pkg/errors"

// ErrInvariantViolated signals that an internal assertion about the
// compressed tree's structure failed (e.g. an interior node ended up with
// exactly one child and no weight). It should never fire in a correct
// build; when it does, it indicates a bug, not a recoverable condition, and
// must propagate loudly per spec.md §7.
var ErrInvariantViolated = errors.New("compressed tree invariant violated")

// ErrNotInTree is returned by Prune when asked to finalize a node that is
// not reachable from the tree's current root.
var ErrNotInTree = errors.New("node is not part of the current tree")

// ErrNilWeigher is returned by FindHead when called with a nil Weigher.
var ErrNilWeigher = errors.New("find head requires a non-nil weigher")
