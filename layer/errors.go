package layer

import "github.com/pkg/errors"

// ErrUnknownValidator is returned when an operation names a validator that
// is not a member of the ValidatorSet.
var ErrUnknownValidator = errors.New("validator is not a member of this set")

// ErrNoLayers is returned by FaultTolerance if called on a Store that was
// never built (layers is empty) — should not occur through the exported
// constructors, but guarded defensively since the formula divides by a
// term derived from the layer count.
var ErrNoLayers = errors.New("layer store has no layers")
