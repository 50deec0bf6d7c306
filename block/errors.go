package block

import "github.com/pkg/errors"

// ErrAncestorOutOfRange is returned by PrevAtHeight when the requested
// height exceeds the block's own height. It is a programmer error: callers
// must never ask a block for an ancestor above itself.
var ErrAncestorOutOfRange = errors.New("requested height is above the block's own height")

// ErrNoCommonAncestor is returned by LCA when the two blocks do not derive
// from the same skeleton. Callers are responsible for only comparing blocks
// built from a shared genesis; this only fires if that invariant is broken.
var ErrNoCommonAncestor = errors.New("blocks do not share a common ancestor")
