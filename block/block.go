// Package block implements the immutable block skeleton: a vertex in an
// arbitrarily deep block tree carrying a sparse skip-list ancestor table so
// that both "ancestor at height h" and "lowest common ancestor of two
// blocks" resolve in O(log height) instead of O(height).
package block

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"math/bits"

	"github.com/pkg/errors"
)

// SkipListLength bounds the skip-list table. 32 entries cover ancestor
// lookups for any height up to 2^32, which is far beyond any block tree a
// single fork-choice instance will ever hold in memory.
const SkipListLength = 32

// Block is an immutable vertex of the block skeleton. Blocks compare by
// identity: two distinct *Block values are never considered equal even if
// their payload and height coincide.
type Block struct {
	id       [32]byte
	parent   *Block
	height   uint64
	skipList [SkipListLength]*Block
	payload  []byte
}

// New constructs a block on top of parent (nil for genesis). height is
// parent.Height()+1, or 0 for genesis. The skip list is filled eagerly:
// skipList[0] is the parent, and skipList[i] is skipList[i-1]'s own
// skipList[i-1], i.e. the ancestor at height-2^i, when that height is
// non-negative.
func New(parent *Block, payload []byte) *Block {
	b := &Block{parent: parent, payload: payload}
	if parent != nil {
		b.height = parent.height + 1
	}
	for i := 0; i < SkipListLength; i++ {
		if i == 0 {
			b.skipList[0] = parent
			continue
		}
		if prev := b.skipList[i-1]; prev != nil {
			b.skipList[i] = prev.skipList[i-1]
		}
	}
	b.id = computeID(parent, b.height, payload)
	return b
}

func computeID(parent *Block, height uint64, payload []byte) [32]byte {
	h := sha256.New()
	if parent != nil {
		parentID := parent.id
		h.Write(parentID[:])
	} else {
		h.Write(make([]byte, 32))
	}
	var heightBuf [8]byte
	binary.BigEndian.PutUint64(heightBuf[:], height)
	h.Write(heightBuf[:])
	h.Write(payload)
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

// ID returns the block's canonical identity, used as a map key and as the
// deterministic tie-break order in GHOST head selection.
func (b *Block) ID() [32]byte { return b.id }

// Parent returns the block's immediate parent, or nil for genesis.
func (b *Block) Parent() *Block { return b.parent }

// Height returns the block's height: 0 for genesis, parent height + 1
// otherwise.
func (b *Block) Height() uint64 { return b.height }

// Payload returns the caller-supplied opaque payload this block carries.
func (b *Block) Payload() []byte { return b.payload }

// SkipAt returns the raw skip-list entry at index i, or nil if undefined.
// Exposed mainly for tests asserting the skip-list invariant
// (P1 in spec.md §8).
func (b *Block) SkipAt(i int) *Block { return b.skipList[i] }

// Less gives the deterministic total order over block identity used to
// break GHOST weight ties: lexicographic comparison of the canonical id.
func Less(a, b *Block) bool {
	return bytes.Compare(a.id[:], b.id[:]) < 0
}

// PrevAtHeight returns the unique ancestor of b at the given height,
// including b itself when height == b.Height(). It fails with
// ErrAncestorOutOfRange if height > b.Height().
//
// The algorithm walks the skip list: at each step it computes
// d = b.Height() - height, jumps to skipList[floor(log2(d))], and recurses
// there. Each jump strictly reduces d to below 2^k, so recursion depth is
// O(log d).
func (b *Block) PrevAtHeight(height uint64) (*Block, error) {
	if height > b.height {
		return nil, errors.Wrapf(ErrAncestorOutOfRange, "height %d > block height %d", height, b.height)
	}
	cur := b
	for cur.height != height {
		d := cur.height - height
		k := bits.Len64(d) - 1
		next := cur.skipList[k]
		if next == nil {
			// The skip-list invariant guarantees skipList[k] is present
			// whenever height >= 2^k, which always holds here; nil means
			// a caller broke the immutability/construction contract.
			return nil, errors.Wrapf(ErrAncestorOutOfRange, "skip list missing entry %d at height %d", k, cur.height)
		}
		cur = next
	}
	return cur, nil
}

// LCA returns the lowest common ancestor of a and b. It fails with
// ErrNoCommonAncestor only if the two blocks derive from disjoint
// skeletons, which callers must otherwise prevent.
func LCA(a, b *Block) (*Block, error) {
	minHeight := a.height
	if b.height < minHeight {
		minHeight = b.height
	}
	a, err := a.PrevAtHeight(minHeight)
	if err != nil {
		return nil, err
	}
	b, err = b.PrevAtHeight(minHeight)
	if err != nil {
		return nil, err
	}
	if a == b {
		return a, nil
	}
	for i := 0; i < SkipListLength; i++ {
		if a.skipList[i] == b.skipList[i] {
			if i == 0 {
				// Both share the same parent at index 0; that parent is
				// the LCA (a and b themselves differ, so it can't be
				// either of them). Two distinct genesis blocks share a
				// nil parent: they come from disjoint skeletons.
				if a.parent == nil {
					return nil, ErrNoCommonAncestor
				}
				return a.parent, nil
			}
			left, right := a.skipList[i-1], b.skipList[i-1]
			if left == nil || right == nil {
				return nil, ErrNoCommonAncestor
			}
			return LCA(left, right)
		}
	}
	return nil, ErrNoCommonAncestor
}

// IsDescendantOf reports whether b is ancestor itself or a strict descendant
// of it, i.e. whether ancestor == b.PrevAtHeight(ancestor.Height()).
func (b *Block) IsDescendantOf(ancestor *Block) bool {
	if b.height < ancestor.height {
		return false
	}
	at, err := b.PrevAtHeight(ancestor.height)
	if err != nil {
		return false
	}
	return at == ancestor
}
