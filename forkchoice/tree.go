// Package forkchoice implements the compressed latest-message tree (CLMT):
// a dynamic tree of interior branch points and latest-message vertices that
// equals, at all times, the topological skeleton of "ancestors plus branch
// points" of the set of currently latest blocks, one per validator.
package forkchoice

import (
	"github.com/sirupsen/logrus"
	"golang.org/x/exp/slices"

	"github.com/CarlBeek/CBC-LMD/block"
)

var log = logrus.WithField("prefix", "forkchoice")

// Tree is the CompressedTree of spec.md §3/§4.2.
type Tree struct {
	root *Node

	// latestOf holds, for every validator with a current latest block, the
	// node representing it (I3).
	latestOf map[ValidatorID]*Node

	// nodesAtHeight[h][b] is the node whose block is b, for every node at
	// height h. This realizes spec.md's blocks_at_height (the set of
	// blocks, keyed by height) and also serves as the O(1) node_with_block
	// lookup the spec permits in §4.2.3 (I6).
	nodesAtHeight map[uint64]map[*block.Block]*Node

	// heights holds the keys of nodesAtHeight in ascending order, scanned
	// in descending order by findPrevNodeInTree. A plain sorted slice
	// (rather than a dedicated ordered-set structure) is sufficient: the
	// number of occupied heights is bounded by the number of tree nodes,
	// itself bounded by 2V for V validators (at most 2V-1 non-root nodes
	// plus the root).
	heights []uint64

	// pathIndex maps, for every non-root node n, the block one step below
	// n.parent's block on the way down to n.block, to n itself (I5). This
	// is the enabler of O(log h) overlap detection in AddLatest.
	pathIndex map[*block.Block]*Node

	// ancestorCache memoizes the repeated PrevAtHeight lookups
	// findPrevNodeInTree issues while descending the occupied-heights scan:
	// the same (block, height) pair recurs across AddLatest calls whenever
	// validators share overlapping history.
	ancestorCache *block.AncestorCache

	metrics *Metrics
}

// defaultAncestorCacheSize bounds the per-tree ancestor-lookup cache. It is
// sized well above 2V (the tree's own node bound, root included) so that
// a full pass over a busy tree's validators doesn't evict entries it will
// need again on the next pass.
const defaultAncestorCacheSize = 4096

// NewTree constructs a CompressedTree whose root wraps genesis.
func NewTree(genesis *block.Block, metrics *Metrics) *Tree {
	root := &Node{block: genesis, children: map[*Node]struct{}{}}
	t := &Tree{
		root:          root,
		latestOf:      map[ValidatorID]*Node{},
		nodesAtHeight: map[uint64]map[*block.Block]*Node{},
		pathIndex:     map[*block.Block]*Node{},
		ancestorCache: block.NewAncestorCache(defaultAncestorCacheSize),
		metrics:       metrics,
	}
	t.addToHeight(root)
	return t
}

// Root returns the tree's current root node.
func (t *Tree) Root() *Node { return t.root }

// Size returns the number of nodes currently in the tree (I6 makes
// nodesAtHeight exhaustive, so summing its buckets is exact).
func (t *Tree) Size() int {
	n := 0
	for _, m := range t.nodesAtHeight {
		n += len(m)
	}
	return n
}

// LatestOf returns the node holding validator v's current latest block, or
// nil if v has never submitted one.
func (t *Tree) LatestOf(v ValidatorID) *Node { return t.latestOf[v] }

func (t *Tree) nodeForBlock(b *block.Block) *Node {
	return t.nodesAtHeight[b.Height()][b]
}

func (t *Tree) addToHeight(n *Node) {
	h := n.block.Height()
	m, ok := t.nodesAtHeight[h]
	if !ok {
		m = map[*block.Block]*Node{}
		t.nodesAtHeight[h] = m
		idx, found := slices.BinarySearch(t.heights, h)
		if !found {
			t.heights = slices.Insert(t.heights, idx, h)
		}
	}
	m[n.block] = n
}

func (t *Tree) removeFromHeight(n *Node) {
	h := n.block.Height()
	m, ok := t.nodesAtHeight[h]
	if !ok {
		return
	}
	delete(m, n.block)
	if len(m) == 0 {
		delete(t.nodesAtHeight, h)
		if idx, found := slices.BinarySearch(t.heights, h); found {
			t.heights = slices.Delete(t.heights, idx, idx+1)
		}
	}
}

// findPrevNodeInTree returns the deepest node whose block is an ancestor of
// b (or b itself). It scans occupied heights in descending order — a
// binary search is unsound here because "block has an ancestor node at
// height h" is not monotone in h (spec.md §9).
func (t *Tree) findPrevNodeInTree(b *block.Block) *Node {
	for i := len(t.heights) - 1; i >= 0; i-- {
		h := t.heights[i]
		if h > b.Height() {
			continue
		}
		anc, err := t.ancestorCache.PrevAtHeight(b, h)
		if err != nil {
			continue
		}
		if n, ok := t.nodesAtHeight[h][anc]; ok {
			return n
		}
	}
	return nil
}

// AddLatest installs block b as validator v's latest message, implicitly
// retracting v's previous latest block first. It returns (node, false, nil)
// on success, or (nil, true, nil) if b does not descend from the tree's
// current root (UnrelatedBlock — a silent, recoverable skip per spec.md
// §7, not an error).
func (t *Tree) AddLatest(b *block.Block, v ValidatorID) (*Node, bool, error) {
	if old, ok := t.latestOf[v]; ok {
		t.retract(old)
		delete(t.latestOf, v)
	}

	prev := t.findPrevNodeInTree(b)
	if prev == nil {
		log.WithField("validator", v).Debug("ignoring latest message: block does not descend from tree root")
		t.metrics.observe(t)
		return nil, true, nil
	}

	var n *Node
	if prev.block == b {
		// Two validators' latest blocks coincide exactly: share the node
		// and let the refcount track both (spec.md §9).
		n = prev
	} else {
		pathKey, err := b.PrevAtHeight(prev.block.Height() + 1)
		if err != nil {
			return nil, false, err
		}
		if sibling, ok := t.pathIndex[pathKey]; ok {
			n, err = t.insertWithOverlap(prev, sibling, pathKey, b)
		} else {
			n, err = t.insertLeaf(prev, pathKey, b)
		}
		if err != nil {
			return nil, false, err
		}
	}

	n.weightHolders++
	t.latestOf[v] = n
	log.WithFields(logrus.Fields{"validator": v, "height": b.Height()}).Debug("installed new latest message")
	t.metrics.observe(t)
	return n, false, nil
}

func (t *Tree) insertLeaf(parent *Node, pathKey, b *block.Block) (*Node, error) {
	n := &Node{block: b, parent: parent, children: map[*Node]struct{}{}}
	parent.children[n] = struct{}{}
	t.pathIndex[pathKey] = n
	t.addToHeight(n)
	return n, nil
}

// insertWithOverlap handles the path-overlap case of spec.md §4.2.2 step 4:
// b's path to prev collides with an existing child's path, so a new
// interior branch-point node must be spliced in at their LCA.
func (t *Tree) insertWithOverlap(prev, sibling *Node, pathKey, b *block.Block) (*Node, error) {
	anc, err := block.LCA(b, sibling.block)
	if err != nil {
		return nil, err
	}

	a := &Node{block: anc, parent: prev, children: map[*Node]struct{}{sibling: {}}}
	delete(prev.children, sibling)
	prev.children[a] = struct{}{}
	sibling.parent = a
	t.addToHeight(a)
	// The key that used to route from prev toward sibling now routes from
	// prev toward the new branch point a (they share the same path key,
	// since a is an ancestor of both b and sibling.block above prev).
	t.pathIndex[pathKey] = a

	siblingKey, err := sibling.block.PrevAtHeight(anc.Height() + 1)
	if err != nil {
		return nil, err
	}
	t.pathIndex[siblingKey] = sibling

	if anc == b {
		// b is itself the branch point: a already is the node for b. A
		// second, distinct node for the same block would violate the
		// one-node-per-block invariant (spec.md §3), so a is the result.
		return a, nil
	}

	n := &Node{block: b, parent: a, children: map[*Node]struct{}{}}
	a.children[n] = struct{}{}
	t.addToHeight(n)
	nKey, err := b.PrevAtHeight(anc.Height() + 1)
	if err != nil {
		return nil, err
	}
	t.pathIndex[nKey] = n

	return n, nil
}

// retract decrements n's weight-holder refcount and, once it reaches zero,
// applies the structural removal/compaction rules of spec.md §4.2.4.
func (t *Tree) retract(n *Node) {
	n.weightHolders--
	if n.weightHolders > 0 {
		return
	}
	if n == t.root {
		// The root is never structurally removed or spliced, even if it
		// loses its weight and has exactly one child (spec.md §4.2.5).
		return
	}
	switch len(n.children) {
	case 0:
		t.removeLeaf(n)
	case 1:
		t.spliceOut(n)
	default:
		// n remains a genuine branch point (I2): ≥2 children, no weight.
	}
}

func (t *Tree) removeLeaf(n *Node) {
	p := n.parent
	if p == nil {
		// Never true for a validator's latest node in a well-formed tree;
		// guarded defensively rather than panicking.
		return
	}
	delete(p.children, n)
	t.removeFromHeight(n)
	if key, err := n.block.PrevAtHeight(p.block.Height() + 1); err == nil {
		delete(t.pathIndex, key)
	}
	if p != t.root && !p.HasWeight() && len(p.children) == 1 {
		t.spliceOut(p)
	}
}

// spliceOut removes an interior node with exactly one child, reparenting
// that child onto n's own parent.
func (t *Tree) spliceOut(n *Node) {
	p := n.parent
	var child *Node
	for c := range n.children {
		child = c
	}
	child.parent = p
	delete(p.children, n)
	p.children[child] = struct{}{}
	if key, err := n.block.PrevAtHeight(p.block.Height() + 1); err == nil {
		t.pathIndex[key] = child
	}
	t.removeFromHeight(n)
}

// Prune finalizes newRoot: it becomes the tree's new root and every node
// outside its subtree is discarded, along with any stale latestOf entries.
func (t *Tree) Prune(newRoot *Node) error {
	if newRoot == nil {
		return ErrInvariantViolated
	}
	if newRoot == t.root {
		return nil
	}
	if !t.isDescendant(newRoot) {
		return ErrNotInTree
	}

	keep := map[*Node]struct{}{}
	markSubtree(newRoot, keep)

	for h, m := range t.nodesAtHeight {
		for b, n := range m {
			if _, ok := keep[n]; !ok {
				delete(m, b)
			}
		}
		if len(m) == 0 {
			delete(t.nodesAtHeight, h)
		}
	}
	heights := make([]uint64, 0, len(t.nodesAtHeight))
	for h := range t.nodesAtHeight {
		heights = append(heights, h)
	}
	slices.Sort(heights)
	t.heights = heights

	for pk, n := range t.pathIndex {
		if _, ok := keep[n]; !ok {
			delete(t.pathIndex, pk)
		}
	}
	for v, n := range t.latestOf {
		if _, ok := keep[n]; !ok {
			delete(t.latestOf, v)
		}
	}

	newRoot.parent = nil
	t.root = newRoot
	log.WithField("newRootHeight", newRoot.block.Height()).Debug("pruned compressed tree to new root")
	t.metrics.observe(t)
	return nil
}

func markSubtree(n *Node, keep map[*Node]struct{}) {
	keep[n] = struct{}{}
	for c := range n.children {
		markSubtree(c, keep)
	}
}

func (t *Tree) isDescendant(n *Node) bool {
	for cur := n; cur != nil; cur = cur.parent {
		if cur == t.root {
			return true
		}
	}
	return false
}

// FindHead runs two-phase GHOST over the compressed tree: a bottom-up score
// accumulation pass followed by a greedy descent that always takes the
// heaviest child, breaking ties deterministically on block identity.
func (t *Tree) FindHead(w Weigher) (*Node, error) {
	if w == nil {
		return nil, ErrNilWeigher
	}
	scoreNode(t.root, w)

	cur := t.root
	for len(cur.children) > 0 {
		var best *Node
		for c := range cur.children {
			switch {
			case best == nil:
				best = c
			case c.score > best.score:
				best = c
			case c.score == best.score && block.Less(best.block, c.block):
				best = c
			}
		}
		cur = best
	}
	return cur, nil
}

func scoreNode(n *Node, w Weigher) uint64 {
	total := w.Weight(n.block)
	for c := range n.children {
		total += scoreNode(c, w)
	}
	n.score = total
	return total
}
