package forkchoice

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/CarlBeek/CBC-LMD/block"
)

// checkInvariants asserts I1 and I2 from spec.md §3 hold for every node
// reachable from the tree's root.
func checkInvariants(t *testing.T, tr *Tree) {
	t.Helper()
	var walk func(n *Node)
	walk = func(n *Node) {
		if n != tr.root {
			if len(n.children) == 0 {
				require.True(t, n.HasWeight(), "leaf %v must carry weight", n.block.ID())
			} else {
				require.True(t, n.HasWeight() || len(n.children) >= 2,
					"interior node %v must carry weight or have >= 2 children", n.block.ID())
			}
		}
		for c := range n.children {
			walk(c)
		}
	}
	walk(tr.root)
}

func TestAddLatest_OnGenesis(t *testing.T) {
	g := block.New(nil, nil)
	tr := NewTree(g, nil)
	b := block.New(g, nil)
	n, ignored, err := tr.AddLatest(b, "v0")
	require.NoError(t, err)
	require.False(t, ignored)
	require.Equal(t, 2, tr.Size())
	require.Same(t, g, tr.Root().Block())
	children := tr.Root().Children()
	require.Len(t, children, 1)
	require.Same(t, b, children[0].Block())
	require.Same(t, n, children[0])
	checkInvariants(t, tr)
}

func TestAddLatest_ChainReplacement(t *testing.T) {
	g := block.New(nil, nil)
	tr := NewTree(g, nil)
	b1 := block.New(g, nil)
	_, _, err := tr.AddLatest(b1, "v0")
	require.NoError(t, err)
	b2 := block.New(b1, nil)
	_, _, err = tr.AddLatest(b2, "v0")
	require.NoError(t, err)

	require.Equal(t, 2, tr.Size())
	children := tr.Root().Children()
	require.Len(t, children, 1)
	require.Same(t, b2, children[0].Block())
	checkInvariants(t, tr)
}

func TestAddLatest_BranchInsertion(t *testing.T) {
	g := block.New(nil, nil)
	tr := NewTree(g, nil)
	b1 := block.New(g, nil)
	b2 := block.New(b1, nil)
	b3 := block.New(b1, []byte("fork"))

	_, _, err := tr.AddLatest(b1, "v0")
	require.NoError(t, err)
	_, _, err = tr.AddLatest(b2, "v0")
	require.NoError(t, err)
	_, _, err = tr.AddLatest(b3, "v1")
	require.NoError(t, err)

	require.Equal(t, 4, tr.Size())
	rootChildren := tr.Root().Children()
	require.Len(t, rootChildren, 1)
	branch := rootChildren[0]
	require.Same(t, b1, branch.Block())
	require.False(t, branch.HasWeight())
	branchChildren := branch.Children()
	require.Len(t, branchChildren, 2)
	gotBlocks := map[*block.Block]bool{}
	for _, c := range branchChildren {
		gotBlocks[c.Block()] = true
		require.True(t, c.HasWeight())
	}
	require.True(t, gotBlocks[b2])
	require.True(t, gotBlocks[b3])
	checkInvariants(t, tr)
}

func TestAddLatest_OverlapWhereAncestorIsTheNewBlock(t *testing.T) {
	// A long chain g -> b1 -> ... -> b5 held entirely by v0's latest
	// message (b5, compressed straight down to a single leaf). v1 then
	// reports b1 as its own latest message: b1 is a mid-path ancestor of
	// the existing leaf, so the LCA of (b1, b5) is b1 itself. This must
	// not create two distinct nodes for the same block.
	g := block.New(nil, nil)
	b1 := block.New(g, nil)
	b2 := block.New(b1, nil)
	b3 := block.New(b2, nil)
	b4 := block.New(b3, nil)
	b5 := block.New(b4, nil)

	tr := NewTree(g, nil)
	require.NoError(t, mustAdd(tr, b5, "v0"))
	n, ignored, err := tr.AddLatest(b1, "v1")
	require.NoError(t, err)
	require.False(t, ignored)

	require.Equal(t, 3, tr.Size())
	require.Same(t, b1, n.Block())
	require.True(t, n.HasWeight())
	children := n.Children()
	require.Len(t, children, 1)
	require.Same(t, b5, children[0].Block())
	require.Same(t, n, tr.LatestOf("v1"))
	checkInvariants(t, tr)
}

func TestPrune_Finalization(t *testing.T) {
	g := block.New(nil, nil)
	tr := NewTree(g, nil)
	b1 := block.New(g, nil)
	b2 := block.New(b1, nil)
	require.NoError(t, mustAdd(tr, b1, "v0"))
	require.NoError(t, mustAdd(tr, b2, "v0"))

	c1 := block.New(b2, []byte("c1"))
	c2 := block.New(b2, []byte("c2"))
	c3 := block.New(b2, []byte("c3"))
	require.NoError(t, mustAdd(tr, c1, "v1"))
	require.NoError(t, mustAdd(tr, c2, "v2"))
	require.NoError(t, mustAdd(tr, c3, "v3"))

	require.Equal(t, 5, tr.Size())

	b2Node := tr.LatestOf("v0")
	require.Same(t, b2, b2Node.Block())

	require.NoError(t, tr.Prune(b2Node))
	require.Equal(t, 4, tr.Size())
	require.Same(t, b2, tr.Root().Block())
	checkInvariants(t, tr)

	// v0's stale reference onto a pruned-away ancestor must be unaffected;
	// here v0's latest survives because it *is* the new root.
	require.Same(t, b2Node, tr.LatestOf("v0"))
}

func TestPrune_DropsUnrelatedMessages(t *testing.T) {
	g := block.New(nil, nil)
	tr := NewTree(g, nil)
	left := block.New(g, []byte("left"))
	right := block.New(g, []byte("right"))
	require.NoError(t, mustAdd(tr, left, "v0"))
	require.NoError(t, mustAdd(tr, right, "v1"))

	leftNode := tr.LatestOf("v0")
	require.NoError(t, tr.Prune(leftNode))
	require.Nil(t, tr.LatestOf("v1"))
	require.Equal(t, 1, tr.Size())
}

func TestFindHead_Determinism(t *testing.T) {
	g := block.New(nil, nil)
	tr := NewTree(g, nil)
	b0 := block.New(g, []byte("0"))
	b1 := block.New(g, []byte("1"))
	b2 := block.New(g, []byte("2"))
	require.NoError(t, mustAdd(tr, b0, "v0"))
	require.NoError(t, mustAdd(tr, b1, "v1"))
	require.NoError(t, mustAdd(tr, b2, "v2"))

	grandchild := block.New(b0, nil)
	require.NoError(t, mustAdd(tr, grandchild, "v0"))

	weight := WeightFunc(func(b *block.Block) uint64 {
		if b == b0 || b == grandchild {
			return 100
		}
		return 1
	})
	head, err := tr.FindHead(weight)
	require.NoError(t, err)
	require.Same(t, grandchild, head.Block())
}

func TestFindHead_RequiresWeigher(t *testing.T) {
	g := block.New(nil, nil)
	tr := NewTree(g, nil)
	_, err := tr.FindHead(nil)
	require.ErrorIs(t, err, ErrNilWeigher)
}

func TestFindHead_AgreesWithUncompressedGHOST(t *testing.T) {
	// P6: the compressed tree's head must equal running GHOST directly
	// over the block skeleton given the same weight map. A block's weight
	// is the total weight of the validators whose latest message it is;
	// validator weights are distinct powers of two, so sibling subtrees
	// never tie. The skeleton is every block that is a latest block or an
	// ancestor of one.
	g := block.New(nil, nil)
	tr := NewTree(g, nil)
	blocks := []*block.Block{g}
	latest := map[ValidatorID]*block.Block{}
	rnd := rand.New(rand.NewSource(7))
	validators := []ValidatorID{"v0", "v1", "v2", "v3"}
	for i := 0; i < 40; i++ {
		parent := blocks[rnd.Intn(len(blocks))]
		nb := block.New(parent, []byte{byte(i)})
		blocks = append(blocks, nb)
		v := validators[rnd.Intn(len(validators))]
		latest[v] = nb
		require.NoError(t, mustAdd(tr, nb, v))
	}
	weights := map[*block.Block]uint64{}
	supported := map[*block.Block]bool{}
	for i, v := range validators {
		lb, ok := latest[v]
		if !ok {
			continue
		}
		weights[lb] += 1 << uint(i)
		for b := lb; b != nil; b = b.Parent() {
			supported[b] = true
		}
	}
	var skeleton []*block.Block
	for _, b := range blocks {
		if supported[b] {
			skeleton = append(skeleton, b)
		}
	}
	weigher := WeightFunc(func(b *block.Block) uint64 { return weights[b] })
	head, err := tr.FindHead(weigher)
	require.NoError(t, err)

	uncompressed := uncompressedGHOST(g, skeleton, weights)
	require.Same(t, uncompressed, head.Block())
}

// uncompressedGHOST runs GHOST directly over the full, uncompressed block
// skeleton: at every step, descend into whichever child carries the
// greatest total weight of itself and its own descendants.
func uncompressedGHOST(root *block.Block, all []*block.Block, weight map[*block.Block]uint64) *block.Block {
	children := map[*block.Block][]*block.Block{}
	for _, b := range all {
		if p := b.Parent(); p != nil {
			children[p] = append(children[p], b)
		}
	}
	var totalWeight func(b *block.Block) uint64
	totalWeight = func(b *block.Block) uint64 {
		sum := weight[b]
		for _, c := range children[b] {
			sum += totalWeight(c)
		}
		return sum
	}
	cur := root
	for len(children[cur]) > 0 {
		var best *block.Block
		var bestScore uint64
		for _, c := range children[cur] {
			s := totalWeight(c)
			if best == nil || s > bestScore || (s == bestScore && block.Less(best, c)) {
				best, bestScore = c, s
			}
		}
		cur = best
	}
	return cur
}

func TestStress_SizeBound(t *testing.T) {
	g := block.New(nil, nil)
	tr := NewTree(g, nil)
	validators := []ValidatorID{"v0", "v1", "v2"}
	latest := map[ValidatorID]*block.Block{"v0": g, "v1": g, "v2": g}

	rnd := rand.New(rand.NewSource(42))
	for i := 0; i < 1000; i++ {
		base := latest[validators[rnd.Intn(len(validators))]]
		nb := block.New(base, []byte{byte(i), byte(i >> 8)})
		who := validators[rnd.Intn(len(validators))]
		latest[who] = nb
		_, _, err := tr.AddLatest(nb, who)
		require.NoError(t, err)
		// At most 2V-1 non-root nodes (V latest nodes, V-1 branch points),
		// plus the root.
		require.LessOrEqual(t, tr.Size(), 2*len(validators))
	}
	checkInvariants(t, tr)
}

func mustAdd(tr *Tree, b *block.Block, v ValidatorID) error {
	_, ignored, err := tr.AddLatest(b, v)
	if err != nil {
		return err
	}
	if ignored {
		return ErrNotInTree
	}
	return nil
}
