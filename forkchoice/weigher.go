package forkchoice

import "github.com/CarlBeek/CBC-LMD/block"

// Weigher supplies the weight GHOST accumulates at each block. spec.md §9
// documents two viable designs: weight carried on nodes, or an external
// map passed into FindHead. The external-map form is preferred there for
// its flexibility (it supports hypothetical re-weighting without touching
// the tree), so it is what FindHead takes; NativeWeigher below realizes the
// node-carried alternative for callers who don't need re-weighting.
type Weigher interface {
	Weight(b *block.Block) uint64
}

// WeightFunc adapts a plain function to the Weigher interface, the same way
// http.HandlerFunc adapts a function to http.Handler.
type WeightFunc func(b *block.Block) uint64

// Weight implements Weigher.
func (f WeightFunc) Weight(b *block.Block) uint64 { return f(b) }

// NativeWeigher scores each block by the number of validators whose
// current latest message is exactly that block. It is the node-carried
// weight design from spec.md §9, option (a): no external weight map is
// needed, at the cost of not supporting arbitrary re-weighting.
func NativeWeigher(t *Tree) Weigher {
	return WeightFunc(func(b *block.Block) uint64 {
		n := t.nodeForBlock(b)
		if n == nil {
			return 0
		}
		return uint64(n.weightHolders)
	})
}
