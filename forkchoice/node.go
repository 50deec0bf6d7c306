package forkchoice

import "github.com/CarlBeek/CBC-LMD/block"

// ValidatorID identifies a message sender. It is kept as an opaque
// comparable type so the core never needs to know how validators are
// authenticated — that lives entirely with the external collaborators
// spec.md §1 names (signature verification, message authentication).
type ValidatorID string

// Node is a vertex of the compressed latest-message tree. Two nodes for the
// same block may never coexist in one tree at the same time (I4/I5); a
// *Node's identity is its pointer, not its block.
type Node struct {
	block    *block.Block
	parent   *Node
	children map[*Node]struct{}

	// weightHolders is the count of validators whose current latest message
	// equals this node's block. has_weight in spec.md is weightHolders > 0;
	// the refcount (rather than a bare bool) is what lets two validators
	// converge on the same latest block without one validator's retraction
	// prematurely demoting the node out from under the other (spec.md §9).
	weightHolders int

	// score is transient working state used only during FindHead.
	score uint64
}

// Block returns the block this node represents.
func (n *Node) Block() *block.Block { return n.block }

// Parent returns the node's parent, or nil at the root.
func (n *Node) Parent() *Node { return n.parent }

// HasWeight reports whether some validator's current latest block equals
// this node's block (I1/I2/I3).
func (n *Node) HasWeight() bool { return n.weightHolders > 0 }

// WeightHolders returns the number of validators whose latest message
// currently points at this node's block.
func (n *Node) WeightHolders() int { return n.weightHolders }

// Children returns a snapshot slice of the node's children. Callers must
// not mutate tree structure while holding this slice.
func (n *Node) Children() []*Node {
	out := make([]*Node, 0, len(n.children))
	for c := range n.children {
		out = append(out, c)
	}
	return out
}

// size counts n and all its descendants.
func (n *Node) size() int {
	total := 1
	for c := range n.children {
		total += c.size()
	}
	return total
}
