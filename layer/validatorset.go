// Package layer implements the boundary-layer finality estimator built on
// top of a committee of ValidatorViews (spec.md §4.4).
package layer

import (
	"golang.org/x/exp/slices"

	"github.com/CarlBeek/CBC-LMD/forkchoice"
	"github.com/CarlBeek/CBC-LMD/validator"
)

// ValidatorSet is a fixed committee of validators, each with an integer
// weight and a ValidatorView tracking its causal message history.
type ValidatorSet struct {
	Weights map[forkchoice.ValidatorID]uint64
	Views   map[forkchoice.ValidatorID]*validator.View
}

// NewValidatorSet builds an empty committee; callers populate it via Add.
func NewValidatorSet() *ValidatorSet {
	return &ValidatorSet{
		Weights: map[forkchoice.ValidatorID]uint64{},
		Views:   map[forkchoice.ValidatorID]*validator.View{},
	}
}

// Add registers a validator with the given weight and view.
func (vs *ValidatorSet) Add(id forkchoice.ValidatorID, weight uint64, v *validator.View) {
	vs.Weights[id] = weight
	vs.Views[id] = v
}

// Weight returns id's configured weight, or 0 if it is not a member.
func (vs *ValidatorSet) Weight(id forkchoice.ValidatorID) uint64 { return vs.Weights[id] }

// Total returns the committee's combined weight, W in spec.md's fault
// tolerance formula.
func (vs *ValidatorSet) Total() uint64 {
	var total uint64
	for _, w := range vs.Weights {
		total += w
	}
	return total
}

// IDs returns the committee's member ids in a fixed, deterministic order.
func (vs *ValidatorSet) IDs() []forkchoice.ValidatorID {
	out := make([]forkchoice.ValidatorID, 0, len(vs.Weights))
	for id := range vs.Weights {
		out = append(out, id)
	}
	slices.Sort(out)
	return out
}
