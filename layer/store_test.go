package layer

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/CarlBeek/CBC-LMD/block"
	"github.com/CarlBeek/CBC-LMD/forkchoice"
	"github.com/CarlBeek/CBC-LMD/validator"
)

func buildThreeValidatorSet(t *testing.T, g *block.Block) *ValidatorSet {
	t.Helper()
	w := forkchoice.WeightFunc(func(*block.Block) uint64 { return 1 })
	vs := NewValidatorSet()
	for _, id := range []forkchoice.ValidatorID{"v0", "v1", "v2"} {
		vs.Add(id, 1, validator.New(id, g, w, nil))
	}
	return vs
}

func proposeRound(t *testing.T, vs *ValidatorSet) map[forkchoice.ValidatorID]*validator.Message {
	t.Helper()
	round := map[forkchoice.ValidatorID]*validator.Message{}
	for _, id := range vs.IDs() {
		m, err := vs.Views[id].Propose([]byte(string(id)))
		require.NoError(t, err)
		round[id] = m
	}
	for _, id := range vs.IDs() {
		for _, other := range vs.IDs() {
			if other == id {
				continue
			}
			require.NoError(t, vs.Views[id].Observe(round[other]))
		}
	}
	return round
}

func TestBuildFirstLayer_SingleRound(t *testing.T) {
	g := block.New(nil, nil)
	vs := buildThreeValidatorSet(t, g)
	zero := proposeRound(t, vs)

	s, err := Build(vs, g, 1)
	require.NoError(t, err)
	require.Len(t, s.layers[0], 3)
	for id, m := range s.layers[0] {
		require.Same(t, zero[id], m)
	}
}

func TestBuildLayers_TwoRounds(t *testing.T) {
	g := block.New(nil, nil)
	vs := buildThreeValidatorSet(t, g)
	zero := proposeRound(t, vs)
	one := proposeRound(t, vs)

	s, err := Build(vs, g, 1)
	require.NoError(t, err)
	require.Len(t, s.layers[0], 3)
	for id, m := range s.layers[0] {
		require.Same(t, zero[id], m)
	}
	require.Len(t, s.layers[1], 3)
	for id, m := range s.layers[1] {
		require.Same(t, one[id], m)
	}
}

func TestBuildFirstLayer_ExcludesNonDescendant(t *testing.T) {
	g := block.New(nil, nil)
	other := block.New(nil, []byte("other-root"))
	vs := buildThreeValidatorSet(t, g)
	proposeRound(t, vs)

	s, err := Build(vs, other, 1)
	require.NoError(t, err)
	require.Empty(t, s.layers[0])
}

func TestFaultTolerance_CountsTrailingEmptyLayer(t *testing.T) {
	g := block.New(nil, nil)
	vs := buildThreeValidatorSet(t, g)
	proposeRound(t, vs)
	proposeRound(t, vs)

	s, err := Build(vs, g, 2)
	require.NoError(t, err)
	ft, err := s.FaultTolerance()
	require.NoError(t, err)
	// W=3, q=2, N=3 (two built layers plus the trailing empty one):
	// (2*2 - 3) / (1 - 2^-3) = 1 / 0.875
	require.InDelta(t, 1/0.875, ft, 1e-9)
}

func TestAddMessage_PromotesOnQuorum(t *testing.T) {
	g := block.New(nil, nil)
	vs := buildThreeValidatorSet(t, g)
	proposeRound(t, vs)

	s, err := Build(vs, g, 1)
	require.NoError(t, err)
	require.Len(t, s.layers, 2) // layer 0 populated, layer 1 empty (trailing)

	latest := map[forkchoice.ValidatorID]*validator.Message{}
	for _, id := range vs.IDs() {
		latest[id] = s.layers[0][id]
	}
	m := validator.NewMessage("v0", block.New(g, []byte("promote")), latest, s.layers[0]["v0"])
	s.AddMessage(m)
	require.Same(t, m, s.layers[1]["v0"])
}

func TestBlockHasFaultTolerance(t *testing.T) {
	g := block.New(nil, nil)
	vs := buildThreeValidatorSet(t, g)
	proposeRound(t, vs)

	s, err := Build(vs, g, 1)
	require.NoError(t, err)
	ok, err := s.BlockHasFaultTolerance(0)
	require.NoError(t, err)
	// W=3, q=1, N=2 (layer 0 plus the trailing empty one):
	// (2*1 - 3) / (1 - 2^-2) = -4/3, which is below 0.
	require.False(t, ok)
}
