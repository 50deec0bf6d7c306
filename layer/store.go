package layer

import (
	"github.com/sirupsen/logrus"

	"github.com/CarlBeek/CBC-LMD/block"
	"github.com/CarlBeek/CBC-LMD/forkchoice"
	"github.com/CarlBeek/CBC-LMD/validator"
)

var log = logrus.WithField("prefix", "layer")

// Store is the boundary-layer finality estimator of spec.md §4.4: a
// sequence of layers, each mapping a validator to the own-message at which
// it first accumulated quorum-weight agreement with the previous layer.
type Store struct {
	vs        *ValidatorSet
	candidate *block.Block
	quorum    uint64

	layers []map[forkchoice.ValidatorID]*validator.Message
}

// Build constructs a Store estimating candidate's finality under vs, given
// a quorum weight threshold q.
func Build(vs *ValidatorSet, candidate *block.Block, quorum uint64) (*Store, error) {
	s := &Store{vs: vs, candidate: candidate, quorum: quorum}
	s.buildAllLayers()
	return s, nil
}

// buildFirstLayer computes, for every validator, the oldest own-message in
// the maximal run of consecutive own-messages (scanning backward from its
// newest) that all descend from candidate. A validator whose newest own
// message does not descend from candidate has no layer-0 entry.
func (s *Store) buildFirstLayer() map[forkchoice.ValidatorID]*validator.Message {
	layer := map[forkchoice.ValidatorID]*validator.Message{}
	for _, id := range s.vs.IDs() {
		v := s.vs.Views[id]
		own := v.OwnMessages()
		var boundary *validator.Message
		for i := len(own) - 1; i >= 0; i-- {
			m := own[i]
			if m == nil {
				continue
			}
			if m.Block.IsDescendantOf(s.candidate) {
				boundary = m
				continue
			}
			break
		}
		if boundary != nil {
			layer[id] = boundary
		}
	}
	return layer
}

// buildNextLayer scans each prev-layer validator's own messages, starting
// at its layer boundary height, for the first message that sees at least
// quorum weight of the previous layer's boundary messages reflected in its
// own justification snapshot.
func (s *Store) buildNextLayer(prev map[forkchoice.ValidatorID]*validator.Message) map[forkchoice.ValidatorID]*validator.Message {
	layer := map[forkchoice.ValidatorID]*validator.Message{}
	for id, boundary := range prev {
		own := s.vs.Views[id].OwnMessages()
		for i := boundary.Height; i < uint64(len(own)); i++ {
			m := own[i]
			if m == nil {
				continue
			}
			var total uint64
			for otherID, otherBoundary := range prev {
				seen, ok := m.Justifications[otherID]
				if !ok {
					continue
				}
				if seen.Height >= otherBoundary.Height {
					total += s.vs.Weight(otherID)
				}
			}
			if total >= s.quorum {
				layer[id] = m
				break
			}
		}
	}
	return layer
}

// buildAllLayers builds layer 0, then layer k+1 from layer k, until a
// layer comes back empty. That trailing empty layer is retained: its
// presence is what FaultTolerance's layer count N measures.
func (s *Store) buildAllLayers() {
	s.layers = []map[forkchoice.ValidatorID]*validator.Message{s.buildFirstLayer()}
	for len(s.layers[len(s.layers)-1]) > 0 {
		s.layers = append(s.layers, s.buildNextLayer(s.layers[len(s.layers)-1]))
	}
}

// AddMessage incrementally folds a newly-observed message into the layer
// structure without recomputing it from scratch. For each validator cited
// in message's justifications, it notes every layer whose boundary message
// for that validator is at or below the cited height; maxLayer is the
// highest layer noted (0 if none). Quorum is checked at maxLayer only: if
// the validators noted there carry at least quorum weight, the sender is
// placed in layer maxLayer+1 (appending that layer if needed); otherwise
// message fills the sender's slot in layer maxLayer if it is empty.
func (s *Store) AddMessage(m *validator.Message) {
	valsAtLayer := map[int]map[forkchoice.ValidatorID]struct{}{0: {}}

	for id, latest := range m.Justifications {
		for h := len(s.layers) - 1; h >= 0; h-- {
			boundary, ok := s.layers[h][id]
			if !ok {
				continue
			}
			if boundary.Height <= latest.Height {
				if valsAtLayer[h] == nil {
					valsAtLayer[h] = map[forkchoice.ValidatorID]struct{}{}
				}
				valsAtLayer[h][id] = struct{}{}
			}
		}
	}

	maxLayer := 0
	for h := range valsAtLayer {
		if h > maxLayer {
			maxLayer = h
		}
	}
	var weightAtMax uint64
	for id := range valsAtLayer[maxLayer] {
		weightAtMax += s.vs.Weight(id)
	}

	if weightAtMax >= s.quorum {
		for len(s.layers) <= maxLayer+1 {
			s.layers = append(s.layers, map[forkchoice.ValidatorID]*validator.Message{})
		}
		s.layers[maxLayer+1][m.Sender] = m
		log.WithFields(logrus.Fields{"sender": m.Sender, "layer": maxLayer + 1}).Debug("promoted validator to new layer")
		return
	}
	if _, ok := s.layers[maxLayer][m.Sender]; !ok {
		s.layers[maxLayer][m.Sender] = m
	}
}

// FaultTolerance computes (2q - W) / (1 - 2^-N), where W is the
// committee's total weight and N is the number of boundary layers built
// (including the trailing empty layer buildAllLayers stops on). The result
// is in the same weight units as q and W; it is not divided by W.
func (s *Store) FaultTolerance() (float64, error) {
	if len(s.layers) == 0 {
		return 0, ErrNoLayers
	}
	n := len(s.layers)
	w := float64(s.vs.Total())
	q := float64(s.quorum)
	denom := 1 - pow2Neg(n)
	return (2*q - w) / denom, nil
}

// BlockHasFaultTolerance reports whether candidate's fault tolerance meets
// or exceeds threshold t.
func (s *Store) BlockHasFaultTolerance(t float64) (bool, error) {
	ft, err := s.FaultTolerance()
	if err != nil {
		return false, err
	}
	return ft >= t, nil
}

// pow2Neg returns 2^-n for n >= 0.
func pow2Neg(n int) float64 {
	v := 1.0
	for i := 0; i < n; i++ {
		v /= 2
	}
	return v
}
