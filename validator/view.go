package validator

import (
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/CarlBeek/CBC-LMD/block"
	"github.com/CarlBeek/CBC-LMD/forkchoice"
)

var log = logrus.WithField("prefix", "validator")

// View is the ValidatorView of spec.md §4.3: it owns a CompressedTree, the
// set of messages it has justified, the latest-per-sender table, and (for
// its own sender identity) a dense, height-indexed history of its own
// messages.
type View struct {
	self    forkchoice.ValidatorID
	tree    *forkchoice.Tree
	weights forkchoice.Weigher

	justification  map[*Message]struct{}
	latestOfSender map[forkchoice.ValidatorID]*Message
	ownMessages    []*Message
}

// New constructs a ValidatorView rooted at genesis for validator self.
// weights is the default Weigher Propose uses to run fork choice; it may
// be nil if the caller never calls Propose and passes an explicit Weigher
// to Forkchoice.
func New(self forkchoice.ValidatorID, genesis *block.Block, weights forkchoice.Weigher, metrics *forkchoice.Metrics) *View {
	return &View{
		self:           self,
		tree:           forkchoice.NewTree(genesis, metrics),
		weights:        weights,
		justification:  map[*Message]struct{}{},
		latestOfSender: map[forkchoice.ValidatorID]*Message{},
	}
}

// Tree exposes the underlying compressed tree, e.g. for read-only
// inspection or for passing to a shared LayerStore.
func (v *View) Tree() *forkchoice.Tree { return v.tree }

// Self returns this view's own validator identity.
func (v *View) Self() forkchoice.ValidatorID { return v.self }

// OwnMessages returns this view's own message history, ascending by
// height. The returned slice must not be mutated by the caller.
func (v *View) OwnMessages() []*Message { return v.ownMessages }

// Observe ingests a message causally: every justification it cites that
// isn't already known is observed first (spec.md §4.3). Recursion is
// flattened into an explicit worklist so causal depth never threatens the
// Go call stack.
func (v *View) Observe(m *Message) error {
	if m == nil {
		return errors.New("observe: nil message")
	}

	type frame struct {
		msg        *Message
		depsPushed bool
	}
	stack := []*frame{{msg: m}}

	for len(stack) > 0 {
		top := stack[len(stack)-1]
		if _, done := v.justification[top.msg]; done {
			stack = stack[:len(stack)-1]
			continue
		}
		if !top.depsPushed {
			top.depsPushed = true
			for _, dep := range top.msg.Justifications {
				if dep == nil {
					return ErrMissingJustification
				}
				if _, done := v.justification[dep]; !done {
					stack = append(stack, &frame{msg: dep})
				}
			}
			continue
		}
		v.justification[top.msg] = struct{}{}
		if err := v.ingest(top.msg); err != nil {
			return err
		}
		stack = stack[:len(stack)-1]
	}
	return nil
}

func (v *View) ingest(m *Message) error {
	cur, ok := v.latestOfSender[m.Sender]
	if !ok || m.Height > cur.Height {
		v.latestOfSender[m.Sender] = m
		_, ignored, err := v.tree.AddLatest(m.Block, m.Sender)
		if err != nil {
			return errors.Wrapf(err, "observing message from %s at height %d", m.Sender, m.Height)
		}
		if ignored {
			log.WithFields(logrus.Fields{"sender": m.Sender, "height": m.Height}).
				Debug("observed latest message unrelated to current tree root")
		}
	}
	if m.Sender == v.self {
		for uint64(len(v.ownMessages)) <= m.Height {
			v.ownMessages = append(v.ownMessages, nil)
		}
		v.ownMessages[m.Height] = m
	}
	return nil
}

// Forkchoice runs GHOST over the view's tree under weight map w and
// returns the resulting head block.
func (v *View) Forkchoice(w forkchoice.Weigher) (*block.Block, error) {
	head, err := v.tree.FindHead(w)
	if err != nil {
		return nil, err
	}
	return head.Block(), nil
}

// Propose builds a new block on top of the view's own fork-choice head
// (using its configured default Weigher), wraps it in a new self-authored
// Message whose Justifications snapshot the current latest-per-sender
// table, self-observes it, and returns it.
func (v *View) Propose(payload []byte) (*Message, error) {
	parent, err := v.Forkchoice(v.weights)
	if err != nil {
		return nil, errors.Wrap(err, "propose: running fork choice")
	}
	nb := block.New(parent, payload)
	prev := v.latestOfSender[v.self]
	msg := NewMessage(v.self, nb, v.latestOfSender, prev)
	if err := v.Observe(msg); err != nil {
		return nil, errors.Wrap(err, "propose: self-observing new message")
	}
	return msg, nil
}
