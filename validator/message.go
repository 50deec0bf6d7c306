// Package validator implements ValidatorView: the per-validator state that
// ingests causally-delivered messages, maintains the latest-per-sender
// table, and drives a CompressedTree from it.
package validator

import (
	"github.com/CarlBeek/CBC-LMD/block"
	"github.com/CarlBeek/CBC-LMD/forkchoice"
)

// Message is the in-process representation of the wire shape from spec.md
// §6: sender, block, message_height, a causal snapshot of latest-per-sender
// (latest_messages), and an optional link to the sender's own previous
// message. Because no wire/persistence format is specified, Justifications
// and Prev hold direct pointers rather than serialized refs — a caller
// bridging this to a network would resolve MessageRef-style (sender,
// height) pairs into these pointers via its own message store before
// calling Observe.
type Message struct {
	Sender         forkchoice.ValidatorID
	Block          *block.Block
	Height         uint64
	Justifications map[forkchoice.ValidatorID]*Message
	Prev           *Message
}

// NewMessage constructs a message. justifications is copied defensively so
// the caller's own latest-per-sender table can keep mutating afterward.
// Height is prev.Height+1, or 0 if prev is nil (first message from sender).
func NewMessage(sender forkchoice.ValidatorID, b *block.Block, justifications map[forkchoice.ValidatorID]*Message, prev *Message) *Message {
	snapshot := make(map[forkchoice.ValidatorID]*Message, len(justifications))
	for v, m := range justifications {
		snapshot[v] = m
	}
	height := uint64(0)
	if prev != nil {
		height = prev.Height + 1
	}
	return &Message{
		Sender:         sender,
		Block:          b,
		Height:         height,
		Justifications: snapshot,
		Prev:           prev,
	}
}
