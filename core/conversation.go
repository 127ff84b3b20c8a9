package core

import (
	"github.com/stevegt/chatbook/client"
)

// Conversation is the ordered list of turns of one session, oldest
// first.  It only grows by Append and is only ever cleared as a
// whole.  It always holds the full history; truncation happens when a
// prompt is rendered, never here.
//
// A Conversation is not safe for concurrent use; the owning Session
// serializes access.
type Conversation struct {
	turns []client.ChatMsg
}

// NewConversation returns a conversation holding a copy of turns.
func NewConversation(turns ...client.ChatMsg) *Conversation {
	c := &Conversation{}
	c.Append(turns...)
	return c
}

// Append adds turns to the end.
func (c *Conversation) Append(turns ...client.ChatMsg) {
	c.turns = append(c.turns, turns...)
}

// Turns returns a copy of the turns.
func (c *Conversation) Turns() []client.ChatMsg {
	out := make([]client.ChatMsg, len(c.turns))
	copy(out, c.turns)
	return out
}

// Len returns the number of turns.
func (c *Conversation) Len() int {
	return len(c.turns)
}

// Reset drops every turn.
func (c *Conversation) Reset() {
	c.turns = nil
}
