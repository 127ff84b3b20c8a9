package client

import (
	"context"
)

// Role names used inside chatbook.  Providers that name roles
// differently (e.g. Gemini's "model") remap them at the edge.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleModel     = "model"
)

// ChatMsg represents a single chat message.  A stored ChatMsg is one
// turn of a conversation and is never edited after it is appended.
type ChatMsg struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatClient defines the stateless generation interface.  The prompt
// is a fully rendered conversation, system instruction included.
type ChatClient interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// StreamClient is a ChatClient that can also return the reply as a
// sequence of text fragments.
type StreamClient interface {
	ChatClient
	GenerateStream(ctx context.Context, prompt string) (Stream, error)
}

// Stream is a finite, non-restartable sequence of reply fragments.
// Recv returns io.EOF after the last fragment.
type Stream interface {
	Recv() (string, error)
	Close() error
}

// MessagesClient accepts a structured payload instead of a rendered
// prompt.  The roles in msgs must already be set to the values the
// provider's API expects.
type MessagesClient interface {
	CompleteChat(ctx context.Context, sysmsg string, msgs []ChatMsg) (string, error)
}

// SessionClient is the stateful variant: the provider keeps the
// conversation and we only send the newest utterance.
type SessionClient interface {
	StartChat(ctx context.Context, sysmsg string, history []ChatMsg) (ChatSession, error)
}

// ChatSession is a provider-side conversation started by a
// SessionClient.
type ChatSession interface {
	Send(ctx context.Context, utterance string) (string, error)
	SendStream(ctx context.Context, utterance string) (Stream, error)
}
