package core

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/stevegt/chatbook/client"
)

// Session is one user's chat.  It is passed explicitly to every
// Chatbot call; there is no package-level current session.
type Session struct {
	ID      string
	Created time.Time

	// mu serializes turns: one generation call per session at a time
	mu   sync.Mutex
	conv *Conversation
	// chat is the provider-side session in session mode, started
	// lazily on the first turn
	chat client.ChatSession
}

// NewSession returns an empty session with a fresh id.
func NewSession() *Session {
	return &Session{
		ID:      uuid.NewString(),
		Created: time.Now().UTC(),
		conv:    NewConversation(),
	}
}

// History returns a copy of the session's turns.
func (s *Session) History() []client.ChatMsg {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conv.Turns()
}

// Len returns the number of turns.
func (s *Session) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conv.Len()
}
