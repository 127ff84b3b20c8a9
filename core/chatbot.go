package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/stevegt/envi"
	. "github.com/stevegt/goadapt"

	"github.com/stevegt/chatbook/client"
	"github.com/stevegt/chatbook/prompt"
	"github.com/stevegt/chatbook/store"
)

// Mode selects how a turn is sent to the model.
type Mode string

const (
	// ModePrompt renders the conversation into one prompt string and
	// makes a stateless call.
	ModePrompt Mode = "prompt"
	// ModeMessages sends the conversation as a structured list of
	// role-tagged messages.
	ModeMessages Mode = "messages"
	// ModeSession keeps a provider-side chat and sends only the new
	// utterance.
	ModeSession Mode = "session"
)

// Modes lists the accepted modes.
var Modes = []Mode{ModePrompt, ModeMessages, ModeSession}

// Fallback replies.  They are shown to the user and also appended to
// the conversation so the transcript matches what was displayed.
var (
	FallbackError = "Xin lỗi, đã xảy ra lỗi khi kết nối %s: %s"
	FallbackEmpty = "Xin lỗi, mô hình không trả lời. Thầy/em vui lòng thử lại."
)

// ErrNotSaved means a turn was answered and kept in memory but the
// store refused it.
var ErrNotSaved = errors.New("turn not saved")

// Options configures a Chatbot.
type Options struct {
	Sysmsg string
	Mode   Mode
	// MaxChars and Policy bound the rendered prompt in ModePrompt.
	MaxChars      int
	Policy        prompt.Policy
	TrimUtterance bool
	// Provider names the backend in fallback messages and picks the
	// role names used in ModeMessages.
	Provider string
	// Store persists sessions; nil means an in-memory store.
	Store store.Store
}

// Chatbot processes turns for any number of sessions.
type Chatbot struct {
	client   client.ChatClient
	opts     Options
	renderer *prompt.Renderer
	roles    prompt.RoleMap
	store    store.Store

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewChatbot returns a Chatbot using c.  It fails if c can't serve
// the requested mode.
func NewChatbot(c client.ChatClient, opts Options) (cb *Chatbot, err error) {
	defer Return(&err)
	Assert(c != nil, "nil client")
	if opts.Mode == "" {
		opts.Mode = ModePrompt
	}
	if opts.Sysmsg == "" {
		opts.Sysmsg = Sysmsg
	}
	if opts.Policy == "" {
		opts.Policy = prompt.PolicyTail
	}
	switch opts.Mode {
	case ModePrompt:
	case ModeMessages:
		if _, ok := c.(client.MessagesClient); !ok {
			err = fmt.Errorf("%s does not support mode %q", opts.Provider, opts.Mode)
		}
	case ModeSession:
		if _, ok := c.(client.SessionClient); !ok {
			err = fmt.Errorf("%s does not support mode %q", opts.Provider, opts.Mode)
		}
	default:
		err = fmt.Errorf("unknown mode %q", opts.Mode)
	}
	Ck(err)
	st := opts.Store
	if st == nil {
		st = store.NewMemory()
	}
	cb = &Chatbot{
		client: c,
		opts:   opts,
		renderer: &prompt.Renderer{
			Sysmsg:        opts.Sysmsg,
			MaxChars:      opts.MaxChars,
			Policy:        opts.Policy,
			TrimUtterance: opts.TrimUtterance,
		},
		roles:    RolesFor(opts.Provider),
		store:    st,
		sessions: make(map[string]*Session),
	}
	return
}

// Renderer returns the prompt renderer used in ModePrompt.
func (cb *Chatbot) Renderer() *prompt.Renderer {
	return cb.renderer
}

// Store returns the session store.
func (cb *Chatbot) Store() store.Store {
	return cb.store
}

// Session returns the session with the given id, loading it from the
// store if it isn't cached.  An unknown id starts a new empty session
// under that id; an empty id starts one with a fresh id.  New
// sessions are neither stored nor cached until their first turn, so
// callers that never ask anything leave nothing behind.
func (cb *Chatbot) Session(id string) (s *Session, err error) {
	defer Return(&err)
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if id == "" {
		s = NewSession()
		return
	}
	s, ok := cb.sessions[id]
	if ok {
		return
	}
	s = NewSession()
	s.ID = id
	rec, err := cb.store.Load(id)
	switch {
	case errors.Is(err, store.ErrNotFound):
		err = nil
		return
	case err != nil:
		return
	}
	s.Created = rec.Created
	s.conv = NewConversation(rec.Turns...)
	Debug("loaded session %s with %d turns", id, len(rec.Turns))
	cb.sessions[id] = s
	return
}

// adopt caches s on its first turn.  If another session with the
// same id got there first, that one is returned instead.
func (cb *Chatbot) adopt(s *Session) *Session {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cur, ok := cb.sessions[s.ID]; ok {
		return cur
	}
	cb.sessions[s.ID] = s
	return s
}

// Resume returns a session holding turns, e.g. a conversation read
// back from a transcript file.  The stored copy of session id is
// replaced by turns; an empty id starts a session with a fresh id.
func (cb *Chatbot) Resume(id string, turns []client.ChatMsg) (s *Session, err error) {
	s = NewSession()
	if id != "" {
		s.ID = id
	}
	s.conv = NewConversation(turns...)
	err = cb.store.Clear(s.ID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}
	err = nil
	if len(turns) > 0 {
		err = cb.store.Append(s.ID, turns...)
		if err != nil {
			return nil, err
		}
	}
	cb.mu.Lock()
	cb.sessions[s.ID] = s
	cb.mu.Unlock()
	return
}

// Forget drops a session from the cache and the store.
func (cb *Chatbot) Forget(id string) error {
	cb.mu.Lock()
	delete(cb.sessions, id)
	cb.mu.Unlock()
	return cb.store.Delete(id)
}

// Reset clears a session's conversation, drops its provider-side
// chat, and clears the stored copy.
func (cb *Chatbot) Reset(s *Session) (err error) {
	s = cb.adopt(s)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conv.Reset()
	s.chat = nil
	err = cb.store.Clear(s.ID)
	if errors.Is(err, store.ErrNotFound) {
		err = nil
	}
	return
}

// Ask sends utterance as the next user turn and returns the reply.
//
// If the model call fails or returns nothing, reply is a fallback
// message and err is the underlying *client.ApiError.  In that case
// both turns are still appended, so callers should show reply and
// only log err.  If the turn was answered but could not be written
// to the store, err wraps ErrNotSaved and reply is still good.  Any
// other error means nothing was appended.
func (cb *Chatbot) Ask(ctx context.Context, s *Session, utterance string) (reply string, err error) {
	return cb.AskStream(ctx, s, utterance, nil)
}

// AskStream is Ask with incremental output: onFragment is called for
// each piece of the reply as it arrives.  A nil onFragment makes a
// plain call.  Providers without streaming deliver the whole reply as
// one fragment.  A fallback reply is also passed to onFragment.  If a
// stream fails part way, the fallback follows the text already shown
// and the stored reply holds both.
func (cb *Chatbot) AskStream(ctx context.Context, s *Session, utterance string, onFragment func(string)) (reply string, err error) {
	s = cb.adopt(s)
	s.mu.Lock()
	defer s.mu.Unlock()

	// shown is what the caller has displayed so far
	var shown strings.Builder
	var show func(string)
	if onFragment != nil {
		show = func(frag string) {
			shown.WriteString(frag)
			onFragment(frag)
		}
	}

	history := s.conv.Turns()
	reply, err = cb.generate(ctx, s, history, utterance, show)
	if err != nil {
		var apiErr *client.ApiError
		if !errors.As(err, &apiErr) {
			return "", err
		}
		reply = cb.fallback(apiErr)
		if shown.Len() > 0 {
			reply = "\n\n" + reply
		}
		if show != nil {
			show(reply)
			reply = shown.String()
		}
		// the provider chat doesn't know about the fallback turn
		s.chat = nil
		Debug("turn failed, using fallback: %v", err)
	}

	turns := []client.ChatMsg{
		{Role: client.RoleUser, Content: utterance},
		{Role: client.RoleAssistant, Content: reply},
	}
	s.conv.Append(turns...)
	serr := cb.store.Append(s.ID, turns...)
	if serr != nil && err == nil {
		err = fmt.Errorf("%w: session %s: %v", ErrNotSaved, s.ID, serr)
	}
	return
}

func (cb *Chatbot) fallback(apiErr *client.ApiError) string {
	if errors.Is(apiErr, client.ErrEmptyResponse) {
		return FallbackEmpty
	}
	provider := apiErr.Provider
	if cb.opts.Provider != "" {
		provider = cb.opts.Provider
	}
	return Spf(FallbackError, provider, apiErr.Detail)
}

func (cb *Chatbot) generate(ctx context.Context, s *Session, history []client.ChatMsg, utterance string, onFragment func(string)) (reply string, err error) {
	switch cb.opts.Mode {
	case ModeMessages:
		msgs := prompt.Messages(history, utterance, cb.roles)
		Debug("sending %d messages", len(msgs))
		mc := cb.client.(client.MessagesClient)
		reply, err = mc.CompleteChat(ctx, cb.opts.Sysmsg, msgs)
		if err == nil && onFragment != nil {
			onFragment(reply)
		}
		return
	case ModeSession:
		if s.chat == nil {
			// the provider gets the same cleaned history a
			// structured payload would carry, minus the new turn
			msgs := prompt.Messages(history, "", cb.roles)
			sc := cb.client.(client.SessionClient)
			s.chat, err = sc.StartChat(ctx, cb.opts.Sysmsg, msgs[:len(msgs)-1])
			if err != nil {
				return
			}
		}
		if onFragment == nil {
			return s.chat.Send(ctx, utterance)
		}
		var st client.Stream
		st, err = s.chat.SendStream(ctx, utterance)
		if err != nil {
			return
		}
		return cb.collect(st, onFragment)
	default:
		txt := cb.renderer.Render(history, utterance)
		if envi.String("DEBUG", "") != "" {
			// counting tokens costs an encoder pass per turn
			if tc, terr := prompt.TokenCount(txt); terr == nil {
				Debug("prompt: %d chars, %d tokens", prompt.Len(txt), tc)
			}
		}
		sc, ok := cb.client.(client.StreamClient)
		if onFragment == nil || !ok {
			reply, err = cb.client.Generate(ctx, txt)
			if err == nil && onFragment != nil {
				onFragment(reply)
			}
			return
		}
		var st client.Stream
		st, err = sc.GenerateStream(ctx, txt)
		if err != nil {
			return
		}
		return cb.collect(st, onFragment)
	}
}

// collect drains a stream and treats a reply with no text as empty.
func (cb *Chatbot) collect(st client.Stream, onFragment func(string)) (reply string, err error) {
	reply, err = client.Collect(st, onFragment)
	if err != nil {
		return
	}
	return client.CheckReply(cb.opts.Provider, reply)
}
