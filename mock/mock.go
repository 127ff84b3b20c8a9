package mock

import (
	"context"
	"strings"
	"sync"

	"github.com/stevegt/chatbook/client"
)

// Response is a canned reply.  If Err is set the call fails with it.
type Response struct {
	Body string
	Err  error
}

// Call records one request made to the mock.
type Call struct {
	Method    string
	Prompt    string
	Sysmsg    string
	Messages  []client.ChatMsg
	Utterance string
}

// Client is a mock LLM provider for testing.  It implements every
// client interface and returns pre-configured responses in order;
// after the list is exhausted it keeps returning the last one.  With
// no responses configured it echoes the input back.
type Client struct {
	mu        sync.Mutex
	responses []Response
	idx       int
	calls     []Call
	// Chunk splits streamed replies into fragments of this many runes.
	// Zero streams word by word.
	Chunk int
}

var (
	_ client.StreamClient   = (*Client)(nil)
	_ client.MessagesClient = (*Client)(nil)
	_ client.SessionClient  = (*Client)(nil)
)

// NewClient creates a new mock client.
func NewClient(responses ...Response) *Client {
	return &Client{responses: responses}
}

// SetResponses replaces the canned responses and rewinds.
func (c *Client) SetResponses(responses ...Response) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.responses = responses
	c.idx = 0
}

// Calls returns a copy of all requests received so far.
func (c *Client) Calls() []Call {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Call, len(c.calls))
	copy(out, c.calls)
	return out
}

func (c *Client) next(ctx context.Context, call Call, echo string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", client.NewApiError("mock", err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, call)
	if len(c.responses) == 0 {
		return "echo: " + echo, nil
	}
	r := c.responses[c.idx]
	if c.idx < len(c.responses)-1 {
		c.idx++
	}
	if r.Err != nil {
		return "", client.NewApiError("mock", r.Err)
	}
	return client.CheckReply("mock", r.Body)
}

// Generate returns the next canned response.
func (c *Client) Generate(ctx context.Context, prompt string) (string, error) {
	return c.next(ctx, Call{Method: "Generate", Prompt: prompt}, lastLine(prompt))
}

// GenerateStream returns the next canned response as a stream.
func (c *Client) GenerateStream(ctx context.Context, prompt string) (client.Stream, error) {
	resp, err := c.next(ctx, Call{Method: "GenerateStream", Prompt: prompt}, lastLine(prompt))
	if err != nil {
		return nil, err
	}
	return client.NewSliceStream(nil, c.split(resp)...), nil
}

// CompleteChat returns the next canned response.
func (c *Client) CompleteChat(ctx context.Context, sysmsg string, msgs []client.ChatMsg) (string, error) {
	cp := make([]client.ChatMsg, len(msgs))
	copy(cp, msgs)
	echo := ""
	if len(msgs) > 0 {
		echo = msgs[len(msgs)-1].Content
	}
	return c.next(ctx, Call{Method: "CompleteChat", Sysmsg: sysmsg, Messages: cp}, echo)
}

// StartChat starts a mock stateful session.
func (c *Client) StartChat(ctx context.Context, sysmsg string, history []client.ChatMsg) (client.ChatSession, error) {
	cp := make([]client.ChatMsg, len(history))
	copy(cp, history)
	c.mu.Lock()
	c.calls = append(c.calls, Call{Method: "StartChat", Sysmsg: sysmsg, Messages: cp})
	c.mu.Unlock()
	return &Session{c: c}, nil
}

// Session is the ChatSession returned by Client.StartChat.
type Session struct {
	c *Client
}

func (s *Session) Send(ctx context.Context, utterance string) (string, error) {
	return s.c.next(ctx, Call{Method: "Send", Utterance: utterance}, utterance)
}

func (s *Session) SendStream(ctx context.Context, utterance string) (client.Stream, error) {
	resp, err := s.c.next(ctx, Call{Method: "SendStream", Utterance: utterance}, utterance)
	if err != nil {
		return nil, err
	}
	return client.NewSliceStream(nil, s.c.split(resp)...), nil
}

func (c *Client) split(txt string) (frags []string) {
	if c.Chunk <= 0 {
		words := strings.SplitAfter(txt, " ")
		for _, w := range words {
			if w != "" {
				frags = append(frags, w)
			}
		}
		return
	}
	runes := []rune(txt)
	for len(runes) > c.Chunk {
		frags = append(frags, string(runes[:c.Chunk]))
		runes = runes[c.Chunk:]
	}
	if len(runes) > 0 {
		frags = append(frags, string(runes))
	}
	return
}

// lastLine returns the user utterance out of a rendered prompt.
func lastLine(prompt string) string {
	prompt = strings.TrimSuffix(prompt, "\nAssistant:")
	i := strings.LastIndex(prompt, "User: ")
	if i < 0 {
		return prompt
	}
	return prompt[i+len("User: "):]
}
