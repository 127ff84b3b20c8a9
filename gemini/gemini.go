package gemini

import (
	"context"
	"io"
	"iter"
	"os"

	. "github.com/stevegt/goadapt"
	"github.com/stevegt/chatbook/client"
	"github.com/stevegt/chatbook/prompt"
	"google.golang.org/genai"
)

const providerName = "gemini"

// GeminiChatClient implements the client interfaces on top of the
// Gemini API.  Unlike OpenAI, Gemini has real chat sessions, so
// StartChat is not emulated.
type GeminiChatClient struct {
	client *genai.Client
	model  string
}

var (
	_ client.StreamClient   = (*GeminiChatClient)(nil)
	_ client.MessagesClient = (*GeminiChatClient)(nil)
	_ client.SessionClient  = (*GeminiChatClient)(nil)
)

// NewGeminiChatClient creates a client bound to model.  An empty
// apiKey falls back to GOOGLE_API_KEY, then GEMINI_API_KEY.
func NewGeminiChatClient(ctx context.Context, apiKey, model, baseURL string) (gc *GeminiChatClient, err error) {
	defer Return(&err)
	if apiKey == "" {
		apiKey = os.Getenv("GOOGLE_API_KEY")
	}
	if apiKey == "" {
		apiKey = os.Getenv("GEMINI_API_KEY")
	}
	if apiKey == "" {
		err = client.MissingCredential(providerName, "GOOGLE_API_KEY")
		return
	}
	cfg := &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	}
	if baseURL != "" {
		cfg.HTTPOptions.BaseURL = baseURL
	}
	c, err := genai.NewClient(ctx, cfg)
	Ck(err)
	gc = &GeminiChatClient{client: c, model: model}
	return
}

// Generate sends the rendered prompt as a single user turn.
func (gc *GeminiChatClient) Generate(ctx context.Context, txt string) (string, error) {
	resp, err := gc.client.Models.GenerateContent(ctx, gc.model, genai.Text(txt), nil)
	return reply(resp, err)
}

// GenerateStream is the streaming form of Generate.
func (gc *GeminiChatClient) GenerateStream(ctx context.Context, txt string) (client.Stream, error) {
	seq := gc.client.Models.GenerateContentStream(ctx, gc.model, genai.Text(txt), nil)
	return newStream(seq), nil
}

// CompleteChat sends the structured payload.  The system instruction
// travels in the request config, and assistant turns are sent with
// Gemini's "model" role.
func (gc *GeminiChatClient) CompleteChat(ctx context.Context, sysmsg string, msgs []client.ChatMsg) (string, error) {
	Debug("gemini: sending %d messages to %s", len(msgs), gc.model)
	resp, err := gc.client.Models.GenerateContent(ctx, gc.model, contents(msgs), config(sysmsg))
	return reply(resp, err)
}

// StartChat opens a Gemini chat seeded with history.
func (gc *GeminiChatClient) StartChat(ctx context.Context, sysmsg string, history []client.ChatMsg) (sess client.ChatSession, err error) {
	chat, err := gc.client.Chats.Create(ctx, gc.model, config(sysmsg), contents(history))
	if err != nil {
		return nil, client.NewApiError(providerName, err)
	}
	return &session{chat: chat}, nil
}

type session struct {
	chat *genai.Chat
}

func (s *session) Send(ctx context.Context, utterance string) (string, error) {
	resp, err := s.chat.SendMessage(ctx, genai.Part{Text: utterance})
	return reply(resp, err)
}

func (s *session) SendStream(ctx context.Context, utterance string) (client.Stream, error) {
	return newStream(s.chat.SendMessageStream(ctx, genai.Part{Text: utterance})), nil
}

func config(sysmsg string) *genai.GenerateContentConfig {
	if sysmsg == "" {
		return nil
	}
	return &genai.GenerateContentConfig{
		SystemInstruction: &genai.Content{Parts: []*genai.Part{{Text: sysmsg}}},
	}
}

// contents converts chatbook messages to Gemini contents.  Roles are
// remapped the same way the structured payload is built.
func contents(msgs []client.ChatMsg) (out []*genai.Content) {
	for _, msg := range msgs {
		out = append(out, &genai.Content{
			Role:  prompt.GeminiRoles.Map(msg.Role),
			Parts: []*genai.Part{{Text: msg.Content}},
		})
	}
	return
}

func reply(resp *genai.GenerateContentResponse, err error) (string, error) {
	if err != nil {
		return "", client.NewApiError(providerName, err)
	}
	if resp == nil {
		return client.CheckReply(providerName, "")
	}
	return client.CheckReply(providerName, resp.Text())
}

// stream adapts Gemini's push iterator to client.Stream.
type stream struct {
	next func() (*genai.GenerateContentResponse, error, bool)
	stop func()
}

func newStream(seq iter.Seq2[*genai.GenerateContentResponse, error]) *stream {
	next, stop := iter.Pull2(seq)
	return &stream{next: next, stop: stop}
}

func (s *stream) Recv() (string, error) {
	for {
		resp, err, ok := s.next()
		if !ok {
			return "", io.EOF
		}
		if err != nil {
			return "", client.NewApiError(providerName, err)
		}
		if resp == nil {
			continue
		}
		if txt := resp.Text(); txt != "" {
			return txt, nil
		}
	}
}

func (s *stream) Close() error {
	s.stop()
	return nil
}
