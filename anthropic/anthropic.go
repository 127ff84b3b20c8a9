package anthropic

import (
	"context"
	"io"
	"os"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"
	. "github.com/stevegt/goadapt"
	"github.com/stevegt/chatbook/client"
)

const (
	providerName = "anthropic"

	// DefaultMaxTokens caps each reply.  The Messages API requires a
	// limit on every request.
	DefaultMaxTokens = 4096

	defaultMaxRetries = 3
)

// AnthropicChatClient implements the stateless client interfaces for
// the Anthropic Messages API.  There is no server-side chat, so it
// does not implement client.SessionClient.
type AnthropicChatClient struct {
	client    anthropic.Client
	model     string
	maxTokens int64
}

var (
	_ client.StreamClient   = (*AnthropicChatClient)(nil)
	_ client.MessagesClient = (*AnthropicChatClient)(nil)
)

// Option configures an AnthropicChatClient.
type Option func(*settings)

type settings struct {
	apiKey     string
	baseURL    string
	maxRetries int
	maxTokens  int64
}

// WithAPIKey sets the API key.  Without it ANTHROPIC_API_KEY is used.
func WithAPIKey(key string) Option {
	return func(s *settings) { s.apiKey = key }
}

// WithBaseURL points the client at another endpoint.
func WithBaseURL(url string) Option {
	return func(s *settings) { s.baseURL = url }
}

// WithMaxRetries sets how often the SDK retries 429 and 5xx replies.
func WithMaxRetries(n int) Option {
	return func(s *settings) { s.maxRetries = n }
}

// WithMaxTokens overrides DefaultMaxTokens.
func WithMaxTokens(n int) Option {
	return func(s *settings) { s.maxTokens = int64(n) }
}

// NewAnthropicChatClient creates a client bound to model.
func NewAnthropicChatClient(model string, opts ...Option) (ac *AnthropicChatClient, err error) {
	s := settings{maxRetries: defaultMaxRetries, maxTokens: DefaultMaxTokens}
	for _, o := range opts {
		o(&s)
	}
	if s.apiKey == "" {
		s.apiKey = os.Getenv("ANTHROPIC_API_KEY")
	}
	if s.apiKey == "" {
		err = client.MissingCredential(providerName, "ANTHROPIC_API_KEY")
		return
	}
	ropts := []option.RequestOption{
		option.WithAPIKey(s.apiKey),
		option.WithMaxRetries(s.maxRetries),
	}
	if s.baseURL != "" {
		ropts = append(ropts, option.WithBaseURL(s.baseURL))
	}
	ac = &AnthropicChatClient{
		client:    anthropic.NewClient(ropts...),
		model:     model,
		maxTokens: s.maxTokens,
	}
	return
}

// Generate sends the rendered prompt as a single user message.
func (ac *AnthropicChatClient) Generate(ctx context.Context, txt string) (string, error) {
	return ac.complete(ctx, ac.params("", []client.ChatMsg{{Role: client.RoleUser, Content: txt}}))
}

// GenerateStream is the streaming form of Generate.
func (ac *AnthropicChatClient) GenerateStream(ctx context.Context, txt string) (client.Stream, error) {
	params := ac.params("", []client.ChatMsg{{Role: client.RoleUser, Content: txt}})
	return &stream{s: ac.client.Messages.NewStreaming(ctx, params)}, nil
}

// CompleteChat sends the structured payload with sysmsg as the
// top-level system block.
func (ac *AnthropicChatClient) CompleteChat(ctx context.Context, sysmsg string, msgs []client.ChatMsg) (string, error) {
	return ac.complete(ctx, ac.params(sysmsg, msgs))
}

func (ac *AnthropicChatClient) params(sysmsg string, msgs []client.ChatMsg) anthropic.MessageNewParams {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(ac.model),
		MaxTokens: ac.maxTokens,
	}
	for _, msg := range msgs {
		block := anthropic.NewTextBlock(msg.Content)
		switch msg.Role {
		case client.RoleAssistant, client.RoleModel:
			params.Messages = append(params.Messages, anthropic.NewAssistantMessage(block))
		default:
			params.Messages = append(params.Messages, anthropic.NewUserMessage(block))
		}
	}
	if sysmsg != "" {
		params.System = []anthropic.TextBlockParam{{Text: sysmsg}}
	}
	return params
}

func (ac *AnthropicChatClient) complete(ctx context.Context, params anthropic.MessageNewParams) (string, error) {
	Debug("anthropic: sending %d messages to %s", len(params.Messages), ac.model)
	msg, err := ac.client.Messages.New(ctx, params)
	if err != nil {
		return "", client.NewApiError(providerName, err)
	}
	var txt string
	for _, block := range msg.Content {
		if tb, ok := block.AsAny().(anthropic.TextBlock); ok {
			txt += tb.Text
		}
	}
	Debug("anthropic: %d input, %d output tokens", msg.Usage.InputTokens, msg.Usage.OutputTokens)
	return client.CheckReply(providerName, txt)
}

// stream adapts the SDK's event stream to client.Stream, passing on
// text deltas only.
type stream struct {
	s *ssestream.Stream[anthropic.MessageStreamEventUnion]
}

func (st *stream) Recv() (string, error) {
	for st.s.Next() {
		ev, ok := st.s.Current().AsAny().(anthropic.ContentBlockDeltaEvent)
		if !ok {
			continue
		}
		if td, ok := ev.Delta.AsAny().(anthropic.TextDelta); ok && td.Text != "" {
			return td.Text, nil
		}
	}
	if err := st.s.Err(); err != nil {
		return "", client.NewApiError(providerName, err)
	}
	return "", io.EOF
}

func (st *stream) Close() error {
	return st.s.Close()
}
