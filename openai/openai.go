package openai

import (
	"context"
	"errors"
	"io"
	"os"
	"sync"

	gptLib "github.com/sashabaranov/go-openai"
	. "github.com/stevegt/goadapt"
	"github.com/stevegt/chatbook/client"
)

const providerName = "openai"

// OpenAIChatClient implements the client interfaces for OpenAI.
type OpenAIChatClient struct {
	client *gptLib.Client
	model  string
}

var (
	_ client.StreamClient   = (*OpenAIChatClient)(nil)
	_ client.MessagesClient = (*OpenAIChatClient)(nil)
	_ client.SessionClient  = (*OpenAIChatClient)(nil)
)

// NewOpenAIChatClient creates a new OpenAIChatClient instance.  An
// empty apiKey falls back to OPENAI_API_KEY.  baseURL is optional and
// mostly useful for compatible servers and tests.
func NewOpenAIChatClient(apiKey, model, baseURL string) (oc *OpenAIChatClient, err error) {
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}
	if apiKey == "" {
		err = client.MissingCredential(providerName, "OPENAI_API_KEY")
		return
	}
	cfg := gptLib.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	oc = &OpenAIChatClient{client: gptLib.NewClientWithConfig(cfg), model: model}
	return
}

// Generate sends the rendered prompt as a single user message.  The
// system instruction is already part of the prompt.
func (oc *OpenAIChatClient) Generate(ctx context.Context, prompt string) (string, error) {
	return oc.complete(ctx, []gptLib.ChatCompletionMessage{
		{Role: gptLib.ChatMessageRoleUser, Content: prompt},
	})
}

// GenerateStream is the streaming form of Generate.
func (oc *OpenAIChatClient) GenerateStream(ctx context.Context, prompt string) (client.Stream, error) {
	return oc.stream(ctx, []gptLib.ChatCompletionMessage{
		{Role: gptLib.ChatMessageRoleUser, Content: prompt},
	})
}

// CompleteChat sends a chat request to the OpenAI API and returns the
// response.  It converts client.ChatMsg messages into OpenAI's
// ChatCompletionMessage format.
func (oc *OpenAIChatClient) CompleteChat(ctx context.Context, sysmsg string, messages []client.ChatMsg) (string, error) {
	return oc.complete(ctx, toOpenAI(sysmsg, messages))
}

func (oc *OpenAIChatClient) complete(ctx context.Context, omsgs []gptLib.ChatCompletionMessage) (string, error) {
	Debug("openai: sending %d messages to %s", len(omsgs), oc.model)
	req := gptLib.ChatCompletionRequest{
		Model:    oc.model,
		Messages: omsgs,
	}
	resp, err := oc.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", client.NewApiError(providerName, err)
	}
	if len(resp.Choices) == 0 {
		return client.CheckReply(providerName, "")
	}
	Debug("openai: total tokens %d", resp.Usage.TotalTokens)
	return client.CheckReply(providerName, resp.Choices[0].Message.Content)
}

func (oc *OpenAIChatClient) stream(ctx context.Context, omsgs []gptLib.ChatCompletionMessage) (client.Stream, error) {
	req := gptLib.ChatCompletionRequest{
		Model:    oc.model,
		Messages: omsgs,
		Stream:   true,
	}
	s, err := oc.client.CreateChatCompletionStream(ctx, req)
	if err != nil {
		return nil, client.NewApiError(providerName, err)
	}
	return &stream{s: s}, nil
}

// stream adapts go-openai's stream reader to client.Stream.
type stream struct {
	s *gptLib.ChatCompletionStream
}

func (st *stream) Recv() (frag string, err error) {
	resp, err := st.s.Recv()
	if err != nil {
		if isEOF(err) {
			return "", err
		}
		return "", client.NewApiError(providerName, err)
	}
	for _, choice := range resp.Choices {
		frag += choice.Delta.Content
	}
	return
}

func (st *stream) Close() error {
	st.s.Close()
	return nil
}

// StartChat emulates a stateful session: OpenAI's chat API is
// stateless, so the session keeps the message list on our side.
func (oc *OpenAIChatClient) StartChat(ctx context.Context, sysmsg string, history []client.ChatMsg) (client.ChatSession, error) {
	sess := &session{oc: oc, sysmsg: sysmsg}
	sess.msgs = append(sess.msgs, history...)
	return sess, nil
}

type session struct {
	mu     sync.Mutex
	oc     *OpenAIChatClient
	sysmsg string
	msgs   []client.ChatMsg
}

func (s *session) Send(ctx context.Context, utterance string) (resp string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msgs := withUser(s.msgs, utterance)
	resp, err = s.oc.CompleteChat(ctx, s.sysmsg, msgs)
	if err != nil {
		return
	}
	s.msgs = append(msgs, client.ChatMsg{Role: client.RoleAssistant, Content: resp})
	return
}

func (s *session) SendStream(ctx context.Context, utterance string) (client.Stream, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msgs := withUser(s.msgs, utterance)
	st, err := s.oc.stream(ctx, toOpenAI(s.sysmsg, msgs))
	if err != nil {
		return nil, err
	}
	return &sessionStream{Stream: st, sess: s, msgs: msgs}, nil
}

// sessionStream records the assistant reply in the session once the
// stream has been read to the end.
type sessionStream struct {
	client.Stream
	sess *session
	msgs []client.ChatMsg
	buf  []byte
}

func (ss *sessionStream) Recv() (frag string, err error) {
	frag, err = ss.Stream.Recv()
	if err == nil {
		ss.buf = append(ss.buf, frag...)
		return
	}
	if isEOF(err) && len(ss.buf) > 0 {
		ss.sess.mu.Lock()
		ss.sess.msgs = append(ss.msgs, client.ChatMsg{Role: client.RoleAssistant, Content: string(ss.buf)})
		ss.sess.mu.Unlock()
		ss.buf = nil
	}
	return
}

// withUser returns a copy of msgs with the utterance appended.
func withUser(msgs []client.ChatMsg, utterance string) []client.ChatMsg {
	out := make([]client.ChatMsg, len(msgs), len(msgs)+2)
	copy(out, msgs)
	return append(out, client.ChatMsg{Role: client.RoleUser, Content: utterance})
}

func isEOF(err error) bool {
	return errors.Is(err, io.EOF)
}

// toOpenAI converts chatbook messages, with the system message first.
func toOpenAI(sysmsg string, messages []client.ChatMsg) (omsgs []gptLib.ChatCompletionMessage) {
	if sysmsg != "" {
		omsgs = append(omsgs, gptLib.ChatCompletionMessage{
			Role:    gptLib.ChatMessageRoleSystem,
			Content: sysmsg,
		})
	}
	for _, msg := range messages {
		var role string
		switch msg.Role {
		case client.RoleAssistant, client.RoleModel:
			role = gptLib.ChatMessageRoleAssistant
		case client.RoleSystem:
			role = gptLib.ChatMessageRoleSystem
		default:
			role = gptLib.ChatMessageRoleUser
		}
		omsgs = append(omsgs, gptLib.ChatCompletionMessage{
			Role:    role,
			Content: msg.Content,
		})
	}
	return
}
