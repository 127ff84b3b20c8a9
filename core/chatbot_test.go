package core

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	. "github.com/stevegt/goadapt"

	"github.com/stevegt/chatbook/client"
	"github.com/stevegt/chatbook/mock"
	"github.com/stevegt/chatbook/prompt"
	"github.com/stevegt/chatbook/store"
)

func newBot(t *testing.T, mc *mock.Client, opts Options) *Chatbot {
	if opts.Sysmsg == "" {
		opts.Sysmsg = "S"
	}
	if opts.MaxChars == 0 {
		opts.MaxChars = 1000
	}
	cb, err := NewChatbot(mc, opts)
	Tassert(t, err == nil, "%v", err)
	return cb
}

func TestConversationCopies(t *testing.T) {
	turns := []client.ChatMsg{{Role: client.RoleUser, Content: "a"}}
	c := NewConversation(turns...)
	turns[0].Content = "changed"
	got := c.Turns()
	Tassert(t, got[0].Content == "a", "constructor did not copy: %q", got[0].Content)
	got[0].Content = "changed"
	Tassert(t, c.Turns()[0].Content == "a", "Turns did not copy")
	c.Append(client.ChatMsg{Role: client.RoleAssistant, Content: "b"})
	Tassert(t, c.Len() == 2, "len %d", c.Len())
	c.Reset()
	Tassert(t, c.Len() == 0, "len %d", c.Len())
}

func TestModels(t *testing.T) {
	models := NewModels()
	m, err := models.FindModel("")
	Tassert(t, err == nil, "%v", err)
	Tassert(t, m.Name == "gemini-2.5-pro" && m.Provider == ProviderGemini, "default %v", m)
	Tassert(t, strings.HasPrefix(m.String(), "*"), "default not marked active: %q", m.String())
	_, err = models.FindModel("nope")
	Tassert(t, err != nil, "expected error")
	list := models.ListModels()
	for i := 1; i < len(list); i++ {
		a, b := list[i-1], list[i]
		Tassert(t, a.Provider < b.Provider || (a.Provider == b.Provider && a.Name < b.Name), "unsorted: %v %v", a, b)
	}
}

// The Vietnamese scenario, driven through the chatbot: the second
// turn's prompt carries the first exchange.
func TestAskPromptMode(t *testing.T) {
	mc := mock.NewClient(mock.Response{Body: "Chào bạn"}, mock.Response{Body: "RAM là bộ nhớ truy cập ngẫu nhiên."})
	cb := newBot(t, mc, Options{})
	s, err := cb.Session("")
	Tassert(t, err == nil, "%v", err)

	reply, err := cb.Ask(context.Background(), s, "Xin chào")
	Tassert(t, err == nil, "%v", err)
	Tassert(t, reply == "Chào bạn", "got %q", reply)
	_, err = cb.Ask(context.Background(), s, "RAM là gì?")
	Tassert(t, err == nil, "%v", err)

	calls := mc.Calls()
	Tassert(t, len(calls) == 2, "calls %d", len(calls))
	Tassert(t, calls[0].Prompt == "S\n\nUser: Xin chào\nAssistant:", "got %q", calls[0].Prompt)
	want := "S\n\nUser: Xin chào\nAssistant: Chào bạn\nUser: RAM là gì?\nAssistant:"
	Tassert(t, calls[1].Prompt == want, "got %q", calls[1].Prompt)

	h := s.History()
	Tassert(t, len(h) == 4, "history %d", len(h))
	Tassert(t, h[2].Role == client.RoleUser && h[3].Role == client.RoleAssistant, "roles %v", h)
}

// Truncation only touches the rendered prompt.
func TestAskTruncatesPromptNotHistory(t *testing.T) {
	mc := mock.NewClient(mock.Response{Body: strings.Repeat("x", 50)})
	cb := newBot(t, mc, Options{MaxChars: 20})
	s, _ := cb.Session("")
	for i := 0; i < 3; i++ {
		_, err := cb.Ask(context.Background(), s, "hello")
		Tassert(t, err == nil, "%v", err)
	}
	for _, call := range mc.Calls() {
		Tassert(t, prompt.Len(call.Prompt) <= 20, "prompt too long: %q", call.Prompt)
		Tassert(t, strings.HasSuffix(call.Prompt, "hello\nAssistant:"), "got %q", call.Prompt)
	}
	h := s.History()
	Tassert(t, len(h) == 6, "history %d", len(h))
	Tassert(t, h[1].Content == strings.Repeat("x", 50), "stored turn truncated")
}

func TestFallbackOnError(t *testing.T) {
	mc := mock.NewClient(mock.Response{Err: errors.New("quota exceeded")})
	cb := newBot(t, mc, Options{Provider: ProviderGemini})
	s, _ := cb.Session("")
	reply, err := cb.Ask(context.Background(), s, "hi")
	var apiErr *client.ApiError
	Tassert(t, errors.As(err, &apiErr), "want ApiError, got %v", err)
	Tassert(t, reply == Spf(FallbackError, "gemini", "quota exceeded"), "got %q", reply)
	h := s.History()
	Tassert(t, len(h) == 2, "history %d", len(h))
	Tassert(t, h[1].Content == reply, "fallback not appended: %v", h)
}

func TestFallbackOnEmpty(t *testing.T) {
	mc := mock.NewClient(mock.Response{Body: ""})
	cb := newBot(t, mc, Options{})
	s, _ := cb.Session("")
	reply, err := cb.Ask(context.Background(), s, "hi")
	Tassert(t, errors.Is(err, client.ErrEmptyResponse), "got %v", err)
	Tassert(t, reply == FallbackEmpty, "got %q", reply)
	Tassert(t, s.Len() == 2, "len %d", s.Len())
}

func TestAskStream(t *testing.T) {
	mc := mock.NewClient(mock.Response{Body: "Xin chào các em"})
	cb := newBot(t, mc, Options{})
	s, _ := cb.Session("")
	var frags []string
	reply, err := cb.AskStream(context.Background(), s, "hi", func(f string) { frags = append(frags, f) })
	Tassert(t, err == nil, "%v", err)
	Tassert(t, reply == "Xin chào các em", "got %q", reply)
	Tassert(t, len(frags) == 4, "frags %q", frags)
	Tassert(t, mc.Calls()[0].Method == "GenerateStream", "method %s", mc.Calls()[0].Method)
}

func TestFallbackIsStreamed(t *testing.T) {
	mc := mock.NewClient(mock.Response{Err: errors.New("down")})
	cb := newBot(t, mc, Options{Provider: "openai"})
	s, _ := cb.Session("")
	var frags []string
	reply, _ := cb.AskStream(context.Background(), s, "hi", func(f string) { frags = append(frags, f) })
	Tassert(t, len(frags) == 1 && frags[0] == reply, "frags %q", frags)
}

func TestMessagesMode(t *testing.T) {
	mc := mock.NewClient(mock.Response{Body: "Chào bạn"})
	cb := newBot(t, mc, Options{Mode: ModeMessages, Provider: ProviderGemini})
	s, _ := cb.Session("")
	_, err := cb.Ask(context.Background(), s, "Xin chào")
	Tassert(t, err == nil, "%v", err)
	_, err = cb.Ask(context.Background(), s, "RAM là gì?")
	Tassert(t, err == nil, "%v", err)
	call := mc.Calls()[1]
	Tassert(t, call.Method == "CompleteChat", "method %s", call.Method)
	Tassert(t, call.Sysmsg == "S", "sysmsg %q", call.Sysmsg)
	Tassert(t, len(call.Messages) == 3, "messages %v", call.Messages)
	Tassert(t, call.Messages[1].Role == "model", "role %q", call.Messages[1].Role)
	Tassert(t, call.Messages[2].Content == "RAM là gì?", "last %v", call.Messages[2])
}

func TestSessionMode(t *testing.T) {
	mc := mock.NewClient(
		mock.Response{Body: "one"},
		mock.Response{Err: errors.New("boom")},
		mock.Response{Body: "three"},
	)
	cb := newBot(t, mc, Options{Mode: ModeSession})
	s, _ := cb.Session("")
	ctx := context.Background()
	cb.Ask(ctx, s, "a")
	cb.Ask(ctx, s, "b")
	cb.Ask(ctx, s, "c")

	var methods []string
	for _, c := range mc.Calls() {
		methods = append(methods, c.Method)
	}
	// a failed turn drops the provider chat; the next turn starts a
	// new one seeded with the stored history, fallback included
	want := "StartChat Send Send StartChat Send"
	Tassert(t, strings.Join(methods, " ") == want, "got %v", methods)
	restart := mc.Calls()[3]
	Tassert(t, len(restart.Messages) == 4, "seed %v", restart.Messages)
	Tassert(t, strings.HasPrefix(restart.Messages[3].Content, "Xin lỗi"), "seed %v", restart.Messages)
}

type generateOnly struct{}

func (generateOnly) Generate(ctx context.Context, prompt string) (string, error) {
	return "ok", nil
}

func TestUnsupportedMode(t *testing.T) {
	_, err := NewChatbot(generateOnly{}, Options{Mode: ModeSession, Provider: "anthropic"})
	Tassert(t, err != nil && strings.Contains(err.Error(), "session"), "got %v", err)
	_, err = NewChatbot(generateOnly{}, Options{Mode: "bogus"})
	Tassert(t, err != nil, "expected error")

	// no streaming: the reply arrives as one fragment
	cb, err := NewChatbot(generateOnly{}, Options{})
	Tassert(t, err == nil, "%v", err)
	s, _ := cb.Session("")
	var frags []string
	cb.AskStream(context.Background(), s, "hi", func(f string) { frags = append(frags, f) })
	Tassert(t, len(frags) == 1 && frags[0] == "ok", "frags %q", frags)
}

func TestPersistence(t *testing.T) {
	st := store.NewMemory()
	mc := mock.NewClient()
	cb := newBot(t, mc, Options{Store: st})
	s, _ := cb.Session("")
	cb.Ask(context.Background(), s, "hi")

	// a second bot sharing the store sees the session
	cb2 := newBot(t, mc, Options{Store: st})
	s2, err := cb2.Session(s.ID)
	Tassert(t, err == nil, "%v", err)
	Tassert(t, s2.Len() == 2, "len %d", s2.Len())
	Tassert(t, !s2.Created.IsZero(), "created not loaded")

	err = cb2.Reset(s2)
	Tassert(t, err == nil, "%v", err)
	Tassert(t, s2.Len() == 0, "len %d", s2.Len())
	rec, err := st.Load(s.ID)
	Tassert(t, err == nil && len(rec.Turns) == 0, "store not cleared: %v %v", rec, err)

	err = cb2.Forget(s.ID)
	Tassert(t, err == nil, "%v", err)
	_, err = st.Load(s.ID)
	Tassert(t, errors.Is(err, store.ErrNotFound), "got %v", err)
}

func TestResume(t *testing.T) {
	st := store.NewMemory()
	mc := mock.NewClient()
	cb := newBot(t, mc, Options{Store: st})
	turns := []client.ChatMsg{
		{Role: client.RoleUser, Content: "old q"},
		{Role: client.RoleAssistant, Content: "old a"},
	}
	s, err := cb.Resume("", turns)
	Tassert(t, err == nil, "%v", err)
	Tassert(t, s.ID != "", "no id")
	cb.Ask(context.Background(), s, "new q")
	Tassert(t, s.Len() == 4, "len %d", s.Len())
	p := mc.Calls()[0].Prompt
	Tassert(t, strings.Contains(p, "User: old q\nAssistant: old a\n"), "history missing from prompt: %q", p)
	rec, err := st.Load(s.ID)
	Tassert(t, err == nil && len(rec.Turns) == 4, "stored %v %v", rec, err)
	s2, _ := cb.Session(s.ID)
	Tassert(t, s2 == s, "resumed session not cached")

	// resuming the same id replaces the stored turns instead of
	// starting another session
	s3, err := cb.Resume(s.ID, s.History())
	Tassert(t, err == nil, "%v", err)
	Tassert(t, s3.ID == s.ID, "id %q", s3.ID)
	recs, err := st.List()
	Tassert(t, err == nil && len(recs) == 1, "sessions %v %v", recs, err)
	Tassert(t, len(recs[0].Turns) == 4, "stored %d turns", len(recs[0].Turns))
	s4, _ := cb.Session(s.ID)
	Tassert(t, s4 == s3, "resumed session not cached")
}

func TestSessionCache(t *testing.T) {
	cb := newBot(t, mock.NewClient(), Options{})
	s1, _ := cb.Session("abc")
	Tassert(t, s1.ID == "abc", "id %q", s1.ID)
	_, err := cb.Ask(context.Background(), s1, "hi")
	Tassert(t, err == nil, "%v", err)
	s2, _ := cb.Session("abc")
	Tassert(t, s1 == s2, "session not cached")
	Tassert(t, s2.Len() == 2, "len %d", s2.Len())
	s3, _ := cb.Session("")
	Tassert(t, s3.ID != "" && s3.ID != "abc", "id %q", s3.ID)
}

// Sessions nobody talks to aren't kept.
func TestIdleSessionsNotCached(t *testing.T) {
	cb := newBot(t, mock.NewClient(), Options{})
	for i := 0; i < 1000; i++ {
		_, err := cb.Session("")
		Tassert(t, err == nil, "%v", err)
		_, err = cb.Session(Spf("cookie-%d", i))
		Tassert(t, err == nil, "%v", err)
	}
	Tassert(t, len(cb.sessions) == 0, "cached %d", len(cb.sessions))

	s, _ := cb.Session("")
	cb.Ask(context.Background(), s, "hi")
	Tassert(t, len(cb.sessions) == 1, "cached %d", len(cb.sessions))

	// two handles for the same new id share the first one's turns
	a, _ := cb.Session("shared")
	b, _ := cb.Session("shared")
	cb.Ask(context.Background(), a, "one")
	cb.Ask(context.Background(), b, "two")
	c, _ := cb.Session("shared")
	Tassert(t, c.Len() == 4, "len %d", c.Len())
}

// failStream fails after yielding some text.
type failStream struct {
	frags []string
}

func (f *failStream) Generate(ctx context.Context, prompt string) (string, error) {
	return "", client.NewApiError("mock", errors.New("connection reset"))
}

func (f *failStream) GenerateStream(ctx context.Context, prompt string) (client.Stream, error) {
	return client.NewSliceStream(client.NewApiError("mock", errors.New("connection reset")), f.frags...), nil
}

func TestStreamFailsMidway(t *testing.T) {
	cb, err := NewChatbot(&failStream{frags: []string{"Thuật ", "toán "}}, Options{Provider: "mock"})
	Tassert(t, err == nil, "%v", err)
	s, _ := cb.Session("")
	var shown strings.Builder
	reply, err := cb.AskStream(context.Background(), s, "hi", func(f string) { shown.WriteString(f) })
	var apiErr *client.ApiError
	Tassert(t, errors.As(err, &apiErr), "want ApiError, got %v", err)
	want := "Thuật toán \n\n" + Spf(FallbackError, "mock", "connection reset")
	Tassert(t, shown.String() == want, "shown %q", shown.String())
	Tassert(t, reply == want, "reply %q", reply)
	h := s.History()
	Tassert(t, len(h) == 2 && h[1].Content == want, "history %v", h)

	// without streaming only the fallback is shown
	s2, _ := cb.Session("")
	reply, _ = cb.Ask(context.Background(), s2, "hi")
	Tassert(t, reply == Spf(FallbackError, "mock", "connection reset"), "reply %q", reply)
	Tassert(t, s2.History()[1].Content == reply, "history %v", s2.History())
}

// failingStore refuses every write.
type failingStore struct {
	store.Store
}

func (failingStore) Append(id string, turns ...client.ChatMsg) error {
	return errors.New("disk full")
}

func TestStoreFailureKeepsReply(t *testing.T) {
	cb := newBot(t, mock.NewClient(), Options{Store: failingStore{store.NewMemory()}})
	s, _ := cb.Session("")
	reply, err := cb.Ask(context.Background(), s, "hi")
	Tassert(t, errors.Is(err, ErrNotSaved), "got %v", err)
	Tassert(t, strings.Contains(err.Error(), "disk full"), "got %v", err)
	Tassert(t, reply == "echo: hi", "reply %q", reply)
	Tassert(t, s.Len() == 2, "len %d", s.Len())
}

// Turns within a session never interleave.
func TestConcurrentTurns(t *testing.T) {
	cb := newBot(t, mock.NewClient(), Options{})
	s, _ := cb.Session("")
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			cb.Ask(context.Background(), s, Spf("q%d", i))
		}(i)
	}
	wg.Wait()
	h := s.History()
	Tassert(t, len(h) == 20, "history %d", len(h))
	for i := 0; i < len(h); i += 2 {
		Tassert(t, h[i].Role == client.RoleUser, "turn %d: %v", i, h[i])
		Tassert(t, h[i+1].Content == "echo: "+h[i].Content, "turn %d: %v", i+1, h[i+1])
	}
}

func TestDefaultSysmsg(t *testing.T) {
	Tassert(t, strings.Contains(Sysmsg, "Chatbook"), "embedded sysmsg missing")
	cb, err := NewChatbot(mock.NewClient(), Options{})
	Tassert(t, err == nil, "%v", err)
	Tassert(t, cb.Renderer().Sysmsg == Sysmsg, "default sysmsg not used")
	Tassert(t, cb.Renderer().Policy == prompt.PolicyTail, "policy %q", cb.Renderer().Policy)
}
