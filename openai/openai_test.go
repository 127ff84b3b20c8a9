package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	. "github.com/stevegt/goadapt"
	"github.com/stevegt/chatbook/client"
)

type fakeRequest struct {
	Model    string `json:"model"`
	Stream   bool   `json:"stream"`
	Messages []struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"messages"`
}

// fakeServer answers chat completions with reply, recording each
// request body.
func fakeServer(t *testing.T, reply string, status int) (srv *httptest.Server, reqs *[]fakeRequest) {
	reqs = &[]fakeRequest{}
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req fakeRequest
		err := json.NewDecoder(r.Body).Decode(&req)
		Tassert(t, err == nil, "decode: %v", err)
		*reqs = append(*reqs, req)
		if status != http.StatusOK {
			w.WriteHeader(status)
			fmt.Fprint(w, `{"error":{"message":"quota exceeded","type":"insufficient_quota"}}`)
			return
		}
		if req.Stream {
			w.Header().Set("Content-Type", "text/event-stream")
			for _, frag := range []string{reply[:2], reply[2:]} {
				fmt.Fprintf(w, "data: {\"choices\":[{\"index\":0,\"delta\":{\"content\":%q}}]}\n\n", frag)
			}
			fmt.Fprint(w, "data: [DONE]\n\n")
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"choices":[{"index":0,"message":{"role":"assistant","content":%q}}],"usage":{"total_tokens":7}}`, reply)
	}))
	t.Cleanup(srv.Close)
	return
}

func TestMissingKey(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	_, err := NewOpenAIChatClient("", "gpt-4o", "")
	Tassert(t, errors.Is(err, client.ErrMissingCredential), "got %v", err)
}

func TestGenerate(t *testing.T) {
	srv, reqs := fakeServer(t, "Xin chào", http.StatusOK)
	oc, err := NewOpenAIChatClient("k", "gpt-4o", srv.URL+"/v1")
	Tassert(t, err == nil, "%v", err)
	resp, err := oc.Generate(context.Background(), "S\n\nUser: hi\nAssistant:")
	Tassert(t, err == nil, "%v", err)
	Tassert(t, resp == "Xin chào", "got %q", resp)
	Tassert(t, len(*reqs) == 1, "requests: %d", len(*reqs))
	req := (*reqs)[0]
	Tassert(t, req.Model == "gpt-4o", "model %q", req.Model)
	Tassert(t, len(req.Messages) == 1 && req.Messages[0].Role == "user", "messages %#v", req.Messages)
}

func TestGenerateStream(t *testing.T) {
	srv, _ := fakeServer(t, "Xin chào", http.StatusOK)
	oc, err := NewOpenAIChatClient("k", "gpt-4o", srv.URL+"/v1")
	Tassert(t, err == nil, "%v", err)
	s, err := oc.GenerateStream(context.Background(), "prompt")
	Tassert(t, err == nil, "%v", err)
	var frags []string
	txt, err := client.Collect(s, func(f string) { frags = append(frags, f) })
	Tassert(t, err == nil, "%v", err)
	Tassert(t, txt == "Xin chào", "got %q", txt)
	Tassert(t, len(frags) == 2, "frags %q", frags)
}

func TestCompleteChatRoles(t *testing.T) {
	srv, reqs := fakeServer(t, "ok", http.StatusOK)
	oc, err := NewOpenAIChatClient("k", "gpt-4o", srv.URL+"/v1")
	Tassert(t, err == nil, "%v", err)
	msgs := []client.ChatMsg{
		{Role: client.RoleUser, Content: "a"},
		{Role: client.RoleModel, Content: "b"},
		{Role: client.RoleUser, Content: "c"},
	}
	_, err = oc.CompleteChat(context.Background(), "sys", msgs)
	Tassert(t, err == nil, "%v", err)
	got := (*reqs)[0].Messages
	Tassert(t, len(got) == 4, "got %d messages", len(got))
	Tassert(t, got[0].Role == "system" && got[0].Content == "sys", "system %#v", got[0])
	Tassert(t, got[2].Role == "assistant", "model role not mapped: %#v", got[2])
}

func TestApiError(t *testing.T) {
	srv, _ := fakeServer(t, "", http.StatusTooManyRequests)
	oc, err := NewOpenAIChatClient("k", "gpt-4o", srv.URL+"/v1")
	Tassert(t, err == nil, "%v", err)
	_, err = oc.Generate(context.Background(), "p")
	var apiErr *client.ApiError
	Tassert(t, errors.As(err, &apiErr), "want ApiError, got %T %v", err, err)
	Tassert(t, apiErr.Provider == "openai", "provider %q", apiErr.Provider)
}

func TestEmptyReply(t *testing.T) {
	srv, _ := fakeServer(t, "", http.StatusOK)
	oc, err := NewOpenAIChatClient("k", "gpt-4o", srv.URL+"/v1")
	Tassert(t, err == nil, "%v", err)
	_, err = oc.Generate(context.Background(), "p")
	Tassert(t, errors.Is(err, client.ErrEmptyResponse), "got %v", err)
}

func TestSession(t *testing.T) {
	srv, reqs := fakeServer(t, "reply", http.StatusOK)
	oc, err := NewOpenAIChatClient("k", "gpt-4o", srv.URL+"/v1")
	Tassert(t, err == nil, "%v", err)
	history := []client.ChatMsg{{Role: client.RoleUser, Content: "old"}, {Role: client.RoleAssistant, Content: "older"}}
	sess, err := oc.StartChat(context.Background(), "sys", history)
	Tassert(t, err == nil, "%v", err)
	_, err = sess.Send(context.Background(), "one")
	Tassert(t, err == nil, "%v", err)
	_, err = sess.Send(context.Background(), "two")
	Tassert(t, err == nil, "%v", err)
	// sys + 2 history + one + reply + two
	last := (*reqs)[1].Messages
	Tassert(t, len(last) == 6, "got %d messages", len(last))
	Tassert(t, last[4].Role == "assistant" && last[4].Content == "reply", "got %#v", last[4])
	Tassert(t, last[5].Content == "two", "got %#v", last[5])
}
