package web

import (
	"bytes"
	"encoding/json"
	"errors"
	"html/template"
	"net/http"
	"strings"

	"github.com/yuin/goldmark"

	"github.com/stevegt/chatbook/client"
	"github.com/stevegt/chatbook/core"
	"github.com/stevegt/chatbook/prompt"
)

// QueryRequest is the body of POST /api/query.
type QueryRequest struct {
	Query string `json:"query"`
}

// QueryResponse is the reply to POST /api/query.  Error is set when
// Response is a fallback message.
type QueryResponse struct {
	Response string `json:"response"`
	HTML     string `json:"html"`
	Error    string `json:"error,omitempty"`
}

// Turn is one entry of GET /api/history.
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
	HTML    string `json:"html"`
}

// TokenCount is the reply to GET /api/tokencount: the size of the
// prompt the next turn would send, for the utterance in ?q=.
type TokenCount struct {
	Chars  int `json:"chars"`
	Tokens int `json:"tokens"`
}

type pageTurn struct {
	Role string
	HTML template.HTML
}

type pageData struct {
	Welcome     string
	Suggestions []string
	Turns       []pageTurn
}

func (s *Server) indexHandler(w http.ResponseWriter, r *http.Request) {
	sess, err := s.session(w, r)
	if err != nil {
		s.fail(w, err)
		return
	}
	data := pageData{Welcome: core.Welcome}
	history := sess.History()
	if len(history) == 0 {
		data.Suggestions = core.Suggestions
	}
	for _, t := range history {
		data.Turns = append(data.Turns, pageTurn{
			Role: t.Role,
			HTML: template.HTML(markdownToHTML(t.Content)),
		})
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	err = tmpl.Execute(w, data)
	if err != nil {
		s.log.Error().Err(err).Msg("template")
	}
}

func (s *Server) queryHandler(w http.ResponseWriter, r *http.Request) {
	var req QueryRequest
	err := json.NewDecoder(r.Body).Decode(&req)
	if err != nil {
		http.Error(w, "Bad request: "+err.Error(), http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		http.Error(w, "Bad request: empty query", http.StatusBadRequest)
		return
	}
	sess, err := s.session(w, r)
	if err != nil {
		s.fail(w, err)
		return
	}
	ctx, cancel := s.turnContext(r.Context())
	defer cancel()
	reply, err := s.cb.Ask(ctx, sess, req.Query)
	resp := QueryResponse{Response: reply, HTML: markdownToHTML(reply)}
	var apiErr *client.ApiError
	switch {
	case err == nil:
	case errors.As(err, &apiErr):
		resp.Error = apiErr.Error()
	case errors.Is(err, core.ErrNotSaved):
		// the user got an answer; the log records the lost write
	default:
		s.fail(w, err)
		return
	}
	s.logTurn(sess, req.Query, reply, err)
	writeJSON(w, resp)
}

func (s *Server) resetHandler(w http.ResponseWriter, r *http.Request) {
	sess, err := s.session(w, r)
	if err != nil {
		s.fail(w, err)
		return
	}
	err = s.cb.Reset(sess)
	if err != nil {
		s.fail(w, err)
		return
	}
	s.log.Info().Str("session", sess.ID).Msg("reset")
	writeJSON(w, map[string]string{"status": "ok"})
}

func (s *Server) historyHandler(w http.ResponseWriter, r *http.Request) {
	sess, err := s.session(w, r)
	if err != nil {
		s.fail(w, err)
		return
	}
	turns := []Turn{}
	for _, t := range sess.History() {
		turns = append(turns, Turn{Role: t.Role, Content: t.Content, HTML: markdownToHTML(t.Content)})
	}
	writeJSON(w, turns)
}

func (s *Server) tokenCountHandler(w http.ResponseWriter, r *http.Request) {
	sess, err := s.session(w, r)
	if err != nil {
		s.fail(w, err)
		return
	}
	txt := s.cb.Renderer().Render(sess.History(), r.URL.Query().Get("q"))
	count, err := prompt.TokenCount(txt)
	if err != nil {
		s.log.Warn().Err(err).Msg("token count")
		count = 0
	}
	writeJSON(w, TokenCount{Chars: prompt.Len(txt), Tokens: count})
}

func (s *Server) fail(w http.ResponseWriter, err error) {
	s.log.Error().Err(err).Msg("internal error")
	http.Error(w, "Internal server error: "+err.Error(), http.StatusInternalServerError)
}

func (s *Server) logTurn(sess *core.Session, query, reply string, err error) {
	ev := s.log.Info()
	if err != nil {
		ev = s.log.Warn().Err(err)
	}
	ev.Str("session", sess.ID).
		Int("query_chars", prompt.Len(query)).
		Int("reply_chars", prompt.Len(reply)).
		Int("turns", sess.Len()).
		Msg("turn")
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

// markdownToHTML converts markdown text to HTML using goldmark.  Raw
// HTML in the input is not passed through.
func markdownToHTML(markdown string) string {
	var buf bytes.Buffer
	if err := goldmark.Convert([]byte(markdown), &buf); err != nil {
		return "<p>Error rendering markdown</p>"
	}
	return buf.String()
}
