package web

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/stevegt/chatbook/client"
	"github.com/stevegt/chatbook/core"
)

// WSMessage is exchanged over /ws.  The browser sends
// {"type":"query","query":...} or {"type":"reset"}.  The server
// answers a query with one {"type":"chunk","text":...} per reply
// fragment followed by {"type":"done","html":...}; "done" carries
// Error when the reply was a fallback.
type WSMessage struct {
	Type  string `json:"type"`
	Query string `json:"query,omitempty"`
	Text  string `json:"text,omitempty"`
	HTML  string `json:"html,omitempty"`
	Error string `json:"error,omitempty"`
}

const wsWriteWait = 10 * time.Second

func (s *Server) wsHandler(w http.ResponseWriter, r *http.Request) {
	var id string
	if c, err := r.Cookie(CookieName); err == nil {
		id = c.Value
	}
	sess, err := s.cb.Session(id)
	if err != nil {
		s.fail(w, err)
		return
	}
	// the cookie has to go out with the upgrade response
	header := http.Header{}
	if sess.ID != id {
		header.Add("Set-Cookie", sessionCookie(sess.ID).String())
	}
	conn, err := s.upgrader.Upgrade(w, r, header)
	if err != nil {
		s.log.Warn().Err(err).Msg("websocket upgrade")
		return
	}
	defer conn.Close()
	log := s.log.With().Str("session", sess.ID).Logger()
	log.Debug().Msg("websocket open")

	send := func(m WSMessage) error {
		conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
		return conn.WriteJSON(m)
	}

	// one turn at a time per connection; fragments are written from
	// inside AskStream's callback
	for {
		var msg WSMessage
		err = conn.ReadJSON(&msg)
		if err != nil {
			log.Debug().Err(err).Msg("websocket closed")
			return
		}
		switch msg.Type {
		case "query":
			if strings.TrimSpace(msg.Query) == "" {
				err = send(WSMessage{Type: "error", Error: "empty query"})
				break
			}
			var werr error
			ctx, cancel := s.turnContext(r.Context())
			reply, aerr := s.cb.AskStream(ctx, sess, msg.Query, func(frag string) {
				if werr == nil {
					werr = send(WSMessage{Type: "chunk", Text: frag})
				}
			})
			cancel()
			s.logTurn(sess, msg.Query, reply, aerr)
			done := WSMessage{Type: "done", HTML: markdownToHTML(reply)}
			var apiErr *client.ApiError
			switch {
			case aerr == nil, errors.Is(aerr, core.ErrNotSaved):
			case errors.As(aerr, &apiErr):
				done.Error = apiErr.Error()
			default:
				done = WSMessage{Type: "error", Error: aerr.Error()}
			}
			err = werr
			if err == nil {
				err = send(done)
			}
		case "reset":
			err = s.cb.Reset(sess)
			if err != nil {
				log.Error().Err(err).Msg("reset")
				err = send(WSMessage{Type: "error", Error: err.Error()})
				break
			}
			err = send(WSMessage{Type: "done"})
		default:
			err = send(WSMessage{Type: "error", Error: "unknown message type " + msg.Type})
		}
		if err != nil {
			log.Warn().Err(err).Msg("websocket write")
			return
		}
	}
}
