// Package web serves the chatbook widget: a single page showing the
// conversation plus a small JSON and websocket API.  Each browser gets
// its own session, identified by a cookie.
package web

import (
	"bufio"
	"context"
	_ "embed"
	"errors"
	"html/template"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	. "github.com/stevegt/goadapt"

	"github.com/stevegt/chatbook/core"
)

// CookieName holds the session id.
const CookieName = "chatbook_session"

//go:embed index.html
var indexHTML string

var tmpl = template.Must(template.New("index").Parse(indexHTML))

// Server is an http.Handler for the widget.
type Server struct {
	cb      *core.Chatbot
	log     zerolog.Logger
	timeout time.Duration
	router  *mux.Router

	upgrader websocket.Upgrader
}

// NewServer returns a Server answering through cb.  timeout bounds
// each turn; zero means no limit beyond the request's own context.
func NewServer(cb *core.Chatbot, logger zerolog.Logger, timeout time.Duration) *Server {
	s := &Server{
		cb:      cb,
		log:     logger,
		timeout: timeout,
		router:  mux.NewRouter(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
	s.router.Use(s.logRequests)
	s.router.HandleFunc("/", s.indexHandler).Methods(http.MethodGet)
	s.router.HandleFunc("/api/query", s.queryHandler).Methods(http.MethodPost)
	s.router.HandleFunc("/api/reset", s.resetHandler).Methods(http.MethodPost)
	s.router.HandleFunc("/api/history", s.historyHandler).Methods(http.MethodGet)
	s.router.HandleFunc("/api/tokencount", s.tokenCountHandler).Methods(http.MethodGet)
	s.router.HandleFunc("/ws", s.wsHandler)
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts
// down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) (err error) {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}
	done := make(chan error, 1)
	go func() {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		done <- srv.Shutdown(sctx)
	}()
	s.log.Info().Str("addr", addr).Msg("listening")
	err = srv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		err = <-done
	}
	return
}

// session returns the caller's session, starting one and setting the
// cookie if needed.
func (s *Server) session(w http.ResponseWriter, r *http.Request) (sess *core.Session, err error) {
	defer Return(&err)
	var id string
	c, cerr := r.Cookie(CookieName)
	if cerr == nil {
		id = c.Value
	}
	sess, err = s.cb.Session(id)
	Ck(err)
	if sess.ID != id {
		http.SetCookie(w, sessionCookie(sess.ID))
	}
	return
}

func sessionCookie(id string) *http.Cookie {
	return &http.Cookie{
		Name:     CookieName,
		Value:    id,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	}
}

// turnContext applies the per-turn timeout.
func (s *Server) turnContext(parent context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return context.WithCancel(parent)
	}
	return context.WithTimeout(parent, s.timeout)
}

// statusRecorder keeps the response status for the request log.
// Hijack is passed through so websocket upgrades still work.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (r *statusRecorder) Hijack() (c net.Conn, rw *bufio.ReadWriter, err error) {
	hj, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response does not support hijacking")
	}
	r.status = http.StatusSwitchingProtocols
	return hj.Hijack()
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rec.status).
			Dur("elapsed", time.Since(start)).
			Msg("request")
	})
}
