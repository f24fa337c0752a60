// SPDX-License-Identifier: MIT

// Package api implements the HTTP/WebSocket surface exposing queries,
// mutations, and subscriptions over the persisted state store, plus the
// UI and HLS/DVR static-file front door, with chi routing, zerolog
// request-scoped logging, and a password-gated admin surface.
package api

import (
	"net/http"
	"net/http/httputil"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/rs/zerolog"

	"github.com/restreamerd/restreamerd/internal/bus"
	"github.com/restreamerd/restreamerd/internal/state"
)

// Config wires the Server to the rest of the daemon.
type Config struct {
	Store *state.Store
	Bus   *bus.Bus[state.State]

	PublicHost string // advertised to clients via the info query
	DVRRoot    string // passed to state.ListDvrFiles / state.RemoveDvrFile

	// SRSHTTPAddr is the local SRS HTTP listener (normally
	// 127.0.0.1:8000) that GET /hls and /dvr reverse-proxy onto.
	SRSHTTPAddr string

	// MutationRateLimit bounds POST /api mutation traffic per remote IP;
	// a sane default protects the password-hash KDF from being used as a
	// denial-of-service vector.
	MutationRateLimit int // requests
	MutationWindow    time.Duration

	Logger zerolog.Logger
}

// Server is the mountable API Facade.
type Server struct {
	cfg   Config
	proxy *httputil.ReverseProxy
}

// New builds a Server. Call Routes to obtain the mountable handler.
func New(cfg Config) *Server {
	if cfg.MutationRateLimit == 0 {
		cfg.MutationRateLimit = 60
	}
	if cfg.MutationWindow == 0 {
		cfg.MutationWindow = time.Minute
	}

	s := &Server{cfg: cfg}
	if cfg.SRSHTTPAddr != "" {
		target := &url.URL{Scheme: "http", Host: cfg.SRSHTTPAddr}
		s.proxy = httputil.NewSingleHostReverseProxy(target)
	}
	return s
}

// Routes builds the full chi router: POST/GET /api, /api/playground,
// the HLS/DVR proxy, and the UI root.
func (s *Server) Routes(uiFS http.FileSystem) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(s.requestLogger)

	r.Route("/api", func(r chi.Router) {
		r.With(httprate.LimitByIP(s.cfg.MutationRateLimit, s.cfg.MutationWindow)).Post("/", s.handleOperation)
		r.Get("/", s.handleAPIGet) // websocket upgrade for subscriptions
		r.Get("/playground", s.handlePlayground)
	})

	r.Get("/hls/*", s.proxyToSRS)
	r.Get("/dvr/*", s.proxyToSRS)

	r.Group(func(r chi.Router) {
		r.Use(s.basicAuthGate)
		if uiFS != nil {
			r.Handle("/*", http.FileServer(uiFS))
		}
	})

	return r
}

// requestLogger is a small hlog-style wrapper: one structured line per
// request.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.cfg.Logger.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("elapsed", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("http request")
	})
}

func (s *Server) proxyToSRS(w http.ResponseWriter, r *http.Request) {
	if s.proxy == nil {
		http.Error(w, "srs http proxy not configured", http.StatusServiceUnavailable)
		return
	}
	s.proxy.ServeHTTP(w, r)
}

func (s *Server) handlePlayground(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write([]byte(playgroundHTML))
}

// playgroundHTML is a minimal hand-rolled explorer: a textarea posting
// to /api and rendering the JSON response, enough to exercise the
// operation set manually without pulling in a GraphiQL bundle for a
// facade that isn't real GraphQL.
const playgroundHTML = `<!doctype html>
<html><body>
<h3>restreamerd API playground</h3>
<textarea id="op" rows="10" cols="80">{"operationName":"info","variables":{}}</textarea><br>
<button onclick="run()">Run</button>
<pre id="out"></pre>
<script>
async function run() {
  const res = await fetch('/api', {method:'POST', body: document.getElementById('op').value});
  document.getElementById('out').textContent = await res.text();
}
</script>
</body></html>`
