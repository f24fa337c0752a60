// SPDX-License-Identifier: MIT

// Package callback implements the HTTP endpoints SRS invokes as
// publishers and downstream readers connect, publish, and disconnect.
// It is the only path besides the API through which the persisted
// state store's live Status fields change. Five fixed hook routes,
// chi-routed with zerolog request-scoped logging.
package callback

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/restreamerd/restreamerd/internal/metrics"
	"github.com/restreamerd/restreamerd/internal/state"
)

// signatureHeader carries the HMAC-SHA256 of the request body, shared
// between this handler and internal/srsconfig's rendered callback URL
// (spec.md §4.5: "Authorization is by HMAC header shared with the SRS
// config renderer").
const signatureHeader = "X-Restreamer-Signature"

// tokenQueryParam is the shared-secret fallback internal/srsconfig embeds
// directly in the hook URLs it renders, since SRS cannot compute a
// signature over its own callback requests.
const tokenQueryParam = "token"

// hookBody is the subset of SRS's HTTP callback JSON payload this
// handler needs. App carries the Restream key and Stream carries the
// InputEndpoint key ("origin"/"main"/"backup"), matching the vhost/app/
// stream addressing convention internal/srsconfig renders RTMP publish
// URLs with.
type hookBody struct {
	ClientID string `json:"client_id"`
	App      string `json:"app"`
	Stream   string `json:"stream"`
}

// Handler serves SRS's on_connect/on_publish/on_unpublish/on_play/
// on_stop hooks against the Persisted State Store.
type Handler struct {
	store  *state.Store
	secret []byte
	logger zerolog.Logger

	mu       sync.Mutex
	bound    map[string]string // endpoint id -> publishing client id
	playouts map[string]int   // endpoint id -> active reader refcount
}

// NewHandler builds a Handler. secret is the shared HMAC key; an empty
// secret disables signature verification (used in tests and any
// deployment that fronts the callback port with its own access control).
func NewHandler(store *state.Store, secret []byte, logger zerolog.Logger) *Handler {
	return &Handler{
		store:    store,
		secret:   secret,
		logger:   logger.With().Str("component", "callback").Logger(),
		bound:    make(map[string]string),
		playouts: make(map[string]int),
	}
}

// Routes returns the mountable hook router.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(h.verifySignature)
	r.Post("/srs/hook/on_connect", h.handleConnect)
	r.Post("/srs/hook/on_publish", h.handlePublish)
	r.Post("/srs/hook/on_unpublish", h.handleUnpublish)
	r.Post("/srs/hook/on_play", h.handlePlay)
	r.Post("/srs/hook/on_stop", h.handleStop)
	return r
}

// verifySignature checks the request body against signatureHeader before
// handing a freshly-rewound body to the next handler.
func (h *Handler) verifySignature(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, "read body", http.StatusBadRequest)
			return
		}
		_ = r.Body.Close()

		if len(h.secret) > 0 && !h.authorized(body, r) {
			h.logger.Warn().Str("remote", r.RemoteAddr).Msg("callback authorization failed")
			http.Error(w, "invalid signature", http.StatusForbidden)
			return
		}

		r.Body = io.NopCloser(bytes.NewReader(body))
		next.ServeHTTP(w, r)
	})
}

// authorized accepts either an HMAC-SHA256-over-body signature header (for
// callers able to sign, e.g. a sidecar proxying SRS) or the bare shared
// secret as a query token — the form internal/srsconfig actually renders
// into SRS's hook URLs, since SRS itself has no facility to sign its hook
// requests.
func (h *Handler) authorized(body []byte, r *http.Request) bool {
	if header := r.Header.Get(signatureHeader); header != "" {
		return h.validSignature(body, header)
	}
	token := []byte(r.URL.Query().Get(tokenQueryParam))
	return len(token) > 0 && hmac.Equal(token, h.secret)
}

func (h *Handler) validSignature(body []byte, header string) bool {
	header = strings.TrimPrefix(header, "sha256=")
	got, err := hex.DecodeString(header)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, h.secret)
	mac.Write(body)
	want := mac.Sum(nil)
	return hmac.Equal(got, want)
}

func (h *Handler) handleConnect(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

// handlePublish admits a publisher iff its endpoint exists, the owning
// Input is enabled, and no other publisher currently holds the endpoint
// (spec.md §4.5).
func (h *Handler) handlePublish(w http.ResponseWriter, r *http.Request) {
	body, ok := h.decode(w, r)
	if !ok {
		return
	}

	in, ep := h.findEndpoint(body.App, body.Stream)
	if ep == nil || in == nil || !in.Enabled {
		w.WriteHeader(http.StatusForbidden)
		return
	}

	h.mu.Lock()
	if existing, bound := h.bound[ep.ID]; bound && existing != body.ClientID {
		h.mu.Unlock()
		w.WriteHeader(http.StatusForbidden)
		return
	}
	h.bound[ep.ID] = body.ClientID
	h.mu.Unlock()

	h.store.SetEndpointStatus(ep.ID, state.StatusOnline)
	metrics.EndpointStatus.WithLabelValues(body.App, ep.Key).Set(metrics.StatusValue(int(state.StatusOnline)))
	w.WriteHeader(http.StatusOK)
}

func (h *Handler) handleUnpublish(w http.ResponseWriter, r *http.Request) {
	body, ok := h.decode(w, r)
	if !ok {
		return
	}

	if _, ep := h.findEndpoint(body.App, body.Stream); ep != nil {
		h.mu.Lock()
		delete(h.bound, ep.ID)
		h.mu.Unlock()

		h.store.SetEndpointStatus(ep.ID, state.StatusOffline)
		metrics.EndpointStatus.WithLabelValues(body.App, ep.Key).Set(metrics.StatusValue(int(state.StatusOffline)))
	}
	w.WriteHeader(http.StatusOK)
}

func (h *Handler) handlePlay(w http.ResponseWriter, r *http.Request) {
	h.adjustPlayout(w, r, 1)
}

func (h *Handler) handleStop(w http.ResponseWriter, r *http.Request) {
	h.adjustPlayout(w, r, -1)
}

func (h *Handler) adjustPlayout(w http.ResponseWriter, r *http.Request, delta int) {
	body, ok := h.decode(w, r)
	if !ok {
		return
	}

	if _, ep := h.findEndpoint(body.App, body.Stream); ep != nil {
		h.mu.Lock()
		count := h.playouts[ep.ID] + delta
		if count < 0 {
			count = 0
		}
		h.playouts[ep.ID] = count
		h.mu.Unlock()

		metrics.PlayoutViewersActive.WithLabelValues(body.App, ep.Key).Set(float64(count))
	}
	w.WriteHeader(http.StatusOK)
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request) (hookBody, bool) {
	var body hookBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "malformed hook body", http.StatusBadRequest)
		return hookBody{}, false
	}
	return body, true
}

// findEndpoint resolves the (Input, InputEndpoint) pair the hook body's
// app/stream fields address, searching every Input reachable from the
// Restream (including Failover children) by endpoint key.
func (h *Handler) findEndpoint(restreamKey, endpointKey string) (*state.Input, *state.InputEndpoint) {
	view := h.store.View()
	r := view.FindRestreamByKey(restreamKey)
	if r == nil {
		return nil, nil
	}
	for _, in := range r.AllInputs() {
		for i := range in.Endpoints {
			if in.Endpoints[i].Key == endpointKey {
				return in, &in.Endpoints[i]
			}
		}
	}
	return nil, nil
}
