// SPDX-License-Identifier: MIT

package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// pingInterval matches spec.md §6's "Server ping at 30 s".
const pingInterval = 30 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// wsMessage is both directions of the subscription protocol's framing
// (spec.md §6): {type:"start", id, payload:{query,variables}} inbound,
// {type:"data"|"complete", id, payload} outbound.
type wsMessage struct {
	Type    string          `json:"type"`
	ID      string          `json:"id"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type wsStartPayload struct {
	Query     string          `json:"query"`
	Variables json.RawMessage `json:"variables"`
}

type wsDataPayload struct {
	Data any `json:"data"`
}

// handleAPIGet upgrades GET /api to the subscription WebSocket protocol.
// Queries are read-only, so no Authorization is required here — only
// mutations are password-protected (spec.md §3).
func (s *Server) handleAPIGet(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.cfg.Logger.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	var writeMu sync.Mutex
	send := func(msg wsMessage) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		return conn.WriteJSON(msg)
	}

	go s.pingLoop(ctx, conn, &writeMu)

	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		var msg wsMessage
		if err := conn.ReadJSON(&msg); err != nil {
			cancel()
			break
		}

		if msg.Type != "start" {
			continue
		}

		var start wsStartPayload
		if err := json.Unmarshal(msg.Payload, &start); err != nil {
			continue
		}

		fn, ok := subscriptionOperations[start.Query]
		if !ok {
			_ = send(wsMessage{Type: "complete", ID: msg.ID})
			continue
		}

		wg.Add(1)
		go func(id string, fn operationFunc, variables json.RawMessage) {
			defer wg.Done()
			s.runSubscription(ctx, id, fn, variables, send)
		}(msg.ID, fn, start.Variables)
	}
}

// runSubscription re-evaluates fn against the Bus's latest-wins stream
// and emits a "data" frame each time the value changes (bus.Bus already
// deep-equal-filters no-op publishes), until ctx is cancelled.
func (s *Server) runSubscription(ctx context.Context, id string, fn operationFunc, variables json.RawMessage, send func(wsMessage) error) {
	sub := s.cfg.Bus.Subscribe()
	defer sub.Close()
	defer func() { _ = send(wsMessage{Type: "complete", ID: id}) }()

	for {
		if _, err := sub.Next(ctx); err != nil {
			return
		}

		data, err := fn(s, nil, variables)
		if err != nil {
			continue
		}
		payload, _ := json.Marshal(wsDataPayload{Data: data})
		if err := send(wsMessage{Type: "data", ID: id, Payload: payload}); err != nil {
			return
		}
	}
}

func (s *Server) pingLoop(ctx context.Context, conn *websocket.Conn, writeMu *sync.Mutex) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			writeMu.Lock()
			err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second))
			writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}
