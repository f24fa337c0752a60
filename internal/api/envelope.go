// SPDX-License-Identifier: MIT

package api

import (
	"encoding/json"
	"net/http"

	"github.com/restreamerd/restreamerd/internal/state"
)

// request is the wire envelope POST /api accepts (spec.md §6): a
// GraphQL-shaped request/response body. query is accepted and stored for
// forward compatibility but, since this facade has no GraphQL document
// grammar to parse (no such library is part of this stack), operationName
// is what actually selects the handler and variables supplies its
// arguments — see DESIGN.md for this resolved Open Question.
type request struct {
	Query         string          `json:"query"`
	Variables     json.RawMessage `json:"variables"`
	OperationName string          `json:"operationName"`
}

// response is the wire envelope returned by POST /api.
type response struct {
	Data   any            `json:"data,omitempty"`
	Errors []errorPayload `json:"errors,omitempty"`
}

// errorPayload mirrors one state.Error onto the wire (spec.md §7).
type errorPayload struct {
	Message string `json:"message"`
	Kind    string `json:"kind"`
}

// operationFunc handles one query or mutation operation. req carries the
// already-authorized request; variables is the raw per-operation
// argument payload.
type operationFunc func(s *Server, req *http.Request, variables json.RawMessage) (any, error)

var queryOperations = map[string]operationFunc{
	"info":         opInfo,
	"allRestreams": opAllRestreams,
	"export":       opExport,
	"dvrFiles":     opDvrFiles,
}

// subscriptionOperations is the subset of queryOperations the GET /api
// WebSocket protocol accepts as a subscription's query (spec.md §6 names
// exactly these two as live derived views; export and dvrFiles are
// point-in-time reads only).
var subscriptionOperations = map[string]operationFunc{
	"info":         opInfo,
	"allRestreams": opAllRestreams,
}

var mutationOperations = map[string]operationFunc{
	"setRestream":        opSetRestream,
	"removeRestream":     opRemoveRestream,
	"enableRestream":     opEnableRestream,
	"disableRestream":    opDisableRestream,
	"enableInput":        opEnableInput,
	"disableInput":       opDisableInput,
	"setOutput":          opSetOutput,
	"removeOutput":       opRemoveOutput,
	"enableOutput":       opEnableOutput,
	"disableOutput":      opDisableOutput,
	"enableAllOutputs":   opEnableAllOutputs,
	"disableAllOutputs":  opDisableAllOutputs,
	"tuneVolume":         opTuneVolume,
	"tuneDelay":          opTuneDelay,
	"import":             opImport,
	"setPassword":        opSetPassword,
	"removeDvrFile":      opRemoveDvrFile,
}

// handleOperation serves POST /api: decode the envelope, dispatch to the
// named query or mutation, authorize mutations against the configured
// password, and write back a {data} or {errors} response.
func (s *Server) handleOperation(w http.ResponseWriter, r *http.Request) {
	var req request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeResponse(w, http.StatusBadRequest, response{Errors: []errorPayload{{Message: "malformed request body", Kind: "VALIDATION"}}})
		return
	}

	if fn, ok := queryOperations[req.OperationName]; ok {
		data, err := fn(s, r, req.Variables)
		writeResult(w, data, err)
		return
	}

	if fn, ok := mutationOperations[req.OperationName]; ok {
		if err := s.cfg.Store.Authorize(bearerToken(r)); err != nil {
			writeResult(w, nil, err)
			return
		}
		data, err := fn(s, r, req.Variables)
		writeResult(w, data, err)
		return
	}

	writeResponse(w, http.StatusBadRequest, response{Errors: []errorPayload{{Message: "unknown operation " + req.OperationName, Kind: "VALIDATION"}}})
}

func writeResult(w http.ResponseWriter, data any, err error) {
	if err != nil {
		writeResponse(w, statusForError(err), response{Errors: []errorPayload{toErrorPayload(err)}})
		return
	}
	writeResponse(w, http.StatusOK, response{Data: data})
}

func writeResponse(w http.ResponseWriter, status int, resp response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}

func toErrorPayload(err error) errorPayload {
	se, ok := err.(*state.Error)
	if !ok {
		return errorPayload{Message: err.Error(), Kind: state.KindInternal.String()}
	}
	return errorPayload{Message: se.Error(), Kind: se.Kind.String()}
}

// statusForError maps a state.Error's Kind to the HTTP status spec.md
// §7 calls for ("a 4xx-class payload" for Validation, retryable for
// Conflict, etc).
func statusForError(err error) int {
	se, ok := err.(*state.Error)
	if !ok {
		return http.StatusInternalServerError
	}
	switch se.Kind {
	case state.KindValidation:
		return http.StatusBadRequest
	case state.KindConflict:
		return http.StatusConflict
	case state.KindNotFound:
		return http.StatusNotFound
	case state.KindUnauthorized:
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

func decodeVariables(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return &state.Error{Kind: state.KindValidation, Message: "malformed variables: " + err.Error()}
	}
	return nil
}

// bearerToken extracts the password proof mutations require (spec.md
// §3's "optional password" protection): an "Authorization: Bearer
// <password>" header. An unprotected instance's Store.Authorize accepts
// any value, including the empty string a client sends when it has no
// password configured.
func bearerToken(r *http.Request) string {
	const prefix = "Bearer "
	h := r.Header.Get("Authorization")
	if len(h) > len(prefix) && h[:len(prefix)] == prefix {
		return h[len(prefix):]
	}
	return ""
}
