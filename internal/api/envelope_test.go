// SPDX-License-Identifier: MIT

package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/restreamerd/restreamerd/internal/state"
)

func doOperation(t *testing.T, s *Server, body any, bearer string) (*httptest.ResponseRecorder, response) {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/api", bytes.NewReader(raw))
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	rec := httptest.NewRecorder()
	s.Routes(nil).ServeHTTP(rec, req)

	var resp response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return rec, resp
}

func TestHandleOperation_UnknownOperation(t *testing.T) {
	s, _ := testServer(t)
	rec, resp := doOperation(t, s, map[string]any{"operationName": "bogus"}, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	require.Len(t, resp.Errors, 1)
	assert.Equal(t, "VALIDATION", resp.Errors[0].Kind)
}

func TestHandleOperation_Info(t *testing.T) {
	s, _ := testServer(t)
	rec, resp := doOperation(t, s, map[string]any{"operationName": "info"}, "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotNil(t, resp.Data)
}

func TestHandleOperation_MutationRequiresPassword(t *testing.T) {
	s, store := testServer(t)
	_, err := store.SetPassword("", "hunter2")
	require.NoError(t, err)

	rec, resp := doOperation(t, s, map[string]any{
		"operationName": "setRestream",
		"variables":     map[string]any{"key": "abc"},
	}, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Len(t, resp.Errors, 1)
	assert.Equal(t, "UNAUTHORIZED", resp.Errors[0].Kind)
}

func TestHandleOperation_SetRestreamThenAllRestreams(t *testing.T) {
	s, _ := testServer(t)

	rec, resp := doOperation(t, s, map[string]any{
		"operationName": "setRestream",
		"variables":     map[string]any{"key": "abc"},
	}, "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Empty(t, resp.Errors)

	rec, resp = doOperation(t, s, map[string]any{"operationName": "allRestreams"}, "")
	require.Equal(t, http.StatusOK, rec.Code)

	var restreams []state.Restream
	raw, err := json.Marshal(resp.Data)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(raw, &restreams))
	require.Len(t, restreams, 1)
	assert.Equal(t, "abc", restreams[0].Key)
}

func TestHandleOperation_RemoveRestreamNotFound(t *testing.T) {
	s, _ := testServer(t)
	rec, resp := doOperation(t, s, map[string]any{
		"operationName": "removeRestream",
		"variables":     map[string]any{"id": "does-not-exist"},
	}, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	require.Len(t, resp.Errors, 1)
	assert.Equal(t, "NOT_FOUND", resp.Errors[0].Kind)
}

func TestHandleOperation_MalformedBody(t *testing.T) {
	s, _ := testServer(t)
	req := httptest.NewRequest(http.MethodPost, "/api", bytes.NewReader([]byte("{not json")))
	rec := httptest.NewRecorder()
	s.Routes(nil).ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
