package srsapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testServer(t *testing.T, streams []Stream) (*Client, func()) {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v1/streams":
			_ = json.NewEncoder(w).Encode(streamsResponse{Code: 0, Streams: streams})
		case "/api/v1/summaries":
			_ = json.NewEncoder(w).Encode(summaryResponse{Code: 0})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	return NewClient(srv.URL), srv.Close
}

func TestListStreams_ReturnsAllStreams(t *testing.T) {
	client, closeFn := testServer(t, []Stream{{Vhost: "__defaultVhost__", App: "live", Name: "origin"}})
	defer closeFn()

	streams, err := client.ListStreams(context.Background())
	require.NoError(t, err)
	require.Len(t, streams, 1)
	assert.Equal(t, "origin", streams[0].Name)
}

func TestGetStream_FindsMatchingStream(t *testing.T) {
	client, closeFn := testServer(t, []Stream{
		{Vhost: "__defaultVhost__", App: "live", Name: "origin"},
		{Vhost: "__defaultVhost__", App: "live", Name: "backup"},
	})
	defer closeFn()

	s, err := client.GetStream(context.Background(), "__defaultVhost__", "live", "backup")
	require.NoError(t, err)
	require.NotNil(t, s)
	assert.Equal(t, "backup", s.Name)
}

func TestGetStream_ReturnsNilWhenNotFound(t *testing.T) {
	client, closeFn := testServer(t, nil)
	defer closeFn()

	s, err := client.GetStream(context.Background(), "__defaultVhost__", "live", "origin")
	require.NoError(t, err)
	assert.Nil(t, s)
}

func TestIsPublishing_TrueOnlyWhenActiveWithBytes(t *testing.T) {
	s := Stream{Vhost: "v", App: "live", Name: "origin"}
	s.Publish.Active = true
	s.RecvBytes = 1024

	client, closeFn := testServer(t, []Stream{s})
	defer closeFn()

	ok, err := client.IsPublishing(context.Background(), "v", "live", "origin")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestIsPublishing_FalseWhenNoRecvBytesYet(t *testing.T) {
	s := Stream{Vhost: "v", App: "live", Name: "origin"}
	s.Publish.Active = true
	s.RecvBytes = 0

	client, closeFn := testServer(t, []Stream{s})
	defer closeFn()

	ok, err := client.IsPublishing(context.Background(), "v", "live", "origin")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestIsPublishing_FalseWhenStreamAbsent(t *testing.T) {
	client, closeFn := testServer(t, nil)
	defer closeFn()

	ok, err := client.IsPublishing(context.Background(), "v", "live", "origin")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPing_SucceedsAgainstSummaries(t *testing.T) {
	client, closeFn := testServer(t, nil)
	defer closeFn()

	assert.NoError(t, client.Ping(context.Background()))
}

func TestGet_NonOKStatusIsAnError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	client := NewClient(srv.URL)
	_, err := client.ListStreams(context.Background())
	assert.Error(t, err)
}
