// SPDX-License-Identifier: MIT

package api

import (
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/restreamerd/restreamerd/internal/bus"
	"github.com/restreamerd/restreamerd/internal/state"
)

func testServer(t *testing.T) (*Server, *state.Store) {
	t.Helper()
	b := bus.New(state.State{})
	store, err := state.NewStore(state.Config{
		SnapshotPath: filepath.Join(t.TempDir(), "state.json"),
		OnChange:     b.Publish,
	})
	require.NoError(t, err)

	s := New(Config{
		Store:      store,
		Bus:        b,
		PublicHost: "example.invalid",
		DVRRoot:    t.TempDir(),
		Logger:     zerolog.Nop(),
	})
	return s, store
}
