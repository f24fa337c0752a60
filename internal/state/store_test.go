// SPDX-License-Identifier: MIT

package state

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := NewStore(Config{
		SnapshotPath: filepath.Join(dir, "state.json"),
		BackupDir:    filepath.Join(dir, "backups"),
		KDFCost:      KDFCost{Time: 1, Memory: 8 * 1024, Threads: 1},
	})
	require.NoError(t, err)
	return s
}

func TestNewStore_StartsEmpty(t *testing.T) {
	s := newTestStore(t)
	v := s.View()
	assert.Empty(t, v.Restreams)
	assert.Equal(t, uint64(1), v.Version)
}

func TestStore_ApplyPersistsAcrossReload(t *testing.T) {
	dir := t.TempDir()
	cfg := Config{SnapshotPath: filepath.Join(dir, "state.json")}

	s1, err := NewStore(cfg)
	require.NoError(t, err)

	key := "live"
	_, err = s1.Apply(SetRestream(SetRestreamRequest{Key: key}))
	require.NoError(t, err)

	s2, err := NewStore(cfg)
	require.NoError(t, err)
	v := s2.View()
	require.Len(t, v.Restreams, 1)
	assert.Equal(t, key, v.Restreams[0].Key)
}

func TestStore_ApplyFailureLeavesStateUnchanged(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Apply(SetRestream(SetRestreamRequest{Key: "ok"}))
	require.NoError(t, err)
	before := s.View()

	_, err = s.Apply(SetRestream(SetRestreamRequest{Key: "this key is way too long to be valid!!"}))
	require.Error(t, err)
	assert.True(t, IsKind(err, KindValidation))

	after := s.View()
	assert.Equal(t, before, after)
}

func TestStore_OnChangeCalledOnMutationAndStatus(t *testing.T) {
	dir := t.TempDir()
	var seen []State
	s, err := NewStore(Config{
		SnapshotPath: filepath.Join(dir, "state.json"),
		OnChange:     func(v State) { seen = append(seen, v) },
	})
	require.NoError(t, err)

	_, err = s.Apply(SetRestream(SetRestreamRequest{Key: "a"}))
	require.NoError(t, err)
	require.Len(t, seen, 1)

	id := seen[0].Restreams[0].Input.Endpoints[0].ID
	s.SetEndpointStatus(id, StatusOnline)
	require.Len(t, seen, 2)
	assert.Equal(t, StatusOnline, seen[1].Restreams[0].Input.Endpoints[0].Status)
}

func TestStore_SetEndpointStatusNoopWhenUnchanged(t *testing.T) {
	dir := t.TempDir()
	calls := 0
	s, err := NewStore(Config{
		SnapshotPath: filepath.Join(dir, "state.json"),
		OnChange:     func(State) { calls++ },
	})
	require.NoError(t, err)

	s.SetEndpointStatus("ep1", StatusOffline) // already the zero value, no change
	assert.Equal(t, 0, calls)

	s.SetEndpointStatus("ep1", StatusOnline)
	assert.Equal(t, 1, calls)

	s.SetEndpointStatus("ep1", StatusOnline) // unchanged
	assert.Equal(t, 1, calls)
}

func TestStore_LiveStatusResetsOnReload(t *testing.T) {
	dir := t.TempDir()
	cfg := Config{SnapshotPath: filepath.Join(dir, "state.json")}

	s1, err := NewStore(cfg)
	require.NoError(t, err)
	_, err = s1.Apply(SetRestream(SetRestreamRequest{Key: "a"}))
	require.NoError(t, err)
	epID := s1.View().Restreams[0].Input.Endpoints[0].ID
	s1.SetEndpointStatus(epID, StatusOnline)
	require.Equal(t, StatusOnline, s1.View().Restreams[0].Input.Endpoints[0].Status)

	s2, err := NewStore(cfg)
	require.NoError(t, err)
	assert.Equal(t, StatusOffline, s2.View().Restreams[0].Input.Endpoints[0].Status)
}

func TestStore_PasswordLifecycle(t *testing.T) {
	s := newTestStore(t)
	assert.False(t, s.HasPassword())
	assert.NoError(t, s.Authorize(""))

	_, err := s.SetPassword("", "secret")
	require.NoError(t, err)
	assert.True(t, s.HasPassword())

	assert.Error(t, s.Authorize("wrong"))
	assert.NoError(t, s.Authorize("secret"))

	_, err = s.SetPassword("wrong", "new")
	assert.True(t, IsKind(err, KindUnauthorized))

	_, err = s.SetPassword("secret", "")
	require.NoError(t, err)
	assert.False(t, s.HasPassword())
	assert.NoError(t, s.Authorize("anything"))
}
