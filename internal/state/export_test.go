// SPDX-License-Identifier: MIT

package state

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExportImport_Roundtrip(t *testing.T) {
	s := State{}
	url := "rtmp://origin.example/live"
	backupURL := "rtmp://backup.example/live"
	s = apply(t, s, SetRestream(SetRestreamRequest{Key: "a", WithBackup: true, URL: &url, BackupURL: &backupURL}))
	s = apply(t, s, SetOutput(SetOutputRequest{
		RestreamID: s.Restreams[0].ID,
		Dst:        "rtmp://cdn.example/a",
		Mixins:     []MixinSpec{{Source: "ts://voice.example:9987/1?name=dj"}},
	}))

	sp := ExportAll(s)
	assert.Equal(t, specVersion, sp.Version)
	require.Len(t, sp.Restreams, 1)

	next, err := Import(sp, nil, true)(State{})
	require.NoError(t, err)
	require.NoError(t, validate(&next))

	reExported := ExportAll(next)
	assert.Equal(t, sp, reExported, "import(export(S)) must reproduce S's spec form")
}

func TestImport_ReplaceDropsUnlistedRestreams(t *testing.T) {
	s := State{}
	s = apply(t, s, SetRestream(SetRestreamRequest{Key: "keep"}))
	s = apply(t, s, SetRestream(SetRestreamRequest{Key: "drop"}))

	sp := Spec{Version: specVersion, Restreams: []RestreamSpec{{Key: "keep"}}}
	next, err := Import(sp, nil, true)(s)
	require.NoError(t, err)

	require.Len(t, next.Restreams, 1)
	assert.Equal(t, "keep", next.Restreams[0].Key)
}

func TestImport_WithoutReplaceKeepsUnlisted(t *testing.T) {
	s := State{}
	s = apply(t, s, SetRestream(SetRestreamRequest{Key: "keep"}))

	sp := Spec{Version: specVersion, Restreams: []RestreamSpec{{Key: "new"}}}
	next, err := Import(sp, nil, false)(s)
	require.NoError(t, err)

	require.Len(t, next.Restreams, 2)
}

func TestImport_IntoExistingRestreamRequiresSingleSpec(t *testing.T) {
	s := State{}
	s = apply(t, s, SetRestream(SetRestreamRequest{Key: "a"}))
	id := s.Restreams[0].ID

	sp := Spec{Version: specVersion, Restreams: []RestreamSpec{{Key: "a"}, {Key: "b"}}}
	_, err := Import(sp, &id, false)(s)
	assert.True(t, IsKind(err, KindValidation))
}

func TestParseSpec_RejectsUnknownVersion(t *testing.T) {
	_, err := ParseSpec([]byte(`{"version":"v2","restreams":[]}`))
	assert.True(t, IsKind(err, KindValidation))
}

func TestRemoveDvrFile_RejectsEscape(t *testing.T) {
	dir := t.TempDir()
	err := RemoveDvrFile(dir, "../outside.flv")
	require.Error(t, err)
}

func TestRemoveDvrFile_RejectsBadCharacters(t *testing.T) {
	dir := t.TempDir()
	err := RemoveDvrFile(dir, "bad name!.flv")
	assert.True(t, IsKind(err, KindValidation))
}
