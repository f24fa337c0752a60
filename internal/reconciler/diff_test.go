package reconciler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/restreamerd/restreamerd/internal/ffmpeg"
)

func TestDiffTargets_NewUnitIsStarted(t *testing.T) {
	next := []Target{{ID: "a", Spec: ffmpeg.Spec{Kind: ffmpeg.KindSimpleOutput, Destination: "rtmp://x"}}}
	d := diffTargets(nil, next)
	assert.Equal(t, next, d.Start)
	assert.Empty(t, d.Stop)
	assert.Empty(t, d.Tune)
}

func TestDiffTargets_RemovedUnitIsStopped(t *testing.T) {
	prev := []Target{{ID: "a", Spec: ffmpeg.Spec{Kind: ffmpeg.KindSimpleOutput, Destination: "rtmp://x"}}}
	d := diffTargets(prev, nil)
	assert.Equal(t, []string{"a"}, d.Stop)
	assert.Empty(t, d.Start)
}

func TestDiffTargets_UnchangedUnitIsLeftAlone(t *testing.T) {
	spec := ffmpeg.Spec{Kind: ffmpeg.KindSimpleOutput, Destination: "rtmp://x"}
	prev := []Target{{ID: "a", Spec: spec}}
	next := []Target{{ID: "a", Spec: spec}}
	d := diffTargets(prev, next)
	assert.Empty(t, d.Start)
	assert.Empty(t, d.Stop)
	assert.Empty(t, d.Tune)
}

func TestDiffTargets_DestinationChangeRestarts(t *testing.T) {
	prev := []Target{{ID: "a", Spec: ffmpeg.Spec{Kind: ffmpeg.KindSimpleOutput, Destination: "rtmp://x"}}}
	next := []Target{{ID: "a", Spec: ffmpeg.Spec{Kind: ffmpeg.KindSimpleOutput, Destination: "rtmp://y"}}}
	d := diffTargets(prev, next)
	assert.Equal(t, []string{"a"}, d.Stop)
	assert.Equal(t, next, d.Start)
	assert.Empty(t, d.Tune)
}

func TestDiffTargets_MixinOnlyChangeIsTunedNotRestarted(t *testing.T) {
	prev := []Target{{ID: "a", Spec: ffmpeg.Spec{
		Kind: ffmpeg.KindMixedOutput, Destination: "rtmp://x",
		Mixin: ffmpeg.MixinTuning{OrigVolume: 100, MixVolume: 50, Delay: 0},
	}}}
	next := []Target{{ID: "a", Spec: ffmpeg.Spec{
		Kind: ffmpeg.KindMixedOutput, Destination: "rtmp://x",
		Mixin: ffmpeg.MixinTuning{OrigVolume: 100, MixVolume: 80, Delay: 200 * time.Millisecond},
	}}}

	d := diffTargets(prev, next)
	assert.Empty(t, d.Start)
	assert.Empty(t, d.Stop)
	if assert.Len(t, d.Tune, 1) {
		assert.Equal(t, "a", d.Tune[0].UnitID)
		assert.Equal(t, 80, d.Tune[0].MixVolume)
	}
}

func TestDiffTargets_NonMixinChangeOnMixedOutputRestarts(t *testing.T) {
	prev := []Target{{ID: "a", Spec: ffmpeg.Spec{Kind: ffmpeg.KindMixedOutput, Destination: "rtmp://x"}}}
	next := []Target{{ID: "a", Spec: ffmpeg.Spec{Kind: ffmpeg.KindMixedOutput, Destination: "rtmp://y"}}}
	d := diffTargets(prev, next)
	assert.Equal(t, []string{"a"}, d.Stop)
	assert.Equal(t, next, d.Start)
	assert.Empty(t, d.Tune)
}
