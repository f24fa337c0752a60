// SPDX-License-Identifier: MIT

// Package reconciler implements the central loop that, on every new
// State value, computes the target set of supervised ffmpeg units,
// diffs it against the running set by unit id, and starts/stops/
// ZMQ-tunes units to converge. It also republishes the rendered SRS
// config and signals SRS with SIGHUP whenever the set of stream keys
// changes.
package reconciler

import (
	"fmt"

	"github.com/restreamerd/restreamerd/internal/ffmpeg"
	"github.com/restreamerd/restreamerd/internal/state"
)

// originEndpointKey is the conventional RTMP endpoint key a non-Failover
// Input publishes/pulls onto (spec.md §4.7 point 1's "endpoint").
const originEndpointKey = "origin"

// mirrorEndpointKey is the synthetic RTMP endpoint key a Failover
// Input's parent mirrors its live child onto (state.FailoverSource's
// doc comment).
const mirrorEndpointKey = "in"

// Options parameterizes target computation with the host-specific paths
// ffmpeg.Spec needs that don't live in State.
type Options struct {
	SRSHost    string // normally 127.0.0.1, the local SRS RTMP listener
	DVRRoot    string // spec.md §4.4 recording root, e.g. <srs-http-dir>/dvr
	HLSRoot    string // e.g. <srs-http-dir>/hls
}

// Target is one entry of the reconciler's target set: a supervised
// unit's stable id, its ffmpeg.Spec, and the (EndpointID or OutputID)
// whose live Status this unit's OnlineConfirmer updates.
type Target struct {
	ID          string
	Spec        ffmpeg.Spec
	EndpointID  string // set for input-facing units (pull, failover mirror)
	OutputID    string // set for output-facing units
	RestreamKey string // the owning Restream's key, for metric labels

	// MixinSource is the Mixin's audio source URL (state.Mixin.Source:
	// ts://host:port/channel or an http(s) MP3 stream) for a
	// KindMixedOutput target, empty otherwise. The unit's ffmpeg.Spec
	// carries only the tuning (volume/delay); cmd/restreamerd resolves
	// this URL to a PCM feed and writes it to the unit's StdinPipe.
	MixinSource string
}

// ComputeTargets derives the full target unit set from s (spec.md §4.7
// point 1). s is expected to be a Store.View() snapshot — live Status
// fields matter here because a Failover mirror's source endpoint is
// chosen based on which child is currently Online.
func ComputeTargets(s state.State, opts Options) []Target {
	var out []Target
	for _, r := range s.Restreams {
		out = append(out, restreamTargets(r, opts)...)
	}
	return out
}

func restreamTargets(r state.Restream, opts Options) []Target {
	var out []Target
	base := localRTMPBase(opts.SRSHost, r.Key)

	if !r.Input.Enabled {
		return out
	}

	if r.Input.Source != nil {
		switch r.Input.Source.Kind {
		case state.SourceRemote:
			out = append(out, pullInputTarget(r, base, opts))
		case state.SourceFailover:
			out = append(out, failoverChildTargets(r, opts)...)
			if mirror, ok := failoverMirrorTarget(r, base, opts); ok {
				out = append(out, mirror)
			}
		}
	}

	if ep, ok := hlsEndpoint(r.Input); ok {
		out = append(out, hlsProducerTarget(r, ep, base, opts))
	}

	for _, o := range r.Outputs {
		if !o.Enabled {
			continue
		}
		out = append(out, outputTarget(r, o, base, opts))
	}

	return out
}

func localRTMPBase(host, key string) string {
	if host == "" {
		host = "127.0.0.1"
	}
	return fmt.Sprintf("rtmp://%s:%d/%s", host, localRTMPPort, key)
}

// localRTMPPort is the same value as srsconfig.RTMPPort: 1935 is SRS's
// fixed RTMP listener port throughout this spec.
const localRTMPPort = 1935

func pullInputTarget(r state.Restream, base string, opts Options) Target {
	ep := findEndpointByKey(r.Input, originEndpointKey)
	return Target{
		ID:          "pull-" + r.Input.ID,
		EndpointID:  endpointID(ep),
		RestreamKey: r.Key,
		Spec: ffmpeg.Spec{
			UnitID:    "pull-" + r.Input.ID,
			Kind:      ffmpeg.KindPullInput,
			Upstream:  r.Input.Source.Remote.URL,
			SourceURL: base + "/" + originEndpointKey,
		},
	}
}

// failoverChildTargets returns a pull_input unit for each of the
// failover pair's children that itself has a Remote source (a child may
// also be disabled, in which case it contributes no unit).
func failoverChildTargets(r state.Restream, opts Options) []Target {
	var out []Target
	f := r.Input.Source.Failover
	for _, child := range []*state.Input{&f.Main, &f.Backup} {
		if !child.Enabled || child.Source == nil || child.Source.Kind != state.SourceRemote {
			continue
		}
		key := child.Endpoints[0].Key // "main" or "backup", enforced by state.validate
		for _, ep := range child.Endpoints {
			if ep.Kind == state.EndpointRTMP {
				key = ep.Key
				break
			}
		}
		base := localRTMPBase(opts.SRSHost, r.Key)
		out = append(out, Target{
			ID:          "pull-" + child.ID,
			EndpointID:  endpointID(findEndpointByKey(*child, key)),
			RestreamKey: r.Key,
			Spec: ffmpeg.Spec{
				UnitID:    "pull-" + child.ID,
				Kind:      ffmpeg.KindPullInput,
				Upstream:  child.Source.Remote.URL,
				SourceURL: base + "/" + key,
			},
		})
	}
	return out
}

// failoverMirrorTarget relays whichever of the failover pair's "main"/
// "backup" local endpoints is currently publishing onto the parent
// Input's synthetic "in" endpoint, preferring main when both are live
// (spec.md §4.7 point 1's failover_publish_mirror).
func failoverMirrorTarget(r state.Restream, base string, opts Options) (Target, bool) {
	f := r.Input.Source.Failover
	mainEp := findEndpointByKey(f.Main, "main")
	backupEp := findEndpointByKey(f.Backup, "backup")

	var sourceKey string
	switch {
	case mainEp != nil && mainEp.Status == state.StatusOnline:
		sourceKey = "main"
	case backupEp != nil && backupEp.Status == state.StatusOnline:
		sourceKey = "backup"
	default:
		return Target{}, false
	}

	mirrorEp := findEndpointByKey(r.Input, mirrorEndpointKey)
	id := "failover-" + r.Input.ID
	return Target{
		ID:          id,
		EndpointID:  endpointID(mirrorEp),
		RestreamKey: r.Key,
		Spec: ffmpeg.Spec{
			UnitID:      id,
			Kind:        ffmpeg.KindSimpleOutput,
			SourceURL:   base + "/" + sourceKey,
			Destination: base + "/" + mirrorEndpointKey,
		},
	}, true
}

func hlsProducerTarget(r state.Restream, ep state.InputEndpoint, base string, opts Options) Target {
	id := "hls-" + ep.ID
	return Target{
		ID:          id,
		EndpointID:  ep.ID,
		RestreamKey: r.Key,
		Spec: ffmpeg.Spec{
			UnitID:      id,
			Kind:        ffmpeg.KindHLSProducer,
			SourceURL:   base + "/" + originEndpointKey,
			HLSRoot:     opts.HLSRoot,
			RestreamKey: r.Key,
			EndpointKey: ep.Key,
		},
	}
}

func outputTarget(r state.Restream, o state.Output, base string, opts Options) Target {
	id := "output-" + o.ID
	spec := ffmpeg.Spec{
		UnitID:    id,
		SourceURL: base + "/" + originEndpointKey,
	}

	var mixinSource string
	switch {
	case len(o.Mixins) > 0:
		spec.Kind = ffmpeg.KindMixedOutput
		spec.Destination = o.Destination
		m := o.Mixins[0] // ffmpeg.Spec's filter graph supports one mixin; see DESIGN.md
		spec.Mixin = ffmpeg.MixinTuning{OrigVolume: o.Volume, MixVolume: m.Volume, Delay: m.Delay}
		mixinSource = m.Source
	case hasPrefix(o.Destination, "file://"):
		spec.Kind = ffmpeg.KindRecording
		spec.DVRRoot = opts.DVRRoot
		spec.Restream = r.Key
		spec.OutputID = o.ID
	default:
		spec.Kind = ffmpeg.KindSimpleOutput
		spec.Destination = o.Destination
	}

	return Target{ID: id, OutputID: o.ID, RestreamKey: r.Key, Spec: spec, MixinSource: mixinSource}
}

func hlsEndpoint(in state.Input) (state.InputEndpoint, bool) {
	for _, ep := range in.Endpoints {
		if ep.Kind == state.EndpointHLS {
			return ep, true
		}
	}
	return state.InputEndpoint{}, false
}

func findEndpointByKey(in state.Input, key string) *state.InputEndpoint {
	for i := range in.Endpoints {
		if in.Endpoints[i].Key == key {
			return &in.Endpoints[i]
		}
	}
	return nil
}

func endpointID(ep *state.InputEndpoint) string {
	if ep == nil {
		return ""
	}
	return ep.ID
}

func hasPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && s[:len(prefix)] == prefix
}
