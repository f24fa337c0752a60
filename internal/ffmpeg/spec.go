// SPDX-License-Identifier: MIT

// Package ffmpeg supervises one child process per active (Restream
// endpoint -> Output), per Input endpoint that pulls from a remote
// origin, and per HLS producer. Each unit renders an ffmpeg argument
// vector for its Kind, runs the child process, reports
// Spawning/Running/Cooldown/Stopped state, and is itself a
// supervisor.Unit so it restarts under internal/supervisor's tree.
package ffmpeg

import (
	"fmt"
	"hash/fnv"
	"time"
)

// Kind identifies which of spec.md §4.4's five command-line contracts a
// unit's argument vector follows.
type Kind string

const (
	KindPullInput     Kind = "pull_input"
	KindSimpleOutput  Kind = "simple_output"
	KindMixedOutput   Kind = "mixed_output"
	KindRecording     Kind = "recording"
	KindHLSProducer   Kind = "hls_producer"
)

// MixinTuning carries the per-mixin volume/delay values the filter graph
// for a KindMixedOutput unit bakes into its -filter_complex argument.
// OrigVolume/MixVolume are spec.md §3's 0-1000 (%) tuneVolume range;
// Delay is spec.md §3's tuneDelay, always >= 0.
type MixinTuning struct {
	OrigVolume int
	MixVolume  int
	Delay      time.Duration
}

// Spec fully describes one supervised unit's ffmpeg invocation. Only the
// fields relevant to Kind need to be set; BuildArgs validates the ones it
// needs and ignores the rest.
type Spec struct {
	UnitID string // stable id used for cooldown keying and ZMQ port hashing
	Kind   Kind

	// KindPullInput
	Upstream string // remote RTMP/HTTP origin to pull from

	// KindSimpleOutput, KindMixedOutput, KindRecording, KindHLSProducer
	SourceURL string // local rtmp://127.0.0.1:1935/<key>/<endpoint_key> to read from

	// KindSimpleOutput
	Destination string // rtmp/icecast/srt destination URL

	// KindMixedOutput
	Mixin MixinTuning

	// KindRecording
	DVRRoot  string // /var/www/srs/dvr
	Restream string
	OutputID string

	// KindHLSProducer
	HLSRoot     string // srs-http-dir/hls
	RestreamKey string
	EndpointKey string
}

// ZMQPort deterministically maps a unit id onto spec.md §4.4's
// 10000-65000 ZMQ filter-graph control port range, so repeated spawns of
// the same unit (after a Cooldown restart) always bind the same port.
func ZMQPort(unitID string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(unitID))
	const lo, hi = 10000, 65000
	return lo + int(h.Sum32()%uint32(hi-lo))
}

// BuildArgs renders the ffmpeg argument vector for spec, following
// spec.md §4.4's command-line contracts. The returned bool reports
// whether the unit needs a stdin pipe attached (true only for
// KindMixedOutput, which reads its TeamSpeak/MP3 mixin as raw PCM on
// stdin).
func BuildArgs(spec Spec) (args []string, needsStdin bool, err error) {
	switch spec.Kind {
	case KindPullInput:
		if spec.Upstream == "" {
			return nil, false, fmt.Errorf("pull input: upstream is required")
		}
		return []string{
			"-loglevel", "error", "-nostats",
			"-i", spec.Upstream,
			"-c", "copy",
			"-f", "flv", spec.SourceURL,
		}, false, nil

	case KindSimpleOutput:
		if spec.SourceURL == "" || spec.Destination == "" {
			return nil, false, fmt.Errorf("simple output: source and destination are required")
		}
		return []string{
			"-loglevel", "error", "-nostats",
			"-i", spec.SourceURL,
			"-c", "copy",
			"-f", outputFormat(spec.Destination), spec.Destination,
		}, false, nil

	case KindMixedOutput:
		if spec.SourceURL == "" || spec.Destination == "" {
			return nil, false, fmt.Errorf("mixed output: source and destination are required")
		}
		port := ZMQPort(spec.UnitID)
		filter := mixedFilterGraph(spec.Mixin, port)
		return []string{
			"-loglevel", "error", "-nostats",
			"-f", "s16le", "-ar", "48000", "-ac", "2", "-i", "pipe:0",
			"-i", spec.SourceURL,
			"-filter_complex", filter,
			"-map", "[aout]", "-map", "1:v",
			"-c:v", "copy", "-c:a", "aac",
			"-f", outputFormat(spec.Destination), spec.Destination,
		}, true, nil

	case KindRecording:
		if spec.SourceURL == "" || spec.DVRRoot == "" {
			return nil, false, fmt.Errorf("recording: source and dvr root are required")
		}
		dst := fmt.Sprintf("file://%s/%s/%s/%d.flv", spec.DVRRoot, spec.Restream, spec.OutputID, recordingTimestamp())
		return []string{
			"-loglevel", "error", "-nostats",
			"-i", spec.SourceURL,
			"-c", "copy",
			"-f", "flv", dst,
		}, false, nil

	case KindHLSProducer:
		if spec.SourceURL == "" || spec.HLSRoot == "" {
			return nil, false, fmt.Errorf("hls producer: source and hls root are required")
		}
		playlist := fmt.Sprintf("%s/%s/%s.m3u8", spec.HLSRoot, spec.RestreamKey, spec.EndpointKey)
		return []string{
			"-loglevel", "error", "-nostats",
			"-i", spec.SourceURL,
			"-c", "copy",
			"-f", "hls",
			"-hls_time", "4", "-hls_list_size", "6", "-hls_flags", "delete_segments",
			playlist,
		}, false, nil

	default:
		return nil, false, fmt.Errorf("unknown unit kind %q", spec.Kind)
	}
}

// mixedFilterGraph renders spec.md §4.4's two-source amix filter graph,
// with an azmq control sink bound to port so tuneVolume/tuneDelay calls
// can retune the running filter without a respawn (internal/zmqctl).
func mixedFilterGraph(m MixinTuning, port int) string {
	delayMs := m.Delay.Milliseconds()
	return fmt.Sprintf(
		"[1:a]volume@orig=%s[a1];"+
			"[0:a]aresample=async=1,adelay@mix=%d|%d,volume@mix=%s[a2];"+
			"[a1][a2]amix=inputs=2:duration=longest,azmq=bind_address=tcp\\://127.0.0.1\\:%d[aout]",
		volumeFactor(m.OrigVolume), delayMs, delayMs, volumeFactor(m.MixVolume), port,
	)
}

// volumeFactor renders spec.md §3's 0-1000 percent volume as ffmpeg's
// volume filter factor (1.0 == 100%).
func volumeFactor(percent int) string {
	return fmt.Sprintf("%.2f", float64(percent)/100.0)
}

// outputFormat maps a destination scheme onto ffmpeg's -f muxer name.
func outputFormat(dst string) string {
	switch {
	case hasPrefix(dst, "rtmp"):
		return "flv"
	case hasPrefix(dst, "icecast:"), hasPrefix(dst, "http"):
		return "mp3"
	case hasPrefix(dst, "srt:"):
		return "mpegts"
	default:
		return "flv"
	}
}

func hasPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && s[:len(prefix)] == prefix
}

// recordingTimestamp is overridden in tests; production uses the wall
// clock unix timestamp per spec.md §4.4's recording filename contract.
var recordingTimestamp = func() int64 { return time.Now().Unix() }
