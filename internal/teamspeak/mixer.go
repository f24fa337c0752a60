// SPDX-License-Identifier: MIT

package teamspeak

import (
	"encoding/binary"
	"time"
)

// SampleRate and Channels are fixed by spec.md §4.3 ("decode Opus
// packets... 48kHz stereo").
const (
	SampleRate   = 48000
	Channels     = 2
	TickDuration = 20 * time.Millisecond
)

// SamplesPerTick is the number of per-channel samples in one 20ms tick
// at 48kHz: 960.
const SamplesPerTick = SampleRate * int(TickDuration/time.Millisecond) / 1000

// FrameInt16Len is the number of int16 values (all channels interleaved)
// in one tick's mixed frame.
const FrameInt16Len = SamplesPerTick * Channels

// FrameBytes is one tick's mixed frame size as 16-bit little-endian PCM.
const FrameBytes = FrameInt16Len * 2

// MixTick sums every active talker's PCM sample-wise with saturating
// addition, per spec.md §4.3. Each entry in talkers must have length
// FrameInt16Len (pad/truncate upstream if a decode returned a partial
// frame). An empty talkers slice mixes to silence.
func MixTick(talkers [][]int16) []int16 {
	out := make([]int16, FrameInt16Len)
	for _, pcm := range talkers {
		n := len(pcm)
		if n > FrameInt16Len {
			n = FrameInt16Len
		}
		for i := 0; i < n; i++ {
			out[i] = saturatingAdd(out[i], pcm[i])
		}
	}
	return out
}

// saturatingAdd adds two int16 samples, clamping to the int16 range
// instead of wrapping on overflow.
func saturatingAdd(a, b int16) int16 {
	sum := int32(a) + int32(b)
	switch {
	case sum > 32767:
		return 32767
	case sum < -32768:
		return -32768
	default:
		return int16(sum)
	}
}

// SilenceFrame returns one tick's worth of silence, the frame emitted
// between talkers and throughout reconnect backoff so the downstream
// ffmpeg mixed-output unit always sees a continuous stream.
func SilenceFrame() []int16 {
	return make([]int16, FrameInt16Len)
}

// EncodeLE16 writes frame (interleaved int16 PCM samples) as 16-bit
// little-endian bytes into dst, which must be at least len(frame)*2
// bytes.
func EncodeLE16(frame []int16, dst []byte) {
	for i, s := range frame {
		binary.LittleEndian.PutUint16(dst[i*2:], uint16(s))
	}
}
