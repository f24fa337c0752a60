// SPDX-License-Identifier: MIT

package reconciler

import "github.com/restreamerd/restreamerd/internal/ffmpeg"

// Tune is a ZMQ-only adjustment to a running KindMixedOutput unit's
// filter graph: no restart, just a new volume/delay (spec.md §4.7 point 3).
type Tune struct {
	UnitID string
	ffmpeg.MixinTuning
}

// Delta is the result of diffing a previous target set against a new one.
type Delta struct {
	Start  []Target // ids present only in next, or whose non-Mixin spec changed
	Stop   []string // ids present only in prev, or superseded by a Start
	Tune   []Tune   // ids present in both, unchanged except Mixin fields
}

// diffTargets computes Delta by unit id. A unit whose Spec is identical
// in both sets is left alone entirely (absent from every list).
func diffTargets(prev, next []Target) Delta {
	prevByID := indexByID(prev)
	nextByID := indexByID(next)

	var d Delta
	for id, n := range nextByID {
		p, existed := prevByID[id]
		switch {
		case !existed:
			d.Start = append(d.Start, n)
		case specEqual(p.Spec, n.Spec):
			// no-op, running unit already matches
		case n.Spec.Kind == ffmpeg.KindMixedOutput && specEqualIgnoringMixin(p.Spec, n.Spec):
			d.Tune = append(d.Tune, Tune{UnitID: id, MixinTuning: n.Spec.Mixin})
		default:
			d.Stop = append(d.Stop, id)
			d.Start = append(d.Start, n)
		}
	}
	for id := range prevByID {
		if _, stillWanted := nextByID[id]; !stillWanted {
			d.Stop = append(d.Stop, id)
		}
	}
	return d
}

func indexByID(targets []Target) map[string]Target {
	m := make(map[string]Target, len(targets))
	for _, t := range targets {
		m[t.ID] = t
	}
	return m
}

func specEqual(a, b ffmpeg.Spec) bool {
	return a == b
}

func specEqualIgnoringMixin(a, b ffmpeg.Spec) bool {
	a.Mixin, b.Mixin = ffmpeg.MixinTuning{}, ffmpeg.MixinTuning{}
	return a == b
}
