// SPDX-License-Identifier: MIT

package state

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/restreamerd/restreamerd/internal/pathsafe"
)

// specVersion is the only version of the export/import wire format that
// exists today (spec.md §6).
const specVersion = "v1"

// Spec is the export/import wire format: a subset of one or more
// Restreams, stripped of server-assigned ids and live Status so it can
// be replayed onto a different instance.
type Spec struct {
	Version   string       `json:"version"`
	Restreams []RestreamSpec `json:"restreams"`
}

// RestreamSpec is one Restream in Spec form.
type RestreamSpec struct {
	Key    string       `json:"key"`
	Label  string       `json:"label,omitempty"`
	Input  InputSpec    `json:"input"`
	Outputs []OutputSpec `json:"outputs,omitempty"`
}

// InputSpec is one Input in Spec form.
type InputSpec struct {
	URL        string     `json:"url,omitempty"`
	WithHLS    bool       `json:"with_hls,omitempty"`
	Main       *InputSpec `json:"main,omitempty"`
	Backup     *InputSpec `json:"backup,omitempty"`
	Enabled    bool       `json:"enabled"`
}

// OutputSpec is one Output in Spec form.
type OutputSpec struct {
	Destination string      `json:"destination"`
	Label       string      `json:"label,omitempty"`
	Volume      int         `json:"volume"`
	Enabled     bool        `json:"enabled"`
	Mixins      []MixinSpecJSON `json:"mixins,omitempty"`
}

// MixinSpecJSON is one Mixin in Spec form.
type MixinSpecJSON struct {
	Source string `json:"source"`
	Volume int    `json:"volume"`
	Delay  int64  `json:"delay_ms"`
}

// ExportAll renders every Restream in s as a Spec.
func ExportAll(s State) Spec {
	out := Spec{Version: specVersion}
	for _, r := range s.Restreams {
		out.Restreams = append(out.Restreams, exportRestream(r))
	}
	return out
}

// ExportRestream renders a single Restream, or (Spec{}, false) if id is
// not found.
func ExportRestream(s State, id string) (Spec, bool) {
	r := s.FindRestream(id)
	if r == nil {
		return Spec{}, false
	}
	return Spec{Version: specVersion, Restreams: []RestreamSpec{exportRestream(*r)}}, true
}

func exportRestream(r Restream) RestreamSpec {
	rs := RestreamSpec{Key: r.Key, Label: r.Label, Input: exportInput(r.Input)}
	for _, o := range r.Outputs {
		rs.Outputs = append(rs.Outputs, exportOutput(o))
	}
	return rs
}

func exportInput(in Input) InputSpec {
	is := InputSpec{Enabled: in.Enabled}
	for _, ep := range in.Endpoints {
		if ep.Kind == EndpointHLS {
			is.WithHLS = true
		}
	}
	if in.Source != nil {
		switch in.Source.Kind {
		case SourceRemote:
			if in.Source.Remote != nil {
				is.URL = in.Source.Remote.URL
			}
		case SourceFailover:
			if in.Source.Failover != nil {
				main := exportInput(in.Source.Failover.Main)
				backup := exportInput(in.Source.Failover.Backup)
				is.Main = &main
				is.Backup = &backup
			}
		}
	}
	return is
}

func exportOutput(o Output) OutputSpec {
	spec := OutputSpec{Destination: o.Destination, Label: o.Label, Volume: o.Volume, Enabled: o.Enabled}
	for _, m := range o.Mixins {
		spec.Mixins = append(spec.Mixins, MixinSpecJSON{Source: m.Source, Volume: m.Volume, Delay: m.Delay.Milliseconds()})
	}
	return spec
}

// ParseSpec decodes a Spec from JSON, rejecting any version other than
// the one this package understands.
func ParseSpec(data []byte) (Spec, error) {
	var sp Spec
	if err := json.Unmarshal(data, &sp); err != nil {
		return Spec{}, validationErrf("parse spec: %v", err)
	}
	if sp.Version != specVersion {
		return Spec{}, validationErrf("unsupported spec version %q", sp.Version)
	}
	return sp, nil
}

// Import applies sp's Restreams onto s. If restreamID is non-nil, sp must
// contain exactly one Restream and it replaces that existing one
// in-place (preserving its id); otherwise every Restream in sp is
// created fresh. If replace is true, any existing Restream whose key is
// not present in sp is removed first — satisfying the roundtrip
// property Import(Export(S), nil, true) reproduces S.
func Import(sp Spec, restreamID *string, replace bool) Mutation {
	return func(s State) (State, error) {
		if restreamID != nil {
			if len(sp.Restreams) != 1 {
				return State{}, validationErrf("importing into an existing restream requires exactly one restream in the spec")
			}
			r := s.FindRestream(*restreamID)
			if r == nil {
				return State{}, notFoundErrf("restream %s not found", *restreamID)
			}
			*r = specToRestream(sp.Restreams[0], r.ID, r.Outputs)
			return s, nil
		}

		if replace {
			kept := make(map[string]bool, len(sp.Restreams))
			for _, rs := range sp.Restreams {
				kept[rs.Key] = true
			}
			filtered := s.Restreams[:0]
			for _, r := range s.Restreams {
				if kept[r.Key] {
					filtered = append(filtered, r)
				}
			}
			s.Restreams = filtered
		}

		for _, rs := range sp.Restreams {
			if existing := s.FindRestreamByKey(rs.Key); existing != nil {
				*existing = specToRestream(rs, existing.ID, existing.Outputs)
				continue
			}
			s.Restreams = append(s.Restreams, specToRestream(rs, newID(), nil))
		}
		return s, nil
	}
}

func specToRestream(rs RestreamSpec, id string, prevOutputs []Output) Restream {
	r := Restream{ID: id, Key: rs.Key, Label: rs.Label, Input: specToInput(rs.Input)}
	for _, outSpec := range rs.Outputs {
		var prev *Output
		for i := range prevOutputs {
			if prevOutputs[i].Destination == outSpec.Destination {
				prev = &prevOutputs[i]
			}
		}
		r.Outputs = append(r.Outputs, specToOutput(outSpec, prev))
	}
	return r
}

func specToInput(is InputSpec) Input {
	in := Input{ID: newID(), Enabled: is.Enabled}
	endpoints := []InputEndpoint{{ID: newID(), Key: "origin", Kind: EndpointRTMP}}
	if is.WithHLS {
		endpoints = append(endpoints, InputEndpoint{ID: newID(), Key: "origin", Kind: EndpointHLS})
	}

	if is.Main != nil && is.Backup != nil {
		endpoints = append(endpoints, InputEndpoint{ID: newID(), Key: "in", Kind: EndpointRTMP})
		main := specToInput(*is.Main)
		main.Endpoints = []InputEndpoint{{ID: newID(), Key: "main", Kind: EndpointRTMP}}
		backup := specToInput(*is.Backup)
		backup.Endpoints = []InputEndpoint{{ID: newID(), Key: "backup", Kind: EndpointRTMP}}
		in.Source = &Source{Kind: SourceFailover, Failover: &FailoverSource{Main: main, Backup: backup}}
		in.Endpoints = endpoints
		return in
	}

	in.Endpoints = endpoints
	if is.URL != "" {
		in.Source = &Source{Kind: SourceRemote, Remote: &RemoteSource{URL: is.URL}}
	}
	return in
}

func specToOutput(spec OutputSpec, prev *Output) Output {
	o := Output{ID: newID(), Destination: spec.Destination, Label: spec.Label, Volume: spec.Volume, Enabled: spec.Enabled}
	if prev != nil {
		o.ID = prev.ID
	}
	for _, ms := range spec.Mixins {
		m := Mixin{ID: newID(), Source: ms.Source, Volume: ms.Volume, Delay: time.Duration(ms.Delay) * time.Millisecond}
		if prev != nil {
			for _, pm := range prev.Mixins {
				if pm.Source == ms.Source {
					m.ID = pm.ID
				}
			}
		}
		o.Mixins = append(o.Mixins, m)
	}
	return o
}

// DvrFile is one entry of the dvrFiles(id) query result: a recording
// file under a Restream's outputs, named relative to dvrRoot so it can
// be passed straight back into RemoveDvrFile.
type DvrFile struct {
	Path    string    `json:"path"`
	Size    int64     `json:"size"`
	ModTime time.Time `json:"mod_time"`
}

// ListDvrFiles implements the dvrFiles(id) query: every recording file
// under restreamID's outputs' DVR directories (spec.md §4.4's
// <dvrRoot>/<restream key>/<output id>/<unix ts>.flv layout, mirrored
// from ffmpeg.Spec.DVRRoot/Restream/OutputID). Like RemoveDvrFile, this
// reads the filesystem directly — DVR content is not tracked in the
// State tree (spec.md §9).
func ListDvrFiles(dvrRoot string, s State, restreamID string) ([]DvrFile, error) {
	r := s.FindRestream(restreamID)
	if r == nil {
		return nil, notFoundErrf("restream %s not found", restreamID)
	}

	var out []DvrFile
	for _, o := range r.Outputs {
		dir := filepath.Join(dvrRoot, r.Key, o.ID)
		entries, err := os.ReadDir(dir)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, internalErrf(err, "list dvr dir %s", dir)
		}
		for _, e := range entries {
			if e.IsDir() {
				continue
			}
			info, err := e.Info()
			if err != nil {
				continue
			}
			out = append(out, DvrFile{
				Path:    filepath.Join(r.Key, o.ID, e.Name()),
				Size:    info.Size(),
				ModTime: info.ModTime(),
			})
		}
	}
	return out, nil
}

// RemoveDvrFile implements removeDvrFile: it is a filesystem operation,
// not a State mutation — DVR recordings are not tracked in the tree
// (spec.md §9) — so it lives here only as the validating path-safety
// gate the API facade calls before touching disk. relPath must use the
// restricted DVR character class and must resolve under dvrRoot; both
// are required to reject a "../" escape disguised by a clean-looking
// input.
func RemoveDvrFile(dvrRoot, relPath string) error {
	if err := pathsafe.ValidateDVRPath(relPath); err != nil {
		return validationErrf("%v", err)
	}

	full := filepath.Join(dvrRoot, relPath)
	root, err := filepath.Abs(dvrRoot)
	if err != nil {
		return internalErrf(err, "resolve dvr root")
	}
	abs, err := filepath.Abs(full)
	if err != nil {
		return internalErrf(err, "resolve dvr path")
	}
	if abs != root && !strings.HasPrefix(abs, root+string(filepath.Separator)) {
		return validationErrf("dvr path %q escapes dvr root", relPath)
	}

	if err := os.Remove(abs); err != nil {
		if os.IsNotExist(err) {
			return notFoundErrf("dvr file %q not found", relPath)
		}
		return internalErrf(err, "remove dvr file")
	}
	return nil
}
