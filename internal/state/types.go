// SPDX-License-Identifier: MIT

// Package state implements the declarative data model rooted at State,
// the atomic read-modify-write mutation path, invariant validation, and
// live (non-persisted) Status propagation, with a single-writer
// mutation contract (Validation/Conflict/NotFound errors) for
// concurrent API writers.
package state

import "time"

// Status is the live, non-persisted connectivity state of an
// InputEndpoint or Output.
type Status int

const (
	StatusOffline Status = iota
	StatusInitializing
	StatusOnline
)

func (s Status) String() string {
	switch s {
	case StatusOffline:
		return "offline"
	case StatusInitializing:
		return "initializing"
	case StatusOnline:
		return "online"
	default:
		return "unknown"
	}
}

// EndpointKind distinguishes the two kinds of InputEndpoint.
type EndpointKind string

const (
	EndpointRTMP EndpointKind = "rtmp"
	EndpointHLS  EndpointKind = "hls"
)

// InputEndpoint is a specific served point of an Input: an RTMP socket on
// the media server, keyed "origin"/"main"/"backup", or its HLS manifest.
type InputEndpoint struct {
	ID     string       `json:"id"`
	Kind   EndpointKind `json:"kind"`
	Key    string       `json:"key"`
	Status Status       `json:"status"`
}

// SourceKind tags the variant held by Source.
type SourceKind string

const (
	SourceRemote   SourceKind = "remote"
	SourceFailover SourceKind = "failover"
)

// Source is a tagged union over an Input's optional upstream: either a
// single remote URL to pull, or a Failover pair of two child Inputs whose
// endpoints are the synthetic RTMP keys "main" and "backup".
// Failover.Main/Backup are owned values, not pointers into some other
// part of the tree.
type Source struct {
	Kind     SourceKind      `json:"kind"`
	Remote   *RemoteSource   `json:"remote,omitempty"`
	Failover *FailoverSource `json:"failover,omitempty"`
}

// RemoteSource is a single upstream URL that restreamerd pulls from.
type RemoteSource struct {
	URL string `json:"url"`
}

// FailoverSource holds two child Inputs. The reconciler mirrors whichever
// child is currently publishing onto the parent Input's synthetic "in"
// RTMP endpoint.
type FailoverSource struct {
	Main   Input `json:"main"`
	Backup Input `json:"backup"`
}

// Input is the upstream side of a Restream.
type Input struct {
	ID        string          `json:"id"`
	Source    *Source         `json:"source,omitempty"`
	Endpoints []InputEndpoint `json:"endpoints"`
	Enabled   bool            `json:"enabled"`
}

// Mixin is an auxiliary audio source merged into an Output: a TeamSpeak
// channel (ts://) or a remote MP3 feed (http(s)://*.mp3).
type Mixin struct {
	ID     string        `json:"id"`
	Source string        `json:"source"`
	Volume int           `json:"volume"` // 0..1000 percent (100 == 100%)
	Delay  time.Duration `json:"delay"`  // millisecond granularity, >= 0
}

// Output is a single outbound publisher: a destination plus zero or more
// Mixins.
type Output struct {
	ID          string  `json:"id"`
	Destination string  `json:"destination"`
	Label       string  `json:"label,omitempty"`
	Volume      int     `json:"volume"` // 0..1000
	Mixins      []Mixin `json:"mixins"`
	Enabled     bool    `json:"enabled"`
	Status      Status  `json:"status"`
}

// Restream binds one inbound live stream to zero or more outbound
// destinations.
type Restream struct {
	ID      string   `json:"id"`
	Key     string   `json:"key"`
	Label   string   `json:"label,omitempty"`
	Input   Input    `json:"input"`
	Outputs []Output `json:"outputs"`
}

// Settings holds process-global, non-entity configuration stored in the
// State tree (currently just the optional API password hash).
type Settings struct {
	PasswordHash string `json:"password_hash,omitempty"`
}

// State is the root of the declarative tree.
type State struct {
	Version   uint64     `json:"version"`
	Restreams []Restream `json:"restreams"`
	Settings  Settings   `json:"settings"`
}

// Clone performs a deep copy so that mutations never alias a snapshot
// handed to a reader or a supervisor.
func (s State) Clone() State {
	out := s
	out.Restreams = make([]Restream, len(s.Restreams))
	for i, r := range s.Restreams {
		out.Restreams[i] = r.clone()
	}
	return out
}

func (r Restream) clone() Restream {
	out := r
	out.Input = r.Input.clone()
	out.Outputs = make([]Output, len(r.Outputs))
	for i, o := range r.Outputs {
		out.Outputs[i] = o.clone()
	}
	return out
}

func (in Input) clone() Input {
	out := in
	if in.Source != nil {
		s := *in.Source
		if in.Source.Failover != nil {
			f := *in.Source.Failover
			f.Main = in.Source.Failover.Main.clone()
			f.Backup = in.Source.Failover.Backup.clone()
			s.Failover = &f
		}
		if in.Source.Remote != nil {
			r := *in.Source.Remote
			s.Remote = &r
		}
		out.Source = &s
	}
	out.Endpoints = append([]InputEndpoint(nil), in.Endpoints...)
	return out
}

func (o Output) clone() Output {
	out := o
	out.Mixins = append([]Mixin(nil), o.Mixins...)
	return out
}

// FindRestream returns a pointer to the Restream with the given id within
// s, or nil. The pointer aliases s.Restreams; callers mutating through it
// must be operating on an already-cloned State.
func (s *State) FindRestream(id string) *Restream {
	for i := range s.Restreams {
		if s.Restreams[i].ID == id {
			return &s.Restreams[i]
		}
	}
	return nil
}

// FindRestreamByKey returns a pointer to the Restream with the given key.
func (s *State) FindRestreamByKey(key string) *Restream {
	for i := range s.Restreams {
		if s.Restreams[i].Key == key {
			return &s.Restreams[i]
		}
	}
	return nil
}

// FindOutput returns pointers to the Restream and Output with the given
// ids, or (nil, nil).
func (s *State) FindOutput(restreamID, outputID string) (*Restream, *Output) {
	r := s.FindRestream(restreamID)
	if r == nil {
		return nil, nil
	}
	for i := range r.Outputs {
		if r.Outputs[i].ID == outputID {
			return r, &r.Outputs[i]
		}
	}
	return r, nil
}

// AllInputs returns every Input reachable from r, including Failover
// children, depth-first.
func (r *Restream) AllInputs() []*Input {
	var out []*Input
	var walk func(in *Input)
	walk = func(in *Input) {
		out = append(out, in)
		if in.Source != nil && in.Source.Failover != nil {
			walk(&in.Source.Failover.Main)
			walk(&in.Source.Failover.Backup)
		}
	}
	walk(&r.Input)
	return out
}
