// SPDX-License-Identifier: MIT

package state

import (
	"net/url"
	"strings"

	"github.com/restreamerd/restreamerd/internal/pathsafe"
)

// MaxMixinsPerOutput is the spec.md §3 invariant cap on Mixins per Output.
const MaxMixinsPerOutput = 5

var allowedDestinationSchemes = map[string]bool{
	"rtmp":    true,
	"rtmps":   true,
	"icecast": true,
	"srt":     true,
	"file":    true,
}

// validate checks every invariant in spec.md §3 against s and returns the
// first violation found, or nil. It never mutates s.
func validate(s *State) error {
	seenKeys := make(map[string]string) // key -> restream id, to report conflicts
	for _, r := range s.Restreams {
		if err := pathsafe.ValidateKey(r.Key); err != nil {
			return validationErrf("restream %s: %v", r.ID, err)
		}
		if existing, ok := seenKeys[r.Key]; ok && existing != r.ID {
			return conflictErrf("restream key %q already used by restream %s", r.Key, existing)
		}
		seenKeys[r.Key] = r.ID

		if err := validateInput(&r.Input); err != nil {
			return err
		}

		endpointIDs := make(map[string]bool)
		for _, in := range r.AllInputs() {
			for _, ep := range in.Endpoints {
				endpointIDs[ep.ID] = true
			}
		}

		for _, o := range r.Outputs {
			if err := validateOutput(o, endpointIDs); err != nil {
				return err
			}
		}
	}
	return nil
}

func validateInput(in *Input) error {
	hlsCount := 0
	for _, ep := range in.Endpoints {
		if ep.Kind == EndpointHLS {
			hlsCount++
		}
	}
	if hlsCount > 1 {
		return validationErrf("input %s: at most one HLS endpoint allowed, found %d", in.ID, hlsCount)
	}

	if in.Source != nil && in.Source.Kind == SourceFailover {
		if in.Source.Failover == nil {
			return validationErrf("input %s: failover source declared without failover payload", in.ID)
		}
		main := &in.Source.Failover.Main
		backup := &in.Source.Failover.Backup
		if !hasEndpointKey(main, "main") {
			return validationErrf("input %s: failover main child must have an endpoint keyed \"main\"", in.ID)
		}
		if !hasEndpointKey(backup, "backup") {
			return validationErrf("input %s: failover backup child must have an endpoint keyed \"backup\"", in.ID)
		}
		if err := validateInput(main); err != nil {
			return err
		}
		if err := validateInput(backup); err != nil {
			return err
		}
	}
	return nil
}

func hasEndpointKey(in *Input, key string) bool {
	for _, ep := range in.Endpoints {
		if ep.Key == key {
			return true
		}
	}
	return false
}

func validateOutput(o Output, validEndpointIDs map[string]bool) error {
	if len(o.Mixins) > MaxMixinsPerOutput {
		return validationErrf("output %s: at most %d mixins allowed, found %d", o.ID, MaxMixinsPerOutput, len(o.Mixins))
	}
	if o.Volume < 0 || o.Volume > 1000 {
		return validationErrf("output %s: volume %d out of range [0,1000]", o.ID, o.Volume)
	}
	if err := validateDestination(o.Destination); err != nil {
		return validationErrf("output %s: %v", o.ID, err)
	}
	for _, m := range o.Mixins {
		if err := validateMixin(m); err != nil {
			return validationErrf("output %s mixin %s: %v", o.ID, m.ID, err)
		}
	}
	return nil
}

func validateDestination(dst string) error {
	u, err := url.Parse(dst)
	if err != nil {
		return err
	}
	scheme := strings.ToLower(u.Scheme)
	if !allowedDestinationSchemes[scheme] {
		return validationErrf("destination scheme %q not allowed", scheme)
	}
	if scheme == "file" {
		if !strings.HasSuffix(dst, ".flv") {
			return validationErrf("file:// destinations must end in .flv")
		}
		if err := pathsafe.ValidateDVRPath(strings.TrimPrefix(dst, "file://")); err != nil {
			return err
		}
	}
	return nil
}

func validateMixin(m Mixin) error {
	if m.Volume < 0 || m.Volume > 1000 {
		return validationErrf("volume %d out of range [0,1000]", m.Volume)
	}
	if m.Delay < 0 {
		return validationErrf("delay %v must be >= 0", m.Delay)
	}
	u, err := url.Parse(m.Source)
	if err != nil {
		return err
	}
	switch strings.ToLower(u.Scheme) {
	case "ts":
		// ts://host:port/channel?name=X — host required, rest is free-form.
		if u.Host == "" {
			return validationErrf("ts:// mixin source requires a host")
		}
	case "http", "https":
		if !strings.HasSuffix(strings.ToLower(u.Path), ".mp3") {
			return validationErrf("http(s) mixin source must point at a .mp3 file")
		}
	default:
		return validationErrf("mixin source scheme %q not allowed", u.Scheme)
	}
	return nil
}
