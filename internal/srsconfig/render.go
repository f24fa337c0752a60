// SPDX-License-Identifier: MIT

// Package srsconfig deterministically renders SRS's runtime config file
// from the declared State: one RTMP listener, the HTTP API and static
// file server, and one vhost per Restream carrying its callback hooks,
// optional HLS rules, and a DVR directory note. Rendering is an ordered
// strings.Builder walk over declared entities, with no formatting
// dependent on map iteration order.
package srsconfig

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/restreamerd/restreamerd/internal/state"
)

const (
	// RTMPPort is SRS's fixed RTMP listener (spec.md §4.9).
	RTMPPort = 1935
	// APIPort is SRS's HTTP API port, consumed by internal/srsapi.
	APIPort = 1985
	// HTTPServerPort serves the HLS/DVR directory tree.
	HTTPServerPort = 8000

	hlsFragmentSeconds = 10
	hlsWindowSeconds   = 60
)

// Options parameterizes the render: everything that isn't part of State
// but still affects the rendered text.
type Options struct {
	// CallbackHost is the host SRS uses to reach this daemon's HTTP
	// callback handler (internal/callback).
	CallbackHost string
	// HTTPPort is the port the callback handler listens on.
	HTTPPort int
	// SRSHTTPDir is SRS's HLS/DVR static file root.
	SRSHTTPDir string
	// CallbackSecret is embedded as a `token` query parameter on every
	// rendered hook URL (internal/callback accepts it as a shared-secret
	// fallback to header-based HMAC, since SRS cannot sign its own hook
	// requests).
	CallbackSecret string
}

// Render produces SRS's config file text for s. It is a pure function of
// (s, opts): the same pair always renders byte-identical output,
// regardless of call history or wall-clock time (spec.md §4.9).
func Render(s state.State, opts Options) string {
	var b strings.Builder

	fmt.Fprintf(&b, "listen              %d;\n", RTMPPort)
	b.WriteString("daemon              off;\n")
	b.WriteString("srs_log_tank        console;\n\n")

	fmt.Fprintf(&b, "http_api {\n    enabled         on;\n    listen          %d;\n}\n\n", APIPort)
	fmt.Fprintf(&b, "http_server {\n    enabled         on;\n    listen          %d;\n    dir             %s;\n}\n\n", HTTPServerPort, opts.SRSHTTPDir)

	for _, r := range s.Restreams {
		renderVhost(&b, r, opts)
	}

	return b.String()
}

func renderVhost(b *strings.Builder, r state.Restream, opts Options) {
	fmt.Fprintf(b, "vhost %s {\n", r.Key)

	renderHooks(b, r.Key, opts)

	if hasHLSEndpoint(r) {
		fmt.Fprintf(b, "    hls {\n        enabled         on;\n        hls_path        %s/hls/%s;\n        hls_fragment    %d;\n        hls_window      %d;\n    }\n",
			opts.SRSHTTPDir, r.Key, hlsFragmentSeconds, hlsWindowSeconds)
	}

	if ids := recordingOutputIDs(r); len(ids) > 0 {
		b.WriteString("    # recording is written by ffmpeg, not SRS's own dvr module, under:\n")
		for _, id := range ids {
			fmt.Fprintf(b, "    #   %s/dvr/%s/%s/<unix-ts>.flv\n", opts.SRSHTTPDir, r.Key, id)
		}
	}

	b.WriteString("}\n\n")
}

func renderHooks(b *strings.Builder, key string, opts Options) {
	b.WriteString("    http_hooks {\n        enabled         on;\n")
	for _, hook := range []string{"on_connect", "on_publish", "on_unpublish", "on_play", "on_stop"} {
		fmt.Fprintf(b, "        %-12s %s;\n", hook, hookURL(hook, opts))
	}
	b.WriteString("    }\n")
	_ = key // key is encoded in the vhost block, not the hook URL itself (hooks are shared across vhosts)
}

func hookURL(hook string, opts Options) string {
	u := url.URL{
		Scheme: "http",
		Host:   fmt.Sprintf("%s:%d", opts.CallbackHost, opts.HTTPPort),
		Path:   "/srs/hook/" + hook,
	}
	if opts.CallbackSecret != "" {
		q := url.Values{}
		q.Set("token", opts.CallbackSecret)
		u.RawQuery = q.Encode()
	}
	return u.String()
}

func hasHLSEndpoint(r state.Restream) bool {
	for _, in := range r.AllInputs() {
		for _, ep := range in.Endpoints {
			if ep.Kind == state.EndpointHLS {
				return true
			}
		}
	}
	return false
}

func recordingOutputIDs(r state.Restream) []string {
	var ids []string
	for _, o := range r.Outputs {
		if strings.HasPrefix(strings.ToLower(o.Destination), "file://") {
			ids = append(ids, o.ID)
		}
	}
	return ids
}
