// SPDX-License-Identifier: MIT

// Package teamspeak negotiates a TeamSpeak 3 ServerQuery session, moves
// to the requested channel, decodes per-talker Opus voice, mixes active
// talkers into a continuous 48kHz stereo PCM stream (emitting silence
// between talkers so the downstream ffmpeg mixed-output unit is never
// starved), and reconnects with backoff after a failed negotiation or a
// session error; a session that ends with io.EOF ends the ingestor.
package teamspeak

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// DefaultPort is TeamSpeak 3's default voice port, used by ServerQuery's
// `clientmove`/`use` target when the ts:// URL omits one.
const DefaultPort = 9987

// URL is a parsed `ts://host[:port]/channel/path?name=display&locale=xx`
// ingestion target, per spec.md §4.3.
type URL struct {
	Host        string
	Port        int
	Channel     string // slash-separated channel path, e.g. "Lobby/Music"
	DisplayName string
	Locale      string
}

// ParseURL parses a ts:// URL into its components.
func ParseURL(raw string) (URL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return URL{}, fmt.Errorf("parse teamspeak url: %w", err)
	}
	if u.Scheme != "ts" {
		return URL{}, fmt.Errorf("teamspeak url must use the ts:// scheme, got %q", u.Scheme)
	}
	if u.Hostname() == "" {
		return URL{}, fmt.Errorf("teamspeak url is missing a host")
	}

	port := DefaultPort
	if p := u.Port(); p != "" {
		parsed, err := strconv.Atoi(p)
		if err != nil {
			return URL{}, fmt.Errorf("invalid port %q: %w", p, err)
		}
		port = parsed
	}

	channel := strings.Trim(u.Path, "/")
	q := u.Query()

	return URL{
		Host:        u.Hostname(),
		Port:        port,
		Channel:     channel,
		DisplayName: q.Get("name"),
		Locale:      q.Get("locale"),
	}, nil
}

// String renders back a canonical ts:// URL, primarily for logging.
func (u URL) String() string {
	v := url.Values{}
	if u.DisplayName != "" {
		v.Set("name", u.DisplayName)
	}
	if u.Locale != "" {
		v.Set("locale", u.Locale)
	}
	s := fmt.Sprintf("ts://%s:%d/%s", u.Host, u.Port, u.Channel)
	if len(v) > 0 {
		s += "?" + v.Encode()
	}
	return s
}
