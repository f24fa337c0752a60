// SPDX-License-Identifier: MIT

package teamspeak

import (
	"context"
	"fmt"
)

// ErrVoiceTransportUnavailable is returned by UnimplementedVoiceDialer.
var ErrVoiceTransportUnavailable = fmt.Errorf("teamspeak voice transport not implemented")

// UnimplementedVoiceDialer is the VoiceDialer wired in production until a
// real TS3 voice transport exists. go-ts3 (this package's ServerQuery
// client) only speaks the text ServerQuery protocol used by connect's
// session negotiation; the actual voice channel is TeamSpeak's separate,
// proprietary encrypted UDP framing, which no library in this module's
// dependency set implements. Rather than hand-roll that wire format,
// Ingestor.Serve is left free to run its reconnect-with-silence loop
// against a dialer that always fails, so a mixed output with a ts://
// source degrades to silence instead of refusing to start.
func UnimplementedVoiceDialer(ctx context.Context, target URL) (VoiceSession, error) {
	return nil, fmt.Errorf("dial %s: %w", target.String(), ErrVoiceTransportUnavailable)
}
