// SPDX-License-Identifier: MIT

package teamspeak

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestUnimplementedVoiceDialer_ReturnsSentinelError(t *testing.T) {
	target, err := ParseURL("ts://voice.example:9987/Lobby")
	require.NoError(t, err)

	_, dialErr := UnimplementedVoiceDialer(context.Background(), target)
	require.Error(t, dialErr)
	require.True(t, errors.Is(dialErr, ErrVoiceTransportUnavailable))
}
