package teamspeak

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseURL_FullURL(t *testing.T) {
	u, err := ParseURL("ts://voice.example.com:9988/Lobby/Music?name=Restreamer&locale=en")
	require.NoError(t, err)
	assert.Equal(t, "voice.example.com", u.Host)
	assert.Equal(t, 9988, u.Port)
	assert.Equal(t, "Lobby/Music", u.Channel)
	assert.Equal(t, "Restreamer", u.DisplayName)
	assert.Equal(t, "en", u.Locale)
}

func TestParseURL_DefaultPort(t *testing.T) {
	u, err := ParseURL("ts://voice.example.com/Lobby")
	require.NoError(t, err)
	assert.Equal(t, DefaultPort, u.Port)
}

func TestParseURL_WrongScheme(t *testing.T) {
	_, err := ParseURL("rtmp://voice.example.com/Lobby")
	assert.Error(t, err)
}

func TestParseURL_MissingHost(t *testing.T) {
	_, err := ParseURL("ts:///Lobby")
	assert.Error(t, err)
}

func TestParseURL_InvalidPort(t *testing.T) {
	_, err := ParseURL("ts://voice.example.com:notaport/Lobby")
	assert.Error(t, err)
}

func TestURL_String_RendersCanonicalURL(t *testing.T) {
	u := URL{Host: "voice.example.com", Port: 9987, Channel: "Lobby", DisplayName: "Bot"}
	assert.Contains(t, u.String(), "ts://voice.example.com:9987/Lobby")
	assert.Contains(t, u.String(), "name=Bot")
}
