package zmqctl

import (
	"context"
	"testing"
	"time"

	"github.com/go-zeromq/zmq4"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// startEchoServer binds a REP socket that replies "ok" to every request
// it receives, recording the received command strings.
func startEchoServer(t *testing.T, ctx context.Context) (addr string, received <-chan string) {
	t.Helper()
	sock := zmq4.NewRep(ctx)
	require.NoError(t, sock.Listen("tcp://127.0.0.1:0"))
	t.Cleanup(func() { _ = sock.Close() })

	ch := make(chan string, 16)
	go func() {
		for {
			msg, err := sock.Recv()
			if err != nil {
				return
			}
			ch <- string(msg.Bytes())
			if err := sock.Send(zmq4.NewMsgString("ok")); err != nil {
				return
			}
		}
	}()

	return sock.Addr().String(), ch
}

func TestClient_SetVolume_SendsCorrectCommand(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	addr, received := startEchoServer(t, ctx)
	client := NewClient("tcp://"+addr, zerolog.Nop())

	require.NoError(t, client.SetVolume(ctx, "orig", 0.8))

	select {
	case cmd := <-received:
		assert.Contains(t, cmd, "volume@orig volume 0.800")
	case <-time.After(2 * time.Second):
		t.Fatal("server did not receive a command")
	}
}

func TestClient_SetDelay_SendsCorrectCommand(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	addr, received := startEchoServer(t, ctx)
	client := NewClient("tcp://"+addr, zerolog.Nop())

	require.NoError(t, client.SetDelay(ctx, 150))

	select {
	case cmd := <-received:
		assert.Equal(t, "adelay@mix reinit delays=150|all=1\n", cmd)
	case <-time.After(2 * time.Second):
		t.Fatal("server did not receive a command")
	}
}

func TestClient_Send_FailsAfterRetriesWithNoServer(t *testing.T) {
	client := NewClient("tcp://127.0.0.1:1", zerolog.Nop())

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	err := client.SetVolume(ctx, "orig", 1.0)
	assert.Error(t, err)
}

func TestCommandName(t *testing.T) {
	assert.Equal(t, "volume@orig", commandName("volume@orig volume 1.000"))
	assert.Equal(t, "adelay@mix", commandName("adelay@mix reinit delays=10|all=1"))
}
