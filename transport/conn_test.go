package transport

import (
	"context"
	"crypto/rand"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opd-ai/lnpeer/crypto"
	"github.com/opd-ai/lnpeer/noise"
)

// sessionPair runs an in-memory handshake and returns the initiator and
// responder sessions.
func sessionPair(t *testing.T) (*noise.Session, *noise.Session) {
	t.Helper()
	a, err := crypto.GenerateKeyPair(rand.Reader)
	require.NoError(t, err)
	b, err := crypto.GenerateKeyPair(rand.Reader)
	require.NoError(t, err)

	initiator, err := noise.NewMachine(noise.Initiator, a, b.Public)
	require.NoError(t, err)
	responder, err := noise.NewMachine(noise.Responder, b, nil)
	require.NoError(t, err)

	one, err := initiator.Step(nil)
	require.NoError(t, err)
	two, err := responder.Step(one)
	require.NoError(t, err)
	three, err := initiator.Step(two)
	require.NoError(t, err)
	_, err = responder.Step(three)
	require.NoError(t, err)

	is, err := initiator.Session()
	require.NoError(t, err)
	rs, err := responder.Session()
	require.NoError(t, err)
	return is, rs
}

func TestRawActsOverPipe(t *testing.T) {
	left, right := net.Pipe()
	a, b := NewConn(left), NewConn(right)
	defer a.Close()
	defer b.Close()

	act := make([]byte, noise.ActOneSize)
	act[1] = 0x02
	go func() { _ = a.WriteRaw(act) }()

	got, err := b.ReadAct(noise.ActOneSize)
	require.NoError(t, err)
	assert.Equal(t, act, got)

	_, err = b.ReadMessage()
	assert.ErrorIs(t, err, ErrNotKeyed)
	assert.ErrorIs(t, b.WriteMessage([]byte{0, 1}), ErrNotKeyed)
}

func TestEncryptedMessagesOverPipe(t *testing.T) {
	is, rs := sessionPair(t)
	left, right := net.Pipe()
	a, b := NewConn(left), NewConn(right)
	defer a.Close()
	defer b.Close()

	require.NoError(t, a.SetSession(is))
	require.NoError(t, b.SetSession(rs))
	assert.True(t, a.Keyed())
	assert.ErrorIs(t, a.SetSession(is), ErrAlreadyKeyed)
	assert.ErrorIs(t, a.WriteRaw([]byte{0}), ErrAlreadyKeyed)

	msgs := [][]byte{{0x00, 0x12, 0x00, 0x00, 0x00, 0x00}, make([]byte, 65535), {0x00, 0x13, 0x00, 0x00}}
	errc := make(chan error, 1)
	go func() {
		for _, m := range msgs {
			if err := a.WriteMessage(m); err != nil {
				errc <- err
				return
			}
		}
		errc <- nil
	}()

	for _, want := range msgs {
		got, err := b.ReadMessage()
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	require.NoError(t, <-errc)
}

func TestReadMessagePartialReads(t *testing.T) {
	is, rs := sessionPair(t)
	frame, err := is.EncryptFrame([]byte("partial reads are reassembled"))
	require.NoError(t, err)

	c := NewConn(newPartialReadConn(frame, 3))
	require.NoError(t, c.SetSession(rs))

	got, err := c.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, []byte("partial reads are reassembled"), got)

	_, err = c.ReadMessage()
	assert.ErrorIs(t, err, io.EOF)
}

func TestReadMessageTamperedFrame(t *testing.T) {
	is, rs := sessionPair(t)
	frame, err := is.EncryptFrame([]byte{0x00, 0x12})
	require.NoError(t, err)
	frame[len(frame)-1] ^= 0x01

	c := NewConn(newPartialReadConn(frame, 64))
	require.NoError(t, c.SetSession(rs))
	_, err = c.ReadMessage()
	assert.ErrorIs(t, err, noise.ErrMessageAuthFailed)
}

func TestListenAndDial(t *testing.T) {
	ln, err := Listen("127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	accepted := make(chan *Conn, 1)
	go func() {
		c, err := ln.Accept()
		if err == nil {
			accepted <- c
		}
		close(accepted)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	out, err := Dial(ctx, ln.Addr().String(), time.Second)
	require.NoError(t, err)
	defer out.Close()

	in, ok := <-accepted
	require.True(t, ok)
	defer in.Close()

	require.NoError(t, out.WriteRaw([]byte{1, 2, 3}))
	got, err := in.ReadAct(3)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3}, got)
	assert.Equal(t, out.LocalAddr().String(), in.RemoteAddr().String())
}

func TestDialRefused(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	_, err = Dial(context.Background(), addr, time.Second)
	assert.Error(t, err)
}
