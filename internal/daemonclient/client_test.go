package daemonclient

import (
	"bufio"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/trombik/varnish-agent/internal/codec"
)

// fakeDaemon serves canned responses over one end of a net.Pipe, returning
// the other end for the Client under test.
func fakeDaemon(t *testing.T, serve func(r *bufio.Reader, w *bufio.Writer)) net.Conn {
	t.Helper()
	clientConn, daemonConn := net.Pipe()

	go func() {
		r := bufio.NewReader(daemonConn)
		w := bufio.NewWriter(daemonConn)
		serve(r, w)
		daemonConn.Close()
	}()

	return clientConn
}

func TestHandshakeNoAuthRequired(t *testing.T) {
	a := assert.New(t)

	conn := fakeDaemon(t, func(r *bufio.Reader, w *bufio.Writer) {
		_ = codec.EncodeResponse(w, codec.OK, []byte("-----------------------------"))
	})

	c, greeting, err := Handshake(conn, Options{})
	a.Nil(err)
	a.NotNil(c)
	a.Equal(codec.OK, greeting.Status)
}

func TestHandshakeWithAuth(t *testing.T) {
	a := assert.New(t)

	conn := fakeDaemon(t, func(r *bufio.Reader, w *bufio.Writer) {
		_ = codec.EncodeResponse(w, codec.Auth, []byte("deadbeef00112233"))

		cmd, err := codec.ReadCommand(r, false)
		if err != nil || cmd.Name != "auth" {
			_ = codec.EncodeResponse(w, codec.Cant, []byte("bad auth"))
			return
		}
		_ = codec.EncodeResponse(w, codec.OK, []byte(""))
	})

	c, resp, err := Handshake(conn, Options{Secret: []byte("s3cr3t")})
	a.Nil(err)
	a.NotNil(c)
	a.Equal(codec.OK, resp.Status)
}

func TestHandshakeAuthRequiredButNoSecret(t *testing.T) {
	a := assert.New(t)

	conn := fakeDaemon(t, func(r *bufio.Reader, w *bufio.Writer) {
		_ = codec.EncodeResponse(w, codec.Auth, []byte("deadbeef"))
	})

	_, _, err := Handshake(conn, Options{})
	a.NotNil(err)
}

func TestHandshakeRejectedAuth(t *testing.T) {
	a := assert.New(t)

	conn := fakeDaemon(t, func(r *bufio.Reader, w *bufio.Writer) {
		_ = codec.EncodeResponse(w, codec.Auth, []byte("deadbeef"))
		_, _ = codec.ReadCommand(r, false)
		_ = codec.EncodeResponse(w, codec.Auth, []byte("deadbeef"))
	})

	_, _, err := Handshake(conn, Options{Secret: []byte("wrong")})
	a.NotNil(err)
}

func TestSendAndReceive(t *testing.T) {
	a := assert.New(t)

	conn := fakeDaemon(t, func(r *bufio.Reader, w *bufio.Writer) {
		_ = codec.EncodeResponse(w, codec.OK, []byte(""))
		cmd, err := codec.ReadCommand(r, false)
		a.Nil(err)
		a.Equal("ping", cmd.Name)
		_ = codec.EncodeResponse(w, codec.OK, []byte("pong"))
	})

	c, _, err := Handshake(conn, Options{})
	a.Nil(err)

	a.Nil(c.SendCommand("ping", nil, nil))
	resp, err := c.ReadResponse()
	a.Nil(err)
	a.Equal("pong", string(resp.Body))
}
