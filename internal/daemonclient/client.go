// Copyright (c) 2016 Intel Corporation
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package daemonclient opens and speaks the administration protocol toward
// the cache daemon: the connect + greeting + optional challenge/response
// authentication handshake, and the send/receive surface the two session
// kinds build on.
package daemonclient

import (
	"bufio"
	"crypto/sha256"
	"crypto/tls"
	"encoding/hex"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/trombik/varnish-agent/internal/codec"
)

// defaultReadTimeout bounds a synchronous request/response round trip (spec
// §5, "on the order of one second") so an unresponsive daemon cannot wedge a
// session worker indefinitely.
const defaultReadTimeout = time.Second

// idleReadTimeout bounds a read made by a loop that is waiting for whatever
// the daemon sends next with no request of its own outstanding: an
// unsolicited Client Session frame, or the Master Session's keepalive
// listen. It is orders of magnitude longer than defaultReadTimeout on
// purpose — real daemons do not push data on a fixed schedule, so a short
// deadline here would tear down a session that is merely idle between
// commands. It still bounds the read so a half-open connection is
// eventually noticed rather than held forever.
const idleReadTimeout = 15 * time.Minute

// Client is a connection to the cache daemon's administration port, past
// the initial greeting/authentication handshake.
type Client struct {
	conn        net.Conn
	r           *bufio.Reader
	w           *bufio.Writer
	readTimeout time.Duration
}

// Options configures Dial.
type Options struct {
	// Secret is consumed only to answer an AUTH challenge; nil if no
	// secret is configured.
	Secret []byte

	// TLSConfig, when non-nil, is used to dial with TLS instead of plain
	// TCP (spec §6, "TLS CA file").
	TLSConfig *tls.Config

	// ReadTimeout overrides defaultReadTimeout when non-zero.
	ReadTimeout time.Duration
}

// Dial connects to addr, reads the daemon's greeting, performs the
// challenge/response handshake if the daemon requests it, and returns a
// ready-to-use Client along with the daemon's greeting, or, when a challenge
// was answered, the daemon's reply to the auth command.
func Dial(addr string, opts Options) (*Client, *codec.Response, error) {
	var conn net.Conn
	var err error

	if opts.TLSConfig != nil {
		conn, err = tls.Dial("tcp", addr, opts.TLSConfig)
	} else {
		conn, err = net.Dial("tcp", addr)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("couldn't connect to daemon at %s: %v", addr, err)
	}

	return Handshake(conn, opts)
}

// NewFromConn wraps an already-established connection without performing
// the greeting/handshake, for callers (tests, or a supervisor that already
// validated the connection) that want to drive it manually.
func NewFromConn(conn net.Conn, readTimeout time.Duration) *Client {
	if readTimeout == 0 {
		readTimeout = defaultReadTimeout
	}
	return &Client{
		conn:        conn,
		r:           bufio.NewReader(conn),
		w:           bufio.NewWriter(conn),
		readTimeout: readTimeout,
	}
}

// Handshake performs the greeting read and optional challenge/response
// authentication over an already-dialed conn. Dial is Handshake composed
// with net.Dial/tls.Dial.
func Handshake(conn net.Conn, opts Options) (*Client, *codec.Response, error) {
	c := NewFromConn(conn, opts.ReadTimeout)

	greeting, err := c.ReadSyncResponse()
	if err != nil {
		conn.Close()
		return nil, nil, err
	}

	switch greeting.Status {
	case codec.OK:
		return c, greeting, nil

	case codec.Auth:
		authResp, err := c.authenticate(greeting, opts.Secret)
		if err != nil {
			conn.Close()
			return nil, nil, err
		}
		return c, authResp, nil

	default:
		conn.Close()
		return nil, nil, fmt.Errorf("daemon greeted with unexpected status %s", greeting.Status)
	}
}

// authenticate computes SHA256_HEX(challenge + "\n" + secret + challenge +
// "\n") from the first line of the greeting body and sends it as an auth
// command, per spec §4.2.
func (c *Client) authenticate(greeting *codec.Response, secret []byte) (*codec.Response, error) {
	if secret == nil {
		return nil, fmt.Errorf("daemon requires authentication but no secret is configured")
	}

	challenge := firstLine(string(greeting.Body))

	h := sha256.New()
	h.Write([]byte(challenge))
	h.Write([]byte("\n"))
	h.Write(secret)
	h.Write([]byte(challenge))
	h.Write([]byte("\n"))
	digest := hex.EncodeToString(h.Sum(nil))

	if err := c.SendCommand("auth", []string{digest}, nil); err != nil {
		return nil, err
	}

	resp, err := c.ReadSyncResponse()
	if err != nil {
		return nil, err
	}
	if resp.Status != codec.OK {
		return nil, fmt.Errorf("daemon rejected authentication: status %s", resp.Status)
	}

	return resp, nil
}

func firstLine(body string) string {
	if idx := strings.IndexByte(body, '\n'); idx >= 0 {
		return body[:idx]
	}
	return body
}

// SendCommand writes one request line toward the daemon, optionally with a
// here-document body.
func (c *Client) SendCommand(name string, args []string, heredoc *string) error {
	return codec.WriteCommand(c.w, name, args, heredoc)
}

// ReadResponse reads one response frame from the daemon for a caller that
// has nothing of its own outstanding and is simply listening for whatever
// arrives next (an unsolicited Client Session frame, or the Master
// Session's keepalive loop). It is bounded by idleReadTimeout, not the
// configured synchronous read timeout, so a session sitting idle between
// commands is never torn down on that account. Use ReadSyncResponse for a
// request/response round trip.
func (c *Client) ReadResponse() (*codec.Response, error) {
	return c.readResponse(idleReadTimeout)
}

// ReadSyncResponse reads the response to a command this Client just sent,
// bounded by the configured read timeout (defaultReadTimeout unless
// Options.ReadTimeout overrode it), so an unresponsive daemon cannot wedge
// the caller indefinitely.
func (c *Client) ReadSyncResponse() (*codec.Response, error) {
	return c.readResponse(c.readTimeout)
}

// SyncTimeout returns the deadline ReadSyncResponse applies, so a caller
// that cannot call ReadSyncResponse directly (e.g. a Client Session
// awaiting a forwarded command's response via a separate reader goroutine)
// can bound its own wait the same way.
func (c *Client) SyncTimeout() time.Duration {
	return c.readTimeout
}

func (c *Client) readResponse(timeout time.Duration) (*codec.Response, error) {
	if timeout > 0 {
		_ = c.conn.SetReadDeadline(time.Now().Add(timeout))
	}
	resp, err := codec.DecodeResponse(c.r)
	if timeout > 0 {
		_ = c.conn.SetReadDeadline(time.Time{})
	}
	return resp, err
}

// Conn returns the underlying connection, for readiness multiplexing by a
// session driver.
func (c *Client) Conn() net.Conn {
	return c.conn
}

// Close closes the connection to the daemon.
func (c *Client) Close() error {
	return c.conn.Close()
}
