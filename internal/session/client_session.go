// Package session implements the two state machines that run on top of a
// connection: the Client Session (console<->daemon relay, spec §4.5) and
// the Master Session (daemon call-in replay, spec §4.6).
package session

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/trombik/varnish-agent/internal/codec"
	"github.com/trombik/varnish-agent/internal/daemonclient"
	"github.com/trombik/varnish-agent/internal/intercept"
)

// ClientSession relays one console connection toward the daemon, running
// every client->daemon command through the Interceptor.
type ClientSession struct {
	ID      uuid.UUID
	Console net.Conn
	Daemon  *daemonclient.Client
	Table   *intercept.Table
	Log     *logrus.Entry
}

// NewClientSession wires a session with a fresh correlation ID attached to
// every log line it emits.
func NewClientSession(console net.Conn, daemon *daemonclient.Client, table *intercept.Table, log *logrus.Logger) *ClientSession {
	id := uuid.New()
	return &ClientSession{
		ID:      id,
		Console: console,
		Daemon:  daemon,
		Table:   table,
		Log:     log.WithField("session", id.String()),
	}
}

type daemonFrame struct {
	resp *codec.Response
	err  error
}

type consoleCommand struct {
	cmd *codec.Command
	err error
}

// Run drives the session until console EOF, daemon EOF, a protocol error,
// or ctx cancellation, closing both sockets on return.
//
// After the greeting, exactly one goroutine reads the daemon connection (the
// daemon-reader goroutine started here); the Interceptor's ResponseSource is wired to pull
// forwarded-command responses from the same channel that loop feeds, so a
// response is always consumed by whichever side is expecting it without a
// second concurrent reader on the connection (spec §5's ordering
// guarantees).
func (s *ClientSession) Run(ctx context.Context) {
	defer s.Console.Close()
	defer s.Daemon.Close()

	cr := bufio.NewReader(s.Console)
	cw := bufio.NewWriter(s.Console)

	greeting, err := s.Daemon.ReadSyncResponse()
	if err != nil {
		s.Log.WithError(err).Error("daemon greeting failed")
		return
	}
	if err := codec.EncodeResponse(cw, greeting.Status, greeting.Body); err != nil {
		s.Log.WithError(err).Error("failed to relay daemon greeting to console")
		return
	}

	state := &intercept.SessionState{}

	frames := make(chan daemonFrame)
	go func() {
		for {
			resp, err := s.Daemon.ReadResponse()
			select {
			case frames <- daemonFrame{resp, err}:
			case <-ctx.Done():
				return
			}
			if err != nil {
				return
			}
		}
	}()

	cmds := make(chan consoleCommand)
	// resume is signalled once a command's response has been written, so the
	// next line is parsed with the authentication state that command left.
	resume := make(chan struct{})
	go func() {
		for {
			cmd, err := codec.ReadCommand(cr, state.Authenticated)
			select {
			case cmds <- consoleCommand{cmd, err}:
			case <-ctx.Done():
				return
			}
			if err != nil {
				return
			}
			select {
			case <-resume:
			case <-ctx.Done():
				return
			}
		}
	}()

	// The reader loop above has no deadline tight enough to double as a
	// per-command timeout (it has to stay alive through ordinary idle
	// periods). Bound a forwarded command's wait for its reply here
	// instead, at the daemon's configured synchronous timeout, so an
	// unresponsive daemon still cannot wedge this worker (spec §5).
	s.Table.ResponseSource = func() (*codec.Response, error) {
		select {
		case f := <-frames:
			return f.resp, f.err
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(s.Daemon.SyncTimeout()):
			return nil, fmt.Errorf("timed out waiting for daemon response")
		}
	}

	for {
		select {
		case <-ctx.Done():
			s.Log.Info("session cancelled")
			return

		case ev := <-cmds:
			if ev.err != nil {
				s.Log.WithError(ev.err).Debug("console session ended")
				return
			}

			resp, err := s.Table.Dispatch(state, ev.cmd)
			if err != nil {
				s.Log.WithError(err).Error("daemon communication failed")
				return
			}
			if err := codec.EncodeResponse(cw, resp.Status, resp.Body); err != nil {
				s.Log.WithError(err).Error("failed to write response to console")
				return
			}
			select {
			case resume <- struct{}{}:
			case <-ctx.Done():
				return
			}

		case f := <-frames:
			if f.err != nil {
				s.Log.WithError(f.err).Debug("daemon session ended")
				return
			}
			if err := codec.EncodeResponse(cw, f.resp.Status, f.resp.Body); err != nil {
				s.Log.WithError(err).Error("failed to forward unsolicited daemon frame")
				return
			}
		}
	}
}

func (s *ClientSession) String() string {
	return fmt.Sprintf("client-session[%s]", s.ID)
}
