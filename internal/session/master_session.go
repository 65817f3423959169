package session

import (
	"context"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/trombik/varnish-agent/internal/codec"
	"github.com/trombik/varnish-agent/internal/daemonclient"
	"github.com/trombik/varnish-agent/internal/store"
)

// MasterSession drives the daemon's call-in connection: a strictly
// sequential replay of the persisted parameter list and VCL, followed by a
// quiet read loop that keeps the connection alive (spec §4.6). The daemon
// greeting/auth handshake is assumed already done (daemonclient.Handshake).
type MasterSession struct {
	ID            uuid.UUID
	Daemon        *daemonclient.Client
	Authenticated bool
	ParamsIO      *store.ParamStore
	VCL           *store.VCLStore
	Log           *logrus.Entry
}

// NewMasterSession wires a session with a fresh correlation ID.
func NewMasterSession(daemon *daemonclient.Client, authenticated bool, paramsIO *store.ParamStore, vcl *store.VCLStore, log *logrus.Logger) *MasterSession {
	id := uuid.New()
	return &MasterSession{
		ID:            id,
		Daemon:        daemon,
		Authenticated: authenticated,
		ParamsIO:      paramsIO,
		VCL:           vcl,
		Log:           log.WithField("session", id.String()),
	}
}

// Run replays persisted state and then holds the connection open, reading
// and logging whatever the daemon sends, until the connection ends or ctx
// is cancelled.
func (s *MasterSession) Run(ctx context.Context) {
	defer s.Daemon.Close()

	s.replayParams()
	s.replayVCL()
	s.quietReadLoop(ctx)
}

func (s *MasterSession) sendSync(name string, args []string, heredoc *string) (*codec.Response, error) {
	if err := s.Daemon.SendCommand(name, args, heredoc); err != nil {
		return nil, err
	}
	return s.Daemon.ReadSyncResponse()
}

// replayParams replays every persisted (name, value) pair in order. A
// failure on one entry is logged and replay continues with the next; the
// session is never aborted over an individual param.set (spec §4.6 step 2).
func (s *MasterSession) replayParams() {
	if s.ParamsIO == nil {
		return
	}

	list, err := s.ParamsIO.Load()
	if err != nil {
		s.Log.WithError(err).Warn("failed to load parameter file for replay")
		return
	}

	for _, p := range list.All() {
		entryLog := s.Log.WithField("param", p.Name)

		resp, err := s.sendSync("param.set", []string{p.Name, p.Value}, nil)
		if err != nil {
			entryLog.WithError(err).Warn("param.set replay failed")
			continue
		}
		if resp.Status != codec.OK {
			entryLog.WithField("status", resp.Status).Warn("param.set replay rejected")
			continue
		}
		entryLog.Debug("param.set replayed")
	}
}

// replayVCL sends the persisted VCL body as vcl.inline/vcl.use/start, in
// that order, each step gated on the previous one's success (spec §4.6 step
// 3). Any failure in the block is logged; it does not terminate the
// session.
func (s *MasterSession) replayVCL() {
	if s.VCL == nil {
		return
	}

	body, err := s.VCL.Load()
	if err != nil {
		s.Log.WithError(err).Warn("failed to load VCL file for replay")
		return
	}
	if body == "" {
		return
	}

	name := store.SHA1Hex(body)
	vclLog := s.Log.WithField("vcl", name)

	resp, err := s.sendSync("vcl.inline", []string{name}, &body)
	if err != nil {
		vclLog.WithError(err).Warn("vcl.inline replay failed")
		return
	}
	if resp.Status != codec.OK {
		vclLog.WithField("status", resp.Status).Warn("vcl.inline replay rejected")
		return
	}

	resp, err = s.sendSync("vcl.use", []string{name}, nil)
	if err != nil {
		vclLog.WithError(err).Warn("vcl.use replay failed")
		return
	}
	if resp.Status != codec.OK {
		vclLog.WithField("status", resp.Status).Warn("vcl.use replay rejected")
		return
	}

	resp, err = s.sendSync("start", nil, nil)
	if err != nil {
		vclLog.WithError(err).Warn("start replay failed")
		return
	}
	if resp.Status != codec.OK {
		vclLog.WithField("status", resp.Status).Warn("start replay rejected")
	}
}

// quietReadLoop reads and logs whatever the daemon sends until the
// connection ends or is cancelled. It reads with Client.ReadResponse, not
// ReadSyncResponse: real daemons do not push a line on any fixed schedule,
// so this loop's whole purpose — keeping the connection open so the daemon
// does not exit (spec §4.6 step 4) — would be defeated by the short
// synchronous round-trip deadline sendSync uses above.
func (s *MasterSession) quietReadLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			s.Log.Debug("master session cancelled")
			return
		default:
		}

		resp, err := s.Daemon.ReadResponse()
		if err != nil {
			s.Log.WithError(err).Debug("master session ended")
			return
		}
		s.Log.WithField("status", resp.Status).Debug(string(resp.Body))
	}
}
