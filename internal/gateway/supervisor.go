// Package gateway implements the Listener/Supervisor (spec §4.7): two
// listening endpoints, one worker per accepted connection, and cooperative
// shutdown coordinated with golang.org/x/sync/errgroup.
package gateway

import (
	"context"
	"crypto/tls"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/trombik/varnish-agent/internal/daemonclient"
	"github.com/trombik/varnish-agent/internal/intercept"
	"github.com/trombik/varnish-agent/internal/session"
	"github.com/trombik/varnish-agent/internal/statsproc"
	"github.com/trombik/varnish-agent/internal/store"
	"golang.org/x/sync/errgroup"
)

// defaultShutdownGrace bounds how long the Supervisor waits for in-flight
// workers to finish on their own before returning from Run.
const defaultShutdownGrace = 2 * time.Second

// Config wires a Supervisor to its addresses, the persisted state store,
// and the daemon-facing options every worker dials with.
type Config struct {
	ConsoleAddr string
	MasterAddr  string
	DaemonAddr  string

	DaemonOptions daemonclient.Options

	ParamsIO *store.ParamStore
	VCL      *store.VCLStore

	Secret       []byte
	StatsCommand string
	StatsArgs    []string

	ShutdownGrace time.Duration

	Log *logrus.Logger
}

// Supervisor owns the console and master listeners and the workers spawned
// from them. Workers share no mutable in-memory state with each other or
// with the Supervisor (spec §5) — each gets its own daemon connection and
// its own in-memory parameter list loaded fresh from the Persisted State
// Store.
type Supervisor struct {
	cfg Config
}

// New returns a Supervisor for cfg, filling in ShutdownGrace's default.
func New(cfg Config) *Supervisor {
	if cfg.ShutdownGrace == 0 {
		cfg.ShutdownGrace = defaultShutdownGrace
	}
	return &Supervisor{cfg: cfg}
}

// Run opens both listeners and blocks until ctx is cancelled or a listener
// fails fatally, then cancels every live worker and waits up to
// ShutdownGrace for them to finish before returning.
func (s *Supervisor) Run(ctx context.Context) error {
	consoleLn, err := listen(s.cfg.ConsoleAddr)
	if err != nil {
		return err
	}
	defer consoleLn.Close()

	masterLn, err := listen(s.cfg.MasterAddr)
	if err != nil {
		return err
	}
	defer masterLn.Close()

	s.cfg.Log.WithField("addr", s.cfg.ConsoleAddr).Info("console listener ready")
	s.cfg.Log.WithField("addr", s.cfg.MasterAddr).Info("master listener ready")

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return s.acceptLoop(gctx, consoleLn, s.runClientSession)
	})
	g.Go(func() error {
		return s.acceptLoop(gctx, masterLn, s.runMasterSession)
	})
	g.Go(func() error {
		<-gctx.Done()
		consoleLn.Close()
		masterLn.Close()
		return nil
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, net.ErrClosed) {
		return err
	}
	return nil
}

// acceptLoop accepts connections on ln until it is closed or ctx is done,
// spawning a worker per connection without blocking on it. Children do not
// inherit the listeners: each worker only ever sees the accepted conn.
func (s *Supervisor) acceptLoop(ctx context.Context, ln net.Listener, handle func(context.Context, net.Conn)) error {
	var wg sync.WaitGroup
	defer func() {
		done := make(chan struct{})
		go func() {
			wg.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(s.cfg.ShutdownGrace):
			s.cfg.Log.Warn("shutdown grace period elapsed with workers still running")
		}
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				return err
			}
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			handle(ctx, conn)
		}()
	}
}

func (s *Supervisor) runClientSession(ctx context.Context, conn net.Conn) {
	log := s.cfg.Log

	// No handshake here: ClientSession.Run reads the daemon's greeting itself
	// and relays it (OK or AUTH) to the console unchanged.
	var daemonConn net.Conn
	var err error
	if tlsCfg := s.cfg.DaemonOptions.TLSConfig; tlsCfg != nil {
		daemonConn, err = tls.Dial("tcp", s.cfg.DaemonAddr, tlsCfg)
	} else {
		daemonConn, err = net.Dial("tcp", s.cfg.DaemonAddr)
	}
	if err != nil {
		log.WithError(err).Error("client session: could not connect to daemon")
		conn.Close()
		return
	}
	daemon := daemonclient.NewFromConn(daemonConn, s.cfg.DaemonOptions.ReadTimeout)

	params, err := s.cfg.ParamsIO.Load()
	if err != nil {
		log.WithError(err).Warn("client session: failed to load parameter file, starting empty")
		params = store.NewParamList()
	}

	stats := statsproc.NewRunner(ctx, s.cfg.StatsCommand, s.cfg.StatsArgs)
	table := intercept.NewTable(daemon, params, s.cfg.ParamsIO, s.cfg.VCL, s.cfg.Secret, stats, log.WithField("component", "intercept"))

	sess := session.NewClientSession(conn, daemon, table, log)
	sess.Log.Info("client session started")
	sess.Run(ctx)
	sess.Log.Info("client session ended")
}

func (s *Supervisor) runMasterSession(ctx context.Context, conn net.Conn) {
	log := s.cfg.Log

	client, _, err := daemonclient.Handshake(conn, s.cfg.DaemonOptions)
	if err != nil {
		log.WithError(err).Error("master session: handshake failed")
		conn.Close()
		return
	}

	sess := session.NewMasterSession(client, true, s.cfg.ParamsIO, s.cfg.VCL, log)
	sess.Log.Info("master session started")
	sess.Run(ctx)
	sess.Log.Info("master session ended")
}
