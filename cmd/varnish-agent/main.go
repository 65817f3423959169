// Command varnish-agent is the administrative-protocol gateway: it relays
// console connections to a cache daemon's admin port, persists selected
// commands, and replays them when the daemon calls back in.
package main

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/trombik/varnish-agent/internal/announce"
	"github.com/trombik/varnish-agent/internal/config"
	"github.com/trombik/varnish-agent/internal/daemonclient"
	"github.com/trombik/varnish-agent/internal/gateway"
	"github.com/trombik/varnish-agent/internal/store"
)

func main() {
	cmd := config.NewRootCommand(run)
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	log := logrus.New()
	if cfg.Debug {
		log.SetLevel(logrus.DebugLevel)
	}

	secret, err := config.LoadSecret(cfg.SecretFile)
	if err != nil {
		return fmt.Errorf("reading secret file: %w", err)
	}

	var tlsConfig *tls.Config
	if cfg.TLSCAFile != "" {
		caPEM, err := os.ReadFile(cfg.TLSCAFile)
		if err != nil {
			return fmt.Errorf("reading TLS CA file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(caPEM) {
			return fmt.Errorf("TLS CA file %s contains no usable certificates", cfg.TLSCAFile)
		}
		tlsConfig = &tls.Config{RootCAs: pool}
	}

	if err := writePIDFile(cfg.PIDFile); err != nil {
		return fmt.Errorf("PID file: %w", err)
	}
	defer os.Remove(cfg.PIDFile)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sup := gateway.New(gateway.Config{
		ConsoleAddr: cfg.ConsoleAddr,
		MasterAddr:  cfg.MasterAddr,
		DaemonAddr:  cfg.DaemonAddr,
		DaemonOptions: daemonclient.Options{
			Secret:    secret,
			TLSConfig: tlsConfig,
		},
		ParamsIO:     store.NewParamStore(cfg.ParamFile),
		VCL:          store.NewVCLStore(cfg.VCLFile),
		Secret:       secret,
		StatsCommand: "varnishstat",
		StatsArgs:    []string{"-1", "-j"},
		Log:          log,
	})

	if cfg.AnnounceURL != "" {
		go announce.Send(ctx, cfg.AnnounceURL, announceParams(cfg, secret), log)
	}

	log.Info("varnish-agent starting")
	err = sup.Run(ctx)
	log.Info("varnish-agent stopped")
	return err
}

func announceParams(cfg *config.Config, secret []byte) announce.Params {
	_, cliPort, _ := net.SplitHostPort(withDefaultHost(cfg.ConsoleAddr))
	_, daemonPort, _ := net.SplitHostPort(cfg.DaemonAddr)

	p := announce.Params{
		Port:    daemonPort,
		CLIPort: cliPort,
		AgentID: cfg.InstanceID,
	}
	if len(secret) > 0 {
		p.Secret = string(secret)
	}
	return p
}

func withDefaultHost(addr string) string {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	if host == "" {
		host = "0.0.0.0"
	}
	return net.JoinHostPort(host, port)
}

func writePIDFile(path string) error {
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("PID file %s already exists; is another instance running?", path)
	}
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())+"\n"), 0o644)
}
