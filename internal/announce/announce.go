// Package announce implements the one-shot outbound "call home" HTTP GET
// described in spec §6: fire-and-forget, failures logged and ignored.
package announce

import (
	"context"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/sirupsen/logrus"
)

const requestTimeout = 5 * time.Second

// Params are the query parameters spec §6 names, except ip, which Send
// derives itself from the locally-observed source address of the outbound
// connection to the URL's host.
type Params struct {
	Port    string
	CLIPort string
	AgentID string
	Secret  string
}

// Send fires a single GET to rawURL with Params (plus the locally-observed
// outbound IP) attached as query parameters, logging and swallowing any
// failure. Call it with `go announce.Send(...)` for true fire-and-forget
// semantics at startup.
func Send(ctx context.Context, rawURL string, p Params, log *logrus.Logger) {
	if rawURL == "" {
		return
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		log.WithError(err).Warn("announce: invalid URL, skipping")
		return
	}

	ip, err := localOutboundIP(u.Host)
	if err != nil {
		log.WithError(err).Warn("announce: could not determine local outbound address")
		return
	}

	q := u.Query()
	q.Set("ip", ip)
	q.Set("port", p.Port)
	q.Set("cliPort", p.CLIPort)
	q.Set("agentId", p.AgentID)
	if p.Secret != "" {
		q.Set("secret", p.Secret)
	}
	u.RawQuery = q.Encode()

	reqCtx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, u.String(), nil)
	if err != nil {
		log.WithError(err).Warn("announce: failed to build request")
		return
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		log.WithError(err).Warn("announce: call-home request failed")
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		log.WithField("status", resp.StatusCode).Warn("announce: call-home request rejected")
		return
	}

	log.Debug("announce: call-home request succeeded")
}

// localOutboundIP dials hostport (adding the default HTTP port if hostport
// carries none) to learn which local address the kernel would route
// through, then closes the probe connection immediately; the real request
// goes out over its own connection moments later.
func localOutboundIP(hostport string) (string, error) {
	if _, _, err := net.SplitHostPort(hostport); err != nil {
		hostport = net.JoinHostPort(hostport, "80")
	}

	conn, err := net.Dial("udp", hostport)
	if err != nil {
		return "", err
	}
	defer conn.Close()

	host, _, err := net.SplitHostPort(conn.LocalAddr().String())
	if err != nil {
		return "", err
	}
	return host, nil
}
