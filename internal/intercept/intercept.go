// Copyright (c) 2016,2017 Intel Corporation
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

// Package intercept implements the table-driven dispatch over recognized
// command names: it mutates or synthesizes responses and updates the
// Persisted State Store on the client→daemon direction of a session.
package intercept

import (
	"github.com/sirupsen/logrus"
	"github.com/trombik/varnish-agent/internal/codec"
	"github.com/trombik/varnish-agent/internal/daemonclient"
	"github.com/trombik/varnish-agent/internal/statsproc"
	"github.com/trombik/varnish-agent/internal/store"
)

// SessionState is the subset of a Client Session's state the Interceptor
// can observe and mutate. It mirrors spec §3's Session Context.
type SessionState struct {
	Authenticated bool
}

// Table is a table-driven dispatch over recognized command names,
// consulted by exact match on the first token of a parsed line. Commands
// with no entry follow the default path: forward, read one response,
// return it.
type Table struct {
	handlers map[string]Handler

	Daemon   *daemonclient.Client
	Params   *store.ParamList
	ParamsIO *store.ParamStore
	VCL      *store.VCLStore

	Secret []byte
	Stats  *statsproc.Runner

	// Log receives warnings for failures that do not abort the command
	// they arose from, notably Persisted State Store write failures (spec
	// §7: "On write, logged; in-memory state stands").
	Log *logrus.Entry

	// ResponseSource, when set, is consulted instead of
	// Daemon.ReadSyncResponse for every forwarded command's response. A Client Session sets this to
	// pull from its single daemon-reader goroutine's channel instead of
	// reading the connection directly, so there is exactly one reader of
	// the daemon connection at any time (see internal/session).
	ResponseSource func() (*codec.Response, error)
}

// Handler intercepts one command. It receives the session state (which it
// may mutate, e.g. setting Authenticated) and the parsed command, and
// returns the response to send to the console.
type Handler func(t *Table, state *SessionState, cmd *codec.Command) (*codec.Response, error)

// NewTable builds the default dispatch table described in spec §4.4.
func NewTable(daemon *daemonclient.Client, params *store.ParamList, paramsIO *store.ParamStore,
	vcl *store.VCLStore, secret []byte, stats *statsproc.Runner, log *logrus.Entry) *Table {

	t := &Table{
		handlers: make(map[string]Handler),
		Daemon:   daemon,
		Params:   params,
		ParamsIO: paramsIO,
		VCL:      vcl,
		Secret:   secret,
		Stats:    stats,
		Log:      log,
	}

	t.handlers["auth"] = handleAuth
	t.handlers["vcl.use"] = handleVCLUse
	t.handlers["param.set"] = handleParamSet
	t.handlers["agent.stat"] = handleAgentStat

	return t
}

// Dispatch runs cmd through the table: a recognized command name is
// handled by its registered Handler; anything else takes the default path
// (forward verbatim, return the daemon's response unmodified).
func (t *Table) Dispatch(state *SessionState, cmd *codec.Command) (*codec.Response, error) {
	if h, ok := t.handlers[cmd.Name]; ok {
		return h(t, state, cmd)
	}
	return t.forward(cmd)
}

// forward sends cmd to the daemon verbatim and returns its response.
func (t *Table) forward(cmd *codec.Command) (*codec.Response, error) {
	var heredoc *string
	args := cmd.Args
	if cmd.HeredocPresent && len(args) > 0 {
		body := args[len(args)-1]
		heredoc = &body
		args = args[:len(args)-1]
	}

	if err := t.Daemon.SendCommand(cmd.Name, args, heredoc); err != nil {
		return nil, err
	}

	if t.ResponseSource != nil {
		return t.ResponseSource()
	}
	return t.Daemon.ReadSyncResponse()
}

func handleAuth(t *Table, state *SessionState, cmd *codec.Command) (*codec.Response, error) {
	resp, err := t.forward(cmd)
	if err != nil {
		return nil, err
	}
	if resp.Status == codec.OK {
		state.Authenticated = true
	}
	return resp, nil
}

// handleVCLUse implements spec §4.4's vcl.use interception: if a name is
// present, a vcl.show is issued first and its body persisted only if both
// the vcl.show and the original vcl.use come back OK. This preserves the
// daemon-state/file-divergence possibility the spec calls out as an open
// question: if vcl.show fails but vcl.use succeeds, the file is not
// updated even though the daemon's active VCL changed.
func handleVCLUse(t *Table, state *SessionState, cmd *codec.Command) (*codec.Response, error) {
	if len(cmd.Args) == 0 {
		return t.forward(cmd)
	}
	name := cmd.Args[0]

	showResp, err := t.forward(&codec.Command{Name: "vcl.show", Args: []string{name}})
	if err != nil {
		return nil, err
	}

	useResp, err := t.forward(cmd)
	if err != nil {
		return nil, err
	}

	if showResp.Status == codec.OK && useResp.Status == codec.OK {
		if t.VCL != nil {
			if err := t.VCL.Save(string(showResp.Body)); err != nil && t.Log != nil {
				t.Log.WithError(err).WithField("vcl", name).Error("failed to persist VCL file")
			}
		}
	}

	return useResp, nil
}

func handleParamSet(t *Table, state *SessionState, cmd *codec.Command) (*codec.Response, error) {
	resp, err := t.forward(cmd)
	if err != nil {
		return nil, err
	}

	if resp.Status == codec.OK && len(cmd.Args) >= 2 && t.Params != nil {
		t.Params.Add(cmd.Args[0], cmd.Args[1])
		if t.ParamsIO != nil {
			if err := t.ParamsIO.Save(t.Params); err != nil && t.Log != nil {
				t.Log.WithError(err).WithField("param", cmd.Args[0]).Error("failed to persist parameter file")
			}
		}
	}

	return resp, nil
}

func handleAgentStat(t *Table, state *SessionState, cmd *codec.Command) (*codec.Response, error) {
	if len(t.Secret) > 0 && !state.Authenticated {
		return &codec.Response{Status: codec.Cant, Body: []byte("Not an authenticated connection")}, nil
	}

	out, err := t.Stats.Run()
	if err != nil {
		return &codec.Response{Status: codec.Cant, Body: []byte(err.Error())}, nil
	}

	return &codec.Response{Status: codec.OK, Body: out}, nil
}
