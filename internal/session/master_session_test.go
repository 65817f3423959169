package session

import (
	"bufio"
	"context"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/trombik/varnish-agent/internal/codec"
	"github.com/trombik/varnish-agent/internal/daemonclient"
	"github.com/trombik/varnish-agent/internal/store"
)

func TestMasterSessionReplaysParamsAndVCLThenStart(t *testing.T) {
	a := assert.New(t)

	dir := t.TempDir()

	paramsIO := store.NewParamStore(filepath.Join(dir, "params"))
	list := store.NewParamList()
	list.Add("thread_pool_min", "5")
	list.Add("thread_pool_max", "10")
	a.Nil(paramsIO.Save(list))

	vcl := store.NewVCLStore(filepath.Join(dir, "vcl"))
	body := "vcl 4.0;\nbackend b {}\n"
	a.Nil(vcl.Save(body))

	daemonSide, gatewayDaemon := net.Pipe()
	client := daemonclient.NewFromConn(gatewayDaemon, 2*time.Second)

	logger, _ := test.NewNullLogger()
	sess := NewMasterSession(client, true, paramsIO, vcl, logger)

	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		sess.Run(ctx)
		close(done)
	}()

	r := bufio.NewReader(daemonSide)
	w := bufio.NewWriter(daemonSide)

	expectedParams := []struct {
		name  string
		value string
	}{
		{"thread_pool_min", "5"},
		{"thread_pool_max", "10"},
	}
	for _, want := range expectedParams {
		cmd, err := codec.ReadCommand(r, true)
		a.Nil(err)
		a.Equal("param.set", cmd.Name)
		a.Equal([]string{want.name, want.value}, cmd.Args)
		a.Nil(codec.EncodeResponse(w, codec.OK, []byte("")))
	}

	name := store.SHA1Hex(body)

	cmd, err := codec.ReadCommand(r, true)
	a.Nil(err)
	a.Equal("vcl.inline", cmd.Name)
	a.True(cmd.HeredocPresent)
	a.Equal(name, cmd.Args[0])
	a.Equal(body, cmd.Args[len(cmd.Args)-1])
	a.Nil(codec.EncodeResponse(w, codec.OK, []byte("")))

	cmd, err = codec.ReadCommand(r, true)
	a.Nil(err)
	a.Equal("vcl.use", cmd.Name)
	a.Equal([]string{name}, cmd.Args)
	a.Nil(codec.EncodeResponse(w, codec.OK, []byte("")))

	cmd, err = codec.ReadCommand(r, true)
	a.Nil(err)
	a.Equal("start", cmd.Name)
	a.Nil(codec.EncodeResponse(w, codec.OK, []byte("")))

	cancel()
	a.Nil(daemonSide.Close())

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("master session did not terminate")
	}
}

func TestMasterSessionContinuesPastFailedParam(t *testing.T) {
	a := assert.New(t)

	dir := t.TempDir()
	paramsIO := store.NewParamStore(filepath.Join(dir, "params"))
	list := store.NewParamList()
	list.Add("bogus_param", "x")
	list.Add("thread_pool_min", "5")
	a.Nil(paramsIO.Save(list))

	vcl := store.NewVCLStore(filepath.Join(dir, "vcl"))

	daemonSide, gatewayDaemon := net.Pipe()
	client := daemonclient.NewFromConn(gatewayDaemon, 2*time.Second)

	logger, _ := test.NewNullLogger()
	sess := NewMasterSession(client, true, paramsIO, vcl, logger)

	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		sess.Run(ctx)
		close(done)
	}()

	r := bufio.NewReader(daemonSide)
	w := bufio.NewWriter(daemonSide)

	cmd, err := codec.ReadCommand(r, true)
	a.Nil(err)
	a.Equal([]string{"bogus_param", "x"}, cmd.Args)
	a.Nil(codec.EncodeResponse(w, codec.Param, []byte("no such parameter")))

	cmd, err = codec.ReadCommand(r, true)
	a.Nil(err)
	a.Equal([]string{"thread_pool_min", "5"}, cmd.Args)
	a.Nil(codec.EncodeResponse(w, codec.OK, []byte("")))

	cancel()
	a.Nil(daemonSide.Close())

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("master session did not terminate")
	}
}
