package main

import (
	"context"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	// Packages
	schema "github.com/mutablelogic/go-pgqmini/pkg/queue/schema"
	logger "github.com/mutablelogic/go-server/pkg/logger"
	assert "github.com/stretchr/testify/assert"
	require "github.com/stretchr/testify/require"
)

type source struct{}

func (source) Name() string {
	return "emails"
}

func (source) Stats(context.Context) (*schema.QueueStats, error) {
	return &schema.QueueStats{Queue: "emails", Counts: map[schema.Status]uint64{
		schema.StatusPending:    2,
		schema.StatusProcessing: 1,
		schema.StatusCompleted:  0,
	}}, nil
}

// freeAddr returns a local address with a port which is not in use
func freeAddr(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())
	return addr
}

func Test_Server_Metrics(t *testing.T) {
	assert := assert.New(t)
	addr := freeAddr(t)

	globals := new(Globals)
	globals.ctx, globals.cancel = context.WithCancel(context.Background())
	defer globals.cancel()
	globals.log = logger.New(io.Discard, logger.Text, false)

	// Serve until cancelled
	done := make(chan error, 1)
	go func() {
		done <- serveMetrics(globals, addr, TLSFlags{}, source{})
	}()

	// Wait for the server to accept connections
	var resp *http.Response
	var err error
	for i := 0; i < 50; i++ {
		if resp, err = http.Get("http://" + addr + "/metrics"); err == nil {
			break
		}
		time.Sleep(100 * time.Millisecond)
	}
	if assert.NoError(err) {
		defer resp.Body.Close()
		body, err := io.ReadAll(resp.Body)
		assert.NoError(err)
		assert.Equal(http.StatusOK, resp.StatusCode)
		assert.Contains(string(body), `pgqmini_messages{queue="emails",status="PENDING"} 2`)
	}

	// Cancelling the context stops the server without error
	globals.cancel()
	select {
	case err := <-done:
		assert.NoError(err)
	case <-time.After(10 * time.Second):
		assert.Fail("server did not stop")
	}
}

func Test_Server_MetricsTLS(t *testing.T) {
	assert := assert.New(t)

	globals := new(Globals)
	globals.ctx, globals.cancel = context.WithCancel(context.Background())
	defer globals.cancel()
	globals.log = logger.New(io.Discard, logger.Text, false)

	// Missing certificate files are an error
	err := serveMetrics(globals, freeAddr(t), TLSFlags{CertFile: "missing.crt", KeyFile: "missing.key"}, source{})
	assert.Error(err)
}
