package network

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func healthServer(t *testing.T, status int, body string) string {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/health" {
			http.NotFound(w, r)
			return
		}
		w.WriteHeader(status)
		w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return strings.TrimPrefix(srv.URL, "http://")
}

func TestProbe(t *testing.T) {
	ok := healthServer(t, http.StatusOK, `{"status":"ok","clients":2,"steps":5,"running":true}`)
	locked := healthServer(t, http.StatusUnauthorized, "Unauthorized")
	other := healthServer(t, http.StatusOK, `<html></html>`)
	missing := healthServer(t, http.StatusNotFound, "")

	found := Probe(context.Background(), []string{missing, ok, other, locked, "127.0.0.1:1"})
	require.Len(t, found, 2)

	assert.Equal(t, DiscoveredExecutor{Addr: ok, Clients: 2, Steps: 5, Running: true}, found[0])
	assert.Equal(t, DiscoveredExecutor{Addr: locked}, found[1])
	assert.Equal(t, "ws://"+ok+"/ws", found[0].URL())
}

func TestProbeCancelled(t *testing.T) {
	ok := healthServer(t, http.StatusOK, `{"status":"ok"}`)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Empty(t, Probe(ctx, []string{ok}))
}
