package main

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/mitchellh/cli"
	"github.com/stretchr/testify/require"
)

func TestWorkerRegisterCommand_PrintsIssuedCredentials(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/worker/register", r.URL.Path)
		_, _ = w.Write([]byte(`{"worker_id":"w1","api_key":"k1"}`))
	}))
	defer srv.Close()

	ui := cli.NewMockUi()
	cmd := &WorkerRegisterCommand{ui: ui, client: newClient(srv.URL, "secret")}
	code := cmd.Run([]string{"-name=encoder-1"})
	require.Equal(t, 0, code)
	require.Contains(t, ui.OutputWriter.String(), "worker_id=w1")
	require.Contains(t, ui.OutputWriter.String(), "api_key=k1")
}

func TestWorkerStatusCommand_ReportsNoSuchWorker(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[{"worker_id":"w1","worker_name":"encoder-1","worker_type":"local","status":"idle"}]`))
	}))
	defer srv.Close()

	ui := cli.NewMockUi()
	cmd := &WorkerStatusCommand{ui: ui, client: newClient(srv.URL, "secret")}
	code := cmd.Run([]string{"w2"})
	require.Equal(t, 1, code)
}

func TestWorkerRevokeCommand_RequiresOneArg(t *testing.T) {
	ui := cli.NewMockUi()
	cmd := &WorkerRevokeCommand{ui: ui, client: newClient("http://127.0.0.1:1", "secret")}
	code := cmd.Run(nil)
	require.Equal(t, 2, code)
}
