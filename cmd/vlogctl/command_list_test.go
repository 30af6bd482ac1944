package main

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/mitchellh/cli"
	"github.com/stretchr/testify/require"
)

func TestListCommand_PrintsOneLinePerVideo(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[{"id":"v1","slug":"my-video","status":"ready","streaming_format":"hls_ts","primary_codec":"h264"}]`))
	}))
	defer srv.Close()

	ui := cli.NewMockUi()
	cmd := &ListCommand{ui: ui, client: newClient(srv.URL, "secret")}
	code := cmd.Run(nil)
	require.Equal(t, 0, code)
	require.Contains(t, ui.OutputWriter.String(), "my-video")
}

func TestDeleteCommand_RequiresExactlyOneArg(t *testing.T) {
	ui := cli.NewMockUi()
	cmd := &DeleteCommand{ui: ui, client: newClient("http://127.0.0.1:1", "secret")}
	code := cmd.Run(nil)
	require.Equal(t, 2, code)
}

func TestDeleteCommand_TransportErrorExitsOne(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	ui := cli.NewMockUi()
	cmd := &DeleteCommand{ui: ui, client: newClient(srv.URL, "secret")}
	code := cmd.Run([]string{"v1"})
	require.Equal(t, 1, code)
}
