package main

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/mitchellh/cli"
	"github.com/stretchr/testify/require"
)

func TestSettingsMigrateCommand_OnlyWritesKeysWithMatchingEnvVar(t *testing.T) {
	t.Setenv("VLOG_HLS_SEGMENT_DURATION", "8")

	var putCount int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/api/admin/settings":
			_, _ = w.Write([]byte(`[
				{"key":"transcoding.hls_segment_duration","type":"int","value":"4","category":"transcoding"},
				{"key":"transcoding.max_retries","type":"int","value":"3","category":"transcoding"}
			]`))
		case r.Method == http.MethodPut:
			putCount++
			require.Equal(t, "/api/admin/settings/transcoding.hls_segment_duration", r.URL.Path)
			w.WriteHeader(http.StatusOK)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	ui := cli.NewMockUi()
	cmd := &SettingsMigrateCommand{ui: ui, client: newClient(srv.URL, "secret")}
	code := cmd.Run(nil)
	require.Equal(t, 0, code)
	require.Equal(t, 1, putCount)
}

func TestSettingsMigrateCommand_DryRunWritesNothing(t *testing.T) {
	t.Setenv("VLOG_HLS_SEGMENT_DURATION", "8")

	var putCount int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPut {
			putCount++
		}
		_, _ = w.Write([]byte(`[{"key":"transcoding.hls_segment_duration","type":"int","value":"4","category":"transcoding"}]`))
	}))
	defer srv.Close()

	ui := cli.NewMockUi()
	cmd := &SettingsMigrateCommand{ui: ui, client: newClient(srv.URL, "secret")}
	code := cmd.Run([]string{"-dry-run"})
	require.Equal(t, 0, code)
	require.Equal(t, 0, putCount)
}

func TestSettingsSetCommand_RequiresKeyAndValue(t *testing.T) {
	ui := cli.NewMockUi()
	cmd := &SettingsSetCommand{ui: ui, client: newClient("http://127.0.0.1:1", "secret")}
	code := cmd.Run([]string{"only-one-arg"})
	require.Equal(t, 2, code)
}
