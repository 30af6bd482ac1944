package main

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"vlog/internal/agent"
)

func TestJobExecutorAdapter_DownloadSourceWritesLocalFile(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/worker/source/video-1", r.URL.Path)
		_, _ = w.Write([]byte("fake mp4 bytes"))
	}))
	defer srv.Close()

	client := agent.NewCoordinatorClient(srv.URL, zerolog.Nop())
	a := &jobExecutorAdapter{client: client, tempRoot: t.TempDir(), log: zerolog.Nop()}

	dst := filepath.Join(t.TempDir(), "nested", "source")
	require.NoError(t, a.downloadSource(t.Context(), "video-1", dst))

	data, err := os.ReadFile(dst)
	require.NoError(t, err)
	require.Equal(t, "fake mp4 bytes", string(data))
}

func TestJobExecutorAdapter_DownloadSourcePropagatesHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	client := agent.NewCoordinatorClient(srv.URL, zerolog.Nop())
	a := &jobExecutorAdapter{client: client, tempRoot: t.TempDir(), log: zerolog.Nop()}

	err := a.downloadSource(t.Context(), "video-missing", filepath.Join(t.TempDir(), "source"))
	require.Error(t, err)
}
