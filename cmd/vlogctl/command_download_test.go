package main

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/mitchellh/cli"
	"github.com/stretchr/testify/require"
)

func TestDownloadCommand_FetchesPlaylistAndSegments(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/videos/my-video/720p/playlist.m3u8":
			_, _ = w.Write([]byte("#EXTM3U\n#EXTINF:4.0,\nsegment_000001.ts\n"))
		case "/videos/my-video/720p/segment_000001.ts":
			_, _ = w.Write([]byte("segment bytes"))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	out := t.TempDir()
	ui := cli.NewMockUi()
	cmd := &DownloadCommand{ui: ui, client: newClient(srv.URL, "secret")}
	code := cmd.Run([]string{"-slug=my-video", "-quality=720p", "-out=" + out})
	require.Equal(t, 0, code)

	playlist, err := os.ReadFile(filepath.Join(out, "playlist.m3u8"))
	require.NoError(t, err)
	require.Contains(t, string(playlist), "segment_000001.ts")

	segment, err := os.ReadFile(filepath.Join(out, "segment_000001.ts"))
	require.NoError(t, err)
	require.Equal(t, "segment bytes", string(segment))
}

func TestDownloadCommand_RequiresAllFlags(t *testing.T) {
	ui := cli.NewMockUi()
	cmd := &DownloadCommand{ui: ui, client: newClient("http://127.0.0.1:1", "secret")}
	code := cmd.Run([]string{"-slug=my-video"})
	require.Equal(t, 2, code)
}
