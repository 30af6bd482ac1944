package main

import (
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/mitchellh/cli"
	"github.com/stretchr/testify/require"
)

func TestUploadCommand_StreamsFileAndPrintsIDs(t *testing.T) {
	var uploadedBytes string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		uploadedBytes = string(body)
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"video_id":"v1","job_id":"j1","slug":"my-video"}`))
	}))
	defer srv.Close()

	src := filepath.Join(t.TempDir(), "source.mp4")
	require.NoError(t, os.WriteFile(src, []byte("fake mp4 bytes"), 0o640))

	ui := cli.NewMockUi()
	cmd := &UploadCommand{ui: ui, client: newClient(srv.URL, "secret")}
	code := cmd.Run([]string{"-slug=my-video", "-file=" + src})
	require.Equal(t, 0, code)
	require.Equal(t, "fake mp4 bytes", uploadedBytes)
	require.Contains(t, ui.OutputWriter.String(), "video_id=v1")
}

func TestUploadCommand_RequiresSlugAndFile(t *testing.T) {
	ui := cli.NewMockUi()
	cmd := &UploadCommand{ui: ui, client: newClient("http://127.0.0.1:1", "secret")}
	code := cmd.Run(nil)
	require.Equal(t, 2, code)
}

func TestUploadCommand_MissingFileExitsOne(t *testing.T) {
	ui := cli.NewMockUi()
	cmd := &UploadCommand{ui: ui, client: newClient("http://127.0.0.1:1", "secret")}
	code := cmd.Run([]string{"-slug=my-video", "-file=/nonexistent/path"})
	require.Equal(t, 1, code)
}
