package main

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCreateVideo_SendsBodyAndMetadataOnQueryString(t *testing.T) {
	var gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/admin/videos", r.URL.Path)
		require.Equal(t, "my-video", r.URL.Query().Get("slug"))
		require.Equal(t, "secret", r.Header.Get("X-Admin-Secret"))
		body, _ := io.ReadAll(r.Body)
		gotBody = string(body)
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"video_id":"v1","job_id":"j1","slug":"my-video"}`))
	}))
	defer srv.Close()

	c := newClient(srv.URL, "secret")
	resp, err := c.createVideo(t.Context(), "my-video", "", "hls_ts", "h264", strings.NewReader("source bytes"))
	require.NoError(t, err)
	require.Equal(t, "v1", resp.VideoID)
	require.Equal(t, "source bytes", gotBody)
}

func TestDo_MapsNon2xxToAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"detail":"bad slug"}`))
	}))
	defer srv.Close()

	c := newClient(srv.URL, "secret")
	_, err := c.listVideos(t.Context())
	require.Error(t, err)
	var apiErr *apiError
	require.True(t, asAPIError(err, &apiErr))
	require.Equal(t, http.StatusBadRequest, apiErr.status)
}
