package coordinator

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"vlog/internal/models"
)

func TestAdminCreateVideo_WritesSourceFileAndCreatesJob(t *testing.T) {
	c, repo, _ := newTestCoordinator(t)

	req := httptest.NewRequest(http.MethodPost, "/api/admin/videos?slug=my-video&title=My+Video", strings.NewReader("fake source bytes"))
	req.Header.Set("X-Admin-Secret", "admin-test-secret")
	rr := httptest.NewRecorder()
	c.Routes().ServeHTTP(rr, req)
	require.Equal(t, http.StatusCreated, rr.Code)

	video, err := repo.GetVideoBySlug(t.Context(), "my-video")
	require.NoError(t, err)
	require.Equal(t, models.VideoPending, video.Status)

	data, err := os.ReadFile(filepath.Join(c.sourcesDir, video.ID+".src"))
	require.NoError(t, err)
	require.Equal(t, "fake source bytes", string(data))
}

func TestAdminCreateVideo_RejectsInvalidSlug(t *testing.T) {
	c, _, _ := newTestCoordinator(t)
	req := httptest.NewRequest(http.MethodPost, "/api/admin/videos?slug=Not_Valid", strings.NewReader("x"))
	req.Header.Set("X-Admin-Secret", "admin-test-secret")
	rr := httptest.NewRecorder()
	c.Routes().ServeHTTP(rr, req)
	require.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestAdminCreateVideo_RequiresAdminSession(t *testing.T) {
	c, _, _ := newTestCoordinator(t)
	req := httptest.NewRequest(http.MethodPost, "/api/admin/videos?slug=my-video", strings.NewReader("x"))
	rr := httptest.NewRecorder()
	c.Routes().ServeHTTP(rr, req)
	require.Equal(t, http.StatusUnauthorized, rr.Code)
}
