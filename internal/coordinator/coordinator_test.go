package coordinator

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"vlog/internal/apikeys"
	"vlog/internal/catalog"
	"vlog/internal/eventbus"
	"vlog/internal/models"
	"vlog/internal/settingsvc"
)

func newTestCoordinator(t *testing.T) (*Coordinator, catalog.Repository, *apikeys.Issuer) {
	t.Helper()
	mr := miniredis.RunT(t)
	bus := eventbus.New(eventbus.Config{Addr: mr.Addr()})
	t.Cleanup(func() { _ = bus.Close() })

	repo := catalog.NewMemoryRepository()
	issuer := apikeys.NewIssuer(repo)
	settings := settingsvc.New(repo, time.Minute)

	videosDir := t.TempDir()

	c := New(Config{
		Repo:              repo,
		Bus:               bus,
		Issuer:            issuer,
		Settings:          settings,
		Log:               zerolog.Nop(),
		VideosDir:         videosDir,
		SourcesDir:        t.TempDir(),
		AdminSharedSecret: "admin-test-secret",
		RateLimit:         RateLimitConfig{RequestsPerWindow: 1000, Window: time.Minute},
	})
	return c, repo, issuer
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.RemoteAddr = "203.0.113.5:12345"
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestListVideos_EmptyRepoReturnsEmptyArray(t *testing.T) {
	c, _, _ := newTestCoordinator(t)
	rr := doJSON(t, c.Routes(), http.MethodGet, "/api/videos", nil, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	require.JSONEq(t, "[]", rr.Body.String())
}

func TestGetVideoBySlug_RejectsInvalidSlug(t *testing.T) {
	c, _, _ := newTestCoordinator(t)
	rr := doJSON(t, c.Routes(), http.MethodGet, "/api/videos/Not_A_Slug", nil, nil)
	require.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestGetVideoBySlug_UnknownSlugIs404(t *testing.T) {
	c, _, _ := newTestCoordinator(t)
	rr := doJSON(t, c.Routes(), http.MethodGet, "/api/videos/missing-video", nil, nil)
	require.Equal(t, http.StatusNotFound, rr.Code)
}

func TestVideoProgress_ReturnsJobShape(t *testing.T) {
	c, repo, _ := newTestCoordinator(t)
	_, _, err := repo.CreateVideo(newCtx(), catalog.CreateVideoParams{
		Slug: "my-video", Title: "My Video", StreamingFormat: models.FormatHLSTS, PrimaryCodec: models.CodecH264,
	})
	require.NoError(t, err)

	rr := doJSON(t, c.Routes(), http.MethodGet, "/api/videos/my-video/progress", nil, nil)
	require.Equal(t, http.StatusOK, rr.Code)

	var resp progressResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	require.Equal(t, "unclaimed", resp.Status)
	require.Equal(t, 3, resp.MaxAttempts)
}

func TestRegisterWorker_IssuesWorkerIDAndAPIKey(t *testing.T) {
	c, _, _ := newTestCoordinator(t)
	rr := doJSON(t, c.Routes(), http.MethodPost, "/api/worker/register", registerRequest{
		WorkerType: models.WorkerRemote,
	}, nil)
	require.Equal(t, http.StatusCreated, rr.Code)

	var resp registerResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.WorkerID)
	require.NotEmpty(t, resp.APIKey)
}

func TestWorkerAuth_RejectsMissingKey(t *testing.T) {
	c, _, _ := newTestCoordinator(t)
	rr := doJSON(t, c.Routes(), http.MethodPost, "/api/worker/heartbeat", heartbeatRequest{Status: models.WorkerIdle}, nil)
	require.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestClaimJob_ReturnsNoWorkMessageWhenEmpty(t *testing.T) {
	c, _, issuer := newTestCoordinator(t)
	plaintext := registerTestWorker(t, c, issuer)

	rr := doJSON(t, c.Routes(), http.MethodPost, "/api/worker/claim", nil, map[string]string{
		"X-Worker-API-Key": plaintext,
	})
	require.Equal(t, http.StatusOK, rr.Code)
	var resp claimResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	require.Equal(t, "no work", resp.Message)
	require.Nil(t, resp.Job)
}

func TestClaimJob_ReturnsOldestPendingVideoFIFO(t *testing.T) {
	c, repo, issuer := newTestCoordinator(t)
	plaintext := registerTestWorker(t, c, issuer)

	_, _, err := repo.CreateVideo(newCtx(), catalog.CreateVideoParams{
		Slug: "first-video", Title: "First", StreamingFormat: models.FormatHLSTS, PrimaryCodec: models.CodecH264,
	})
	require.NoError(t, err)

	rr := doJSON(t, c.Routes(), http.MethodPost, "/api/worker/claim", nil, map[string]string{
		"X-Worker-API-Key": plaintext,
	})
	require.Equal(t, http.StatusOK, rr.Code)
	var resp claimResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	require.NotNil(t, resp.Job)
	require.Equal(t, "first-video", resp.Job.VideoSlug)
}

func TestUploadSegment_RejectsChecksumMismatch(t *testing.T) {
	c, repo, issuer := newTestCoordinator(t)
	_ = registerTestWorker(t, c, issuer)

	video, _, err := repo.CreateVideo(newCtx(), catalog.CreateVideoParams{
		Slug: "seg-video", Title: "Seg", StreamingFormat: models.FormatHLSTS, PrimaryCodec: models.CodecH264,
	})
	require.NoError(t, err)

	plaintext := registerTestWorker(t, c, issuer)
	rr := doJSON(t, c.Routes(), http.MethodPost, "/api/worker/upload-segment/"+video.ID, uploadSegmentRequest{
		Quality:  models.Quality720p,
		Filename: "0001.ts",
		SHA256:   "not-the-real-hash",
		Data:     []byte("segment-bytes"),
	}, map[string]string{"X-Worker-API-Key": plaintext})
	require.Equal(t, http.StatusOK, rr.Code)

	var resp uploadSegmentResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	require.False(t, resp.ChecksumVerified)
}

func TestAdminLogin_RequiresSharedSecret(t *testing.T) {
	c, _, _ := newTestCoordinator(t)
	rr := doJSON(t, c.Routes(), http.MethodPost, "/api/admin/login", nil, nil)
	require.Equal(t, http.StatusForbidden, rr.Code)

	rr = doJSON(t, c.Routes(), http.MethodPost, "/api/admin/login", nil, map[string]string{
		"X-Admin-Secret": "admin-test-secret",
	})
	require.Equal(t, http.StatusOK, rr.Code)
	require.NotEmpty(t, rr.Header().Get("Set-Cookie"))
}

func TestAdminSurface_RejectsRequestsWithoutSession(t *testing.T) {
	c, _, _ := newTestCoordinator(t)
	rr := doJSON(t, c.Routes(), http.MethodGet, "/api/admin/videos", nil, nil)
	require.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestAdminSurface_SharedSecretHeaderGrantsAccess(t *testing.T) {
	c, _, _ := newTestCoordinator(t)
	rr := doJSON(t, c.Routes(), http.MethodGet, "/api/admin/videos", nil, map[string]string{
		"X-Admin-Secret": "admin-test-secret",
	})
	require.Equal(t, http.StatusOK, rr.Code)
}

func TestServeSegment_RejectsPathTraversal(t *testing.T) {
	c, _, _ := newTestCoordinator(t)
	rr := doJSON(t, c.Routes(), http.MethodGet, "/videos/my-video/../../etc/passwd", nil, nil)
	require.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestSecurityHeadersPresentOnEveryResponse(t *testing.T) {
	c, _, _ := newTestCoordinator(t)
	rr := doJSON(t, c.Routes(), http.MethodGet, "/api/videos", nil, nil)
	require.Equal(t, "SAMEORIGIN", rr.Header().Get("X-Frame-Options"))
	require.Equal(t, "nosniff", rr.Header().Get("X-Content-Type-Options"))
}

func TestRequestIDHeaderEchoedAndGenerated(t *testing.T) {
	c, _, _ := newTestCoordinator(t)
	rr := doJSON(t, c.Routes(), http.MethodGet, "/api/videos", nil, map[string]string{
		requestIDHeader: "my-request-id",
	})
	require.Equal(t, "my-request-id", rr.Header().Get(requestIDHeader))

	rr = doJSON(t, c.Routes(), http.MethodGet, "/api/videos", nil, nil)
	require.NotEmpty(t, rr.Header().Get(requestIDHeader))
}

func registerTestWorker(t *testing.T, c *Coordinator, issuer *apikeys.Issuer) string {
	t.Helper()
	rr := doJSON(t, c.Routes(), http.MethodPost, "/api/worker/register", registerRequest{
		WorkerType: models.WorkerRemote,
	}, nil)
	require.Equal(t, http.StatusCreated, rr.Code)
	var resp registerResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	return resp.APIKey
}

func newCtx() context.Context { return context.Background() }
