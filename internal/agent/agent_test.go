package agent

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"vlog/internal/models"
)

func TestLoadIdentity_MissingFileReturnsNil(t *testing.T) {
	id, err := loadIdentity(filepath.Join(t.TempDir(), "missing.json"))
	require.NoError(t, err)
	require.Nil(t, id)
}

func TestSaveAndLoadIdentity_RoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "identity.json")
	require.NoError(t, saveIdentity(path, identity{WorkerID: "worker-1", APIKey: "vlogwk_abc"}))

	loaded, err := loadIdentity(path)
	require.NoError(t, err)
	require.NotNil(t, loaded)
	require.Equal(t, "worker-1", loaded.WorkerID)
	require.Equal(t, "vlogwk_abc", loaded.APIKey)
}

func TestRunner_BootstrapRegistersWhenNoIdentityPersisted(t *testing.T) {
	var capturedKey string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/worker/register", r.URL.Path)
		capturedKey = "issued"
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"worker_id": "worker-9", "api_key": "vlogwk_xyz"})
	}))
	defer srv.Close()

	cfg := Config{
		CoordinatorURL: srv.URL,
		WorkerName:     "test-worker",
		StateFile:      filepath.Join(t.TempDir(), "identity.json"),
	}
	client := NewCoordinatorClient(cfg.CoordinatorURL, zerolog.Nop())
	runner, err := NewRunner(cfg, client, stubExecutor{}, zerolog.Nop())
	require.NoError(t, err)

	workerID, err := runner.Bootstrap(context.Background())
	require.NoError(t, err)
	require.Equal(t, "worker-9", workerID)
	require.Equal(t, "issued", capturedKey)

	persisted, err := loadIdentity(cfg.StateFile)
	require.NoError(t, err)
	require.NotNil(t, persisted)
	require.Equal(t, "vlogwk_xyz", persisted.APIKey)
}

func TestRunner_BootstrapReusesPersistedIdentity(t *testing.T) {
	statePath := filepath.Join(t.TempDir(), "identity.json")
	require.NoError(t, saveIdentity(statePath, identity{WorkerID: "worker-5", APIKey: "vlogwk_existing"}))

	registerCalled := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/worker/register" {
			registerCalled = true
		}
	}))
	defer srv.Close()

	cfg := Config{CoordinatorURL: srv.URL, WorkerName: "test-worker", StateFile: statePath}
	client := NewCoordinatorClient(cfg.CoordinatorURL, zerolog.Nop())
	runner, err := NewRunner(cfg, client, stubExecutor{}, zerolog.Nop())
	require.NoError(t, err)

	workerID, err := runner.Bootstrap(context.Background())
	require.NoError(t, err)
	require.Equal(t, "worker-5", workerID)
	require.False(t, registerCalled)
}

type stubExecutor struct{}

func (stubExecutor) Execute(ctx context.Context, job Job, progress func(string, int, []models.QualityProgress)) (JobResult, error) {
	return JobResult{}, nil
}

// slowExecutor blocks until release is closed, standing in for a
// long-running transcode.
type slowExecutor struct {
	release chan struct{}
}

func (e slowExecutor) Execute(ctx context.Context, job Job, progress func(string, int, []models.QualityProgress)) (JobResult, error) {
	select {
	case <-e.release:
	case <-ctx.Done():
	}
	return JobResult{}, nil
}

// TestRunner_HeartbeatsContinueDuringJobExecution guards against the
// heartbeat goroutine being starved by a long-running job: Run must still
// hit /api/worker/heartbeat while a claimed job is in flight, not just
// before or after it.
func TestRunner_HeartbeatsContinueDuringJobExecution(t *testing.T) {
	var claimed int32
	var heartbeats int32
	release := make(chan struct{})

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/api/worker/heartbeat":
			atomic.AddInt32(&heartbeats, 1)
			_ = json.NewEncoder(w).Encode(heartbeatResponse{})
		case "/api/worker/claim":
			if atomic.CompareAndSwapInt32(&claimed, 0, 1) {
				_ = json.NewEncoder(w).Encode(claimResponse{Job: &jobView{
					JobID:       "job-1",
					VideoID:     "video-1",
					MaxAttempts: 3,
				}})
				return
			}
			_ = json.NewEncoder(w).Encode(claimResponse{})
		default:
			_ = json.NewEncoder(w).Encode(map[string]string{})
		}
	}))
	defer srv.Close()

	cfg := Config{
		CoordinatorURL:    srv.URL,
		WorkerName:        "test-worker",
		StateFile:         filepath.Join(t.TempDir(), "identity.json"),
		PollInterval:      5 * time.Millisecond,
		HeartbeatInterval: 5 * time.Millisecond,
	}
	client := NewCoordinatorClient(cfg.CoordinatorURL, zerolog.Nop())
	runner, err := NewRunner(cfg, client, slowExecutor{release: release}, zerolog.Nop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go runner.Run(ctx)

	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&claimed) == 1
	}, time.Second, time.Millisecond, "job was never claimed")

	before := atomic.LoadInt32(&heartbeats)
	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&heartbeats) > before
	}, time.Second, time.Millisecond, "no heartbeat was observed while the job was still executing")

	close(release)
}
