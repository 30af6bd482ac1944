package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/rs/zerolog"

	"vlog/internal/models"
)

// CoordinatorClient talks to the coordinator's worker API, retrying
// transient failures (5xx, connection errors) with jittered backoff via
// go-retryablehttp.
type CoordinatorClient struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

// NewCoordinatorClient builds a client with sane retry defaults. apiKey may
// be empty before the worker has registered.
func NewCoordinatorClient(baseURL string, log zerolog.Logger) *CoordinatorClient {
	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = 3
	retryClient.RetryWaitMin = 500 * time.Millisecond
	retryClient.RetryWaitMax = 5 * time.Second
	retryClient.Logger = retryableLogAdapter{log}

	return &CoordinatorClient{
		baseURL: baseURL,
		http:    retryClient.StandardClient(),
	}
}

// SetAPIKey installs the credential returned by Register for every
// subsequent call.
func (c *CoordinatorClient) SetAPIKey(key string) { c.apiKey = key }

// ErrUnauthorized is returned when the coordinator rejects the worker's API
// key, signaling the caller should fall back to Register.
var ErrUnauthorized = fmt.Errorf("coordinator rejected worker credentials")

// ErrClaimExpired is returned when the coordinator no longer considers this
// worker the holder of a job's claim (409). The pipeline must stop
// immediately rather than keep uploading segments nobody will read.
var ErrClaimExpired = fmt.Errorf("job claim no longer held")

func (c *CoordinatorClient) do(ctx context.Context, method, path string, payload, out any) (int, error) {
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return 0, fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return 0, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("X-Worker-API-Key", c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return resp.StatusCode, ErrUnauthorized
	}
	if resp.StatusCode == http.StatusConflict {
		return resp.StatusCode, ErrClaimExpired
	}
	if resp.StatusCode >= 400 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return resp.StatusCode, fmt.Errorf("coordinator returned %d: %s", resp.StatusCode, string(detail))
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, fmt.Errorf("decode response: %w", err)
		}
	}
	return resp.StatusCode, nil
}

// Register declares the worker's identity and capabilities. Called once on
// startup when no locally-persisted identity exists.
func (c *CoordinatorClient) Register(ctx context.Context, name string, wt models.WorkerType, caps models.Capabilities) (string, string, error) {
	var resp registerResponse
	_, err := c.do(ctx, http.MethodPost, "/api/worker/register", registerRequest{
		WorkerName:   name,
		WorkerType:   wt,
		Capabilities: caps,
	}, &resp)
	if err != nil {
		return "", "", fmt.Errorf("register: %w", err)
	}
	return resp.WorkerID, resp.APIKey, nil
}

// Heartbeat reports current status and metadata, returning the server's
// notion of now and the deadline for the next beat.
func (c *CoordinatorClient) Heartbeat(ctx context.Context, status models.WorkerStatus, metadata map[string]string) (heartbeatResponse, error) {
	var resp heartbeatResponse
	_, err := c.do(ctx, http.MethodPost, "/api/worker/heartbeat", heartbeatRequest{
		Status:   status,
		Metadata: metadata,
	}, &resp)
	if err != nil {
		return heartbeatResponse{}, fmt.Errorf("heartbeat: %w", err)
	}
	return resp, nil
}

// Claim asks the coordinator for the next available job. A nil Job with no
// error means there is currently no work.
func (c *CoordinatorClient) Claim(ctx context.Context) (*jobView, error) {
	var resp claimResponse
	_, err := c.do(ctx, http.MethodPost, "/api/worker/claim", nil, &resp)
	if err != nil {
		return nil, fmt.Errorf("claim: %w", err)
	}
	return resp.Job, nil
}

// StreamSource downloads the original source bytes for videoID into dst.
func (c *CoordinatorClient) StreamSource(ctx context.Context, videoID string, dst io.Writer) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/worker/source/"+videoID, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if c.apiKey != "" {
		req.Header.Set("X-Worker-API-Key", c.apiKey)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("stream source: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("stream source returned %d", resp.StatusCode)
	}
	if _, err := io.Copy(dst, resp.Body); err != nil {
		return fmt.Errorf("copy source body: %w", err)
	}
	return nil
}

// ReportProgress tells the coordinator about step/percent/per-quality
// progress for an in-flight job.
func (c *CoordinatorClient) ReportProgress(ctx context.Context, jobID, step string, percent int, qualities []models.QualityProgress) error {
	_, err := c.do(ctx, http.MethodPost, "/api/worker/"+jobID+"/progress", progressRequest{
		CurrentStep:     step,
		ProgressPercent: percent,
		QualityProgress: qualities,
	}, nil)
	if err != nil {
		return fmt.Errorf("report progress: %w", err)
	}
	return nil
}

// UploadSegment pushes one encoded segment's bytes plus its SHA-256, which
// the coordinator recomputes and verifies server-side.
func (c *CoordinatorClient) UploadSegment(ctx context.Context, videoID string, quality models.Quality, filename, sha256Hex string, data []byte) (bool, error) {
	var resp uploadSegmentResponse
	_, err := c.do(ctx, http.MethodPost, "/api/worker/upload-segment/"+videoID, uploadSegmentRequest{
		Quality:  quality,
		Filename: filename,
		SHA256:   sha256Hex,
		Data:     data,
	}, &resp)
	if err != nil {
		return false, fmt.Errorf("upload segment: %w", err)
	}
	return resp.ChecksumVerified, nil
}

// Finalize tells the coordinator a quality's segment set is complete and
// declares the expected count plus the manifest checksum.
func (c *CoordinatorClient) Finalize(ctx context.Context, videoID string, quality models.Quality, segmentCount int, manifestSHA256 string) (finalizeResponse, error) {
	var resp finalizeResponse
	_, err := c.do(ctx, http.MethodPost, "/api/worker/finalize/"+videoID+"/"+string(quality), finalizeRequest{
		SegmentCount:   segmentCount,
		ManifestSHA256: manifestSHA256,
	}, &resp)
	if err != nil {
		return finalizeResponse{}, fmt.Errorf("finalize: %w", err)
	}
	return resp, nil
}

// CompleteJob reports a job as fully finished.
func (c *CoordinatorClient) CompleteJob(ctx context.Context, jobID string, qualities []models.QualityProgress, duration float64, width, height int) error {
	_, err := c.do(ctx, http.MethodPost, "/api/worker/"+jobID+"/complete", completeRequest{
		Qualities:    qualities,
		Duration:     duration,
		SourceWidth:  width,
		SourceHeight: height,
	}, nil)
	if err != nil {
		return fmt.Errorf("complete job: %w", err)
	}
	return nil
}

// FailJob reports a job as failed, optionally asking the coordinator to
// retry it.
func (c *CoordinatorClient) FailJob(ctx context.Context, jobID, errMsg string, retry bool) error {
	_, err := c.do(ctx, http.MethodPost, "/api/worker/"+jobID+"/fail", failRequest{
		ErrorMessage: errMsg,
		Retry:        retry,
	}, nil)
	if err != nil {
		return fmt.Errorf("fail job: %w", err)
	}
	return nil
}

// retryableLogAdapter satisfies retryablehttp.LeveledLogger on top of
// zerolog, so retry attempts show up in the worker's structured log stream
// instead of retryablehttp's own default stdlib logger.
type retryableLogAdapter struct {
	log zerolog.Logger
}

func (a retryableLogAdapter) Error(msg string, kv ...interface{}) { a.logf(a.log.Error(), msg, kv) }
func (a retryableLogAdapter) Info(msg string, kv ...interface{})  { a.logf(a.log.Info(), msg, kv) }
func (a retryableLogAdapter) Debug(msg string, kv ...interface{}) { a.logf(a.log.Debug(), msg, kv) }
func (a retryableLogAdapter) Warn(msg string, kv ...interface{})  { a.logf(a.log.Warn(), msg, kv) }

func (a retryableLogAdapter) logf(event *zerolog.Event, msg string, kv []interface{}) {
	for i := 0; i+1 < len(kv); i += 2 {
		if key, ok := kv[i].(string); ok {
			event = event.Interface(key, kv[i+1])
		}
	}
	event.Msg(msg)
}
