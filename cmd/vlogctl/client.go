package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"vlog/internal/models"
)

// client talks to the coordinator's admin and public HTTP surface on behalf
// of the operator CLI. It mirrors internal/agent.CoordinatorClient's
// retryablehttp-backed shape, swapping the worker API key header for the
// admin shared-secret header the coordinator's adminauth.go expects.
type client struct {
	baseURL string
	secret  string
	http    *http.Client
}

func newClient(baseURL, secret string) *client {
	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = 2
	retryClient.RetryWaitMin = 200 * time.Millisecond
	retryClient.RetryWaitMax = 2 * time.Second
	retryClient.Logger = nil
	return &client{baseURL: baseURL, secret: secret, http: retryClient.StandardClient()}
}

// apiError carries the coordinator's status code so command Run methods can
// map it to the conventional exit codes (validation -> 2, everything else
// transport/user -> 1).
type apiError struct {
	status int
	detail string
}

func (e *apiError) Error() string { return fmt.Sprintf("coordinator returned %d: %s", e.status, e.detail) }

func (c *client) do(ctx context.Context, method, path string, body io.Reader, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("X-Admin-Secret", c.secret)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return &apiError{status: resp.StatusCode, detail: string(detail)}
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

func (c *client) doJSON(ctx context.Context, method, path string, payload, out any) error {
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(raw)
	}
	return c.do(ctx, method, path, body, out)
}

type videoView struct {
	ID              string  `json:"id"`
	Slug            string  `json:"slug"`
	Title           string  `json:"title"`
	Duration        float64 `json:"duration"`
	Status          string  `json:"status"`
	StreamingFormat string  `json:"streaming_format"`
	PrimaryCodec    string  `json:"primary_codec"`
}

type createVideoResponse struct {
	VideoID string `json:"video_id"`
	JobID   string `json:"job_id"`
	Slug    string `json:"slug"`
}

type categoryView struct {
	Slug  string `json:"slug"`
	Count int    `json:"count"`
}

type workerView struct {
	WorkerID      string              `json:"worker_id"`
	WorkerName    string              `json:"worker_name"`
	WorkerType    string              `json:"worker_type"`
	Status        string              `json:"status"`
	LastHeartbeat time.Time           `json:"last_heartbeat"`
	CurrentJobID  *string             `json:"current_job_id,omitempty"`
	Capabilities  models.Capabilities `json:"capabilities"`
}

type registerWorkerRequest struct {
	WorkerName   string              `json:"worker_name"`
	WorkerType   models.WorkerType   `json:"worker_type"`
	Capabilities models.Capabilities `json:"capabilities"`
	Metadata     map[string]string   `json:"metadata"`
}

type registerWorkerResponse struct {
	WorkerID string `json:"worker_id"`
	APIKey   string `json:"api_key"`
}

func (c *client) createVideo(ctx context.Context, slug, title, streamingFormat, primaryCodec string, source io.Reader) (createVideoResponse, error) {
	path := fmt.Sprintf("/api/admin/videos?slug=%s&title=%s&streaming_format=%s&primary_codec=%s",
		urlEscape(slug), urlEscape(title), urlEscape(streamingFormat), urlEscape(primaryCodec))
	var out createVideoResponse
	err := c.do(ctx, http.MethodPost, path, source, &out)
	return out, err
}

func (c *client) listVideos(ctx context.Context) ([]videoView, error) {
	var out []videoView
	err := c.doJSON(ctx, http.MethodGet, "/api/admin/videos", nil, &out)
	return out, err
}

func (c *client) getVideo(ctx context.Context, slug string) (videoView, error) {
	var out videoView
	err := c.doJSON(ctx, http.MethodGet, "/api/videos/"+slug, nil, &out)
	return out, err
}

func (c *client) listCategories(ctx context.Context) ([]categoryView, error) {
	var out []categoryView
	err := c.doJSON(ctx, http.MethodGet, "/api/categories", nil, &out)
	return out, err
}

func (c *client) deleteVideo(ctx context.Context, id string) error {
	return c.doJSON(ctx, http.MethodDelete, "/api/admin/videos/"+id, nil, nil)
}

func (c *client) registerWorker(ctx context.Context, name string, wt models.WorkerType, caps models.Capabilities) (registerWorkerResponse, error) {
	var out registerWorkerResponse
	err := c.doJSON(ctx, http.MethodPost, "/api/worker/register", registerWorkerRequest{WorkerName: name, WorkerType: wt, Capabilities: caps}, &out)
	return out, err
}

func (c *client) listWorkers(ctx context.Context) ([]workerView, error) {
	var out []workerView
	err := c.doJSON(ctx, http.MethodGet, "/api/admin/workers", nil, &out)
	return out, err
}

func (c *client) revokeWorker(ctx context.Context, id string) error {
	return c.doJSON(ctx, http.MethodPost, "/api/admin/workers/"+id+"/revoke", nil, nil)
}

func (c *client) listSettings(ctx context.Context, category string) ([]models.Setting, error) {
	path := "/api/admin/settings"
	if category != "" {
		path += "?category=" + urlEscape(category)
	}
	var out []models.Setting
	err := c.doJSON(ctx, http.MethodGet, path, nil, &out)
	return out, err
}

func (c *client) getSetting(ctx context.Context, key string) (string, error) {
	var out struct {
		Key   string `json:"key"`
		Value string `json:"value"`
	}
	err := c.doJSON(ctx, http.MethodGet, "/api/admin/settings/"+key, nil, &out)
	return out.Value, err
}

func (c *client) putSetting(ctx context.Context, key string, setting models.Setting) error {
	return c.doJSON(ctx, http.MethodPut, "/api/admin/settings/"+key, struct {
		Type        models.SettingType        `json:"type"`
		Value       string                    `json:"value"`
		Category    string                    `json:"category"`
		Constraints models.SettingConstraints `json:"constraints"`
	}{Type: setting.Type, Value: setting.Value, Category: setting.Category, Constraints: setting.Constraints}, nil)
}

func (c *client) downloadSegment(ctx context.Context, slug, path string, dst io.Writer) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/videos/"+slug+"/"+path, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("download %s: %w", path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return &apiError{status: resp.StatusCode, detail: string(detail)}
	}
	_, err = io.Copy(dst, resp.Body)
	return err
}

func urlEscape(s string) string {
	return url.QueryEscape(s)
}
