// Package client provides a REST client for the mapfold server.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/lindqvist/mapfold/internal/metrics"
	"github.com/lindqvist/mapfold/internal/models"
	"github.com/lindqvist/mapfold/internal/service"
)

// Client talks to the mapfold HTTP API.
type Client struct {
	baseURL    string
	userID     string
	httpClient *http.Client
}

// New creates a client.
// If baseURL is empty, uses MAPFOLD_SERVER_URL env var or defaults to localhost:8585.
// Timeout can be configured via MAPFOLD_CLIENT_TIMEOUT env var (default 10m for long queries).
func New(baseURL, userID string) *Client {
	if baseURL == "" {
		baseURL = os.Getenv("MAPFOLD_SERVER_URL")
	}
	if baseURL == "" {
		baseURL = "http://localhost:8585"
	}
	if userID == "" {
		userID = os.Getenv("MAPFOLD_USER_ID")
	}
	if userID == "" {
		userID = "default"
	}

	timeout := 10 * time.Minute
	if t := os.Getenv("MAPFOLD_CLIENT_TIMEOUT"); t != "" {
		if d, err := time.ParseDuration(t); err == nil {
			timeout = d
		}
	}

	return &Client{
		baseURL: baseURL,
		userID:  userID,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// apiError is the server's error envelope.
type apiError struct {
	Error string `json:"error"`
}

// do sends a JSON request and decodes the JSON response into result.
func (c *Client) do(ctx context.Context, method, path string, body, result any) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("X-User-ID", c.userID)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= http.StatusBadRequest {
		var apiErr apiError
		if json.Unmarshal(data, &apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("server error (%s): %s", resp.Status, apiErr.Error)
		}
		return fmt.Errorf("server error: %s - %s", resp.Status, string(data))
	}

	if result != nil && len(data) > 0 {
		if err := json.Unmarshal(data, result); err != nil {
			return fmt.Errorf("unmarshal response: %w", err)
		}
	}
	return nil
}

// AskInput is one query against a scope.
type AskInput struct {
	ConversationID string   `json:"conversation_id"`
	Query          string   `json:"query"`
	ScopeIDs       []string `json:"scope_ids,omitempty"`
}

// Ask submits a query. The response is either a synchronous answer or the
// queued job, depending on routing.
func (c *Client) Ask(ctx context.Context, input AskInput) (*service.AskResponse, error) {
	var resp service.AskResponse
	if err := c.do(ctx, http.MethodPost, "/api/v1/query", input, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// GetJob polls a job by ID.
func (c *Client) GetJob(ctx context.Context, id string) (*models.QueryJob, error) {
	var job models.QueryJob
	if err := c.do(ctx, http.MethodGet, "/api/v1/jobs/"+id, nil, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

// ListJobsOptions narrows a job listing.
type ListJobsOptions struct {
	ConversationID string
	Status         string
	Limit          int
}

// ListJobs returns the user's jobs, newest first.
func (c *Client) ListJobs(ctx context.Context, opts ListJobsOptions) ([]models.QueryJob, error) {
	path := "/api/v1/jobs?"
	if opts.ConversationID != "" {
		path += "conversation_id=" + opts.ConversationID + "&"
	}
	if opts.Status != "" {
		path += "status=" + opts.Status + "&"
	}
	if opts.Limit > 0 {
		path += fmt.Sprintf("limit=%d&", opts.Limit)
	}

	var resp struct {
		Jobs []models.QueryJob `json:"jobs"`
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Jobs, nil
}

// CancelJob requests cancellation of a running job.
func (c *Client) CancelJob(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/api/v1/jobs/"+id, nil, nil)
}

// CreateConversation starts a new conversation.
func (c *Client) CreateConversation(ctx context.Context, title string) (*models.Conversation, error) {
	var conv models.Conversation
	body := map[string]string{"title": title}
	if err := c.do(ctx, http.MethodPost, "/api/v1/conversations", body, &conv); err != nil {
		return nil, err
	}
	return &conv, nil
}

// ListMessages returns the conversation's messages oldest first.
func (c *Client) ListMessages(ctx context.Context, conversationID string, limit int) ([]models.Message, error) {
	path := "/api/v1/conversations/" + conversationID + "/messages"
	if limit > 0 {
		path += fmt.Sprintf("?limit=%d", limit)
	}

	var resp struct {
		Messages []models.Message `json:"messages"`
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Messages, nil
}

// Stats returns the server's runtime statistics.
func (c *Client) Stats(ctx context.Context) (*metrics.Snapshot, error) {
	var snap metrics.Snapshot
	if err := c.do(ctx, http.MethodGet, "/api/v1/stats", nil, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

// WaitForJob polls until the job reaches a terminal state or the context is
// cancelled. onUpdate is invoked with each poll result when non-nil.
func (c *Client) WaitForJob(ctx context.Context, id string, interval time.Duration, onUpdate func(*models.QueryJob)) (*models.QueryJob, error) {
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		job, err := c.GetJob(ctx, id)
		if err != nil {
			return nil, err
		}
		if onUpdate != nil {
			onUpdate(job)
		}
		if job.Status.Terminal() {
			return job, nil
		}

		select {
		case <-ctx.Done():
			return job, ctx.Err()
		case <-ticker.C:
		}
	}
}
