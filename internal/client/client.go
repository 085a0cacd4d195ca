// Package client talks to the ingestion API: it streams uploads with progress
// reporting and polls the status endpoint until a job settles.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"gallery-pipeline/internal/models"
)

const (
	uploadPath = "/api/uploads"
	statusPath = "/api/uploads/status"
)

// APIError is a non-2xx answer from the server.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("api: status %d", e.StatusCode)
	}
	return fmt.Sprintf("api: status %d: %s", e.StatusCode, e.Message)
}

type Client struct {
	baseURL string
	http    *http.Client
	now     func() time.Time
}

// New returns a client for the API rooted at baseURL. A nil httpClient
// selects one without an overall timeout, since uploads may be large.
func New(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    httpClient,
		now:     time.Now,
	}
}

// Status reads the current state of one job.
func (c *Client) Status(ctx context.Context, uploadID string) (models.JobStatus, error) {
	const op = "client.Status"

	u := c.baseURL + statusPath + "?id=" + url.QueryEscape(uploadID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%s: %w", op, decodeAPIError(resp))
	}

	var body struct {
		Status models.JobStatus `json:"status"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&body); err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	if body.Status == "" {
		return models.StatusUnknown, nil
	}
	return body.Status, nil
}

func decodeAPIError(resp *http.Response) error {
	apiErr := &APIError{StatusCode: resp.StatusCode}
	var body struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&body); err == nil {
		apiErr.Code, apiErr.Message = body.Error, body.Message
	}
	return apiErr
}
