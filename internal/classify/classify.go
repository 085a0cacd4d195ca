// Package classify calls the external genre classification service. The
// service is optional and its failures never abort an ingestion.
package classify

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"gallery-pipeline/internal/models"
)

// ErrTooLarge is returned when a fetched image exceeds the configured limit.
var ErrTooLarge = errors.New("classify: image exceeds size limit")

type Classifier interface {
	// Classify returns nil, nil when the service has no answer.
	Classify(ctx context.Context, imageURL string) (*models.Classification, error)
}

type Client struct {
	endpoint string
	apiKey   string
	maxBytes int64
	http     *http.Client
}

func NewClient(cfg models.ClassifyConfig) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		endpoint: cfg.Endpoint,
		apiKey:   cfg.APIKey,
		maxBytes: cfg.MaxImageBytes,
		http:     &http.Client{Timeout: timeout},
	}
}

type classifyRequest struct {
	Image       string `json:"image"`
	ContentType string `json:"contentType"`
}

func (c *Client) Classify(ctx context.Context, imageURL string) (*models.Classification, error) {
	const op = "classify.Classify"

	data, contentType, err := c.fetch(ctx, imageURL)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	body, err := json.Marshal(classifyRequest{
		Image:       base64.StdEncoding.EncodeToString(data),
		ContentType: contentType,
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s: unexpected status %d", op, resp.StatusCode)
	}

	var out models.Classification
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&out); err != nil {
		return nil, fmt.Errorf("%s: decode response: %w", op, err)
	}
	if out.Primary == "" {
		return nil, nil
	}
	if out.Secondary == nil {
		out.Secondary = []string{}
	}
	return &out, nil
}

// fetch downloads a remote image, refusing anything larger than maxBytes.
func (c *Client) fetch(ctx context.Context, imageURL string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, imageURL, nil)
	if err != nil {
		return nil, "", err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("fetch image: unexpected status %d", resp.StatusCode)
	}
	if c.maxBytes > 0 && resp.ContentLength > c.maxBytes {
		return nil, "", ErrTooLarge
	}

	r := io.Reader(resp.Body)
	if c.maxBytes > 0 {
		r = io.LimitReader(resp.Body, c.maxBytes+1)
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, "", err
	}
	if c.maxBytes > 0 && int64(len(data)) > c.maxBytes {
		return nil, "", ErrTooLarge
	}
	return data, resp.Header.Get("Content-Type"), nil
}

// Disabled is used when no classification endpoint is configured.
type Disabled struct{}

func (Disabled) Classify(context.Context, string) (*models.Classification, error) { return nil, nil }

func New(cfg models.ClassifyConfig) Classifier {
	if cfg.Endpoint == "" {
		return Disabled{}
	}
	return NewClient(cfg)
}
