package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/mealsmith/api/internal/agent"
	"github.com/mealsmith/api/internal/config"
)

// ImageProvider defines the interface for remote image generation. The
// provider is task-based: a generation request returns a task id that is
// polled until the image is ready.
type ImageProvider interface {
	GenerateAndWait(ctx context.Context, prompt string) (*ImageResult, error)
	Download(ctx context.Context, url string) ([]byte, error)
	IsConfigured() bool
}

// ImageClient implements ImageProvider against an async image generation API.
type ImageClient struct {
	httpClient   *http.Client
	baseURL      string
	apiKey       string
	pollInterval time.Duration
	maxWait      time.Duration
}

// GenerateImageRequest represents an image generation request
type GenerateImageRequest struct {
	Prompt string `json:"prompt"`
	Size   string `json:"size,omitempty"`
}

// GenerateImageResponse represents the task handle returned on submission
type GenerateImageResponse struct {
	TaskID string `json:"task_id"`
	Status string `json:"status"`
}

// ImageResult represents a completed image generation task
type ImageResult struct {
	TaskID   string `json:"task_id"`
	Status   string `json:"status"`
	ImageURL string `json:"image_url,omitempty"`
}

// NewImageClient creates a new image generation client
func NewImageClient(cfg *config.ImageConfig) *ImageClient {
	maxWait := time.Duration(cfg.Timeout) * time.Second
	if maxWait <= 0 {
		maxWait = 45 * time.Second
	}
	pollInterval := time.Duration(cfg.PollInterval) * time.Second
	if pollInterval <= 0 {
		pollInterval = 3 * time.Second
	}
	return &ImageClient{
		httpClient:   &http.Client{Timeout: 30 * time.Second},
		baseURL:      cfg.BaseURL,
		apiKey:       cfg.APIKey,
		pollInterval: pollInterval,
		maxWait:      maxWait,
	}
}

// GenerateAndWait submits a generation task and polls until it completes or
// the per-call budget runs out.
func (c *ImageClient) GenerateAndWait(ctx context.Context, prompt string) (*ImageResult, error) {
	submitted, err := c.submit(ctx, prompt)
	if err != nil {
		return nil, err
	}
	return c.poll(ctx, submitted.TaskID)
}

func (c *ImageClient) submit(ctx context.Context, prompt string) (*GenerateImageResponse, error) {
	req := &GenerateImageRequest{Prompt: prompt, Size: "1024x1024"}
	var result GenerateImageResponse
	if err := c.post(ctx, "/images/generations", req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *ImageClient) getStatus(ctx context.Context, taskID string) (*ImageResult, error) {
	endpoint := fmt.Sprintf("/images/generations/%s", taskID)
	var result ImageResult
	if err := c.get(ctx, endpoint, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *ImageClient) poll(ctx context.Context, taskID string) (*ImageResult, error) {
	deadline := time.Now().Add(c.maxWait)
	attempt := 0

	for time.Now().Before(deadline) {
		attempt++
		result, err := c.getStatus(ctx, taskID)
		if err != nil {
			log.Printf("[Image API] Poll #%d (task=%s) error: %v", attempt, taskID, err)
			return nil, err
		}

		switch result.Status {
		case "completed", "success":
			return result, nil
		case "failed", "error":
			return nil, agent.NewFatalError(fmt.Errorf("image generation failed: %s", result.Status))
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(c.pollInterval):
		}
	}

	return nil, agent.NewTransientError(fmt.Errorf("image generation timed out after %v", c.maxWait))
}

// Download fetches raw image bytes from the provider's result URL.
func (c *ImageClient) Download(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, agent.NewTransientError(fmt.Errorf("failed to download image: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, agent.NewTransientError(fmt.Errorf("image download error (status %d)", resp.StatusCode))
	}

	return io.ReadAll(resp.Body)
}

// post sends a POST request with JSON body
func (c *ImageClient) post(ctx context.Context, endpoint string, body interface{}, result interface{}) error {
	bodyBytes, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, bytes.NewReader(bodyBytes))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	return c.doRequest(req, result)
}

// get sends a GET request and parses JSON response
func (c *ImageClient) get(ctx context.Context, endpoint string, result interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+endpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	return c.doRequest(req, result)
}

// doRequest executes an HTTP request and parses the response
func (c *ImageClient) doRequest(req *http.Request, result interface{}) error {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return agent.NewTransientError(fmt.Errorf("failed to send request: %w", err))
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return agent.NewTransientError(fmt.Errorf("failed to read response: %w", err))
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		reqErr := fmt.Errorf("image API error (status %d): %s", resp.StatusCode, string(respBody))
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return agent.NewTransientError(reqErr)
		}
		return agent.NewFatalError(reqErr)
	}

	if err := json.Unmarshal(respBody, result); err != nil {
		return fmt.Errorf("failed to unmarshal response: %w", err)
	}

	return nil
}

// IsConfigured returns true if the client has valid configuration
func (c *ImageClient) IsConfigured() bool {
	return c.apiKey != ""
}
