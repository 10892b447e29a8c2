package ai

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/FortunoMaxime/tri-dechet-yolo/internal/logger"
)

// ErrServiceStatus wraps non-200 answers from the inference service
var ErrServiceStatus = errors.New("inference service returned an error status")

// Client is an HTTP client for the Python inference service
type Client struct {
	serviceURL string
	httpClient *http.Client
	logger     *logger.Logger
}

// ClientConfig contains configuration for the inference client
type ClientConfig struct {
	ServiceURL string
	Timeout    time.Duration
}

// NewClient creates a new inference service client
func NewClient(config ClientConfig, log *logger.Logger) *Client {
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}

	return &Client{
		serviceURL: strings.TrimRight(config.ServiceURL, "/"),
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
		logger: log,
	}
}

// Infer sends one JPEG to the inference service
func (c *Client) Infer(ctx context.Context, jpegData []byte, confidence float64) (*InferenceResponse, error) {
	req := InferenceRequest{
		Image:               base64.StdEncoding.EncodeToString(jpegData),
		ConfidenceThreshold: &confidence,
	}

	jsonData, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	url := c.serviceURL + "/api/v1/inference"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	startTime := time.Now()
	var inferenceResp InferenceResponse
	if err := c.do(httpReq, &inferenceResp); err != nil {
		return nil, err
	}

	c.logger.Debug("Inference completed",
		"detection_count", len(inferenceResp.BoundingBoxes),
		"inference_time_ms", inferenceResp.InferenceTimeMs,
		"request_duration_ms", time.Since(startTime).Milliseconds(),
	)

	return &inferenceResp, nil
}

// Model fetches the model description (class table, input size)
func (c *Client) Model(ctx context.Context) (*ModelResponse, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.serviceURL+"/api/v1/model", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	var model ModelResponse
	if err := c.do(httpReq, &model); err != nil {
		return nil, err
	}
	return &model, nil
}

// HealthCheck checks if the inference service is ready
func (c *Client) HealthCheck(ctx context.Context) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.serviceURL+"/health/ready", nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	return c.do(httpReq, nil)
}

// do sends req and decodes a 200 JSON body into out (when non-nil)
func (c *Client) do(req *http.Request, out interface{}) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		c.logger.Warn("Inference service returned error",
			"url", req.URL.String(),
			"status", resp.StatusCode,
			"response", string(body),
		)
		return fmt.Errorf("%w: status %d: %s", ErrServiceStatus, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}
