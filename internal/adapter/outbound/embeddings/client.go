// Package embeddings provides the HTTP client for the embedding upsert
// service used in the worker's second phase.
package embeddings

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"enrichd/internal/domain/entity"
	"enrichd/internal/port/outbound"
)

const (
	defaultTimeout    = 10 * time.Second
	upsertPath        = "/v1/embeddings/upsert"
	healthPath        = "/health"
	maxErrorBodyBytes = 4096
)

// ClientConfig holds embedding service client configuration.
type ClientConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// Validate checks the configuration.
func (c ClientConfig) Validate() error {
	if c.BaseURL == "" {
		return errors.New("embedding service base URL cannot be empty")
	}
	return nil
}

// Client calls the embedding upsert service over HTTP.
type Client struct {
	config ClientConfig
	http   *http.Client
}

// NewClient creates an embedding service client.
func NewClient(config ClientConfig) (*Client, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if config.Timeout <= 0 {
		config.Timeout = defaultTimeout
	}
	return &Client{
		config: config,
		http:   &http.Client{Timeout: config.Timeout},
	}, nil
}

// upsertResponse is the service's wire response.
type upsertResponse struct {
	Upserted bool                  `json:"upserted"`
	Model    *entity.ModelMetadata `json:"model,omitempty"`
}

// UpsertEmbedding embeds the enrichment output and upserts the vector.
func (c *Client) UpsertEmbedding(
	ctx context.Context,
	request outbound.EmbeddingUpsertRequest,
) (*outbound.EmbeddingUpsertResult, error) {
	body, err := json.Marshal(request)
	if err != nil {
		return nil, &outbound.EmbeddingError{
			Code:      "REQUEST_UNSERIALIZABLE",
			Message:   "failed to encode upsert request",
			Retryable: false,
			Cause:     err,
		}
	}

	httpRequest, err := http.NewRequestWithContext(
		ctx,
		http.MethodPost,
		c.config.BaseURL+upsertPath,
		bytes.NewReader(body),
	)
	if err != nil {
		return nil, &outbound.EmbeddingError{
			Code:      "REQUEST_INVALID",
			Message:   "failed to build upsert request",
			Retryable: false,
			Cause:     err,
		}
	}
	httpRequest.Header.Set("Content-Type", "application/json")
	if c.config.APIKey != "" {
		httpRequest.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	}

	response, err := c.http.Do(httpRequest)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return nil, err
		}
		return nil, &outbound.EmbeddingError{
			Code:      "TRANSPORT_FAILURE",
			Message:   "upsert request failed",
			Retryable: true,
			Cause:     err,
		}
	}
	defer response.Body.Close()

	if response.StatusCode != http.StatusOK {
		return nil, errorFromStatus(response)
	}

	var decoded upsertResponse
	if err := json.NewDecoder(response.Body).Decode(&decoded); err != nil {
		return nil, &outbound.EmbeddingError{
			Code:      "RESPONSE_MALFORMED",
			Message:   "failed to decode upsert response",
			Retryable: false,
			Cause:     err,
		}
	}

	return &outbound.EmbeddingUpsertResult{
		Upserted:      decoded.Upserted,
		ModelMetadata: decoded.Model,
	}, nil
}

// errorFromStatus maps HTTP status codes to typed errors. Server-side and
// throttling failures are retryable; client errors are not.
func errorFromStatus(response *http.Response) *outbound.EmbeddingError {
	snippet, _ := io.ReadAll(io.LimitReader(response.Body, maxErrorBodyBytes))

	retryable := response.StatusCode >= http.StatusInternalServerError ||
		response.StatusCode == http.StatusTooManyRequests

	return &outbound.EmbeddingError{
		Code:      fmt.Sprintf("HTTP_%d", response.StatusCode),
		Message:   string(snippet),
		Retryable: retryable,
	}
}

// Ping checks service reachability.
func (c *Client) Ping(ctx context.Context) error {
	httpRequest, err := http.NewRequestWithContext(ctx, http.MethodGet, c.config.BaseURL+healthPath, nil)
	if err != nil {
		return fmt.Errorf("build health request: %w", err)
	}

	response, err := c.http.Do(httpRequest)
	if err != nil {
		return fmt.Errorf("embedding service unreachable: %w", err)
	}
	defer response.Body.Close()

	if response.StatusCode != http.StatusOK {
		return fmt.Errorf("embedding service unhealthy: status %d", response.StatusCode)
	}
	return nil
}
