// Package client talks to a murmur server: health, voice listing, generation
// and tier reloads.
package client

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/book-expert/murmur-tts/internal/api"
)

// API endpoints and paths.
const (
	apiGenerate   = "/generate"
	apiHealth     = "/health"
	apiVoices     = "/voices"
	apiReloadTier = "/tiers/%s/reload"
	queryTier     = "tier"
)

// HTTP headers.
const (
	headerContentType = "Content-Type"
	headerAccept      = "Accept"
	contentTypeJSON   = "application/json"
)

// Error messages.
const (
	errFmtServiceErrorWithCode = "TTS service error (%s): %s (code: %s)"
	errFmtServiceNonOKStatus   = "TTS service returned non-OK status: %s, body: %s"
	errFmtSendFailed           = "failed to send request to TTS service at %s: %w"
)

var (
	// ErrTextEmpty is returned before sending a request without text.
	ErrTextEmpty = errors.New("text cannot be empty")
	// ErrEmptyAudio is returned when the service answers without audio.
	ErrEmptyAudio = errors.New("received empty audio data")
)

// APIError is a non-2xx answer from the service.
type APIError struct {
	StatusCode int
	Status     string
	Detail     string
	Code       string
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf(errFmtServiceNonOKStatus, e.Status, e.Detail)
	}

	return fmt.Sprintf(errFmtServiceErrorWithCode, e.Status, e.Detail, e.Code)
}

// Retryable reports whether the failure is transient: no tier ready yet or
// the backend ran out of memory.
func (e *APIError) Retryable() bool {
	return e.StatusCode == http.StatusServiceUnavailable
}

// Speech is a decoded generate response.
type Speech struct {
	WAV      []byte
	Response api.GenerateResponse
}

// HTTPClient represents a client for the murmur HTTP service.
type HTTPClient struct {
	httpClient *http.Client
	baseURL    string
}

// NewHTTPClient creates a client. The baseURL should include the protocol and
// port (e.g., "http://localhost:8000"). The timeout applies to every request.
func NewHTTPClient(baseURL string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// Generate synthesizes req.Text and decodes the returned audio.
func (c *HTTPClient) Generate(ctx context.Context, req api.GenerateRequest) (Speech, error) {
	if strings.TrimSpace(req.Text) == "" {
		return Speech{}, ErrTextEmpty
	}

	requestBody, err := json.Marshal(req)
	if err != nil {
		return Speech{}, fmt.Errorf("failed to marshal request: %w", err)
	}

	var response api.GenerateResponse

	err = c.do(ctx, http.MethodPost, apiGenerate, requestBody, &response)
	if err != nil {
		return Speech{}, err
	}

	audioData, err := base64.StdEncoding.DecodeString(response.AudioBase64)
	if err != nil {
		return Speech{}, fmt.Errorf("failed to decode audio: %w", err)
	}

	if len(audioData) == 0 {
		return Speech{}, ErrEmptyAudio
	}

	return Speech{WAV: audioData, Response: response}, nil
}

// Health fetches the service health document.
func (c *HTTPClient) Health(ctx context.Context) (api.HealthResponse, error) {
	var health api.HealthResponse

	err := c.do(ctx, http.MethodGet, apiHealth, nil, &health)

	return health, err
}

// Voices lists the catalog, filtered to one tier when tierName is set.
func (c *HTTPClient) Voices(ctx context.Context, tierName string) (api.VoicesResponse, error) {
	path := apiVoices
	if tierName != "" {
		path += "?" + url.Values{queryTier: []string{tierName}}.Encode()
	}

	var voices api.VoicesResponse

	err := c.do(ctx, http.MethodGet, path, nil, &voices)

	return voices, err
}

// Reload asks the service to retry loading one tier.
func (c *HTTPClient) Reload(ctx context.Context, tierName string) (api.ReloadResponse, error) {
	var response api.ReloadResponse

	err := c.do(ctx, http.MethodPost, fmt.Sprintf(apiReloadTier, url.PathEscape(tierName)), nil, &response)

	return response, err
}

func (c *HTTPClient) do(ctx context.Context, method, path string, body []byte, target any) error {
	var reader io.Reader = http.NoBody
	if body != nil {
		reader = bytes.NewReader(body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	if body != nil {
		httpReq.Header.Set(headerContentType, contentTypeJSON)
	}

	httpReq.Header.Set(headerAccept, contentTypeJSON)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf(errFmtSendFailed, c.baseURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return parseErrorResponse(resp)
	}

	err = json.NewDecoder(resp.Body).Decode(target)
	if err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	return nil
}

// parseErrorResponse decodes the structured {detail, error_code} body and
// falls back to the raw body text.
func parseErrorResponse(resp *http.Response) error {
	apiErr := &APIError{
		StatusCode: resp.StatusCode,
		Status:     resp.Status,
		Detail:     "",
		Code:       "",
	}

	body, _ := io.ReadAll(resp.Body)

	var errorResp api.ErrorResponse

	err := json.Unmarshal(body, &errorResp)
	if err == nil && errorResp.Detail != "" {
		apiErr.Detail = errorResp.Detail
		apiErr.Code = errorResp.ErrorCode

		return apiErr
	}

	apiErr.Detail = strings.TrimSpace(string(body))

	return apiErr
}
