// Package httpworker drives a model worker process over HTTP. The worker owns
// the model weights and the accelerator; this side only loads it by waiting
// for readiness, forwards synthesis calls and asks it to drop device caches.
package httpworker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/murmur-tts/internal/config"
	"github.com/book-expert/murmur-tts/internal/core"
	"github.com/book-expert/murmur-tts/internal/tier"
)

// Worker endpoints.
const (
	apiHealth     = "/health"
	apiSynthesize = "/v1/synthesize"
	apiRelease    = "/v1/release"
)

// HTTP headers.
const (
	headerContentType = "Content-Type"
	headerAccept      = "Accept"
	contentTypeJSON   = "application/json"
)

const defaultPollInterval = 500 * time.Millisecond

// Worker health statuses.
const (
	workerStatusOK    = "ok"
	workerStatusError = "error"
)

// Worker error codes that signal device memory exhaustion.
const (
	codeResourceExhausted = "RESOURCE_EXHAUSTED"
	codeOutOfMemory       = "OUT_OF_MEMORY"
)

// Error messages.
const (
	errFmtWorkerErrorWithCode = "model worker error (%s): %s (code: %s)"
	errFmtWorkerNonOKStatus   = "model worker returned non-OK status: %s, body: %s"
	errFmtWorkerUnreachable   = "failed to reach model worker at %s: %w"
	errFmtWorkerNotReady      = "model worker at %s not ready: %w"
	errFmtWorkerLoadFailed    = "%w: worker at %s, model %s: %s"
	errBothAudioAndSegments   = "model worker returned both audio and segments"
	logFmtWaiting             = "Waiting for %s model worker at %s (%s)"
)

var (
	// ErrMissingServiceURL is returned when a tier has no worker URL configured.
	ErrMissingServiceURL = errors.New("service_url is required for the http driver")
	// ErrWorkerLoadFailed is returned when the worker reports a failed model load.
	ErrWorkerLoadFailed = errors.New("model worker failed to load")
	// ErrInvalidPayload is returned when the synthesis response cannot be decoded.
	ErrInvalidPayload = errors.New("invalid synthesis payload")
)

// Backend is a core.Backend and core.MemoryReleaser backed by a worker process.
type Backend struct {
	httpClient   *http.Client
	baseURL      string
	tier         tier.Tier
	model        string
	device       string
	nativeSpeed  bool
	style        bool
	pollInterval time.Duration
	log          *logger.Logger
}

type synthesizeRequest struct {
	Text          string   `json:"text"`
	Model         string   `json:"model,omitempty"`
	Device        string   `json:"device,omitempty"`
	Voice         string   `json:"voice,omitempty"`
	ReferencePath string   `json:"audio_prompt_path,omitempty"`
	Speed         *float64 `json:"speed,omitempty"`
	Exaggeration  *float64 `json:"exaggeration,omitempty"`
	CFGWeight     *float64 `json:"cfg_weight,omitempty"`
}

type synthesizeResponse struct {
	SampleRate int               `json:"sample_rate"`
	Audio      json.RawMessage   `json:"audio"`
	Segments   []json.RawMessage `json:"segments"`
}

// WorkerHealth is the worker's GET /health document.
type WorkerHealth struct {
	Status       string `json:"status"`
	ModelLoaded  bool   `json:"model_loaded"`
	ModelLoading bool   `json:"model_loading"`
	LoadError    string `json:"load_error"`
}

type errorResponse struct {
	Detail    string `json:"detail"`
	ErrorCode string `json:"error_code,omitempty"`
}

// New creates a backend for the worker at cfg.ServiceURL without contacting it.
func New(which tier.Tier, cfg config.TierConfig, device string, log *logger.Logger) (*Backend, error) {
	baseURL := strings.TrimRight(cfg.ServiceURL, "/")
	if baseURL == "" {
		return nil, fmt.Errorf("%w: tier %s", ErrMissingServiceURL, which)
	}

	pollInterval := cfg.HealthPollInterval()
	if pollInterval <= 0 {
		pollInterval = defaultPollInterval
	}

	return &Backend{
		httpClient:   &http.Client{Timeout: cfg.RequestTimeout()},
		baseURL:      baseURL,
		tier:         which,
		model:        cfg.ModelName,
		device:       device,
		nativeSpeed:  cfg.NativeSpeed,
		style:        cfg.SupportsStyle,
		pollInterval: pollInterval,
		log:          log,
	}, nil
}

// NewFactory returns a lifecycle factory that creates a backend and waits for
// the worker to report its model loaded.
func NewFactory(device string) func(context.Context, tier.Tier, config.TierConfig, *logger.Logger) (core.Backend, error) {
	return func(ctx context.Context, which tier.Tier, cfg config.TierConfig, log *logger.Logger) (core.Backend, error) {
		backend, err := New(which, cfg, device, log)
		if err != nil {
			return nil, err
		}

		err = backend.WaitReady(ctx)
		if err != nil {
			return nil, err
		}

		return backend, nil
	}
}

// WaitReady polls the worker health endpoint until the model is loaded, the
// worker reports a load error, or ctx ends.
func (b *Backend) WaitReady(ctx context.Context) error {
	b.log.Info(logFmtWaiting, b.tier, b.baseURL, b.model)

	ticker := time.NewTicker(b.pollInterval)
	defer ticker.Stop()

	var lastErr error

	for {
		health, err := b.Health(ctx)

		switch {
		case err != nil:
			lastErr = err
		case health.Status == workerStatusError:
			return fmt.Errorf(errFmtWorkerLoadFailed, ErrWorkerLoadFailed, b.baseURL, b.model, health.LoadError)
		case health.ModelLoaded || health.Status == workerStatusOK:
			return nil
		}

		select {
		case <-ctx.Done():
			if lastErr == nil {
				lastErr = ctx.Err()
			}

			return fmt.Errorf(errFmtWorkerNotReady, b.baseURL, lastErr)
		case <-ticker.C:
		}
	}
}

// Health fetches the worker's health document.
func (b *Backend) Health(ctx context.Context) (WorkerHealth, error) {
	var health WorkerHealth

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.baseURL+apiHealth, http.NoBody)
	if err != nil {
		return health, fmt.Errorf("failed to create health check request: %w", err)
	}

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return health, fmt.Errorf(errFmtWorkerUnreachable, b.baseURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return health, parseErrorResponse(resp)
	}

	err = json.NewDecoder(resp.Body).Decode(&health)
	if err != nil {
		return health, fmt.Errorf("failed to decode health response: %w", err)
	}

	return health, nil
}

// Synthesize forwards one synthesis call to the worker.
func (b *Backend) Synthesize(ctx context.Context, input core.SynthesisInput) (core.RawOutput, error) {
	payload := synthesizeRequest{
		Text:          input.Text,
		Model:         b.model,
		Device:        b.device,
		Voice:         input.Voice,
		ReferencePath: input.ReferencePath,
		Speed:         nil,
		Exaggeration:  nil,
		CFGWeight:     nil,
	}

	// Parameters the model does not take are omitted so the worker keeps its own defaults.
	if b.nativeSpeed {
		payload.Speed = &input.Speed
	}

	if b.style {
		payload.Exaggeration = &input.Exaggeration
		payload.CFGWeight = &input.CFGWeight
	}

	requestBody, err := json.Marshal(payload)
	if err != nil {
		return core.RawOutput{}, fmt.Errorf("failed to marshal request: %w", err)
	}

	resp, err := b.post(ctx, apiSynthesize, requestBody)
	if err != nil {
		return core.RawOutput{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return core.RawOutput{}, parseErrorResponse(resp)
	}

	var result synthesizeResponse

	err = json.NewDecoder(resp.Body).Decode(&result)
	if err != nil {
		return core.RawOutput{}, fmt.Errorf("%w: %w", ErrInvalidPayload, err)
	}

	return result.toRawOutput()
}

// ReleaseMemory asks the worker to free cached device buffers. Workers that
// do not implement the endpoint are treated as having nothing to release.
func (b *Backend) ReleaseMemory(ctx context.Context) error {
	resp, err := b.post(ctx, apiRelease, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusNoContent, http.StatusNotFound:
		return nil
	default:
		return parseErrorResponse(resp)
	}
}

// Close drops idle connections. The worker process itself is managed outside
// this service.
func (b *Backend) Close() error {
	b.httpClient.CloseIdleConnections()

	return nil
}

func (b *Backend) post(ctx context.Context, path string, body []byte) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set(headerContentType, contentTypeJSON)
	req.Header.Set(headerAccept, contentTypeJSON)

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf(errFmtWorkerUnreachable, b.baseURL, err)
	}

	return resp, nil
}

func (p synthesizeResponse) toRawOutput() (core.RawOutput, error) {
	hasAudio := len(p.Audio) > 0 && string(p.Audio) != "null"
	if hasAudio && len(p.Segments) > 0 {
		return core.RawOutput{}, fmt.Errorf("%w: %s", ErrInvalidPayload, errBothAudioAndSegments)
	}

	raw := p.Segments
	if hasAudio {
		raw = []json.RawMessage{p.Audio}
	}

	segments := make([]core.Tensor, 0, len(raw))

	for index, message := range raw {
		tensor, err := decodeTensor(message)
		if err != nil {
			return core.RawOutput{}, fmt.Errorf("%w: segment %d: %w", ErrInvalidPayload, index, err)
		}

		segments = append(segments, tensor)
	}

	return core.RawOutput{Segments: segments, SampleRate: p.SampleRate}, nil
}

// parseErrorResponse decodes the worker's structured error. Exhaustion codes
// and 507 are wrapped in core.ErrResourceExhausted.
func parseErrorResponse(resp *http.Response) error {
	body, _ := io.ReadAll(resp.Body)

	var errorResp errorResponse

	err := json.Unmarshal(body, &errorResp)
	if err != nil || errorResp.Detail == "" {
		failure := fmt.Errorf(errFmtWorkerNonOKStatus, resp.Status, strings.TrimSpace(string(body)))
		if resp.StatusCode == http.StatusInsufficientStorage {
			return fmt.Errorf("%w: %w", core.ErrResourceExhausted, failure)
		}

		return failure
	}

	failure := fmt.Errorf(errFmtWorkerErrorWithCode, resp.Status, errorResp.Detail, errorResp.ErrorCode)

	switch {
	case resp.StatusCode == http.StatusInsufficientStorage,
		errorResp.ErrorCode == codeResourceExhausted,
		errorResp.ErrorCode == codeOutOfMemory:
		return fmt.Errorf("%w: %w", core.ErrResourceExhausted, failure)
	default:
		return failure
	}
}
