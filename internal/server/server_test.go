package server_test

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/murmur-tts/internal/api"
	"github.com/book-expert/murmur-tts/internal/audio"
	"github.com/book-expert/murmur-tts/internal/config"
	"github.com/book-expert/murmur-tts/internal/lifecycle"
	"github.com/book-expert/murmur-tts/internal/orchestrator"
	"github.com/book-expert/murmur-tts/internal/server"
	"github.com/book-expert/murmur-tts/internal/tier"
	"github.com/book-expert/murmur-tts/internal/voice"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// presetVoices is the size of the embedded preset set.
const presetVoices = 54

type fakeGenerator struct {
	mu       sync.Mutex
	received []api.GenerateRequest
	result   orchestrator.Result
	err      error
}

func (g *fakeGenerator) Generate(_ context.Context, req api.GenerateRequest) (orchestrator.Result, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.received = append(g.received, req)

	return g.result, g.err
}

type fakeHealth struct {
	report api.HealthResponse
}

func (h fakeHealth) Report() api.HealthResponse {
	return h.report
}

type fakeReloader struct {
	mu       sync.Mutex
	reloaded []tier.Tier
	err      error
}

func (r *fakeReloader) Reload(which tier.Tier) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.reloaded = append(r.reloaded, which)

	return r.err
}

func newTestLogger(t *testing.T) *logger.Logger {
	t.Helper()

	log, err := logger.New(t.TempDir(), "server-test.log")
	require.NoError(t, err)

	t.Cleanup(func() { _ = log.Close() })

	return log
}

func newCatalog(t *testing.T, log *logger.Logger) *voice.Catalog {
	t.Helper()

	dir := t.TempDir()
	manifest := `{"voices": [{"id": "narrator", "name": "Narrator", "gender": "female", "file": "narrator.wav"}]}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, voice.ManifestFileName), []byte(manifest), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "narrator.wav"), []byte("RIFF"), 0o600))

	catalog, err := voice.NewCatalog(dir, log)
	require.NoError(t, err)

	return catalog
}

type fixture struct {
	cfg       *config.Config
	generator *fakeGenerator
	reloader  *fakeReloader
	deps      server.Dependencies
	log       *logger.Logger
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	log := newTestLogger(t)
	generator := &fakeGenerator{}
	reloader := &fakeReloader{}

	return &fixture{
		cfg:       config.Default(),
		generator: generator,
		reloader:  reloader,
		log:       log,
		deps: server.Dependencies{
			Generator: generator,
			Health:    fakeHealth{report: api.HealthResponse{Status: api.StatusOK, Device: "cuda"}},
			Reloader:  reloader,
			Catalog:   newCatalog(t, log),
			Metrics: http.HandlerFunc(func(writer http.ResponseWriter, _ *http.Request) {
				_, _ = writer.Write([]byte("murmur_generate_requests_total 0\n"))
			}),
		},
	}
}

func (f *fixture) do(t *testing.T, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()

	var request *http.Request
	if body == "" {
		request = httptest.NewRequest(method, target, http.NoBody)
	} else {
		request = httptest.NewRequest(method, target, strings.NewReader(body))
		request.Header.Set("Content-Type", "application/json")
	}

	recorder := httptest.NewRecorder()
	server.New(f.cfg, f.deps, f.log).Handler().ServeHTTP(recorder, request)

	return recorder
}

func decode[T any](t *testing.T, recorder *httptest.ResponseRecorder) T {
	t.Helper()

	var value T
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &value), recorder.Body.String())

	return value
}

func TestHealth(t *testing.T) {
	t.Parallel()

	recorder := newFixture(t).do(t, http.MethodGet, "/health", "")

	require.Equal(t, http.StatusOK, recorder.Code)
	assert.Equal(t, "application/json", recorder.Header().Get("Content-Type"))
	assert.NotEmpty(t, recorder.Header().Get("X-Request-ID"))

	health := decode[api.HealthResponse](t, recorder)
	assert.Equal(t, api.StatusOK, health.Status)
	assert.Equal(t, "cuda", health.Device)
}

func TestRequestIDIsPropagated(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	request := httptest.NewRequest(http.MethodGet, "/health", http.NoBody)
	request.Header.Set("X-Request-ID", "abc-123")

	recorder := httptest.NewRecorder()
	server.New(f.cfg, f.deps, f.log).Handler().ServeHTTP(recorder, request)

	assert.Equal(t, "abc-123", recorder.Header().Get("X-Request-ID"))
}

func TestVoices(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name            string
		target          string
		wantCount       int
		wantTier        string
		wantCloning     bool
		wantFirstFamily string
	}{
		{name: "all", target: "/voices", wantCount: presetVoices + 3, wantTier: "", wantCloning: true, wantFirstFamily: "preset"},
		{name: "fast", target: "/voices?tier=fast", wantCount: presetVoices + 1, wantTier: "fast", wantCloning: false, wantFirstFamily: "preset"},
		{name: "normal", target: "/voices?tier=normal", wantCount: 2, wantTier: "normal", wantCloning: true, wantFirstFamily: "cloning"},
		{name: "alias", target: "/voices?tier=hq", wantCount: 2, wantTier: "high_quality", wantCloning: true, wantFirstFamily: "cloning"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			recorder := newFixture(t).do(t, http.MethodGet, tc.target, "")
			require.Equal(t, http.StatusOK, recorder.Code)

			voices := decode[api.VoicesResponse](t, recorder)
			assert.Len(t, voices.Voices, tc.wantCount)
			assert.Equal(t, tc.wantTier, voices.Tier)
			assert.Equal(t, tc.wantCloning, voices.SupportsCloning)
			assert.NotEmpty(t, voices.VoiceSamplesPath)
			require.NotEmpty(t, voices.Voices)
			assert.Equal(t, voice.DefaultID, voices.Voices[0].ID)
			assert.Equal(t, tc.wantFirstFamily, voices.Voices[0].Family)
		})
	}
}

func TestVoices_ReportsSampleFiles(t *testing.T) {
	t.Parallel()

	voices := decode[api.VoicesResponse](t, newFixture(t).do(t, http.MethodGet, "/voices?tier=normal", ""))

	require.Len(t, voices.Voices, 2)
	assert.Equal(t, "narrator", voices.Voices[1].ID)
	assert.True(t, voices.Voices[1].HasSample)
}

func TestVoices_UnknownTier(t *testing.T) {
	t.Parallel()

	recorder := newFixture(t).do(t, http.MethodGet, "/voices?tier=ultra", "")

	require.Equal(t, http.StatusBadRequest, recorder.Code)
	assert.Equal(t, api.CodeValidation, decode[api.ErrorResponse](t, recorder).ErrorCode)
}

func TestGenerate_Success(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	wav := []byte("RIFF-fake-wav")
	f.generator.result = orchestrator.Result{
		WAV:            wav,
		SampleRate:     24000,
		Duration:       1.5,
		Format:         audio.FormatWAV,
		RequestedTier:  tier.HighQuality,
		TierUsed:       tier.Fast,
		ModelUsed:      "kokoro-82m",
		Fallback:       true,
		GenerationTime: 3 * time.Second,
	}

	recorder := f.do(t, http.MethodPost, "/generate", `{"text":"hello","tier":"high_quality","speed":1.2}`)
	require.Equal(t, http.StatusOK, recorder.Code, recorder.Body.String())

	response := decode[api.GenerateResponse](t, recorder)
	audioBytes, err := base64.StdEncoding.DecodeString(response.AudioBase64)
	require.NoError(t, err)

	assert.Equal(t, wav, audioBytes)
	assert.Equal(t, 24000, response.SampleRate)
	assert.InDelta(t, 1.5, response.DurationSeconds, 1e-9)
	assert.Equal(t, "wav", response.Format)
	assert.Equal(t, "fast", response.TierUsed)
	assert.Equal(t, "high_quality", response.RequestedTier)
	assert.Equal(t, "kokoro-82m", response.ModelUsed)
	assert.True(t, response.Fallback)
	assert.InDelta(t, 3.0, response.GenerationTimeSeconds, 1e-9)
	assert.InDelta(t, 2.0, response.RealTimeFactor, 1e-9)

	require.Len(t, f.generator.received, 1)
	assert.Equal(t, "hello", f.generator.received[0].Text)
	require.NotNil(t, f.generator.received[0].Speed)
	assert.InDelta(t, 1.2, *f.generator.received[0].Speed, 1e-9)
}

func TestGenerate_ErrorMapping(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
		wantDetail string
	}{
		{
			name:       "validation",
			err:        &orchestrator.Error{Kind: orchestrator.ErrValidation, Message: "text must not be empty"},
			wantStatus: http.StatusBadRequest,
			wantCode:   api.CodeValidation,
			wantDetail: "text must not be empty",
		},
		{
			name:       "no backend",
			err:        &orchestrator.Error{Kind: orchestrator.ErrNoBackendReady, Message: "no TTS backend is ready"},
			wantStatus: http.StatusServiceUnavailable,
			wantCode:   api.CodeNoBackendReady,
			wantDetail: "no TTS backend is ready",
		},
		{
			name:       "exhausted",
			err:        &orchestrator.Error{Kind: orchestrator.ErrBackendExhausted, Message: "GPU memory exhausted; try shorter text"},
			wantStatus: http.StatusServiceUnavailable,
			wantCode:   api.CodeBackendExhausted,
			wantDetail: "GPU memory exhausted; try shorter text",
		},
		{
			name:       "failure",
			err:        &orchestrator.Error{Kind: orchestrator.ErrBackendFailure, Message: "tokenizer crashed", Cause: errors.New("tokenizer crashed")},
			wantStatus: http.StatusInternalServerError,
			wantCode:   api.CodeBackendFailure,
			wantDetail: "tokenizer crashed",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			f := newFixture(t)
			f.generator.err = tc.err

			recorder := f.do(t, http.MethodPost, "/generate", `{"text":"hello"}`)
			require.Equal(t, tc.wantStatus, recorder.Code)

			body := decode[api.ErrorResponse](t, recorder)
			assert.Equal(t, tc.wantCode, body.ErrorCode)
			assert.Equal(t, tc.wantDetail, body.Detail)
		})
	}
}

func TestGenerate_MalformedBody(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	recorder := f.do(t, http.MethodPost, "/generate", `{"text":`)

	require.Equal(t, http.StatusBadRequest, recorder.Code)
	assert.Equal(t, api.CodeValidation, decode[api.ErrorResponse](t, recorder).ErrorCode)
	assert.Empty(t, f.generator.received)
}

func TestGenerate_NoTierLoaded(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	registry := lifecycle.NewRegistry(f.cfg.Tiers)
	dispatcher := orchestrator.NewDispatcher(registry, f.cfg.Tiers, f.deps.Catalog, f.log)
	f.deps.Generator = orchestrator.NewService(orchestrator.NewResolver(registry), dispatcher, f.cfg, nil, nil, f.log)

	recorder := f.do(t, http.MethodPost, "/generate", `{"text":"hello","tier":"fast"}`)

	require.Equal(t, http.StatusServiceUnavailable, recorder.Code)
	assert.Equal(t, api.CodeNoBackendReady, decode[api.ErrorResponse](t, recorder).ErrorCode)
}

func TestReload(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name       string
		tierName   string
		err        error
		wantStatus int
		wantCode   string
	}{
		{name: "started", tierName: "normal", wantStatus: http.StatusAccepted},
		{name: "disabled", tierName: "normal", err: fmt.Errorf("%w: normal", lifecycle.ErrTierDisabled), wantStatus: http.StatusNotFound, wantCode: api.CodeNotFound},
		{name: "loading", tierName: "fast", err: fmt.Errorf("%w: fast", lifecycle.ErrLoadInProgress), wantStatus: http.StatusConflict, wantCode: api.CodeConflict},
		{name: "ready", tierName: "hq", err: fmt.Errorf("%w: high_quality", lifecycle.ErrAlreadyLoaded), wantStatus: http.StatusConflict, wantCode: api.CodeConflict},
		{name: "closed", tierName: "fast", err: lifecycle.ErrSlotClosed, wantStatus: http.StatusServiceUnavailable, wantCode: api.CodeNoBackendReady},
		{name: "unknown", tierName: "ultra", wantStatus: http.StatusNotFound, wantCode: api.CodeNotFound},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			f := newFixture(t)
			f.reloader.err = tc.err

			recorder := f.do(t, http.MethodPost, "/tiers/"+tc.tierName+"/reload", "")
			require.Equal(t, tc.wantStatus, recorder.Code, recorder.Body.String())

			if tc.wantCode == "" {
				response := decode[api.ReloadResponse](t, recorder)
				assert.Equal(t, "normal", response.Tier)
				assert.Equal(t, "loading", response.Status)

				return
			}

			assert.Equal(t, tc.wantCode, decode[api.ErrorResponse](t, recorder).ErrorCode)
		})
	}
}

func TestCORS(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	handler := server.New(f.cfg, f.deps, f.log).Handler()

	preflight := httptest.NewRequest(http.MethodOptions, "/generate", http.NoBody)
	preflight.Header.Set("Origin", "https://reader.example")

	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, preflight)

	assert.Equal(t, http.StatusNoContent, recorder.Code)
	assert.Equal(t, "*", recorder.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, recorder.Header().Get("Access-Control-Allow-Methods"), "POST")
}

func TestCORS_RestrictedOrigins(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.cfg.Server.CORSAllowedOrigins = []string{"https://reader.example"}
	handler := server.New(f.cfg, f.deps, f.log).Handler()

	for origin, want := range map[string]string{
		"https://reader.example": "https://reader.example",
		"https://other.example":  "",
	} {
		request := httptest.NewRequest(http.MethodGet, "/health", http.NoBody)
		request.Header.Set("Origin", origin)

		recorder := httptest.NewRecorder()
		handler.ServeHTTP(recorder, request)

		assert.Equal(t, http.StatusOK, recorder.Code)
		assert.Equal(t, want, recorder.Header().Get("Access-Control-Allow-Origin"), origin)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	recorder := f.do(t, http.MethodGet, "/metrics", "")

	require.Equal(t, http.StatusOK, recorder.Code)
	assert.Contains(t, recorder.Body.String(), "murmur_generate_requests_total")

	f.cfg.Metrics.Enabled = false
	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodGet, "/metrics", "").Code)
}

func TestRun_StopsOnCancel(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.cfg.Server.Host = "127.0.0.1"
	f.cfg.Server.Port = 0

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)

	go func() {
		done <- server.New(f.cfg, f.deps, f.log).Run(ctx)
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop after cancellation")
	}
}
