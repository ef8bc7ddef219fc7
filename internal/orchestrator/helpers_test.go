package orchestrator_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/murmur-tts/internal/config"
	"github.com/book-expert/murmur-tts/internal/core"
	"github.com/book-expert/murmur-tts/internal/lifecycle"
	"github.com/book-expert/murmur-tts/internal/orchestrator"
	"github.com/book-expert/murmur-tts/internal/tier"
	"github.com/book-expert/murmur-tts/internal/voice"
	"github.com/stretchr/testify/require"
)

const (
	testDriver     = "fake"
	testSampleRate = 24000
)

var errNotInstalled = errors.New("model package not installed")

// fakeBackend records every call and answers with a fixed result.
type fakeBackend struct {
	mu       sync.Mutex
	inputs   []core.SynthesisInput
	releases int
	output   core.RawOutput
	err      error
	panicMsg string
}

func newFakeBackend(samples ...float32) *fakeBackend {
	if len(samples) == 0 {
		samples = []float32{0.5, 0.5, 0.5, 0.5}
	}

	return &fakeBackend{
		mu:       sync.Mutex{},
		inputs:   nil,
		releases: 0,
		output: core.RawOutput{
			Segments:   []core.Tensor{{Shape: []int{len(samples)}, Data: samples}},
			SampleRate: testSampleRate,
		},
		err:      nil,
		panicMsg: "",
	}
}

func (f *fakeBackend) Synthesize(_ context.Context, input core.SynthesisInput) (core.RawOutput, error) {
	f.mu.Lock()
	f.inputs = append(f.inputs, input)
	f.mu.Unlock()

	if f.panicMsg != "" {
		panic(f.panicMsg)
	}

	return f.output, f.err
}

func (f *fakeBackend) ReleaseMemory(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.releases++

	return nil
}

func (f *fakeBackend) Close() error {
	return nil
}

func (f *fakeBackend) lastInput(t *testing.T) core.SynthesisInput {
	t.Helper()

	f.mu.Lock()
	defer f.mu.Unlock()

	require.NotEmpty(t, f.inputs)

	return f.inputs[len(f.inputs)-1]
}

func (f *fakeBackend) releaseCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.releases
}

type recordingObserver struct {
	mu        sync.Mutex
	requests  []string
	fallbacks int
	synthesis int
}

func (r *recordingObserver) ObserveRequest(requested, served, outcome string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.requests = append(r.requests, requested+">"+served+":"+outcome)
}

func (r *recordingObserver) ObserveFallback(tier.Tier, tier.Tier) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.fallbacks++
}

func (r *recordingObserver) ObserveSynthesis(tier.Tier, time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.synthesis++
}

type harness struct {
	cfg        *config.Config
	registry   *lifecycle.Registry
	catalog    *voice.Catalog
	samplesDir string
	dispatcher *orchestrator.Dispatcher
	resolver   *orchestrator.Resolver
	service    *orchestrator.Service
	health     *orchestrator.HealthReporter
	observer   *recordingObserver
}

func newTestLogger(t *testing.T) *logger.Logger {
	t.Helper()

	log, err := logger.New(t.TempDir(), "orchestrator-test.log")
	require.NoError(t, err)

	t.Cleanup(func() { _ = log.Close() })

	return log
}

func testConfig() *config.Config {
	cfg := config.Default()
	for _, tierCfg := range []*config.TierConfig{&cfg.Tiers.Fast, &cfg.Tiers.Normal, &cfg.Tiers.HighQuality} {
		tierCfg.Driver = testDriver
		tierCfg.MaxConcurrent = 1
		tierCfg.LoadTimeoutSeconds = 5
		tierCfg.RequestTimeoutSeconds = 5
	}

	return cfg
}

func writeVoiceLibrary(t *testing.T) string {
	t.Helper()

	dir := t.TempDir()
	manifest := `{"voices": [
		{"id": "narrator", "name": "Narrator", "file": "narrator.wav"},
		{"id": "lost", "name": "Lost", "file": "lost.wav"}
	]}`

	require.NoError(t, os.WriteFile(filepath.Join(dir, voice.ManifestFileName), []byte(manifest), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "narrator.wav"), []byte("RIFF"), 0o600))

	return dir
}

// newHarness loads the given backends; tiers without one fail to load.
func newHarness(t *testing.T, backends map[tier.Tier]core.Backend) *harness {
	t.Helper()

	return newHarnessWithConfig(t, testConfig(), backends)
}

func newHarnessWithConfig(t *testing.T, cfg *config.Config, backends map[tier.Tier]core.Backend) *harness {
	t.Helper()

	log := newTestLogger(t)
	samplesDir := writeVoiceLibrary(t)

	catalog, err := voice.NewCatalog(samplesDir, log)
	require.NoError(t, err)

	registry := lifecycle.NewRegistry(cfg.Tiers)
	factories := map[string]lifecycle.Factory{
		testDriver: func(_ context.Context, which tier.Tier, _ config.TierConfig, _ *logger.Logger) (core.Backend, error) {
			backend, ok := backends[which]
			if !ok {
				return nil, errNotInstalled
			}

			return backend, nil
		},
	}

	loader := lifecycle.NewLoader(registry, cfg.Tiers, factories, nil, log)
	loader.Start(context.Background())
	loader.Wait()

	observer := &recordingObserver{mu: sync.Mutex{}, requests: nil, fallbacks: 0, synthesis: 0}
	resolver := orchestrator.NewResolver(registry)
	dispatcher := orchestrator.NewDispatcher(registry, cfg.Tiers, catalog, log)

	return &harness{
		cfg:        cfg,
		registry:   registry,
		catalog:    catalog,
		samplesDir: samplesDir,
		dispatcher: dispatcher,
		resolver:   resolver,
		service:    orchestrator.NewService(resolver, dispatcher, cfg, nil, observer, log),
		health:     orchestrator.NewHealthReporter(registry, cfg.Tiers, cfg.Server.Device, catalog),
		observer:   observer,
	}
}

func ptr(value float64) *float64 {
	return &value
}
