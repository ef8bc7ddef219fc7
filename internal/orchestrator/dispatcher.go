package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/book-expert/logger"
	"github.com/book-expert/murmur-tts/internal/audio"
	"github.com/book-expert/murmur-tts/internal/config"
	"github.com/book-expert/murmur-tts/internal/core"
	"github.com/book-expert/murmur-tts/internal/lifecycle"
	"github.com/book-expert/murmur-tts/internal/tier"
	"github.com/book-expert/murmur-tts/internal/voice"
)

const (
	logFmtUnknownVoice     = "Unknown voice %q for %s tier, using default: %s"
	logFmtNoSample         = "No sample for voice %q; %s tier proceeds without cloning"
	logFmtUsingSample      = "Using voice sample: %s"
	logFmtPromptIgnored    = "%s tier cannot clone; ignoring audio_prompt_path"
	logFmtReleaseFailed    = "Memory release on %s tier failed: %v"
	logFmtSynthesisFailed  = "Generation failed on %s tier: %v"
	logFmtSynthesisStarted = "Generating speech on %s tier: %d characters, voice=%q"
	errFmtBackendPanic     = "backend panicked: %v"
	errFmtNormalize        = "normalizing %s output: %w"
)

// exhaustionMarkers are message fragments backends use for device memory or
// allocation failures when they do not wrap core.ErrResourceExhausted.
var exhaustionMarkers = []string{
	"out of memory",
	"failed to allocate",
	"allocation failed",
	"resource exhausted",
	"resource_exhausted",
	"insufficient memory",
}

// Dispatcher runs one synthesis on a resolved tier.
type Dispatcher struct {
	registry *lifecycle.Registry
	tiers    config.TiersConfig
	catalog  *voice.Catalog
	log      *logger.Logger
}

// NewDispatcher creates a dispatcher.
func NewDispatcher(
	registry *lifecycle.Registry,
	tiers config.TiersConfig,
	catalog *voice.Catalog,
	log *logger.Logger,
) *Dispatcher {
	return &Dispatcher{
		registry: registry,
		tiers:    tiers,
		catalog:  catalog,
		log:      log,
	}
}

// Dispatch synthesizes req on the given tier and returns a mono buffer at the
// backend's native rate. Every failure is an *Error.
func (d *Dispatcher) Dispatch(ctx context.Context, which tier.Tier, req Request) (audio.SampleBuffer, error) {
	slot := d.registry.Slot(which)

	release, err := slot.Acquire(ctx)
	if err != nil {
		if errors.Is(err, lifecycle.ErrSlotClosed) {
			return audio.SampleBuffer{}, noBackendReady()
		}

		return audio.SampleBuffer{}, backendFailure(err)
	}
	defer release()

	// The gate is held, so a ready handle cannot be closed underneath us.
	state := slot.Snapshot()
	if !state.Available() {
		return audio.SampleBuffer{}, noBackendReady()
	}

	tierCfg := d.tiers.For(which)
	input := d.prepare(which, tierCfg, req)

	d.log.Info(logFmtSynthesisStarted, which, len([]rune(input.Text)), input.Voice)

	if tierCfg.Accelerated {
		d.releaseMemory(ctx, which, state.Backend)
	}

	output, err := d.synthesize(ctx, tierCfg, state.Backend, input)

	exhausted := err != nil && isExhaustion(err)
	if tierCfg.Accelerated || exhausted {
		d.releaseMemory(ctx, which, state.Backend)
	}

	if err != nil {
		d.log.Error(logFmtSynthesisFailed, which, err)

		if exhausted {
			return audio.SampleBuffer{}, backendExhausted(err)
		}

		return audio.SampleBuffer{}, backendFailure(err)
	}

	if output.SampleRate == 0 {
		output.SampleRate = tierCfg.SampleRate
	}

	buffer, err := audio.Flatten(output)
	if err != nil {
		return audio.SampleBuffer{}, backendFailure(fmt.Errorf(errFmtNormalize, which, err))
	}

	return buffer, nil
}

// prepare builds the tier-appropriate synthesis input. Parameters a tier does
// not understand are dropped, not rejected.
func (d *Dispatcher) prepare(which tier.Tier, tierCfg config.TierConfig, req Request) core.SynthesisInput {
	input := core.SynthesisInput{
		Text:          req.Text,
		Voice:         "",
		ReferencePath: "",
		Speed:         0,
		Exaggeration:  0,
		CFGWeight:     0,
	}

	if tierCfg.SupportsCloning {
		input.ReferencePath = d.referencePath(which, req)
	} else {
		input.Voice = d.presetVoice(which, req.VoiceID)

		if req.AudioPromptPath != "" {
			d.log.Warn(logFmtPromptIgnored, which)
		}
	}

	if tierCfg.NativeSpeed {
		input.Speed = req.Speed
	}

	if tierCfg.SupportsStyle {
		input.Exaggeration = req.Exaggeration
		input.CFGWeight = req.CFGWeight
	}

	return input
}

// referencePath resolves the cloning sample. An explicit path wins over a
// voice id; a missing sample is not an error.
func (d *Dispatcher) referencePath(which tier.Tier, req Request) string {
	if req.AudioPromptPath != "" {
		return req.AudioPromptPath
	}

	if req.VoiceID == "" || req.VoiceID == voice.DefaultID {
		return ""
	}

	path, ok := d.catalog.SamplePath(req.VoiceID)
	if !ok {
		d.log.Warn(logFmtNoSample, req.VoiceID, which)

		return ""
	}

	d.log.Info(logFmtUsingSample, path)

	return path
}

func (d *Dispatcher) presetVoice(which tier.Tier, voiceID string) string {
	if voiceID == "" || voiceID == voice.DefaultID {
		return voice.DefaultPreset
	}

	if _, ok := d.catalog.Preset(voiceID); !ok {
		d.log.Warn(logFmtUnknownVoice, voiceID, which, voice.DefaultPreset)

		return voice.DefaultPreset
	}

	return voiceID
}

// synthesize calls the backend and converts a panic into an error so that no
// backend fault crosses this boundary unclassified.
func (d *Dispatcher) synthesize(
	ctx context.Context,
	tierCfg config.TierConfig,
	backend core.Backend,
	input core.SynthesisInput,
) (output core.RawOutput, err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			output = core.RawOutput{Segments: nil, SampleRate: 0}
			err = fmt.Errorf(errFmtBackendPanic, recovered)
		}
	}()

	if timeout := tierCfg.RequestTimeout(); timeout > 0 {
		var cancel context.CancelFunc

		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	return backend.Synthesize(ctx, input)
}

func (d *Dispatcher) releaseMemory(ctx context.Context, which tier.Tier, backend core.Backend) {
	releaser, ok := backend.(core.MemoryReleaser)
	if !ok {
		return
	}

	err := releaser.ReleaseMemory(context.WithoutCancel(ctx))
	if err != nil {
		d.log.Warn(logFmtReleaseFailed, which, err)
	}
}

func isExhaustion(err error) bool {
	if errors.Is(err, core.ErrResourceExhausted) {
		return true
	}

	message := strings.ToLower(err.Error())
	for _, marker := range exhaustionMarkers {
		if strings.Contains(message, marker) {
			return true
		}
	}

	for _, word := range strings.FieldsFunc(message, isWordSeparator) {
		if word == "oom" {
			return true
		}
	}

	return false
}

func isWordSeparator(r rune) bool {
	return !(r >= 'a' && r <= 'z') && !(r >= '0' && r <= '9')
}
