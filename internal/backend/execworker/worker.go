// Package execworker runs a command-line synthesizer once per request. The
// binary writes a WAV file which is decoded back into samples.
package execworker

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"github.com/book-expert/logger"
	"github.com/book-expert/murmur-tts/internal/audio"
	"github.com/book-expert/murmur-tts/internal/config"
	"github.com/book-expert/murmur-tts/internal/core"
	"github.com/book-expert/murmur-tts/internal/tier"
)

// Synthesizer command-line flags.
const (
	flagModel        = "--model"
	flagText         = "--text"
	flagOutput       = "--output"
	flagDevice       = "--device"
	flagVoice        = "--voice"
	flagReference    = "--reference"
	flagSpeed        = "--speed"
	flagExaggeration = "--exaggeration"
	flagCFGWeight    = "--cfg-weight"
)

const (
	tempFilePattern = "murmur-exec-*.wav"
	floatFormat     = 'f'
	floatPrecision  = 2
	floatBits       = 64
)

const (
	errFmtExecFailed    = "%s execution failed: %w - output: %s"
	logFmtLoaded        = "Using %s for tier %s (model %s)"
	logFmtRemoveTempErr = "Failed to remove temp file '%s': %v"
)

// ErrMissingBinary is returned when a tier selects the exec driver without a binary.
var ErrMissingBinary = errors.New("binary_path is required for the exec driver")

// Backend is a core.Backend that shells out to a synthesizer binary.
type Backend struct {
	binary      string
	model       string
	device      string
	nativeSpeed bool
	style       bool
	log         *logger.Logger
}

// New checks that the binary can be found and the model file resolved.
func New(which tier.Tier, cfg config.TierConfig, device string, log *logger.Logger) (*Backend, error) {
	if cfg.BinaryPath == "" {
		return nil, fmt.Errorf("%w: tier %s", ErrMissingBinary, which)
	}

	binary, err := exec.LookPath(cfg.BinaryPath)
	if err != nil {
		return nil, fmt.Errorf("locating synthesizer for tier %s: %w", which, err)
	}

	model := cfg.ModelName
	if cfg.ModelPath != "" {
		model, err = ResolveModelPath(cfg.ModelPath)
		if err != nil {
			return nil, err
		}
	}

	log.Info(logFmtLoaded, binary, which, model)

	return &Backend{
		binary:      binary,
		model:       model,
		device:      device,
		nativeSpeed: cfg.NativeSpeed,
		style:       cfg.SupportsStyle,
		log:         log,
	}, nil
}

// NewFactory returns a lifecycle factory for the exec driver.
func NewFactory(device string) func(context.Context, tier.Tier, config.TierConfig, *logger.Logger) (core.Backend, error) {
	return func(_ context.Context, which tier.Tier, cfg config.TierConfig, log *logger.Logger) (core.Backend, error) {
		backend, err := New(which, cfg, device, log)
		if err != nil {
			return nil, err
		}

		return backend, nil
	}
}

// Synthesize runs the binary once and decodes the WAV it writes.
func (b *Backend) Synthesize(ctx context.Context, input core.SynthesisInput) (core.RawOutput, error) {
	tempFile, err := os.CreateTemp("", tempFilePattern)
	if err != nil {
		return core.RawOutput{}, fmt.Errorf("failed to create temp file for synthesis output: %w", err)
	}

	_ = tempFile.Close()

	defer func() {
		removeErr := os.Remove(tempFile.Name())
		if removeErr != nil && !errors.Is(removeErr, os.ErrNotExist) {
			b.log.Warn(logFmtRemoveTempErr, tempFile.Name(), removeErr)
		}
	}()

	// #nosec G204 -- the binary comes from configuration and arguments are passed without a shell
	cmd := exec.CommandContext(ctx, b.binary, b.args(input, tempFile.Name())...)

	output, err := cmd.CombinedOutput()
	if err != nil {
		return core.RawOutput{}, fmt.Errorf(errFmtExecFailed, b.binary, err, strings.TrimSpace(string(output)))
	}

	data, err := os.ReadFile(tempFile.Name())
	if err != nil {
		return core.RawOutput{}, fmt.Errorf("failed to read audio data from temp file: %w", err)
	}

	buffer, err := audio.DecodeWAV(data)
	if err != nil {
		return core.RawOutput{}, err
	}

	return core.RawOutput{
		Segments:   []core.Tensor{{Shape: []int{len(buffer.Samples)}, Data: buffer.Samples}},
		SampleRate: buffer.SampleRate,
	}, nil
}

// Close is a no-op; nothing stays resident between runs.
func (b *Backend) Close() error {
	return nil
}

func (b *Backend) args(input core.SynthesisInput, outputPath string) []string {
	args := []string{
		flagModel, b.model,
		flagText, input.Text,
		flagOutput, outputPath,
	}

	if b.device != "" {
		args = append(args, flagDevice, b.device)
	}

	if input.Voice != "" {
		args = append(args, flagVoice, input.Voice)
	}

	if input.ReferencePath != "" {
		args = append(args, flagReference, input.ReferencePath)
	}

	if b.nativeSpeed {
		args = append(args, flagSpeed, formatFloat(input.Speed))
	}

	if b.style {
		args = append(args,
			flagExaggeration, formatFloat(input.Exaggeration),
			flagCFGWeight, formatFloat(input.CFGWeight))
	}

	return args
}

func formatFloat(value float64) string {
	return strconv.FormatFloat(value, floatFormat, floatPrecision, floatBits)
}
