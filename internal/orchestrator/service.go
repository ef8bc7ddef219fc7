package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/murmur-tts/internal/api"
	"github.com/book-expert/murmur-tts/internal/audio"
	"github.com/book-expert/murmur-tts/internal/config"
	"github.com/book-expert/murmur-tts/internal/tier"
)

// Request outcomes reported to the observer.
const (
	OutcomeOK               = "ok"
	OutcomeValidation       = "validation_error"
	OutcomeNoBackendReady   = "no_backend_ready"
	OutcomeBackendExhausted = "backend_exhausted"
	OutcomeBackendFailure   = "backend_failure"

	// ServedNone labels requests that never reached a backend.
	ServedNone = "none"
)

const (
	logFmtFallback  = "Requested %s tier not ready, falling back to %s"
	logFmtGenerated = "Generated %.2fs of audio on %s tier in %s (rtf %.2f)"
	errFmtEncode    = "encoding wav: %w"
)

// TextNormalizer rewrites input text before synthesis.
type TextNormalizer interface {
	Normalize(text string) string
}

// Observer receives per-request outcomes. Metrics implement it.
type Observer interface {
	ObserveRequest(requested, served, outcome string)
	ObserveFallback(requested, served tier.Tier)
	ObserveSynthesis(served tier.Tier, elapsed time.Duration)
}

// Result is a finished generation.
type Result struct {
	WAV            []byte
	SampleRate     int
	Duration       float64
	Format         audio.Format
	RequestedTier  tier.Tier
	TierUsed       tier.Tier
	ModelUsed      string
	Fallback       bool
	GenerationTime time.Duration
}

// RealTimeFactor is generation time divided by audio duration.
func (r Result) RealTimeFactor() float64 {
	if r.Duration <= 0 {
		return 0
	}

	return r.GenerationTime.Seconds() / r.Duration
}

// Service is the generation pipeline: validate, resolve, dispatch,
// post-process, encode.
type Service struct {
	resolver   *Resolver
	dispatcher *Dispatcher
	tiers      config.TiersConfig
	generation config.GenerationConfig
	normalizer TextNormalizer
	observer   Observer
	log        *logger.Logger
}

// NewService wires the pipeline. normalizer is only used when text
// normalization is enabled; normalizer and observer may be nil.
func NewService(
	resolver *Resolver,
	dispatcher *Dispatcher,
	cfg *config.Config,
	normalizer TextNormalizer,
	observer Observer,
	log *logger.Logger,
) *Service {
	if !cfg.Generation.NormalizeText {
		normalizer = nil
	}

	return &Service{
		resolver:   resolver,
		dispatcher: dispatcher,
		tiers:      cfg.Tiers,
		generation: cfg.Generation,
		normalizer: normalizer,
		observer:   observer,
		log:        log,
	}
}

// Generate runs a wire request through the whole pipeline.
func (s *Service) Generate(ctx context.Context, in api.GenerateRequest) (Result, error) {
	req, err := NewRequest(in, s.generation.MaxTextLength)
	if err != nil {
		s.observeRequest(ServedNone, ServedNone, err)

		return Result{}, err
	}

	return s.Run(ctx, req)
}

// Run serves an already validated request.
func (s *Service) Run(ctx context.Context, req Request) (Result, error) {
	started := time.Now()

	served, err := s.resolver.Resolve(req.Tier)
	if err != nil {
		s.observeRequest(req.Tier.String(), ServedNone, err)

		return Result{}, err
	}

	if served != req.Tier {
		s.log.Warn(logFmtFallback, req.Tier, served)

		if s.observer != nil {
			s.observer.ObserveFallback(req.Tier, served)
		}
	}

	if s.normalizer != nil {
		req.Text = s.normalizer.Normalize(req.Text)
	}

	synthStarted := time.Now()

	buffer, err := s.dispatcher.Dispatch(ctx, served, req)
	if err != nil {
		s.observeRequest(req.Tier.String(), served.String(), err)

		return Result{}, err
	}

	if s.observer != nil {
		s.observer.ObserveSynthesis(served, time.Since(synthStarted))
	}

	tierCfg := s.tiers.For(served)

	buffer = audio.ApplyFadeOut(buffer, req.FadeOutSeconds)
	if !tierCfg.NativeSpeed {
		buffer = audio.ApplySpeedChange(buffer, req.Speed)
	}

	wav, err := audio.EncodeWAV(buffer)
	if err != nil {
		failure := backendFailure(fmt.Errorf(errFmtEncode, err))
		s.observeRequest(req.Tier.String(), served.String(), failure)

		return Result{}, failure
	}

	result := Result{
		WAV:            wav,
		SampleRate:     buffer.SampleRate,
		Duration:       buffer.Duration(),
		Format:         audio.FormatWAV,
		RequestedTier:  req.Tier,
		TierUsed:       served,
		ModelUsed:      tierCfg.ModelName,
		Fallback:       served != req.Tier,
		GenerationTime: time.Since(started),
	}

	s.log.Info(logFmtGenerated, result.Duration, served, result.GenerationTime.Round(time.Millisecond), result.RealTimeFactor())
	s.observeRequest(req.Tier.String(), served.String(), nil)

	return result, nil
}

func (s *Service) observeRequest(requested, served string, err error) {
	if s.observer == nil {
		return
	}

	s.observer.ObserveRequest(requested, served, Outcome(err))
}

// Outcome maps an error returned by the service to its outcome label.
func Outcome(err error) string {
	switch {
	case err == nil:
		return OutcomeOK
	case errors.Is(err, ErrValidation):
		return OutcomeValidation
	case errors.Is(err, ErrNoBackendReady):
		return OutcomeNoBackendReady
	case errors.Is(err, ErrBackendExhausted):
		return OutcomeBackendExhausted
	default:
		return OutcomeBackendFailure
	}
}
