// Package orchestrator resolves generation requests to a ready tier, drives the
// selected backend, and turns its output into a WAV response.
package orchestrator

import (
	"errors"
	"strings"
	"unicode/utf8"

	"github.com/book-expert/murmur-tts/internal/api"
	"github.com/book-expert/murmur-tts/internal/tier"
)

// Parameter defaults and bounds.
const (
	DefaultExaggeration = 0.5
	DefaultCFGWeight    = 0.5
	DefaultSpeed        = 1.0
	MinSpeed            = 0.5
	MaxSpeed            = 2.0
	MaxFadeOutSeconds   = 5.0
)

const (
	errTextEmpty        = "text cannot be empty"
	errFmtTextTooLong   = "text is %d characters; the limit is %d"
	errFmtParamRange    = "%s must be between %g and %g, got %g"
	errFmtUnknownTier   = "unknown tier %q"
	errFmtUnknownLegacy = "unknown legacy_model %q"
)

// Request is a validated generation request with defaults applied.
type Request struct {
	Text string
	// Tier is the requested tier after legacy normalization, before resolution.
	Tier            tier.Tier
	Exaggeration    float64
	CFGWeight       float64
	Speed           float64
	FadeOutSeconds  float64
	VoiceID         string
	AudioPromptPath string
}

// NormalizeTier folds the legacy two-valued model selector into the tier
// scheme. An explicit tier wins; with neither given the request targets Fast.
func NormalizeTier(tierName, legacyModel string) (tier.Tier, error) {
	if strings.TrimSpace(tierName) != "" {
		return tier.Parse(tierName)
	}

	if strings.TrimSpace(legacyModel) != "" {
		return tier.ParseLegacy(legacyModel)
	}

	return tier.Fast, nil
}

// NewRequest validates a wire request. maxTextLength is measured in
// characters; zero disables the limit.
func NewRequest(in api.GenerateRequest, maxTextLength int) (Request, error) {
	if strings.TrimSpace(in.Text) == "" {
		return Request{}, validationError(errTextEmpty)
	}

	length := utf8.RuneCountInString(in.Text)
	if maxTextLength > 0 && length > maxTextLength {
		return Request{}, validationError(errFmtTextTooLong, length, maxTextLength)
	}

	requested, err := NormalizeTier(in.Tier, in.LegacyModel)
	if err != nil {
		if errors.Is(err, tier.ErrUnknownLegacyModel) {
			return Request{}, validationError(errFmtUnknownLegacy, in.LegacyModel)
		}

		return Request{}, validationError(errFmtUnknownTier, in.Tier)
	}

	exaggeration, err := bounded("exaggeration", in.Exaggeration, DefaultExaggeration, 0, 1)
	if err != nil {
		return Request{}, err
	}

	cfgWeight, err := bounded("cfg_weight", in.CFGWeight, DefaultCFGWeight, 0, 1)
	if err != nil {
		return Request{}, err
	}

	speed, err := bounded("speed", in.Speed, DefaultSpeed, MinSpeed, MaxSpeed)
	if err != nil {
		return Request{}, err
	}

	fade, err := bounded("fade_out_seconds", in.FadeOutSeconds, 0, 0, MaxFadeOutSeconds)
	if err != nil {
		return Request{}, err
	}

	return Request{
		Text:            in.Text,
		Tier:            requested,
		Exaggeration:    exaggeration,
		CFGWeight:       cfgWeight,
		Speed:           speed,
		FadeOutSeconds:  fade,
		VoiceID:         strings.TrimSpace(in.VoiceID),
		AudioPromptPath: strings.TrimSpace(in.AudioPromptPath),
	}, nil
}

func bounded(name string, value *float64, fallback, low, high float64) (float64, error) {
	if value == nil {
		return fallback, nil
	}

	// NaN fails both comparisons, so test for the in-range case.
	if !(*value >= low && *value <= high) {
		return 0, validationError(errFmtParamRange, name, low, high, *value)
	}

	return *value, nil
}
