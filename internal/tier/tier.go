// Package tier defines the quality/speed classes a synthesis backend can serve.
package tier

import (
	"errors"
	"fmt"
	"strings"
)

// Tier identifies one of the backend quality classes. The zero value is Fast.
type Tier int

const (
	// Fast is the low-latency preset-voice tier.
	Fast Tier = iota
	// Normal is the mid-quality cloning-capable tier.
	Normal
	// HighQuality is the slowest tier with emotion and style control.
	HighQuality
)

// Count is the number of tiers.
const Count = 3

// Canonical tier names as used on the wire and in configuration.
const (
	NameFast        = "fast"
	NameNormal      = "normal"
	NameHighQuality = "high_quality"
)

// Legacy model selector values predating the three-tier scheme.
const (
	LegacyTurbo    = "turbo"
	LegacyStandard = "standard"
)

var (
	// ErrUnknownTier is returned when a tier name cannot be parsed.
	ErrUnknownTier = errors.New("unknown tier")
	// ErrUnknownLegacyModel is returned when a legacy model selector cannot be mapped.
	ErrUnknownLegacyModel = errors.New("unknown legacy model")
)

// FallbackOrder is the fixed preference sequence walked when a requested tier
// is not ready.
var FallbackOrder = [Count]Tier{Fast, Normal, HighQuality}

var names = [Count]string{NameFast, NameNormal, NameHighQuality}

// All returns every tier in ordinal order.
func All() []Tier {
	return []Tier{Fast, Normal, HighQuality}
}

// String returns the canonical wire name.
func (t Tier) String() string {
	if !t.Valid() {
		return fmt.Sprintf("tier(%d)", int(t))
	}

	return names[t]
}

// Valid reports whether t is one of the defined tiers.
func (t Tier) Valid() bool {
	return t >= Fast && t <= HighQuality
}

// Index returns the ordinal position of t, usable as an array index.
func (t Tier) Index() int {
	return int(t)
}

// Parse converts a tier name into a Tier. Matching is case-insensitive and
// accepts "high" and "hq" for HighQuality.
func Parse(name string) (Tier, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case NameFast:
		return Fast, nil
	case NameNormal:
		return Normal, nil
	case NameHighQuality, "high", "hq", "high-quality":
		return HighQuality, nil
	default:
		return Fast, fmt.Errorf("%w: %q", ErrUnknownTier, name)
	}
}

// ParseLegacy maps the two-valued legacy model selector onto the tier scheme.
func ParseLegacy(model string) (Tier, error) {
	switch strings.ToLower(strings.TrimSpace(model)) {
	case LegacyTurbo:
		return Normal, nil
	case LegacyStandard:
		return HighQuality, nil
	default:
		return Fast, fmt.Errorf("%w: %q", ErrUnknownLegacyModel, model)
	}
}

// MarshalText implements encoding.TextMarshaler.
func (t Tier) MarshalText() ([]byte, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownTier, int(t))
	}

	return []byte(t.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (t *Tier) UnmarshalText(text []byte) error {
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}

	*t = parsed

	return nil
}
