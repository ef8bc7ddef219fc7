// Package audio normalizes backend output into a canonical sample buffer and
// implements the post-processing stages applied before a response is returned.
package audio

import (
	"errors"
	"fmt"

	"github.com/book-expert/murmur-tts/internal/core"
)

// MaxSampleRate bounds the sample rates accepted anywhere in the pipeline.
const MaxSampleRate = 192000

// Format represents supported audio container formats.
type Format string

// FormatWAV is the only container produced by the service.
const FormatWAV Format = "wav"

const (
	errFmtShapeMismatch   = "%w: segment %d declares %d samples, carries %d"
	errFmtShapeNotMono    = "%w: segment %d has shape %v"
	errFmtNegativeDim     = "%w: segment %d has negative dimension in %v"
	errFmtSampleRateRange = "%w: sample rate %d must be between 1 and %d Hz"
)

var (
	// ErrInvalidShape indicates backend output that cannot be reduced to one dimension.
	ErrInvalidShape = errors.New("invalid sample shape")
	// ErrInvalidSampleRate indicates a sample rate outside the supported range.
	ErrInvalidSampleRate = errors.New("invalid sample rate")
	// ErrEmptyAudio indicates a backend produced no samples at all.
	ErrEmptyAudio = errors.New("backend produced no audio")
)

// SampleBuffer is the canonical audio representation: mono samples in [-1, 1]
// and the rate at which they should be played back.
type SampleBuffer struct {
	Samples    []float32
	SampleRate int
}

// Duration returns the playback length in seconds.
func (b SampleBuffer) Duration() float64 {
	if b.SampleRate <= 0 {
		return 0
	}

	return float64(len(b.Samples)) / float64(b.SampleRate)
}

// Validate checks the sample rate bound.
func (b SampleBuffer) Validate() error {
	return validateSampleRate(b.SampleRate)
}

// Flatten reduces a backend's raw output to a one-dimensional buffer. Singleton
// dimensions are collapsed and segments are concatenated in emission order; any
// shape with more than one non-singleton dimension is rejected.
func Flatten(output core.RawOutput) (SampleBuffer, error) {
	rateErr := validateSampleRate(output.SampleRate)
	if rateErr != nil {
		return SampleBuffer{}, rateErr
	}

	total := 0

	for index, segment := range output.Segments {
		count, err := segmentLength(index, segment)
		if err != nil {
			return SampleBuffer{}, err
		}

		total += count
	}

	if total == 0 {
		return SampleBuffer{}, ErrEmptyAudio
	}

	samples := make([]float32, 0, total)
	for _, segment := range output.Segments {
		samples = append(samples, segment.Data...)
	}

	return SampleBuffer{Samples: samples, SampleRate: output.SampleRate}, nil
}

// segmentLength verifies that a segment is effectively one-dimensional and
// returns its sample count.
func segmentLength(index int, segment core.Tensor) (int, error) {
	declared := 1
	nonSingleton := 0

	for _, dim := range segment.Shape {
		if dim < 0 {
			return 0, fmt.Errorf(errFmtNegativeDim, ErrInvalidShape, index, segment.Shape)
		}

		if dim != 1 {
			nonSingleton++
		}

		declared *= dim
	}

	if nonSingleton > 1 {
		return 0, fmt.Errorf(errFmtShapeNotMono, ErrInvalidShape, index, segment.Shape)
	}

	if declared != len(segment.Data) {
		return 0, fmt.Errorf(errFmtShapeMismatch, ErrInvalidShape, index, declared, len(segment.Data))
	}

	return declared, nil
}

func validateSampleRate(sampleRate int) error {
	if sampleRate <= 0 || sampleRate > MaxSampleRate {
		return fmt.Errorf(errFmtSampleRateRange, ErrInvalidSampleRate, sampleRate, MaxSampleRate)
	}

	return nil
}
