package audio

import "math"

// ApplySpeedChange adjusts playback speed by reinterpreting the sample rate
// (effective rate = base rate × speed). The waveform is not resampled, so pitch
// shifts along with tempo. Speed 1.0 returns the buffer unchanged.
func ApplySpeedChange(buffer SampleBuffer, speed float64) SampleBuffer {
	if speed == 1.0 || speed <= 0 {
		return buffer
	}

	return SampleBuffer{
		Samples:    buffer.Samples,
		SampleRate: int(float64(buffer.SampleRate) * speed),
	}
}

// ApplyFadeOut linearly ramps the trailing fadeSeconds of the buffer down to
// silence. Non-positive durations are a no-op and the fade window is clamped to
// the buffer length. The input buffer is not modified.
func ApplyFadeOut(buffer SampleBuffer, fadeSeconds float64) SampleBuffer {
	if fadeSeconds <= 0 || len(buffer.Samples) == 0 || buffer.SampleRate <= 0 {
		return buffer
	}

	fadeSamples := int(math.Round(fadeSeconds * float64(buffer.SampleRate)))
	if fadeSamples <= 0 {
		return buffer
	}

	if fadeSamples > len(buffer.Samples) {
		fadeSamples = len(buffer.Samples)
	}

	faded := make([]float32, len(buffer.Samples))
	copy(faded, buffer.Samples)

	start := len(faded) - fadeSamples

	// Gain runs from 1 at the window start to exactly 0 on the final sample.
	for offset := range fadeSamples {
		var gain float64
		if fadeSamples > 1 {
			gain = 1.0 - float64(offset)/float64(fadeSamples-1)
		}

		faded[start+offset] = float32(float64(faded[start+offset]) * gain)
	}

	return SampleBuffer{Samples: faded, SampleRate: buffer.SampleRate}
}
