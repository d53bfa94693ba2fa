package tactile

import (
	"fmt"
	"math"
)

// AmplitudeEnvelope supplies an amplitude in [0,1] at a time (seconds)
// measured from the start of its clip.
type AmplitudeEnvelope interface {
	Sample(localSeconds float64) float64
}

func clamp01(v float64) float64 {
	switch {
	case math.IsNaN(v), v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}

// ConstantEnvelope holds one level for the whole clip.
type ConstantEnvelope float64

// Sample returns the constant level.
func (c ConstantEnvelope) Sample(localSeconds float64) float64 {
	return clamp01(float64(c))
}

// SampledEnvelope is waveform data sampled at Rate samples per second.
// Values between samples are linearly interpolated. A looping envelope is
// periodic with period len(Samples)/Rate; a one-shot envelope is 0 outside
// [0, (len(Samples)-1)/Rate].
type SampledEnvelope struct {
	Samples []float64 `json:"samples"`
	Rate    float64   `json:"rate"`
	Loop    bool      `json:"loop"`
}

// Validate checks that the envelope can be sampled.
func (e *SampledEnvelope) Validate() error {
	if len(e.Samples) == 0 {
		return fmt.Errorf("envelope has no samples")
	}
	if !(e.Rate > 0) {
		return fmt.Errorf("envelope sample rate %v must be positive", e.Rate)
	}
	return nil
}

// Sample returns the interpolated amplitude at localSeconds, clamped to [0,1].
func (e *SampledEnvelope) Sample(localSeconds float64) float64 {
	n := len(e.Samples)
	if n == 0 || !(e.Rate > 0) || localSeconds < 0 {
		return 0
	}
	pos := localSeconds * e.Rate
	if e.Loop {
		pos = math.Mod(pos, float64(n))
		i := int(pos)
		frac := pos - float64(i)
		return clamp01(e.Samples[i]*(1-frac) + e.Samples[(i+1)%n]*frac)
	}
	if n == 1 {
		if pos == 0 {
			return clamp01(e.Samples[0])
		}
		return 0
	}
	if pos > float64(n-1) {
		return 0
	}
	i := int(pos)
	if i == n-1 {
		return clamp01(e.Samples[i])
	}
	frac := pos - float64(i)
	return clamp01(e.Samples[i]*(1-frac) + e.Samples[i+1]*frac)
}
