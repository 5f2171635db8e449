// Package oracle defines the model-backed traits consumed by the gate
// chain (VAD, audio tagger, harmonic filter, zero-shot classifier) and
// ships deterministic default implementations for the traits that are pure
// signal processing rather than learned models.
package oracle

import (
	"math"

	"github.com/woofwatch/engine/internal/dsp"
)

// VAD reports whether a window of audio contains enough energy to be worth
// running further, more expensive gates against.
type VAD interface {
	// Evaluate returns the window's RMS energy in dBFS and whether the
	// window passes the energy gate.
	Evaluate(window []float32) (rmsDB float64, pass bool)
}

// Tagger scores a 16kHz mono window against a general-purpose audio event
// vocabulary and reports the strongest dog/bark-related class score.
// Implementations must fail open: on model-load or inference error, return
// (0, err) and let the caller treat the gate as passed.
type Tagger interface {
	Score(mono16k []float32) (score float64, err error)
}

// HarmonicFilter estimates the ratio of harmonic to percussive energy in a
// window, used to reject percussive transients (e.g. keyboard clatter)
// that otherwise resemble short barks.
type HarmonicFilter interface {
	Ratio(window []float32) (ratio float64, err error)
}

// Classifier runs zero-shot classification of a window against a labelled
// vocabulary partitioned into positive (bark-like) and negative
// (non-bark) labels, plus a bird-specific veto subset of the negative
// labels.
type Classifier interface {
	// Score returns a score per label. Callers derive bark_prob and the
	// bird veto from the returned map; see gate.Chain.Run.
	Score(window []float32, sampleRate int, positiveLabels, negativeLabels, birdLabels []string) (labelScores map[string]float64, err error)
}

// EmbeddingExtractor produces a fixed-length embedding vector from a bark
// window, used by the fingerprint matcher to compare barks for similarity.
// Implementations should L2-normalize their output.
type EmbeddingExtractor interface {
	Embed(window []float32, sampleRate int) (embedding []float32, err error)
}

// EnergyVAD implements VAD via RMS energy in dBFS, grounded directly on the
// distilled system's VAD gate: silence below energy_threshold_db is
// rejected before any model runs.
type EnergyVAD struct {
	ThresholdDB float64
	MinSamples  int
}

// NewEnergyVAD constructs an EnergyVAD with the given threshold and minimum
// sample count.
func NewEnergyVAD(thresholdDB float64, minSamples int) *EnergyVAD {
	return &EnergyVAD{ThresholdDB: thresholdDB, MinSamples: minSamples}
}

// Evaluate computes dBFS RMS energy over window and compares it to the
// configured threshold.
func (v *EnergyVAD) Evaluate(window []float32) (float64, bool) {
	if len(window) < v.MinSamples {
		return math.Inf(-1), false
	}

	rms := rootMeanSquare(window)
	db := linearToDB(rms)
	return db, db >= v.ThresholdDB
}

func rootMeanSquare(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sumSq float64
	for _, s := range samples {
		sumSq += float64(s) * float64(s)
	}
	return math.Sqrt(sumSq / float64(len(samples)))
}

func linearToDB(linear float64) float64 {
	if linear <= 0 {
		return math.Inf(-1)
	}
	return 20 * math.Log10(linear)
}

// SpectralHarmonicFilter estimates a harmonic/percussive energy ratio via a
// coarse median-filtering separation over a single STFT frame: percussive
// content is broadband and so smooth across frequency bins (median along
// frequency), while harmonic content shows as narrow spectral peaks standing
// above that envelope (a single window carries no time axis to
// median-filter against).
type SpectralHarmonicFilter struct {
	FFTSize int
}

// NewSpectralHarmonicFilter constructs a harmonic filter with the given FFT size.
func NewSpectralHarmonicFilter(fftSize int) *SpectralHarmonicFilter {
	if fftSize <= 0 {
		fftSize = 2048
	}
	return &SpectralHarmonicFilter{FFTSize: fftSize}
}

// Ratio returns harmonic_energy / percussive_energy for window, where
// percussive energy is the median-filtered spectral envelope's energy and
// harmonic energy is the residual (original minus envelope, rectified).
func (h *SpectralHarmonicFilter) Ratio(window []float32) (float64, error) {
	mags := dsp.MagnitudeSpectrum(window, h.FFTSize)
	if len(mags) == 0 {
		return 0, nil
	}

	envelope := medianFilter(mags, 9)

	var harmonicEnergy, percussiveEnergy float64
	for i, m := range mags {
		h := envelope[i]
		p := m - h
		if p < 0 {
			p = 0
		}
		harmonicEnergy += p * p
		percussiveEnergy += h * h
	}

	if percussiveEnergy <= 1e-12 {
		if harmonicEnergy <= 1e-12 {
			return 0, nil
		}
		return math.Inf(1), nil
	}
	return harmonicEnergy / percussiveEnergy, nil
}

func medianFilter(values []float64, window int) []float64 {
	if window < 1 {
		window = 1
	}
	half := window / 2
	out := make([]float64, len(values))
	buf := make([]float64, 0, window)

	for i := range values {
		buf = buf[:0]
		for j := i - half; j <= i+half; j++ {
			if j < 0 || j >= len(values) {
				continue
			}
			buf = append(buf, values[j])
		}
		out[i] = median(buf)
	}
	return out
}

func median(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := append([]float64(nil), values...)
	for i := 1; i < len(sorted); i++ {
		for j := i; j > 0 && sorted[j-1] > sorted[j]; j-- {
			sorted[j-1], sorted[j] = sorted[j], sorted[j-1]
		}
	}
	mid := len(sorted) / 2
	if len(sorted)%2 == 0 {
		return (sorted[mid-1] + sorted[mid]) / 2
	}
	return sorted[mid]
}
