package acoustic

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

const testSampleRate = 48000

func toneSamples(freq float64, seconds float64, sampleRate int) []float32 {
	n := int(seconds * float64(sampleRate))
	out := make([]float32, n)
	for i := range out {
		out[i] = float32(math.Sin(2 * math.Pi * freq * float64(i) / float64(sampleRate)))
	}
	return out
}

func TestExtractSilenceReturnsDefaultFeatures(t *testing.T) {
	extractor := NewExtractor(testSampleRate)
	silence := make([]float32, 4096)

	features := extractor.Extract(silence)

	require.Nil(t, features.PitchHz)
	require.Equal(t, 0.0, features.SpectralCentroidHz)
	require.Equal(t, 0.0, features.ZeroCrossingRate)
	require.Equal(t, silenceFloorDB, features.EnergyDB)
	for _, c := range features.MFCCMean {
		require.Equal(t, 0.0, c)
	}
}

func TestExtractToneHasPlausiblePitch(t *testing.T) {
	extractor := NewExtractor(testSampleRate)
	samples := toneSamples(400, 0.1, testSampleRate)

	features := extractor.Extract(samples)

	require.NotNil(t, features.PitchHz)
	require.InDelta(t, 400, *features.PitchHz, 20)
}

func TestExtractDurationMsMatchesSampleCount(t *testing.T) {
	extractor := NewExtractor(testSampleRate)
	samples := make([]float32, testSampleRate) // 1 second
	samples[0] = 0.5

	features := extractor.Extract(samples)
	require.InDelta(t, 1000, features.DurationMs, 1e-6)
}

func TestExtractNormalizesOutOfRangeAmplitude(t *testing.T) {
	extractor := NewExtractor(testSampleRate)
	samples := toneSamples(400, 0.1, testSampleRate)
	for i := range samples {
		samples[i] *= 5 // out of [-1,1]
	}

	features := extractor.Extract(samples)
	require.NotNil(t, features.PitchHz)
}

func TestExtractPadsShortAudio(t *testing.T) {
	extractor := NewExtractor(testSampleRate)
	samples := toneSamples(400, 0.01, testSampleRate) // well under FFTSize

	features := extractor.Extract(samples)
	require.GreaterOrEqual(t, features.EnergyDB, silenceFloorDB)
}

func TestZeroCrossingRateOfAlternatingSignal(t *testing.T) {
	audio := []float64{1, -1, 1, -1, 1}
	rate := zeroCrossingRate(audio)
	require.Equal(t, 1.0, rate)
}

func TestZeroCrossingRateOfConstantSignal(t *testing.T) {
	audio := []float64{1, 1, 1, 1}
	require.Equal(t, 0.0, zeroCrossingRate(audio))
}

func TestEnergyDBFloorsAtSilence(t *testing.T) {
	require.Equal(t, silenceFloorDB, energyDB(make([]float64, 100)))
}

func TestMelFilterbankShape(t *testing.T) {
	fb := melFilterbank(testSampleRate, NumMels, FFTSize)
	require.Len(t, fb, NumMels)
	require.Len(t, fb[0], FFTSize/2+1)
}

func TestDCTMatrixFirstRowScaledByHalfSqrt(t *testing.T) {
	m := dctMatrixOrtho(NumMFCC, NumMels)
	require.Len(t, m, NumMFCC)
	require.Len(t, m[0], NumMels)
	// cos(0) * sqrt(2/NumMels) * sqrt(0.5) == sqrt(1/NumMels)
	require.InDelta(t, math.Sqrt(1.0/float64(NumMels)), m[0][0], 1e-12)
}

func TestExtractMFCCsReturnsZeroForTooShortAudio(t *testing.T) {
	extractor := NewExtractor(testSampleRate)
	short := make([]float64, FFTSize-1)
	mean, std := extractor.extractMFCCs(short)
	for i := range mean {
		require.Equal(t, 0.0, mean[i])
		require.Equal(t, 0.0, std[i])
	}
}
