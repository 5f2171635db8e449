package oracle

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func silentWindow(n int) []float32 {
	return make([]float32, n)
}

func toneWindow(n int, amplitude float32) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = amplitude * float32(math.Sin(2*math.Pi*440*float64(i)/16000))
	}
	return out
}

func TestEnergyVADRejectsSilence(t *testing.T) {
	vad := NewEnergyVAD(-40, 10)
	_, pass := vad.Evaluate(silentWindow(1000))
	require.False(t, pass)
}

func TestEnergyVADPassesLoudTone(t *testing.T) {
	vad := NewEnergyVAD(-40, 10)
	db, pass := vad.Evaluate(toneWindow(1000, 0.9))
	require.True(t, pass)
	require.Greater(t, db, -40.0)
}

func TestEnergyVADRejectsBelowMinSamples(t *testing.T) {
	vad := NewEnergyVAD(-40, 1000)
	_, pass := vad.Evaluate(toneWindow(10, 0.9))
	require.False(t, pass)
}

func TestSpectralHarmonicFilterToneHasHighRatio(t *testing.T) {
	filter := NewSpectralHarmonicFilter(512)
	ratio, err := filter.Ratio(toneWindow(512, 0.8))
	require.NoError(t, err)
	require.Greater(t, ratio, 1.0)
}

func TestSpectralHarmonicFilterSilenceReturnsZero(t *testing.T) {
	filter := NewSpectralHarmonicFilter(512)
	ratio, err := filter.Ratio(silentWindow(512))
	require.NoError(t, err)
	require.Equal(t, 0.0, ratio)
}

func TestMedianFilterSmoothsImpulse(t *testing.T) {
	values := []float64{0, 0, 0, 10, 0, 0, 0}
	out := medianFilter(values, 3)
	require.Equal(t, 0.0, out[3])
}

func TestMedianOfEmptyIsZero(t *testing.T) {
	require.Equal(t, 0.0, median(nil))
}
