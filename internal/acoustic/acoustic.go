// Package acoustic extracts interpretable acoustic characteristics (pitch,
// spectral shape, MFCCs, energy) from a bark audio segment, used as a
// secondary signal alongside the classifier's embedding for fingerprint
// matching.
package acoustic

import (
	"math"

	"github.com/woofwatch/engine/internal/dsp"
)

// Typical dog bark frequency range.
const (
	MinPitchHz = 100.0
	MaxPitchHz = 2000.0
)

// MFCC/spectral analysis parameters.
const (
	NumMFCC   = 13
	NumMels   = 40
	FFTSize   = 2048
	HopLength = 512

	rolloffFraction = 0.85
	silenceFloorDB  = -100.0
)

// Features holds one segment's extracted acoustic characteristics.
type Features struct {
	DurationMs          float64
	PitchHz             *float64 // nil if undetectable
	SpectralCentroidHz  float64
	SpectralRolloffHz   float64
	SpectralBandwidthHz float64
	ZeroCrossingRate    float64
	MFCCMean            [NumMFCC]float64
	MFCCStd             [NumMFCC]float64
	EnergyDB            float64
}

// Extractor computes Features for audio at a fixed sample rate.
type Extractor struct {
	sampleRate    int
	melFilterbank [][]float64 // NumMels x (FFTSize/2+1)
	dctMatrix     [][]float64 // NumMFCC x NumMels
}

// NewExtractor precomputes the mel filterbank and DCT matrix for sampleRate.
func NewExtractor(sampleRate int) *Extractor {
	return &Extractor{
		sampleRate:    sampleRate,
		melFilterbank: melFilterbank(sampleRate, NumMels, FFTSize),
		dctMatrix:     dctMatrixOrtho(NumMFCC, NumMels),
	}
}

// Extract computes Features for mono audio in [-1, 1] (values outside that
// range are normalized by their peak magnitude).
func (e *Extractor) Extract(mono []float32) Features {
	audio := make([]float64, len(mono))
	var peak float64
	for i, s := range mono {
		v := float64(s)
		audio[i] = v
		if a := math.Abs(v); a > peak {
			peak = a
		}
	}

	if peak > 1.0 {
		for i := range audio {
			audio[i] /= peak
		}
	} else if peak < 1e-10 {
		return silenceFeatures(len(audio), e.sampleRate)
	}

	durationMs := float64(len(audio)) / float64(e.sampleRate) * 1000

	if len(audio) < FFTSize {
		padded := make([]float64, FFTSize)
		copy(padded, audio)
		audio = padded
	}

	pitch := e.extractPitch(audio)
	centroid, rolloff, bandwidth := e.extractSpectral(audio)
	zcr := zeroCrossingRate(audio)
	mfccMean, mfccStd := e.extractMFCCs(audio)
	energyDB := energyDB(audio)

	return Features{
		DurationMs:          durationMs,
		PitchHz:             pitch,
		SpectralCentroidHz:  centroid,
		SpectralRolloffHz:   rolloff,
		SpectralBandwidthHz: bandwidth,
		ZeroCrossingRate:    zcr,
		MFCCMean:            mfccMean,
		MFCCStd:             mfccStd,
		EnergyDB:            energyDB,
	}
}

func silenceFeatures(nSamples, sampleRate int) Features {
	return Features{
		DurationMs: float64(nSamples) / float64(sampleRate) * 1000,
		EnergyDB:   silenceFloorDB,
	}
}

// extractPitch estimates F0 via normalized autocorrelation, the fallback
// path used when no dedicated pitch-detection library is available.
func (e *Extractor) extractPitch(audio []float64) *float64 {
	minLag := int(float64(e.sampleRate) / MaxPitchHz)
	maxLag := int(float64(e.sampleRate) / MinPitchHz)
	if half := len(audio) / 2; maxLag > half {
		maxLag = half
	}
	if maxLag <= minLag {
		return nil
	}

	mean := meanOf(audio)
	normalized := make([]float64, len(audio))
	for i, v := range audio {
		normalized[i] = v - mean
	}
	if stdDev(normalized) < 1e-10 {
		return nil
	}

	autocorr := autocorrelate(normalized, maxLag)
	if len(autocorr) <= minLag {
		return nil
	}

	peakLag := minLag
	peakVal := autocorr[minLag]
	for lag := minLag + 1; lag < maxLag && lag < len(autocorr); lag++ {
		if autocorr[lag] > peakVal {
			peakVal = autocorr[lag]
			peakLag = lag
		}
	}

	if peakLag > 0 && autocorr[0] > 0 && peakVal > 0.2*autocorr[0] {
		pitch := float64(e.sampleRate) / float64(peakLag)
		if pitch >= MinPitchHz && pitch <= MaxPitchHz {
			return &pitch
		}
	}
	return nil
}

// autocorrelate computes unnormalized autocorrelation at lags 0..maxLag-1.
func autocorrelate(x []float64, maxLag int) []float64 {
	n := len(x)
	if maxLag > n {
		maxLag = n
	}
	out := make([]float64, maxLag)
	for lag := 0; lag < maxLag; lag++ {
		var sum float64
		for t := 0; t < n-lag; t++ {
			sum += x[t] * x[t+lag]
		}
		out[lag] = sum
	}
	return out
}

// extractSpectral computes the centroid, 85%-energy rolloff, and bandwidth
// of a single FFTSize-length power spectrum taken from the start of audio
// (truncated or zero-padded), with no windowing applied.
func (e *Extractor) extractSpectral(audio []float64) (centroid, rolloff, bandwidth float64) {
	frame := make([]float64, FFTSize)
	copy(frame, audio[:min(len(audio), FFTSize)])

	spectrum := dsp.FFT(frame)
	nBins := FFTSize/2 + 1
	power := make([]float64, nBins)
	freqs := make([]float64, nBins)
	var totalPower float64
	for i := 0; i < nBins; i++ {
		mag := spectrum[i]
		p := real(mag)*real(mag) + imag(mag)*imag(mag)
		power[i] = p
		freqs[i] = float64(i) * float64(e.sampleRate) / float64(FFTSize)
		totalPower += p
	}

	if totalPower < 1e-10 {
		return 0, 0, 0
	}

	for i := range power {
		centroid += freqs[i] * power[i]
	}
	centroid /= totalPower

	target := rolloffFraction * totalPower
	var cumulative float64
	rolloffIdx := nBins - 1
	for i := 0; i < nBins; i++ {
		cumulative += power[i]
		if cumulative >= target {
			rolloffIdx = i
			break
		}
	}
	rolloff = freqs[rolloffIdx]

	var varSum float64
	for i := range power {
		d := freqs[i] - centroid
		varSum += d * d * power[i]
	}
	bandwidth = math.Sqrt(varSum / totalPower)

	return centroid, rolloff, bandwidth
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// zeroCrossingRate reports the fraction of adjacent-sample sign changes.
func zeroCrossingRate(audio []float64) float64 {
	if len(audio) < 2 {
		return 0
	}
	crossings := 0
	for i := 1; i < len(audio); i++ {
		if sign(audio[i-1]) != sign(audio[i]) {
			crossings++
		}
	}
	return float64(crossings) / float64(len(audio)-1)
}

func sign(x float64) int {
	switch {
	case x > 0:
		return 1
	case x < 0:
		return -1
	default:
		return 0
	}
}

// energyDB returns 20*log10(rms), floored at silenceFloorDB.
func energyDB(audio []float64) float64 {
	var sumSq float64
	for _, v := range audio {
		sumSq += v * v
	}
	rms := math.Sqrt(sumSq / float64(len(audio)))
	if rms < 1e-10 {
		return silenceFloorDB
	}
	return 20 * math.Log10(rms)
}

// extractMFCCs frames audio with FFTSize/HopLength, Hamming-windows each
// frame, applies the mel filterbank and a DCT-II, and returns the
// per-coefficient mean and std across frames.
func (e *Extractor) extractMFCCs(audio []float64) (mean, std [NumMFCC]float64) {
	if len(audio) < FFTSize {
		return mean, std
	}
	nFrames := 1 + (len(audio)-FFTSize)/HopLength

	coeffs := make([][NumMFCC]float64, nFrames)

	for f := 0; f < nFrames; f++ {
		start := f * HopLength
		frame := make([]float64, FFTSize)
		copy(frame, audio[start:start+FFTSize])
		dsp.HammingWindow(frame)

		spectrum := dsp.FFT(frame)
		nBins := FFTSize/2 + 1
		power := make([]float64, nBins)
		for i := 0; i < nBins; i++ {
			mag := spectrum[i]
			p := real(mag)*real(mag) + imag(mag)*imag(mag)
			if p < 1e-10 {
				p = 1e-10
			}
			power[i] = p
		}

		logMel := make([]float64, NumMels)
		for m := 0; m < NumMels; m++ {
			var sum float64
			filt := e.melFilterbank[m]
			for i, w := range filt {
				sum += power[i] * w
			}
			if sum < 1e-10 {
				sum = 1e-10
			}
			logMel[m] = math.Log(sum)
		}

		var frameCoeffs [NumMFCC]float64
		for c := 0; c < NumMFCC; c++ {
			var sum float64
			row := e.dctMatrix[c]
			for m := 0; m < NumMels; m++ {
				sum += logMel[m] * row[m]
			}
			frameCoeffs[c] = sum
		}
		coeffs[f] = frameCoeffs
	}

	for c := 0; c < NumMFCC; c++ {
		var sum float64
		for f := 0; f < nFrames; f++ {
			sum += coeffs[f][c]
		}
		mean[c] = sum / float64(nFrames)
	}
	for c := 0; c < NumMFCC; c++ {
		var varSum float64
		for f := 0; f < nFrames; f++ {
			d := coeffs[f][c] - mean[c]
			varSum += d * d
		}
		std[c] = math.Sqrt(varSum / float64(nFrames))
	}
	return mean, std
}

// melFilterbank builds a NumMels x (fftSize/2+1) triangular filterbank
// spanning 0..nyquist.
func melFilterbank(sampleRate, numMels, fftSize int) [][]float64 {
	nBins := fftSize/2 + 1

	lowMel := hzToMel(0)
	highMel := hzToMel(float64(sampleRate) / 2)

	points := numMels + 2
	melPoints := make([]float64, points)
	for i := range melPoints {
		melPoints[i] = lowMel + (highMel-lowMel)*float64(i)/float64(points-1)
	}

	binIndices := make([]int, points)
	for i, m := range melPoints {
		hz := melToHz(m)
		binIndices[i] = int(math.Floor(float64(fftSize+1) * hz / float64(sampleRate)))
	}

	filterbank := make([][]float64, numMels)
	for i := range filterbank {
		filterbank[i] = make([]float64, nBins)
		left, center, right := binIndices[i], binIndices[i+1], binIndices[i+2]

		for j := left; j < center && j < nBins; j++ {
			if center > left && j >= 0 {
				filterbank[i][j] = float64(j-left) / float64(center-left)
			}
		}
		for j := center; j < right && j < nBins; j++ {
			if right > center && j >= 0 {
				filterbank[i][j] = float64(right-j) / float64(right-center)
			}
		}
	}
	return filterbank
}

func hzToMel(hz float64) float64 {
	return 2595.0 * math.Log10(1.0+hz/700.0)
}

func melToHz(mel float64) float64 {
	return 700.0 * (math.Pow(10, mel/2595.0) - 1.0)
}

// dctMatrixOrtho builds an orthonormal Type-II DCT matrix of shape
// numCoeffs x numMels.
func dctMatrixOrtho(numCoeffs, numMels int) [][]float64 {
	scale := math.Sqrt(2.0 / float64(numMels))
	matrix := make([][]float64, numCoeffs)
	for i := range matrix {
		matrix[i] = make([]float64, numMels)
		for j := 0; j < numMels; j++ {
			matrix[i][j] = math.Cos(math.Pi*float64(i)*(2*float64(j)+1)/(2*float64(numMels))) * scale
		}
	}
	for j := range matrix[0] {
		matrix[0][j] *= math.Sqrt(0.5)
	}
	return matrix
}

func meanOf(x []float64) float64 {
	var sum float64
	for _, v := range x {
		sum += v
	}
	return sum / float64(len(x))
}

func stdDev(x []float64) float64 {
	mean := meanOf(x)
	var sumSq float64
	for _, v := range x {
		d := v - mean
		sumSq += d * d
	}
	return math.Sqrt(sumSq / float64(len(x)))
}
