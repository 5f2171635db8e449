// Package dsp holds small, dependency-free signal-processing primitives
// (FFT, windowing, mel filterbanks) shared by the gate chain's harmonic
// filter and the acoustic feature extractor. No FFT or DSP library exists
// in the corpus; this is implemented directly on math/cmplx.
package dsp

import (
	"math"
	"math/cmplx"
)

// FFT computes the discrete Fourier transform of real-valued input,
// zero-padded up to the next power of two. The returned slice has that
// padded length.
func FFT(samples []float64) []complex128 {
	n := nextPow2(len(samples))
	buf := make([]complex128, n)
	for i, s := range samples {
		buf[i] = complex(s, 0)
	}
	fftRecursive(buf)
	return buf
}

func nextPow2(n int) int {
	if n <= 1 {
		return 1
	}
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}

// fftRecursive performs an in-place radix-2 Cooley-Tukey FFT. len(buf) must
// be a power of two.
func fftRecursive(buf []complex128) {
	n := len(buf)
	if n <= 1 {
		return
	}

	even := make([]complex128, n/2)
	odd := make([]complex128, n/2)
	for i := 0; i < n/2; i++ {
		even[i] = buf[2*i]
		odd[i] = buf[2*i+1]
	}

	fftRecursive(even)
	fftRecursive(odd)

	for k := 0; k < n/2; k++ {
		twiddle := cmplx.Rect(1, -2*math.Pi*float64(k)/float64(n)) * odd[k]
		buf[k] = even[k] + twiddle
		buf[k+n/2] = even[k] - twiddle
	}
}

// HannWindow applies a Hann window in place.
func HannWindow(samples []float64) {
	n := len(samples)
	if n <= 1 {
		return
	}
	for i := range samples {
		w := 0.5 - 0.5*math.Cos(2*math.Pi*float64(i)/float64(n-1))
		samples[i] *= w
	}
}

// HammingWindow applies a Hamming window in place.
func HammingWindow(samples []float64) {
	n := len(samples)
	if n <= 1 {
		return
	}
	for i := range samples {
		w := 0.54 - 0.46*math.Cos(2*math.Pi*float64(i)/float64(n-1))
		samples[i] *= w
	}
}

// MagnitudeSpectrum Hann-windows samples, zero-pads/truncates to fftSize,
// and returns the magnitude of bins [0, fftSize/2].
func MagnitudeSpectrum(samples []float32, fftSize int) []float64 {
	if fftSize <= 0 {
		fftSize = 2048
	}

	windowed := make([]float64, fftSize)
	n := len(samples)
	if n > fftSize {
		n = fftSize
	}
	for i := 0; i < n; i++ {
		windowed[i] = float64(samples[i])
	}
	HannWindow(windowed[:n])

	spectrum := FFT(windowed)
	bins := fftSize/2 + 1
	if bins > len(spectrum) {
		bins = len(spectrum)
	}

	mags := make([]float64, bins)
	for i := 0; i < bins; i++ {
		mags[i] = cmplx.Abs(spectrum[i])
	}
	return mags
}
