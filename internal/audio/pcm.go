package audio

import "encoding/binary"

// ConcatPCM concatenates the PCM payloads of frames in order. Frames are
// assumed to share channel count and sample rate (true for any contiguous
// run pulled from one Ring).
func ConcatPCM(frames []Frame) []byte {
	total := 0
	for _, f := range frames {
		total += len(f.PCM)
	}
	out := make([]byte, 0, total)
	for _, f := range frames {
		out = append(out, f.PCM...)
	}
	return out
}

// Deinterleave splits interleaved little-endian int16 PCM into one float32
// slice per channel, each sample scaled to [-1, 1].
func Deinterleave(pcm []byte, channels int) [][]float32 {
	if channels <= 0 {
		return nil
	}
	frameBytes := 2 * channels
	n := len(pcm) / frameBytes

	out := make([][]float32, channels)
	for c := range out {
		out[c] = make([]float32, n)
	}

	for i := 0; i < n; i++ {
		base := i * frameBytes
		for c := 0; c < channels; c++ {
			sample := int16(binary.LittleEndian.Uint16(pcm[base+c*2:]))
			out[c][i] = float32(sample) / 32768
		}
	}
	return out
}

// DownmixMono averages per-channel float32 samples into a single mono
// slice. All channels must have equal length.
func DownmixMono(channels [][]float32) []float32 {
	if len(channels) == 0 {
		return nil
	}
	if len(channels) == 1 {
		return channels[0]
	}

	n := len(channels[0])
	mono := make([]float32, n)
	for i := 0; i < n; i++ {
		var sum float32
		for _, ch := range channels {
			sum += ch[i]
		}
		mono[i] = sum / float32(len(channels))
	}
	return mono
}
