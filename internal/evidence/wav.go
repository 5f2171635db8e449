package evidence

import (
	"bufio"
	"encoding/binary"
	"math"
	"os"
)

const (
	bitsPerSample = 16
	bytesPerSample = bitsPerSample / 8
)

// writeWAV writes interleaved float32 PCM (each sample in [-1, 1]) to path
// as a 16-bit PCM WAV file. No audio-file-writing library exists in the
// corpus; the RIFF/WAVE container is hand-rolled against the format's
// fixed-size header layout.
func writeWAV(path string, interleaved []float32, sampleRate, channels int) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := bufio.NewWriter(f)

	dataSize := len(interleaved) * bytesPerSample
	byteRate := sampleRate * channels * bytesPerSample
	blockAlign := channels * bytesPerSample

	writeString(w, "RIFF")
	writeUint32(w, uint32(36+dataSize))
	writeString(w, "WAVE")

	writeString(w, "fmt ")
	writeUint32(w, 16) // PCM fmt chunk size
	writeUint16(w, 1)  // audio format: PCM
	writeUint16(w, uint16(channels))
	writeUint32(w, uint32(sampleRate))
	writeUint32(w, uint32(byteRate))
	writeUint16(w, uint16(blockAlign))
	writeUint16(w, bitsPerSample)

	writeString(w, "data")
	writeUint32(w, uint32(dataSize))

	sampleBuf := make([]byte, 2)
	for _, s := range interleaved {
		binary.LittleEndian.PutUint16(sampleBuf, floatToInt16(s))
		if _, err := w.Write(sampleBuf); err != nil {
			return err
		}
	}

	if err := w.Flush(); err != nil {
		return err
	}
	return f.Sync()
}

func floatToInt16(s float32) uint16 {
	clamped := float64(s)
	if clamped > 1 {
		clamped = 1
	} else if clamped < -1 {
		clamped = -1
	}
	return uint16(int16(math.Round(clamped * 32767)))
}

func writeString(w *bufio.Writer, s string) { w.WriteString(s) }

func writeUint32(w *bufio.Writer, v uint32) {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], v)
	w.Write(buf[:])
}

func writeUint16(w *bufio.Writer, v uint16) {
	var buf [2]byte
	binary.LittleEndian.PutUint16(buf[:], v)
	w.Write(buf[:])
}
