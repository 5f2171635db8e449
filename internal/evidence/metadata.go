package evidence

import (
	"encoding/json"
	"os"
	"time"
)

// DetectionInfo summarizes the detection signals that triggered one clip.
type DetectionInfo struct {
	TriggerProbability float64 `json:"trigger_probability"`
	PeakProbability    float64 `json:"peak_probability"`
	BarkCountInClip    int     `json:"bark_count_in_clip"`
	DOABartlett        *int    `json:"doa_bartlett"`
	DOACapon           *int    `json:"doa_capon"`
	DOAMEM             *int    `json:"doa_mem"`
}

// DeviceInfo records provenance for a clip: which machine and microphone
// captured it.
type DeviceInfo struct {
	Hostname  string `json:"hostname"`
	Microphone string `json:"microphone"`
}

// Metadata is the JSON sidecar written alongside each evidence WAV file.
type Metadata struct {
	Filename        string         `json:"filename"`
	TimestampUTC    time.Time      `json:"timestamp_utc"`
	TimestampLocal  time.Time      `json:"timestamp_local"`
	DurationSeconds float64        `json:"duration_seconds"`
	SampleRate      int            `json:"sample_rate"`
	Channels        int            `json:"channels"`
	Detection       DetectionInfo  `json:"detection"`
	Device          DeviceInfo     `json:"device"`
}

func hostnameOrUnknown() string {
	h, err := os.Hostname()
	if err != nil || h == "" {
		return "unknown"
	}
	return h
}

// newMetadata builds a Metadata record stamped with the current time.
func newMetadata(filename string, durationSeconds float64, sampleRate, channels int, triggerProbability, peakProbability float64, barkCount int, microphoneName string, doaBartlett, doaCapon, doaMEM *int) Metadata {
	now := time.Now()
	return Metadata{
		Filename:        filename,
		TimestampUTC:    now.UTC(),
		TimestampLocal:  now,
		DurationSeconds: durationSeconds,
		SampleRate:      sampleRate,
		Channels:        channels,
		Detection: DetectionInfo{
			TriggerProbability: triggerProbability,
			PeakProbability:    peakProbability,
			BarkCountInClip:    barkCount,
			DOABartlett:        doaBartlett,
			DOACapon:           doaCapon,
			DOAMEM:             doaMEM,
		},
		Device: DeviceInfo{
			Hostname:   hostnameOrUnknown(),
			Microphone: microphoneName,
		},
	}
}

// Index is the on-disk catalog of every saved evidence clip, maintained so
// callers can query recent/by-date-range evidence without scanning the
// evidence directory.
type Index struct {
	Entries     []Metadata `json:"entries"`
	LastUpdated time.Time  `json:"last_updated"`
}

func loadIndex(path string) (Index, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return Index{LastUpdated: time.Now().UTC()}, nil
	}
	if err != nil {
		return Index{}, err
	}

	var idx Index
	if err := json.Unmarshal(data, &idx); err != nil {
		return Index{}, err
	}
	return idx, nil
}

func (idx *Index) add(m Metadata) {
	idx.Entries = append(idx.Entries, m)
	idx.LastUpdated = time.Now().UTC()
}

// saveIndex writes the index via a write-then-rename so a crash mid-write
// never leaves a truncated index file in place.
func saveIndex(path string, idx Index) error {
	data, err := json.MarshalIndent(idx, "", "  ")
	if err != nil {
		return err
	}
	return writeAtomic(path, data)
}

func writeAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func (idx Index) recent(count int) []Metadata {
	sorted := append([]Metadata(nil), idx.Entries...)
	for i := 1; i < len(sorted); i++ {
		for j := i; j > 0 && sorted[j-1].TimestampUTC.Before(sorted[j].TimestampUTC); j-- {
			sorted[j-1], sorted[j] = sorted[j], sorted[j-1]
		}
	}
	if count > 0 && count < len(sorted) {
		sorted = sorted[:count]
	}
	return sorted
}

func (idx Index) byDateRange(start, end time.Time) []Metadata {
	var out []Metadata
	for _, e := range idx.Entries {
		if !e.TimestampUTC.Before(start) && !e.TimestampUTC.After(end) {
			out = append(out, e)
		}
	}
	return out
}

func (idx Index) totalDurationSeconds() float64 {
	var total float64
	for _, e := range idx.Entries {
		total += e.DurationSeconds
	}
	return total
}

func (idx Index) totalBarkCount() int {
	var total int
	for _, e := range idx.Entries {
		total += e.Detection.BarkCountInClip
	}
	return total
}
