// Package evidence records pre/post-roll audio clips around a bark
// detection into timestamped WAV files with JSON metadata sidecars, and
// maintains a queryable index of everything saved.
package evidence

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/lestrrat-go/strftime"

	"github.com/woofwatch/engine/internal/audio"
	"github.com/woofwatch/engine/internal/config"
	"github.com/woofwatch/engine/internal/detect"
	"github.com/woofwatch/engine/internal/fsm"
)

const (
	stateIdle      fsm.State = "idle"
	stateRecording fsm.State = "recording"

	eventBark   fsm.Event = "bark"
	eventCommit fsm.Event = "commit"
)

func transitionTable() fsm.Table {
	return fsm.Table{
		stateIdle: {
			eventBark: stateRecording,
		},
		stateRecording: {
			eventBark:   stateRecording,
			eventCommit: stateIdle,
		},
	}
}

// SavedCallback is invoked after a clip and its metadata are committed to
// disk, with the saved filename and the bark time range it covers. Used to
// link fingerprints captured during that window to the evidence file.
type SavedCallback func(filename string, firstBark, lastBark time.Time)

type pendingRecording struct {
	triggerEvent detect.BarkEvent
	events       []detect.BarkEvent
}

// Recorder manages the commit lifecycle for evidence clips: it tracks a
// pending recording across consecutive bark events and, once the future
// context window has elapsed since the last bark, pulls the covered window
// from the capture ring buffer and writes it to disk.
type Recorder struct {
	cfg            config.EvidenceConfig
	capture        *audio.Capture
	microphoneName string
	logger         *slog.Logger

	mu        sync.Mutex
	machine   fsm.Machine
	state     fsm.State
	pending   *pendingRecording
	index     Index
	indexPath string
	callbacks []SavedCallback
}

// New constructs a Recorder, creating the evidence directory and loading
// any existing index from disk.
func New(cfg config.EvidenceConfig, capture *audio.Capture, microphoneName string, logger *slog.Logger) (*Recorder, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(cfg.Directory, 0o755); err != nil {
		return nil, fmt.Errorf("evidence: create directory: %w", err)
	}

	indexPath := filepath.Join(cfg.Directory, "index.json")
	idx, err := loadIndex(indexPath)
	if err != nil {
		logger.Warn("evidence_index_load_error", slog.String("error", err.Error()))
		idx = Index{LastUpdated: time.Now().UTC()}
	}

	return &Recorder{
		cfg:            cfg,
		capture:        capture,
		microphoneName: microphoneName,
		logger:         logger,
		machine:        fsm.New(transitionTable()),
		state:          stateIdle,
		index:          idx,
		indexPath:      indexPath,
	}, nil
}

// OnSaved registers a callback invoked after each clip commits.
func (r *Recorder) OnSaved(cb SavedCallback) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.callbacks = append(r.callbacks, cb)
}

// OnBarkEvent should be registered as a callback on the detection engine.
// It starts a pending recording on the first bark and extends it on every
// subsequent bark while one is pending.
func (r *Recorder) OnBarkEvent(event detect.BarkEvent) {
	if !event.IsBarking {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.pending == nil {
		next, err := r.machine.Transition(r.state, eventBark)
		if err != nil {
			r.logger.Error("evidence_fsm_error", slog.String("error", err.Error()))
			return
		}
		r.state = next
		r.pending = &pendingRecording{triggerEvent: event}
		r.logger.Info("evidence_recording_started")
	}
	r.pending.events = append(r.pending.events, event)
}

// CheckAndSave should be called periodically (the detection engine's tick
// cadence is sufficient). It commits the pending recording once the future
// context window has elapsed since the last tracked bark.
func (r *Recorder) CheckAndSave() (*Metadata, error) {
	r.mu.Lock()
	if r.pending == nil || len(r.pending.events) == 0 {
		r.mu.Unlock()
		return nil, nil
	}

	lastBarkTime := latestTimestamp(r.pending.events)
	if time.Since(lastBarkTime).Seconds() < r.cfg.FutureContextSeconds {
		r.mu.Unlock()
		return nil, nil
	}

	pending := r.pending
	r.pending = nil
	if next, err := r.machine.Transition(r.state, eventCommit); err == nil {
		r.state = next
	}
	r.mu.Unlock()

	return r.commit(pending)
}

func latestTimestamp(events []detect.BarkEvent) time.Time {
	latest := events[0].Timestamp
	for _, e := range events[1:] {
		if e.Timestamp.After(latest) {
			latest = e.Timestamp
		}
	}
	return latest
}

func (r *Recorder) commit(pending *pendingRecording) (*Metadata, error) {
	triggerTime := pending.triggerEvent.Timestamp
	lastBarkTime := latestTimestamp(pending.events)

	startWall := triggerTime.Add(-time.Duration(r.cfg.PastContextSeconds * float64(time.Second)))
	endWall := lastBarkTime.Add(time.Duration(r.cfg.FutureContextSeconds * float64(time.Second)))

	startElapsed := startWall.Sub(r.capture.StartedAt()).Seconds()
	endElapsed := endWall.Sub(r.capture.StartedAt()).Seconds()

	frames := r.capture.Ring().Since(startElapsed)
	frames = trimUntil(frames, endElapsed)
	if len(frames) == 0 {
		r.logger.Warn("evidence_no_audio_data")
		return nil, nil
	}

	sampleRate := frames[0].SampleRate
	channels := frames[0].Channels
	interleaved := decodeInterleaved(audio.ConcatPCM(frames))
	durationSeconds := 0.0
	if channels > 0 && sampleRate > 0 {
		durationSeconds = float64(len(interleaved)/channels) / float64(sampleRate)
	}

	timestampStr, err := strftime.Format("%Y-%m-%d_%H-%M-%S", triggerTime)
	if err != nil {
		return nil, fmt.Errorf("evidence: format timestamp: %w", err)
	}
	wavFilename := timestampStr + "_bark.wav"
	jsonFilename := timestampStr + "_bark.json"

	wavPath := filepath.Join(r.cfg.Directory, wavFilename)
	jsonPath := filepath.Join(r.cfg.Directory, jsonFilename)

	if err := writeWAV(wavPath, interleaved, sampleRate, channels); err != nil {
		r.logger.Error("evidence_save_error", slog.String("error", err.Error()))
		return nil, fmt.Errorf("evidence: write wav: %w", err)
	}

	peakProbability, barkCount := summarizeEvents(pending.events)
	metadata := newMetadata(wavFilename, durationSeconds, sampleRate, channels,
		pending.triggerEvent.Probability, peakProbability, barkCount, r.microphoneName,
		pending.triggerEvent.DOABartlett, pending.triggerEvent.DOACapon, pending.triggerEvent.DOAMEM)

	if r.cfg.IncludeMetadata {
		data, err := json.MarshalIndent(metadata, "", "  ")
		if err != nil {
			r.logger.Error("evidence_metadata_marshal_error", slog.String("error", err.Error()))
		} else if err := writeAtomic(jsonPath, data); err != nil {
			r.logger.Error("evidence_metadata_save_error", slog.String("error", err.Error()))
		}
	}

	r.mu.Lock()
	r.index.add(metadata)
	idxSnapshot := r.index
	r.mu.Unlock()

	if err := saveIndex(r.indexPath, idxSnapshot); err != nil {
		r.logger.Error("evidence_index_save_error", slog.String("error", err.Error()))
	}

	r.logger.Info("evidence_saved",
		slog.String("filename", wavFilename),
		slog.Float64("duration_seconds", durationSeconds),
		slog.Int("barks", barkCount),
		slog.Float64("peak_probability", peakProbability))

	r.dispatchSaved(wavFilename, pending.triggerEvent.Timestamp, lastBarkTime)

	return &metadata, nil
}

func (r *Recorder) dispatchSaved(filename string, firstBark, lastBark time.Time) {
	r.mu.Lock()
	callbacks := make([]SavedCallback, len(r.callbacks))
	copy(callbacks, r.callbacks)
	r.mu.Unlock()

	for _, cb := range callbacks {
		func() {
			defer func() {
				if rec := recover(); rec != nil {
					r.logger.Warn("evidence_callback_error", slog.Any("panic", rec))
				}
			}()
			cb(filename, firstBark, lastBark)
		}()
	}
}

func summarizeEvents(events []detect.BarkEvent) (peakProbability float64, count int) {
	count = len(events)
	for _, e := range events {
		if e.Probability > peakProbability {
			peakProbability = e.Probability
		}
	}
	return peakProbability, count
}

func trimUntil(frames []audio.Frame, endElapsed float64) []audio.Frame {
	var out []audio.Frame
	for _, f := range frames {
		if f.Timestamp > endElapsed {
			break
		}
		out = append(out, f)
	}
	return out
}

func decodeInterleaved(pcm []byte) []float32 {
	n := len(pcm) / 2
	out := make([]float32, n)
	for i := 0; i < n; i++ {
		v := int16(uint16(pcm[i*2]) | uint16(pcm[i*2+1])<<8)
		out[i] = float32(v) / 32768
	}
	return out
}

// GetRecentEvidence returns the count most recently saved clips.
func (r *Recorder) GetRecentEvidence(count int) []Metadata {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.index.recent(count)
}

// GetEvidenceByDate returns clips whose UTC timestamp falls within [start, end].
func (r *Recorder) GetEvidenceByDate(start, end time.Time) []Metadata {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.index.byDateRange(start, end)
}

// Stats summarizes the evidence store for observability.
type Stats struct {
	TotalRecordings       int
	TotalDurationSeconds  float64
	TotalBarksRecorded    int
	StorageDirectory      string
}

// Stats computes a snapshot of store-wide counters.
func (r *Recorder) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Stats{
		TotalRecordings:      len(r.index.Entries),
		TotalDurationSeconds: r.index.totalDurationSeconds(),
		TotalBarksRecorded:   r.index.totalBarkCount(),
		StorageDirectory:     r.cfg.Directory,
	}
}

// CleanupOldEvidence removes clips (and their JSON sidecars) whose local
// timestamp is older than maxAge, returning the count removed. Files that
// fail to delete are logged and their index entry is retained.
func (r *Recorder) CleanupOldEvidence(maxAge time.Duration) int {
	cutoff := time.Now().Add(-maxAge)
	return r.purgeWhere(func(m Metadata) bool { return m.TimestampLocal.Before(cutoff) })
}

// PurgeEvidence removes clips within [after, before), treating a zero
// before/after as unbounded on that side.
func (r *Recorder) PurgeEvidence(before, after time.Time) int {
	return r.purgeWhere(func(m Metadata) bool {
		ts := m.TimestampLocal
		switch {
		case !before.IsZero() && !after.IsZero():
			return !ts.Before(after) && ts.Before(before)
		case !before.IsZero():
			return ts.Before(before)
		case !after.IsZero():
			return !ts.Before(after)
		default:
			return false
		}
	})
}

// PurgeAllEvidence deletes every evidence clip unconditionally.
func (r *Recorder) PurgeAllEvidence() int {
	return r.purgeWhere(func(Metadata) bool { return true })
}

func (r *Recorder) purgeWhere(shouldDelete func(Metadata) bool) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	var keep []Metadata
	removed := 0
	for _, entry := range r.index.Entries {
		if !shouldDelete(entry) {
			keep = append(keep, entry)
			continue
		}
		if err := r.deleteFiles(entry); err != nil {
			r.logger.Warn("evidence_removal_error", slog.String("filename", entry.Filename), slog.String("error", err.Error()))
			keep = append(keep, entry)
			continue
		}
		removed++
	}
	r.index.Entries = keep

	if err := saveIndex(r.indexPath, r.index); err != nil {
		r.logger.Error("evidence_index_save_error", slog.String("error", err.Error()))
	}
	return removed
}

func (r *Recorder) deleteFiles(entry Metadata) error {
	wavPath := filepath.Join(r.cfg.Directory, entry.Filename)
	jsonPath := filepath.Join(r.cfg.Directory, swapExt(entry.Filename, ".json"))
	opusPath := filepath.Join(r.cfg.Directory, ".cache", swapExt(entry.Filename, ".opus"))

	for _, p := range []string{wavPath, jsonPath, opusPath} {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			return err
		}
	}
	return nil
}

func swapExt(filename, ext string) string {
	base := filename[:len(filename)-len(filepath.Ext(filename))]
	return base + ext
}
