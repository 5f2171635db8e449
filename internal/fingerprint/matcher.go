package fingerprint

import (
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/woofwatch/engine/internal/acoustic"
	"github.com/woofwatch/engine/internal/oracle"
)

const (
	matchThreshold         = 0.75
	matchTopK              = 3
	minAutoTagMargin       = 0.08
	minConfidenceForUpdate = 0.80
)

// Matcher attributes a bark window to a known dog, or leaves it untagged
// for later human review, and persists the resulting fingerprint.
type Matcher struct {
	store     *Store
	embedder  oracle.EmbeddingExtractor
	extractor *acoustic.Extractor
	logger    *slog.Logger
}

// NewMatcher constructs a Matcher. extractor must be built for the sample
// rate at which ProcessBark's window argument will be supplied.
func NewMatcher(store *Store, embedder oracle.EmbeddingExtractor, extractor *acoustic.Extractor, logger *slog.Logger) *Matcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Matcher{store: store, embedder: embedder, extractor: extractor, logger: logger}
}

// ProcessResult is the outcome of attempting to attribute one bark.
type ProcessResult struct {
	Fingerprint BarkFingerprint
	Matches     []FingerprintMatch
}

// ProcessBark extracts an embedding and acoustic features from window,
// searches the roster for candidate dogs, and persists a fingerprint. If
// exactly one candidate clears the margin gate over the runner-up (or is
// the only candidate) it is auto-tagged; fingerprints below the quality
// gate are still tagged but do not update the dog's running centroid.
// Errors during embedding or matching are propagated and no fingerprint is
// saved; feature extraction has no error path.
func (m *Matcher) ProcessBark(window []float32, sampleRate int, detectionProbability float64, doaDegrees *int, evidenceFilename *string) (ProcessResult, error) {
	embedding, err := m.embedder.Embed(window, sampleRate)
	if err != nil {
		return ProcessResult{}, fmt.Errorf("fingerprint: extract embedding: %w", err)
	}
	embedding = renormalize(embedding)

	features := m.extractor.Extract(window)

	matches, err := m.store.FindMatches(embedding, matchThreshold, matchTopK, true)
	if err != nil {
		return ProcessResult{}, fmt.Errorf("fingerprint: find matches: %w", err)
	}

	fp := BarkFingerprint{
		Timestamp:            time.Now(),
		Embedding:            embedding,
		DetectionProbability: detectionProbability,
		DOADegrees:           doaDegrees,
		EvidenceFilename:     evidenceFilename,
		DurationMs:           &features.DurationMs,
		PitchHz:              features.PitchHz,
		SpectralCentroidHz:   floatPtrOrNil(features.SpectralCentroidHz),
		MFCCMean:             mfccToFloat32(features.MFCCMean),
	}

	taggedDogID, confidence, shouldUpdateStats := decideTag(matches)
	if taggedDogID != "" {
		fp.DogID = &taggedDogID
		fp.MatchConfidence = &confidence
	}

	id, err := m.store.SaveFingerprint(fp)
	if err != nil {
		return ProcessResult{}, fmt.Errorf("fingerprint: save: %w", err)
	}
	fp.ID = id

	if taggedDogID != "" && shouldUpdateStats {
		if err := m.store.UpdateDogStats(taggedDogID, embedding, &features.DurationMs, features.PitchHz); err != nil {
			m.logger.Error("dog_stats_update_failed", slog.String("dog_id", taggedDogID), slog.String("error", err.Error()))
		}
	}

	return ProcessResult{Fingerprint: fp, Matches: matches}, nil
}

// decideTag applies the margin gate to the ranked match list, returning the
// dog ID to tag (empty if none), its confidence, and whether confidence
// clears the quality gate for a running-centroid update.
func decideTag(matches []FingerprintMatch) (dogID string, confidence float64, shouldUpdateStats bool) {
	if len(matches) == 0 {
		return "", 0, false
	}

	margin := math.Inf(1)
	if len(matches) > 1 {
		margin = matches[0].Confidence - matches[1].Confidence
	}
	if margin < minAutoTagMargin {
		return "", 0, false
	}

	best := matches[0]
	return best.DogID, best.Confidence, best.Confidence >= minConfidenceForUpdate
}

func renormalize(v []float32) []float32 {
	var sumSq float64
	for _, f := range v {
		sumSq += float64(f) * float64(f)
	}
	norm := math.Sqrt(sumSq)
	if norm < 1e-12 || math.Abs(norm-1) < 1e-5 {
		return v
	}
	out := make([]float32, len(v))
	for i, f := range v {
		out[i] = float32(float64(f) / norm)
	}
	return out
}

func floatPtrOrNil(v float64) *float64 {
	if v == 0 {
		return nil
	}
	return &v
}

func mfccToFloat32(mean [acoustic.NumMFCC]float64) []float32 {
	out := make([]float32, len(mean))
	for i, v := range mean {
		out[i] = float32(v)
	}
	return out
}
