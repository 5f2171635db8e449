// Package gate implements the cascade of detection gates (VAD, audio
// tagger, harmonic filter, zero-shot classifier) that decides whether a
// tick's audio window contains a bark.
package gate

import (
	"log/slog"
	"time"

	"github.com/woofwatch/engine/internal/oracle"
)

// Config holds the thresholds and label sets governing each gate.
type Config struct {
	VADEnabled     bool
	VADThresholdDB float64
	VADMinSamples  int

	TaggerEnabled   bool
	TaggerThreshold float64

	HarmonicEnabled  bool
	MinHarmonicRatio float64

	ClapThreshold     float64
	BirdVetoThreshold float64
	PositiveLabels    []string
	NegativeLabels    []string
	BirdLabels        []string

	TargetSampleRate int
}

// Counters tracks a gate's pass/skip totals.
type Counters struct {
	Passed  int
	Skipped int
}

// Total returns Passed + Skipped.
func (c Counters) Total() int {
	return c.Passed + c.Skipped
}

// SkipRate returns Skipped / Total, or 0 when Total is 0.
func (c Counters) SkipRate() float64 {
	total := c.Total()
	if total == 0 {
		return 0
	}
	return float64(c.Skipped) / float64(total)
}

// StageLatency records the wall-clock time spent in one gate.
type StageLatency struct {
	VAD        time.Duration
	Tagger     time.Duration
	Harmonic   time.Duration
	Classifier time.Duration
}

// Result is the outcome of running the chain once.
type Result struct {
	Reached         string // last stage reached: "vad", "tagger", "harmonic", "classifier"
	IsBarking       bool
	BarkProbability float64
	LabelScores     map[string]float64
	Vetoed          bool
	RMSDB           float64
	HarmonicRatio   float64
	Latency         StageLatency
}

// Chain runs the VAD -> Tagger -> HarmonicFilter -> Classifier cascade.
type Chain struct {
	cfg    Config
	logger *slog.Logger

	vad            oracle.VAD
	tagger         oracle.Tagger
	harmonicFilter oracle.HarmonicFilter
	classifier     oracle.Classifier

	vadCounters        Counters
	taggerCounters     Counters
	harmonicCounters   Counters
	classifierCounters Counters
}

// New constructs a Chain. tagger and harmonicFilter may be nil when their
// respective gates are disabled.
func New(cfg Config, logger *slog.Logger, vad oracle.VAD, tagger oracle.Tagger, harmonicFilter oracle.HarmonicFilter, classifier oracle.Classifier) *Chain {
	if logger == nil {
		logger = slog.Default()
	}
	return &Chain{
		cfg:            cfg,
		logger:         logger,
		vad:            vad,
		tagger:         tagger,
		harmonicFilter: harmonicFilter,
		classifier:     classifier,
	}
}

// Run evaluates one tick's audio window. window16k is the tick window
// resampled to 16kHz mono (used by the tagger); windowClap is the window
// at the classifier's target rate.
func (c *Chain) Run(window []float32, window16k []float32, windowClap []float32) Result {
	var result Result
	var latency StageLatency

	if c.cfg.VADEnabled && c.vad != nil {
		start := time.Now()
		rmsDB, pass := c.vad.Evaluate(window)
		latency.VAD = time.Since(start)
		result.RMSDB = rmsDB

		if pass {
			c.vadCounters.Passed++
		} else {
			c.vadCounters.Skipped++
			result.Reached = "vad"
			result.Latency = latency
			c.logStats()
			return result
		}
	}
	result.Reached = "vad"

	if c.cfg.TaggerEnabled && c.tagger != nil {
		start := time.Now()
		score, err := c.tagger.Score(window16k)
		latency.Tagger = time.Since(start)

		if err != nil {
			// Fail open: treat as passed, continue to the next gate.
			c.logger.Warn("tagger_inference_error", slog.String("error", err.Error()))
			c.taggerCounters.Passed++
		} else if score >= c.cfg.TaggerThreshold {
			c.taggerCounters.Passed++
		} else {
			c.taggerCounters.Skipped++
			result.Reached = "tagger"
			result.Latency = latency
			c.logStats()
			return result
		}
	}
	result.Reached = "tagger"

	if c.cfg.HarmonicEnabled && c.harmonicFilter != nil {
		start := time.Now()
		ratio, err := c.harmonicFilter.Ratio(window)
		latency.Harmonic = time.Since(start)
		result.HarmonicRatio = ratio

		if err != nil {
			c.logger.Warn("harmonic_filter_error", slog.String("error", err.Error()))
		} else if ratio < c.cfg.MinHarmonicRatio {
			c.harmonicCounters.Skipped++
			result.Reached = "harmonic"
			result.Latency = latency
			c.logStats()
			return result
		}
		c.harmonicCounters.Passed++
	}
	result.Reached = "harmonic"

	start := time.Now()
	labelScores, err := c.classifier.Score(windowClap, c.cfg.TargetSampleRate, c.cfg.PositiveLabels, c.cfg.NegativeLabels, c.cfg.BirdLabels)
	latency.Classifier = time.Since(start)
	result.Latency = latency
	result.Reached = "classifier"

	if err != nil {
		c.logger.Warn("classifier_inference_error", slog.String("error", err.Error()))
		c.classifierCounters.Skipped++
		c.logStats()
		return result
	}

	barkProb, vetoed := evaluateClassification(labelScores, c.cfg.PositiveLabels, c.cfg.BirdLabels, c.cfg.BirdVetoThreshold)
	isBarking := barkProb >= c.cfg.ClapThreshold && !vetoed

	result.LabelScores = labelScores
	result.BarkProbability = barkProb
	result.Vetoed = vetoed
	result.IsBarking = isBarking

	if isBarking {
		c.classifierCounters.Passed++
	} else {
		c.classifierCounters.Skipped++
	}

	c.logStats()
	return result
}

// evaluateClassification computes bark_prob = sum(positive) / sum(all) and
// applies the bird veto: if the summed score of bird-related labels
// exceeds birdVetoThreshold, the bark is vetoed regardless of bark_prob.
func evaluateClassification(labelScores map[string]float64, positiveLabels, birdLabels []string, birdVetoThreshold float64) (barkProb float64, vetoed bool) {
	var positiveSum, total, birdSum float64
	for _, score := range labelScores {
		total += score
	}
	for _, label := range positiveLabels {
		positiveSum += labelScores[label]
	}
	for _, label := range birdLabels {
		birdSum += labelScores[label]
	}

	if total > 0 {
		barkProb = positiveSum / total
	}
	vetoed = birdSum > birdVetoThreshold
	return barkProb, vetoed
}

// VADStats returns the VAD gate's pass/skip counters.
func (c *Chain) VADStats() Counters { return c.vadCounters }

// TaggerStats returns the tagger gate's pass/skip counters.
func (c *Chain) TaggerStats() Counters { return c.taggerCounters }

// HarmonicStats returns the harmonic filter's pass/skip counters.
func (c *Chain) HarmonicStats() Counters { return c.harmonicCounters }

// ClassifierStats returns the classifier's pass/skip counters.
func (c *Chain) ClassifierStats() Counters { return c.classifierCounters }

func (c *Chain) logStats() {
	total := c.vadCounters.Total()
	if total > 0 && total%100 == 0 {
		c.logger.Debug("vad_stats",
			slog.Int("passed", c.vadCounters.Passed),
			slog.Int("skipped", c.vadCounters.Skipped),
			slog.Float64("skip_rate", c.vadCounters.SkipRate()))
	}
}
