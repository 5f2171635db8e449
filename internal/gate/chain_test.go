package gate

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeVAD struct {
	db   float64
	pass bool
}

func (f fakeVAD) Evaluate(_ []float32) (float64, bool) { return f.db, f.pass }

type fakeTagger struct {
	score float64
	err   error
}

func (f fakeTagger) Score(_ []float32) (float64, error) { return f.score, f.err }

type fakeHarmonicFilter struct {
	ratio float64
	err   error
}

func (f fakeHarmonicFilter) Ratio(_ []float32) (float64, error) { return f.ratio, f.err }

type fakeClassifier struct {
	scores map[string]float64
	err    error
}

func (f fakeClassifier) Score(_ []float32, _ int, _, _, _ []string) (map[string]float64, error) {
	return f.scores, f.err
}

func baseConfig() Config {
	return Config{
		VADEnabled:        true,
		VADThresholdDB:    -40,
		TaggerEnabled:     true,
		TaggerThreshold:   0.05,
		HarmonicEnabled:   false,
		MinHarmonicRatio:  1.0,
		ClapThreshold:     0.6,
		BirdVetoThreshold: 0.3,
		PositiveLabels:    []string{"dog barking"},
		NegativeLabels:    []string{"silence", "bird chirping"},
		BirdLabels:        []string{"bird chirping"},
		TargetSampleRate:  48000,
	}
}

func TestChainShortCircuitsOnVADFailure(t *testing.T) {
	chain := New(baseConfig(), nil, fakeVAD{db: -60, pass: false}, fakeTagger{score: 1}, nil, fakeClassifier{})
	result := chain.Run(make([]float32, 100), nil, nil)

	require.Equal(t, "vad", result.Reached)
	require.False(t, result.IsBarking)
	require.Equal(t, 1, chain.VADStats().Skipped)
	require.Equal(t, 0, chain.VADStats().Passed)
}

func TestChainShortCircuitsOnTaggerFailure(t *testing.T) {
	chain := New(baseConfig(), nil, fakeVAD{pass: true}, fakeTagger{score: 0.01}, nil, fakeClassifier{})
	result := chain.Run(make([]float32, 100), make([]float32, 100), nil)

	require.Equal(t, "tagger", result.Reached)
	require.Equal(t, 1, chain.TaggerStats().Skipped)
}

func TestChainTaggerFailsOpenOnError(t *testing.T) {
	scores := map[string]float64{"dog barking": 0.9, "silence": 0.1}
	chain := New(baseConfig(), nil, fakeVAD{pass: true}, fakeTagger{err: errors.New("model unavailable")}, nil, fakeClassifier{scores: scores})
	result := chain.Run(make([]float32, 100), make([]float32, 100), make([]float32, 100))

	require.Equal(t, "classifier", result.Reached)
	require.Equal(t, 1, chain.TaggerStats().Passed)
	require.True(t, result.IsBarking)
}

func TestChainClassifierBarkDetected(t *testing.T) {
	scores := map[string]float64{"dog barking": 0.9, "silence": 0.1}
	chain := New(baseConfig(), nil, fakeVAD{pass: true}, fakeTagger{score: 0.5}, nil, fakeClassifier{scores: scores})
	result := chain.Run(make([]float32, 100), make([]float32, 100), make([]float32, 100))

	require.True(t, result.IsBarking)
	require.InDelta(t, 0.9, result.BarkProbability, 1e-9)
	require.False(t, result.Vetoed)
}

func TestChainBirdVetoOverridesThresholdMet(t *testing.T) {
	scores := map[string]float64{"dog barking": 0.65, "bird chirping": 0.35}
	chain := New(baseConfig(), nil, fakeVAD{pass: true}, fakeTagger{score: 0.5}, nil, fakeClassifier{scores: scores})
	result := chain.Run(make([]float32, 100), make([]float32, 100), make([]float32, 100))

	require.True(t, result.Vetoed)
	require.False(t, result.IsBarking)
	require.GreaterOrEqual(t, result.BarkProbability, chain.cfg.ClapThreshold)
}

func TestChainHarmonicFilterRejectsPercussiveTransient(t *testing.T) {
	cfg := baseConfig()
	cfg.HarmonicEnabled = true
	cfg.MinHarmonicRatio = 2.0

	chain := New(cfg, nil, fakeVAD{pass: true}, fakeTagger{score: 0.5}, fakeHarmonicFilter{ratio: 0.5}, fakeClassifier{})
	result := chain.Run(make([]float32, 100), make([]float32, 100), nil)

	require.Equal(t, "harmonic", result.Reached)
	require.Equal(t, 1, chain.HarmonicStats().Skipped)
}

func TestChainClassifierErrorCountsAsSkipped(t *testing.T) {
	chain := New(baseConfig(), nil, fakeVAD{pass: true}, fakeTagger{score: 0.5}, nil, fakeClassifier{err: errors.New("inference failed")})
	result := chain.Run(make([]float32, 100), make([]float32, 100), make([]float32, 100))

	require.False(t, result.IsBarking)
	require.Equal(t, 1, chain.ClassifierStats().Skipped)
}

func TestCountersSkipRate(t *testing.T) {
	c := Counters{Passed: 3, Skipped: 1}
	require.Equal(t, 4, c.Total())
	require.Equal(t, 0.25, c.SkipRate())

	require.Equal(t, 0.0, Counters{}.SkipRate())
}
