package detect

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/woofwatch/engine/internal/audio"
	"github.com/woofwatch/engine/internal/doa"
	"github.com/woofwatch/engine/internal/gate"
	"github.com/woofwatch/engine/internal/quiethours"
	"github.com/woofwatch/engine/internal/resample"
)

type fakeCapture struct {
	ring   *audio.Ring
	device audio.Device
}

func (f *fakeCapture) Ring() *audio.Ring   { return f.ring }
func (f *fakeCapture) Device() audio.Device { return f.device }

type alwaysPassVAD struct{}

func (alwaysPassVAD) Evaluate(_ []float32) (float64, bool) { return -10, true }

type fixedTagger struct{ score float64 }

func (t fixedTagger) Score(_ []float32) (float64, error) { return t.score, nil }

type fixedClassifier struct{ scores map[string]float64 }

func (c fixedClassifier) Score(_ []float32, _ int, _, _, _ []string) (map[string]float64, error) {
	return c.scores, nil
}

func fillRing(ring *audio.Ring, seconds float64, sampleRate, channels int) {
	chunkSamples := sampleRate / 50 // 20ms chunks
	chunks := int(seconds*float64(sampleRate)) / chunkSamples
	for i := 0; i < chunks; i++ {
		pcm := make([]byte, chunkSamples*channels*2)
		ring.Push(audio.Frame{
			Timestamp:  float64(i) * 0.02,
			PCM:        pcm,
			Channels:   channels,
			SampleRate: sampleRate,
		})
	}
}

func newTestEngine(t *testing.T, cfg Config, scores map[string]float64) (*Engine, *audio.Ring) {
	t.Helper()

	ring := audio.NewRing(200)
	fillRing(ring, 1.5, 48000, 2)

	capture := &fakeCapture{ring: ring, device: audio.Device{Description: "test-mic"}}
	cache := resample.NewCache(nil)

	gcfg := gate.Config{
		VADEnabled:        true,
		TaggerEnabled:     true,
		TaggerThreshold:   0.01,
		ClapThreshold:     cfg.ClapThreshold,
		BirdVetoThreshold: 0.3,
		PositiveLabels:    []string{"dog barking"},
		BirdLabels:        []string{"bird chirping"},
		TargetSampleRate:  cfg.TargetSampleRate,
	}
	chain := gate.New(gcfg, nil, alwaysPassVAD{}, fixedTagger{score: 0.5}, nil, fixedClassifier{scores: scores})

	var estimator *doa.Estimator
	if cfg.DOAEnabled {
		estimator = doa.New(doa.DefaultConfig())
	}

	qh := quiethours.New(quiethours.Config{Enabled: false}, nil)

	engine := New(cfg, nil, capture, cache, chain, estimator, qh)
	return engine, ring
}

func TestTickEmitsBarkEventWhenThresholdMet(t *testing.T) {
	cfg := Config{UseCLAP: true, ClapThreshold: 0.6, TargetSampleRate: 48000}
	scores := map[string]float64{"dog barking": 0.9, "silence": 0.1}
	engine, _ := newTestEngine(t, cfg, scores)

	engine.tick()

	event, ok := engine.LastEvent()
	require.True(t, ok)
	require.True(t, event.IsBarking)
	require.InDelta(t, 0.9, event.Probability, 1e-9)
	require.NotNil(t, event.AudioSnapshot)
	require.Equal(t, 1, engine.Status().TotalBarks)
}

func TestTickSkipsEventWhenBelowThreshold(t *testing.T) {
	cfg := Config{UseCLAP: true, ClapThreshold: 0.9, TargetSampleRate: 48000}
	scores := map[string]float64{"dog barking": 0.2, "silence": 0.8}
	engine, _ := newTestEngine(t, cfg, scores)

	engine.tick()

	event, ok := engine.LastEvent()
	require.True(t, ok)
	require.False(t, event.IsBarking)
	require.Nil(t, event.AudioSnapshot)
	require.Equal(t, 0, engine.Status().TotalBarks)
}

func TestTickAbortsOnInsufficientCoverage(t *testing.T) {
	cfg := Config{UseCLAP: true, ClapThreshold: 0.6, TargetSampleRate: 48000}
	engine, ring := newTestEngine(t, cfg, map[string]float64{"dog barking": 0.9})
	_ = ring

	empty := audio.NewRing(10)
	engine.capture = &fakeCapture{ring: empty, device: audio.Device{Description: "empty"}}

	engine.tick()

	_, ok := engine.LastEvent()
	require.False(t, ok)
}

func TestTickComputesDOAWhenEnabled(t *testing.T) {
	cfg := Config{UseCLAP: true, ClapThreshold: 0.6, TargetSampleRate: 48000, DOAEnabled: true}
	scores := map[string]float64{"dog barking": 0.9, "silence": 0.1}
	engine, _ := newTestEngine(t, cfg, scores)

	engine.tick()

	event, ok := engine.LastEvent()
	require.True(t, ok)
	require.NotNil(t, event.DOABartlett)
	require.NotNil(t, event.DOACapon)
	require.NotNil(t, event.DOAMEM)
}

func TestOnBarkEventCallbackInvoked(t *testing.T) {
	cfg := Config{UseCLAP: true, ClapThreshold: 0.6, TargetSampleRate: 48000}
	scores := map[string]float64{"dog barking": 0.9, "silence": 0.1}
	engine, _ := newTestEngine(t, cfg, scores)

	received := make(chan BarkEvent, 1)
	engine.OnBarkEvent(func(e BarkEvent) { received <- e })

	engine.tick()

	select {
	case e := <-received:
		require.True(t, e.IsBarking)
	default:
		t.Fatal("callback was not invoked")
	}
}

func TestOnBarkEventCallbackPanicDoesNotCrashTick(t *testing.T) {
	cfg := Config{UseCLAP: true, ClapThreshold: 0.6, TargetSampleRate: 48000}
	scores := map[string]float64{"dog barking": 0.9, "silence": 0.1}
	engine, _ := newTestEngine(t, cfg, scores)

	engine.OnBarkEvent(func(BarkEvent) { panic("callback exploded") })

	require.NotPanics(t, func() { engine.tick() })
}

func TestRecentEventsBoundedAndOrdered(t *testing.T) {
	cfg := Config{UseCLAP: true, ClapThreshold: 0.9, TargetSampleRate: 48000}
	scores := map[string]float64{"dog barking": 0.1, "silence": 0.9}
	engine, _ := newTestEngine(t, cfg, scores)

	for i := 0; i < recentEventsCap+10; i++ {
		engine.tick()
	}

	events := engine.RecentEvents(0)
	require.Len(t, events, recentEventsCap)
	for i := 1; i < len(events); i++ {
		require.False(t, events[i].Timestamp.Before(events[i-1].Timestamp), "events must be oldest first")
	}
}

func TestRunRespectsContextCancellation(t *testing.T) {
	cfg := Config{UseCLAP: false, ClapThreshold: 0.6, TargetSampleRate: 48000}
	engine, _ := newTestEngine(t, cfg, map[string]float64{"dog barking": 0.9})

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	err := engine.Run(ctx)
	require.NoError(t, err)
	require.False(t, engine.Status().Running)
}

func TestSufficientCoverage(t *testing.T) {
	frames := []audio.Frame{
		{PCM: make([]byte, 48000*2), Channels: 1, SampleRate: 48000},
	}
	require.True(t, sufficientCoverage(frames, 1.0, 0.5))
	require.False(t, sufficientCoverage(nil, 1.0, 0.5))
}
