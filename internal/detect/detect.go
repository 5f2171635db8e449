// Package detect drives the periodic detection tick: it snapshots recent
// audio, runs the gate chain and DOA estimator, and emits bark events to
// registered callbacks.
package detect

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/woofwatch/engine/internal/audio"
	"github.com/woofwatch/engine/internal/doa"
	"github.com/woofwatch/engine/internal/gate"
	"github.com/woofwatch/engine/internal/quiethours"
	"github.com/woofwatch/engine/internal/recovery"
	"github.com/woofwatch/engine/internal/resample"
)

const (
	// recentEventsCap bounds the in-memory recent-events deque.
	recentEventsCap = 100
	// windowSeconds is the per-tick audio snapshot length.
	windowSeconds = 1.0
	// minCoverage is the fraction of windowSeconds that must be present
	// in the ring buffer for a tick to proceed.
	minCoverage = 0.5

	// tickPeriodCLAP is used when the zero-shot classifier needs ~1s context.
	tickPeriodCLAP = 500 * time.Millisecond
	// tickPeriodLegacy is used for the legacy (non-CLAP) gate path.
	tickPeriodLegacy = 80 * time.Millisecond
)

// Capture is the subset of *audio.Capture the engine depends on.
type Capture interface {
	Ring() *audio.Ring
	Device() audio.Device
}

// BarkEvent is one tick's detection outcome.
type BarkEvent struct {
	Timestamp     time.Time
	Probability   float64
	IsBarking     bool
	DOABartlett   *int
	DOACapon      *int
	DOAMEM        *int
	AudioSnapshot []float32 // present only when IsBarking
	SampleRate    int
	Channels      int
}

// Status is the read-only status surface exposed to external collaborators.
type Status struct {
	Running         bool
	UptimeSeconds   float64
	TotalBarks      int
	MicrophoneName  string
	VADStats        gate.Counters
	TaggerStats     gate.Counters
}

// Config configures tick cadence and DOA participation.
type Config struct {
	UseCLAP          bool
	DOAEnabled       bool
	TargetSampleRate int
	ClapThreshold    float64
}

// Engine owns the periodic detection tick.
type Engine struct {
	cfg    Config
	logger *slog.Logger

	capture       Capture
	resampleCache *resample.Cache
	chain         *gate.Chain
	doaEstimator  *doa.Estimator
	quietHours    *quiethours.Policy

	mu           sync.RWMutex
	running      bool
	startedAt    time.Time
	totalBarks   int
	lastEvent    *BarkEvent
	recentEvents []BarkEvent
	callbacks    []func(BarkEvent)
}

// New constructs an Engine. doaEstimator may be nil if DOA is disabled or
// the configured array has fewer than 2 elements.
func New(cfg Config, logger *slog.Logger, capture Capture, resampleCache *resample.Cache, chain *gate.Chain, doaEstimator *doa.Estimator, quietHours *quiethours.Policy) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		cfg:           cfg,
		logger:        logger,
		capture:       capture,
		resampleCache: resampleCache,
		chain:         chain,
		doaEstimator:  doaEstimator,
		quietHours:    quietHours,
	}
}

// OnBarkEvent registers a callback invoked after each tick's BarkEvent is
// constructed and appended to the recent-events deque. Callback panics and
// errors never propagate to the tick loop; they are only logged.
func (e *Engine) OnBarkEvent(cb func(BarkEvent)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.callbacks = append(e.callbacks, cb)
}

// tickPeriod returns the configured tick interval.
func (e *Engine) tickPeriod() time.Duration {
	if e.cfg.UseCLAP {
		return tickPeriodCLAP
	}
	return tickPeriodLegacy
}

// Run drives the tick loop until ctx is cancelled. It returns nil on
// context cancellation; panics inside a single tick are recovered and
// logged, never crossing the tick boundary.
func (e *Engine) Run(ctx context.Context) error {
	e.mu.Lock()
	e.running = true
	e.startedAt = time.Now()
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		e.running = false
		e.mu.Unlock()
	}()

	ticker := time.NewTicker(e.tickPeriod())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			e.runTickSafely()
		}
	}
}

// runTickSafely recovers any panic from tick() and logs it rather than
// letting it escape the select loop in Run.
func (e *Engine) runTickSafely() {
	if err := recovery.Wrap(e.logger, "detection_tick", e.tick); err != nil {
		e.logger.Error("detection_tick_failed", slog.String("error", err.Error()))
	}
}

// tick runs one full detection cycle: snapshot, gates, DOA, event dispatch.
func (e *Engine) tick() {
	ring := e.capture.Ring()
	frames := ring.AsArray(windowSeconds)
	if !sufficientCoverage(frames, windowSeconds, minCoverage) {
		return
	}

	sampleRate := frames[0].SampleRate
	channels := frames[0].Channels

	pcm := audio.ConcatPCM(frames)
	perChannel := audio.Deinterleave(pcm, channels)
	mono := audio.DownmixMono(perChannel)

	e.resampleCache.Clear()
	window16k := e.resampleCache.GetResampled(mono, sampleRate, 16000)
	windowClap := e.resampleCache.GetResampled(mono, sampleRate, e.cfg.TargetSampleRate)

	result := e.chain.Run(mono, window16k, windowClap)

	effectiveThreshold := e.cfg.ClapThreshold
	if e.quietHours != nil {
		effectiveThreshold = e.quietHours.GetThreshold(e.cfg.ClapThreshold)
	}

	reachedClassifier := result.Reached == "classifier"
	isBarking := reachedClassifier && !result.Vetoed && result.BarkProbability >= effectiveThreshold

	event := BarkEvent{
		Timestamp:   time.Now(),
		Probability: result.BarkProbability,
		IsBarking:   isBarking,
		SampleRate:  sampleRate,
		Channels:    channels,
	}

	if reachedClassifier && e.cfg.DOAEnabled && e.doaEstimator != nil && channels >= 2 {
		estimate := e.doaEstimator.Estimate(perChannel)
		bartlett, capon, mem := estimate.Bartlett, estimate.Capon, estimate.MEM
		event.DOABartlett = &bartlett
		event.DOACapon = &capon
		event.DOAMEM = &mem
	}

	if isBarking {
		event.AudioSnapshot = append([]float32(nil), mono...)
	}

	e.mu.Lock()
	if isBarking {
		e.totalBarks++
	}
	e.lastEvent = &event
	e.recentEvents = append(e.recentEvents, event)
	if len(e.recentEvents) > recentEventsCap {
		e.recentEvents = e.recentEvents[len(e.recentEvents)-recentEventsCap:]
	}
	callbacks := make([]func(BarkEvent), len(e.callbacks))
	copy(callbacks, e.callbacks)
	e.mu.Unlock()

	for _, cb := range callbacks {
		e.dispatch(cb, event)
	}
}

// dispatch invokes one callback, recovering and logging any panic so a
// misbehaving subscriber cannot break the tick loop.
func (e *Engine) dispatch(cb func(BarkEvent), event BarkEvent) {
	if err := recovery.Wrap(e.logger, "bark_event_callback", func() { cb(event) }); err != nil {
		e.logger.Error("bark_event_callback_failed", slog.String("error", err.Error()))
	}
}

// sufficientCoverage reports whether frames cover at least coverage
// fraction of windowSeconds.
func sufficientCoverage(frames []audio.Frame, windowSeconds, coverage float64) bool {
	if len(frames) == 0 {
		return false
	}
	var total float64
	for _, f := range frames {
		total += f.Duration()
	}
	return total >= windowSeconds*coverage
}

// Status returns a snapshot of the engine's read-only status surface.
func (e *Engine) Status() Status {
	e.mu.RLock()
	defer e.mu.RUnlock()

	var uptime float64
	if e.running {
		uptime = time.Since(e.startedAt).Seconds()
	}

	return Status{
		Running:        e.running,
		UptimeSeconds:  uptime,
		TotalBarks:     e.totalBarks,
		MicrophoneName: e.capture.Device().Description,
		VADStats:       e.chain.VADStats(),
		TaggerStats:    e.chain.TaggerStats(),
	}
}

// LastEvent returns the most recent bark event, if any.
func (e *Engine) LastEvent() (BarkEvent, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.lastEvent == nil {
		return BarkEvent{}, false
	}
	return *e.lastEvent, true
}

// RecentEvents returns a copy of the last n events, oldest first. n <= 0 or
// n greater than the deque size returns everything available.
func (e *Engine) RecentEvents(n int) []BarkEvent {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if n <= 0 || n > len(e.recentEvents) {
		n = len(e.recentEvents)
	}
	start := len(e.recentEvents) - n
	out := make([]BarkEvent, n)
	copy(out, e.recentEvents[start:])
	return out
}
