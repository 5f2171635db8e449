// Package app wires the engine's components into a running daemon: it
// loads configuration, opens the capture device, builds the gate chain
// and its model backends, and drives the detection engine until the
// process is asked to stop.
package app

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/woofwatch/engine/internal/acoustic"
	"github.com/woofwatch/engine/internal/audio"
	"github.com/woofwatch/engine/internal/config"
	"github.com/woofwatch/engine/internal/detect"
	"github.com/woofwatch/engine/internal/doa"
	"github.com/woofwatch/engine/internal/evidence"
	"github.com/woofwatch/engine/internal/fingerprint"
	"github.com/woofwatch/engine/internal/gate"
	"github.com/woofwatch/engine/internal/logging"
	"github.com/woofwatch/engine/internal/notify"
	"github.com/woofwatch/engine/internal/oracle"
	"github.com/woofwatch/engine/internal/oracle/onnx"
	"github.com/woofwatch/engine/internal/quiethours"
	"github.com/woofwatch/engine/internal/resample"
	"github.com/woofwatch/engine/internal/version"
)

// checkSavePeriod is how often the evidence recorder is polled to commit a
// pending clip once its future context window has elapsed.
const checkSavePeriod = time.Second

// evidenceLinkSlack widens the window used to associate fingerprints with
// a committed evidence clip, since a fingerprint's timestamp is stamped
// when the tick runs and can trail the bark event it was derived from by
// up to one tick period.
const evidenceLinkSlack = 2 * time.Second

// Execute parses args, runs the daemon until ctx is cancelled or a fatal
// startup error occurs, and returns a process exit code.
func Execute(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("woofwatchd", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "", "path to the JSONC config file (defaults to woofwatchd/config.conf under the user config directory)")
	showVersion := fs.Bool("version", false, "print version information and exit")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	if *showVersion {
		fmt.Fprintln(stdout, version.String())
		return 0
	}

	logRuntime, err := logging.New()
	if err != nil {
		fmt.Fprintf(stderr, "woofwatchd: initialize logging: %v\n", err)
		return 1
	}
	defer logRuntime.Close()
	logger := logRuntime.Logger

	logger.Info("woofwatchd_starting", slog.String("version", version.String()))

	runner, err := newRunner(ctx, *configPath, logger)
	if err != nil {
		logger.Error("woofwatchd_startup_failed", slog.String("error", err.Error()))
		fmt.Fprintf(stderr, "woofwatchd: %v\n", err)
		return 1
	}
	defer runner.Close()

	if err := runner.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("woofwatchd_run_failed", slog.String("error", err.Error()))
		fmt.Fprintf(stderr, "woofwatchd: %v\n", err)
		return 1
	}

	logger.Info("woofwatchd_stopped")
	return 0
}

// Runner owns every long-lived component constructed at startup and their
// shutdown order.
type Runner struct {
	logger *slog.Logger
	cfg    config.Config

	capture  *audio.Capture
	engine   *detect.Engine
	store    *fingerprint.Store
	matcher  *fingerprint.Matcher
	recorder *evidence.Recorder
	notifier *notify.Manager

	taggerBackend    io.Closer
	classifierBackend io.Closer
	embedderBackend   io.Closer

	extractorSampleRate int

	mu           sync.Mutex
	pendingLinks []pendingLink
}

// pendingLink tracks a saved fingerprint ID awaiting association with the
// evidence clip that covers its timestamp.
type pendingLink struct {
	id        string
	timestamp time.Time
}

func newRunner(ctx context.Context, configPath string, logger *slog.Logger) (*Runner, error) {
	loaded, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	for _, w := range loaded.Warnings {
		logger.Warn("config_warning", slog.String("message", w.Message))
	}
	cfg := loaded.Config
	logger.Info("config_loaded", slog.String("path", loaded.Path), slog.Bool("exists", loaded.Exists))

	device, err := audio.SelectDevice(ctx, cfg.Audio.DeviceName, cfg.Audio.Channels)
	if err != nil {
		return nil, fmt.Errorf("select audio device: %w", err)
	}
	logger.Info("audio_device_selected", slog.String("device", device.Description), slog.Int("channels", device.Channels))

	capture, err := audio.StartCapture(ctx, device, audio.Params{
		SampleRate:    cfg.Audio.SampleRate,
		Channels:      cfg.Audio.Channels,
		ChunkSize:     cfg.Audio.ChunkSize,
		BufferSeconds: cfg.Audio.BufferSeconds,
	})
	if err != nil {
		return nil, fmt.Errorf("start capture: %w", err)
	}

	r := &Runner{logger: logger, cfg: cfg, capture: capture}

	vad := buildVAD(cfg)
	tagger, taggerCloser := buildTagger(cfg, logger)
	harmonicFilter := buildHarmonicFilter(cfg)
	classifier, classifierCloser := buildClassifier(cfg, logger)
	r.taggerBackend = taggerCloser
	r.classifierBackend = classifierCloser

	chain := gate.New(gate.Config{
		VADEnabled:       cfg.Model.VADEnabled,
		VADThresholdDB:   cfg.Model.VADThresholdDB,
		TaggerEnabled:    cfg.Model.TaggerEnabled,
		TaggerThreshold:  cfg.Model.TaggerThreshold,
		HarmonicEnabled:  cfg.Model.HarmonicEnabled,
		MinHarmonicRatio: cfg.Model.MinHarmonicRatio,
		ClapThreshold:     cfg.Model.ClapThreshold,
		BirdVetoThreshold: cfg.Model.BirdVetoThreshold,
		PositiveLabels:    cfg.Model.PositiveLabels,
		NegativeLabels:    cfg.Model.NegativeLabels,
		BirdLabels:        cfg.Model.BirdLabels,
		TargetSampleRate:  cfg.Model.TargetSampleRate,
	}, logger, vad, tagger, harmonicFilter, classifier)

	var doaEstimator *doa.Estimator
	if cfg.DOA.Enabled && cfg.DOA.NumElements >= 2 {
		doaEstimator = doa.New(doa.Config{
			ElementSpacing: cfg.DOA.ElementSpacing,
			NumElements:    cfg.DOA.NumElements,
			AngleMin:       cfg.DOA.AngleMin,
			AngleMax:       cfg.DOA.AngleMax,
		})
	}

	quietHours := quiethours.New(quiethours.Config{
		Enabled:       cfg.QuietHours.Enabled,
		Start:         cfg.QuietHours.Start,
		End:           cfg.QuietHours.End,
		Threshold:     cfg.QuietHours.Threshold,
		Notifications: cfg.QuietHours.Notifications,
		Timezone:      cfg.QuietHours.Timezone,
	}, logger)

	resampleCache := resample.NewCache(logger)

	engine := detect.New(detect.Config{
		UseCLAP:          cfg.Model.UseCLAP,
		DOAEnabled:       cfg.DOA.Enabled,
		TargetSampleRate: cfg.Model.TargetSampleRate,
		ClapThreshold:    cfg.Model.ClapThreshold,
	}, logger, capture, resampleCache, chain, doaEstimator, quietHours)
	r.engine = engine

	store, err := fingerprint.Open(cfg.FingerprintDBPath)
	if err != nil {
		return nil, fmt.Errorf("open fingerprint store: %w", err)
	}
	r.store = store

	embedder, embedderCloser := buildEmbedder(cfg, logger)
	r.embedderBackend = embedderCloser

	extractor := acoustic.NewExtractor(cfg.Model.TargetSampleRate)
	r.extractorSampleRate = cfg.Model.TargetSampleRate
	r.matcher = fingerprint.NewMatcher(store, embedder, extractor, logger)

	recorder, err := evidence.New(cfg.Evidence, capture, device.Description, logger)
	if err != nil {
		return nil, fmt.Errorf("open evidence recorder: %w", err)
	}
	r.recorder = recorder

	r.notifier = notify.NewManager(cfg.Webhook, logger)
	r.notifier.Start()

	recorder.OnSaved(r.onEvidenceSaved)
	engine.OnBarkEvent(recorder.OnBarkEvent)
	if cfg.Evidence.AutoRecord {
		engine.OnBarkEvent(r.onBarkEvent)
	}

	return r, nil
}

// Run blocks until ctx is cancelled, driving the detection tick loop and a
// periodic evidence commit check alongside it.
func (r *Runner) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		r.runEvidenceChecker(ctx)
	}()

	err := r.engine.Run(ctx)
	wg.Wait()
	return err
}

func (r *Runner) runEvidenceChecker(ctx context.Context) {
	ticker := time.NewTicker(checkSavePeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := r.recorder.CheckAndSave(); err != nil {
				r.logger.Error("evidence_check_failed", slog.String("error", err.Error()))
			}
		}
	}
}

// onBarkEvent extracts an embedding and acoustic features for every barking
// tick, attributes the bark to a known dog when possible, and forwards a
// notification for newly tagged (or unknown) barks.
func (r *Runner) onBarkEvent(event detect.BarkEvent) {
	if !event.IsBarking || len(event.AudioSnapshot) == 0 {
		return
	}

	window := event.AudioSnapshot
	sampleRate := event.SampleRate
	if sampleRate != r.extractorSampleRate {
		cache := resample.NewCache(r.logger)
		window = cache.GetResampled(window, sampleRate, r.extractorSampleRate)
		sampleRate = r.extractorSampleRate
	}

	doaDegrees := preferredDOA(event, r.cfg.DOA.Method)

	result, err := r.matcher.ProcessBark(window, sampleRate, event.Probability, doaDegrees, nil)
	if err != nil {
		r.logger.Error("fingerprint_process_failed", slog.String("error", err.Error()))
		return
	}

	r.mu.Lock()
	r.pendingLinks = append(r.pendingLinks, pendingLink{id: result.Fingerprint.ID, timestamp: result.Fingerprint.Timestamp})
	r.mu.Unlock()

	r.notifier.Notify(notify.Event{
		Timestamp:        event.Timestamp,
		Probability:      event.Probability,
		DOADegrees:       doaDegrees,
		DogID:            result.Fingerprint.DogID,
		DogName:          r.dogNameFor(result.Fingerprint.DogID),
		MatchConfidence:  result.Fingerprint.MatchConfidence,
		EvidenceFilename: nil,
	})
}

func (r *Runner) dogNameFor(dogID *string) *string {
	if dogID == nil {
		return nil
	}
	profile, err := r.store.GetDog(*dogID)
	if err != nil {
		return nil
	}
	return &profile.Name
}

// onEvidenceSaved links every fingerprint produced in [firstBark, lastBark]
// (widened by evidenceLinkSlack on both sides) to the just-committed
// evidence clip, then drops them from the pending buffer.
func (r *Runner) onEvidenceSaved(filename string, firstBark, lastBark time.Time) {
	windowStart := firstBark.Add(-evidenceLinkSlack)
	windowEnd := lastBark.Add(evidenceLinkSlack)

	r.mu.Lock()
	var matched []string
	var remaining []pendingLink
	for _, link := range r.pendingLinks {
		if !link.timestamp.Before(windowStart) && !link.timestamp.After(windowEnd) {
			matched = append(matched, link.id)
		} else {
			remaining = append(remaining, link)
		}
	}
	r.pendingLinks = remaining
	r.mu.Unlock()

	if len(matched) == 0 {
		return
	}
	if err := r.store.LinkEvidenceToFingerprints(matched, filename); err != nil {
		r.logger.Error("evidence_link_failed", slog.String("filename", filename), slog.String("error", err.Error()))
	}
}

// Close releases every owned resource in reverse dependency order.
func (r *Runner) Close() {
	r.notifier.Stop(5 * time.Second)
	if err := r.capture.Stop(); err != nil {
		r.logger.Warn("capture_stop_error", slog.String("error", err.Error()))
	}
	r.capture.Close()
	if err := r.store.Close(); err != nil {
		r.logger.Warn("fingerprint_store_close_error", slog.String("error", err.Error()))
	}
	closeBackend(r.taggerBackend)
	closeBackend(r.classifierBackend)
	closeBackend(r.embedderBackend)
}

func closeBackend(c io.Closer) {
	if c == nil {
		return
	}
	c.Close()
}

// preferredDOA picks a single direction-of-arrival estimate for fingerprint
// and notification payloads, per the configured beamforming method, falling
// back to whichever estimate is present if the preferred one is missing.
func preferredDOA(event detect.BarkEvent, method string) *int {
	switch strings.ToLower(method) {
	case "capon":
		if event.DOACapon != nil {
			return event.DOACapon
		}
	case "mem":
		if event.DOAMEM != nil {
			return event.DOAMEM
		}
	}

	switch {
	case event.DOABartlett != nil:
		return event.DOABartlett
	case event.DOACapon != nil:
		return event.DOACapon
	case event.DOAMEM != nil:
		return event.DOAMEM
	default:
		return nil
	}
}

func buildVAD(cfg config.Config) oracle.VAD {
	if !cfg.Model.VADEnabled {
		return nil
	}
	return oracle.NewEnergyVAD(cfg.Model.VADThresholdDB, 0)
}

func buildHarmonicFilter(cfg config.Config) oracle.HarmonicFilter {
	if !cfg.Model.HarmonicEnabled {
		return nil
	}
	return oracle.NewSpectralHarmonicFilter(2048)
}

// buildTagger constructs the ONNX-backed tagger. On failure it logs and
// leaves the gate chain's tagger nil, which the chain treats identically
// to the gate being disabled (fail open).
func buildTagger(cfg config.Config, logger *slog.Logger) (oracle.Tagger, io.Closer) {
	if !cfg.Model.TaggerEnabled {
		return nil, nil
	}
	t, err := onnx.NewTagger(cfg.Model.OnnxLibPath, cfg.Model.TaggerModel, 16000)
	if err != nil {
		logger.Warn("tagger_backend_unavailable", slog.String("error", err.Error()))
		return nil, nil
	}
	return t, closerFunc(t.Close)
}

// buildClassifier constructs the ONNX-backed classifier. The gate chain
// calls the classifier unconditionally every tick, so a construction
// failure is wrapped in a classifier that always fails closed rather than
// left nil.
func buildClassifier(cfg config.Config, logger *slog.Logger) (oracle.Classifier, io.Closer) {
	c, err := onnx.NewClassifier(cfg.Model.OnnxLibPath, cfg.Model.ClassifierModel, cfg.Model.TargetSampleRate, allLabels(cfg))
	if err != nil {
		logger.Warn("classifier_backend_unavailable", slog.String("error", err.Error()))
		return unavailableClassifier{cause: err}, nil
	}
	return c, closerFunc(c.Close)
}

// buildEmbedder constructs the ONNX-backed embedder. The fingerprint
// matcher calls Embed unconditionally, so a construction failure is
// wrapped the same way as the classifier.
func buildEmbedder(cfg config.Config, logger *slog.Logger) (oracle.EmbeddingExtractor, io.Closer) {
	e, err := onnx.NewEmbedder(cfg.Model.OnnxLibPath, cfg.Model.EmbedderModel, cfg.Model.TargetSampleRate, cfg.Model.EmbeddingDim)
	if err != nil {
		logger.Warn("embedder_backend_unavailable", slog.String("error", err.Error()))
		return unavailableEmbedder{cause: err}, nil
	}
	return e, closerFunc(e.Close)
}

func allLabels(cfg config.Config) []string {
	labels := make([]string, 0, len(cfg.Model.PositiveLabels)+len(cfg.Model.NegativeLabels)+len(cfg.Model.BirdLabels))
	labels = append(labels, cfg.Model.PositiveLabels...)
	labels = append(labels, cfg.Model.NegativeLabels...)
	labels = append(labels, cfg.Model.BirdLabels...)
	return labels
}

// unavailableClassifier implements oracle.Classifier for the case where the
// real backend failed to load, so the gate chain's unconditional call into
// the classifier stage always fails closed instead of panicking.
type unavailableClassifier struct{ cause error }

func (u unavailableClassifier) Score(_ []float32, _ int, _, _, _ []string) (map[string]float64, error) {
	return nil, u.cause
}

// unavailableEmbedder implements oracle.EmbeddingExtractor for the same
// reason: fingerprint.Matcher.ProcessBark calls Embed unconditionally.
type unavailableEmbedder struct{ cause error }

func (u unavailableEmbedder) Embed(_ []float32, _ int) ([]float32, error) {
	return nil, u.cause
}

// closerFunc adapts a bare func() into an io.Closer.
type closerFunc func()

func (f closerFunc) Close() error {
	f()
	return nil
}
