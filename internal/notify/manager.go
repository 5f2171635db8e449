package notify

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/woofwatch/engine/internal/config"
)

// workerCount is the fixed size of the notification thread pool.
const workerCount = 2

// queueCapacity bounds in-flight notification work. A submit against a
// full queue is dropped and logged rather than blocking the caller, so the
// detection tick never waits on notification delivery.
const queueCapacity = 64

// Manager offloads debounced webhook delivery onto a bounded worker pool
// so the detection pipeline never blocks on network I/O.
type Manager struct {
	cfg       config.WebhookConfig
	debouncer *Debouncer
	webhook   *Webhook
	logger    *slog.Logger

	queue chan Event
	group *errgroup.Group
	ctx   context.Context
	stop  context.CancelFunc

	mu                sync.Mutex
	started           bool
	eventsReceived    int
	notificationsSent int
}

// NewManager builds a notification manager. Start must be called before
// Notify to spin up the worker pool; an unstarted or disabled manager's
// Notify call is a silent no-op.
func NewManager(cfg config.WebhookConfig, logger *slog.Logger) *Manager {
	return &Manager{
		cfg:       cfg,
		debouncer: NewDebouncer(cfg.DebounceSeconds),
		webhook:   NewWebhook(cfg, logger),
		logger:    logger,
		queue:     make(chan Event, queueCapacity),
	}
}

// Start spins up the fixed worker pool. A no-op when notifications are
// disabled.
func (m *Manager) Start() {
	if !m.cfg.Enabled {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	group, groupCtx := errgroup.WithContext(ctx)

	m.mu.Lock()
	m.ctx = groupCtx
	m.stop = cancel
	m.group = group
	m.started = true
	m.mu.Unlock()

	for i := 0; i < workerCount; i++ {
		group.Go(func() error {
			m.runWorker(groupCtx)
			return nil
		})
	}
}

func (m *Manager) runWorker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case event := <-m.queue:
			m.process(ctx, event)
		}
	}
}

// Stop cancels the workers' context, which aborts in-flight HTTP requests,
// and waits up to timeout for the workers to exit. Events still waiting in
// the queue are not delivered.
func (m *Manager) Stop(timeout time.Duration) {
	m.mu.Lock()
	group := m.group
	cancel := m.stop
	started := m.started
	m.mu.Unlock()

	if !started {
		return
	}

	done := make(chan struct{})
	go func() {
		cancel()
		group.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(timeout):
	}

	m.mu.Lock()
	events, sent := m.eventsReceived, m.notificationsSent
	m.mu.Unlock()
	m.logger.Info("notification_manager_stopped",
		slog.Int("events_received", events),
		slog.Int("notifications_sent", sent))
}

// Notify submits event for debounced, asynchronous webhook delivery. The
// submit never blocks: if the queue is full the event is dropped and
// logged, matching the detection tick's requirement to never wait on
// notification delivery.
func (m *Manager) Notify(event Event) {
	m.mu.Lock()
	started := m.started
	if started {
		m.eventsReceived++
	}
	m.mu.Unlock()

	if !started {
		return
	}

	select {
	case m.queue <- event:
	default:
		m.logger.Warn("notification_queue_full", slog.Time("timestamp", event.Timestamp))
	}
}

func (m *Manager) process(ctx context.Context, event Event) {
	if !m.debouncer.ShouldNotify(event.DogID, event.Timestamp) {
		return
	}

	if m.webhook.Notify(ctx, event) {
		m.mu.Lock()
		m.notificationsSent++
		m.mu.Unlock()
		m.logger.Info("notification_sent", slog.Time("timestamp", event.Timestamp))
	}
}

// Stats reports the manager's observability surface.
type Stats struct {
	Enabled           bool           `json:"enabled"`
	EventsReceived    int            `json:"events_received"`
	NotificationsSent int            `json:"notifications_sent"`
	Debouncer         DebouncerStats `json:"debouncer"`
	Webhook           WebhookStats   `json:"webhook"`
}

// GetStats returns a snapshot of manager, debouncer, and webhook counters.
func (m *Manager) GetStats() Stats {
	m.mu.Lock()
	events, sent := m.eventsReceived, m.notificationsSent
	m.mu.Unlock()

	return Stats{
		Enabled:           m.cfg.Enabled,
		EventsReceived:    events,
		NotificationsSent: sent,
		Debouncer:         m.debouncer.Stats(),
		Webhook:           m.webhook.Stats(),
	}
}
