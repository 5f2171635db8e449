package notify

import (
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/woofwatch/engine/internal/config"
)

func TestManagerDisabledNotifyIsNoOp(t *testing.T) {
	cfg := config.WebhookConfig{Enabled: false}
	m := NewManager(cfg, discardLogger())
	m.Start()

	m.Notify(Event{Probability: 0.5})

	stats := m.GetStats()
	require.Equal(t, 0, stats.EventsReceived)
}

func TestManagerDeliversNotificationEndToEnd(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	cfg := config.WebhookConfig{Enabled: true, CustomURL: srv.URL, TimeoutSeconds: 5, DebounceSeconds: 300}
	m := NewManager(cfg, discardLogger())
	m.Start()
	defer m.Stop(2 * time.Second)

	dogID := "dog-1"
	m.Notify(Event{DogID: &dogID, Timestamp: time.Now(), Probability: 0.9})

	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&hits) == 1
	}, 2*time.Second, 10*time.Millisecond)

	stats := m.GetStats()
	require.Equal(t, 1, stats.EventsReceived)
	require.Equal(t, 1, stats.NotificationsSent)
}

func TestManagerDebouncesRepeatNotificationsForSameDog(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	cfg := config.WebhookConfig{Enabled: true, CustomURL: srv.URL, TimeoutSeconds: 5, DebounceSeconds: 300}
	m := NewManager(cfg, discardLogger())
	m.Start()
	defer m.Stop(2 * time.Second)

	dogID := "dog-1"
	now := time.Now()
	m.Notify(Event{DogID: &dogID, Timestamp: now, Probability: 0.9})
	m.Notify(Event{DogID: &dogID, Timestamp: now.Add(time.Second), Probability: 0.9})

	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&hits) == 1
	}, 2*time.Second, 10*time.Millisecond)

	time.Sleep(50 * time.Millisecond)
	require.Equal(t, int32(1), atomic.LoadInt32(&hits))
}

func TestManagerNotifyDropsWhenQueueFull(t *testing.T) {
	cfg := config.WebhookConfig{Enabled: true, TimeoutSeconds: 5}
	m := NewManager(cfg, discardLogger())
	// Don't Start the workers, so the queue never drains.
	m.mu.Lock()
	m.started = true
	m.mu.Unlock()

	for i := 0; i < queueCapacity+10; i++ {
		m.Notify(Event{Probability: 0.1})
	}

	require.Equal(t, queueCapacity+10, m.GetStats().EventsReceived)
}
