package quiethours

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func mustLoc(t *testing.T, name string) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation(name)
	require.NoError(t, err)
	return loc
}

func TestIsActiveFalseWhenDisabled(t *testing.T) {
	p := New(Config{Enabled: false}, nil)
	active, err := p.isActiveAt(time.Now())
	require.NoError(t, err)
	require.False(t, active)
}

func TestIsActiveWithinSameDayWindow(t *testing.T) {
	loc := mustLoc(t, "UTC")
	cfg := Config{Enabled: true, Start: "22:00", End: "23:00", Timezone: "UTC"}
	p := New(cfg, nil)

	inside := time.Date(2026, 1, 1, 22, 30, 0, 0, loc)
	active, err := p.isActiveAt(inside)
	require.NoError(t, err)
	require.True(t, active)

	outside := time.Date(2026, 1, 1, 23, 30, 0, 0, loc)
	active, err = p.isActiveAt(outside)
	require.NoError(t, err)
	require.False(t, active)
}

func TestIsActiveCrossesMidnight(t *testing.T) {
	loc := mustLoc(t, "UTC")
	cfg := Config{Enabled: true, Start: "22:00", End: "07:00", Timezone: "UTC"}
	p := New(cfg, nil)

	lateNight := time.Date(2026, 1, 1, 23, 0, 0, 0, loc)
	active, err := p.isActiveAt(lateNight)
	require.NoError(t, err)
	require.True(t, active)

	earlyMorning := time.Date(2026, 1, 2, 5, 0, 0, 0, loc)
	active, err = p.isActiveAt(earlyMorning)
	require.NoError(t, err)
	require.True(t, active)

	midday := time.Date(2026, 1, 1, 12, 0, 0, 0, loc)
	active, err = p.isActiveAt(midday)
	require.NoError(t, err)
	require.False(t, active)
}

func TestIsActiveFailsSafeOnBadTimezone(t *testing.T) {
	cfg := Config{Enabled: true, Start: "22:00", End: "07:00", Timezone: "Not/A_Real_Zone"}
	p := New(cfg, nil)

	_, err := p.isActiveAt(time.Now())
	require.Error(t, err)
	require.False(t, p.IsActive())
}

func TestIsActiveFailsSafeOnBadClockString(t *testing.T) {
	cfg := Config{Enabled: true, Start: "not-a-time", End: "07:00", Timezone: "UTC"}
	p := New(cfg, nil)

	require.False(t, p.IsActive())
}

func TestGetThresholdUsesFallbackWhenInactive(t *testing.T) {
	cfg := Config{Enabled: false, Threshold: 0.9}
	p := New(cfg, nil)
	require.Equal(t, 0.6, p.GetThreshold(0.6))
}

func TestIsActiveInsideNearFullDayWindow(t *testing.T) {
	loc := mustLoc(t, "UTC")
	cfg := Config{Enabled: true, Start: "00:00", End: "23:59", Threshold: 0.9, Timezone: "UTC"}
	p := New(cfg, nil)

	active, err := p.isActiveAt(time.Date(2026, 1, 1, 12, 0, 0, 0, loc))
	require.NoError(t, err)
	require.True(t, active)
}

func TestNotificationsAllowed(t *testing.T) {
	p := New(Config{Notifications: true}, nil)
	require.True(t, p.NotificationsAllowed())
}
