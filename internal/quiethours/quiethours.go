// Package quiethours implements the time-window sensitivity policy that
// the detection engine composes into its effective per-tick threshold.
package quiethours

import (
	"log/slog"
	"time"
)

// Config describes a quiet-hours window in local time for an IANA timezone.
type Config struct {
	Enabled       bool
	Start         string // HH:MM
	End           string // HH:MM
	Threshold     float64
	Notifications bool
	Timezone      string
}

// Policy evaluates Config against the current time.
type Policy struct {
	cfg    Config
	logger *slog.Logger
}

// New constructs a Policy from cfg.
func New(cfg Config, logger *slog.Logger) *Policy {
	if logger == nil {
		logger = slog.Default()
	}
	return &Policy{cfg: cfg, logger: logger}
}

// IsActive reports whether quiet hours are in effect right now. Any
// failure (bad timezone, unparsable clock strings) fails safe to false:
// quiet hours never silently suppress notifications on error.
func (p *Policy) IsActive() bool {
	active, err := p.isActiveAt(time.Now())
	if err != nil {
		p.logger.Warn("quiet_hours_evaluation_error", slog.String("error", err.Error()))
		return false
	}
	return active
}

func (p *Policy) isActiveAt(now time.Time) (bool, error) {
	if !p.cfg.Enabled {
		return false, nil
	}

	loc, err := time.LoadLocation(p.cfg.Timezone)
	if err != nil {
		return false, err
	}
	local := now.In(loc)

	start, err := parseClock(p.cfg.Start)
	if err != nil {
		return false, err
	}
	end, err := parseClock(p.cfg.End)
	if err != nil {
		return false, err
	}

	nowMinutes := local.Hour()*60 + local.Minute()

	if start <= end {
		return start <= nowMinutes && nowMinutes < end, nil
	}
	// Crosses midnight.
	return nowMinutes >= start || nowMinutes < end, nil
}

// GetThreshold returns the configured quiet-hours threshold when active,
// else fallback.
func (p *Policy) GetThreshold(fallback float64) float64 {
	if p.IsActive() {
		return p.cfg.Threshold
	}
	return fallback
}

// NotificationsAllowed reports whether notifications should fire while
// quiet hours are active. When quiet hours are not active this is moot;
// callers should only consult this after checking IsActive.
func (p *Policy) NotificationsAllowed() bool {
	return p.cfg.Notifications
}

// parseClock parses an "HH:MM" string into minutes since midnight.
func parseClock(clock string) (int, error) {
	t, err := time.Parse("15:04", clock)
	if err != nil {
		return 0, err
	}
	return t.Hour()*60 + t.Minute(), nil
}
