package config

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Validate enforces config invariants and returns non-fatal warnings.
func Validate(cfg Config) ([]Warning, error) {
	warnings := make([]Warning, 0)

	if cfg.Audio.SampleRate <= 0 {
		return nil, fmt.Errorf("audio.sample_rate must be > 0")
	}
	if cfg.Audio.Channels <= 0 {
		return nil, fmt.Errorf("audio.channels must be > 0")
	}
	if cfg.Audio.ChunkSize <= 0 {
		return nil, fmt.Errorf("audio.chunk_size must be > 0")
	}
	if cfg.Audio.VolumePercent < 0 || cfg.Audio.VolumePercent > 100 {
		return nil, fmt.Errorf("audio.volume_percent must be in [0,100]")
	}
	if cfg.Audio.BufferSeconds <= 0 {
		return nil, fmt.Errorf("audio.buffer_seconds must be > 0")
	}

	if cfg.Model.ClapThreshold < 0 || cfg.Model.ClapThreshold > 1 {
		return nil, fmt.Errorf("model.clap_threshold must be in [0,1]")
	}
	if cfg.Model.BirdVetoThreshold < 0 || cfg.Model.BirdVetoThreshold > 1 {
		return nil, fmt.Errorf("model.bird_veto_threshold must be in [0,1]")
	}
	if cfg.Model.TaggerThreshold < 0 || cfg.Model.TaggerThreshold > 1 {
		return nil, fmt.Errorf("model.tagger_threshold must be in [0,1]")
	}
	if cfg.Model.TargetSampleRate <= 0 {
		return nil, fmt.Errorf("model.target_sample_rate must be > 0")
	}
	if len(cfg.Model.PositiveLabels) == 0 {
		return nil, fmt.Errorf("model.positive_labels must not be empty")
	}
	if len(cfg.Model.NegativeLabels) == 0 {
		return nil, fmt.Errorf("model.negative_labels must not be empty")
	}

	if cfg.DOA.Enabled {
		if cfg.DOA.NumElements < 2 {
			return nil, fmt.Errorf("doa.num_elements must be >= 2 when doa.enabled=true")
		}
		if cfg.DOA.ElementSpacing <= 0 {
			return nil, fmt.Errorf("doa.element_spacing must be > 0")
		}
		if cfg.DOA.AngleMin < 0 || cfg.DOA.AngleMax > 180 || cfg.DOA.AngleMin >= cfg.DOA.AngleMax {
			return nil, fmt.Errorf("doa.angle_min/angle_max must satisfy 0 <= angle_min < angle_max <= 180")
		}
		switch strings.ToLower(cfg.DOA.Method) {
		case "bartlett", "capon", "mem":
		default:
			return nil, fmt.Errorf("doa.method must be one of: bartlett, capon, mem")
		}
	}

	if strings.TrimSpace(cfg.Evidence.Directory) == "" {
		return nil, fmt.Errorf("evidence.directory must not be empty")
	}
	if cfg.Evidence.PastContextSeconds < 1 || cfg.Evidence.PastContextSeconds > 60 {
		return nil, fmt.Errorf("evidence.past_context_seconds must be in [1,60]")
	}
	if cfg.Evidence.FutureContextSeconds < 1 || cfg.Evidence.FutureContextSeconds > 60 {
		return nil, fmt.Errorf("evidence.future_context_seconds must be in [1,60]")
	}

	if cfg.Webhook.Enabled {
		if cfg.Webhook.TimeoutSeconds <= 0 {
			return nil, fmt.Errorf("webhook.timeout_seconds must be > 0")
		}
		if cfg.Webhook.RetryCount < 0 {
			return nil, fmt.Errorf("webhook.retry_count must be >= 0")
		}
		if cfg.Webhook.DebounceSeconds < 0 {
			return nil, fmt.Errorf("webhook.debounce_seconds must be >= 0")
		}
		hasIFTTT := strings.TrimSpace(cfg.Webhook.IFTTTEvent) != "" && strings.TrimSpace(cfg.Webhook.IFTTTKey) != ""
		hasCustom := strings.TrimSpace(cfg.Webhook.CustomURL) != ""
		if !hasIFTTT && !hasCustom {
			warnings = append(warnings, Warning{Message: "webhook.enabled=true but neither an IFTTT event/key nor a custom_url is configured"})
		}
		if hasCustom {
			parsed, err := url.Parse(cfg.Webhook.CustomURL)
			if err != nil {
				return nil, fmt.Errorf("webhook.custom_url is invalid: %w", err)
			}
			if parsed.Scheme != "https" {
				return nil, fmt.Errorf("webhook.custom_url must use https")
			}
			if err := ssrfGuard(cfg.Webhook.CustomURL); err != nil {
				return nil, err
			}
		}
	}

	if cfg.QuietHours.Enabled {
		if cfg.QuietHours.Threshold < 0 || cfg.QuietHours.Threshold > 1 {
			return nil, fmt.Errorf("quiet_hours.threshold must be in [0,1]")
		}
		if _, err := parseClockTime(cfg.QuietHours.Start); err != nil {
			return nil, fmt.Errorf("quiet_hours.start: %w", err)
		}
		if _, err := parseClockTime(cfg.QuietHours.End); err != nil {
			return nil, fmt.Errorf("quiet_hours.end: %w", err)
		}
		if _, err := time.LoadLocation(cfg.QuietHours.Timezone); err != nil {
			return nil, fmt.Errorf("quiet_hours.timezone is invalid: %w", err)
		}
	}

	return warnings, nil
}

// parseClockTime validates an "HH:MM" string, returning minutes since midnight.
func parseClockTime(s string) (int, error) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return 0, fmt.Errorf("expected HH:MM, got %q", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, fmt.Errorf("invalid hour in %q", s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, fmt.Errorf("invalid minute in %q", s)
	}
	return h*60 + m, nil
}
