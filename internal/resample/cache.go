// Package resample memoizes per-tick sample-rate conversions so multiple
// gate-chain stages sharing a target rate only pay for one conversion.
package resample

import "log/slog"

// Stats reports cache hit/miss counters.
type Stats struct {
	Hits        int
	Misses      int
	CachedRates []int
}

// HitRate returns hits / (hits+misses), or 0 when nothing has been requested yet.
func (s Stats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

// Cache stores resampled mono float32 audio by target sample rate for a
// single source buffer. Call Clear at the start of each tick before the
// first GetResampled call; a source-rate change auto-clears the cache.
type Cache struct {
	logger *slog.Logger

	entries    map[int][]float32
	sourceRate int
	haveSource bool

	hits   int
	misses int
}

// NewCache constructs an empty resample cache.
func NewCache(logger *slog.Logger) *Cache {
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{logger: logger, entries: make(map[int][]float32)}
}

// Clear drops all cached conversions and forgets the source rate.
func (c *Cache) Clear() {
	c.entries = make(map[int][]float32)
	c.haveSource = false
	c.sourceRate = 0
}

// GetResampled returns audio resampled to targetRate, using the cache when
// possible. The returned slice is owned by the cache; callers must not
// mutate it.
func (c *Cache) GetResampled(audio []float32, sourceRate, targetRate int) []float32 {
	if sourceRate != c.sourceRate || !c.haveSource {
		if c.haveSource && sourceRate != c.sourceRate {
			c.logger.Debug("resample_cache_source_rate_changed",
				slog.Int("old_rate", c.sourceRate), slog.Int("new_rate", sourceRate))
		}
		c.Clear()
		c.sourceRate = sourceRate
		c.haveSource = true
	}

	if targetRate == sourceRate {
		return audio
	}

	if cached, ok := c.entries[targetRate]; ok {
		c.hits++
		return cached
	}

	c.misses++
	resampled := linearResample(audio, sourceRate, targetRate)
	c.entries[targetRate] = resampled

	if total := c.hits + c.misses; total > 0 && total%100 == 0 {
		c.logger.Debug("resample_cache_stats",
			slog.Int("hits", c.hits), slog.Int("misses", c.misses),
			slog.Float64("hit_rate", Stats{Hits: c.hits, Misses: c.misses}.HitRate()))
	}

	return resampled
}

// Stats reports current hit/miss counters and cached target rates.
func (c *Cache) Stats() Stats {
	rates := make([]int, 0, len(c.entries))
	for rate := range c.entries {
		rates = append(rates, rate)
	}
	return Stats{Hits: c.hits, Misses: c.misses, CachedRates: rates}
}

// ResetStats zeroes the hit/miss counters without touching cached audio.
func (c *Cache) ResetStats() {
	c.hits = 0
	c.misses = 0
}

// linearResample converts mono float32 audio between sample rates using
// linear interpolation. This trades a small amount of aliasing above the
// Nyquist of the lower rate for determinism and zero third-party
// dependencies; bark detection operates on frames well within this margin.
func linearResample(audio []float32, sourceRate, targetRate int) []float32 {
	if len(audio) == 0 || sourceRate <= 0 || targetRate <= 0 {
		return nil
	}

	outLen := int(float64(len(audio)) * float64(targetRate) / float64(sourceRate))
	if outLen < 1 {
		outLen = 1
	}

	out := make([]float32, outLen)
	step := float64(sourceRate) / float64(targetRate)

	for i := 0; i < outLen; i++ {
		srcPos := float64(i) * step
		idx := int(srcPos)
		frac := srcPos - float64(idx)

		if idx >= len(audio)-1 {
			out[i] = audio[len(audio)-1]
			continue
		}
		out[i] = audio[idx] + float32(frac)*(audio[idx+1]-audio[idx])
	}

	return out
}
