package notify

import (
	"container/list"
	"sync"
	"time"
)

// maxTrackedDogs bounds the debouncer's memory: once full, the
// least-recently-updated key is evicted before a new one is inserted.
const maxTrackedDogs = 1000

const unknownDogKey = "__unknown__"

// Debouncer suppresses repeat notifications for the same dog within a
// configurable window. Keys are tracked in least-recently-used order via a
// doubly linked list paired with a map, since the standard library has no
// ordered map equivalent.
type Debouncer struct {
	debounceSeconds int

	mu       sync.Mutex
	order    *list.List
	entries  map[string]*list.Element

	totalChecked   int
	totalDebounced int
}

type debounceEntry struct {
	key  string
	last time.Time
}

// NewDebouncer builds a debouncer with the given suppression window.
func NewDebouncer(debounceSeconds int) *Debouncer {
	return &Debouncer{
		debounceSeconds: debounceSeconds,
		order:           list.New(),
		entries:         make(map[string]*list.Element),
	}
}

// ShouldNotify reports whether a notification for dogID should proceed,
// given the current timestamp. A nil dogID is tracked under a shared
// "__unknown__" key. The key's last-notification time is always refreshed
// on a pass (whether or not it was previously suppressed), matching a
// move-to-end-on-touch LRU.
func (d *Debouncer) ShouldNotify(dogID *string, timestamp time.Time) bool {
	key := unknownDogKey
	if dogID != nil && *dogID != "" {
		key = *dogID
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	d.totalChecked++

	if elem, ok := d.entries[key]; ok {
		entry := elem.Value.(*debounceEntry)
		elapsed := timestamp.Sub(entry.last)
		if elapsed < time.Duration(d.debounceSeconds)*time.Second {
			d.totalDebounced++
			return false
		}
		entry.last = timestamp
		d.order.MoveToBack(elem)
		return true
	}

	if d.order.Len() >= maxTrackedDogs {
		oldest := d.order.Front()
		if oldest != nil {
			d.order.Remove(oldest)
			delete(d.entries, oldest.Value.(*debounceEntry).key)
		}
	}

	elem := d.order.PushBack(&debounceEntry{key: key, last: timestamp})
	d.entries[key] = elem
	return true
}

// DebouncerStats describes debouncer utilization and suppression counts.
type DebouncerStats struct {
	TrackedDogs     int `json:"tracked_dogs"`
	MaxTracked      int `json:"max_tracked"`
	TotalChecked    int `json:"total_checked"`
	TotalDebounced  int `json:"total_debounced"`
	DebounceSeconds int `json:"debounce_seconds"`
}

// Stats returns a snapshot of the debouncer's internal counters.
func (d *Debouncer) Stats() DebouncerStats {
	d.mu.Lock()
	defer d.mu.Unlock()

	return DebouncerStats{
		TrackedDogs:     d.order.Len(),
		MaxTracked:      maxTrackedDogs,
		TotalChecked:    d.totalChecked,
		TotalDebounced:  d.totalDebounced,
		DebounceSeconds: d.debounceSeconds,
	}
}
