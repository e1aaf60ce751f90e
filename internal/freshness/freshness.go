// Package freshness decides when a registry item is due for a metadata
// refresh attempt, including the failure backoff curve.
package freshness

import (
	"time"

	"github.com/perlow/giftsync/internal/preview"
	"github.com/perlow/giftsync/internal/storage"
)

const (
	// RefreshInterval is how far next_refresh_at is pushed after a
	// successful refresh.
	RefreshInterval = 7 * 24 * time.Hour

	// StaleAfter marks an item stale for scheduled refresh; StrictStaleAfter
	// is the tighter window used by the alerts predicate and UI counts.
	StaleAfter       = 7 * 24 * time.Hour
	StrictStaleAfter = 24 * time.Hour

	minBackoff    = 6 * time.Hour
	maxBackoff    = 4 * 7 * 24 * time.Hour
	maxBackoffExp = 5
)

// Backoff returns the delay before retrying after failCount consecutive
// failures: 2^min(n,5) hours, clamped to [6h, 4 weeks]. Monotonically
// non-decreasing in failCount.
func Backoff(failCount int) time.Duration {
	n := failCount
	if n < 0 {
		n = 0
	}
	if n > maxBackoffExp {
		n = maxBackoffExp
	}
	d := time.Duration(1<<uint(n)) * time.Hour
	if d < minBackoff {
		d = minBackoff
	}
	if d > maxBackoff {
		d = maxBackoff
	}
	return d
}

// ScheduleDue reports whether the item's refresh schedule has come around.
func ScheduleDue(item storage.RegistryItem, now time.Time) bool {
	return item.NextRefreshAt == nil || !item.NextRefreshAt.After(now)
}

// Stale reports whether the item's metadata is older than the manual
// staleness window (or was never checked).
func Stale(item storage.RegistryItem, now time.Time) bool {
	return staleSince(item, now, StaleAfter)
}

// StrictStale is the 1-day variant backing the alerts predicate.
func StrictStale(item storage.RegistryItem, now time.Time) bool {
	return staleSince(item, now, StrictStaleAfter)
}

func staleSince(item storage.RegistryItem, now time.Time, window time.Duration) bool {
	return item.MetadataLastCheckedAt == nil || now.Sub(*item.MetadataLastCheckedAt) > window
}

// BackoffClear is the gate: after a prior attempt the item must sit out its
// backoff window even when schedule-due or stale.
func BackoffClear(item storage.RegistryItem, now time.Time) bool {
	if item.LastAutoRefreshedAt == nil {
		return true
	}
	return now.Sub(*item.LastAutoRefreshedAt) >= Backoff(item.RefreshFailCount)
}

// IsDue is the scheduled-refresh candidate predicate:
// (schedule-due OR stale) AND backoff-clear.
func IsDue(item storage.RegistryItem, now time.Time) bool {
	return (ScheduleDue(item, now) || Stale(item, now)) && BackoffClear(item, now)
}

// IsDueForAlerts additionally requires a reason a couple would care about
// right now: the item went out of stock, its price changed recently, or
// the metadata is more than a day old. Still gated by backoff.
func IsDueForAlerts(item storage.RegistryItem, now time.Time) bool {
	if !BackoffClear(item, now) {
		return false
	}
	if item.Availability == preview.AvailabilityOutOfStock {
		return true
	}
	if item.PriceLastChangedAt != nil && now.Sub(*item.PriceLastChangedAt) <= StrictStaleAfter {
		return true
	}
	return StrictStale(item, now)
}
