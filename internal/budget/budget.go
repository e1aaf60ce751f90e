// Package budget gates metadata refresh behind a per-registry monthly call
// budget and a calendar refresh window.
package budget

import (
	"fmt"
	"time"

	"github.com/perlow/giftsync/internal/storage"
)

// weddingGrace extends the default refresh window past the wedding date,
// covering late purchases.
const weddingGrace = 30 * 24 * time.Hour

// SettingsStore is the slice of the backing store the gate needs. Rollover
// and usage increments are conditional server-side updates so concurrent
// cycles cannot over-spend the budget.
type SettingsStore interface {
	EnsureSettings(registryID string) (storage.RegistrySettings, error)
	RolloverBudgetMonth(registryID, monthKey string) error
	AddBudgetUsage(registryID, monthKey string, n int) error
}

// Gate owns the RefreshBudgetState for every registry. All reads and
// mutations of the counter go through it.
type Gate struct {
	store SettingsStore
}

func NewGate(store SettingsStore) *Gate {
	return &Gate{store: store}
}

// MonthKey formats the budget month for a point in time (UTC).
func MonthKey(t time.Time) string {
	return t.UTC().Format("2006-01")
}

// WindowOpen reports whether automatic refresh is permitted at now.
// enabled_until defaults to the wedding date plus 30 days when unset.
func WindowOpen(st storage.RegistrySettings, now time.Time) bool {
	if !st.AutoRefreshEnabled {
		return false
	}
	until := st.EnabledUntil
	if until == nil && st.WeddingDate != nil {
		d := st.WeddingDate.Add(weddingGrace)
		until = &d
	}
	return until == nil || !until.Before(now)
}

// Admit rolls the budget month over if the wall clock has moved past the
// stored month, then returns how many of the requested calls may proceed:
// min(requested, cap - count), 0 when the window is closed or the cap is
// spent. The returned settings reflect the state the decision was made on;
// pass its month key to Consume so usage lands in the same month.
func (g *Gate) Admit(registryID string, requested int, now time.Time) (int, storage.RegistrySettings, error) {
	st, err := g.store.EnsureSettings(registryID)
	if err != nil {
		return 0, storage.RegistrySettings{}, fmt.Errorf("loading settings for %s: %w", registryID, err)
	}

	key := MonthKey(now)
	if st.BudgetMonthKey != key {
		if err := g.store.RolloverBudgetMonth(registryID, key); err != nil {
			return 0, storage.RegistrySettings{}, fmt.Errorf("rolling budget month for %s: %w", registryID, err)
		}
		if st, err = g.store.EnsureSettings(registryID); err != nil {
			return 0, storage.RegistrySettings{}, fmt.Errorf("reloading settings for %s: %w", registryID, err)
		}
	}

	if !WindowOpen(st, now) {
		return 0, st, nil
	}

	remaining := storage.ClampBudgetCap(st.BudgetCap) - st.BudgetCallCount
	if remaining < 0 {
		remaining = 0
	}
	if requested < 0 || requested > remaining {
		requested = remaining
	}
	return requested, st, nil
}

// Consume records n attempted preview calls against the given month.
// Attempts consume budget regardless of outcome.
func (g *Gate) Consume(registryID, monthKey string, n int) error {
	if n <= 0 {
		return nil
	}
	if err := g.store.AddBudgetUsage(registryID, monthKey, n); err != nil {
		return fmt.Errorf("recording %d budget calls for %s: %w", n, registryID, err)
	}
	return nil
}
